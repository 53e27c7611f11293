/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package metacache

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/7ergbb/incubator-iotdb/log"
	"github.com/7ergbb/incubator-iotdb/tsfile"
)

// MetadataReader is the view of a data file consumed by the cache.
// *tsfile.Reader implements it.
type MetadataReader interface {
	// ReadBloomFilter returns the existence filter of the file, or nil when
	// the file carries none.
	ReadBloomFilter() (*tsfile.BloomFilter, error)

	// ReadTimeseriesMetadata returns the metadata of a single series.
	ReadTimeseriesMetadata(device, measurement string) (md *tsfile.TimeseriesMetadata, found bool, err error)

	// ReadDeviceMetadata returns the metadata of the requested measurements
	// of the device in one batched read.
	ReadDeviceMetadata(device string, measurements []string) ([]*tsfile.TimeseriesMetadata, error)
}

var _ MetadataReader = (*tsfile.Reader)(nil)

// ReaderProvider supplies the MetadataReader for a data file path.
type ReaderProvider func(filePath string) (MetadataReader, error)

// Cache is a memory-budgeted LRU cache of per-series metadata.
//
// Lookups take a shared lock; misses release it, take the exclusive lock,
// re-check the store (another goroutine may have resolved the same key in
// between), and only then consult the bloom filter and perform one batched
// read that populates the entries of all related measurements at once.
//
// All methods are safe for concurrent use.
type Cache struct {
	enabled   bool
	provider  ReaderProvider
	logger    log.FieldLogger
	metrics   MetricsCollector
	estimator SizeEstimator

	mu    sync.RWMutex
	store *lruStore

	requestCount atomic.Int64
	hitCount     atomic.Int64
}

// Options represents options for the cache.
type Options struct {
	// ReaderProvider supplies backing file readers.
	// The process-wide tsfile reader registry is used when nil.
	ReaderProvider ReaderProvider

	// MetricsCollector is used to collect statistics about cache usage.
	// It can be nil, in this case, metrics will be disabled.
	MetricsCollector MetricsCollector

	// Logger is used for the miss/hit debug trace and for backing read errors.
	// It can be nil, in this case, logging will be disabled.
	Logger log.FieldLogger

	// SizeEstimator produces accounted entry sizes.
	// A fresh SamplingEstimator is used when nil.
	SizeEstimator SizeEstimator
}

// New creates a new Cache with the provided configuration.
func New(cfg *Config) (*Cache, error) {
	return NewWithOpts(cfg, Options{})
}

// NewWithOpts creates a new Cache with the provided configuration and options.
func NewWithOpts(cfg *Config, opts Options) (*Cache, error) {
	if cfg.Enabled && cfg.MaxMemory == 0 {
		return nil, fmt.Errorf("maxMemory must be greater than 0 when cache is enabled")
	}
	if opts.ReaderProvider == nil {
		opts.ReaderProvider = func(filePath string) (MetadataReader, error) {
			return tsfile.Readers().Get(filePath)
		}
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.SizeEstimator == nil {
		opts.SizeEstimator = NewSamplingEstimator()
	}

	c := &Cache{
		enabled:   cfg.Enabled,
		provider:  opts.ReaderProvider,
		logger:    opts.Logger,
		metrics:   opts.MetricsCollector,
		estimator: opts.SizeEstimator,
		store:     newLRUStore(uint64(cfg.MaxMemory), opts.SizeEstimator),
	}
	if c.enabled {
		c.logger.Info("series metadata cache created", log.Uint64("maxMemory", uint64(cfg.MaxMemory)))
	}
	return c, nil
}

// Get returns the metadata for the key, resolving a miss through the backing
// file reader. relatedMeasurements are sibling measurements of the same
// device that the caller will need from the same file; on a miss their
// metadata is fetched in the same batched read and cached alongside.
//
// The returned value is an independent copy, safe for caller mutation.
func (c *Cache) Get(key Key, relatedMeasurements []string) (*tsfile.TimeseriesMetadata, bool, error) {
	if !c.enabled {
		return c.readThrough(key)
	}

	c.requestCount.Inc()

	c.mu.RLock()
	md, ok := c.store.get(key)
	c.mu.RUnlock()
	if ok {
		c.hitCount.Inc()
		c.metrics.IncHits()
		c.traceAccess(true)
		return md.Clone(), true, nil
	}

	// Not a lock upgrade: the shared lock is released before the exclusive
	// lock is taken, so the store must be checked again below.
	c.mu.Lock()
	defer c.mu.Unlock()

	if md, ok = c.store.get(key); ok {
		c.hitCount.Inc()
		c.metrics.IncHits()
		c.traceAccess(true)
		return md.Clone(), true, nil
	}
	c.metrics.IncMisses()
	c.traceAccess(false)

	found, err := c.resolveMiss(key, relatedMeasurements)
	if err != nil || !found {
		return nil, false, err
	}

	md, ok = c.store.get(key)
	if !ok {
		return nil, false, nil
	}
	return md.Clone(), true, nil
}

// resolveMiss is called with the write lock held. It checks the bloom filter,
// performs the batched read, and inserts every returned entry into the store.
// found == false means the filter proved the series absent or the batched
// read did not return it.
func (c *Cache) resolveMiss(key Key, relatedMeasurements []string) (found bool, err error) {
	reader, err := c.provider(key.FilePath)
	if err != nil {
		c.logger.Error("failed to open metadata reader", log.String("filePath", key.FilePath), log.Error(err))
		return false, err
	}

	bloom, err := reader.ReadBloomFilter()
	if err != nil {
		c.logger.Error("failed to read bloom filter", log.String("filePath", key.FilePath), log.Error(err))
		return false, err
	}
	if bloom != nil && !bloom.MayContain(key.SeriesPath()) {
		return false, nil
	}

	batch, err := reader.ReadDeviceMetadata(key.Device, withTarget(relatedMeasurements, key.Measurement))
	if err != nil {
		c.logger.Error("failed to read series metadata", log.String("filePath", key.FilePath), log.Error(err))
		return false, err
	}

	evicted := 0
	for _, md := range batch {
		evicted += c.store.put(Key{FilePath: key.FilePath, Device: key.Device, Measurement: md.MeasurementID}, md)
	}
	if evicted > 0 {
		c.metrics.AddEvictions(evicted)
	}
	c.metrics.SetEntriesAmount(c.store.len())
	c.metrics.SetUsedMemoryBytes(c.store.usedMemory)
	return true, nil
}

// readThrough serves lookups when the cache is disabled: same filter check
// and the same error surface, but nothing is ever inserted into the store.
func (c *Cache) readThrough(key Key) (*tsfile.TimeseriesMetadata, bool, error) {
	reader, err := c.provider(key.FilePath)
	if err != nil {
		c.logger.Error("failed to open metadata reader", log.String("filePath", key.FilePath), log.Error(err))
		return nil, false, err
	}

	bloom, err := reader.ReadBloomFilter()
	if err != nil {
		c.logger.Error("failed to read bloom filter", log.String("filePath", key.FilePath), log.Error(err))
		return nil, false, err
	}
	if bloom != nil && !bloom.MayContain(key.SeriesPath()) {
		return nil, false, nil
	}

	md, found, err := reader.ReadTimeseriesMetadata(key.Device, key.Measurement)
	if err != nil {
		c.logger.Error("failed to read series metadata", log.String("filePath", key.FilePath), log.Error(err))
		return nil, false, err
	}
	return md, found, nil
}

// Remove deletes the entry for the key, if present.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store.remove(key) {
		c.metrics.SetEntriesAmount(c.store.len())
		c.metrics.SetUsedMemoryBytes(c.store.usedMemory)
	}
}

// Clear drops all entries and resets accounted memory to zero.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.clear()
	c.metrics.SetEntriesAmount(0)
	c.metrics.SetUsedMemoryBytes(0)
}

// IsEmpty reports whether the cache holds no entries.
func (c *Cache) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.isEmpty()
}

// UsedMemory returns the accounted memory of the resident entries in bytes.
func (c *Cache) UsedMemory() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.usedMemory
}

// MaxMemory returns the configured memory budget in bytes.
func (c *Cache) MaxMemory() uint64 {
	return c.store.maxMemory
}

// UsedMemoryProportion returns the share of the memory budget currently accounted.
func (c *Cache) UsedMemoryProportion() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return float64(c.store.usedMemory) / float64(c.store.maxMemory)
}

// AverageEntrySize returns the estimator's current running average entry size.
// It returns 0 when the estimator does not expose an average.
func (c *Cache) AverageEntrySize() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.estimator.(*SamplingEstimator); ok {
		return e.AverageSize()
	}
	return 0
}

// HitRatio returns hits/requests, or 0 when no requests have been observed.
func (c *Cache) HitRatio() float64 {
	requests := c.requestCount.Load()
	if requests == 0 {
		return 0
	}
	return float64(c.hitCount.Load()) / float64(requests)
}

// traceAccess emits the hit/miss debug trace. The closure form skips all
// formatting when debug logging is disabled.
func (c *Cache) traceAccess(hit bool) {
	c.logger.AtLevel(log.LevelDebug, func(logFunc log.LogFunc) {
		outcome := "miss"
		if hit {
			outcome = "hit"
		}
		logFunc("series metadata cache access",
			log.String("outcome", outcome),
			log.Int64("requests", c.requestCount.Load()),
			log.Float64("hitRatio", c.HitRatio()),
		)
	})
}

// withTarget returns the measurements with the target included exactly once.
func withTarget(measurements []string, target string) []string {
	for _, m := range measurements {
		if m == target {
			return measurements
		}
	}
	res := make([]string, 0, len(measurements)+1)
	res = append(res, measurements...)
	return append(res, target)
}

var (
	globalMu    sync.Mutex
	globalCache *Cache
)

// Init replaces the process-wide cache instance with one built from the
// provided configuration and options.
func Init(cfg *Config, opts Options) (*Cache, error) {
	c, err := NewWithOpts(cfg, opts)
	if err != nil {
		return nil, err
	}
	globalMu.Lock()
	globalCache = c
	globalMu.Unlock()
	return c, nil
}

// Instance returns the process-wide cache instance, lazily creating one with
// the default configuration on first use.
func Instance() *Cache {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCache == nil {
		// Default config cannot fail validation.
		globalCache, _ = New(NewDefaultConfig())
	}
	return globalCache
}

// ResetInstance drops the process-wide cache instance. Intended for tests
// and teardown.
func ResetInstance() {
	globalMu.Lock()
	globalCache = nil
	globalMu.Unlock()
}
