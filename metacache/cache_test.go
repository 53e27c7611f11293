/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package metacache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/7ergbb/incubator-iotdb/config"
	"github.com/7ergbb/incubator-iotdb/log/logtest"
	"github.com/7ergbb/incubator-iotdb/testutil"
	"github.com/7ergbb/incubator-iotdb/tsfile"
)

// fakeReader serves metadata from an in-memory map and counts batched reads,
// so tests can assert how many times the backing file was actually touched.
type fakeReader struct {
	bloom        *tsfile.BloomFilter
	series       map[string]*tsfile.TimeseriesMetadata
	batchedReads atomic.Int64
	readErr      error
	bloomErr     error
}

func newFakeReader(device string, measurements ...string) *fakeReader {
	r := &fakeReader{
		bloom:  tsfile.NewBloomFilter(len(measurements) + 1),
		series: make(map[string]*tsfile.TimeseriesMetadata),
	}
	for _, m := range measurements {
		r.bloom.Add(tsfile.SeriesPath(device, m))
		r.series[m] = &tsfile.TimeseriesMetadata{
			MeasurementID: m,
			DataType:      tsfile.DataTypeInt64,
			Statistics:    &tsfile.Statistics{Count: 1, StartTime: 1, EndTime: 2},
		}
	}
	return r
}

func (r *fakeReader) ReadBloomFilter() (*tsfile.BloomFilter, error) {
	if r.bloomErr != nil {
		return nil, r.bloomErr
	}
	return r.bloom, nil
}

func (r *fakeReader) ReadTimeseriesMetadata(device, measurement string) (*tsfile.TimeseriesMetadata, bool, error) {
	if r.readErr != nil {
		return nil, false, r.readErr
	}
	md, ok := r.series[measurement]
	if !ok {
		return nil, false, nil
	}
	return md.Clone(), true, nil
}

func (r *fakeReader) ReadDeviceMetadata(device string, measurements []string) ([]*tsfile.TimeseriesMetadata, error) {
	r.batchedReads.Inc()
	if r.readErr != nil {
		return nil, r.readErr
	}
	var res []*tsfile.TimeseriesMetadata
	for _, m := range measurements {
		if md, ok := r.series[m]; ok {
			res = append(res, md.Clone())
		}
	}
	return res, nil
}

func providerFor(r *fakeReader) ReaderProvider {
	return func(filePath string) (MetadataReader, error) { return r, nil }
}

func cacheKey(measurement string) Key {
	return Key{FilePath: "/data/seq/f1.tsm", Device: "root.sg.d1", Measurement: measurement}
}

func newTestCache(t *testing.T, reader *fakeReader, opts ...func(*Config, *Options)) *Cache {
	t.Helper()
	cfg := NewDefaultConfig()
	o := Options{ReaderProvider: providerFor(reader)}
	for _, opt := range opts {
		opt(cfg, &o)
	}
	c, err := NewWithOpts(cfg, o)
	require.NoError(t, err)
	return c
}

func TestCacheMissThenHit(t *testing.T) {
	reader := newFakeReader("root.sg.d1", "s1", "s2")
	c := newTestCache(t, reader)

	md, found, err := c.Get(cacheKey("s1"), nil)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "s1", md.MeasurementID)
	require.EqualValues(t, 1, reader.batchedReads.Load())

	md, found, err = c.Get(cacheKey("s1"), nil)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "s1", md.MeasurementID)
	require.EqualValues(t, 1, reader.batchedReads.Load(), "a hit must not touch the file")

	require.InDelta(t, 0.5, c.HitRatio(), 1e-9)
}

func TestCacheRelatedMeasurementsCachedInOneRead(t *testing.T) {
	reader := newFakeReader("root.sg.d1", "s1", "s2", "s3")
	c := newTestCache(t, reader)

	_, found, err := c.Get(cacheKey("s1"), []string{"s2", "s3"})
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1, reader.batchedReads.Load())

	// Siblings were populated by the same batched read.
	for _, m := range []string{"s2", "s3"} {
		_, found, err = c.Get(cacheKey(m), nil)
		require.NoError(t, err)
		require.True(t, found)
	}
	require.EqualValues(t, 1, reader.batchedReads.Load())
}

func TestCacheReturnsIsolatedCopies(t *testing.T) {
	reader := newFakeReader("root.sg.d1", "s1")
	c := newTestCache(t, reader)

	first, _, err := c.Get(cacheKey("s1"), nil)
	require.NoError(t, err)

	// Caller mutation must not leak into the cache.
	first.ChunkMetadataListOffset = 12345
	first.Statistics.Count = 999

	second, _, err := c.Get(cacheKey("s1"), nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, second.ChunkMetadataListOffset)
	require.EqualValues(t, 1, second.Statistics.Count)
	require.NotSame(t, first, second)
}

func TestCacheBloomFilterShortCircuitsAbsentSeries(t *testing.T) {
	reader := newFakeReader("root.sg.d1", "s1")
	c := newTestCache(t, reader)

	md, found, err := c.Get(cacheKey("nope"), nil)
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, md)
	require.EqualValues(t, 0, reader.batchedReads.Load(), "filter-proven absence must skip the batched read")
	require.True(t, c.IsEmpty())
}

func TestCacheConcurrentMissesSingleRead(t *testing.T) {
	reader := newFakeReader("root.sg.d1", "s1")
	c := newTestCache(t, reader)

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			md, found, err := c.Get(cacheKey("s1"), nil)
			if err != nil {
				return err
			}
			if !found || md.MeasurementID != "s1" {
				return fmt.Errorf("unexpected lookup result: found=%v", found)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, reader.batchedReads.Load(),
		"concurrent misses for one key must collapse into a single read")
}

func TestCacheEvictionUnderMemoryPressure(t *testing.T) {
	measurements := make([]string, 12)
	for i := range measurements {
		measurements[i] = fmt.Sprintf("s%d", i+1)
	}
	reader := newFakeReader("root.sg.d1", measurements...)
	c := newTestCache(t, reader, func(cfg *Config, o *Options) {
		cfg.MaxMemory = 1000
		o.SizeEstimator = fixedEstimator{size: 100}
	})

	for _, m := range measurements {
		_, found, err := c.Get(cacheKey(m), nil)
		require.NoError(t, err)
		require.True(t, found)
	}

	require.LessOrEqual(t, c.UsedMemory(), c.MaxMemory())
	require.InDelta(t, 1.0, c.UsedMemoryProportion(), 1e-9)

	// The two oldest entries were evicted to admit the last two.
	reader.batchedReads.Store(0)
	_, found, err := c.Get(cacheKey("s1"), nil)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1, reader.batchedReads.Load(), "evicted entry must be re-read from the file")

	_, found, err = c.Get(cacheKey("s12"), nil)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1, reader.batchedReads.Load(), "resident entry must be served from memory")
}

func TestCacheDisabledBypassesStore(t *testing.T) {
	reader := newFakeReader("root.sg.d1", "s1")
	c := newTestCache(t, reader, func(cfg *Config, o *Options) {
		cfg.Enabled = false
	})

	for i := 0; i < 3; i++ {
		md, found, err := c.Get(cacheKey("s1"), nil)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "s1", md.MeasurementID)
	}
	require.True(t, c.IsEmpty(), "disabled cache must never retain entries")
	require.EqualValues(t, 0, c.UsedMemory())
	require.Zero(t, c.HitRatio())

	// Filter still proves absence on the disabled path.
	_, found, err := c.Get(cacheKey("nope"), nil)
	require.NoError(t, err)
	require.False(t, found)
}

func TestCacheReadErrorLoggedAndPropagated(t *testing.T) {
	reader := newFakeReader("root.sg.d1", "s1")
	reader.readErr = fmt.Errorf("read series metadata: I/O error")
	recorder := logtest.NewRecorder()
	c := newTestCache(t, reader, func(cfg *Config, o *Options) {
		o.Logger = recorder
	})

	_, found, err := c.Get(cacheKey("s1"), nil)
	require.ErrorIs(t, err, reader.readErr)
	require.False(t, found)

	entry, ok := recorder.FindEntry("failed to read series metadata")
	require.True(t, ok)
	field, ok := entry.FindField("filePath")
	require.True(t, ok)
	require.Equal(t, "/data/seq/f1.tsm", string(field.Bytes))
}

func TestCacheBloomFilterErrorLoggedAndPropagated(t *testing.T) {
	reader := newFakeReader("root.sg.d1", "s1")
	reader.bloomErr = fmt.Errorf("read bloom filter: corrupted block")
	recorder := logtest.NewRecorder()
	c := newTestCache(t, reader, func(cfg *Config, o *Options) {
		o.Logger = recorder
	})

	_, _, err := c.Get(cacheKey("s1"), nil)
	require.ErrorIs(t, err, reader.bloomErr)

	_, ok := recorder.FindEntry("failed to read bloom filter")
	require.True(t, ok)
}

func TestCacheProviderErrorPropagated(t *testing.T) {
	provErr := fmt.Errorf("reader registry: file is closed")
	cfg := NewDefaultConfig()
	c, err := NewWithOpts(cfg, Options{
		ReaderProvider: func(filePath string) (MetadataReader, error) { return nil, provErr },
	})
	require.NoError(t, err)

	_, found, err := c.Get(cacheKey("s1"), nil)
	require.ErrorIs(t, err, provErr)
	require.False(t, found)
}

func TestCacheRemoveAndClear(t *testing.T) {
	reader := newFakeReader("root.sg.d1", "s1", "s2")
	c := newTestCache(t, reader)

	_, _, err := c.Get(cacheKey("s1"), []string{"s2"})
	require.NoError(t, err)
	require.False(t, c.IsEmpty())

	c.Remove(cacheKey("s1"))
	reader.batchedReads.Store(0)
	_, found, err := c.Get(cacheKey("s2"), nil)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 0, reader.batchedReads.Load(), "sibling must remain resident after Remove")

	c.Clear()
	require.True(t, c.IsEmpty())
	require.EqualValues(t, 0, c.UsedMemory())
}

func TestCacheHitRatioZeroWithoutRequests(t *testing.T) {
	reader := newFakeReader("root.sg.d1", "s1")
	c := newTestCache(t, reader)
	require.Zero(t, c.HitRatio())
}

func TestCacheDebugTraceLogged(t *testing.T) {
	reader := newFakeReader("root.sg.d1", "s1")
	recorder := logtest.NewRecorder()
	c := newTestCache(t, reader, func(cfg *Config, o *Options) {
		o.Logger = recorder
	})

	_, _, err := c.Get(cacheKey("s1"), nil)
	require.NoError(t, err)
	_, _, err = c.Get(cacheKey("s1"), nil)
	require.NoError(t, err)

	entries := recorder.FindAllEntriesByFilter(func(entry logtest.RecordedEntry) bool {
		return entry.Text == "series metadata cache access"
	})
	require.Len(t, entries, 2)
}

func TestCacheMetricsCollector(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.MustRegister()
	defer pm.Unregister()

	reader := newFakeReader("root.sg.d1", "s1", "s2")
	c := newTestCache(t, reader, func(cfg *Config, o *Options) {
		o.MetricsCollector = pm
	})

	_, _, err := c.Get(cacheKey("s1"), []string{"s2"})
	require.NoError(t, err)
	_, _, err = c.Get(cacheKey("s1"), nil)
	require.NoError(t, err)

	testutil.RequireSamplesCountInCounter(t, pm.HitsTotal, 1)
	testutil.RequireSamplesCountInCounter(t, pm.MissesTotal, 1)
	testutil.RequireGaugeValue(t, pm.EntriesAmount, 2)
}

func TestCacheGlobalInstance(t *testing.T) {
	defer ResetInstance()
	ResetInstance()

	first := Instance()
	require.NotNil(t, first)
	require.Same(t, first, Instance())

	cfg := NewDefaultConfig()
	cfg.MaxMemory = 4 * 1024 * 1024
	replaced, err := Init(cfg, Options{})
	require.NoError(t, err)
	require.NotSame(t, first, replaced)
	require.Same(t, replaced, Instance())
}

func TestNewWithOptsValidation(t *testing.T) {
	cfg := NewConfig()
	cfg.Enabled = true
	cfg.MaxMemory = 0
	_, err := NewWithOpts(cfg, Options{})
	require.Error(t, err)

	cfg.MaxMemory = config.BytesCount(1024)
	c, err := NewWithOpts(cfg, Options{})
	require.NoError(t, err)
	require.EqualValues(t, 1024, c.MaxMemory())
}
