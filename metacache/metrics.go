/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package metacache

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector represents a collector of metrics to analyze how (effectively or not) cache is used.
type MetricsCollector interface {
	// SetEntriesAmount sets the total number of entries in the cache.
	SetEntriesAmount(int)

	// SetUsedMemoryBytes sets the accounted memory of the resident entries.
	SetUsedMemoryBytes(uint64)

	// IncHits increments the total number of successfully found keys in the cache.
	IncHits()

	// IncMisses increments the total number of not found keys in the cache.
	IncMisses()

	// AddEvictions increments the total number of evicted entries.
	AddEvictions(int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the cache.
type PrometheusMetrics struct {
	EntriesAmount   prometheus.Gauge
	UsedMemoryBytes prometheus.Gauge
	HitsTotal       prometheus.Counter
	MissesTotal     prometheus.Counter
	EvictionsTotal  prometheus.Counter
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		EntriesAmount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "metadata_cache_entries_amount",
			Help:        "Total number of entries in the metadata cache.",
			ConstLabels: opts.ConstLabels,
		}),
		UsedMemoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "metadata_cache_used_memory_bytes",
			Help:        "Accounted memory of the entries resident in the metadata cache.",
			ConstLabels: opts.ConstLabels,
		}),
		HitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "metadata_cache_hits_total",
			Help:        "Number of successfully found keys in the metadata cache.",
			ConstLabels: opts.ConstLabels,
		}),
		MissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "metadata_cache_misses_total",
			Help:        "Number of not found keys in the metadata cache.",
			ConstLabels: opts.ConstLabels,
		}),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "metadata_cache_evictions_total",
			Help:        "Number of entries evicted from the metadata cache.",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.EntriesAmount,
		pm.UsedMemoryBytes,
		pm.HitsTotal,
		pm.MissesTotal,
		pm.EvictionsTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.EntriesAmount)
	prometheus.Unregister(pm.UsedMemoryBytes)
	prometheus.Unregister(pm.HitsTotal)
	prometheus.Unregister(pm.MissesTotal)
	prometheus.Unregister(pm.EvictionsTotal)
}

// SetEntriesAmount sets the total number of entries in the cache.
func (pm *PrometheusMetrics) SetEntriesAmount(amount int) {
	pm.EntriesAmount.Set(float64(amount))
}

// SetUsedMemoryBytes sets the accounted memory of the resident entries.
func (pm *PrometheusMetrics) SetUsedMemoryBytes(bytes uint64) {
	pm.UsedMemoryBytes.Set(float64(bytes))
}

// IncHits increments the total number of successfully found keys in the cache.
func (pm *PrometheusMetrics) IncHits() {
	pm.HitsTotal.Inc()
}

// IncMisses increments the total number of not found keys in the cache.
func (pm *PrometheusMetrics) IncMisses() {
	pm.MissesTotal.Inc()
}

// AddEvictions increments the total number of evicted entries.
func (pm *PrometheusMetrics) AddEvictions(n int) {
	pm.EvictionsTotal.Add(float64(n))
}

type disabledMetrics struct{}

func (disabledMetrics) SetEntriesAmount(int)       {}
func (disabledMetrics) SetUsedMemoryBytes(uint64)  {}
func (disabledMetrics) IncHits()                   {}
func (disabledMetrics) IncMisses()                 {}
func (disabledMetrics) AddEvictions(int)           {}
