/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package metacache

import (
	"unsafe"

	"github.com/7ergbb/incubator-iotdb/tsfile"
)

// SizeEstimator produces the accounted size of a cache entry.
// Implementations may trade per-entry accuracy for throughput; the cache only
// requires that accounted memory converges toward real memory use.
type SizeEstimator interface {
	EstimateSize(key Key, value *tsfile.TimeseriesMetadata) uint64
}

const (
	// exactSampleCount is the number of leading insertions measured exactly
	// to seed the running average.
	exactSampleCount = 10

	// resetSampleThreshold is the number of insertions after which one exact
	// measurement is taken again and the running average is restarted from
	// it, correcting accumulated drift.
	// TODO(metacache): revisit the threshold once production entry-size
	// distributions are known; it causes a latency spike on every
	// 100000th insertion.
	resetSampleThreshold = 100000
)

// SamplingEstimator estimates entry sizes with a three-phase sampling scheme:
// exact measurement for the first insertions, then the running average for
// the bulk of insertions, then a periodic exact re-measurement that restarts
// the average.
//
// It is not safe for concurrent use; the cache calls it under its write lock.
type SamplingEstimator struct {
	count   int64
	average float64
}

var _ SizeEstimator = (*SamplingEstimator)(nil)

// NewSamplingEstimator creates a SamplingEstimator in its initial exact phase.
func NewSamplingEstimator() *SamplingEstimator {
	return &SamplingEstimator{}
}

// EstimateSize returns the accounted size for the entry and advances the
// sampling state.
func (e *SamplingEstimator) EstimateSize(key Key, value *tsfile.TimeseriesMetadata) uint64 {
	switch {
	case e.count < exactSampleCount:
		exact := exactEntrySize(key, value)
		e.average = (e.average*float64(e.count) + float64(exact)) / float64(e.count+1)
		e.count++
		return exact
	case e.count < resetSampleThreshold:
		e.count++
		return uint64(e.average)
	default:
		exact := exactEntrySize(key, value)
		e.average = float64(exact)
		e.count = 1
		return exact
	}
}

// SampleCount returns the number of samples observed in the current phase cycle.
func (e *SamplingEstimator) SampleCount() int64 {
	return e.count
}

// AverageSize returns the current running average entry size.
func (e *SamplingEstimator) AverageSize() uint64 {
	return uint64(e.average)
}

// Reset restarts the estimator from its initial exact phase.
func (e *SamplingEstimator) Reset() {
	e.count = 0
	e.average = 0
}

// exactEntrySize measures the memory footprint of the entry: the shallow
// sizes of the key and the value plus the bytes backing their strings.
func exactEntrySize(key Key, value *tsfile.TimeseriesMetadata) uint64 {
	size := uint64(unsafe.Sizeof(key)) +
		uint64(len(key.FilePath)+len(key.Device)+len(key.Measurement))
	size += uint64(unsafe.Sizeof(*value)) + uint64(len(value.MeasurementID))
	if value.Statistics != nil {
		size += uint64(unsafe.Sizeof(*value.Statistics))
	}
	return size
}
