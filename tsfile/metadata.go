/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package tsfile

// PathSeparator joins a device identifier with a measurement identifier
// into a full series path.
const PathSeparator = "."

// SeriesPath returns the full path of a series within a file.
func SeriesPath(device, measurement string) string {
	return device + PathSeparator + measurement
}

// DataType is a type of the values stored in a series.
type DataType uint8

// Supported series data types.
const (
	DataTypeBoolean DataType = iota
	DataTypeInt32
	DataTypeInt64
	DataTypeFloat
	DataTypeDouble
	DataTypeText
)

// Statistics holds summary statistics of a single series within a file.
type Statistics struct {
	Count     int64
	StartTime int64
	EndTime   int64
	Min       float64
	Max       float64
	First     float64
	Last      float64
	Sum       float64
}

// Clone returns an independent copy of the statistics.
func (s *Statistics) Clone() *Statistics {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// TimeseriesMetadata is the per-series index record stored in the metadata
// section of a data file. It locates the chunk metadata list of the series
// and carries its summary statistics.
type TimeseriesMetadata struct {
	MeasurementID string
	DataType      DataType
	Statistics    *Statistics

	// ChunkMetadataListOffset and ChunkMetadataListSize locate the serialized
	// chunk metadata list of the series within the data file.
	ChunkMetadataListOffset int64
	ChunkMetadataListSize   int32
}

// Clone returns a copy of the metadata that shares no mutable state with the original.
func (m *TimeseriesMetadata) Clone() *TimeseriesMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Statistics = m.Statistics.Clone()
	return &c
}
