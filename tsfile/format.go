/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package tsfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrCorruptedFile indicates that a metadata file is truncated or malformed.
var ErrCorruptedFile = errors.New("tsfile: corrupted metadata file")

// File layout:
//
//	[magic][metadata block, snappy-compressed][bloom filter block][footer]
//
// The footer locates both blocks and repeats the magic so that truncation
// is detectable from either end.
const (
	fileMagic  = "TSFMETA1"
	footerSize = 4*8 + len(fileMagic)
)

const statsFieldCount = 8

func encodeMetadataIndex(deviceOrder []string, series map[string][]*TimeseriesMetadata) []byte {
	var buf bytes.Buffer

	writeUint32(&buf, uint32(len(deviceOrder)))
	for _, device := range deviceOrder {
		writeString(&buf, device)
		list := series[device]
		writeUint32(&buf, uint32(len(list)))
		for _, md := range list {
			writeString(&buf, md.MeasurementID)
			buf.WriteByte(byte(md.DataType))
			if md.Statistics == nil {
				buf.WriteByte(0)
			} else {
				buf.WriteByte(1)
				writeUint64(&buf, uint64(md.Statistics.Count))
				writeUint64(&buf, uint64(md.Statistics.StartTime))
				writeUint64(&buf, uint64(md.Statistics.EndTime))
				writeUint64(&buf, math.Float64bits(md.Statistics.Min))
				writeUint64(&buf, math.Float64bits(md.Statistics.Max))
				writeUint64(&buf, math.Float64bits(md.Statistics.First))
				writeUint64(&buf, math.Float64bits(md.Statistics.Last))
				writeUint64(&buf, math.Float64bits(md.Statistics.Sum))
			}
			writeUint64(&buf, uint64(md.ChunkMetadataListOffset))
			writeUint32(&buf, uint32(md.ChunkMetadataListSize))
		}
	}
	return buf.Bytes()
}

func decodeMetadataIndex(data []byte) (map[string]map[string]*TimeseriesMetadata, error) {
	rd := &byteReader{data: data}

	deviceCount, err := rd.uint32()
	if err != nil {
		return nil, err
	}
	index := make(map[string]map[string]*TimeseriesMetadata, deviceCount)
	for i := uint32(0); i < deviceCount; i++ {
		device, err := rd.string()
		if err != nil {
			return nil, err
		}
		seriesCount, err := rd.uint32()
		if err != nil {
			return nil, err
		}
		deviceIndex := make(map[string]*TimeseriesMetadata, seriesCount)
		for j := uint32(0); j < seriesCount; j++ {
			md, err := rd.timeseriesMetadata()
			if err != nil {
				return nil, err
			}
			deviceIndex[md.MeasurementID] = md
		}
		index[device] = deviceIndex
	}
	if rd.pos != len(rd.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes in metadata block", ErrCorruptedFile, len(rd.data)-rd.pos)
	}
	return index, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(s)))
	buf.Write(b[:])
	buf.WriteString(s)
}

type byteReader struct {
	data []byte
	pos  int
}

func (rd *byteReader) take(n int) ([]byte, error) {
	if rd.pos+n > len(rd.data) {
		return nil, fmt.Errorf("%w: unexpected end of metadata block", ErrCorruptedFile)
	}
	b := rd.data[rd.pos : rd.pos+n]
	rd.pos += n
	return b, nil
}

func (rd *byteReader) byte() (byte, error) {
	b, err := rd.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (rd *byteReader) uint32() (uint32, error) {
	b, err := rd.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (rd *byteReader) uint64() (uint64, error) {
	b, err := rd.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (rd *byteReader) string() (string, error) {
	b, err := rd.take(2)
	if err != nil {
		return "", err
	}
	s, err := rd.take(int(binary.BigEndian.Uint16(b)))
	if err != nil {
		return "", err
	}
	return string(s), nil
}

func (rd *byteReader) timeseriesMetadata() (*TimeseriesMetadata, error) {
	md := &TimeseriesMetadata{}

	var err error
	if md.MeasurementID, err = rd.string(); err != nil {
		return nil, err
	}
	dataType, err := rd.byte()
	if err != nil {
		return nil, err
	}
	md.DataType = DataType(dataType)

	hasStats, err := rd.byte()
	if err != nil {
		return nil, err
	}
	if hasStats != 0 {
		var fields [statsFieldCount]uint64
		for i := range fields {
			if fields[i], err = rd.uint64(); err != nil {
				return nil, err
			}
		}
		md.Statistics = &Statistics{
			Count:     int64(fields[0]),
			StartTime: int64(fields[1]),
			EndTime:   int64(fields[2]),
			Min:       math.Float64frombits(fields[3]),
			Max:       math.Float64frombits(fields[4]),
			First:     math.Float64frombits(fields[5]),
			Last:      math.Float64frombits(fields[6]),
			Sum:       math.Float64frombits(fields[7]),
		}
	}

	offset, err := rd.uint64()
	if err != nil {
		return nil, err
	}
	md.ChunkMetadataListOffset = int64(offset)

	size, err := rd.uint32()
	if err != nil {
		return nil, err
	}
	md.ChunkMetadataListSize = int32(size)

	return md, nil
}
