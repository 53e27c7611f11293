/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package tsfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/klauspost/compress/snappy"
)

// Writer accumulates per-series metadata and writes it out as a single
// metadata file: a snappy-compressed metadata index, a bloom filter over all
// series paths, and a footer locating both.
type Writer struct {
	path        string
	deviceOrder []string
	series      map[string][]*TimeseriesMetadata
	seriesCount int
	closed      bool
}

// NewWriter creates a writer that will produce the metadata file at path.
func NewWriter(path string) *Writer {
	return &Writer{
		path:   path,
		series: map[string][]*TimeseriesMetadata{},
	}
}

// Append adds the metadata of one series of the device.
// The metadata is copied, so the caller may reuse the argument.
func (w *Writer) Append(device string, md *TimeseriesMetadata) error {
	if w.closed {
		return fmt.Errorf("tsfile: writer for %s is already closed", w.path)
	}
	if _, ok := w.series[device]; !ok {
		w.deviceOrder = append(w.deviceOrder, device)
	}
	w.series[device] = append(w.series[device], md.Clone())
	w.seriesCount++
	return nil
}

// Close writes the accumulated metadata to the file and syncs it.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	bloom := NewBloomFilter(w.seriesCount)
	for _, device := range w.deviceOrder {
		for _, md := range w.series[device] {
			bloom.Add(SeriesPath(device, md.MeasurementID))
		}
	}
	metaBlock := snappy.Encode(nil, encodeMetadataIndex(w.deviceOrder, w.series))

	var bloomBlock bytes.Buffer
	if _, err := bloom.WriteTo(&bloomBlock); err != nil {
		return err
	}

	f, err := os.Create(w.path)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(f)
	metaOffset := uint64(len(fileMagic))
	bloomOffset := metaOffset + uint64(len(metaBlock))

	footer := make([]byte, 0, footerSize)
	footer = binary.BigEndian.AppendUint64(footer, metaOffset)
	footer = binary.BigEndian.AppendUint64(footer, uint64(len(metaBlock)))
	footer = binary.BigEndian.AppendUint64(footer, bloomOffset)
	footer = binary.BigEndian.AppendUint64(footer, uint64(bloomBlock.Len()))
	footer = append(footer, fileMagic...)

	for _, chunk := range [][]byte{[]byte(fileMagic), metaBlock, bloomBlock.Bytes(), footer} {
		if _, err = bw.Write(chunk); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err = bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
