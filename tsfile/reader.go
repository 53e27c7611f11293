/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package tsfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/compress/snappy"
)

// Reader reads per-series metadata and the bloom filter from a metadata file.
// The decoded index and the filter are loaded lazily and cached for the
// lifetime of the reader. Reader is safe for concurrent use.
type Reader struct {
	path string
	f    *os.File

	metaOffset  uint64
	metaLen     uint64
	bloomOffset uint64
	bloomLen    uint64

	mu    sync.Mutex
	bloom *BloomFilter
	index map[string]map[string]*TimeseriesMetadata
}

// Open opens the metadata file at path and validates its framing.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := &Reader{path: path, f: f}
	if err = r.readFooter(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// FilePath returns the path of the underlying file.
func (r *Reader) FilePath() string {
	return r.path
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ReadBloomFilter returns the existence filter of the file.
func (r *Reader) ReadBloomFilter() (*BloomFilter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bloom != nil {
		return r.bloom, nil
	}
	block := make([]byte, r.bloomLen)
	if _, err := r.f.ReadAt(block, int64(r.bloomOffset)); err != nil {
		return nil, fmt.Errorf("read bloom filter block of %s: %w", r.path, err)
	}
	bloom, err := ReadBloomFilterFrom(bytes.NewReader(block))
	if err != nil {
		return nil, err
	}
	r.bloom = bloom
	return bloom, nil
}

// ReadTimeseriesMetadata returns the metadata of a single series,
// or found == false when the file has no such series.
func (r *Reader) ReadTimeseriesMetadata(device, measurement string) (md *TimeseriesMetadata, found bool, err error) {
	index, err := r.loadIndex()
	if err != nil {
		return nil, false, err
	}
	m, ok := index[device][measurement]
	if !ok {
		return nil, false, nil
	}
	return m.Clone(), true, nil
}

// ReadDeviceMetadata returns the metadata of the requested measurements of
// the device in the requested order. Measurements absent from the file are
// skipped silently.
func (r *Reader) ReadDeviceMetadata(device string, measurements []string) ([]*TimeseriesMetadata, error) {
	index, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	deviceIndex := index[device]
	res := make([]*TimeseriesMetadata, 0, len(measurements))
	for _, measurement := range measurements {
		if md, ok := deviceIndex[measurement]; ok {
			res = append(res, md.Clone())
		}
	}
	return res, nil
}

func (r *Reader) loadIndex() (map[string]map[string]*TimeseriesMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index != nil {
		return r.index, nil
	}
	block := make([]byte, r.metaLen)
	if _, err := r.f.ReadAt(block, int64(r.metaOffset)); err != nil {
		return nil, fmt.Errorf("read metadata block of %s: %w", r.path, err)
	}
	decoded, err := snappy.Decode(nil, block)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptedFile, err)
	}
	index, err := decodeMetadataIndex(decoded)
	if err != nil {
		return nil, err
	}
	r.index = index
	return index, nil
}

func (r *Reader) readFooter() error {
	info, err := r.f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < int64(len(fileMagic)+footerSize) {
		return fmt.Errorf("%w: file %s is too short", ErrCorruptedFile, r.path)
	}

	head := make([]byte, len(fileMagic))
	if _, err = r.f.ReadAt(head, 0); err != nil {
		return err
	}
	footer := make([]byte, footerSize)
	if _, err = r.f.ReadAt(footer, info.Size()-int64(footerSize)); err != nil {
		return err
	}
	if string(head) != fileMagic || string(footer[4*8:]) != fileMagic {
		return fmt.Errorf("%w: bad magic in %s", ErrCorruptedFile, r.path)
	}

	r.metaOffset = binary.BigEndian.Uint64(footer[0:8])
	r.metaLen = binary.BigEndian.Uint64(footer[8:16])
	r.bloomOffset = binary.BigEndian.Uint64(footer[16:24])
	r.bloomLen = binary.BigEndian.Uint64(footer[24:32])

	fileEnd := uint64(info.Size() - int64(footerSize))
	if r.metaOffset+r.metaLen > fileEnd || r.bloomOffset+r.bloomLen > fileEnd {
		return fmt.Errorf("%w: block offsets out of range in %s", ErrCorruptedFile, r.path)
	}
	return nil
}
