/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package tsfile

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrCorruptedBloomFilter indicates that serialized bloom filter data is invalid.
var ErrCorruptedBloomFilter = errors.New("tsfile: corrupted bloom filter data")

const (
	minBloomFilterBits = 64
	maxBloomHashFuncs  = 16

	defaultBloomFalsePositiveRate = 0.01
)

// BloomFilter is a probabilistic existence filter over series paths.
// MayContain may return false positives but never false negatives:
// if it returns false, the series is definitely not present in the file.
type BloomFilter struct {
	bits    []uint64
	numBits uint64
	k       uint32
	count   uint32
}

// NewBloomFilter creates a bloom filter sized for the expected number of
// series with roughly 1% false positive rate.
func NewBloomFilter(expectedSeries int) *BloomFilter {
	if expectedSeries <= 0 {
		expectedSeries = 1
	}

	// m = -n*ln(p) / ln(2)^2, k = (m/n) * ln(2)
	ln2Sq := math.Ln2 * math.Ln2
	m := float64(-expectedSeries) * math.Log(defaultBloomFalsePositiveRate) / ln2Sq
	kFloat := (m / float64(expectedSeries)) * math.Ln2

	numBits := ((uint64(m) + 63) / 64) * 64
	if numBits < minBloomFilterBits {
		numBits = minBloomFilterBits
	}
	k := uint32(math.Ceil(kFloat))
	if k < 1 {
		k = 1
	}
	if k > maxBloomHashFuncs {
		k = maxBloomHashFuncs
	}

	return &BloomFilter{
		bits:    make([]uint64, numBits/64),
		numBits: numBits,
		k:       k,
	}
}

// Add inserts a series path into the filter.
func (bf *BloomFilter) Add(path string) {
	h1, h2 := bloomHash(path)
	for i := uint32(0); i < bf.k; i++ {
		bit := (h1 + uint64(i)*h2) % bf.numBits
		bf.bits[bit/64] |= 1 << (bit % 64)
	}
	bf.count++
}

// MayContain reports whether the series path may be present.
// A false result is definitive.
func (bf *BloomFilter) MayContain(path string) bool {
	h1, h2 := bloomHash(path)
	for i := uint32(0); i < bf.k; i++ {
		bit := (h1 + uint64(i)*h2) % bf.numBits
		if bf.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of series paths added to the filter.
func (bf *BloomFilter) Count() uint32 {
	return bf.count
}

// SizeBytes returns the memory size of the filter bits in bytes.
func (bf *BloomFilter) SizeBytes() int {
	return len(bf.bits) * 8
}

// WriteTo serializes the filter.
// Implements io.WriterTo interface.
func (bf *BloomFilter) WriteTo(w io.Writer) (int64, error) {
	var written int64

	header := make([]byte, 16)
	binary.BigEndian.PutUint64(header[0:8], bf.numBits)
	binary.BigEndian.PutUint32(header[8:12], bf.k)
	binary.BigEndian.PutUint32(header[12:16], bf.count)

	n, err := w.Write(header)
	written += int64(n)
	if err != nil {
		return written, err
	}

	buf := make([]byte, 8)
	for _, word := range bf.bits {
		binary.BigEndian.PutUint64(buf, word)
		n, err = w.Write(buf)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ReadBloomFilterFrom deserializes a filter previously written with WriteTo.
func ReadBloomFilterFrom(r io.Reader) (*BloomFilter, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	numBits := binary.BigEndian.Uint64(header[0:8])
	k := binary.BigEndian.Uint32(header[8:12])
	count := binary.BigEndian.Uint32(header[12:16])

	if numBits < minBloomFilterBits || numBits%64 != 0 {
		return nil, ErrCorruptedBloomFilter
	}
	if k < 1 || k > maxBloomHashFuncs {
		return nil, ErrCorruptedBloomFilter
	}

	bits := make([]uint64, numBits/64)
	buf := make([]byte, 8)
	for i := range bits {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		bits[i] = binary.BigEndian.Uint64(buf)
	}

	return &BloomFilter{bits: bits, numBits: numBits, k: k, count: count}, nil
}

// bloomHash computes two independent FNV-1a hash values for double hashing.
func bloomHash(s string) (h1, h2 uint64) {
	const (
		fnvOffset = 14695981039346656037
		fnvPrime  = 1099511628211
	)

	h1 = fnvOffset
	for i := 0; i < len(s); i++ {
		h1 ^= uint64(s[i])
		h1 *= fnvPrime
	}

	h2 = fnvOffset ^ 0x5555555555555555
	for i := len(s) - 1; i >= 0; i-- {
		h2 ^= uint64(s[i])
		h2 *= fnvPrime
	}
	// Odd h2 gives better double hashing distribution.
	h2 |= 1

	return h1, h2
}
