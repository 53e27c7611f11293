/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package tsfile

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	bf := NewBloomFilter(1000)
	for i := 0; i < 1000; i++ {
		bf.Add(SeriesPath("root.sg.d1", fmt.Sprintf("s%d", i)))
	}
	require.EqualValues(t, 1000, bf.Count())
	for i := 0; i < 1000; i++ {
		require.True(t, bf.MayContain(SeriesPath("root.sg.d1", fmt.Sprintf("s%d", i))))
	}
}

func TestBloomFilterFalsePositiveRate(t *testing.T) {
	bf := NewBloomFilter(10000)
	for i := 0; i < 10000; i++ {
		bf.Add(fmt.Sprintf("root.sg.d1.s%d", i))
	}

	falsePositives := 0
	probes := 10000
	for i := 0; i < probes; i++ {
		if bf.MayContain(fmt.Sprintf("root.sg.d2.s%d", i)) {
			falsePositives++
		}
	}
	// Sized for ~1%, allow generous headroom to keep the test stable.
	require.Less(t, falsePositives, probes/20)
}

func TestBloomFilterSerialization(t *testing.T) {
	bf := NewBloomFilter(100)
	for i := 0; i < 100; i++ {
		bf.Add(fmt.Sprintf("root.sg.d1.s%d", i))
	}

	var buf bytes.Buffer
	_, err := bf.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadBloomFilterFrom(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, bf.Count(), got.Count())
	require.Equal(t, bf.SizeBytes(), got.SizeBytes())
	for i := 0; i < 100; i++ {
		require.True(t, got.MayContain(fmt.Sprintf("root.sg.d1.s%d", i)))
	}
}

func TestBloomFilterCorruptedData(t *testing.T) {
	bf := NewBloomFilter(10)
	bf.Add("root.sg.d1.s1")

	var buf bytes.Buffer
	_, err := bf.WriteTo(&buf)
	require.NoError(t, err)

	data := buf.Bytes()
	data[8], data[9], data[10], data[11] = 0, 0, 0, 0 // zero hash function count
	_, err = ReadBloomFilterFrom(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrCorruptedBloomFilter)
}
