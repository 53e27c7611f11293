/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package metacache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/7ergbb/incubator-iotdb/tsfile"
)

// fixedEstimator accounts every entry with the same size, keeping eviction
// arithmetic predictable in tests.
type fixedEstimator struct {
	size uint64
}

func (e fixedEstimator) EstimateSize(key Key, value *tsfile.TimeseriesMetadata) uint64 {
	return e.size
}

func storeKey(i int) Key {
	return Key{FilePath: "/data/seq/f1.tsm", Device: "root.sg.d1", Measurement: fmt.Sprintf("s%d", i)}
}

func storeValue(i int) *tsfile.TimeseriesMetadata {
	return &tsfile.TimeseriesMetadata{MeasurementID: fmt.Sprintf("s%d", i), DataType: tsfile.DataTypeInt64}
}

func TestLRUStorePutGet(t *testing.T) {
	s := newLRUStore(1000, fixedEstimator{size: 100})

	require.True(t, s.isEmpty())
	require.Equal(t, 0, s.put(storeKey(1), storeValue(1)))
	require.False(t, s.isEmpty())
	require.Equal(t, 1, s.len())
	require.EqualValues(t, 100, s.usedMemory)

	got, ok := s.get(storeKey(1))
	require.True(t, ok)
	require.Equal(t, "s1", got.MeasurementID)

	_, ok = s.get(storeKey(2))
	require.False(t, ok)
}

func TestLRUStoreReplaceRefreshesSizeAndValue(t *testing.T) {
	s := newLRUStore(1000, fixedEstimator{size: 100})

	s.put(storeKey(1), storeValue(1))
	replacement := storeValue(1)
	replacement.ChunkMetadataListOffset = 4096
	require.Equal(t, 0, s.put(storeKey(1), replacement))

	require.Equal(t, 1, s.len())
	require.EqualValues(t, 100, s.usedMemory, "replacing must not double-account the entry")
	got, ok := s.get(storeKey(1))
	require.True(t, ok)
	require.EqualValues(t, 4096, got.ChunkMetadataListOffset)
}

func TestLRUStoreEvictsLeastRecentlyUsed(t *testing.T) {
	s := newLRUStore(1000, fixedEstimator{size: 100})

	for i := 1; i <= 10; i++ {
		require.Equal(t, 0, s.put(storeKey(i), storeValue(i)))
	}
	require.Equal(t, 10, s.len())
	require.EqualValues(t, 1000, s.usedMemory)

	// Touch the oldest entry so the second-oldest becomes the victim.
	_, ok := s.get(storeKey(1))
	require.True(t, ok)

	require.Equal(t, 1, s.put(storeKey(11), storeValue(11)))
	require.Equal(t, 10, s.len())
	require.EqualValues(t, 1000, s.usedMemory)

	_, ok = s.get(storeKey(2))
	require.False(t, ok, "least recently used entry must be evicted")
	_, ok = s.get(storeKey(1))
	require.True(t, ok, "recently touched entry must survive eviction")
}

func TestLRUStoreKeepsOversizedMostRecentEntry(t *testing.T) {
	s := newLRUStore(1000, fixedEstimator{size: 1500})

	evicted := s.put(storeKey(1), storeValue(1))
	require.Equal(t, 0, evicted, "a lone entry is never evicted even over budget")
	require.Equal(t, 1, s.len())
	require.EqualValues(t, 1500, s.usedMemory)

	// A second oversized insertion evicts the lone previous entry, never itself.
	evicted = s.put(storeKey(2), storeValue(2))
	require.Equal(t, 1, evicted)
	require.Equal(t, 1, s.len())
	_, ok := s.get(storeKey(2))
	require.True(t, ok)
}

func TestLRUStoreRemove(t *testing.T) {
	s := newLRUStore(1000, fixedEstimator{size: 100})

	s.put(storeKey(1), storeValue(1))
	s.put(storeKey(2), storeValue(2))

	require.True(t, s.remove(storeKey(1)))
	require.False(t, s.remove(storeKey(1)))
	require.Equal(t, 1, s.len())
	require.EqualValues(t, 100, s.usedMemory)
}

func TestLRUStoreClear(t *testing.T) {
	s := newLRUStore(1000, fixedEstimator{size: 100})

	for i := 1; i <= 5; i++ {
		s.put(storeKey(i), storeValue(i))
	}
	s.clear()

	require.True(t, s.isEmpty())
	require.Equal(t, 0, s.len())
	require.EqualValues(t, 0, s.usedMemory)
	_, ok := s.get(storeKey(1))
	require.False(t, ok)
}
