/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package metacache

import (
	"container/list"
	"sync"

	"github.com/7ergbb/incubator-iotdb/tsfile"
)

type storeEntry struct {
	key   Key
	value *tsfile.TimeseriesMetadata
	size  uint64
}

// lruStore is an access-ordered key/value store bounded by accounted memory.
// Every entry carries the size assigned by the estimator at insertion time;
// put evicts least-recently-used entries until the total is within budget.
//
// Mutating operations must run under the cache's write lock. get may run
// under the read lock: the recency move it performs is serialized by its own
// mutex so that parallel readers do not race on the list.
type lruStore struct {
	maxMemory  uint64
	usedMemory uint64
	estimator  SizeEstimator

	orderMu sync.Mutex
	lruList *list.List
	entries map[Key]*list.Element
}

func newLRUStore(maxMemory uint64, estimator SizeEstimator) *lruStore {
	return &lruStore{
		maxMemory: maxMemory,
		estimator: estimator,
		lruList:   list.New(),
		entries:   map[Key]*list.Element{},
	}
}

// get returns the cached value and refreshes the recency of its entry.
// It never changes memory accounting.
func (s *lruStore) get(key Key) (*tsfile.TimeseriesMetadata, bool) {
	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	s.orderMu.Lock()
	s.lruList.MoveToFront(elem)
	s.orderMu.Unlock()
	return elem.Value.(*storeEntry).value, true
}

// put inserts or replaces the entry for the key and evicts entries in strict
// recency order until accounted memory is within budget. The most recently
// inserted entry is never evicted, so a single entry larger than the whole
// budget stays resident until the next insertion.
// Returns the number of evicted entries.
func (s *lruStore) put(key Key, value *tsfile.TimeseriesMetadata) (evicted int) {
	size := s.estimator.EstimateSize(key, value)

	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*storeEntry)
		s.usedMemory -= entry.size
		entry.value = value
		entry.size = size
		s.usedMemory += size
		s.lruList.MoveToFront(elem)
	} else {
		s.entries[key] = s.lruList.PushFront(&storeEntry{key: key, value: value, size: size})
		s.usedMemory += size
	}

	for s.usedMemory > s.maxMemory && s.lruList.Len() > 1 {
		s.removeElement(s.lruList.Back())
		evicted++
	}
	return evicted
}

// remove deletes the entry if present, subtracting its accounted size.
func (s *lruStore) remove(key Key) bool {
	elem, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeElement(elem)
	return true
}

// clear drops all entries and resets accounted memory to zero.
func (s *lruStore) clear() {
	s.lruList.Init()
	s.entries = map[Key]*list.Element{}
	s.usedMemory = 0
}

func (s *lruStore) removeElement(elem *list.Element) {
	entry := elem.Value.(*storeEntry)
	s.lruList.Remove(elem)
	delete(s.entries, entry.key)
	s.usedMemory -= entry.size
}

func (s *lruStore) isEmpty() bool {
	return len(s.entries) == 0
}

func (s *lruStore) len() int {
	return len(s.entries)
}
