/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package tsfile

import (
	"sync"
)

// ReaderRegistry keeps at most one open Reader per file path so that
// concurrent queries share file handles and decoded indexes.
type ReaderRegistry struct {
	mu      sync.RWMutex
	readers map[string]*Reader
}

// NewReaderRegistry creates an empty registry.
func NewReaderRegistry() *ReaderRegistry {
	return &ReaderRegistry{readers: map[string]*Reader{}}
}

// Get returns the open reader for the path, opening the file on first use.
func (rr *ReaderRegistry) Get(path string) (*Reader, error) {
	rr.mu.RLock()
	r, ok := rr.readers[path]
	rr.mu.RUnlock()
	if ok {
		return r, nil
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()
	// Another goroutine may have opened the file while we waited for the lock.
	if r, ok = rr.readers[path]; ok {
		return r, nil
	}
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	rr.readers[path] = r
	return r, nil
}

// Release closes and forgets the reader for the path, if any.
func (rr *ReaderRegistry) Release(path string) error {
	rr.mu.Lock()
	r, ok := rr.readers[path]
	delete(rr.readers, path)
	rr.mu.Unlock()
	if !ok {
		return nil
	}
	return r.Close()
}

// CloseAll closes all registered readers, keeping the first error.
func (rr *ReaderRegistry) CloseAll() error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	var firstErr error
	for path, r := range rr.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(rr.readers, path)
	}
	return firstErr
}

var (
	globalReaders     *ReaderRegistry
	globalReadersOnce sync.Once
)

// Readers returns the process-wide reader registry.
func Readers() *ReaderRegistry {
	globalReadersOnce.Do(func() {
		globalReaders = NewReaderRegistry()
	})
	return globalReaders
}
