package pkg

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryStorage is a thread-safe in-memory key-value map. It backs the
// chord stores when no durable backend is configured.
type MemoryStorage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed atomic.Bool

	// Metrics for monitoring
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string][]byte),
	}
}

func (ms *MemoryStorage) check(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrContextCanceled
	default:
	}
	if ms.closed.Load() {
		return ErrStorageUnavailable
	}
	return nil
}

// Get retrieves the value associated with the given key.
// Returns ErrKeyNotFound if the key doesn't exist.
func (ms *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ms.check(ctx); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	value, exists := ms.data[key]
	ms.mu.RUnlock()

	if !exists {
		ms.misses.Add(1)
		return nil, ErrKeyNotFound
	}

	ms.hits.Add(1)

	// Return a copy of the value to prevent external modification
	return cloneBytes(value), nil
}

// Set stores a value under key, replacing any previous value.
func (ms *MemoryStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := ms.check(ctx); err != nil {
		return err
	}

	valueCopy := cloneBytes(value)

	ms.mu.Lock()
	ms.data[key] = valueCopy
	ms.mu.Unlock()

	ms.sets.Add(1)
	return nil
}

// Delete removes the key and its associated value from storage.
// No error is returned if the key doesn't exist.
func (ms *MemoryStorage) Delete(ctx context.Context, key string) error {
	if err := ms.check(ctx); err != nil {
		return err
	}

	ms.mu.Lock()
	delete(ms.data, key)
	ms.mu.Unlock()

	ms.deletes.Add(1)
	return nil
}

// DeleteMatching removes every key for which match returns true and
// reports how many were removed.
func (ms *MemoryStorage) DeleteMatching(ctx context.Context, match func(key string) bool) (int, error) {
	if err := ms.check(ctx); err != nil {
		return 0, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	removed := 0
	for key := range ms.data {
		if match(key) {
			delete(ms.data, key)
			removed++
		}
	}
	ms.deletes.Add(int64(removed))
	return removed, nil
}

// Close releases the storage. Subsequent calls return ErrStorageUnavailable.
func (ms *MemoryStorage) Close() error {
	if !ms.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	ms.mu.Lock()
	ms.data = nil
	ms.mu.Unlock()

	return nil
}

// Stats returns current storage statistics.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
}

// GetStats returns current storage statistics.
func (ms *MemoryStorage) GetStats() Stats {
	ms.mu.RLock()
	entries := len(ms.data)
	ms.mu.RUnlock()

	return Stats{
		Entries: entries,
		Hits:    ms.hits.Load(),
		Misses:  ms.misses.Load(),
		Sets:    ms.sets.Load(),
		Deletes: ms.deletes.Load(),
	}
}

// Len returns the number of stored entries.
func (ms *MemoryStorage) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.data)
}

// Clear removes all entries from storage but keeps it operational.
func (ms *MemoryStorage) Clear() error {
	if ms.closed.Load() {
		return ErrStorageUnavailable
	}

	ms.mu.Lock()
	ms.data = make(map[string][]byte)
	ms.mu.Unlock()

	return nil
}

// GetAll returns a copy of all key-value pairs in storage.
func (ms *MemoryStorage) GetAll(ctx context.Context) (map[string][]byte, error) {
	if err := ms.check(ctx); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	result := make(map[string][]byte, len(ms.data))
	for key, value := range ms.data {
		result[key] = cloneBytes(value)
	}
	return result, nil
}

// SetMultiple stores multiple key-value pairs in a single operation.
func (ms *MemoryStorage) SetMultiple(ctx context.Context, items map[string][]byte) error {
	if err := ms.check(ctx); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	for key, value := range items {
		ms.data[key] = cloneBytes(value)
		ms.sets.Add(1)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
