package pkg

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryStorageGet tests the Get method.
func TestMemoryStorageGet(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	defer storage.Close()

	tests := []struct {
		name      string
		setup     func()
		key       string
		wantValue []byte
		wantErr   error
	}{
		{
			name:    "key not found",
			setup:   func() {},
			key:     "nonexistent",
			wantErr: ErrKeyNotFound,
		},
		{
			name: "valid key",
			setup: func() {
				storage.Set(ctx, "test-key", []byte("test-value"))
			},
			key:       "test-key",
			wantValue: []byte("test-value"),
		},
		{
			name: "empty value",
			setup: func() {
				storage.Set(ctx, "empty", []byte{})
			},
			key:       "empty",
			wantValue: []byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage.Clear()
			tt.setup()

			value, err := storage.Get(ctx, tt.key)

			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err, "Expected specific error")
			} else {
				require.NoError(t, err, "Get() should not error")
				assert.Equal(t, tt.wantValue, value, "Value should match")
			}
		})
	}
}

// TestMemoryStorageSet tests the Set method.
func TestMemoryStorageSet(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	defer storage.Close()

	tests := []struct {
		name  string
		key   string
		value []byte
	}{
		{name: "basic set", key: "key1", value: []byte("value1")},
		{name: "overwrite existing key", key: "key1", value: []byte("new-value")},
		{name: "empty value", key: "empty", value: []byte{}},
		{name: "large value", key: "large", value: make([]byte, 1024*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, storage.Set(ctx, tt.key, tt.value), "Set() should not error")

			got, err := storage.Get(ctx, tt.key)
			require.NoError(t, err, "Failed to get stored value")
			assert.Equal(t, tt.value, got, "Stored value should match")
		})
	}
}

func TestMemoryStorageCopiesValues(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	defer storage.Close()

	in := []byte("abc")
	require.NoError(t, storage.Set(ctx, "k", in))
	in[0] = 'z'

	out, err := storage.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))

	out[1] = 'z'
	again, err := storage.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

// TestMemoryStorageDelete tests the Delete method.
func TestMemoryStorageDelete(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	defer storage.Close()

	storage.Set(ctx, "key1", []byte("value1"))
	storage.Set(ctx, "key2", []byte("value2"))

	for _, key := range []string{"key1", "nonexistent", "key1"} {
		require.NoError(t, storage.Delete(ctx, key), "Delete() should not error")
		_, err := storage.Get(ctx, key)
		assert.Equal(t, ErrKeyNotFound, err, "Key should be deleted")
	}

	_, err := storage.Get(ctx, "key2")
	assert.NoError(t, err)
}

func TestMemoryStorageDeleteMatching(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	defer storage.Close()

	require.NoError(t, storage.SetMultiple(ctx, map[string][]byte{
		"a/1": []byte("x"),
		"a/2": []byte("x"),
		"b/1": []byte("x"),
	}))

	removed, err := storage.DeleteMatching(ctx, func(key string) bool {
		return strings.HasPrefix(key, "a/")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, storage.Len())
}

// TestMemoryStorageConcurrentAccess tests concurrent access to storage.
func TestMemoryStorageConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	defer storage.Close()

	const (
		numGoroutines = 50
		numOperations = 200
	)

	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < numOperations; i++ {
				key := fmt.Sprintf("key-%d-%d", id, i%10)
				storage.Set(ctx, key, []byte("v"))
				storage.Get(ctx, key)
				if i%7 == 0 {
					storage.Delete(ctx, key)
				}
			}
		}(g)
	}
	wg.Wait()

	all, err := storage.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Len(), len(all))
}

// TestMemoryStorageContextCancellation tests context cancellation handling.
func TestMemoryStorageContextCancellation(t *testing.T) {
	storage := NewMemoryStorage()
	defer storage.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := storage.Get(ctx, "key")
	assert.Equal(t, ErrContextCanceled, err)

	err = storage.Set(ctx, "key", []byte("value"))
	assert.Equal(t, ErrContextCanceled, err)

	err = storage.Delete(ctx, "key")
	assert.Equal(t, ErrContextCanceled, err)

	_, err = storage.GetAll(ctx)
	assert.Equal(t, ErrContextCanceled, err)
}

// TestMemoryStorageClose tests the Close method.
func TestMemoryStorageClose(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()

	storage.Set(ctx, "key", []byte("value"))

	assert.NoError(t, storage.Close(), "Close() should not error")

	_, err := storage.Get(ctx, "key")
	assert.Equal(t, ErrStorageUnavailable, err)

	err = storage.Set(ctx, "key", []byte("value"))
	assert.Equal(t, ErrStorageUnavailable, err)

	assert.Equal(t, ErrStorageUnavailable, storage.Clear())
	assert.NoError(t, storage.Close(), "Second Close() should not return error")
}

// TestMemoryStorageStats tests the statistics functionality.
func TestMemoryStorageStats(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	defer storage.Close()

	stats := storage.GetStats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)

	storage.Set(ctx, "key1", []byte("value1"))
	storage.Set(ctx, "key2", []byte("value2"))
	storage.Get(ctx, "key1")        // Hit
	storage.Get(ctx, "nonexistent") // Miss
	storage.Delete(ctx, "key2")

	stats = storage.GetStats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Sets)
	assert.Equal(t, int64(1), stats.Deletes)
}

// TestMemoryStorageMultipleOperations tests batch operations.
func TestMemoryStorageMultipleOperations(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	defer storage.Close()

	items := map[string][]byte{
		"multi1": []byte("value1"),
		"multi2": []byte("value2"),
		"multi3": []byte("value3"),
	}

	require.NoError(t, storage.SetMultiple(ctx, items))

	results, err := storage.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, len(results))

	for key, expectedValue := range items {
		assert.Equal(t, string(expectedValue), string(results[key]), "Wrong value for key %s", key)
	}
}
