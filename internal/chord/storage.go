package chord

import (
	"context"
	"math/big"
	"sort"
	"strings"

	"github.com/zde37/chordring/pkg"
	"github.com/zde37/chordring/pkg/hash"
)

// ChordStorage implements Store on top of the in-memory MemoryStorage.
// Entries are stored under "<hex id>/<key>" so that identifier ranges can
// be selected without rehashing and colliding keys stay distinct.
type ChordStorage struct {
	storage *pkg.MemoryStorage
	space   *hash.Space
}

var _ Store = (*ChordStorage)(nil)

// NewChordStorage creates a ChordStorage wrapping the provided MemoryStorage.
func NewChordStorage(storage *pkg.MemoryStorage, space *hash.Space) *ChordStorage {
	return &ChordStorage{
		storage: storage,
		space:   space,
	}
}

// NewDefaultChordStorage creates a ChordStorage over a fresh MemoryStorage.
func NewDefaultChordStorage(space *hash.Space) *ChordStorage {
	return NewChordStorage(pkg.NewMemoryStorage(), space)
}

func (cs *ChordStorage) storageKey(key string) string {
	return cs.space.Hex(cs.space.HashString(key)) + "/" + key
}

// splitStorageKey returns the identifier and user key of a stored entry.
func (cs *ChordStorage) splitStorageKey(stored string) (*big.Int, string, bool) {
	idx := strings.IndexByte(stored, '/')
	if idx <= 0 {
		return nil, "", false
	}
	id, ok := new(big.Int).SetString(stored[:idx], 16)
	if !ok {
		return nil, "", false
	}
	return id, stored[idx+1:], true
}

// Read retrieves a value by key.
func (cs *ChordStorage) Read(ctx context.Context, key string) ([]byte, error) {
	return cs.storage.Get(ctx, cs.storageKey(key))
}

// Write stores a value, replacing any previous one.
func (cs *ChordStorage) Write(ctx context.Context, key string, value []byte) error {
	return cs.storage.Set(ctx, cs.storageKey(key), value)
}

// Delete removes a key. Missing keys are not an error.
func (cs *ChordStorage) Delete(ctx context.Context, key string) error {
	return cs.storage.Delete(ctx, cs.storageKey(key))
}

// TransferRange returns all entries with identifiers in (start, end], sorted by identifier.
func (cs *ChordStorage) TransferRange(ctx context.Context, start, end *big.Int) ([]KeyValue, error) {
	all, err := cs.storage.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	stored := make([]string, 0, len(all))
	for k := range all {
		stored = append(stored, k)
	}
	sort.Strings(stored)

	items := make([]KeyValue, 0)
	for _, k := range stored {
		id, key, ok := cs.splitStorageKey(k)
		if !ok || !cs.space.InRange(id, start, end) {
			continue
		}
		items = append(items, KeyValue{Key: key, Value: all[k]})
	}
	return items, nil
}

// DeleteRange removes all entries with identifiers in (start, end].
func (cs *ChordStorage) DeleteRange(ctx context.Context, start, end *big.Int) (int, error) {
	return cs.storage.DeleteMatching(ctx, func(k string) bool {
		id, _, ok := cs.splitStorageKey(k)
		return ok && cs.space.InRange(id, start, end)
	})
}

// Len returns the number of stored entries.
func (cs *ChordStorage) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, pkg.ErrContextCanceled
	}
	return cs.storage.Len(), nil
}

// Stats exposes the underlying storage counters.
func (cs *ChordStorage) Stats() pkg.Stats {
	return cs.storage.GetStats()
}

// Close closes the underlying storage.
func (cs *ChordStorage) Close() error {
	return cs.storage.Close()
}
