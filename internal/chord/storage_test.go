package chord

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zde37/chordring/pkg"
	"github.com/zde37/chordring/pkg/hash"
)

func TestChordStorage_ReadWrite(t *testing.T) {
	cs := NewDefaultChordStorage(hash.MustSpace(8))
	defer cs.Close()

	ctx := context.Background()

	t.Run("write and read value", func(t *testing.T) {
		require.NoError(t, cs.Write(ctx, "test-key", []byte("test-value")))

		got, err := cs.Read(ctx, "test-key")
		require.NoError(t, err)
		assert.Equal(t, []byte("test-value"), got)
	})

	t.Run("read non-existent key", func(t *testing.T) {
		_, err := cs.Read(ctx, "non-existent")
		assert.ErrorIs(t, err, pkg.ErrKeyNotFound)
	})

	t.Run("overwrite existing key", func(t *testing.T) {
		require.NoError(t, cs.Write(ctx, "k", []byte("value1")))
		require.NoError(t, cs.Write(ctx, "k", []byte("value2")))

		got, err := cs.Read(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("value2"), got)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, cs.Write(ctx, "gone", []byte("v")))
		require.NoError(t, cs.Delete(ctx, "gone"))
		_, err := cs.Read(ctx, "gone")
		assert.ErrorIs(t, err, pkg.ErrKeyNotFound)
		assert.NoError(t, cs.Delete(ctx, "never-there"))
	})
}

// With m=4 there are only 16 identifiers, so 64 keys must collide; every
// key still keeps its own value.
func TestChordStorage_CollidingKeys(t *testing.T) {
	cs := NewDefaultChordStorage(hash.MustSpace(4))
	defer cs.Close()
	ctx := context.Background()

	for i := 0; i < 64; i++ {
		require.NoError(t, cs.Write(ctx, fmt.Sprintf("key-%d", i), []byte(fmt.Sprint(i))))
	}

	n, err := cs.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 64, n)

	for i := 0; i < 64; i++ {
		got, err := cs.Read(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), string(got))
	}
}

func TestChordStorage_TransferRange(t *testing.T) {
	space := hash.MustSpace(8)
	cs := NewDefaultChordStorage(space)
	defer cs.Close()
	ctx := context.Background()

	keys := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		key := fmt.Sprintf("item-%d", i)
		keys = append(keys, key)
		require.NoError(t, cs.Write(ctx, key, []byte(key)))
	}

	tests := []struct {
		name  string
		start int64
		end   int64
	}{
		{name: "normal range", start: 10, end: 120},
		{name: "wrapping range", start: 200, end: 30},
		{name: "empty-ish range", start: 7, end: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := big.NewInt(tt.start), big.NewInt(tt.end)

			items, err := cs.TransferRange(ctx, start, end)
			require.NoError(t, err)

			want := map[string]bool{}
			for _, k := range keys {
				if space.InRange(space.HashString(k), start, end) {
					want[k] = true
				}
			}

			got := map[string]bool{}
			for _, item := range items {
				got[item.Key] = true
				assert.Equal(t, item.Key, string(item.Value))
			}
			assert.Equal(t, want, got)
		})
	}

	t.Run("start equals end selects everything", func(t *testing.T) {
		items, err := cs.TransferRange(ctx, big.NewInt(99), big.NewInt(99))
		require.NoError(t, err)
		assert.Len(t, items, len(keys))
	})

	t.Run("results are ordered by identifier", func(t *testing.T) {
		items, err := cs.TransferRange(ctx, big.NewInt(0), big.NewInt(0))
		require.NoError(t, err)
		for i := 1; i < len(items); i++ {
			prev := space.HashString(items[i-1].Key)
			cur := space.HashString(items[i].Key)
			assert.True(t, prev.Cmp(cur) <= 0)
		}
	})
}

func TestChordStorage_DeleteRange(t *testing.T) {
	space := hash.MustSpace(8)
	cs := NewDefaultChordStorage(space)
	defer cs.Close()
	ctx := context.Background()

	inside := 0
	start, end := big.NewInt(50), big.NewInt(180)
	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, cs.Write(ctx, key, []byte("v")))
		if space.InRange(space.HashString(key), start, end) {
			inside++
		}
	}

	removed, err := cs.DeleteRange(ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, inside, removed)

	left, err := cs.TransferRange(ctx, start, end)
	require.NoError(t, err)
	assert.Empty(t, left)

	n, err := cs.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30-inside, n)
}

func TestChordStorage_Closed(t *testing.T) {
	cs := NewDefaultChordStorage(hash.MustSpace(8))
	require.NoError(t, cs.Close())

	ctx := context.Background()
	assert.ErrorIs(t, cs.Write(ctx, "k", nil), pkg.ErrStorageUnavailable)
	_, err := cs.TransferRange(ctx, big.NewInt(1), big.NewInt(2))
	assert.ErrorIs(t, err, pkg.ErrStorageUnavailable)
}
