package chord

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zde37/chordring/pkg/hash"
)

func testAddr(id int64) *NodeAddress {
	return NewNodeAddress(big.NewInt(id), "node", int(id)+1)
}

func TestFingerTableStarts(t *testing.T) {
	space := hash.MustSpace(8)
	owner := testAddr(200)
	ft := NewFingerTable(owner, space, owner)

	require.Equal(t, 8, ft.Size())
	assert.Equal(t, int64(201), ft.Start(0).Int64())
	assert.Equal(t, int64(208), ft.Start(3).Int64())
	assert.Equal(t, int64(72), ft.Start(7).Int64()) // (200 + 128) mod 256

	for i, e := range ft.Entries() {
		assert.True(t, owner.Equals(e.Node), "entry %d", i)
	}
}

func TestFingerTableClosestPreceding(t *testing.T) {
	space := hash.MustSpace(8)
	owner := testAddr(10)
	ft := NewFingerTable(owner, space, owner)

	ft.Set(0, testAddr(20))
	ft.Set(4, testAddr(40))
	ft.Set(6, testAddr(100))
	ft.Set(7, testAddr(150))

	tests := []struct {
		name string
		id   int64
		want int64
	}{
		{name: "farthest finger before id", id: 200, want: 150},
		{name: "skips fingers past id", id: 120, want: 100},
		{name: "strictly preceding", id: 100, want: 40},
		{name: "nothing precedes", id: 15, want: 10},
		{name: "wrapping id", id: 5, want: 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ft.ClosestPreceding(big.NewInt(tt.id))
			assert.Equal(t, tt.want, got.ID.Int64())
		})
	}
}

func TestFingerTableCandidatesAndEvict(t *testing.T) {
	space := hash.MustSpace(8)
	owner := testAddr(10)
	ft := NewFingerTable(owner, space, owner)

	ft.Set(0, testAddr(20))
	ft.Set(1, testAddr(20))
	ft.Set(5, testAddr(60))
	ft.Set(7, testAddr(150))

	cands := ft.Candidates(big.NewInt(100))
	require.Len(t, cands, 2)
	assert.Equal(t, int64(60), cands[0].ID.Int64())
	assert.Equal(t, int64(20), cands[1].ID.Int64())

	changed := ft.Evict(testAddr(20), testAddr(60))
	assert.Equal(t, 2, changed)
	assert.Equal(t, int64(60), ft.Get(0).Node.ID.Int64())
	assert.Equal(t, 0, ft.Evict(nil, owner))
}

func TestFingerTableCandidatesDedupeByID(t *testing.T) {
	space := hash.MustSpace(8)
	owner := testAddr(10)
	ft := NewFingerTable(owner, space, owner)

	ft.Set(0, testAddr(20))
	ft.Set(1, NewNodeAddress(big.NewInt(20), "moved", 9999))
	ft.Set(5, testAddr(60))

	cands := ft.Candidates(big.NewInt(100))
	assert.Equal(t, []int64{60, 20}, ids(cands))
}

func TestFingerTableNextIndexCycles(t *testing.T) {
	space := hash.MustSpace(3)
	owner := testAddr(1)
	ft := NewFingerTable(owner, space, owner)

	var got []int
	for i := 0; i < 7; i++ {
		got = append(got, ft.NextIndex())
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)

	assert.Nil(t, ft.Get(-1))
	assert.Nil(t, ft.Get(3))
	ft.Set(9, testAddr(2)) // ignored
	ft.Set(1, nil)         // ignored
	assert.True(t, owner.Equals(ft.Get(1).Node))
}
