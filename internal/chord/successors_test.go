package chord

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zde37/chordring/pkg/hash"
)

func ids(nodes []*NodeAddress) []int64 {
	out := make([]int64, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID.Int64()
	}
	return out
}

func TestSuccessorListStartsWithOwner(t *testing.T) {
	owner := testAddr(10)
	sl := NewSuccessorList(owner, hash.MustSpace(8), 3)

	assert.Equal(t, 3, sl.Capacity())
	assert.Equal(t, 1, sl.Len())
	assert.True(t, owner.Equals(sl.First()))

	assert.Equal(t, 1, NewSuccessorList(owner, hash.MustSpace(8), 0).Capacity())
}

func TestSuccessorListReplace(t *testing.T) {
	space := hash.MustSpace(8)
	owner := testAddr(10)

	tests := []struct {
		name   string
		succ   int64
		remote []int64
		want   []int64
	}{
		{name: "prepends successor", succ: 50, remote: []int64{90, 200}, want: []int64{50, 90, 200}},
		{name: "caps at capacity", succ: 50, remote: []int64{90, 200, 250}, want: []int64{50, 90, 200}},
		{name: "truncates at owner", succ: 200, remote: []int64{10, 50}, want: []int64{200}},
		{name: "drops duplicates", succ: 50, remote: []int64{50, 90, 90}, want: []int64{50, 90}},
		{name: "drops nodes before successor", succ: 90, remote: []int64{50, 200}, want: []int64{90, 200}},
		{name: "two node ring", succ: 50, remote: []int64{10}, want: []int64{50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl := NewSuccessorList(owner, space, 3)
			var remote []*NodeAddress
			for _, id := range tt.remote {
				remote = append(remote, testAddr(id))
			}

			changed := sl.Replace(testAddr(tt.succ), remote)
			assert.True(t, changed)
			assert.Equal(t, tt.want, ids(sl.List()))

			assert.False(t, sl.Replace(testAddr(tt.succ), remote), "same input should not change the list")
		})
	}
}

func TestSuccessorListOrderedByDistance(t *testing.T) {
	space := hash.MustSpace(8)
	owner := testAddr(200)
	sl := NewSuccessorList(owner, space, 4)

	sl.Replace(testAddr(220), []*NodeAddress{testAddr(5), testAddr(240), testAddr(100)})
	assert.Equal(t, []int64{220, 240, 5, 100}, ids(sl.List()))
}

func TestSuccessorListRemovePromotesNext(t *testing.T) {
	space := hash.MustSpace(8)
	owner := testAddr(10)
	sl := NewSuccessorList(owner, space, 3)
	sl.Replace(testAddr(80), []*NodeAddress{testAddr(200)})

	head := sl.Remove(testAddr(80))
	assert.Equal(t, int64(200), head.ID.Int64())
	assert.False(t, sl.Contains(testAddr(80)))

	head = sl.Remove(testAddr(200))
	assert.True(t, owner.Equals(head), "an exhausted list falls back to the owner")
	assert.Equal(t, 1, sl.Len())
}

func TestSuccessorListSetFirst(t *testing.T) {
	space := hash.MustSpace(8)
	owner := testAddr(10)
	sl := NewSuccessorList(owner, space, 3)
	sl.Replace(testAddr(80), []*NodeAddress{testAddr(200)})

	sl.SetFirst(testAddr(40))
	assert.Equal(t, []int64{40, 80, 200}, ids(sl.List()))

	sl.SetFirst(owner)
	assert.Equal(t, []int64{40, 80, 200}, ids(sl.List()), "owner is never added next to other nodes")

	sl.Reset()
	assert.Equal(t, []int64{10}, ids(sl.List()))
}

func TestSuccessorListDedupesByID(t *testing.T) {
	space := hash.MustSpace(8)
	owner := testAddr(10)
	sl := NewSuccessorList(owner, space, 4)

	moved := NewNodeAddress(big.NewInt(90), "node", 9999)
	ownerElsewhere := NewNodeAddress(big.NewInt(10), "other", 7000)

	sl.Replace(testAddr(50), []*NodeAddress{testAddr(90), moved, ownerElsewhere, testAddr(200)})
	assert.Equal(t, []int64{50, 90, 200}, ids(sl.List()))
}
