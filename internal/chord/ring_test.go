package chord

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_JoinFallsBackToNextBootstrap(t *testing.T) {
	net := NewLocalNetwork()
	a := newRingNode(t, net, 5, 8, 3)
	b := newRingNode(t, net, 120, 8, 3)
	ctx := context.Background()

	require.NoError(t, NewRing(a).Create())

	ring := NewRing(b)
	err := ring.Join(ctx, b.Address().Address(), "127.0.0.1:1", a.Address().Address())
	require.NoError(t, err)
	assert.True(t, b.Successor().Equals(a.Address()))
}

func TestRing_JoinErrors(t *testing.T) {
	net := NewLocalNetwork()
	a := newRingNode(t, net, 5, 8, 3)
	b := createTestNode(t, net, createTestConfig(120, 9120, 12, 3))
	ctx := context.Background()
	require.NoError(t, a.Create())

	ring := NewRing(b)

	assert.Error(t, ring.Join(ctx))

	err := ring.Join(ctx, b.Address().Address())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no bootstrap address")

	err = ring.Join(ctx, "127.0.0.1:1", "127.0.0.1:2")
	assert.ErrorIs(t, err, ErrNodeUnreachable)

	err = ring.Join(ctx, a.Address().Address(), "127.0.0.1:1")
	assert.ErrorIs(t, err, ErrConfigMismatch)
}

func TestRing_LookupAndKeys(t *testing.T) {
	_, nodes := threeNodeRing(t, 2)
	ctx := context.Background()
	space := nodes[0].Space()

	key := keyInRange(t, space, 80, 200, "ring")

	for _, n := range nodes {
		ring := NewRing(n)
		owner, hops, err := ring.LookupWithHops(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(200), owner.ID.Int64())
		assert.GreaterOrEqual(t, hops, 0)
	}

	ring := NewRing(nodes[0])
	require.NoError(t, ring.Put(ctx, key, []byte("v")))

	value, found, err := NewRing(nodes[1]).Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), value)

	require.NoError(t, NewRing(nodes[1]).Delete(ctx, key))
	_, found, err = ring.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = ring.Lookup(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

// hopLimitNetwork fails the first failures lookups of one identifier with
// ErrLookupHopLimitExceeded and records how the node recovered.
type hopLimitNetwork struct {
	*LocalNetwork
	id *big.Int

	mu           sync.Mutex
	failures     int
	lookups      int
	stabilizedAt []int
}

func (h *hopLimitNetwork) FindSuccessor(ctx context.Context, address string, id *big.Int, hops int) (*NodeAddress, int, error) {
	if id.Cmp(h.id) == 0 {
		h.mu.Lock()
		h.lookups++
		fail := h.failures > 0
		if fail {
			h.failures--
		}
		h.mu.Unlock()
		if fail {
			return nil, hops, ErrLookupHopLimitExceeded
		}
	}
	return h.LocalNetwork.FindSuccessor(ctx, address, id, hops)
}

func (h *hopLimitNetwork) GetPredecessor(ctx context.Context, address string) (*NodeAddress, error) {
	h.mu.Lock()
	h.stabilizedAt = append(h.stabilizedAt, h.lookups)
	h.mu.Unlock()
	return h.LocalNetwork.GetPredecessor(ctx, address)
}

func TestRing_LookupRetriesAfterHopLimit(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		wantErr  bool
	}{
		{name: "retry succeeds after stabilizing", failures: 1},
		{name: "retry also exceeds the limit", failures: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, nodes := threeNodeRing(t, 2)
			ctx := context.Background()
			space := nodes[0].Space()

			// Above 138, the last finger start of node 10, so finger repair
			// never looks up the same identifier
			key := keyInRange(t, space, 138, 200, "hops")
			remote := &hopLimitNetwork{LocalNetwork: net, id: space.HashString(key), failures: tt.failures}
			nodes[0].SetRemote(remote)

			owner, _, err := NewRing(nodes[0]).LookupWithHops(ctx, key)

			remote.mu.Lock()
			defer remote.mu.Unlock()
			assert.Equal(t, 2, remote.lookups, "one lookup and one retry")
			assert.Contains(t, remote.stabilizedAt, 1, "stabilized between the two lookups")

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrLookupHopLimitExceeded)
				assert.Nil(t, owner)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(200), owner.ID.Int64())
		})
	}
}

func TestRing_Leave(t *testing.T) {
	_, nodes := threeNodeRing(t, 2)
	ring := NewRing(nodes[1])

	require.NoError(t, ring.Leave(context.Background()))
	assert.Equal(t, StateLeaving, ring.Node().State())
}
