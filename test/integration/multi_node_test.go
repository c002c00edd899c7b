package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/chordring/internal/chord"
	"github.com/zde37/chordring/pkg/config"
)

func TestRingFormsOverTCP(t *testing.T) {
	cluster := newTestCluster(t, "")

	for i := 0; i < 5; i++ {
		cluster.addNode()
	}
	cluster.waitConverged()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Every node resolves every key to the same, correct owner
	for _, key := range testKeys("lookup", 50) {
		want := cluster.owner(key).node.Address()
		for _, n := range cluster.live() {
			got, hops, err := n.ring.LookupWithHops(ctx, key)
			require.NoError(t, err, key)
			assert.True(t, got.Equals(want), "key %s via %s: got %s want %s", key, n.addr(), got, want)
			assert.LessOrEqual(t, hops, 5)
		}
	}
}

func TestKeyValueAcrossNodes(t *testing.T) {
	cluster := newTestCluster(t, "")

	for i := 0; i < 3; i++ {
		cluster.addNode()
	}
	cluster.waitConverged()

	nodes := cluster.live()
	keys := testKeys("kv", 30)

	t.Run("put through any node and read from all", func(t *testing.T) {
		for i, key := range keys {
			cluster.putAll(nodes[i%len(nodes)], []string{key})
		}
		cluster.requireReadable(keys)
		assert.Equal(t, len(keys), cluster.primaryCount())
	})

	t.Run("each key lives on its owner", func(t *testing.T) {
		ctx := context.Background()
		for _, key := range keys {
			value, found, err := cluster.owner(key).node.GetLocal(ctx, key)
			require.NoError(t, err)
			assert.True(t, found, key)
			assert.Equal(t, "value-of-"+key, string(value))
		}
	})

	t.Run("delete through another node", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, nodes[1].ring.Delete(ctx, keys[0]))

		for _, n := range nodes {
			_, found, err := n.ring.Get(ctx, keys[0])
			require.NoError(t, err)
			assert.False(t, found)
		}
	})

	t.Run("empty key", func(t *testing.T) {
		err := nodes[0].ring.Put(context.Background(), "", []byte("v"))
		assert.ErrorIs(t, err, chord.ErrEmptyKey)
	})
}

func TestJoinMovesKeys(t *testing.T) {
	cluster := newTestCluster(t, "")

	first := cluster.addNode()
	keys := testKeys("migrate", 40)
	cluster.putAll(first, keys)

	cluster.addNode()
	cluster.addNode()
	cluster.waitConverged()

	cluster.requireReadable(keys)

	// Primaries end up exactly once, on their owners
	require.Eventually(t, func() bool {
		return cluster.primaryCount() == len(keys)
	}, convergeTimeout, pollInterval)

	for _, key := range keys {
		_, found, err := cluster.owner(key).node.GetLocal(context.Background(), key)
		require.NoError(t, err)
		assert.True(t, found, key)
	}
}

func TestJoinFallsBackToNextBootstrap(t *testing.T) {
	cluster := newTestCluster(t, "")

	first := cluster.addNode()
	cluster.addNode("127.0.0.1:1", first.addr())
	cluster.waitConverged()
}

func TestJoinRejectsMismatchedRing(t *testing.T) {
	cluster := newTestCluster(t, "")
	first := cluster.addNode()

	info, err := first.client.GetNodeInfo(context.Background(), first.addr())
	require.NoError(t, err)
	assert.Equal(t, 32, info.M)
	assert.Equal(t, 3, info.SuccessorListSize)
	assert.Equal(t, chord.StateStable, info.State)

	// Identifier bits must match; later bootstraps are not tried
	other := cluster.startNode("", func(c *config.Config) { c.M = 16 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = other.ring.Join(ctx, first.addr(), "127.0.0.1:1")
	assert.ErrorIs(t, err, chord.ErrConfigMismatch)
	assert.Equal(t, chord.StateIdle, other.node.State())

	// A different successor list size is tolerated
	relaxed := cluster.startNode("", func(c *config.Config) { c.SuccessorListSize = 5 })
	require.NoError(t, relaxed.ring.Join(ctx, first.addr()))
	other.down = true
	cluster.waitConverged()
}

func TestAuthTokenEnforced(t *testing.T) {
	cluster := newTestCluster(t, "ring-secret")

	first := cluster.addNode()
	cluster.addNode()
	cluster.waitConverged()

	intruder := cluster.startNode("wrong-secret")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := intruder.ring.Join(ctx, first.addr())
	require.Error(t, err)
	assert.Equal(t, chord.StateIdle, intruder.node.State())

	intruder.down = true
	cluster.waitConverged()
}
