package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/chordring/internal/chord"
)

func (tc *testCluster) replicaCount() int {
	total := 0
	for _, n := range tc.live() {
		total += n.node.Info(context.Background()).ReplicaCount
	}
	return total
}

func TestCrashRecoveryPromotesReplicas(t *testing.T) {
	cluster := newTestCluster(t, "")

	for i := 0; i < 4; i++ {
		cluster.addNode()
	}
	cluster.waitConverged()

	keys := testKeys("crash", 40)
	cluster.putAll(cluster.nodes[0], keys)

	// r=3 with four nodes puts a replica of every key on each other node
	require.Eventually(t, func() bool {
		return cluster.replicaCount() >= 3*len(keys)
	}, convergeTimeout, pollInterval, "replicas not pushed")

	victim := cluster.nodes[2]
	cluster.crash(victim)
	assert.Equal(t, chord.StateFailed, victim.node.State())

	cluster.waitConverged()
	cluster.requireReadable(keys)

	require.Eventually(t, func() bool {
		return cluster.primaryCount() == len(keys)
	}, convergeTimeout, pollInterval, "primaries not rebalanced")
}

func TestTwoAdjacentCrashes(t *testing.T) {
	cluster := newTestCluster(t, "")

	for i := 0; i < 5; i++ {
		cluster.addNode()
	}
	cluster.waitConverged()

	keys := testKeys("adjacent", 30)
	cluster.putAll(cluster.nodes[0], keys)
	require.Eventually(t, func() bool {
		return cluster.replicaCount() >= 3*len(keys)
	}, convergeTimeout, pollInterval)

	// Crash a node and its successor at once; the successor list still
	// holds a live node past both
	victim := cluster.nodes[1]
	var next *testNode
	for _, n := range cluster.nodes {
		if n.node.Address().Equals(victim.node.Successor()) {
			next = n
		}
	}
	require.NotNil(t, next)

	cluster.crash(victim)
	cluster.crash(next)

	cluster.waitConverged()
	cluster.requireReadable(keys)
}

func TestGracefulLeave(t *testing.T) {
	cluster := newTestCluster(t, "")

	for i := 0; i < 3; i++ {
		cluster.addNode()
	}
	cluster.waitConverged()

	keys := testKeys("leave", 40)
	cluster.putAll(cluster.nodes[0], keys)

	leaver := cluster.nodes[1]
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, leaver.ring.Leave(ctx))
	leaver.down = true
	assert.Equal(t, chord.StateLeaving, leaver.node.State())

	_, err := leaver.ring.Lookup(ctx, keys[0])
	assert.ErrorIs(t, err, chord.ErrNodeNotRunning)

	cluster.waitConverged()
	cluster.requireReadable(keys)
	require.Eventually(t, func() bool {
		return cluster.primaryCount() == len(keys)
	}, convergeTimeout, pollInterval)
}
