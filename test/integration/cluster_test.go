package integration

import (
	"context"
	"fmt"
	"net"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zde37/chordring/internal/chord"
	"github.com/zde37/chordring/internal/transport"
	"github.com/zde37/chordring/pkg"
	"github.com/zde37/chordring/pkg/config"
)

const (
	convergeTimeout = 15 * time.Second
	pollInterval    = 50 * time.Millisecond
)

// testNode is one node of a TCP test cluster with its transport.
type testNode struct {
	node   *chord.ChordNode
	ring   *chord.Ring
	server *transport.GRPCServer
	client *transport.GRPCClient
	down   bool
}

func (n *testNode) addr() string {
	return n.node.Address().Address()
}

// testCluster runs real nodes talking gRPC over loopback TCP.
type testCluster struct {
	t         *testing.T
	nodes     []*testNode
	authToken string
	logger    *pkg.Logger
}

func newTestCluster(t *testing.T, authToken string) *testCluster {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	loggerConfig := pkg.DefaultLoggerConfig()
	loggerConfig.Level = pkg.LogLevelError
	loggerConfig.Outputs = []string{pkg.LogOutputStderr}
	logger, err := pkg.NewLogger(loggerConfig)
	require.NoError(t, err)

	tc := &testCluster{t: t, authToken: authToken, logger: logger}
	t.Cleanup(tc.shutdown)
	return tc
}

func (tc *testCluster) config(port int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	cfg.HTTPPort = 0
	cfg.M = 32
	cfg.SuccessorListSize = 3
	cfg.StabilizeInterval = 50 * time.Millisecond
	cfg.FixFingersInterval = 20 * time.Millisecond
	cfg.CheckPredecessorInterval = 50 * time.Millisecond
	cfg.ReplicationInterval = 100 * time.Millisecond
	cfg.RPCTimeout = 500 * time.Millisecond
	return cfg
}

// startNode serves a new idle node on a free loopback port. mutate, if
// given, adjusts the node's configuration first.
func (tc *testCluster) startNode(authToken string, mutate ...func(*config.Config)) *testNode {
	tc.t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tc.t, err)

	cfg := tc.config(listener.Addr().(*net.TCPAddr).Port)
	cfg.AuthToken = authToken
	for _, fn := range mutate {
		fn(cfg)
	}

	client := transport.NewGRPCClient(tc.logger, authToken, cfg.RPCTimeout)
	node, err := chord.NewChordNode(cfg, tc.logger, chord.WithRemote(client))
	require.NoError(tc.t, err)

	server, err := transport.NewGRPCServer(node, cfg.Address(), authToken, tc.logger)
	require.NoError(tc.t, err)
	require.NoError(tc.t, server.Serve(listener))

	n := &testNode{node: node, ring: chord.NewRing(node), server: server, client: client}
	tc.nodes = append(tc.nodes, n)
	return n
}

// addNode creates the ring with the first node and joins later ones through
// bootstrap, or through the first node when bootstrap is empty.
func (tc *testCluster) addNode(bootstrap ...string) *testNode {
	tc.t.Helper()

	n := tc.startNode(tc.authToken)
	if len(tc.nodes) == 1 {
		require.NoError(tc.t, n.ring.Create())
		return n
	}

	if len(bootstrap) == 0 {
		bootstrap = []string{tc.nodes[0].addr()}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(tc.t, n.ring.Join(ctx, bootstrap...))
	return n
}

// crash stops a node without any handover.
func (tc *testCluster) crash(n *testNode) {
	n.down = true
	n.server.Stop()
	n.node.Shutdown()
}

func (tc *testCluster) live() []*testNode {
	var out []*testNode
	for _, n := range tc.nodes {
		if !n.down && n.node.State().Serving() {
			out = append(out, n)
		}
	}
	return out
}

// converged reports whether every live node links to its true neighbours
// in both directions.
func (tc *testCluster) converged() bool {
	live := tc.live()
	if len(live) == 0 {
		return false
	}
	sort.Slice(live, func(i, j int) bool { return live[i].node.ID().Cmp(live[j].node.ID()) < 0 })

	for i, n := range live {
		next := live[(i+1)%len(live)].node.Address()
		prev := live[(i+len(live)-1)%len(live)].node.Address()

		if !n.node.Successor().Equals(next) {
			return false
		}
		pred, err := n.node.GetPredecessor()
		if err != nil || !pred.Equals(prev) {
			return false
		}
		if n.node.State() != chord.StateStable {
			return false
		}
	}
	return true
}

func (tc *testCluster) waitConverged() {
	tc.t.Helper()
	require.Eventually(tc.t, tc.converged, convergeTimeout, pollInterval, "ring did not converge")
}

// owner returns the live node whose range (pred, self] holds key.
func (tc *testCluster) owner(key string) *testNode {
	live := tc.live()
	sort.Slice(live, func(i, j int) bool { return live[i].node.ID().Cmp(live[j].node.ID()) < 0 })

	space := live[0].node.Space()
	id := space.HashString(key)
	for i, n := range live {
		prev := live[(i+len(live)-1)%len(live)].node.ID()
		if len(live) == 1 || space.InRange(id, prev, n.node.ID()) {
			return n
		}
	}
	return nil
}

func (tc *testCluster) primaryCount() int {
	total := 0
	for _, n := range tc.live() {
		total += n.node.Info(context.Background()).KeyCount
	}
	return total
}

func (tc *testCluster) shutdown() {
	for _, n := range tc.nodes {
		if err := n.server.Stop(); err != nil {
			tc.t.Logf("Error stopping server: %v", err)
		}
		if err := n.node.Shutdown(); err != nil {
			tc.t.Logf("Error shutting down node: %v", err)
		}
		if err := n.client.Close(); err != nil {
			tc.t.Logf("Error closing client: %v", err)
		}
	}
}

func testKeys(prefix string, count int) []string {
	keys := make([]string, count)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return keys
}

// requireReadable waits until every key reads back its own name as value
// through every live node.
func (tc *testCluster) requireReadable(keys []string) {
	tc.t.Helper()

	require.Eventually(tc.t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, n := range tc.live() {
			for _, key := range keys {
				value, found, err := n.ring.Get(ctx, key)
				if err != nil || !found || string(value) != "value-of-"+key {
					return false
				}
			}
		}
		return true
	}, convergeTimeout, 200*time.Millisecond, "keys not readable from every node")
}

func (tc *testCluster) putAll(via *testNode, keys []string) {
	tc.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		require.NoError(tc.t, via.ring.Put(ctx, key, []byte("value-of-"+key)), key)
	}
}
