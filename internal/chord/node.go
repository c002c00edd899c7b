package chord

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zde37/chordring/pkg"
	"github.com/zde37/chordring/pkg/config"
	"github.com/zde37/chordring/pkg/hash"
)

// ChordNode represents a node in the Chord DHT ring.
type ChordNode struct {
	// Node identity
	id      *big.Int
	address *NodeAddress
	space   *hash.Space

	// Configuration
	config  *config.Config
	maxHops int

	// Storage: primary entries this node owns, replicas it keeps for its predecessors
	primary  Store
	replicas Store

	// Logger
	logger *pkg.Logger

	// Remote client for RPC calls to other nodes
	remote RemoteClient

	// Optional sink for ring topology events
	broadcaster RingUpdateBroadcaster

	fingers    *FingerTable
	successors *SuccessorList

	// Predecessor
	predecessor   *NodeAddress
	predecessorMu sync.RWMutex

	state atomic.Int32

	// Set while a join hands the range over; writes are refused until done
	handoff atomic.Bool

	// Replication requests coalesce into one pending signal
	replicateCh chan struct{}

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	loopsEnabled bool
	loopsStarted bool
	lifecycleMu  sync.Mutex

	// Shutdown flag
	shutdown   bool
	shutdownMu sync.RWMutex
}

// Option configures a ChordNode.
type Option func(*ChordNode)

// WithStores sets the primary and replica stores. Both must use the
// node's identifier space.
func WithStores(primary, replicas Store) Option {
	return func(n *ChordNode) {
		n.primary = primary
		n.replicas = replicas
	}
}

// WithRemote sets the RPC client.
func WithRemote(remote RemoteClient) Option {
	return func(n *ChordNode) {
		n.remote = remote
	}
}

// WithBroadcaster sets the sink for ring topology events.
func WithBroadcaster(b RingUpdateBroadcaster) Option {
	return func(n *ChordNode) {
		n.broadcaster = b
	}
}

// WithoutMaintenanceLoops keeps the periodic maintenance goroutines from
// starting. Maintenance then only runs through Stabilize.
func WithoutMaintenanceLoops() Option {
	return func(n *ChordNode) {
		n.loopsEnabled = false
	}
}

// NewChordNode creates a new Chord node with the given configuration.
func NewChordNode(cfg *config.Config, logger *pkg.Logger, opts ...Option) (*ChordNode, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	space, err := hash.NewSpace(cfg.M)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	nodeID, err := cfg.Identifier(space)
	if err != nil {
		return nil, err
	}

	address := NewNodeAddress(nodeID, cfg.Host, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())

	node := &ChordNode{
		id:           nodeID,
		address:      address,
		space:        space,
		config:       cfg,
		maxHops:      cfg.LookupHopLimit(),
		logger:       logger.WithFields(pkg.Fields{"node_id": address.ShortID(), "addr": address.Address()}),
		fingers:      NewFingerTable(address, space, address),
		successors:   NewSuccessorList(address, space, cfg.SuccessorListSize),
		replicateCh:  make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		loopsEnabled: true,
	}

	for _, opt := range opts {
		opt(node)
	}

	if node.primary == nil {
		node.primary = NewDefaultChordStorage(space)
	}
	if node.replicas == nil {
		node.replicas = NewDefaultChordStorage(space)
	}

	node.logger.Info("ChordNode created", pkg.Fields{
		"host": cfg.Host,
		"port": cfg.Port,
		"m":    cfg.M,
		"r":    cfg.SuccessorListSize,
	})

	return node, nil
}

// ID returns the node's identifier.
func (n *ChordNode) ID() *big.Int {
	return new(big.Int).Set(n.id)
}

// Address returns the node's network address.
func (n *ChordNode) Address() *NodeAddress {
	return n.address.Copy()
}

// Space returns the node's identifier space.
func (n *ChordNode) Space() *hash.Space {
	return n.space
}

// SetRemote sets the remote client for making RPC calls to other nodes.
func (n *ChordNode) SetRemote(remote RemoteClient) {
	n.remote = remote
}

// SetBroadcaster sets the sink for ring topology events.
func (n *ChordNode) SetBroadcaster(b RingUpdateBroadcaster) {
	n.broadcaster = b
}

// State returns the node's lifecycle state.
func (n *ChordNode) State() NodeState {
	return NodeState(n.state.Load())
}

func (n *ChordNode) setState(s NodeState) {
	old := NodeState(n.state.Swap(int32(s)))
	if old != s {
		n.logger.Debug("Node state changed", pkg.Fields{"from": old.String(), "to": s.String()})
	}
}

func (n *ChordNode) serving() error {
	if !n.State().Serving() {
		return fmt.Errorf("%w: state %s", ErrNodeNotRunning, n.State())
	}
	return nil
}

// Successor returns the immediate successor.
func (n *ChordNode) Successor() *NodeAddress {
	return n.successors.First()
}

// getPredecessor returns a copy of the predecessor.
func (n *ChordNode) getPredecessor() *NodeAddress {
	n.predecessorMu.RLock()
	defer n.predecessorMu.RUnlock()

	return n.predecessor.Copy()
}

// setPredecessor sets the predecessor.
func (n *ChordNode) setPredecessor(node *NodeAddress) {
	n.predecessorMu.Lock()
	n.predecessor = node.Copy()
	n.predecessorMu.Unlock()

	n.logger.Debug("Predecessor updated", pkg.Fields{"predecessor_id": node.ShortID()})
}

// FingerTable returns a copy of the finger entries.
func (n *ChordNode) FingerTable() []*FingerEntry {
	return n.fingers.Entries()
}

// Create creates a new Chord ring with this node as the only member.
func (n *ChordNode) Create() error {
	if n.State() != StateIdle {
		return fmt.Errorf("cannot create ring from state %s", n.State())
	}

	n.logger.Info("Creating new Chord ring", nil)

	// A lone node is its own predecessor and successor and owns the whole ring
	n.setPredecessor(n.address)
	n.successors.Reset()
	n.fingers.Reset(n.address)
	n.setState(StateStable)

	n.startBackgroundTasks()

	n.broadcast(EventNodeJoin, nil, "ring created")
	n.logger.Info("Chord ring created successfully", nil)
	return nil
}

// Join joins an existing Chord ring through the node at bootstrapAddr.
func (n *ChordNode) Join(ctx context.Context, bootstrapAddr string) error {
	if bootstrapAddr == "" {
		return fmt.Errorf("bootstrap address cannot be empty")
	}
	if n.remote == nil {
		return fmt.Errorf("remote client not set - call SetRemote() before Join()")
	}
	if s := n.State(); s != StateIdle {
		return fmt.Errorf("cannot join from state %s", s)
	}

	log := n.logger.WithContext(ctx).WithFields(pkg.Fields{"bootstrap": bootstrapAddr})
	log.Info("Joining Chord ring", nil)
	n.setState(StateJoining)

	successor, err := n.joinSuccessor(ctx, bootstrapAddr)
	if err != nil {
		n.setState(StateIdle)
		return err
	}

	log.Info("Found successor", pkg.Fields{
		"successor_id":   successor.ShortID(),
		"successor_addr": successor.Address(),
	})

	// Predecessor is learned through notify
	n.setPredecessor(nil)
	n.successors.SetFirst(successor)
	n.fingers.Reset(successor)

	if err := n.pullKeys(ctx, successor); err != nil {
		n.setState(StateIdle)
		n.successors.Reset()
		n.fingers.Reset(n.address)
		return err
	}

	n.startBackgroundTasks()
	n.kickReplication()

	n.broadcast(EventNodeJoin, successor, "joined ring")
	log.Info("Joined Chord ring successfully", nil)
	return nil
}

// joinSuccessor checks the bootstrap's ring parameters and asks it for our successor.
func (n *ChordNode) joinSuccessor(ctx context.Context, bootstrapAddr string) (*NodeAddress, error) {
	info, err := n.remote.GetNodeInfo(ctx, bootstrapAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to contact bootstrap node: %w", err)
	}
	if info.M != n.space.M() {
		return nil, fmt.Errorf("%w: bootstrap uses m=%d, this node m=%d", ErrConfigMismatch, info.M, n.space.M())
	}
	if info.SuccessorListSize != n.successors.Capacity() {
		n.logger.Warn("Successor list size differs from bootstrap node", pkg.Fields{
			"local":  n.successors.Capacity(),
			"remote": info.SuccessorListSize,
		})
	}

	successor, _, err := n.remote.FindSuccessor(ctx, bootstrapAddr, n.id, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to find successor via bootstrap node: %w", err)
	}
	if successor.IsNil() {
		return nil, fmt.Errorf("bootstrap node returned nil successor")
	}
	return successor, nil
}

// pullKeys takes over the successor's primaries in (successor.predecessor, n].
// The snapshot from TransferKeys lets reads work at once. After Notify the
// successor refuses writes for the range, and the entries it releases
// replace the snapshot, so writes and deletes that landed in between
// survive.
func (n *ChordNode) pullKeys(ctx context.Context, successor *NodeAddress) error {
	succPred, err := n.remote.GetPredecessor(ctx, successor.Address())
	if err != nil {
		return fmt.Errorf("failed to get successor's predecessor: %w", err)
	}

	// A successor without a predecessor is alone, and every key outside
	// (n, successor] is ours
	start := successor.ID
	if succPred != nil && !succPred.Equals(successor) {
		start = succPred.ID
	}

	n.handoff.Store(true)
	defer n.handoff.Store(false)

	items, err := n.remote.TransferKeys(ctx, successor.Address(), start, n.id)
	if err != nil {
		return fmt.Errorf("key transfer failed: %w", err)
	}
	if err := n.replacePrimaryRange(ctx, start, items); err != nil {
		return err
	}

	n.logger.Info("Received keys from successor", pkg.Fields{"key_count": len(items)})

	if err := n.remote.Notify(ctx, successor.Address(), n.address); err != nil {
		n.dropPrimaryRange(ctx, start)
		return fmt.Errorf("failed to notify successor: %w", err)
	}

	released, err := n.remote.DeleteTransferredKeys(ctx, successor.Address(), start, n.id)
	if err != nil {
		n.dropPrimaryRange(ctx, start)
		return fmt.Errorf("failed to release keys on successor: %w", err)
	}
	if err := n.replacePrimaryRange(ctx, start, released); err != nil {
		return err
	}

	if len(released) != len(items) {
		n.logger.Info("Range changed during handover", pkg.Fields{
			"snapshot": len(items),
			"released": len(released),
		})
	}
	return nil
}

// replacePrimaryRange makes items the only primaries in (start, n].
func (n *ChordNode) replacePrimaryRange(ctx context.Context, start *big.Int, items []KeyValue) error {
	if _, err := n.primary.DeleteRange(ctx, start, n.id); err != nil {
		return &StoreError{Op: "delete range", Err: err}
	}
	for _, item := range items {
		if err := n.primary.Write(ctx, item.Key, item.Value); err != nil {
			return &StoreError{Op: "write", Key: item.Key, Err: err}
		}
	}
	return nil
}

// dropPrimaryRange discards a snapshot taken for a join that did not complete.
func (n *ChordNode) dropPrimaryRange(ctx context.Context, start *big.Int) {
	if _, err := n.primary.DeleteRange(ctx, start, n.id); err != nil {
		n.logger.Warn("Failed to discard transferred keys", pkg.Fields{"error": err})
	}
}

// FindSuccessor resolves the node responsible for id. hops counts the
// forwards already taken and the returned count includes this node's.
func (n *ChordNode) FindSuccessor(ctx context.Context, id *big.Int, hops int) (*NodeAddress, int, error) {
	if id == nil {
		return nil, hops, fmt.Errorf("id cannot be nil")
	}
	if err := n.serving(); err != nil {
		return nil, hops, err
	}
	if hops > n.maxHops {
		return nil, hops, fmt.Errorf("%w: %d hops", ErrLookupHopLimitExceeded, hops)
	}

	id = n.space.Mod(id)

	tried := make(map[string]bool)
	var lastErr error
	for {
		// Dropping a dead node may have moved the successor past id
		succ := n.successors.First()
		if n.space.InRange(id, n.id, succ.ID) || n.remote == nil {
			return succ, hops, nil
		}

		var candidate *NodeAddress
		for _, c := range n.routingCandidates(id) {
			if !tried[c.Address()] {
				candidate = c
				break
			}
		}
		if candidate == nil {
			break
		}
		tried[candidate.Address()] = true

		result, total, err := n.remote.FindSuccessor(ctx, candidate.Address(), id, hops+1)
		if err == nil {
			return result, total, nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrLookupHopLimitExceeded) {
			return nil, hops, err
		}
		if !IsUnreachable(err) {
			return nil, hops, fmt.Errorf("lookup via %s failed: %w", candidate.Address(), err)
		}

		n.logger.Debug("Routing candidate unreachable, trying next", pkg.Fields{
			"candidate": candidate.Address(),
			"error":     err,
		})
		n.handleUnreachable(candidate)
		lastErr = err
	}

	if lastErr != nil {
		// A downstream failure must not read as this node being unreachable
		return nil, hops, fmt.Errorf("no reachable routing candidate: %v", lastErr)
	}
	return n.successors.First(), hops, nil
}

// routingCandidates returns fingers and successors strictly inside (n, id),
// closest to id first.
func (n *ChordNode) routingCandidates(id *big.Int) []*NodeAddress {
	candidates := n.fingers.Candidates(id)
	for _, s := range n.successors.List() {
		if n.space.Between(s.ID, n.id, id) {
			candidates = append(candidates, s)
		}
	}

	seen := make(map[string]bool)
	unique := candidates[:0]
	for _, c := range candidates {
		if seen[c.Key()] {
			continue
		}
		seen[c.Key()] = true
		unique = append(unique, c)
	}

	sortByDistanceTo(n.space, unique, id)
	return unique
}

// ClosestPrecedingNode finds the closest finger preceding id, or self.
func (n *ChordNode) ClosestPrecedingNode(id *big.Int) *NodeAddress {
	best := n.fingers.ClosestPreceding(id)
	for _, s := range n.successors.List() {
		if n.space.Between(s.ID, n.id, id) &&
			n.space.Distance(s.ID, id).Cmp(n.space.Distance(best.ID, id)) < 0 {
			best = s
		}
	}
	return best
}

// handleUnreachable drops a failed node from every routing structure.
func (n *ChordNode) handleUnreachable(node *NodeAddress) {
	if node.IsNil() || node.Equals(n.address) {
		return
	}

	wasSuccessor := n.successors.First().Equals(node)
	head := n.successors.Remove(node)
	evicted := n.fingers.Evict(node, head)

	if pred := n.getPredecessor(); pred != nil && pred.Equals(node) {
		n.setPredecessor(nil)
	}

	n.logger.Warn("Removed unreachable node", pkg.Fields{
		"peer":            node.Address(),
		"was_successor":   wasSuccessor,
		"fingers_evicted": evicted,
		"new_successor":   head.Address(),
	})

	n.broadcast(EventNodeFailure, node, "node unreachable")
	if wasSuccessor {
		n.kickReplication()
	}
}

// owns reports whether id falls in (predecessor, n]. Without a predecessor
// the range is unknown: writes are refused, and reads are served for any
// id the successor is not known to own.
func (n *ChordNode) owns(id *big.Int, write bool) bool {
	pred := n.getPredecessor()
	if pred == nil {
		succ := n.successors.First()
		if succ.Equals(n.address) {
			return true
		}
		return !write && !n.space.InRange(id, n.id, succ.ID)
	}
	if write && n.handoff.Load() {
		return false
	}
	return n.space.InRange(id, pred.ID, n.id)
}

// Get retrieves a value from the ring, reporting whether it was found.
func (n *ChordNode) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := n.routeKey(ctx, key,
		func() (err error) {
			value, found, err = n.GetLocal(ctx, key)
			return err
		},
		func(owner *NodeAddress) (err error) {
			value, found, err = n.remote.Get(ctx, owner.Address(), key)
			return err
		},
	)
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Put stores a value on the node that owns key.
func (n *ChordNode) Put(ctx context.Context, key string, value []byte) error {
	return n.routeKey(ctx, key,
		func() error { return n.PutLocal(ctx, key, value) },
		func(owner *NodeAddress) error {
			return n.remote.Put(ctx, owner.Address(), key, value)
		},
	)
}

// Delete removes a key from the node that owns it.
func (n *ChordNode) Delete(ctx context.Context, key string) error {
	return n.routeKey(ctx, key,
		func() error { return n.DeleteLocal(ctx, key) },
		func(owner *NodeAddress) error {
			return n.remote.Delete(ctx, owner.Address(), key)
		},
	)
}

// routeKey resolves the owner of key and runs local or forward against it.
// A stale answer (ErrKeyNotOwned or a dead owner) gets one fresh resolution.
func (n *ChordNode) routeKey(ctx context.Context, key string, local func() error, forward func(owner *NodeAddress) error) error {
	if key == "" {
		return ErrEmptyKey
	}

	keyID := n.space.HashString(key)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		owner, _, err := n.FindSuccessor(ctx, keyID, 0)
		if err != nil {
			return fmt.Errorf("failed to find successor for key: %w", err)
		}

		if owner.Equals(n.address) {
			err = local()
		} else if n.remote == nil {
			return fmt.Errorf("remote client not set")
		} else {
			err = forward(owner)
		}
		if err == nil {
			return nil
		}

		switch {
		case errors.Is(err, ErrKeyNotOwned):
			n.logger.Debug("Owner refused key, re-resolving", pkg.Fields{"key": key, "owner": owner.Address()})
		case IsUnreachable(err) && !owner.Equals(n.address):
			n.handleUnreachable(owner)
		default:
			return err
		}
		lastErr = err
	}
	return lastErr
}

// GetLocal serves a read for a key this node owns.
func (n *ChordNode) GetLocal(ctx context.Context, key string) ([]byte, bool, error) {
	if err := n.checkOwnership(key, false); err != nil {
		return nil, false, err
	}

	value, err := n.primary.Read(ctx, key)
	if err == nil {
		return value, true, nil
	}
	if !errors.Is(err, pkg.ErrKeyNotFound) {
		return nil, false, &StoreError{Op: "read", Key: key, Err: err}
	}

	// The range may have just grown after a failure; serve the replica
	// until replication promotes it
	value, err = n.replicas.Read(ctx, key)
	if err == nil {
		return value, true, nil
	}
	if !errors.Is(err, pkg.ErrKeyNotFound) {
		return nil, false, &StoreError{Op: "read", Key: key, Err: err}
	}
	return nil, false, nil
}

// PutLocal stores a key this node owns.
func (n *ChordNode) PutLocal(ctx context.Context, key string, value []byte) error {
	if err := n.checkOwnership(key, true); err != nil {
		return err
	}
	if err := n.primary.Write(ctx, key, value); err != nil {
		return &StoreError{Op: "write", Key: key, Err: err}
	}
	n.kickReplication()
	return nil
}

// DeleteLocal removes a key this node owns, along with its replicas.
func (n *ChordNode) DeleteLocal(ctx context.Context, key string) error {
	if err := n.checkOwnership(key, true); err != nil {
		return err
	}
	if err := n.primary.Delete(ctx, key); err != nil {
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	if err := n.replicas.Delete(ctx, key); err != nil {
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	n.dropRemoteReplicas(key)
	return nil
}

func (n *ChordNode) checkOwnership(key string, write bool) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := n.serving(); err != nil {
		return err
	}
	if !n.owns(n.space.HashString(key), write) {
		return fmt.Errorf("%w: %q", ErrKeyNotOwned, key)
	}
	return nil
}

// dropRemoteReplicas deletes key from every successor in the background.
func (n *ChordNode) dropRemoteReplicas(key string) {
	if n.remote == nil {
		return
	}
	targets := n.replicaTargets()
	if len(targets) == 0 {
		return
	}

	n.goBackground(func(ctx context.Context) {
		for _, target := range targets {
			if err := n.remote.DeleteReplica(ctx, target.Address(), key); err != nil {
				n.logger.Debug("Failed to delete replica", pkg.Fields{"peer": target.Address(), "key": key, "error": err})
			}
		}
	})
}

// replicaTargets returns the successor list without self.
func (n *ChordNode) replicaTargets() []*NodeAddress {
	var out []*NodeAddress
	for _, s := range n.successors.List() {
		if !s.Equals(n.address) {
			out = append(out, s)
		}
	}
	return out
}

// Leave hands this node's keys to its successor, tells its neighbours to
// link past it and shuts the node down.
func (n *ChordNode) Leave(ctx context.Context) error {
	if err := n.serving(); err != nil {
		return err
	}

	n.logger.Info("Leaving Chord ring", nil)
	n.setState(StateLeaving)
	n.stopBackgroundTasks()

	succ := n.successors.First()
	pred := n.getPredecessor()

	var errs []error
	if n.remote != nil && !succ.Equals(n.address) {
		items, err := n.primary.TransferRange(ctx, n.id, n.id)
		if err != nil {
			errs = append(errs, &StoreError{Op: "transfer", Err: err})
		} else if err := n.remote.BulkStore(ctx, succ.Address(), items); err != nil {
			errs = append(errs, fmt.Errorf("handing keys to successor: %w", err))
		} else {
			n.logger.Info("Handed keys to successor", pkg.Fields{"key_count": len(items), "successor": succ.Address()})
		}

		if err := n.remote.NotifySuccessorLeaving(ctx, succ.Address(), n.address, pred); err != nil {
			errs = append(errs, fmt.Errorf("notifying successor: %w", err))
		}

		if pred != nil && !pred.Equals(n.address) {
			if err := n.remote.NotifyPredecessorLeaving(ctx, pred.Address(), n.address, n.successors.List()); err != nil {
				errs = append(errs, fmt.Errorf("notifying predecessor: %w", err))
			}
		}
	}

	n.broadcast(EventNodeLeave, succ, "left ring")

	if err := n.Shutdown(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		n.logger.Warn("Leave completed with errors", pkg.Fields{"error": errors.Join(errs...)})
		return errors.Join(errs...)
	}
	n.logger.Info("Left Chord ring", nil)
	return nil
}

// Shutdown stops background tasks and closes the stores. A node that did
// not leave gracefully ends in StateFailed.
func (n *ChordNode) Shutdown() error {
	n.shutdownMu.Lock()
	if n.shutdown {
		n.shutdownMu.Unlock()
		return nil // Already shutdown
	}
	n.shutdown = true
	n.shutdownMu.Unlock()

	n.logger.Info("Shutting down ChordNode", nil)

	if n.State() != StateLeaving {
		n.setState(StateFailed)
	}

	n.stopBackgroundTasks()

	var errs []error
	if err := n.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing primary store: %w", err))
	}
	if err := n.replicas.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing replica store: %w", err))
	}
	if len(errs) > 0 {
		n.logger.Error("Failed to close storage", pkg.Fields{"error": errors.Join(errs...)})
		return errors.Join(errs...)
	}

	n.logger.Info("ChordNode shutdown complete", nil)
	return nil
}

// IsShutdown returns whether the node has been shutdown.
func (n *ChordNode) IsShutdown() bool {
	n.shutdownMu.RLock()
	defer n.shutdownMu.RUnlock()
	return n.shutdown
}

// Info returns a snapshot of the node's identity, parameters and key counts.
func (n *ChordNode) Info(ctx context.Context) *NodeInfo {
	info := &NodeInfo{
		Node:              n.address.Copy(),
		M:                 n.space.M(),
		SuccessorListSize: n.successors.Capacity(),
		State:             n.State(),
	}
	if !n.IsShutdown() {
		info.KeyCount, _ = n.primary.Len(ctx)
		info.ReplicaCount, _ = n.replicas.Len(ctx)
	}
	return info
}

func (n *ChordNode) broadcast(eventType string, peer *NodeAddress, msg string) {
	if n.broadcaster == nil {
		return
	}
	event := RingUpdateEvent{
		Type:      eventType,
		NodeID:    n.id.Text(16),
		State:     n.State().String(),
		Timestamp: time.Now().Unix(),
		Message:   msg,
	}
	if !peer.IsNil() {
		event.PeerID = peer.ID.Text(16)
	}
	if err := n.broadcaster.BroadcastRingUpdate(event); err != nil {
		n.logger.Debug("Failed to broadcast ring update", pkg.Fields{"error": err, "type": eventType})
	}
}
