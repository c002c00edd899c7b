package chord

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// LocalNetwork is an in-process RemoteClient that dispatches calls straight
// to registered nodes. It backs simulations and tests; Disconnect makes a
// node look crashed to every caller.
type LocalNetwork struct {
	mu      sync.RWMutex
	nodes   map[string]*ChordNode
	offline map[string]bool
	calls   int64
}

var _ RemoteClient = (*LocalNetwork)(nil)

// NewLocalNetwork creates an empty network.
func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{
		nodes:   make(map[string]*ChordNode),
		offline: make(map[string]bool),
	}
}

// Register attaches node to the network and points its remote client here.
func (ln *LocalNetwork) Register(node *ChordNode) {
	ln.mu.Lock()
	defer ln.mu.Unlock()

	addr := node.Address().Address()
	ln.nodes[addr] = node
	delete(ln.offline, addr)
	node.SetRemote(ln)
}

// Disconnect makes every call to address fail with ErrNodeUnreachable.
func (ln *LocalNetwork) Disconnect(address string) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	ln.offline[address] = true
}

// Reconnect undoes Disconnect.
func (ln *LocalNetwork) Reconnect(address string) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	delete(ln.offline, address)
}

// Calls returns the number of calls dispatched so far.
func (ln *LocalNetwork) Calls() int64 {
	ln.mu.RLock()
	defer ln.mu.RUnlock()
	return ln.calls
}

func (ln *LocalNetwork) node(ctx context.Context, address string) (*ChordNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNodeUnreachable, address, err)
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()

	ln.calls++
	node, ok := ln.nodes[address]
	if !ok || ln.offline[address] {
		return nil, fmt.Errorf("%w: %s", ErrNodeUnreachable, address)
	}
	return node, nil
}

func (ln *LocalNetwork) FindSuccessor(ctx context.Context, address string, id *big.Int, hops int) (*NodeAddress, int, error) {
	node, err := ln.node(ctx, address)
	if err != nil {
		return nil, hops, err
	}
	return node.FindSuccessor(ctx, id, hops)
}

func (ln *LocalNetwork) ClosestPrecedingFinger(ctx context.Context, address string, id *big.Int) (*NodeAddress, error) {
	node, err := ln.node(ctx, address)
	if err != nil {
		return nil, err
	}
	if err := node.Ping(); err != nil {
		return nil, err
	}
	return node.ClosestPrecedingNode(id), nil
}

func (ln *LocalNetwork) GetPredecessor(ctx context.Context, address string) (*NodeAddress, error) {
	node, err := ln.node(ctx, address)
	if err != nil {
		return nil, err
	}
	return node.GetPredecessor()
}

func (ln *LocalNetwork) Notify(ctx context.Context, address string, candidate *NodeAddress) error {
	node, err := ln.node(ctx, address)
	if err != nil {
		return err
	}
	return node.Notify(candidate)
}

func (ln *LocalNetwork) GetSuccessorList(ctx context.Context, address string) ([]*NodeAddress, error) {
	node, err := ln.node(ctx, address)
	if err != nil {
		return nil, err
	}
	return node.GetSuccessorList()
}

func (ln *LocalNetwork) Ping(ctx context.Context, address string) error {
	node, err := ln.node(ctx, address)
	if err != nil {
		return err
	}
	return node.Ping()
}

func (ln *LocalNetwork) GetNodeInfo(ctx context.Context, address string) (*NodeInfo, error) {
	node, err := ln.node(ctx, address)
	if err != nil {
		return nil, err
	}
	return node.Info(ctx), nil
}

func (ln *LocalNetwork) Get(ctx context.Context, address string, key string) ([]byte, bool, error) {
	node, err := ln.node(ctx, address)
	if err != nil {
		return nil, false, err
	}
	return node.GetLocal(ctx, key)
}

func (ln *LocalNetwork) Put(ctx context.Context, address string, key string, value []byte) error {
	node, err := ln.node(ctx, address)
	if err != nil {
		return err
	}
	return node.PutLocal(ctx, key, value)
}

func (ln *LocalNetwork) Delete(ctx context.Context, address string, key string) error {
	node, err := ln.node(ctx, address)
	if err != nil {
		return err
	}
	return node.DeleteLocal(ctx, key)
}

func (ln *LocalNetwork) TransferKeys(ctx context.Context, address string, start, end *big.Int) ([]KeyValue, error) {
	node, err := ln.node(ctx, address)
	if err != nil {
		return nil, err
	}
	return node.TransferKeys(ctx, start, end)
}

func (ln *LocalNetwork) DeleteTransferredKeys(ctx context.Context, address string, start, end *big.Int) ([]KeyValue, error) {
	node, err := ln.node(ctx, address)
	if err != nil {
		return nil, err
	}
	return node.DeleteTransferredKeys(ctx, start, end)
}

func (ln *LocalNetwork) BulkStore(ctx context.Context, address string, items []KeyValue) error {
	node, err := ln.node(ctx, address)
	if err != nil {
		return err
	}
	return node.BulkStore(ctx, items)
}

func (ln *LocalNetwork) StoreReplicas(ctx context.Context, address string, start, end *big.Int, items []KeyValue) error {
	node, err := ln.node(ctx, address)
	if err != nil {
		return err
	}
	return node.StoreReplicas(ctx, start, end, items)
}

func (ln *LocalNetwork) DeleteReplica(ctx context.Context, address string, key string) error {
	node, err := ln.node(ctx, address)
	if err != nil {
		return err
	}
	return node.DeleteReplica(ctx, key)
}

func (ln *LocalNetwork) NotifyPredecessorLeaving(ctx context.Context, address string, leaving *NodeAddress, successors []*NodeAddress) error {
	node, err := ln.node(ctx, address)
	if err != nil {
		return err
	}
	return node.HandlePredecessorLeaving(ctx, leaving, successors)
}

func (ln *LocalNetwork) NotifySuccessorLeaving(ctx context.Context, address string, leaving, newPredecessor *NodeAddress) error {
	node, err := ln.node(ctx, address)
	if err != nil {
		return err
	}
	return node.HandleSuccessorLeaving(ctx, leaving, newPredecessor)
}
