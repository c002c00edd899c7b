package chord

import (
	"context"
	"math/big"
)

// RemoteClient defines the interface for making remote calls to other Chord nodes.
// This interface allows the ChordNode to make RPC calls without directly depending
// on the transport layer, avoiding circular dependencies.
//
// Implementations report timeouts and connection failures as ErrNodeUnreachable
// and preserve the other sentinel errors of this package across the wire.
type RemoteClient interface {
	// FindSuccessor asks the node at address to resolve id. hops is the
	// number of forwards already taken; the returned count includes the
	// remote's own forwards.
	FindSuccessor(ctx context.Context, address string, id *big.Int, hops int) (*NodeAddress, int, error)

	// ClosestPrecedingFinger returns the remote's closest preceding finger for id.
	ClosestPrecedingFinger(ctx context.Context, address string, id *big.Int) (*NodeAddress, error)

	// GetPredecessor returns the remote's predecessor, nil when it has none.
	GetPredecessor(ctx context.Context, address string) (*NodeAddress, error)

	// Notify tells the remote that node might be its predecessor.
	Notify(ctx context.Context, address string, node *NodeAddress) error

	// GetSuccessorList returns the remote's successor list.
	GetSuccessorList(ctx context.Context, address string) ([]*NodeAddress, error)

	// Ping checks liveness.
	Ping(ctx context.Context, address string) error

	// GetNodeInfo returns the remote's identity and ring parameters.
	GetNodeInfo(ctx context.Context, address string) (*NodeInfo, error)

	// Get reads a key from the node that owns it.
	Get(ctx context.Context, address string, key string) ([]byte, bool, error)

	// Put writes a key on the node that owns it.
	Put(ctx context.Context, address string, key string, value []byte) error

	// Delete removes a key on the node that owns it.
	Delete(ctx context.Context, address string, key string) error

	// TransferKeys returns the remote's primary entries in (start, end].
	TransferKeys(ctx context.Context, address string, start, end *big.Int) ([]KeyValue, error)

	// DeleteTransferredKeys tells the remote that entries in (start, end] have
	// been taken over. The remote keeps them as replicas and returns the
	// entries it holds for the range.
	DeleteTransferredKeys(ctx context.Context, address string, start, end *big.Int) ([]KeyValue, error)

	// BulkStore hands primary entries to the remote, used on graceful leave.
	BulkStore(ctx context.Context, address string, items []KeyValue) error

	// StoreReplicas replaces the remote's replicas in (start, end] with items.
	StoreReplicas(ctx context.Context, address string, start, end *big.Int, items []KeyValue) error

	// DeleteReplica removes one replica from the remote.
	DeleteReplica(ctx context.Context, address string, key string) error

	// NotifyPredecessorLeaving tells the leaving node's predecessor to take
	// successors as its new successor list.
	NotifyPredecessorLeaving(ctx context.Context, address string, leaving *NodeAddress, successors []*NodeAddress) error

	// NotifySuccessorLeaving tells the leaving node's successor to take
	// newPredecessor (possibly nil) as its predecessor.
	NotifySuccessorLeaving(ctx context.Context, address string, leaving, newPredecessor *NodeAddress) error
}
