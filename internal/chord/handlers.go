package chord

import (
	"context"
	"fmt"
	"math/big"

	"github.com/zde37/chordring/pkg"
)

// Public methods for the RPC servers. Each one refuses to serve unless the
// node is joining or stable.

// GetPredecessor returns the node's predecessor, nil when unknown.
func (n *ChordNode) GetPredecessor() (*NodeAddress, error) {
	if err := n.serving(); err != nil {
		return nil, err
	}
	return n.getPredecessor(), nil
}

// Notify handles notification from another node that it might be our predecessor.
func (n *ChordNode) Notify(node *NodeAddress) error {
	if err := n.serving(); err != nil {
		return err
	}
	n.notify(node)
	return nil
}

// GetSuccessorList returns the successor list.
func (n *ChordNode) GetSuccessorList() ([]*NodeAddress, error) {
	if err := n.serving(); err != nil {
		return nil, err
	}
	return n.successors.List(), nil
}

// Ping reports whether the node is serving.
func (n *ChordNode) Ping() error {
	return n.serving()
}

// TransferKeys returns the primary entries in (start, end]. The entries stay
// in place until DeleteTransferredKeys confirms the takeover.
func (n *ChordNode) TransferKeys(ctx context.Context, start, end *big.Int) ([]KeyValue, error) {
	if start == nil || end == nil {
		return nil, fmt.Errorf("start and end IDs cannot be nil")
	}
	if err := n.serving(); err != nil {
		return nil, err
	}

	items, err := n.primary.TransferRange(ctx, start, end)
	if err != nil {
		return nil, &StoreError{Op: "transfer", Err: err}
	}

	n.logger.Info("Transferring keys in range", pkg.Fields{
		"start_id":  truncateHex(start.Text(16), 8),
		"end_id":    truncateHex(end.Text(16), 8),
		"key_count": len(items),
	})
	return items, nil
}

// DeleteTransferredKeys demotes the primaries in (start, end] to replicas
// once a joining predecessor has taken them over. It returns every entry
// now held for the range, which includes writes made after TransferKeys.
func (n *ChordNode) DeleteTransferredKeys(ctx context.Context, start, end *big.Int) ([]KeyValue, error) {
	if start == nil || end == nil {
		return nil, fmt.Errorf("start and end IDs cannot be nil")
	}
	if err := n.serving(); err != nil {
		return nil, err
	}

	if _, err := n.moveToReplicas(ctx, start, end); err != nil {
		return nil, err
	}

	// Replication may already have demoted part of the range, so read the
	// replica store rather than trusting what was just moved
	items, err := n.replicas.TransferRange(ctx, start, end)
	if err != nil {
		return nil, &StoreError{Op: "transfer", Err: err}
	}

	n.logger.Info("Transferred keys released", pkg.Fields{"key_count": len(items)})
	return items, nil
}

// BulkStore accepts primaries handed over by a leaving predecessor.
func (n *ChordNode) BulkStore(ctx context.Context, items []KeyValue) error {
	if err := n.serving(); err != nil {
		return err
	}
	for _, item := range items {
		if err := n.primary.Write(ctx, item.Key, item.Value); err != nil {
			return &StoreError{Op: "write", Key: item.Key, Err: err}
		}
	}

	n.logger.Info("Stored handed-over keys", pkg.Fields{"key_count": len(items)})
	n.kickReplication()
	return nil
}

// StoreReplicas replaces the replicas held for (start, end] with items.
func (n *ChordNode) StoreReplicas(ctx context.Context, start, end *big.Int, items []KeyValue) error {
	if start == nil || end == nil {
		return fmt.Errorf("start and end IDs cannot be nil")
	}
	if err := n.serving(); err != nil {
		return err
	}

	if _, err := n.replicas.DeleteRange(ctx, start, end); err != nil {
		return &StoreError{Op: "delete range", Err: err}
	}
	for _, item := range items {
		if err := n.replicas.Write(ctx, item.Key, item.Value); err != nil {
			return &StoreError{Op: "write", Key: item.Key, Err: err}
		}
	}
	return nil
}

// DeleteReplica drops one replica.
func (n *ChordNode) DeleteReplica(ctx context.Context, key string) error {
	if err := n.serving(); err != nil {
		return err
	}
	if err := n.replicas.Delete(ctx, key); err != nil {
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// HandlePredecessorLeaving links past a leaving successor using the list it sent.
func (n *ChordNode) HandlePredecessorLeaving(ctx context.Context, leaving *NodeAddress, successors []*NodeAddress) error {
	if err := n.serving(); err != nil {
		return err
	}

	n.successors.Remove(leaving)
	if len(successors) > 0 {
		n.successors.Replace(successors[0], successors[1:])
	}
	head := n.successors.First()
	n.fingers.Evict(leaving, head)

	n.logger.Info("Successor left the ring", pkg.Fields{"leaving": leaving.Address(), "new_successor": head.Address()})
	n.broadcast(EventNodeLeave, leaving, "successor left")
	n.kickReplication()
	return nil
}

// HandleSuccessorLeaving takes the leaving predecessor's predecessor as our own.
func (n *ChordNode) HandleSuccessorLeaving(ctx context.Context, leaving, newPredecessor *NodeAddress) error {
	if err := n.serving(); err != nil {
		return err
	}

	n.predecessorMu.Lock()
	if n.predecessor == nil || n.predecessor.Equals(leaving) {
		n.predecessor = newPredecessor.Copy()
	}
	n.predecessorMu.Unlock()

	// In a two-node ring the leaving node was our successor too
	head := n.successors.Remove(leaving)
	n.fingers.Evict(leaving, head)

	n.logger.Info("Predecessor left the ring", pkg.Fields{"leaving": leaving.Address(), "new_predecessor": newPredecessor.ShortID()})
	n.broadcast(EventNodeLeave, leaving, "predecessor left")
	n.kickReplication()
	return nil
}
