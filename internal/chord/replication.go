package chord

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/zde37/chordring/pkg"
)

// replicate reconciles local stores with the current ownership range
// (predecessor, n] and pushes a snapshot of that range to every successor.
//
// Replicas that now fall inside the range are promoted to primaries, and
// primaries that fell outside it are demoted to replicas.
func (n *ChordNode) replicate(ctx context.Context) error {
	if err := n.serving(); err != nil {
		return err
	}

	pred := n.getPredecessor()
	if pred == nil {
		return nil
	}

	promoted, err := n.promoteReplicas(ctx, pred)
	if err != nil {
		return err
	}

	demoted := 0
	if !pred.Equals(n.address) {
		if demoted, err = n.demotePrimaries(ctx, pred); err != nil {
			return err
		}
	}

	if promoted > 0 || demoted > 0 {
		n.logger.Info("Rebalanced local keys", pkg.Fields{"promoted": promoted, "demoted": demoted})
	}

	if err := n.pushReplicas(ctx, pred); err != nil {
		return err
	}

	if n.State() == StateJoining {
		n.setState(StateStable)
		n.broadcast(EventStabilization, pred, "node stable")
	}
	return nil
}

// promoteReplicas moves replicas in (pred, n] into the primary store,
// keeping any primary value already present.
func (n *ChordNode) promoteReplicas(ctx context.Context, pred *NodeAddress) (int, error) {
	items, err := n.replicas.TransferRange(ctx, pred.ID, n.id)
	if err != nil {
		return 0, &StoreError{Op: "transfer", Err: err}
	}

	promoted := 0
	for _, item := range items {
		_, err := n.primary.Read(ctx, item.Key)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, pkg.ErrKeyNotFound):
			return promoted, &StoreError{Op: "read", Key: item.Key, Err: err}
		}
		if err := n.primary.Write(ctx, item.Key, item.Value); err != nil {
			return promoted, &StoreError{Op: "write", Key: item.Key, Err: err}
		}
		promoted++
	}

	if _, err := n.replicas.DeleteRange(ctx, pred.ID, n.id); err != nil {
		return promoted, &StoreError{Op: "delete range", Err: err}
	}
	return promoted, nil
}

// demotePrimaries moves primaries outside (pred, n] into the replica store.
func (n *ChordNode) demotePrimaries(ctx context.Context, pred *NodeAddress) (int, error) {
	return n.moveToReplicas(ctx, n.id, pred.ID)
}

// moveToReplicas moves primaries in (start, end] into the replica store.
func (n *ChordNode) moveToReplicas(ctx context.Context, start, end *big.Int) (int, error) {
	items, err := n.primary.TransferRange(ctx, start, end)
	if err != nil {
		return 0, &StoreError{Op: "transfer", Err: err}
	}
	if len(items) == 0 {
		return 0, nil
	}

	for _, item := range items {
		if err := n.replicas.Write(ctx, item.Key, item.Value); err != nil {
			return 0, &StoreError{Op: "write", Key: item.Key, Err: err}
		}
	}

	removed, err := n.primary.DeleteRange(ctx, start, end)
	if err != nil {
		return 0, &StoreError{Op: "delete range", Err: err}
	}
	return removed, nil
}

// pushReplicas sends the owned range to each successor. Failures are
// logged and retried on the next round.
func (n *ChordNode) pushReplicas(ctx context.Context, pred *NodeAddress) error {
	if n.remote == nil || pred.Equals(n.address) {
		return nil
	}

	targets := n.replicaTargets()
	if len(targets) == 0 {
		return nil
	}

	items, err := n.primary.TransferRange(ctx, pred.ID, n.id)
	if err != nil {
		return &StoreError{Op: "transfer", Err: err}
	}

	var errs []error
	for _, target := range targets {
		err := n.remote.StoreReplicas(ctx, target.Address(), pred.ID, n.id, items)
		if err == nil {
			continue
		}
		if IsUnreachable(err) {
			n.handleUnreachable(target)
		}
		errs = append(errs, fmt.Errorf("replicate to %s: %w", target.Address(), err))
	}

	n.logger.Debug("Pushed replicas", pkg.Fields{
		"key_count": len(items),
		"targets":   len(targets),
		"failed":    len(errs),
	})
	return errors.Join(errs...)
}
