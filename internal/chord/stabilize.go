package chord

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/zde37/chordring/pkg"
	"github.com/zde37/chordring/pkg/hash"
)

// startBackgroundTasks starts the periodic maintenance tasks.
func (n *ChordNode) startBackgroundTasks() {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()

	if !n.loopsEnabled || n.loopsStarted || n.ctx.Err() != nil {
		return
	}
	n.loopsStarted = true

	n.wg.Add(4)
	go n.periodic("stabilize", n.config.StabilizeInterval, n.stabilize)
	go n.periodic("fix fingers", n.config.FixFingersInterval, n.fixNextFinger)
	go n.periodic("check predecessor", n.config.CheckPredecessorInterval, n.checkPredecessor)
	go n.replicationLoop()

	n.logger.Debug("Background tasks started", nil)
}

// stopBackgroundTasks cancels the maintenance loops and waits for them.
// Cancelling under lifecycleMu orders it against every wg.Add, so Wait
// never races a late registration.
func (n *ChordNode) stopBackgroundTasks() {
	n.lifecycleMu.Lock()
	n.cancel()
	n.lifecycleMu.Unlock()
	n.wg.Wait()
}

// goBackground runs fn on a tracked goroutine bound to the node's lifetime.
// It is a no-op once the node has stopped.
func (n *ChordNode) goBackground(fn func(ctx context.Context)) {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()

	if n.ctx.Err() != nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn(n.ctx)
	}()
}

// periodic runs task every interval until the node stops.
func (n *ChordNode) periodic(name string, interval time.Duration, task func(context.Context) error) {
	defer n.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.logger.Debug("Maintenance loop stopped", pkg.Fields{"task": name})
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(n.ctx, n.config.RPCTimeout*2)
			if err := task(ctx); err != nil && n.ctx.Err() == nil {
				n.logger.Debug("Maintenance task failed", pkg.Fields{"task": name, "error": err})
			}
			cancel()
		}
	}
}

// replicationLoop pushes replicas on a timer and whenever a change kicks it.
func (n *ChordNode) replicationLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.ReplicationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.logger.Debug("Replication loop stopped", nil)
			return
		case <-ticker.C:
		case <-n.replicateCh:
		}

		ctx, cancel := context.WithTimeout(n.ctx, n.config.RPCTimeout*2)
		if err := n.replicate(ctx); err != nil && n.ctx.Err() == nil {
			n.logger.Warn("Replication failed", pkg.Fields{"error": err})
		}
		cancel()
	}
}

// kickReplication schedules a replication round without blocking.
func (n *ChordNode) kickReplication() {
	select {
	case n.replicateCh <- struct{}{}:
	default:
	}
}

// Stabilize runs one synchronous pass of every maintenance task: predecessor
// check, successor stabilization, one finger refresh and replication.
func (n *ChordNode) Stabilize(ctx context.Context) error {
	if err := n.serving(); err != nil {
		return err
	}

	var errs []error
	if err := n.checkPredecessor(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := n.stabilize(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := n.fixNextFinger(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := n.replicate(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RefreshFingers recomputes every finger entry.
func (n *ChordNode) RefreshFingers(ctx context.Context) error {
	if err := n.serving(); err != nil {
		return err
	}
	var errs []error
	for i := 0; i < n.fingers.Size(); i++ {
		if err := n.fixFinger(ctx, i); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// stabilize verifies the node's immediate successor and tells the successor about this node.
func (n *ChordNode) stabilize(ctx context.Context) error {
	if err := n.serving(); err != nil {
		return err
	}

	succ := n.successors.First()

	var x *NodeAddress
	if succ.Equals(n.address) {
		// Alone, or someone has notified us: our predecessor is the best successor candidate
		x = n.getPredecessor()
	} else if n.remote != nil {
		var err error
		x, err = n.remote.GetPredecessor(ctx, succ.Address())
		if err != nil {
			return n.successorFailed(ctx, succ, err)
		}
	}

	if x != nil && !x.Equals(n.address) && n.space.Between(x.ID, n.id, succ.ID) {
		n.logger.Debug("Adopting closer successor", pkg.Fields{"old": succ.ShortID(), "new": x.ShortID()})
		n.successors.SetFirst(x)
		succ = x
	}

	if succ.Equals(n.address) || n.remote == nil {
		return nil
	}

	list, err := n.remote.GetSuccessorList(ctx, succ.Address())
	if err != nil {
		return n.successorFailed(ctx, succ, err)
	}

	changed := n.successors.Replace(succ, list)
	n.fingers.Set(0, succ)

	if err := n.remote.Notify(ctx, succ.Address(), n.address); err != nil {
		n.logger.Debug("Failed to notify successor", pkg.Fields{"successor": succ.Address(), "error": err})
	}

	if changed {
		n.logger.Debug("Successor list updated", pkg.Fields{
			"successor": succ.ShortID(),
			"size":      n.successors.Len(),
		})
		n.broadcast(EventStabilization, succ, "successor list changed")
		n.kickReplication()
	}
	return nil
}

// successorFailed drops an unresponsive successor, promotes the next one
// and notifies it right away.
func (n *ChordNode) successorFailed(ctx context.Context, succ *NodeAddress, cause error) error {
	if !IsUnreachable(cause) {
		return fmt.Errorf("stabilize with %s: %w", succ.Address(), cause)
	}

	n.handleUnreachable(succ)

	next := n.successors.First()
	if !next.Equals(n.address) {
		if err := n.remote.Notify(ctx, next.Address(), n.address); err != nil {
			n.logger.Debug("Failed to notify promoted successor", pkg.Fields{"successor": next.Address(), "error": err})
		}
	}
	return fmt.Errorf("successor %s failed: %w", succ.Address(), cause)
}

// notify handles notification from another node that it might be our predecessor.
func (n *ChordNode) notify(candidate *NodeAddress) {
	if candidate.IsNil() || candidate.Equals(n.address) {
		return
	}

	pred := n.getPredecessor()
	if pred == nil || pred.Equals(n.address) || n.space.Between(candidate.ID, pred.ID, n.id) {
		n.setPredecessor(candidate)
		n.logger.Debug("Predecessor updated via notify", pkg.Fields{"new_predecessor": candidate.ShortID()})

		// A lone node takes its first contact as successor as well
		if n.successors.First().Equals(n.address) {
			n.successors.SetFirst(candidate)
			n.fingers.Set(0, candidate)
		}

		n.broadcast(EventPredecessorChange, candidate, "predecessor updated")
		n.kickReplication()
	}
}

// checkPredecessor clears the predecessor if it no longer answers.
func (n *ChordNode) checkPredecessor(ctx context.Context) error {
	pred := n.getPredecessor()
	if pred == nil || pred.Equals(n.address) || n.remote == nil {
		return nil
	}

	err := n.remote.Ping(ctx, pred.Address())
	if err == nil {
		return nil
	}
	if !IsUnreachable(err) {
		return fmt.Errorf("ping predecessor %s: %w", pred.Address(), err)
	}

	n.logger.Info("Predecessor failed, clearing", pkg.Fields{"predecessor": pred.Address(), "error": err})
	n.predecessorMu.Lock()
	if n.predecessor.Equals(pred) {
		n.predecessor = nil
	}
	n.predecessorMu.Unlock()
	n.broadcast(EventNodeFailure, pred, "predecessor failed")
	return nil
}

// fixNextFinger refreshes the next finger entry in round-robin order.
func (n *ChordNode) fixNextFinger(ctx context.Context) error {
	return n.fixFinger(ctx, n.fingers.NextIndex())
}

func (n *ChordNode) fixFinger(ctx context.Context, i int) error {
	target := n.fingers.Start(i)

	node, _, err := n.FindSuccessor(ctx, target, 0)
	if err != nil {
		return fmt.Errorf("fix finger %d: %w", i, err)
	}
	n.fingers.Set(i, node)
	return nil
}

// sortByDistanceTo orders nodes so the one closest before id comes first.
func sortByDistanceTo(space *hash.Space, nodes []*NodeAddress, id *big.Int) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return space.Distance(nodes[i].ID, id).Cmp(space.Distance(nodes[j].ID, id)) < 0
	})
}
