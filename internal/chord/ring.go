package chord

import (
	"context"
	"errors"
	"fmt"

	"github.com/zde37/chordring/pkg"
)

// Ring is the client-facing view of the ring through one local node:
// bootstrap, lookups and the key-value operations.
type Ring struct {
	node *ChordNode
}

// NewRing wraps node.
func NewRing(node *ChordNode) *Ring {
	return &Ring{node: node}
}

// Node returns the local node.
func (r *Ring) Node() *ChordNode {
	return r.node
}

// Create starts a new ring with the local node as its only member.
func (r *Ring) Create() error {
	return r.node.Create()
}

// Join tries each bootstrap address in turn until one admits the node.
// A configuration mismatch stops immediately.
func (r *Ring) Join(ctx context.Context, bootstrapAddrs ...string) error {
	if len(bootstrapAddrs) == 0 {
		return fmt.Errorf("at least one bootstrap address is required")
	}

	var errs []error
	for _, addr := range bootstrapAddrs {
		if addr == r.node.Address().Address() {
			continue
		}

		err := r.node.Join(ctx, addr)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConfigMismatch) || ctx.Err() != nil {
			return err
		}

		r.node.logger.Warn("Bootstrap node failed, trying next", pkg.Fields{"bootstrap": addr, "error": err})
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}

	if len(errs) == 0 {
		return fmt.Errorf("no bootstrap address other than this node")
	}
	return fmt.Errorf("could not join ring: %w", errors.Join(errs...))
}

// Lookup returns the node responsible for key.
func (r *Ring) Lookup(ctx context.Context, key string) (*NodeAddress, error) {
	owner, _, err := r.LookupWithHops(ctx, key)
	return owner, err
}

// LookupWithHops returns the node responsible for key and the number of
// forwards the lookup took. A lookup that hits the hop limit is retried
// once after a local stabilization pass.
func (r *Ring) LookupWithHops(ctx context.Context, key string) (*NodeAddress, int, error) {
	if key == "" {
		return nil, 0, ErrEmptyKey
	}

	id := r.node.Space().HashString(key)

	owner, hops, err := r.node.FindSuccessor(ctx, id, 0)
	if errors.Is(err, ErrLookupHopLimitExceeded) {
		r.node.logger.Warn("Lookup hit hop limit, stabilizing and retrying", pkg.Fields{"key": key})
		if serr := r.node.Stabilize(ctx); serr != nil {
			r.node.logger.Debug("Stabilization pass reported errors", pkg.Fields{"error": serr})
		}
		owner, hops, err = r.node.FindSuccessor(ctx, id, 0)
	}
	if err != nil {
		return nil, hops, err
	}
	return owner, hops, nil
}

// Get reads key from its owner.
func (r *Ring) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return r.node.Get(ctx, key)
}

// Put writes key on its owner.
func (r *Ring) Put(ctx context.Context, key string, value []byte) error {
	return r.node.Put(ctx, key, value)
}

// Delete removes key from its owner.
func (r *Ring) Delete(ctx context.Context, key string) error {
	return r.node.Delete(ctx, key)
}

// Leave departs gracefully.
func (r *Ring) Leave(ctx context.Context) error {
	return r.node.Leave(ctx)
}
