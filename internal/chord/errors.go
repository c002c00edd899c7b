package chord

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeUnreachable is returned when an RPC to a node times out or the
	// connection fails. Callers fall back to another routing candidate.
	ErrNodeUnreachable = errors.New("node unreachable")

	// ErrLookupHopLimitExceeded is returned when a lookup is forwarded more
	// times than the configured hop bound. It is retryable after stabilization.
	ErrLookupHopLimitExceeded = errors.New("lookup hop limit exceeded")

	// ErrKeyNotOwned is returned by a node asked to serve a key outside its range.
	ErrKeyNotOwned = errors.New("key not owned by this node")

	// ErrConfigMismatch is returned at join when the bootstrap node runs a
	// different identifier space.
	ErrConfigMismatch = errors.New("ring configuration mismatch")

	// ErrNodeNotRunning is returned by a node that is not serving (idle, leaving or failed).
	ErrNodeNotRunning = errors.New("node not running")

	// ErrEmptyKey is returned for empty user keys.
	ErrEmptyKey = errors.New("key cannot be empty")
)

// StoreError wraps a failure from the Store collaborator unchanged.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsUnreachable reports whether err means the target node could not serve the call.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrNodeUnreachable) || errors.Is(err, ErrNodeNotRunning)
}
