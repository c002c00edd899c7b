package chord

import (
	"math/big"
	"sync"

	"github.com/zde37/chordring/pkg/hash"
)

// FingerTable holds m routing entries for its owner. Entry i points at the
// first known node at or after (owner + 2^i) mod 2^m. Entries may be stale;
// lookups tolerate that and stabilization repairs it.
type FingerTable struct {
	owner   *NodeAddress
	space   *hash.Space
	mu      sync.RWMutex
	entries []*FingerEntry
	next    int
}

// NewFingerTable creates a table whose entries all point at initial.
func NewFingerTable(owner *NodeAddress, space *hash.Space, initial *NodeAddress) *FingerTable {
	ft := &FingerTable{
		owner:   owner.Copy(),
		space:   space,
		entries: make([]*FingerEntry, space.M()),
	}
	ft.Reset(initial)
	return ft
}

// Size returns m.
func (ft *FingerTable) Size() int {
	return len(ft.entries)
}

// Start returns the interval start of entry i.
func (ft *FingerTable) Start(i int) *big.Int {
	return ft.space.AddPowerOfTwo(ft.owner.ID, i)
}

// Reset points every entry at node.
func (ft *FingerTable) Reset(node *NodeAddress) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	for i := range ft.entries {
		ft.entries[i] = NewFingerEntry(ft.Start(i), node)
	}
	ft.next = 0
}

// Get returns a copy of entry i, or nil when out of range.
func (ft *FingerTable) Get(i int) *FingerEntry {
	if i < 0 || i >= len(ft.entries) {
		return nil
	}

	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return ft.entries[i].Copy()
}

// Set points entry i at node.
func (ft *FingerTable) Set(i int, node *NodeAddress) {
	if i < 0 || i >= len(ft.entries) || node.IsNil() {
		return
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.entries[i] = NewFingerEntry(ft.Start(i), node)
}

// NextIndex returns the next entry to refresh, cycling through 0..m-1.
func (ft *FingerTable) NextIndex() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	i := ft.next
	ft.next = (ft.next + 1) % len(ft.entries)
	return i
}

// Entries returns a copy of all entries.
func (ft *FingerTable) Entries() []*FingerEntry {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	out := make([]*FingerEntry, len(ft.entries))
	for i, e := range ft.entries {
		out[i] = e.Copy()
	}
	return out
}

// ClosestPreceding scans from the farthest entry down and returns the first
// node strictly inside (owner, id). It returns the owner when none is.
func (ft *FingerTable) ClosestPreceding(id *big.Int) *NodeAddress {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	for i := len(ft.entries) - 1; i >= 0; i-- {
		e := ft.entries[i]
		if e.IsNil() {
			continue
		}
		if ft.space.Between(e.Node.ID, ft.owner.ID, id) {
			return e.Node.Copy()
		}
	}
	return ft.owner.Copy()
}

// Candidates returns the distinct finger nodes strictly inside (owner, id).
func (ft *FingerTable) Candidates(id *big.Int) []*NodeAddress {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	var out []*NodeAddress
	seen := make(map[string]bool)
	for i := len(ft.entries) - 1; i >= 0; i-- {
		e := ft.entries[i]
		if e.IsNil() || seen[e.Node.Key()] {
			continue
		}
		if ft.space.Between(e.Node.ID, ft.owner.ID, id) {
			seen[e.Node.Key()] = true
			out = append(out, e.Node.Copy())
		}
	}
	return out
}

// Evict repoints every entry that references node at replacement (usually
// the current successor) and returns how many entries changed.
func (ft *FingerTable) Evict(node, replacement *NodeAddress) int {
	if node.IsNil() {
		return 0
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	changed := 0
	for i, e := range ft.entries {
		if e != nil && e.Node.Equals(node) {
			ft.entries[i] = NewFingerEntry(ft.Start(i), replacement)
			changed++
		}
	}
	return changed
}
