package chord

import (
	"sort"
	"sync"

	"github.com/zde37/chordring/pkg/hash"
)

// SuccessorList keeps up to capacity nodes that follow the owner on the
// ring, nearest first, without duplicates. The owner appears only when it
// is the sole member.
type SuccessorList struct {
	owner    *NodeAddress
	space    *hash.Space
	capacity int

	mu    sync.RWMutex
	nodes []*NodeAddress
}

// NewSuccessorList returns a list holding only the owner.
func NewSuccessorList(owner *NodeAddress, space *hash.Space, capacity int) *SuccessorList {
	if capacity < 1 {
		capacity = 1
	}
	sl := &SuccessorList{
		owner:    owner.Copy(),
		space:    space,
		capacity: capacity,
	}
	sl.nodes = []*NodeAddress{sl.owner.Copy()}
	return sl
}

// Capacity returns r.
func (sl *SuccessorList) Capacity() int {
	return sl.capacity
}

// First returns the immediate successor.
func (sl *SuccessorList) First() *NodeAddress {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.nodes[0].Copy()
}

// List returns a copy of the list.
func (sl *SuccessorList) List() []*NodeAddress {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return copyNodes(sl.nodes)
}

// Len returns the number of entries.
func (sl *SuccessorList) Len() int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return len(sl.nodes)
}

// Contains reports whether node is in the list.
func (sl *SuccessorList) Contains(node *NodeAddress) bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	for _, n := range sl.nodes {
		if n.Equals(node) {
			return true
		}
	}
	return false
}

// SetFirst makes node the immediate successor, keeping the rest of the
// list where still valid.
func (sl *SuccessorList) SetFirst(node *NodeAddress) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.nodes = sl.normalize(append([]*NodeAddress{node}, sl.nodes...), node)
}

// Replace rebuilds the list as succ followed by the successor's own list.
// Entries at or past the owner are dropped. It reports whether the list changed.
func (sl *SuccessorList) Replace(succ *NodeAddress, remote []*NodeAddress) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	next := sl.normalize(append([]*NodeAddress{succ}, remote...), succ)
	changed := !sameNodes(next, sl.nodes)
	sl.nodes = next
	return changed
}

// Remove drops node from the list and returns the new head.
func (sl *SuccessorList) Remove(node *NodeAddress) *NodeAddress {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	kept := make([]*NodeAddress, 0, len(sl.nodes))
	for _, n := range sl.nodes {
		if !n.Equals(node) {
			kept = append(kept, n)
		}
	}
	sl.nodes = sl.normalize(kept, nil)
	return sl.nodes[0].Copy()
}

// Reset makes the owner its own sole successor.
func (sl *SuccessorList) Reset() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.nodes = []*NodeAddress{sl.owner.Copy()}
}

// normalize orders candidates by clockwise distance from the owner, drops
// duplicates and the owner, and caps the list at capacity. head, when
// set, is kept first even if a closer node appears later.
func (sl *SuccessorList) normalize(candidates []*NodeAddress, head *NodeAddress) []*NodeAddress {
	seen := make(map[string]bool)
	var out []*NodeAddress
	for _, c := range candidates {
		if c.IsNil() || c.Key() == sl.owner.Key() || seen[c.Key()] {
			continue
		}
		seen[c.Key()] = true
		out = append(out, c.Copy())
	}

	if head.IsNil() || head.Equals(sl.owner) {
		head = nil
	}

	sort.SliceStable(out, func(i, j int) bool {
		if head != nil {
			if out[i].Equals(head) {
				return !out[j].Equals(head)
			}
			if out[j].Equals(head) {
				return false
			}
		}
		return sl.space.Distance(sl.owner.ID, out[i].ID).Cmp(sl.space.Distance(sl.owner.ID, out[j].ID)) < 0
	})

	// Past the head, keep only nodes that lie beyond it; anything between
	// the owner and the head is stale and stabilization will adopt it.
	if head != nil {
		trimmed := out[:1]
		for _, n := range out[1:] {
			if sl.space.Between(n.ID, head.ID, sl.owner.ID) {
				trimmed = append(trimmed, n)
			}
		}
		out = trimmed
	}

	if len(out) > sl.capacity {
		out = out[:sl.capacity]
	}
	if len(out) == 0 {
		return []*NodeAddress{sl.owner.Copy()}
	}
	return out
}

func copyNodes(nodes []*NodeAddress) []*NodeAddress {
	out := make([]*NodeAddress, len(nodes))
	for i, n := range nodes {
		out[i] = n.Copy()
	}
	return out
}

func sameNodes(a, b []*NodeAddress) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}
