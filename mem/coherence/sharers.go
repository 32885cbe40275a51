package coherence

import (
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// A SharerSet records which nodes hold a copy of a block. The zero value is
// an empty set. Copying a SharerSet shares its storage; use Clone to obtain
// an independent copy.
type SharerSet struct {
	bits *bitset.BitSet
}

// NewSharerSet returns an empty set sized for numNodes nodes.
func NewSharerSet(numNodes int) SharerSet {
	return SharerSet{bits: bitset.New(uint(numNodes))}
}

// SharersOf returns a set that contains the given nodes.
func SharersOf(nodes ...int) SharerSet {
	s := SharerSet{}
	for _, n := range nodes {
		s.Add(n)
	}

	return s
}

// Add inserts a node.
func (s *SharerSet) Add(node int) {
	if s.bits == nil {
		s.bits = bitset.New(uint(node + 1))
	}

	s.bits.Set(uint(node))
}

// Remove deletes a node. Removing an absent node has no effect.
func (s *SharerSet) Remove(node int) {
	if s.bits == nil {
		return
	}

	s.bits.Clear(uint(node))
}

// Only makes node the single member of the set.
func (s *SharerSet) Only(node int) {
	s.Clear()
	s.Add(node)
}

// Clear removes every node.
func (s *SharerSet) Clear() {
	if s.bits != nil {
		s.bits.ClearAll()
	}
}

// Has returns true if node is in the set.
func (s SharerSet) Has(node int) bool {
	if s.bits == nil || node < 0 {
		return false
	}

	return s.bits.Test(uint(node))
}

// Count returns the number of nodes in the set.
func (s SharerSet) Count() int {
	if s.bits == nil {
		return 0
	}

	return int(s.bits.Count())
}

// Empty returns true if no node is in the set.
func (s SharerSet) Empty() bool {
	return s.Count() == 0
}

// First returns the lowest numbered node, or -1 if the set is empty.
func (s SharerSet) First() int {
	if s.bits == nil {
		return -1
	}

	i, ok := s.bits.NextSet(0)
	if !ok {
		return -1
	}

	return int(i)
}

// List returns the nodes in ascending order.
func (s SharerSet) List() []int {
	return s.Others(-1)
}

// Others returns the nodes in ascending order, leaving out exclude.
func (s SharerSet) Others(exclude int) []int {
	var nodes []int

	if s.bits == nil {
		return nodes
	}

	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		if int(i) != exclude {
			nodes = append(nodes, int(i))
		}
	}

	return nodes
}

// Clone returns an independent copy.
func (s SharerSet) Clone() SharerSet {
	if s.bits == nil {
		return SharerSet{}
	}

	return SharerSet{bits: s.bits.Clone()}
}

// Equal returns true if both sets hold the same nodes.
func (s SharerSet) Equal(o SharerSet) bool {
	a := s.List()
	b := o.List()

	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// String formats the set as {a,b,c}.
func (s SharerSet) String() string {
	nodes := s.List()
	parts := make([]string, len(nodes))

	for i, n := range nodes {
		parts[i] = strconv.Itoa(n)
	}

	return "{" + strings.Join(parts, ",") + "}"
}
