// Package cache provides the set-associative block array that backs private
// caches. The array only keeps address and state bookkeeping; coherence is
// decided by its owner.
package cache

import (
	"log"

	"github.com/sarchlab/cohsim/mem/cache/replacement"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/geometry"
)

// A Block of a cache is the information that is associated with a cache line.
type Block struct {
	Tag        uint64
	State      coherence.State
	Protected  bool
	Locked     bool
	Prefetched bool

	gen uint64
}

// A Set is a list of blocks where a certain piece of memory can be stored.
type Set struct {
	Blocks      []Block
	Replacement replacement.Policy
}

// Victim is the previous content of a slot that has been retagged.
type Victim struct {
	Address uint64
	State   coherence.State
}

// LookupResult is the outcome of a lookup. When the tag was found it also
// serves as a handle to the slot, valid until the slot is retagged.
type LookupResult struct {
	Hit     bool
	Address uint64
	State   coherence.State

	set int
	way int
	gen uint64
}

// Found returns true if a slot with the tag exists, even if it is invalid.
func (r LookupResult) Found() bool {
	return r.way >= 0
}

// Array is a set-associative array of blocks.
type Array struct {
	name            string
	layout          geometry.Layout
	policy          string
	sets            []Set
	lockedThreshold int
}

// NewArray creates an array with every block invalid.
func NewArray(name string, layout geometry.Layout, policy string) *Array {
	a := &Array{
		name:   name,
		layout: layout,
		policy: policy,
		sets:   make([]Set, layout.NumSets()),
	}

	for i := range a.sets {
		repl, err := replacement.New(policy, layout.Associativity())
		if err != nil {
			log.Panicf("cache %s: %v", name, err)
		}

		a.sets[i] = Set{
			Blocks:      make([]Block, layout.Associativity()),
			Replacement: repl,
		}
	}

	return a
}

// Name returns the name of the array.
func (a *Array) Name() string {
	return a.name
}

// Layout returns the address layout.
func (a *Array) Layout() geometry.Layout {
	return a.layout
}

// NumSets returns the number of sets.
func (a *Array) NumSets() int {
	return a.layout.NumSets()
}

// Associativity returns the number of ways per set.
func (a *Array) Associativity() int {
	return a.layout.Associativity()
}

// Lookup finds the block of addr. It never changes the array.
func (a *Array) Lookup(addr uint64) LookupResult {
	tag := a.layout.Tag(addr)
	setID := a.layout.SetIndex(addr)
	set := &a.sets[setID]

	result := LookupResult{Address: tag, set: setID, way: -1}

	for way, block := range set.Blocks {
		if block.Tag != tag {
			continue
		}

		if block.State.IsValid() {
			return LookupResult{
				Hit:     true,
				Address: tag,
				State:   block.State,
				set:     setID,
				way:     way,
				gen:     block.gen,
			}
		}

		if result.way < 0 {
			result.way = way
			result.gen = block.gen
		}
	}

	return result
}

// Allocate makes room for addr. On a hit it only records the access. On a
// miss it reuses the slot found by the lookup or evicts a victim, and the
// slot is retagged to addr in state. The returned Victim is meaningful only
// if the bool is true. The lookup result is updated to refer to the slot.
func (a *Array) Allocate(
	lookup *LookupResult,
	addr uint64,
	state coherence.State,
) (Victim, bool) {
	a.mustMatchLookup(lookup, addr)

	if lookup.Hit {
		a.RecordAccess(*lookup)
		return Victim{}, false
	}

	set := &a.sets[lookup.set]
	way := lookup.way

	if way < 0 {
		way = set.Replacement.PickVictim(func(w int) bool {
			b := set.Blocks[w]
			return !b.Protected && !b.Locked
		})

		if way < 0 {
			log.Panicf("cache %s: no replacement victim for %#x in set %d",
				a.name, addr, lookup.set)
		}
	} else {
		a.mustBeCurrent(*lookup)
	}

	return a.retag(lookup, way, state)
}

// ReplaceLocked evicts a locked but unprotected block of the set of addr and
// retags it to addr.
func (a *Array) ReplaceLocked(
	lookup *LookupResult,
	addr uint64,
	state coherence.State,
) (Victim, bool) {
	a.mustMatchLookup(lookup, addr)

	set := &a.sets[lookup.set]

	way := a.pickLockedVictim(set)
	if way < 0 {
		log.Panicf("cache %s: no locked victim for %#x in set %d",
			a.name, addr, lookup.set)
	}

	return a.retag(lookup, way, state)
}

func (a *Array) retag(
	lookup *LookupResult,
	way int,
	state coherence.State,
) (Victim, bool) {
	set := &a.sets[lookup.set]
	block := &set.Blocks[way]

	victim := Victim{Address: block.Tag, State: block.State}
	evicted := block.State.IsValid() && block.Tag != lookup.Address

	block.Tag = lookup.Address
	block.State = state
	block.Protected = false
	block.Locked = false
	block.Prefetched = false
	block.gen++

	set.Replacement.RecordAccess(way)

	lookup.Hit = state.IsValid()
	lookup.State = state
	lookup.way = way
	lookup.gen = block.gen

	return victim, evicted
}

func (a *Array) pickLockedVictim(set *Set) int {
	return set.Replacement.PickVictim(func(w int) bool {
		b := set.Blocks[w]
		return b.Locked && !b.Protected
	})
}

// RecordAccess updates recency and reports whether the order changed.
func (a *Array) RecordAccess(lookup LookupResult) bool {
	a.mustBeCurrent(lookup)

	return a.sets[lookup.set].Replacement.RecordAccess(lookup.way)
}

// InvalidateBlock marks the block invalid and makes it the next victim. The
// tag is kept so that a later allocation of the same address reuses the slot.
func (a *Array) InvalidateBlock(lookup LookupResult) {
	a.mustBeCurrent(lookup)

	set := &a.sets[lookup.set]
	block := &set.Blocks[lookup.way]
	block.State = coherence.Invalid
	block.Protected = false
	block.Locked = false
	block.Prefetched = false

	set.Replacement.Invalidate(lookup.way)
}

// Block returns a copy of the block a lookup refers to.
func (a *Array) Block(lookup LookupResult) Block {
	a.mustBeCurrent(lookup)
	return a.sets[lookup.set].Blocks[lookup.way]
}

// SetState changes the state of the block.
func (a *Array) SetState(lookup LookupResult, state coherence.State) {
	a.blockOf(lookup).State = state
}

// SetProtected pins or unpins the block against replacement.
func (a *Array) SetProtected(lookup LookupResult, protected bool) {
	a.blockOf(lookup).Protected = protected
}

// SetLocked locks or unlocks the block.
func (a *Array) SetLocked(lookup LookupResult, locked bool) {
	a.blockOf(lookup).Locked = locked
}

// SetPrefetched marks whether the block was brought in by a prefetch.
func (a *Array) SetPrefetched(lookup LookupResult, prefetched bool) {
	a.blockOf(lookup).Prefetched = prefetched
}

func (a *Array) blockOf(lookup LookupResult) *Block {
	a.mustBeCurrent(lookup)
	return &a.sets[lookup.set].Blocks[lookup.way]
}

// VictimAvailable returns true if a miss on addr can be allocated now.
func (a *Array) VictimAvailable(addr uint64) bool {
	set := &a.sets[a.layout.SetIndex(addr)]

	for _, b := range set.Blocks {
		if b.Tag == a.layout.Tag(addr) {
			return true
		}
	}

	return set.Replacement.PickVictim(func(w int) bool {
		b := set.Blocks[w]
		return !b.Protected && !b.Locked
	}) >= 0
}

// LockedVictimAvailable returns true if the set of addr holds a locked block
// that may be replaced.
func (a *Array) LockedVictimAvailable(addr uint64) bool {
	return a.pickLockedVictim(&a.sets[a.layout.SetIndex(addr)]) >= 0
}

// AlmostFull returns true if at least maxLocked blocks of the set of addr are
// locked.
func (a *Array) AlmostFull(addr uint64, maxLocked int) bool {
	locked := 0

	for _, b := range a.sets[a.layout.SetIndex(addr)].Blocks {
		if b.Locked {
			locked++
		}
	}

	return locked >= maxLocked
}

// SetLockedThreshold sets the number of locked blocks per set at which
// OverLockedThreshold reports true. A threshold of 0 disables the check;
// any other threshold must be below the associativity.
func (a *Array) SetLockedThreshold(threshold int) {
	if threshold < 0 || (threshold > 0 && threshold >= a.Associativity()) {
		log.Panicf("cache %s: locked threshold %d must be between 1 and %d",
			a.name, threshold, a.Associativity()-1)
	}

	a.lockedThreshold = threshold
}

// OverLockedThreshold applies AlmostFull with the configured threshold. It
// is always false if no threshold was set.
func (a *Array) OverLockedThreshold(addr uint64) bool {
	if a.lockedThreshold <= 0 {
		return false
	}

	return a.AlmostFull(addr, a.lockedThreshold)
}

// SameSet returns true if a and b map to the same set.
func (a *Array) SameSet(addrA, addrB uint64) bool {
	return a.layout.SameSet(addrA, addrB)
}

// SetTags returns the tags of the valid blocks in the set of addr.
func (a *Array) SetTags(addr uint64) []uint64 {
	var tags []uint64

	for _, b := range a.sets[a.layout.SetIndex(addr)].Blocks {
		if b.State.IsValid() {
			tags = append(tags, b.Tag)
		}
	}

	return tags
}

// GlobalSets returns the number of sets across all banks of the layout.
func (a *Array) GlobalSets() int {
	return a.layout.GlobalSets()
}

// Visit calls fn for every valid block.
func (a *Array) Visit(fn func(set, way int, b Block)) {
	for s := range a.sets {
		for w, b := range a.sets[s].Blocks {
			if b.State.IsValid() {
				fn(s, w, b)
			}
		}
	}
}

// Reset invalidates every block.
func (a *Array) Reset() {
	for s := range a.sets {
		for w := range a.sets[s].Blocks {
			a.sets[s].Blocks[w] = Block{gen: a.sets[s].Blocks[w].gen + 1}
		}

		a.sets[s].Replacement.Reset()
	}
}

func (a *Array) mustMatchLookup(lookup *LookupResult, addr uint64) {
	if lookup.Address != a.layout.Tag(addr) {
		log.Panicf("cache %s: lookup of %#x used to allocate %#x",
			a.name, lookup.Address, addr)
	}
}

func (a *Array) mustBeCurrent(lookup LookupResult) {
	if lookup.way < 0 {
		log.Panicf("cache %s: %#x was not found", a.name, lookup.Address)
	}

	block := a.sets[lookup.set].Blocks[lookup.way]
	if block.gen != lookup.gen || block.Tag != lookup.Address {
		log.Panicf("cache %s: stale lookup of %#x", a.name, lookup.Address)
	}
}
