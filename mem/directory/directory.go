// Package directory tracks which nodes share which blocks. It provides a
// flat directory with one entry per block, a region directory with one entry
// per group of contiguous blocks, and the evict buffers that hold displaced
// entries until their sharers have been invalidated.
package directory

import (
	"errors"
	"io"

	"github.com/sarchlab/cohsim/mem/coherence"
)

// Victim policies of the flat directory.
const (
	FewestSharers = "fewest-sharers"
	InvalidLRU    = "invalid-lru"
)

// ErrNotBuffered is returned when an evict buffer operation names an address
// that the buffer does not hold.
var ErrNotBuffered = errors.New("address is not in the evict buffer")

// A Store is a directory organized as an associative cache.
type Store interface {
	// Name returns the name of the directory.
	Name() string

	// BlockAddress aligns addr to the block granularity used as the key of
	// every per-block operation.
	BlockAddress(addr uint64) uint64

	// Lookup finds the entry of addr. It never changes the directory.
	Lookup(addr uint64) Handle

	// Allocate creates an entry for addr with initial sharers. The handle
	// must come from a lookup of addr that did not find an entry. It returns
	// false without changing anything if no victim can be displaced right
	// now. On success the handle refers to the new entry.
	Allocate(h Handle, addr uint64, initial coherence.SharerSet) bool

	// SameSet returns true if a and b compete for the same set.
	SameSet(a, b uint64) bool

	// EvictBuffer returns the buffer that receives displaced entries.
	EvictBuffer() EvictBuffer

	// Save writes the directory content.
	Save(w io.Writer) error

	// Load replaces the directory content with a saved checkpoint.
	Load(r io.Reader) error
}

// A Handle is a short-lived lease on a directory entry. A handle panics if
// the entry it refers to has been replaced since the lookup.
type Handle interface {
	// Found returns true if the lookup found an entry.
	Found() bool

	// Address returns the block address the handle was looked up with.
	Address() uint64

	// Sharers returns a copy of the sharers of the block.
	Sharers() coherence.SharerSet

	// Protected returns true if the block is pinned against replacement.
	Protected() bool

	SetProtected(protected bool)
	AddSharer(node int)
	RemoveSharer(node int)

	// SetSharer makes node the only sharer.
	SetSharer(node int)

	SetSharers(sharers coherence.SharerSet)
}

// EvictEntry is a snapshot of one block held by an evict buffer.
type EvictEntry struct {
	Address uint64
	Sharers coherence.SharerSet

	// InvalidatesSent is the number of invalidates issued for the block,
	// zero while none have been issued.
	InvalidatesSent int

	// Owner is the exclusive owner of the enclosing region, or
	// coherence.NoNode.
	Owner int
}

// InvalidatesPending returns true if invalidates have been issued.
func (e EvictEntry) InvalidatesPending() bool {
	return e.InvalidatesSent > 0
}

// An EvictBuffer holds displaced directory state until every sharer has
// acknowledged its invalidation.
type EvictBuffer interface {
	// Find returns the buffered state of the block at addr.
	Find(addr uint64) (EvictEntry, bool)

	// InvalidatesPending returns true if addr is buffered and waits for
	// invalidate acknowledgements.
	InvalidatesPending(addr uint64) bool

	// Remove drops the block at addr, typically because the directory took
	// it back. It is a no-op if the block is not buffered.
	Remove(addr uint64)

	// RemoveSharer removes node from the buffered block. It returns true if
	// the block left the buffer because no sharer remained.
	RemoveSharer(addr uint64, node int) (drained bool, err error)

	// OldestRequiringInvalidates returns the oldest block for which no
	// invalidate has been issued.
	OldestRequiringInvalidates() (EvictEntry, bool)

	// MarkInvalidatesSent records that every sharer of addr was sent an
	// invalidate.
	MarkInvalidatesSent(addr uint64)

	// OldestRequiringRevoke returns the oldest region whose owner has not
	// been asked to give up ownership. The Address is the region address.
	OldestRequiringRevoke() (EvictEntry, bool)

	// MarkRevokeSent records that the owner of the region was asked to give
	// up ownership.
	MarkRevokeSent(regionAddr uint64)

	// RevokePending returns true if the owner of the region that contains
	// addr was asked to give up ownership and has not answered yet.
	RevokePending(addr uint64) bool

	// CompleteRevoke clears the owner of the region that contains addr.
	CompleteRevoke(addr uint64) error

	// IdleWorkReady returns true if invalidates or revokes are waiting to be
	// issued.
	IdleWorkReady() bool

	// FreeSlotsPending returns true if an entry is waiting for acks and
	// will leave the buffer without further work.
	FreeSlotsPending() bool

	Empty() bool
	Full() bool
	Reserve(n int) error
	Unreserve(n int)
	Size() int
	Used() int
	Reserved() int

	// Invalidates returns how many entries are waiting for acks.
	Invalidates() int

	// ListInvalidates returns the addresses waiting for acks.
	ListInvalidates() []uint64
}
