package directory

import (
	"fmt"
	"log"

	"github.com/sarchlab/cohsim/mem/coherence"
)

type flatEBEntry struct {
	addr            uint64
	sharers         coherence.SharerSet
	invalidatesSent int
}

// FlatEvictBuffer holds blocks displaced from a flat directory, oldest
// first.
type FlatEvictBuffer struct {
	name               string
	size               int
	reserved           int
	entries            []flatEBEntry
	pendingInvalidates int
}

// NewFlatEvictBuffer creates an evict buffer with size entries.
func NewFlatEvictBuffer(name string, size int) *FlatEvictBuffer {
	if size <= 0 {
		log.Panicf("evict buffer %s must have a positive size", name)
	}

	return &FlatEvictBuffer{name: name, size: size}
}

func (b *FlatEvictBuffer) indexOf(addr uint64) int {
	for i := range b.entries {
		if b.entries[i].addr == addr {
			return i
		}
	}

	return -1
}

// Insert buffers the sharers of a displaced block.
func (b *FlatEvictBuffer) Insert(addr uint64, sharers coherence.SharerSet) {
	if b.indexOf(addr) >= 0 {
		log.Panicf("evict buffer %s: %#x inserted twice", b.name, addr)
	}

	if len(b.entries) >= b.size {
		log.Panicf("evict buffer %s: inserting %#x into a full buffer",
			b.name, addr)
	}

	b.entries = append(b.entries, flatEBEntry{
		addr:    addr,
		sharers: sharers.Clone(),
	})
}

func (b *FlatEvictBuffer) snapshot(e flatEBEntry) EvictEntry {
	return EvictEntry{
		Address:         e.addr,
		Sharers:         e.sharers.Clone(),
		InvalidatesSent: e.invalidatesSent,
		Owner:           coherence.NoNode,
	}
}

// Find returns the buffered state of addr.
func (b *FlatEvictBuffer) Find(addr uint64) (EvictEntry, bool) {
	i := b.indexOf(addr)
	if i < 0 {
		return EvictEntry{}, false
	}

	return b.snapshot(b.entries[i]), true
}

// InvalidatesPending returns true if invalidates were issued for addr.
func (b *FlatEvictBuffer) InvalidatesPending(addr uint64) bool {
	i := b.indexOf(addr)
	return i >= 0 && b.entries[i].invalidatesSent > 0
}

func (b *FlatEvictBuffer) removeAt(i int) {
	if b.entries[i].invalidatesSent > 0 {
		b.pendingInvalidates--
	}

	b.entries = append(b.entries[:i], b.entries[i+1:]...)
}

// Remove drops addr from the buffer.
func (b *FlatEvictBuffer) Remove(addr uint64) {
	i := b.indexOf(addr)
	if i >= 0 {
		b.removeAt(i)
	}
}

// RemoveSharer removes node from the sharers of addr and drops the entry once
// no sharer remains.
func (b *FlatEvictBuffer) RemoveSharer(addr uint64, node int) (bool, error) {
	i := b.indexOf(addr)
	if i < 0 {
		return false, fmt.Errorf("%s: %#x: %w", b.name, addr, ErrNotBuffered)
	}

	b.entries[i].sharers.Remove(node)

	if !b.entries[i].sharers.Empty() {
		return false, nil
	}

	b.removeAt(i)

	return true, nil
}

// OldestRequiringInvalidates returns the oldest entry without invalidates.
func (b *FlatEvictBuffer) OldestRequiringInvalidates() (EvictEntry, bool) {
	for _, e := range b.entries {
		if e.invalidatesSent == 0 {
			return b.snapshot(e), true
		}
	}

	return EvictEntry{}, false
}

// MarkInvalidatesSent records that every sharer of addr was invalidated.
func (b *FlatEvictBuffer) MarkInvalidatesSent(addr uint64) {
	i := b.indexOf(addr)
	if i < 0 {
		log.Panicf("evict buffer %s: invalidating %#x which is not buffered",
			b.name, addr)
	}

	if b.entries[i].invalidatesSent == 0 {
		b.pendingInvalidates++
	}

	b.entries[i].invalidatesSent = b.entries[i].sharers.Count()
}

// OldestRequiringRevoke always returns false; flat entries have no owner.
func (b *FlatEvictBuffer) OldestRequiringRevoke() (EvictEntry, bool) {
	return EvictEntry{}, false
}

// MarkRevokeSent panics; flat entries have no owner.
func (b *FlatEvictBuffer) MarkRevokeSent(regionAddr uint64) {
	log.Panicf("evict buffer %s: revoking %#x in a flat buffer",
		b.name, regionAddr)
}

// RevokePending always returns false; flat entries have no owner.
func (b *FlatEvictBuffer) RevokePending(addr uint64) bool {
	return false
}

// CompleteRevoke returns an error; flat entries have no owner.
func (b *FlatEvictBuffer) CompleteRevoke(addr uint64) error {
	return fmt.Errorf("%s: revoke of %#x: %w", b.name, addr, ErrNotBuffered)
}

// IdleWorkReady returns true if some entry needs invalidates.
func (b *FlatEvictBuffer) IdleWorkReady() bool {
	return len(b.entries) > b.pendingInvalidates
}

// FreeSlotsPending returns true if some entry waits for acks.
func (b *FlatEvictBuffer) FreeSlotsPending() bool {
	return b.pendingInvalidates > 0
}

// Empty returns true if nothing is buffered.
func (b *FlatEvictBuffer) Empty() bool {
	return len(b.entries) == 0
}

// Full returns true if the buffer cannot take another entry while keeping
// the reserved entries available.
func (b *FlatEvictBuffer) Full() bool {
	return len(b.entries)+b.reserved >= b.size
}

// Reserve holds n entries.
func (b *FlatEvictBuffer) Reserve(n int) error {
	if len(b.entries)+b.reserved+n > b.size {
		return fmt.Errorf("evict buffer %s: cannot reserve %d entries",
			b.name, n)
	}

	b.reserved += n

	return nil
}

// Unreserve releases n reserved entries.
func (b *FlatEvictBuffer) Unreserve(n int) {
	if n > b.reserved {
		log.Panicf("evict buffer %s: unreserving %d of %d reserved entries",
			b.name, n, b.reserved)
	}

	b.reserved -= n
}

// Size returns the capacity.
func (b *FlatEvictBuffer) Size() int {
	return b.size
}

// Used returns the number of buffered entries.
func (b *FlatEvictBuffer) Used() int {
	return len(b.entries)
}

// Reserved returns the number of reserved entries.
func (b *FlatEvictBuffer) Reserved() int {
	return b.reserved
}

// Invalidates returns how many entries wait for acks.
func (b *FlatEvictBuffer) Invalidates() int {
	return b.pendingInvalidates
}

// ListInvalidates returns the addresses waiting for acks, oldest first.
func (b *FlatEvictBuffer) ListInvalidates() []uint64 {
	var addrs []uint64

	for _, e := range b.entries {
		if e.invalidatesSent > 0 {
			addrs = append(addrs, e.addr)
		}
	}

	return addrs
}
