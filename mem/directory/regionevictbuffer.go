package directory

import (
	"fmt"
	"log"
	"sort"

	"github.com/sarchlab/cohsim/mem/coherence"
)

type regionEBBlock struct {
	addr           uint64
	sharers        coherence.SharerSet
	invalidateSent int
}

type regionEBEntry struct {
	region             uint64
	blocks             []regionEBBlock
	invalidatesPending int
	owner              int
	revokeSent         bool
}

func (e *regionEBEntry) blockIndex(addr uint64) int {
	for i := range e.blocks {
		if e.blocks[i].addr == addr {
			return i
		}
	}

	return -1
}

func (e *regionEBEntry) done() bool {
	return len(e.blocks) == 0 && e.owner == coherence.NoNode
}

// RegionEvictBuffer holds regions displaced from a region directory. Each
// region keeps the blocks that still have sharers, sorted by address.
type RegionEvictBuffer struct {
	name       string
	size       int
	reserved   int
	regionSize uint64
	entries    []*regionEBEntry
}

// NewRegionEvictBuffer creates a buffer for size regions of regionSize
// bytes.
func NewRegionEvictBuffer(
	name string,
	size int,
	regionSize uint64,
) *RegionEvictBuffer {
	if size <= 0 {
		log.Panicf("evict buffer %s must have a positive size", name)
	}

	return &RegionEvictBuffer{
		name:       name,
		size:       size,
		regionSize: regionSize,
	}
}

func (b *RegionEvictBuffer) regionOf(addr uint64) uint64 {
	return addr &^ (b.regionSize - 1)
}

func (b *RegionEvictBuffer) indexOf(addr uint64) int {
	region := b.regionOf(addr)

	for i, e := range b.entries {
		if e.region == region {
			return i
		}
	}

	return -1
}

func (b *RegionEvictBuffer) findBlock(addr uint64) (*regionEBEntry, int) {
	i := b.indexOf(addr)
	if i < 0 {
		return nil, -1
	}

	e := b.entries[i]

	return e, e.blockIndex(addr)
}

// InsertRegion buffers a displaced region. blocks maps block addresses to
// their sharers. A region without sharers and without owner is not
// buffered. A region that is still buffered from an earlier eviction absorbs
// the new state.
func (b *RegionEvictBuffer) InsertRegion(
	region uint64,
	blocks map[uint64]coherence.SharerSet,
	owner int,
) {
	if i := b.indexOf(region); i >= 0 {
		b.merge(b.entries[i], blocks, owner)
		return
	}

	e := &regionEBEntry{region: region, owner: coherence.NoNode}
	b.merge(e, blocks, owner)

	if e.done() {
		return
	}

	if len(b.entries) >= b.size {
		log.Panicf("evict buffer %s: inserting %#x into a full buffer",
			b.name, region)
	}

	b.entries = append(b.entries, e)
}

func (b *RegionEvictBuffer) merge(
	e *regionEBEntry,
	blocks map[uint64]coherence.SharerSet,
	owner int,
) {
	for addr, sharers := range blocks {
		if sharers.Empty() {
			continue
		}

		j := e.blockIndex(addr)
		if j < 0 {
			e.blocks = append(e.blocks, regionEBBlock{
				addr:    addr,
				sharers: sharers.Clone(),
			})

			continue
		}

		for _, n := range sharers.List() {
			e.blocks[j].sharers.Add(n)
		}
	}

	if owner != coherence.NoNode && e.owner == coherence.NoNode {
		e.owner = owner
		e.revokeSent = false
	}

	sort.Slice(e.blocks, func(i, j int) bool {
		return e.blocks[i].addr < e.blocks[j].addr
	})
}

func (b *RegionEvictBuffer) snapshot(
	e *regionEBEntry,
	blk regionEBBlock,
) EvictEntry {
	return EvictEntry{
		Address:         blk.addr,
		Sharers:         blk.sharers.Clone(),
		InvalidatesSent: blk.invalidateSent,
		Owner:           e.owner,
	}
}

// Find returns the buffered state of the block at addr.
func (b *RegionEvictBuffer) Find(addr uint64) (EvictEntry, bool) {
	e, j := b.findBlock(addr)
	if j < 0 {
		return EvictEntry{}, false
	}

	return b.snapshot(e, e.blocks[j]), true
}

// FindRegion returns the owner and the buffered blocks of the region that
// contains addr, ordered by address.
func (b *RegionEvictBuffer) FindRegion(addr uint64) (
	owner int,
	blocks []EvictEntry,
	found bool,
) {
	i := b.indexOf(addr)
	if i < 0 {
		return coherence.NoNode, nil, false
	}

	e := b.entries[i]
	for _, blk := range e.blocks {
		blocks = append(blocks, b.snapshot(e, blk))
	}

	return e.owner, blocks, true
}

// InvalidatesPending returns true if invalidates were issued for addr.
func (b *RegionEvictBuffer) InvalidatesPending(addr uint64) bool {
	e, j := b.findBlock(addr)
	return j >= 0 && e.blocks[j].invalidateSent > 0
}

func (b *RegionEvictBuffer) removeBlock(i, j int) {
	e := b.entries[i]

	if e.blocks[j].invalidateSent > 0 {
		e.invalidatesPending--
	}

	e.blocks = append(e.blocks[:j], e.blocks[j+1:]...)

	b.eraseIfDone(i)
}

func (b *RegionEvictBuffer) eraseIfDone(i int) {
	if b.entries[i].done() {
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
	}
}

// Remove drops the block at addr.
func (b *RegionEvictBuffer) Remove(addr uint64) {
	i := b.indexOf(addr)
	if i < 0 {
		return
	}

	j := b.entries[i].blockIndex(addr)
	if j >= 0 {
		b.removeBlock(i, j)
	}
}

// RemoveSharer removes node from the block at addr and drops the block once
// no sharer remains. The region leaves the buffer when its last block is gone
// and it has no owner.
func (b *RegionEvictBuffer) RemoveSharer(addr uint64, node int) (bool, error) {
	i := b.indexOf(addr)
	if i < 0 {
		return false, fmt.Errorf("%s: %#x: %w", b.name, addr, ErrNotBuffered)
	}

	e := b.entries[i]

	j := e.blockIndex(addr)
	if j < 0 {
		return false, fmt.Errorf("%s: block %#x: %w",
			b.name, addr, ErrNotBuffered)
	}

	e.blocks[j].sharers.Remove(node)

	if !e.blocks[j].sharers.Empty() {
		return false, nil
	}

	b.removeBlock(i, j)

	return true, nil
}

// OldestRequiringInvalidates returns the oldest block without invalidates in
// a region that has no owner.
func (b *RegionEvictBuffer) OldestRequiringInvalidates() (EvictEntry, bool) {
	for _, e := range b.entries {
		if e.owner != coherence.NoNode ||
			e.invalidatesPending >= len(e.blocks) {
			continue
		}

		for _, blk := range e.blocks {
			if blk.invalidateSent == 0 {
				return b.snapshot(e, blk), true
			}
		}
	}

	return EvictEntry{}, false
}

// MarkInvalidatesSent records that every sharer of addr was invalidated.
func (b *RegionEvictBuffer) MarkInvalidatesSent(addr uint64) {
	e, j := b.findBlock(addr)
	if j < 0 {
		log.Panicf("evict buffer %s: invalidating %#x which is not buffered",
			b.name, addr)
	}

	if e.blocks[j].invalidateSent == 0 {
		e.invalidatesPending++
	}

	e.blocks[j].invalidateSent = e.blocks[j].sharers.Count()
}

// OldestRequiringRevoke returns the oldest region whose owner has not been
// asked to give up ownership.
func (b *RegionEvictBuffer) OldestRequiringRevoke() (EvictEntry, bool) {
	for _, e := range b.entries {
		if e.owner != coherence.NoNode && !e.revokeSent {
			return EvictEntry{Address: e.region, Owner: e.owner}, true
		}
	}

	return EvictEntry{}, false
}

// MarkRevokeSent records that the owner of the region was asked to give up
// ownership.
func (b *RegionEvictBuffer) MarkRevokeSent(regionAddr uint64) {
	i := b.indexOf(regionAddr)
	if i < 0 || b.entries[i].owner == coherence.NoNode {
		log.Panicf("evict buffer %s: revoking %#x which has no owner",
			b.name, regionAddr)
	}

	b.entries[i].revokeSent = true
}

// RevokePending returns true if a revoke for the region of addr is in
// flight.
func (b *RegionEvictBuffer) RevokePending(addr uint64) bool {
	i := b.indexOf(addr)
	return i >= 0 && b.entries[i].revokeSent
}

// CompleteRevoke clears the owner of the region of addr.
func (b *RegionEvictBuffer) CompleteRevoke(addr uint64) error {
	i := b.indexOf(addr)
	if i < 0 || !b.entries[i].revokeSent {
		return fmt.Errorf("%s: revoke of %#x: %w", b.name, addr,
			ErrNotBuffered)
	}

	b.entries[i].owner = coherence.NoNode
	b.entries[i].revokeSent = false
	b.eraseIfDone(i)

	return nil
}

// ReclaimRegion hands the blocks of the region of addr that are not waiting
// for acks back to the caller, together with the owner if no revoke is in
// flight. Reclaimed state leaves the buffer.
func (b *RegionEvictBuffer) ReclaimRegion(addr uint64) (
	blocks map[uint64]coherence.SharerSet,
	owner int,
) {
	owner = coherence.NoNode

	i := b.indexOf(addr)
	if i < 0 {
		return nil, owner
	}

	e := b.entries[i]
	blocks = make(map[uint64]coherence.SharerSet)
	kept := e.blocks[:0]

	for _, blk := range e.blocks {
		if blk.invalidateSent > 0 {
			kept = append(kept, blk)
			continue
		}

		blocks[blk.addr] = blk.sharers
	}

	e.blocks = kept

	if !e.revokeSent {
		owner = e.owner
		e.owner = coherence.NoNode
	}

	b.eraseIfDone(i)

	return blocks, owner
}

// IdleWorkReady returns true if a revoke or an invalidate can be issued.
func (b *RegionEvictBuffer) IdleWorkReady() bool {
	for _, e := range b.entries {
		if e.owner != coherence.NoNode && !e.revokeSent {
			return true
		}

		if e.owner == coherence.NoNode &&
			e.invalidatesPending < len(e.blocks) {
			return true
		}
	}

	return false
}

// FreeSlotsPending returns true if some region waits only for acks.
func (b *RegionEvictBuffer) FreeSlotsPending() bool {
	for _, e := range b.entries {
		if e.revokeSent || e.invalidatesPending > 0 {
			return true
		}
	}

	return false
}

// Empty returns true if nothing is buffered.
func (b *RegionEvictBuffer) Empty() bool {
	return len(b.entries) == 0
}

// Full returns true if the buffer cannot take another region while keeping
// the reserved entries available.
func (b *RegionEvictBuffer) Full() bool {
	return len(b.entries)+b.reserved >= b.size
}

// Reserve holds n entries.
func (b *RegionEvictBuffer) Reserve(n int) error {
	if len(b.entries)+b.reserved+n > b.size {
		return fmt.Errorf("evict buffer %s: cannot reserve %d entries",
			b.name, n)
	}

	b.reserved += n

	return nil
}

// Unreserve releases n reserved entries.
func (b *RegionEvictBuffer) Unreserve(n int) {
	if n > b.reserved {
		log.Panicf("evict buffer %s: unreserving %d of %d reserved entries",
			b.name, n, b.reserved)
	}

	b.reserved -= n
}

// Size returns the capacity in regions.
func (b *RegionEvictBuffer) Size() int {
	return b.size
}

// Used returns the number of buffered regions.
func (b *RegionEvictBuffer) Used() int {
	return len(b.entries)
}

// Reserved returns the number of reserved entries.
func (b *RegionEvictBuffer) Reserved() int {
	return b.reserved
}

// Invalidates returns how many blocks wait for acks.
func (b *RegionEvictBuffer) Invalidates() int {
	n := 0
	for _, e := range b.entries {
		n += e.invalidatesPending
	}

	return n
}

// ListInvalidates returns the block addresses waiting for acks.
func (b *RegionEvictBuffer) ListInvalidates() []uint64 {
	var addrs []uint64

	for _, e := range b.entries {
		for _, blk := range e.blocks {
			if blk.invalidateSent > 0 {
				addrs = append(addrs, blk.addr)
			}
		}
	}

	return addrs
}
