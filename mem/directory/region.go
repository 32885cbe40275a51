package directory

import (
	"log"

	"github.com/bits-and-blooms/bitset"

	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/geometry"
)

type regionEntry struct {
	tag       uint64
	valid     bool
	blocks    []coherence.SharerSet
	protected []bool
	owner     int
	gen       uint64
}

func (e *regionEntry) nonEmptyBlocks() int {
	n := 0
	for _, s := range e.blocks {
		if !s.Empty() {
			n++
		}
	}

	return n
}

func (e *regionEntry) maxSharers() int {
	m := 0
	for _, s := range e.blocks {
		if c := s.Count(); c > m {
			m = c
		}
	}

	return m
}

func (e *regionEntry) anyProtected() bool {
	for _, p := range e.protected {
		if p {
			return true
		}
	}

	return false
}

// claimOwner makes node the owner if it is the only sharer of every live
// block.
func (e *regionEntry) claimOwner(node int) {
	for _, s := range e.blocks {
		if !s.Empty() && (s.Count() != 1 || !s.Has(node)) {
			e.owner = coherence.NoNode
			return
		}
	}

	e.owner = node
}

func (e *regionEntry) empty() bool {
	return !e.valid ||
		(e.nonEmptyBlocks() == 0 && e.owner == coherence.NoNode)
}

func (e *regionEntry) reset(tag uint64) {
	e.tag = tag
	e.valid = true
	e.owner = coherence.NoNode
	e.gen++

	for i := range e.blocks {
		e.blocks[i] = coherence.SharerSet{}
		e.protected[i] = false
	}
}

// RegionDirectory keeps one entry per region of contiguous blocks. Each
// block has its own sharers and protected bit; the region may have an
// exclusive owner.
type RegionDirectory struct {
	name            string
	layout          geometry.Layout
	blockSize       uint64
	blocksPerRegion int
	sets            [][]regionEntry
	eb              *RegionEvictBuffer
}

// NewRegionDirectory creates an empty region directory. The layout
// granularity is the region size.
func NewRegionDirectory(
	name string,
	layout geometry.Layout,
	blockSize uint64,
	eb *RegionEvictBuffer,
) *RegionDirectory {
	regionSize := layout.Granularity()
	if !geometry.IsPowerOfTwo(blockSize) || blockSize > regionSize {
		log.Panicf("directory %s: block size %d does not divide region %d",
			name, blockSize, regionSize)
	}

	d := &RegionDirectory{
		name:            name,
		layout:          layout,
		blockSize:       blockSize,
		blocksPerRegion: int(regionSize / blockSize),
		sets:            make([][]regionEntry, layout.NumSets()),
		eb:              eb,
	}

	for s := range d.sets {
		d.sets[s] = make([]regionEntry, layout.Associativity())
		for w := range d.sets[s] {
			d.sets[s][w] = regionEntry{
				blocks:    make([]coherence.SharerSet, d.blocksPerRegion),
				protected: make([]bool, d.blocksPerRegion),
				owner:     coherence.NoNode,
			}
		}
	}

	return d
}

// Name returns the name of the directory.
func (d *RegionDirectory) Name() string {
	return d.name
}

// Layout returns the address layout.
func (d *RegionDirectory) Layout() geometry.Layout {
	return d.layout
}

// BlocksPerRegion returns the number of blocks in a region.
func (d *RegionDirectory) BlocksPerRegion() int {
	return d.blocksPerRegion
}

// RegionAddress aligns addr to its region.
func (d *RegionDirectory) RegionAddress(addr uint64) uint64 {
	return d.layout.Tag(addr)
}

// BlockAddress aligns addr to a block.
func (d *RegionDirectory) BlockAddress(addr uint64) uint64 {
	return addr &^ (d.blockSize - 1)
}

func (d *RegionDirectory) offset(addr uint64) int {
	return int((addr - d.RegionAddress(addr)) / d.blockSize)
}

// EvictBuffer returns the buffer that receives displaced regions.
func (d *RegionDirectory) EvictBuffer() EvictBuffer {
	return d.eb
}

// SameSet returns true if a and b compete for the same set.
func (d *RegionDirectory) SameSet(a, b uint64) bool {
	return d.layout.SameSet(a, b)
}

// Lookup finds the region entry of addr. The handle refers to the block of
// addr within the region.
func (d *RegionDirectory) Lookup(addr uint64) Handle {
	region := d.RegionAddress(addr)
	setID := d.layout.SetIndex(addr)
	h := &regionHandle{
		dir:    d,
		addr:   d.BlockAddress(addr),
		set:    setID,
		way:    -1,
		offset: d.offset(addr),
	}

	for way, e := range d.sets[setID] {
		if e.valid && e.tag == region {
			h.way = way
			h.gen = e.gen
			h.found = true

			break
		}
	}

	return h
}

// Allocate creates the region entry of addr and sets the sharers of the
// block of addr. A displaced region with sharers or an owner moves into the
// evict buffer. Blocks of the new region that are buffered and not waiting
// for acks are taken back from the buffer; live state wins over buffered
// state.
func (d *RegionDirectory) Allocate(
	h Handle,
	addr uint64,
	initial coherence.SharerSet,
) bool {
	rh := d.mustOwn(h)
	if rh.found || rh.addr != d.BlockAddress(addr) {
		log.Panicf("directory %s: allocating %#x with lookup of %#x",
			d.name, addr, rh.addr)
	}

	way := d.selectVictim(rh.set)
	if way < 0 {
		return false
	}

	e := &d.sets[rh.set][way]
	if !e.empty() {
		if d.eb.Full() && !d.mergesIntoBuffer(e.tag) {
			return false
		}

		d.eb.InsertRegion(e.tag, d.blockMap(e), e.owner)
	}

	e.reset(d.RegionAddress(addr))
	e.blocks[rh.offset] = initial.Clone()

	d.reclaim(e)

	if e.owner == coherence.NoNode && initial.Count() == 1 {
		e.claimOwner(initial.First())
	}

	rh.way = way
	rh.gen = e.gen
	rh.found = true

	return true
}

// mergesIntoBuffer returns true if a displaced region would join an entry
// that the evict buffer already holds and so needs no free slot.
func (d *RegionDirectory) mergesIntoBuffer(region uint64) bool {
	_, _, found := d.eb.FindRegion(region)
	return found
}

// AllocateRegion creates the region entry of addr without touching the
// evict buffer. The displaced region is returned to the caller. It returns
// false if every region of the set is protected. The region of addr must
// not have an entry yet.
func (d *RegionDirectory) AllocateRegion(addr uint64) (
	victim map[uint64]coherence.SharerSet,
	victimOwner int,
	ok bool,
) {
	if d.Lookup(addr).Found() {
		log.Panicf("directory %s: region %#x is already allocated",
			d.name, d.RegionAddress(addr))
	}

	setID := d.layout.SetIndex(addr)

	way := d.selectVictim(setID)
	if way < 0 {
		return nil, coherence.NoNode, false
	}

	e := &d.sets[setID][way]
	victimOwner = coherence.NoNode

	if !e.empty() {
		victim = d.blockMap(e)
		victimOwner = e.owner
	}

	e.reset(d.RegionAddress(addr))

	return victim, victimOwner, true
}

func (d *RegionDirectory) reclaim(e *regionEntry) {
	blocks, owner := d.eb.ReclaimRegion(e.tag)

	for addr, sharers := range blocks {
		off := d.offset(addr)
		if e.blocks[off].Empty() {
			e.blocks[off] = sharers
		}
	}

	if owner != coherence.NoNode && e.owner == coherence.NoNode {
		e.owner = owner
	}
}

func (d *RegionDirectory) blockMap(e *regionEntry) map[uint64]coherence.SharerSet {
	blocks := make(map[uint64]coherence.SharerSet)

	for i, s := range e.blocks {
		if !s.Empty() {
			blocks[e.tag+uint64(i)*d.blockSize] = s.Clone()
		}
	}

	return blocks
}

func (d *RegionDirectory) selectVictim(setID int) int {
	set := d.sets[setID]

	for w := range set {
		if set[w].empty() && !set[w].anyProtected() {
			return w
		}
	}

	victim := -1

	for w := range set {
		if set[w].anyProtected() {
			continue
		}

		if victim < 0 {
			victim = w
			continue
		}

		n, best := set[w].nonEmptyBlocks(), set[victim].nonEmptyBlocks()
		if n < best ||
			(n == best && set[w].maxSharers() < set[victim].maxSharers()) {
			victim = w
		}
	}

	return victim
}

// RegionState returns a copy of the per-block sharers and the owner of the
// region of addr.
func (d *RegionDirectory) RegionState(addr uint64) (
	blocks []coherence.SharerSet,
	owner int,
	found bool,
) {
	h := d.mustOwn(d.Lookup(addr))
	if !h.found {
		return nil, coherence.NoNode, false
	}

	e := d.entryOf(h)
	blocks = make([]coherence.SharerSet, len(e.blocks))

	for i, s := range e.blocks {
		blocks[i] = s.Clone()
	}

	return blocks, e.owner, true
}

// SetRegionSharerState sets the presence of node block by block in the
// region of addr. Bit i of presence says whether node holds block i; bit i
// of exclusive makes node the only sharer of block i. Node becomes the
// region owner when it holds some block exclusively and shares no block
// with another node.
func (d *RegionDirectory) SetRegionSharerState(
	addr uint64,
	node int,
	presence *bitset.BitSet,
	exclusive *bitset.BitSet,
) bool {
	h := d.mustOwn(d.Lookup(addr))
	if !h.found {
		return false
	}

	e := d.entryOf(h)

	for i := range e.blocks {
		switch {
		case !presence.Test(uint(i)):
			e.blocks[i].Remove(node)
		case exclusive.Test(uint(i)):
			e.blocks[i] = coherence.SharersOf(node)
		default:
			e.blocks[i].Add(node)
		}
	}

	switch {
	case exclusive.Intersection(presence).Any():
		e.claimOwner(node)
	case e.owner == node && presence.None(),
		e.owner != node && presence.Any():
		e.owner = coherence.NoNode
	}

	return true
}

// Visit calls fn for every valid region.
func (d *RegionDirectory) Visit(
	fn func(region uint64, blocks []coherence.SharerSet, owner int),
) {
	for s := range d.sets {
		for w := range d.sets[s] {
			e := &d.sets[s][w]
			if !e.valid {
				continue
			}

			blocks := make([]coherence.SharerSet, len(e.blocks))
			for i, b := range e.blocks {
				blocks[i] = b.Clone()
			}

			fn(e.tag, blocks, e.owner)
		}
	}
}

func (d *RegionDirectory) mustOwn(h Handle) *regionHandle {
	rh, ok := h.(*regionHandle)
	if !ok || rh.dir != d {
		log.Panicf("directory %s: foreign handle", d.name)
	}

	return rh
}

func (d *RegionDirectory) entryOf(h *regionHandle) *regionEntry {
	if !h.found {
		log.Panicf("directory %s: %#x has no entry", d.name, h.addr)
	}

	e := &d.sets[h.set][h.way]
	if e.gen != h.gen {
		log.Panicf("directory %s: stale handle of %#x", d.name, h.addr)
	}

	return e
}

type regionHandle struct {
	dir    *RegionDirectory
	addr   uint64
	set    int
	way    int
	offset int
	gen    uint64
	found  bool
}

func (h *regionHandle) Found() bool {
	return h.found
}

func (h *regionHandle) Address() uint64 {
	return h.addr
}

func (h *regionHandle) Sharers() coherence.SharerSet {
	return h.dir.entryOf(h).blocks[h.offset].Clone()
}

func (h *regionHandle) Protected() bool {
	return h.dir.entryOf(h).protected[h.offset]
}

func (h *regionHandle) SetProtected(protected bool) {
	h.dir.entryOf(h).protected[h.offset] = protected
}

func (h *regionHandle) AddSharer(node int) {
	e := h.dir.entryOf(h)
	e.blocks[h.offset].Add(node)

	if e.owner != node {
		e.owner = coherence.NoNode
	}
}

func (h *regionHandle) RemoveSharer(node int) {
	e := h.dir.entryOf(h)
	e.blocks[h.offset].Remove(node)

	if e.nonEmptyBlocks() == 0 {
		e.owner = coherence.NoNode
	}
}

// SetSharer makes node the only sharer of the block. If node then holds
// every live block of the region alone it becomes the region owner.
func (h *regionHandle) SetSharer(node int) {
	e := h.dir.entryOf(h)
	e.blocks[h.offset] = coherence.SharersOf(node)
	e.claimOwner(node)
}

func (h *regionHandle) SetSharers(sharers coherence.SharerSet) {
	e := h.dir.entryOf(h)
	e.blocks[h.offset] = sharers.Clone()

	if e.owner != coherence.NoNode &&
		(sharers.Count() > 1 || (!sharers.Empty() && !sharers.Has(e.owner))) {
		e.owner = coherence.NoNode
	}
}
