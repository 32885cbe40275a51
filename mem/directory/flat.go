package directory

import (
	"log"

	"github.com/sarchlab/cohsim/mem/cache/replacement"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/geometry"
)

type flatEntry struct {
	tag       uint64
	valid     bool
	sharers   coherence.SharerSet
	protected bool
	gen       uint64
}

// FlatDirectory keeps one entry per block.
type FlatDirectory struct {
	name         string
	layout       geometry.Layout
	numNodes     int
	victimPolicy string
	sets         [][]flatEntry
	recency      []replacement.Policy
	eb           *FlatEvictBuffer
}

// NewFlatDirectory creates an empty flat directory. Entries displaced with
// sharers are moved into eb.
func NewFlatDirectory(
	name string,
	layout geometry.Layout,
	numNodes int,
	victimPolicy string,
	eb *FlatEvictBuffer,
) *FlatDirectory {
	if victimPolicy != FewestSharers && victimPolicy != InvalidLRU {
		log.Panicf("directory %s: unknown victim policy %q",
			name, victimPolicy)
	}

	d := &FlatDirectory{
		name:         name,
		layout:       layout,
		numNodes:     numNodes,
		victimPolicy: victimPolicy,
		sets:         make([][]flatEntry, layout.NumSets()),
		recency:      make([]replacement.Policy, layout.NumSets()),
		eb:           eb,
	}

	for i := range d.sets {
		d.sets[i] = make([]flatEntry, layout.Associativity())

		repl, err := replacement.New(replacement.LRU, layout.Associativity())
		if err != nil {
			log.Panicf("directory %s: %v", name, err)
		}

		d.recency[i] = repl
	}

	return d
}

// Name returns the name of the directory.
func (d *FlatDirectory) Name() string {
	return d.name
}

// Layout returns the address layout.
func (d *FlatDirectory) Layout() geometry.Layout {
	return d.layout
}

// BlockAddress aligns addr to a block.
func (d *FlatDirectory) BlockAddress(addr uint64) uint64 {
	return d.layout.Tag(addr)
}

// EvictBuffer returns the buffer that receives displaced entries.
func (d *FlatDirectory) EvictBuffer() EvictBuffer {
	return d.eb
}

// SameSet returns true if a and b compete for the same set.
func (d *FlatDirectory) SameSet(a, b uint64) bool {
	return d.layout.SameSet(a, b)
}

// Lookup finds the entry of addr.
func (d *FlatDirectory) Lookup(addr uint64) Handle {
	tag := d.layout.Tag(addr)
	setID := d.layout.SetIndex(addr)

	for way, e := range d.sets[setID] {
		if e.valid && e.tag == tag {
			return &flatHandle{
				dir:   d,
				addr:  tag,
				set:   setID,
				way:   way,
				gen:   e.gen,
				found: true,
			}
		}
	}

	return &flatHandle{dir: d, addr: tag, set: setID, way: -1}
}

// Allocate creates an entry for addr.
func (d *FlatDirectory) Allocate(
	h Handle,
	addr uint64,
	initial coherence.SharerSet,
) bool {
	fh := d.mustOwn(h)
	if fh.found || fh.addr != d.layout.Tag(addr) {
		log.Panicf("directory %s: allocating %#x with lookup of %#x",
			d.name, addr, fh.addr)
	}

	way := d.pickVictim(fh.set)
	if way < 0 {
		return false
	}

	e := &d.sets[fh.set][way]
	if e.valid && !e.sharers.Empty() {
		if d.eb.Full() {
			return false
		}

		d.eb.Insert(e.tag, e.sharers)
	}

	e.tag = fh.addr
	e.valid = true
	e.sharers = initial.Clone()
	e.protected = false
	e.gen++

	d.recency[fh.set].RecordAccess(way)

	fh.way = way
	fh.gen = e.gen
	fh.found = true

	return true
}

func (d *FlatDirectory) pickVictim(setID int) int {
	set := d.sets[setID]

	switch d.victimPolicy {
	case InvalidLRU:
		way := d.recency[setID].PickVictim(func(w int) bool {
			return !set[w].protected &&
				(!set[w].valid || set[w].sharers.Empty())
		})
		if way >= 0 {
			return way
		}

		return d.recency[setID].PickVictim(func(w int) bool {
			return !set[w].protected
		})
	default:
		victim := -1
		fewest := 0

		for w, e := range set {
			if e.protected {
				continue
			}

			n := e.sharers.Count()
			if !e.valid {
				n = -1
			}

			if victim < 0 || n < fewest {
				victim = w
				fewest = n
			}
		}

		return victim
	}
}

// Sharers returns the sharers of addr, or an empty set if the directory has
// no entry for it.
func (d *FlatDirectory) Sharers(addr uint64) coherence.SharerSet {
	h := d.Lookup(addr)
	if !h.Found() {
		return coherence.SharerSet{}
	}

	return h.Sharers()
}

// Visit calls fn for every valid entry.
func (d *FlatDirectory) Visit(fn func(addr uint64, sharers coherence.SharerSet)) {
	for s := range d.sets {
		for _, e := range d.sets[s] {
			if e.valid {
				fn(e.tag, e.sharers.Clone())
			}
		}
	}
}

func (d *FlatDirectory) mustOwn(h Handle) *flatHandle {
	fh, ok := h.(*flatHandle)
	if !ok || fh.dir != d {
		log.Panicf("directory %s: foreign handle", d.name)
	}

	return fh
}

func (d *FlatDirectory) entryOf(h *flatHandle) *flatEntry {
	if !h.found {
		log.Panicf("directory %s: %#x has no entry", d.name, h.addr)
	}

	e := &d.sets[h.set][h.way]
	if e.gen != h.gen {
		log.Panicf("directory %s: stale handle of %#x", d.name, h.addr)
	}

	return e
}

type flatHandle struct {
	dir   *FlatDirectory
	addr  uint64
	set   int
	way   int
	gen   uint64
	found bool
}

func (h *flatHandle) Found() bool {
	return h.found
}

func (h *flatHandle) Address() uint64 {
	return h.addr
}

func (h *flatHandle) Sharers() coherence.SharerSet {
	return h.dir.entryOf(h).sharers.Clone()
}

func (h *flatHandle) Protected() bool {
	return h.dir.entryOf(h).protected
}

func (h *flatHandle) SetProtected(protected bool) {
	h.dir.entryOf(h).protected = protected

	if protected {
		h.dir.recency[h.set].RecordAccess(h.way)
	}
}

func (h *flatHandle) AddSharer(node int) {
	h.dir.entryOf(h).sharers.Add(node)
}

func (h *flatHandle) RemoveSharer(node int) {
	h.dir.entryOf(h).sharers.Remove(node)
}

func (h *flatHandle) SetSharer(node int) {
	e := h.dir.entryOf(h)
	e.sharers = coherence.SharersOf(node)
}

func (h *flatHandle) SetSharers(sharers coherence.SharerSet) {
	h.dir.entryOf(h).sharers = sharers.Clone()
}
