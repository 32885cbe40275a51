package directory

import (
	"fmt"

	"github.com/sarchlab/cohsim/mem/geometry"
)

// Builder can build directories together with their evict buffers.
type Builder struct {
	region           bool
	victimPolicy     string
	numSets          int
	associativity    int
	blockSize        uint64
	regionSize       uint64
	evictBufferSize  int
	evictBufferRsv   int
	numBanks         int
	bankInterleaving uint64
	numNodes         int
}

// MakeBuilder creates a builder for a flat, 1024-set, 8-way directory of
// 64B blocks with a 16-entry evict buffer.
func MakeBuilder() Builder {
	return Builder{
		victimPolicy:    FewestSharers,
		numSets:         1024,
		associativity:   8,
		blockSize:       64,
		regionSize:      1024,
		evictBufferSize: 16,
		numBanks:        1,
		numNodes:        16,
	}
}

// WithFlat builds a directory with one entry per block.
func (b Builder) WithFlat() Builder {
	b.region = false
	return b
}

// WithRegion builds a directory with one entry per region of regionSize
// bytes.
func (b Builder) WithRegion(regionSize uint64) Builder {
	b.region = true
	b.regionSize = regionSize

	return b
}

// WithVictimPolicy selects the victim policy of a flat directory.
func (b Builder) WithVictimPolicy(policy string) Builder {
	b.victimPolicy = policy
	return b
}

// WithNumSets sets the number of sets per bank.
func (b Builder) WithNumSets(n int) Builder {
	b.numSets = n
	return b
}

// WithAssociativity sets the number of ways per set.
func (b Builder) WithAssociativity(n int) Builder {
	b.associativity = n
	return b
}

// WithBlockSize sets the coherence granularity in bytes.
func (b Builder) WithBlockSize(blockSize uint64) Builder {
	b.blockSize = blockSize
	return b
}

// WithEvictBufferSize sets the number of evict buffer entries and how many
// of them are held back for reservations.
func (b Builder) WithEvictBufferSize(size, reserve int) Builder {
	b.evictBufferSize = size
	b.evictBufferRsv = reserve

	return b
}

// WithBanks interleaves the directory across banks. The set index skips the
// bank-select bits.
func (b Builder) WithBanks(numBanks int, interleaving uint64) Builder {
	b.numBanks = numBanks
	b.bankInterleaving = interleaving

	return b
}

// WithNumNodes sets the number of nodes that can share a block.
func (b Builder) WithNumNodes(n int) Builder {
	b.numNodes = n
	return b
}

// Build builds a directory. It panics if the configuration is invalid.
func (b Builder) Build(name string) Store {
	granularity := b.blockSize
	if b.region {
		granularity = b.regionSize
	}

	layout, err := geometry.New(geometry.Config{
		Granularity:      granularity,
		NumSets:          b.numSets,
		Associativity:    b.associativity,
		Banks:            b.numBanks,
		BankInterleaving: b.bankInterleaving,
	})
	if err != nil {
		panic(fmt.Sprintf("directory %s: %v", name, err))
	}

	b.mustBeValid(name)

	if b.region {
		eb := NewRegionEvictBuffer(name+".EvictBuffer",
			b.evictBufferSize, b.regionSize)
		b.reserve(eb)

		return NewRegionDirectory(name, layout, b.blockSize, eb)
	}

	eb := NewFlatEvictBuffer(name+".EvictBuffer", b.evictBufferSize)
	b.reserve(eb)

	return NewFlatDirectory(name, layout, b.numNodes, b.victimPolicy, eb)
}

func (b Builder) reserve(eb EvictBuffer) {
	if b.evictBufferRsv == 0 {
		return
	}

	err := eb.Reserve(b.evictBufferRsv)
	if err != nil {
		panic(err)
	}
}

func (b Builder) mustBeValid(name string) {
	if !geometry.IsPowerOfTwo(b.blockSize) {
		panic(fmt.Sprintf("directory %s: block size %d is not a power of two",
			name, b.blockSize))
	}

	if b.region && b.regionSize < b.blockSize {
		panic(fmt.Sprintf("directory %s: region %d is smaller than block %d",
			name, b.regionSize, b.blockSize))
	}

	if !b.region && b.victimPolicy != FewestSharers &&
		b.victimPolicy != InvalidLRU {
		panic(fmt.Sprintf("directory %s: unknown victim policy %q",
			name, b.victimPolicy))
	}

	if b.evictBufferSize <= b.evictBufferRsv {
		panic(fmt.Sprintf("directory %s: evict buffer of %d entries "+
			"cannot reserve %d", name, b.evictBufferSize, b.evictBufferRsv))
	}

	if b.numNodes <= 0 {
		panic(fmt.Sprintf("directory %s: needs at least one node", name))
	}
}
