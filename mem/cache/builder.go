package cache

import (
	"fmt"

	"github.com/sarchlab/cohsim/mem/cache/replacement"
	"github.com/sarchlab/cohsim/mem/geometry"
)

// Builder can build cache arrays.
type Builder struct {
	log2BlockSize     int
	wayAssociativity  int
	byteSize          uint64
	numBanks          int
	bankInterleaving  uint64
	numGroups         int
	groupInterleaving uint64
	replaceStrategy   string
	lockedThreshold   int
}

// MakeBuilder creates a new builder with a 16KB, 4-way, 64B-block, LRU
// array.
func MakeBuilder() Builder {
	return Builder{
		log2BlockSize:    6,
		wayAssociativity: 4,
		byteSize:         16 * 1024,
		numBanks:         1,
		numGroups:        1,
		replaceStrategy:  replacement.LRU,
	}
}

// WithLog2BlockSize sets the log2 of the block size.
func (b Builder) WithLog2BlockSize(log2BlockSize int) Builder {
	b.log2BlockSize = log2BlockSize
	return b
}

// WithWayAssociativity sets the number of ways per set.
func (b Builder) WithWayAssociativity(wayAssociativity int) Builder {
	b.wayAssociativity = wayAssociativity
	return b
}

// WithByteSize sets the capacity of the array. Combined with the block size
// and the associativity it determines the number of sets.
func (b Builder) WithByteSize(byteSize uint64) Builder {
	b.byteSize = byteSize
	return b
}

// WithBanks splits the array into banks interleaved every interleaving
// bytes. The set index skips the bank-select bits.
func (b Builder) WithBanks(numBanks int, interleaving uint64) Builder {
	b.numBanks = numBanks
	b.bankInterleaving = interleaving
	return b
}

// WithGroups groups banks, interleaved every interleaving bytes.
func (b Builder) WithGroups(numGroups int, interleaving uint64) Builder {
	b.numGroups = numGroups
	b.groupInterleaving = interleaving
	return b
}

// WithReplaceStrategy selects "lru" or "plru".
func (b Builder) WithReplaceStrategy(strategy string) Builder {
	b.replaceStrategy = strategy
	return b
}

// WithLockedThreshold sets the locked-block threshold per set.
func (b Builder) WithLockedThreshold(threshold int) Builder {
	b.lockedThreshold = threshold
	return b
}

// Build builds an array. It panics if the configuration is invalid.
func (b Builder) Build(name string) *Array {
	layout, err := geometry.New(b.geometryConfig())
	if err != nil {
		panic(fmt.Sprintf("cache %s: %v", name, err))
	}

	b.mustBeKnownStrategy()

	a := NewArray(name, layout, b.replaceStrategy)
	a.SetLockedThreshold(b.lockedThreshold)

	return a
}

func (b Builder) geometryConfig() geometry.Config {
	blockSize := uint64(1) << b.log2BlockSize
	b.mustBeFullSets(blockSize)

	return geometry.Config{
		Granularity:       blockSize,
		NumSets:           int(b.byteSize / (blockSize * uint64(b.wayAssociativity))),
		Associativity:     b.wayAssociativity,
		Banks:             b.numBanks,
		BankInterleaving:  b.bankInterleaving,
		Groups:            b.numGroups,
		GroupInterleaving: b.groupInterleaving,
	}
}

func (b Builder) mustBeKnownStrategy() {
	switch b.replaceStrategy {
	case replacement.LRU, replacement.PLRU:
	default:
		panic("unknown replace strategy: " + b.replaceStrategy)
	}
}

func (b Builder) mustBeFullSets(blockSize uint64) {
	if b.wayAssociativity <= 0 {
		panic("cache must have at least one way")
	}

	setSize := blockSize * uint64(b.wayAssociativity)
	if b.byteSize == 0 || b.byteSize%setSize != 0 {
		panic("cache must have a integer number of sets")
	}
}
