package harness

import (
	"fmt"
	"sync"

	"github.com/sarchlab/cohsim/mem/cache"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/directory"
	"github.com/sarchlab/cohsim/mem/geometry"
	"github.com/sarchlab/cohsim/mem/protocol"
	"github.com/sarchlab/cohsim/sim/hooking"
)

// A Builder can build systems.
type Builder struct {
	numNodes      int
	numBanks      int
	interleaving  uint64
	log2BlockSize int
	cache         cache.Builder
	directory     directory.Builder
	protocol      protocol.Builder
	memoryLatency uint64
	parallel      bool
	hooks         []hooking.Hook
}

// MakeBuilder creates a builder for four nodes sharing two banks, with 64B
// blocks and a memory latency of ten cycles.
func MakeBuilder() Builder {
	return Builder{
		numNodes:      4,
		numBanks:      2,
		interleaving:  64,
		log2BlockSize: 6,
		cache:         cache.MakeBuilder(),
		directory:     directory.MakeBuilder(),
		protocol:      protocol.MakeBuilder(),
		memoryLatency: 10,
	}
}

// WithNumNodes sets the number of private caches.
func (b Builder) WithNumNodes(n int) Builder {
	b.numNodes = n
	return b
}

// WithBanks sets the number of directory banks and the address interleaving
// between them.
func (b Builder) WithBanks(n int, interleaving uint64) Builder {
	b.numBanks = n
	b.interleaving = interleaving

	return b
}

// WithLog2BlockSize sets the block size of caches and directories.
func (b Builder) WithLog2BlockSize(log2BlockSize int) Builder {
	b.log2BlockSize = log2BlockSize
	return b
}

// WithCache sets how each private cache is built. The block size is taken
// from the system builder.
func (b Builder) WithCache(c cache.Builder) Builder {
	b.cache = c
	return b
}

// WithDirectory sets how the directory of each bank is built. The block
// size, the banking, and the number of nodes are taken from the system
// builder.
func (b Builder) WithDirectory(d directory.Builder) Builder {
	b.directory = d
	return b
}

// WithProtocol sets how each bank is built.
func (b Builder) WithProtocol(p protocol.Builder) Builder {
	b.protocol = p
	return b
}

// WithMemoryLatency sets how many cycles memory takes to answer.
func (b Builder) WithMemoryLatency(latency uint64) Builder {
	b.memoryLatency = latency
	return b
}

// WithParallel ticks the banks of a cycle in parallel goroutines.
func (b Builder) WithParallel(parallel bool) Builder {
	b.parallel = parallel
	return b
}

// WithHook attaches hook to every node and bank engine.
func (b Builder) WithHook(hook hooking.Hook) Builder {
	b.hooks = append(append([]hooking.Hook(nil), b.hooks...), hook)
	return b
}

// Build creates the system. It panics if the configuration is invalid.
func (b Builder) Build(name string) *System {
	blockSize := uint64(1) << b.log2BlockSize

	router, err := geometry.New(geometry.Config{
		Granularity:      blockSize,
		NumSets:          1,
		Associativity:    1,
		Banks:            b.numBanks,
		BankInterleaving: b.interleaving,
	})
	if err != nil {
		panic(fmt.Sprintf("system %s: %v", name, err))
	}

	if b.numNodes <= 0 {
		panic(fmt.Sprintf("system %s: needs at least one node", name))
	}

	s := &System{
		name:     name,
		router:   router,
		memory:   NewMemory(name+".Memory", b.memoryLatency),
		requests: make([][]coherence.Msg, b.numBanks),
		replies:  make([][]coherence.Msg, b.numBanks),
		parallel: b.parallel,
	}
	s.resume = sync.NewCond(&s.pauseLock)

	cacheBuilder := b.cache.WithLog2BlockSize(b.log2BlockSize)
	for i := 0; i < b.numNodes; i++ {
		n := NewNode(i, cacheBuilder.Build(fmt.Sprintf("%s.Node%d", name, i)))
		for _, h := range b.hooks {
			n.AcceptHook(h)
		}

		s.nodes = append(s.nodes, n)
	}

	dirBuilder := b.directory.
		WithBlockSize(blockSize).
		WithBanks(b.numBanks, b.interleaving).
		WithNumNodes(b.numNodes)
	bankBuilder := b.protocol.WithDirectory(dirBuilder)

	for i := 0; i < b.numBanks; i++ {
		bank := bankBuilder.Build(fmt.Sprintf("%s.Bank%d", name, i))
		for _, h := range b.hooks {
			bank.Engine().AcceptHook(h)
		}

		s.banks = append(s.banks, bank)
	}

	return s
}
