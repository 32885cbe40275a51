package protocol

import (
	"fmt"

	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/directory"
	"github.com/sarchlab/cohsim/mem/maf"
	"github.com/sarchlab/cohsim/sim/id"
	"github.com/sarchlab/cohsim/sim/queueing"
)

// A Builder can build protocol engines and directory banks.
type Builder struct {
	directory         directory.Builder
	mafSize           int
	mafReserve        int
	inboundSize       int
	outboundSize      int
	forwardImpliesAck bool
	idGenerator       id.IDGenerator
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		directory:    directory.MakeBuilder(),
		mafSize:      32,
		inboundSize:  16,
		outboundSize: 16,
	}
}

// WithDirectory sets how the directory of each bank is built.
func (b Builder) WithDirectory(d directory.Builder) Builder {
	b.directory = d
	return b
}

// WithMAFSize sets the number of MAF entries and how many of them are held
// back for internal use.
func (b Builder) WithMAFSize(size, reserve int) Builder {
	b.mafSize = size
	b.mafReserve = reserve

	return b
}

// WithBufferSizes sets the capacity of each inbound buffer and of the
// outbound buffer.
func (b Builder) WithBufferSizes(inbound, outbound int) Builder {
	b.inboundSize = inbound
	b.outboundSize = outbound

	return b
}

// WithForwardImpliesAck makes write forwards count as the target's
// acknowledgement, so the MissNotify asks for one ack less.
func (b Builder) WithForwardImpliesAck(v bool) Builder {
	b.forwardImpliesAck = v
	return b
}

// WithIDGenerator sets the generator of message IDs. By default each engine
// numbers its messages with its name as prefix.
func (b Builder) WithIDGenerator(g id.IDGenerator) Builder {
	b.idGenerator = g
	return b
}

// BuildEngine creates an engine with its own directory, evict buffer, and
// MAF.
func (b Builder) BuildEngine(name string) *Engine {
	if b.mafSize <= b.mafReserve {
		panic(fmt.Sprintf("engine %s: MAF of %d entries cannot reserve %d",
			name, b.mafSize, b.mafReserve))
	}

	store := b.directory.Build(name + ".Directory")

	m := maf.New(name+".MAF", b.mafSize)
	if b.mafReserve > 0 {
		if err := m.Reserve(b.mafReserve); err != nil {
			panic(err)
		}
	}

	ids := b.idGenerator
	if ids == nil {
		ids = id.NewSequentialGenerator(name)
	}

	return &Engine{
		name:              name,
		store:             store,
		eb:                store.EvictBuffer(),
		maf:               m,
		ids:               ids,
		forwardImpliesAck: b.forwardImpliesAck,
	}
}

// Build creates a directory bank.
func (b Builder) Build(name string) *Bank {
	if b.outboundSize < MaxOutPerProcess {
		panic(fmt.Sprintf("bank %s: outbound buffer must hold at least %d "+
			"messages", name, MaxOutPerProcess))
	}

	inbound := queueing.MakeBufferBuilder().WithCapacity(b.inboundSize)
	outbound := queueing.MakeBufferBuilder().WithCapacity(b.outboundSize)

	return &Bank{
		name:     name,
		engine:   b.BuildEngine(name),
		requests: queueing.BuildBuffer[coherence.Msg](inbound, name+".Requests"),
		replies:  queueing.BuildBuffer[coherence.Msg](inbound, name+".Replies"),
		outbound: queueing.BuildBuffer[coherence.Msg](outbound, name+".Outbound"),
	}
}
