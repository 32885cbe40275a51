package harness

import (
	"log"

	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/sim/id"
)

// MemoryStats counts the requests memory served.
type MemoryStats struct {
	Reads      uint64
	Writes     uint64
	NAS        uint64
	Writebacks uint64
}

type delayedMsg struct {
	readyAt uint64
	msg     coherence.Msg
}

// Memory is an ideal memory that answers every request after a fixed
// latency.
type Memory struct {
	name    string
	latency uint64
	ids     id.IDGenerator
	pending []delayedMsg
	outbox  []coherence.Msg
	stats   MemoryStats
}

// NewMemory creates a memory that answers latency cycles after delivery.
func NewMemory(name string, latency uint64) *Memory {
	return &Memory{
		name:    name,
		latency: latency,
		ids:     id.NewSequentialGenerator(name),
	}
}

// Name returns the name of the memory.
func (m *Memory) Name() string {
	return m.name
}

// Stats returns the counters of the memory.
func (m *Memory) Stats() MemoryStats {
	return m.stats
}

// Deliver queues msg for an answer at cycle now plus the latency.
func (m *Memory) Deliver(msg coherence.Msg, now uint64) {
	m.pending = append(m.pending, delayedMsg{
		readyAt: now + m.latency,
		msg:     msg,
	})
}

// Idle returns true if no request waits for an answer.
func (m *Memory) Idle() bool {
	return len(m.pending) == 0 && len(m.outbox) == 0
}

// Tick answers every request that is due.
func (m *Memory) Tick(now uint64) {
	kept := m.pending[:0]

	for _, d := range m.pending {
		if d.readyAt > now {
			kept = append(kept, d)
			continue
		}

		m.serve(d.msg)
	}

	m.pending = kept
}

func (m *Memory) serve(msg coherence.Msg) {
	switch msg.Kind {
	case coherence.ReadReq, coherence.FetchReq:
		m.stats.Reads++
		m.reply(coherence.Data, msg)
	case coherence.WriteReq:
		m.stats.Writes++
		m.reply(coherence.Data, msg)
	case coherence.NonAllocatingStoreReq:
		m.stats.NAS++
		m.reply(coherence.NASAck, msg)
	case coherence.EvictDirty:
		m.stats.Writebacks++
	default:
		log.Panicf("%s: cannot serve %s", m.name, msg)
	}
}

func (m *Memory) reply(kind coherence.MsgKind, req coherence.Msg) {
	rsp := coherence.NewMsg(kind, req.Address, req.Requester)
	rsp.ID = m.ids.Generate()
	rsp.Dest = coherence.ToRequester

	m.outbox = append(m.outbox, rsp)
}

// TakeOutbox returns and clears the answers memory wants to send.
func (m *Memory) TakeOutbox() []coherence.Msg {
	out := m.outbox
	m.outbox = nil

	return out
}
