package protocol

import (
	"log"

	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/maf"
	"github.com/sarchlab/cohsim/sim/queueing"
)

// Stats counts the work of a bank.
type Stats struct {
	Requests uint64
	Snoops   uint64
	Replies  uint64
	WakeUps  uint64
	IdleWork uint64
	Stalls   uint64
}

// A Bank is one directory slice. Requests and evictions share an inbound
// buffer so that a node's eviction is never overtaken by its next request.
// Replies use their own buffer and always make progress.
type Bank struct {
	name     string
	engine   *Engine
	requests *queueing.Buffer[coherence.Msg]
	replies  *queueing.Buffer[coherence.Msg]
	outbound *queueing.Buffer[coherence.Msg]
	stats    Stats
}

// Name returns the name of the bank.
func (b *Bank) Name() string {
	return b.name
}

// Engine returns the protocol engine of the bank.
func (b *Bank) Engine() *Engine {
	return b.engine
}

// MAF returns the miss address file of the engine.
func (b *Bank) MAF() *maf.MAF {
	return b.engine.MAF()
}

// Stats returns the counters of the bank.
func (b *Bank) Stats() Stats {
	return b.stats
}

// Requests returns the buffer of incoming requests and evictions.
func (b *Bank) Requests() *queueing.Buffer[coherence.Msg] {
	return b.requests
}

// Replies returns the buffer of incoming replies.
func (b *Bank) Replies() *queueing.Buffer[coherence.Msg] {
	return b.replies
}

// Outbound returns the buffer of messages the bank wants to send.
func (b *Bank) Outbound() *queueing.Buffer[coherence.Msg] {
	return b.outbound
}

func (b *Bank) inboundFor(msg coherence.Msg) *queueing.Buffer[coherence.Msg] {
	switch {
	case msg.Kind.IsRequest(), msg.Kind.IsEvict():
		return b.requests
	case msg.Kind.IsReply():
		return b.replies
	}

	log.Panicf("bank %s cannot receive %s", b.name, msg)

	return nil
}

// CanDeliver returns true if msg fits into its inbound buffer.
func (b *Bank) CanDeliver(msg coherence.Msg) bool {
	return b.inboundFor(msg).CanPush()
}

// Deliver puts msg into its inbound buffer. Delivering to a full buffer
// panics.
func (b *Bank) Deliver(msg coherence.Msg) {
	b.inboundFor(msg).Push(msg)
}

// Quiescent returns true if the bank holds no message, no transaction, and
// no buffered eviction.
func (b *Bank) Quiescent() bool {
	return b.requests.Size() == 0 &&
		b.replies.Size() == 0 &&
		b.outbound.Size() == 0 &&
		b.engine.Quiescent()
}

// Tick does at most one piece of work. Woken MAF entries go first, then
// replies, then requests. Idle work is done when nothing else can proceed,
// or ahead of requests if the evict buffer is full.
func (b *Bank) Tick() bool {
	if !b.outbound.CanPushN(MaxOutPerProcess) {
		b.stats.Stalls++
		return false
	}

	if p, ok := b.engine.HandleWakeMAF(); ok {
		b.stats.WakeUps++
		b.emit(p)

		return true
	}

	if msg, ok := b.replies.Pop(); ok {
		b.stats.Replies++
		b.emit(b.engine.HandleReply(msg))

		return true
	}

	if b.engine.EvictBuffer().Full() && b.doIdleWork() {
		return true
	}

	if b.doRequest() {
		return true
	}

	return b.doIdleWork()
}

func (b *Bank) doRequest() bool {
	msg, ok := b.requests.Peek()
	if !ok {
		return false
	}

	if msg.Kind.IsEvict() {
		b.requests.Pop()
		b.stats.Snoops++
		b.emit(b.engine.HandleSnoop(msg))

		return true
	}

	if b.engine.MAF().Full() {
		b.stats.Stalls++
		return false
	}

	b.requests.Pop()

	p, err := b.engine.HandleRequest(msg)
	if err != nil {
		log.Panicf("bank %s: %v", b.name, err)
	}

	b.stats.Requests++
	b.emit(p)

	return true
}

func (b *Bank) doIdleWork() bool {
	p, ok := b.engine.HandleIdleWork()
	if !ok {
		return false
	}

	b.stats.IdleWork++
	b.emit(p)

	return true
}

func (b *Bank) emit(p Process) {
	for _, msg := range p.Out {
		b.outbound.Push(msg)
	}
}
