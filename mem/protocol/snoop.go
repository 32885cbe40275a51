package protocol

import (
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/maf"
	"github.com/sarchlab/cohsim/tracing"
)

// HandleSnoop processes an eviction reported by the node msg.Requester.
// Evictions of dirty blocks are always written back to memory.
func (e *Engine) HandleSnoop(msg coherence.Msg) Process {
	if !msg.Kind.IsEvict() {
		e.fatal(msg, "not an eviction")
	}

	msg.Address = e.store.BlockAddress(msg.Address)
	if msg.ID == "" {
		msg.ID = e.ids.Generate()
	}

	tracing.TraceReqReceive(msg, e)
	defer tracing.TraceReqComplete(msg, e)

	p := Process{Type: ProcessSnoop}

	if e.writeResolving(msg.Address) {
		tracing.TraceReqStep(msg, e, "suppress")
		p.Action = ActionSuppress
	} else {
		ack := e.newMsg(coherence.EvictAck, msg.Address, msg.Requester)
		ack.Dest = coherence.ToRequester

		p.Action = ActionAck
		p.Out = append(p.Out, ack)

		e.removeEvictedSharer(msg)
	}

	if msg.Kind == coherence.EvictDirty {
		p.Out = append(p.Out, e.writeback(msg))
	}

	return p
}

// writeResolving returns true if a write or upgrade of addr waits for its
// ack. The write will set the sharers when it completes.
func (e *Engine) writeResolving(addr uint64) bool {
	for _, entryID := range e.maf.FindAll(addr, maf.WaitAck) {
		entry, _ := e.maf.Entry(entryID)

		switch entry.Msg.Kind {
		case coherence.WriteReq, coherence.UpgradeReq:
			return true
		}
	}

	return false
}

func (e *Engine) removeEvictedSharer(msg coherence.Msg) {
	addr := msg.Address

	if _, buffered := e.eb.Find(addr); buffered {
		// A back invalidate is on its way to the evictor, whose ack drains
		// the entry.
		if e.eb.InvalidatesPending(addr) {
			return
		}

		drained, err := e.eb.RemoveSharer(addr, msg.Requester)
		if err != nil {
			e.fatal(msg, "%v", err)
		}

		if drained {
			e.wakeAfterDrain(addr)
		}

		return
	}

	h := e.store.Lookup(addr)
	if !h.Found() {
		// The evictor's back invalidate ack overtook the eviction and
		// drained the buffer.
		tracing.TraceReqStep(msg, e, "stale")
		return
	}

	h.RemoveSharer(msg.Requester)
}

func (e *Engine) writeback(msg coherence.Msg) coherence.Msg {
	wb := e.derive(msg, coherence.EvictDirty)
	wb.Dest = coherence.ToMemory

	return wb
}
