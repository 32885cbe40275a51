package protocol

import (
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/maf"
	"github.com/sarchlab/cohsim/tracing"
)

// HandleReply consumes an acknowledgement. Acks of requests carry the
// requester; acks of back invalidates and revokes carry the acknowledging
// node in Other.
func (e *Engine) HandleReply(msg coherence.Msg) Process {
	if !msg.Kind.IsReply() {
		e.fatal(msg, "not a reply")
	}

	msg.Address = e.store.BlockAddress(msg.Address)
	if msg.ID == "" {
		msg.ID = e.ids.Generate()
	}

	tracing.TraceReqReceive(msg, e)
	defer tracing.TraceReqComplete(msg, e)

	var p Process

	switch msg.Kind {
	case coherence.ReadAck, coherence.FetchAck:
		p = e.readAck(msg)
	case coherence.WriteAck, coherence.UpgradeAck:
		p = e.writeAck(msg)
	case coherence.NASAck:
		p = e.nasAck(msg)
	case coherence.FwdNAck:
		p = e.fwdNAck(msg)
	case coherence.InvalidateAck, coherence.InvUpdateAck:
		p = e.invalidateAck(msg)
	case coherence.DowngradeAck:
		p = e.downgradeAck(msg)
	default:
		e.fatal(msg, "unexpected reply")
	}

	p.Type = ProcessReply

	return p
}

func (e *Engine) complete(entryID maf.EntryID) Process {
	entry, _ := e.maf.Entry(entryID)

	e.maf.Remove(entryID)
	tracing.TraceReqComplete(entry.Msg, e)
	e.wakeMAFs(entry.Address)

	return Process{Action: ActionComplete, MAF: entryID}
}

func (e *Engine) readAck(msg coherence.Msg) Process {
	entryID, found := e.maf.FindByRequester(msg.Address, maf.WaitAck,
		msg.Requester)
	if !found {
		e.fatal(msg, "no transaction waits for this ack")
	}

	h := e.store.Lookup(msg.Address)
	if !h.Found() {
		e.fatal(msg, "acked block has no directory entry")
	}

	h.AddSharer(msg.Requester)

	return e.complete(entryID)
}

func (e *Engine) writeAck(msg coherence.Msg) Process {
	entryID, found := e.maf.FindFirst(msg.Address, maf.WaitAck)
	if !found {
		e.fatal(msg, "no transaction waits for this ack")
	}

	entry, _ := e.maf.Entry(entryID)

	want := coherence.WriteReq
	if msg.Kind == coherence.UpgradeAck {
		want = coherence.UpgradeReq
	}

	if entry.Msg.Kind != want || entry.Msg.Requester != msg.Requester {
		e.fatal(msg, "ack does not match pending %s", entry.Msg)
	}

	h := e.store.Lookup(msg.Address)
	if !h.Found() {
		e.fatal(msg, "acked block has no directory entry")
	}

	h.SetSharer(msg.Requester)

	return e.complete(entryID)
}

func (e *Engine) nasAck(msg coherence.Msg) Process {
	entryID, found := e.maf.FindFirst(msg.Address, maf.WaitAck)
	if !found {
		e.fatal(msg, "no transaction waits for this ack")
	}

	entry, _ := e.maf.Entry(entryID)
	if entry.Msg.Kind != coherence.NonAllocatingStoreReq {
		e.fatal(msg, "ack does not match pending %s", entry.Msg)
	}

	return e.complete(entryID)
}

// fwdNAck retries a forward that reached a node without the block. msg.Source
// is the node that refused; it no longer holds the block and is dropped from
// the sharers. A refused read that finds no other sharer waits for a read in
// flight rather than fetching a second exclusive copy from memory.
func (e *Engine) fwdNAck(msg coherence.Msg) Process {
	entryID, found := e.maf.FindByRequester(msg.Address, maf.WaitAck,
		msg.Requester)
	if !found {
		e.fatal(msg, "no transaction waits for this nack")
	}

	entry, _ := e.maf.Entry(entryID)
	req := entry.Msg

	h := e.store.Lookup(msg.Address)
	if !h.Found() {
		e.fatal(msg, "refused block has no directory entry")
	}

	h.RemoveSharer(msg.Source)
	sharers := h.Sharers()

	var out coherence.Msg

	switch {
	case req.Kind.IsRead() && !sharers.Empty():
		req.Source = pickSharer(req, sharers)
		out = e.forwardTo(req, req.Source)
		tracing.TraceReqStep(req, e, "refetch")
	case req.Kind.IsRead() && e.readInFlight(entryID, msg.Address):
		req.Source = coherence.NoNode
		e.maf.SetMsg(entryID, req)

		return e.stall(entryID, req, maf.WaitRequest)
	default:
		req.Source = coherence.NoNode
		out = e.derive(req, req.Kind)
		out.Dest = coherence.ToMemory
		tracing.TraceReqStep(req, e, "memory")
	}

	e.maf.SetMsg(entryID, req)

	return Process{
		Action: ActionForward,
		MAF:    entryID,
		Out:    []coherence.Msg{out},
	}
}

func (e *Engine) invalidateAck(msg coherence.Msg) Process {
	p := Process{Action: ActionDrain}

	drained, err := e.eb.RemoveSharer(msg.Address, msg.Other)
	if err != nil {
		e.fatal(msg, "%v", err)
	}

	if drained {
		e.wakeAfterDrain(msg.Address)
	}

	if msg.Kind == coherence.InvUpdateAck {
		p.Out = append(p.Out, e.writeback(msg))
	}

	return p
}

func (e *Engine) downgradeAck(msg coherence.Msg) Process {
	err := e.eb.CompleteRevoke(msg.Address)
	if err != nil {
		e.fatal(msg, "%v", err)
	}

	e.maf.WakeMatching(func(entry maf.Entry) bool {
		return entry.State == maf.WaitRevoke &&
			!e.eb.RevokePending(entry.Address)
	})
	e.wakeSetWaiters()

	return Process{Action: ActionDrain}
}
