package protocol

import (
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/directory"
	"github.com/sarchlab/cohsim/mem/maf"
	"github.com/sarchlab/cohsim/tracing"
)

// HandleRequest starts a new transaction. The caller must make sure the MAF
// is not full; the returned error wraps maf.ErrFull otherwise.
func (e *Engine) HandleRequest(msg coherence.Msg) (Process, error) {
	if !msg.Kind.IsRequest() {
		e.fatal(msg, "not a request")
	}

	msg.Address = e.store.BlockAddress(msg.Address)
	if msg.ID == "" {
		msg.ID = e.ids.Generate()
	}

	entryID, err := e.maf.Insert(msg, maf.InPipeline)
	if err != nil {
		return Process{}, err
	}

	tracing.TraceReqReceive(msg, e)

	p := e.doRequest(entryID, msg)
	p.Type = ProcessRequest

	return p, nil
}

// HandleWakeMAF processes the oldest woken MAF entry again. It returns false
// if no entry is waking.
func (e *Engine) HandleWakeMAF() (Process, bool) {
	entry, ok := e.maf.NextWaking()
	if !ok {
		return Process{}, false
	}

	tracing.TraceReqStep(entry.Msg, e, "wake")

	p := e.doRequest(entry.ID, entry.Msg)
	p.Type = ProcessWakeMAF

	return p, true
}

func (e *Engine) stall(entryID maf.EntryID, msg coherence.Msg, state maf.State) Process {
	e.maf.SetState(entryID, state)
	tracing.TraceReqStep(msg, e, state.String())

	return Process{Action: ActionStall, MAF: entryID}
}

func (e *Engine) waitAck(entryID maf.EntryID, msg coherence.Msg, p Process) Process {
	e.maf.SetState(entryID, maf.WaitAck)
	tracing.TraceReqStep(msg, e, p.Action.String())

	p.MAF = entryID

	return p
}

// hazard applies the serialization rule against the other entries of the
// address.
func (e *Engine) hazard(entryID maf.EntryID, msg coherence.Msg) (maf.State, bool) {
	otherID, found := e.maf.FindExcept(msg.Address, entryID)
	if !found {
		return 0, false
	}

	other, _ := e.maf.Entry(otherID)

	switch other.State {
	case maf.WaitSet:
		return maf.WaitSet, true
	case maf.WaitRequest, maf.WaitEvict:
		return maf.WaitRequest, true
	case maf.WaitAck:
		if maf.Conflicts(other.Msg.Kind, msg.Kind) {
			return maf.WaitRequest, true
		}
	}

	return 0, false
}

// readInFlight returns true if another read of the address waits for its
// ack.
func (e *Engine) readInFlight(entryID maf.EntryID, addr uint64) bool {
	for _, otherID := range e.maf.FindAll(addr, maf.WaitAck) {
		other, _ := e.maf.Entry(otherID)
		if otherID != entryID && other.Msg.Kind.IsRead() {
			return true
		}
	}

	return false
}

func (e *Engine) doRequest(entryID maf.EntryID, msg coherence.Msg) Process {
	addr := msg.Address

	if state, blocked := e.hazard(entryID, msg); blocked {
		return e.stall(entryID, msg, state)
	}

	if e.eb.RevokePending(addr) {
		return e.stall(entryID, msg, maf.WaitRevoke)
	}

	if e.eb.InvalidatesPending(addr) {
		return e.stall(entryID, msg, maf.WaitEvict)
	}

	if msg.Kind == coherence.NonAllocatingStoreReq {
		return e.toMemory(entryID, msg)
	}

	h := e.store.Lookup(addr)
	if !h.Found() {
		var initial coherence.SharerSet
		if buffered, ok := e.eb.Find(addr); ok {
			initial = buffered.Sharers
		}

		if !e.store.Allocate(h, addr, initial) {
			return e.stall(entryID, msg, maf.WaitSet)
		}

		e.eb.Remove(addr)
	}

	h.SetProtected(true)

	sharers := h.Sharers()

	if msg.Kind == coherence.UpgradeReq && !sharers.Has(msg.Requester) {
		msg.Kind = coherence.WriteReq
		e.maf.SetMsg(entryID, msg)
		tracing.TraceReqStep(msg, e, "upgrade-to-write")
	}

	if sharers.Empty() {
		if msg.Kind.IsRead() && e.readInFlight(entryID, addr) {
			return e.stall(entryID, msg, maf.WaitRequest)
		}

		return e.toMemory(entryID, msg)
	}

	switch msg.Kind {
	case coherence.ReadReq, coherence.FetchReq:
		return e.forwardRead(entryID, msg, sharers)
	case coherence.WriteReq:
		return e.forwardWrite(entryID, msg, sharers)
	case coherence.UpgradeReq:
		return e.upgrade(entryID, msg, h)
	}

	e.fatal(msg, "unknown request")

	return Process{}
}

// toMemory sends the request to memory. Writes also tell the requester to
// expect the memory data as the only ack.
func (e *Engine) toMemory(entryID maf.EntryID, msg coherence.Msg) Process {
	fwd := e.derive(msg, msg.Kind)
	fwd.Dest = coherence.ToMemory
	fwd.Source = coherence.NoNode

	p := Process{Action: ActionForward, Out: []coherence.Msg{fwd}}

	if msg.Kind == coherence.WriteReq {
		notify := e.newMsg(coherence.MissNotify, msg.Address, msg.Requester)
		notify.Dest = coherence.ToRequester
		notify.OutstandingAcks = 1

		p.Out = append(p.Out, notify)
		p.Action = ActionNotify
	}

	return e.waitAck(entryID, msg, p)
}

// pickSharer prefers the sharer the requester hinted at.
func pickSharer(msg coherence.Msg, sharers coherence.SharerSet) int {
	if sharers.Has(msg.Locality) {
		return msg.Locality
	}

	return sharers.First()
}

func fwdKind(req coherence.MsgKind) coherence.MsgKind {
	switch req {
	case coherence.FetchReq:
		return coherence.FetchFwd
	case coherence.WriteReq:
		return coherence.WriteFwd
	default:
		return coherence.ReadFwd
	}
}

func (e *Engine) forwardTo(msg coherence.Msg, sharer int) coherence.Msg {
	fwd := e.derive(msg, fwdKind(msg.Kind))
	fwd.Dest = coherence.ToSource
	fwd.Source = sharer

	return fwd
}

func (e *Engine) forwardRead(
	entryID maf.EntryID,
	msg coherence.Msg,
	sharers coherence.SharerSet,
) Process {
	sharer := pickSharer(msg, sharers)
	msg.Source = sharer
	e.maf.SetMsg(entryID, msg)

	return e.waitAck(entryID, msg, Process{
		Action: ActionForward,
		Out:    []coherence.Msg{e.forwardTo(msg, sharer)},
	})
}

func (e *Engine) invalidate(msg coherence.Msg, nodes []int) coherence.Msg {
	inv := e.derive(msg, coherence.Invalidate)
	inv.Dest = coherence.ToMulticast
	inv.Source = coherence.NoNode
	inv.Multicast = nodes

	return inv
}

func (e *Engine) missNotify(msg coherence.Msg, acks int) coherence.Msg {
	notify := e.newMsg(coherence.MissNotify, msg.Address, msg.Requester)
	notify.Dest = coherence.ToRequester
	notify.OutstandingAcks = acks

	return notify
}

func (e *Engine) forwardWrite(
	entryID maf.EntryID,
	msg coherence.Msg,
	sharers coherence.SharerSet,
) Process {
	sharer := pickSharer(msg, sharers)
	msg.Source = sharer
	e.maf.SetMsg(entryID, msg)

	p := Process{
		Action: ActionNotify,
		Out:    []coherence.Msg{e.forwardTo(msg, sharer)},
	}

	if others := sharers.Others(sharer); len(others) > 0 {
		p.Out = append(p.Out, e.invalidate(msg, others))
	}

	acks := sharers.Count()
	if e.forwardImpliesAck {
		acks--
	}

	p.Out = append(p.Out, e.missNotify(msg, acks))

	return e.waitAck(entryID, msg, p)
}

func (e *Engine) upgrade(
	entryID maf.EntryID,
	msg coherence.Msg,
	h directory.Handle,
) Process {
	sharers := h.Sharers()

	if sharers.Count() == 1 {
		reply := e.newMsg(coherence.UpgradeReply, msg.Address, msg.Requester)
		reply.Dest = coherence.ToRequester

		return e.waitAck(entryID, msg, Process{
			Action: ActionReply,
			Out:    []coherence.Msg{reply},
		})
	}

	msg.Source = msg.Requester
	e.maf.SetMsg(entryID, msg)

	return e.waitAck(entryID, msg, Process{
		Action: ActionNotify,
		Out: []coherence.Msg{
			e.invalidate(msg, sharers.Others(msg.Requester)),
			e.missNotify(msg, sharers.Count()-1),
		},
	})
}
