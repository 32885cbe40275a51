package protocol

import (
	"github.com/sarchlab/cohsim/mem/maf"
)

// wakeMAFs retries the requests held back by transactions on addr once none
// of them waits for an ack anymore.
func (e *Engine) wakeMAFs(addr uint64) {
	if _, active := e.maf.FindFirst(addr, maf.WaitAck); active {
		return
	}

	h := e.store.Lookup(addr)
	if h.Found() {
		h.SetProtected(false)
	}

	e.maf.WakeMatching(func(entry maf.Entry) bool {
		switch entry.State {
		case maf.WaitRequest:
			return entry.Address == addr
		case maf.WaitSet:
			return e.store.SameSet(entry.Address, addr)
		default:
			return false
		}
	})
}

// wakeAfterDrain runs when addr left the evict buffer. The freed slot may
// let any set allocate again.
func (e *Engine) wakeAfterDrain(addr uint64) {
	if entryID, found := e.maf.FindFirst(addr, maf.WaitEvict); found {
		e.maf.WakeAfterEvict(entryID)
	}

	e.wakeSetWaiters()
}

func (e *Engine) wakeSetWaiters() {
	e.maf.WakeMatching(func(entry maf.Entry) bool {
		return entry.State == maf.WaitSet
	})
}
