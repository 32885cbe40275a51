package protocol

import (
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/tracing"
)

// HandleIdleWork drains the evict buffer by one step. Region owners are
// revoked before the blocks of their region are back invalidated. It returns
// false if there is nothing to do.
func (e *Engine) HandleIdleWork() (Process, bool) {
	if e.eb.Empty() {
		return Process{}, false
	}

	if entry, found := e.eb.OldestRequiringRevoke(); found {
		msg := e.newMsg(coherence.Downgrade, entry.Address, coherence.NoNode)
		msg.Dest = coherence.ToSource
		msg.Source = entry.Owner

		e.eb.MarkRevokeSent(entry.Address)
		e.traceIdle(msg)

		return Process{
			Type:   ProcessIdleWork,
			Action: ActionRevoke,
			Out:    []coherence.Msg{msg},
		}, true
	}

	if entry, found := e.eb.OldestRequiringInvalidates(); found {
		msg := e.newMsg(coherence.BackInvalidate, entry.Address,
			coherence.NoNode)
		msg.Dest = coherence.ToMulticast
		msg.Multicast = entry.Sharers.List()

		e.eb.MarkInvalidatesSent(entry.Address)
		e.traceIdle(msg)

		return Process{
			Type:   ProcessIdleWork,
			Action: ActionBackInvalidate,
			Out:    []coherence.Msg{msg},
		}, true
	}

	return Process{}, false
}

func (e *Engine) traceIdle(msg coherence.Msg) {
	if e.NumHooks() == 0 {
		return
	}

	tracing.StartTask(msg.ID, "", e, "idle", msg.Kind.String(), msg)
	tracing.EndTask(msg.ID, e)
}
