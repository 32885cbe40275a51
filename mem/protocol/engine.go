// Package protocol implements the directory side of a MOESI coherence
// protocol. An Engine decides, for every message a directory bank receives,
// which messages to emit and how the MAF, the directory, and the evict buffer
// change. A Bank wraps an Engine with inbound and outbound buffers.
package protocol

import (
	"fmt"
	"log"

	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/directory"
	"github.com/sarchlab/cohsim/mem/maf"
	"github.com/sarchlab/cohsim/sim/hooking"
	"github.com/sarchlab/cohsim/sim/id"
)

// ProcessType tells which kind of work produced a Process.
type ProcessType uint8

// Process types.
const (
	ProcessRequest ProcessType = iota
	ProcessSnoop
	ProcessReply
	ProcessWakeMAF
	ProcessIdleWork
)

var processTypeNames = [...]string{
	"Request", "Snoop", "Reply", "WakeMAF", "IdleWork",
}

func (t ProcessType) String() string {
	if int(t) < len(processTypeNames) {
		return processTypeNames[t]
	}

	return fmt.Sprintf("ProcessType(%d)", uint8(t))
}

// Action summarizes what the engine did with a message.
type Action uint8

// Actions.
const (
	// ActionStall parks the transaction in the MAF.
	ActionStall Action = iota

	// ActionForward sends the transaction to sharers or memory and waits
	// for the requester's acknowledgement.
	ActionForward

	// ActionNotify is ActionForward plus a MissNotify to the requester.
	ActionNotify

	// ActionReply answers the requester directly.
	ActionReply

	// ActionAck acknowledges an eviction.
	ActionAck

	// ActionSuppress drops an eviction acknowledgement because a write is
	// already resolving the block.
	ActionSuppress

	// ActionComplete finishes a transaction.
	ActionComplete

	// ActionDrain removes a sharer from the evict buffer.
	ActionDrain

	// ActionBackInvalidate asks the sharers of an evict buffer entry to
	// give up their copies.
	ActionBackInvalidate

	// ActionRevoke asks a region owner to give up ownership.
	ActionRevoke
)

var actionNames = [...]string{
	"Stall", "Forward", "Notify", "Reply", "Ack", "Suppress", "Complete",
	"Drain", "BackInvalidate", "Revoke",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}

	return fmt.Sprintf("Action(%d)", uint8(a))
}

// A Process is the outcome of handling one message or one piece of idle work.
type Process struct {
	Type   ProcessType
	Action Action

	// MAF is the entry the work was done for, zero if none.
	MAF maf.EntryID

	// Out holds the messages to send, in order.
	Out []coherence.Msg
}

// MaxOutPerProcess is the largest number of messages a single Process can
// emit. A bank must have this much outbound room before it starts any work.
const MaxOutPerProcess = 3

// Engine is the protocol state machine of one directory bank. It owns the
// bank's MAF, directory, and evict buffer.
type Engine struct {
	hooking.HookableBase

	name  string
	store directory.Store
	eb    directory.EvictBuffer
	maf   *maf.MAF
	ids   id.IDGenerator

	forwardImpliesAck bool
}

// Name returns the name of the engine.
func (e *Engine) Name() string {
	return e.name
}

// Store returns the directory of the engine.
func (e *Engine) Store() directory.Store {
	return e.store
}

// MAF returns the miss address file of the engine.
func (e *Engine) MAF() *maf.MAF {
	return e.maf
}

// EvictBuffer returns the evict buffer of the engine.
func (e *Engine) EvictBuffer() directory.EvictBuffer {
	return e.eb
}

// HasIdleWork returns true if the evict buffer has invalidates or revokes to
// issue.
func (e *Engine) HasIdleWork() bool {
	return !e.eb.Empty() && e.eb.IdleWorkReady()
}

// Quiescent returns true if no transaction is in flight and nothing is
// buffered for eviction.
func (e *Engine) Quiescent() bool {
	return e.maf.Empty() && e.eb.Empty()
}

func (e *Engine) newMsg(kind coherence.MsgKind, addr uint64, requester int) coherence.Msg {
	msg := coherence.NewMsg(kind, addr, requester)
	msg.ID = e.ids.Generate()

	return msg
}

// derive copies msg under a new identity. Node fields and the locality hint
// are kept.
func (e *Engine) derive(msg coherence.Msg, kind coherence.MsgKind) coherence.Msg {
	out := msg
	out.ID = e.ids.Generate()
	out.Kind = kind
	out.Multicast = nil
	out.OutstandingAcks = 0

	return out
}

func (e *Engine) fatal(msg coherence.Msg, format string, args ...any) {
	log.Panicf("%s: %s at %#x: %s", e.name, msg.Kind, msg.Address,
		fmt.Sprintf(format, args...))
}
