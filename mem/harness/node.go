package harness

import (
	"fmt"
	"log"

	"github.com/sarchlab/cohsim/mem/cache"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/sim/hooking"
	"github.com/sarchlab/cohsim/sim/id"
	"github.com/sarchlab/cohsim/tracing"
)

// NodeStats counts what a node did.
type NodeStats struct {
	Accesses      uint64
	Hits          uint64
	Misses        uint64
	Upgrades      uint64
	Evictions     uint64
	Forwards      uint64
	Invalidations uint64
	NAcks         uint64
}

// miss is the one request a node has outstanding.
type miss struct {
	access   Access
	taskID   string
	kind     coherence.MsgKind
	addr     uint64
	notified bool
	expected int
	acks     int
	data     bool
	memory   bool
}

// A Node is an ideal private cache. It runs its accesses one at a time,
// answers the directory, and keeps its block states in a cache.Array.
type Node struct {
	hooking.HookableBase

	id     int
	name   string
	array  *cache.Array
	ids    id.IDGenerator
	trace  []Access
	next   int
	miss   *miss
	inbox  []coherence.Msg
	outbox []coherence.Msg
	stats  NodeStats
}

// NewNode creates a node that caches blocks in array.
func NewNode(nodeID int, array *cache.Array) *Node {
	name := fmt.Sprintf("Node%d", nodeID)

	return &Node{
		id:    nodeID,
		name:  name,
		array: array,
		ids:   id.NewSequentialGenerator(name),
	}
}

// Name returns the name of the node.
func (n *Node) Name() string {
	return n.name
}

// ID returns the node number used in sharer sets.
func (n *Node) ID() int {
	return n.id
}

// Array returns the blocks of the node.
func (n *Node) Array() *cache.Array {
	return n.array
}

// Stats returns the counters of the node.
func (n *Node) Stats() NodeStats {
	return n.stats
}

// Enqueue appends accesses to the work of the node.
func (n *Node) Enqueue(accesses ...Access) {
	n.trace = append(n.trace, accesses...)
}

// Remaining returns the number of accesses not yet completed.
func (n *Node) Remaining() int {
	r := len(n.trace) - n.next
	if n.miss != nil {
		r++
	}

	return r
}

// Waiting returns true if an access waits for its miss to resolve.
func (n *Node) Waiting() bool {
	return n.miss != nil
}

// Deliver hands a message to the node. It is handled on the next Tick.
func (n *Node) Deliver(msg coherence.Msg) {
	n.inbox = append(n.inbox, msg)
}

// Idle returns true if the node has nothing to do and nothing to send.
func (n *Node) Idle() bool {
	return n.miss == nil && n.next == len(n.trace) &&
		len(n.inbox) == 0 && len(n.outbox) == 0
}

// Tick handles every delivered message and then starts at most one access.
func (n *Node) Tick() {
	inbox := n.inbox
	n.inbox = nil

	for _, msg := range inbox {
		n.handle(msg)
	}

	if n.miss == nil && n.next < len(n.trace) {
		a := n.trace[n.next]
		n.next++
		n.issue(a)
	}
}

// TakeOutbox returns and clears the messages the node wants to send.
func (n *Node) TakeOutbox() []coherence.Msg {
	out := n.outbox
	n.outbox = nil

	return out
}

func (n *Node) send(msg coherence.Msg) {
	if msg.ID == "" {
		msg.ID = n.ids.Generate()
	}

	n.outbox = append(n.outbox, msg)
}

func (n *Node) toDirectory(
	kind coherence.MsgKind,
	addr uint64,
	requester int,
) coherence.Msg {
	msg := coherence.NewMsg(kind, addr, requester)
	msg.Source = n.id
	msg.Other = n.id

	return msg
}

func (n *Node) issue(a Access) {
	n.stats.Accesses++

	addr := n.array.Layout().Tag(a.Address)
	lookup := n.array.Lookup(addr)

	var kind coherence.MsgKind

	switch a.Kind {
	case Read, Fetch:
		if lookup.Hit {
			n.hit(lookup)
			return
		}

		kind = coherence.ReadReq
		if a.Kind == Fetch {
			kind = coherence.FetchReq
		}
	case Write, NonAllocatingStore:
		switch {
		case lookup.Hit && lookup.State.IsWritable():
			n.array.SetState(lookup, coherence.Modified)
			n.hit(lookup)

			return
		case lookup.Hit:
			kind = coherence.UpgradeReq
			n.stats.Upgrades++
		case a.Kind == NonAllocatingStore:
			kind = coherence.NonAllocatingStoreReq
		default:
			kind = coherence.WriteReq
		}
	default:
		log.Panicf("%s: unknown access %s", n.name, a)
	}

	n.stats.Misses++

	req := coherence.NewMsg(kind, addr, n.id)
	req.ID = n.ids.Generate()

	n.miss = &miss{access: a, taskID: req.ID, kind: kind, addr: addr}
	n.traceStart(req)
	n.send(req)
}

func (n *Node) hit(lookup cache.LookupResult) {
	n.array.RecordAccess(lookup)
	n.stats.Hits++
}

func (n *Node) handle(msg coherence.Msg) {
	switch msg.Kind {
	case coherence.ReadFwd, coherence.FetchFwd, coherence.WriteFwd:
		n.supply(msg)
	case coherence.Invalidate:
		n.invalidate(msg)
	case coherence.BackInvalidate:
		n.backInvalidate(msg)
	case coherence.Downgrade:
		n.send(n.toDirectory(coherence.DowngradeAck, msg.Address, n.id))
	case coherence.MissNotify:
		m := n.mustMiss(msg)
		m.notified = true
		m.expected = msg.OutstandingAcks
	case coherence.UpgradeReply:
		m := n.mustMiss(msg)
		m.notified = true
		m.expected = 0
	case coherence.Data:
		m := n.mustMiss(msg)
		m.data = true
		m.memory = msg.Source == coherence.NoNode
		m.acks++
	case coherence.InvalidateAck:
		n.mustMiss(msg).acks++
	case coherence.NASAck:
		n.mustMiss(msg)
		n.send(n.toDirectory(coherence.NASAck, msg.Address, n.id))
		n.finish()

		return
	case coherence.EvictAck:
		return
	default:
		log.Panicf("%s: cannot handle %s", n.name, msg)
	}

	n.tryComplete()
}

func (n *Node) mustMiss(msg coherence.Msg) *miss {
	if n.miss == nil || n.miss.addr != msg.Address {
		log.Panicf("%s: %s does not match an outstanding miss", n.name, msg)
	}

	return n.miss
}

// supply answers a forward with the block, or refuses it if the block is
// gone.
func (n *Node) supply(msg coherence.Msg) {
	lookup := n.array.Lookup(msg.Address)
	if !lookup.Hit {
		n.stats.NAcks++
		n.send(n.toDirectory(coherence.FwdNAck, msg.Address, msg.Requester))

		return
	}

	n.stats.Forwards++

	data := coherence.NewMsg(coherence.Data, msg.Address, msg.Requester)
	data.Dest = coherence.ToRequester
	data.Source = n.id
	n.send(data)

	switch {
	case msg.Kind == coherence.WriteFwd && msg.Requester != n.id:
		n.array.InvalidateBlock(lookup)
	case msg.Kind == coherence.WriteFwd:
	case lookup.State == coherence.Modified:
		n.array.SetState(lookup, coherence.Owned)
	case lookup.State == coherence.Exclusive:
		n.array.SetState(lookup, coherence.Shared)
	}
}

// invalidate serves a write of msg.Requester. The writer keeps its own copy.
func (n *Node) invalidate(msg coherence.Msg) {
	lookup := n.array.Lookup(msg.Address)
	if lookup.Hit && msg.Requester != n.id {
		n.array.InvalidateBlock(lookup)
		n.stats.Invalidations++
	}

	ack := coherence.NewMsg(coherence.InvalidateAck, msg.Address,
		msg.Requester)
	ack.Dest = coherence.ToRequester
	ack.Source = n.id
	ack.Other = n.id
	n.send(ack)
}

func (n *Node) backInvalidate(msg coherence.Msg) {
	kind := coherence.InvalidateAck

	lookup := n.array.Lookup(msg.Address)
	if lookup.Hit {
		if lookup.State.IsDirty() {
			kind = coherence.InvUpdateAck
		}

		n.array.InvalidateBlock(lookup)
		n.stats.Invalidations++
	}

	n.send(n.toDirectory(kind, msg.Address, n.id))
}

func (n *Node) tryComplete() {
	m := n.miss
	if m == nil {
		return
	}

	switch m.kind {
	case coherence.ReadReq, coherence.FetchReq:
		if !m.data {
			return
		}

		state := coherence.Shared
		if m.memory && m.kind == coherence.ReadReq {
			state = coherence.Exclusive
		}

		n.install(m.addr, state)

		ack := coherence.ReadAck
		if m.kind == coherence.FetchReq {
			ack = coherence.FetchAck
		}

		n.send(n.toDirectory(ack, m.addr, n.id))
	case coherence.WriteReq, coherence.UpgradeReq:
		if !m.notified || m.acks < m.expected {
			return
		}

		n.install(m.addr, coherence.Modified)

		// The directory turns an upgrade into a write when the copy was
		// lost, and only writes bring data.
		ack := coherence.UpgradeAck
		if m.data {
			ack = coherence.WriteAck
		}

		n.send(n.toDirectory(ack, m.addr, n.id))
	default:
		return
	}

	n.finish()
}

func (n *Node) finish() {
	n.traceEnd()
	n.miss = nil
}

// install puts the block in the array and evicts the victim, if any.
func (n *Node) install(addr uint64, state coherence.State) {
	lookup := n.array.Lookup(addr)

	victim, evicted := n.array.Allocate(&lookup, addr, state)
	if lookup.State != state {
		n.array.SetState(lookup, state)
	}

	if !evicted {
		return
	}

	n.stats.Evictions++

	kind := coherence.EvictClean

	switch {
	case victim.State.IsDirty():
		kind = coherence.EvictDirty
	case victim.State.IsWritable():
		kind = coherence.EvictWritable
	}

	n.send(n.toDirectory(kind, victim.Address, n.id))
}

func (n *Node) traceStart(req coherence.Msg) {
	tracing.StartTask(req.ID, "", n, "access", n.miss.access.Kind.String(),
		n.miss.access)
}

func (n *Node) traceEnd() {
	tracing.EndTask(n.miss.taskID, n)
}
