// Package harness runs directory banks against ideal private caches and an
// ideal memory. It drives traces through the coherence protocol and checks
// the resulting block states.
package harness

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/sarchlab/cohsim/mem/cache"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/geometry"
	"github.com/sarchlab/cohsim/mem/protocol"
)

// ErrStuck is returned when a run does not drain within its cycle limit.
var ErrStuck = errors.New("system did not drain")

// ErrIncoherent is returned when the block states break coherence.
var ErrIncoherent = errors.New("incoherent block states")

// A System connects nodes, directory banks, and memory. Messages produced in
// one cycle are delivered in the next. Messages to a bank are delivered in
// the order they were sent, separately for requests and replies.
type System struct {
	name     string
	cycle    uint64
	router   geometry.Layout
	nodes    []*Node
	banks    []*protocol.Bank
	memory   *Memory
	requests [][]coherence.Msg
	replies  [][]coherence.Msg
	parallel bool

	pauseLock sync.Mutex
	paused    bool
	resume    *sync.Cond
	stepHooks []func(cycle uint64)
}

// Name returns the name of the system.
func (s *System) Name() string {
	return s.name
}

// CurrentCycle returns the number of cycles stepped.
func (s *System) CurrentCycle() uint64 {
	return s.cycle
}

// Nodes returns the private caches.
func (s *System) Nodes() []*Node {
	return s.nodes
}

// Banks returns the directory banks.
func (s *System) Banks() []*protocol.Bank {
	return s.banks
}

// Memory returns the memory.
func (s *System) Memory() *Memory {
	return s.memory
}

// BankOf returns the bank that tracks addr.
func (s *System) BankOf(addr uint64) *protocol.Bank {
	return s.banks[s.router.Bank(addr)]
}

// Load hands every access to the node of its core.
func (s *System) Load(accesses []Access) error {
	perCore, err := SplitByCore(accesses, len(s.nodes))
	if err != nil {
		return err
	}

	for i, a := range perCore {
		s.nodes[i].Enqueue(a...)
	}

	return nil
}

// OnStep registers fn to be called after every cycle.
func (s *System) OnStep(fn func(cycle uint64)) {
	s.stepHooks = append(s.stepHooks, fn)
}

// Pause makes Run wait before the next cycle.
func (s *System) Pause() {
	s.pauseLock.Lock()
	defer s.pauseLock.Unlock()

	s.paused = true
}

// Continue lets a paused Run go on.
func (s *System) Continue() {
	s.pauseLock.Lock()
	defer s.pauseLock.Unlock()

	s.paused = false
	s.resume.Broadcast()
}

func (s *System) waitWhilePaused() {
	s.pauseLock.Lock()
	defer s.pauseLock.Unlock()

	for s.paused {
		s.resume.Wait()
	}
}

// Quiescent returns true if every access is done and no message or
// transaction is left anywhere.
func (s *System) Quiescent() bool {
	for _, n := range s.nodes {
		if !n.Idle() {
			return false
		}
	}

	for i, b := range s.banks {
		if len(s.requests[i]) > 0 || len(s.replies[i]) > 0 || !b.Quiescent() {
			return false
		}
	}

	return s.memory.Idle()
}

// Run steps until the system is quiescent. It gives up with ErrStuck after
// maxCycles cycles; zero means no limit.
func (s *System) Run(maxCycles uint64) error {
	for !s.Quiescent() {
		if maxCycles > 0 && s.cycle >= maxCycles {
			return fmt.Errorf("%w: %s after %d cycles, %d accesses left",
				ErrStuck, s.name, s.cycle, s.remaining())
		}

		s.waitWhilePaused()
		s.Step()
	}

	return nil
}

func (s *System) remaining() int {
	r := 0
	for _, n := range s.nodes {
		r += n.Remaining()
	}

	return r
}

// Step advances the system by one cycle.
func (s *System) Step() {
	s.cycle++

	for i, b := range s.banks {
		s.replies[i] = deliverInOrder(b, s.replies[i])
		s.requests[i] = deliverInOrder(b, s.requests[i])
	}

	for _, n := range s.nodes {
		n.Tick()
	}

	s.memory.Tick(s.cycle)
	s.tickBanks()
	s.route()

	for _, fn := range s.stepHooks {
		fn(s.cycle)
	}
}

// deliverInOrder moves messages into the bank until one does not fit.
func deliverInOrder(b *protocol.Bank, queue []coherence.Msg) []coherence.Msg {
	n := 0
	for n < len(queue) && b.CanDeliver(queue[n]) {
		b.Deliver(queue[n])
		n++
	}

	return queue[n:]
}

func (s *System) tickBanks() {
	if !s.parallel {
		for _, b := range s.banks {
			b.Tick()
		}

		return
	}

	var wg sync.WaitGroup

	for _, b := range s.banks {
		wg.Add(1)

		go func(b *protocol.Bank) {
			defer wg.Done()
			b.Tick()
		}(b)
	}

	wg.Wait()
}

func (s *System) route() {
	for _, n := range s.nodes {
		for _, msg := range n.TakeOutbox() {
			s.routeMsg(msg)
		}
	}

	for _, msg := range s.memory.TakeOutbox() {
		s.routeMsg(msg)
	}

	for _, b := range s.banks {
		for {
			msg, ok := b.Outbound().Pop()
			if !ok {
				break
			}

			s.routeMsg(msg)
		}
	}
}

func (s *System) routeMsg(msg coherence.Msg) {
	switch msg.Dest {
	case coherence.ToDirectory:
		bank := s.router.Bank(msg.Address)
		if msg.Kind.IsReply() {
			s.replies[bank] = append(s.replies[bank], msg)
		} else {
			s.requests[bank] = append(s.requests[bank], msg)
		}
	case coherence.ToRequester:
		s.node(msg, msg.Requester).Deliver(msg)
	case coherence.ToSource:
		s.node(msg, msg.Source).Deliver(msg)
	case coherence.ToMulticast:
		for _, n := range msg.Multicast {
			s.node(msg, n).Deliver(msg)
		}
	case coherence.ToMemory:
		s.memory.Deliver(msg, s.cycle)
	default:
		log.Panicf("%s: cannot route %s", s.name, msg)
	}
}

func (s *System) node(msg coherence.Msg, nodeID int) *Node {
	if nodeID < 0 || nodeID >= len(s.nodes) {
		log.Panicf("%s: %s is sent to unknown node %d", s.name, msg, nodeID)
	}

	return s.nodes[nodeID]
}

type holder struct {
	node  int
	state coherence.State
}

func (s *System) holders() (map[uint64][]holder, []uint64) {
	blocks := make(map[uint64][]holder)

	for _, n := range s.nodes {
		n.array.Visit(func(_, _ int, b cache.Block) {
			if b.State.IsValid() {
				blocks[b.Tag] = append(blocks[b.Tag], holder{n.id, b.State})
			}
		})
	}

	addrs := make([]uint64, 0, len(blocks))
	for addr := range blocks {
		addrs = append(addrs, addr)
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	return blocks, addrs
}

// CheckCoherence verifies that a block held in E or M is held by no other
// node. It holds after every cycle.
func (s *System) CheckCoherence() error {
	blocks, addrs := s.holders()

	for _, addr := range addrs {
		hs := blocks[addr]
		if len(hs) < 2 {
			continue
		}

		for _, h := range hs {
			if h.state.IsWritable() {
				return fmt.Errorf("%w: %#x is %s at node %d and held by %v",
					ErrIncoherent, addr, h.state, h.node, hs)
			}
		}
	}

	return nil
}

// CheckDirectory verifies that every node holding a block is a sharer of it,
// either in the directory or in the evict buffer. It holds once the system
// is quiescent.
func (s *System) CheckDirectory() error {
	blocks, addrs := s.holders()

	for _, addr := range addrs {
		e := s.BankOf(addr).Engine()
		h := e.Store().Lookup(addr)

		var sharers coherence.SharerSet

		if h.Found() {
			sharers = h.Sharers()
		} else if buffered, ok := e.EvictBuffer().Find(addr); ok {
			sharers = buffered.Sharers
		}

		for _, hd := range blocks[addr] {
			if !sharers.Has(hd.node) {
				return fmt.Errorf("%w: node %d holds %#x in %s but is not "+
					"a sharer", ErrIncoherent, hd.node, addr, hd.state)
			}
		}
	}

	return nil
}
