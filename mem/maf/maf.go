// Package maf implements the miss address file, the ledger of coherence
// transactions that are in flight or waiting at a directory bank.
package maf

import (
	"errors"
	"fmt"
	"log"

	"github.com/sarchlab/cohsim/mem/coherence"
)

// State is the wait state of an entry. The order of the constants matters:
// Find returns the entry of an address with the lowest state.
type State uint8

// Wait states.
const (
	WaitSet State = iota
	WaitRequest
	WaitEvict
	WaitAck
	Waking
	InPipeline
	WaitRevoke
)

var stateNames = [...]string{
	"WaitSet", "WaitRequest", "WaitEvict", "WaitAck",
	"Waking", "InPipeline", "WaitRevoke",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("State(%d)", uint8(s))
}

// ErrFull is returned when inserting into a MAF without free entries.
var ErrFull = errors.New("trying to add to a full MAF")

// EntryID identifies an entry. IDs grow with insertion order and are never
// reused.
type EntryID uint64

// Entry is a transaction recorded in the MAF.
type Entry struct {
	ID      EntryID
	Address uint64
	State   State
	Msg     coherence.Msg
}

// MAF is the miss address file of one directory bank.
type MAF struct {
	name     string
	capacity int
	reserved int
	nextID   EntryID
	entries  []Entry
}

// New creates an empty MAF.
func New(name string, capacity int) *MAF {
	if capacity <= 0 {
		log.Panicf("MAF %s must have a positive capacity", name)
	}

	return &MAF{
		name:     name,
		capacity: capacity,
	}
}

// Name returns the name of the MAF.
func (m *MAF) Name() string {
	return m.name
}

// Conflicts returns true if a transaction of kind b may not run concurrently
// with one of kind a on the same address. Reads never conflict with reads.
func Conflicts(a, b coherence.MsgKind) bool {
	return a.IsWrite() || b.IsWrite()
}

// Insert records a new transaction.
func (m *MAF) Insert(msg coherence.Msg, state State) (EntryID, error) {
	if len(m.entries) >= m.capacity {
		return 0, ErrFull
	}

	m.nextID++
	m.entries = append(m.entries, Entry{
		ID:      m.nextID,
		Address: msg.Address,
		State:   state,
		Msg:     msg,
	})

	return m.nextID, nil
}

func (m *MAF) indexOf(id EntryID) int {
	for i, e := range m.entries {
		if e.ID == id {
			return i
		}
	}

	return -1
}

func (m *MAF) mustIndexOf(id EntryID) int {
	i := m.indexOf(id)
	if i < 0 {
		log.Panicf("MAF %s: entry %d does not exist", m.name, id)
	}

	return i
}

// Entry returns a copy of an entry.
func (m *MAF) Entry(id EntryID) (Entry, bool) {
	i := m.indexOf(id)
	if i < 0 {
		return Entry{}, false
	}

	return m.entries[i], true
}

// Find returns the entry of addr with the lowest wait state. Ties go to the
// oldest entry.
func (m *MAF) Find(addr uint64) (EntryID, bool) {
	return m.FindExcept(addr, 0)
}

// FindExcept is Find ignoring the entry except. An entry being processed
// again uses it to look only at the transactions around it.
func (m *MAF) FindExcept(addr uint64, except EntryID) (EntryID, bool) {
	found := -1

	for i, e := range m.entries {
		if e.Address != addr || e.ID == except {
			continue
		}

		if found < 0 || e.State < m.entries[found].State {
			found = i
		}
	}

	if found < 0 {
		return 0, false
	}

	return m.entries[found].ID, true
}

// FindFirst returns the oldest entry of addr in state.
func (m *MAF) FindFirst(addr uint64, state State) (EntryID, bool) {
	for _, e := range m.entries {
		if e.Address == addr && e.State == state {
			return e.ID, true
		}
	}

	return 0, false
}

// FindAll returns the entries of addr in state, oldest first.
func (m *MAF) FindAll(addr uint64, state State) []EntryID {
	var ids []EntryID

	for _, e := range m.entries {
		if e.Address == addr && e.State == state {
			ids = append(ids, e.ID)
		}
	}

	return ids
}

// FindByRequester returns the oldest entry of addr in state whose message
// came from requester.
func (m *MAF) FindByRequester(
	addr uint64,
	state State,
	requester int,
) (EntryID, bool) {
	for _, e := range m.entries {
		if e.Address == addr && e.State == state &&
			e.Msg.Requester == requester {
			return e.ID, true
		}
	}

	return 0, false
}

// SetState moves an entry to a new wait state.
func (m *MAF) SetState(id EntryID, state State) {
	m.entries[m.mustIndexOf(id)].State = state
}

// SetMsg replaces the message of an entry.
func (m *MAF) SetMsg(id EntryID, msg coherence.Msg) {
	m.entries[m.mustIndexOf(id)].Msg = msg
}

// Remove deletes an entry.
func (m *MAF) Remove(id EntryID) {
	i := m.mustIndexOf(id)
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
}

// Wake marks an entry ready to be processed again.
func (m *MAF) Wake(id EntryID) {
	m.SetState(id, Waking)
}

// WakeAfterEvict wakes an entry that waited for an evict buffer entry, and
// every entry of the same address that queued behind it.
func (m *MAF) WakeAfterEvict(id EntryID) {
	i := m.mustIndexOf(id)
	addr := m.entries[i].Address
	m.entries[i].State = Waking

	m.WakeMatching(func(e Entry) bool {
		return e.Address == addr && e.State == WaitRequest
	})
}

// WakeMatching wakes every entry accepted by match, oldest first, and returns
// how many entries were woken.
func (m *MAF) WakeMatching(match func(e Entry) bool) int {
	woken := 0

	for i := range m.entries {
		if match(m.entries[i]) {
			m.entries[i].State = Waking
			woken++
		}
	}

	return woken
}

// HasWaking returns true if an entry is ready to be processed again.
func (m *MAF) HasWaking() bool {
	_, ok := m.PeekWaking()
	return ok
}

// PeekWaking returns the oldest waking entry without changing it.
func (m *MAF) PeekWaking() (Entry, bool) {
	for _, e := range m.entries {
		if e.State == Waking {
			return e, true
		}
	}

	return Entry{}, false
}

// NextWaking returns the oldest waking entry and moves it into the pipeline.
func (m *MAF) NextWaking() (Entry, bool) {
	for i := range m.entries {
		if m.entries[i].State == Waking {
			m.entries[i].State = InPipeline
			return m.entries[i], true
		}
	}

	return Entry{}, false
}

// Reserve holds n entries for transactions that are about to be inserted.
func (m *MAF) Reserve(n int) error {
	if len(m.entries)+m.reserved+n > m.capacity {
		return ErrFull
	}

	m.reserved += n

	return nil
}

// Unreserve releases n reserved entries. Reservations are released before
// the corresponding Insert.
func (m *MAF) Unreserve(n int) {
	if n > m.reserved {
		log.Panicf("MAF %s: unreserving %d of %d reserved entries",
			m.name, n, m.reserved)
	}

	m.reserved -= n
}

// Full returns true if no entry is left for a new transaction.
func (m *MAF) Full() bool {
	return len(m.entries)+m.reserved >= m.capacity
}

// Empty returns true if no transaction is recorded.
func (m *MAF) Empty() bool {
	return len(m.entries) == 0
}

// UsedEntries returns the number of entries.
func (m *MAF) UsedEntries() int {
	return len(m.entries)
}

// Capacity returns the maximum number of entries.
func (m *MAF) Capacity() int {
	return m.capacity
}

// Reserved returns the number of reserved entries.
func (m *MAF) Reserved() int {
	return m.reserved
}

// ActiveEntries returns the number of entries that are waiting for acks or
// being processed.
func (m *MAF) ActiveEntries() int {
	n := 0

	for _, e := range m.entries {
		if e.State == WaitAck || e.State == InPipeline ||
			e.State == WaitRevoke {
			n++
		}
	}

	return n
}

// Entries returns a copy of every entry in insertion order.
func (m *MAF) Entries() []Entry {
	entries := make([]Entry, len(m.entries))
	copy(entries, m.entries)

	return entries
}
