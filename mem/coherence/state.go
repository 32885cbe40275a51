// Package coherence defines the vocabulary shared by caches, directories, and
// the protocol engine: block states, sharer sets, and messages.
package coherence

import "fmt"

// State is the MOESI state of a cached block.
type State uint8

// The MOESI states. Invalid is the default state of an empty slot.
const (
	Invalid State = iota
	Shared
	Exclusive
	Owned
	Modified
)

var stateNames = [...]string{"I", "S", "E", "O", "M"}

// String returns the one-letter name of the state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("State(%d)", uint8(s))
}

// IsValid returns true for every state except Invalid.
func (s State) IsValid() bool {
	return s != Invalid && s <= Modified
}

// IsWritable returns true if the holder may write without asking anyone.
func (s State) IsWritable() bool {
	return s == Exclusive || s == Modified
}

// IsDirty returns true if the holder must write the block back on eviction.
func (s State) IsDirty() bool {
	return s == Owned || s == Modified
}

// ParseState converts a one-letter name back to a State.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}

	return Invalid, fmt.Errorf("unknown coherence state %q", name)
}
