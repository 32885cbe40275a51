// Package replacement implements the per-set victim selection policies used
// by caches and directories.
package replacement

import "fmt"

// Names of the supported policies.
const (
	LRU  = "lru"
	PLRU = "plru"
)

// A Policy keeps the recency state of one set.
type Policy interface {
	// PickVictim returns the way that should be replaced next among the ways
	// for which eligible returns true, or -1 if no way is eligible.
	PickVictim(eligible func(way int) bool) int

	// RecordAccess marks way as just used. It returns false if the way was
	// already the most protected one and nothing changed.
	RecordAccess(way int) bool

	// Invalidate makes way the next victim.
	Invalidate(way int)

	// Reset restores the state of a freshly built set.
	Reset()

	// Order lists the ways from the next victim to the most recently used.
	Order() []int
}

// New creates the policy state for a set with the given number of ways.
func New(name string, ways int) (Policy, error) {
	if ways <= 0 {
		return nil, fmt.Errorf("replacement: %d ways", ways)
	}

	switch name {
	case LRU:
		return newLRU(ways), nil
	case PLRU:
		return newPLRU(ways), nil
	default:
		return nil, fmt.Errorf("replacement: unknown policy %q", name)
	}
}

// Any accepts every way.
func Any(int) bool {
	return true
}
