// Package geometry maps addresses onto the sets, banks, and groups of an
// interleaved set-associative structure.
package geometry

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrInvalidGeometry is returned when a configuration cannot be laid out.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Config describes an interleaved set-associative structure. Granularity is
// the number of bytes covered by one entry: the block size for caches and
// flat directories, the region size for region directories.
type Config struct {
	Granularity       uint64
	NumSets           int
	Associativity     int
	Banks             int
	BankInterleaving  uint64
	Groups            int
	GroupInterleaving uint64
}

// Layout holds the shifts and masks derived from a Config.
type Layout struct {
	cfg Config

	offsetBits uint
	tagMask    uint64

	setLowShift, setMidShift, setHighShift uint
	setLowMask, setMidMask, setHighMask    uint64

	bankShift  uint
	bankMask   uint64
	groupShift uint
	groupMask  uint64
}

// New validates cfg and derives its layout. Zero bank and group fields
// default to a single bank and group.
func New(cfg Config) (Layout, error) {
	cfg = withDefaults(cfg)

	if err := validate(cfg); err != nil {
		return Layout{}, err
	}

	l := Layout{cfg: cfg}
	l.offsetBits = Log2(cfg.Granularity)
	l.tagMask = ^(cfg.Granularity - 1)

	indexBits := Log2(uint64(cfg.NumSets))
	bankBits := Log2(uint64(cfg.Banks))
	groupBits := Log2(uint64(cfg.Groups))
	bankInterleavingBits := Log2(cfg.BankInterleaving)
	groupInterleavingBits := Log2(cfg.GroupInterleaving)

	lowBits := bankInterleavingBits - l.offsetBits
	midBits := groupInterleavingBits - bankInterleavingBits - bankBits
	var highBits uint

	switch {
	case lowBits >= indexBits:
		lowBits = indexBits
		midBits = 0
	case midBits+lowBits >= indexBits:
		midBits = indexBits - lowBits
	default:
		highBits = indexBits - midBits - lowBits
	}

	l.setLowShift = l.offsetBits
	l.setMidShift = bankBits + l.offsetBits
	l.setHighShift = groupBits + bankBits + l.offsetBits
	l.setLowMask = (uint64(1) << lowBits) - 1
	l.setMidMask = ((uint64(1) << midBits) - 1) << lowBits
	l.setHighMask = ((uint64(1) << highBits) - 1) << (midBits + lowBits)

	l.bankShift = bankInterleavingBits
	l.bankMask = uint64(cfg.Banks - 1)
	l.groupShift = groupInterleavingBits
	l.groupMask = uint64(cfg.Groups - 1)

	return l, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Banks == 0 {
		cfg.Banks = 1
	}

	if cfg.Groups == 0 {
		cfg.Groups = 1
	}

	if cfg.BankInterleaving == 0 {
		cfg.BankInterleaving = cfg.Granularity
	}

	if cfg.GroupInterleaving == 0 {
		cfg.GroupInterleaving = cfg.BankInterleaving * uint64(cfg.Banks)
	}

	return cfg
}

func validate(cfg Config) error {
	if !IsPowerOfTwo(cfg.Granularity) {
		return fmt.Errorf("%w: granularity %d is not a power of two",
			ErrInvalidGeometry, cfg.Granularity)
	}

	if cfg.NumSets <= 0 || !IsPowerOfTwo(uint64(cfg.NumSets)) {
		return fmt.Errorf("%w: number of sets %d is not a power of two",
			ErrInvalidGeometry, cfg.NumSets)
	}

	if cfg.Associativity <= 0 {
		return fmt.Errorf("%w: associativity %d must be positive",
			ErrInvalidGeometry, cfg.Associativity)
	}

	if cfg.Banks < 0 || !IsPowerOfTwo(uint64(cfg.Banks)) {
		return fmt.Errorf("%w: number of banks %d is not a power of two",
			ErrInvalidGeometry, cfg.Banks)
	}

	if cfg.Groups < 0 || !IsPowerOfTwo(uint64(cfg.Groups)) {
		return fmt.Errorf("%w: number of groups %d is not a power of two",
			ErrInvalidGeometry, cfg.Groups)
	}

	if !IsPowerOfTwo(cfg.BankInterleaving) ||
		cfg.BankInterleaving < cfg.Granularity {
		return fmt.Errorf(
			"%w: bank interleaving %d must be a power of two "+
				"no smaller than the granularity %d",
			ErrInvalidGeometry, cfg.BankInterleaving, cfg.Granularity)
	}

	if !IsPowerOfTwo(cfg.GroupInterleaving) ||
		cfg.GroupInterleaving < cfg.BankInterleaving*uint64(cfg.Banks) {
		return fmt.Errorf(
			"%w: group interleaving %d must be a power of two "+
				"no smaller than bank interleaving times banks (%d)",
			ErrInvalidGeometry, cfg.GroupInterleaving,
			cfg.BankInterleaving*uint64(cfg.Banks))
	}

	return nil
}

// IsPowerOfTwo returns true if x is a non-zero power of two.
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}

// Log2 returns the base-2 logarithm of a power of two.
func Log2(x uint64) uint {
	return uint(bits.TrailingZeros64(x))
}

// Config returns the configuration after defaults were applied.
func (l Layout) Config() Config {
	return l.cfg
}

// NumSets returns the number of sets.
func (l Layout) NumSets() int {
	return l.cfg.NumSets
}

// Associativity returns the number of ways per set.
func (l Layout) Associativity() int {
	return l.cfg.Associativity
}

// Granularity returns the bytes covered by one entry.
func (l Layout) Granularity() uint64 {
	return l.cfg.Granularity
}

// Tag returns the entry-aligned address, which doubles as the stored tag.
func (l Layout) Tag(addr uint64) uint64 {
	return addr & l.tagMask
}

// SetIndex returns the set that addr maps to.
func (l Layout) SetIndex(addr uint64) int {
	return int(((addr >> l.setLowShift) & l.setLowMask) |
		((addr >> l.setMidShift) & l.setMidMask) |
		((addr >> l.setHighShift) & l.setHighMask))
}

// Bank returns the bank that owns addr.
func (l Layout) Bank(addr uint64) int {
	return int((addr >> l.bankShift) & l.bankMask)
}

// Group returns the group that owns addr.
func (l Layout) Group(addr uint64) int {
	return int((addr >> l.groupShift) & l.groupMask)
}

// GlobalSetIndex numbers sets across all banks and groups so that every set
// of the whole system has a distinct number.
func (l Layout) GlobalSetIndex(addr uint64) int {
	perGroup := l.cfg.NumSets * l.cfg.Banks
	return l.Group(addr)*perGroup + l.Bank(addr)*l.cfg.NumSets + l.SetIndex(addr)
}

// GlobalSets returns the number of distinct global set indices.
func (l Layout) GlobalSets() int {
	return l.cfg.NumSets * l.cfg.Banks * l.cfg.Groups
}

// SameSet returns true if a and b map to the same set of the same bank.
func (l Layout) SameSet(a, b uint64) bool {
	return l.GlobalSetIndex(a) == l.GlobalSetIndex(b)
}
