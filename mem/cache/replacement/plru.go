package replacement

import "github.com/bits-and-blooms/bitset"

// plru keeps one bit per way. A set bit marks a preferred victim; touching a
// way clears its bit, and when no bit is left set every other way becomes a
// preferred victim again.
type plru struct {
	ways int
	bits *bitset.BitSet
}

func newPLRU(ways int) *plru {
	p := &plru{ways: ways, bits: bitset.New(uint(ways))}
	p.Reset()

	return p
}

func (p *plru) Reset() {
	for i := 0; i < p.ways; i++ {
		p.bits.Set(uint(i))
	}
}

func (p *plru) PickVictim(eligible func(way int) bool) int {
	for i, ok := p.bits.NextSet(0); ok; i, ok = p.bits.NextSet(i + 1) {
		if eligible(int(i)) {
			return int(i)
		}
	}

	for i := 0; i < p.ways; i++ {
		if eligible(i) {
			return i
		}
	}

	return -1
}

func (p *plru) RecordAccess(way int) bool {
	wasPreferred := p.bits.Test(uint(way))
	p.bits.Clear(uint(way))

	if p.bits.None() {
		for i := 0; i < p.ways; i++ {
			if i != way {
				p.bits.Set(uint(i))
			}
		}
	}

	return wasPreferred
}

func (p *plru) Invalidate(way int) {
	p.bits.Set(uint(way))
}

func (p *plru) Order() []int {
	order := make([]int, 0, p.ways)

	for i := 0; i < p.ways; i++ {
		if p.bits.Test(uint(i)) {
			order = append(order, i)
		}
	}

	for i := 0; i < p.ways; i++ {
		if !p.bits.Test(uint(i)) {
			order = append(order, i)
		}
	}

	return order
}
