package replacement

// lru keeps an explicit recency list; mru[0] is the most recently used way.
type lru struct {
	mru []int
}

func newLRU(ways int) *lru {
	p := &lru{mru: make([]int, ways)}
	p.Reset()

	return p
}

func (p *lru) Reset() {
	for i := range p.mru {
		p.mru[i] = i
	}
}

func (p *lru) PickVictim(eligible func(way int) bool) int {
	for i := len(p.mru) - 1; i >= 0; i-- {
		if eligible(p.mru[i]) {
			return p.mru[i]
		}
	}

	return -1
}

func (p *lru) position(way int) int {
	for i, w := range p.mru {
		if w == way {
			return i
		}
	}

	panic("way not in recency list")
}

func (p *lru) RecordAccess(way int) bool {
	pos := p.position(way)
	if pos == 0 {
		return false
	}

	copy(p.mru[1:pos+1], p.mru[:pos])
	p.mru[0] = way

	return true
}

func (p *lru) Invalidate(way int) {
	pos := p.position(way)
	last := len(p.mru) - 1

	copy(p.mru[pos:last], p.mru[pos+1:])
	p.mru[last] = way
}

func (p *lru) Order() []int {
	order := make([]int, len(p.mru))
	for i, w := range p.mru {
		order[len(p.mru)-1-i] = w
	}

	return order
}
