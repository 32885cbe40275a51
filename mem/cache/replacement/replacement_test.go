package replacement

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LRU", func() {
	var p Policy

	BeforeEach(func() {
		var err error
		p, err = New(LRU, 4)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should evict the least recently used way", func() {
		for _, w := range []int{0, 1, 2, 3} {
			p.RecordAccess(w)
		}

		Expect(p.PickVictim(Any)).To(Equal(0))
		Expect(p.Order()).To(Equal([]int{0, 1, 2, 3}))
	})

	It("should report unchanged order when touching the head", func() {
		Expect(p.RecordAccess(2)).To(BeTrue())
		Expect(p.RecordAccess(2)).To(BeFalse())
	})

	It("should demote invalidated ways", func() {
		for _, w := range []int{0, 1, 2, 3} {
			p.RecordAccess(w)
		}

		p.Invalidate(3)

		Expect(p.PickVictim(Any)).To(Equal(3))
	})

	It("should skip ineligible ways", func() {
		for _, w := range []int{0, 1, 2, 3} {
			p.RecordAccess(w)
		}

		victim := p.PickVictim(func(w int) bool { return w != 0 })

		Expect(victim).To(Equal(1))
		Expect(p.PickVictim(func(int) bool { return false })).To(Equal(-1))
	})

	It("should never pick one of the last k distinct ways", func() {
		r := rand.New(rand.NewSource(7))
		var history []int

		for i := 0; i < 500; i++ {
			w := r.Intn(4)
			p.RecordAccess(w)
			history = append(history, w)

			recent := map[int]bool{}
			for j := len(history) - 1; j >= 0 && len(recent) < 3; j-- {
				recent[history[j]] = true
			}

			Expect(recent).NotTo(HaveKey(p.PickVictim(Any)))
		}
	})
})

var _ = Describe("PLRU", func() {
	var p Policy

	BeforeEach(func() {
		var err error
		p, err = New(PLRU, 4)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should flip all bits once every way was touched", func() {
		for _, w := range []int{0, 1, 2} {
			Expect(p.RecordAccess(w)).To(BeTrue())
		}

		Expect(p.PickVictim(Any)).To(Equal(3))

		p.RecordAccess(3)

		Expect(p.Order()).To(Equal([]int{0, 1, 2, 3}))
		Expect(p.PickVictim(Any)).To(Equal(0))
	})

	It("should report unchanged state when touching a cleared way", func() {
		Expect(p.RecordAccess(1)).To(BeTrue())
		Expect(p.RecordAccess(1)).To(BeFalse())
	})

	It("should never pick the way just touched", func() {
		r := rand.New(rand.NewSource(11))

		for i := 0; i < 500; i++ {
			w := r.Intn(4)
			p.RecordAccess(w)
			Expect(p.PickVictim(Any)).NotTo(Equal(w))
		}
	})

	It("should prefer invalidated ways", func() {
		p.RecordAccess(0)
		p.RecordAccess(1)
		p.RecordAccess(2)
		p.Invalidate(1)

		Expect(p.PickVictim(Any)).To(Equal(1))
	})

	It("should fall back to any eligible way", func() {
		p.RecordAccess(0)
		p.RecordAccess(1)

		victim := p.PickVictim(func(w int) bool { return w < 2 })

		Expect(victim).To(Equal(0))
	})
})

var _ = Describe("New", func() {
	It("should reject unknown policies", func() {
		_, err := New("random", 4)
		Expect(err).To(HaveOccurred())
	})

	It("should reject empty sets", func() {
		_, err := New(LRU, 0)
		Expect(err).To(HaveOccurred())
	})
})
