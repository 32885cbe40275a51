package cache

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cohsim/mem/coherence"
)

func allocate(a *Array, addr uint64) (Victim, bool) {
	lookup := a.Lookup(addr)
	return a.Allocate(&lookup, addr, coherence.Shared)
}

var _ = Describe("Array", func() {
	var (
		a *Array
	)

	Context("with LRU replacement", func() {
		BeforeEach(func() {
			a = MakeBuilder().
				WithByteSize(128).
				WithWayAssociativity(2).
				Build("Cache")
		})

		It("should evict the least recently used block", func() {
			allocate(a, 0x40)
			allocate(a, 0x80)

			hit := a.Lookup(0x40)
			Expect(hit.Hit).To(BeTrue())
			a.RecordAccess(hit)

			victim, evicted := allocate(a, 0xC0)

			Expect(evicted).To(BeTrue())
			Expect(victim).To(Equal(Victim{Address: 0x80,
				State: coherence.Shared}))
			Expect(a.Lookup(0x80).Hit).To(BeFalse())
			Expect(a.Lookup(0x40).Hit).To(BeTrue())
			Expect(a.Lookup(0xC0).Hit).To(BeTrue())
		})

		It("should only record the access on a hit", func() {
			allocate(a, 0x40)
			allocate(a, 0x80)

			_, evicted := allocate(a, 0x40)
			Expect(evicted).To(BeFalse())

			victim, _ := allocate(a, 0xC0)
			Expect(victim.Address).To(Equal(uint64(0x80)))
		})

		It("should not evict protected blocks", func() {
			allocate(a, 0x40)
			allocate(a, 0x80)
			a.SetProtected(a.Lookup(0x40), true)

			victim, _ := allocate(a, 0xC0)

			Expect(victim.Address).To(Equal(uint64(0x80)))

			a.SetProtected(a.Lookup(0xC0), true)
			Expect(a.VictimAvailable(0x100)).To(BeFalse())
			Expect(func() { allocate(a, 0x100) }).To(Panic())
		})

		It("should reuse the slot of an invalidated block", func() {
			allocate(a, 0x40)
			allocate(a, 0x80)

			a.InvalidateBlock(a.Lookup(0x40))

			lookup := a.Lookup(0x40)
			Expect(lookup.Hit).To(BeFalse())
			Expect(lookup.Found()).To(BeTrue())

			_, evicted := a.Allocate(&lookup, 0x40, coherence.Modified)

			Expect(evicted).To(BeFalse())
			Expect(lookup.Hit).To(BeTrue())
			Expect(a.Lookup(0x80).Hit).To(BeTrue())
			Expect(a.Block(a.Lookup(0x40)).State).To(Equal(coherence.Modified))
		})

		It("should make invalidated blocks the next victim", func() {
			allocate(a, 0x40)
			allocate(a, 0x80)

			a.InvalidateBlock(a.Lookup(0x80))

			_, evicted := allocate(a, 0xC0)

			Expect(evicted).To(BeFalse())
			Expect(a.Lookup(0x40).Hit).To(BeTrue())
		})

		It("should refuse stale lookups", func() {
			allocate(a, 0x40)
			allocate(a, 0x80)
			stale := a.Lookup(0x40)

			a.RecordAccess(a.Lookup(0x80))
			allocate(a, 0xC0)

			Expect(func() { a.SetState(stale, coherence.Modified) }).
				To(Panic())
		})

		It("should refuse a lookup of another address", func() {
			lookup := a.Lookup(0x40)

			Expect(func() {
				a.Allocate(&lookup, 0x80, coherence.Shared)
			}).To(Panic())
		})

		It("should replace locked blocks on request", func() {
			allocate(a, 0x40)
			allocate(a, 0x80)
			a.SetLocked(a.Lookup(0x40), true)

			Expect(a.AlmostFull(0x40, 1)).To(BeTrue())
			Expect(a.AlmostFull(0x40, 2)).To(BeFalse())
			Expect(a.LockedVictimAvailable(0x40)).To(BeTrue())

			lookup := a.Lookup(0xC0)
			victim, evicted := a.ReplaceLocked(&lookup, 0xC0, coherence.Shared)

			Expect(evicted).To(BeTrue())
			Expect(victim.Address).To(Equal(uint64(0x40)))
			Expect(a.LockedVictimAvailable(0x40)).To(BeFalse())
		})

		It("should report the locked threshold", func() {
			Expect(a.OverLockedThreshold(0x40)).To(BeFalse())

			a.SetLockedThreshold(1)
			allocate(a, 0x40)
			a.SetLocked(a.Lookup(0x40), true)

			Expect(a.OverLockedThreshold(0x40)).To(BeTrue())

			a.SetLockedThreshold(0)
			Expect(a.OverLockedThreshold(0x40)).To(BeFalse())
		})

		It("should reject a locked threshold outside the set", func() {
			Expect(func() { a.SetLockedThreshold(-1) }).To(Panic())
			Expect(func() {
				a.SetLockedThreshold(a.Associativity())
			}).To(Panic())
		})

		It("should list the tags of a set", func() {
			allocate(a, 0x40)
			allocate(a, 0x80)

			Expect(a.SetTags(0x0)).To(ConsistOf(uint64(0x40), uint64(0x80)))
			Expect(a.SameSet(0x40, 0x1000)).To(BeTrue())
		})
	})

	Context("with pseudo-LRU replacement", func() {
		BeforeEach(func() {
			a = MakeBuilder().
				WithByteSize(256).
				WithWayAssociativity(4).
				WithReplaceStrategy("plru").
				Build("Cache")
		})

		It("should never evict the block just accessed", func() {
			r := rand.New(rand.NewSource(3))
			var last uint64

			for i := 0; i < 200; i++ {
				addr := uint64(r.Intn(8)+1) * 64
				lookup := a.Lookup(addr)

				if lookup.Hit {
					a.RecordAccess(lookup)
				} else {
					victim, evicted := a.Allocate(&lookup, addr,
						coherence.Shared)
					if evicted {
						Expect(victim.Address).NotTo(Equal(last))
					}
				}

				last = addr
			}
		})

		It("should skip protected blocks", func() {
			for _, addr := range []uint64{0x40, 0x80, 0xC0} {
				allocate(a, addr)
			}

			allocate(a, 0x100)
			a.SetProtected(a.Lookup(0x40), true)

			victim, _ := allocate(a, 0x140)

			Expect(victim.Address).NotTo(Equal(uint64(0x40)))
			Expect(a.Lookup(0x40).Hit).To(BeTrue())
		})
	})

	It("should place blocks by the banked layout", func() {
		a = MakeBuilder().
			WithByteSize(1024).
			WithWayAssociativity(2).
			WithBanks(2, 64).
			Build("Banked")

		allocate(a, 0x40)

		Expect(a.Layout().Bank(0x40)).To(Equal(1))
		Expect(a.SetTags(0x40)).To(ConsistOf(uint64(0x40)))
	})
})

var _ = Describe("Builder", func() {
	It("should panic on unknown replacement", func() {
		Expect(func() {
			MakeBuilder().WithReplaceStrategy("random").Build("Cache")
		}).To(Panic())
	})

	It("should panic on a partial set", func() {
		Expect(func() {
			MakeBuilder().WithByteSize(100).Build("Cache")
		}).To(Panic())
	})

	It("should panic on a bad geometry", func() {
		Expect(func() {
			MakeBuilder().WithByteSize(3 * 256).Build("Cache")
		}).To(Panic())
	})
})
