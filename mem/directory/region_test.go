package directory

import (
	"github.com/bits-and-blooms/bitset"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cohsim/mem/coherence"
)

var _ = Describe("RegionDirectory", func() {
	var (
		eb  *RegionEvictBuffer
		dir *RegionDirectory
	)

	allocate := func(addr uint64, nodes ...int) Handle {
		h := dir.Lookup(addr)
		Expect(h.Found()).To(BeFalse())
		Expect(dir.Allocate(h, addr, coherence.SharersOf(nodes...))).
			To(BeTrue())

		return h
	}

	blockSharers := func(addr uint64) []int {
		h := dir.Lookup(addr)
		Expect(h.Found()).To(BeTrue())

		return h.Sharers().List()
	}

	owner := func(addr uint64) int {
		_, o, found := dir.RegionState(addr)
		Expect(found).To(BeTrue())

		return o
	}

	Context("with one way per set", func() {
		BeforeEach(func() {
			eb = NewRegionEvictBuffer("EB", 2, 0x100)
			dir = NewRegionDirectory("Dir", makeLayout(0x100, 2, 1), 0x40, eb)
		})

		It("should keep per-block sharers", func() {
			allocate(0x40, 1)
			dir.Lookup(0x80).AddSharer(2)

			Expect(dir.BlocksPerRegion()).To(Equal(4))
			Expect(dir.RegionAddress(0xc8)).To(Equal(uint64(0x0)))
			Expect(dir.BlockAddress(0xc8)).To(Equal(uint64(0xc0)))
			Expect(blockSharers(0x40)).To(Equal([]int{1}))
			Expect(blockSharers(0x80)).To(Equal([]int{2}))
			Expect(blockSharers(0x0)).To(BeEmpty())
		})

		It("should track the region owner", func() {
			h := allocate(0x40)
			h.SetSharer(1)
			Expect(owner(0x0)).To(Equal(1))

			dir.Lookup(0x80).AddSharer(2)
			Expect(owner(0x0)).To(Equal(coherence.NoNode))

			dir.Lookup(0x80).SetSharer(1)
			Expect(owner(0x0)).To(Equal(1))

			dir.Lookup(0x40).RemoveSharer(1)
			dir.Lookup(0x80).RemoveSharer(1)
			Expect(owner(0x0)).To(Equal(coherence.NoNode))
		})

		It("should move displaced regions into the evict buffer", func() {
			allocate(0x0, 1)
			dir.Lookup(0x40).AddSharer(2)

			allocate(0x200, 3)

			Expect(dir.Lookup(0x0).Found()).To(BeFalse())

			regionOwner, blocks, found := eb.FindRegion(0x0)
			Expect(found).To(BeTrue())
			Expect(regionOwner).To(Equal(coherence.NoNode))
			Expect(blocks).To(HaveLen(2))
		})

		It("should reclaim blocks that are not being invalidated", func() {
			allocate(0x0, 1)
			dir.Lookup(0x40).AddSharer(2)
			allocate(0x200)
			eb.MarkInvalidatesSent(0x0)

			allocate(0xc0)

			Expect(blockSharers(0x0)).To(BeEmpty())
			Expect(blockSharers(0x40)).To(Equal([]int{2}))
			Expect(eb.InvalidatesPending(0x0)).To(BeTrue())

			_, found := eb.Find(0x40)
			Expect(found).To(BeFalse())
		})

		It("should prefer live state over buffered state", func() {
			allocate(0x0)
			dir.Lookup(0x40).AddSharer(2)
			allocate(0x200)

			allocate(0x40, 3)

			Expect(blockSharers(0x40)).To(Equal([]int{3}))
			Expect(eb.Empty()).To(BeTrue())
		})

		It("should reclaim the owner unless a revoke is in flight", func() {
			allocate(0x0).SetSharer(1)
			allocate(0x200)

			e, found := eb.OldestRequiringRevoke()
			Expect(found).To(BeTrue())
			Expect(e.Owner).To(Equal(1))

			allocate(0x0)
			Expect(owner(0x0)).To(Equal(1))
			Expect(blockSharers(0x0)).To(Equal([]int{1}))
			Expect(eb.Empty()).To(BeTrue())
		})

		It("should leave a revoked owner in the evict buffer", func() {
			allocate(0x0).SetSharer(1)
			allocate(0x200)
			eb.MarkRevokeSent(0x0)

			allocate(0x0)
			Expect(owner(0x0)).To(Equal(coherence.NoNode))
			Expect(blockSharers(0x0)).To(Equal([]int{1}))
			Expect(eb.Empty()).To(BeFalse())

			Expect(eb.CompleteRevoke(0x0)).To(Succeed())
			Expect(eb.Empty()).To(BeTrue())
		})

		It("should set the sharer state block by block", func() {
			allocate(0x0, 1)
			dir.Lookup(0x40).AddSharer(2)

			all := bitset.New(4).SetAll()
			Expect(dir.SetRegionSharerState(0x0, 3, all, all)).To(BeTrue())
			Expect(owner(0x0)).To(Equal(3))

			blocks, _, _ := dir.RegionState(0x0)
			for _, b := range blocks {
				Expect(b.List()).To(Equal([]int{3}))
			}

			presence := bitset.New(4).Set(0).Set(2)
			exclusive := bitset.New(4).Set(2)
			Expect(dir.SetRegionSharerState(0x0, 4, presence, exclusive)).
				To(BeTrue())
			Expect(blockSharers(0x0)).To(Equal([]int{3, 4}))
			Expect(blockSharers(0x40)).To(Equal([]int{3}))
			Expect(blockSharers(0x80)).To(Equal([]int{4}))
			Expect(owner(0x0)).To(Equal(coherence.NoNode))

			none := bitset.New(4)
			Expect(dir.SetRegionSharerState(0x0, 3, none, none)).To(BeTrue())
			Expect(dir.SetRegionSharerState(0x0, 4, none, none)).To(BeTrue())
			Expect(owner(0x0)).To(Equal(coherence.NoNode))

			blocks, _, _ = dir.RegionState(0x0)
			for _, b := range blocks {
				Expect(b.Empty()).To(BeTrue())
			}

			Expect(dir.SetRegionSharerState(0x400, 3, all, none)).To(BeFalse())
		})

		It("should refuse to allocate a region twice", func() {
			allocate(0x0, 1)

			Expect(func() { dir.AllocateRegion(0x40) }).To(Panic())
		})

		It("should hand displaced regions back to the caller", func() {
			allocate(0x0, 1)

			victim, victimOwner, ok := dir.AllocateRegion(0x200)

			Expect(ok).To(BeTrue())
			Expect(victimOwner).To(Equal(1))
			Expect(victim).To(HaveLen(1))
			Expect(victim[0x0].List()).To(Equal([]int{1}))
			Expect(eb.Empty()).To(BeTrue())
			Expect(dir.Lookup(0x200).Found()).To(BeTrue())
		})

		It("should fail when the evict buffer is full", func() {
			Expect(eb.Reserve(2)).To(Succeed())
			allocate(0x0, 1)

			h := dir.Lookup(0x200)
			Expect(dir.Allocate(h, 0x200, coherence.SharerSet{})).To(BeFalse())
			Expect(dir.Lookup(0x0).Found()).To(BeTrue())
		})

		It("should merge into a buffered region when the buffer is full", func() {
			allocate(0x0, 1)
			dir.Lookup(0x40).AddSharer(2)
			allocate(0x200)
			eb.MarkInvalidatesSent(0x0)
			allocate(0xc0)
			Expect(eb.Reserve(1)).To(Succeed())
			Expect(eb.Full()).To(BeTrue())

			allocate(0x200, 3)

			Expect(eb.Used()).To(Equal(1))

			_, blocks, found := eb.FindRegion(0x0)
			Expect(found).To(BeTrue())
			Expect(blocks).To(HaveLen(2))
			Expect(blocks[1].Address).To(Equal(uint64(0x40)))
			Expect(blocks[1].Sharers.List()).To(Equal([]int{2}))
		})

		It("should not displace regions with a protected block", func() {
			allocate(0x0).SetProtected(true)

			h := dir.Lookup(0x200)
			Expect(dir.Allocate(h, 0x200, coherence.SharerSet{})).To(BeFalse())
		})
	})

	Context("with two ways per set", func() {
		BeforeEach(func() {
			eb = NewRegionEvictBuffer("EB", 2, 0x100)
			dir = NewRegionDirectory("Dir", makeLayout(0x100, 2, 2), 0x40, eb)
		})

		It("should displace the region with the fewest blocks", func() {
			allocate(0x0, 1)
			dir.Lookup(0x40).AddSharer(1)
			allocate(0x200, 2)

			allocate(0x400)

			Expect(dir.Lookup(0x0).Found()).To(BeTrue())
			Expect(dir.Lookup(0x200).Found()).To(BeFalse())
		})

		It("should break ties by the largest sharer count", func() {
			allocate(0x0, 1, 2)
			allocate(0x200, 3)

			allocate(0x400)

			Expect(dir.Lookup(0x0).Found()).To(BeTrue())
			Expect(dir.Lookup(0x200).Found()).To(BeFalse())
		})

		It("should reuse empty regions first", func() {
			allocate(0x0, 1)
			allocate(0x200)

			allocate(0x400, 2)

			Expect(dir.Lookup(0x0).Found()).To(BeTrue())
			Expect(eb.Empty()).To(BeTrue())
		})
	})
})
