package geometry

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Layout", func() {
	It("should index a single bank by the bits above the offset", func() {
		l, err := New(Config{Granularity: 64, NumSets: 16, Associativity: 4})

		Expect(err).NotTo(HaveOccurred())
		Expect(l.SetIndex(0x40)).To(Equal(1))
		Expect(l.SetIndex(0x400)).To(Equal(0))
		Expect(l.Tag(0x47)).To(Equal(uint64(0x40)))
		Expect(l.Bank(0x12345)).To(Equal(0))
	})

	It("should skip bank bits when banks are block interleaved", func() {
		l, err := New(Config{
			Granularity:      64,
			NumSets:          16,
			Associativity:    4,
			Banks:            4,
			BankInterleaving: 64,
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(l.Bank(0x40)).To(Equal(1))
		Expect(l.SetIndex(0x40)).To(Equal(0))
		Expect(l.Bank(0x100)).To(Equal(0))
		Expect(l.SetIndex(0x100)).To(Equal(1))
	})

	It("should split the index around coarse bank interleaving", func() {
		l, err := New(Config{
			Granularity:      64,
			NumSets:          16,
			Associativity:    2,
			Banks:            2,
			BankInterleaving: 256,
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(l.SetIndex(0x1C0)).To(Equal(3))
		Expect(l.Bank(0x1C0)).To(Equal(1))
		Expect(l.SetIndex(0x200)).To(Equal(4))
		Expect(l.Bank(0x200)).To(Equal(0))
	})

	It("should map a contiguous window onto every bank and set once", func() {
		l, err := New(Config{
			Granularity:      64,
			NumSets:          16,
			Associativity:    2,
			Banks:            2,
			BankInterleaving: 256,
		})
		Expect(err).NotTo(HaveOccurred())

		seen := make(map[int]bool)
		for addr := uint64(0); addr < 16*2*64; addr += 64 {
			g := l.GlobalSetIndex(addr)
			Expect(seen).NotTo(HaveKey(g))
			seen[g] = true
		}

		Expect(seen).To(HaveLen(l.GlobalSets()))
	})

	It("should recover the set index from the stored tag", func() {
		configs := []Config{
			{Granularity: 64, NumSets: 64, Associativity: 8},
			{Granularity: 64, NumSets: 32, Associativity: 4,
				Banks: 4, BankInterleaving: 64},
			{Granularity: 64, NumSets: 8, Associativity: 4,
				Banks: 2, BankInterleaving: 1024},
			{Granularity: 256, NumSets: 16, Associativity: 4,
				Banks: 2, BankInterleaving: 512, Groups: 2,
				GroupInterleaving: 4096},
		}

		r := rand.New(rand.NewSource(1))
		for _, cfg := range configs {
			l, err := New(cfg)
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 1000; i++ {
				addr := r.Uint64() >> 16
				Expect(l.SetIndex(l.Tag(addr))).To(Equal(l.SetIndex(addr)))
				Expect(l.SetIndex(addr)).To(BeNumerically("<", cfg.NumSets))
				Expect(l.SameSet(addr, l.Tag(addr))).To(BeTrue())
			}
		}
	})

	DescribeTable("should reject invalid configurations",
		func(cfg Config) {
			_, err := New(cfg)
			Expect(err).To(MatchError(ErrInvalidGeometry))
		},
		Entry("block size", Config{Granularity: 48, NumSets: 16,
			Associativity: 4}),
		Entry("sets", Config{Granularity: 64, NumSets: 12,
			Associativity: 4}),
		Entry("associativity", Config{Granularity: 64, NumSets: 16}),
		Entry("banks", Config{Granularity: 64, NumSets: 16,
			Associativity: 4, Banks: 3}),
		Entry("bank interleaving below block size", Config{Granularity: 64,
			NumSets: 16, Associativity: 4, Banks: 2, BankInterleaving: 32}),
		Entry("group interleaving below bank span", Config{Granularity: 64,
			NumSets: 16, Associativity: 4, Banks: 4, BankInterleaving: 64,
			Groups: 2, GroupInterleaving: 128}),
	)
})
