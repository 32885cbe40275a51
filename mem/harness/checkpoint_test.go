package harness

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/directory"
)

var _ = Describe("Checkpoint", func() {
	var (
		dir string
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	warm := func(b Builder) *System {
		s := b.Build("System")
		Expect(s.Load([]Access{
			{Kind: Write, Address: 0x0, Core: 0},
			{Kind: Read, Address: 0x40, Core: 1},
			{Kind: Read, Address: 0x40, Core: 2},
		})).To(Succeed())
		Expect(s.Run(10000)).To(Succeed())

		return s
	}

	DescribeTable("should restore caches and directories",
		func(b Builder) {
			saved := warm(b)
			Expect(saved.SaveCheckpoint(dir)).To(Succeed())

			restored := b.Build("System")
			Expect(restored.LoadCheckpoint(dir)).To(Succeed())

			for i, n := range restored.Nodes() {
				for _, addr := range []uint64{0x0, 0x40} {
					Expect(n.Array().Lookup(addr).State).To(Equal(
						saved.Nodes()[i].Array().Lookup(addr).State))
				}
			}

			Expect(restored.CheckDirectory()).To(Succeed())

			Expect(restored.Load([]Access{
				{Kind: Read, Address: 0x0, Core: 3},
			})).To(Succeed())
			Expect(restored.Run(10000)).To(Succeed())
			Expect(restored.Nodes()[0].Array().Lookup(0x0).State).
				To(Equal(coherence.Owned))
			Expect(restored.Memory().Stats().Reads).To(BeZero())
		},
		Entry("flat", MakeBuilder()),
		Entry("region", MakeBuilder().
			WithBanks(2, 1024).
			WithDirectory(directory.MakeBuilder().
				WithRegion(1024).
				WithNumSets(16).
				WithAssociativity(4))),
	)

	It("should write one file per structure", func() {
		s := warm(MakeBuilder())

		Expect(s.SaveCheckpoint(dir)).To(Succeed())

		files, err := os.ReadDir(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(HaveLen(len(s.Nodes()) + len(s.Banks())))
		Expect(filepath.Join(dir, "System.Bank0.json")).To(BeARegularFile())
	})

	It("should refuse to save while transactions are in flight", func() {
		s := MakeBuilder().Build("System")
		Expect(s.Load([]Access{{Kind: Read, Address: 0x0, Core: 0}})).
			To(Succeed())
		s.Step()

		Expect(s.SaveCheckpoint(dir)).To(MatchError(ErrNotQuiescent))
	})

	It("should reject a checkpoint of another shape", func() {
		Expect(warm(MakeBuilder()).SaveCheckpoint(dir)).To(Succeed())

		other := MakeBuilder().
			WithDirectory(directory.MakeBuilder().WithNumSets(8)).
			Build("System")

		Expect(other.LoadCheckpoint(dir)).To(MatchError(ContainSubstring(
			"System.Bank")))
	})
})
