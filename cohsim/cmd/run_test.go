package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/sarchlab/cohsim/datarecording"
	"github.com/sarchlab/cohsim/mem/harness"
)

const sampleTrace = `# two cores share one block
R 0x1000 0
R 0x1000 1
W 0x1000 2
F 0x2000 3
N 0x3000 0
`

var _ = Describe("Run", func() {
	var (
		dir   string
		trace string
		out   *bytes.Buffer
		cmd   *cobra.Command
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		trace = filepath.Join(dir, "sample.trace")
		Expect(os.WriteFile(trace, []byte(sampleTrace), 0o644)).To(Succeed())

		out = new(bytes.Buffer)
		cmd = &cobra.Command{}
		cmd.SetOut(out)
		cmd.SetErr(new(bytes.Buffer))
	})

	It("should run a trace and print counters", func() {
		err := runTrace(cmd, trace, runOptions{check: true})

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(ContainSubstring("cohsim drained after"))
		Expect(out.String()).To(ContainSubstring("Accesses"))
	})

	It("should run the bundled region sample", func() {
		err := runTrace(cmd, filepath.Join("..", "samples", "sharing.trace"),
			runOptions{
				configPath: filepath.Join("..", "samples", "region.yaml"),
				check:      true,
			})

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(ContainSubstring("cohsim drained after"))
	})

	It("should fail on a missing trace", func() {
		err := runTrace(cmd, filepath.Join(dir, "none"), runOptions{})

		Expect(err).To(HaveOccurred())
	})

	It("should fail on a config file it cannot read", func() {
		cfgPath := filepath.Join(dir, "bad.yaml")
		Expect(os.WriteFile(cfgPath, []byte("nodes: [\n"), 0o644)).
			To(Succeed())

		err := runTrace(cmd, trace, runOptions{configPath: cfgPath})

		Expect(err).To(MatchError(ErrConfig))
	})

	It("should report running out of cycles", func() {
		cmd.Flags().Uint64("max-cycles", 0, "")
		Expect(cmd.Flags().Set("max-cycles", "2")).To(Succeed())

		err := runTrace(cmd, trace, runOptions{maxCycles: 2})

		Expect(err).To(MatchError(harness.ErrStuck))
	})

	It("should continue from a saved checkpoint", func() {
		ckpt := filepath.Join(dir, "ckpt")

		Expect(runTrace(cmd, trace, runOptions{saveDir: ckpt})).To(Succeed())
		Expect(filepath.Join(ckpt, "cohsim.Bank0.json")).To(BeARegularFile())

		Expect(runTrace(cmd, trace, runOptions{loadDir: ckpt})).To(Succeed())
	})

	It("should record a run that can be reported", func() {
		record := filepath.Join(dir, "run")

		Expect(runTrace(cmd, trace, runOptions{recordPath: record})).
			To(Succeed())

		reader := datarecording.NewReader(record + ".sqlite3")
		defer reader.Close()

		report := new(bytes.Buffer)
		Expect(writeReport(context.Background(), report, reader)).To(Succeed())

		Expect(report.String()).To(ContainSubstring("Accesses"))
		Expect(report.String()).To(ContainSubstring("transactions"))
		Expect(report.String()).To(ContainSubstring("Node0"))
	})
})
