package cmd

import (
	"bytes"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sarchlab/kcore/kernel"
)

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}

	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)

	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(args ...string) (string, error) {
	resetFlags(rootCmd)
	envFile = ""

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()

	return out.String(), err
}

var _ = Describe("kcore", func() {
	It("should run every scenario", func() {
		out, err := run("scenario", "all", "--cpus", "2")

		Expect(err).NotTo(HaveOccurred())
		for i := 1; i <= 6; i++ {
			Expect(out).To(MatchRegexp(`scenario %d: .*: ok`, i))
		}
	})

	It("should run one scenario with copy-on-write fork", func() {
		out, err := run("scenario", "6", "--cow")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("cow true"))
		Expect(cfg.CopyOnWrite).To(BeTrue())
	})

	It("should reject unknown scenarios", func() {
		_, err := run("scenario", "9")
		Expect(err).To(MatchError(kernel.ErrNoScenario))

		_, err = run("scenario", "first")
		Expect(err).To(HaveOccurred())
	})

	It("should reject an invalid configuration", func() {
		_, err := run("stress", "--disk", "tape")

		Expect(err).To(MatchError(ContainSubstring("tape")))
	})

	It("should stress the kernel", func() {
		out, err := run("stress", "--rounds", "10", "--cpus", "3")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("3 cpus x 10 rounds"))
		Expect(out).To(ContainSubstring("Alloc"))
		Expect(out).To(ContainSubstring("Miss"))
	})

	It("should use a sqlite disk", func() {
		path := filepath.Join(GinkgoT().TempDir(), "disk.db")

		out, err := run("scenario", "4", "--disk", "sqlite", "--disk-path", path)

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(`"world"`))
		Expect(path).To(BeAnExistingFile())
	})

	It("should record and list a trace", func() {
		db := filepath.Join(GinkgoT().TempDir(), "trace")

		_, err := run("stress", "--rounds", "5", "--cpus", "2", "--trace-db", db)
		Expect(err).NotTo(HaveOccurred())

		_, err = run("stress", "--rounds", "5", "--trace-db", db)
		Expect(err).To(MatchError(ContainSubstring("already exists")))

		out, err := run("trace", db+".sqlite3", "--what", "Miss", "--limit", "3")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Kernel.BCache"))
		Expect(out).To(MatchRegexp(`3 of \d+ tasks`))
	})

	It("should fail on a missing trace", func() {
		_, err := run("trace", filepath.Join(GinkgoT().TempDir(), "none.sqlite3"))

		Expect(err).To(HaveOccurred())
	})
})
