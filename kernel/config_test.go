package kernel

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	It("should boot with the defaults", func() {
		Expect(DefaultConfig().Validate()).To(Succeed())
	})

	It("should collect every invalid parameter", func() {
		cfg := DefaultConfig()
		cfg.NumCPU = 0
		cfg.DiskBlocks = 1
		cfg.Disk = "tape"

		err := cfg.Validate()

		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("NumCPU"))
		Expect(err.Error()).To(ContainSubstring("DiskBlocks"))
		Expect(err.Error()).To(ContainSubstring("tape"))
	})

	Context("with environment overrides", func() {
		var dir string

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
		})

		It("should read an env file", func() {
			path := filepath.Join(dir, "kcore.env")
			Expect(os.WriteFile(path, []byte(
				"KCORE_NCPU=2\nKCORE_NBUF=7\nKCORE_COW=true\nKCORE_DISK=SQLite\n",
			), 0o644)).To(Succeed())

			DeferCleanup(func() {
				for _, v := range []string{
					"KCORE_NCPU", "KCORE_NBUF", "KCORE_COW", "KCORE_DISK",
				} {
					os.Unsetenv(v)
				}
			})

			cfg, err := LoadConfig(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.NumCPU).To(Equal(2))
			Expect(cfg.NumBuf).To(Equal(7))
			Expect(cfg.CopyOnWrite).To(BeTrue())
			Expect(cfg.Disk).To(Equal(DiskSQLite))
			Expect(cfg.NumBucket).To(Equal(DefaultConfig().NumBucket))
		})

		It("should prefer the environment over the file", func() {
			path := filepath.Join(dir, "kcore.env")
			Expect(os.WriteFile(path, []byte("KCORE_NFRAMES=64\n"), 0o644)).
				To(Succeed())
			GinkgoT().Setenv("KCORE_NFRAMES", "128")

			cfg, err := LoadConfig(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.NumFrames).To(Equal(128))
		})

		It("should reject malformed numbers", func() {
			GinkgoT().Setenv("KCORE_NBUCKET", "many")

			_, err := LoadConfig()

			Expect(err).To(MatchError(ContainSubstring("KCORE_NBUCKET")))
		})

		It("should reject a missing env file", func() {
			_, err := LoadConfig(filepath.Join(dir, "missing.env"))

			Expect(err).To(HaveOccurred())
		})
	})
})
