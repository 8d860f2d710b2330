package fs

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kcore/disk"
	"github.com/sarchlab/kcore/mem/bcache"
	"github.com/sarchlab/kcore/sim/cpu"
)

var _ = Describe("FS", func() {
	var (
		ctx context.Context
		d   *disk.Memory
		fs  *FS
	)

	BeforeEach(func() {
		ctx = cpu.WithPID(cpu.WithCore(context.Background(), cpu.NewCores(1)[0]), 1)
		d = disk.NewMemory(64, 128)
		cache := bcache.MakeBuilder().
			WithNumBuf(4).
			WithNumBucket(3).
			WithBlockSize(64).
			WithDisk(d).
			Build("Bcache")
		fs = New(cache, 1, 2, 100)
	})

	It("should create and read back a file across blocks", func() {
		content := strings.Repeat("0123456789", 20)
		_, err := fs.Create(ctx, "digits", []byte(content), 0)
		Expect(err).NotTo(HaveOccurred())

		f, err := fs.Open("digits", ORdOnly)
		Expect(err).NotTo(HaveOccurred())

		got := make([]byte, 300)
		n, err := f.ReadAt(ctx, got, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got[:n])).To(Equal(content))

		n, _ = f.ReadAt(ctx, got[:5], 60)
		Expect(string(got[:n])).To(Equal("01234"))

		n, _ = f.ReadAt(ctx, got, 200)
		Expect(n).To(BeZero())
	})

	It("should refuse duplicate names and missing files", func() {
		_, err := fs.Create(ctx, "a", nil, 1)
		Expect(err).NotTo(HaveOccurred())

		_, err = fs.Create(ctx, "a", nil, 1)
		Expect(err).To(MatchError(ErrExists))

		_, err = fs.Open("b", ORdOnly)
		Expect(err).To(MatchError(ErrNotFound))

		_, err = fs.Open("a", 7)
		Expect(err).To(MatchError(ErrMode))
	})

	It("should run out of blocks", func() {
		_, err := fs.Create(ctx, "big", nil, 100)
		Expect(err).NotTo(HaveOccurred())

		_, err = fs.Create(ctx, "more", nil, 1)
		Expect(err).To(MatchError(ErrNoSpace))
	})

	It("should grow files up to their blocks", func() {
		ip, _ := fs.Create(ctx, "log", nil, 2)
		f, _ := fs.Open("log", ORdWr)

		n, err := f.Write(ctx, []byte("hello "))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(6))
		_, _ = f.Write(ctx, []byte("world"))
		Expect(ip.Size(ctx)).To(Equal(uint64(11)))

		n, err = ip.WriteAt(ctx, make([]byte, 200), 100)
		Expect(err).To(MatchError(ErrNoSpace))
		Expect(n).To(Equal(28))
		Expect(ip.Size(ctx)).To(Equal(uint64(128)))

		_, err = ip.WriteAt(ctx, []byte("x"), 128)
		Expect(err).To(MatchError(ErrNoSpace))
	})

	It("should drop what does not fit when writing at an offset", func() {
		ip, _ := fs.Create(ctx, "small", []byte("abc"), 0)
		f, _ := fs.Open("small", ORdWr)

		n, err := f.WriteAt(ctx, make([]byte, 200), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(64))
		Expect(ip.Size(ctx)).To(Equal(uint64(64)))

		n, err = f.WriteAt(ctx, []byte("x"), 64)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("should go through the disk", func() {
		_, err := fs.Create(ctx, "data", []byte(strings.Repeat("z", 64*6)), 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(d.Writes()).To(Equal(uint64(6)))

		f, _ := fs.Open("data", ORdOnly)
		buf := make([]byte, 64)
		_, _ = f.ReadAt(ctx, buf, 0)

		Expect(d.Reads()).To(BeNumerically(">=", 7))
	})

	It("should enforce the open mode on sequential access", func() {
		_, _ = fs.Create(ctx, "ro", []byte("abc"), 0)
		f, _ := fs.Open("ro", ORdOnly)

		_, err := f.Write(ctx, []byte("x"))
		Expect(err).To(MatchError(ErrMode))

		buf := make([]byte, 2)
		n, _ := f.Read(ctx, buf)
		Expect(string(buf[:n])).To(Equal("ab"))
		n, _ = f.Read(ctx, buf)
		Expect(string(buf[:n])).To(Equal("c"))

		w, _ := fs.Open("ro", OWrOnly)
		_, err = w.Read(ctx, buf)
		Expect(err).To(MatchError(ErrMode))
	})

	It("should count references", func() {
		_, _ = fs.Create(ctx, "f", nil, 1)
		f, _ := fs.Open("f", ORdWr)

		Expect(f.Dup()).To(BeIdenticalTo(f))
		Expect(f.Refs()).To(Equal(2))

		f.Close(ctx)
		f.Close(ctx)
		Expect(f.Refs()).To(BeZero())

		Expect(func() { f.Dup() }).To(PanicWith(ContainSubstring("filedup")))
		Expect(func() { f.Close(ctx) }).To(PanicWith(ContainSubstring("fileclose")))
	})
})
