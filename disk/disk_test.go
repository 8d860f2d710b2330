package disk

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kcore/mem/bcache"
	"github.com/sarchlab/kcore/sim/cpu"
)

const blockSize = 128

type device interface {
	bcache.Disk
	Reads() uint64
	Writes() uint64
}

func newBuf(dev, blockno uint32) *bcache.Buf {
	return &bcache.Buf{Dev: dev, Blockno: blockno, Data: make([]byte, blockSize)}
}

func behaveLikeADisk(open func() device) {
	var (
		ctx context.Context
		d   device
	)

	BeforeEach(func() {
		ctx = cpu.WithPID(cpu.WithCore(context.Background(), cpu.NewCores(1)[0]), 1)
		d = open()
	})

	It("should read zeros from fresh blocks", func() {
		b := newBuf(1, 9)
		b.Data[0] = 0xff

		Expect(d.RW(ctx, b, false)).To(Succeed())

		Expect(b.Data).To(HaveEach(byte(0)))
		Expect(d.Reads()).To(Equal(uint64(1)))
	})

	It("should keep devices apart", func() {
		b := newBuf(1, 3)
		copy(b.Data, "dev one")
		Expect(d.RW(ctx, b, true)).To(Succeed())

		other := newBuf(2, 3)
		Expect(d.RW(ctx, other, false)).To(Succeed())
		Expect(other.Data).To(HaveEach(byte(0)))

		back := newBuf(1, 3)
		Expect(d.RW(ctx, back, false)).To(Succeed())
		Expect(string(back.Data[:7])).To(Equal("dev one"))
		Expect(d.Writes()).To(Equal(uint64(1)))
	})

	It("should refuse buffers of the wrong size", func() {
		b := &bcache.Buf{Dev: 1, Data: make([]byte, blockSize/2)}

		Expect(d.RW(ctx, b, false)).NotTo(Succeed())
	})

	It("should back a buffer cache", func() {
		c := bcache.MakeBuilder().
			WithNumBuf(2).
			WithNumBucket(1).
			WithBlockSize(blockSize).
			WithDisk(d).
			Build("Bcache")

		for blockno := uint32(0); blockno < 4; blockno++ {
			b := c.Read(ctx, 1, blockno)
			b.Data[0] = byte(blockno + 100)
			c.Write(ctx, b)
			c.Release(ctx, b)
		}

		b := c.Read(ctx, 1, 0)
		Expect(b.Data[0]).To(Equal(byte(100)))
		c.Release(ctx, b)
	})
}

var _ = Describe("Memory", func() {
	behaveLikeADisk(func() device {
		return NewMemory(blockSize, 64)
	})

	It("should fail beyond the end of the device", func() {
		d := NewMemory(blockSize, 4)
		ctx := cpu.WithCore(context.Background(), cpu.NewCores(1)[0])

		Expect(d.RW(ctx, newBuf(1, 4), true)).NotTo(Succeed())
	})
})

var _ = Describe("SQLite", func() {
	behaveLikeADisk(func() device {
		path := filepath.Join(GinkgoT().TempDir(), "disk.sqlite3")

		d, err := OpenSQLite(path, blockSize)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(d.Close)

		return d
	})

	It("should keep blocks across reopening", func() {
		path := filepath.Join(GinkgoT().TempDir(), "disk.sqlite3")
		ctx := context.Background()

		d, err := OpenSQLite(path, blockSize)
		Expect(err).NotTo(HaveOccurred())
		b := newBuf(1, 2)
		copy(b.Data, "persist")
		Expect(d.RW(ctx, b, true)).To(Succeed())
		Expect(d.RW(ctx, b, true)).To(Succeed())
		Expect(d.Close()).To(Succeed())

		d, err = OpenSQLite(path, blockSize)
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		back := newBuf(1, 2)
		Expect(d.RW(ctx, back, false)).To(Succeed())
		Expect(string(back.Data[:7])).To(Equal("persist"))

		n, err := d.NumBlocks(ctx, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
	})
})
