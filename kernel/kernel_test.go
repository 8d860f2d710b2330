package kernel

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kcore/datarecording"
	"github.com/sarchlab/kcore/fs"
	"github.com/sarchlab/kcore/mem/bcache"
	"github.com/sarchlab/kcore/mem/kalloc"
	"github.com/sarchlab/kcore/mem/phys"
	"github.com/sarchlab/kcore/mem/vm/vma"
	"github.com/sarchlab/kcore/monitoring"
	"github.com/sarchlab/kcore/proc"
	"github.com/sarchlab/kcore/sim/cpu"
	"github.com/sarchlab/kcore/tracing"
)

func smallBuilder() Builder {
	return MakeBuilder().
		WithNumCPU(2).
		WithNumFrames(512).
		WithNumBuf(8).
		WithNumBucket(3)
}

var _ = Describe("Kernel", func() {
	var (
		k   *Kernel
		ctx context.Context
		p   *proc.Proc
	)

	BeforeEach(func() {
		k = smallBuilder().Build("Kernel")
		ctx = k.Context(0, 0)

		var err error
		p, err = k.Spawn(ctx, phys.PageSize)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(k.Shutdown(ctx)).To(Succeed())
	})

	Context("when booted", func() {
		It("should wire the subsystems together", func() {
			Expect(k.Name()).To(Equal("Kernel"))
			Expect(k.NumCPU()).To(Equal(2))
			Expect(k.Allocator().Name()).To(Equal("Kernel.Kalloc"))
			Expect(k.Cache().Name()).To(Equal("Kernel.BCache"))
			Expect(k.Cache().NumBuf()).To(Equal(8))
			Expect(k.FS().Dev()).To(Equal(uint32(RootDev)))
			Expect(k.VM().KernelTable()).NotTo(BeZero())
			Expect(k.Memory().Layout().NumFrames()).To(Equal(512))
		})

		It("should bind cores and processes to contexts", func() {
			c1 := k.Context(1, p.PID())

			Expect(cpu.FromContext(c1).ID()).To(Equal(1))
			Expect(cpu.PID(c1)).To(Equal(p.PID()))
			Expect(proc.FromContext(c1)).To(BeIdenticalTo(p))
			Expect(cpu.FromContext(k.ServiceContext()).ID()).To(Equal(2))
		})

		It("should refuse unknown cores", func() {
			Expect(func() { k.Context(2, 0) }).To(Panic())
		})

		It("should count allocator events", func() {
			Expect(k.Counter().Count(kalloc.HookPosAlloc)).
				To(BeNumerically(">", 0))
		})
	})

	Context("system calls", func() {
		It("should grow and shrink memory with sbrk", func() {
			Expect(k.SysSbrk(ctx, p, 2*phys.PageSize)).
				To(Equal(uint64(phys.PageSize)))
			Expect(p.Size()).To(Equal(uint64(3 * phys.PageSize)))

			Expect(k.SysSbrk(ctx, p, -phys.PageSize)).
				To(Equal(uint64(3 * phys.PageSize)))
			Expect(k.SysSbrk(ctx, p, -10*phys.PageSize)).To(Equal(SysFail))
			Expect(k.SysSbrk(ctx, p, int64(phys.PLIC))).To(Equal(SysFail))
		})

		It("should report free memory and processes with sysinfo", func() {
			Expect(k.SysInfo(ctx, p, 16)).To(Equal(uint64(0)))

			info, err := p.Load(p.Context(ctx), 16, 16)
			Expect(err).NotTo(HaveOccurred())
			Expect(binary.LittleEndian.Uint64(info[0:])).
				To(Equal(k.Allocator().FreeMem()))
			Expect(binary.LittleEndian.Uint64(info[8:])).To(Equal(uint64(1)))

			Expect(k.SysInfo(ctx, p, phys.PageSize-8)).To(Equal(SysFail))
		})

		It("should open, read and close files", func() {
			_, err := k.FS().Create(ctx, "motd", []byte("hi there"), 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.CopyOut(p.Context(ctx), 0, []byte("motd\x00"))).To(Succeed())

			fd := k.SysOpen(ctx, p, 0, fs.ORdOnly)
			Expect(fd).To(Equal(uint64(0)))

			Expect(k.SysRead(ctx, p, int(fd), 64, 100, 3)).To(Equal(uint64(5)))
			data, err := p.Load(p.Context(ctx), 64, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("there"))

			Expect(k.SysClose(ctx, p, int(fd))).To(Equal(uint64(0)))
			Expect(k.SysClose(ctx, p, int(fd))).To(Equal(SysFail))
			Expect(k.SysRead(ctx, p, int(fd), 64, 1, 0)).To(Equal(SysFail))
		})

		It("should fail to open missing files and bad paths", func() {
			Expect(p.CopyOut(p.Context(ctx), 0, []byte("nope\x00"))).To(Succeed())

			Expect(k.SysOpen(ctx, p, 0, fs.ORdOnly)).To(Equal(SysFail))
			Expect(k.SysOpen(ctx, p, 10*phys.PageSize, fs.ORdOnly)).To(Equal(SysFail))
		})

		It("should reject bad mmap and munmap requests", func() {
			Expect(k.SysMmap(ctx, p, 0, phys.PageSize,
				vma.ProtRead, vma.MapPrivate, 3, 0)).To(Equal(SysFail))
			Expect(k.SysMunmap(ctx, p, 0x1000, phys.PageSize)).To(Equal(SysFail))
		})

		It("should write a shared mapping back into a smaller file", func() {
			_, err := k.FS().Create(ctx, "hello", []byte("hello"), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.CopyOut(p.Context(ctx), 0, []byte("hello\x00"))).To(Succeed())

			fd := k.SysOpen(ctx, p, 0, fs.ORdWr)
			va := k.SysMmap(ctx, p, 0, 2*phys.PageSize,
				vma.ProtRead|vma.ProtWrite, vma.MapShared, int(fd), 0)
			Expect(va).NotTo(Equal(SysFail))
			Expect(p.Store(p.Context(ctx), va, []byte("world"))).To(Succeed())
			Expect(p.Store(p.Context(ctx), va+phys.PageSize, []byte("beyond"))).To(Succeed())

			Expect(k.SysMunmap(ctx, p, va, 2*phys.PageSize)).To(Equal(uint64(0)))
			Expect(p.Mappings().Len()).To(BeZero())

			f, err := k.FS().Open("hello", fs.ORdOnly)
			Expect(err).NotTo(HaveOccurred())
			data := make([]byte, 5)
			_, err = f.ReadAt(ctx, data, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("world"))
			f.Close(ctx)
		})

		It("should reap a process whose mapping outgrows its file", func() {
			_, err := k.FS().Create(ctx, "hello", []byte("hello"), 0)
			Expect(err).NotTo(HaveOccurred())
			before := k.Allocator().FreeMem()

			q, err := k.Spawn(ctx, phys.PageSize)
			Expect(err).NotTo(HaveOccurred())
			qctx := q.Context(ctx)
			Expect(q.CopyOut(qctx, 0, []byte("hello\x00"))).To(Succeed())

			fd := k.SysOpen(ctx, q, 0, fs.ORdWr)
			va := k.SysMmap(ctx, q, 0, 2*phys.PageSize,
				vma.ProtRead|vma.ProtWrite, vma.MapShared, int(fd), 0)
			Expect(va).NotTo(Equal(SysFail))
			Expect(q.Store(qctx, va, []byte("world"))).To(Succeed())
			Expect(q.Store(qctx, va+phys.PageSize, []byte("beyond"))).To(Succeed())

			Expect(k.SysExit(ctx, q)).To(Equal(uint64(0)))
			Expect(k.Procs().Count()).To(Equal(1))
			Expect(k.Allocator().FreeMem()).To(Equal(before))
		})

		It("should fork and exit", func() {
			before := k.Allocator().FreeMem()

			pid := k.SysFork(ctx, p)
			Expect(pid).NotTo(Equal(SysFail))
			Expect(k.Procs().Count()).To(Equal(2))

			child, err := k.Procs().Lookup(int(pid))
			Expect(err).NotTo(HaveOccurred())
			Expect(child.Size()).To(Equal(p.Size()))

			Expect(k.SysExit(ctx, child)).To(Equal(uint64(0)))
			Expect(k.Procs().Count()).To(Equal(1))
			Expect(k.Allocator().FreeMem()).To(Equal(before))
		})
	})

	It("should give back all memory when a process exits", func() {
		before := k.Allocator().FreeMem()

		q, err := k.Spawn(ctx, 3*phys.PageSize)
		Expect(err).NotTo(HaveOccurred())
		Expect(k.Allocator().FreeMem()).To(BeNumerically("<", before))

		Expect(k.SysExit(ctx, q)).To(Equal(uint64(0)))
		Expect(k.Allocator().FreeMem()).To(Equal(before))
	})

	It("should expose its state to a monitor", func() {
		m := monitoring.NewMonitor()
		k.Register(m)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, "/api/list_components", nil))

		Expect(rec.Body.String()).To(MatchJSON(
			`["Kernel","Kernel.Kalloc","Kernel.BCache","Kernel.VM"]`))

		rec = httptest.NewRecorder()
		m.Handler().ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, "/api/bcache", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Scenarios", func() {
	for _, cow := range []bool{false, true} {
		cow := cow

		for _, s := range Scenarios() {
			s := s

			It(fmt.Sprintf("%d: %s (cow %t)", s.Number, s.Title, cow), func() {
				out, err := s.Run(smallBuilder().WithCopyOnWrite(cow))

				Expect(err).NotTo(HaveOccurred())
				Expect(out).NotTo(BeEmpty())
			})
		}
	}

	It("should run the mapping scenarios on a SQLite disk", func() {
		cfg := DefaultConfig()
		cfg.Disk = DiskSQLite
		cfg.DiskPath = filepath.Join(GinkgoT().TempDir(), "disk.db")

		for _, n := range []int{3, 4} {
			out, err := RunScenario(MakeBuilder().WithConfig(cfg), n)

			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("file holds"))
		}
	})

	It("should describe the file contents after munmap", func() {
		out, err := RunScenario(smallBuilder(), 4)

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(`"world"`))
	})

	It("should refuse unknown scenarios", func() {
		_, err := RunScenario(smallBuilder(), 7)

		Expect(err).To(MatchError(ErrNoScenario))
	})
})

var _ = Describe("Stress", func() {
	It("should leave the allocator and the cache as it found them", func() {
		k := smallBuilder().Build("Kernel")
		ctx := k.Context(0, 0)
		before := k.Allocator().FreeMem()

		var rounds atomic.Int64
		counts := Stress(k, 20, func(n int) { rounds.Add(int64(n)) })

		Expect(rounds.Load()).To(Equal(int64(2 * 20)))
		Expect(k.Allocator().FreeMem()).To(Equal(before))
		Expect(counts[kalloc.HookPosAlloc.Name]).To(Equal(uint64(2 * 20 * 8)))
		Expect(counts[kalloc.HookPosFree.Name]).To(Equal(uint64(2 * 20 * 8)))
		Expect(counts[bcache.HookPosHit.Name] + counts[bcache.HookPosMiss.Name]).
			To(Equal(uint64(2 * 20)))
		Expect(k.Cache().Stats(k.ServiceContext()).Held).To(Equal(0))

		Expect(k.Shutdown(ctx)).To(Succeed())
	})

	It("should record events when traced", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")
		recorder := datarecording.New(path)
		tracer := tracing.NewDBTracer(&bcache.LogicalClock{}, recorder)

		k := smallBuilder().WithTracer(tracer).Build("Kernel")
		Stress(k, 5, nil)

		Expect(tracer.NumWritten()).To(BeNumerically(">", 0))
		Expect(recorder.Close()).To(Succeed())

		reader := datarecording.NewReader(path + ".sqlite3")
		defer reader.Close()

		tasks, total, err := tracing.NewTraceReader(reader).ListTasks(
			context.Background(),
			tracing.TaskQuery{Kind: "Kernel.BCache", What: "Miss", Limit: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(BeNumerically(">", 0))
		Expect(tasks[0].Where).To(HavePrefix("cpu"))

		Expect(k.Shutdown(k.Context(0, 0))).To(Succeed())
	})
})
