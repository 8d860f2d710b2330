package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kcore/disk"
	"github.com/sarchlab/kcore/mem/bcache"
	"github.com/sarchlab/kcore/mem/kalloc"
	"github.com/sarchlab/kcore/mem/phys"
	"github.com/sarchlab/kcore/sim/cpu"
)

type sampleComponent struct {
	name  string
	Count int
	Label string
}

func (c *sampleComponent) Name() string {
	return c.name
}

var _ = Describe("Monitor", func() {
	var (
		m       *Monitor
		handler http.Handler
		ctx     context.Context
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		return rec
	}

	BeforeEach(func() {
		m = NewMonitor()
		handler = m.Handler()
		ctx = cpu.WithCore(context.Background(), cpu.NewCores(1)[0])
	})

	It("should list registered components", func() {
		m.RegisterComponent(&sampleComponent{name: "A"})
		m.RegisterComponent(&sampleComponent{name: "B"})

		rec := get("/api/list_components")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`["A","B"]`))
	})

	It("should serialize a component", func() {
		m.RegisterComponent(&sampleComponent{name: "A", Count: 3, Label: "x"})

		rec := get("/api/component/A")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.Len()).To(BeNumerically(">", 0))
	})

	It("should report unknown components", func() {
		Expect(get("/api/component/nothing").Code).
			To(Equal(http.StatusNotFound))
	})

	It("should reject malformed field requests", func() {
		Expect(get("/api/field/notjson").Code).
			To(Equal(http.StatusBadRequest))
	})

	It("should report the page allocator", func() {
		mem := phys.NewMemory(phys.LayoutWithFrames(8))
		a := kalloc.MakeBuilder().
			WithMemory(mem).
			WithNumCPU(2).
			Build("Kalloc")
		m.RegisterAllocator(a)

		_, ok := a.Alloc(ctx)
		Expect(ok).To(BeTrue())

		rec := get("/api/kalloc")
		Expect(rec.Code).To(Equal(http.StatusOK))

		rsp := allocatorRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Name).To(Equal("Kalloc"))
		Expect(rsp.FreePerCPU).To(Equal([]int{7, 0}))
		Expect(rsp.FreeBytes).To(Equal(uint64(7 * phys.PageSize)))
	})

	It("should report the buffer cache", func() {
		c := bcache.MakeBuilder().
			WithNumBuf(4).
			WithNumBucket(2).
			WithBlockSize(64).
			WithDisk(disk.NewMemory(64, 16)).
			Build("BCache")
		m.RegisterCache(ctx, c)

		b := c.Read(ctx, 1, 3)
		c.Release(ctx, b)
		b = c.Read(ctx, 1, 3)

		rec := get("/api/bcache")
		Expect(rec.Code).To(Equal(http.StatusOK))

		rsp := cacheRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Hits).To(Equal(uint64(1)))
		Expect(rsp.Misses).To(Equal(uint64(1)))
		Expect(rsp.Held).To(Equal(1))
		Expect(rsp.Occupancy).To(HaveLen(2))

		c.Release(ctx, b)
	})

	It("should answer 404 before subsystems are registered", func() {
		Expect(get("/api/kalloc").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/bcache").Code).To(Equal(http.StatusNotFound))
	})

	It("should track progress bars", func() {
		bar := m.CreateProgressBar("stress", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)

		rec := get("/api/progress")
		bars := []ProgressBarStatus{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("stress"))
		Expect(bars[0].Finished).To(Equal(uint64(2)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)

		rec = get("/api/progress")
		Expect(rec.Body.String()).To(MatchJSON(`[]`))
	})

	It("should report host resources", func() {
		rec := get("/api/resource")

		Expect(rec.Code).To(Equal(http.StatusOK))

		rsp := resourceRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should serve the dashboard", func() {
		rec := get("/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should start and stop a server", func() {
		url := m.WithPortNumber(0).StartServer()

		rsp, err := http.Get(url + "/api/list_components")
		Expect(err).NotTo(HaveOccurred())
		rsp.Body.Close()
		Expect(rsp.StatusCode).To(Equal(http.StatusOK))

		Expect(m.StopServer(context.Background())).To(Succeed())
	})
})
