package tracing

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/kcore/datarecording"
	"github.com/sarchlab/kcore/sim/cpu"
	"github.com/sarchlab/kcore/sim/hooking"
	"github.com/sarchlab/kcore/sim/id"
)

type fakeDomain struct {
	hooking.HookableBase
}

func (d *fakeDomain) Name() string {
	return "kalloc"
}

var hookPosAlloc = &hooking.HookPos{Name: "Alloc"}

type counterClock struct {
	t uint64
}

func (c *counterClock) Now() uint64 {
	c.t++
	return c.t
}

var _ = Describe("Trace hook", func() {
	var (
		mockCtrl *gomock.Controller
		tracer   *MockTracer
		domain   *fakeDomain
		ctx      context.Context
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tracer = NewMockTracer(mockCtrl)
		domain = &fakeDomain{}

		cores := cpu.NewCores(2)
		ctx = cpu.WithPID(cpu.WithCore(context.Background(), cores[1]), 7)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should turn a hook event into a task", func() {
		CollectTrace(domain, tracer, id.NewSequential())

		expected := Task{
			ID:       "1",
			ParentID: "pid7",
			Kind:     "kalloc",
			What:     "Alloc",
			Where:    "cpu1",
			Detail:   "frame 3",
		}

		gomock.InOrder(
			tracer.EXPECT().StartTask(expected),
			tracer.EXPECT().EndTask(expected),
		)

		domain.InvokeHook(hooking.HookCtx{
			Ctx:    ctx,
			Domain: domain,
			Pos:    hookPosAlloc,
			Item:   "frame",
			Detail: 3,
		})
	})

	It("should not attach the same tracer twice", func() {
		CollectTrace(domain, tracer, id.NewSequential())

		Expect(func() {
			CollectTrace(domain, tracer, id.NewSequential())
		}).To(Panic())
	})

	It("should store and read back events", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")
		recorder := datarecording.New(path)
		dbTracer := NewDBTracer(&counterClock{}, recorder)

		CollectTrace(domain, dbTracer, id.NewSequential())

		for i := 0; i < 3; i++ {
			domain.InvokeHook(hooking.HookCtx{
				Ctx:    ctx,
				Domain: domain,
				Pos:    hookPosAlloc,
				Item:   i,
			})
		}

		Expect(recorder.Close()).To(Succeed())

		reader := datarecording.NewReader(path + ".sqlite3")
		defer reader.Close()

		traceReader := NewTraceReader(reader)

		tasks, total, err := traceReader.ListTasks(context.Background(),
			TaskQuery{Kind: "kalloc", Limit: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(3))
		Expect(tasks).To(HaveLen(2))
		Expect(tasks[0]).To(Equal(Task{
			ID:        "1",
			ParentID:  "pid7",
			Kind:      "kalloc",
			What:      "Alloc",
			Where:     "cpu1",
			Detail:    "0",
			StartTime: 1,
			EndTime:   2,
		}))

		tasks, _, err = traceReader.ListTasks(context.Background(),
			TaskQuery{EnableTimeRange: true, StartTime: 4, EndTime: 4})
		Expect(err).NotTo(HaveOccurred())
		Expect(tasks).To(HaveLen(1))
		Expect(tasks[0].ID).To(Equal("2"))

		components, err := traceReader.ListComponents(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(components).To(Equal([]string{"cpu1"}))
	})
})
