package hooking

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	posA = &HookPos{Name: "A"}
	posB = &HookPos{Name: "B"}
)

type domain struct {
	HookableBase
}

type funcHook struct {
	f func(ctx HookCtx)
}

func (h *funcHook) Func(ctx HookCtx) {
	h.f(ctx)
}

var _ = Describe("HookableBase", func() {
	var d *domain

	BeforeEach(func() {
		d = &domain{}
	})

	It("should invoke hooks in registration order", func() {
		var order []string
		d.AcceptHook(&funcHook{func(HookCtx) { order = append(order, "first") }})
		d.AcceptHook(&funcHook{func(HookCtx) { order = append(order, "second") }})

		d.InvokeHook(HookCtx{Ctx: context.Background(), Domain: d, Pos: posA})

		Expect(order).To(Equal([]string{"first", "second"}))
		Expect(d.NumHooks()).To(Equal(2))
	})

	It("should pass the hook context through", func() {
		var got HookCtx
		d.AcceptHook(&funcHook{func(ctx HookCtx) { got = ctx }})

		d.InvokeHook(HookCtx{Domain: d, Pos: posB, Item: 7, Detail: "x"})

		Expect(got.Pos).To(BeIdenticalTo(posB))
		Expect(got.Item).To(Equal(7))
		Expect(got.Detail).To(Equal("x"))
	})

	It("should panic on a duplicated hook", func() {
		c := NewCounter()
		d.AcceptHook(c)

		Expect(func() { d.AcceptHook(c) }).To(Panic())
	})

	It("should return a copy of the hook list", func() {
		d.AcceptHook(NewCounter())

		hooks := d.Hooks()
		hooks[0] = nil

		Expect(d.Hooks()[0]).NotTo(BeNil())
	})
})

var _ = Describe("Counter", func() {
	It("should count by position", func() {
		d := &domain{}
		c := NewCounter()
		d.AcceptHook(c)

		d.InvokeHook(HookCtx{Domain: d, Pos: posA})
		d.InvokeHook(HookCtx{Domain: d, Pos: posA})
		d.InvokeHook(HookCtx{Domain: d, Pos: posB})

		Expect(c.Count(posA)).To(Equal(uint64(2)))
		Expect(c.Count(posB)).To(Equal(uint64(1)))
		Expect(c.Count(&HookPos{Name: "C"})).To(BeZero())
		Expect(c.Snapshot()).To(Equal(map[string]uint64{"A": 2, "B": 1}))
	})

	It("should count concurrent events", func() {
		d := &domain{}
		c := NewCounter()
		d.AcceptHook(c)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					d.InvokeHook(HookCtx{Domain: d, Pos: posA})
				}
			}()
		}
		wg.Wait()

		Expect(c.Count(posA)).To(Equal(uint64(800)))
	})

	It("should not alias its snapshot", func() {
		c := NewCounter()
		c.Func(HookCtx{Pos: posA})

		s := c.Snapshot()
		s["A"] = 100

		Expect(c.Count(posA)).To(Equal(uint64(1)))
	})
})
