package tracing

import (
	"fmt"
	"log"
	"reflect"
	"strings"

	"github.com/sarchlab/kcore/sim/cpu"
	"github.com/sarchlab/kcore/sim/hooking"
	"github.com/sarchlab/kcore/sim/id"
)

// NamedHookable is a hookable kernel subsystem with a name, such as the page
// allocator or the buffer cache.
type NamedHookable interface {
	hooking.Hookable
	Name() string
}

// CollectTrace lets the tracer collect one task per hook event of a domain.
func CollectTrace(domain NamedHookable, tracer Tracer, ids id.Generator) {
	hooks := domain.Hooks()
	for _, hook := range hooks {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			log.Panicf("domain %s already has tracer %s",
				domain.Name(), reflect.TypeOf(tracer))
		}
	}

	h := traceHook{t: tracer, ids: ids, kind: domain.Name()}
	domain.AcceptHook(&h)
}

// A traceHook turns hook events into tasks.
type traceHook struct {
	t    Tracer
	ids  id.Generator
	kind string
}

// Func records the event as a task that starts and ends at once.
func (h *traceHook) Func(ctx hooking.HookCtx) {
	task := Task{
		ID:     h.ids.Generate(),
		Kind:   h.kind,
		What:   ctx.Pos.Name,
		Where:  fmt.Sprintf("cpu%d", cpu.FromContext(ctx.Ctx).ID()),
		Detail: describe(ctx),
	}

	if pid := cpu.PID(ctx.Ctx); pid != 0 {
		task.ParentID = fmt.Sprintf("pid%d", pid)
	}

	h.t.StartTask(task)
	h.t.EndTask(task)
}

func describe(ctx hooking.HookCtx) string {
	parts := []string{}

	if ctx.Item != nil {
		parts = append(parts, fmt.Sprint(ctx.Item))
	}

	if ctx.Detail != nil {
		parts = append(parts, fmt.Sprint(ctx.Detail))
	}

	return strings.Join(parts, " ")
}
