// Package hooking lets kernel subsystems publish events to observers such as
// tracers and counters without knowing about them.
package hooking

import (
	"context"
	"sync"
)

// HookPos names a site where a hook can be triggered.
type HookPos struct {
	Name string
}

// HookCtx holds everything a hook knows about the site that triggered it.
type HookCtx struct {
	// Ctx is the execution context of the kernel code that fired the hook.
	Ctx context.Context

	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable defines an object that accepts hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook
}

// Hook is a short piece of program that can be invoked by a hookable object.
// Hooks may be invoked concurrently from several cores and must not block.
type Hook interface {
	Func(ctx HookCtx)
}

// A HookableBase implements Hookable for the types that embed it.
type HookableBase struct {
	mu       sync.RWMutex
	hookList []Hook
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.hookList)
}

// Hooks returns a copy of the registered hooks.
func (h *HookableBase) Hooks() []Hook {
	h.mu.RLock()
	defer h.mu.RUnlock()

	hooks := make([]Hook, len(h.hookList))
	copy(hooks, h.hookList)

	return hooks
}

// AcceptHook registers a hook. Registering a hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, existing := range h.hookList {
		if existing == hook {
			panic("duplicated hook")
		}
	}

	h.hookList = append(h.hookList, hook)
}

// InvokeHook triggers the registered hooks in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	h.mu.RLock()
	hooks := h.hookList
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.Func(ctx)
	}
}
