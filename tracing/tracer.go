// Package tracing turns the hook events of the allocator and the buffer cache
// into tasks and stores them.
package tracing

// A Tracer can collect task traces
type Tracer interface {
	StartTask(task Task)
	EndTask(task Task)
}

// A TimeTeller reads the clock that stamps tasks.
type TimeTeller interface {
	Now() uint64
}
