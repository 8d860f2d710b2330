package tracing

// A Task is one traced kernel operation. Times are readings of the tracer's
// clock, not wall time.
type Task struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id"`
	Kind      string `json:"kind"`
	What      string `json:"what"`
	Where     string `json:"where"`
	Detail    string `json:"detail"`
	StartTime uint64 `json:"start_time"`
	EndTime   uint64 `json:"end_time"`
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool
