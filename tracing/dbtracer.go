package tracing

import (
	"log"
	"sync"

	"github.com/sarchlab/kcore/datarecording"
	"github.com/tebeka/atexit"
)

// TaskTable is the table that completed tasks are written into.
const TaskTable = "trace"

// TaskEntry is the row layout of the task table.
type TaskEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	Detail    string
	StartTime uint64
	EndTime   uint64
}

// DBTracer is a tracer that stores completed tasks through a DataRecorder.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller TimeTeller
	backend    datarecording.DataRecorder
	filter     TaskFilter

	startTime, endTime uint64

	tracingTasks map[string]Task
	written      int
}

// NewDBTracer creates a new DBTracer and its table.
func NewDBTracer(
	timeTeller TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable(TaskTable, TaskEntry{})

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]Task),
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// SetTimeRange only keeps the tasks that overlap [startTime, endTime]. A zero
// bound is open.
func (t *DBTracer) SetTimeRange(startTime, endTime uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

// SetFilter only keeps the tasks that the filter accepts.
func (t *DBTracer) SetFilter(filter TaskFilter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.filter = filter
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	startingTaskMustBeValid(task)

	t.mu.Lock()
	defer t.mu.Unlock()

	task.StartTime = t.timeTeller.Now()
	if t.endTime > 0 && task.StartTime > t.endTime {
		return
	}

	if t.filter != nil && !t.filter(task) {
		return
	}

	t.tracingTasks[task.ID] = task
}

func startingTaskMustBeValid(task Task) {
	if task.ID == "" {
		log.Panic("task ID must be set")
	}

	if task.Kind == "" {
		log.Panic("task kind must be set")
	}

	if task.What == "" {
		log.Panic("task what must be set")
	}

	if task.Where == "" {
		log.Panic("task where must be set")
	}
}

// EndTask marks the end of a task and writes it out.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	originalTask.EndTime = t.timeTeller.Now()
	if t.startTime > 0 && originalTask.EndTime < t.startTime {
		return
	}

	t.backend.InsertData(TaskTable, TaskEntry{
		ID:        originalTask.ID,
		ParentID:  originalTask.ParentID,
		Kind:      originalTask.Kind,
		What:      originalTask.What,
		Location:  originalTask.Where,
		Detail:    originalTask.Detail,
		StartTime: originalTask.StartTime,
		EndTime:   originalTask.EndTime,
	})
	t.written++
}

// NumWritten returns the number of tasks handed to the recorder.
func (t *DBTracer) NumWritten() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.written
}

// Terminate drops the unfinished tasks and flushes the recorder.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tracingTasks = make(map[string]Task)
	t.backend.Flush()
}
