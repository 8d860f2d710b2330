package tracing

import (
	"context"
	"sort"
	"strings"

	"github.com/sarchlab/kcore/datarecording"
)

// TaskQuery is used to define the tasks to be queried. Empty fields are
// ignored.
type TaskQuery struct {
	ID       string
	ParentID string
	Kind     string
	What     string
	Where    string

	// EnableTimeRange selects the tasks that overlap [StartTime, EndTime].
	EnableTimeRange    bool
	StartTime, EndTime uint64

	// Limit caps the number of tasks returned. Zero means no limit.
	Limit int
}

// TraceReader reads the tasks stored by a DBTracer.
type TraceReader struct {
	reader datarecording.DataReader
}

// NewTraceReader creates a TraceReader on top of a DataReader.
func NewTraceReader(reader datarecording.DataReader) *TraceReader {
	reader.MapTable(TaskTable, TaskEntry{})

	return &TraceReader{reader: reader}
}

// ListComponents returns the locations that appear in the trace.
func (r *TraceReader) ListComponents(ctx context.Context) ([]string, error) {
	tasks, _, err := r.ListTasks(ctx, TaskQuery{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	components := []string{}

	for _, t := range tasks {
		if !seen[t.Where] {
			seen[t.Where] = true
			components = append(components, t.Where)
		}
	}

	sort.Strings(components)

	return components, nil
}

// ListTasks returns the tasks that match the query in start time order, plus
// the number of matches regardless of the limit.
func (r *TraceReader) ListTasks(
	ctx context.Context,
	query TaskQuery,
) ([]Task, int, error) {
	conds := []string{}
	args := []any{}

	add := func(column, value string) {
		if value != "" {
			conds = append(conds, column+" = ?")
			args = append(args, value)
		}
	}

	add("ID", query.ID)
	add("ParentID", query.ParentID)
	add("Kind", query.Kind)
	add("What", query.What)
	add("Location", query.Where)

	if query.EnableTimeRange {
		conds = append(conds, "EndTime >= ? AND StartTime <= ?")
		args = append(args, query.StartTime, query.EndTime)
	}

	rows, total, err := r.reader.Query(ctx, TaskTable,
		datarecording.QueryParams{
			Where:   strings.Join(conds, " AND "),
			Args:    args,
			OrderBy: "StartTime, ID",
			Limit:   query.Limit,
		})
	if err != nil {
		return nil, 0, err
	}

	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		e := row.(*TaskEntry)
		tasks = append(tasks, Task{
			ID:        e.ID,
			ParentID:  e.ParentID,
			Kind:      e.Kind,
			What:      e.What,
			Where:     e.Location,
			Detail:    e.Detail,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
		})
	}

	return tasks, total, nil
}
