package tracing

import (
	"sync"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/cohsim/datarecording"
)

// Tables written by a DBTracer.
const (
	TaskTable = "trace"
	StepTable = "trace_steps"
)

// TaskRecord is one row of TaskTable.
type TaskRecord struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime uint64
	EndTime   uint64
}

// StepRecord is one row of StepTable.
type StepRecord struct {
	TaskID string
	Time   uint64
	What   string
}

// DBTracer is a tracer that stores finished tasks through a DataRecorder.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller TimeTeller
	backend    datarecording.DataRecorder

	startTime, endTime uint64

	tracingTasks map[string]Task
}

// NewDBTracer creates a new DBTracer.
func NewDBTracer(
	timeTeller TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable(TaskTable, TaskRecord{})
	dataRecorder.CreateTable(StepTable, StepRecord{})

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

// SetTimeRange limits tracing to tasks that overlap [startTime, endTime]. A
// zero bound is open.
func (t *DBTracer) SetTimeRange(startTime, endTime uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task.StartTime = t.timeTeller.CurrentCycle()
	if t.endTime > 0 && task.StartTime > t.endTime {
		return
	}

	t.tracingTasks[task.ID] = task
}

// StepTask records a step of a task that is being traced.
func (t *DBTracer) StepTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tracingTasks[task.ID]; !ok {
		return
	}

	t.backend.InsertData(StepTable, StepRecord{
		TaskID: task.ID,
		Time:   t.timeTeller.CurrentCycle(),
		What:   task.Steps[0].What,
	})
}

// EndTask marks the end of a task.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	originalTask.EndTime = t.timeTeller.CurrentCycle()
	if t.startTime > 0 && originalTask.EndTime < t.startTime {
		return
	}

	t.write(originalTask)
}

func (t *DBTracer) write(task Task) {
	t.backend.InsertData(TaskTable, TaskRecord{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Where,
		StartTime: task.StartTime,
		EndTime:   task.EndTime,
	})
}

// Terminate writes the unfinished tasks with the current cycle as end time
// and flushes the backend.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.timeTeller.CurrentCycle()
	for _, task := range t.tracingTasks {
		task.EndTime = now
		t.write(task)
	}

	t.tracingTasks = make(map[string]Task)
	t.backend.Flush()
}
