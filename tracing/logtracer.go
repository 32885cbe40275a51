package tracing

import (
	"log"
	"sync"
)

// LogTracer prints the start, steps, and end of every task.
type LogTracer struct {
	lock       sync.Mutex
	logger     *log.Logger
	timeTeller TimeTeller
	startTimes map[string]uint64
}

// NewLogTracer creates a tracer that writes to logger.
func NewLogTracer(logger *log.Logger, timeTeller TimeTeller) *LogTracer {
	return &LogTracer{
		logger:     logger,
		timeTeller: timeTeller,
		startTimes: make(map[string]uint64),
	}
}

// StartTask prints the task.
func (t *LogTracer) StartTask(task Task) {
	now := t.timeTeller.CurrentCycle()

	t.lock.Lock()
	t.startTimes[task.ID] = now
	t.lock.Unlock()

	t.logger.Printf("%d %s start %s %s %s",
		now, task.Where, task.ID, task.Kind, task.What)
}

// StepTask prints the step.
func (t *LogTracer) StepTask(task Task) {
	t.logger.Printf("%d step %s %s",
		t.timeTeller.CurrentCycle(), task.ID, task.Steps[0].What)
}

// EndTask prints the task with its duration.
func (t *LogTracer) EndTask(task Task) {
	now := t.timeTeller.CurrentCycle()

	t.lock.Lock()
	start, ok := t.startTimes[task.ID]
	delete(t.startTimes, task.ID)
	t.lock.Unlock()

	if !ok {
		return
	}

	t.logger.Printf("%d end %s after %d cycles", now, task.ID, now-start)
}
