package datarecording

import (
	"os"
	"strings"
	"time"
)

const execTable = "exec_info"

// execInfo is one property of the recorded run.
type execInfo struct {
	Property string
	Value    string
}

// execRecorder records when and how the program was run.
type execRecorder struct {
	recorder DataRecorder
	entries  []execInfo
}

func newExecRecorder(recorder DataRecorder) *execRecorder {
	e := &execRecorder{recorder: recorder}
	recorder.CreateTable(execTable, execInfo{})

	return e
}

// Start remembers the start time, the command line, and the working
// directory.
func (e *execRecorder) Start() {
	e.entries = append(e.entries,
		execInfo{"Start Time", now()},
		execInfo{"Command", strings.Join(os.Args, " ")},
	)

	cwd, err := os.Getwd()
	if err == nil {
		e.entries = append(e.entries, execInfo{"Working Directory", cwd})
	}
}

// End writes the remembered properties together with the end time.
func (e *execRecorder) End() {
	for _, entry := range e.entries {
		e.recorder.InsertData(execTable, entry)
	}

	e.recorder.InsertData(execTable, execInfo{"End Time", now()})
	e.entries = nil
}

func now() string {
	return time.Now().Format("2006-01-02 15:04:05.000000000")
}
