package tracing

// A TaskStep represents a milestone in the processing of task
type TaskStep struct {
	Time uint64 `json:"time"`
	What string `json:"what"`
}

// A Task is a unit of work observed at one location, typically the handling
// of one coherence message by a directory bank.
type Task struct {
	ID        string      `json:"id"`
	ParentID  string      `json:"parent_id"`
	Kind      string      `json:"kind"`
	What      string      `json:"what"`
	Where     string      `json:"where"`
	StartTime uint64      `json:"start_time"`
	EndTime   uint64      `json:"end_time"`
	Steps     []TaskStep  `json:"steps"`
	Detail    interface{} `json:"-"`
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool
