package tracing

// A Tracer can collect task traces
type Tracer interface {
	StartTask(task Task)
	StepTask(task Task)
	EndTask(task Task)
}

// A TimeTeller reports the current cycle of the simulation.
type TimeTeller interface {
	CurrentCycle() uint64
}
