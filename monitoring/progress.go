package monitoring

import (
	"encoding/json"
	"sync"
	"time"
)

// A ProgressBar tracks how far a run has come through its trace. Accesses
// are counted in Finished once complete and in InProgress while their miss
// is outstanding. Transactions counts the directory transactions in flight.
type ProgressBar struct {
	sync.Mutex
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	StartTime    time.Time `json:"start_time"`
	Total        uint64    `json:"total"`
	Finished     uint64    `json:"finished"`
	InProgress   uint64    `json:"in_progress"`
	Cycle        uint64    `json:"cycle"`
	Transactions uint64    `json:"transactions"`
}

// Update records the state of the run at cycle. Finished never decreases.
func (b *ProgressBar) Update(cycle, finished, inProgress, transactions uint64) {
	b.Lock()
	defer b.Unlock()

	b.Cycle = cycle
	b.InProgress = inProgress
	b.Transactions = transactions

	if finished > b.Finished {
		b.Finished = finished
	}
}

// IncrementInProgress counts accesses that started a miss.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress += amount
}

// MoveInProgressToFinished counts accesses whose miss resolved.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress -= amount
	b.Finished += amount
}

// CyclesPerAccess returns the average number of cycles spent per finished
// access, or 0 before the first access finishes.
func (b *ProgressBar) CyclesPerAccess() float64 {
	b.Lock()
	defer b.Unlock()

	if b.Finished == 0 {
		return 0
	}

	return float64(b.Cycle) / float64(b.Finished)
}

type progressBarRsp struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	StartTime       time.Time `json:"start_time"`
	Total           uint64    `json:"total"`
	Finished        uint64    `json:"finished"`
	InProgress      uint64    `json:"in_progress"`
	Cycle           uint64    `json:"cycle"`
	Transactions    uint64    `json:"transactions"`
	CyclesPerAccess float64   `json:"cycles_per_access"`
}

// MarshalJSON encodes a consistent snapshot of the bar.
func (b *ProgressBar) MarshalJSON() ([]byte, error) {
	cpa := b.CyclesPerAccess()

	b.Lock()
	defer b.Unlock()

	return json.Marshal(progressBarRsp{
		ID:              b.ID,
		Name:            b.Name,
		StartTime:       b.StartTime,
		Total:           b.Total,
		Finished:        b.Finished,
		InProgress:      b.InProgress,
		Cycle:           b.Cycle,
		Transactions:    b.Transactions,
		CyclesPerAccess: cpa,
	})
}
