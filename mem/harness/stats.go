package harness

import (
	"github.com/fatih/structs"
)

// A StatRecord is one counter of one component.
type StatRecord struct {
	Component string
	Counter   string
	Value     uint64
}

// StatRecords flattens the counters of every node, bank, and the memory.
func (s *System) StatRecords() []StatRecord {
	var records []StatRecord

	for _, n := range s.nodes {
		records = appendCounters(records, n.Name(), n.Stats())
	}

	for _, b := range s.banks {
		records = appendCounters(records, b.Name(), b.Stats())
	}

	return appendCounters(records, s.memory.Name(), s.memory.Stats())
}

func appendCounters(
	records []StatRecord,
	component string,
	stats any,
) []StatRecord {
	for _, f := range structs.Fields(stats) {
		v, ok := f.Value().(uint64)
		if !ok {
			continue
		}

		records = append(records, StatRecord{
			Component: component,
			Counter:   f.Name(),
			Value:     v,
		})
	}

	return records
}
