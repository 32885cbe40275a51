// Package id provides the generators that label coherence transactions.
package id

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// An IDGenerator hands out tracking tokens. Tokens are opaque to the
// coherence core and only used to correlate telemetry.
type IDGenerator interface {
	Generate() string
}

// NewSequentialGenerator returns a generator that produces prefix-1,
// prefix-2, ... Runs with the same prefix are reproducible.
func NewSequentialGenerator(prefix string) IDGenerator {
	return &sequentialIDGenerator{prefix: prefix}
}

// NewUniqueGenerator returns a generator whose tokens are unique across
// processes. Use it when traces from several runs land in one database.
func NewUniqueGenerator() IDGenerator {
	return uniqueIDGenerator{}
}

type sequentialIDGenerator struct {
	prefix string
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)
	id := strconv.FormatUint(idNumber, 10)

	if g.prefix == "" {
		return id
	}

	return g.prefix + "-" + id
}

type uniqueIDGenerator struct{}

func (uniqueIDGenerator) Generate() string {
	return xid.New().String()
}
