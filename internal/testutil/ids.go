package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialIDs generates predictable invocation IDs: prefix-0001,
// prefix-0002 and so on. It stands in for UUIDv7 generation wherever a
// test or golden trace needs stable IDs.
//
// Thread-safety: Generate is safe for concurrent use.
type SequentialIDs struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialIDs creates a generator. An empty prefix selects "inv".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "inv"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID. Its signature fits
// service.WithIDGenerator.
func (g *SequentialIDs) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1))
}
