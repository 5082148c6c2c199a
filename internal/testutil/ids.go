package testutil

import (
	"fmt"
	"sync"
)

// SerialIDs generates "prefix-000001", "prefix-000002", ... forever.
//
// Journal entries need unique ids (duplicate appends are silently
// dropped), so unlike a fixed token this generator never repeats; the
// serial form keeps golden traces readable and stable across runs.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SerialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSerialIDs creates a generator. An empty prefix defaults to "id".
func NewSerialIDs(prefix string) *SerialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SerialIDs{prefix: prefix}
}

// Generate returns the next id in sequence.
func (g *SerialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}
