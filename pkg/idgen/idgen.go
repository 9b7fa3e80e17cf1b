// Package idgen provides the process-wide id counters of the mesh runtime.
//
// Mesh ids and trace ids are handed out by explicit [Counter] values rather
// than hidden globals so tests can reset them.
package idgen

import "sync/atomic"

// Counter hands out monotonically increasing ids starting at zero.
// It is safe for concurrent use and usable as a zero value.
type Counter struct {
	next atomic.Uint32
}

// Next returns the next id.
func (c *Counter) Next() uint32 {
	return c.next.Add(1) - 1
}

// Peek returns the id the next call to Next will return.
func (c *Counter) Peek() uint32 {
	return c.next.Load()
}

// Reset restarts the counter at zero.
func (c *Counter) Reset() {
	c.next.Store(0)
}

// Process-wide counters.
var (
	MeshIDs  Counter
	TraceIDs Counter
)

// Reset restarts all process-wide counters. Intended for tests.
func Reset() {
	MeshIDs.Reset()
	TraceIDs.Reset()
}
