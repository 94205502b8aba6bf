package txid

import "sync/atomic"

// Allocator issues transaction identifiers. The CSMS is authoritative: stations never pick
// their own ids. Values start at 1, strictly increase and are never reused for the lifetime
// of the allocator.
type Allocator struct {
	last atomic.Int64
}

// NewAllocator returns an allocator whose first id is 1.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Next returns the next transaction id. Safe for concurrent use.
func (a *Allocator) Next() int {
	return int(a.last.Add(1))
}

// Last returns the most recently issued id, or 0 when none was issued yet.
func (a *Allocator) Last() int {
	return int(a.last.Load())
}
