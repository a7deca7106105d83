// Package ballot implements the N-stride ballot numbering scheme used by
// the consensus module: the replica at index k in the participant list
// draws ballots from k+N, k+2N, k+3N, ... so that no two replicas ever
// propose the same ballot number, and any two ballots are totally
// ordered by plain integer comparison.
package ballot

import "sync"

// Number is a totally ordered, monotonically increasing ballot number.
// Zero means "no ballot yet".
type Number uint64

// Less reports whether b is strictly lower precedence than other.
func (b Number) Less(other Number) bool { return b < other }

// Allocator hands out strictly increasing ballots for a single replica.
type Allocator struct {
	mu    sync.Mutex
	index uint64
	n     uint64
	last  uint64
}

// NewAllocator returns an allocator for the replica at the given index
// (0-based) among n participants.
func NewAllocator(index, n int) *Allocator {
	if n <= 0 {
		n = 1
	}
	return &Allocator{index: uint64(index), n: uint64(n)}
}

// Next returns a ballot strictly greater than every ballot this
// allocator has returned before, drawn from this replica's stride.
func (a *Allocator) Next() Number {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last += a.n
	return Number(a.index + a.last)
}
