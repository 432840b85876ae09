package chain

import (
	"sync/atomic"
	"time"
)

// Clock supplies the wall time of the execution environment.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host's wall clock, truncated to whole seconds like
// block timestamps.
type SystemClock struct{}

// Now returns the current UTC time in whole seconds.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Sequence is a monotonic logical clock for transaction ordering.
//
// Every committed transaction is stamped with a strictly increasing seq from
// this clock. Ordering in the store uses seq, never timestamps, so a replay
// produces identical order.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequenceAt creates a sequence resuming after start.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
