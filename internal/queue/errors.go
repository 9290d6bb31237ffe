package queue

import "code.hybscloud.com/iox"

// ErrWouldBlock indicates the operation cannot proceed immediately: the
// queue is full (Enqueue) or empty (Dequeue). It is a control-flow signal,
// not a failure — callers retry with backoff rather than propagating it.
//
// Alias of [iox.ErrWouldBlock] so callers across the module can match on a
// single sentinel regardless of which layer produced it.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates the operation would block.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// Backoff is a small spinning/yielding backoff helper used by callers that
// must retry a queue operation until it succeeds (e.g. BLOCK_SENDER mailbox
// policy, or a worker draining the scheduler's injector queue).
type Backoff struct {
	n int
}

// Wait spins or yields depending on how many consecutive unsuccessful
// attempts have been recorded.
func (b *Backoff) Wait() {
	b.n++
	switch {
	case b.n < 8:
		spinPause()
	case b.n < 32:
		osYield()
	default:
		sleepShort()
	}
}

// Reset clears the backoff state after a successful attempt.
func (b *Backoff) Reset() {
	b.n = 0
}
