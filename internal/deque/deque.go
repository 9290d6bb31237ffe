// Package deque implements the Chase-Lev single-owner/many-stealers
// work-stealing deque (spec §4.5.2) backing each scheduler worker's local
// run queue.
//
// The original algorithm (Lê et al., "Correct and Efficient Work-Stealing
// for Weak Memory Models") calls for a full fence between Pop's bottom
// store and its top load, stronger than a release/acquire pair. Go's
// atomic package (and code.hybscloud.com/atomix, built on it) exposes no
// bare fence, only paired ordered accesses, so this port uses
// StoreRelease/LoadAcquire on the same approximation other Go ports of
// Chase-Lev rely on. It is sound on every memory model Go itself targets
// (all of which map release/acquire to real barriers), but is weaker in
// principle than the paper's requirement on hypothetical weaker models.
package deque

import (
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

const defaultLogSize = 6 // 64 slots

// Deque is a Chase-Lev work-stealing deque. Push and Pop must only be
// called by the single owning worker; Steal may be called by any thread.
type Deque[T any] struct {
	_      pad
	top    atomix.Uint64 // advanced by CAS: owner's Pop (rare) and any Steal
	_      pad
	bottom atomix.Uint64 // advanced only by the owner
	_      pad
	array  atomic.Pointer[circularArray[T]]
	_      pad

	retiredMu sync.Mutex
	retired   []retiredBuffer[T]
}

type retiredBuffer[T any] struct {
	buf   *circularArray[T]
	epoch uint64
}

type pad [64]byte

// New creates an empty Deque with an initial capacity of 64.
func New[T any]() *Deque[T] {
	d := &Deque[T]{}
	d.array.Store(newCircularArray[T](defaultLogSize))
	return d
}

// Push adds v to the bottom of the deque (owner only), growing the
// backing buffer by doubling when full.
func (d *Deque[T]) Push(v T) {
	b := d.bottom.LoadRelaxed()
	t := d.top.LoadAcquire()
	arr := d.array.Load()

	if b-t >= arr.size()-1 {
		grown := arr.grow(t, b)
		d.array.Store(grown)
		d.retire(arr)
		arr = grown
	}

	arr.put(b, v)
	d.bottom.StoreRelease(b + 1)
}

// Pop removes and returns the bottom element (owner only, LIFO — spec
// §4.5's "pop from local deque bottom (LIFO for cache locality)").
func (d *Deque[T]) Pop() (T, bool) {
	var zero T

	b := d.bottom.LoadRelaxed()
	if b == 0 {
		return zero, false
	}
	b--
	arr := d.array.Load()
	d.bottom.StoreRelease(b)

	t := d.top.LoadAcquire()
	if t > b {
		// Empty: restore bottom and bail.
		d.bottom.StoreRelease(b + 1)
		return zero, false
	}

	v := arr.get(b)
	if t == b {
		// Exactly one element: race a concurrent Steal for it via CAS.
		if !d.top.CompareAndSwapAcqRel(t, t+1) {
			d.bottom.StoreRelease(b + 1)
			return zero, false
		}
		d.bottom.StoreRelease(b + 1)
		return v, true
	}
	return v, true
}

// Steal takes the top element (any thread). Returns (zero, false) if the
// deque appeared empty or another thread won the race for the same slot.
func (d *Deque[T]) Steal() (T, bool) {
	var zero T

	BumpEpoch() // quiescent pass: see epoch.go

	t := d.top.LoadAcquire()
	b := d.bottom.LoadAcquire()
	if t >= b {
		return zero, false
	}

	arr := d.array.Load()
	v := arr.get(t)
	if !d.top.CompareAndSwapAcqRel(t, t+1) {
		return zero, false
	}
	return v, true
}

// StealWithBackoff retries Steal with a bounded spin/yield backoff until
// it either succeeds or observes the deque empty, returning (zero,
// false) only in the latter case. Workers that rotate through victims
// (spec §4.5 "Worker loop" step 2) call Steal directly instead, so a
// failed CAS against one victim just moves on to the next; this helper is
// for a caller that wants to keep trying the same victim.
func (d *Deque[T]) StealWithBackoff(maxAttempts int) (T, bool) {
	var sw spin.Wait
	for i := 0; i < maxAttempts; i++ {
		if v, ok := d.Steal(); ok {
			return v, true
		}
		if d.Empty() {
			var zero T
			return zero, false
		}
		sw.Once()
	}
	var zero T
	return zero, false
}

// Empty reports whether the deque currently holds no elements. Racy by
// nature (top/bottom can move between the loads and the caller observing
// the result), used only as a heuristic to stop retrying.
func (d *Deque[T]) Empty() bool {
	return d.top.LoadAcquire() >= d.bottom.LoadAcquire()
}

// Len returns an approximate element count.
func (d *Deque[T]) Len() int {
	b := d.bottom.LoadAcquire()
	t := d.top.LoadAcquire()
	if b < t {
		return 0
	}
	return int(b - t)
}

// retire hands off a grown-past buffer for epoch-delayed release; see
// epoch.go. sweepRetired drops references to buffers retired at least two
// epochs ago so the GC can reclaim them.
func (d *Deque[T]) retire(buf *circularArray[T]) {
	d.retiredMu.Lock()
	d.retired = append(d.retired, retiredBuffer[T]{buf: buf, epoch: CurrentEpoch()})
	d.sweepRetiredLocked()
	d.retiredMu.Unlock()
}

func (d *Deque[T]) sweepRetiredLocked() {
	now := CurrentEpoch()
	live := d.retired[:0]
	for _, r := range d.retired {
		if now-r.epoch < 2 {
			live = append(live, r)
		}
	}
	d.retired = live
}
