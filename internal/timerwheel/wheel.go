// Package timerwheel implements the flat hashed timer wheel driving
// receive-with-timeout deadlines (spec §4.2). Each bucket is a
// container/list doubly-linked list, the same data structure the
// ecosystem's proactor-style async-IO code uses for per-descriptor pending
// operation lists, here holding one bucket of pending entries.
package timerwheel

import (
	"container/list"
	"math"
	"sync"
	"sync/atomic"
)

// Callback is invoked when an entry fires. ctx is the opaque value passed
// to Add.
type Callback func(ctx any)

// Entry is a handle to a scheduled timer, returned by Add and accepted by
// Cancel. It is safe to hold and cancel from any goroutine.
type Entry struct {
	deadline  uint64
	slot      int
	round     uint64 // rotations remaining before this entry is due, set at insertion/re-slot time
	cancelled boolFlag
	cb        Callback
	ctx       any
}

// Cancelled reports whether Cancel has been called on this entry. Double
// cancel is a no-op (spec §5 "Cancellation & timeouts").
func (e *Entry) Cancelled() bool { return e.cancelled.Load() }

// Cancel flips this entry's own cancelled flag, equivalent to calling
// Wheel.Cancel(e) but usable by a holder that only has the Entry (e.g. a
// block clearing its own pending_timer without a reference to the wheel
// that owns it).
func (e *Entry) Cancel() { e.cancelled.Store(true) }

// boolFlag is a lock-free cancellation flag.
type boolFlag struct {
	v atomic.Bool
}

func (f *boolFlag) Load() bool { return f.v.Load() }

func (f *boolFlag) Store(v bool) { f.v.Store(v) }

// Wheel is a flat hashed timer wheel with wheelSize buckets (rounded up to
// a power of two) and a fixed tickMs granularity.
type Wheel struct {
	mu          sync.Mutex
	buckets     []*list.List
	mask        uint64
	tickMs      uint64
	currentSlot uint64
	nowMs       uint64
}

const (
	defaultWheelSize = 256
	defaultTickMs    = 10
)

// New creates a Wheel. wheelSize rounds up to the next power of two
// (minimum 2); tickMs must be > 0. Zero values fall back to the spec's
// defaults (256 buckets, 10ms ticks).
func New(wheelSize int, tickMs uint64) *Wheel {
	if wheelSize <= 0 {
		wheelSize = defaultWheelSize
	}
	if tickMs == 0 {
		tickMs = defaultTickMs
	}
	n := roundToPow2(wheelSize)
	buckets := make([]*list.List, n)
	for i := range buckets {
		buckets[i] = list.New()
	}
	return &Wheel{
		buckets: buckets,
		mask:    uint64(n - 1),
		tickMs:  tickMs,
	}
}

func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// Add schedules cb(ctx) to fire at now+timeoutMs. Deadlines saturate at
// math.MaxUint64 rather than wrapping (spec §4.2 "Numeric semantics").
func (w *Wheel) Add(nowMs uint64, timeoutMs uint64, cb Callback, ctx any) *Entry {
	w.mu.Lock()
	defer w.mu.Unlock()

	deadline := saturatingAdd(nowMs, timeoutMs)
	ticks := ceilDiv(timeoutMs, w.tickMs)
	n := w.mask + 1
	slot := (w.currentSlot + ticks) % n
	// The entry's bucket is visited once per full wheel revolution; rounds
	// counts the revolutions to skip before the visit that lands exactly on
	// the target tick count fires it. ticks==0 fires on the very next tick.
	var rounds uint64
	if ticks > 0 {
		rounds = (ticks - 1) / n
	}

	e := &Entry{
		deadline: deadline,
		slot:     int(slot),
		round:    rounds,
		cb:       cb,
		ctx:      ctx,
	}
	w.buckets[slot].PushBack(e)
	return e
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a { // overflow
		return math.MaxUint64
	}
	return sum
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return (a + b - 1) / b
}

// Cancel flips the entry's cancelled flag. The entry is reclaimed lazily on
// the next visit to its bucket. Double-cancel is a no-op.
func (w *Wheel) Cancel(e *Entry) {
	if e == nil {
		return
	}
	e.cancelled.Store(true)
}

// Tick advances current_slot by the elapsed-tick count (capped at the
// wheel size so a tick after a long stall still visits — and reports —
// every pending bucket at most once), firing due entries and re-slotting
// ones the wheel rotated past but whose round counter has not reached
// zero. Each fired entry's callback is invoked in place, under the wheel's
// lock; Tick returns only the number of entries fired, not the entries.
func (w *Wheel) Tick(nowMs uint64) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if nowMs <= w.nowMs {
		return 0
	}
	elapsed := (nowMs - w.nowMs) / w.tickMs
	w.nowMs += elapsed * w.tickMs
	if elapsed == 0 {
		return 0
	}
	n := w.mask + 1
	if elapsed > n {
		elapsed = n
	}

	fired := 0
	for i := uint64(0); i < elapsed; i++ {
		w.currentSlot = (w.currentSlot + 1) % n
		bucket := w.buckets[w.currentSlot]

		var next *list.Element
		for el := bucket.Front(); el != nil; el = next {
			next = el.Next()
			entry := el.Value.(*Entry)

			if entry.cancelled.Load() {
				bucket.Remove(el)
				continue
			}
			if entry.round > 0 {
				entry.round--
				continue
			}
			bucket.Remove(el)
			fired++
			entry.cb(entry.ctx)
		}
	}
	return fired
}

// NextDeadlineMs returns the minimum deadline among non-cancelled entries,
// or (0, false) if the wheel holds nothing live. Used by an idle worker to
// size its sleep before the next Tick is worth calling.
func (w *Wheel) NextDeadlineMs() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var (
		best  uint64
		found bool
	)
	for _, bucket := range w.buckets {
		for el := bucket.Front(); el != nil; el = el.Next() {
			entry := el.Value.(*Entry)
			if entry.cancelled.Load() {
				continue
			}
			if !found || entry.deadline < best {
				best = entry.deadline
				found = true
			}
		}
	}
	return best, found
}
