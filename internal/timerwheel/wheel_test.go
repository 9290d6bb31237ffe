package timerwheel_test

import (
	"math"
	"sync/atomic"
	"testing"

	"github.com/hyourindev/agim/internal/timerwheel"
)

func TestAddFiresOnceAtDeadline(t *testing.T) {
	w := timerwheel.New(16, 10)

	var fired atomic.Int32
	w.Add(0, 50, func(ctx any) { fired.Add(1) }, nil)

	w.Tick(40) // 4 ticks, not due yet
	if fired.Load() != 0 {
		t.Fatalf("fired before deadline")
	}
	w.Tick(60) // crosses the 5th tick boundary
	if fired.Load() != 1 {
		t.Fatalf("expected exactly one fire, got %d", fired.Load())
	}
	w.Tick(1000)
	if fired.Load() != 1 {
		t.Fatalf("entry fired more than once, got %d", fired.Load())
	}
}

func TestCancelThenTickIsNoop(t *testing.T) {
	w := timerwheel.New(16, 10)

	var fired atomic.Int32
	e := w.Add(0, 30, func(ctx any) { fired.Add(1) }, nil)
	w.Cancel(e)
	w.Cancel(e) // double cancel is a no-op

	w.Tick(1000)
	if fired.Load() != 0 {
		t.Fatalf("cancelled entry must not fire")
	}
	if !e.Cancelled() {
		t.Fatalf("Cancelled() should report true after Cancel")
	}
}

func TestDeadlineArithmeticSaturatesInsteadOfWrapping(t *testing.T) {
	w := timerwheel.New(16, 10)

	e := w.Add(math.MaxUint64-5, 100, func(ctx any) {}, nil)
	// Reach the deadline via NextDeadlineMs rather than arithmetic that would
	// wrap a uint64 back around to a small number.
	deadline, ok := w.NextDeadlineMs()
	if !ok {
		t.Fatalf("expected a live entry")
	}
	if deadline != math.MaxUint64 {
		t.Fatalf("expected saturated deadline %d, got %d", uint64(math.MaxUint64), deadline)
	}
	_ = e
}

func TestNextDeadlineMsIgnoresCancelledEntries(t *testing.T) {
	w := timerwheel.New(16, 10)

	e1 := w.Add(0, 10, func(ctx any) {}, nil)
	w.Add(0, 1000, func(ctx any) {}, nil)
	w.Cancel(e1)

	deadline, ok := w.NextDeadlineMs()
	if !ok {
		t.Fatalf("expected a live entry")
	}
	if deadline != 1000 {
		t.Fatalf("expected the non-cancelled entry's deadline 1000, got %d", deadline)
	}
}

func TestTickAcrossMultipleRotationsFiresLongTimersOnce(t *testing.T) {
	// wheel size 4 so a 1000ms timeout at 10ms ticks wraps the wheel many
	// times (100 ticks / 4 buckets = 25 rounds) before it is due. Drive the
	// wheel in small increments, as a real poller would, rather than one
	// huge jump that the per-call elapsed-tick cap would truncate.
	w := timerwheel.New(4, 10)

	var fired atomic.Int32
	w.Add(0, 1000, func(ctx any) { fired.Add(1) }, nil)

	now := uint64(0)
	for now < 990 {
		now += 10
		w.Tick(now)
	}
	if fired.Load() != 0 {
		t.Fatalf("fired too early, got %d", fired.Load())
	}
	w.Tick(1010)
	if fired.Load() != 1 {
		t.Fatalf("expected exactly one fire after full rotation count, got %d", fired.Load())
	}
	w.Tick(5000)
	if fired.Load() != 1 {
		t.Fatalf("entry fired more than once, got %d", fired.Load())
	}
}
