package scheduler

import (
	"fmt"
	"math/rand"

	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/deque"
	"github.com/hyourindev/agim/internal/queue"
	"github.com/hyourindev/agim/internal/stepper"
)

// worker is one scheduler thread: a local LIFO run queue plus the ability
// to steal from siblings and fall back to the global injector (spec
// §4.5.2).
type worker struct {
	id    int
	sched *Scheduler
	dq    *deque.Deque[*block.Block]
	rng   *rand.Rand
}

// loop is the per-worker run loop (spec §4.5 "Worker loop"):
//  1. pop the local deque (LIFO, cache-friendly for the block that just
//     yielded);
//  2. on a miss, steal from a randomly rotated sequence of siblings;
//  3. on a miss from stealing, dequeue from the global injector;
//  4. run whatever was acquired for one reduction slice and route its
//     result;
//  5. otherwise back off, periodically checking for overall termination.
func (w *worker) loop() {
	var backoff queue.Backoff
	for {
		select {
		case <-w.sched.stopCh:
			return
		default:
		}

		b, ok := w.dq.Pop()
		if !ok {
			b, ok = w.steal()
		}
		if !ok {
			b, ok = w.pollInjector()
		}
		if !ok {
			if w.sched.Terminated() {
				return
			}
			backoff.Wait()
			continue
		}

		backoff.Reset()
		w.run(b)
	}
}

// steal visits every sibling worker exactly once, starting from a
// randomly chosen offset so no single worker is preferentially drained
// (spec §4.5.2).
func (w *worker) steal() (*block.Block, bool) {
	n := len(w.sched.workers)
	if n <= 1 {
		return nil, false
	}
	start := w.rng.Intn(n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if idx == w.id {
			continue
		}
		if v, ok := w.sched.workers[idx].dq.Steal(); ok {
			return v, true
		}
	}
	return nil, false
}

func (w *worker) pollInjector() (*block.Block, bool) {
	req, err := w.sched.injector.Dequeue()
	if err != nil {
		return nil, false
	}
	return req.b, true
}

// run executes one reduction slice on b and routes the outcome (spec §5
// "Scheduling model" / §4.5.1 for the terminal cases).
func (w *worker) run(b *block.Block) {
	if !b.CASState(block.Runnable, block.Running) {
		// Lost the race, or b was killed out from under us (mailbox
		// CRASH overflow observed by a sibling) between acquisition and
		// here. Either way this worker isn't responsible for it.
		return
	}

	w.sched.blocksInFlight.Add(1)
	w.sched.contextSwitches.Add(1)

	limit := b.Limits.MaxReductionsPerSlice
	if limit <= 0 {
		limit = w.sched.cfg.DefaultReductionBudget
	}
	// A panic inside the stepper crashes only this block; the worker
	// goes on with its loop.
	var res stepper.Result
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				res, err = stepper.ResultError, fmt.Errorf("panic: %v", r)
			}
		}()
		res, err = b.Run(limit)
	}()
	w.sched.blocksInFlight.Add(-1)

	// A CRASH-policy mailbox overflow can have landed at any point while
	// this slice ran; it always wins over whatever the stepper returned,
	// matching spec §4.1's "scheduler observes the flag on its next visit
	// to the block and kills it" rule.
	if b.Mailbox.ObserveCrash() {
		if b.Terminate(1, "mailbox overflow") {
			w.sched.retire(b)
		}
		return
	}

	switch res {
	case stepper.ResultYield:
		// A yield with PendingUpgrade set means the stepper just hit its
		// safe point (OpCheckUpgrade in the reference script interpreter)
		// and is asking to be migrated before it runs again (spec §4.7
		// step 3).
		if b.PendingUpgrade.Load() {
			w.sched.applyUpgrade(b)
		}
		if b.CASState(block.Running, block.Runnable) {
			w.dq.Push(b)
		}

	case stepper.ResultWaiting:
		b.SetState(block.Waiting)
		// Close the race spec §5 "Transaction discipline" describes: a
		// message (or wake-up) may have arrived between the stepper
		// deciding to suspend and this state transition landing. Recheck
		// once before actually leaving the block parked.
		if !b.Mailbox.Empty() {
			if b.CASState(block.Waiting, block.Runnable) {
				if b.PendingTimer != nil {
					b.PendingTimer.Cancel()
					b.PendingTimer = nil
				}
				w.dq.Push(b)
			}
		}

	case stepper.ResultOK, stepper.ResultHalt:
		// If the stepper reached OK via an explicit exit instruction, the
		// Host.Exit call already raced Terminate to DEAD with the script's
		// own (code, reason) and retired the block; this is then a no-op.
		// HALT (falling off the end of the program) never calls Host.Exit,
		// so it's this call that actually terminates it.
		if b.Terminate(0, block.ReasonNormal) {
			w.sched.retire(b)
		}

	case stepper.ResultError:
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		if b.Crash(msg) {
			w.sched.retire(b)
		}
	}
}
