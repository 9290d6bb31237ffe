package scheduler

import (
	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/stepper"
	"github.com/hyourindev/agim/internal/value"
)

// hostAdapter implements stepper.Host for one block, translating the
// abstract send/receive/spawn/sleep/exit/pending-upgrade primitives into
// calls against block.Send, block.TryReceive, the timer wheel, and the
// scheduler's own spawn/enqueue machinery. It is the one place that wires
// the leaf packages (block, stepper, timerwheel) to the scheduler that
// owns the PID registry and the worker pool.
type hostAdapter struct {
	sched    *Scheduler
	self     *block.Block
	workerID int // -1 if this block was not spawned from inside a running worker
}

func (h *hostAdapter) PID() uint64 { return h.self.PID }

// Send resolves targetPID through the PID registry and delegates to
// block.Send, which owns the wrap/push/wake-up sequence (spec §4.3.1).
func (h *hostAdapter) Send(targetPID uint64, payload value.Value) error {
	target, ok := h.sched.pids.Get(targetPID)
	if !ok {
		return block.ErrSendDead
	}
	return block.Send(h.self, target, payload)
}

// Receive implements spec §4.3.2: try once against the save_queue and
// mailbox; on a miss, register a wheel timer (unless the caller asked for
// an effectively infinite wait) so the worker loop wakes this block back
// up on either a message arrival (block.Send's own wake-up race) or the
// timeout firing, whichever comes first.
func (h *hostAdapter) Receive(match func(value.Value) bool, timeoutMs uint64) (value.Value, stepper.ReceiveStatus) {
	// Spec §9's committed safe-point choice: "top of each receive
	// (including a zero-timeout poll)" as well as the explicit
	// check_upgrade primitive (handled at worker.go's ResultYield). A
	// pending upgrade here rebinds the block's stepper right away; the
	// in-flight Step call that got us here keeps running to completion on
	// its own now-detached receiver, and the next reduction slice picks up
	// the freshly migrated one (see internal/scheduler's DESIGN.md entry).
	if h.self.PendingUpgrade.Load() {
		h.sched.applyUpgrade(h.self)
	}

	// A resumption whose TimeoutFired flag is set means this call was
	// re-entered specifically because our own wheel entry fired (not
	// because a message arrived — block.Send always cancels a pending
	// timer before waking a block, so the two causes are mutually
	// exclusive). Give the mailbox one last look, then report the
	// timeout rather than re-suspending on the same instruction forever.
	if h.self.TimeoutFired.CompareAndSwap(true, false) {
		if msg, ok := h.self.TryReceive(match); ok {
			return msg.Payload, stepper.ReceiveMatched
		}
		return value.Nil(), stepper.ReceiveTimeout
	}

	msg, ok := h.self.TryReceive(match)
	if ok {
		return msg.Payload, stepper.ReceiveMatched
	}
	if timeoutMs == 0 {
		return value.Nil(), stepper.ReceiveTimeout
	}
	if timeoutMs != InfiniteTimeout {
		h.self.PendingTimer = h.sched.wheel.Add(h.sched.nowMs(), timeoutMs, h.fireReceiveTimeout, h.self)
	}
	return value.Nil(), stepper.ReceiveSuspend
}

func (h *hostAdapter) Spawn(p *stepper.Program) (uint64, error) {
	return h.sched.spawn("", h.self.PID, block.Limits{}, h.workerID, p.ModuleName, func(host stepper.Host) stepper.Stepper {
		return h.sched.newStepper(host, p)
	}, true)
}

// Sleep always suspends the block, waking it via a wheel timer (spec
// §4.3's "sleep"). Unlike Receive's timer, a sleep's resumption doesn't
// need TimeoutFired — the script simply continues at the next
// instruction, there's no "matched vs. timed out" branch to report.
func (h *hostAdapter) Sleep(ms uint64) {
	h.self.PendingTimer = h.sched.wheel.Add(h.sched.nowMs(), ms, h.fireWake, h.self)
}

// fireWake re-enqueues b if it's still the block WAITING on this entry
// (a message may have already woken it in the meantime, in which case
// block.Send already cancelled this entry and it never fires at all).
func (h *hostAdapter) fireWake(ctx any) {
	b := ctx.(*block.Block)
	if b.CASState(block.Waiting, block.Runnable) {
		h.sched.enqueue(b, -1)
	}
}

// fireReceiveTimeout is fireWake plus marking TimeoutFired so the next
// Receive call on this block knows its resumption was timer-driven
// rather than message-driven (see Receive above).
func (h *hostAdapter) fireReceiveTimeout(ctx any) {
	b := ctx.(*block.Block)
	b.TimeoutFired.Store(true)
	h.fireWake(ctx)
}

// Exit transitions the block to DEAD with the script's own (code,
// reason) right away, winning the race against the worker loop's own
// fallback Terminate call for the ResultOK/ResultHalt case (see
// worker.go's run).
func (h *hostAdapter) Exit(code int, reason string) {
	if reason == "" {
		reason = block.ReasonNormal
	}
	if h.self.Terminate(code, reason) {
		h.sched.retire(h.self)
	}
}

func (h *hostAdapter) PendingUpgrade() bool {
	return h.self.PendingUpgrade.Load()
}
