package scheduler

import (
	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/value"
)

// retire runs spec §4.5.1's termination protocol for a block that has
// just won its own Terminate race (the caller must only invoke retire
// once, guarded by that bool). It is iterative rather than recursive: a
// link/unlink cycle (A linked to B linked to A) must not blow the stack,
// and Terminate's own idempotence (first caller wins) is what actually
// stops the sweep from looping forever on a cycle.
func (s *Scheduler) retire(b *block.Block) {
	pending := []*block.Block{b}
	for len(pending) > 0 {
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		s.totalTerminated.Add(1)

		code, reason := cur.ExitSlot()

		// Links: a trap-exit holder gets the signal delivered as an
		// ordinary EXIT message; everyone else is itself torn down with
		// the same reason, and joins the sweep so its own links/monitors
		// are processed in turn (spec §4.5.1 step 1).
		for _, pid := range cur.Links() {
			linked, ok := s.pids.Get(pid)
			if !ok || linked.IsDead() {
				continue
			}
			if linked.Caps.Has(block.CapTrapExit) {
				_ = block.Send(cur, linked, exitSignal(cur.PID, code, reason))
				continue
			}
			if linked.Terminate(code, reason) {
				pending = append(pending, linked)
			}
		}

		// Monitors: every observer gets a one-way DOWN message regardless
		// of CAP_TRAP_EXIT (spec §4.5.1 step 2; monitors never propagate
		// termination, only notify).
		for _, pid := range cur.MonitoredBy() {
			mon, ok := s.pids.Get(pid)
			if !ok || mon.IsDead() {
				continue
			}
			_ = block.Send(cur, mon, downSignal(cur.PID, reason))
		}

		// Any receive/sleep timer this block was waiting on no longer
		// needs to fire (spec §4.5.1 step 3).
		if cur.PendingTimer != nil {
			cur.PendingTimer.Cancel()
			cur.PendingTimer = nil
		}

		// Release the mailbox/save_queue and drop the PID registration
		// (spec §4.5.1 step 4). A supervisor watching cur has already
		// been notified above via the EXIT message delivered to its own
		// (trap-exit) mailbox — spec §4.6's restart decision happens
		// there, driven by that message, not by a separate hook here.
		// cur.Mailbox.Close() marks the underlying queue as drained now
		// that cur is leaving the PID table and can never be pushed to
		// again through an ordinary SEND lookup.
		cur.Mailbox.Close()
		cur.SaveQueue = nil
		s.pids.Remove(cur.PID)

		if s.modreg != nil && cur.ModuleName != "" {
			s.modreg.Unregister(cur.ModuleName, cur)
		}
	}
}

func exitSignal(fromPID uint64, code int, reason string) value.Value {
	return value.MapVal(value.NewMap(map[string]value.Value{
		"type":   value.String("EXIT"),
		"from":   value.PID(fromPID),
		"code":   value.Int(int64(code)),
		"reason": value.String(reason),
	}))
}

func downSignal(fromPID uint64, reason string) value.Value {
	return value.MapVal(value.NewMap(map[string]value.Value{
		"type":   value.String("DOWN"),
		"from":   value.PID(fromPID),
		"reason": value.String(reason),
	}))
}
