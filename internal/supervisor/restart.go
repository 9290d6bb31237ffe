package supervisor

import (
	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/scheduler"
	"github.com/hyourindev/agim/internal/stepper"
	"github.com/hyourindev/agim/internal/value"
)

// isExitSignal matches the synthetic EXIT message block termination
// delivers to a CAP_TRAP_EXIT holder (spec §4.5.1). DOWN messages (from
// Monitor rather than Link) are not a supervisor's concern and are left
// on the mailbox/save_queue for anything else watching this block.
func isExitSignal(v value.Value) bool {
	if v.Kind() != value.KindMap {
		return false
	}
	t, ok := v.AsMap().Get("type")
	return ok && t.Kind() == value.KindString && t.AsString() == "EXIT"
}

// Step implements stepper.Stepper: each reduction blocks (via Host.Receive
// with an effectively infinite timeout) until an EXIT arrives, then
// applies the restart protocol to it. Running this as a tight
// receive-and-react loop mirrors spec §4.6's "supervisors handle exits by
// observing the synthetic EXIT messages in their mailbox".
func (s *Supervisor) Step(reductions int) (stepper.Result, int, error) {
	for i := 0; i < reductions; i++ {
		payload, status := s.host.Receive(isExitSignal, scheduler.InfiniteTimeout)
		switch status {
		case stepper.ReceiveSuspend:
			return stepper.ResultWaiting, i + 1, nil
		case stepper.ReceiveTimeout:
			continue
		case stepper.ReceiveMatched:
			if s.handleExit(payload) {
				return stepper.ResultOK, i + 1, nil // shut down: rate limit exceeded
			}
		}
	}
	return stepper.ResultYield, reductions, nil
}

// handleExit processes one EXIT message and returns true if the
// supervisor itself must now shut down (rate limit exceeded).
func (s *Supervisor) handleExit(payload value.Value) bool {
	if s.shuttingDown {
		return false
	}
	m := payload.AsMap()
	fromV, _ := m.Get("from")
	reasonV, _ := m.Get("reason")
	fromPID := fromV.AsPID()
	reason := reasonV.AsString()

	idx := s.indexOf(fromPID)
	if idx < 0 {
		return false // not one of ours (shouldn't happen given the link set, but be defensive)
	}
	child := s.children[idx]

	if !child.Restart.eligible(reason) {
		// Not eligible: drop the child from supervision, no cascade.
		child.pid = 0
		return false
	}

	if !s.allow(child) {
		s.shutdown()
		return true
	}

	switch s.strategy {
	case OneForOne:
		s.restart(child)
	case OneForAll:
		s.restartAll()
	case RestForOne:
		s.restartFrom(idx)
	}
	return false
}

// allow checks both the child's own window and the supervisor-wide
// window; either one tripping counts as exceeded (spec §4.6 "Further
// gated by per-child and supervisor-wide rate limits").
func (s *Supervisor) allow(c *ChildSpec) bool {
	if _, ok := c.limiter.Allow(c.Name); !ok {
		return false
	}
	_, ok := s.supLimiter.Allow(s.PID)
	return ok
}

func (s *Supervisor) indexOf(pid uint64) int {
	for i, c := range s.children {
		if c.pid == pid {
			return i
		}
	}
	return -1
}

// restart respawns one child in place, replacing its old (now-dead) PID
// and re-linking.
func (s *Supervisor) restart(c *ChildSpec) {
	_ = s.startChild(c)
}

// restartAll kills every other currently-live child (spec's "terminate
// and restart all children"), then restarts every child in original
// order.
func (s *Supervisor) restartAll() {
	for _, c := range s.children {
		if c.pid != 0 {
			s.sched.Kill(c.pid, block.ReasonShutdown)
			c.pid = 0
		}
	}
	for _, c := range s.children {
		_ = s.startChild(c)
	}
}

// restartFrom kills and restarts the failed child at idx plus every
// child started after it (spec's REST_FOR_ONE).
func (s *Supervisor) restartFrom(idx int) {
	for i := idx; i < len(s.children); i++ {
		c := s.children[i]
		if c.pid != 0 {
			s.sched.Kill(c.pid, block.ReasonShutdown)
			c.pid = 0
		}
	}
	for i := idx; i < len(s.children); i++ {
		_ = s.startChild(s.children[i])
	}
}

// shutdown kills every live child in reverse start order and marks the
// supervisor itself for exit with reason "shutdown" (spec §4.6's
// "Shutdown mode suppresses restarts and kills all children in reverse
// order"), escalating the failure to whatever links/monitors this
// supervisor.
func (s *Supervisor) shutdown() {
	s.shuttingDown = true
	for i := len(s.children) - 1; i >= 0; i-- {
		c := s.children[i]
		if c.pid != 0 {
			s.sched.Kill(c.pid, block.ReasonShutdown)
			c.pid = 0
		}
	}
	s.host.Exit(1, block.ReasonShutdown)
}
