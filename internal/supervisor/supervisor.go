// Package supervisor implements spec §4.6: a specialized block (holding
// CAP_TRAP_EXIT) that owns a ChildSpec list, applies ONE_FOR_ONE/
// ONE_FOR_ALL/REST_FOR_ONE restart strategies, and rate-limits restarts
// with github.com/joeycumines/go-catrate sliding windows.
package supervisor

import (
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/scheduler"
	"github.com/hyourindev/agim/internal/stepper"
	"github.com/hyourindev/agim/internal/value"
)

// Strategy selects how a failed child's siblings are affected (spec
// §4.6).
type Strategy int

const (
	OneForOne Strategy = iota
	OneForAll
	RestForOne
)

// RestartPolicy is a child spec's restart eligibility rule.
type RestartPolicy int

const (
	Permanent RestartPolicy = iota // always restarted
	Transient                      // restarted only on a non-normal exit
	Temporary                      // never restarted
)

func (p RestartPolicy) eligible(reason string) bool {
	switch p {
	case Permanent:
		return true
	case Transient:
		return reason != block.ReasonNormal
	default: // Temporary
		return false
	}
}

// ChildSpec describes one supervised child. MaxRestarts/RestartWindowMs
// feed this child's own catrate.Limiter window.
type ChildSpec struct {
	Name            string
	Program         *stepper.Program
	Limits          block.Limits
	Restart         RestartPolicy
	MaxRestarts     int
	RestartWindowMs uint64

	pid     uint64
	limiter *catrate.Limiter
}

// Supervisor is a block that watches a fixed, ordered list of children,
// applying Strategy whenever it observes one of them exit.
//
// Construction spawns the supervisor's own block plus every child and
// links them; the caller must finish wiring (New, plus any further
// supervisors) before calling Scheduler.Start, since nothing here
// defends against a child racing its own first run against the Link
// call the way a running scheduler would allow.
type Supervisor struct {
	Name     string
	PID      uint64
	strategy Strategy
	children []*ChildSpec
	sched    *scheduler.Scheduler
	self     *block.Block
	host     stepper.Host

	supLimiter   *catrate.Limiter // keyed by this supervisor's own PID
	shuttingDown bool
}

// New spawns the supervisor and every child in order, links each child
// to the supervisor, and grants the supervisor CAP_TRAP_EXIT so children
// exits arrive as EXIT messages instead of propagating (spec §4.5.1).
//
// supervisorMaxRestarts/supervisorWindowMs bound the supervisor-wide
// restart rate across all children combined; exceeding it makes the
// supervisor itself exit with reason "shutdown", escalating to its own
// parent (spec §4.6).
func New(sched *scheduler.Scheduler, name string, strategy Strategy, children []*ChildSpec, supervisorMaxRestarts int, supervisorWindowMs uint64) (*Supervisor, error) {
	sup := &Supervisor{
		Name:     name,
		strategy: strategy,
		children: children,
		sched:    sched,
	}
	sup.supLimiter = catrate.NewLimiter(singleWindow(supervisorWindowMs, supervisorMaxRestarts))
	for _, c := range children {
		c.limiter = catrate.NewLimiter(singleWindow(c.RestartWindowMs, c.MaxRestarts))
	}

	pid, err := sched.SpawnCustom(name, 0, block.Limits{}, "supervisor", func(host stepper.Host) stepper.Stepper {
		sup.host = host
		return sup
	})
	if err != nil {
		return nil, err
	}
	sup.PID = pid
	sup.self, _ = sched.PIDTable().Get(pid)
	sup.self.Caps.Grant(block.CapTrapExit)
	sup.self.Supervisor = sup

	for _, c := range children {
		if err := sup.startChild(c); err != nil {
			return sup, err
		}
	}
	return sup, nil
}

func singleWindow(windowMs uint64, max int) map[time.Duration]int {
	if windowMs == 0 {
		windowMs = 1000
	}
	if max <= 0 {
		max = 1
	}
	return map[time.Duration]int{time.Duration(windowMs) * time.Millisecond: max}
}

func (s *Supervisor) startChild(c *ChildSpec) error {
	pid, err := s.host.Spawn(c.Program)
	if err != nil {
		return err
	}
	c.pid = pid
	childBlock, ok := s.sched.PIDTable().Get(pid)
	if ok {
		block.Link(s.self, childBlock)
	}
	return nil
}

// State/SetState satisfy stepper.Stepper; a supervisor has no globals of
// its own. Its ChildSpec table is not part of a checkpoint:
// internal/checkpoint does not read the block's Supervisor field.
func (s *Supervisor) State() map[string]value.Value          { return nil }
func (s *Supervisor) SetState(m map[string]value.Value)      {}
