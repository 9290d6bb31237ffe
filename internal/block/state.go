package block

import "sync/atomic"

// State is a block's lifecycle stage (spec §3 "Block (process)").
type State int32

const (
	Runnable State = iota
	Running
	Waiting
	Dead
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "RUNNABLE"
	case Running:
		return "RUNNING"
	case Waiting:
		return "WAITING"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// stateBox wraps the atomic CAS state transitions every worker and
// producer must go through (invariant 2: at most one worker holds a block
// in RUNNING at a time).
type stateBox struct {
	v atomic.Int32
}

func (s *stateBox) Load() State {
	return State(s.v.Load())
}

func (s *stateBox) Store(st State) {
	s.v.Store(int32(st))
}

func (s *stateBox) CAS(old, new State) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}
