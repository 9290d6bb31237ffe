package stepper

import "github.com/hyourindev/agim/internal/value"

// Op names the kind of a script Instruction. The set matches
// SPEC_FULL.md §4.3's list: send, receive, sleep, spawn, exit, halt,
// checkUpgrade.
type Op int

const (
	OpSend Op = iota
	OpReceive
	OpSleep
	OpSpawn
	OpExit
	OpHalt
	OpCheckUpgrade
)

// Instruction is one step of a script program. Field meaning depends on
// Op:
//   - OpSend: TargetPID, Value.
//   - OpReceive: Match (nil matches anything), TimeoutMs (0 = don't
//     block; scheduler.InfiniteTimeout waits with no timer at all, see
//     Host.Receive).
//   - OpSleep: TimeoutMs.
//   - OpSpawn: Program.
//   - OpExit: Code, Reason.
//   - OpHalt, OpCheckUpgrade: no fields used.
type Instruction struct {
	Op        Op
	TargetPID uint64
	Value     value.Value
	Match     func(value.Value) bool
	TimeoutMs uint64
	Program   *Program
	Code      int
	Reason    string
}

// ReceiveStatus is the three-way outcome spec §4.3.2 distinguishes: an
// immediate match, an immediate "timeout" (only possible with
// timeout==0), or nothing available yet — the caller must suspend.
type ReceiveStatus int

const (
	ReceiveMatched ReceiveStatus = iota
	ReceiveTimeout
	ReceiveSuspend
)

// Host is everything a script needs from its owning block/scheduler.
// Defined here (not in block or scheduler) so this package stays a leaf:
// block and scheduler depend on stepper, not the other way around.
type Host interface {
	PID() uint64
	Send(targetPID uint64, payload value.Value) error
	// Receive implements spec §4.3.2's three outcomes. On ReceiveSuspend
	// the scheduler registers a timer for timeoutMs (unless it is the
	// sentinel "no timeout" value the caller used for an effectively
	// infinite wait) and transitions the block to WAITING.
	Receive(match func(value.Value) bool, timeoutMs uint64) (value.Value, ReceiveStatus)
	Spawn(p *Program) (uint64, error)
	// Sleep requests a WAITING suspension with a wakeup timer; the
	// scheduler resumes the script at the instruction following this one.
	Sleep(ms uint64)
	Exit(code int, reason string)
	PendingUpgrade() bool
}

// Script is the reference stepper: a flat instruction list executed
// top-to-bottom, one reduction per instruction, standing in for the
// out-of-scope bytecode interpreter so tests can exercise the scheduler
// end to end (spec §8's literal scenarios).
type Script struct {
	host    Host
	prog    *Program
	pc      int
	globals map[string]value.Value
	waiting bool // set when the previous Step call ended on a suspend-worthy instruction
}

// NewScript creates a Script stepper bound to host, running prog from its
// first instruction.
func NewScript(host Host, prog *Program) *Script {
	return &Script{host: host, prog: prog, globals: make(map[string]value.Value)}
}

func (s *Script) State() map[string]value.Value { return s.globals }

func (s *Script) SetState(m map[string]value.Value) {
	if m == nil {
		m = make(map[string]value.Value)
	}
	s.globals = m
}

// Position/SetPosition implement stepper.Positional: a flat script has no
// call stack, so frames is always 1 (the top-level program itself).
func (s *Script) Position() (ip uint64, frames uint32) { return uint64(s.pc), 1 }

func (s *Script) SetPosition(ip uint64, frames uint32) { s.pc = int(ip) }

// Step executes up to `reductions` instructions, charging one reduction
// each, and returns the first terminal/suspending condition encountered
// along with how many reductions it actually consumed getting there —
// almost always fewer than requested, since Step returns the instant it
// hits a terminal or suspending instruction instead of burning the rest
// of the budget.
func (s *Script) Step(reductions int) (Result, int, error) {
	for i := 0; i < reductions; i++ {
		if s.pc >= len(s.prog.Entry) {
			return ResultHalt, i, nil
		}
		instr := s.prog.Entry[s.pc]

		switch instr.Op {
		case OpSend:
			if err := s.host.Send(instr.TargetPID, instr.Value); err != nil {
				return ResultError, i + 1, err
			}
			s.pc++

		case OpReceive:
			switch _, status := s.host.Receive(instr.Match, instr.TimeoutMs); status {
			case ReceiveMatched:
				s.pc++
			case ReceiveTimeout:
				s.pc++ // spec §4.3.2: timeout==0 on an empty mailbox returns immediately
			case ReceiveSuspend:
				return ResultWaiting, i + 1, nil
			}

		case OpSleep:
			s.host.Sleep(instr.TimeoutMs)
			s.pc++
			return ResultWaiting, i + 1, nil

		case OpSpawn:
			if _, err := s.host.Spawn(instr.Program); err != nil {
				return ResultError, i + 1, err
			}
			s.pc++

		case OpExit:
			s.host.Exit(instr.Code, instr.Reason)
			s.pc++
			return ResultOK, i + 1, nil

		case OpHalt:
			return ResultHalt, i + 1, nil

		case OpCheckUpgrade:
			s.pc++
			if s.host.PendingUpgrade() {
				return ResultYield, i + 1, nil
			}

		default:
			return ResultError, i + 1, errUnknownOp
		}
	}
	return ResultYield, reductions, nil
}

var errUnknownOp = scriptError("stepper: unknown script instruction")

type scriptError string

func (e scriptError) Error() string { return string(e) }
