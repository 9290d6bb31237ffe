// Package stepper defines the narrow contract a bytecode interpreter
// plugs into the scheduler (spec §5 "Suspension points" and the stepper
// return codes in §4.5). The interpreter itself is out of scope for this
// runtime; this package only carries the interface plus a small reference
// "script" stepper (see script.go) used to exercise the scheduler, links,
// monitors, supervisors, upgrade, and checkpoint paths end-to-end in
// tests without a real compiler.
package stepper

import "github.com/hyourindev/agim/internal/value"

// Result is what Step reports back to the worker running a block.
type Result int

const (
	ResultOK Result = iota
	ResultHalt
	ResultYield
	ResultWaiting
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultHalt:
		return "HALT"
	case ResultYield:
		return "YIELD"
	case ResultWaiting:
		return "WAITING"
	case ResultError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Stepper runs a block's program for up to `reductions` logical
// operations, charging one reduction per operation, and reports what
// happened. Step's int return is how many reductions it actually
// consumed before halting, erroring, or suspending — almost always fewer
// than the requested budget, since a Stepper returns the instant it hits
// a terminal or suspending instruction rather than padding out the rest
// of the slice. Callers (internal/block's Run) charge Counters.Reductions
// by this value, not by the requested budget. State/SetState expose the
// block's globals so checkpoint and hot-upgrade migrate functions can
// snapshot and replace them without the stepper knowing about either
// feature.
type Stepper interface {
	Step(reductions int) (result Result, consumed int, err error)
	State() map[string]value.Value
	SetState(map[string]value.Value)
}

// Positional is an optional capability a Stepper can implement to expose
// the instruction-pointer offset and call-frame count a checkpoint needs
// to capture (spec §4.8's "IP offset, frame count"). internal/checkpoint
// type-asserts for this rather than widening the core Stepper interface,
// since a real bytecode VM's frame representation is out of this
// project's scope and a stepper that can't expose one (or doesn't have
// the concept) simply doesn't implement it.
type Positional interface {
	Position() (ip uint64, frames uint32)
	SetPosition(ip uint64, frames uint32)
}

// Program is the opaque unit of compiled code a block is bound to.
// ModuleName/Version identify it in the module registry (§4.7); Entry is
// only populated by the reference script stepper — a real bytecode
// interpreter would carry its own compiled representation instead.
type Program struct {
	ModuleName string
	Version    uint64
	Entry      []Instruction
}
