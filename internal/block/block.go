// Package block implements the Block (process) type: spec §3's per-process
// state (stepper, mailbox, capabilities, links/monitors, counters) and the
// §4.3 contracts built directly on it (new/load/run/link/unlink/monitor/
// demonitor/grant/revoke/has_cap/exit/crash). Exit-signal propagation and
// PID-registry bookkeeping (§4.5.1) are layered on top by internal/scheduler,
// which is the package that actually owns the PID table and the other
// blocks a termination needs to notify.
package block

import (
	"sync"
	"sync/atomic"

	"github.com/hyourindev/agim/internal/mailbox"
	"github.com/hyourindev/agim/internal/stepper"
	"github.com/hyourindev/agim/internal/timerwheel"
)

// Limits bounds one block's resource consumption (spec §3).
type Limits struct {
	MaxHeap               int64
	MaxStack              int
	MaxCallDepth          int
	MaxReductionsPerSlice int
	MaxMailbox            mailbox.Limits
}

// Tracer receives lifecycle/trace events from a block. Defined narrowly
// here so block doesn't import internal/telemetry; telemetry.Tracer
// satisfies this by having a matching method set.
type Tracer interface {
	Record(event string)
}

// Block is one isolated process: its own stepper state, mailbox,
// capabilities, and link/monitor bookkeeping.
type Block struct {
	PID       uint64
	Name      string
	ParentPID uint64

	st stateBox

	Stepper stepper.Stepper
	Mailbox *mailbox.Mailbox

	saveMu    sync.Mutex
	SaveQueue []mailbox.Message

	Caps    Capabilities
	Limits  Limits
	Counter Counters

	linksMu     sync.RWMutex
	links       map[uint64]struct{}
	monitors    map[uint64]struct{}
	monitoredBy map[uint64]struct{}

	// Supervisor holds a *supervisor.Supervisor when this block is itself
	// a supervisor. Typed any to avoid an import cycle (supervisor depends
	// on block, not the reverse); the supervisor package is the only
	// reader/writer.
	Supervisor any

	PendingTimer   *timerwheel.Entry
	TimeoutFired   atomic.Bool
	Tracer         Tracer
	ModuleName     string
	ModuleVersion  uint64
	PendingUpgrade atomic.Bool

	// Host is the stepper.Host this block's Stepper was built against.
	// internal/modreg uses it to rebind the stepper to a new Program at a
	// hot-upgrade safe point without needing to know about
	// internal/scheduler's spawn machinery.
	Host stepper.Host

	exitMu     sync.Mutex
	exitCode   int
	exitReason string

	// OnWake is set by the scheduler. Send calls it after winning the
	// WAITING->RUNNABLE race so the woken block is re-enqueued exactly
	// once (spec §5 "Transaction discipline"): mailbox push must be
	// linearizable with the receive transition, so a wake-up is never
	// missed.
	OnWake func(*Block)
}

// New allocates a block in RUNNABLE state with an empty mailbox and
// CAP_NONE (spec §4.3 "new").
func New(pid uint64, name string, parentPID uint64, limits Limits) *Block {
	b := &Block{
		PID:         pid,
		Name:        name,
		ParentPID:   parentPID,
		Limits:      limits,
		Mailbox:     mailbox.New(64, limits.MaxMailbox),
		links:       make(map[uint64]struct{}),
		monitors:    make(map[uint64]struct{}),
		monitoredBy: make(map[uint64]struct{}),
	}
	b.st.Store(Runnable)
	return b
}

// Load binds a stepper implementation. Must be called before the first
// Run.
func (b *Block) Load(s stepper.Stepper) {
	b.Stepper = s
}

// State returns the block's current lifecycle state.
func (b *Block) State() State { return b.st.Load() }

// CASState attempts old->new and reports success (invariant: at most one
// worker may move a block RUNNABLE->RUNNING at a time).
func (b *Block) CASState(old, new State) bool {
	return b.st.CAS(old, new)
}

// SetState force-sets the state outside the CAS protocol. Used only by
// the scheduler when it has already established exclusive ownership
// (e.g. RUNNING->WAITING after a successful run).
func (b *Block) SetState(s State) {
	b.st.Store(s)
}

// Run executes the bound stepper for up to reductions logical operations
// and accounts the reductions actually spent. See spec §5 for the
// Result/suspension-point contract.
func (b *Block) Run(reductions int) (stepper.Result, error) {
	res, consumed, err := b.Stepper.Step(reductions)
	b.Counter.Reductions.Add(int64(consumed))
	return res, err
}

// IsDead reports whether the block has already transitioned to DEAD.
func (b *Block) IsDead() bool {
	return b.st.Load() == Dead
}
