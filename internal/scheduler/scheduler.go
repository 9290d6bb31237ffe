// Package scheduler implements the worker pool, work-stealing run queues,
// spawn, and block-termination protocol (spec §4.5, §4.5.1) tying
// together internal/block, internal/pidtable, internal/deque, and
// internal/timerwheel.
package scheduler

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/deque"
	"github.com/hyourindev/agim/internal/modreg"
	"github.com/hyourindev/agim/internal/pidtable"
	"github.com/hyourindev/agim/internal/queue"
	"github.com/hyourindev/agim/internal/stepper"
	"github.com/hyourindev/agim/internal/timerwheel"
)

// ErrMaxBlocks is returned by Spawn when the scheduler's configured
// MaxBlocks ceiling would be exceeded.
var ErrMaxBlocks = errors.New("scheduler: max blocks exceeded")

// InfiniteTimeout is the sentinel a script passes to Receive/Sleep to mean
// "no deadline" — the block transitions to WAITING and only wakes on a
// message arrival (or an external kill), never a timer (spec §4.3.2).
const InfiniteTimeout = uint64(math.MaxUint64)

// Config is the scheduler's tunable surface (spec §4.5's "configuration
// (worker count, default reduction budget, max blocks)"), normally
// populated from internal/config's TOML file.
type Config struct {
	WorkerCount            int
	DefaultReductionBudget int
	MaxBlocks              int
	WheelSize              int
	TickMs                 uint64
}

// NewStepperFunc binds a freshly allocated block's Host adapter to a
// concrete stepper.Stepper. The reference implementation passes a closure
// around stepper.NewScript; a real bytecode interpreter would plug in
// here instead.
type NewStepperFunc func(host stepper.Host, prog *stepper.Program) stepper.Stepper

// Scheduler owns the worker pool, the PID registry, the timer wheel, and
// the global counters spec §4.5 lists.
type Scheduler struct {
	cfg        Config
	pids       *pidtable.Table
	wheel      *timerwheel.Wheel
	workers    []*worker
	injector   *queue.MPMC[spawnRequest]
	newStepper NewStepperFunc
	modreg     *modreg.Registry // nil unless SetModuleRegistry is called

	totalSpawned    atomic.Int64
	totalTerminated atomic.Int64
	blocksInFlight  atomic.Int64
	contextSwitches atomic.Int64

	startMs int64 // time.Now().UnixMilli() at Start, so wheel deadlines are relative to scheduler start

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type spawnRequest struct {
	b *block.Block
}

// New creates a Scheduler. newStepper binds each spawned block's stepper;
// pass a closure around stepper.NewScript for the reference script
// interpreter, or a real bytecode interpreter's constructor.
func New(cfg Config, newStepper NewStepperFunc) *Scheduler {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.DefaultReductionBudget <= 0 {
		cfg.DefaultReductionBudget = 1000
	}
	s := &Scheduler{
		cfg:        cfg,
		pids:       pidtable.New(),
		wheel:      timerwheel.New(cfg.WheelSize, cfg.TickMs),
		injector:   queue.NewMPMC[spawnRequest](64),
		newStepper: newStepper,
		stopCh:     make(chan struct{}),
	}
	s.workers = make([]*worker, cfg.WorkerCount)
	for i := range s.workers {
		s.workers[i] = &worker{
			id:    i,
			sched: s,
			dq:    deque.New[*block.Block](),
			rng:   rand.New(rand.NewSource(int64(i) + 1)),
		}
	}
	return s
}

// SetModuleRegistry attaches a module registry for hot upgrade (spec
// §4.7). Must be called before Start; a nil registry (the default) means
// spawned blocks simply never participate in hot upgrade.
func (s *Scheduler) SetModuleRegistry(r *modreg.Registry) { s.modreg = r }

// Start launches one goroutine per worker plus the timer-wheel ticker.
func (s *Scheduler) Start() {
	s.startMs = time.Now().UnixMilli()
	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *worker) {
			defer s.wg.Done()
			w.loop()
		}(w)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickLoop()
	}()
}

// Stop signals every worker and the ticker to exit and waits for them.
// Stop signals every worker to exit its poll loop and waits for them to
// drain out. The injector is marked draining first so a worker blocked on
// its threshold check gives up the livelock-prevention wait and pops
// whatever spawnRequests are left instead of spinning against producers
// that will never send another one.
func (s *Scheduler) Stop() {
	s.injector.Drain()
	close(s.stopCh)
	s.wg.Wait()
}

// Wait blocks until the termination predicate holds (spec §4.5):
// total_spawned > 0 ∧ total_terminated == total_spawned ∧
// blocks_in_flight == 0. It polls rather than using a condvar, matching
// the worker loop's own backoff-and-poll idle strategy.
func (s *Scheduler) Wait() {
	var b queue.Backoff
	for !s.Terminated() {
		b.Wait()
	}
}

// Terminated reports the scheduler's termination predicate.
func (s *Scheduler) Terminated() bool {
	spawned := s.totalSpawned.Load()
	return spawned > 0 && s.totalTerminated.Load() == spawned && s.blocksInFlight.Load() == 0
}

func (s *Scheduler) nowMs() uint64 {
	return uint64(time.Now().UnixMilli() - s.startMs)
}

func (s *Scheduler) tickLoop() {
	tick := time.Duration(s.cfg.TickMs) * time.Millisecond
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.wheel.Tick(s.nowMs())
		}
	}
}

// Spawn allocates a PID, creates and loads a block running prog through
// the scheduler's configured NewStepperFunc, registers it, and places it
// on the scheduler for a worker to pick up (spec §4.5 "Spawn"). Called
// from outside any worker (e.g. the CLI's initial program, or a test).
func (s *Scheduler) Spawn(prog *stepper.Program, name string, limits block.Limits) (uint64, error) {
	moduleName := prog.ModuleName
	return s.spawn(name, 0, limits, -1, moduleName, func(host stepper.Host) stepper.Stepper {
		return s.newStepper(host, prog)
	}, true)
}

// MakeStepperFunc builds the stepper for a freshly created block given
// its Host. Used by SpawnCustom for blocks whose execution semantics
// aren't the reference script interpreter — e.g. internal/supervisor's
// native restart-loop stepper.
type MakeStepperFunc func(host stepper.Host) stepper.Stepper

// SpawnCustom is Spawn for a block whose stepper isn't built from a
// stepper.Program (spec §4.6's supervisor is the motivating case: its
// "program" is Go control flow reacting to EXIT messages, not a flat
// instruction list). parentPID is 0 for a top-level spawn.
func (s *Scheduler) SpawnCustom(name string, parentPID uint64, limits block.Limits, moduleName string, makeStepper MakeStepperFunc) (uint64, error) {
	return s.spawn(name, parentPID, limits, -1, moduleName, makeStepper, true)
}

// SpawnSuspended is Spawn without the final enqueue: the block is
// allocated, registered in the PID table, and bound to moduleName, but
// never placed on a run queue. The caller finishes installing state
// (internal/checkpoint's Restore is the motivating case — globals,
// mailbox contents, links, position — all need to land before any worker
// can observe the block) and then calls Enqueue to schedule it RUNNABLE.
func (s *Scheduler) SpawnSuspended(prog *stepper.Program, name string, parentPID uint64, limits block.Limits) (uint64, error) {
	moduleName := prog.ModuleName
	return s.spawn(name, parentPID, limits, -1, moduleName, func(host stepper.Host) stepper.Stepper {
		return s.newStepper(host, prog)
	}, false)
}

// Enqueue schedules a block spawned via SpawnSuspended onto a worker's
// run queue now that the caller has finished installing its state.
// Reports false if pid isn't registered.
func (s *Scheduler) Enqueue(pid uint64) bool {
	b, ok := s.pids.Get(pid)
	if !ok {
		return false
	}
	s.enqueue(b, -1)
	return true
}

func (s *Scheduler) spawn(name string, parentPID uint64, limits block.Limits, fromWorker int, moduleName string, makeStepper MakeStepperFunc, enqueue bool) (uint64, error) {
	if s.cfg.MaxBlocks > 0 && int(s.pids.Count()) >= s.cfg.MaxBlocks {
		return 0, ErrMaxBlocks
	}
	pid := s.pids.NextPID()
	b := block.New(pid, name, parentPID, limits)
	b.ModuleName = moduleName
	b.OnWake = func(woken *block.Block) { s.enqueue(woken, fromWorker) }

	host := &hostAdapter{sched: s, self: b, workerID: fromWorker}
	b.Host = host
	b.Load(makeStepper(host))

	s.pids.Insert(b)
	s.totalSpawned.Add(1)
	if s.modreg != nil && moduleName != "" {
		s.modreg.Register(moduleName, b)
	}
	if enqueue {
		s.enqueue(b, fromWorker)
	}
	return pid, nil
}

// Kill forces pid to DEAD with the given reason and, if this call wins
// the termination race, runs the full §4.5.1 propagation protocol. Used
// by code outside the worker loop that needs to tear down a block it
// doesn't itself own — internal/supervisor's strategy execution is the
// motivating caller.
func (s *Scheduler) Kill(pid uint64, reason string) bool {
	b, ok := s.pids.Get(pid)
	if !ok {
		return false
	}
	if b.Terminate(1, reason) {
		s.retire(b)
		return true
	}
	return false
}

// enqueue places a RUNNABLE block for execution: directly onto the
// originating worker's local deque when known, otherwise onto the
// global injector queue every worker polls after its local deque and
// stealing both miss (spec §4.5 "push to the current worker's deque (or
// round-robin if none is current)").
func (s *Scheduler) enqueue(b *block.Block, fromWorker int) {
	if fromWorker >= 0 && fromWorker < len(s.workers) {
		s.workers[fromWorker].dq.Push(b)
		return
	}
	req := spawnRequest{b: b}
	if err := s.injector.Enqueue(&req); err != nil {
		// Injector momentarily full under extreme fan-out: fall back to
		// round-robin onto a worker's own deque rather than dropping the
		// block (the deque itself grows unbounded by doubling).
		idx := int(s.totalSpawned.Load()) % len(s.workers)
		s.workers[idx].dq.Push(b)
	}
}

// applyUpgrade performs one block's hot-upgrade safe-point migration (spec
// §4.7 step 3): ask the module registry for the migrated globals and the
// new Program, rebind the stepper against the same Host the block already
// has, and clear PendingUpgrade. A no-op if the registry has nothing newer
// for this block's module (e.g. it already migrated, or was never
// registered).
func (s *Scheduler) applyUpgrade(b *block.Block) {
	defer b.PendingUpgrade.Store(false)
	if s.modreg == nil {
		return
	}
	prog, globals, ok := s.modreg.Migrate(b.ModuleName, b)
	if !ok {
		return
	}
	next := s.newStepper(b.Host, prog)
	next.SetState(globals)
	b.Load(next)
}

// PIDTable exposes the registry for packages that need direct lookups
// (internal/dist's inbound SEND, internal/checkpoint's restore path).
func (s *Scheduler) PIDTable() *pidtable.Table { return s.pids }

// Counters is a snapshot of the scheduler-wide counters spec §4.5 names.
type Counters struct {
	TotalSpawned    int64
	TotalTerminated int64
	BlocksInFlight  int64
	ContextSwitches int64
}

func (s *Scheduler) Counters() Counters {
	return Counters{
		TotalSpawned:    s.totalSpawned.Load(),
		TotalTerminated: s.totalTerminated.Load(),
		BlocksInFlight:  s.blocksInFlight.Load(),
		ContextSwitches: s.contextSwitches.Load(),
	}
}
