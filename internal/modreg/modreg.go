// Package modreg implements spec §4.7: the module registry and hot
// upgrade protocol. It maps a module name to its current bytecode version
// plus a reference-counted chain of prior versions still kept alive by
// blocks that haven't migrated off them yet.
//
// This package only knows about block.Block and stepper.Program — it has
// no notion of a scheduler or worker pool. internal/scheduler owns the
// actual safe-point application (it alone has the stepper.Host needed to
// rebind a migrated block's stepper); this package only tracks versions,
// membership, and the migrate-function call itself.
package modreg

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/stepper"
	"github.com/hyourindev/agim/internal/value"
)

// ErrUnknownModule is returned by any operation naming a module that has
// never been Load-ed.
var ErrUnknownModule = errors.New("modreg: unknown module")

// ErrNoPriorVersion is returned by Rollback when a module has nothing to
// roll back to.
var ErrNoPriorVersion = errors.New("modreg: no prior version to roll back to")

// MigrateFunc transforms a block's globals from fromVersion's shape into
// the new version's shape (spec §4.7's "migrate(old_state, old_version)").
// A nil MigrateFunc means the new version simply reuses the old globals
// unchanged.
type MigrateFunc func(old map[string]value.Value, fromVersion uint64) map[string]value.Value

type version struct {
	number  uint64
	prog    *stepper.Program
	migrate MigrateFunc
	refs    atomic.Int64
}

type moduleEntry struct {
	mu      sync.Mutex
	current *version
	prior   []*version
	blocks  map[uint64]*block.Block
}

// release decrements the refcount bound to version number v and drops it
// from prior once nothing references it any more (spec §4.7 "freed when
// the last binding migrates"). Caller holds me.mu.
func (me *moduleEntry) release(v uint64) {
	if me.current != nil && me.current.number == v {
		me.current.refs.Add(-1)
		return
	}
	for i, p := range me.prior {
		if p.number == v {
			if p.refs.Add(-1) <= 0 {
				me.prior = append(me.prior[:i:i], me.prior[i+1:]...)
			}
			return
		}
	}
}

// Registry is the live module table a Scheduler optionally owns.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*moduleEntry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{modules: make(map[string]*moduleEntry)}
}

func (r *Registry) entry(name string) *moduleEntry {
	r.mu.RLock()
	me := r.modules[name]
	r.mu.RUnlock()
	return me
}

// Load installs prog as module name's new current version (spec §4.7
// "load"), demoting whatever was current into the prior-versions chain
// (still reference-counted by whatever blocks haven't migrated off it).
// Returns the new version number (versions start at 1 and increment).
func (r *Registry) Load(name string, prog *stepper.Program, migrate MigrateFunc) uint64 {
	r.mu.Lock()
	me, ok := r.modules[name]
	if !ok {
		me = &moduleEntry{blocks: make(map[uint64]*block.Block)}
		r.modules[name] = me
	}
	r.mu.Unlock()

	me.mu.Lock()
	defer me.mu.Unlock()
	number := uint64(1)
	if me.current != nil {
		number = me.current.number + 1
		me.prior = append(me.prior, me.current)
	}
	me.current = &version{number: number, prog: prog, migrate: migrate}
	return number
}

// Register binds b to name's current version, bumping its reference
// count (spec §4.7 "Blocks register themselves against a module"). A
// no-op if name has never been Load-ed.
func (r *Registry) Register(name string, b *block.Block) {
	me := r.entry(name)
	if me == nil {
		return
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	me.blocks[b.PID] = b
	me.current.refs.Add(1)
	b.ModuleVersion = me.current.number
}

// Unregister drops b's binding and releases whatever version it held
// (called when a block terminates).
func (r *Registry) Unregister(name string, b *block.Block) {
	me := r.entry(name)
	if me == nil {
		return
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	delete(me.blocks, b.PID)
	me.release(b.ModuleVersion)
}

// TriggerUpgrade marks every block currently registered against name for
// migration at its own next safe point (spec §4.7 step 2).
func (r *Registry) TriggerUpgrade(name string) error {
	me := r.entry(name)
	if me == nil {
		return ErrUnknownModule
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	for _, b := range me.blocks {
		b.PendingUpgrade.Store(true)
	}
	return nil
}

// Rollback moves the most recently superseded version back to current
// and re-triggers upgrade for every registered block (spec §4.7 step 4).
func (r *Registry) Rollback(name string) error {
	me := r.entry(name)
	if me == nil {
		return ErrUnknownModule
	}
	me.mu.Lock()
	if len(me.prior) == 0 {
		me.mu.Unlock()
		return ErrNoPriorVersion
	}
	restored := me.prior[len(me.prior)-1]
	me.prior = me.prior[:len(me.prior)-1]
	me.prior = append(me.prior, me.current)
	me.current = restored
	me.mu.Unlock()
	return r.TriggerUpgrade(name)
}

// Migrate performs b's safe-point migration against name's current
// version (spec §4.7 step 3, parts a/b/d — rebinding the stepper itself,
// part c, is the caller's job since it needs b's stepper.Host). Returns
// false if b is already bound to the current version (nothing to do) or
// name is unknown.
func (r *Registry) Migrate(name string, b *block.Block) (*stepper.Program, map[string]value.Value, bool) {
	me := r.entry(name)
	if me == nil {
		return nil, nil, false
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	target := me.current
	if target.number == b.ModuleVersion {
		return nil, nil, false
	}
	oldGlobals := b.Stepper.State()
	newGlobals := oldGlobals
	if target.migrate != nil {
		newGlobals = target.migrate(oldGlobals, b.ModuleVersion)
	}
	me.release(b.ModuleVersion)
	target.refs.Add(1)
	b.ModuleVersion = target.number
	return target.prog, newGlobals, true
}

// RefCount reports the current version's live reference count — exposed
// for tests and telemetry, not used by the upgrade protocol itself.
func (r *Registry) RefCount(name string) int64 {
	me := r.entry(name)
	if me == nil {
		return 0
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.current.refs.Load()
}
