// Package pidtable implements the scheduler's PID->Block registry (spec
// §4.4): a sharded hash map supporting lookup under concurrent spawn/exit.
package pidtable

import (
	"sync"
	"sync/atomic"

	"github.com/hyourindev/agim/internal/block"
)

const shardCount = 16

type shard struct {
	mu sync.RWMutex
	m  map[uint64]*block.Block
}

// Table is a 16-shard PID->*block.Block registry. Each shard owns its own
// RWMutex so spawn/exit/lookup on unrelated PIDs never contend.
type Table struct {
	shards  [shardCount]shard
	nextPID atomic.Uint64
	count   atomic.Int64
}

// New creates an empty Table. PID allocation starts at 1 (0 is reserved
// as "invalid" per spec §3).
func New() *Table {
	t := &Table{}
	t.nextPID.Store(0)
	for i := range t.shards {
		t.shards[i].m = make(map[uint64]*block.Block)
	}
	return t
}

func (t *Table) shardFor(pid uint64) *shard {
	return &t.shards[pid%shardCount]
}

// NextPID allocates the next monotonic PID. Insert fails only on memory
// exhaustion (spec §4.4); PID allocation itself cannot fail short of a
// 64-bit counter wraparound, which is out of scope.
func (t *Table) NextPID() uint64 {
	return t.nextPID.Add(1)
}

// Insert registers b under b.PID.
func (t *Table) Insert(b *block.Block) {
	s := t.shardFor(b.PID)
	s.mu.Lock()
	_, existed := s.m[b.PID]
	s.m[b.PID] = b
	s.mu.Unlock()
	if !existed {
		t.count.Add(1)
	}
}

// Remove unregisters pid, if present.
func (t *Table) Remove(pid uint64) {
	s := t.shardFor(pid)
	s.mu.Lock()
	_, existed := s.m[pid]
	delete(s.m, pid)
	s.mu.Unlock()
	if existed {
		t.count.Add(-1)
	}
}

// Get looks up pid.
func (t *Table) Get(pid uint64) (*block.Block, bool) {
	s := t.shardFor(pid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[pid]
	return b, ok
}

// Count returns the number of currently registered PIDs.
func (t *Table) Count() int64 {
	return t.count.Load()
}

// Range iterates every registered block, shard by shard, each shard held
// under its own read lock (used by telemetry aggregation, spec §4.4). The
// callback must not call Insert/Remove on the same Table (it would
// deadlock retaking the shard's write lock).
func (t *Table) Range(fn func(*block.Block) bool) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		cont := true
		for _, b := range s.m {
			if !fn(b) {
				cont = false
				break
			}
		}
		s.mu.RUnlock()
		if !cont {
			return
		}
	}
}
