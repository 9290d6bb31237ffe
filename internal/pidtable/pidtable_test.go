package pidtable_test

import (
	"sync"
	"testing"

	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/mailbox"
	"github.com/hyourindev/agim/internal/pidtable"
)

func newBlock(pid uint64) *block.Block {
	return block.New(pid, "", 0, block.Limits{MaxMailbox: mailbox.Limits{Policy: mailbox.DropNew}})
}

func TestInsertGetRemove(t *testing.T) {
	tbl := pidtable.New()
	b := newBlock(42)
	tbl.Insert(b)

	got, ok := tbl.Get(42)
	if !ok || got != b {
		t.Fatalf("expected to find the inserted block")
	}
	if tbl.Count() != 1 {
		t.Fatalf("expected count 1, got %d", tbl.Count())
	}

	tbl.Remove(42)
	if _, ok := tbl.Get(42); ok {
		t.Fatalf("expected block to be gone after Remove")
	}
	if tbl.Count() != 0 {
		t.Fatalf("expected count 0 after remove, got %d", tbl.Count())
	}
}

func TestNextPIDIsMonotonicAndNeverZero(t *testing.T) {
	tbl := pidtable.New()
	seen := make(map[uint64]bool)
	var last uint64
	for i := 0; i < 100; i++ {
		pid := tbl.NextPID()
		if pid == 0 {
			t.Fatalf("PID 0 is reserved as invalid")
		}
		if pid <= last {
			t.Fatalf("expected monotonic PIDs, got %d after %d", pid, last)
		}
		if seen[pid] {
			t.Fatalf("duplicate PID %d", pid)
		}
		seen[pid] = true
		last = pid
	}
}

func TestConcurrentSpawnAndLookup(t *testing.T) {
	tbl := pidtable.New()
	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			pid := tbl.NextPID()
			tbl.Insert(newBlock(pid))
			if _, ok := tbl.Get(pid); !ok {
				t.Errorf("expected to find freshly inserted PID %d", pid)
			}
		}()
	}
	wg.Wait()
	if tbl.Count() != n {
		t.Fatalf("expected %d entries, got %d", n, tbl.Count())
	}
}

func TestRangeVisitsEveryShard(t *testing.T) {
	tbl := pidtable.New()
	for i := uint64(1); i <= 64; i++ {
		tbl.Insert(newBlock(i))
	}
	visited := 0
	tbl.Range(func(b *block.Block) bool {
		visited++
		return true
	})
	if visited != 64 {
		t.Fatalf("expected Range to visit all 64 blocks, got %d", visited)
	}
}
