package queue_test

import (
	"sync"
	"testing"

	"github.com/hyourindev/agim/internal/queue"
)

func TestMPSCConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 2000
	q := queue.NewMPSC[int](4096)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := range producers {
		go func(p int) {
			defer wg.Done()
			for i := range perProducer {
				v := p*perProducer + i
				var b queue.Backoff
				for q.Enqueue(&v) != nil {
					b.Wait()
				}
			}
		}(p)
	}

	got := make(map[int]bool, producers*perProducer)
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var b queue.Backoff
	total := producers * perProducer
	for len(got) < total {
		val, err := q.Dequeue()
		if err != nil {
			select {
			case <-done:
				b.Wait()
			default:
				b.Wait()
			}
			continue
		}
		mu.Lock()
		got[val] = true
		mu.Unlock()
	}

	if len(got) != total {
		t.Fatalf("got %d unique values, want %d", len(got), total)
	}
}

func TestMPMCBasic(t *testing.T) {
	q := queue.NewMPMC[string](8)
	for _, s := range []string{"a", "b", "c"} {
		s := s
		if err := q.Enqueue(&s); err != nil {
			t.Fatalf("Enqueue(%q): %v", s, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("Dequeue: got %q, want %q", got, want)
		}
	}
}

func TestMPMCDrain(t *testing.T) {
	q := queue.NewMPMC[int](4)
	for i := range 4 {
		v := i
		if err := q.Enqueue(&v); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	q.Drain()
	for i := range 4 {
		v, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue after Drain(%d): %v", i, err)
		}
		if v != i {
			t.Fatalf("Dequeue after Drain: got %d want %d", v, i)
		}
	}
}

func TestRoundToPow2Capacity(t *testing.T) {
	cases := []struct{ in, want int }{
		{2, 2}, {3, 4}, {4, 4}, {1000, 1024}, {1024, 1024},
	}
	for _, c := range cases {
		q := queue.NewMPMC[int](c.in)
		if q.Cap() != c.want {
			t.Fatalf("NewMPMC(%d).Cap() = %d, want %d", c.in, q.Cap(), c.want)
		}
	}
}
