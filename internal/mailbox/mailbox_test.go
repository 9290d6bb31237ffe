package mailbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hyourindev/agim/internal/mailbox"
	"github.com/hyourindev/agim/internal/queue"
	"github.com/hyourindev/agim/internal/value"
)

func TestPushPopFIFO(t *testing.T) {
	mb := mailbox.New(16, mailbox.Limits{Policy: mailbox.DropNew})

	for i := 0; i < 5; i++ {
		if err := mb.Push(mailbox.Message{SenderPID: 1, Payload: value.Int(int64(i))}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		msg, err := mb.Pop()
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if msg.Payload.AsInt() != int64(i) {
			t.Fatalf("expected FIFO order, got %d at position %d", msg.Payload.AsInt(), i)
		}
	}
	if !mb.Empty() {
		t.Fatalf("expected empty mailbox after draining")
	}
}

func TestDropNewPolicyDiscardsOverflow(t *testing.T) {
	mb := mailbox.New(4, mailbox.Limits{MaxCount: 2, Policy: mailbox.DropNew})

	mustPush := func(v int64) {
		if err := mb.Push(mailbox.Message{Payload: value.Int(v)}); err != nil {
			t.Fatalf("push %d: %v", v, err)
		}
	}
	mustPush(1)
	mustPush(2)
	mustPush(3) // over MaxCount=2, dropped

	if mb.Count() != 2 {
		t.Fatalf("expected count capped at 2, got %d", mb.Count())
	}
	if mb.DroppedCount() != 1 {
		t.Fatalf("expected 1 dropped message, got %d", mb.DroppedCount())
	}
	first, _ := mb.Pop()
	if first.Payload.AsInt() != 1 {
		t.Fatalf("expected message 1 to survive, got %d", first.Payload.AsInt())
	}
}

func TestDropOldPolicyReclaimsHeadOnNextPop(t *testing.T) {
	mb := mailbox.New(4, mailbox.Limits{MaxCount: 2, Policy: mailbox.DropOld})

	push := func(v int64) error {
		return mb.Push(mailbox.Message{Payload: value.Int(v)})
	}
	if err := push(1); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if err := push(2); err != nil {
		t.Fatalf("push 2: %v", err)
	}
	if err := push(3); err != nil {
		t.Fatalf("push 3 (overflow): %v", err)
	}

	msg, err := mb.Pop()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	// message 1 was reclaimed by the overflow; the survivor is message 2.
	if msg.Payload.AsInt() != 2 {
		t.Fatalf("expected DropOld to reclaim the oldest message, got %d", msg.Payload.AsInt())
	}
}

func TestBlockSenderPolicyReturnsWouldBlock(t *testing.T) {
	mb := mailbox.New(4, mailbox.Limits{MaxCount: 1, Policy: mailbox.BlockSender})

	if err := mb.Push(mailbox.Message{Payload: value.Int(1)}); err != nil {
		t.Fatalf("first push: %v", err)
	}
	err := mb.Push(mailbox.Message{Payload: value.Int(2)})
	if !queue.IsWouldBlock(err) {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}

func TestCrashReceiverPolicySetsFlagWithoutError(t *testing.T) {
	mb := mailbox.New(4, mailbox.Limits{MaxCount: 1, Policy: mailbox.CrashReceiver})

	if err := mb.Push(mailbox.Message{Payload: value.Int(1)}); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := mb.Push(mailbox.Message{Payload: value.Int(2)}); err != nil {
		t.Fatalf("overflow push must report success under CrashReceiver, got %v", err)
	}
	if !mb.Crashed() {
		t.Fatalf("expected Crashed() after overflow")
	}
	if !mb.ObserveCrash() {
		t.Fatalf("ObserveCrash should consume the flag")
	}
	if mb.Crashed() {
		t.Fatalf("flag should clear after ObserveCrash")
	}
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	mb := mailbox.New(64, mailbox.Limits{Policy: mailbox.BlockSender})

	const producers = 8
	const perProducer = 200
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(pid uint64) {
			defer wg.Done()
			var b queue.Backoff
			for i := 0; i < perProducer; i++ {
				for {
					err := mb.Push(mailbox.Message{SenderPID: pid, Payload: value.Int(int64(i))})
					if err == nil {
						b.Reset()
						break
					}
					b.Wait()
				}
			}
		}(uint64(p))
	}

	received := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for received < producers*perProducer {
		_, err := mb.ReceiveBlocking(ctx)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		received++
	}
	<-done
}
