package mailbox

import (
	"context"

	"github.com/hyourindev/agim/internal/queue"
)

// ReceiveBlocking pops the next message, retrying with the same tiered
// spin/yield/sleep backoff the queue package's own callers use
// (queue.Backoff), until one arrives or ctx is done. It exists for the
// rare single-threaded or test caller that wants a synchronous pop; the
// scheduler itself never calls this; a running worker suspends the block
// (WAITING) on an empty mailbox rather than parking its own goroutine.
func (m *Mailbox) ReceiveBlocking(ctx context.Context) (Message, error) {
	var b queue.Backoff
	for {
		msg, err := m.Pop()
		if err == nil {
			return msg, nil
		}
		if !queue.IsWouldBlock(err) {
			return Message{}, err
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		default:
		}
		b.Wait()
	}
}
