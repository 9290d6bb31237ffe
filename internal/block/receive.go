package block

import (
	"github.com/hyourindev/agim/internal/mailbox"
	"github.com/hyourindev/agim/internal/value"
)

// Match is a selective-receive predicate over a message's payload. nil
// matches anything.
type Match func(value.Value) bool

func (m Match) matches(v value.Value) bool {
	return m == nil || m(v)
}

// TryReceive implements one pass of spec §4.3.2's selective receive,
// without deciding what to do on a miss (timeout registration and the
// WAITING transition are internal/scheduler's job, since those need the
// timer wheel and the worker's deque):
//
//  1. Scan save_queue first; the first match is returned and the rest of
//     save_queue is left untouched, in order.
//  2. Otherwise drain the mailbox: each non-matching message is appended
//     to save_queue (preserving arrival order); the first match is
//     returned immediately.
//  3. If the mailbox empties out with nothing matching, report (false).
func (b *Block) TryReceive(match Match) (mailbox.Message, bool) {
	b.saveMu.Lock()
	defer b.saveMu.Unlock()

	for i, msg := range b.SaveQueue {
		if match.matches(msg.Payload) {
			b.SaveQueue = append(b.SaveQueue[:i:i], b.SaveQueue[i+1:]...)
			return msg, true
		}
	}

	for {
		msg, err := b.Mailbox.Pop()
		if err != nil {
			return mailbox.Message{}, false
		}
		if match.matches(msg.Payload) {
			return msg, true
		}
		b.SaveQueue = append(b.SaveQueue, msg)
	}
}
