// Package mailbox implements the per-block inbound message queue (spec
// §4.1): a bounded MPSC queue with a configurable overflow policy and
// approximate count/byte accounting.
package mailbox

import (
	"sync/atomic"

	"github.com/hyourindev/agim/internal/queue"
	"github.com/hyourindev/agim/internal/value"
)

// OverflowPolicy selects what happens when a push would exceed the
// mailbox's configured limits.
type OverflowPolicy int

const (
	// DropNew discards the incoming message and increments DroppedCount.
	DropNew OverflowPolicy = iota
	// DropOld reclaims one head message to make room. Reclamation is the
	// single consumer's job (only it may pop), so a producer under this
	// policy just marks the mailbox "overflowed" and the consumer drops
	// the oldest message on its next pop before returning a message.
	DropOld
	// BlockSender reports queue.ErrWouldBlock to the caller, who decides
	// whether to park (see receive_blocking's scheduler integration note
	// in SPEC_FULL.md §4.1 / §9 Open Question).
	BlockSender
	// CrashReceiver reports success for the push but flags the mailbox so
	// the scheduler transitions the receiving block to DEAD with reason
	// "mailbox overflow" on its next visit.
	CrashReceiver
)

// Message is one mailbox element: a sender PID and an already-wrapped
// payload (value.Wrap has already been applied by the sender, per spec
// §4.3.1 step 2, before Push is called).
type Message struct {
	SenderPID uint64
	Payload   value.Value
}

// Limits bounds a mailbox by message count and/or approximate byte size.
// A zero field means "no limit" on that axis.
type Limits struct {
	MaxCount uint64
	MaxBytes uint64
	Policy   OverflowPolicy
}

// Mailbox is the bounded MPSC inbound queue for one block.
type Mailbox struct {
	q       *queue.MPSC[Message]
	limits  Limits
	count   atomic.Int64
	bytes   atomic.Int64
	dropped atomic.Int64

	overflowed atomic.Bool // set by a DropOld producer; cleared by the consumer's reclaim pass
	crashed    atomic.Bool // set under CrashReceiver; scheduler observes and kills the block
}

// New creates a Mailbox with the given capacity (rounds up to a power of
// two, per the underlying queue) and limits.
func New(capacity int, limits Limits) *Mailbox {
	return &Mailbox{
		q:      queue.NewMPSC[Message](capacity),
		limits: limits,
	}
}

// Push enqueues msg from any number of concurrent senders. The overflow
// policy is evaluated against the limits snapshot before the underlying
// queue is touched, so a CRASH or DROP_NEW decision never partially
// mutates queue state.
func (m *Mailbox) Push(msg Message) error {
	size := int64(msg.Payload.ByteSize())

	if m.overLimit(size) {
		switch m.limits.Policy {
		case DropNew:
			m.dropped.Add(1)
			return nil
		case DropOld:
			m.overflowed.Store(true)
			// No return: the push below still proceeds. The consumer's
			// next Pop reclaims a head slot first when overflowed is set.
		case BlockSender:
			return queue.ErrWouldBlock
		case CrashReceiver:
			m.crashed.Store(true)
			return nil
		}
	}

	if err := m.q.Enqueue(&msg); err != nil {
		return err
	}
	m.count.Add(1)
	m.bytes.Add(size)
	return nil
}

func (m *Mailbox) overLimit(incomingBytes int64) bool {
	if m.limits.MaxCount > 0 && uint64(m.count.Load()) >= m.limits.MaxCount {
		return true
	}
	if m.limits.MaxBytes > 0 && uint64(m.bytes.Load())+uint64(incomingBytes) > m.limits.MaxBytes {
		return true
	}
	return false
}

// Pop removes and returns the oldest message. Only the mailbox's single
// designated consumer (the owning block's worker) may call this. Returns
// queue.ErrWouldBlock when the mailbox is empty.
func (m *Mailbox) Pop() (Message, error) {
	if m.overflowed.Load() {
		m.reclaimOne()
	}
	msg, err := m.q.Dequeue()
	if err != nil {
		return Message{}, err
	}
	m.count.Add(-1)
	m.bytes.Add(-int64(msg.Payload.ByteSize()))
	return msg, nil
}

// reclaimOne drops the single oldest message to satisfy a DropOld
// overflow. It is a no-op if the mailbox happens to already be empty
// (the overflow that set the flag may have since been resolved by
// ordinary draining).
func (m *Mailbox) reclaimOne() {
	defer m.overflowed.Store(false)
	msg, err := m.q.Dequeue()
	if err != nil {
		return
	}
	m.count.Add(-1)
	m.bytes.Add(-int64(msg.Payload.ByteSize()))
	m.dropped.Add(1)
}

// Crashed reports whether a CrashReceiver overflow has fired and not yet
// been observed, without clearing it. The scheduler itself calls
// ObserveCrash once per visit to the block, which also clears the flag,
// and if it was set tears the block down with reason "mailbox overflow".
func (m *Mailbox) Crashed() bool {
	return m.crashed.Load()
}

// ObserveCrash clears the crashed flag after the scheduler has acted on
// it, so a single overflow cannot kill a block twice.
func (m *Mailbox) ObserveCrash() bool {
	return m.crashed.CompareAndSwap(true, false)
}

// Count returns the approximate number of messages currently queued.
func (m *Mailbox) Count() int64 { return m.count.Load() }

// Bytes returns the approximate total payload size currently queued.
func (m *Mailbox) Bytes() int64 { return m.bytes.Load() }

// DroppedCount returns the number of messages discarded by DropNew or
// reclaimed by DropOld over the mailbox's lifetime.
func (m *Mailbox) DroppedCount() int64 { return m.dropped.Load() }

// Empty reports whether the mailbox currently holds no messages.
func (m *Mailbox) Empty() bool { return m.count.Load() == 0 }

// DrainAll pops every currently queued message in order. Like Pop, only
// the mailbox's single consumer may call this — internal/checkpoint uses
// it to capture a suspended block's mailbox contents (spec §4.8).
func (m *Mailbox) DrainAll() []Message {
	var out []Message
	for {
		msg, err := m.Pop()
		if err != nil {
			return out
		}
		out = append(out, msg)
	}
}

// Refill re-pushes msgs in order, bypassing the overflow policy (the
// messages already passed it once). Used to put a checkpoint's captured
// mailbox contents back — either into the mailbox DrainAll just emptied,
// when capturing a live block without consuming it, or into a freshly
// restored block's mailbox.
func (m *Mailbox) Refill(msgs []Message) {
	for _, msg := range msgs {
		m.q.Enqueue(&msg)
		m.count.Add(1)
		m.bytes.Add(int64(msg.Payload.ByteSize()))
	}
}

// Close marks the mailbox as having no further producers. A retired
// block's PID is already removed from the table by the time the
// scheduler calls this, so any SEND racing the retirement has already
// failed its lookup and will never reach Push again; Close just lets a
// concurrent DrainAll on the way out skip the underlying queue's
// livelock-prevention threshold instead of contending with it.
func (m *Mailbox) Close() {
	m.q.Drain()
}
