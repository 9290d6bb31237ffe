package block

import (
	"errors"

	"github.com/hyourindev/agim/internal/mailbox"
	"github.com/hyourindev/agim/internal/value"
)

// ErrSendDead is SEND_DEAD (spec §4.3.1 step 1): the target has already
// terminated.
var ErrSendDead = errors.New("block: send to dead target")

// Send delivers payload from sender to target following spec §4.3.1:
//
//  1. a dead target rejects the send outright;
//  2. the payload is wrapped per its variant's ownership rule
//     (value.Wrap: COW-mark for array/map, deep-copy for bytes/closure,
//     share-by-value for everything else);
//  3. a {sender, wrapped} message is pushed to target's mailbox under
//     target's overflow policy;
//  4. on success, sender's messages_sent and target's messages_received
//     are incremented;
//  5. a CRASH-policy overflow still reports success here — the caller
//     (internal/scheduler) observes target.Mailbox.ObserveCrash() on its next
//     visit to target and runs the termination protocol.
func Send(sender, target *Block, payload value.Value) error {
	if err := deliver(target, sender.PID, payload); err != nil {
		return err
	}
	sender.Counter.MessagesSent.Add(1)
	return nil
}

// DeliverRemote pushes payload onto target's mailbox on behalf of a
// sender identified only by PID, for spec §4.9's distributed SEND: the
// sender lives on another node, so there is no local *Block to pass to
// Send. It runs the same mailbox-push and wake steps Send does, just
// without a local sender to attribute messages_sent to.
func DeliverRemote(target *Block, senderPID uint64, payload value.Value) error {
	return deliver(target, senderPID, payload)
}

func deliver(target *Block, senderPID uint64, payload value.Value) error {
	if target.IsDead() {
		return ErrSendDead
	}

	wrapped := value.Wrap(payload)
	msg := mailbox.Message{SenderPID: senderPID, Payload: wrapped}
	if err := target.Mailbox.Push(msg); err != nil {
		return err
	}

	target.Counter.MessagesReceived.Add(1)

	if target.CASState(Waiting, Runnable) {
		if target.PendingTimer != nil {
			target.PendingTimer.Cancel() // arrival supersedes any receive-timeout
			target.PendingTimer = nil
		}
		if target.OnWake != nil {
			target.OnWake(target)
		}
	}
	return nil
}
