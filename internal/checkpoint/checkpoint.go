// Package checkpoint implements spec §4.8's checkpoint file format: a
// TLV-encoded snapshot of one block's mailbox, globals, stepper position,
// link list, parent, capabilities, and counters, framed by a magic number
// and format version so a reader can reject anything it doesn't
// recognize rather than guess. internal/tlv supplies the byte codec;
// this package only decides the shape of the body.
package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/mailbox"
	"github.com/hyourindev/agim/internal/scheduler"
	"github.com/hyourindev/agim/internal/stepper"
	"github.com/hyourindev/agim/internal/tlv"
	"github.com/hyourindev/agim/internal/value"
)

// Magic identifies an Agim checkpoint file (spec §4.8).
const Magic uint32 = 0x41474D43

// FormatVersion is the body layout version this package reads and
// writes. Bumped whenever a field is added, removed, or reinterpreted.
const FormatVersion uint32 = 1

var (
	// ErrBadMagic is returned by Restore when the header's magic number
	// doesn't match Magic — not an Agim checkpoint, or corrupted.
	ErrBadMagic = errors.New("checkpoint: bad magic number")
	// ErrUnsupportedVersion is returned by Restore for a well-formed
	// header whose format version this build doesn't know how to read.
	ErrUnsupportedVersion = errors.New("checkpoint: unsupported format version")
)

// Capture builds a checkpoint for b (spec §4.8): metadata, mailbox
// contents, globals, IP/frame position (when the bound stepper exposes
// one via stepper.Positional), link list, parent PID, capabilities, and
// counters. b should be between reduction slices — the same safe-point
// assumption internal/modreg's hot upgrade relies on — since Capture
// reads the stepper's state without synchronizing against a concurrent
// Step call. Draining the mailbox to serialize it is non-destructive: the
// captured messages are pushed back before Capture returns.
func Capture(id string, b *block.Block) ([]byte, error) {
	fields := map[string]value.Value{
		"timestamp":      value.Int(time.Now().UnixMilli()),
		"id":             value.String(id),
		"format_version": value.Int(int64(FormatVersion)),
		"original_pid":   value.PID(b.PID),
		"name":           value.String(b.Name),
		"module_name":    value.String(b.ModuleName),
		"module_version": value.Int(int64(b.ModuleVersion)),
		"parent_pid":     value.PID(b.ParentPID),
		"capabilities":   value.Int(int64(b.Caps.Snapshot())),
	}

	fields["globals"] = value.MapVal(value.NewMap(b.Stepper.State()))

	var ip uint64
	var frames uint32
	if p, ok := b.Stepper.(stepper.Positional); ok {
		ip, frames = p.Position()
	}
	fields["ip"] = value.Int(int64(ip))
	fields["frames"] = value.Int(int64(frames))

	links := b.Links()
	linkVals := make([]value.Value, len(links))
	for i, pid := range links {
		linkVals[i] = value.PID(pid)
	}
	fields["links"] = value.ArrayVal(value.NewArray(linkVals))

	msgs := b.Mailbox.DrainAll()
	msgVals := make([]value.Value, len(msgs))
	for i, m := range msgs {
		msgVals[i] = value.MapVal(value.NewMap(map[string]value.Value{
			"sender":  value.PID(m.SenderPID),
			"payload": m.Payload,
		}))
	}
	fields["mailbox"] = value.ArrayVal(value.NewArray(msgVals))
	b.Mailbox.Refill(msgs)

	snap := b.Counter.Snapshot()
	fields["counters"] = value.MapVal(value.NewMap(map[string]value.Value{
		"reductions":        value.Int(snap.Reductions),
		"messages_sent":     value.Int(snap.MessagesSent),
		"messages_received": value.Int(snap.MessagesReceived),
		"gc_cycles":         value.Int(snap.GCCycles),
		"bytes_allocated":   value.Int(snap.BytesAllocated),
		"wait_time_ns":      value.Int(snap.WaitTimeNs),
	}))

	body := value.MapVal(value.NewMap(fields))

	var buf bytes.Buffer
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], Magic)
	binary.BigEndian.PutUint32(header[4:8], FormatVersion)
	buf.Write(header[:])

	w := bufio.NewWriter(&buf)
	if err := tlv.Encode(w, body); err != nil {
		return nil, fmt.Errorf("checkpoint: encode %s: %w", b.Name, err)
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore parses data, spawns a brand-new block running prog (a fresh
// PID — spec §4.8 is explicit that a restored block is "not the original
// process"), and installs the checkpoint's globals, mailbox, position,
// capabilities, counters, and links before scheduling it RUNNABLE. prog
// must be the same module's current compiled program; Restore doesn't go
// through internal/modreg itself, since which version to restore against
// is a policy decision for the caller, not this package.
func Restore(data []byte, sched *scheduler.Scheduler, prog *stepper.Program, limits block.Limits) (uint64, error) {
	if len(data) < 8 {
		return 0, ErrBadMagic
	}
	if binary.BigEndian.Uint32(data[0:4]) != Magic {
		return 0, ErrBadMagic
	}
	if v := binary.BigEndian.Uint32(data[4:8]); v != FormatVersion {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	bodyVal, err := tlv.Decode(bytes.NewReader(data[8:]))
	if err != nil {
		return 0, fmt.Errorf("checkpoint: decode body: %w", err)
	}
	fields := bodyVal.AsMap()

	name, _ := fields.Get("name")
	parentPID, _ := fields.Get("parent_pid")

	pid, err := sched.SpawnSuspended(prog, name.AsString(), parentPID.AsPID(), limits)
	if err != nil {
		return 0, err
	}
	b, ok := sched.PIDTable().Get(pid)
	if !ok {
		return 0, fmt.Errorf("checkpoint: restored block %d vanished before installation", pid)
	}

	if globalsV, ok := fields.Get("globals"); ok {
		b.Stepper.SetState(globalsV.AsMap().Entries())
	}

	if ipV, ok := fields.Get("ip"); ok {
		framesV, _ := fields.Get("frames")
		if p, ok2 := b.Stepper.(stepper.Positional); ok2 {
			p.SetPosition(uint64(ipV.AsInt()), uint32(framesV.AsInt()))
		}
	}

	if capsV, ok := fields.Get("capabilities"); ok {
		b.Caps.Restore(block.Capability(capsV.AsInt()))
	}

	if countersV, ok := fields.Get("counters"); ok {
		cm := countersV.AsMap()
		get := func(k string) int64 {
			v, _ := cm.Get(k)
			return v.AsInt()
		}
		b.Counter.Restore(block.Snapshot{
			Reductions:       get("reductions"),
			MessagesSent:     get("messages_sent"),
			MessagesReceived: get("messages_received"),
			GCCycles:         get("gc_cycles"),
			BytesAllocated:   get("bytes_allocated"),
			WaitTimeNs:       get("wait_time_ns"),
		})
	}

	if linksV, ok := fields.Get("links"); ok {
		for _, pidV := range linksV.AsArray().Items() {
			if other, ok2 := sched.PIDTable().Get(pidV.AsPID()); ok2 {
				block.Link(b, other)
			}
		}
	}

	if mailboxV, ok := fields.Get("mailbox"); ok {
		items := mailboxV.AsArray().Items()
		restored := make([]mailbox.Message, len(items))
		for i, mv := range items {
			mm := mv.AsMap()
			senderV, _ := mm.Get("sender")
			payloadV, _ := mm.Get("payload")
			restored[i] = mailbox.Message{SenderPID: senderV.AsPID(), Payload: payloadV}
		}
		b.Mailbox.Refill(restored)
	}

	sched.Enqueue(pid)
	return pid, nil
}

// OriginalPID extracts the original_pid metadata field from a checkpoint
// without restoring it — e.g. for a CheckpointManager listing or a log
// line that wants to report which process a file came from.
func OriginalPID(data []byte) (uint64, error) {
	if len(data) < 8 || binary.BigEndian.Uint32(data[0:4]) != Magic {
		return 0, ErrBadMagic
	}
	bodyVal, err := tlv.Decode(bytes.NewReader(data[8:]))
	if err != nil {
		return 0, err
	}
	v, _ := bodyVal.AsMap().Get("original_pid")
	return v.AsPID(), nil
}
