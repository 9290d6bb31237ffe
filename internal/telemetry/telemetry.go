// Package telemetry implements spec §4.10's per-block trace ring buffer:
// a fixed-size event log with a lock-free atomic write index, optionally
// forwarding every recorded event to a callback or to a target PID via a
// caller-supplied send function. Per-block resource counters already
// live on block.Counters (spec §3); this package is only the opt-in
// trace log layered on top.
package telemetry

import (
	"sync/atomic"
	"time"
)

// EventKind names the trace event categories spec §4.10 lists.
type EventKind string

const (
	EventSend    EventKind = "SEND"
	EventReceive EventKind = "RECEIVE"
	EventSpawn   EventKind = "SPAWN"
	EventExit    EventKind = "EXIT"
	EventLink    EventKind = "LINK"
	EventUnlink  EventKind = "UNLINK"
	EventGC      EventKind = "GC"
	EventCall    EventKind = "CALL"
	EventReturn  EventKind = "RETURN"
)

// TraceEvent is one ring buffer entry.
type TraceEvent struct {
	Timestamp int64 // UnixNano
	Kind      EventKind
	Detail    string
}

// ForwardFunc receives every recorded event as it lands, e.g. to relay
// it to a target PID's mailbox or an external collector. Called
// synchronously from Record/RecordEvent — callers wanting to avoid
// blocking the recording block should make their own forwarder
// non-blocking (a buffered channel send, a best-effort mailbox push).
type ForwardFunc func(TraceEvent)

// Tracer is a fixed-capacity ring buffer of TraceEvents with a single
// atomic write index (spec §4.10: "buffer writes are lock-free via an
// atomic write index"). Safe for concurrent Record calls; Snapshot may
// race with a concurrent Record and return a torn read of the most
// recently written slot, which is an accepted tradeoff for a trace log
// — the same one the teacher's lock-free queues make for throughput.
type Tracer struct {
	buf        []TraceEvent
	writeIndex atomic.Uint64
	forward    ForwardFunc
}

// NewTracer creates a Tracer with room for capacity events (minimum 1).
// forward may be nil.
func NewTracer(capacity int, forward ForwardFunc) *Tracer {
	if capacity < 1 {
		capacity = 1
	}
	return &Tracer{buf: make([]TraceEvent, capacity), forward: forward}
}

// Record implements block.Tracer's narrow Record(event string) contract
// — a block only knows it has "a Tracer", not this package's richer
// EventKind/Detail split, so a bare event name is recorded with no
// detail.
func (t *Tracer) Record(event string) {
	t.RecordEvent(EventKind(event), "")
}

// RecordEvent appends kind/detail at the next ring slot and forwards it
// if a ForwardFunc was configured.
func (t *Tracer) RecordEvent(kind EventKind, detail string) {
	idx := t.writeIndex.Add(1) - 1
	ev := TraceEvent{Timestamp: time.Now().UnixNano(), Kind: kind, Detail: detail}
	t.buf[idx%uint64(len(t.buf))] = ev
	if t.forward != nil {
		t.forward(ev)
	}
}

// Snapshot copies the min(written, capacity) most recent events,
// oldest first.
func (t *Tracer) Snapshot() []TraceEvent {
	written := t.writeIndex.Load()
	capacity := uint64(len(t.buf))
	count := written
	if count > capacity {
		count = capacity
	}
	out := make([]TraceEvent, count)
	start := written - count
	for i := uint64(0); i < count; i++ {
		out[i] = t.buf[(start+i)%capacity]
	}
	return out
}
