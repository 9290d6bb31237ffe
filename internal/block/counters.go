package block

import "sync/atomic"

// Counters tracks the resource and activity accounting spec §3 lists on
// every block: reductions, messages_sent, messages_received, gc_cycles,
// bytes_allocated, wait_time. All fields are independently atomic; a
// checkpoint snapshot reads them without locking the block.
type Counters struct {
	Reductions       atomic.Int64
	MessagesSent     atomic.Int64
	MessagesReceived atomic.Int64
	GCCycles         atomic.Int64
	BytesAllocated   atomic.Int64
	WaitTimeNs       atomic.Int64
}

// Snapshot is a point-in-time copy, e.g. for telemetry or checkpointing.
type Snapshot struct {
	Reductions       int64
	MessagesSent     int64
	MessagesReceived int64
	GCCycles         int64
	BytesAllocated   int64
	WaitTimeNs       int64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Reductions:       c.Reductions.Load(),
		MessagesSent:     c.MessagesSent.Load(),
		MessagesReceived: c.MessagesReceived.Load(),
		GCCycles:         c.GCCycles.Load(),
		BytesAllocated:   c.BytesAllocated.Load(),
		WaitTimeNs:       c.WaitTimeNs.Load(),
	}
}

// Restore overwrites the counters, e.g. after loading a checkpoint.
func (c *Counters) Restore(s Snapshot) {
	c.Reductions.Store(s.Reductions)
	c.MessagesSent.Store(s.MessagesSent)
	c.MessagesReceived.Store(s.MessagesReceived)
	c.GCCycles.Store(s.GCCycles)
	c.BytesAllocated.Store(s.BytesAllocated)
	c.WaitTimeNs.Store(s.WaitTimeNs)
}
