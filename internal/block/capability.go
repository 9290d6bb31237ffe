package block

import "sync/atomic"

// Capability is a bit in a block's permission set gating access to a class
// of operations (spec glossary: "send, spawn, infer, shell, etc."). The
// core itself never interprets most of these — they're opaque grants
// checked by primitives the bytecode interpreter implements — except
// CapTrapExit, which the termination protocol (§4.5.1) reads directly to
// decide whether an EXIT signal propagates or is delivered as a message.
type Capability uint64

const (
	CapNone Capability = 0

	CapSpawn Capability = 1 << (iota - 1)
	CapSend
	CapInfer
	CapShell
	CapFS
	CapHTTP
	CapTrapExit
)

// Capabilities is an atomic bitset of Capability flags.
type Capabilities struct {
	bits atomic.Uint64
}

// Grant ORs caps into the set.
func (c *Capabilities) Grant(caps Capability) {
	for {
		old := c.bits.Load()
		if c.bits.CompareAndSwap(old, old|uint64(caps)) {
			return
		}
	}
}

// Revoke clears caps from the set.
func (c *Capabilities) Revoke(caps Capability) {
	for {
		old := c.bits.Load()
		if c.bits.CompareAndSwap(old, old&^uint64(caps)) {
			return
		}
	}
}

// Has reports whether every bit in caps is set.
func (c *Capabilities) Has(caps Capability) bool {
	return c.bits.Load()&uint64(caps) == uint64(caps)
}

// Snapshot returns the current bitset value, e.g. for checkpointing.
func (c *Capabilities) Snapshot() Capability {
	return Capability(c.bits.Load())
}

// Restore overwrites the bitset, e.g. when restoring a checkpoint.
func (c *Capabilities) Restore(caps Capability) {
	c.bits.Store(uint64(caps))
}
