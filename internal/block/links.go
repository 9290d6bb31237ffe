package block

// Link/Unlink/Monitor/Demonitor are idempotent, symmetric-bookkeeping set
// updates (spec §4.3, invariant 4). They only touch the two blocks passed
// in; propagating EXIT/DOWN signals on termination is internal/
// scheduler's job (§4.5.1), since that also needs the PID registry to
// find a block by PID.

// Link records a symmetric link between b and other: each lists the
// other in its own links set.
func Link(b, other *Block) {
	if b == other {
		return
	}
	lockPair(b, other)
	defer unlockPair(b, other)
	b.links[other.PID] = struct{}{}
	other.links[b.PID] = struct{}{}
}

// Unlink clears the symmetric link, if any.
func Unlink(b, other *Block) {
	if b == other {
		return
	}
	lockPair(b, other)
	defer unlockPair(b, other)
	delete(b.links, other.PID)
	delete(other.links, b.PID)
}

// Monitor makes b an observer of target: target gains b in monitoredBy,
// b gains target in monitors (spec §4.3's asymmetric monitor relation).
func Monitor(b, target *Block) {
	if b == target {
		return
	}
	lockPair(b, target)
	defer unlockPair(b, target)
	b.monitors[target.PID] = struct{}{}
	target.monitoredBy[b.PID] = struct{}{}
}

// Demonitor clears the asymmetric monitor relation, if any.
func Demonitor(b, target *Block) {
	if b == target {
		return
	}
	lockPair(b, target)
	defer unlockPair(b, target)
	delete(b.monitors, target.PID)
	delete(target.monitoredBy, b.PID)
}

// lockPair/unlockPair acquire both blocks' link mutexes in a fixed order
// (by PID) to avoid deadlock between concurrent Link(A,B) and Link(B,A).
func lockPair(a, c *Block) {
	if a.PID < c.PID {
		a.linksMu.Lock()
		c.linksMu.Lock()
	} else {
		c.linksMu.Lock()
		a.linksMu.Lock()
	}
}

func unlockPair(a, c *Block) {
	a.linksMu.Unlock()
	if a != c {
		c.linksMu.Unlock()
	}
}

// Links returns a snapshot of the block's current link set (PIDs).
func (b *Block) Links() []uint64 {
	b.linksMu.RLock()
	defer b.linksMu.RUnlock()
	out := make([]uint64, 0, len(b.links))
	for pid := range b.links {
		out = append(out, pid)
	}
	return out
}

// Monitors returns a snapshot of the PIDs this block is monitoring.
func (b *Block) Monitors() []uint64 {
	b.linksMu.RLock()
	defer b.linksMu.RUnlock()
	out := make([]uint64, 0, len(b.monitors))
	for pid := range b.monitors {
		out = append(out, pid)
	}
	return out
}

// MonitoredBy returns a snapshot of the PIDs monitoring this block.
func (b *Block) MonitoredBy() []uint64 {
	b.linksMu.RLock()
	defer b.linksMu.RUnlock()
	out := make([]uint64, 0, len(b.monitoredBy))
	for pid := range b.monitoredBy {
		out = append(out, pid)
	}
	return out
}
