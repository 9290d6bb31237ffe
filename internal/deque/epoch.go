package deque

import "code.hybscloud.com/atomix"

// globalEpoch is bumped by every worker on each steal attempt ("quiescent
// pass"), the same mechanism spec §4.5.2's grace-period text describes: a
// retired buffer is safe to drop once two epochs have passed since
// retirement, because every thread has by then made at least one steal
// attempt and so cannot still hold a pointer into the old array.
//
// Go's garbage collector would keep a buffer alive regardless of whether
// this package drops its reference promptly, so the epoch scheme here is
// not a memory-safety requirement the way it is in the teacher's
// manually-managed origin (C/C++-style lock-free queues); it is kept
// anyway so a long-running scheduler with many grow cycles doesn't pin
// an unbounded chain of retired buffers for the GC to eventually notice —
// dropping the reference after two epochs means the "retired" list itself
// never grows past one or two live entries at a time.
var globalEpoch atomix.Uint64

// BumpEpoch advances the global epoch. Call once per steal attempt.
func BumpEpoch() uint64 {
	return globalEpoch.AddAcqRel(1)
}

// CurrentEpoch reads the global epoch.
func CurrentEpoch() uint64 {
	return globalEpoch.LoadAcquire()
}
