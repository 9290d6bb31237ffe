package value

import "sync/atomic"

// Array is a COW-mutable ordered sequence (spec §3, §4.3.1). Sending an
// Array marks it shared; the next in-place mutation by either the sender's
// block or the receiver's block clones the backing slice first, so the two
// blocks never observe each other's writes.
type Array struct {
	shared atomic.Bool
	items  []Value
}

// NewArray wraps items (no copy; caller must not alias items afterward
// without going through Array's methods).
func NewArray(items []Value) *Array {
	return &Array{items: items}
}

// Len returns the number of elements.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.items)
}

// Get returns the element at i.
func (a *Array) Get(i int) Value {
	return a.items[i]
}

// MarkShared marks a as shared across block boundaries; the next mutating
// call clones the backing storage before writing.
func (a *Array) MarkShared() {
	a.shared.Store(true)
}

// Set writes v at index i, cloning the backing slice first if a is shared.
// Returns the Array the caller should keep a reference to (may be a or a
// freshly cloned instance).
func (a *Array) Set(i int, v Value) *Array {
	target := a
	if a.shared.Load() {
		target = a.cloneUnshared()
	}
	target.items[i] = v
	return target
}

// Append appends v, cloning first if shared.
func (a *Array) Append(v Value) *Array {
	target := a
	if a.shared.Load() {
		target = a.cloneUnshared()
	}
	target.items = append(target.items, v)
	return target
}

func (a *Array) cloneUnshared() *Array {
	cp := make([]Value, len(a.items))
	copy(cp, a.items)
	return &Array{items: cp}
}

// Items returns a read-only view of the elements.
func (a *Array) Items() []Value {
	if a == nil {
		return nil
	}
	return a.items
}
