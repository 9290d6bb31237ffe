package value

import "sync/atomic"

// Map is a COW-mutable string-keyed mapping (spec §3, §4.3.1). Same
// shared-bit discipline as Array.
type Map struct {
	shared atomic.Bool
	m      map[string]Value
}

// NewMap wraps m (no copy).
func NewMap(m map[string]Value) *Map {
	if m == nil {
		m = make(map[string]Value)
	}
	return &Map{m: m}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.m)
}

// Get returns the value for key and whether it was present.
func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.m[key]
	return v, ok
}

// MarkShared marks m as shared across block boundaries.
func (m *Map) MarkShared() {
	m.shared.Store(true)
}

// Set writes key=v, cloning the backing map first if shared.
func (m *Map) Set(key string, v Value) *Map {
	target := m
	if m.shared.Load() {
		target = m.cloneUnshared()
	}
	target.m[key] = v
	return target
}

// Delete removes key, cloning first if shared.
func (m *Map) Delete(key string) *Map {
	target := m
	if m.shared.Load() {
		target = m.cloneUnshared()
	}
	delete(target.m, key)
	return target
}

func (m *Map) cloneUnshared() *Map {
	cp := make(map[string]Value, len(m.m))
	for k, v := range m.m {
		cp[k] = v
	}
	return &Map{m: cp}
}

// Keys returns the map's keys in unspecified order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.m))
	for k := range m.m {
		keys = append(keys, k)
	}
	return keys
}

// Entries returns a read-only view of the backing map. Callers must treat
// it as immutable.
func (m *Map) Entries() map[string]Value {
	if m == nil {
		return nil
	}
	return m.m
}
