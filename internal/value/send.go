package value

// Wrap implements the per-variant wrapping rule a send applies to a payload
// before it is handed to the receiving block's mailbox (spec §4.3.1 step 2):
//
//   - Immutable variants (nil, bool, int, float, string, pid, function,
//     vector): shared as-is, no copy.
//   - COW-mutable variants (array, map): the source value is marked shared;
//     both sides lazily copy-on-write on their next mutation.
//   - Unsafe variants (closure with captured mutable upvalues, bytes):
//     deep-copied immediately, so ownership never overlaps.
func Wrap(v Value) Value {
	switch v.kind {
	case KindArray:
		if v.array != nil {
			v.array.MarkShared()
		}
		return v
	case KindMap:
		if v.mapv != nil {
			v.mapv.MarkShared()
		}
		return v
	case KindBytes:
		return BytesVal(v.bytes.Clone())
	case KindClosure:
		return ClosureVal(v.closure.Clone())
	default:
		return v
	}
}

// DeepCopy forces a full deep copy of v regardless of variant. Used by the
// checkpoint/restore path (a restored block must not alias the serialized
// snapshot's storage) and by Closure.Clone for upvalues.
func DeepCopy(v Value) Value {
	switch v.kind {
	case KindBytes:
		return BytesVal(v.bytes.Clone())
	case KindArray:
		if v.array == nil {
			return v
		}
		items := make([]Value, v.array.Len())
		for i, it := range v.array.Items() {
			items[i] = DeepCopy(it)
		}
		return ArrayVal(NewArray(items))
	case KindMap:
		if v.mapv == nil {
			return v
		}
		m := make(map[string]Value, v.mapv.Len())
		for k, it := range v.mapv.Entries() {
			m[k] = DeepCopy(it)
		}
		return MapVal(NewMap(m))
	case KindVector:
		if v.vector == nil {
			return v
		}
		items := make([]Value, v.vector.Len())
		for i, it := range v.vector.Items() {
			items[i] = DeepCopy(it)
		}
		return VectorVal(NewVector(items))
	case KindClosure:
		return ClosureVal(v.closure.Clone())
	default:
		return v
	}
}
