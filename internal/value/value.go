// Package value implements Agim's tagged Value sum type and the
// copy-on-write/deep-copy rules applied when a value crosses from one
// block's private heap into another's via a send.
//
// The bytecode interpreter, garbage collector and allocator that actually
// own a block's heap are out of scope for this module (spec §1); this
// package only carries the narrow representation the core substrate needs
// to reason about send semantics, checkpoint serialization, and the wire
// protocol.
package value

import "fmt"

// Kind tags the variant a Value currently holds.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindMap
	KindPID
	KindFunction
	KindClosure
	KindVector
	KindResult
	KindOption
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindPID:
		return "pid"
	case KindFunction:
		return "function"
	case KindClosure:
		return "closure"
	case KindVector:
		return "vector"
	case KindResult:
		return "result"
	case KindOption:
		return "option"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is Agim's tagged union of runtime values. The zero Value is Nil.
//
// Immutable variants (Nil, Bool, Int, Float, String, PID, Function, Vector)
// are freely shared by value or by reference-counted pointer with no
// synchronization required by readers. Mutable variants (Array, Map) carry
// a shared-bit and go through copy-on-write when sent; Bytes and Closure
// are always deep-copied on send (spec §4.3.1).
type Value struct {
	kind Kind

	b   bool
	i   int64
	f   float64
	s   string
	pid uint64

	bytes    *Bytes
	array    *Array
	mapv     *Map
	fn       *Function
	closure  *Closure
	vector   *Vector
	result   *Result
	option   *Option
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

func Nil() Value                 { return Value{kind: KindNil} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func Float(f float64) Value      { return Value{kind: KindFloat, f: f} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func PID(pid uint64) Value       { return Value{kind: KindPID, pid: pid} }
func Func(f *Function) Value     { return Value{kind: KindFunction, fn: f} }
func ClosureVal(c *Closure) Value { return Value{kind: KindClosure, closure: c} }
func VectorVal(vec *Vector) Value { return Value{kind: KindVector, vector: vec} }
func ResultVal(r *Result) Value  { return Value{kind: KindResult, result: r} }
func OptionVal(o *Option) Value  { return Value{kind: KindOption, option: o} }

func BytesVal(b *Bytes) Value { return Value{kind: KindBytes, bytes: b} }
func ArrayVal(a *Array) Value { return Value{kind: KindArray, array: a} }
func MapVal(m *Map) Value     { return Value{kind: KindMap, mapv: m} }

// AsBool, AsInt, etc. panic if v is not of the expected kind; callers (the
// stepper, checkpoint codec, wire codec) always check Kind() first.

func (v Value) AsBool() bool     { v.mustBe(KindBool); return v.b }
func (v Value) AsInt() int64     { v.mustBe(KindInt); return v.i }
func (v Value) AsFloat() float64 { v.mustBe(KindFloat); return v.f }
func (v Value) AsString() string { v.mustBe(KindString); return v.s }
func (v Value) AsPID() uint64    { v.mustBe(KindPID); return v.pid }
func (v Value) AsBytes() *Bytes  { v.mustBe(KindBytes); return v.bytes }
func (v Value) AsArray() *Array  { v.mustBe(KindArray); return v.array }
func (v Value) AsMap() *Map      { v.mustBe(KindMap); return v.mapv }
func (v Value) AsFunction() *Function { v.mustBe(KindFunction); return v.fn }
func (v Value) AsClosure() *Closure   { v.mustBe(KindClosure); return v.closure }
func (v Value) AsVector() *Vector     { v.mustBe(KindVector); return v.vector }
func (v Value) AsResult() *Result     { v.mustBe(KindResult); return v.result }
func (v Value) AsOption() *Option     { v.mustBe(KindOption); return v.option }

func (v Value) mustBe(k Kind) {
	if v.kind != k {
		panic(fmt.Sprintf("value: expected %s, got %s", k, v.kind))
	}
}

// Serializable reports whether v's kind can round-trip through the
// checkpoint/wire TLV codec. Function and Closure are explicitly not
// serializable (spec §4.8, §6).
func (v Value) Serializable() bool {
	return v.kind != KindFunction && v.kind != KindClosure
}

// ByteSize is a rough accounting figure used by the mailbox's bytes_used
// counter and a block's bytes_allocated counter. It is not exact (strings
// and arrays are not recursively walked beyond one level) but is cheap and
// monotonic for accounting purposes.
func (v Value) ByteSize() int64 {
	const wordSize = 8
	switch v.kind {
	case KindNil, KindBool:
		return wordSize
	case KindInt, KindFloat, KindPID:
		return wordSize
	case KindString:
		return int64(len(v.s)) + wordSize
	case KindBytes:
		if v.bytes == nil {
			return wordSize
		}
		return int64(len(v.bytes.Data())) + wordSize
	case KindArray:
		if v.array == nil {
			return wordSize
		}
		return int64(v.array.Len())*wordSize + wordSize
	case KindMap:
		if v.mapv == nil {
			return wordSize
		}
		return int64(v.mapv.Len())*2*wordSize + wordSize
	case KindVector:
		if v.vector == nil {
			return wordSize
		}
		return int64(v.vector.Len())*wordSize + wordSize
	default:
		return wordSize
	}
}

// Function is an immutable reference to a compiled function (module name +
// entry name); the real definition lives in the out-of-scope bytecode
// representation, so only the identity needed for equality/printing is
// carried here.
type Function struct {
	ModuleName string
	EntryName  string
}

// Closure pairs a Function with captured upvalues. Upvalues may themselves
// be mutable, so a Closure is always deep-copied on send (never shared).
type Closure struct {
	Fn      *Function
	Upvalue []Value
}

// Clone returns a deep copy of c, recursively deep-copying any Array/Map/
// Bytes upvalues it captures.
func (c *Closure) Clone() *Closure {
	if c == nil {
		return nil
	}
	up := make([]Value, len(c.Upvalue))
	for i, v := range c.Upvalue {
		up[i] = DeepCopy(v)
	}
	return &Closure{Fn: c.Fn, Upvalue: up}
}
