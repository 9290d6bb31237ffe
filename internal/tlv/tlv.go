// Package tlv implements Agim's self-describing tag-length-value encoding
// for value.Value (spec §6's "Serialization format"). It is the one codec
// both internal/checkpoint (a checkpoint body) and internal/dist (a SEND
// message's payload) build on, so the wire byte layout only needs to be
// specified and reviewed once.
package tlv

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hyourindev/agim/internal/value"
)

// Tag is the one-byte discriminator prefixing every encoded value.
type Tag byte

const (
	TagNil      Tag = 0x00
	TagBool     Tag = 0x01
	TagInt      Tag = 0x02
	TagFloat    Tag = 0x03
	TagString   Tag = 0x04
	TagArray    Tag = 0x05
	TagMap      Tag = 0x06
	TagPID      Tag = 0x07
	TagFunction Tag = 0x08 // not serializable; encoding fails fast
	TagBytes    Tag = 0x09
	TagResult   Tag = 0x0A
	TagOption   Tag = 0x0B
	TagVector   Tag = 0x0E
	TagClosure  Tag = 0x0F // not serializable; encoding fails fast
)

// ErrNotSerializable is returned when asked to encode a Function or
// Closure value (spec §4.8 "Functions and closures are explicitly not
// serializable and fail fast").
var ErrNotSerializable = errors.New("tlv: value not serializable")

// ErrUnknownTag is returned by Decode on a byte it doesn't recognize —
// treated the same as an unknown format version: fail rather than guess.
var ErrUnknownTag = errors.New("tlv: unknown tag byte")

// Encode writes v's TLV encoding to w.
func Encode(w *bufio.Writer, v value.Value) error {
	if !v.Serializable() {
		return fmt.Errorf("%w: kind %s", ErrNotSerializable, v.Kind())
	}
	switch v.Kind() {
	case value.KindNil:
		return w.WriteByte(byte(TagNil))

	case value.KindBool:
		if err := w.WriteByte(byte(TagBool)); err != nil {
			return err
		}
		b := byte(0)
		if v.AsBool() {
			b = 1
		}
		return w.WriteByte(b)

	case value.KindInt:
		if err := w.WriteByte(byte(TagInt)); err != nil {
			return err
		}
		return writeU64(w, uint64(v.AsInt()))

	case value.KindFloat:
		if err := w.WriteByte(byte(TagFloat)); err != nil {
			return err
		}
		return writeU64(w, math.Float64bits(v.AsFloat()))

	case value.KindString:
		if err := w.WriteByte(byte(TagString)); err != nil {
			return err
		}
		return writeLenBytes(w, []byte(v.AsString()))

	case value.KindBytes:
		if err := w.WriteByte(byte(TagBytes)); err != nil {
			return err
		}
		return writeLenBytes(w, v.AsBytes().Data())

	case value.KindArray:
		if err := w.WriteByte(byte(TagArray)); err != nil {
			return err
		}
		items := v.AsArray().Items()
		if err := writeU32(w, uint32(len(items))); err != nil {
			return err
		}
		for _, item := range items {
			if err := Encode(w, item); err != nil {
				return err
			}
		}
		return nil

	case value.KindVector:
		if err := w.WriteByte(byte(TagVector)); err != nil {
			return err
		}
		items := v.AsVector().Items()
		if err := writeU32(w, uint32(len(items))); err != nil {
			return err
		}
		for _, item := range items {
			if err := Encode(w, item); err != nil {
				return err
			}
		}
		return nil

	case value.KindMap:
		if err := w.WriteByte(byte(TagMap)); err != nil {
			return err
		}
		m := v.AsMap()
		keys := m.Keys()
		if err := writeU32(w, uint32(len(keys))); err != nil {
			return err
		}
		for _, k := range keys {
			if err := writeLenBytes(w, []byte(k)); err != nil {
				return err
			}
			val, _ := m.Get(k)
			if err := Encode(w, val); err != nil {
				return err
			}
		}
		return nil

	case value.KindPID:
		if err := w.WriteByte(byte(TagPID)); err != nil {
			return err
		}
		return writeU64(w, v.AsPID())

	case value.KindResult:
		if err := w.WriteByte(byte(TagResult)); err != nil {
			return err
		}
		r := v.AsResult()
		isOk := byte(0)
		if r.IsOk() {
			isOk = 1
		}
		if err := w.WriteByte(isOk); err != nil {
			return err
		}
		return Encode(w, r.Value())

	case value.KindOption:
		if err := w.WriteByte(byte(TagOption)); err != nil {
			return err
		}
		o := v.AsOption()
		isSome := byte(0)
		if o.IsSome() {
			isSome = 1
		}
		if err := w.WriteByte(isSome); err != nil {
			return err
		}
		if !o.IsSome() {
			return nil
		}
		return Encode(w, o.Value())

	default:
		return fmt.Errorf("%w: kind %s", ErrNotSerializable, v.Kind())
	}
}

// Decode reads one TLV-encoded value from r.
func Decode(r io.Reader) (value.Value, error) {
	tagByte, err := readByte(r)
	if err != nil {
		return value.Nil(), err
	}
	switch Tag(tagByte) {
	case TagNil:
		return value.Nil(), nil

	case TagBool:
		b, err := readByte(r)
		if err != nil {
			return value.Nil(), err
		}
		return value.Bool(b != 0), nil

	case TagInt:
		u, err := readU64(r)
		if err != nil {
			return value.Nil(), err
		}
		return value.Int(int64(u)), nil

	case TagFloat:
		u, err := readU64(r)
		if err != nil {
			return value.Nil(), err
		}
		return value.Float(math.Float64frombits(u)), nil

	case TagString:
		b, err := readLenBytes(r)
		if err != nil {
			return value.Nil(), err
		}
		return value.String(string(b)), nil

	case TagBytes:
		b, err := readLenBytes(r)
		if err != nil {
			return value.Nil(), err
		}
		return value.BytesVal(value.NewBytes(b)), nil

	case TagArray:
		n, err := readU32(r)
		if err != nil {
			return value.Nil(), err
		}
		items := make([]value.Value, n)
		for i := range items {
			items[i], err = Decode(r)
			if err != nil {
				return value.Nil(), err
			}
		}
		return value.ArrayVal(value.NewArray(items)), nil

	case TagVector:
		n, err := readU32(r)
		if err != nil {
			return value.Nil(), err
		}
		items := make([]value.Value, n)
		for i := range items {
			items[i], err = Decode(r)
			if err != nil {
				return value.Nil(), err
			}
		}
		return value.VectorVal(value.NewVector(items)), nil

	case TagMap:
		n, err := readU32(r)
		if err != nil {
			return value.Nil(), err
		}
		m := make(map[string]value.Value, n)
		for i := uint32(0); i < n; i++ {
			kb, err := readLenBytes(r)
			if err != nil {
				return value.Nil(), err
			}
			val, err := Decode(r)
			if err != nil {
				return value.Nil(), err
			}
			m[string(kb)] = val
		}
		return value.MapVal(value.NewMap(m)), nil

	case TagPID:
		u, err := readU64(r)
		if err != nil {
			return value.Nil(), err
		}
		return value.PID(u), nil

	case TagResult:
		isOk, err := readByte(r)
		if err != nil {
			return value.Nil(), err
		}
		inner, err := Decode(r)
		if err != nil {
			return value.Nil(), err
		}
		if isOk != 0 {
			return value.ResultVal(value.Ok(inner)), nil
		}
		return value.ResultVal(value.Err(inner)), nil

	case TagOption:
		isSome, err := readByte(r)
		if err != nil {
			return value.Nil(), err
		}
		if isSome == 0 {
			return value.OptionVal(value.None()), nil
		}
		inner, err := Decode(r)
		if err != nil {
			return value.Nil(), err
		}
		return value.OptionVal(value.Some(inner)), nil

	case TagFunction, TagClosure:
		return value.Nil(), fmt.Errorf("%w: tag 0x%02x", ErrNotSerializable, tagByte)

	default:
		return value.Nil(), fmt.Errorf("%w: 0x%02x", ErrUnknownTag, tagByte)
	}
}

func writeU32(w *bufio.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU64(w *bufio.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeLenBytes(w *bufio.Writer, b []byte) error {
	if err := writeU32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func readLenBytes(r io.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
