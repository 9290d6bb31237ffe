package tlv_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/hyourindev/agim/internal/tlv"
	"github.com/hyourindev/agim/internal/value"
)

func roundTrip(t *testing.T, v value.Value) value.Value {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := tlv.Encode(w, v); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got, err := tlv.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestRoundTripScalars(t *testing.T) {
	cases := []value.Value{
		value.Nil(),
		value.Bool(true),
		value.Bool(false),
		value.Int(-42),
		value.Float(3.5),
		value.String("hello"),
		value.PID(7),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		if got.Kind() != v.Kind() {
			t.Fatalf("kind mismatch: want %s got %s", v.Kind(), got.Kind())
		}
	}
}

func TestRoundTripCompound(t *testing.T) {
	arr := value.ArrayVal(value.NewArray([]value.Value{value.Int(1), value.String("a")}))
	got := roundTrip(t, arr)
	if got.Kind() != value.KindArray || got.AsArray().Len() != 2 {
		t.Fatalf("array round trip failed: %+v", got)
	}

	m := value.MapVal(value.NewMap(map[string]value.Value{"n": value.Int(1)}))
	got = roundTrip(t, m)
	if v, ok := got.AsMap().Get("n"); !ok || v.AsInt() != 1 {
		t.Fatalf("map round trip failed")
	}

	res := value.ResultVal(value.Ok(value.Int(9)))
	got = roundTrip(t, res)
	if !got.AsResult().IsOk() || got.AsResult().Value().AsInt() != 9 {
		t.Fatalf("result round trip failed")
	}

	opt := value.OptionVal(value.None())
	got = roundTrip(t, opt)
	if got.AsOption().IsSome() {
		t.Fatalf("option round trip failed")
	}

	b := value.BytesVal(value.NewBytes([]byte{1, 2, 3}))
	got = roundTrip(t, b)
	if !bytes.Equal(got.AsBytes().Data(), []byte{1, 2, 3}) {
		t.Fatalf("bytes round trip failed")
	}
}

func TestEncodeFunctionFails(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	fn := value.Func(&value.Function{ModuleName: "m", EntryName: "f"})
	if err := tlv.Encode(w, fn); err == nil {
		t.Fatalf("expected ErrNotSerializable for a function value")
	}
}

func TestDecodeUnknownTagFails(t *testing.T) {
	r := bytes.NewReader([]byte{0xFF})
	if _, err := tlv.Decode(r); err == nil {
		t.Fatalf("expected ErrUnknownTag for an unrecognized tag byte")
	}
}
