package bytecode

import (
	"strings"
	"testing"
)

func TestOpcodeString(t *testing.T) {
	for op := Opcode(0); op.Valid(); op++ {
		if s := op.String(); strings.Contains(s, "illegal") {
			t.Errorf("invalid string representation of opcode %d", op)
		}
	}
	if s := Opcode(0xff).String(); !strings.Contains(s, "illegal") {
		t.Errorf("expected illegal opcode string, got %q", s)
	}
}

func TestLookupRoundTrip(t *testing.T) {
	for op := Opcode(0); op.Valid(); op++ {
		got, ok := Lookup(op.String())
		if !ok || got != op {
			t.Errorf("Lookup(%q) = %v, %v; want %v, true", op.String(), got, ok, op)
		}
	}
}

func TestEncodeDecodeInsn(t *testing.T) {
	cases := []struct {
		op  Opcode
		arg uint32
	}{
		{NOP, 0},
		{LDC, 123456},
		{LDLOC, 7},
		{CALL, PackCallArgs(42, 3)},
		{BR, 99},
	}
	for _, c := range cases {
		buf := EncodeInsn(nil, c.op, c.arg)
		if len(buf) != c.op.Size() {
			t.Errorf("%s: encoded size = %d, want %d", c.op, len(buf), c.op.Size())
		}
		op, arg, next := DecodeInsn(buf, 0)
		if op != c.op || arg != c.arg || int(next) != len(buf) {
			t.Errorf("%s: decoded (%v, %v, %v), want (%v, %v, %v)", c.op, op, arg, next, c.op, c.arg, len(buf))
		}
	}
}

func TestCallArgsPacking(t *testing.T) {
	ordinal, argc := CallArgs(PackCallArgs(65535, 255))
	if ordinal != 65535 || argc != 255 {
		t.Errorf("got (%d, %d), want (65535, 255)", ordinal, argc)
	}
}
