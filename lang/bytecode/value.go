// Package bytecode defines the instruction set, constant table and wire
// shapes shared by every layer above it: the assembler, the frontends'
// backend compiler, the interpreter, the trace JIT and the VMBC codec.
//
// It intentionally has no dependency on any other package in this module:
// everything else is built on top of the contract defined here.
package bytecode

import (
	"fmt"
	"math"
)

// Value is a dynamically tagged scalar. Exactly one of the concrete types
// below implements it; there is no user-extensible value kind and no
// managed heap — composite values (slices, maps) never escape into the
// bytecode model.
type Value interface {
	// String returns a human-readable representation, used by the
	// disassembler, the debugger and panic-free formatting.
	String() string
	// Type names the runtime type, e.g. for TypeMismatch faults.
	Type() string
}

// Int is a 64-bit signed integer value.
type Int int64

func (v Int) String() string { return fmt.Sprintf("%d", int64(v)) }
func (Int) Type() string     { return "int" }

// Float is a 64-bit floating point value.
type Float float64

func (v Float) String() string { return fmt.Sprintf("%g", float64(v)) }
func (Float) Type() string     { return "float" }

// Bool is a boolean value. Comparisons and the true/false literals push
// Bool directly; the backend does not convert booleans to Int 0/1 in any
// context.
type Bool bool

func (v Bool) String() string {
	if v {
		return "true"
	}
	return "false"
}
func (Bool) Type() string { return "bool" }

// Str is an owned, immutable text value.
type Str string

func (v Str) String() string { return string(v) }
func (Str) Type() string     { return "str" }

// nullType is the singleton type of Null.
type nullType struct{}

func (nullType) String() string { return "null" }
func (nullType) Type() string   { return "null" }

// Null is the unique null value; it compares equal only to itself.
var Null Value = nullType{}

// Yield wraps a host-provided payload signaling cooperative suspension of
// the VM at a call site. It is never pushed onto the operand stack by the
// interpreter itself — it is the sentinel a host callable returns instead
// of a Value to request that execution pause (see lang/interp).
type Yield struct {
	Payload Value
}

func (y Yield) String() string { return fmt.Sprintf("yield(%s)", valueOrNull(y.Payload)) }
func (Yield) Type() string     { return "yield" }

func valueOrNull(v Value) string {
	if v == nil {
		return "null"
	}
	return v.String()
}

// Truth reports the boolean coercion of v, used by brfalse and by the
// logical-operator normalization the backend emits. Only Bool, Int and
// Null participate in truth testing; any other value is a TypeMismatch
// at the caller's discretion.
func Truth(v Value) (bool, bool) {
	switch v := v.(type) {
	case Bool:
		return bool(v), true
	case Int:
		return v != 0, true
	case nullType:
		return false, true
	default:
		return false, false
	}
}

// Equal implements Null-equals-only-itself and structural equality for the
// scalar kinds, per spec.md §3.
func Equal(x, y Value) bool {
	switch x := x.(type) {
	case Int:
		switch y := y.(type) {
		case Int:
			return x == y
		case Float:
			return float64(x) == float64(y)
		}
		return false
	case Float:
		switch y := y.(type) {
		case Int:
			return float64(x) == float64(y)
		case Float:
			return x == y
		}
		return false
	case Bool:
		y, ok := y.(Bool)
		return ok && x == y
	case Str:
		y, ok := y.(Str)
		return ok && x == y
	case nullType:
		_, ok := y.(nullType)
		return ok
	default:
		return false
	}
}

// Compare implements the natural order for numbers and lexicographic order
// for strings named in spec.md §3. ok is false for kinds with no ordering
// (Bool, Null, Yield) or mismatched kinds other than Int/Float.
func Compare(x, y Value) (cmp int, ok bool) {
	switch x := x.(type) {
	case Int:
		switch y := y.(type) {
		case Int:
			return cmpInt64(int64(x), int64(y)), true
		case Float:
			return cmpFloat64(float64(x), float64(y)), true
		}
	case Float:
		switch y := y.(type) {
		case Int:
			return cmpFloat64(float64(x), float64(y)), true
		case Float:
			return cmpFloat64(float64(x), float64(y)), true
		}
	case Str:
		if y, ok := y.(Str); ok {
			return cmpString(string(x), string(y)), true
		}
	}
	return 0, false
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	default:
		// NaN: treat as unordered, reported as "greater" so sorts terminate.
		if math.IsNaN(a) && math.IsNaN(b) {
			return 0
		}
		return 1
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Numeric reports whether v is Int or Float, and its Float64 value when so.
// Used to promote Int+Float -> Float per spec.md's arithmetic rule.
func Numeric(v Value) (f float64, isFloat bool, ok bool) {
	switch v := v.(type) {
	case Int:
		return float64(v), false, true
	case Float:
		return float64(v), true, true
	default:
		return 0, false, false
	}
}
