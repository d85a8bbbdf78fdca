// Package vmerrors defines the error taxonomy of spec.md §7, shared by
// every layer so that an embedder can use a single errors.As switch
// regardless of which phase (compile, load, run, debug) produced the
// error.
package vmerrors

import "fmt"

// CompileKind enumerates CompileError reasons.
type CompileKind string

const (
	UnresolvedLabel     CompileKind = "unresolved_label"
	UnresolvedName      CompileKind = "unresolved_name"
	UnsupportedSyntax   CompileKind = "unsupported_syntax"
	RecursionUnsupported CompileKind = "recursion_unsupported"
	BreakOutsideLoop    CompileKind = "break_outside_loop"
	ModuleCycle         CompileKind = "module_cycle"
	ModuleNotFound      CompileKind = "module_not_found"
	DuplicateDefinition CompileKind = "duplicate_definition"
)

// CompileError aborts before any execution.
type CompileError struct {
	Kind    CompileKind
	Subject string // label/name/path the error concerns
	Pos     string // optional "file:line:col"
}

func (e *CompileError) Error() string {
	if e.Pos != "" {
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Kind, e.Subject)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Subject)
}

// LoadKind enumerates LoadError reasons (VMBC decoding).
type LoadKind string

const (
	BadMagic         LoadKind = "bad_magic"
	UnsupportedVersion LoadKind = "unsupported_version"
	Truncated        LoadKind = "truncated"
	OutOfRangeIndex  LoadKind = "out_of_range_index"
)

// LoadError aborts before the program reaches the interpreter.
type LoadError struct {
	Kind   LoadKind
	Detail string
}

func (e *LoadError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

// FaultKind enumerates RuntimeFault reasons.
type FaultKind string

const (
	StackUnderflow  FaultKind = "stack_underflow"
	TypeMismatch    FaultKind = "type_mismatch"
	DivByZero       FaultKind = "div_by_zero"
	UnknownOpcode   FaultKind = "unknown_opcode"
	UnboundLocal    FaultKind = "unbound_local"
	MissingHost     FaultKind = "missing_host"
	ArityMismatch   FaultKind = "arity_mismatch"
	Cancelled       FaultKind = "cancelled"

	// OutOfRangeIndex is a defensive runtime fault for a constant/local
	// index outside declared bounds. Per spec.md §3 this is checked at
	// program-load time and should never fire for a program that passed
	// load validation; the interpreter still guards against it rather than
	// indexing out of bounds and panicking.
	OutOfRangeIndex FaultKind = "out_of_range_index"
)

// Fault halts a single VM; it never crashes the embedder.
type Fault struct {
	Kind FaultKind
	IP   uint32
	Line uint32 // 0 if no debug info
	Msg  string
}

func (e *Fault) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("fault %s at ip=%d line=%d: %s", e.Kind, e.IP, e.Line, e.Msg)
	}
	return fmt.Sprintf("fault %s at ip=%d: %s", e.Kind, e.IP, e.Msg)
}

// NewFault builds a Fault with a formatted message.
func NewFault(kind FaultKind, ip uint32, format string, args ...any) *Fault {
	return &Fault{Kind: kind, IP: ip, Msg: fmt.Sprintf(format, args...)}
}

// DebuggerKind enumerates DebuggerError reasons.
type DebuggerKind string

const (
	ProtocolError      DebuggerKind = "protocol_error"
	ClientDisconnected DebuggerKind = "client_disconnected"
	NotAttached        DebuggerKind = "not_attached"
)

// DebuggerError terminates only the offending session.
type DebuggerError struct {
	Kind   DebuggerKind
	Detail string
}

func (e *DebuggerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// JitKind enumerates the internal, never-fatal reasons a trace failed to
// compile. These never abort execution; they are recorded for
// observability and the affected path falls back to the interpreter.
type JitKind string

const (
	UnsupportedOp     JitKind = "unsupported_op"
	TraceTooLong      JitKind = "trace_too_long"
	GuardTypeUnstable JitKind = "guard_type_unstable"
	TargetUnsupported JitKind = "target_unsupported"
)

// JitNYI records why a trace could not be compiled.
type JitNYI struct {
	Kind   JitKind
	Detail string
}

func (e *JitNYI) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}
