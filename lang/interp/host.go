package interp

import "github.com/mna/vmforge/lang/bytecode"

// HostFunc is the embedder-provided callable bound to an import ordinal.
// It receives the popped, positionally-ordered arguments and returns
// either a Value to push, or a bytecode.Yield{} to suspend the VM (the
// instruction after the call is where Resume continues), or an error to
// fault the VM with RuntimeFault{MissingHost/ArityMismatch} semantics
// folded in by the caller — a host-reported error becomes a generic
// RuntimeFault carrying the error's message.
type HostFunc func(args []bytecode.Value) (bytecode.Value, error)

// HostTable binds import ordinals to callables. An embedder populates one
// before calling Run; an unbound ordinal at call time faults MissingHost.
type HostTable struct {
	fns map[uint16]HostFunc
}

// NewHostTable returns an empty binding table.
func NewHostTable() *HostTable {
	return &HostTable{fns: make(map[uint16]HostFunc)}
}

// Bind registers fn for the import declared at ordinal.
func (h *HostTable) Bind(ordinal uint16, fn HostFunc) {
	h.fns[ordinal] = fn
}

// Lookup returns the callable bound to ordinal, if any.
func (h *HostTable) Lookup(ordinal uint16) (HostFunc, bool) {
	fn, ok := h.fns[ordinal]
	return fn, ok
}

// PrintOrdinal is the reserved host ordinal for flavor print-like builtins
// (print!, console.log, print, (print ...)), per spec.md §4.2. Frontends
// declare their print-like builtin as an import literally named "print" at
// parse time; the backend assigns it whatever ordinal import declaration
// order yields, and well-behaved embedders bind ordinal by name rather than
// assuming 0. The constant here documents the convention used by
// cmd/vmforge's default host table.
const PrintOrdinal = 0
