// Package asm implements the bytecode assembler: an append-only emitter
// with label back-patching (spec.md §4.1, "Assembler contract") plus a
// human-readable text form used for golden-file tests and the --disasm-vmbc
// CLI surface, adapted from the label/patch-table pattern of the teacher's
// lang/compiler/asm.go.
package asm

import (
	"fmt"

	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/vmerrors"
)

type patch struct {
	siteOffset uint32 // offset of the u32 operand to patch
	label      string
}

// Assembler builds a bytecode.Program incrementally. Forward references to
// labels are recorded as patch sites; Finish resolves every label to an
// absolute code offset, writes the patched operand, and fails with
// vmerrors.CompileError{Kind: UnresolvedLabel} if any patch site's label was
// never defined.
type Assembler struct {
	code      []byte
	constants []bytecode.Value
	constIdx  map[bytecode.Value]uint32 // dedup table
	imports   []bytecode.Import
	importIdx map[string]uint16
	numLocals int

	labels  map[string]uint32
	patches []patch

	depth    int // current simulated operand-stack depth
	maxStack int

	debug      *bytecode.DebugInfo
	autoLabels int

	err error
}

// New returns an empty Assembler.
func New() *Assembler {
	return &Assembler{
		constIdx:  make(map[bytecode.Value]uint32),
		importIdx: make(map[string]uint16),
		labels:    make(map[string]uint32),
		debug:     &bytecode.DebugInfo{},
	}
}

// NewLabel returns a fresh, never-yet-used label name, for control-flow
// lowering that needs synthetic targets (loop heads/tails, if/else joins).
func (a *Assembler) NewLabel(prefix string) string {
	a.autoLabels++
	return fmt.Sprintf(".%s%d", prefix, a.autoLabels)
}

// SetNumLocals declares the function's local slot count.
func (a *Assembler) SetNumLocals(n int) { a.numLocals = n }

// AddConstant interns v into the constant table, returning its index.
// Identical constants may share an index (spec.md §3 allows but does not
// require dedup); this assembler dedups scalar constants for compactness.
func (a *Assembler) AddConstant(v bytecode.Value) uint32 {
	if idx, ok := a.constIdx[v]; ok {
		return idx
	}
	idx := uint32(len(a.constants))
	a.constants = append(a.constants, v)
	a.constIdx[v] = idx
	return idx
}

// AddImport declares (or returns the existing ordinal for) a host import.
func (a *Assembler) AddImport(name string, arity, returns uint8) uint16 {
	if ord, ok := a.importIdx[name]; ok {
		return ord
	}
	ord := uint16(len(a.imports))
	a.imports = append(a.imports, bytecode.Import{Ordinal: ord, Name: name, Arity: arity, Returns: returns})
	a.importIdx[name] = ord
	return ord
}

// Offset returns the current end-of-code offset, i.e. the address the next
// emitted instruction will occupy.
func (a *Assembler) Offset() uint32 { return uint32(len(a.code)) }

// Label binds name to the current offset. Redefining a label is an error.
func (a *Assembler) Label(name string) {
	if a.err != nil {
		return
	}
	if _, ok := a.labels[name]; ok {
		a.err = &vmerrors.CompileError{Kind: vmerrors.UnresolvedLabel, Subject: fmt.Sprintf("label %q redefined", name)}
		return
	}
	a.labels[name] = a.Offset()
}

// SetLine records that code emitted from this point is attributed to the
// given source line, for DebugInfo.
func (a *Assembler) SetLine(line uint32) {
	off := a.Offset()
	if n := len(a.debug.Lines); n > 0 && a.debug.Lines[n-1].Offset == off {
		a.debug.Lines[n-1].Line = line
		return
	}
	a.debug.Lines = append(a.debug.Lines, bytecode.LineEntry{Offset: off, Line: line})
}

// DeclareFunction records a function's entry offset and name for DebugInfo.
func (a *Assembler) DeclareFunction(name string) {
	a.debug.Functions = append(a.debug.Functions, bytecode.FunctionEntry{Offset: a.Offset(), Name: name})
}

// DeclareLocal records a local slot's name at the given function entry
// offset, for DebugInfo.
func (a *Assembler) DeclareLocal(funcOffset uint32, index uint8, name string) {
	a.debug.Locals = append(a.debug.Locals, bytecode.LocalEntry{FuncOffset: funcOffset, Index: index, Name: name})
}

// DeclareFrame records one inlined instantiation of a function body,
// spanning [enter, exit) in the code stream, for call-frame reconstruction
// (bytecode.DebugInfo.Frames).
func (a *Assembler) DeclareFrame(enter, exit uint32, name string) {
	a.debug.Frames = append(a.debug.Frames, bytecode.FrameRange{Enter: enter, Exit: exit, Name: name})
}

// Emit appends a no-operand instruction.
func (a *Assembler) Emit(op bytecode.Opcode) {
	if a.err != nil {
		return
	}
	if op.Shape() != bytecode.NoOperand {
		a.err = fmt.Errorf("asm: %s requires an operand", op)
		return
	}
	a.code = bytecode.EncodeInsn(a.code, op, 0)
	a.track(op, 0)
}

// EmitU32 appends an instruction carrying an immediate u32 operand (LDC).
// Use EmitJump for BR/BRFALSE/CATCHPUSH, which take a label, not a raw
// offset.
func (a *Assembler) EmitU32(op bytecode.Opcode, arg uint32) {
	if a.err != nil {
		return
	}
	if op.Shape() != bytecode.U32Operand || bytecode.IsJump(op) {
		a.err = fmt.Errorf("asm: %s is not a plain u32 instruction", op)
		return
	}
	a.code = bytecode.EncodeInsn(a.code, op, arg)
	a.track(op, 0)
}

// EmitU8 appends an instruction carrying a single-byte operand (LDLOC,
// STLOC).
func (a *Assembler) EmitU8(op bytecode.Opcode, arg uint8) {
	if a.err != nil {
		return
	}
	if op.Shape() != bytecode.U8Operand {
		a.err = fmt.Errorf("asm: %s is not a u8 instruction", op)
		return
	}
	a.code = bytecode.EncodeInsn(a.code, op, uint32(arg))
	a.track(op, 0)
}

// EmitCall appends a CALL instruction for the given import ordinal and
// argument count.
func (a *Assembler) EmitCall(ordinal uint16, argc uint8) {
	if a.err != nil {
		return
	}
	a.code = bytecode.EncodeInsn(a.code, bytecode.CALL, bytecode.PackCallArgs(ordinal, argc))
	a.track(bytecode.CALL, int(argc))
}

// EmitJump appends a jump-class instruction (BR, BRFALSE, CATCHPUSH)
// targeting label. If label is already defined (a backward jump), the
// offset is written immediately; otherwise a patch site is recorded and
// Finish resolves it.
func (a *Assembler) EmitJump(op bytecode.Opcode, label string) {
	if a.err != nil {
		return
	}
	if !bytecode.IsJump(op) {
		a.err = fmt.Errorf("asm: %s is not a jump instruction", op)
		return
	}
	siteOffset := uint32(len(a.code)) + 1 // +1 for the opcode byte
	if target, ok := a.labels[label]; ok {
		a.code = bytecode.EncodeInsn(a.code, op, target)
	} else {
		a.code = bytecode.EncodeInsn(a.code, op, 0)
		a.patches = append(a.patches, patch{siteOffset: siteOffset, label: label})
	}
	a.track(op, 0)
}

func (a *Assembler) track(op bytecode.Opcode, argc int) {
	a.depth += bytecode.StackEffect(op, argc)
	if a.depth < 0 {
		// track is a linear single-pass simulation: it has no notion of control
		// flow, so a jump target reached only via a backward or forward branch
		// can look like an underflow even though the real depth at that point
		// (determined by the path that actually reaches it at runtime) is
		// fine. Only MaxStack sizing depends on this count, so clamp instead
		// of failing the whole assembly.
		a.depth = 0
	}
	if a.depth > a.maxStack {
		a.maxStack = a.depth
	}
}

// Finish resolves every patch site, validates bounds, and returns the
// finalized Program. It fails with vmerrors.CompileError{UnresolvedLabel}
// if any patch site's label has no binding.
func (a *Assembler) Finish() (*bytecode.Program, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, p := range a.patches {
		target, ok := a.labels[p.label]
		if !ok {
			return nil, &vmerrors.CompileError{Kind: vmerrors.UnresolvedLabel, Subject: p.label}
		}
		copy(a.code[p.siteOffset:p.siteOffset+4], encodeU32(target))
	}
	prog := &bytecode.Program{
		Code:      a.code,
		Constants: a.constants,
		Imports:   a.imports,
		NumLocals: a.numLocals,
		MaxStack:  a.maxStack,
	}
	if len(a.debug.Lines) > 0 || len(a.debug.Functions) > 0 || len(a.debug.Locals) > 0 || len(a.debug.Frames) > 0 {
		prog.Debug = a.debug
	}
	return prog, nil
}

func encodeU32(x uint32) []byte {
	return bytecode.PutU32(nil, x)
}
