//go:build amd64

// Native codegen for the amd64 target. The instruction encoder below
// follows the same "append literal bytes to a []byte buffer" style as the
// scm JIT in the retrieval pack (jitReturnLiteral/jitNthArgument hand-encode
// mov/ret sequences directly); this file generalizes that to the fixed
// subset of the opcodes spec.md §4.6 names as JIT-compilable (add/sub/mul,
// ceq/clt/cgt, ldloc/stloc, ldc, dup, pop, forward brfalse as a guard,
// loop-back br; any other opcode, div/neg/shl/shr included, makes
// compileNative decline), restricted further to Int-typed locals and
// constants —
// boxing/unboxing the interpreter's tagged bytecode.Value happens in Go on
// either side of the native call (see compiledTrace.run), so the compiled
// code itself only ever touches plain int64 slots.
package jit

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/interp"
)

// callTrace bridges Go's calling convention to the raw machine code at fn:
// shadow is &shadow[0] of the int64 buffer backing locals+stack, passed in
// RDI; fn returns (status, exitVal) in RAX/RDX per the codegen below. See
// trampoline_amd64.s.
//
//go:noescape
func callTrace(fn, shadow uintptr) (status, exitVal int64)

// amd64 general-purpose register encodings used by the emitter below.
const (
	regAX = 0
	regDX = 2
	regBX = 3
	regDI = 7
)

// compiledTrace holds one trace's executable machine code and the shadow
// layout it expects: locals occupy shadow[0:numLocals) addressed directly
// by local index, and the operand stack occupies shadow[numLocals:
// numLocals+stackSlots), addressed by compile-time-known depth.
type compiledTrace struct {
	mem       []byte // mmap'd RX pages; kept alive for the life of the trace
	entry     uintptr
	numLocals int
	touched   []int // distinct local indices the trace reads or writes
}

// compileNative attempts to compile tr to amd64 machine code. It returns
// nil (not an error) when the trace falls outside the supported subset —
// the trace still runs, just interpreted, matching the portability
// fallback spec.md §4.6 describes for unsupported targets.
func compileNative(tr *Trace) *compiledTrace {
	asm, touched, err := assembleTrace(tr)
	if err != nil {
		return nil
	}
	mem, err := mmapExec(asm)
	if err != nil {
		return nil
	}
	return &compiledTrace{
		mem:       mem,
		entry:     uintptr(unsafe.Pointer(&mem[0])),
		numLocals: numLocalsFor(tr),
		touched:   touched,
	}
}

func numLocalsFor(tr *Trace) int {
	if tr.Program != nil {
		return tr.Program.NumLocals
	}
	return 0
}

// assembleTrace walks tr's steps, simulating the compile-time operand-stack
// depth, and emits machine code into a buffer. It rejects (with an error,
// never a panic) anything outside the supported subset: a non-Int LDC
// constant, any opcode not in the whitelist, or a branch that leaves the
// stack unbalanced.
func assembleTrace(tr *Trace) (code []byte, touched []int, err error) {
	var buf []byte
	depth := 0
	touchedSet := map[int]bool{}

	type guardPatch struct {
		pos    int // offset of the rel32 operand to patch
		target uint32
	}
	var patches []guardPatch

	for _, step := range tr.Steps {
		switch step.Op {
		case bytecode.LDC:
			v, ok := constAt(tr, step.Arg)
			if !ok {
				return nil, nil, fmt.Errorf("non-int constant at ip=%d", step.IP)
			}
			slot := numLocalsFor(tr) + depth
			buf = emitMovRegImm64(buf, regAX, uint64(v))
			buf = emitMovMemReg(buf, regDI, slot, regAX)
			depth++

		case bytecode.LDLOC:
			touchedSet[int(step.Arg)] = true
			slot := numLocalsFor(tr) + depth
			buf = emitMovRegMem(buf, regAX, regDI, int(step.Arg))
			buf = emitMovMemReg(buf, regDI, slot, regAX)
			depth++

		case bytecode.STLOC:
			touchedSet[int(step.Arg)] = true
			depth--
			slot := numLocalsFor(tr) + depth
			buf = emitMovRegMem(buf, regAX, regDI, slot)
			buf = emitMovMemReg(buf, regDI, int(step.Arg), regAX)

		case bytecode.DUP:
			src := numLocalsFor(tr) + depth - 1
			dst := src + 1
			buf = emitMovRegMem(buf, regAX, regDI, src)
			buf = emitMovMemReg(buf, regDI, dst, regAX)
			depth++

		case bytecode.POP:
			depth--

		case bytecode.ADD, bytecode.SUB, bytecode.MUL:
			depth -= 2
			xSlot := numLocalsFor(tr) + depth
			ySlot := xSlot + 1
			buf = emitMovRegMem(buf, regAX, regDI, xSlot)
			buf = emitMovRegMem(buf, regBX, regDI, ySlot)
			switch step.Op {
			case bytecode.ADD:
				buf = emitAddRegReg(buf, regAX, regBX)
			case bytecode.SUB:
				buf = emitSubRegReg(buf, regAX, regBX)
			case bytecode.MUL:
				buf = emitImulRegReg(buf, regAX, regBX)
			}
			buf = emitMovMemReg(buf, regDI, xSlot, regAX)
			depth++

		case bytecode.CEQ, bytecode.CLT, bytecode.CGT:
			depth -= 2
			xSlot := numLocalsFor(tr) + depth
			ySlot := xSlot + 1
			buf = emitMovRegMem(buf, regAX, regDI, xSlot)
			buf = emitMovRegMem(buf, regBX, regDI, ySlot)
			buf = emitCmpRegReg(buf, regAX, regBX)
			var cc byte
			switch step.Op {
			case bytecode.CEQ:
				cc = 0x94 // sete
			case bytecode.CLT:
				cc = 0x9C // setl
			case bytecode.CGT:
				cc = 0x9F // setg
			}
			buf = emitSetccAL(buf, cc)
			buf = emitMovzxRaxAl(buf)
			buf = emitMovMemReg(buf, regDI, xSlot, regAX)
			depth++

		case bytecode.BRFALSE:
			if depth == 0 {
				return nil, nil, fmt.Errorf("brfalse with empty stack at ip=%d", step.IP)
			}
			depth--
			slot := numLocalsFor(tr) + depth
			if depth != 0 {
				return nil, nil, fmt.Errorf("brfalse with unbalanced stack at ip=%d", step.IP)
			}
			buf = emitMovRegMem(buf, regAX, regDI, slot)
			buf = emitTestRegReg(buf, regAX, regAX)
			pos := len(buf) + 2 // offset of jz's rel32 field once emitted
			buf = emitJzRel32Placeholder(buf)
			patches = append(patches, guardPatch{pos: pos, target: step.Arg})

		case bytecode.BR:
			if depth != 0 {
				return nil, nil, fmt.Errorf("br with unbalanced stack at ip=%d", step.IP)
			}
			// Loop-closing jump: return Completed, exitIP = trace root, so
			// TryEnter re-enters this same native trace on the next Step.
			buf = emitMovRegImm64(buf, regAX, 0)
			buf = emitMovRegImm64(buf, regDX, uint64(tr.Root))
			buf = emitRet(buf)

		default:
			return nil, nil, fmt.Errorf("unsupported opcode %s at ip=%d", step.Op, step.IP)
		}
	}

	if len(buf) == 0 || buf[len(buf)-1] != 0xC3 {
		return nil, nil, fmt.Errorf("trace did not end in a loop-closing br")
	}

	for _, p := range patches {
		target := len(buf)
		rel := int32(target - (p.pos + 4))
		buf[p.pos+0] = byte(rel)
		buf[p.pos+1] = byte(rel >> 8)
		buf[p.pos+2] = byte(rel >> 16)
		buf[p.pos+3] = byte(rel >> 24)
		buf = emitMovRegImm64(buf, regAX, 1)
		buf = emitMovRegImm64(buf, regDX, uint64(p.target))
		buf = emitRet(buf)
	}

	touched = make([]int, 0, len(touchedSet))
	for idx := range touchedSet {
		touched = append(touched, idx)
	}
	return buf, touched, nil
}

// constAt returns tr's LDC operand at Steps index matching arg as the
// constant table offset, if it is a bytecode.Int; this requires the
// program's constants, which the trace doesn't carry directly, so callers
// needing it pass the owning Program in via tr.Program (set at recording
// time). Traces recorded by this engine always set it.
func constAt(tr *Trace, idx uint32) (int64, bool) {
	if tr.Program == nil || int(idx) >= len(tr.Program.Constants) {
		return 0, false
	}
	v, ok := tr.Program.Constants[idx].(bytecode.Int)
	return int64(v), ok
}

func mmapExec(code []byte) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	return mem, nil
}

// run executes the compiled trace natively if every local it touches is
// currently an Int (the entry guard); otherwise it declines (ran=false) and
// the interpreter steps this instruction itself.
func (c *compiledTrace) run(vm *interp.VM) (exitIP uint32, guarded bool, ran bool) {
	for _, idx := range c.touched {
		if _, ok := vm.Locals[idx].(bytecode.Int); !ok {
			return 0, false, false
		}
	}

	shadow := make([]int64, c.numLocals+vm.Program.MaxStack)
	for i := 0; i < c.numLocals; i++ {
		if v, ok := vm.Locals[i].(bytecode.Int); ok {
			shadow[i] = int64(v)
		}
	}

	status, exitVal := callTrace(c.entry, uintptr(unsafe.Pointer(&shadow[0])))
	runtime.KeepAlive(shadow)
	runtime.KeepAlive(c.mem)

	for _, idx := range c.touched {
		vm.Locals[idx] = bytecode.Int(shadow[idx])
	}

	if status == 1 {
		return uint32(exitVal), true, true
	}
	return uint32(exitVal), false, true
}
