package jit

import (
	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/interp"
	"github.com/mna/vmforge/lang/vmerrors"
)

// TraceStep is one recorded interpreter instruction plus the guard shape
// the compiler must check before trusting it on a later native run
// (spec.md §4.6: "the recorder also records the guard shape").
type TraceStep struct {
	IP    uint32
	Op    bytecode.Opcode
	Arg   uint32
	Guard GuardShape
}

// GuardShape is the type predicate observed at recording time. Kind is the
// empty string for opcodes whose operands carry no type assumption (BR,
// for instance).
type GuardShape struct {
	Kind string // e.g. "int", "float", "bool" — Value.Type() of the operand(s) observed
}

// Trace is a closed, recorded loop body: every step from its root back to
// itself, plus the bookkeeping the engine needs to decide whether to keep
// running it natively.
type Trace struct {
	Root    uint32
	Steps   []TraceStep
	Program *bytecode.Program // owning program, needed to resolve LDC constants during native codegen

	native *compiledTrace

	execCount  int
	guardFails int
	invalid    bool
}

func (t *Trace) valid() bool { return t != nil && !t.invalid }

// recording is the engine's in-progress trace-capture state. Only one can
// be active at a time (spec.md §4.6 describes a single recorder).
type recording struct {
	root     uint32
	maxSteps int
	steps    []TraceStep
	prog     *bytecode.Program
}

func newRecording(root uint32, maxSteps int) *recording {
	return &recording{root: root, maxSteps: maxSteps}
}

// append records one interpreted step, or returns a JitNYI explaining why
// recording must abort (spec.md §4.6's bulleted abort conditions).
func (r *recording) append(ip uint32, op bytecode.Opcode, arg uint32, vm *interp.VM) error {
	if r.prog == nil {
		r.prog = vm.Program
	}
	if len(r.steps) >= r.maxSteps {
		return newNYI(vmerrors.TraceTooLong, "exceeded %d steps", r.maxSteps)
	}
	switch op {
	case bytecode.CALL:
		return newNYI(vmerrors.UnsupportedOp, "host call at ip=%d", ip)
	case bytecode.BR:
		if arg != r.root && len(r.steps) > 0 {
			return newNYI(vmerrors.UnsupportedOp, "br to non-root target 0x%x", arg)
		}
	case bytecode.BRFALSE:
		if arg < ip {
			return newNYI(vmerrors.UnsupportedOp, "backward brfalse at ip=%d", ip)
		}
	}
	r.steps = append(r.steps, TraceStep{IP: ip, Op: op, Arg: arg, Guard: guardFor(op, vm)})
	return nil
}

// guardFor captures the type assumption a step's operand(s) carry, read
// off the top of the operand stack before the step's effect is applied
// (the interpreter calls OnStep before exec, so the stack still holds the
// step's inputs).
func guardFor(op bytecode.Opcode, vm *interp.VM) GuardShape {
	switch op {
	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV, bytecode.NEG,
		bytecode.CEQ, bytecode.CLT, bytecode.CGT, bytecode.SHL, bytecode.SHR:
		if vm.SP > 0 {
			return GuardShape{Kind: vm.Stack[vm.SP-1].Type()}
		}
	case bytecode.STLOC:
		if vm.SP > 0 {
			return GuardShape{Kind: vm.Stack[vm.SP-1].Type()}
		}
	}
	return GuardShape{}
}

func (r *recording) finish() *Trace {
	return &Trace{Root: r.root, Steps: r.steps, Program: r.prog}
}
