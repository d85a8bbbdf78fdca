// Package interp implements the bytecode dispatch loop (spec.md §4.5): a
// switch over opcodes that performs each instruction's effect, advances ip,
// and exposes the exact VM-state invariants of spec.md §3. It is adapted
// from the dispatch-loop shape of the teacher's lang/machine/machine.go
// (flat []Value stack + locals slice, a for-loop with an embedded switch,
// inFlightErr collecting the terminal error of the loop), generalized to
// the fixed opcode set of lang/bytecode and a host-call ABI instead of
// Starlark-style builtins.
package interp

import (
	"sync/atomic"

	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/vmerrors"
)

// Status is the coarse VM state named in spec.md §3.
type Status int

const (
	Running Status = iota
	Halted
	Yielded
	Faulted
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Halted:
		return "halted"
	case Yielded:
		return "yielded"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Observer is notified before every instruction executes. The recorder
// (lang/debug) and the trace JIT's recording mode (lang/jit) both satisfy
// this contract instead of being baked into the interpreter by
// inheritance; a nil Observer means no one is watching.
type Observer interface {
	OnStep(vm *VM, ip uint32, op bytecode.Opcode, arg uint32)
}

// JIT is the control-transfer hook the trace JIT installs to run a
// compiled, live trace natively instead of interpreting. It embeds
// Observer so the same engine both records traces and executes them.
type JIT interface {
	Observer
	// TryEnter is called at the top of the dispatch loop, before decoding
	// the instruction at vm.IP. If a compiled trace is rooted there, the
	// engine executes it natively, mutates vm's stack/locals/IP in place,
	// and returns true so the interpreter re-checks Status instead of
	// decoding a step itself.
	TryEnter(vm *VM) bool
}

// VM is one single-threaded execution of a Program (spec.md §5: one
// concurrent executor per instance; a Program is shared read-only across
// many VM instances).
type VM struct {
	Program *bytecode.Program
	Hosts   *HostTable

	IP     uint32
	Stack  []bytecode.Value
	SP     int
	Locals []bytecode.Value
	Status Status
	Fault  *vmerrors.Fault

	// ActiveFrames is the call-frame stack for inlined function regions
	// (spec.md §3 VM state), reconstructed by entering/exiting the ranges
	// recorded in Program.Debug.Frames as IP crosses them.
	ActiveFrames []bytecode.FrameRange

	// catchStack supports the try/must extension (SPEC_FULL.md "Bytecode
	// extensions"): each CATCHPUSH records the fallback ip to jump to if a
	// fault occurs before the matching CATCHPOP.
	catchStack []uint32

	Observer Observer
	JIT      JIT

	// Cancel, when non-nil, is polled between instructions (spec.md §5,
	// "Cancellation/timeout"). On observing it set, the VM faults
	// Cancelled at the next instruction boundary.
	Cancel *atomic.Bool

	// YieldPayload holds the value passed to the most recent Yield, for an
	// embedder to inspect before calling Resume.
	YieldPayload bytecode.Value
}

// New allocates a VM ready to execute p. NumLocals and MaxStack are taken
// from the Program's declared sizes (spec.md §3: "the VM must allocate
// exactly that many slots").
func New(p *bytecode.Program, hosts *HostTable) *VM {
	return &VM{
		Program: p,
		Hosts:   hosts,
		Stack:   make([]bytecode.Value, p.MaxStack),
		Locals:  make([]bytecode.Value, p.NumLocals),
		IP:      p.EntryOffset,
		Status:  Running,
	}
}

// Run executes until Status is no longer Running.
func (vm *VM) Run() {
	for vm.Status == Running {
		vm.Step()
	}
}

// Resume restores Status to Running after a Yielded pause and continues
// execution. value, if non-nil, is pushed as the result of the call that
// yielded (spec.md §4.5: "a subsequent resume() restores status <- Running
// and continues").
func (vm *VM) Resume(value bytecode.Value) {
	if vm.Status != Yielded {
		return
	}
	if value != nil {
		vm.push(value)
	}
	vm.Status = Running
	vm.Run()
}

func (vm *VM) push(v bytecode.Value) {
	vm.Stack[vm.SP] = v
	vm.SP++
}

func (vm *VM) pop() bytecode.Value {
	vm.SP--
	return vm.Stack[vm.SP]
}

func (vm *VM) top() bytecode.Value {
	return vm.Stack[vm.SP-1]
}

func (vm *VM) fault(kind vmerrors.FaultKind, format string, args ...any) {
	f := vmerrors.NewFault(kind, vm.IP, format, args...)
	if vm.Program.Debug != nil {
		f.Line = vm.Program.Debug.LineAt(vm.IP)
	}
	if len(vm.catchStack) > 0 {
		// try/must: transfer to the innermost catch handler instead of
		// faulting the whole VM.
		target := vm.catchStack[len(vm.catchStack)-1]
		vm.catchStack = vm.catchStack[:len(vm.catchStack)-1]
		vm.push(bytecode.Null)
		vm.IP = target
		return
	}
	vm.Status = Faulted
	vm.Fault = f
}

// Step executes exactly one instruction, unless a JIT hook consumes one or
// more steps natively first.
func (vm *VM) Step() {
	if vm.Status != Running {
		return
	}
	if vm.Cancel != nil && vm.Cancel.Load() {
		vm.fault(vmerrors.Cancelled, "cancellation requested")
		return
	}
	if vm.JIT != nil && vm.JIT.TryEnter(vm) {
		return
	}

	vm.updateFrames(vm.IP)

	code := vm.Program.Code
	if vm.IP >= uint32(len(code)) {
		vm.fault(vmerrors.UnknownOpcode, "ip out of range")
		return
	}
	op, arg, next := bytecode.DecodeInsn(code, vm.IP)
	if !op.Valid() {
		vm.fault(vmerrors.UnknownOpcode, "0x%02x", byte(op))
		return
	}

	if vm.Observer != nil {
		vm.Observer.OnStep(vm, vm.IP, op, arg)
	}
	// A JIT that is also installed as the Observer has already seen this step.
	if vm.JIT != nil && Observer(vm.JIT) != vm.Observer {
		vm.JIT.OnStep(vm, vm.IP, op, arg)
	}

	vm.IP = next
	vm.exec(op, arg)
}

func (vm *VM) updateFrames(ip uint32) {
	dbg := vm.Program.Debug
	if dbg == nil {
		return
	}
	for len(vm.ActiveFrames) > 0 && ip >= vm.ActiveFrames[len(vm.ActiveFrames)-1].Exit {
		vm.ActiveFrames = vm.ActiveFrames[:len(vm.ActiveFrames)-1]
	}
	for _, fr := range dbg.Frames {
		if fr.Enter == ip {
			vm.ActiveFrames = append(vm.ActiveFrames, fr)
		}
	}
}

func (vm *VM) exec(op bytecode.Opcode, arg uint32) {
	switch op {
	case bytecode.NOP:
		// none

	case bytecode.RET:
		vm.Status = Halted

	case bytecode.LDC:
		if int(arg) >= len(vm.Program.Constants) {
			vm.fault(vmerrors.OutOfRangeIndex, "constant index %d out of range", arg)
			return
		}
		vm.push(vm.Program.Constants[arg])

	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV:
		vm.binArith(op)

	case bytecode.NEG:
		x := vm.pop()
		switch x := x.(type) {
		case bytecode.Int:
			vm.push(-x)
		case bytecode.Float:
			vm.push(-x)
		default:
			vm.fault(vmerrors.TypeMismatch, "neg: non-numeric operand %s", x.Type())
		}

	case bytecode.CEQ, bytecode.CLT, bytecode.CGT:
		vm.compare(op)

	case bytecode.BR:
		vm.IP = arg

	case bytecode.BRFALSE:
		v := vm.pop()
		b, ok := bytecode.Truth(v)
		if !ok {
			vm.fault(vmerrors.TypeMismatch, "brfalse: non-boolean operand %s", v.Type())
			return
		}
		if !b {
			vm.IP = arg
		}

	case bytecode.POP:
		vm.pop()

	case bytecode.DUP:
		vm.push(vm.top())

	case bytecode.LDLOC:
		if int(arg) >= len(vm.Locals) {
			vm.fault(vmerrors.OutOfRangeIndex, "local index %d out of range", arg)
			return
		}
		v := vm.Locals[arg]
		if v == nil {
			vm.fault(vmerrors.UnboundLocal, "local %d read before assignment", arg)
			return
		}
		vm.push(v)

	case bytecode.STLOC:
		if int(arg) >= len(vm.Locals) {
			vm.fault(vmerrors.OutOfRangeIndex, "local index %d out of range", arg)
			return
		}
		vm.Locals[arg] = vm.pop()

	case bytecode.CALL:
		vm.call(arg)

	case bytecode.SHL, bytecode.SHR:
		vm.shift(op)

	case bytecode.CATCHPUSH:
		vm.catchStack = append(vm.catchStack, arg)

	case bytecode.CATCHPOP:
		if len(vm.catchStack) > 0 {
			vm.catchStack = vm.catchStack[:len(vm.catchStack)-1]
		}

	default:
		vm.fault(vmerrors.UnknownOpcode, "0x%02x", byte(op))
	}
}

func (vm *VM) binArith(op bytecode.Opcode) {
	y := vm.pop()
	x := vm.pop()
	xf, xIsFloat, xOK := bytecode.Numeric(x)
	yf, yIsFloat, yOK := bytecode.Numeric(y)
	if !xOK || !yOK {
		vm.fault(vmerrors.TypeMismatch, "%s: non-numeric operand", op)
		return
	}
	if op == bytecode.DIV && yf == 0 {
		vm.fault(vmerrors.DivByZero, "division by zero")
		return
	}
	if xIsFloat || yIsFloat {
		vm.push(bytecode.Float(applyArith(op, xf, yf)))
		return
	}
	xi, yi := int64(x.(bytecode.Int)), int64(y.(bytecode.Int))
	switch op {
	case bytecode.ADD:
		vm.push(bytecode.Int(xi + yi))
	case bytecode.SUB:
		vm.push(bytecode.Int(xi - yi))
	case bytecode.MUL:
		vm.push(bytecode.Int(xi * yi))
	case bytecode.DIV:
		if yi == 0 {
			vm.fault(vmerrors.DivByZero, "division by zero")
			return
		}
		vm.push(bytecode.Int(xi / yi))
	}
}

func applyArith(op bytecode.Opcode, x, y float64) float64 {
	switch op {
	case bytecode.ADD:
		return x + y
	case bytecode.SUB:
		return x - y
	case bytecode.MUL:
		return x * y
	case bytecode.DIV:
		return x / y
	}
	panic("unreachable")
}

func (vm *VM) compare(op bytecode.Opcode) {
	y := vm.pop()
	x := vm.pop()
	if op == bytecode.CEQ {
		vm.push(bytecode.Bool(bytecode.Equal(x, y)))
		return
	}
	cmp, ok := bytecode.Compare(x, y)
	if !ok {
		vm.fault(vmerrors.TypeMismatch, "%s: uncomparable operands %s/%s", op, x.Type(), y.Type())
		return
	}
	if op == bytecode.CLT {
		vm.push(bytecode.Bool(cmp < 0))
	} else {
		vm.push(bytecode.Bool(cmp > 0))
	}
}

func (vm *VM) shift(op bytecode.Opcode) {
	y := vm.pop()
	x := vm.pop()
	xi, ok1 := x.(bytecode.Int)
	yi, ok2 := y.(bytecode.Int)
	if !ok1 || !ok2 {
		vm.fault(vmerrors.TypeMismatch, "%s: non-integer operand", op)
		return
	}
	if op == bytecode.SHL {
		vm.push(bytecode.Int(int64(xi) << uint64(yi)))
	} else {
		vm.push(bytecode.Int(int64(xi) >> uint64(yi)))
	}
}

func (vm *VM) call(packed uint32) {
	ordinal, argc := bytecode.CallArgs(packed)
	if int(ordinal) >= len(vm.Program.Imports) {
		vm.fault(vmerrors.MissingHost, "unknown import ordinal %d", ordinal)
		return
	}
	imp := vm.Program.Imports[ordinal]
	if int(argc) != int(imp.Arity) {
		vm.fault(vmerrors.ArityMismatch, "%s: want %d args, got %d", imp.Name, imp.Arity, argc)
		return
	}
	args := make([]bytecode.Value, argc)
	for i := int(argc) - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	fn, ok := vm.Hosts.Lookup(ordinal)
	if !ok {
		vm.fault(vmerrors.MissingHost, "%s: no host bound", imp.Name)
		return
	}
	result, err := fn(args)
	if err != nil {
		vm.fault(vmerrors.MissingHost, "%s: %s", imp.Name, err)
		return
	}
	if y, ok := result.(bytecode.Yield); ok {
		vm.YieldPayload = y.Payload
		vm.Status = Yielded
		return
	}
	vm.push(result)
}
