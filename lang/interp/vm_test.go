package interp_test

import (
	"testing"

	"github.com/mna/vmforge/lang/asm"
	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/interp"
	"github.com/mna/vmforge/lang/vmerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAssemble(t *testing.T, fn func(a *asm.Assembler)) *bytecode.Program {
	t.Helper()
	a := asm.New()
	fn(a)
	p, err := a.Finish()
	require.NoError(t, err)
	return p
}

// Scenario 2 of spec.md §8.
func TestArithmeticScenario(t *testing.T) {
	p := mustAssemble(t, func(a *asm.Assembler) {
		two := a.AddConstant(bytecode.Int(2))
		three := a.AddConstant(bytecode.Int(3))
		a.EmitU32(bytecode.LDC, two)
		a.EmitU32(bytecode.LDC, three)
		a.Emit(bytecode.ADD)
		a.Emit(bytecode.RET)
	})
	vm := interp.New(p, interp.NewHostTable())
	vm.Run()
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(5), vm.Stack[vm.SP-1])
}

func TestIntFloatPromotion(t *testing.T) {
	p := mustAssemble(t, func(a *asm.Assembler) {
		i := a.AddConstant(bytecode.Int(2))
		f := a.AddConstant(bytecode.Float(1.5))
		a.EmitU32(bytecode.LDC, i)
		a.EmitU32(bytecode.LDC, f)
		a.Emit(bytecode.ADD)
		a.Emit(bytecode.RET)
	})
	vm := interp.New(p, interp.NewHostTable())
	vm.Run()
	assert.Equal(t, bytecode.Float(3.5), vm.Stack[vm.SP-1])
}

func TestDivByZeroFaults(t *testing.T) {
	p := mustAssemble(t, func(a *asm.Assembler) {
		one := a.AddConstant(bytecode.Int(1))
		zero := a.AddConstant(bytecode.Int(0))
		a.EmitU32(bytecode.LDC, one)
		a.EmitU32(bytecode.LDC, zero)
		a.Emit(bytecode.DIV)
		a.Emit(bytecode.RET)
	})
	vm := interp.New(p, interp.NewHostTable())
	vm.Run()
	require.Equal(t, interp.Faulted, vm.Status)
	assert.Equal(t, vmerrors.DivByZero, vm.Fault.Kind)
}

func TestBrfalseNonBooleanFaults(t *testing.T) {
	p := mustAssemble(t, func(a *asm.Assembler) {
		c := a.AddConstant(bytecode.Str("x"))
		a.EmitU32(bytecode.LDC, c)
		a.EmitJump(bytecode.BRFALSE, "end")
		a.Label("end")
		a.Emit(bytecode.RET)
	})
	vm := interp.New(p, interp.NewHostTable())
	vm.Run()
	require.Equal(t, interp.Faulted, vm.Status)
	assert.Equal(t, vmerrors.TypeMismatch, vm.Fault.Kind)
}

// Scenario 3 of spec.md §8: for i in 0..5 { if i > 2 { break }; sum += i }.
func TestLoopWithBreak(t *testing.T) {
	// locals: 0 = i, 1 = sum
	p := mustAssemble(t, func(a *asm.Assembler) {
		a.SetNumLocals(2)
		zero := a.AddConstant(bytecode.Int(0))
		one := a.AddConstant(bytecode.Int(1))
		two := a.AddConstant(bytecode.Int(2))
		five := a.AddConstant(bytecode.Int(5))

		a.EmitU32(bytecode.LDC, zero)
		a.EmitU8(bytecode.STLOC, 0) // i = 0
		a.EmitU32(bytecode.LDC, zero)
		a.EmitU8(bytecode.STLOC, 1) // sum = 0

		loop := a.NewLabel("loop")
		end := a.NewLabel("end")
		a.Label(loop)
		a.EmitU8(bytecode.LDLOC, 0)
		a.EmitU32(bytecode.LDC, five)
		a.Emit(bytecode.CLT) // i < 5
		a.EmitJump(bytecode.BRFALSE, end)

		a.EmitU8(bytecode.LDLOC, 0)
		a.EmitU32(bytecode.LDC, two)
		a.Emit(bytecode.CGT) // i > 2
		a.EmitJump(bytecode.BRFALSE, "body")
		a.EmitJump(bytecode.BR, end) // break

		a.Label("body")
		a.EmitU8(bytecode.LDLOC, 1)
		a.EmitU8(bytecode.LDLOC, 0)
		a.Emit(bytecode.ADD)
		a.EmitU8(bytecode.STLOC, 1) // sum += i

		a.EmitU8(bytecode.LDLOC, 0)
		a.EmitU32(bytecode.LDC, one)
		a.Emit(bytecode.ADD)
		a.EmitU8(bytecode.STLOC, 0) // i++
		a.EmitJump(bytecode.BR, loop)

		a.Label(end)
		a.EmitU8(bytecode.LDLOC, 1)
		a.Emit(bytecode.RET)
	})

	vm := interp.New(p, interp.NewHostTable())
	vm.Run()
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(3), vm.Locals[1])
}

func TestArityMismatchFaultsBeforeHostRuns(t *testing.T) {
	var called bool
	p := mustAssemble(t, func(a *asm.Assembler) {
		a.AddImport("f", 2, 1)
		c := a.AddConstant(bytecode.Int(1))
		a.EmitU32(bytecode.LDC, c)
		a.EmitCall(0, 1) // only 1 arg, import wants 2
		a.Emit(bytecode.RET)
	})
	hosts := interp.NewHostTable()
	hosts.Bind(0, func(args []bytecode.Value) (bytecode.Value, error) {
		called = true
		return bytecode.Null, nil
	})
	vm := interp.New(p, hosts)
	vm.Run()
	require.Equal(t, interp.Faulted, vm.Status)
	assert.Equal(t, vmerrors.ArityMismatch, vm.Fault.Kind)
	assert.False(t, called)
}

func TestMissingHostFaults(t *testing.T) {
	p := mustAssemble(t, func(a *asm.Assembler) {
		a.AddImport("f", 0, 1)
		a.EmitCall(0, 0)
		a.Emit(bytecode.RET)
	})
	vm := interp.New(p, interp.NewHostTable())
	vm.Run()
	require.Equal(t, interp.Faulted, vm.Status)
	assert.Equal(t, vmerrors.MissingHost, vm.Fault.Kind)
}

func TestYieldAndResume(t *testing.T) {
	p := mustAssemble(t, func(a *asm.Assembler) {
		a.AddImport("wait", 0, 1)
		a.EmitCall(0, 0)
		a.EmitU8(bytecode.STLOC, 0)
		a.Emit(bytecode.RET)
		a.SetNumLocals(1)
	})
	hosts := interp.NewHostTable()
	hosts.Bind(0, func(args []bytecode.Value) (bytecode.Value, error) {
		return bytecode.Yield{Payload: bytecode.Str("waiting")}, nil
	})
	vm := interp.New(p, hosts)
	vm.Run()
	require.Equal(t, interp.Yielded, vm.Status)
	assert.Equal(t, bytecode.Str("waiting"), vm.YieldPayload)

	vm.Resume(bytecode.Int(42))
	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(42), vm.Locals[0])
}

// Scenario 1 of spec.md §8: rate-limit host call shape.
func TestRateLimitScenario(t *testing.T) {
	allowCount := 0
	hosts := interp.NewHostTable()
	hosts.Bind(0, func(args []bytecode.Value) (bytecode.Value, error) {
		allowCount++
		return bytecode.Bool(allowCount <= 3), nil
	})

	build := func() *bytecode.Program {
		return mustAssemble(t, func(a *asm.Assembler) {
			a.AddImport("rate_limit_allow", 3, 1)
			clientID := a.AddConstant(bytecode.Str("demo"))
			limit := a.AddConstant(bytecode.Int(3))
			window := a.AddConstant(bytecode.Int(60))
			a.EmitU32(bytecode.LDC, clientID)
			a.EmitU32(bytecode.LDC, limit)
			a.EmitU32(bytecode.LDC, window)
			a.EmitCall(0, 3)
			a.Emit(bytecode.RET)
		})
	}

	var results []bool
	for i := 0; i < 4; i++ {
		vm := interp.New(build(), hosts)
		vm.Run()
		require.Equal(t, interp.Halted, vm.Status)
		results = append(results, bool(vm.Stack[vm.SP-1].(bytecode.Bool)))
	}
	assert.Equal(t, []bool{true, true, true, false}, results)
}
