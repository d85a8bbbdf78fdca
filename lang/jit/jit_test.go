package jit_test

import (
	"testing"

	"github.com/mna/vmforge/lang/asm"
	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/interp"
	"github.com/mna/vmforge/lang/jit"
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

// countingLoop builds: locals 0=i, 1=sum; for i in 0..n { sum += i; i++ }.
func countingLoop(t *testing.T, n int64) *bytecode.Program {
	t.Helper()
	return mustAssemble(t, func(a *asm.Assembler) {
		a.SetNumLocals(2)
		zero := a.AddConstant(bytecode.Int(0))
		one := a.AddConstant(bytecode.Int(1))
		limit := a.AddConstant(bytecode.Int(n))

		a.EmitU32(bytecode.LDC, zero)
		a.EmitU8(bytecode.STLOC, 0) // i = 0
		a.EmitU32(bytecode.LDC, zero)
		a.EmitU8(bytecode.STLOC, 1) // sum = 0

		loop := a.NewLabel("loop")
		end := a.NewLabel("end")
		a.Label(loop)
		a.EmitU8(bytecode.LDLOC, 0)
		a.EmitU32(bytecode.LDC, limit)
		a.Emit(bytecode.CLT) // i < n
		a.EmitJump(bytecode.BRFALSE, end)

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
}

func sum0to(n int64) int64 {
	var s int64
	for i := int64(0); i < n; i++ {
		s += i
	}
	return s
}

func TestEngineCompilesHotLoopAndResultIsUnchanged(t *testing.T) {
	p := countingLoop(t, 200)
	vm := interp.New(p, interp.NewHostTable())
	eng := jit.New(jit.Config{HotThreshold: 5, MaxTraceLength: 64})
	vm.Observer = eng
	vm.JIT = eng

	vm.Run()

	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(sum0to(200)), vm.Locals[1])

	st := eng.Stats()
	assert.Equal(t, 1, st.TraceCount)
	assert.NotZero(t, st.Traces[0].ExecCount)
}

func TestEngineNeverCompilesBelowThreshold(t *testing.T) {
	p := countingLoop(t, 3)
	vm := interp.New(p, interp.NewHostTable())
	eng := jit.New(jit.Config{HotThreshold: 1000})
	vm.Observer = eng
	vm.JIT = eng

	vm.Run()

	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(sum0to(3)), vm.Locals[1])
	assert.Equal(t, 0, eng.Stats().TraceCount)
}

func TestEngineAbortsOnHostCallInsideLoop(t *testing.T) {
	p := mustAssemble(t, func(a *asm.Assembler) {
		a.SetNumLocals(1)
		a.AddImport("noop", 0, 1)
		zero := a.AddConstant(bytecode.Int(0))
		ten := a.AddConstant(bytecode.Int(10))

		a.EmitU32(bytecode.LDC, zero)
		a.EmitU8(bytecode.STLOC, 0)

		loop := a.NewLabel("loop")
		end := a.NewLabel("end")
		a.Label(loop)
		a.EmitU8(bytecode.LDLOC, 0)
		a.EmitU32(bytecode.LDC, ten)
		a.Emit(bytecode.CLT)
		a.EmitJump(bytecode.BRFALSE, end)

		a.EmitCall(0, 0)
		a.Emit(bytecode.POP)

		a.EmitU8(bytecode.LDLOC, 0)
		one := a.AddConstant(bytecode.Int(1))
		a.EmitU32(bytecode.LDC, one)
		a.Emit(bytecode.ADD)
		a.EmitU8(bytecode.STLOC, 0)
		a.EmitJump(bytecode.BR, loop)

		a.Label(end)
		a.Emit(bytecode.RET)
	})
	hosts := interp.NewHostTable()
	hosts.Bind(0, func(args []bytecode.Value) (bytecode.Value, error) {
		return bytecode.Null, nil
	})
	vm := interp.New(p, hosts)
	eng := jit.New(jit.Config{HotThreshold: 2, Cooldown: 1})
	vm.Observer = eng
	vm.JIT = eng

	vm.Run()

	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, 0, eng.Stats().TraceCount)
	assert.NotEmpty(t, eng.Stats().NYI)
}

func TestOnEnterHookOverridesNativeExecution(t *testing.T) {
	p := countingLoop(t, 50)
	vm := interp.New(p, interp.NewHostTable())
	eng := jit.New(jit.Config{HotThreshold: 5})
	vm.Observer = eng
	vm.JIT = eng

	var entered bool
	eng.SetOnEnterForTest(func(vm *interp.VM, tr *jit.Trace) bool {
		entered = true
		return false
	})

	vm.Run()

	require.Equal(t, interp.Halted, vm.Status)
	assert.Equal(t, bytecode.Int(sum0to(50)), vm.Locals[1])
	assert.True(t, entered)
}

func TestDumpMentionsCompiledTrace(t *testing.T) {
	p := countingLoop(t, 200)
	vm := interp.New(p, interp.NewHostTable())
	eng := jit.New(jit.Config{HotThreshold: 5})
	vm.Observer = eng
	vm.JIT = eng
	vm.Run()

	out := eng.Dump()
	assert.Contains(t, out, "traces: 1")
}
