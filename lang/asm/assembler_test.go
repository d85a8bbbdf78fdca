package asm_test

import (
	"testing"

	"github.com/mna/vmforge/lang/asm"
	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/vmerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleArithmetic(t *testing.T) {
	a := asm.New()
	two := a.AddConstant(bytecode.Int(2))
	three := a.AddConstant(bytecode.Int(3))
	a.EmitU32(bytecode.LDC, two)
	a.EmitU32(bytecode.LDC, three)
	a.Emit(bytecode.ADD)
	a.Emit(bytecode.RET)

	p, err := a.Finish()
	require.NoError(t, err)
	assert.Equal(t, []bytecode.Value{bytecode.Int(2), bytecode.Int(3)}, p.Constants)
	assert.Equal(t, 2, p.MaxStack)
}

func TestUnresolvedLabelFails(t *testing.T) {
	a := asm.New()
	a.EmitJump(bytecode.BR, "nowhere")
	a.Emit(bytecode.RET)

	_, err := a.Finish()
	require.Error(t, err)
	var ce *vmerrors.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, vmerrors.UnresolvedLabel, ce.Kind)
}

func TestForwardAndBackwardJumps(t *testing.T) {
	a := asm.New()
	loop := a.NewLabel("loop")
	end := a.NewLabel("end")

	a.Label(loop)
	a.EmitJump(bytecode.BRFALSE, end) // forward
	a.EmitJump(bytecode.BR, loop)     // backward
	a.Label(end)
	a.Emit(bytecode.RET)

	p, err := a.Finish()
	require.NoError(t, err)

	// BRFALSE operand must point at RET's offset; BR operand must point back
	// at offset 0 (the loop label).
	_, arg, next := bytecode.DecodeInsn(p.Code, 0)
	assert.Equal(t, uint32(len(p.Code)-1), arg)
	_, arg2, _ := bytecode.DecodeInsn(p.Code, next)
	assert.Equal(t, uint32(0), arg2)
}

func TestDuplicateLabelFails(t *testing.T) {
	a := asm.New()
	a.Label("start")
	a.Emit(bytecode.RET)
	a.Label("start")
	_, err := a.Finish()
	require.Error(t, err)
}

func TestDedupConstants(t *testing.T) {
	a := asm.New()
	i1 := a.AddConstant(bytecode.Int(7))
	i2 := a.AddConstant(bytecode.Int(7))
	assert.Equal(t, i1, i2)
}

func TestImportOrdinalsInDeclarationOrder(t *testing.T) {
	a := asm.New()
	print := a.AddImport("print", 1, 0)
	rl := a.AddImport("rate_limit_allow", 3, 1)
	assert.Equal(t, uint16(0), print)
	assert.Equal(t, uint16(1), rl)
	// re-declaring returns the same ordinal
	assert.Equal(t, print, a.AddImport("print", 1, 0))
}
