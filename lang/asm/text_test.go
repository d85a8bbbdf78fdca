package asm_test

import (
	"testing"

	"github.com/mna/vmforge/lang/asm"
	"github.com/mna/vmforge/lang/bytecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rateLimitText = `.data
	const c0 3
	string c1 "x-vm"
	string c2 "allowed"
	import rate_limit_allow 3 1
	locals 1
	maxstack 4
.code
	ldc 0
	stloc 0
.label L1
	ldloc 0
	ret
`

func TestParseFormatRoundTrip(t *testing.T) {
	p, err := asm.Parse([]byte(rateLimitText))
	require.NoError(t, err)
	assert.Equal(t, []bytecode.Value{bytecode.Int(3), bytecode.Str("x-vm"), bytecode.Str("allowed")}, p.Constants)
	require.Len(t, p.Imports, 1)
	assert.Equal(t, "rate_limit_allow", p.Imports[0].Name)

	out, err := asm.Format(p)
	require.NoError(t, err)

	p2, err := asm.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, p.Constants, p2.Constants)
	assert.Equal(t, p.Imports, p2.Imports)
	assert.Equal(t, p.Code, p2.Code)
	assert.Equal(t, p.NumLocals, p2.NumLocals)
}

func TestArithmeticSample(t *testing.T) {
	// Scenario 2 of spec.md §8: ldc 2; ldc 3; add; ret with constants [Int(2), Int(3)].
	text := `.data
	const c0 2
	const c1 3
	locals 0
	maxstack 2
.code
	ldc 0
	ldc 1
	add
	ret
`
	p, err := asm.Parse([]byte(text))
	require.NoError(t, err)
	assert.Equal(t, bytecode.Int(2), p.Constants[0])
	assert.Equal(t, bytecode.Int(3), p.Constants[1])
}
