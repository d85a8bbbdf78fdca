package vmbc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/vmerrors"
)

func sampleProgram() *bytecode.Program {
	return &bytecode.Program{
		Code: []byte{
			byte(bytecode.LDC), 0, 0, 0, 0,
			byte(bytecode.RET),
		},
		Constants: []bytecode.Value{
			bytecode.Int(42),
			bytecode.Float(3.5),
			bytecode.Bool(true),
			bytecode.Str("hi"),
			bytecode.Null,
		},
		Imports: []bytecode.Import{
			{Ordinal: 0, Name: "print", Arity: 1, Returns: 0},
			{Ordinal: 1, Name: "len", Arity: 1, Returns: 1},
		},
		NumLocals: 3,
		MaxStack:  4,
		Debug: &bytecode.DebugInfo{
			Lines:     []bytecode.LineEntry{{Offset: 0, Line: 1}, {Offset: 5, Line: 2}},
			Functions: []bytecode.FunctionEntry{{Offset: 0, Name: "main"}},
			Locals:    []bytecode.LocalEntry{{FuncOffset: 0, Index: 0, Name: "x"}},
			Source:    map[uint32]string{0: "let x = 42;"},
			Frames:    []bytecode.FrameRange{{Enter: 0, Exit: 5, Name: "main"}},
		},
		EntryOffset: 0,
	}
}

func TestRoundTrip(t *testing.T) {
	p := sampleProgram()
	data, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, p.Code, got.Code)
	assert.Equal(t, p.Constants, got.Constants)
	assert.Equal(t, p.Imports, got.Imports)
	assert.Equal(t, p.NumLocals, got.NumLocals)
	assert.Equal(t, p.MaxStack, got.MaxStack)
	assert.Equal(t, p.EntryOffset, got.EntryOffset)
	require.NotNil(t, got.Debug)
	assert.Equal(t, p.Debug.Lines, got.Debug.Lines)
	assert.Equal(t, p.Debug.Functions, got.Debug.Functions)
	assert.Equal(t, p.Debug.Locals, got.Debug.Locals)
	assert.Equal(t, p.Debug.Source, got.Debug.Source)
	assert.Equal(t, p.Debug.Frames, got.Debug.Frames)
}

func TestRoundTripNoDebug(t *testing.T) {
	p := sampleProgram()
	p.Debug = nil

	data, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Nil(t, got.Debug)
	assert.Equal(t, p.Constants, got.Constants)
}

func TestRoundTripEmptyProgram(t *testing.T) {
	p := &bytecode.Program{Code: []byte{byte(bytecode.RET)}}
	data, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, p.Code, got.Code)
	assert.Empty(t, got.Constants)
	assert.Empty(t, got.Imports)
	assert.Nil(t, got.Debug)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	p := sampleProgram()
	data, err := Encode(p)
	require.NoError(t, err)
	data[0] = 'X'

	_, err = Decode(data)
	require.Error(t, err)
	var loadErr *vmerrors.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, vmerrors.BadMagic, loadErr.Kind)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	p := sampleProgram()
	data, err := Encode(p)
	require.NoError(t, err)
	data[4] = 99
	data[5] = 0

	_, err = Decode(data)
	require.Error(t, err)
	var loadErr *vmerrors.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, vmerrors.UnsupportedVersion, loadErr.Kind)
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{'V', 'M', 'B'})
	require.Error(t, err)
	var loadErr *vmerrors.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, vmerrors.Truncated, loadErr.Kind)
}

func TestDecodeRejectsTruncatedSection(t *testing.T) {
	p := sampleProgram()
	data, err := Encode(p)
	require.NoError(t, err)

	_, err = Decode(data[:len(data)-1])
	require.Error(t, err)
	var loadErr *vmerrors.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, vmerrors.Truncated, loadErr.Kind)
}

func TestDecodeRejectsOutOfRangeEntry(t *testing.T) {
	p := sampleProgram()
	p.EntryOffset = uint32(len(p.Code)) + 100
	data, err := Encode(p)
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	var loadErr *vmerrors.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, vmerrors.OutOfRangeIndex, loadErr.Kind)
}
