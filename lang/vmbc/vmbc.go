// Package vmbc implements the VMBC wire format: the binary encoding a
// *bytecode.Program is persisted to and loaded from. It is the on-disk and
// over-the-wire counterpart of lang/bytecode's in-memory shapes, in the same
// spirit as the teacher's human-readable assembly form in lang/compiler/asm.go
// but binary and meant for a compiled artifact rather than a test fixture.
//
// Layout (all multi-byte integers little-endian, per lang/bytecode/encode.go):
//
//	magic      [4]byte  "VMBC"
//	version    uint16
//	entry      uint32   Program.EntryOffset
//	numLocals  uint32   Program.NumLocals
//	maxStack   uint32   Program.MaxStack
//	constants  section
//	code       section
//	imports    section
//	debug      section  (a single presence byte 0 if Program.Debug == nil)
//
// A section is a uint32 byte length followed by exactly that many bytes.
// Decode reads the length first and slices the remainder before parsing the
// contents, so a truncated file is always caught as a length-prefix or
// slice-bounds failure before any field inside the section is interpreted.
package vmbc

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"

	"github.com/mna/vmforge/lang/bytecode"
	"github.com/mna/vmforge/lang/vmerrors"
)

// Magic identifies a VMBC file; it is checked byte-for-byte before anything
// else is read.
var Magic = [4]byte{'V', 'M', 'B', 'C'}

// Version is the only wire version Decode currently accepts.
const Version uint16 = 1

const headerLen = 4 + 2 + 4 + 4 + 4 // magic + version + entry + numLocals + maxStack

// value tags for the constant table encoding.
const (
	tagNull byte = iota
	tagInt
	tagFloat
	tagBool
	tagStr
)

// Encode serializes p into the VMBC wire format.
func Encode(p *bytecode.Program) ([]byte, error) {
	buf := make([]byte, 0, headerLen+len(p.Code)+64)
	buf = append(buf, Magic[:]...)
	buf = bytecode.PutU16(buf, Version)
	buf = bytecode.PutU32(buf, p.EntryOffset)
	buf = bytecode.PutU32(buf, uint32(p.NumLocals))
	buf = bytecode.PutU32(buf, uint32(p.MaxStack))

	buf = appendSection(buf, encodeConstants(p.Constants))
	buf = appendSection(buf, p.Code)
	buf = appendSection(buf, encodeImports(p.Imports))
	buf = appendSection(buf, encodeDebug(p.Debug))

	return buf, nil
}

// Decode parses the VMBC wire format produced by Encode, rejecting an
// unrecognized magic, an unsupported version, or any section whose declared
// length runs past the end of data, before constructing the Program.
func Decode(data []byte) (*bytecode.Program, error) {
	if len(data) < headerLen {
		return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "header"}
	}
	if [4]byte(data[0:4]) != Magic {
		return nil, &vmerrors.LoadError{Kind: vmerrors.BadMagic}
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != Version {
		return nil, &vmerrors.LoadError{Kind: vmerrors.UnsupportedVersion, Detail: strconv.Itoa(int(version))}
	}
	entry := bytecode.U32(data, 6)
	numLocals := bytecode.U32(data, 10)
	maxStack := bytecode.U32(data, 14)

	off := uint32(headerLen)

	constSec, off, err := readSection(data, off)
	if err != nil {
		return nil, err
	}
	constants, err := decodeConstants(constSec)
	if err != nil {
		return nil, err
	}

	codeSec, off, err := readSection(data, off)
	if err != nil {
		return nil, err
	}
	code := append([]byte(nil), codeSec...)

	importSec, off, err := readSection(data, off)
	if err != nil {
		return nil, err
	}
	imports, err := decodeImports(importSec)
	if err != nil {
		return nil, err
	}

	debugSec, _, err := readSection(data, off)
	if err != nil {
		return nil, err
	}
	debug, err := decodeDebug(debugSec)
	if err != nil {
		return nil, err
	}

	if entry > uint32(len(code)) {
		return nil, &vmerrors.LoadError{Kind: vmerrors.OutOfRangeIndex, Detail: "entry offset"}
	}

	return &bytecode.Program{
		Code:        code,
		Constants:   constants,
		Imports:     imports,
		NumLocals:   int(numLocals),
		MaxStack:    int(maxStack),
		Debug:       debug,
		EntryOffset: entry,
	}, nil
}

// appendSection appends a uint32 length prefix followed by body.
func appendSection(buf []byte, body []byte) []byte {
	buf = bytecode.PutU32(buf, uint32(len(body)))
	return append(buf, body...)
}

// readSection reads the length-prefixed section starting at off, returning
// its body and the offset of the following section.
func readSection(data []byte, off uint32) (body []byte, next uint32, err error) {
	if uint64(off)+4 > uint64(len(data)) {
		return nil, 0, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "section length"}
	}
	n := bytecode.U32(data, off)
	start := off + 4
	end := uint64(start) + uint64(n)
	if end > uint64(len(data)) {
		return nil, 0, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "section body"}
	}
	return data[start:end], uint32(end), nil
}

func encodeConstants(consts []bytecode.Value) []byte {
	var buf []byte
	buf = bytecode.PutU32(buf, uint32(len(consts)))
	for _, c := range consts {
		switch v := c.(type) {
		case nil:
			buf = append(buf, tagNull)
		case bytecode.Int:
			buf = append(buf, tagInt)
			buf = bytecode.PutU32(buf, uint32(v))
			buf = bytecode.PutU32(buf, uint32(uint64(v)>>32))
		case bytecode.Float:
			buf = append(buf, tagFloat)
			bits := math.Float64bits(float64(v))
			buf = bytecode.PutU32(buf, uint32(bits))
			buf = bytecode.PutU32(buf, uint32(bits>>32))
		case bytecode.Bool:
			buf = append(buf, tagBool)
			if v {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case bytecode.Str:
			buf = append(buf, tagStr)
			buf = bytecode.PutU32(buf, uint32(len(v)))
			buf = append(buf, v...)
		default:
			// Null is a nullType value, not the untyped nil interface; match it
			// structurally since bytecode.Null is unexported as a concrete type.
			buf = append(buf, tagNull)
		}
	}
	return buf
}

func decodeConstants(body []byte) ([]bytecode.Value, error) {
	if len(body) < 4 {
		return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "constants count"}
	}
	n := bytecode.U32(body, 0)
	off := uint32(4)
	consts := make([]bytecode.Value, 0, n)
	for i := uint32(0); i < n; i++ {
		if off >= uint32(len(body)) {
			return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "constant tag"}
		}
		tag := body[off]
		off++
		switch tag {
		case tagNull:
			consts = append(consts, bytecode.Null)
		case tagInt:
			if off+8 > uint32(len(body)) {
				return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "int constant"}
			}
			lo := uint64(bytecode.U32(body, off))
			hi := uint64(bytecode.U32(body, off+4))
			consts = append(consts, bytecode.Int(int64(lo|hi<<32)))
			off += 8
		case tagFloat:
			if off+8 > uint32(len(body)) {
				return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "float constant"}
			}
			lo := uint64(bytecode.U32(body, off))
			hi := uint64(bytecode.U32(body, off+4))
			consts = append(consts, bytecode.Float(math.Float64frombits(lo|hi<<32)))
			off += 8
		case tagBool:
			if off >= uint32(len(body)) {
				return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "bool constant"}
			}
			consts = append(consts, bytecode.Bool(body[off] != 0))
			off++
		case tagStr:
			if off+4 > uint32(len(body)) {
				return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "str constant length"}
			}
			slen := bytecode.U32(body, off)
			off += 4
			if uint64(off)+uint64(slen) > uint64(len(body)) {
				return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "str constant body"}
			}
			consts = append(consts, bytecode.Str(body[off:off+slen]))
			off += slen
		default:
			return nil, &vmerrors.LoadError{Kind: vmerrors.OutOfRangeIndex, Detail: "constant tag"}
		}
	}
	return consts, nil
}

func encodeImports(imports []bytecode.Import) []byte {
	var buf []byte
	buf = bytecode.PutU32(buf, uint32(len(imports)))
	for _, im := range imports {
		buf = bytecode.PutU16(buf, im.Ordinal)
		buf = append(buf, im.Arity, im.Returns)
		buf = bytecode.PutU16(buf, uint16(len(im.Name)))
		buf = append(buf, im.Name...)
	}
	return buf
}

func decodeImports(body []byte) ([]bytecode.Import, error) {
	if len(body) < 4 {
		return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "imports count"}
	}
	n := bytecode.U32(body, 0)
	off := uint32(4)
	imports := make([]bytecode.Import, 0, n)
	for i := uint32(0); i < n; i++ {
		if off+6 > uint32(len(body)) {
			return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "import header"}
		}
		ordinal := bytecode.U16(body, off)
		arity := body[off+2]
		returns := body[off+3]
		nameLen := bytecode.U16(body, off+4)
		off += 6
		if uint64(off)+uint64(nameLen) > uint64(len(body)) {
			return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "import name"}
		}
		name := string(body[off : off+uint32(nameLen)])
		off += uint32(nameLen)
		imports = append(imports, bytecode.Import{
			Ordinal: ordinal,
			Name:    name,
			Arity:   arity,
			Returns: returns,
		})
	}
	return imports, nil
}

// encodeDebug encodes nil as a one-byte section holding presence byte 0.
func encodeDebug(d *bytecode.DebugInfo) []byte {
	if d == nil {
		return []byte{0}
	}
	buf := []byte{1}
	buf = bytecode.PutU32(buf, uint32(len(d.Lines)))
	for _, l := range d.Lines {
		buf = bytecode.PutU32(buf, l.Offset)
		buf = bytecode.PutU32(buf, l.Line)
	}
	buf = bytecode.PutU32(buf, uint32(len(d.Functions)))
	for _, f := range d.Functions {
		buf = bytecode.PutU32(buf, f.Offset)
		buf = putString(buf, f.Name)
	}
	buf = bytecode.PutU32(buf, uint32(len(d.Locals)))
	for _, l := range d.Locals {
		buf = bytecode.PutU32(buf, l.FuncOffset)
		buf = append(buf, l.Index)
		buf = putString(buf, l.Name)
	}
	buf = bytecode.PutU32(buf, uint32(len(d.Source)))
	// Source is a map; iterate its keys in a deterministic order so Encode is
	// reproducible (byte-identical output for an unchanged Program).
	keys := make([]uint32, 0, len(d.Source))
	for k := range d.Source {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		buf = bytecode.PutU32(buf, k)
		buf = putString(buf, d.Source[k])
	}
	buf = bytecode.PutU32(buf, uint32(len(d.Frames)))
	for _, f := range d.Frames {
		buf = bytecode.PutU32(buf, f.Enter)
		buf = bytecode.PutU32(buf, f.Exit)
		buf = putString(buf, f.Name)
	}
	return buf
}

func decodeDebug(body []byte) (*bytecode.DebugInfo, error) {
	if len(body) == 0 {
		return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "debug presence"}
	}
	if body[0] == 0 {
		return nil, nil
	}
	off := uint32(1)
	d := &bytecode.DebugInfo{}

	n, off, err := readU32(body, off, "debug lines count")
	if err != nil {
		return nil, err
	}
	d.Lines = make([]bytecode.LineEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var e bytecode.LineEntry
		e.Offset, off, err = readU32(body, off, "line offset")
		if err != nil {
			return nil, err
		}
		e.Line, off, err = readU32(body, off, "line number")
		if err != nil {
			return nil, err
		}
		d.Lines = append(d.Lines, e)
	}

	n, off, err = readU32(body, off, "debug functions count")
	if err != nil {
		return nil, err
	}
	d.Functions = make([]bytecode.FunctionEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var e bytecode.FunctionEntry
		e.Offset, off, err = readU32(body, off, "function offset")
		if err != nil {
			return nil, err
		}
		e.Name, off, err = readString(body, off, "function name")
		if err != nil {
			return nil, err
		}
		d.Functions = append(d.Functions, e)
	}

	n, off, err = readU32(body, off, "debug locals count")
	if err != nil {
		return nil, err
	}
	d.Locals = make([]bytecode.LocalEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var e bytecode.LocalEntry
		e.FuncOffset, off, err = readU32(body, off, "local func offset")
		if err != nil {
			return nil, err
		}
		if off >= uint32(len(body)) {
			return nil, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: "local index"}
		}
		e.Index = body[off]
		off++
		e.Name, off, err = readString(body, off, "local name")
		if err != nil {
			return nil, err
		}
		d.Locals = append(d.Locals, e)
	}

	n, off, err = readU32(body, off, "debug source count")
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.Source = make(map[uint32]string, n)
	}
	for i := uint32(0); i < n; i++ {
		var key uint32
		key, off, err = readU32(body, off, "source key")
		if err != nil {
			return nil, err
		}
		var src string
		src, off, err = readString(body, off, "source body")
		if err != nil {
			return nil, err
		}
		d.Source[key] = src
	}

	n, off, err = readU32(body, off, "debug frames count")
	if err != nil {
		return nil, err
	}
	d.Frames = make([]bytecode.FrameRange, 0, n)
	for i := uint32(0); i < n; i++ {
		var fr bytecode.FrameRange
		fr.Enter, off, err = readU32(body, off, "frame enter")
		if err != nil {
			return nil, err
		}
		fr.Exit, off, err = readU32(body, off, "frame exit")
		if err != nil {
			return nil, err
		}
		fr.Name, off, err = readString(body, off, "frame name")
		if err != nil {
			return nil, err
		}
		d.Frames = append(d.Frames, fr)
	}

	return d, nil
}

func putString(buf []byte, s string) []byte {
	buf = bytecode.PutU32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readU32(body []byte, off uint32, what string) (uint32, uint32, error) {
	if uint64(off)+4 > uint64(len(body)) {
		return 0, 0, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: what}
	}
	return bytecode.U32(body, off), off + 4, nil
}

func readString(body []byte, off uint32, what string) (string, uint32, error) {
	n, off, err := readU32(body, off, what+" length")
	if err != nil {
		return "", 0, err
	}
	if uint64(off)+uint64(n) > uint64(len(body)) {
		return "", 0, &vmerrors.LoadError{Kind: vmerrors.Truncated, Detail: what}
	}
	return string(body[off : off+n]), off + n, nil
}
