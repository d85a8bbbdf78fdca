package asm

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/mna/vmforge/lang/bytecode"
)

// Format renders p in the human-readable assembler text form: a .data
// section listing constants and imports, and a .code section listing
// instructions with jump targets resolved back to .label names — the
// inverse of Parse. Round-tripping Format then Parse reproduces an equal
// Program (spec.md §8, "disassemble then reassemble").
func Format(p *bytecode.Program) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(".data\n")
	for i, c := range p.Constants {
		switch c := c.(type) {
		case bytecode.Int:
			fmt.Fprintf(&buf, "\tconst c%d %d\n", i, int64(c))
		case bytecode.Float:
			fmt.Fprintf(&buf, "\tconst c%d %s\n", i, formatFloat(float64(c)))
		case bytecode.Bool:
			fmt.Fprintf(&buf, "\tconst c%d %t\n", i, bool(c))
		case bytecode.Str:
			fmt.Fprintf(&buf, "\tstring c%d %q\n", i, string(c))
		default:
			if c == bytecode.Null {
				fmt.Fprintf(&buf, "\tconst c%d null\n", i)
				continue
			}
			return nil, fmt.Errorf("asm: unsupported constant type %T", c)
		}
	}
	for _, im := range p.Imports {
		fmt.Fprintf(&buf, "\timport %s %d %d\n", im.Name, im.Arity, im.Returns)
	}
	fmt.Fprintf(&buf, "\tlocals %d\n", p.NumLocals)
	fmt.Fprintf(&buf, "\tmaxstack %d\n", p.MaxStack)

	// Compute offset -> label for every jump target so the .code section
	// can print symbolic targets instead of raw byte offsets.
	targets := map[uint32]string{}
	var n int
	walk(p.Code, func(off uint32, op bytecode.Opcode, arg uint32) {
		if bytecode.IsJump(op) {
			if _, ok := targets[arg]; !ok {
				n++
				targets[arg] = fmt.Sprintf("L%d", n)
			}
		}
	})

	buf.WriteString(".code\n")
	walk(p.Code, func(off uint32, op bytecode.Opcode, arg uint32) {
		if lbl, ok := targets[off]; ok {
			fmt.Fprintf(&buf, ".label %s\n", lbl)
		}
		switch op.Shape() {
		case bytecode.NoOperand:
			fmt.Fprintf(&buf, "\t%s\n", op)
		case bytecode.U32Operand:
			if bytecode.IsJump(op) {
				fmt.Fprintf(&buf, "\t%s %s\n", op, targets[arg])
			} else {
				fmt.Fprintf(&buf, "\t%s %d\n", op, arg)
			}
		case bytecode.U8Operand:
			fmt.Fprintf(&buf, "\t%s %d\n", op, arg)
		case bytecode.CallOperand:
			ordinal, argc := bytecode.CallArgs(arg)
			fmt.Fprintf(&buf, "\t%s %d %d\n", op, ordinal, argc)
		}
	})
	return buf.Bytes(), nil
}

func walk(code []byte, fn func(off uint32, op bytecode.Opcode, arg uint32)) {
	var off uint32
	for off < uint32(len(code)) {
		op, arg, next := bytecode.DecodeInsn(code, off)
		fn(off, op, arg)
		off = next
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Parse reads the text assembler form produced by Format (or hand-written
// for tests) and builds a Program using Assembler, so the same label
// back-patching and UnresolvedLabel behavior applies.
func Parse(text []byte) (*bytecode.Program, error) {
	sc := bufio.NewScanner(bytes.NewReader(text))
	a := New()

	section := ""
	var constNames []string // index -> name, in declaration order
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case ".data", ".code":
			section = fields[0]
			continue
		case ".label":
			if len(fields) != 2 {
				return nil, fmt.Errorf("asm: line %d: .label requires a name", lineNo)
			}
			a.Label(fields[1])
			continue
		}

		switch section {
		case ".data":
			if err := parseDataLine(a, fields, &constNames, lineNo); err != nil {
				return nil, err
			}
		case ".code":
			if err := parseCodeLine(a, fields, lineNo); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("asm: line %d: instruction outside of a section", lineNo)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return a.Finish()
}

func parseDataLine(a *Assembler, fields []string, constNames *[]string, lineNo int) error {
	switch fields[0] {
	case "const":
		if len(fields) != 3 {
			return fmt.Errorf("asm: line %d: const requires a name and a value", lineNo)
		}
		*constNames = append(*constNames, fields[1])
		v, err := parseConstValue(fields[2])
		if err != nil {
			return fmt.Errorf("asm: line %d: %w", lineNo, err)
		}
		a.AddConstant(v)
	case "string":
		if len(fields) < 3 {
			return fmt.Errorf("asm: line %d: string requires a name and a quoted value", lineNo)
		}
		*constNames = append(*constNames, fields[1])
		raw := strings.Join(fields[2:], " ")
		s, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("asm: line %d: invalid string literal: %w", lineNo, err)
		}
		a.AddConstant(bytecode.Str(s))
	case "import":
		if len(fields) != 4 {
			return fmt.Errorf("asm: line %d: import requires name, arity, returns", lineNo)
		}
		arity, err1 := strconv.Atoi(fields[2])
		returns, err2 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("asm: line %d: invalid import arity/returns", lineNo)
		}
		a.AddImport(fields[1], uint8(arity), uint8(returns))
	case "locals":
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("asm: line %d: invalid locals count: %w", lineNo, err)
		}
		a.SetNumLocals(n)
	case "maxstack":
		// informational only; Assembler recomputes MaxStack from emitted code.
	default:
		return fmt.Errorf("asm: line %d: unknown .data directive %q", lineNo, fields[0])
	}
	return nil
}

func parseConstValue(s string) (bytecode.Value, error) {
	switch s {
	case "null":
		return bytecode.Null, nil
	case "true":
		return bytecode.Bool(true), nil
	case "false":
		return bytecode.Bool(false), nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return bytecode.Int(i), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return bytecode.Float(f), nil
	}
	return nil, fmt.Errorf("invalid constant literal: %s", s)
}

func parseCodeLine(a *Assembler, fields []string, lineNo int) error {
	op, ok := bytecode.Lookup(strings.ToLower(fields[0]))
	if !ok {
		return fmt.Errorf("asm: line %d: unknown opcode %q", lineNo, fields[0])
	}
	switch op.Shape() {
	case bytecode.NoOperand:
		a.Emit(op)
	case bytecode.U32Operand:
		if bytecode.IsJump(op) {
			if len(fields) != 2 {
				return fmt.Errorf("asm: line %d: %s requires a label", lineNo, op)
			}
			a.EmitJump(op, fields[1])
		} else {
			if len(fields) != 2 {
				return fmt.Errorf("asm: line %d: %s requires an operand", lineNo, op)
			}
			n, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return fmt.Errorf("asm: line %d: invalid operand: %w", lineNo, err)
			}
			a.EmitU32(op, uint32(n))
		}
	case bytecode.U8Operand:
		if len(fields) != 2 {
			return fmt.Errorf("asm: line %d: %s requires an operand", lineNo, op)
		}
		n, err := strconv.ParseUint(fields[1], 10, 8)
		if err != nil {
			return fmt.Errorf("asm: line %d: invalid operand: %w", lineNo, err)
		}
		a.EmitU8(op, uint8(n))
	case bytecode.CallOperand:
		if len(fields) != 3 {
			return fmt.Errorf("asm: line %d: call requires ordinal and argc", lineNo)
		}
		ordinal, err1 := strconv.ParseUint(fields[1], 10, 16)
		argc, err2 := strconv.ParseUint(fields[2], 10, 8)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("asm: line %d: invalid call operands", lineNo)
		}
		a.EmitCall(uint16(ordinal), uint8(argc))
	}
	return nil
}
