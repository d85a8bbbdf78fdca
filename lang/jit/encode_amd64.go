//go:build amd64

package jit

// Minimal x86-64 instruction encoder. Every helper appends to and returns
// buf, the same accumulate-by-append shape the scm JIT in the retrieval
// pack uses for its own instruction bytes. All memory operands address
// [regDI + slot*8] using a 32-bit displacement unconditionally: RDI's
// low 3 bits (111) never collide with the SIB-required (100) or
// no-base-disp32 (101) encodings, so mod=10 + that base never needs a SIB
// byte regardless of slot.

func emitMovRegImm64(buf []byte, reg int, imm uint64) []byte {
	buf = append(buf, 0x48, byte(0xB8+reg))
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(imm>>(8*i)))
	}
	return buf
}

func emitMovRegMem(buf []byte, dstReg, baseReg, slot int) []byte {
	buf = append(buf, 0x48, 0x8B, modrm(2, dstReg, baseReg))
	return appendDisp32(buf, int32(slot*8))
}

func emitMovMemReg(buf []byte, baseReg, slot, srcReg int) []byte {
	buf = append(buf, 0x48, 0x89, modrm(2, srcReg, baseReg))
	return appendDisp32(buf, int32(slot*8))
}

func emitAddRegReg(buf []byte, dst, src int) []byte {
	return append(buf, 0x48, 0x01, modrm(3, src, dst))
}

func emitSubRegReg(buf []byte, dst, src int) []byte {
	return append(buf, 0x48, 0x29, modrm(3, src, dst))
}

func emitImulRegReg(buf []byte, dst, src int) []byte {
	return append(buf, 0x48, 0x0F, 0xAF, modrm(3, dst, src))
}

// emitCmpRegReg computes a - b and sets flags accordingly (CMP a, b).
func emitCmpRegReg(buf []byte, a, b int) []byte {
	return append(buf, 0x48, 0x39, modrm(3, b, a))
}

func emitTestRegReg(buf []byte, a, b int) []byte {
	return append(buf, 0x48, 0x85, modrm(3, b, a))
}

// emitSetccAL appends SETcc al; cc is the second opcode byte of the two-byte
// 0x0F Jcc/SETcc family (e.g. 0x94 for sete).
func emitSetccAL(buf []byte, cc byte) []byte {
	return append(buf, 0x0F, cc, modrm(3, 0, regAX))
}

func emitMovzxRaxAl(buf []byte) []byte {
	return append(buf, 0x48, 0x0F, 0xB6, modrm(3, regAX, regAX))
}

// emitJzRel32Placeholder appends "je rel32" with a zeroed displacement; the
// caller patches the 4 bytes once the jump target's offset is known.
func emitJzRel32Placeholder(buf []byte) []byte {
	return append(buf, 0x0F, 0x84, 0, 0, 0, 0)
}

func emitRet(buf []byte) []byte {
	return append(buf, 0xC3)
}

// modrm builds a ModR/M byte: mod in {0,1,2,3} (3 = register-direct), reg
// and rm each a 3-bit register encoding (0-7, no REX.R/X/B extension needed
// since every register this package uses is below 8).
func modrm(mod, reg, rm int) byte {
	return byte(mod<<6) | byte((reg&7)<<3) | byte(rm&7)
}

func appendDisp32(buf []byte, disp int32) []byte {
	u := uint32(disp)
	return append(buf, byte(u), byte(u>>8), byte(u>>16), byte(u>>24))
}
