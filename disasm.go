package chipz

import "fmt"

// DisassembledLine describes one decoded guest word, formatted for
// cmd/chipzdump's block browser and hex dump. Mirrors the teacher's
// debug_disasm_*.go family's DisassembledLine shape (address, raw bytes,
// mnemonic), trimmed to the fields a fixed-width 16-bit ISA actually needs
// - every chipz instruction is exactly one word wide, so there is no
// variable instruction size to track.
type DisassembledLine struct {
	Address  uint16
	Word     uint16
	Mnemonic string
}

// Disassemble decodes count words of mem starting at addr into mnemonic
// text, stopping early if it walks off the end of mem.
func Disassemble(mem []byte, addr uint16, count int) []DisassembledLine {
	lines := make([]DisassembledLine, 0, count)
	for i := 0; i < count; i++ {
		if int(addr)+1 >= len(mem) {
			break
		}
		word := uint16(mem[addr])<<8 | uint16(mem[addr+1])
		lines = append(lines, DisassembledLine{
			Address:  addr,
			Word:     word,
			Mnemonic: mnemonic(Decode(word), word),
		})
		addr += 2
	}
	return lines
}

// mnemonic renders d as CHIP-8 assembly text in the traditional
// "OP Vx, Vy, #imm" style. Grounded on
// original_source/core/chip-core/exec/disassembler/instr's mnemonic table
// for opcode names, using the canonical FX0A="LD Vx, K"/FX15="LD DT, Vx"
// assignment decoder.go's decodeGroupF decodes to.
func mnemonic(d DecodedInstr, word uint16) string {
	switch d.Kind {
	case KindNative:
		switch d.Imm {
		case 0x0E0:
			return "CLS"
		case 0x0EE:
			return "RET"
		default:
			return fmt.Sprintf("SYS  #%03X", d.Imm)
		}
	case KindJump:
		return fmt.Sprintf("JP   #%03X", d.Imm)
	case KindCall:
		return fmt.Sprintf("CALL #%03X", d.Imm)
	case KindSkipEqRegImm:
		return fmt.Sprintf("SE   V%X, #%02X", d.Vx, d.Imm)
	case KindSkipNeRegImm:
		return fmt.Sprintf("SNE  V%X, #%02X", d.Vx, d.Imm)
	case KindSkipEqRegReg:
		return fmt.Sprintf("SE   V%X, V%X", d.Vx, d.Vy)
	case KindLoadImm:
		return fmt.Sprintf("LD   V%X, #%02X", d.Vx, d.Imm)
	case KindAddImm:
		return fmt.Sprintf("ADD  V%X, #%02X", d.Vx, d.Imm)
	case KindMovReg:
		return fmt.Sprintf("LD   V%X, V%X", d.Vx, d.Vy)
	case KindRegOr:
		return fmt.Sprintf("OR   V%X, V%X", d.Vx, d.Vy)
	case KindRegAnd:
		return fmt.Sprintf("AND  V%X, V%X", d.Vx, d.Vy)
	case KindRegXor:
		return fmt.Sprintf("XOR  V%X, V%X", d.Vx, d.Vy)
	case KindRegAddYX:
		return fmt.Sprintf("ADD  V%X, V%X", d.Vx, d.Vy)
	case KindRegSubYX:
		return fmt.Sprintf("SUB  V%X, V%X", d.Vx, d.Vy)
	case KindRegShrXY:
		return fmt.Sprintf("SHR  V%X, V%X", d.Vx, d.Vy)
	case KindRegSubXY:
		return fmt.Sprintf("SUBN V%X, V%X", d.Vx, d.Vy)
	case KindRegShlXY:
		return fmt.Sprintf("SHL  V%X, V%X", d.Vx, d.Vy)
	case KindSkipNeRegReg:
		return fmt.Sprintf("SNE  V%X, V%X", d.Vx, d.Vy)
	case KindLoadImmI:
		return fmt.Sprintf("LD   IN, #%03X", d.Imm)
	case KindLongJump:
		return fmt.Sprintf("JP   V0, #%03X", d.Imm)
	case KindRandom:
		return fmt.Sprintf("RND  V%X, #%02X", d.Vx, d.Imm)
	case KindDraw:
		return fmt.Sprintf("DRW  V%X, V%X, #%X", d.Vx, d.Vy, d.Imm)
	case KindSkipKeyDown:
		return fmt.Sprintf("SKP  V%X", d.Vx)
	case KindSkipKeyUp:
		return fmt.Sprintf("SKNP V%X", d.Vx)
	case KindLoadRegDelay:
		return fmt.Sprintf("LD   V%X, DT", d.Vx)
	case KindWaitKeyPress:
		return fmt.Sprintf("LD   V%X, K", d.Vx)
	case KindLoadDelayReg:
		return fmt.Sprintf("LD   DT, V%X", d.Vx)
	case KindSetSoundReg:
		return fmt.Sprintf("LD   ST, V%X", d.Vx)
	case KindIAddReg:
		return fmt.Sprintf("ADD  IN, V%X", d.Vx)
	case KindLoadFont:
		return fmt.Sprintf("LD   F, V%X", d.Vx)
	case KindBCD:
		return fmt.Sprintf("LD   B, V%X", d.Vx)
	case KindRangeWrite:
		return fmt.Sprintf("LD   [IN], V%X", d.Vx)
	case KindRangeRead:
		return fmt.Sprintf("LD   V%X, [IN]", d.Vx)
	default:
		return fmt.Sprintf("???  #%04X", word)
	}
}
