package chipz

// InstructionKind classifies a guest word into one of the ~33 CHIP-8-family
// opcodes (plus Invalid). Grounded on
// original_source/core/chip-core/exec/disassembler/instr/instruction.hpp's
// InstructionType and original_source/core/jpu/jit/instruction_info.cpp's
// compute_type dispatch — the two-level switch on top nibble, then bottom
// nibble (group 0x8) or low byte (groups 0xE, 0xF) is carried over exactly.
type InstructionKind uint16

const (
	KindNative        InstructionKind = iota // 0x0NNN / 00E0 (clear) / 00EE (return)
	KindJump                                 // 1NNN
	KindCall                                 // 2NNN
	KindSkipEqRegImm                         // 3XNN
	KindSkipNeRegImm                         // 4XNN
	KindSkipEqRegReg                         // 5XY0
	KindLoadImm                              // 6XNN
	KindAddImm                               // 7XNN
	KindMovReg                               // 8XY0
	KindRegOr                                // 8XY1
	KindRegAnd                               // 8XY2
	KindRegXor                               // 8XY3
	KindRegAddYX                             // 8XY4
	KindRegSubYX                             // 8XY5
	KindRegShrXY                             // 8XY6
	KindRegSubXY                             // 8XY7
	KindRegShlXY                             // 8XYE
	KindSkipNeRegReg                         // 9XY0
	KindLoadImmI                             // ANNN
	KindLongJump                             // BNNN
	KindRandom                               // CXNN
	KindDraw                                 // DXYN
	KindSkipKeyDown                          // EX9E
	KindSkipKeyUp                            // EXA1
	KindLoadRegDelay                         // FX07
	KindWaitKeyPress                         // FX0A
	KindLoadDelayReg                         // FX15
	KindSetSoundReg                          // FX18
	KindIAddReg                              // FX1E
	KindLoadFont                             // FX29
	KindBCD                                  // FX33
	KindRangeWrite                           // FX55
	KindRangeRead                            // FX65
	KindInvalid
)

// DecodedInstr is the fixed-field result of decoding one guest word: a kind
// tag plus whichever of vx/vy/imm that kind uses. Fields unused by a given
// kind are left zero; callers consult only the fields instruction_info.cpp
// documents as populated for that kind.
type DecodedInstr struct {
	Kind InstructionKind
	Vx   uint8
	Vy   uint8
	Imm  uint16
}

// Decode classifies a 16-bit guest word. Unknown encodings (an 0x8 group
// fourth nibble outside {0,1,2,3,4,5,6,7,E}, an 0xE low byte other than
// 0x9E/0xA1, or an 0xF low byte outside the table below) yield KindInvalid.
func Decode(word uint16) DecodedInstr {
	switch word & 0xF000 >> 12 {
	case 0x0:
		return DecodedInstr{Kind: KindNative, Imm: word & 0x0FFF}
	case 0x1:
		return DecodedInstr{Kind: KindJump, Imm: word & 0x0FFF}
	case 0x2:
		return DecodedInstr{Kind: KindCall, Imm: word & 0x0FFF}
	case 0x3:
		return DecodedInstr{Kind: KindSkipEqRegImm, Vx: vxOf(word), Imm: word & 0x00FF}
	case 0x4:
		return DecodedInstr{Kind: KindSkipNeRegImm, Vx: vxOf(word), Imm: word & 0x00FF}
	case 0x5:
		return DecodedInstr{Kind: KindSkipEqRegReg, Vx: vxOf(word), Vy: vyOf(word)}
	case 0x6:
		return DecodedInstr{Kind: KindLoadImm, Vx: vxOf(word), Imm: word & 0x00FF}
	case 0x7:
		return DecodedInstr{Kind: KindAddImm, Vx: vxOf(word), Imm: word & 0x00FF}
	case 0x8:
		return decodeGroup8(word)
	case 0x9:
		return DecodedInstr{Kind: KindSkipNeRegReg, Vx: vxOf(word), Vy: vyOf(word)}
	case 0xA:
		return DecodedInstr{Kind: KindLoadImmI, Imm: word & 0x0FFF}
	case 0xB:
		return DecodedInstr{Kind: KindLongJump, Imm: word & 0x0FFF}
	case 0xC:
		return DecodedInstr{Kind: KindRandom, Vx: vxOf(word), Imm: word & 0x00FF}
	case 0xD:
		return DecodedInstr{Kind: KindDraw, Vx: vxOf(word), Vy: vyOf(word), Imm: word & 0x000F}
	case 0xE:
		return decodeGroupE(word)
	case 0xF:
		return decodeGroupF(word)
	default:
		return DecodedInstr{Kind: KindInvalid}
	}
}

func vxOf(word uint16) uint8 { return uint8(word & 0x0F00 >> 8) }
func vyOf(word uint16) uint8 { return uint8(word & 0x00F0 >> 4) }

func decodeGroup8(word uint16) DecodedInstr {
	vx, vy := vxOf(word), vyOf(word)
	switch word & 0x000F {
	case 0x0:
		return DecodedInstr{Kind: KindMovReg, Vx: vx, Vy: vy}
	case 0x1:
		return DecodedInstr{Kind: KindRegOr, Vx: vx, Vy: vy}
	case 0x2:
		return DecodedInstr{Kind: KindRegAnd, Vx: vx, Vy: vy}
	case 0x3:
		return DecodedInstr{Kind: KindRegXor, Vx: vx, Vy: vy}
	case 0x4:
		return DecodedInstr{Kind: KindRegAddYX, Vx: vx, Vy: vy}
	case 0x5:
		return DecodedInstr{Kind: KindRegSubYX, Vx: vx, Vy: vy}
	case 0x6:
		return DecodedInstr{Kind: KindRegShrXY, Vx: vx, Vy: vy}
	case 0x7:
		return DecodedInstr{Kind: KindRegSubXY, Vx: vx, Vy: vy}
	case 0xE:
		return DecodedInstr{Kind: KindRegShlXY, Vx: vx, Vy: vy}
	default:
		return DecodedInstr{Kind: KindInvalid}
	}
}

func decodeGroupE(word uint16) DecodedInstr {
	vx := vxOf(word)
	switch word & 0x00FF {
	case 0x9E:
		return DecodedInstr{Kind: KindSkipKeyDown, Vx: vx}
	case 0xA1:
		return DecodedInstr{Kind: KindSkipKeyUp, Vx: vx}
	default:
		return DecodedInstr{Kind: KindInvalid}
	}
}

// decodeGroupF follows the canonical CHIP-8 timer/keypad assignment from
// original_source/core/jpu/jit/instruction_info.hpp (WaitKeyPress = FX0A,
// LoadDelayReg = FX15) rather than instruction_info.cpp's compute_type
// switch, which swaps the two against its own header.
func decodeGroupF(word uint16) DecodedInstr {
	vx := vxOf(word)
	switch word & 0x00FF {
	case 0x07:
		return DecodedInstr{Kind: KindLoadRegDelay, Vx: vx}
	case 0x0A:
		return DecodedInstr{Kind: KindWaitKeyPress, Vx: vx}
	case 0x15:
		return DecodedInstr{Kind: KindLoadDelayReg, Vx: vx}
	case 0x18:
		return DecodedInstr{Kind: KindSetSoundReg, Vx: vx}
	case 0x1E:
		return DecodedInstr{Kind: KindIAddReg, Vx: vx}
	case 0x29:
		return DecodedInstr{Kind: KindLoadFont, Vx: vx}
	case 0x33:
		return DecodedInstr{Kind: KindBCD, Vx: vx}
	case 0x55:
		return DecodedInstr{Kind: KindRangeWrite, Vx: vx}
	case 0x65:
		return DecodedInstr{Kind: KindRangeRead, Vx: vx}
	default:
		return DecodedInstr{Kind: KindInvalid}
	}
}

// IsSkip reports whether d conditionally causes the guest PC to advance an
// extra two bytes, skipping the following instruction.
func (d DecodedInstr) IsSkip() bool {
	switch d.Kind {
	case KindSkipEqRegImm, KindSkipNeRegImm, KindSkipEqRegReg, KindSkipNeRegReg,
		KindSkipKeyDown, KindSkipKeyUp:
		return true
	default:
		return false
	}
}

// ChangesControlFlow reports whether d can redirect the guest PC outside of
// straight-line fall-through: jumps, calls, returns, and skips.
func (d DecodedInstr) ChangesControlFlow() bool {
	switch d.Kind {
	case KindJump, KindCall, KindLongJump,
		KindSkipEqRegImm, KindSkipNeRegImm, KindSkipEqRegReg, KindSkipNeRegReg,
		KindSkipKeyDown, KindSkipKeyUp:
		return true
	case KindNative:
		return d.Imm == 0x0EE // native return (0x00EE)
	default:
		return false
	}
}

// IsClearDisplay reports whether d is the 00E0 "clear screen" native call.
func (d DecodedInstr) IsClearDisplay() bool {
	return d.Kind == KindNative && d.Imm == 0x0E0
}

// IsReturn reports whether d is the 00EE native subroutine return.
func (d DecodedInstr) IsReturn() bool {
	return d.Kind == KindNative && d.Imm == 0x0EE
}
