package chipz

// IROpcode enumerates the mid-level IR's tagged opcode set. Grounded on
// original_source/core/jpu/jit/ir/ir_manager.hpp's IROpcode enum and
// spec.md §4.3's opcode table; RandByte, ReadDelayTimer, WriteDelayTimer,
// and WriteSoundTimer are additions from SPEC_FULL.md's supplemented
// opcodes, slotted into the same tagged-variant scheme rather than given
// their own dispatch path, per spec.md §9's "centralize the per-opcode
// metadata ... as two parallel tables keyed by the tag."
type IROpcode uint16

const (
	Add IROpcode = iota
	Sub
	SubInverse
	AddImm
	SubImm
	MulImm
	DivImm
	ModImm
	AndImm
	ShrImm
	LoadImmediate
	LoadByteFromI
	LoadReg

	JmpZ
	JmpNZ
	JmpEqImm
	JmpNeImm
	JmpEqReg
	JmpNeReg
	JmpBlock
	JmpJit
	JmpJitIndexed

	FlagRegisterCheck

	OrRegReg
	AndRegReg
	XorRegReg
	ShrOne
	ShlOne

	XorDisplayMemory
	ClearDisplayMemory

	ReadStackOffset
	WriteStackOffset
	WriteToStackWithOffset
	JumpToStackWithOffsetAndDecrement

	WriteToMemory
	ReadFromMemory

	RandByte
	ReadDelayTimer
	WriteDelayTimer
	WriteSoundTimer

	Unknown
)

// FlagTag values distinguish which carry/borrow/shift-out polarity a
// FlagRegisterCheck instruction consults, per spec.md §4.3.1. Named after
// the original's ad-hoc magic-number tags (0xADD, 0x55B, ...) but given
// readable identifiers instead of carrying the magic numbers forward
// verbatim — nothing downstream needs the numeric values to match the
// source, only the set of distinct polarities.
type FlagTag uint16

const (
	FlagTagAddCarry    FlagTag = iota // Add: VF := carry-out
	FlagTagSubBorrow                  // Sub XY: VF := borrow-out (no-borrow convention flipped by caller)
	FlagTagSubNoBorrow                // Sub YX (SubInverse): VF := no-borrow
	FlagTagShrBit                     // ShrOne: VF := bit shifted out the bottom
	FlagTagShlBit                     // ShlOne: VF := bit shifted out the top
)

// IRReg names a guest-bound virtual register: one of the sixteen general
// registers or the index register. Grounded on
// original_source/core/jpu/jit/ir/ir_manager.hpp's IRReg enum.
type IRReg uint16

const (
	RegV0 IRReg = iota
	RegV1
	RegV2
	RegV3
	RegV4
	RegV5
	RegV6
	RegV7
	RegV8
	RegV9
	RegVA
	RegVB
	RegVC
	RegVD
	RegVE
	RegVF
	RegIN
	RegInvalid
)

// vRegByIndex returns the IRReg for a 4-bit guest register index (0-15).
func vRegByIndex(i uint8) IRReg { return IRReg(i) }

// RegisterPointer identifies a virtual register operand: either a
// temporary (dies at its last use) or a guest-bound register (must be
// written back to core state at every block exit). Grounded on
// ir_manager.hpp's RegisterPointer.
type RegisterPointer struct {
	IsTemp bool
	Reg    uint32
}

// RegisterAccessInfo is a bitmask describing how an IR instruction uses its
// vx/vy operand slots, consulted by the register allocator to build live
// ranges (spec.md §4.4 Pass 1). Grounded on ir_manager.hpp's
// RegisterAccessInfo.
type RegisterAccessInfo uint8

const (
	AccessNone    RegisterAccessInfo = 0
	AccessVXRead  RegisterAccessInfo = 1 << 0
	AccessVXWrite RegisterAccessInfo = 1 << 1
	AccessVYRead  RegisterAccessInfo = 1 << 2
	AccessVYWrite RegisterAccessInfo = 1 << 3
)

// ExtraReg is one member of an IRInstr's extra_consumed_registers list: a
// register operand beyond vx/vy (lowerDraw's collision accumulator on
// XorDisplayMemory is the only user in this implementation) paired with its
// own access mask.
type ExtraReg struct {
	Reg    RegisterPointer
	Access RegisterAccessInfo
}

// IRInstr is one instruction in the mid-level IR: an opcode tag, up to two
// register operands, two immediates, and an overflow list of extra
// register operands for opcodes that need more than vx/vy. Grounded on
// ir_manager.hpp's IRInstruction record.
type IRInstr struct {
	Code  IROpcode
	Vx    *RegisterPointer
	Vy    *RegisterPointer
	Imm   uint32
	Imm2  uint32
	Extra []ExtraReg
}

// AccessInfo reports how instr's vx/vy operands are used, per the static
// table spec.md §9 requires instead of virtual dispatch. Grounded on
// ir_manager.cpp's IRManager::access_info switch.
func AccessInfo(instr IRInstr) RegisterAccessInfo {
	switch instr.Code {
	case FlagRegisterCheck, LoadImmediate, ReadStackOffset,
		RandByte, ReadDelayTimer:
		return AccessVXWrite
	case JumpToStackWithOffsetAndDecrement:
		return AccessVXWrite | AccessVXRead | AccessVYWrite
	case ClearDisplayMemory, JmpBlock, JmpJit:
		return AccessNone
	case AddImm, SubImm, AndImm, DivImm, MulImm, ShrImm, ModImm,
		LoadReg, LoadByteFromI, ReadFromMemory:
		return AccessVXRead | AccessVYWrite
	case JmpZ, JmpNZ, JmpEqImm, JmpNeImm, WriteStackOffset,
		WriteToStackWithOffset, WriteDelayTimer, WriteSoundTimer, JmpJitIndexed:
		return AccessVXRead
	case Add, Sub, SubInverse, OrRegReg, AndRegReg, XorRegReg, ShrOne, ShlOne:
		return AccessVXRead | AccessVXWrite | AccessVYRead
	case XorDisplayMemory, JmpEqReg, JmpNeReg, WriteToMemory:
		return AccessVXRead | AccessVYRead
	default:
		panic("chipz: unhandled IR opcode in access table")
	}
}

// IRBlock is one node of the IR block graph: a dense ordered list of
// IRInstr values identified by an index into IRBuilder.blocks. Grounded on
// ir_manager.hpp's nested IRBlock class; spec.md §9 "implement as a flat
// vector of block records plus integer indices; never store
// back-pointers" is followed by keeping BlockID a plain index rather than
// a pointer/reference.
type IRBlock struct {
	BlockID      uint16
	Instructions []IRInstr
}

// Emit appends instr to the block.
func (b *IRBlock) Emit(instr IRInstr) {
	b.Instructions = append(b.Instructions, instr)
}

// BlockHandle is a lightweight value identifying an IRBlock by index,
// grounded on ir_manager.hpp's nested BlockHandle class (spec.md §9
// "Builder helpers that return handles").
type BlockHandle struct {
	Index uint32
}
