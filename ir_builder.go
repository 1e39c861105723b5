package chipz

import "github.com/pkg/errors"

// IRBuilder lowers a discovered Block's decoded instructions into an IR
// block graph. State mirrors original_source/core/jpu/jit/ir/ir_manager.hpp
// (IRManager) exactly: a flat vector of blocks, an active-block index, a
// virtual register pool with memoized guest-register temporaries, and the
// deferred block-switch machinery that lets a skip's "after" block become
// active exactly two emissions later (after the compare and the
// conditionally-skipped instruction).
type IRBuilder struct {
	blocks       []IRBlock
	activeBlock  uint32
	hasActive    bool
	nextTemp     uint32
	regTemps     []regTempEntry
	temps        []uint32
	newBlockAt   map[uint16]struct{} // guest addresses that start a new block (local labels)
	blockAtAddr  map[uint16]uint32   // guest address -> block index, once created
	switchCount  int
	switchTarget uint32
}

type regTempEntry struct {
	id  uint32
	reg IRReg
}

// NewIRBuilder creates an empty builder seeded with the block's local
// labels as split points.
func NewIRBuilder(localLabels []uint16) *IRBuilder {
	ib := &IRBuilder{
		newBlockAt:  make(map[uint16]struct{}, len(localLabels)),
		blockAtAddr: make(map[uint16]uint32),
	}
	for _, addr := range localLabels {
		ib.newBlockAt[addr] = struct{}{}
	}
	return ib
}

// Blocks returns the completed block graph.
func (ib *IRBuilder) Blocks() []IRBlock { return ib.blocks }

// RegTemps returns the guest-register-to-temporary memoization table, used
// by the allocator to tell a guest-bound virtual register apart from a
// plain temporary (is_cpu_reg in the original).
func (ib *IRBuilder) RegTemps() []regTempEntry { return ib.regTemps }

// TempCount returns how many virtual register ids were allocated in total,
// sizing the allocator's per-register live-range table.
func (ib *IRBuilder) TempCount() int { return int(ib.nextTemp) }

// BlockForAddr reports the IR block index that begins at the given guest
// address, if one was created.
func (ib *IRBuilder) BlockForAddr(addr uint16) (uint32, bool) {
	idx, ok := ib.blockAtAddr[addr]
	return idx, ok
}

// NewTemp allocates a fresh temporary virtual register id.
func (ib *IRBuilder) NewTemp() uint32 {
	id := ib.nextTemp
	ib.nextTemp++
	ib.temps = append(ib.temps, id)
	return id
}

// AllocTempForReg returns the stable temporary id standing in for a
// guest-bound register, allocating one on first use. Grounded on
// IRManager::alloc_temp_for_reg's linear-scan memoization — the register
// count is 17 (16 + IN), so a linear scan beats building a map.
func (ib *IRBuilder) AllocTempForReg(reg IRReg) uint32 {
	for _, e := range ib.regTemps {
		if e.reg == reg {
			return e.id
		}
	}
	id := ib.NewTemp()
	ib.regTemps = append(ib.regTemps, regTempEntry{id: id, reg: reg})
	return id
}

func guestPtr(ib *IRBuilder, reg IRReg) *RegisterPointer {
	return &RegisterPointer{IsTemp: false, Reg: ib.AllocTempForReg(reg)}
}

func tempPtr(id uint32) *RegisterPointer {
	return &RegisterPointer{IsTemp: true, Reg: id}
}

// newBlock appends a fresh empty block and returns its handle.
func (ib *IRBuilder) newBlock() BlockHandle {
	idx := uint32(len(ib.blocks))
	ib.blocks = append(ib.blocks, IRBlock{BlockID: uint16(idx)})
	return BlockHandle{Index: idx}
}

// UseBlock makes h the active block; subsequent Emit calls append to it.
func (ib *IRBuilder) UseBlock(h BlockHandle) {
	ib.activeBlock = h.Index
	ib.hasActive = true
}

// Emit appends instr to the active block, creating an initial block on
// first use (mirrors IRManager::emit_instruction's lazy first-block
// creation).
func (ib *IRBuilder) Emit(instr IRInstr) {
	if !ib.hasActive {
		ib.UseBlock(ib.newBlock())
	}
	ib.blocks[ib.activeBlock].Emit(instr)
}

// Lower walks a discovered Block's decoded instructions in order, driving
// the per-instruction state machine from spec.md §4.3 and dispatching each
// one to its lowering routine. Per spec.md §7's hardened error policy, an
// opcode this builder cannot lower aborts compilation with a wrapped error
// rather than silently treating it as a no-op.
func (ib *IRBuilder) Lower(blk Block) error {
	for i, instr := range blk.Instrs {
		currentPC := blk.Addrs[i]

		if _, ok := ib.newBlockAt[currentPC]; ok {
			h := ib.newBlock()
			ib.UseBlock(h)
			ib.blockAtAddr[currentPC] = h.Index
		}

		if ib.switchCount > 0 {
			ib.switchCount--
			if ib.switchCount == 0 {
				ib.UseBlock(BlockHandle{Index: ib.switchTarget})
			}
		}

		if instr.IsSkip() {
			// The compare lands in the block active now; create that block
			// first so the post-skip block is laid out after it.
			if !ib.hasActive {
				ib.UseBlock(ib.newBlock())
			}
			h := ib.newBlock()
			ib.blockAtAddr[currentPC+4] = h.Index
			ib.switchCount = 2
			ib.switchTarget = h.Index
		}

		if err := ib.lowerOne(instr, currentPC); err != nil {
			return errors.Wrapf(err, "lowering guest instruction at 0x%04x", currentPC)
		}
	}
	return nil
}

func (ib *IRBuilder) lowerOne(instr DecodedInstr, currentPC uint16) error {
	switch instr.Kind {
	case KindNative:
		switch instr.Imm {
		case 0x0E0:
			ib.Emit(IRInstr{Code: ClearDisplayMemory})
		case 0x0EE:
			ib.lowerReturn()
		default:
			return errors.Errorf("unhandled native call 0x0%s", hex3(instr.Imm))
		}
	case KindLoadImm:
		vx := guestPtr(ib, vRegByIndex(instr.Vx))
		ib.Emit(IRInstr{Code: LoadImmediate, Vx: vx, Imm: uint32(instr.Imm)})
	case KindLoadImmI:
		in := guestPtr(ib, RegIN)
		ib.Emit(IRInstr{Code: LoadImmediate, Vx: in, Imm: uint32(instr.Imm)})
	case KindAddImm:
		vx := guestPtr(ib, vRegByIndex(instr.Vx))
		ib.Emit(IRInstr{Code: AddImm, Vx: vx, Vy: vx, Imm: uint32(instr.Imm)})
	case KindDraw:
		ib.lowerDraw(instr)
	case KindJump:
		ib.lowerJump(instr)
	case KindSkipEqRegImm:
		vx := guestPtr(ib, vRegByIndex(instr.Vx))
		ib.Emit(IRInstr{Code: JmpEqImm, Vx: vx, Imm: uint32(instr.Imm), Imm2: uint32(ib.switchTarget)})
	case KindSkipNeRegImm:
		vx := guestPtr(ib, vRegByIndex(instr.Vx))
		ib.Emit(IRInstr{Code: JmpNeImm, Vx: vx, Imm: uint32(instr.Imm), Imm2: uint32(ib.switchTarget)})
	case KindSkipEqRegReg:
		vx := guestPtr(ib, vRegByIndex(instr.Vx))
		vy := guestPtr(ib, vRegByIndex(instr.Vy))
		ib.Emit(IRInstr{Code: JmpEqReg, Vx: vx, Vy: vy, Imm: uint32(ib.switchTarget)})
	case KindSkipNeRegReg:
		vx := guestPtr(ib, vRegByIndex(instr.Vx))
		vy := guestPtr(ib, vRegByIndex(instr.Vy))
		ib.Emit(IRInstr{Code: JmpNeReg, Vx: vx, Vy: vy, Imm: uint32(ib.switchTarget)})
	case KindCall:
		ib.lowerCall(instr, currentPC)
	case KindMovReg:
		// LoadReg's access table binds Vx as the read (source) slot and Vy
		// as the write (destination) slot, the same convention as the
		// AddImm/DivImm/LoadByteFromI family below — so the guest's source
		// register (Vy in 8XY0's encoding) goes in the IR's Vx slot.
		dst := guestPtr(ib, vRegByIndex(instr.Vx))
		src := guestPtr(ib, vRegByIndex(instr.Vy))
		ib.Emit(IRInstr{Code: LoadReg, Vx: src, Vy: dst})
	case KindRegOr:
		ib.lowerBinOp(instr, OrRegReg)
	case KindRegAnd:
		ib.lowerBinOp(instr, AndRegReg)
	case KindRegXor:
		ib.lowerBinOp(instr, XorRegReg)
	case KindRegAddYX:
		ib.lowerFlaggedBinOp(instr, Add, FlagTagAddCarry)
	case KindRegSubYX:
		ib.lowerFlaggedBinOp(instr, Sub, FlagTagSubBorrow)
	case KindRegSubXY:
		ib.lowerFlaggedBinOp(instr, SubInverse, FlagTagSubNoBorrow)
	case KindRegShrXY:
		ib.lowerFlaggedBinOp(instr, ShrOne, FlagTagShrBit)
	case KindRegShlXY:
		ib.lowerFlaggedBinOp(instr, ShlOne, FlagTagShlBit)
	case KindRandom:
		ib.lowerRandom(instr)
	case KindLoadRegDelay:
		vx := guestPtr(ib, vRegByIndex(instr.Vx))
		ib.Emit(IRInstr{Code: ReadDelayTimer, Vx: vx})
	case KindLoadDelayReg:
		vx := guestPtr(ib, vRegByIndex(instr.Vx))
		ib.Emit(IRInstr{Code: WriteDelayTimer, Vx: vx})
	case KindSetSoundReg:
		vx := guestPtr(ib, vRegByIndex(instr.Vx))
		ib.Emit(IRInstr{Code: WriteSoundTimer, Vx: vx})
	case KindIAddReg:
		in := guestPtr(ib, RegIN)
		vx := guestPtr(ib, vRegByIndex(instr.Vx))
		ib.Emit(IRInstr{Code: Add, Vx: in, Vy: vx})
	case KindLoadFont:
		ib.lowerLoadFont(instr)
	case KindBCD:
		ib.lowerBCD(instr)
	case KindRangeWrite:
		ib.lowerRangeWrite(instr)
	case KindRangeRead:
		ib.lowerRangeRead(instr)
	case KindLongJump:
		ib.lowerLongJump(instr)
	case KindWaitKeyPress, KindSkipKeyDown, KindSkipKeyUp:
		return errors.New("WaitKeyPress/key-skip opcodes have no compiled lowering (unresolved suspension-point interaction with block discovery)")
	default:
		return errors.Errorf("unhandled decoded instruction kind %d", instr.Kind)
	}
	return nil
}

func hex3(v uint16) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[v>>8&0xF], digits[v>>4&0xF], digits[v&0xF]})
}

func (ib *IRBuilder) lowerJump(instr DecodedInstr) {
	if idx, ok := ib.BlockForAddr(instr.Imm); ok {
		ib.Emit(IRInstr{Code: JmpBlock, Imm: idx})
		return
	}
	ib.Emit(IRInstr{Code: JmpJit, Imm: uint32(instr.Imm)})
}

// lowerLongJump backs BNNN (jump to NNN + V0), the one jump form whose
// target depends on runtime state rather than the opcode word alone, so it
// cannot resolve to a known IR block at build time the way lowerJump's
// literal targets sometimes can.
func (ib *IRBuilder) lowerLongJump(instr DecodedInstr) {
	v0 := guestPtr(ib, RegV0)
	ib.Emit(IRInstr{Code: JmpJitIndexed, Vx: v0, Imm: uint32(instr.Imm)})
}

func (ib *IRBuilder) lowerReturn() {
	stackOff := tempPtr(ib.NewTemp())
	jumpScratch := tempPtr(ib.NewTemp())
	ib.Emit(IRInstr{Code: ReadStackOffset, Vx: stackOff})
	ib.Emit(IRInstr{Code: JumpToStackWithOffsetAndDecrement, Vx: stackOff, Vy: jumpScratch})
}

func (ib *IRBuilder) lowerCall(instr DecodedInstr, currentPC uint16) {
	stackOff := tempPtr(ib.NewTemp())
	returnAddr := uint32(currentPC) + 2
	ib.Emit(IRInstr{Code: ReadStackOffset, Vx: stackOff})
	ib.Emit(IRInstr{Code: AddImm, Vx: stackOff, Vy: stackOff, Imm: 1})
	ib.Emit(IRInstr{Code: WriteStackOffset, Vx: stackOff})
	ib.Emit(IRInstr{Code: WriteToStackWithOffset, Vx: stackOff, Imm: returnAddr})
	ib.Emit(IRInstr{Code: JmpJit, Imm: uint32(instr.Imm)})
}

func (ib *IRBuilder) lowerBinOp(instr DecodedInstr, op IROpcode) {
	dst := guestPtr(ib, vRegByIndex(instr.Vx))
	src := guestPtr(ib, vRegByIndex(instr.Vy))
	ib.Emit(IRInstr{Code: op, Vx: dst, Vy: src})
}

func (ib *IRBuilder) lowerFlaggedBinOp(instr DecodedInstr, op IROpcode, tag FlagTag) {
	dst := guestPtr(ib, vRegByIndex(instr.Vx))
	src := guestPtr(ib, vRegByIndex(instr.Vy))
	vf := guestPtr(ib, RegVF)
	ib.Emit(IRInstr{Code: op, Vx: dst, Vy: src})
	ib.Emit(IRInstr{Code: FlagRegisterCheck, Vx: vf, Imm: uint32(tag)})
}

// lowerRandom backs Cxkk: loads a fresh byte from the core PRNG, ANDs it
// against the immediate mask, per SPEC_FULL.md's Random wiring.
func (ib *IRBuilder) lowerRandom(instr DecodedInstr) {
	vx := guestPtr(ib, vRegByIndex(instr.Vx))
	ib.Emit(IRInstr{Code: RandByte, Vx: vx, Imm: uint32(instr.Imm)})
}

func (ib *IRBuilder) lowerLoadFont(instr DecodedInstr) {
	vx := guestPtr(ib, vRegByIndex(instr.Vx))
	in := guestPtr(ib, RegIN)
	scratch := tempPtr(ib.NewTemp())
	// font glyphs are 5 bytes each, located at guest address 0
	ib.Emit(IRInstr{Code: MulImm, Vx: vx, Vy: scratch, Imm: 5})
	ib.Emit(IRInstr{Code: LoadReg, Vx: scratch, Vy: in})
}

// lowerBCD lowers Fx33 to a fixed DivImm/ModImm chain against 100 and 10,
// per SPEC_FULL.md's "composes from existing opcodes" wiring — grounded on
// original_source/core/jpu/jit/ir/ir_manager.cpp's emit_bcd, adjusted to
// write the hundreds digit first (memory[I+0]) matching standard CHIP-8
// BCD ordering rather than the original's reversed loop.
func (ib *IRBuilder) lowerBCD(instr DecodedInstr) {
	vx := guestPtr(ib, vRegByIndex(instr.Vx))
	in := guestPtr(ib, RegIN)
	working := tempPtr(ib.NewTemp())
	digit := tempPtr(ib.NewTemp())

	ib.Emit(IRInstr{Code: LoadReg, Vx: vx, Vy: working})
	ib.Emit(IRInstr{Code: DivImm, Vx: working, Vy: digit, Imm: 100})
	ib.Emit(IRInstr{Code: WriteToMemory, Vx: in, Vy: digit, Imm: 0})

	ib.Emit(IRInstr{Code: ModImm, Vx: working, Vy: digit, Imm: 100})
	ib.Emit(IRInstr{Code: DivImm, Vx: digit, Vy: digit, Imm: 10})
	ib.Emit(IRInstr{Code: WriteToMemory, Vx: in, Vy: digit, Imm: 1})

	ib.Emit(IRInstr{Code: ModImm, Vx: working, Vy: digit, Imm: 10})
	ib.Emit(IRInstr{Code: WriteToMemory, Vx: in, Vy: digit, Imm: 2})
}

// lowerRangeWrite lowers Fx55: store V0..Vx to memory[I..I+x], then
// I += x+1. The loop trip count is the 4-bit immediate baked into the
// opcode word, so it unrolls here at IR-build time exactly like Dxyn's row
// loop.
func (ib *IRBuilder) lowerRangeWrite(instr DecodedInstr) {
	in := guestPtr(ib, RegIN)
	last := instr.Vx
	for i := uint8(0); i <= last; i++ {
		vn := guestPtr(ib, vRegByIndex(i))
		ib.Emit(IRInstr{Code: WriteToMemory, Vx: in, Vy: vn, Imm: uint32(i)})
	}
	ib.Emit(IRInstr{Code: AddImm, Vx: in, Vy: in, Imm: uint32(last) + 1})
}

// lowerRangeRead lowers Fx65: load memory[I..I+x] into V0..Vx, then
// I += x+1.
func (ib *IRBuilder) lowerRangeRead(instr DecodedInstr) {
	in := guestPtr(ib, RegIN)
	last := instr.Vx
	for i := uint8(0); i <= last; i++ {
		vn := guestPtr(ib, vRegByIndex(i))
		ib.Emit(IRInstr{Code: ReadFromMemory, Vx: in, Vy: vn, Imm: uint32(i)})
	}
	ib.Emit(IRInstr{Code: AddImm, Vx: in, Vy: in, Imm: uint32(last) + 1})
}
