package chipz

import "github.com/pkg/errors"

// compileInstr dispatches one IR instruction to its emitter routine.
// Grounded on original_source/core/jpu/jit/jit_manager.cpp's
// JitManager::compile_instruction switch; spec.md §9's "two parallel
// tables" guidance covers AccessInfo (ir.go) but the actual code-generation
// side is still one opcode per case, since each opcode's x86 shape is
// distinct enough that a data table would just be this switch in disguise.
func (c *BlockCompiler) compileInstr(instr IRInstr) error {
	switch instr.Code {
	case Add:
		c.compileAdd(instr)
	case Sub:
		c.compileSub(instr)
	case SubInverse:
		c.compileSubInverse(instr)
	case AddImm:
		c.compileAddImm(instr)
	case SubImm:
		c.compileSubImm(instr)
	case MulImm:
		c.compileMulImm(instr)
	case DivImm:
		c.compileDivMod(instr, false)
	case ModImm:
		c.compileDivMod(instr, true)
	case AndImm:
		c.compileAndImm(instr)
	case ShrImm:
		c.compileShrImm(instr)
	case LoadImmediate:
		c.compileLoadImmediate(instr)
	case LoadByteFromI:
		c.compileLoadByteFromI(instr)
	case LoadReg:
		c.compileLoadReg(instr)

	case JmpZ:
		c.compileJmpZero(instr, CCZ)
	case JmpNZ:
		c.compileJmpZero(instr, CCNZ)
	case JmpEqImm:
		c.compileJmpImm(instr, CCZ)
	case JmpNeImm:
		c.compileJmpImm(instr, CCNZ)
	case JmpEqReg:
		c.compileJmpReg(instr, CCZ)
	case JmpNeReg:
		c.compileJmpReg(instr, CCNZ)
	case JmpBlock:
		c.compileJmpBlock(instr)
	case JmpJit:
		c.compileJmpJit(instr)
	case JmpJitIndexed:
		c.compileJmpJitIndexed(instr)

	case FlagRegisterCheck:
		c.compileFlagRegisterCheck(instr)

	case OrRegReg:
		c.compileBinRegReg(instr, (*Asm).Or)
	case AndRegReg:
		c.compileBinRegReg(instr, (*Asm).And)
	case XorRegReg:
		c.compileBinRegReg(instr, (*Asm).Xor)
	case ShrOne:
		c.compileShrOne(instr)
	case ShlOne:
		c.compileShlOne(instr)

	case XorDisplayMemory:
		c.compileXorDisplayMemory(instr)
	case ClearDisplayMemory:
		c.compileClearDisplayMemory(instr)

	case ReadStackOffset:
		c.compileReadStackOffset(instr)
	case WriteStackOffset:
		c.compileWriteStackOffset(instr)
	case WriteToStackWithOffset:
		c.compileWriteToStackWithOffset(instr)
	case JumpToStackWithOffsetAndDecrement:
		c.compileJumpToStackWithOffsetAndDecrement(instr)

	case WriteToMemory:
		c.compileWriteToMemory(instr)
	case ReadFromMemory:
		c.compileReadFromMemory(instr)

	case RandByte:
		c.compileRandByte(instr)
	case ReadDelayTimer:
		c.compileReadDelayTimer(instr)
	case WriteDelayTimer:
		c.compileWriteDelayTimer(instr)
	case WriteSoundTimer:
		c.compileWriteSoundTimer(instr)

	default:
		return errors.Errorf("no emitter lowering for opcode %d", instr.Code)
	}
	return nil
}

// widthFor reports the operand width a guest-bound register access should
// use at the host level: W16 for the index register, W8 for everything
// else (a plain temporary included - temps wider than a byte, such as
// lowerReturn's popped-address scratch, are handled by their own compile
// routines rather than through this helper).
func (c *BlockCompiler) widthFor(ptr RegisterPointer) Width {
	if c.alloc.GetIRReg(ptr.Reg) == RegIN {
		return W16
	}
	return W8
}

// withScratch borrows a host register not in avoid via push/pop, for
// compile routines that need one extra register beyond what the allocator
// handed out. Candidates are always-volatile (none is in ClobberAwareRegs),
// so borrowing one never obligates a prologue/epilogue save - Push/Pop
// bracket the borrow and restore whatever was there before. Push/Pop don't
// touch FLAGS, so this composes safely with the add/sub-then-
// FlagRegisterCheck flag-persistence pattern used throughout this file.
func (c *BlockCompiler) withScratch(avoid ...HostReg) (HostReg, func()) {
	candidates := [5]HostReg{HRax, HRcx, HRdx, HRsi, HRdi}
	for _, cand := range candidates {
		conflict := false
		for _, a := range avoid {
			if cand == a {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		c.body.Push(cand)
		return cand, func() { c.body.Pop(cand) }
	}
	panic("chipz: no scratch register available")
}

func (c *BlockCompiler) emitBackwardJcc(cc byte, targetOffset int) {
	at := c.body.Jcc32(cc)
	rel := int32(targetOffset - (at + 4))
	c.body.PatchImm32(at, uint32(rel))
}

func (c *BlockCompiler) emitBackwardJmp(targetOffset int) {
	at := c.body.Jmp32()
	rel := int32(targetOffset - (at + 4))
	c.body.PatchImm32(at, uint32(rel))
}

// compileAdd handles both lowerFlaggedBinOp's guest V-register addition
// (8-bit, CF feeds a following FlagRegisterCheck) and KindIAddReg's
// IN += Vx (16-bit, no flag follow-up) - the two share one IR opcode, so
// the destination's IRReg decides the operand width.
func (c *BlockCompiler) compileAdd(instr IRInstr) {
	dst := c.resolveRead(*instr.Vx)
	src := c.resolveRead(*instr.Vy)
	c.body.Add(c.widthFor(*instr.Vx), dst, src)
}

// compileSub computes Vx -= Vy in place; FlagTagSubBorrow's consumer reads
// CF directly off this instruction, so it must be the last ALU op emitted
// before the following FlagRegisterCheck.
func (c *BlockCompiler) compileSub(instr IRInstr) {
	dst := c.resolveRead(*instr.Vx)
	src := c.resolveRead(*instr.Vy)
	c.body.Sub(W8, dst, src)
}

// compileSubInverse computes Vx := Vy - Vx (8XY7's "reverse subtract").
// Earlier draft used XCHG to avoid a scratch register, but that leaves
// src's host register holding dst's old value with nothing to restore it -
// src is a guest register that may be read again by a later instruction in
// this block, so that corruption is real, not cosmetic. Using a borrowed
// scratch register instead leaves src untouched.
func (c *BlockCompiler) compileSubInverse(instr IRInstr) {
	dst := c.resolveRead(*instr.Vx)
	src := c.resolveRead(*instr.Vy)
	scratch, done := c.withScratch(dst, src)
	c.body.MovRegReg(W8, scratch, src)
	c.body.Sub(W8, scratch, dst) // CF := dst > src, i.e. borrow
	c.body.MovRegReg(W8, dst, scratch)
	done()
}

// compileAddImm handles both the in-place small-register increments
// (Vx += imm) and IN += count from the unrolled register range ops - same
// width rule as compileAdd.
func (c *BlockCompiler) compileAddImm(instr IRInstr) {
	c.compileImmInPlaceOrCopy(instr, func(w Width, dst HostReg, imm uint32) { c.body.AddImm(w, dst, imm) })
}

// compileSubImm mirrors compileAddImm; no emit site in this build reaches
// it today, but AccessInfo's table lists it and a future opcode lowering
// may.
func (c *BlockCompiler) compileSubImm(instr IRInstr) {
	c.compileImmInPlaceOrCopy(instr, func(w Width, dst HostReg, imm uint32) { c.body.SubImm(w, dst, imm) })
}

// compileAndImm handles both lowerDraw's in-place masking (Vx &= imm) and
// its copy-then-mask form (dst := src & imm, used to extract a sprite bit
// into a fresh temp without disturbing the source byte).
func (c *BlockCompiler) compileAndImm(instr IRInstr) {
	c.compileImmInPlaceOrCopy(instr, func(w Width, dst HostReg, imm uint32) { c.body.AndImm(w, dst, imm) })
}

// compileShrImm is AndImm's shift-immediate sibling, same in-place-or-copy
// shape; no current emit site, kept for AccessInfo table completeness.
func (c *BlockCompiler) compileShrImm(instr IRInstr) {
	c.compileImmInPlaceOrCopy(instr, func(w Width, dst HostReg, imm uint32) {
		c.body.ShrImm(w, dst, uint8(imm))
	})
}

// compileImmInPlaceOrCopy is the shared shape behind AddImm/SubImm/AndImm/
// ShrImm: read Vx, copy into Vy's host register first if they differ, then
// apply the immediate op to Vy in place. AccessInfo marks these
// AccessVXRead|AccessVYWrite, so Vy's resolveWrite may hand back a fresh
// register with no obligation to preserve its previous contents.
func (c *BlockCompiler) compileImmInPlaceOrCopy(instr IRInstr, op func(w Width, dst HostReg, imm uint32)) {
	src := c.resolveRead(*instr.Vx)
	dst := c.resolveWrite(*instr.Vy)
	width := c.widthFor(*instr.Vy)
	if dst != src {
		c.body.MovRegReg(width, dst, src)
	}
	op(width, dst, instr.Imm)
}

// compileMulImm is AddImm's sibling for the font-lookup's `index * 5`: same
// in-place-or-copy shape, using the three-operand IMUL-immediate form.
func (c *BlockCompiler) compileMulImm(instr IRInstr) {
	src := c.resolveRead(*instr.Vx)
	dst := c.resolveWrite(*instr.Vy)
	if dst != src {
		c.body.MovRegReg(W32, dst, src)
	}
	c.body.ImulImm(dst, int32(instr.Imm))
}

// compileDivMod implements 8-bit unsigned division/remainder via
// magicdiv.go's precomputed multiply-shift constants, since x86 has no
// small-width-immediate-divisor DIV worth using directly. MUL's one-operand
// form always overwrites both EAX and EDX with the full 64-bit product, so
// RAX/RDX/RCX (the magic-multiply scratch set) are saved whenever they
// aren't themselves the destination.
func (c *BlockCompiler) compileDivMod(instr IRInstr, wantRemainder bool) {
	vxHost := c.resolveRead(*instr.Vx)
	vyHost := c.resolveWrite(*instr.Vy)
	divisor := uint8(instr.Imm)
	magic := MagicDivFor(divisor)

	var saved []HostReg
	for _, r := range [3]HostReg{HRax, HRdx, HRcx} {
		if r == vyHost {
			continue
		}
		c.body.Push(r)
		saved = append(saved, r)
	}

	if vxHost != HRax {
		c.body.MovRegReg(W32, HRax, vxHost)
	}
	c.body.MovRegImm(W32, HRcx, uint64(magic.Mul))
	c.body.Mul(W32, HRcx) // EDX:EAX := EAX * magic.Mul (product < 2^24, so EDX is 0)
	c.body.ShrImm(W32, HRax, magic.Shift)
	c.body.MovRegReg(W32, vyHost, HRax) // quotient

	for i := len(saved) - 1; i >= 0; i-- {
		c.body.Pop(saved[i])
	}

	if !wantRemainder {
		return
	}

	// remainder = dividend - quotient*divisor. vxHost must not be touched:
	// lowerBCD reads the same `working` temp across three Div/Mod calls, so
	// its value has to survive this instruction unmodified.
	scratch, done := c.withScratch(vxHost, vyHost)
	c.body.MovRegReg(W32, scratch, vxHost)
	c.body.ImulImm(vyHost, int32(divisor)) // vyHost := quotient*divisor
	c.body.Sub(W32, scratch, vyHost)
	c.body.MovRegReg(W32, vyHost, scratch)
	done()
}

func (c *BlockCompiler) compileLoadImmediate(instr IRInstr) {
	dst := c.resolveWrite(*instr.Vx)
	c.body.MovRegImm(W32, dst, uint64(instr.Imm))
}

func (c *BlockCompiler) compileLoadReg(instr IRInstr) {
	src := c.resolveRead(*instr.Vx)
	dst := c.resolveWrite(*instr.Vy)
	if dst != src {
		c.body.MovRegReg(W32, dst, src)
	}
}

// compileBinRegReg handles the unflagged Vx op= Vy family (OR/AND/XOR).
func (c *BlockCompiler) compileBinRegReg(instr IRInstr, op func(a *Asm, w Width, dst, src HostReg)) {
	dst := c.resolveRead(*instr.Vx)
	src := c.resolveRead(*instr.Vy)
	op(c.body, W8, dst, src)
}

// compileShrOne/compileShlOne shift Vx by one bit, leaving the shifted-out
// bit in CF for the following FlagRegisterCheck. Vy is never read by these
// opcodes (lowerFlaggedBinOp always pairs them with a dst/src pair, but the
// shift amount is fixed at one and needs no second operand's value) so it's
// deliberately left unresolved - the allocator's live-range end for Vy
// doesn't depend on whether Allocate is actually called here.
func (c *BlockCompiler) compileShrOne(instr IRInstr) {
	dst := c.resolveRead(*instr.Vx)
	c.body.Shr1(W8, dst)
}

func (c *BlockCompiler) compileShlOne(instr IRInstr) {
	dst := c.resolveRead(*instr.Vx)
	c.body.Shl1(W8, dst)
}

// ccForFlagTag maps a FlagTag to the x86 condition code whose polarity
// already matches the desired VF value, given the preceding instruction's
// operand width and operation, so FlagRegisterCheck only ever needs a
// single SetCC.
func ccForFlagTag(tag FlagTag) byte {
	switch FlagTag(tag) {
	case FlagTagAddCarry:
		return CCB // CF=1 iff the 8-bit-width ADD truly overflowed
	case FlagTagSubBorrow, FlagTagSubNoBorrow:
		return CCAE // CF=0 iff no borrow, the shared CHIP-8 VF convention
	case FlagTagShrBit:
		return CCB // CF := bit shifted out the bottom
	case FlagTagShlBit:
		return CCB // CF := bit shifted out the top, at W8 only
	default:
		panic("chipz: unhandled flag tag")
	}
}

func (c *BlockCompiler) compileFlagRegisterCheck(instr IRInstr) {
	dst := c.resolveWrite(*instr.Vx)
	c.body.SetCC(ccForFlagTag(FlagTag(instr.Imm)), dst)
}

func (c *BlockCompiler) compileJmpZero(instr IRInstr, cc byte) {
	v := c.resolveRead(*instr.Vx)
	c.body.CmpImm(W8, v, 0)
	c.jumpCCToBlock(cc, instr.Imm)
}

func (c *BlockCompiler) compileJmpImm(instr IRInstr, cc byte) {
	v := c.resolveRead(*instr.Vx)
	c.body.CmpImm(W8, v, instr.Imm)
	c.jumpCCToBlock(cc, instr.Imm2)
}

func (c *BlockCompiler) compileJmpReg(instr IRInstr, cc byte) {
	a := c.resolveRead(*instr.Vx)
	b := c.resolveRead(*instr.Vy)
	c.body.Cmp(W8, a, b)
	c.jumpCCToBlock(cc, instr.Imm)
}

func (c *BlockCompiler) compileJmpBlock(instr IRInstr) {
	c.jumpToBlock(instr.Imm)
}

// compileJmpJit handles a jump/call whose target isn't a known local
// block: flush every guest register back to CoreState, set PC to the
// compile-time-known target address, and tail off to the shared epilogue
// so the dispatcher can look the new address up.
func (c *BlockCompiler) compileJmpJit(instr IRInstr) {
	c.flushAllResident()
	scratch, done := c.withScratch()
	c.body.MovRegImm(W16, scratch, uint64(instr.Imm))
	c.body.Store16(HRbp, OffsetPC, scratch)
	done()
	c.jumpToEpilogue()
}

// compileJmpJitIndexed handles BNNN's runtime-computed target (NNN + V0):
// compute the destination into a scratch register while V0's value is
// still resident, then flush and hand off to the epilogue exactly like
// compileJmpJit's compile-time-known-target case.
func (c *BlockCompiler) compileJmpJitIndexed(instr IRInstr) {
	v0 := c.resolveRead(*instr.Vx)
	scratch, done := c.withScratch(v0)
	c.body.MovRegReg(W32, scratch, v0)
	c.body.AddImm(W32, scratch, instr.Imm)
	c.body.AndImm(W32, scratch, MemorySize-1)
	c.flushAllResident()
	c.body.Store16(HRbp, OffsetPC, scratch)
	done()
	c.jumpToEpilogue()
}

// compileXorDisplayMemory flips one pixel and folds its prior value into
// the running collision accumulator (Extra[0]), per lowerDraw: dy*64+dx is
// a shift by 6 since DisplayWidth is a power of two.
func (c *BlockCompiler) compileXorDisplayMemory(instr IRInstr) {
	dx := c.resolveRead(*instr.Vx)
	dy := c.resolveRead(*instr.Vy)
	collision := c.resolveRead(instr.Extra[0].Reg)

	addr, doneAddr := c.withScratch(dx, dy, collision)
	pixel, donePixel := c.withScratch(dx, dy, collision, addr)

	c.body.MovRegReg(W32, addr, dy)
	c.body.ShlImm(W32, addr, 6)
	c.body.Add(W32, addr, dx)
	c.body.AndImm(W32, addr, DisplaySize-1)
	c.body.Add(W64, addr, HRbp)

	c.body.Load8(pixel, addr, OffsetDisplay)
	c.body.Or(W8, collision, pixel)
	c.body.XorImm(W8, pixel, 1)
	c.body.Store8(addr, OffsetDisplay, pixel)

	donePixel()
	doneAddr()
}

// compileClearDisplayMemory zeroes every display byte with a small backward
// loop: the patch-site system only resolves references to IR block
// boundaries, so this loop's backward branch is computed and patched
// synchronously within this single compile call instead.
func (c *BlockCompiler) compileClearDisplayMemory(instr IRInstr) {
	zeroReg, doneZ := c.withScratch()
	c.body.MovRegImm(W32, zeroReg, 0)
	ptr, doneP := c.withScratch(zeroReg)
	c.body.MovRegReg(W64, ptr, HRbp)
	c.body.AddImm(W64, ptr, uint32(OffsetDisplay))
	end, doneE := c.withScratch(zeroReg, ptr)
	c.body.MovRegReg(W64, end, HRbp)
	c.body.AddImm(W64, end, uint32(OffsetDisplay+DisplaySize))

	loopTop := c.body.Len()
	c.body.Store8(ptr, 0, zeroReg)
	c.body.AddImm(W64, ptr, 1)
	c.body.Cmp(W64, ptr, end)
	c.emitBackwardJcc(CCNZ, loopTop)

	doneE()
	doneP()
	doneZ()
}

func (c *BlockCompiler) compileReadStackOffset(instr IRInstr) {
	dst := c.resolveWrite(*instr.Vx)
	c.body.MovzxLoad8(dst, HRbp, OffsetStackSize)
}

func (c *BlockCompiler) compileWriteStackOffset(instr IRInstr) {
	src := c.resolveRead(*instr.Vx)
	c.body.Store8(HRbp, OffsetStackSize, src)
}

// compileWriteToStackWithOffset writes a compile-time-known return address
// into StackStorage[Vx-1] (Vx already holds the post-increment size at this
// point, per lowerCall). StackStorage entries are 16-bit, hence the *2
// scale folded in via a shift.
func (c *BlockCompiler) compileWriteToStackWithOffset(instr IRInstr) {
	size := c.resolveRead(*instr.Vx)
	addr, doneAddr := c.withScratch(size)
	c.body.MovRegReg(W32, addr, size)
	c.body.SubImm(W32, addr, 1)
	c.body.ShlImm(W32, addr, 1)
	c.body.Add(W64, addr, HRbp)

	val, doneVal := c.withScratch(size, addr)
	c.body.MovRegImm(W16, val, uint64(instr.Imm))
	c.body.Store16(addr, OffsetStackStorage, val)
	doneVal()
	doneAddr()
}

// compileJumpToStackWithOffsetAndDecrement implements the guest RET opcode
// in full: lowerReturn emits only this instruction after ReadStackOffset,
// so there is no separate WriteStackOffset call for the decremented size -
// this routine must persist it to CoreState itself.
func (c *BlockCompiler) compileJumpToStackWithOffsetAndDecrement(instr IRInstr) {
	stackHost := c.resolveRead(*instr.Vx)
	destHost := c.resolveWrite(*instr.Vy)

	addr, doneAddr := c.withScratch(stackHost, destHost)
	c.body.MovRegReg(W32, addr, stackHost)
	c.body.SubImm(W32, addr, 1)
	c.body.ShlImm(W32, addr, 1)
	c.body.Add(W64, addr, HRbp)
	c.body.MovzxLoad16(destHost, addr, OffsetStackStorage)
	doneAddr()

	c.body.SubImm(W8, stackHost, 1)
	c.body.Store8(HRbp, OffsetStackSize, stackHost)

	c.flushAllResident()
	c.body.Store16(HRbp, OffsetPC, destHost)
	c.jumpToEpilogue()
}

// compileWriteToMemory/compileReadFromMemory address Core.Memory[IN+imm],
// the unrolled shape lowerRangeWrite/lowerRangeRead emit once per register.
func (c *BlockCompiler) compileWriteToMemory(instr IRInstr) {
	in := c.resolveRead(*instr.Vx)
	src := c.resolveRead(*instr.Vy)
	addr, done := c.withScratch(in, src)
	c.body.MovRegReg(W32, addr, in)
	if instr.Imm != 0 {
		c.body.AddImm(W32, addr, instr.Imm)
	}
	c.body.AndImm(W32, addr, MemorySize-1)
	c.body.Add(W64, addr, HRbp)
	c.body.Store8(addr, OffsetMemory, src)
	done()
}

func (c *BlockCompiler) compileReadFromMemory(instr IRInstr) {
	in := c.resolveRead(*instr.Vx)
	dst := c.resolveWrite(*instr.Vy)
	addr, done := c.withScratch(in, dst)
	c.body.MovRegReg(W32, addr, in)
	if instr.Imm != 0 {
		c.body.AddImm(W32, addr, instr.Imm)
	}
	c.body.AndImm(W32, addr, MemorySize-1)
	c.body.Add(W64, addr, HRbp)
	c.body.MovzxLoad8(dst, addr, OffsetMemory)
	done()
}

// compileLoadByteFromI reads Core.Memory[IN+imm] into Vy, the sprite-row
// fetch lowerDraw emits once per sprite row.
func (c *BlockCompiler) compileLoadByteFromI(instr IRInstr) {
	in := c.resolveRead(*instr.Vx)
	dst := c.resolveWrite(*instr.Vy)
	addr, done := c.withScratch(in, dst)
	c.body.MovRegReg(W32, addr, in)
	if instr.Imm != 0 {
		c.body.AddImm(W32, addr, instr.Imm)
	}
	c.body.AndImm(W32, addr, MemorySize-1)
	c.body.Add(W64, addr, HRbp)
	c.body.MovzxLoad8(dst, addr, OffsetMemory)
	done()
}

// compileRandByte inlines Core.NextRandomByte's xorshift32 step directly
// into the compiled block rather than calling back out to Go, then masks
// the low byte by instr.Imm (the guest opcode's own mask operand) before
// storing into the destination register.
func (c *BlockCompiler) compileRandByte(instr IRInstr) {
	dst := c.resolveWrite(*instr.Vx)

	x2, doneX2 := c.withScratch(dst)
	c.body.Load32(x2, HRbp, OffsetRNGState)
	t, doneT := c.withScratch(dst, x2)

	c.body.MovRegReg(W32, t, x2)
	c.body.ShlImm(W32, t, 13)
	c.body.Xor(W32, x2, t)

	c.body.MovRegReg(W32, t, x2)
	c.body.ShrImm(W32, t, 17)
	c.body.Xor(W32, x2, t)

	c.body.MovRegReg(W32, t, x2)
	c.body.ShlImm(W32, t, 5)
	c.body.Xor(W32, x2, t)

	c.body.Store32(HRbp, OffsetRNGState, x2)
	c.body.MovRegReg(W32, dst, x2)
	c.body.AndImm(W32, dst, instr.Imm)

	doneT()
	doneX2()
}

func (c *BlockCompiler) compileReadDelayTimer(instr IRInstr) {
	dst := c.resolveWrite(*instr.Vx)
	c.body.MovzxLoad8(dst, HRbp, OffsetDelayTimer)
}

func (c *BlockCompiler) compileWriteDelayTimer(instr IRInstr) {
	src := c.resolveRead(*instr.Vx)
	c.body.Store8(HRbp, OffsetDelayTimer, src)
}

func (c *BlockCompiler) compileWriteSoundTimer(instr IRInstr) {
	src := c.resolveRead(*instr.Vx)
	c.body.Store8(HRbp, OffsetSoundTimer, src)
}
