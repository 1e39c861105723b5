package chipz

// lowerDraw lowers Dxyn into the nested row/column control-flow mesh
// described by spec.md §4.3.2. Grounded directly on
// original_source/core/jpu/jit/ir/ir_manager.cpp's emit_dxyn, with one
// addition: a collision-flag accumulator. The original's interpreter path
// (core/cpu/display.cpp) never sets VF on a draw either — nothing to
// port — so the accumulator here is a new design decision, not a
// backport, made to match standard CHIP-8 semantics the original simply
// never modeled: VF becomes 1 if any drawn pixel was already set, so the
// emitter ORs the prior pixel value into a per-block host flag before each
// XOR and writes it to VF once, after the sprite's full row/column mesh.
func (ib *IRBuilder) lowerDraw(instr DecodedInstr) {
	height := instr.Imm

	spriteByte := ib.NewTemp()
	dy := ib.NewTemp()
	dx := ib.NewTemp()
	scratch := ib.NewTemp()
	collision := ib.NewTemp()

	in := guestPtr(ib, RegIN)
	x := guestPtr(ib, vRegByIndex(instr.Vx))
	y := guestPtr(ib, vRegByIndex(instr.Vy))
	spriteBytePtr := tempPtr(spriteByte)
	dyPtr := tempPtr(dy)
	dxPtr := tempPtr(dx)
	scratchPtr := tempPtr(scratch)
	collisionPtr := tempPtr(collision)

	ib.Emit(IRInstr{Code: AndImm, Vx: x, Vy: x, Imm: DisplayWidth - 1})
	ib.Emit(IRInstr{Code: AndImm, Vx: y, Vy: y, Imm: DisplayHeight - 1})
	ib.Emit(IRInstr{Code: LoadImmediate, Vx: collisionPtr, Imm: 0})

	for row := uint32(0); row < uint32(height); row++ {
		ib.Emit(IRInstr{Code: LoadByteFromI, Vx: in, Vy: spriteBytePtr, Imm: row})

		ib.Emit(IRInstr{Code: AddImm, Vx: y, Vy: dyPtr, Imm: row})
		ib.Emit(IRInstr{Code: AndImm, Vx: dyPtr, Vy: dyPtr, Imm: DisplayHeight - 1})

		for col := uint32(0); col < 8; col++ {
			ib.Emit(IRInstr{Code: AddImm, Vx: x, Vy: dxPtr, Imm: col})
			ib.Emit(IRInstr{Code: AndImm, Vx: spriteBytePtr, Vy: scratchPtr, Imm: 0x80 >> col})

			failBlock := ib.newBlock()

			ib.Emit(IRInstr{Code: JmpZ, Vx: scratchPtr, Imm: failBlock.Index})

			ib.Emit(IRInstr{Code: AndImm, Vx: dxPtr, Vy: scratchPtr, Imm: uint32(^uint8(DisplayWidth - 1))})
			ib.Emit(IRInstr{Code: JmpNZ, Vx: scratchPtr, Imm: failBlock.Index})

			ib.Emit(IRInstr{Code: AndImm, Vx: dyPtr, Vy: scratchPtr, Imm: uint32(^uint8(DisplayHeight - 1))})
			ib.Emit(IRInstr{Code: JmpNZ, Vx: scratchPtr, Imm: failBlock.Index})

			// collision is carried as an extra RMW operand: the emitter
			// ORs the pixel's pre-XOR value into it as part of emitting
			// the XOR itself, rather than inventing a separate IR read of
			// display memory.
			ib.Emit(IRInstr{
				Code: XorDisplayMemory,
				Vx:   dxPtr, Vy: dyPtr, Imm: failBlock.Index,
				Extra: []ExtraReg{{Reg: *collisionPtr, Access: AccessVXRead | AccessVXWrite}},
			})

			ib.UseBlock(failBlock)
		}
	}

	vf := guestPtr(ib, RegVF)
	ib.Emit(IRInstr{Code: LoadReg, Vx: collisionPtr, Vy: vf})
}
