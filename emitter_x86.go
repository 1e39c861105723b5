package chipz

import "encoding/binary"

// HostReg values are x86-64's native 4-bit register encoding (the field
// ModRM.reg/rm and REX.R/X/B extend), not an abstract index remapped
// through a lookup table. rsp (4) and rbp (5) are reserved below for the
// stack pointer and the CoreState base pointer respectively and never
// appear in the allocator's free list, which is why GPRegCount is 14 and
// not 16 (fixedvec.go).
const (
	HRax HostReg = 0
	HRcx HostReg = 1
	HRdx HostReg = 2
	HRbx HostReg = 3
	HRsp HostReg = 4
	HRbp HostReg = 5
	HRsi HostReg = 6
	HRdi HostReg = 7
	HR8  HostReg = 8
	HR9  HostReg = 9
	HR10 HostReg = 10
	HR11 HostReg = 11
	HR12 HostReg = 12
	HR13 HostReg = 13
	HR14 HostReg = 14
	HR15 HostReg = 15
)

// AllocatableRegs lists the 14 host registers the allocator may hand out,
// grounded on jit_manager.cpp's TotalRegCount (16 + 2, the "+2" there being
// the IN/PC virtual slots rather than host registers) and its reservation
// of rsp/rbp as StackPointer/CoreStatePointer. Order matters: Allocate pops
// from the back of the free list, so registers least likely to need a
// REX prefix (and so produce shorter code) are listed last.
var AllocatableRegs = []HostReg{
	HR15, HR14, HR13, HR12, HR11, HR10, HR9, HR8,
	HRdi, HRsi, HRbx, HRdx, HRcx, HRax,
}

// ClobberAwareRegs are the callee-saved (per the SysV amd64 ABI) host
// registers among AllocatableRegs: the first use of one of these within a
// compiled block obligates a prologue push / epilogue pop, tracked by
// regalloc.go's tryAddClobberedRegister.
var ClobberAwareRegs = []HostReg{HRbx, HR12, HR13, HR14, HR15}

// Width selects the operand size an encoding targets, standing in for the
// original's remap_8_16/remap_16_32/remap_8_32/remap_8_64 lookup-table
// functions: rather than a table of (narrow, wide) Gp pairs, width is
// carried as data and folded directly into the REX/opcode-size bits at
// encode time.
type Width uint8

const (
	W8 Width = iota
	W16
	W32
	W64
)

// Asm is an append-only x86-64 machine code buffer. Grounded on
// tetratelabs/wazero's backend/isa/amd64 hand-encoding approach (see
// DESIGN.md): rather than depend on an external assembler, instructions
// are encoded directly as bytes, one method per instruction form, the same
// shape as a real assembler's instruction selection without its general
// operand-matching machinery (this ISA subset is small and fixed).
type Asm struct {
	buf []byte
}

// Bytes returns the encoded instruction stream so far.
func (a *Asm) Bytes() []byte { return a.buf }

// Len reports the current buffer length, used as a patch-site address.
func (a *Asm) Len() int { return len(a.buf) }

func (a *Asm) emit(b ...byte) { a.buf = append(a.buf, b...) }

func (a *Asm) emitImm32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

func (a *Asm) emitImm64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

// PatchImm32 overwrites a previously-emitted 32-bit immediate/displacement
// at byte offset at, used for the two-pass back-patch scheme (forward
// block labels, the prologue's stack-frame size).
func (a *Asm) PatchImm32(at int, v uint32) {
	binary.LittleEndian.PutUint32(a.buf[at:at+4], v)
}

func rex(w, r, x, b bool) byte {
	var v byte = 0x40
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

// needsRex8 reports whether an 8-bit operand referencing reg requires a
// REX prefix to select sil/dil/spl/bpl instead of legacy ah/ch/dh/bh - any
// register in 4..7 needs one even with W=false, R=false, X=false, B=false.
func needsRex8(reg HostReg) bool { return reg >= 4 }

func modrmReg(mod, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | (rm & 7) }

func opSizePrefix(width Width) []byte {
	if width == W16 {
		return []byte{0x66}
	}
	return nil
}

// MovRegImm loads an immediate into dst at the given width. 32-bit writes
// implicitly zero-extend to 64 bits per the amd64 architecture, which is
// why guest byte/word values are always sign-agnostic zero-extended
// through a 32-bit move when their upper bits don't matter.
func (a *Asm) MovRegImm(width Width, dst HostReg, imm uint64) {
	switch width {
	case W64:
		if dst >= 8 {
			a.emit(rex(true, false, false, true))
		} else {
			a.emit(rex(true, false, false, false))
		}
		a.emit(0xB8 + byte(dst)&7)
		a.emitImm64(imm)
	case W8:
		if needsRex8(dst) || dst >= 8 {
			a.emit(rex(false, false, false, dst >= 8))
		}
		a.emit(0xB0 + byte(dst)&7)
		a.emit(byte(imm))
	default:
		a.emit(opSizePrefix(width)...)
		if dst >= 8 {
			a.emit(rex(false, false, false, true))
		}
		a.emit(0xB8 + byte(dst)&7)
		if width == W16 {
			var tmp [2]byte
			binary.LittleEndian.PutUint16(tmp[:], uint16(imm))
			a.emit(tmp[:]...)
		} else {
			a.emitImm32(uint32(imm))
		}
	}
}

// MovRegReg copies src into dst (mov dst, src; opcode 0x89/0x88 with
// ModRM.reg=src, ModRM.rm=dst, the register-to-register form of the
// store-style MOV opcodes).
func (a *Asm) MovRegReg(width Width, dst, src HostReg) {
	a.emit(opSizePrefix(width)...)
	w := width == W64
	r := src >= 8
	b := dst >= 8
	if w || r || b || (width == W8 && (needsRex8(src) || needsRex8(dst))) {
		a.emit(rex(w, r, false, b))
	}
	op := byte(0x89)
	if width == W8 {
		op = 0x88
	}
	a.emit(op)
	a.emit(modrmReg(3, byte(src), byte(dst)))
}

// aluOp encodes a register/register ALU instruction of the form
// `op dst, src` (Intel syntax), using the "opcode /r, direction dst<-src"
// encoding (register-to-register opcode byte, ModRM.reg=src, ModRM.rm=dst
// — the 0x01/0x29/... family where the destination is the r/m operand).
func (a *Asm) aluOp(opcode8, opcode32 byte, width Width, dst, src HostReg) {
	a.emit(opSizePrefix(width)...)
	op := opcode32
	if width == W8 {
		op = opcode8
	}
	w := width == W64
	r := src >= 8
	b := dst >= 8
	if w || r || b || (width == W8 && (needsRex8(src) || needsRex8(dst))) {
		a.emit(rex(w, r, false, b))
	}
	a.emit(op)
	a.emit(modrmReg(3, byte(src), byte(dst)))
}

func (a *Asm) Add(width Width, dst, src HostReg)  { a.aluOp(0x00, 0x01, width, dst, src) }
func (a *Asm) Sub(width Width, dst, src HostReg)  { a.aluOp(0x28, 0x29, width, dst, src) }
func (a *Asm) And(width Width, dst, src HostReg)  { a.aluOp(0x20, 0x21, width, dst, src) }
func (a *Asm) Or(width Width, dst, src HostReg)   { a.aluOp(0x08, 0x09, width, dst, src) }
func (a *Asm) Xor(width Width, dst, src HostReg)  { a.aluOp(0x30, 0x31, width, dst, src) }
func (a *Asm) Cmp(width Width, dst, src HostReg)  { a.aluOp(0x38, 0x39, width, dst, src) }

// Xchg swaps a and b's contents in place (opcode 0x86/0x87, mod=3 general
// register form). XCHG does not affect any flag. No compile routine calls
// it: compileSubInverse borrows a scratch register instead.
func (a *Asm) Xchg(width Width, a_, b HostReg) {
	a.emit(opSizePrefix(width)...)
	op := byte(0x87)
	if width == W8 {
		op = 0x86
	}
	w := width == W64
	r := b >= 8
	rm := a_ >= 8
	if w || r || rm || (width == W8 && (needsRex8(a_) || needsRex8(b))) {
		a.emit(rex(w, r, false, rm))
	}
	a.emit(op)
	a.emit(modrmReg(3, byte(b), byte(a_)))
}

// groupImm encodes the 0x80/0x81 "group 1" ALU-with-immediate form:
// `op dst, imm`, where /digit selects the operation (0=ADD, 4=AND, 5=SUB,
// 7=CMP).
func (a *Asm) groupImm(digit byte, width Width, dst HostReg, imm uint32) {
	a.emit(opSizePrefix(width)...)
	w := width == W64
	b := dst >= 8
	if w || b || (width == W8 && needsRex8(dst)) {
		a.emit(rex(w, false, false, b))
	}
	if width == W8 {
		a.emit(0x80)
		a.emit(modrmReg(3, digit, byte(dst)))
		a.emit(byte(imm))
		return
	}
	a.emit(0x81)
	a.emit(modrmReg(3, digit, byte(dst)))
	if width == W16 {
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(imm))
		a.emit(tmp[:]...)
		return
	}
	a.emitImm32(imm)
}

func (a *Asm) AddImm(width Width, dst HostReg, imm uint32) { a.groupImm(0, width, dst, imm) }
func (a *Asm) OrImm(width Width, dst HostReg, imm uint32)  { a.groupImm(1, width, dst, imm) }
func (a *Asm) SubImm(width Width, dst HostReg, imm uint32) { a.groupImm(5, width, dst, imm) }
func (a *Asm) AndImm(width Width, dst HostReg, imm uint32) { a.groupImm(4, width, dst, imm) }
func (a *Asm) XorImm(width Width, dst HostReg, imm uint32) { a.groupImm(6, width, dst, imm) }
func (a *Asm) CmpImm(width Width, dst HostReg, imm uint32) { a.groupImm(7, width, dst, imm) }

// ImulImm encodes the three-operand IMUL r32, r/m32, imm32 form (0x69 /r id)
// with the same register used for both destination and source operand,
// computing dst *= imm. Used for magic-number division's final
// quotient*divisor step and for MulImm, in place of repeated shift-add
// sequences - this form needs no EAX/EDX reservation, unlike the
// one-operand MUL used for the magic multiply itself.
func (a *Asm) ImulImm(dst HostReg, imm int32) {
	w, r, b := false, dst >= 8, dst >= 8
	if w || r || b {
		a.emit(rex(w, r, false, b))
	}
	a.emit(0x69)
	a.emit(modrmReg(3, byte(dst), byte(dst)))
	a.emitImm32(uint32(imm))
}

// ShiftImm encodes the 0xC0/0xC1 group-2 shift-by-immediate-8 form;
// digit 4 = SHL, 5 = SHR (logical).
func (a *Asm) ShiftImm(width Width, digit byte, dst HostReg, by uint8) {
	w := width == W64
	b := dst >= 8
	if w || b || (width == W8 && needsRex8(dst)) {
		a.emit(rex(w, false, false, b))
	}
	op := byte(0xC1)
	if width == W8 {
		op = 0xC0
	}
	a.emit(op)
	a.emit(modrmReg(3, digit, byte(dst)))
	a.emit(by)
}

func (a *Asm) ShrImm(width Width, dst HostReg, by uint8) { a.ShiftImm(width, 5, dst, by) }
func (a *Asm) ShlImm(width Width, dst HostReg, by uint8) { a.ShiftImm(width, 4, dst, by) }

// Shr1/Shl1 encode the single-bit-shift form (0xD0/0xD1, shift count
// implicitly 1), used for the IR's ShrOne/ShlOne which also need the
// shifted-out bit preserved in the carry flag for FlagRegisterCheck.
func (a *Asm) Shr1(width Width, dst HostReg) { a.shift1(5, width, dst) }
func (a *Asm) Shl1(width Width, dst HostReg) { a.shift1(4, width, dst) }

func (a *Asm) shift1(digit byte, width Width, dst HostReg) {
	w := width == W64
	b := dst >= 8
	if w || b || (width == W8 && needsRex8(dst)) {
		a.emit(rex(w, false, false, b))
	}
	op := byte(0xD1)
	if width == W8 {
		op = 0xD0
	}
	a.emit(op)
	a.emit(modrmReg(3, digit, byte(dst)))
}

// MovzxLoad8 loads the zero-extended 8-bit value at [base+disp32] into dst
// as a 32-bit register (which also clears dst's upper 32 bits per the
// amd64 architecture).
func (a *Asm) MovzxLoad8(dst, base HostReg, disp int32) {
	a.emitRexForMem(false, dst >= 8, base >= 8)
	a.emit(0x0F, 0xB6)
	a.emitModRMDisp32(dst, base, disp)
}

// MovzxLoad16 loads the zero-extended 16-bit value at [base+disp32] into
// dst as a 32-bit register. Used instead of a plain 16-bit MOV for
// IndexRegister/PC: a 16-bit destination MOV leaves a register's upper
// bits unchanged (merge, not zero), which would let stale data from
// whatever virtual register previously occupied that host register leak
// into address arithmetic performed at 32-bit width immediately after.
func (a *Asm) MovzxLoad16(dst, base HostReg, disp int32) {
	a.emitRexForMem(false, dst >= 8, base >= 8)
	a.emit(0x0F, 0xB7)
	a.emitModRMDisp32(dst, base, disp)
}

// Load32/Store32 move a 32-bit core-state field to/from a host register.
func (a *Asm) Load32(dst, base HostReg, disp int32) {
	a.emitRexForMem(false, dst >= 8, base >= 8)
	a.emit(0x8B)
	a.emitModRMDisp32(dst, base, disp)
}

func (a *Asm) Store32(base HostReg, disp int32, src HostReg) {
	a.emitRexForMem(false, src >= 8, base >= 8)
	a.emit(0x89)
	a.emitModRMDisp32(src, base, disp)
}

// Load8/Store8 move a single byte core-state field (a V register, a
// display cell, a memory cell) to/from the low byte of a host register.
//
// Unlike the 16/32-bit loads/stores, an 8-bit operand in registers 4-7
// (rsp/rbp/rsi/rdi) needs a REX prefix even when neither register involved
// is extended (8-15): with no REX byte at all those encode the legacy
// ah/ch/dh/bh registers instead of spl/bpl/sil/dil, a different register
// entirely. needsRex8 is consulted directly against rex(), not routed
// through emitRexForMem, because emitRexForMem only emits when one of its
// own w/r/b bits is set and has no way to know needsRex8 forced the call.
func (a *Asm) Load8(dst, base HostReg, disp int32) {
	if needsRex8(dst) || dst >= 8 || base >= 8 {
		a.emit(rex(false, dst >= 8, false, base >= 8))
	}
	a.emit(0x8A)
	a.emitModRMDisp32(dst, base, disp)
}

func (a *Asm) Store8(base HostReg, disp int32, src HostReg) {
	if needsRex8(src) || src >= 8 || base >= 8 {
		a.emit(rex(false, src >= 8, false, base >= 8))
	}
	a.emit(0x88)
	a.emitModRMDisp32(src, base, disp)
}

// Load16/Store16 move a 16-bit core-state field (IndexRegister, PC).
func (a *Asm) Load16(dst, base HostReg, disp int32) {
	a.emit(0x66)
	a.emitRexForMem(false, dst >= 8, base >= 8)
	a.emit(0x8B)
	a.emitModRMDisp32(dst, base, disp)
}

func (a *Asm) Store16(base HostReg, disp int32, src HostReg) {
	a.emit(0x66)
	a.emitRexForMem(false, src >= 8, base >= 8)
	a.emit(0x89)
	a.emitModRMDisp32(src, base, disp)
}

func (a *Asm) emitRexForMem(w, r, b bool) {
	if w || r || b {
		a.emit(rex(w, r, false, b))
	}
}

// emitModRMDisp32 writes a [base+disp32] ModRM/SIB/displacement for reg,
// unconditionally using the disp32 form (mod=10) rather than picking the
// shortest disp8 encoding - simplicity over code size, matching this
// emitter's two-pass philosophy of favoring fixed-size, easily-patched
// encodings over a variable-length optimal one.
func (a *Asm) emitModRMDisp32(reg, base HostReg, disp int32) {
	rm := byte(base) & 7
	a.emit(0x80 | (byte(reg)&7)<<3 | rm)
	if rm == 4 { // rsp/r12 as base requires a SIB byte
		a.emit(0x24)
	}
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(disp))
	a.emit(tmp[:]...)
}

// Mul computes the high bits of src*rax into rdx, leaving the low bits in
// rax - the one-operand MUL form, used by magic-number division
// (magicdiv.go): the emitter loads the numerator into eax, the magic
// constant into the operand register, MUL, then shifts rdx (or rax,
// depending on width) right by the magic shift.
func (a *Asm) Mul(width Width, src HostReg) {
	w := width == W64
	b := src >= 8
	if w || b {
		a.emit(rex(w, false, false, b))
	}
	op := byte(0xF7)
	if width == W8 {
		op = 0xF6
	}
	a.emit(op)
	a.emit(modrmReg(3, 4, byte(src)))
}

// Push/Pop push/pop a 64-bit register, used for the callee-saved register
// save/restore the allocator's clobber tracking triggers.
func (a *Asm) Push(reg HostReg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x50 + byte(reg)&7)
}

func (a *Asm) Pop(reg HostReg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x58 + byte(reg)&7)
}

// Jmp32/Jcc32 emit a near jump/conditional jump with a placeholder rel32,
// returning the buffer offset of that placeholder for PatchImm32 once the
// destination is known. cc follows the Intel Jcc tttn encoding (0x84=JE,
// 0x85=JNE, 0x84 for JZ is the same opcode as JE).
func (a *Asm) Jmp32() (patchAt int) {
	a.emit(0xE9)
	at := a.Len()
	a.emitImm32(0)
	return at
}

func (a *Asm) Jcc32(cc byte) (patchAt int) {
	a.emit(0x0F, 0x80+cc)
	at := a.Len()
	a.emitImm32(0)
	return at
}

const (
	CCZ  = 0x4 // JE/JZ
	CCNZ = 0x5 // JNE/JNZ
	CCB  = 0x2 // JB/JC (unsigned below / borrow)
	CCAE = 0x3 // JAE/JNC
	CCBE = 0x6 // JBE (unsigned below-or-equal)
	CCA  = 0x7 // JA (unsigned above)
)

// SetCC writes 0 or 1 into the low byte of dst according to condition cc
// (0F 90+cc /r), used to materialize a flag into a guest register for
// FlagRegisterCheck.
func (a *Asm) SetCC(cc byte, dst HostReg) {
	if needsRex8(dst) || dst >= 8 {
		a.emit(rex(false, false, false, dst >= 8))
	}
	a.emit(0x0F, 0x90+cc)
	a.emit(modrmReg(3, 0, byte(dst)))
}

// Ret emits a near return.
func (a *Asm) Ret() { a.emit(0xC3) }

// Nop emits a single-byte no-op, used to pad a fixed-size patch site.
func (a *Asm) Nop() { a.emit(0x90) }

// CallReg emits an indirect call through a register (FF /2).
func (a *Asm) CallReg(reg HostReg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF)
	a.emit(modrmReg(3, 2, byte(reg)))
}

// JmpReg emits an indirect jump through a register (FF /4), used for the
// dispatcher's tail-call back into the block cache lookup.
func (a *Asm) JmpReg(reg HostReg) {
	if reg >= 8 {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF)
	a.emit(modrmReg(3, 4, byte(reg)))
}
