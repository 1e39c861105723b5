package chipz

import (
	"encoding/binary"
	"testing"
)

func TestAlignUp16(t *testing.T) {
	cases := []struct{ n, want int }{
		{0, 0},
		{1, 16},
		{15, 16},
		{16, 16},
		{17, 32},
	}
	for _, c := range cases {
		if got := alignUp16(c.n); got != c.want {
			t.Errorf("alignUp16(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestAllocSpillSlotRecyclesLIFO(t *testing.T) {
	c := &BlockCompiler{}

	s0 := c.allocSpillSlot()
	s1 := c.allocSpillSlot()
	if s0 != 0 || s1 != 8 {
		t.Fatalf("fresh slots = %d, %d, want 0, 8", s0, s1)
	}

	c.freeSpillOffsets = append(c.freeSpillOffsets, s0)
	if got := c.allocSpillSlot(); got != s0 {
		t.Errorf("recycled slot = %d, want %d (the one just freed)", got, s0)
	}

	// the free list is empty again, so this one must come from the
	// still-advancing high-water mark, not a stale recycled offset.
	if got := c.allocSpillSlot(); got != 16 {
		t.Errorf("next fresh slot = %d, want 16", got)
	}
}

// TestFinishPatchesBlockJumpRelativeToPrologueAndBlockOffset hand-derives
// the prologue's byte length (Push rbp + MovRegReg rbp,rdi, both with no
// spill frame and no clobbered registers to save) to check that Finish
// resolves a patchBlock site to prologueLen + the target block's recorded
// body offset, relative to the jump instruction's own end.
func TestFinishPatchesBlockJumpRelativeToPrologueAndBlockOffset(t *testing.T) {
	body := &Asm{}
	at := body.Jmp32()

	c := &BlockCompiler{
		alloc:        &LinearRegisterAllocator{},
		body:         body,
		blockOffsets: []int{0, 100},
		patches:      []patchSite{{offset: at, kind: patchBlock, block: 1}},
	}

	out := c.Finish()

	const prologueLen = 1 /* push rbp */ + 3 /* mov rbp,rdi */
	if out[0] != 0x55 {
		t.Fatalf("out[0] = %#x, want 0x55 (push rbp)", out[0])
	}

	siteAbs := prologueLen + at
	targetAbs := prologueLen + 100
	wantRel := int32(targetAbs - (siteAbs + 4))

	gotRel := int32(binary.LittleEndian.Uint32(out[siteAbs : siteAbs+4]))
	if gotRel != wantRel {
		t.Errorf("patched rel32 = %d, want %d", gotRel, wantRel)
	}
}

func TestFinishPatchesEpilogueJumpPastTheBody(t *testing.T) {
	body := &Asm{}
	at := body.Jmp32()
	bodyLen := body.Len()

	c := &BlockCompiler{
		alloc:   &LinearRegisterAllocator{},
		body:    body,
		patches: []patchSite{{offset: at, kind: patchEpilogue}},
	}

	out := c.Finish()

	const prologueLen = 1 + 3
	siteAbs := prologueLen + at
	epilogueOffset := prologueLen + bodyLen
	wantRel := int32(epilogueOffset - (siteAbs + 4))

	gotRel := int32(binary.LittleEndian.Uint32(out[siteAbs : siteAbs+4]))
	if gotRel != wantRel {
		t.Errorf("patched rel32 = %d, want %d", gotRel, wantRel)
	}
}

// TestFinishSizesFrameForSpillSlots checks the stack frame is only
// allocated/released (SubImm+AddImm, 7 bytes each at W64 with no REX.R/B
// bits set) when a block actually used spill slots, rather than comparing
// raw bytes end to end.
func TestFinishSizesFrameForSpillSlots(t *testing.T) {
	withoutFrame := (&BlockCompiler{alloc: &LinearRegisterAllocator{}, body: &Asm{}}).Finish()
	withFrame := (&BlockCompiler{alloc: &LinearRegisterAllocator{}, body: &Asm{}, nextSpillOffset: 5}).Finish()

	const subAndAddImmBytes = 7 + 7 // groupImm(W64, no extended reg) each
	if len(withFrame) != len(withoutFrame)+subAndAddImmBytes {
		t.Errorf("len(withFrame) = %d, want %d (len(withoutFrame)=%d + %d for SubImm/AddImm)",
			len(withFrame), len(withoutFrame)+subAndAddImmBytes, len(withoutFrame), subAndAddImmBytes)
	}
}

func TestFinishPushesAndPopsClobberedRegistersInOppositeOrder(t *testing.T) {
	alloc := &LinearRegisterAllocator{clobberedRegisters: []HostReg{HR12, HR13}}
	out := (&BlockCompiler{alloc: alloc, body: &Asm{}}).Finish()

	// push rbp; mov rbp,rdi; push r12; push r13 ...(body, empty)... mov
	// rax,[rbp+PC]; pop r13; pop r12; pop rbp; ret
	// Each Push/Pop on an extended register (r12/r13, >=8) costs 2 bytes
	// (REX prefix + opcode), so the prologue's two pushes are found right
	// after the 4-byte "push rbp; mov rbp,rdi" header, in r12-then-r13
	// order, and the epilogue's two pops are the mirror image, in
	// r13-then-r12 order, immediately before the final "pop rbp; ret".
	pushR12 := []byte{0x41, 0x50 + byte(HR12)&7}
	pushR13 := []byte{0x41, 0x50 + byte(HR13)&7}
	popR13 := []byte{0x41, 0x58 + byte(HR13)&7}
	popR12 := []byte{0x41, 0x58 + byte(HR12)&7}

	header := 4
	if out[header] != pushR12[0] || out[header+1] != pushR12[1] {
		t.Errorf("first clobber push = %#x %#x, want r12's %#x %#x", out[header], out[header+1], pushR12[0], pushR12[1])
	}
	if out[header+2] != pushR13[0] || out[header+3] != pushR13[1] {
		t.Errorf("second clobber push = %#x %#x, want r13's %#x %#x", out[header+2], out[header+3], pushR13[0], pushR13[1])
	}

	tail := len(out) - 1 /* ret */ - 1 /* pop rbp */ - 2 /* pop r12 */ - 2 /* pop r13 */
	if out[tail] != popR13[0] || out[tail+1] != popR13[1] {
		t.Errorf("first epilogue pop = %#x %#x, want r13's %#x %#x", out[tail], out[tail+1], popR13[0], popR13[1])
	}
	if out[tail+2] != popR12[0] || out[tail+3] != popR12[1] {
		t.Errorf("second epilogue pop = %#x %#x, want r12's %#x %#x", out[tail+2], out[tail+3], popR12[0], popR12[1])
	}
}
