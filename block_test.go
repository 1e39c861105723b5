package chipz

import "testing"

// assembleWords lays words out starting at ProgramStart with no trailing
// padding: DiscoverBlock's MemoryStream.HasNext reports false the instant
// the last word is consumed, so a test's word list is exactly what gets
// decoded - there is no implicit zero-word terminator to account for.
func assembleWords(words ...uint16) []byte {
	mem := make([]byte, ProgramStart+len(words)*2)
	addr := ProgramStart
	for _, w := range words {
		mem[addr] = byte(w >> 8)
		mem[addr+1] = byte(w)
		addr += 2
	}
	return mem
}

func TestDiscoverBlockStraightLineStopsAtJump(t *testing.T) {
	mem := assembleWords(
		0x6005, // LD V0, #05
		0x7101, // ADD V1, #01
		0x1200, // JP #200 (self loop)
	)
	blk := DiscoverBlock(mem, ProgramStart)

	if len(blk.Instrs) != 3 {
		t.Fatalf("got %d instructions, want 3", len(blk.Instrs))
	}
	if blk.Instrs[2].Kind != KindJump {
		t.Fatalf("last instruction kind = %d, want KindJump", blk.Instrs[2].Kind)
	}
	if len(blk.LocalLabels) != 1 || blk.LocalLabels[0] != ProgramStart {
		t.Fatalf("LocalLabels = %v, want [%#04x] (self-loop target)", blk.LocalLabels, ProgramStart)
	}
}

func TestDiscoverBlockStopsAtInvalidEncoding(t *testing.T) {
	mem := assembleWords(
		0x6005, // LD V0, #05
		0x8128, // invalid group-8 fourth nibble
		0x1200,
	)
	blk := DiscoverBlock(mem, ProgramStart)

	if len(blk.Instrs) != 1 {
		t.Fatalf("got %d instructions, want 1 (stop before invalid decode)", len(blk.Instrs))
	}
}

func TestDiscoverBlockSkipConsumesBothInstructions(t *testing.T) {
	mem := assembleWords(
		0x3005, // SE V0, #05
		0x6101, // LD V1, #01 (the "maybe skipped" instruction)
		0x7101, // ADD V1, #01 (straight-line continuation)
	)
	blk := DiscoverBlock(mem, ProgramStart)

	if len(blk.Instrs) != 3 {
		t.Fatalf("got %d instructions, want 3 (skip + skipped + continuation)", len(blk.Instrs))
	}
	if blk.Instrs[0].Kind != KindSkipEqRegImm {
		t.Fatalf("first instruction kind = %d, want KindSkipEqRegImm", blk.Instrs[0].Kind)
	}
	wantLabel := ProgramStart + 4 // address right after the skipped instruction
	found := false
	for _, l := range blk.LocalLabels {
		if l == uint16(wantLabel) {
			found = true
		}
	}
	if !found {
		t.Errorf("LocalLabels = %v, want it to contain %#04x (post-skip address)", blk.LocalLabels, wantLabel)
	}
}

func TestDiscoverBlockStopsAtCall(t *testing.T) {
	mem := assembleWords(
		0x6005, // LD V0, #05
		0x2300, // CALL #300
		0x7101, // would not be reached by this block
	)
	blk := DiscoverBlock(mem, ProgramStart)

	if len(blk.Instrs) != 2 {
		t.Fatalf("got %d instructions, want 2 (stop at call)", len(blk.Instrs))
	}
	if blk.Instrs[1].Kind != KindCall {
		t.Fatalf("last instruction kind = %d, want KindCall", blk.Instrs[1].Kind)
	}
}

func TestDiscoverBlockAddrsAreParallelToInstrs(t *testing.T) {
	mem := assembleWords(0x6005, 0x7101, 0x1200)
	blk := DiscoverBlock(mem, ProgramStart)

	if len(blk.Addrs) != len(blk.Instrs) {
		t.Fatalf("len(Addrs)=%d, len(Instrs)=%d, want equal", len(blk.Addrs), len(blk.Instrs))
	}
	for i, addr := range blk.Addrs {
		want := uint16(ProgramStart + i*2)
		if addr != want {
			t.Errorf("Addrs[%d] = %#04x, want %#04x", i, addr, want)
		}
	}
}
