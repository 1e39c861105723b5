package chipz

import "testing"

func TestDisassembleStopsAtEndOfMemory(t *testing.T) {
	mem := assembleWords(0x00E0, 0x00EE)
	lines := Disassemble(mem, ProgramStart, 10)

	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (Disassemble must stop at end of mem, not pad)", len(lines))
	}
	if lines[0].Address != ProgramStart || lines[1].Address != ProgramStart+2 {
		t.Errorf("addresses = %#x, %#x, want %#x, %#x", lines[0].Address, lines[1].Address, ProgramStart, ProgramStart+2)
	}
}

func TestDisassembleRespectsCount(t *testing.T) {
	mem := assembleWords(0x00E0, 0x00EE, 0x1200)
	lines := Disassemble(mem, ProgramStart, 2)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (count should cap output even with more data available)", len(lines))
	}
}

func TestMnemonicRendersEachKind(t *testing.T) {
	cases := []struct {
		word uint16
		want string
	}{
		{0x00E0, "CLS"},
		{0x00EE, "RET"},
		{0x0123, "SYS  #123"},
		{0x1234, "JP   #234"},
		{0x2345, "CALL #345"},
		{0x3A42, "SE   VA, #42"},
		{0x4B11, "SNE  VB, #11"},
		{0x5120, "SE   V1, V2"},
		{0x61FF, "LD   V1, #FF"},
		{0x7205, "ADD  V2, #05"},
		{0x8120, "LD   V1, V2"},
		{0x8121, "OR   V1, V2"},
		{0x8122, "AND  V1, V2"},
		{0x8123, "XOR  V1, V2"},
		{0x8124, "ADD  V1, V2"},
		{0x8125, "SUB  V1, V2"},
		{0x8126, "SHR  V1, V2"},
		{0x8127, "SUBN V1, V2"},
		{0x812E, "SHL  V1, V2"},
		{0x9120, "SNE  V1, V2"},
		{0xA123, "LD   IN, #123"},
		{0xB456, "JP   V0, #456"},
		{0xC20F, "RND  V2, #0F"},
		{0xD125, "DRW  V1, V2, #5"},
		{0xE19E, "SKP  V1"},
		{0xE1A1, "SKNP V1"},
		{0xF107, "LD   V1, DT"},
		{0xF10A, "LD   V1, K"},
		{0xF115, "LD   DT, V1"},
		{0xF118, "LD   ST, V1"},
		{0xF11E, "ADD  IN, V1"},
		{0xF129, "LD   F, V1"},
		{0xF133, "LD   B, V1"},
		{0xF155, "LD   [IN], V1"},
		{0xF165, "LD   V1, [IN]"},
		{0x8128, "???  #8128"}, // invalid group-8 encoding falls back to raw hex
	}

	for _, c := range cases {
		got := mnemonic(Decode(c.word), c.word)
		if got != c.want {
			t.Errorf("mnemonic(%#04X) = %q, want %q", c.word, got, c.want)
		}
	}
}
