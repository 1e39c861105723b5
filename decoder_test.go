package chipz

import "testing"

func TestDecode(t *testing.T) {
	cases := []struct {
		name string
		word uint16
		want DecodedInstr
	}{
		{"clear", 0x00E0, DecodedInstr{Kind: KindNative, Imm: 0x0E0}},
		{"return", 0x00EE, DecodedInstr{Kind: KindNative, Imm: 0x0EE}},
		{"jump", 0x1234, DecodedInstr{Kind: KindJump, Imm: 0x234}},
		{"call", 0x2345, DecodedInstr{Kind: KindCall, Imm: 0x345}},
		{"skip eq reg imm", 0x3A42, DecodedInstr{Kind: KindSkipEqRegImm, Vx: 0xA, Imm: 0x42}},
		{"skip ne reg imm", 0x4B11, DecodedInstr{Kind: KindSkipNeRegImm, Vx: 0xB, Imm: 0x11}},
		{"skip eq reg reg", 0x5120, DecodedInstr{Kind: KindSkipEqRegReg, Vx: 1, Vy: 2}},
		{"load imm", 0x61FF, DecodedInstr{Kind: KindLoadImm, Vx: 1, Imm: 0xFF}},
		{"add imm", 0x7205, DecodedInstr{Kind: KindAddImm, Vx: 2, Imm: 0x05}},
		{"mov reg", 0x8120, DecodedInstr{Kind: KindMovReg, Vx: 1, Vy: 2}},
		{"or", 0x8121, DecodedInstr{Kind: KindRegOr, Vx: 1, Vy: 2}},
		{"and", 0x8122, DecodedInstr{Kind: KindRegAnd, Vx: 1, Vy: 2}},
		{"xor", 0x8123, DecodedInstr{Kind: KindRegXor, Vx: 1, Vy: 2}},
		{"add yx", 0x8124, DecodedInstr{Kind: KindRegAddYX, Vx: 1, Vy: 2}},
		{"sub yx", 0x8125, DecodedInstr{Kind: KindRegSubYX, Vx: 1, Vy: 2}},
		{"shr", 0x8126, DecodedInstr{Kind: KindRegShrXY, Vx: 1, Vy: 2}},
		{"sub xy", 0x8127, DecodedInstr{Kind: KindRegSubXY, Vx: 1, Vy: 2}},
		{"shl", 0x812E, DecodedInstr{Kind: KindRegShlXY, Vx: 1, Vy: 2}},
		{"group8 invalid", 0x8128, DecodedInstr{Kind: KindInvalid}},
		{"skip ne reg reg", 0x9120, DecodedInstr{Kind: KindSkipNeRegReg, Vx: 1, Vy: 2}},
		{"load imm i", 0xA123, DecodedInstr{Kind: KindLoadImmI, Imm: 0x123}},
		{"long jump", 0xB456, DecodedInstr{Kind: KindLongJump, Imm: 0x456}},
		{"random", 0xC20F, DecodedInstr{Kind: KindRandom, Vx: 2, Imm: 0x0F}},
		{"draw", 0xD125, DecodedInstr{Kind: KindDraw, Vx: 1, Vy: 2, Imm: 5}},
		{"skip key down", 0xE19E, DecodedInstr{Kind: KindSkipKeyDown, Vx: 1}},
		{"skip key up", 0xE1A1, DecodedInstr{Kind: KindSkipKeyUp, Vx: 1}},
		{"group e invalid", 0xE199, DecodedInstr{Kind: KindInvalid}},
		{"load reg delay", 0xF107, DecodedInstr{Kind: KindLoadRegDelay, Vx: 1}},
		{"wait key press (FX0A)", 0xF10A, DecodedInstr{Kind: KindWaitKeyPress, Vx: 1}},
		{"load delay reg (FX15)", 0xF115, DecodedInstr{Kind: KindLoadDelayReg, Vx: 1}},
		{"set sound", 0xF118, DecodedInstr{Kind: KindSetSoundReg, Vx: 1}},
		{"i add reg", 0xF11E, DecodedInstr{Kind: KindIAddReg, Vx: 1}},
		{"load font", 0xF129, DecodedInstr{Kind: KindLoadFont, Vx: 1}},
		{"bcd", 0xF133, DecodedInstr{Kind: KindBCD, Vx: 1}},
		{"range write", 0xF155, DecodedInstr{Kind: KindRangeWrite, Vx: 1}},
		{"range read", 0xF165, DecodedInstr{Kind: KindRangeRead, Vx: 1}},
		{"group f invalid", 0xF199, DecodedInstr{Kind: KindInvalid}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Decode(c.word)
			if got != c.want {
				t.Errorf("Decode(%#04x) = %+v, want %+v", c.word, got, c.want)
			}
		})
	}
}

func TestIsSkip(t *testing.T) {
	skips := []InstructionKind{KindSkipEqRegImm, KindSkipNeRegImm, KindSkipEqRegReg, KindSkipNeRegReg, KindSkipKeyDown, KindSkipKeyUp}
	for _, k := range skips {
		if !(DecodedInstr{Kind: k}).IsSkip() {
			t.Errorf("kind %d: want IsSkip true", k)
		}
	}
	if (DecodedInstr{Kind: KindJump}).IsSkip() {
		t.Error("KindJump: want IsSkip false")
	}
}

func TestChangesControlFlow(t *testing.T) {
	if !(DecodedInstr{Kind: KindNative, Imm: 0x0EE}).ChangesControlFlow() {
		t.Error("native return should change control flow")
	}
	if (DecodedInstr{Kind: KindNative, Imm: 0x0E0}).ChangesControlFlow() {
		t.Error("native clear should not change control flow")
	}
	if !(DecodedInstr{Kind: KindLongJump}).ChangesControlFlow() {
		t.Error("KindLongJump should change control flow")
	}
	if (DecodedInstr{Kind: KindAddImm}).ChangesControlFlow() {
		t.Error("KindAddImm should not change control flow")
	}
}

func TestIsClearDisplayAndIsReturn(t *testing.T) {
	if !(DecodedInstr{Kind: KindNative, Imm: 0x0E0}).IsClearDisplay() {
		t.Error("00E0 should be IsClearDisplay")
	}
	if !(DecodedInstr{Kind: KindNative, Imm: 0x0EE}).IsReturn() {
		t.Error("00EE should be IsReturn")
	}
	if (DecodedInstr{Kind: KindNative, Imm: 0x0E0}).IsReturn() {
		t.Error("00E0 should not be IsReturn")
	}
}
