package chipz

import "testing"

// vxPtr builds a RegisterPointer operand directly (bypassing guestPtr/
// tempPtr's own package-private construction paths) so a regalloc test can
// pin down exact irIndex/access-point arithmetic by hand-assembling IR
// instead of depending on however a given opcode sequence happens to lower.
func vxPtr(reg uint32, isTemp bool) *RegisterPointer {
	return &RegisterPointer{IsTemp: isTemp, Reg: reg}
}

func TestAllocateTakesFreeRegistersLastPushedFirst(t *testing.T) {
	ib := NewIRBuilder(nil)
	temp := ib.NewTemp()
	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(temp, true), Imm: 1})

	a := NewLinearRegisterAllocator()
	a.InitFreeRegs([]HostReg{10, 20, 30})
	a.Track(ib)

	act := a.Allocate(temp, 0)
	if act.Reg != 30 {
		t.Fatalf("Reg = %d, want 30 (last-pushed register popped first)", act.Reg)
	}
	// temp has no access after its own write at irIndex 0, so it defaults
	// to write-only (dead): no load needed.
	if act.Actions != ActionNone {
		t.Errorf("Actions = %d, want ActionNone (temp with no future access is dead)", act.Actions)
	}
}

func TestAllocateGuestRegisterWithNoFutureAccessStillLoads(t *testing.T) {
	ib := NewIRBuilder(nil)
	v0 := ib.AllocTempForReg(RegV0)
	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(v0, false), Imm: 5})

	a := NewLinearRegisterAllocator()
	a.InitFreeRegs([]HostReg{1})
	a.Track(ib)

	act := a.Allocate(v0, 0)
	if act.Reg != 1 {
		t.Fatalf("Reg = %d, want 1", act.Reg)
	}
	// A guest-bound register must be preserved even with no further access
	// in this block (its value still flows out to core state), so it is
	// never treated as write-only by default.
	if act.Actions != ActionLoad {
		t.Errorf("Actions = %d, want ActionLoad", act.Actions)
	}
}

func TestAllocateReusesAlreadyResidentRegister(t *testing.T) {
	ib := NewIRBuilder(nil)
	v0 := ib.AllocTempForReg(RegV0)
	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(v0, false), Imm: 5})
	ib.Emit(IRInstr{Code: WriteDelayTimer, Vx: vxPtr(v0, false)})

	a := NewLinearRegisterAllocator()
	a.InitFreeRegs([]HostReg{1})
	a.Track(ib)

	first := a.Allocate(v0, 0)
	second := a.Allocate(v0, 1)
	if second.Reg != first.Reg {
		t.Fatalf("second.Reg = %d, want %d (already resident)", second.Reg, first.Reg)
	}
	if second.Actions != ActionNone {
		t.Errorf("second.Actions = %d, want ActionNone (no work needed for an already-resident register)", second.Actions)
	}
}

// TestAllocateSpillsWhenNoFreeRegisterAndNothingDead exercises the third
// branch of Allocate: two guest registers occupy the only two free host
// registers, neither has ended nor is about to be overwritten, so a third
// virtual register forces an eviction chosen by computeRegisterDistance.
func TestAllocateSpillsWhenNoFreeRegisterAndNothingDead(t *testing.T) {
	ib := NewIRBuilder(nil)
	v0 := ib.AllocTempForReg(RegV0)
	v1 := ib.AllocTempForReg(RegV1)
	tc := ib.NewTemp()

	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(v0, false), Imm: 1})   // idx0: v0 write
	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(v1, false), Imm: 2})   // idx1: v1 write
	ib.Emit(IRInstr{Code: WriteDelayTimer, Vx: vxPtr(v0, false)})         // idx2: v0 read
	ib.Emit(IRInstr{Code: WriteDelayTimer, Vx: vxPtr(v1, false)})         // idx3: v1 read
	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(tc, true), Imm: 3})    // idx4: tc write

	a := NewLinearRegisterAllocator()
	a.InitFreeRegs([]HostReg{100, 200})
	a.Track(ib)

	actV0 := a.Allocate(v0, 0)
	if actV0.Reg != 200 {
		t.Fatalf("v0 Reg = %d, want 200", actV0.Reg)
	}
	actV1 := a.Allocate(v1, 1)
	if actV1.Reg != 100 {
		t.Fatalf("v1 Reg = %d, want 100", actV1.Reg)
	}

	actTC := a.Allocate(tc, 4)
	if actTC.Actions&ActionSpill == 0 {
		t.Fatalf("Actions = %d, want ActionSpill set", actTC.Actions)
	}
	if actTC.Actions&ActionLoad != 0 {
		t.Errorf("Actions = %d, want ActionLoad clear (tc is dead-on-write)", actTC.Actions)
	}
	if actTC.Spill.RegisterIndex != v0 {
		t.Errorf("Spill.RegisterIndex = %d, want v0 (%d) - neither candidate has an access at or after idx4, so they tie and the first resident wins", actTC.Spill.RegisterIndex, v0)
	}
	if actTC.Reg != 200 {
		t.Errorf("Reg = %d, want 200 (v0's host register, now reassigned to tc)", actTC.Reg)
	}

	if _, ok := a.CurrentReg(v0); ok {
		t.Error("CurrentReg(v0) still resident after being spilled for tc")
	}
	if reg, ok := a.CurrentReg(v1); !ok || reg != 100 {
		t.Errorf("CurrentReg(v1) = (%d, %v), want (100, true)", reg, ok)
	}
}

// TestAllocateReusesDeadResidentRegisterWithoutSpilling is the sibling
// branch: when a resident temp's remaining accesses (or total absence of
// them) are all write-only, Allocate hands its host register straight to
// the new virtual register with no ActionSpill at all. The scan picks the
// first such candidate in usedRegs order, which here is ta (allocated
// before tb).
func TestAllocateReusesDeadResidentRegisterWithoutSpilling(t *testing.T) {
	ib := NewIRBuilder(nil)
	ta := ib.NewTemp()
	tb := ib.NewTemp()
	tc := ib.NewTemp()

	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(ta, true), Imm: 1}) // idx0: ta write
	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(tb, true), Imm: 2}) // idx1: tb write
	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(tc, true), Imm: 3}) // idx2: tc write, forces a third register

	a := NewLinearRegisterAllocator()
	a.InitFreeRegs([]HostReg{100, 200})
	a.Track(ib)

	actTA := a.Allocate(ta, 0)
	a.Allocate(tb, 1)
	act := a.Allocate(tc, 2)

	if act.Actions&ActionSpill != 0 {
		t.Errorf("Actions = %d, want ActionSpill clear - ta is simply dead, not spilled", act.Actions)
	}
	if act.Actions&ActionLoad != 0 {
		t.Errorf("Actions = %d, want ActionLoad clear - tc is itself dead-on-write", act.Actions)
	}
	if act.Reg != actTA.Reg {
		t.Errorf("Reg = %d, want %d (ta's register, reused in place)", act.Reg, actTA.Reg)
	}
	if _, ok := a.CurrentReg(ta); ok {
		t.Error("CurrentReg(ta) still resident after its register was handed to tc")
	}
	if _, ok := a.CurrentReg(tb); !ok {
		t.Error("CurrentReg(tb) should remain resident: the scan picks the first dead candidate (ta), not tb")
	}
}

func TestFreeIfPossibleEvictsEndedRangesOnly(t *testing.T) {
	ib := NewIRBuilder(nil)
	v0 := ib.AllocTempForReg(RegV0)
	v1 := ib.AllocTempForReg(RegV1)

	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(v0, false), Imm: 1}) // idx0: v0 write, End=2
	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(v1, false), Imm: 2}) // idx1: v1 write, End=3
	ib.Emit(IRInstr{Code: WriteDelayTimer, Vx: vxPtr(v0, false)})       // idx2: v0 read (last touch)
	ib.Emit(IRInstr{Code: WriteDelayTimer, Vx: vxPtr(v1, false)})       // idx3: v1 read (last touch)

	a := NewLinearRegisterAllocator()
	a.InitFreeRegs([]HostReg{100, 200})
	a.Track(ib)

	a.Allocate(v0, 0)
	a.Allocate(v1, 1)

	tempSpillOffsets := map[uint32]uint32{}
	var freeSpillOffsets []uint32
	var cpuRegsToStore FixedVec[UsedRegInfo]

	a.FreeIfPossible(3, tempSpillOffsets, &freeSpillOffsets, &cpuRegsToStore)

	if _, ok := a.CurrentReg(v0); ok {
		t.Error("v0 should have been evicted: its range ended (End=2) before irIP=3")
	}
	if _, ok := a.CurrentReg(v1); !ok {
		t.Error("v1 should still be resident: its range ends exactly at irIP=3")
	}
	if cpuRegsToStore.Len() != 1 || cpuRegsToStore.At(0).RegIndex != v0 {
		t.Errorf("cpuRegsToStore = %+v, want exactly [v0]", cpuRegsToStore.Slice())
	}
}

func TestGetIRRegDistinguishesGuestFromTemp(t *testing.T) {
	ib := NewIRBuilder(nil)
	v0 := ib.AllocTempForReg(RegV0)
	tmp := ib.NewTemp()
	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(v0, false), Imm: 1})
	ib.Emit(IRInstr{Code: LoadImmediate, Vx: vxPtr(tmp, true), Imm: 2})

	a := NewLinearRegisterAllocator()
	a.Track(ib)

	if got := a.GetIRReg(v0); got != RegV0 {
		t.Errorf("GetIRReg(v0) = %d, want RegV0", got)
	}
	if got := a.GetIRReg(tmp); got != RegInvalid {
		t.Errorf("GetIRReg(tmp) = %d, want RegInvalid", got)
	}
}

func TestTryAddClobberedRegisterIsIdempotentAndFiltered(t *testing.T) {
	a := NewLinearRegisterAllocator()
	a.InitClobberAwareRegisters([]HostReg{5, 6})

	a.tryAddClobberedRegister(5)
	a.tryAddClobberedRegister(5)
	a.tryAddClobberedRegister(7) // not in the clobber-aware set: ignored

	got := a.ClobberedRegs()
	if len(got) != 1 || got[0] != 5 {
		t.Errorf("ClobberedRegs() = %v, want [5]", got)
	}
}
