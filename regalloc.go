package chipz

import "math"

// HostReg is an opaque host register identifier. The allocator never
// interprets its value; emitter_x86.go maps it to concrete amd64 encodings
// and width aliases.
type HostReg uint8

// AccessKind tags one access point on a virtual register's live range.
// Grounded on linear_register_allocator.hpp's AccessType.
type AccessKind uint8

const (
	AccessRead      AccessKind = 1
	AccessWrite     AccessKind = 2
	AccessReadWrite AccessKind = AccessRead | AccessWrite
)

// AccessPoint records one (ir_index, kind) touch of a virtual register.
type AccessPoint struct {
	IRIndex uint32
	Kind    AccessKind
}

// LiveRange is the allocator's per-virtual-register bookkeeping: the span
// of IR indices across which the register is live, and the ordered list of
// access points within that span. Grounded on
// linear_register_allocator.hpp's RegisterLiveRange.
type LiveRange struct {
	Start   uint32
	End     uint32
	Touched bool // Start/End have been set by at least one access point
	Accesses []AccessPoint
}

// UsedRegInfo pairs a currently-held host register with the virtual
// register id it's standing in for.
type UsedRegInfo struct {
	RegIndex uint32
	Reg      HostReg
}

// Action is a bitmask of the work the emitter must perform around an
// allocation decision. Grounded on linear_register_allocator.hpp's Actions
// enum; note Spill combines with either None or Load, never stands alone.
type Action uint8

const (
	ActionSpill Action = 1 << iota
	ActionLoad
	ActionNone
)

// SpillInfo names the virtual register evicted to make room, when Action
// includes ActionSpill.
type SpillInfo struct {
	RegisterIndex uint32
}

// RequiredAction is the allocator's answer to "give me a host register for
// this virtual register at this IR index": which host register, and what
// load/spill bookkeeping the emitter must also perform.
type RequiredAction struct {
	Actions Action
	Spill   SpillInfo
	Reg     HostReg
}

// regMapEntry associates a virtual register id with the guest IRReg it
// represents (RegInvalid for plain temporaries).
type regMapEntry struct {
	index uint32
	reg   IRReg
}

// LinearRegisterAllocator is the single-pass, on-demand allocator from
// spec.md §4.4. Grounded line for line on
// original_source/core/jpu/jit/linear_register_allocator.hpp/.cpp; the
// Go-idiomatic split between this type (pure bookkeeping) and the emitter
// (the only thing that actually moves bytes) follows the same
// allocator/backend boundary tetratelabs/wazero draws between its
// backend/regalloc package and backend/isa/amd64.
type LinearRegisterAllocator struct {
	registerMap            []regMapEntry
	clobberAwareRegisters  []HostReg
	clobberedRegisters     []HostReg
	registers              []LiveRange
	freeRegs               []HostReg
	usedRegs               []UsedRegInfo
}

// NewLinearRegisterAllocator creates an allocator ready for Track.
func NewLinearRegisterAllocator() *LinearRegisterAllocator {
	return &LinearRegisterAllocator{}
}

// InitFreeRegs installs the set of host registers available for
// allocation, most-preferred last (allocate pops from the back).
func (a *LinearRegisterAllocator) InitFreeRegs(regs []HostReg) {
	a.freeRegs = append([]HostReg(nil), regs...)
}

// InitClobberAwareRegisters installs the callee-saved host registers: using
// one for the first time obligates a prologue/epilogue save/restore.
func (a *LinearRegisterAllocator) InitClobberAwareRegisters(regs []HostReg) {
	a.clobberAwareRegisters = append([]HostReg(nil), regs...)
}

// ClobberedRegs reports every callee-saved host register the allocator
// handed out during this compilation, for the emitter's Pass B
// prologue/epilogue backfill.
func (a *LinearRegisterAllocator) ClobberedRegs() []HostReg { return a.clobberedRegisters }

// Track runs liveness (spec.md §4.4 Pass 1): walk every block's
// instructions in order, assigning a monotonically increasing ir_index,
// and record an access point on each operand's live range per the static
// access table.
func (a *LinearRegisterAllocator) Track(ib *IRBuilder) {
	a.registerMap = make([]regMapEntry, 0, len(ib.RegTemps()))
	for _, e := range ib.RegTemps() {
		a.registerMap = append(a.registerMap, regMapEntry{index: e.id, reg: e.reg})
	}
	a.registers = make([]LiveRange, ib.TempCount())

	var irIndex uint32
	for _, block := range ib.Blocks() {
		for _, instr := range block.Instructions {
			access := AccessInfo(instr)

			if instr.Vx != nil {
				a.addAccessPoint(instr.Vx.Reg, irIndex,
					access&AccessVXRead != 0, access&AccessVXWrite != 0)
			}
			if instr.Vy != nil {
				a.addAccessPoint(instr.Vy.Reg, irIndex,
					access&AccessVYRead != 0, access&AccessVYWrite != 0)
			}
			for _, extra := range instr.Extra {
				a.addAccessPoint(extra.Reg.Reg, irIndex,
					extra.Access&AccessVXRead != 0, extra.Access&AccessVXWrite != 0)
			}

			irIndex++
		}
	}
}

func (a *LinearRegisterAllocator) addAccessPoint(regIndex uint32, irIndex uint32, read, write bool) {
	rng := &a.registers[regIndex]
	if irIndex > rng.End || !rng.Touched {
		rng.End = irIndex
	}
	if !rng.Touched {
		rng.Start = irIndex
		rng.Touched = true
	}

	var kind AccessKind
	switch {
	case read && write:
		kind = AccessReadWrite
	case write:
		kind = AccessWrite
	default:
		kind = AccessRead
	}
	rng.Accesses = append(rng.Accesses, AccessPoint{IRIndex: irIndex, Kind: kind})
}

// FreeIfPossible evicts every host register whose owning virtual register
// has ended (range.End < irIP). Evicted guest-bound registers are
// appended to cpuRegsToStore so the emitter can flush them to core state;
// evicted temporaries with a spill slot have that slot released onto
// freeSpillOffsets.
func (a *LinearRegisterAllocator) FreeIfPossible(
	irIP uint32,
	tempSpillOffsets map[uint32]uint32,
	freeSpillOffsets *[]uint32,
	cpuRegsToStore *FixedVec[UsedRegInfo],
) {
	kept := a.usedRegs[:0]
	for _, reg := range a.usedRegs {
		if a.registers[reg.RegIndex].End >= irIP {
			kept = append(kept, reg)
			continue
		}

		a.freeRegs = append(a.freeRegs, reg.Reg)
		if a.isCPUReg(reg.RegIndex) {
			cpuRegsToStore.Push(reg)
		}
		if offset, ok := tempSpillOffsets[reg.RegIndex]; ok {
			*freeSpillOffsets = append(*freeSpillOffsets, offset)
			delete(tempSpillOffsets, reg.RegIndex)
		}
	}
	a.usedRegs = kept
}

// Allocate answers the per-instruction allocation question from spec.md
// §4.4 Pass 2 for the virtual register regIndex at IR index irIP.
func (a *LinearRegisterAllocator) Allocate(regIndex uint32, irIP uint32) RequiredAction {
	for _, used := range a.usedRegs {
		if used.RegIndex == regIndex {
			return RequiredAction{Actions: ActionNone, Reg: used.Reg}
		}
	}

	writeOnly := a.NextAccessIsWriteOnly(regIndex, irIP)
	actionBase := ActionLoad
	if writeOnly {
		actionBase = ActionNone
	}

	if len(a.freeRegs) > 0 {
		reg := a.freeRegs[len(a.freeRegs)-1]
		a.freeRegs = a.freeRegs[:len(a.freeRegs)-1]
		a.usedRegs = append(a.usedRegs, UsedRegInfo{RegIndex: regIndex, Reg: reg})
		a.tryAddClobberedRegister(reg)
		return RequiredAction{Actions: actionBase, Reg: reg}
	}

	for i := range a.usedRegs {
		if a.NextAccessIsWriteOnly(a.usedRegs[i].RegIndex, irIP) {
			a.usedRegs[i].RegIndex = regIndex
			return RequiredAction{Actions: actionBase, Reg: a.usedRegs[i].Reg}
		}
	}

	// Nothing free and nothing dead: evict whichever resident register's
	// next access is furthest away.
	var distance int64 = -1
	spilled := 0
	for i := range a.usedRegs {
		d := a.computeRegisterDistance(a.usedRegs[i].RegIndex, irIP)
		if d > distance {
			distance = d
			spilled = i
		}
	}

	spiltIndex := a.usedRegs[spilled].RegIndex
	a.usedRegs[spilled].RegIndex = regIndex

	return RequiredAction{
		Actions: actionBase | ActionSpill,
		Spill:   SpillInfo{RegisterIndex: spiltIndex},
		Reg:     a.usedRegs[spilled].Reg,
	}
}

// CurrentReg reports the host register currently holding regIndex's value,
// if any.
func (a *LinearRegisterAllocator) CurrentReg(regIndex uint32) (HostReg, bool) {
	for _, used := range a.usedRegs {
		if used.RegIndex == regIndex {
			return used.Reg, true
		}
	}
	return 0, false
}

// UsedRegs returns every virtual/host register pair currently resident,
// for the emitter's end-of-block flush of guest-bound registers back to
// CoreState.
func (a *LinearRegisterAllocator) UsedRegs() []UsedRegInfo { return a.usedRegs }

// GetIRReg reports the guest register a virtual register id stands for, or
// RegInvalid for a plain temporary.
func (a *LinearRegisterAllocator) GetIRReg(reg uint32) IRReg {
	for _, e := range a.registerMap {
		if e.index == reg {
			return e.reg
		}
	}
	return RegInvalid
}

// NextAccessIsWriteOnly reports whether reg's next access at or after irIP
// is a pure write — in which case its current value is dead and can be
// overwritten without a load. A guest-bound register with no future access
// must still be preserved (its value flows to core state at block exit),
// so the predicate defaults to false there; a temporary with no future
// access is simply dead, defaulting to true.
func (a *LinearRegisterAllocator) NextAccessIsWriteOnly(reg uint32, irIP uint32) bool {
	accesses := a.registers[reg].Accesses
	idx := upperBound(accesses, irIP)
	if idx == len(accesses) {
		return !a.isCPUReg(reg)
	}
	return accesses[idx].Kind == AccessWrite
}

// computeRegisterDistance returns how many IR indices until reg's next
// access at or after irIP, or math.MaxInt64 if there is none (a safe
// "evict me first" value, since Allocate evicts the largest distance).
func (a *LinearRegisterAllocator) computeRegisterDistance(reg uint32, irIP uint32) int64 {
	accesses := a.registers[reg].Accesses
	idx := upperBoundStrict(accesses, irIP)
	if idx == len(accesses) {
		return math.MaxInt64
	}
	return int64(accesses[idx].IRIndex) - int64(irIP)
}

func (a *LinearRegisterAllocator) isCPUReg(reg uint32) bool {
	for _, e := range a.registerMap {
		if e.index == reg {
			return e.reg != RegInvalid
		}
	}
	return false
}

func (a *LinearRegisterAllocator) tryAddClobberedRegister(reg HostReg) {
	for _, r := range a.clobberedRegisters {
		if r == reg {
			return
		}
	}
	for _, r := range a.clobberAwareRegisters {
		if r == reg {
			a.clobberedRegisters = append(a.clobberedRegisters, reg)
			return
		}
	}
}

// upperBound returns the index of the first access with IRIndex > ip
// (std::upper_bound with `compare <= info.index`, i.e. strictly-greater
// comparator matching next_access_is_write_only's semantics).
func upperBound(accesses []AccessPoint, ip uint32) int {
	lo, hi := 0, len(accesses)
	for lo < hi {
		mid := (lo + hi) / 2
		if ip < accesses[mid].IRIndex {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// upperBoundStrict returns the index of the first access with
// IRIndex >= ip, matching compute_register_distance's comparator
// (`compare < info.index`), which differs from upperBound by including an
// access exactly at ip itself.
func upperBoundStrict(accesses []AccessPoint, ip uint32) int {
	lo, hi := 0, len(accesses)
	for lo < hi {
		mid := (lo + hi) / 2
		if ip <= accesses[mid].IRIndex {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
