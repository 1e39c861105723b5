package chipz

import "unsafe"

// Core state binary layout
// ------------------------
// Compiled blocks read and write these fields through [base + offset]
// addressing baked into the emitted machine code at compile time, so the
// field order below is frozen per spec.md §6 and SPEC_FULL.md's additive
// fields. Reordering or resizing anything breaks every block compiled
// before the change. The byte offsets themselves are computed below via
// unsafe.Offsetof rather than hand-maintained, so the Go compiler's own
// struct layout (including whatever alignment padding it inserts) is always
// the ground truth the emitter reads from — the same role the original's
// offsetof(CoreState, index_register) plays in original_source/core/jpu/
// jit/ir/ir_manager.hpp's IRReg::IN.
//
// Grounded on original_source/core/chip-core/core_state.hpp and the
// teacher's own cache-line-annotated register layout in cpu_ie32.go.
const (
	// RegisterCount is the guest's sixteen one-byte general-purpose
	// registers, V0..VF. VF additionally carries carry/borrow/shift-out
	// flags after arithmetic.
	RegisterCount = 16
	// FlagRegister is VF's index, reserved by convention for flag output.
	FlagRegister = 0xF

	// MemorySize is the guest's full addressable program memory.
	MemorySize = 0x1000
	// ProgramStart is where ROM bytes are loaded and where PC is reset to.
	ProgramStart = 0x200

	// DisplayWidth, DisplayHeight describe the 64x32 monochrome display;
	// one byte per pixel (not packed) so compiled sprite-draw code can
	// address a pixel directly instead of shifting a bitmask.
	DisplayWidth  = 64
	DisplayHeight = 32
	DisplaySize   = DisplayWidth * DisplayHeight

	// StackCapacity bounds the guest call stack. spec.md allows 16-48
	// entries; chipz uses the traditional CHIP-8 depth of 16.
	StackCapacity = 16
)

// Core is the pinned, process-wide structure holding every guest-observable
// piece of state: registers, index register, program counter, call stack,
// program memory, and display memory. Once allocated with NewCore its
// address must never change — compiled blocks carry a pointer to it,
// reserved in a callee-saved host register, and dereference its fields at
// the constant offsets below.
//
// Go's garbage collector never moves a heap object while any live pointer
// to it exists, but emitted machine code is invisible to the collector's
// pointer scan. NewCore therefore allocates Core on the heap and the rest
// of this package treats every *Core as non-movable by convention — the
// same discipline the original's "core state cannot move" comment
// documents for its C++ pointer.
type Core struct {
	V             [RegisterCount]uint8
	IndexRegister uint16
	PC            uint16

	StackSize    uint8
	StackStorage [StackCapacity]uint16

	Memory  [MemorySize]byte
	Display [DisplaySize]byte

	DelayTimer uint8
	SoundTimer uint8
	RNGState   uint32
}

// Field offsets within Core, in bytes from the base pointer, as the emitter
// bakes them into compiled machine code's [base + offset] addressing.
var (
	OffsetV             = int32(unsafe.Offsetof(Core{}.V))
	OffsetIndexRegister = int32(unsafe.Offsetof(Core{}.IndexRegister))
	OffsetPC            = int32(unsafe.Offsetof(Core{}.PC))
	OffsetStackSize     = int32(unsafe.Offsetof(Core{}.StackSize))
	OffsetStackStorage  = int32(unsafe.Offsetof(Core{}.StackStorage))
	OffsetMemory        = int32(unsafe.Offsetof(Core{}.Memory))
	OffsetDisplay       = int32(unsafe.Offsetof(Core{}.Display))
	OffsetDelayTimer    = int32(unsafe.Offsetof(Core{}.DelayTimer))
	OffsetSoundTimer    = int32(unsafe.Offsetof(Core{}.SoundTimer))
	OffsetRNGState      = int32(unsafe.Offsetof(Core{}.RNGState))
)

// defaultFont is the built-in 4x5 hexadecimal digit font, installed at
// guest address 0 by NewCore, matching the conventional CHIP-8 font
// location every guest ROM assumes LoadFont (FX29) resolves against.
var defaultFont = [80]byte{
	0xF0, 0x90, 0x90, 0x90, 0xF0, // 0
	0x20, 0x60, 0x20, 0x20, 0x70, // 1
	0xF0, 0x10, 0xF0, 0x80, 0xF0, // 2
	0xF0, 0x10, 0xF0, 0x10, 0xF0, // 3
	0x90, 0x90, 0xF0, 0x10, 0x10, // 4
	0xF0, 0x80, 0xF0, 0x10, 0xF0, // 5
	0xF0, 0x80, 0xF0, 0x90, 0xF0, // 6
	0xF0, 0x10, 0x20, 0x40, 0x40, // 7
	0xF0, 0x90, 0xF0, 0x90, 0xF0, // 8
	0xF0, 0x90, 0xF0, 0x10, 0xF0, // 9
	0xF0, 0x90, 0xF0, 0x90, 0x90, // A
	0xE0, 0x90, 0xE0, 0x90, 0xE0, // B
	0xF0, 0x80, 0x80, 0x80, 0xF0, // C
	0xE0, 0x90, 0x90, 0x90, 0xE0, // D
	0xF0, 0x80, 0xF0, 0x80, 0xF0, // E
	0xF0, 0x80, 0xF0, 0x80, 0x80, // F
}

// NewCore allocates and zero-initializes the pinned core state, installing
// the default font at offset 0. Corresponds to spec.md §6's core_new entry
// point.
func NewCore() *Core {
	c := &Core{}
	copy(c.Memory[:len(defaultFont)], defaultFont[:])
	c.RNGState = 0xC0FFEE1 // non-zero xorshift32 seed
	return c
}

// Load copies rom into guest memory starting at ProgramStart and resets PC
// there. Corresponds to spec.md §6's core_load entry point.
func (c *Core) Load(rom []byte) {
	copy(c.Memory[ProgramStart:], rom)
	c.PC = ProgramStart
}

// NextRandomByte advances the core's xorshift32 generator and returns its
// low byte, backing the IR RandByte opcode (SPEC_FULL.md's Random wiring).
func (c *Core) NextRandomByte() uint8 {
	x := c.RNGState
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	c.RNGState = x
	return uint8(x)
}
