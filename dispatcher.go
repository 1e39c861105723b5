package chipz

import (
	"unsafe"

	"github.com/pkg/errors"
)

// callBlock transfers control to a compiled block (dispatcher_amd64.s):
// entry is the block's absolute address within a CodeArena, core is the
// CoreState pointer the emitted prologue loads into rbp. Implemented in
// assembly because Go has no expression for "call through this bare code
// pointer" the way cgo has for a C function pointer - this is the one spot
// in the package with no teacher/pack precedent to ground on, since
// nothing in the corpus emits and calls its own machine code at runtime
// (see DESIGN.md). Returns the next guest PC, per spec.md §6's native
// block ABI.
func callBlock(entry uintptr, core unsafe.Pointer) uint16

// Dispatcher is the JIT's block cache and execution driver. Grounded on
// original_source/core/jpu/jit/jit_manager.hpp/.cpp's JitManager: an
// unordered_map<uint16_t, JitBlock> keyed by guest entry address, compiled
// lazily the first time execution reaches an address, with the compiled
// block's own epilogue reporting "the next guest PC to resume at" back to
// the driver loop via callBlock's uint16 return value, per spec.md §6's
// native block ABI (every control-flow exit also mirrors that value into
// CoreState.PC, which is what the epilogue itself reads into the return
// register - so PC remains the authoritative, host-visible field even
// though Step captures it from callBlock's result rather than re-reading
// CoreState afterward).
type Dispatcher struct {
	core  *Core
	arena *CodeArena

	entries map[uint16]uintptr // guest PC -> absolute entry address
}

// NewDispatcher creates a dispatcher over core backed by a freshly reserved
// code arena of the given size.
func NewDispatcher(core *Core, arenaSize int) (*Dispatcher, error) {
	arena, err := NewCodeArena(arenaSize)
	if err != nil {
		return nil, err
	}
	if err := arena.Freeze(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		core:    core,
		arena:   arena,
		entries: make(map[uint16]uintptr),
	}, nil
}

// Close releases the dispatcher's code arena.
func (d *Dispatcher) Close() error { return d.arena.Close() }

// compile discovers, lowers, register-allocates, and emits the block
// starting at pc, installs it into the code arena, and returns its
// absolute entry address.
func (d *Dispatcher) compile(pc uint16) (uintptr, error) {
	blk := DiscoverBlock(d.core.Memory[:], pc)

	ib := NewIRBuilder(blk.LocalLabels)
	if err := ib.Lower(blk); err != nil {
		return 0, errors.Wrapf(err, "lowering block at 0x%04x", pc)
	}

	bc := NewBlockCompiler(ib)
	if err := bc.Compile(); err != nil {
		return 0, errors.Wrapf(err, "compiling block at 0x%04x", pc)
	}
	code := bc.Finish()

	if err := d.arena.Thaw(); err != nil {
		return 0, err
	}
	offset, err := d.arena.Write(code)
	if err != nil {
		return 0, err
	}
	if err := d.arena.Freeze(); err != nil {
		return 0, err
	}

	entry := d.arena.BasePointer() + uintptr(offset)
	d.entries[pc] = entry
	return entry, nil
}

// entryFor returns the cached entry address for pc, compiling it first on
// a cache miss.
func (d *Dispatcher) entryFor(pc uint16) (uintptr, error) {
	if entry, ok := d.entries[pc]; ok {
		return entry, nil
	}
	return d.compile(pc)
}

// Step runs one compiled block starting at CoreState.PC and returns once
// control returns to Go - which happens once per block, since a block's
// epilogue always flows from a guest control-flow instruction
// (JmpJit/JmpJitIndexed/JumpToStackWithOffsetAndDecrement) or falls
// through the discovered span's end.
func (d *Dispatcher) Step() error {
	entry, err := d.entryFor(d.core.PC)
	if err != nil {
		return err
	}
	d.core.PC = callBlock(entry, unsafe.Pointer(d.core))
	return nil
}

// Host is the collaborator a driving loop (core.go's Run, or a standalone
// frontend) supplies for the parts of guest execution that cross out of
// the JIT's own compiled code: presenting the display buffer, and an
// external stop signal. Grounded on original_source/core/jpu/core.hpp's
// CoreState/cpu/display.hpp pairing and the teacher's own
// host-collaborator shape for its coprocessor workers (coprocessor_manager.go's
// stop/done channels) - re-expressed as a small interface instead of
// bespoke channels, since here the "coprocessor" is this package's own
// compiled code rather than another CPU emulator goroutine.
type Host interface {
	// PresentDisplay is called once every framePresentInterval blocks (driven by
	// core.go's Run loop rather than by compiled code, since XorDisplayMemory
	// has no notion of frame boundaries) with the current 64x32 one-byte-
	// per-pixel buffer.
	PresentDisplay(display [DisplaySize]byte)
	// ShouldStop reports whether the run loop should exit before the next
	// block.
	ShouldStop() bool
	// Finished is invoked once, after the run loop has exited.
	Finished()
}
