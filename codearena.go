package chipz

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pageSize is fixed at the common 4KiB rather than queried from the OS:
// compiled blocks are small (a handful of instructions) and arena growth
// happens in whole-page steps regardless, so a conservative fixed size
// costs nothing and keeps CodeArena allocation-free to construct.
const pageSize = 4096

// CodeArena is an executable memory region compiled blocks are written
// into. Grounded on SPEC_FULL.md's domain-stack wiring of
// golang.org/x/sys/unix for the mmap/mprotect pair a JIT needs and Go's
// runtime cannot provide on its own (the standard heap is never
// executable); no file in the teacher grounds the write-then-protect (map
// RW, write bytes, mprotect to RX) W^X sequence itself — the teacher is a
// software interpreter with no executable code buffers anywhere in it —
// so this discipline is this file's own, driven directly by what mmap/
// mprotect require.
type CodeArena struct {
	mem    []byte
	used   int
	frozen bool
}

// NewCodeArena reserves size bytes (rounded up to a whole number of
// pages) of anonymous, read-write memory.
func NewCodeArena(size int) (*CodeArena, error) {
	size = (size + pageSize - 1) &^ (pageSize - 1)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "mmap code arena")
	}
	return &CodeArena{mem: mem}, nil
}

// Write copies code into the arena at its current write cursor and
// returns that copy's byte offset from BasePointer; the copy is executable
// once Freeze has run.
// Write panics once the arena is frozen: compiled blocks are appended
// exactly once and never rewritten in place (spec.md's no-invalidation
// Non-goal).
func (c *CodeArena) Write(code []byte) (offset int, err error) {
	if c.frozen {
		panic("chipz: write to a frozen code arena")
	}
	if c.used+len(code) > len(c.mem) {
		return 0, errors.Errorf("code arena exhausted: %d bytes requested, %d remaining", len(code), len(c.mem)-c.used)
	}
	offset = c.used
	copy(c.mem[offset:], code)
	c.used += len(code)
	return offset, nil
}

// Freeze mprotects the arena RX, making every Write'd block executable
// and none writable (W^X). Subsequent Write calls panic.
func (c *CodeArena) Freeze() error {
	if c.frozen {
		return nil
	}
	if err := unix.Mprotect(c.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return errors.Wrap(err, "mprotect code arena executable")
	}
	c.frozen = true
	return nil
}

// Thaw mprotects the arena back to RW so further blocks can be Write'n,
// the inverse of Freeze. The dispatcher calls this before installing each
// newly compiled block and calls Freeze right after the Write: a block's
// bytes are never rewritten once Frozen again, so the region is never simultaneously writable and
// executable, only toggled between the two a block at a time.
func (c *CodeArena) Thaw() error {
	if !c.frozen {
		return nil
	}
	if err := unix.Mprotect(c.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return errors.Wrap(err, "mprotect code arena writable")
	}
	c.frozen = false
	return nil
}

// Close unmaps the arena.
func (c *CodeArena) Close() error {
	if c.mem == nil {
		return nil
	}
	err := unix.Munmap(c.mem)
	c.mem = nil
	return err
}

// BasePointer returns the arena's base address as a raw pointer value,
// used to turn a Write offset into an absolute entry point for callBlock.
func (c *CodeArena) BasePointer() uintptr {
	if len(c.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&c.mem[0]))
}
