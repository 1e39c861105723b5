package chipz

import "github.com/pkg/errors"

// framePresentInterval is how many executed blocks pass between
// PresentDisplay calls. A block boundary is the only point this package
// can cheaply observe "a batch of instructions has run" from (spec.md §6:
// "called between batches of executed instructions when the dispatcher
// chooses to emit a frame") - there is no per-guest-instruction counter
// once execution is inside compiled code.
const framePresentInterval = 64

// DefaultCodeArenaSize is the executable memory reservation Run makes when
// the caller has no opinion - generous for a guest whose entire program
// memory is 4 KiB and whose blocks are at most a few dozen instructions.
const DefaultCodeArenaSize = 4 << 20

// Run enters the dispatcher loop against core, compiling blocks on demand
// and polling host between each one. Corresponds to spec.md §6's
// core_run(core) entry point; host.Finished runs once, whether the loop
// exited because host.ShouldStop returned true or because compilation
// failed.
func Run(core *Core, host Host) error {
	return RunWithArena(core, host, DefaultCodeArenaSize)
}

// RunWithArena is Run with an explicit code arena size, for callers
// (cmd/chipzjit, tests) that want to bound or inspect executable memory
// usage directly instead of taking DefaultCodeArenaSize.
func RunWithArena(core *Core, host Host, arenaSize int) error {
	d, err := NewDispatcher(core, arenaSize)
	if err != nil {
		return errors.Wrap(err, "starting dispatcher")
	}
	defer d.Close()

	var blocksRun uint64
	for !host.ShouldStop() {
		if err := d.Step(); err != nil {
			host.Finished()
			return errors.Wrap(err, "dispatcher step")
		}
		blocksRun++
		if blocksRun%framePresentInterval == 0 {
			host.PresentDisplay(core.Display)
		}
	}
	host.Finished()
	return nil
}
