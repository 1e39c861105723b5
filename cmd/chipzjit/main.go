// Command chipzjit loads a CHIP-8-family ROM and drives it through the
// translation pipeline until a step budget is exhausted or the process
// receives an interrupt. There is no display, audio, or keyboard backend
// here: spec.md places all of those out of scope as external collaborator
// concerns, so this tool's Host implementation only satisfies the
// contract, optionally rendering the display as an ANSI block grid when
// stdout is a terminal.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/abysal/chipz"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		maxBlocks int64
		present   bool
		arenaSize int
	)

	cmd := &cobra.Command{
		Use:   "chipzjit <rom>",
		Short: "Compile and run a CHIP-8-family ROM through the JIT pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rom, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			core := chipz.NewCore()
			core.Load(rom)

			host := newCLIHost(maxBlocks, present && term.IsTerminal(int(os.Stdout.Fd())))
			defer host.stopCatching()

			return chipz.RunWithArena(core, host, arenaSize)
		},
	}

	cmd.Flags().Int64Var(&maxBlocks, "max-blocks", 0, "stop after this many compiled blocks run (0 = unbounded, until interrupted)")
	cmd.Flags().BoolVar(&present, "print-display", false, "render the display buffer to the terminal between frames")
	cmd.Flags().IntVar(&arenaSize, "arena-size", chipz.DefaultCodeArenaSize, "executable code arena size in bytes")

	return cmd
}

// cliHost is chipzjit's Host: a step budget plus SIGINT, and an optional
// ANSI renderer for the display buffer. Grounded on the teacher's
// terminal-gated debug output (golang.org/x/term's IsTerminal) rather than
// always emitting escape codes, since chipzjit's stdout may itself be
// redirected to a file or pipe.
type cliHost struct {
	maxBlocks int64
	blocksRun int64
	present   bool

	sigCh chan os.Signal
	stop  atomic.Bool
}

func newCLIHost(maxBlocks int64, present bool) *cliHost {
	h := &cliHost{maxBlocks: maxBlocks, present: present, sigCh: make(chan os.Signal, 1)}
	signal.Notify(h.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-h.sigCh; ok {
			h.stop.Store(true)
		}
	}()
	return h
}

func (h *cliHost) stopCatching() { signal.Stop(h.sigCh); close(h.sigCh) }

func (h *cliHost) PresentDisplay(display [chipz.DisplaySize]byte) {
	if !h.present {
		return
	}
	var b strings.Builder
	b.WriteString("\x1b[H\x1b[2J")
	for y := 0; y < chipz.DisplayHeight; y++ {
		for x := 0; x < chipz.DisplayWidth; x++ {
			if display[y*chipz.DisplayWidth+x] != 0 {
				b.WriteByte('#')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}
	os.Stdout.WriteString(b.String())
}

func (h *cliHost) ShouldStop() bool {
	if h.stop.Load() {
		return true
	}
	if h.maxBlocks > 0 && h.blocksRun >= h.maxBlocks {
		return true
	}
	h.blocksRun++
	return false
}

func (h *cliHost) Finished() {
	fmt.Fprintf(os.Stderr, "chipzjit: stopped after %d blocks\n", h.blocksRun)
}
