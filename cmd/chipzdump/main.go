// Command chipzdump inspects a CHIP-8-family ROM offline: linear
// disassembly, basic-block discovery, and an interactive pager over the
// disassembly, none of which needs the JIT to actually run the ROM.
package main

import (
	"bufio"
	"fmt"
	"os"

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
	cmd := &cobra.Command{
		Use:   "chipzdump",
		Short: "Disassemble and inspect CHIP-8-family ROMs",
	}
	cmd.AddCommand(newDisasmCmd(), newBlocksCmd(), newBrowseCmd())
	return cmd
}

// loadROM builds a Core with rom installed at ProgramStart, the same
// layout NewCore/Load give the real dispatcher, so chipzdump's block
// discovery sees exactly what chipzjit would compile.
func loadROM(path string) (*chipz.Core, error) {
	rom, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	core := chipz.NewCore()
	core.Load(rom)
	return core, nil
}

func newDisasmCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "disasm <rom>",
		Short: "Linear disassembly starting at the ROM's entry point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := loadROM(args[0])
			if err != nil {
				return err
			}
			for _, line := range chipz.Disassemble(core.Memory[:], chipz.ProgramStart, count) {
				fmt.Printf("%04X: %04X  %s\n", line.Address, line.Word, line.Mnemonic)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 256, "number of words to disassemble")
	return cmd
}

func newBlocksCmd() *cobra.Command {
	var max int
	cmd := &cobra.Command{
		Use:   "blocks <rom>",
		Short: "Discover basic blocks reachable from the ROM's entry point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := loadROM(args[0])
			if err != nil {
				return err
			}
			for _, blk := range discoverReachableBlocks(core, max) {
				fmt.Printf("block 0x%04X: %d instruction(s)\n", blk.StartPC, len(blk.Instrs))
				for i, addr := range blk.Addrs {
					word := uint16(core.Memory[addr])<<8 | uint16(core.Memory[addr+1])
					fmt.Printf("  %04X: %04X  %s\n", addr, word, mnemonicAt(core, addr))
					_ = i
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&max, "max-blocks", 64, "stop discovering after this many blocks")
	return cmd
}

func mnemonicAt(core *chipz.Core, addr uint16) string {
	lines := chipz.Disassemble(core.Memory[:], addr, 1)
	if len(lines) == 0 {
		return "???"
	}
	return lines[0].Mnemonic
}

// discoverReachableBlocks walks DiscoverBlock breadth-first from
// ProgramStart, following every block's statically-known successor
// addresses (its own fall-through end and any literal jump/call/skip
// target DiscoverBlock recorded) until max blocks have been visited or no
// new addresses remain - chipzdump has no dispatcher driving this from
// actual execution, so it approximates reachability the same way the
// block discovery pass itself only ever sees addresses, never runtime
// register values (an indirect BNNN jump's target is simply not followed
// here, same limitation DiscoverBlock itself has at compile time).
func discoverReachableBlocks(core *chipz.Core, max int) []chipz.Block {
	seen := map[uint16]bool{}
	queue := []uint16{chipz.ProgramStart}
	var out []chipz.Block

	for len(queue) > 0 && len(out) < max {
		pc := queue[0]
		queue = queue[1:]
		if seen[pc] {
			continue
		}
		seen[pc] = true

		blk := chipz.DiscoverBlock(core.Memory[:], pc)
		out = append(out, blk)

		for _, target := range blockSuccessors(blk) {
			if !seen[target] {
				queue = append(queue, target)
			}
		}
	}
	return out
}

// newBrowseCmd pages through a ROM's linear disassembly one terminal-height
// screenful at a time, advancing on any keypress and quitting on 'q'.
// Grounded on golang.org/x/term's raw-mode idiom (the same package the
// teacher depends on directly for its own machine-monitor terminal): raw
// mode is needed so a single keystroke advances the page without waiting
// for Enter, which a normal cooked-mode stdin read cannot do.
func newBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse <rom>",
		Short: "Interactively page through a ROM's disassembly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := loadROM(args[0])
			if err != nil {
				return err
			}

			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				return fmt.Errorf("browse requires an interactive terminal on stdin")
			}

			_, height, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil || height <= 1 {
				height = 24
			}
			pageSize := height - 1

			old, err := term.MakeRaw(fd)
			if err != nil {
				return err
			}
			defer term.Restore(fd, old)

			in := bufio.NewReader(os.Stdin)
			addr := uint16(chipz.ProgramStart)
			for {
				lines := chipz.Disassemble(core.Memory[:], addr, pageSize)
				if len(lines) == 0 {
					fmt.Print("-- end --\r\n")
					return nil
				}
				for _, line := range lines {
					fmt.Printf("%04X: %04X  %s\r\n", line.Address, line.Word, line.Mnemonic)
				}
				fmt.Print("-- more (any key, q to quit) --\r\n")

				b, err := in.ReadByte()
				if err != nil || b == 'q' || b == 'Q' || b == 3 /* Ctrl-C */ {
					return nil
				}
				addr = lines[len(lines)-1].Address + 2
			}
		},
	}
}

// blockSuccessors returns the literal-target addresses a block might jump
// to next: its own fall-through end, plus the operand of a trailing
// jump/call whose target chipzdump can read directly off the decoded
// instruction (skip and conditional-branch targets already appear as the
// fall-through end, since DiscoverBlock always includes both sides of a
// skip in one block).
func blockSuccessors(blk chipz.Block) []uint16 {
	end := blk.StartPC
	for _, addr := range blk.Addrs {
		if addr+2 > end {
			end = addr + 2
		}
	}
	successors := []uint16{end}

	if n := len(blk.Instrs); n > 0 {
		last := blk.Instrs[n-1]
		switch last.Kind {
		case chipz.KindJump, chipz.KindCall:
			successors = append(successors, last.Imm)
		}
	}
	return successors
}
