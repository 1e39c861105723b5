package chipz

// Block is a discovered guest basic block: a start address, the dense
// ordered sequence of decoded instructions belonging to it, and the set of
// local jump targets inside it that must become IR block-split points.
//
// Grounded on original_source/core/jpu/jit/instruction_list.hpp/.cpp
// (InstructionList::create_block); spec.md §4.2 is this file's spec
// verbatim.
type Block struct {
	StartPC     uint16
	Instrs      []DecodedInstr
	Addrs       []uint16 // guest address of each entry in Instrs, parallel slice
	LocalLabels []uint16
}

// DiscoverBlock walks guest memory starting at pc0, decoding one word at a
// time and applying the skip/terminator rules from spec.md §4.2:
//
//  1. Invalid decode stops the block immediately (self-modifying-code
//     defence: never speculate past an unknown encoding).
//  2. A plain non-terminator instruction is appended; discovery continues.
//  3. A Jump instruction is appended; if its target lies within the span
//     discovered so far, it becomes a local label (the block can be
//     compiled as a self-loop) either way discovery stops.
//  4. Any other control-flow change that isn't a skip (call, long jump,
//     native return) is appended and stops the block.
//  5. A skip is appended, then the instruction after it is unconditionally
//     decoded and appended too (end-of-stream there is SMC and also
//     stops), with the post-skip address registered as a local label;
//     if that following instruction is itself a jump whose target lands
//     in or beside the block, the jump's target is registered too.
func DiscoverBlock(mem []byte, pc0 uint16) Block {
	b := Block{StartPC: pc0}
	stream := NewMemoryStream(mem[pc0:])
	currentPC := pc0

	for {
		if !stream.HasNext() {
			break
		}
		word := stream.NextWord()
		instrPC := currentPC
		currentPC += 2
		instr := Decode(word)

		if instr.Kind == KindInvalid {
			break
		}

		if !instr.IsSkip() {
			b.Instrs = append(b.Instrs, instr)
			b.Addrs = append(b.Addrs, instrPC)

			if instr.Kind == KindJump {
				target := instr.Imm
				if target >= pc0 && target <= currentPC {
					b.LocalLabels = append(b.LocalLabels, target)
				}
				break
			}

			if instr.ChangesControlFlow() {
				break
			}
			continue
		}

		// Skip: the instruction is always consumed, and the following
		// instruction is always decoded and appended too.
		b.Instrs = append(b.Instrs, instr)
		b.Addrs = append(b.Addrs, instrPC)

		if !stream.HasNext() {
			break
		}
		nextPC := currentPC
		nextWord := stream.NextWord()
		currentPC += 2
		next := Decode(nextWord)
		if next.Kind == KindInvalid {
			break
		}

		b.LocalLabels = append(b.LocalLabels, currentPC)

		if next.Kind == KindJump {
			target := next.Imm
			if target <= currentPC && target >= pc0 {
				b.LocalLabels = append(b.LocalLabels, target)
			}
		}

		b.Instrs = append(b.Instrs, next)
		b.Addrs = append(b.Addrs, nextPC)

		if !next.IsSkip() && next.ChangesControlFlow() {
			break
		}
	}

	return b
}
