// Package verify implements the structural SSA/dominance checks spec.md §5
// calls verify_function/verify_module, generalized from the teacher's
// internal/semantic registry-delegation pattern (one facade function
// walking a tree and accumulating a list of problems) from Kanso semantic
// analysis to post-pass IR structural validation.
package verify

import (
	"fmt"

	"amice-go/internal/ir"
)

// Problem is one structural violation found by Function or Module.
type Problem struct {
	Function string
	Block    string
	Message  string
}

func (p Problem) String() string {
	if p.Block != "" {
		return fmt.Sprintf("%s/%s: %s", p.Function, p.Block, p.Message)
	}
	return fmt.Sprintf("%s: %s", p.Function, p.Message)
}

// Module walks every function in m and returns every structural problem
// found; an empty result means the module passed verification.
func Module(m *ir.Module) []Problem {
	var problems []Problem
	for _, fn := range m.Functions {
		if len(fn.Blocks) == 0 {
			continue
		}
		problems = append(problems, Function(fn)...)
	}
	return problems
}

// Function verifies one function's basic blocks and SSA use-def graph:
//   - every block ends in exactly one terminator
//   - every operand's DefBlock dominates the using instruction's block,
//     or the use is a Phi incoming value from that predecessor
//   - every successor named by a block's terminator is a block of this
//     function; the blocks' own predecessor/successor lists are not
//     compared against the terminators
func Function(fn *ir.Function) []Problem {
	var problems []Problem
	entry := fn.Entry()
	if entry == nil {
		return []Problem{{Function: fn.Name, Message: "function has no entry block"}}
	}

	for _, bb := range fn.Blocks {
		if bb.Terminator == nil {
			problems = append(problems, Problem{Function: fn.Name, Block: bb.Label, Message: "block has no terminator"})
			continue
		}
		for _, succ := range bb.Terminator.Successors() {
			if succ == nil {
				continue
			}
			if !blockBelongsTo(succ, fn) {
				problems = append(problems, Problem{Function: fn.Name, Block: bb.Label,
					Message: fmt.Sprintf("terminator successor %q is not a block of this function", succ.Label)})
			}
		}
	}

	dt := ir.BuildDominatorTree(fn)
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			problems = append(problems, checkOperands(fn, dt, bb, inst)...)
		}
		if bb.Terminator != nil {
			problems = append(problems, checkOperands(fn, dt, bb, bb.Terminator)...)
		}
	}
	return problems
}

func blockBelongsTo(bb *ir.BasicBlock, fn *ir.Function) bool {
	for _, have := range fn.Blocks {
		if have == bb {
			return true
		}
	}
	return false
}

func checkOperands(fn *ir.Function, dt *ir.DominatorTree, useBlock *ir.BasicBlock, inst ir.Instruction) []Problem {
	var problems []Problem
	if phi, ok := inst.(*ir.PhiInst); ok {
		for pred, v := range phi.Incoming {
			if v == nil || v.DefBlock == nil {
				continue
			}
			if !dt.Dominates(v.DefBlock, pred) {
				problems = append(problems, Problem{Function: fn.Name, Block: useBlock.Label,
					Message: fmt.Sprintf("phi incoming value %s does not dominate predecessor %s", v, pred.Label)})
			}
		}
		return problems
	}
	for _, v := range inst.Operands() {
		if v == nil || v.DefBlock == nil {
			continue // function parameter or constant with no block
		}
		if !dt.Dominates(v.DefBlock, useBlock) {
			problems = append(problems, Problem{Function: fn.Name, Block: useBlock.Label,
				Message: fmt.Sprintf("operand %s does not dominate its use", v)})
		}
	}
	return problems
}
