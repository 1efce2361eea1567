package passutil

import "amice-go/internal/ir"

// DemoteSwitchToIf rewrites a block ending in a SwitchInst into a chain of
// blocks that each test one case with an icmp-eq plus a two-way conditional
// branch, behaviorally equivalent to the switch but expressible with the
// simple two-successor terminators flatten's per-block dispatch rewrite
// already understands. Returns every block in the resulting chain
// (including bb itself, always first) so the caller can fold them into its
// own block set. If bb does not end in a switch, returns bb unchanged as
// the sole element. Grounded on original_source's demote_switch_to_if,
// shared between flatten and flattendom since both lower a switch before
// assigning dispatch ids (spec.md §4.3 step 5, §4.4).
func DemoteSwitchToIf(fn *ir.Function, m *ir.Module, bb *ir.BasicBlock) []*ir.BasicBlock {
	sw, ok := bb.Terminator.(*ir.SwitchInst)
	if !ok {
		return []*ir.BasicBlock{bb}
	}

	bits := 32
	if it, ok := sw.Cond.Type.(ir.IntType); ok {
		bits = it.Bits
	}

	chain := []*ir.BasicBlock{bb}
	current := bb
	for i, c := range sw.Cases {
		isLast := i == len(sw.Cases)-1
		falseTarget := sw.Default
		var next *ir.BasicBlock
		if !isLast {
			next = fn.InsertBlockAfter(current, bb.Label+".switch")
			falseTarget = next
		}

		bld := ir.NewBuilder(m, fn, current)
		constVal := bld.ConstI(bits, c.Value)
		cmp := bld.ICmp(ir.ICmpEQ, sw.Cond, constVal)
		current.SetTerminator(ir.NewConditionalBranch(fn, cmp, c.Dest, falseTarget))

		if !isLast {
			chain = append(chain, next)
			current = next
		}
	}
	if len(sw.Cases) == 0 {
		current.SetTerminator(ir.NewUnconditionalBranch(fn, sw.Default))
	}
	return chain
}
