// Package flatten implements basic control-flow flattening: every "real"
// block in a function is reassigned a random dispatch id, and a single
// dispatcher block switches to whichever block the current id names, so the
// function's original block order no longer appears anywhere in the control
// flow graph. Grounded on original_source's src/aotu/flatten/mod.rs and
// cf_flatten_basic.rs.
package flatten

import (
	mrand "math/rand"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
)

type Pass struct {
	cfg config.FlattenConfig
	rng *mrand.Rand
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "flatten" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseMain }
func (p *Pass) Priority() int             { return 50 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.Flatten
	p.rng = passutil.NewRand()
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

func (p *Pass) RunOnFunction(fn *ir.Function, m *ir.Module, sink *diagnostics.Sink) error {
	if !passutil.FunctionBool(fn, "flatten", p.cfg.Enable) {
		return nil
	}
	if len(fn.Blocks) <= 2 {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), fn.Name, "function has too few blocks to flatten")
		return nil
	}
	if passutil.EntryHasEH(fn) {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), fn.Name, "entry block carries exception-handling control flow")
		return nil
	}
	if hasPhi(fn) {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), fn.Name, "function contains phi nodes, not supported by this flattening pass")
		return nil
	}
	if p.cfg.MaxBlocks > 0 && len(fn.Blocks) > p.cfg.MaxBlocks {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), fn.Name, "function exceeds configured max_blocks (%d > %d)", len(fn.Blocks), p.cfg.MaxBlocks)
		return nil
	}
	if !p.cfg.FixStack && passutil.CrossesBlocks(fn) {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), fn.Name, "values cross block boundaries and fix_stack is disabled")
		return nil
	}

	flattenFunction(fn, m, p.cfg, p.rng)
	return nil
}

func hasPhi(fn *ir.Function) bool {
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			if _, ok := inst.(*ir.PhiInst); ok {
				return true
			}
		}
	}
	return false
}

func flattenFunction(fn *ir.Function, m *ir.Module, cfg config.FlattenConfig, rng *mrand.Rand) {
	entry := fn.Entry()
	firstReal := passutil.SplitBlock(fn, entry, 0)

	realBlocks := append([]*ir.BasicBlock(nil), fn.Blocks[1:]...)
	if cfg.LowerSwitch {
		var expanded []*ir.BasicBlock
		for _, bb := range realBlocks {
			expanded = append(expanded, passutil.DemoteSwitchToIf(fn, m, bb)...)
		}
		realBlocks = expanded
	}

	ids := make(map[*ir.BasicBlock]uint32, len(realBlocks))
	used := make(map[uint32]bool, len(realBlocks))
	for _, bb := range realBlocks {
		ids[bb] = passutil.UniqueU32(rng, used)
	}

	dispatchType := ir.IntType{Bits: 32}
	dispatcher := fn.AppendBlock("flatten.dispatcher")
	def := fn.AppendBlock("flatten.default")
	ir.NewBuilder(m, fn, def).Br(dispatcher)

	slot := passutil.PrependAlloca(fn, m, dispatchType)

	entryBld := ir.NewBuilder(m, fn, entry)
	firstID := entryBld.ConstI(32, int64(ids[firstReal]))
	entryBld.Store(firstID, slot)
	entryBld.Br(dispatcher)

	dispBld := ir.NewBuilder(m, fn, dispatcher)
	loaded := dispBld.Load(slot, dispatchType)
	sw := dispBld.Switch(loaded, def)
	for _, bb := range realBlocks {
		sw.AddCase(int64(ids[bb]), bb)
	}

	for _, bb := range realBlocks {
		rewriteTerminator(fn, m, bb, dispatcher, slot, ids)
	}

	if cfg.FixStack {
		passutil.FixStack(fn, m)
	}
}

// rewriteTerminator replaces bb's terminator with a store of the successor's
// dispatch id followed by a branch to the dispatcher (spec.md §4.3 step 5).
// Terminal terminators (return, unreachable) and anything rewriteTerminator
// doesn't recognize are left untouched, since they never reach another real
// block directly.
func rewriteTerminator(fn *ir.Function, m *ir.Module, bb *ir.BasicBlock, dispatcher *ir.BasicBlock, slot *ir.Value, ids map[*ir.BasicBlock]uint32) {
	switch term := bb.Terminator.(type) {
	case *ir.BranchInst:
		bld := ir.NewBuilder(m, fn, bb)
		if !term.IsConditional() {
			id, ok := ids[term.TrueBB]
			if !ok {
				return
			}
			idVal := bld.ConstI(32, int64(id))
			bld.Store(idVal, slot)
			bld.Br(dispatcher)
			return
		}
		trueID, okT := ids[term.TrueBB]
		falseID, okF := ids[term.FalseBB]
		if !okT || !okF {
			return
		}
		trueVal := bld.ConstI(32, int64(trueID))
		falseVal := bld.ConstI(32, int64(falseID))
		picked := bld.Select(term.Cond, trueVal, falseVal)
		bld.Store(picked, slot)
		bld.Br(dispatcher)
	default:
		// ReturnInst, UnreachableInst, IndirectBrInst, InvokeInst, SwitchInst
		// (left intact when lower_switch is off) all stay as-is.
	}
}

var _ passregistry.FunctionPass = (*Pass)(nil)
