// Package flattendom implements dominator-tree-keyed control-flow
// flattening: the same single-dispatcher transform as flatten, except the
// value stored for the dispatcher to switch on is no longer a bare per-block
// id but an XOR of a per-block magic constant with a key that only a block's
// actual dominators can reconstruct at runtime, so a disassembler comparing
// switch case constants against statically known block ids learns nothing.
// Grounded on original_source's src/aotu/flatten/cf_flatten_dominator.rs.
package flattendom

import (
	mrand "math/rand"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
	"amice-go/internal/verify"
)

type Pass struct {
	cfg config.FlattenDominatorConfig
	rng *mrand.Rand
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "flattendom" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseMain }
func (p *Pass) Priority() int             { return 49 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.FlattenDominator
	p.rng = passutil.NewRand()
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

func (p *Pass) RunOnFunction(fn *ir.Function, m *ir.Module, sink *diagnostics.Sink) error {
	if !passutil.FunctionBool(fn, "flattendom", p.cfg.Enable) {
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

	for _, problem := range verify.Function(fn) {
		sink.Reportf(diagnostics.VerifierBroken, p.Name(), fn.Name, "%s", problem.String())
	}
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

// blockKeys holds the compile-time-known constants every real block needs:
// its own contribution to descendants' keys, the discriminant the dispatcher
// switches on to reach it, its slot in the runtime key/visited arrays, and
// the precomputed XOR of its strict dominators' own keys (spec.md §4.4,
// own_key/magic_id/index/valid_key).
type blockKeys struct {
	ownKey   uint64
	magicID  uint64
	index    int
	validKey uint64
	// dominated holds the index of every other real block this one
	// strictly dominates, the set update_key_arr folds ownKey into.
	dominated []int
}

// computeBlockKeys assigns own_key/magic_id/index to every real block and
// derives valid_key (the XOR of strict dominators' own_key, via the
// dominator tree's entry-to-block chain) and the dominated-index list
// update_key_arr folds into at runtime (spec.md §4.4, Data).
func computeBlockKeys(dt *ir.DominatorTree, realBlocks []*ir.BasicBlock, rng *mrand.Rand) map[*ir.BasicBlock]*blockKeys {
	keys := make(map[*ir.BasicBlock]*blockKeys, len(realBlocks))
	usedKey := make(map[uint64]bool, len(realBlocks))
	usedMagic := make(map[uint64]bool, len(realBlocks))
	for i, bb := range realBlocks {
		keys[bb] = &blockKeys{
			ownKey:  passutil.UniqueU64(rng, usedKey),
			magicID: passutil.UniqueU64(rng, usedMagic),
			index:   i,
		}
	}
	for _, bb := range realBlocks {
		var validKey uint64
		chain := dt.Chain(bb)
		for _, d := range chain[:len(chain)-1] {
			if dk, ok := keys[d]; ok {
				validKey ^= dk.ownKey
			}
		}
		keys[bb].validKey = validKey
	}
	for _, b := range realBlocks {
		for _, d := range realBlocks {
			if d != b && dt.StrictlyDominates(b, d) {
				keys[b].dominated = append(keys[b].dominated, keys[d].index)
			}
		}
	}
	return keys
}

func flattenFunction(fn *ir.Function, m *ir.Module, cfg config.FlattenDominatorConfig, rng *mrand.Rand) {
	entry := fn.Entry()
	firstReal := passutil.SplitBlock(fn, entry, 0)

	realBlocks := append([]*ir.BasicBlock(nil), fn.Blocks[1:]...)
	var expanded []*ir.BasicBlock
	for _, bb := range realBlocks {
		expanded = append(expanded, passutil.DemoteSwitchToIf(fn, m, bb)...)
	}
	realBlocks = expanded

	dt := ir.BuildDominatorTree(fn)
	keys := computeBlockKeys(dt, realBlocks, rng)

	n := len(realBlocks)
	dispatchType := ir.I64
	dispatcher := fn.AppendBlock("flattendom.dispatcher")
	def := fn.AppendBlock("flattendom.default")
	ir.NewBuilder(m, fn, def).Br(dispatcher)

	dispatchSlot := passutil.PrependAlloca(fn, m, dispatchType)
	visitedSlot := prependArrayAlloca(fn, m, ir.I8, n)
	keyArraySlot := prependArrayAlloca(fn, m, ir.I64, n)

	entryBld := ir.NewBuilder(m, fn, entry)
	for i := 0; i < n; i++ {
		visitedAddr := entryBld.GEP(visitedSlot, ir.I8, []*ir.Value{entryBld.ConstI(32, int64(i))})
		entryBld.Store(entryBld.ConstI(8, 0), visitedAddr)
		keyAddr := entryBld.GEP(keyArraySlot, ir.I64, []*ir.Value{entryBld.ConstI(32, int64(i))})
		entryBld.Store(entryBld.ConstI(64, 0), keyAddr)
	}
	// key_array[index[firstReal]] is still zero and valid_key[firstReal] is
	// zero (firstReal's only strict dominator is entry, which carries no
	// key), so the initial dispatch value collapses to plain magic_id.
	entryBld.Store(entryBld.ConstI(64, int64(keys[firstReal].magicID)), dispatchSlot)
	entryBld.Br(dispatcher)

	dispBld := ir.NewBuilder(m, fn, dispatcher)
	loaded := dispBld.Load(dispatchSlot, dispatchType)
	sw := dispBld.Switch(loaded, def)
	for _, bb := range realBlocks {
		sw.AddCase(int64(keys[bb].magicID), bb)
	}

	bodyOf := make(map[*ir.BasicBlock]*ir.BasicBlock, len(realBlocks))
	for _, bb := range realBlocks {
		bodyOf[bb] = installGuard(fn, m, bb, keys[bb], visitedSlot, keyArraySlot)
	}

	for _, bb := range realBlocks {
		rewriteTerminator(fn, m, bodyOf[bb], dispatcher, dispatchSlot, keyArraySlot, keys[bb], keys)
	}

	if cfg.FixStack {
		passutil.FixStack(fn, m)
	}
}

// installGuard splits bb into a guard (left in place as bb, so every
// existing reference to bb as a successor still lands here) and an origBody
// carrying bb's real content. The guard loads visited[index[bb]] and, the
// first time only, runs a straight-line propagation block that XORs ownKey
// into key_array at every index bb strictly dominates before marking itself
// visited — the update_key_arr helper, inlined per block rather than
// factored into one shared routine (spec.md §4.4, Runtime data).
func installGuard(fn *ir.Function, m *ir.Module, bb *ir.BasicBlock, bk *blockKeys, visitedSlot, keyArraySlot *ir.Value) *ir.BasicBlock {
	origBody := passutil.SplitBlock(fn, bb, 0)

	if len(bk.dominated) == 0 {
		// Leaf in the dominator tree: nothing to propagate, so the
		// visited/guard check has no reader and SplitBlock's own
		// unconditional branch into origBody already suffices.
		return origBody
	}

	propBlock := fn.InsertBlockAfter(bb, bb.Label+".prop")

	guardBld := ir.NewBuilder(m, fn, bb)
	visitedAddr := guardBld.GEP(visitedSlot, ir.I8, []*ir.Value{guardBld.ConstI(32, int64(bk.index))})
	visitedByte := guardBld.Load(visitedAddr, ir.I8)
	notVisited := guardBld.ICmp(ir.ICmpEQ, visitedByte, guardBld.ConstI(8, 0))
	bb.SetTerminator(ir.NewConditionalBranch(fn, notVisited, propBlock, origBody))

	propBld := ir.NewBuilder(m, fn, propBlock)
	ownKeyConst := propBld.ConstI(64, int64(bk.ownKey))
	for _, idx := range bk.dominated {
		addr := propBld.GEP(keyArraySlot, ir.I64, []*ir.Value{propBld.ConstI(32, int64(idx))})
		cur := propBld.Load(addr, ir.I64)
		updated := propBld.Binary(ir.OpXor, cur, ownKeyConst)
		propBld.Store(updated, addr)
	}
	markAddr := propBld.GEP(visitedSlot, ir.I8, []*ir.Value{propBld.ConstI(32, int64(bk.index))})
	propBld.Store(propBld.ConstI(8, 1), markAddr)
	propBld.Br(origBody)

	return origBody
}

// rewriteTerminator replaces body's terminator (the original content of the
// block the guard at owner now gates) with a store of the dominator-keyed
// dispatch value followed by a branch to the dispatcher (spec.md §4.4,
// Transform). The runtime key_array load happens once and is reused for
// both arms of a conditional branch.
func rewriteTerminator(fn *ir.Function, m *ir.Module, body *ir.BasicBlock, dispatcher *ir.BasicBlock, dispatchSlot, keyArraySlot *ir.Value, owner *blockKeys, keys map[*ir.BasicBlock]*blockKeys) {
	switch term := body.Terminator.(type) {
	case *ir.BranchInst:
		bld := ir.NewBuilder(m, fn, body)
		runtimeAddr := bld.GEP(keyArraySlot, ir.I64, []*ir.Value{bld.ConstI(32, int64(owner.index))})
		runtimeKey := bld.Load(runtimeAddr, ir.I64)

		if !term.IsConditional() {
			succ, ok := keys[term.TrueBB]
			if !ok {
				return
			}
			constPart := succ.magicID ^ owner.validKey
			encoded := bld.Binary(ir.OpXor, bld.ConstI(64, int64(constPart)), runtimeKey)
			bld.Store(encoded, dispatchSlot)
			bld.Br(dispatcher)
			return
		}

		trueSucc, okT := keys[term.TrueBB]
		falseSucc, okF := keys[term.FalseBB]
		if !okT || !okF {
			return
		}
		trueConst := trueSucc.magicID ^ owner.validKey
		falseConst := falseSucc.magicID ^ owner.validKey
		trueVal := bld.Binary(ir.OpXor, bld.ConstI(64, int64(trueConst)), runtimeKey)
		falseVal := bld.Binary(ir.OpXor, bld.ConstI(64, int64(falseConst)), runtimeKey)
		picked := bld.Select(term.Cond, trueVal, falseVal)
		bld.Store(picked, dispatchSlot)
		bld.Br(dispatcher)
	default:
		// ReturnInst, UnreachableInst, IndirectBrInst, InvokeInst all stay
		// as-is; switches were already lowered to if-chains above.
	}
}

// prependArrayAlloca reserves an n-element array of elemType on fn's entry
// block's stack, grounded on strenc's prependAlloca sizing convention
// extended to a pass-time-known element count rather than a string length.
func prependArrayAlloca(fn *ir.Function, m *ir.Module, elemType ir.Type, n int) *ir.Value {
	entry := fn.Entry()
	sizeConst := passutil.PrependConst(fn, m, 32, int64(n))
	result := ir.NewValue(m, "", ir.PointerType{Elem: elemType})
	inst := ir.NewAllocaInst(fn, elemType, result)
	inst.ArraySize = sizeConst
	inst.SetBlock(entry)
	result.DefBlock, result.DefInst = entry, inst
	entry.Instructions = append([]ir.Instruction{inst}, entry.Instructions...)
	return result
}

var _ passregistry.FunctionPass = (*Pass)(nil)
