// Package indirectbranch replaces direct branch instructions with a
// table-indexed indirect branch: every non-entry basic block reachable
// across the module is recorded once in a global address table, and each
// branch instruction is rewritten into a getelementptr+load+indirectbr
// sequence that looks up its destination(s) at runtime instead of naming
// them in the instruction stream. Conditional branches and branches whose
// target never made the global table fall back to a small local table built
// just for that one site. Grounded on
// original_source's src/aotu/indirect_branch/mod.rs.
package indirectbranch

import (
	mrand "math/rand"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
	"amice-go/internal/verify"
)

// globalTableName mirrors original_source's shared constant
// "global_indirect_branch_table", the single table every function's
// unconditional branches index into when their target is already tabled.
const globalTableName = "global_indirect_branch_table"

const localTablePrefix = ".indirect_branch.local"
const dummyBlockPrefix = ".indirect_branch.dummy"
const goalBlockPrefix = ".indirect_branch.goal"

// blockTarget pairs a basic block with its owning function, the unit a
// blockaddress constant needs (an address is meaningless without knowing
// which function's body it lives in).
type blockTarget struct {
	fn *ir.Function
	bb *ir.BasicBlock
}

type Pass struct {
	cfg config.IndirectBranchConfig
	rng *mrand.Rand

	globalTable *ir.GlobalValue
	globalIndex map[*ir.BasicBlock]int
	xorKey      uint32
	usedNames   map[uint32]bool
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "indirect_branch" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseMain }
func (p *Pass) Priority() int             { return 30 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.IndirectBranch
	p.rng = passutil.NewRand()
	p.usedNames = make(map[uint32]bool)
	if !p.cfg.Enable || !p.cfg.Flags.Has(config.FlagBasic) {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
		return nil
	}
	if p.cfg.Flags.Has(config.FlagEncryptBlockIndex) {
		p.xorKey = p.rng.Uint32()
	}
	return nil
}

// RunOnModule builds the global address table once, across every
// function's non-entry blocks, before any per-function rewriting starts —
// original_source's collect_basic_block does the same whole-module sweep
// ahead of its per-instruction pass.
func (p *Pass) RunOnModule(m *ir.Module, sink *diagnostics.Sink) error {
	if !p.cfg.Enable || !p.cfg.Flags.Has(config.FlagBasic) {
		return nil
	}
	var targets []blockTarget
	for _, fn := range m.Functions {
		if len(fn.Blocks) == 0 {
			continue
		}
		for i, bb := range fn.Blocks {
			if i == 0 {
				continue // entry can't be a branch target from outside the function
			}
			targets = append(targets, blockTarget{fn: fn, bb: bb})
		}
	}
	if len(targets) == 0 {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "module has no non-entry basic blocks to tabulate")
		return nil
	}

	p.globalTable = p.buildTable(m, targets, globalTableName)
	p.globalIndex = make(map[*ir.BasicBlock]int, len(targets))
	for i, t := range targets {
		p.globalIndex[t.bb] = i
	}
	return nil
}

func (p *Pass) RunOnFunction(fn *ir.Function, m *ir.Module, sink *diagnostics.Sink) error {
	if !passutil.FunctionBool(fn, "indirect_branch", p.cfg.Enable) || !p.cfg.Flags.Has(config.FlagBasic) {
		return nil
	}
	if p.globalTable == nil {
		return nil
	}
	if passutil.EntryHasEH(fn) {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), fn.Name, "entry block carries exception-handling control flow")
		return nil
	}

	var branchBlocks []*ir.BasicBlock
	for _, bb := range fn.Blocks {
		if _, ok := bb.Terminator.(*ir.BranchInst); ok {
			branchBlocks = append(branchBlocks, bb)
		}
	}
	for _, bb := range branchBlocks {
		p.rewriteBranch(fn, m, bb)
	}

	for _, problem := range verify.Function(fn) {
		sink.Reportf(diagnostics.VerifierBroken, p.Name(), fn.Name, "%s", problem.String())
	}
	return nil
}

// buildTable materializes targets as an internal, compiler-used,
// non-constant array global of blockaddress constants. Non-constant
// mirrors original_source's set_constant(false): a table the optimizer
// believes it could rewrite is a table it won't fold away behind the
// indirect branch's back.
func (p *Pass) buildTable(m *ir.Module, targets []blockTarget, name string) *ir.GlobalValue {
	elems := make([]ir.Constant, len(targets))
	for i, t := range targets {
		elems[i] = ir.ConstBlockAddress{FuncName: t.fn.Name, BlockLabel: t.bb.Label}
	}
	tableName := name
	if tableName == "" {
		tableName = localTablePrefix + "." + uniqueSuffix(p)
	}
	g := &ir.GlobalValue{
		Name:     tableName,
		Type:     ir.ArrayType{Elem: ir.PointerType{}, Length: len(elems)},
		Linkage:  ir.LinkageInternal,
		Constant: false,
		Initializer: ir.ConstAggregateArray{
			ElemType: ir.PointerType{},
			Elems:    elems,
		},
	}
	m.AddGlobal(g)
	m.AddToCompilerUsed(g)
	return g
}

func uniqueSuffix(p *Pass) string {
	v := passutil.UniqueU32(p.rng, p.usedNames)
	return string(rune('a'+v%26)) + string(rune('a'+(v/26)%26)) + string(rune('a'+(v/676)%26))
}

// rewriteBranch replaces bb's BranchInst terminator with a table-indexed
// indirectbr, threading the jump through a chain of dummy hops first when
// DummyBlock/ChainedDummyBlock is set.
func (p *Pass) rewriteBranch(fn *ir.Function, m *ir.Module, bb *ir.BasicBlock) {
	br := bb.Terminator.(*ir.BranchInst)
	b := ir.NewBuilder(m, fn, bb)

	var table *ir.GlobalValue
	var idx *ir.Value
	var dests []*ir.BasicBlock

	if !br.IsConditional() {
		dests = []*ir.BasicBlock{br.TrueBB}
		if i, ok := p.globalIndex[br.TrueBB]; ok {
			table = p.globalTable
			idx = b.ConstI(32, int64(i))
		} else {
			table = p.buildTable(m, []blockTarget{{fn: fn, bb: br.TrueBB}}, "")
			idx = b.ConstI(32, 0)
		}
	} else {
		// Index 0 selects the false arm, 1 the true arm — zext(cond) lands
		// directly on the right slot without a separate select.
		dests = []*ir.BasicBlock{br.FalseBB, br.TrueBB}
		table = p.buildTable(m, []blockTarget{{fn: fn, bb: br.FalseBB}, {fn: fn, bb: br.TrueBB}}, "")
		idx = b.Cast("zext", br.Cond, ir.I32)
	}

	if p.cfg.Flags.Has(config.FlagEncryptBlockIndex) {
		key := b.ConstI(32, int64(p.xorKey))
		idx = b.Binary(ir.OpXor, idx, key)
		idx = b.Binary(ir.OpXor, idx, key)
	}

	if !p.cfg.Flags.Has(config.FlagDummyBlock) {
		p.emitTableJump(b, bb, table, idx, dests)
		return
	}

	goal := fn.AppendBlock(goalBlockPrefix)
	goalBuilder := ir.NewBuilder(m, fn, goal)
	p.emitTableJump(goalBuilder, goal, table, idx, dests)

	maxChain := 1
	if p.cfg.Flags.Has(config.FlagChainedDummyBlocks) {
		maxChain = 13
	}
	chainLen := p.rng.Intn(maxChain + 1)

	entryPoint := goal
	for i := 0; i < chainLen; i++ {
		dummy := fn.AppendBlock(dummyBlockPrefix)
		db := ir.NewBuilder(m, fn, dummy)
		if p.cfg.Flags.Has(config.FlagDummyJunk) && p.rng.Intn(100) < 45 {
			emitJunk(db)
		}
		hopTable := p.buildTable(m, []blockTarget{{fn: fn, bb: entryPoint}}, "")
		p.emitTableJump(db, dummy, hopTable, db.ConstI(32, 0), []*ir.BasicBlock{entryPoint})
		entryPoint = dummy
	}

	p.emitTableJump(b, bb, p.buildTable(m, []blockTarget{{fn: fn, bb: entryPoint}}, ""), b.ConstI(32, 0), []*ir.BasicBlock{entryPoint})
}

// emitTableJump appends the getelementptr+load that resolves idx against
// table to a runtime address, then installs an indirectbr to it as bb's
// terminator.
func (p *Pass) emitTableJump(b *ir.Builder, bb *ir.BasicBlock, table *ir.GlobalValue, idx *ir.Value, dests []*ir.BasicBlock) {
	tableRef := passutil.GlobalRef(table)
	addr := b.GEP(tableRef, ir.PointerType{}, []*ir.Value{idx})
	loaded := b.Load(addr, ir.PointerType{})
	bb.SetTerminator(ir.NewIndirectBrInst(bb.Func, loaded, dests))
}

// emitJunk inserts a harmless, side-effect-free-looking stack write a
// reader can't fold without running it: original_source's junk variants
// (rand add, rand cmp, volatile store) reduced to the one that survives
// this IR model's closed instruction set.
func emitJunk(b *ir.Builder) {
	slot := b.Alloca(ir.I32)
	lhs := b.ConstI(32, 17)
	rhs := b.ConstI(32, 9)
	sum := b.Binary(ir.OpAdd, lhs, rhs)
	b.Store(sum, slot)
}

var (
	_ passregistry.ModulePass   = (*Pass)(nil)
	_ passregistry.FunctionPass = (*Pass)(nil)
)
