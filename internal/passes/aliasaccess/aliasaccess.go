// Package aliasaccess moves a function's simply-aligned stack slots out of
// their own alloca and into a field of a synthesized struct reached
// through a chain of pointer-indirection "boxes" — the slot's address is
// no longer a single alloca a reader can follow directly, but the return
// value of a tiny per-slot getter function that walks Depth levels of
// struct-field loads before it ever touches real data. Grounded on
// original_source's src/aotu/alias_access/pointer_chain.rs, reduced to a
// single straight-line chain rather than the original's randomized
// raw-box/meta-box bucket graph (see DESIGN.md).
package aliasaccess

import (
	"fmt"
	mrand "math/rand"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
	"amice-go/internal/verify"
)

type Pass struct {
	cfg   config.AliasAccessConfig
	rng   *mrand.Rand
	fresh map[uint32]bool
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "alias_access" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseMain }
func (p *Pass) Priority() int             { return 50 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.AliasAccess
	p.rng = passutil.NewRand()
	p.fresh = make(map[uint32]bool)
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

// eligibleAlloca mirrors original_source's "alignment <= 8" filter: a
// scalar slot small enough that hiding it behind a box costs nothing
// semantically. Arrays are left alone — chasing a chain for a bulk
// allocation original_source doesn't attempt here either.
func eligibleAlloca(a *ir.AllocaInst) bool {
	return a.ArraySize == nil && a.Align <= 8
}

func (p *Pass) RunOnFunction(fn *ir.Function, m *ir.Module, sink *diagnostics.Sink) error {
	if !passutil.FunctionBool(fn, "alias_access", p.cfg.Enable) {
		return nil
	}
	if len(fn.Blocks) == 0 {
		return nil
	}

	var allocas []*ir.AllocaInst
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			if a, ok := inst.(*ir.AllocaInst); ok && eligibleAlloca(a) {
				allocas = append(allocas, a)
			}
		}
	}
	if len(allocas) == 0 {
		return nil
	}

	depth := p.cfg.Depth
	if depth < 1 {
		depth = 1
	}

	entry := fn.Entry()
	var insertBefore ir.Instruction
	if len(entry.Instructions) > 0 {
		insertBefore = entry.Instructions[0]
	}
	b := ir.NewBuilderBefore(m, fn, entry, insertBefore)

	realStruct := &ir.StructType{Name: p.freshName(fn.Name, "box"), Fields: make([]ir.Type, len(allocas))}
	for i, a := range allocas {
		realStruct.Fields[i] = a.ElemType
	}
	m.Structs = append(m.Structs, realStruct)

	levels := []*ir.StructType{realStruct}
	cur := b.Alloca(realStruct)
	for i := 1; i < depth; i++ {
		wrapper := &ir.StructType{Name: p.freshName(fn.Name, "wrap"), Fields: []ir.Type{ir.PointerType{}}}
		m.Structs = append(m.Structs, wrapper)
		wrapperBox := b.Alloca(wrapper)
		slot := b.GEP(wrapperBox, ir.PointerType{}, []*ir.Value{b.ConstI(32, 0)})
		b.Store(cur, slot)
		cur = wrapperBox
		levels = append(levels, wrapper)
	}
	topPtr := cur

	for i, a := range allocas {
		getter := p.buildGetter(m, fn.Name, levels, i)
		call := b.Call(getter, []*ir.Value{topPtr})
		typed := b.Cast("bitcast", call, a.Result().Type)
		ir.ReplaceAllUsesWith(a.Result(), typed)
	}
	for _, bb := range fn.Blocks {
		for _, a := range allocas {
			if instructionInBlock(bb, a) {
				bb.EraseInstruction(a)
			}
		}
	}

	for _, problem := range verify.Function(fn) {
		sink.Reportf(diagnostics.VerifierBroken, p.Name(), fn.Name, "%s", problem.String())
	}
	return nil
}

// buildGetter synthesizes a tiny internal-linkage function that takes the
// outermost box's address and returns slot index's address within the
// innermost (real) box: a GEP-field-0+load per wrapper level (levels is
// stored inner to outer and walked from its last entry down) followed by
// one GEP into the real struct's
// slot index field — original_source's build_getter_function, chained
// across Depth boxes instead of exactly one.
//
// This pass's struct-field GEP convention (here and nowhere else needed
// before it): GEPInst.Indices[0] names the struct field index directly,
// not a byte offset — this IR model has no separate struct-GEP opcode,
// so a single-index GEP against a struct ElemType is read as a field
// selector instead of vmflatten's element-stride multiply.
func (p *Pass) buildGetter(m *ir.Module, fnName string, levels []*ir.StructType, slot int) *ir.Function {
	name := p.freshName(fnName, fmt.Sprintf("get%d", slot))
	getter := ir.NewFunction(name, []*ir.Parameter{{Name: "box", Type: ir.PointerType{}}}, ir.PointerType{})
	getter.Linkage = ir.LinkageInternal
	m.AddFunction(getter)
	getter.Params[0].Value = ir.NewValue(m, "box", ir.PointerType{})

	entry := getter.Entry()
	b := ir.NewBuilder(m, getter, entry)
	cur := getter.Params[0].Value
	for i := len(levels) - 1; i > 0; i-- {
		fieldAddr := b.GEP(cur, ir.PointerType{}, []*ir.Value{b.ConstI(32, 0)})
		cur = b.Load(fieldAddr, ir.PointerType{})
	}

	real := levels[0]
	slotAddr := b.GEP(cur, real.Fields[slot], []*ir.Value{b.ConstI(32, int64(slot))})
	ret := b.Cast("bitcast", slotAddr, ir.PointerType{})
	b.Ret(ret)
	return getter
}

func (p *Pass) freshName(fnName, role string) string {
	v := passutil.UniqueU32(p.rng, p.fresh)
	return fmt.Sprintf(".alias_access.%s.%s.%x", fnName, role, v)
}

func instructionInBlock(bb *ir.BasicBlock, inst ir.Instruction) bool {
	for _, have := range bb.Instructions {
		if have == inst {
			return true
		}
	}
	return false
}

var _ passregistry.FunctionPass = (*Pass)(nil)
