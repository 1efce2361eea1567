// Package indirectcall replaces every direct call to a non-intrinsic
// function with an indirect call through a module-wide function-pointer
// table: the callee's name never appears in the call instruction itself,
// only as an element of a table a reader has to cross-reference. An
// optional XOR key, loaded from a private global rather than folded in as
// an immediate, additionally hides the table index. Grounded on
// original_source's src/aotu/indirect_call/mod.rs.
package indirectcall

import (
	mrand "math/rand"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
	"amice-go/internal/verify"
)

const tableName = ".amice_indirect_call_table"
const xorKeyGlobalName = ".amice_indirect_call_xor_key"

type callSite struct {
	fn   *ir.Function
	bb   *ir.BasicBlock
	call *ir.CallInst
}

type Pass struct {
	cfg config.IndirectCallConfig
	rng *mrand.Rand

	xorKey       uint32
	table        *ir.GlobalValue
	xorKeyGlobal *ir.GlobalValue
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "indirect_call" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseEarly }
func (p *Pass) Priority() int             { return 990 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.IndirectCall
	p.rng = passutil.NewRand()
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
		return nil
	}
	if p.cfg.XorKey != nil {
		p.xorKey = *p.cfg.XorKey
	} else {
		p.xorKey = p.rng.Uint32()
	}
	return nil
}

// RunOnModule collects every eligible call site across the whole module,
// tables the distinct callees once, then rewrites each site in place —
// original_source's single do_pass scan. The pass has no per-function
// phase: the table has to exist before any site can reference it, so the
// scan, the table and every rewrite all run from this one method.
func (p *Pass) RunOnModule(m *ir.Module, sink *diagnostics.Sink) error {
	if !p.cfg.Enable {
		return nil
	}

	var sites []callSite
	var callees []*ir.Function
	index := make(map[*ir.Function]int)

	for _, fn := range m.Functions {
		if len(fn.Blocks) == 0 {
			continue
		}
		if !passutil.FunctionBool(fn, "indirect_call", p.cfg.Enable) {
			continue
		}
		for _, bb := range fn.Blocks {
			for _, inst := range bb.Instructions {
				call, ok := inst.(*ir.CallInst)
				if !ok || call.Callee == nil || call.FuncPtr != nil {
					continue
				}
				if ir.IsIntrinsicCall(call) {
					continue
				}
				sites = append(sites, callSite{fn: fn, bb: bb, call: call})
				if _, seen := index[call.Callee]; !seen {
					index[call.Callee] = len(callees)
					callees = append(callees, call.Callee)
				}
			}
		}
	}

	if len(sites) == 0 {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "module has no eligible direct calls")
		return nil
	}

	p.table = p.buildTable(m, callees)
	if p.xorKey != 0 {
		p.xorKeyGlobal = p.buildXorKeyGlobal(m)
	}

	touched := make(map[*ir.Function]bool)
	for _, site := range sites {
		p.rewriteCallSite(m, site, index[site.call.Callee])
		touched[site.fn] = true
	}

	for fn := range touched {
		for _, problem := range verify.Function(fn) {
			sink.Reportf(diagnostics.VerifierBroken, p.Name(), fn.Name, "%s", problem.String())
		}
	}
	return nil
}

// buildTable materializes callees as a private array global of function
// addresses, added to the module's compiler-used list so the table
// survives even though nothing but freshly-built GEPs reference it.
func (p *Pass) buildTable(m *ir.Module, callees []*ir.Function) *ir.GlobalValue {
	elems := make([]ir.Constant, len(callees))
	for i, fn := range callees {
		elems[i] = ir.ConstFunctionAddress{FuncName: fn.Name}
	}
	g := &ir.GlobalValue{
		Name:     tableName,
		Type:     ir.ArrayType{Elem: ir.PointerType{}, Length: len(elems)},
		Linkage:  ir.LinkagePrivate,
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

// buildXorKeyGlobal stores the index-encryption key as a private,
// non-constant i32 global loaded at each call site rather than inlined —
// set_constant(false) in the original for the same reason
// indirect-branch's tables are non-constant: a value the optimizer
// believes could change at runtime is one it won't fold through.
func (p *Pass) buildXorKeyGlobal(m *ir.Module) *ir.GlobalValue {
	g := &ir.GlobalValue{
		Name:        xorKeyGlobalName,
		Type:        ir.I32,
		Linkage:     ir.LinkagePrivate,
		Constant:    false,
		Initializer: ir.ConstInt{Bits: 32, Value: int64(p.xorKey)},
	}
	m.AddGlobal(g)
	return g
}

// rewriteCallSite splices a table lookup immediately ahead of call, then
// replaces call itself with an indirect call through the resolved
// address, carrying over its calling convention, tail-call marker and
// parameter/return attributes.
func (p *Pass) rewriteCallSite(m *ir.Module, site callSite, callIndex int) {
	call := site.call
	b := ir.NewBuilderBefore(m, site.fn, site.bb, call)

	idx := b.ConstI(32, int64(callIndex))
	if p.xorKeyGlobal != nil {
		keyRef := passutil.GlobalRef(p.xorKeyGlobal)
		keyVal := b.Load(keyRef, ir.I32)
		idx = b.Binary(ir.OpXor, idx, keyVal)
	}

	tableRef := passutil.GlobalRef(p.table)
	gep := b.GEP(tableRef, ir.PointerType{}, []*ir.Value{idx})
	addr := b.Load(gep, ir.PointerType{})

	sig := ir.FunctionType{Params: paramTypes(call.Callee), Return: call.Callee.ReturnType, VarArg: call.Callee.VarArg}
	b.IndirectCall(addr, sig, call.Args)

	newCall := instructionBefore(site.bb, call).(*ir.CallInst)
	newCall.CalleeName = call.CalleeName
	newCall.CallConv = call.CallConv
	newCall.Tail = call.Tail
	newCall.ArgAttrs = call.ArgAttrs
	newCall.RetAttrs = call.RetAttrs

	if call.Result() != nil && newCall.Result() != nil {
		ir.ReplaceAllUsesWith(call.Result(), newCall.Result())
	}
	site.bb.EraseInstruction(call)
}

// instructionBefore returns the instruction immediately preceding ref in
// bb — used to recover the CallInst a builder just spliced in ahead of
// the site being replaced, since Builder.IndirectCall returns only its
// result value (nil for a void callee).
func instructionBefore(bb *ir.BasicBlock, ref ir.Instruction) ir.Instruction {
	for i, inst := range bb.Instructions {
		if inst == ref && i > 0 {
			return bb.Instructions[i-1]
		}
	}
	return nil
}

func paramTypes(fn *ir.Function) []ir.Type {
	types := make([]ir.Type, len(fn.Params))
	for i, p := range fn.Params {
		types[i] = p.Type
	}
	return types
}

var _ passregistry.ModulePass = (*Pass)(nil)
