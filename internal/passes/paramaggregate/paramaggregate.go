// Package paramaggregate collapses a multi-parameter function into a
// single-pointer wrapper whose sole argument is an opaque struct holding
// the real parameters in a randomly shuffled field order, optionally
// padded with decoy i64 fields. A disassembler reading a rewritten call
// site sees one pointer argument and a struct layout it has to reverse
// rather than a readable argument list. Grounded on original_source's
// src/aotu/param_aggregate/mod.rs.
package paramaggregate

import (
	mrand "math/rand"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
	"amice-go/internal/verify"
)

const maxStructSize = 4096

type callSite struct {
	fn   *ir.Function
	bb   *ir.BasicBlock
	call *ir.CallInst
}

// aggregated records how one function was split into a struct-passing
// wrapper (the function's original public name, signature `(ptr)`) and
// its renamed, internal-linkage implementation (the original body, now reachable
// only through the wrapper).
type aggregated struct {
	wrapper     *ir.Function
	impl        *ir.Function
	structType  *ir.StructType
	paramAtSlot []int // slot -> original param index, or -1 for a padding slot
}

type Pass struct {
	cfg config.ParamAggregateConfig
	rng *mrand.Rand
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "param_aggregate" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseEarly }
func (p *Pass) Priority() int             { return 1120 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.ParamAggregate
	p.rng = passutil.NewRand()
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

func (p *Pass) RunOnModule(m *ir.Module, sink *diagnostics.Sink) error {
	if !p.cfg.Enable {
		return nil
	}

	sites := collectCallSites(m)

	byOriginal := make(map[*ir.Function]*aggregated)
	for _, site := range sites {
		fn := site.call.Callee
		if fn == nil || ir.IsIntrinsicCall(site.call) {
			continue
		}
		if _, done := byOriginal[fn]; done {
			continue
		}
		if !eligible(fn, p.cfg) {
			continue
		}
		byOriginal[fn] = p.aggregate(m, fn)
	}

	if len(byOriginal) == 0 {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "module has no eligible multi-parameter call targets")
		return nil
	}

	touched := make(map[*ir.Function]bool)
	for _, site := range sites {
		ag, ok := byOriginal[site.call.Callee]
		if !ok {
			continue
		}
		p.rewriteCallSite(m, site, ag)
		touched[site.fn] = true
	}

	for fn := range touched {
		for _, problem := range verify.Function(fn) {
			sink.Reportf(diagnostics.VerifierBroken, p.Name(), fn.Name, "%s", problem.String())
		}
	}
	for _, ag := range byOriginal {
		for _, problem := range verify.Function(ag.wrapper) {
			sink.Reportf(diagnostics.VerifierBroken, p.Name(), ag.wrapper.Name, "%s", problem.String())
		}
	}
	return nil
}

func collectCallSites(m *ir.Module) []callSite {
	var sites []callSite
	for _, fn := range m.Functions {
		for _, bb := range fn.Blocks {
			for _, inst := range bb.Instructions {
				call, ok := inst.(*ir.CallInst)
				if !ok || call.Callee == nil || call.FuncPtr != nil {
					continue
				}
				sites = append(sites, callSite{fn: fn, bb: bb, call: call})
			}
		}
	}
	return sites
}

// eligible mirrors create_param_aggregated_function's guard clauses:
// more than one parameter, not var-arg, no parameter attribute that
// aggregation would silently break (byval/sret/inalloca and friends),
// and a struct small enough to be worth allocating at every call site.
func eligible(fn *ir.Function, cfg config.ParamAggregateConfig) bool {
	if len(fn.Blocks) == 0 || fn.IntrinsicID != "" {
		return false
	}
	if !passutil.FunctionBool(fn, "param_aggregate", cfg.Enable) {
		return false
	}
	if len(fn.Params) <= 1 || fn.VarArg {
		return false
	}
	var size uint64
	for i, param := range fn.Params {
		for _, attr := range fn.ParamAttrs[i] {
			if attr.IsDangerousToDrop() {
				return false
			}
		}
		size += passutil.SizeOfType(param.Type)
	}
	return size <= maxStructSize
}

// aggregate builds the wrapper/impl pair for fn and returns the
// bookkeeping needed to rewrite call sites: fn itself becomes the
// renamed, internal-linkage implementation (its body is untouched, only its name
// and linkage change), and a new function takes over fn's original
// public name as the struct-passing wrapper.
func (p *Pass) aggregate(m *ir.Module, fn *ir.Function) *aggregated {
	originalName := fn.Name
	originalLinkage := fn.Linkage

	slots := make([]int, len(fn.Params))
	for i := range fn.Params {
		slots[i] = i
	}
	padCount := 0
	if len(fn.Params) > 0 {
		padCount = p.rng.Intn(len(fn.Params)*2 + 1)
	}
	for i := 0; i < padCount; i++ {
		slots = append(slots, -1)
	}
	p.rng.Shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })

	fields := make([]ir.Type, len(slots))
	for i, paramIdx := range slots {
		if paramIdx < 0 {
			fields[i] = ir.I64
		} else {
			fields[i] = fn.Params[paramIdx].Type
		}
	}
	structType := &ir.StructType{Name: originalName + ".param.box", Fields: fields}
	m.Structs = append(m.Structs, structType)

	delete(m.FunctionsByName, originalName)
	fn.Name = originalName + ".impl"
	fn.Linkage = ir.LinkageInternal
	if !fn.HasFuncAttr(ir.AttrAlwaysInline) {
		fn.FuncAttrs = append(fn.FuncAttrs, ir.AttrAlwaysInline)
	}
	fn.FuncAttrs = removeAttr(fn.FuncAttrs, ir.AttrNoInline)
	fn.FuncAttrs = removeAttr(fn.FuncAttrs, ir.AttrOptNone)
	m.FunctionsByName[fn.Name] = fn

	wrapper := ir.NewFunction(originalName, []*ir.Parameter{{Name: "agg", Type: ir.PointerType{}}}, fn.ReturnType)
	wrapper.Linkage = originalLinkage
	m.AddFunction(wrapper)
	wrapper.Params[0].Value = ir.NewValue(m, "agg", ir.PointerType{})

	entry := wrapper.Entry()
	b := ir.NewBuilder(m, wrapper, entry)
	args := make([]*ir.Value, len(fn.Params))
	for slot, paramIdx := range slots {
		if paramIdx < 0 {
			continue
		}
		fieldAddr := b.GEP(wrapper.Params[0].Value, fields[slot], []*ir.Value{b.ConstI(32, int64(slot))})
		args[paramIdx] = b.Load(fieldAddr, fields[slot])
	}
	callResult := b.Call(fn, args)
	b.Ret(callResult)

	return &aggregated{wrapper: wrapper, impl: fn, structType: structType, paramAtSlot: slots}
}

func removeAttr(attrs []ir.Attribute, target ir.Attribute) []ir.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if a != target {
			out = append(out, a)
		}
	}
	return out
}

// rewriteCallSite allocates the argument struct in the caller, stores
// the real arguments (plus the occasional decoy padding write) into
// their assigned slots, calls the wrapper, and replaces the old call.
func (p *Pass) rewriteCallSite(m *ir.Module, site callSite, ag *aggregated) {
	call := site.call
	b := ir.NewBuilderBefore(m, site.fn, site.bb, call)

	structPtr := b.Alloca(ag.structType)
	for slot, paramIdx := range ag.paramAtSlot {
		fieldType := ag.structType.Fields[slot]
		if paramIdx < 0 {
			if p.rng.Intn(100) < 40 {
				fieldAddr := b.GEP(structPtr, fieldType, []*ir.Value{b.ConstI(32, int64(slot))})
				b.Store(b.ConstI(64, int64(p.rng.Uint64())), fieldAddr)
			}
			continue
		}
		fieldAddr := b.GEP(structPtr, fieldType, []*ir.Value{b.ConstI(32, int64(slot))})
		b.Store(call.Args[paramIdx], fieldAddr)
	}

	newResult := b.Call(ag.wrapper, []*ir.Value{structPtr})
	if call.Result() != nil && newResult != nil {
		ir.ReplaceAllUsesWith(call.Result(), newResult)
	}
	site.bb.EraseInstruction(call)
}

var _ passregistry.ModulePass = (*Pass)(nil)
