// Package functionwrapper adds one layer of call-graph indirection around
// an eligible function: the original body is renamed into an
// internal-linkage, always-inlined implementation, and a fresh function takes over its
// public name and exact signature, doing nothing but forwarding every
// argument and returning the result. Unlike paramaggregate's struct-passing
// wrapper, the signature never changes — this pass exists purely so later
// passes (and a disassembler's call graph) see one more hop between a call
// site and the real body. Grounded on
// original_source's src/aotu/function_wrapper/mod.rs.
package functionwrapper

import (
	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
	"amice-go/internal/verify"
)

type callSite struct {
	fn   *ir.Function
	bb   *ir.BasicBlock
	call *ir.CallInst
}

// wrapped records one function's wrapper/impl pair so every call site
// naming the original *ir.Function pointer can be repointed at wrapper.
type wrapped struct {
	wrapper *ir.Function
	impl    *ir.Function
}

type Pass struct {
	cfg config.FunctionWrapperConfig
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "function_wrapper" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseEarly }
func (p *Pass) Priority() int             { return 1100 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.FunctionWrapper
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

func eligible(fn *ir.Function, base bool) bool {
	if len(fn.Blocks) == 0 || fn.IntrinsicID != "" || fn.VarArg {
		return false
	}
	if passutil.EntryHasEH(fn) {
		return false
	}
	return passutil.FunctionBool(fn, "function_wrapper", base)
}

func (p *Pass) RunOnModule(m *ir.Module, sink *diagnostics.Sink) error {
	if !p.cfg.Enable {
		return nil
	}

	var targets []*ir.Function
	for _, fn := range m.Functions {
		if eligible(fn, p.cfg.Enable) {
			targets = append(targets, fn)
		}
	}
	if len(targets) == 0 {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "module has no eligible function to wrap")
		return nil
	}

	sites := collectCallSites(m)

	byOriginal := make(map[*ir.Function]*wrapped, len(targets))
	for _, fn := range targets {
		byOriginal[fn] = p.wrap(m, fn)
	}

	touched := make(map[*ir.Function]bool)
	for _, site := range sites {
		w, ok := byOriginal[site.call.Callee]
		if !ok {
			continue
		}
		site.call.Callee = w.wrapper
		touched[site.fn] = true
	}

	for fn := range touched {
		for _, problem := range verify.Function(fn) {
			sink.Reportf(diagnostics.VerifierBroken, p.Name(), fn.Name, "%s", problem.String())
		}
	}
	for _, w := range byOriginal {
		for _, problem := range verify.Function(w.wrapper) {
			sink.Reportf(diagnostics.VerifierBroken, p.Name(), w.wrapper.Name, "%s", problem.String())
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

// wrap renames fn into an internal-linkage always-inlined implementation and
// installs a fresh function under fn's original name and linkage, same
// signature, whose body calls straight through to fn and returns its
// result.
func (p *Pass) wrap(m *ir.Module, fn *ir.Function) *wrapped {
	originalName := fn.Name
	originalLinkage := fn.Linkage

	delete(m.FunctionsByName, originalName)
	fn.Name = originalName + ".impl"
	fn.Linkage = ir.LinkageInternal
	if !fn.HasFuncAttr(ir.AttrAlwaysInline) {
		fn.FuncAttrs = append(fn.FuncAttrs, ir.AttrAlwaysInline)
	}
	m.FunctionsByName[fn.Name] = fn

	params := make([]*ir.Parameter, len(fn.Params))
	for i, orig := range fn.Params {
		params[i] = &ir.Parameter{Name: orig.Name, Type: orig.Type}
	}
	wrapper := ir.NewFunction(originalName, params, fn.ReturnType)
	wrapper.Linkage = originalLinkage
	m.AddFunction(wrapper)

	b := ir.NewBuilder(m, wrapper, wrapper.Entry())
	args := make([]*ir.Value, len(params))
	for i, param := range wrapper.Params {
		param.Value = ir.NewValue(m, param.Name, param.Type)
		args[i] = param.Value
	}
	result := b.Call(fn, args)
	if _, isVoid := fn.ReturnType.(ir.VoidType); isVoid {
		b.Ret(nil)
	} else {
		b.Ret(result)
	}
	return &wrapped{wrapper: wrapper, impl: fn}
}

var _ passregistry.ModulePass = (*Pass)(nil)
