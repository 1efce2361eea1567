// Package vmflatten implements VM-based control-flow flattening: a single
// eligible function's body is translated into a private bytecode blob and
// its body replaced by a call sequence that hands the blob to a small
// stack-based interpreter, so a disassembler sees three opaque runtime
// calls in place of the function's real logic. Grounded on
// original_source's src/aotu/vmp/{isa,bytecode,translator}.rs — the actual
// stack-machine encoder/translator, as distinct from the simpler
// block-dispatch scheme in src/aotu/vm_flatten/mod.rs that shares this
// pass's name in the original but not its design.
package vmflatten

import (
	mrand "math/rand"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
	"amice-go/internal/verify"
)

const (
	runtimeNewName     = "avm_runtime_new"
	runtimeExecuteName = "avm_runtime_execute"
	runtimeDestroyName = "avm_runtime_destroy"
)

type Pass struct {
	cfg config.VMFlattenConfig
	rng *mrand.Rand
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "vmflatten" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseMain }
func (p *Pass) Priority() int             { return 40 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.VMFlatten
	p.rng = passutil.NewRand()
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

func (p *Pass) RunOnFunction(fn *ir.Function, m *ir.Module, sink *diagnostics.Sink) error {
	if !passutil.FunctionBool(fn, "vmflatten", p.cfg.Enable) {
		return nil
	}
	if fn.HasFuncAttr(ir.AttrAmiceVMFlattened) {
		return nil
	}
	if passutil.EntryHasEH(fn) {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), fn.Name, "entry block carries exception-handling control flow")
		return nil
	}
	reason, ok := checkSupported(fn)
	if !ok {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), fn.Name, "%s", reason)
		return nil
	}

	tr := newTranslator(fn, m, p.cfg, p.rng)
	instrs := tr.translate()
	_ = collectLabelPositions(instrs) // no Label ops are ever emitted today; kept for parity with the label pre-pass spec.md §4.7 names
	bytecode := encode(instrs)

	bytecodeGlobal := emitBytecodeGlobal(m, fn.Name, bytecode)
	newFn, execFn, destroyFn := ensureRuntimeFunctions(m)

	replaceBody(fn, m, bytecodeGlobal, len(bytecode), newFn, execFn, destroyFn)
	fn.FuncAttrs = append(fn.FuncAttrs, ir.AttrAmiceVMFlattened)

	for _, problem := range verify.Function(fn) {
		sink.Reportf(diagnostics.VerifierBroken, p.Name(), fn.Name, "%s", problem.String())
	}
	return nil
}

// emitBytecodeGlobal registers fn's encoded bytecode as a private, read-only
// module constant and marks it compiler-used so later dead-global
// elimination can never drop it even though nothing but this one function
// will ever reference it by name.
func emitBytecodeGlobal(m *ir.Module, fnName string, bytecode []byte) *ir.GlobalValue {
	name := ".vmp.bytecode." + fnName
	g := &ir.GlobalValue{
		Name:        name,
		Type:        ir.ArrayType{Elem: ir.I8, Length: len(bytecode)},
		Linkage:     ir.LinkagePrivate,
		Constant:    true,
		Initializer: ir.ConstArray{Bytes: bytecode},
	}
	m.AddGlobal(g)
	m.AddToCompilerUsed(g)
	return g
}

// ensureRuntimeFunctions returns the module's three avm_runtime_* external
// declarations, creating them on first use. These name the production
// interpreter spec.md §4.7's Emission section describes as "module-local
// functions with alwaysinline where indicated" and explicitly scopes out of
// this translator's job — this pass only ever needs to call them, never to
// supply their bodies, so they are declared external rather than defined.
func ensureRuntimeFunctions(m *ir.Module) (newFn, execFn, destroyFn *ir.Function) {
	newFn = externalFunction(m, runtimeNewName, nil, ir.PointerType{})
	execFn = externalFunction(m, runtimeExecuteName, []ir.Type{ir.PointerType{}, ir.PointerType{}, ir.I32}, ir.I64)
	destroyFn = externalFunction(m, runtimeDestroyName, []ir.Type{ir.PointerType{}}, ir.VoidType{})
	return
}

// externalFunction returns the module's existing declaration of name, or
// creates a bodyless one with the given signature: an ir.NewFunction always
// comes with an auto-appended entry block (it models a definition), so a
// true external declaration drops that block immediately after construction.
func externalFunction(m *ir.Module, name string, paramTypes []ir.Type, ret ir.Type) *ir.Function {
	if fn, ok := m.FunctionsByName[name]; ok {
		return fn
	}
	params := make([]*ir.Parameter, len(paramTypes))
	for i, t := range paramTypes {
		params[i] = &ir.Parameter{Name: "", Type: t}
	}
	fn := ir.NewFunction(name, params, ret)
	fn.Blocks = nil
	fn.Linkage = ir.LinkageExternal
	m.AddFunction(fn)
	return fn
}

// replaceBody discards fn's (already-translated) real body and rebuilds its
// single entry block as the avm_runtime_new -> avm_runtime_execute ->
// avm_runtime_destroy -> return call sequence spec.md §4.7's Emission
// section specifies, coercing the interpreter's always-i64 result back to
// fn's declared return type.
func replaceBody(fn *ir.Function, m *ir.Module, bytecodeGlobal *ir.GlobalValue, bytecodeLen int, newFn, execFn, destroyFn *ir.Function) {
	entry := fn.Blocks[0]
	entry.Instructions = nil
	entry.Terminator = nil
	entry.Successors = nil

	b := ir.NewBuilder(m, fn, entry)
	runtimePtr := b.Call(newFn, nil)
	bytecodePtr := passutil.GlobalRef(bytecodeGlobal)
	lengthConst := b.ConstI(32, int64(bytecodeLen))
	result := b.Call(execFn, []*ir.Value{runtimePtr, bytecodePtr, lengthConst})
	b.Call(destroyFn, []*ir.Value{runtimePtr})

	if _, isVoid := fn.ReturnType.(ir.VoidType); isVoid {
		b.Ret(nil)
		return
	}
	if it, ok := fn.ReturnType.(ir.IntType); ok && it.Bits < 64 {
		truncated := b.Cast("trunc", result, fn.ReturnType)
		b.Ret(truncated)
		return
	}
	if _, ok := fn.ReturnType.(ir.PointerType); ok {
		casted := b.Cast("inttoptr", result, fn.ReturnType)
		b.Ret(casted)
		return
	}
	b.Ret(result)
}

var _ passregistry.FunctionPass = (*Pass)(nil)
