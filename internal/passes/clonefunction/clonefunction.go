// Package clonefunction replaces a call that passes one or more compile-time
// constants with a call to a specialized clone of the callee: the clone's
// signature drops the constant-valued parameters entirely and has their
// values baked in as local constants instead, so a disassembler reading the
// call site sees a shorter, different-looking argument list than the one the
// source actually has, and reading the callee sees one more function body
// than the source ever defined. Grounded on original_source's
// src/aotu/clone_function/mod.rs.
package clonefunction

import (
	"fmt"
	"sort"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
	"amice-go/internal/verify"
)

type callSite struct {
	fn     *ir.Function
	bb     *ir.BasicBlock
	call   *ir.CallInst
	consts map[int]int64
}

type specialization struct {
	key    string
	subs   map[int]int64
	clone  *ir.Function
	kept   []int // original param indices the clone still takes, in order
}

type Pass struct {
	cfg config.CloneFunctionConfig
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "clone_function" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseEarly }
func (p *Pass) Priority() int             { return 1111 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.CloneFunction
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

func (p *Pass) RunOnModule(m *ir.Module, sink *diagnostics.Sink) error {
	if !p.cfg.Enable {
		return nil
	}

	maxClones := p.cfg.MaxClones
	if maxClones <= 0 {
		maxClones = 4
	}

	var sites []callSite
	for _, fn := range m.Functions {
		if len(fn.Blocks) == 0 {
			continue
		}
		if !passutil.FunctionBool(fn, "clone_function", p.cfg.Enable) {
			continue
		}
		for _, bb := range fn.Blocks {
			for _, inst := range bb.Instructions {
				call, ok := inst.(*ir.CallInst)
				if !ok || !eligibleCallee(call) {
					continue
				}
				consts := constArgs(call)
				if len(consts) == 0 {
					continue
				}
				sites = append(sites, callSite{fn: fn, bb: bb, call: call, consts: consts})
			}
		}
	}

	bySpec := make(map[*ir.Function]map[string]*specialization)
	var skipped int
	for _, site := range sites {
		byKey, ok := bySpec[site.call.Callee]
		if !ok {
			byKey = make(map[string]*specialization)
			bySpec[site.call.Callee] = byKey
		}
		key := substitutionKey(site.consts)
		if _, ok := byKey[key]; ok {
			continue
		}
		if len(byKey) >= maxClones {
			skipped++
			continue
		}
		byKey[key] = &specialization{key: key, subs: site.consts}
	}
	if skipped > 0 {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "skipped %d distinct constant-argument combinations beyond max_clones", skipped)
	}

	for callee, byKey := range bySpec {
		for _, spec := range byKey {
			spec.clone = cloneSpecialized(m, callee, spec)
		}
	}

	touchedCallers := make(map[*ir.Function]bool)
	var touchedAny bool
	for _, site := range sites {
		byKey, ok := bySpec[site.call.Callee]
		if !ok {
			continue
		}
		spec, ok := byKey[substitutionKey(site.consts)]
		if !ok || spec.clone == nil {
			continue
		}
		rewriteCallSite(m, site, spec)
		touchedCallers[site.fn] = true
		touchedAny = true
	}

	if !touchedAny {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "module has no calls with constant arguments to specialize")
		return nil
	}

	for fn := range touchedCallers {
		for _, problem := range verify.Function(fn) {
			sink.Reportf(diagnostics.VerifierBroken, p.Name(), fn.Name, "%s", problem.String())
		}
	}
	for _, byKey := range bySpec {
		for _, spec := range byKey {
			if spec.clone == nil {
				continue
			}
			for _, problem := range verify.Function(spec.clone) {
				sink.Reportf(diagnostics.VerifierBroken, p.Name(), spec.clone.Name, "%s", problem.String())
			}
		}
	}
	return nil
}

// eligibleCallee mirrors do_pass's guard clauses: a direct, non-intrinsic
// call to a defined (not merely declared), fixed-arity function whose entry
// isn't exception-handling flow this model only ever treats as opaque.
func eligibleCallee(call *ir.CallInst) bool {
	if call.Callee == nil || call.FuncPtr != nil {
		return false
	}
	if ir.IsIntrinsicCall(call) {
		return false
	}
	callee := call.Callee
	if callee.VarArg || len(callee.Blocks) == 0 {
		return false
	}
	return !passutil.EntryHasEH(callee)
}

// constArgs collects the (parameter index, value) pairs of call's arguments
// that are compile-time integer constants — this IR model has no float
// type, so original_source's "constant integer or float operand" narrows to
// integers here.
func constArgs(call *ir.CallInst) map[int]int64 {
	var out map[int]int64
	for i, a := range call.Args {
		c, ok := a.DefInst.(*ir.ConstInst)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[int]int64)
		}
		out[i] = c.IntValue
	}
	return out
}

// substitutionKey produces a stable, order-independent identity for a set
// of (index, value) substitutions, so two calls baking in the same
// constants at the same positions share one clone.
func substitutionKey(consts map[int]int64) string {
	indices := make([]int, 0, len(consts))
	for i := range consts {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	s := ""
	for _, i := range indices {
		s += fmt.Sprintf("%d=%d;", i, consts[i])
	}
	return s
}

// cloneSpecialized deep-copies callee's body into a new internal-linkage
// function whose signature drops every substituted parameter, replacing
// each of their uses with a freshly materialized constant instead. Grounded
// on original_source's specialize_function_by_args, here built directly
// against this IR model's instruction set rather than delegated to a host
// cloning facility.
func cloneSpecialized(m *ir.Module, callee *ir.Function, spec *specialization) *ir.Function {
	kept := make([]int, 0, len(callee.Params))
	for i := range callee.Params {
		if _, substituted := spec.subs[i]; !substituted {
			kept = append(kept, i)
		}
	}
	spec.kept = kept

	newParams := make([]*ir.Parameter, len(kept))
	for j, origIdx := range kept {
		p := callee.Params[origIdx]
		newParams[j] = &ir.Parameter{Name: p.Name, Type: p.Type}
	}

	newName := fmt.Sprintf("%s.specialized.%x", callee.Name, hashKey(spec.key))
	clone := ir.NewFunction(newName, newParams, callee.ReturnType)
	clone.Linkage = ir.LinkageInternal
	clone.FuncAttrs = append([]ir.Attribute(nil), callee.FuncAttrs...)
	clone.RetAttrs = append([]ir.Attribute(nil), callee.RetAttrs...)
	for j, origIdx := range kept {
		if attrs, ok := callee.ParamAttrs[origIdx]; ok {
			clone.ParamAttrs[j] = append([]ir.Attribute(nil), attrs...)
		}
	}
	m.AddFunction(clone)
	for j := range newParams {
		newParams[j].Value = ir.NewValue(m, newParams[j].Name, newParams[j].Type)
	}

	valueMap := make(map[*ir.Value]*ir.Value)
	for j, origIdx := range kept {
		valueMap[callee.Params[origIdx].Value] = newParams[j].Value
	}
	for origIdx, constVal := range spec.subs {
		p := callee.Params[origIdx]
		bits := ir.SizeOfBits(p.Type)
		if bits == 0 {
			bits = 64
		}
		valueMap[p.Value] = passutil.PrependConst(clone, m, bits, constVal)
	}

	blockMap := make(map[*ir.BasicBlock]*ir.BasicBlock, len(callee.Blocks))
	blockMap[callee.Blocks[0]] = clone.Entry()
	for _, oldBB := range callee.Blocks[1:] {
		blockMap[oldBB] = clone.AppendBlock(oldBB.Label)
	}

	for _, oldBB := range callee.Blocks {
		newBB := blockMap[oldBB]
		for _, oldInst := range oldBB.Instructions {
			newInst := cloneInstruction(clone, newBB, m, oldInst, valueMap, blockMap)
			newBB.Append(newInst)
			bindResult(newInst, newBB, oldInst, valueMap)
		}
		if oldBB.Terminator != nil {
			newTerm := cloneTerminator(clone, newBB, m, oldBB.Terminator, valueMap, blockMap)
			newBB.SetTerminator(newTerm)
		}
	}

	return clone
}

func hashKey(key string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h
}

func remap(vm map[*ir.Value]*ir.Value, v *ir.Value) *ir.Value {
	if v == nil {
		return nil
	}
	if nv, ok := vm[v]; ok {
		return nv
	}
	// A reference this clone never rebinds: a bare global/function/block
	// address operand (GlobalRef/FunctionRef/BlockRef style), which carries
	// no DefInst and is safe to share as-is.
	return v
}

func remapBlock(bm map[*ir.BasicBlock]*ir.BasicBlock, bb *ir.BasicBlock) *ir.BasicBlock {
	if bb == nil {
		return nil
	}
	if nb, ok := bm[bb]; ok {
		return nb
	}
	return bb
}

func bindResult(newInst ir.Instruction, newBB *ir.BasicBlock, oldInst ir.Instruction, vm map[*ir.Value]*ir.Value) {
	newInst.SetBlock(newBB)
	oldResult := oldInst.Result()
	if oldResult == nil {
		return
	}
	newResult := newInst.Result()
	newResult.DefBlock = newBB
	newResult.DefInst = newInst
	vm[oldResult] = newResult
}

// cloneInstruction deep-copies one non-terminator instruction, remapping
// every operand through valueMap/blockMap. The result value, if any, is
// freshly allocated by the New*Inst constructor and wired up by the caller
// (bindResult) once the instruction is placed in its block.
func cloneInstruction(fn *ir.Function, bb *ir.BasicBlock, m *ir.Module, inst ir.Instruction, vm map[*ir.Value]*ir.Value, bmap map[*ir.BasicBlock]*ir.BasicBlock) ir.Instruction {
	switch i := inst.(type) {
	case *ir.BinaryInst:
		result := ir.NewValue(m, "", i.Result().Type)
		n := ir.NewBinaryInst(fn, i.Op, remap(vm, i.LHS), remap(vm, i.RHS), result)
		n.NSW, n.NUW = i.NSW, i.NUW
		return n
	case *ir.ICmpInst:
		result := ir.NewValue(m, "", i.Result().Type)
		return ir.NewICmpInst(fn, i.Pred, remap(vm, i.LHS), remap(vm, i.RHS), result)
	case *ir.LoadInst:
		result := ir.NewValue(m, "", i.Result().Type)
		n := ir.NewLoadInst(fn, remap(vm, i.Addr), i.ElemType, result)
		n.Volatile, n.Align = i.Volatile, i.Align
		return n
	case *ir.StoreInst:
		n := ir.NewStoreInst(fn, remap(vm, i.Val), remap(vm, i.Addr))
		n.Volatile, n.Align = i.Volatile, i.Align
		return n
	case *ir.AllocaInst:
		result := ir.NewValue(m, "", i.Result().Type)
		n := ir.NewAllocaInst(fn, i.ElemType, result)
		n.Align = i.Align
		if i.ArraySize != nil {
			n.ArraySize = remap(vm, i.ArraySize)
		}
		return n
	case *ir.GEPInst:
		result := ir.NewValue(m, "", i.Result().Type)
		indices := make([]*ir.Value, len(i.Indices))
		for j, idx := range i.Indices {
			indices[j] = remap(vm, idx)
		}
		return ir.NewGEPInst(fn, remap(vm, i.Base), i.ElemType, indices, result)
	case *ir.ConstInst:
		result := ir.NewValue(m, "", i.Type)
		return ir.NewConstInst(fn, i.Type, i.IntValue, result)
	case *ir.CallInst:
		var result *ir.Value
		if i.Result() != nil {
			result = ir.NewValue(m, "", i.Result().Type)
		}
		args := make([]*ir.Value, len(i.Args))
		for j, a := range i.Args {
			args[j] = remap(vm, a)
		}
		n := ir.NewCallInst(fn, i.Callee, args, result)
		n.CalleeName, n.FuncPtr, n.CallConv, n.Tail = i.CalleeName, remap(vm, i.FuncPtr), i.CallConv, i.Tail
		n.RetAttrs = append([]ir.Attribute(nil), i.RetAttrs...)
		for k, attrs := range i.ArgAttrs {
			n.ArgAttrs[k] = append([]ir.Attribute(nil), attrs...)
		}
		return n
	case *ir.CastInst:
		result := ir.NewValue(m, "", i.ToType)
		return ir.NewCastInst(fn, i.Kind, remap(vm, i.Val), i.ToType, result)
	case *ir.PhiInst:
		result := ir.NewValue(m, "", i.Result().Type)
		n := ir.NewPhiInst(fn, result)
		for pred, v := range i.Incoming {
			n.AddIncoming(remapBlock(bmap, pred), remap(vm, v))
		}
		return n
	case *ir.SelectInst:
		result := ir.NewValue(m, "", i.Result().Type)
		return ir.NewSelectInst(fn, remap(vm, i.Cond), remap(vm, i.True), remap(vm, i.False), result)
	default:
		// Every supported non-terminator instruction kind is handled above;
		// an unrecognized one is cloned as a no-op marker so the function
		// still verifies rather than silently dropping a result.
		return ir.NewUnreachableInst(fn)
	}
}

func cloneTerminator(fn *ir.Function, bb *ir.BasicBlock, m *ir.Module, term ir.Terminator, vm map[*ir.Value]*ir.Value, bmap map[*ir.BasicBlock]*ir.BasicBlock) ir.Terminator {
	switch t := term.(type) {
	case *ir.BranchInst:
		if t.Cond == nil {
			return ir.NewUnconditionalBranch(fn, remapBlock(bmap, t.TrueBB))
		}
		return ir.NewConditionalBranch(fn, remap(vm, t.Cond), remapBlock(bmap, t.TrueBB), remapBlock(bmap, t.FalseBB))
	case *ir.SwitchInst:
		n := ir.NewSwitchInst(fn, remap(vm, t.Cond), remapBlock(bmap, t.Default))
		for _, c := range t.Cases {
			n.AddCase(c.Value, remapBlock(bmap, c.Dest))
		}
		return n
	case *ir.ReturnInst:
		return ir.NewReturnInst(fn, remap(vm, t.Val))
	case *ir.IndirectBrInst:
		dests := make([]*ir.BasicBlock, len(t.Dests))
		for j, d := range t.Dests {
			dests[j] = remapBlock(bmap, d)
		}
		return ir.NewIndirectBrInst(fn, remap(vm, t.Addr), dests)
	case *ir.InvokeInst:
		var result *ir.Value
		if t.Result() != nil {
			result = ir.NewValue(m, "", t.Result().Type)
		}
		args := make([]*ir.Value, len(t.Args))
		for j, a := range t.Args {
			args[j] = remap(vm, a)
		}
		n := ir.NewInvokeInst(fn, t.Callee, args, remapBlock(bmap, t.NormalDest), remapBlock(bmap, t.UnwindDest), result)
		n.FuncPtr = remap(vm, t.FuncPtr)
		return n
	default:
		return ir.NewUnreachableInst(fn)
	}
}

// rewriteCallSite replaces the old call with one to spec.clone, dropping
// the arguments at the substituted indices and preserving the relative
// order of the rest.
func rewriteCallSite(m *ir.Module, site callSite, spec *specialization) {
	newArgs := make([]*ir.Value, len(spec.kept))
	for j, origIdx := range spec.kept {
		newArgs[j] = site.call.Args[origIdx]
	}

	b := ir.NewBuilderBefore(m, site.fn, site.bb, site.call)
	newResult := b.Call(spec.clone, newArgs)
	if site.call.Result() != nil && newResult != nil {
		ir.ReplaceAllUsesWith(site.call.Result(), newResult)
	}
	site.bb.EraseInstruction(site.call)
}

var _ passregistry.ModulePass = (*Pass)(nil)
