package ir

// Builder provides a cursor-based helper for constructing or rewriting IR,
// generalized from the teacher's counter-based Builder (valueCounter/
// blockCounter/instCounter plus a currentFunc/currentBlock cursor) from
// AST-to-IR lowering into pass-local IR-to-IR synthesis: every obfuscation
// pass that inserts new blocks/instructions (flatten's dispatcher, bogus
// control flow's opaque-predicate blocks, VM-flatten's runtime call sequence)
// uses a Builder instead of poking block/instruction lists directly.
type Builder struct {
	module *Module
	fn     *Function
	block  *BasicBlock

	// before, when set, makes every emission splice in immediately ahead
	// of it instead of appending at the block's end — indirect-call's
	// in-place call-site rewrite (§4.9) needs this to keep a replaced
	// call's new instruction sequence exactly where the old one stood.
	before Instruction
}

// NewBuilder creates a Builder inserting into block, within fn, within m.
func NewBuilder(m *Module, fn *Function, block *BasicBlock) *Builder {
	return &Builder{module: m, fn: fn, block: block}
}

// NewBuilderBefore creates a Builder that splices every emitted
// instruction into block immediately ahead of before, rather than at the
// block's end.
func NewBuilderBefore(m *Module, fn *Function, block *BasicBlock, before Instruction) *Builder {
	return &Builder{module: m, fn: fn, block: block, before: before}
}

// SetBlock repositions the builder's insertion point and clears any
// insert-before cursor.
func (b *Builder) SetBlock(block *BasicBlock) { b.block = block; b.before = nil }

func (b *Builder) newValue(name string, t Type) *Value {
	return NewValue(b.module, name, t)
}

// insert places inst at the builder's current position: spliced before
// b.before if set, appended to the block otherwise.
func (b *Builder) insert(inst Instruction) {
	b.block.InsertBefore(b.before, inst)
}

// Binary emits a binary instruction and returns its result value.
func (b *Builder) Binary(op Opcode, lhs, rhs *Value) *Value {
	result := b.newValue("", lhs.Type)
	inst := NewBinaryInst(b.fn, op, lhs, rhs, result)
	result.DefBlock, result.DefInst = b.block, inst
	b.insert(inst)
	return result
}

// ICmp emits an integer comparison and returns its i1 result.
func (b *Builder) ICmp(pred ICmpPredicate, lhs, rhs *Value) *Value {
	result := b.newValue("", I1)
	inst := NewICmpInst(b.fn, pred, lhs, rhs, result)
	result.DefBlock, result.DefInst = b.block, inst
	b.insert(inst)
	return result
}

// Load emits a load of elemType from addr.
func (b *Builder) Load(addr *Value, elemType Type) *Value {
	result := b.newValue("", elemType)
	inst := NewLoadInst(b.fn, addr, elemType, result)
	result.DefBlock, result.DefInst = b.block, inst
	b.insert(inst)
	return result
}

// Store emits a store of val to addr.
func (b *Builder) Store(val, addr *Value) {
	b.insert(NewStoreInst(b.fn, val, addr))
}

// Alloca emits a stack allocation of elemType and returns a pointer to it.
func (b *Builder) Alloca(elemType Type) *Value {
	result := b.newValue("", PointerType{Elem: elemType})
	inst := NewAllocaInst(b.fn, elemType, result)
	result.DefBlock, result.DefInst = b.block, inst
	b.insert(inst)
	return result
}

// ConstI materializes an integer constant of the given width.
func (b *Builder) ConstI(bits int, value int64) *Value {
	t := IntType{Bits: bits}
	result := b.newValue("", t)
	inst := NewConstInst(b.fn, t, value, result)
	result.DefBlock, result.DefInst = b.block, inst
	b.insert(inst)
	return result
}

// GEP emits a typed getelementptr and returns a pointer to elemType.
func (b *Builder) GEP(base *Value, elemType Type, indices []*Value) *Value {
	result := b.newValue("", PointerType{Elem: elemType})
	inst := NewGEPInst(b.fn, base, elemType, indices, result)
	result.DefBlock, result.DefInst = b.block, inst
	b.insert(inst)
	return result
}

// Call emits a direct call to callee.
func (b *Builder) Call(callee *Function, args []*Value) *Value {
	var result *Value
	if _, isVoid := callee.ReturnType.(VoidType); !isVoid {
		result = b.newValue("", callee.ReturnType)
	}
	inst := NewCallInst(b.fn, callee, args, result)
	if result != nil {
		result.DefBlock, result.DefInst = b.block, inst
	}
	b.insert(inst)
	return result
}

// IndirectCall emits a call through a runtime function pointer.
func (b *Builder) IndirectCall(funcPtr *Value, sig FunctionType, args []*Value) *Value {
	var result *Value
	if _, isVoid := sig.Return.(VoidType); !isVoid {
		result = b.newValue("", sig.Return)
	}
	inst := NewCallInst(b.fn, nil, args, result)
	inst.FuncPtr = funcPtr
	if result != nil {
		result.DefBlock, result.DefInst = b.block, inst
	}
	addUse(funcPtr, inst, b.block)
	b.insert(inst)
	return result
}

// Cast emits a bitcast/ext/trunc/ptr conversion.
func (b *Builder) Cast(kind string, val *Value, toType Type) *Value {
	result := b.newValue("", toType)
	inst := NewCastInst(b.fn, kind, val, toType, result)
	result.DefBlock, result.DefInst = b.block, inst
	b.insert(inst)
	return result
}

// Select emits a branchless select.
func (b *Builder) Select(cond, trueVal, falseVal *Value) *Value {
	result := b.newValue("", trueVal.Type)
	inst := NewSelectInst(b.fn, cond, trueVal, falseVal, result)
	result.DefBlock, result.DefInst = b.block, inst
	b.insert(inst)
	return result
}

// Br terminates the current block with an unconditional branch to target.
func (b *Builder) Br(target *BasicBlock) {
	b.block.SetTerminator(NewUnconditionalBranch(b.fn, target))
}

// CondBr terminates the current block with a conditional branch.
func (b *Builder) CondBr(cond *Value, trueBB, falseBB *BasicBlock) {
	b.block.SetTerminator(NewConditionalBranch(b.fn, cond, trueBB, falseBB))
}

// Switch terminates the current block with a switch and returns it so the
// caller can add cases.
func (b *Builder) Switch(cond *Value, def *BasicBlock) *SwitchInst {
	sw := NewSwitchInst(b.fn, cond, def)
	b.block.SetTerminator(sw)
	return sw
}

// Ret terminates the current block with a return.
func (b *Builder) Ret(val *Value) {
	b.block.SetTerminator(NewReturnInst(b.fn, val))
}

// Unreachable terminates the current block as unreachable, the standard
// terminator for bogus control flow's synthesized fake blocks (§4.5).
func (b *Builder) Unreachable() {
	b.block.SetTerminator(NewUnreachableInst(b.fn))
}

// IsIntrinsicCall reports whether inst calls a function the host
// recognizes as a compiler intrinsic (llvm.*) — such calls are never
// touched by indirect-call/clone-function rewrites.
func IsIntrinsicCall(inst Instruction) bool {
	call, ok := inst.(*CallInst)
	if !ok || call.Callee == nil {
		return false
	}
	return call.Callee.IntrinsicID != ""
}
