package ir

import "fmt"

// Opcode identifies an instruction's operation, mirroring the closed set
// spec.md §3 lists for the polymorphic Instruction entity. Passes gate
// eligibility by scanning a block's instructions for specific opcodes
// (e.g. flatten's entry-block exception-flow check, §4.3) the same way
// the original plugin switches on InstructionOpcode.
type Opcode int

const (
	OpAdd Opcode = iota
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpSRem
	OpURem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr
	OpICmp
	OpLoad
	OpStore
	OpAlloca
	OpGEP
	OpCall
	OpCast
	OpPhi
	OpSelect
	OpBranch
	OpSwitch
	OpReturn
	OpUnreachable
	OpIndirectBr
	OpLandingPad
	OpInvoke
	OpCatchSwitch
	OpCatchPad
	OpCatchRet
	OpCleanupPad
	OpCallBr
)

var opcodeNames = map[Opcode]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpSDiv: "sdiv", OpUDiv: "udiv",
	OpSRem: "srem", OpURem: "urem", OpAnd: "and", OpOr: "or", OpXor: "xor",
	OpShl: "shl", OpLShr: "lshr", OpAShr: "ashr", OpICmp: "icmp",
	OpLoad: "load", OpStore: "store", OpAlloca: "alloca", OpGEP: "getelementptr",
	OpCall: "call", OpCast: "cast", OpPhi: "phi", OpSelect: "select",
	OpBranch: "br", OpSwitch: "switch", OpReturn: "ret", OpUnreachable: "unreachable",
	OpIndirectBr: "indirectbr", OpLandingPad: "landingpad", OpInvoke: "invoke",
	OpCatchSwitch: "catchswitch", OpCatchPad: "catchpad", OpCatchRet: "catchret",
	OpCleanupPad: "cleanuppad", OpCallBr: "callbr",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return "unknown"
}

// EHOpcodes is the set of opcodes that mark exception-handling control
// flow; flatten and bogus-control-flow both refuse to touch a function
// whose entry block contains one of these (spec.md §4.3, §7 UnsupportedIR).
var EHOpcodes = map[Opcode]bool{
	OpInvoke:      true,
	OpLandingPad:  true,
	OpCatchSwitch: true,
	OpCatchPad:    true,
	OpCatchRet:    true,
	OpCleanupPad:  true,
	OpCallBr:      true,
}

// Instruction is the common interface every IR instruction implements
// (spec.md §3, Instruction).
type Instruction interface {
	ID() int
	Opcode() Opcode
	Result() *Value
	Operands() []*Value
	Block() *BasicBlock
	SetBlock(*BasicBlock)
	IsTerminator() bool
	String() string
}

// Terminator is an Instruction that ends a basic block.
type Terminator interface {
	Instruction
	Successors() []*BasicBlock
}

// addUse records that inst uses v, threading v's def-use chain.
func addUse(v *Value, inst Instruction, block *BasicBlock) {
	if v == nil {
		return
	}
	v.Uses = append(v.Uses, &Use{Value: v, User: inst, Block: block})
}

// RemoveUsesBy deletes every Use record in v's chain whose User is inst.
// Call this before mutating or erasing an instruction that referenced v.
func RemoveUsesBy(v *Value, inst Instruction) {
	if v == nil {
		return
	}
	out := v.Uses[:0]
	for _, u := range v.Uses {
		if u.User != inst {
			out = append(out, u)
		}
	}
	v.Uses = out
}

// ReplaceAllUsesWith rewrites every operand across the function that
// refers to oldVal so it refers to newVal instead, using each Use's
// recorded User/Block rather than re-scanning every instruction.
func ReplaceAllUsesWith(oldVal, newVal *Value) {
	if oldVal == nil || oldVal == newVal {
		return
	}
	uses := append([]*Use(nil), oldVal.Uses...)
	for _, u := range uses {
		replaceOperandInInstruction(u.User, oldVal, newVal)
	}
	oldVal.Uses = nil
}

func replaceOperandInInstruction(inst Instruction, oldVal, newVal *Value) {
	switch i := inst.(type) {
	case *BinaryInst:
		if i.LHS == oldVal {
			i.LHS = newVal
		}
		if i.RHS == oldVal {
			i.RHS = newVal
		}
	case *ICmpInst:
		if i.LHS == oldVal {
			i.LHS = newVal
		}
		if i.RHS == oldVal {
			i.RHS = newVal
		}
	case *LoadInst:
		if i.Addr == oldVal {
			i.Addr = newVal
		}
	case *StoreInst:
		if i.Addr == oldVal {
			i.Addr = newVal
		}
		if i.Val == oldVal {
			i.Val = newVal
		}
	case *AllocaInst:
		if i.ArraySize == oldVal {
			i.ArraySize = newVal
		}
	case *GEPInst:
		if i.Base == oldVal {
			i.Base = newVal
		}
		for j, idx := range i.Indices {
			if idx == oldVal {
				i.Indices[j] = newVal
			}
		}
	case *CallInst:
		if i.FuncPtr == oldVal {
			i.FuncPtr = newVal
		}
		for j, a := range i.Args {
			if a == oldVal {
				i.Args[j] = newVal
			}
		}
	case *CastInst:
		if i.Val == oldVal {
			i.Val = newVal
		}
	case *PhiInst:
		for bb, v := range i.Incoming {
			if v == oldVal {
				i.Incoming[bb] = newVal
			}
		}
	case *SelectInst:
		if i.Cond == oldVal {
			i.Cond = newVal
		}
		if i.True == oldVal {
			i.True = newVal
		}
		if i.False == oldVal {
			i.False = newVal
		}
	case *BranchInst:
		if i.Cond == oldVal {
			i.Cond = newVal
		}
	case *SwitchInst:
		if i.Cond == oldVal {
			i.Cond = newVal
		}
	case *ReturnInst:
		if i.Val == oldVal {
			i.Val = newVal
		}
	case *IndirectBrInst:
		if i.Addr == oldVal {
			i.Addr = newVal
		}
	case *InvokeInst:
		if i.FuncPtr == oldVal {
			i.FuncPtr = newVal
		}
		for j, a := range i.Args {
			if a == oldVal {
				i.Args[j] = newVal
			}
		}
	}
	if oldVal != nil {
		RemoveUsesBy(oldVal, inst)
	}
	addUse(newVal, inst, inst.Block())
}

// ReplaceOperandIn rewrites oldVal to newVal only within inst's own operand
// slots, leaving every other use of oldVal elsewhere untouched. Used when
// distinct uses of the same value must be redirected to distinct
// replacements — e.g. control-flow flattening's per-use-site stack reload,
// where each block that used to directly dominate the definition now needs
// its own reload of the same logical value (§4.3 fix_stack).
func ReplaceOperandIn(inst Instruction, oldVal, newVal *Value) {
	replaceOperandInInstruction(inst, oldVal, newVal)
}

// base carries the fields every concrete instruction needs; embedded so
// each struct only has to implement the operation-specific parts.
type base struct {
	id     int
	block  *BasicBlock
	result *Value
}

func (b *base) ID() int             { return b.id }
func (b *base) Block() *BasicBlock  { return b.block }
func (b *base) SetBlock(bb *BasicBlock) { b.block = bb }
func (b *base) Result() *Value      { return b.result }
func (b *base) IsTerminator() bool  { return false }

// BinaryInst covers arithmetic, bitwise and shift opcodes (spec.md §3).
type BinaryInst struct {
	base
	Op       Opcode
	LHS, RHS *Value
	NSW, NUW bool // no-signed-wrap / no-unsigned-wrap, meaningful on add/sub/mul
}

func NewBinaryInst(f *Function, op Opcode, lhs, rhs *Value, result *Value) *BinaryInst {
	i := &BinaryInst{base: base{id: f.NextInstID(), result: result}, Op: op, LHS: lhs, RHS: rhs}
	addUse(lhs, i, nil)
	addUse(rhs, i, nil)
	return i
}
func (i *BinaryInst) Opcode() Opcode      { return i.Op }
func (i *BinaryInst) Operands() []*Value  { return []*Value{i.LHS, i.RHS} }
func (i *BinaryInst) String() string {
	return fmt.Sprintf("%s = %s %s, %s", i.result, i.Op, i.LHS, i.RHS)
}

// ICmpPredicate names an integer comparison predicate.
type ICmpPredicate int

const (
	ICmpEQ ICmpPredicate = iota
	ICmpNE
	ICmpUGT
	ICmpUGE
	ICmpULT
	ICmpULE
	ICmpSGT
	ICmpSGE
	ICmpSLT
	ICmpSLE
)

func (p ICmpPredicate) String() string {
	names := [...]string{"eq", "ne", "ugt", "uge", "ult", "ule", "sgt", "sge", "slt", "sle"}
	if int(p) < len(names) {
		return names[p]
	}
	return "unknown"
}

// ICmpInst compares two integers and produces an i1.
type ICmpInst struct {
	base
	Pred     ICmpPredicate
	LHS, RHS *Value
}

func NewICmpInst(f *Function, pred ICmpPredicate, lhs, rhs, result *Value) *ICmpInst {
	i := &ICmpInst{base: base{id: f.NextInstID(), result: result}, Pred: pred, LHS: lhs, RHS: rhs}
	addUse(lhs, i, nil)
	addUse(rhs, i, nil)
	return i
}
func (i *ICmpInst) Opcode() Opcode     { return OpICmp }
func (i *ICmpInst) Operands() []*Value { return []*Value{i.LHS, i.RHS} }
func (i *ICmpInst) String() string {
	return fmt.Sprintf("%s = icmp %s %s, %s", i.result, i.Pred, i.LHS, i.RHS)
}

// LoadInst loads a value of ElemType from Addr.
type LoadInst struct {
	base
	Addr     *Value
	ElemType Type
	Volatile bool
	Align    int
}

func NewLoadInst(f *Function, addr *Value, elemType Type, result *Value) *LoadInst {
	i := &LoadInst{base: base{id: f.NextInstID(), result: result}, Addr: addr, ElemType: elemType}
	addUse(addr, i, nil)
	return i
}
func (i *LoadInst) Opcode() Opcode     { return OpLoad }
func (i *LoadInst) Operands() []*Value { return []*Value{i.Addr} }
func (i *LoadInst) String() string {
	v := ""
	if i.Volatile {
		v = "volatile "
	}
	return fmt.Sprintf("%s = %sload %s, ptr %s", i.result, v, i.ElemType, i.Addr)
}

// StoreInst stores Val to Addr.
type StoreInst struct {
	base
	Addr, Val *Value
	Volatile  bool
	Align     int
}

func NewStoreInst(f *Function, val, addr *Value) *StoreInst {
	i := &StoreInst{base: base{id: f.NextInstID()}, Addr: addr, Val: val}
	addUse(val, i, nil)
	addUse(addr, i, nil)
	return i
}
func (i *StoreInst) Opcode() Opcode     { return OpStore }
func (i *StoreInst) Operands() []*Value { return []*Value{i.Addr, i.Val} }
func (i *StoreInst) String() string {
	v := ""
	if i.Volatile {
		v = "volatile "
	}
	return fmt.Sprintf("%sstore %s, ptr %s", v, i.Val, i.Addr)
}

// AllocaInst allocates stack space for one (or ArraySize, if non-nil)
// value(s) of ElemType.
type AllocaInst struct {
	base
	ElemType  Type
	ArraySize *Value
	Align     int
}

func NewAllocaInst(f *Function, elemType Type, result *Value) *AllocaInst {
	return &AllocaInst{base: base{id: f.NextInstID(), result: result}, ElemType: elemType}
}
func (i *AllocaInst) Opcode() Opcode { return OpAlloca }
func (i *AllocaInst) Operands() []*Value {
	if i.ArraySize != nil {
		return []*Value{i.ArraySize}
	}
	return nil
}
func (i *AllocaInst) String() string {
	return fmt.Sprintf("%s = alloca %s", i.result, i.ElemType)
}

// GEPInst computes a pointer offset from Base by Indices into ElemType,
// the typed getelementptr of spec.md §3/§4.11.
type GEPInst struct {
	base
	Base     *Value
	ElemType Type
	Indices  []*Value
}

func NewGEPInst(f *Function, base_ *Value, elemType Type, indices []*Value, result *Value) *GEPInst {
	i := &GEPInst{base: base{id: f.NextInstID(), result: result}, Base: base_, ElemType: elemType, Indices: indices}
	addUse(base_, i, nil)
	for _, idx := range indices {
		addUse(idx, i, nil)
	}
	return i
}
func (i *GEPInst) Opcode() Opcode { return OpGEP }
func (i *GEPInst) Operands() []*Value {
	ops := make([]*Value, 0, len(i.Indices)+1)
	ops = append(ops, i.Base)
	ops = append(ops, i.Indices...)
	return ops
}
func (i *GEPInst) String() string {
	return fmt.Sprintf("%s = getelementptr %s, ptr %s, %v", i.result, i.ElemType, i.Base, i.Indices)
}

// ConstIndices returns the GEP's indices as constant int64s and true, or
// (nil, false) if any index is not a compile-time constant — the
// selection gate for delay-offset loading (§4.11).
func (i *GEPInst) ConstIndices() ([]int64, bool) {
	out := make([]int64, len(i.Indices))
	for j, idx := range i.Indices {
		c, ok := idx.DefInst.(*ConstInst)
		if !ok {
			return nil, false
		}
		out[j] = c.IntValue
	}
	return out, true
}

// ConstInst materializes a compile-time constant as an SSA value.
type ConstInst struct {
	base
	IntValue int64
	Type     Type
}

func NewConstInst(f *Function, t Type, value int64, result *Value) *ConstInst {
	return &ConstInst{base: base{id: f.NextInstID(), result: result}, Type: t, IntValue: value}
}
func (i *ConstInst) Opcode() Opcode     { return OpCast } // treated as a pure value materialization
func (i *ConstInst) Operands() []*Value { return nil }
func (i *ConstInst) String() string     { return fmt.Sprintf("%s = const %s %d", i.result, i.Type, i.IntValue) }

// CallInst calls either a direct Callee or, when FuncPtr is set, an
// indirect callee loaded through a function-pointer table (§4.9).
type CallInst struct {
	base
	Callee   *Function // nil when calling indirectly
	CalleeName string  // retained even after Callee is erased, for tables
	FuncPtr  *Value    // non-nil for an indirect call
	Args     []*Value
	CallConv string
	Tail     bool
	ArgAttrs map[int][]Attribute
	RetAttrs []Attribute
}

func NewCallInst(f *Function, callee *Function, args []*Value, result *Value) *CallInst {
	name := ""
	if callee != nil {
		name = callee.Name
	}
	i := &CallInst{base: base{id: f.NextInstID(), result: result}, Callee: callee, CalleeName: name, Args: args, ArgAttrs: make(map[int][]Attribute)}
	for _, a := range args {
		addUse(a, i, nil)
	}
	return i
}
func (i *CallInst) Opcode() Opcode { return OpCall }
func (i *CallInst) Operands() []*Value {
	if i.FuncPtr != nil {
		return append([]*Value{i.FuncPtr}, i.Args...)
	}
	return append([]*Value(nil), i.Args...)
}
func (i *CallInst) String() string {
	target := i.CalleeName
	if i.FuncPtr != nil {
		target = i.FuncPtr.String()
	}
	return fmt.Sprintf("%s = call %s(%v)", i.result, target, i.Args)
}

// CastInst covers bitcast/sext/zext/trunc/ptrtoint/inttoptr.
type CastInst struct {
	base
	Kind   string
	Val    *Value
	ToType Type
}

func NewCastInst(f *Function, kind string, val *Value, toType Type, result *Value) *CastInst {
	i := &CastInst{base: base{id: f.NextInstID(), result: result}, Kind: kind, Val: val, ToType: toType}
	addUse(val, i, nil)
	return i
}
func (i *CastInst) Opcode() Opcode     { return OpCast }
func (i *CastInst) Operands() []*Value { return []*Value{i.Val} }
func (i *CastInst) String() string {
	return fmt.Sprintf("%s = %s %s to %s", i.result, i.Kind, i.Val, i.ToType)
}

// PhiInst selects a value depending on the predecessor block taken.
type PhiInst struct {
	base
	Incoming map[*BasicBlock]*Value
}

func NewPhiInst(f *Function, result *Value) *PhiInst {
	return &PhiInst{base: base{id: f.NextInstID(), result: result}, Incoming: make(map[*BasicBlock]*Value)}
}
func (i *PhiInst) Opcode() Opcode { return OpPhi }
func (i *PhiInst) Operands() []*Value {
	ops := make([]*Value, 0, len(i.Incoming))
	for _, v := range i.Incoming {
		ops = append(ops, v)
	}
	return ops
}
func (i *PhiInst) String() string { return fmt.Sprintf("%s = phi %v", i.result, i.Incoming) }

// AddIncoming records that v flows in from pred. If pred already has an
// entry it is overwritten — used when a predecessor block is replaced
// by a newly-inserted one (bogus-control-flow §4.5, flatten splits).
func (i *PhiInst) AddIncoming(pred *BasicBlock, v *Value) {
	i.Incoming[pred] = v
	addUse(v, i, nil)
}

// ReplaceIncomingBlock renames the predecessor key from oldPred to
// newPred, keeping the same incoming value (§4.5 invariant: phi nodes in
// T listing B as predecessor must be repointed to the inserted cond block).
func (i *PhiInst) ReplaceIncomingBlock(oldPred, newPred *BasicBlock) {
	if v, ok := i.Incoming[oldPred]; ok {
		delete(i.Incoming, oldPred)
		i.Incoming[newPred] = v
	}
}

// SelectInst picks True or False by Cond without branching.
type SelectInst struct {
	base
	Cond, True, False *Value
}

func NewSelectInst(f *Function, cond, trueVal, falseVal, result *Value) *SelectInst {
	i := &SelectInst{base: base{id: f.NextInstID(), result: result}, Cond: cond, True: trueVal, False: falseVal}
	addUse(cond, i, nil)
	addUse(trueVal, i, nil)
	addUse(falseVal, i, nil)
	return i
}
func (i *SelectInst) Opcode() Opcode     { return OpSelect }
func (i *SelectInst) Operands() []*Value { return []*Value{i.Cond, i.True, i.False} }
func (i *SelectInst) String() string {
	return fmt.Sprintf("%s = select %s, %s, %s", i.result, i.Cond, i.True, i.False)
}

// BranchInst is an unconditional (Cond == nil) or conditional terminator.
type BranchInst struct {
	base
	Cond             *Value
	TrueBB, FalseBB  *BasicBlock // FalseBB is nil for an unconditional branch
}

func NewUnconditionalBranch(f *Function, target *BasicBlock) *BranchInst {
	return &BranchInst{base: base{id: f.NextInstID()}, TrueBB: target}
}
func NewConditionalBranch(f *Function, cond *Value, trueBB, falseBB *BasicBlock) *BranchInst {
	i := &BranchInst{base: base{id: f.NextInstID()}, Cond: cond, TrueBB: trueBB, FalseBB: falseBB}
	addUse(cond, i, nil)
	return i
}
func (i *BranchInst) Opcode() Opcode    { return OpBranch }
func (i *BranchInst) IsTerminator() bool { return true }
func (i *BranchInst) Operands() []*Value {
	if i.Cond != nil {
		return []*Value{i.Cond}
	}
	return nil
}
func (i *BranchInst) IsConditional() bool { return i.Cond != nil }
func (i *BranchInst) Successors() []*BasicBlock {
	if i.FalseBB != nil {
		return []*BasicBlock{i.TrueBB, i.FalseBB}
	}
	return []*BasicBlock{i.TrueBB}
}
func (i *BranchInst) String() string {
	if i.Cond == nil {
		return fmt.Sprintf("br label %s", i.TrueBB.Label)
	}
	return fmt.Sprintf("br %s, label %s, label %s", i.Cond, i.TrueBB.Label, i.FalseBB.Label)
}

// SwitchInst dispatches on Cond to one of Cases, or Default.
type SwitchInst struct {
	base
	Cond    *Value
	Default *BasicBlock
	Cases   []SwitchCase
}

func NewSwitchInst(f *Function, cond *Value, def *BasicBlock) *SwitchInst {
	i := &SwitchInst{base: base{id: f.NextInstID()}, Cond: cond, Default: def}
	addUse(cond, i, nil)
	return i
}
func (i *SwitchInst) Opcode() Opcode      { return OpSwitch }
func (i *SwitchInst) IsTerminator() bool  { return true }
func (i *SwitchInst) Operands() []*Value  { return []*Value{i.Cond} }
func (i *SwitchInst) AddCase(v int64, dest *BasicBlock) {
	i.Cases = append(i.Cases, SwitchCase{Value: v, Dest: dest})
}
func (i *SwitchInst) Successors() []*BasicBlock {
	out := []*BasicBlock{i.Default}
	for _, c := range i.Cases {
		out = append(out, c.Dest)
	}
	return out
}
func (i *SwitchInst) String() string {
	return fmt.Sprintf("switch %s, label %s [%d cases]", i.Cond, i.Default.Label, len(i.Cases))
}

// ReturnInst ends a function, optionally with a value.
type ReturnInst struct {
	base
	Val *Value
}

func NewReturnInst(f *Function, val *Value) *ReturnInst {
	i := &ReturnInst{base: base{id: f.NextInstID()}, Val: val}
	addUse(val, i, nil)
	return i
}
func (i *ReturnInst) Opcode() Opcode     { return OpReturn }
func (i *ReturnInst) IsTerminator() bool { return true }
func (i *ReturnInst) Operands() []*Value {
	if i.Val != nil {
		return []*Value{i.Val}
	}
	return nil
}
func (i *ReturnInst) Successors() []*BasicBlock { return nil }
func (i *ReturnInst) String() string {
	if i.Val == nil {
		return "ret void"
	}
	return fmt.Sprintf("ret %s", i.Val)
}

// UnreachableInst marks a block as never reached at runtime — every
// synthesized "fake" block in bogus-control-flow ends in one (§4.5).
type UnreachableInst struct{ base }

func NewUnreachableInst(f *Function) *UnreachableInst {
	return &UnreachableInst{base: base{id: f.NextInstID()}}
}
func (i *UnreachableInst) Opcode() Opcode          { return OpUnreachable }
func (i *UnreachableInst) IsTerminator() bool      { return true }
func (i *UnreachableInst) Operands() []*Value      { return nil }
func (i *UnreachableInst) Successors() []*BasicBlock { return nil }
func (i *UnreachableInst) String() string          { return "unreachable" }

// IndirectBrInst branches through a runtime-computed block address to one
// of Dests, the rewrite target of the indirect-branch pass (§4.8).
type IndirectBrInst struct {
	base
	Addr  *Value
	Dests []*BasicBlock
}

func NewIndirectBrInst(f *Function, addr *Value, dests []*BasicBlock) *IndirectBrInst {
	i := &IndirectBrInst{base: base{id: f.NextInstID()}, Addr: addr, Dests: dests}
	addUse(addr, i, nil)
	return i
}
func (i *IndirectBrInst) Opcode() Opcode         { return OpIndirectBr }
func (i *IndirectBrInst) IsTerminator() bool     { return true }
func (i *IndirectBrInst) Operands() []*Value     { return []*Value{i.Addr} }
func (i *IndirectBrInst) Successors() []*BasicBlock { return i.Dests }
func (i *IndirectBrInst) String() string {
	return fmt.Sprintf("indirectbr ptr %s, [%d dests]", i.Addr, len(i.Dests))
}

// EHMarker is a non-terminator placeholder for landingpad/catchpad/
// cleanuppad instructions: the core only needs to recognize their
// presence (eligibility gating), never interpret their payload.
type EHMarker struct {
	base
	Op Opcode
}

func NewEHMarker(f *Function, op Opcode) *EHMarker {
	return &EHMarker{base: base{id: f.NextInstID()}, Op: op}
}
func (i *EHMarker) Opcode() Opcode     { return i.Op }
func (i *EHMarker) Operands() []*Value { return nil }
func (i *EHMarker) String() string     { return i.Op.String() }

// InvokeInst is a call with normal/unwind successor blocks — treated as
// present-and-opaque by every pass that must skip exception flow.
type InvokeInst struct {
	base
	Callee         *Function
	FuncPtr        *Value
	Args           []*Value
	NormalDest     *BasicBlock
	UnwindDest     *BasicBlock
}

func NewInvokeInst(f *Function, callee *Function, args []*Value, normal, unwind *BasicBlock, result *Value) *InvokeInst {
	i := &InvokeInst{base: base{id: f.NextInstID(), result: result}, Callee: callee, Args: args, NormalDest: normal, UnwindDest: unwind}
	for _, a := range args {
		addUse(a, i, nil)
	}
	return i
}
func (i *InvokeInst) Opcode() Opcode     { return OpInvoke }
func (i *InvokeInst) IsTerminator() bool { return true }
func (i *InvokeInst) Operands() []*Value { return append([]*Value(nil), i.Args...) }
func (i *InvokeInst) Successors() []*BasicBlock {
	return []*BasicBlock{i.NormalDest, i.UnwindDest}
}
func (i *InvokeInst) String() string {
	return fmt.Sprintf("%s = invoke %s(%v) to label %s unwind label %s", i.result, i.Callee.Name, i.Args, i.NormalDest.Label, i.UnwindDest.Label)
}
