package ir

import (
	"fmt"
	"strings"
)

// Module is the compilation unit a pass runs over. It owns every Function,
// GlobalValue and StructType; every operand reference inside them must
// resolve within the Module (spec.md §3, Module invariant).
type Module struct {
	Name         string
	TargetTriple string

	Functions       []*Function
	FunctionsByName map[string]*Function

	Globals       []*GlobalValue
	GlobalsByName map[string]*GlobalValue

	Structs []*StructType

	// CompilerUsed mirrors LLVM's llvm.compiler.used: globals referenced
	// here survive dead-code elimination even with no other uses.
	CompilerUsed []*GlobalValue

	// GlobalCtors mirrors llvm.global_ctors: (function, priority) pairs
	// run before main.
	GlobalCtors []GlobalCtor

	nextValueID int
}

// GlobalCtor is one entry of the module's global-constructor list.
type GlobalCtor struct {
	Fn       *Function
	Priority int
}

// NextValueID hands out a module-wide unique value id. Passes that
// synthesize new values call this instead of tracking their own counters,
// so ids never collide across passes run in sequence.
func (m *Module) NextValueID() int {
	m.nextValueID++
	return m.nextValueID
}

// AddFunction registers fn with the module under its name.
func (m *Module) AddFunction(fn *Function) {
	m.Functions = append(m.Functions, fn)
	m.FunctionsByName[fn.Name] = fn
}

// AddGlobal registers g with the module under its name.
func (m *Module) AddGlobal(g *GlobalValue) {
	m.Globals = append(m.Globals, g)
	m.GlobalsByName[g.Name] = g
}

// EraseGlobal removes g from the module. Callers must have already
// replaced every use of g.
func (m *Module) EraseGlobal(g *GlobalValue) {
	delete(m.GlobalsByName, g.Name)
	for i, cand := range m.Globals {
		if cand == g {
			m.Globals = append(m.Globals[:i], m.Globals[i+1:]...)
			break
		}
	}
}

// AddToCompilerUsed registers g so that dead-code elimination leaves it
// alone even with zero remaining uses.
func (m *Module) AddToCompilerUsed(g *GlobalValue) {
	m.CompilerUsed = append(m.CompilerUsed, g)
}

// AddGlobalCtor registers fn to run at module-init time with the given
// priority (lower priorities run first, matching llvm.global_ctors).
func (m *Module) AddGlobalCtor(fn *Function, priority int) {
	m.GlobalCtors = append(m.GlobalCtors, GlobalCtor{Fn: fn, Priority: priority})
}

// IsAppleTriple reports whether the module's target triple names an Apple
// platform, the eligibility gate for the anti-class-dump pass (§4.15).
func (m *Module) IsAppleTriple() bool {
	return strings.Contains(m.TargetTriple, "apple")
}

// Function is a named entry point with a typed signature, a linkage, a
// list of BasicBlocks whose first is the entry block, and function/
// parameter/return attributes (spec.md §3, Function).
type Function struct {
	Name       string
	Params     []*Parameter
	ReturnType Type
	VarArg     bool

	Blocks []*BasicBlock

	Linkage     Linkage
	FuncAttrs   []Attribute
	ParamAttrs  map[int][]Attribute // parameter index -> attributes
	RetAttrs    []Attribute
	IntrinsicID string // "" when the function is not a compiler intrinsic

	// Annotation is the raw per-function Eloquent-format config string, read
	// from a module-level annotation array or a specific metadata kind
	// (spec.md §6, Per-function annotations).
	Annotation string

	nextBlockID int
	nextInstID  int
}

// NewFunction creates an empty function with the given name and entry
// block already appended.
func NewFunction(name string, params []*Parameter, ret Type) *Function {
	fn := &Function{
		Name:       name,
		Params:     params,
		ReturnType: ret,
		ParamAttrs: make(map[int][]Attribute),
	}
	entry := fn.AppendBlock("entry")
	_ = entry
	return fn
}

// Entry returns the function's entry block, or nil if it has none.
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// AppendBlock creates a new basic block, appends it to the function, and
// returns it.
func (f *Function) AppendBlock(label string) *BasicBlock {
	f.nextBlockID++
	bb := &BasicBlock{
		Func:  f,
		Label: uniqueLabel(label, f.nextBlockID),
	}
	f.Blocks = append(f.Blocks, bb)
	return bb
}

// InsertBlockBefore inserts a new basic block immediately before ref in
// block order and returns it.
func (f *Function) InsertBlockBefore(ref *BasicBlock, label string) *BasicBlock {
	f.nextBlockID++
	bb := &BasicBlock{Func: f, Label: uniqueLabel(label, f.nextBlockID)}
	idx := f.blockIndex(ref)
	if idx < 0 {
		f.Blocks = append(f.Blocks, bb)
		return bb
	}
	f.Blocks = append(f.Blocks, nil)
	copy(f.Blocks[idx+1:], f.Blocks[idx:])
	f.Blocks[idx] = bb
	return bb
}

// InsertBlockAfter inserts a new basic block immediately after ref in block
// order and returns it. Used by passes that split a block in place (split,
// flatten's entry split, bogus-control-flow's inserted cond/fake blocks).
func (f *Function) InsertBlockAfter(ref *BasicBlock, label string) *BasicBlock {
	f.nextBlockID++
	bb := &BasicBlock{Func: f, Label: uniqueLabel(label, f.nextBlockID)}
	idx := f.blockIndex(ref)
	if idx < 0 {
		f.Blocks = append(f.Blocks, bb)
		return bb
	}
	f.Blocks = append(f.Blocks, nil)
	copy(f.Blocks[idx+2:], f.Blocks[idx+1:])
	f.Blocks[idx+1] = bb
	return bb
}

func (f *Function) blockIndex(bb *BasicBlock) int {
	for i, b := range f.Blocks {
		if b == bb {
			return i
		}
	}
	return -1
}

func uniqueLabel(base string, n int) string {
	return fmt.Sprintf("%s.%d", base, n)
}

// NextInstID hands out a function-wide unique instruction id.
func (f *Function) NextInstID() int {
	f.nextInstID++
	return f.nextInstID
}

// HasFuncAttr reports whether fn carries the given function attribute.
func (f *Function) HasFuncAttr(a Attribute) bool {
	for _, have := range f.FuncAttrs {
		if have == a {
			return true
		}
	}
	return false
}

// AllBlocksExcept returns f's blocks in order, skipping skip.
func (f *Function) AllBlocksExcept(skip *BasicBlock) []*BasicBlock {
	out := make([]*BasicBlock, 0, len(f.Blocks))
	for _, bb := range f.Blocks {
		if bb != skip {
			out = append(out, bb)
		}
	}
	return out
}

// Linkage classifies a Function or GlobalValue's visibility.
type Linkage int

const (
	LinkageExternal Linkage = iota
	LinkageInternal
	LinkagePrivate
	LinkageWeak
	LinkageLinkOnceODR
)

func (l Linkage) String() string {
	switch l {
	case LinkageExternal:
		return "external"
	case LinkageInternal:
		return "internal"
	case LinkagePrivate:
		return "private"
	case LinkageWeak:
		return "weak"
	case LinkageLinkOnceODR:
		return "linkonce_odr"
	default:
		return "unknown"
	}
}

// Parameter is one formal parameter of a Function.
type Parameter struct {
	Name  string
	Type  Type
	Value *Value // the SSA value this parameter binds to inside the body
}

// BasicBlock is an ordered sequence of Instructions ending in exactly one
// Terminator (spec.md §3, BasicBlock).
type BasicBlock struct {
	Func         *Function
	Label        string
	Instructions []Instruction
	Terminator   Terminator
	Predecessors []*BasicBlock
	Successors   []*BasicBlock

	// DominatedBy/Dominates cache the result of the most recent
	// DominatorTree computation for this block; passes should treat
	// dominance queries through DominatorTree as authoritative and these
	// as advisory unless they just (re)built the tree themselves.
	DominatedBy *BasicBlock
	Dominates   []*BasicBlock
}

// Append adds inst to the end of the block's instruction list.
func (b *BasicBlock) Append(inst Instruction) {
	b.Instructions = append(b.Instructions, inst)
}

// SetTerminator sets (or replaces) the block's terminator and rewires
// Successors/Predecessors accordingly.
func (b *BasicBlock) SetTerminator(term Terminator) {
	if b.Terminator != nil {
		for _, succ := range b.Terminator.Successors() {
			succ.removePredecessor(b)
		}
	}
	b.Terminator = term
	b.Successors = nil
	for _, succ := range term.Successors() {
		if succ == nil {
			continue
		}
		b.Successors = append(b.Successors, succ)
		succ.addPredecessor(b)
	}
}

func (b *BasicBlock) addPredecessor(p *BasicBlock) {
	for _, have := range b.Predecessors {
		if have == p {
			return
		}
	}
	b.Predecessors = append(b.Predecessors, p)
}

func (b *BasicBlock) removePredecessor(p *BasicBlock) {
	for i, have := range b.Predecessors {
		if have == p {
			b.Predecessors = append(b.Predecessors[:i], b.Predecessors[i+1:]...)
			return
		}
	}
}

// InsertBefore inserts inst immediately before ref in the instruction list.
// If ref is nil, inst is appended.
func (b *BasicBlock) InsertBefore(ref Instruction, inst Instruction) {
	if ref == nil {
		b.Append(inst)
		return
	}
	for i, have := range b.Instructions {
		if have == ref {
			b.Instructions = append(b.Instructions, nil)
			copy(b.Instructions[i+1:], b.Instructions[i:])
			b.Instructions[i] = inst
			return
		}
	}
	b.Append(inst)
}

// EraseInstruction removes inst from the block. The caller must have
// already replaced all uses of its result, if any.
func (b *BasicBlock) EraseInstruction(inst Instruction) {
	for i, have := range b.Instructions {
		if have == inst {
			b.Instructions = append(b.Instructions[:i], b.Instructions[i+1:]...)
			return
		}
	}
}

// Value represents one SSA value: defined exactly once, referenced by
// every instruction that uses it (spec.md §3, Instruction SSA invariant).
type Value struct {
	ID       int
	Name     string
	Type     Type
	DefBlock *BasicBlock
	DefInst  Instruction
	Uses     []*Use
}

// NewValue allocates a fresh SSA value with a module-unique id.
func NewValue(m *Module, name string, t Type) *Value {
	return &Value{ID: m.NextValueID(), Name: name, Type: t}
}

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	if v.Name != "" {
		return "%" + v.Name
	}
	return fmt.Sprintf("%%v%d", v.ID)
}

// Use records one use of a Value by an instruction, so the value's
// def-use chain can be walked without re-scanning the function.
type Use struct {
	Value *Value
	User  Instruction
	Block *BasicBlock
}

// GlobalValue is a module-level symbol: a function-external constant or
// mutable global with an optional initializer (spec.md §3, GlobalValue).
// String literals appear as a GlobalValue whose initializer is a
// ConstArray of bytes, optionally wrapped in a one-field ConstStruct.
type GlobalValue struct {
	Name        string
	Type        Type
	Linkage     Linkage
	Constant    bool
	Initializer Constant
	Section     string
}

// Constant is any compile-time-known initializer value.
type Constant interface {
	constant()
	String() string
}

// ConstArray is a constant array of bytes (a C-style string literal).
type ConstArray struct {
	Bytes []byte
}

func (ConstArray) constant() {}
func (c ConstArray) String() string {
	return fmt.Sprintf("[%d x i8] c%q", len(c.Bytes), string(c.Bytes))
}

// ConstStruct is a constant struct initializer, used for Rust-style
// one-field string wrappers ({ptr, len} or just {[N x i8]}).
type ConstStruct struct {
	Fields []Constant
}

func (ConstStruct) constant() {}
func (c ConstStruct) String() string {
	parts := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		parts[i] = f.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ConstAggregateArray is a constant array of arbitrary Constants, the
// general-purpose counterpart to ConstArray's byte-specific literal — used
// for tables of pointer-sized constants such as indirect-branch's block
// address table (§4.8), where each element is itself a ConstBlockAddress.
type ConstAggregateArray struct {
	ElemType Type
	Elems    []Constant
}

func (ConstAggregateArray) constant() {}
func (c ConstAggregateArray) String() string {
	parts := make([]string, len(c.Elems))
	for i, e := range c.Elems {
		parts[i] = e.String()
	}
	return fmt.Sprintf("[%d x %s] [%s]", len(c.Elems), c.ElemType, strings.Join(parts, ", "))
}

// ConstBlockAddress names the runtime address of one function's basic
// block — LLVM's blockaddress constant, the element type of indirect
// branch's dispatch tables (§4.8).
type ConstBlockAddress struct {
	FuncName   string
	BlockLabel string
}

func (ConstBlockAddress) constant() {}
func (c ConstBlockAddress) String() string {
	return fmt.Sprintf("blockaddress(@%s, %%%s)", c.FuncName, c.BlockLabel)
}

// ConstFunctionAddress names a function's own address used as a constant
// initializer — LLVM implicitly converts a function symbol to a pointer
// constant wherever one is needed, the same conversion indirect-call's
// dispatch table (§4.9) applies to every would-be direct callee.
type ConstFunctionAddress struct {
	FuncName string
}

func (ConstFunctionAddress) constant() {}
func (c ConstFunctionAddress) String() string {
	return fmt.Sprintf("@%s", c.FuncName)
}

// ConstGlobalAddress names another GlobalValue's own address used as a
// constant initializer — the element type of anti-class-dump's
// OBJC_LABEL_CLASS_$ aggregate, each entry pointing at one
// OBJC_CLASS_$_<name> global (§4.15).
type ConstGlobalAddress struct {
	GlobalName string
}

func (ConstGlobalAddress) constant() {}
func (c ConstGlobalAddress) String() string {
	return fmt.Sprintf("@%s", c.GlobalName)
}

// ConstInt is a constant integer of a given bit width.
type ConstInt struct {
	Bits  int
	Value int64
}

func (ConstInt) constant() {}
func (c ConstInt) String() string { return fmt.Sprintf("i%d %d", c.Bits, c.Value) }

// StructType is a named aggregate type.
type StructType struct {
	Name   string
	Fields []Type
}

func (s *StructType) String() string { return "%" + s.Name }

// SwitchCase is one (value, destination) arm of a SwitchInst.
type SwitchCase struct {
	Value int64
	Dest  *BasicBlock
}
