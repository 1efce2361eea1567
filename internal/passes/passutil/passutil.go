// Package passutil holds the small pieces of machinery every obfuscation
// pass in internal/passes needs and none of them owns individually: block
// splitting, a seeded PRNG per pass invocation, entry-block EH eligibility
// checks, and per-function Eloquent-annotation overrides layered on top of
// the global config (spec.md §9's "Config plumbing" design note extended to
// per-pass call sites, grounded on original_source's parse_function_annotations
// being invoked from inside every function-scoped pass rather than once
// centrally).
package passutil

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"

	"amice-go/internal/config"
	"amice-go/internal/ir"
)

// NewRand seeds a *mrand.Rand from the OS CSPRNG, the "one *rand.Rand per
// pass per invocation seeded from... crypto/rand" design note (spec.md §9).
// Every pass that needs randomness calls this once in Initialize and keeps
// the returned generator for the lifetime of the run.
func NewRand() *mrand.Rand {
	var seed int64
	if err := binary.Read(rand.Reader, binary.BigEndian, &seed); err != nil {
		seed = 0x9e3779b97f4a7c15 // golden-ratio fallback constant, never both zero and predictable
	}
	return mrand.New(mrand.NewSource(seed))
}

// UniqueU32 draws a non-zero uint32 from r not already present in used,
// rejection-sampling until one is found, and records it — the "assign
// dispatch ids" step every flatten/indirect-branch/bogus-control-flow pass
// repeats with its own id domain (spec.md §4.3 step 2).
func UniqueU32(r *mrand.Rand, used map[uint32]bool) uint32 {
	for {
		v := r.Uint32()
		if v != 0 && !used[v] {
			used[v] = true
			return v
		}
	}
}

// UniqueU64 is UniqueU32's 64-bit counterpart, used for dominator-keyed
// flatten's own_key/magic_id domains (spec.md §4.4).
func UniqueU64(r *mrand.Rand, used map[uint64]bool) uint64 {
	for {
		v := r.Uint64()
		if v != 0 && !used[v] {
			used[v] = true
			return v
		}
	}
}

// EntryHasEH reports whether fn's entry block contains (or ends in) an
// exception-handling opcode — the shared eligibility gate flatten,
// flattendom and bogus-control-flow all apply before touching a function
// (spec.md §4.3 Eligibility).
func EntryHasEH(fn *ir.Function) bool {
	entry := fn.Entry()
	if entry == nil {
		return false
	}
	for _, inst := range entry.Instructions {
		if ir.EHOpcodes[inst.Opcode()] {
			return true
		}
	}
	return entry.Terminator != nil && ir.EHOpcodes[entry.Terminator.Opcode()]
}

// SplitBlock splits bb immediately before its at'th instruction (0 <= at <=
// len(bb.Instructions)): a new block is inserted right after bb in block
// order, receiving every instruction from at onward plus bb's terminator;
// bb is left with an unconditional branch to the new block. Any phi in a
// successor that listed bb as predecessor is repointed to the new block.
// Grounded on original_source's split_basic_block helper, used here as a
// primitive shared by the standalone split pass and by flatten's entry split
// (spec.md §4.3 step 1).
func SplitBlock(fn *ir.Function, bb *ir.BasicBlock, at int) *ir.BasicBlock {
	newBB := fn.InsertBlockAfter(bb, bb.Label+".split")

	tail := append([]ir.Instruction(nil), bb.Instructions[at:]...)
	bb.Instructions = bb.Instructions[:at:at]
	newBB.Instructions = tail
	for _, inst := range newBB.Instructions {
		inst.SetBlock(newBB)
	}

	term := bb.Terminator
	bb.Terminator = nil
	newBB.Terminator = term
	newBB.Successors = bb.Successors
	bb.Successors = nil

	for _, succ := range newBB.Successors {
		if succ == nil {
			continue
		}
		for i, p := range succ.Predecessors {
			if p == bb {
				succ.Predecessors[i] = newBB
			}
		}
		for _, inst := range succ.Instructions {
			if phi, ok := inst.(*ir.PhiInst); ok {
				phi.ReplaceIncomingBlock(bb, newBB)
			}
		}
	}

	bb.SetTerminator(ir.NewUnconditionalBranch(fn, newBB))
	return newBB
}

// FunctionBool resolves a per-pass boolean config knob, letting fn's
// Eloquent annotation override base when present and parseable — every
// function-scoped pass consults this before deciding whether to run on fn
// (spec.md §6, Per-function annotations; §4.1's parse_function_annotations
// contract).
func FunctionBool(fn *ir.Function, key string, base bool) bool {
	if fn.Annotation == "" {
		return base
	}
	ec, err := config.ParseEloquent(fn.Annotation)
	if err != nil {
		return base
	}
	if v, ok := ec.GetBool(key); ok {
		return v
	}
	return base
}

// GlobalRef returns a fresh, unlinked Value referring to g's address — the
// same shape irtext's operand builder produces for a bare "@name" operand.
// Passes that synthesize instructions referencing a module global (table
// loads, key globals, decrypt-helper arguments) use this instead of
// threading a shared Value, matching the irtext front end's convention that
// a global reference is a nameable but def-less operand.
func GlobalRef(g *ir.GlobalValue) *ir.Value {
	return &ir.Value{Name: g.Name, Type: ir.PointerType{Elem: g.Type}}
}

// FunctionRef is GlobalRef's counterpart for taking a function's address,
// used by indirect-call/indirect-branch table construction.
func FunctionRef(fn *ir.Function) *ir.Value {
	return &ir.Value{Name: fn.Name, Type: ir.PointerType{}}
}

// BlockRef returns a fresh, unlinked Value standing for bb's runtime
// address (LLVM's blockaddress constant), GlobalRef/FunctionRef's
// counterpart for a basic block — used by indirect-branch to populate its
// dispatch tables (§4.8) and to compare a branch's target against one.
func BlockRef(fn *ir.Function, bb *ir.BasicBlock) *ir.Value {
	return &ir.Value{Name: fn.Name + ":" + bb.Label, Type: ir.PointerType{}}
}

// PrependConst materializes an integer constant at the very front of fn's
// entry block, so it dominates every block in the function regardless of
// where a pass later needs to reference it — avoiding the bookkeeping of
// inserting a constant exactly before a specific later use.
func PrependConst(fn *ir.Function, m *ir.Module, bits int, value int64) *ir.Value {
	entry := fn.Entry()
	t := ir.IntType{Bits: bits}
	result := ir.NewValue(m, "", t)
	inst := ir.NewConstInst(fn, t, value, result)
	inst.SetBlock(entry)
	result.DefBlock, result.DefInst = entry, inst
	entry.Instructions = append([]ir.Instruction{inst}, entry.Instructions...)
	return result
}

// InsertCallBefore builds a call to callee and splices it into block
// immediately before the instruction "before" (or at the end of block if
// before is nil), returning the call's result value (nil for a void
// callee). Used whenever a pass must inject a helper call at a precise use
// site rather than at the end of a block, e.g. string-encryption's lazy
// decrypt-before-use (spec.md §4.2 Decrypt timing).
func InsertCallBefore(fn *ir.Function, m *ir.Module, block *ir.BasicBlock, before ir.Instruction, callee *ir.Function, args []*ir.Value) *ir.Value {
	var result *ir.Value
	if _, isVoid := callee.ReturnType.(ir.VoidType); !isVoid {
		result = ir.NewValue(m, "", callee.ReturnType)
	}
	inst := ir.NewCallInst(fn, callee, args, result)
	inst.SetBlock(block)
	if result != nil {
		result.DefBlock, result.DefInst = block, inst
	}
	block.InsertBefore(before, inst)
	return result
}

// FindValueUses scans every instruction and terminator in fn for an operand
// matching name — the heuristic this module's IR uses to discover "uses of
// a global" or "uses of a parameter" when no centralized def-use chain
// links them (GlobalRef/FunctionRef above deliberately create fresh,
// unlinked Values per reference point, the same way irtext's operand
// builder does).
func FindValueUses(fn *ir.Function, name string) []ValueUse {
	var out []ValueUse
	visit := func(bb *ir.BasicBlock, inst ir.Instruction) {
		for _, v := range inst.Operands() {
			if v != nil && v.DefInst == nil && v.Name == name {
				out = append(out, ValueUse{Block: bb, Inst: inst, Value: v})
			}
		}
	}
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			visit(bb, inst)
		}
		if bb.Terminator != nil {
			visit(bb, bb.Terminator)
		}
	}
	return out
}

// ValueUse is one operand slot found by FindValueUses.
type ValueUse struct {
	Block *ir.BasicBlock
	Inst  ir.Instruction
	Value *ir.Value
}

// PrependAlloca materializes a scalar stack slot at the front of fn's entry
// block, dominating every block in the function. Used by fix_stack-style
// rewrites that need a home for a value no longer allowed to cross a
// dispatcher in SSA form (spec.md §4.3's fix_stack post-step).
func PrependAlloca(fn *ir.Function, m *ir.Module, elemType ir.Type) *ir.Value {
	entry := fn.Entry()
	result := ir.NewValue(m, "", ir.PointerType{Elem: elemType})
	inst := ir.NewAllocaInst(fn, elemType, result)
	inst.SetBlock(entry)
	result.DefBlock, result.DefInst = entry, inst
	entry.Instructions = append([]ir.Instruction{inst}, entry.Instructions...)
	return result
}

// BlockOf scans fn for the block that owns inst. This model's instructions
// carry a block back-pointer only when something has explicitly called
// SetBlock on them (ir.Builder's emission methods do not), so any pass that
// needs to know "which block is this instruction in" for an instruction it
// did not itself just construct must fall back to this scan rather than
// trust inst.Block().
func BlockOf(fn *ir.Function, inst ir.Instruction) *ir.BasicBlock {
	for _, bb := range fn.Blocks {
		for _, in := range bb.Instructions {
			if in == inst {
				return bb
			}
		}
		if bb.Terminator == inst {
			return bb
		}
	}
	return nil
}

// CrossesBlocks reports whether any instruction's result in fn is used by an
// instruction living in a different block — the condition both flatten
// passes introduce once a dispatcher replaces direct block-to-block edges,
// and which FixStack exists to repair (spec.md §4.3's SSA post-condition).
func CrossesBlocks(fn *ir.Function) bool {
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			result := inst.Result()
			if result == nil {
				continue
			}
			for _, u := range result.Uses {
				if BlockOf(fn, u.User) != bb {
					return true
				}
			}
		}
	}
	return false
}

// FixStack converts every SSA value used outside its defining block into a
// stack slot: one store at the end of the defining block, and an independent load
// right before each out-of-block use, so a flattened CFG's loss of direct
// block-to-block dominance never produces a dangling SSA reference (spec.md
// §4.3's fix_stack, shared between flatten and flattendom since both lose
// the same direct-edge dominance).
func FixStack(fn *ir.Function, m *ir.Module) {
	for _, bb := range append([]*ir.BasicBlock(nil), fn.Blocks...) {
		for _, inst := range append([]ir.Instruction(nil), bb.Instructions...) {
			result := inst.Result()
			if result == nil {
				continue
			}
			var cross []*ir.Use
			for _, u := range result.Uses {
				if BlockOf(fn, u.User) != bb {
					cross = append(cross, u)
				}
			}
			if len(cross) == 0 {
				continue
			}

			slot := PrependAlloca(fn, m, result.Type)
			bb.Append(ir.NewStoreInst(fn, result, slot))

			seen := make(map[ir.Instruction]bool, len(cross))
			for _, u := range cross {
				if seen[u.User] {
					continue
				}
				seen[u.User] = true
				ubb := BlockOf(fn, u.User)
				if ubb == nil {
					continue
				}
				loadResult := ir.NewValue(m, "", result.Type)
				loadInst := ir.NewLoadInst(fn, slot, result.Type, loadResult)
				loadInst.SetBlock(ubb)
				loadResult.DefBlock, loadResult.DefInst = ubb, loadInst
				ubb.InsertBefore(u.User, loadInst)
				ir.ReplaceOperandIn(u.User, result, loadResult)
			}
		}
	}
}

// FunctionInt is FunctionBool's integer-valued counterpart.
func FunctionInt(fn *ir.Function, key string, base int) int {
	if fn.Annotation == "" {
		return base
	}
	ec, err := config.ParseEloquent(fn.Annotation)
	if err != nil {
		return base
	}
	if v, ok := ec.GetInt(key); ok {
		return int(v)
	}
	return base
}

// SizeOfType returns t's size in bytes under this IR model's flat layout
// (no alignment padding): ints round up to a byte, pointers are always 8
// bytes (opaque), arrays are element-size times length, and structs are
// the sum of their fields' sizes in declaration order. Shared by every
// pass that needs to reason about a struct's byte size in bulk
// (delay-offset's GEP-offset accounting, param-aggregate's
// MAX_STRUCT_SIZE check, VM-flatten's alloca/GEP sizes) instead of each
// carrying its own copy.
func SizeOfType(t ir.Type) uint64 {
	switch tt := t.(type) {
	case ir.IntType:
		return uint64((tt.Bits + 7) / 8)
	case ir.PointerType:
		return 8
	case ir.ArrayType:
		return uint64(tt.Length) * SizeOfType(tt.Elem)
	case *ir.StructType:
		var sz uint64
		for _, f := range tt.Fields {
			sz += SizeOfType(f)
		}
		return sz
	default:
		return 0
	}
}
