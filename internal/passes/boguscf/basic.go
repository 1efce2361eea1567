package boguscf

import (
	mrand "math/rand"

	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
)

const (
	xGlobalName = ".amice.bogus.x"
	yGlobalName = ".amice.bogus.y"
)

// runBasic wraps a probability-selected subset of candidates' unconditional
// branches in an opaque conditional: the true arm reaches the original
// successor, the false arm falls into a new `unreachable` block (spec.md
// §4.5).
func runBasic(fn *ir.Function, m *ir.Module, candidates []*ir.BasicBlock, probability int, rng *mrand.Rand) {
	xGlobal, yGlobal, xKnown, yKnown := ensureGlobals(m, rng)

	var xStack, yStack *ir.Value
	stackReady := false
	ensureStack := func() {
		if stackReady {
			return
		}
		xStack = passutil.PrependAlloca(fn, m, ir.I32)
		yStack = passutil.PrependAlloca(fn, m, ir.I32)
		entry := fn.Entry()
		bld := ir.NewBuilder(m, fn, entry)
		// PrependAlloca already spliced the allocas to the front; append the
		// initializing stores after them instead of reordering by hand.
		bld.Store(bld.ConstI(32, int64(xKnown)), xStack)
		bld.Store(bld.ConstI(32, int64(yKnown)), yStack)
		stackReady = true
	}

	for _, bb := range candidates {
		if rng.Intn(100) >= probability {
			continue
		}
		br := bb.Terminator.(*ir.BranchInst)
		target := br.TrueBB

		condBlock := fn.InsertBlockAfter(bb, bb.Label+".bogus.cond")
		fakeBlock := fn.InsertBlockAfter(condBlock, bb.Label+".bogus.fake")

		redirectPhis(target, bb, condBlock)
		bb.SetTerminator(ir.NewUnconditionalBranch(fn, condBlock))

		useStack := rng.Intn(2) == 0
		if useStack {
			ensureStack()
		}
		useX := rng.Intn(2) == 0

		var addr *ir.Value
		var known uint32
		switch {
		case useStack && useX:
			addr, known = xStack, xKnown
		case useStack && !useX:
			addr, known = yStack, yKnown
		case !useStack && useX:
			addr, known = passutil.GlobalRef(xGlobal), xKnown
		default:
			addr, known = passutil.GlobalRef(yGlobal), yKnown
		}

		cmp := buildTruePredicate(fn, m, condBlock, addr, known, rng)
		ir.NewBuilder(m, fn, condBlock).CondBr(cmp, target, fakeBlock)
		ir.NewBuilder(m, fn, fakeBlock).Unreachable()
	}
}

// ensureGlobals returns the module's shared opaque-predicate globals,
// creating them with fixed pseudorandom values on first use so every
// function in the module references the same pair (spec.md §4.5 Opaque
// predicate).
func ensureGlobals(m *ir.Module, rng *mrand.Rand) (x, y *ir.GlobalValue, xKnown, yKnown uint32) {
	if g, ok := m.GlobalsByName[xGlobalName]; ok {
		x = g
		xKnown = uint32(g.Initializer.(ir.ConstInt).Value)
	} else {
		xKnown = rng.Uint32()
		x = &ir.GlobalValue{
			Name:        xGlobalName,
			Type:        ir.I32,
			Linkage:     ir.LinkageInternal,
			Constant:    false,
			Initializer: ir.ConstInt{Bits: 32, Value: int64(xKnown)},
		}
		m.AddGlobal(x)
	}
	if g, ok := m.GlobalsByName[yGlobalName]; ok {
		y = g
		yKnown = uint32(g.Initializer.(ir.ConstInt).Value)
	} else {
		yKnown = rng.Uint32()
		y = &ir.GlobalValue{
			Name:        yGlobalName,
			Type:        ir.I32,
			Linkage:     ir.LinkageInternal,
			Constant:    false,
			Initializer: ir.ConstInt{Bits: 32, Value: int64(yKnown)},
		}
		m.AddGlobal(y)
	}
	return x, y, xKnown, yKnown
}

// buildTruePredicate emits a volatile load of addr (known at pass time to
// hold the value `known`, since nothing else in the module ever writes to
// it) followed by an icmp against a freshly drawn constant, picking the
// predicate/constant pair so the comparison is always true — opaque to a
// reader who cannot see that addr's value never changes (spec.md §4.5).
func buildTruePredicate(fn *ir.Function, m *ir.Module, bb *ir.BasicBlock, addr *ir.Value, known uint32, rng *mrand.Rand) *ir.Value {
	loaded := volatileLoad(fn, m, bb, addr, ir.I32)
	bld := ir.NewBuilder(m, fn, bb)

	switch rng.Intn(4) {
	case 0: // EQ: compare against the exact known value.
		return bld.ICmp(ir.ICmpEQ, loaded, bld.ConstI(32, int64(known)))
	case 1: // NE: compare against any other value.
		return bld.ICmp(ir.ICmpNE, loaded, bld.ConstI(32, int64(known+1)))
	case 2: // UGT: known > (known-1), unless known is already the minimum.
		if known == 0 {
			return bld.ICmp(ir.ICmpULT, loaded, bld.ConstI(32, 1))
		}
		return bld.ICmp(ir.ICmpUGT, loaded, bld.ConstI(32, int64(known-1)))
	default: // ULT: known < (known+1), unless known is already the maximum.
		if known == 0xFFFFFFFF {
			return bld.ICmp(ir.ICmpUGT, loaded, bld.ConstI(32, int64(known-1)))
		}
		return bld.ICmp(ir.ICmpULT, loaded, bld.ConstI(32, int64(known+1)))
	}
}

// volatileLoad emits a load instruction marked volatile, blocking constant
// folding/propagation the way a plain Builder.Load would invite.
func volatileLoad(fn *ir.Function, m *ir.Module, bb *ir.BasicBlock, addr *ir.Value, elemType ir.Type) *ir.Value {
	result := ir.NewValue(m, "", elemType)
	inst := ir.NewLoadInst(fn, addr, elemType, result)
	inst.Volatile = true
	inst.SetBlock(bb)
	result.DefBlock, result.DefInst = bb, inst
	bb.Append(inst)
	return result
}
