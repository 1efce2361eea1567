package boguscf

import (
	mrand "math/rand"

	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
)

// polarisModulus and polarisSeed are the shared (m, x) pair every enhanced
// block's transform preserves: two stack counters that start equal mod m
// and are proven (§4.6) to stay congruent mod m under either transform,
// regardless of which counter or how many times it is hit.
const (
	polarisModulus = int64(2147483647) // 2^31 - 1, a Mersenne prime
	polarisSeed    = int64(7)          // a small prime less than polarisModulus
)

// runPolaris rewires each selected candidate's terminator in place (no new
// blocks: the Polaris scheme only ever edits a counter and the terminator
// itself) into a conditional on v0 == v1 whose always-true side reaches the
// real successor and whose always-false side reaches some other existing
// block (spec.md §4.6 Transform).
func runPolaris(fn *ir.Function, m *ir.Module, candidates []*ir.BasicBlock, probability int, rng *mrand.Rand) {
	snapshot := append([]*ir.BasicBlock(nil), fn.Blocks...)
	if len(snapshot) < 3 {
		return // need at least bb, its target, and one other block to pick a fake target from
	}

	v0 := passutil.PrependAlloca(fn, m, ir.I64)
	v1 := passutil.PrependAlloca(fn, m, ir.I64)
	entryBld := ir.NewBuilder(m, fn, fn.Entry())
	entryBld.Store(entryBld.ConstI(64, polarisSeed), v0)
	entryBld.Store(entryBld.ConstI(64, polarisSeed), v1)

	for _, bb := range candidates {
		if rng.Intn(100) >= probability {
			continue
		}
		br := bb.Terminator.(*ir.BranchInst)
		target := br.TrueBB

		fakeTarget := pickOtherBlock(snapshot, bb, target, rng)
		if fakeTarget == nil {
			continue
		}

		slot := v0
		if rng.Intn(2) == 1 {
			slot = v1
		}
		applyTransform(fn, m, bb, slot, rng)

		bld := ir.NewBuilder(m, fn, bb)
		loadedV0 := bld.Load(v0, ir.I64)
		loadedV1 := bld.Load(v1, ir.I64)

		var cmp *ir.Value
		var trueBB, falseBB *ir.BasicBlock
		if rng.Intn(2) == 0 {
			cmp = bld.ICmp(ir.ICmpEQ, loadedV0, loadedV1) // always true
			trueBB, falseBB = target, fakeTarget
		} else {
			cmp = bld.ICmp(ir.ICmpNE, loadedV0, loadedV1) // always false
			trueBB, falseBB = fakeTarget, target
		}

		giveFakeIncoming(fakeTarget, bb, rng)
		bb.SetTerminator(ir.NewConditionalBranch(fn, cmp, trueBB, falseBB))
	}
}

// pickOtherBlock returns a random block from snapshot that is neither bb nor
// its real successor target, or nil if none exists.
func pickOtherBlock(snapshot []*ir.BasicBlock, bb, target *ir.BasicBlock, rng *mrand.Rand) *ir.BasicBlock {
	var others []*ir.BasicBlock
	for _, cand := range snapshot {
		if cand != bb && cand != target {
			others = append(others, cand)
		}
	}
	if len(others) == 0 {
		return nil
	}
	return others[rng.Intn(len(others))]
}

// giveFakeIncoming adds an incoming value from bb to every phi in
// fakeTarget, since bb is now a predecessor fakeTarget never had before.
// Reuses an existing incoming value at random to stay well-typed — this
// path is never actually taken, so which existing value is irrelevant to
// anything but type-checking (spec.md §4.6 Transform, last sentence).
func giveFakeIncoming(fakeTarget *ir.BasicBlock, bb *ir.BasicBlock, rng *mrand.Rand) {
	for _, inst := range fakeTarget.Instructions {
		phi, ok := inst.(*ir.PhiInst)
		if !ok {
			continue
		}
		if _, already := phi.Incoming[bb]; already {
			continue
		}
		var vals []*ir.Value
		for _, v := range phi.Incoming {
			vals = append(vals, v)
		}
		if len(vals) == 0 {
			continue
		}
		phi.AddIncoming(bb, vals[rng.Intn(len(vals))])
	}
}

// applyTransform emits one randomly chosen invertible modular transform on
// slot (spec.md §4.6: single inverse affine, or double inverse affine).
func applyTransform(fn *ir.Function, m *ir.Module, bb *ir.BasicBlock, slot *ir.Value, rng *mrand.Rand) {
	bld := ir.NewBuilder(m, fn, bb)
	cur := bld.Load(slot, ir.I64)
	modConst := bld.ConstI(64, polarisModulus)

	if rng.Intn(2) == 0 {
		b := 1 + rng.Int63n(polarisModulus-1)
		aInv := modinv(polarisSeed, polarisModulus)
		a := ((b%polarisModulus)*(aInv%polarisModulus)%polarisModulus + 1) % polarisModulus

		mul := bld.Binary(ir.OpMul, cur, bld.ConstI(64, a))
		modded := bld.Binary(ir.OpURem, mul, modConst)
		shifted := bld.Binary(ir.OpAdd, modded, bld.ConstI(64, polarisModulus-b))
		result := bld.Binary(ir.OpURem, shifted, modConst)
		bld.Store(result, slot)
		return
	}

	k := 1 + rng.Int63n(polarisModulus-1)
	c := 1 + rng.Int63n(polarisModulus-1)
	kInv := modinv(k, polarisModulus)

	mul := bld.Binary(ir.OpMul, cur, bld.ConstI(64, k))
	added := bld.Binary(ir.OpAdd, mul, bld.ConstI(64, c))
	t1 := bld.Binary(ir.OpURem, added, modConst)
	shifted := bld.Binary(ir.OpAdd, t1, bld.ConstI(64, polarisModulus-c))
	t2 := bld.Binary(ir.OpURem, shifted, modConst)
	mul2 := bld.Binary(ir.OpMul, t2, bld.ConstI(64, kInv))
	result := bld.Binary(ir.OpURem, mul2, modConst)
	bld.Store(result, slot)
}

// modinv returns the modular inverse of a mod m via the extended Euclidean
// algorithm, assuming gcd(a, m) == 1 (guaranteed here since m is prime and
// 0 < a < m).
func modinv(a, m int64) int64 {
	oldR, r := a, m
	oldS, s := int64(1), int64(0)
	for r != 0 {
		q := oldR / r
		oldR, r = r, oldR-q*r
		oldS, s = s, oldS-q*s
	}
	if oldS < 0 {
		oldS += m
	}
	return oldS
}
