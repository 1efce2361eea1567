// Package mba rewrites arithmetic/bitwise binary instructions and integer
// constants into longer, semantically-equivalent mixed boolean-arithmetic
// expressions built from and/or/xor/add/sub, so neither the original
// operator nor the original constant value can be read straight off the
// instruction stream. Grounded on original_source's
// src/aotu/mba/{binary_expr_mba,constant_mba}.rs, reduced to one fixed
// identity per operator picked at random rather than the original's
// general expression-tree generator — the same reduction aliasaccess
// applies to its own original's randomized bucket graph (see DESIGN.md).
package mba

import (
	mrand "math/rand"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
	"amice-go/internal/verify"
)

type Pass struct {
	cfg config.MBAConfig
	rng *mrand.Rand
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "mba" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseMain }
func (p *Pass) Priority() int             { return 40 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.MBA
	p.rng = passutil.NewRand()
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

// rewritableBinOps mirrors binary_expr_mba.rs's BinOp enum (Or, Xor, Add,
// Sub); And is left alone since the original never rewrites it either.
var rewritableBinOps = map[ir.Opcode]bool{
	ir.OpAdd: true,
	ir.OpSub: true,
	ir.OpXor: true,
	ir.OpOr:  true,
}

func (p *Pass) RunOnFunction(fn *ir.Function, m *ir.Module, sink *diagnostics.Sink) error {
	if !passutil.FunctionBool(fn, "mba", p.cfg.Enable) {
		return nil
	}
	if len(fn.Blocks) == 0 || passutil.EntryHasEH(fn) {
		return nil
	}
	if !p.cfg.RewriteConst && !p.cfg.RewriteBinary {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), fn.Name, "neither rewrite_const nor rewrite_binary is enabled")
		return nil
	}

	var touched bool
	for _, bb := range fn.Blocks {
		snapshot := append([]ir.Instruction(nil), bb.Instructions...)
		for _, inst := range snapshot {
			switch v := inst.(type) {
			case *ir.BinaryInst:
				if p.cfg.RewriteBinary && rewritableBinOps[v.Op] {
					p.rewriteBinary(m, fn, bb, v)
					touched = true
				}
			case *ir.ConstInst:
				if p.cfg.RewriteConst {
					if bits := ir.SizeOfBits(v.Type); bits > 0 {
						p.rewriteConst(m, fn, bb, v, bits)
						touched = true
					}
				}
			}
		}
	}

	if touched {
		for _, problem := range verify.Function(fn) {
			sink.Reportf(diagnostics.VerifierBroken, p.Name(), fn.Name, "%s", problem.String())
		}
	} else {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), fn.Name, "no rewritable binary op or integer constant found")
	}
	return nil
}

func maskFor(bits int) int64 {
	if bits >= 64 {
		return -1
	}
	return (int64(1) << uint(bits)) - 1
}

// rewriteBinary replaces inst with one of two algebraically-equal forms
// for its operator (binary_expr_mba.rs's mba_add/mba_sub/mba_xor/mba_or),
// then appends Depth zero-valued noise terms built from the always-zero
// identity (r AND r) XOR r == 0 (const_utils.rs's add_zero_noise,
// specialized to one verified-zero generator instead of its randomized
// mask/zero term pool).
func (p *Pass) rewriteBinary(m *ir.Module, fn *ir.Function, bb *ir.BasicBlock, inst *ir.BinaryInst) {
	bits := ir.SizeOfBits(inst.Result().Type)
	if bits == 0 {
		bits = 32
	}
	b := ir.NewBuilderBefore(m, fn, bb, inst)
	a, c := inst.LHS, inst.RHS

	var result *ir.Value
	switch inst.Op {
	case ir.OpAdd:
		if p.rng.Intn(2) == 0 {
			x := b.Binary(ir.OpXor, a, c)
			and := b.Binary(ir.OpAnd, a, c)
			two := b.Binary(ir.OpAdd, and, and)
			result = b.Binary(ir.OpAdd, x, two)
		} else {
			or := b.Binary(ir.OpOr, a, c)
			and := b.Binary(ir.OpAnd, a, c)
			result = b.Binary(ir.OpAdd, or, and)
		}
	case ir.OpSub:
		if p.rng.Intn(2) == 0 {
			notC := b.Binary(ir.OpXor, c, b.ConstI(bits, -1))
			incr := b.Binary(ir.OpAdd, notC, b.ConstI(bits, 1))
			result = b.Binary(ir.OpAdd, a, incr)
		} else {
			xor := b.Binary(ir.OpXor, a, c)
			notA := b.Binary(ir.OpXor, a, b.ConstI(bits, -1))
			carry := b.Binary(ir.OpAnd, notA, c)
			two := b.Binary(ir.OpAdd, carry, carry)
			result = b.Binary(ir.OpSub, xor, two)
		}
	case ir.OpXor:
		if p.rng.Intn(2) == 0 {
			sum := b.Binary(ir.OpAdd, a, c)
			and := b.Binary(ir.OpAnd, a, c)
			two := b.Binary(ir.OpAdd, and, and)
			result = b.Binary(ir.OpSub, sum, two)
		} else {
			or := b.Binary(ir.OpOr, a, c)
			and := b.Binary(ir.OpAnd, a, c)
			result = b.Binary(ir.OpSub, or, and)
		}
	case ir.OpOr:
		if p.rng.Intn(2) == 0 {
			xor := b.Binary(ir.OpXor, a, c)
			and := b.Binary(ir.OpAnd, a, c)
			result = b.Binary(ir.OpAdd, xor, and)
		} else {
			notA := b.Binary(ir.OpXor, a, b.ConstI(bits, -1))
			notC := b.Binary(ir.OpXor, c, b.ConstI(bits, -1))
			nor := b.Binary(ir.OpAnd, notA, notC)
			result = b.Binary(ir.OpXor, nor, b.ConstI(bits, -1))
		}
	default:
		return
	}

	for i := 0; i < p.cfg.Depth; i++ {
		r := b.ConstI(bits, p.rng.Int63())
		selfAnd := b.Binary(ir.OpAnd, r, r)
		zero := b.Binary(ir.OpXor, selfAnd, r)
		result = b.Binary(ir.OpAdd, result, zero)
	}

	ir.ReplaceAllUsesWith(inst.Result(), result)
	bb.EraseInstruction(inst)
}

// rewriteConst replaces inst with a Depth-level XOR-tree of fresh random
// halves that still XOR down to the original value — constant_mba.rs's
// "encode the literal as an expression tree of rewrite_depth levels",
// reduced to XOR-pair splitting instead of the original's full Expr
// generator over Add/Sub/Or/And/Not/Mul terms too.
func (p *Pass) rewriteConst(m *ir.Module, fn *ir.Function, bb *ir.BasicBlock, inst *ir.ConstInst, bits int) {
	b := ir.NewBuilderBefore(m, fn, bb, inst)
	depth := p.cfg.Depth
	if depth <= 0 {
		depth = 1
	}
	result := p.obscureConst(b, bits, inst.IntValue, depth)
	ir.ReplaceAllUsesWith(inst.Result(), result)
	bb.EraseInstruction(inst)
}

func (p *Pass) obscureConst(b *ir.Builder, bits int, value int64, depth int) *ir.Value {
	mask := maskFor(bits)
	if depth <= 0 {
		return b.ConstI(bits, value&mask)
	}
	r1 := p.rng.Int63() & mask
	r2 := (value ^ r1) & mask
	lhs := p.obscureConst(b, bits, r1, depth-1)
	rhs := p.obscureConst(b, bits, r2, depth-1)
	return b.Binary(ir.OpXor, lhs, rhs)
}

var _ passregistry.FunctionPass = (*Pass)(nil)
