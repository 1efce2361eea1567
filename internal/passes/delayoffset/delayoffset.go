// Package delayoffset hoists every constant-offset GEP in the module out
// of the instruction stream and into a private global: the offset no
// longer appears as an immediate a disassembler can read off the GEP
// itself, only as the initializer of a same-named global loaded at the
// GEP's original position. Grounded on original_source's
// src/aotu/delay_offset_loading/mod.rs.
package delayoffset

import (
	"fmt"
	mrand "math/rand"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
	"amice-go/internal/verify"
)

type offsetGlobal struct {
	global *ir.GlobalValue
	xorKey uint64
}

type Pass struct {
	cfg config.DelayOffsetConfig
	rng *mrand.Rand

	// shared across every function in the module, same as
	// original_source's shared_global_offset_map: two GEPs with the same
	// constant offset, anywhere in the module, reuse one global.
	byOffset map[uint64]offsetGlobal
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "delay_offset_loading" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseEarly }
func (p *Pass) Priority() int             { return 1150 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.DelayOffset
	p.rng = passutil.NewRand()
	p.byOffset = make(map[uint64]offsetGlobal)
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

func (p *Pass) RunOnModule(m *ir.Module, sink *diagnostics.Sink) error {
	if !p.cfg.Enable {
		return nil
	}

	var touched bool
	for _, fn := range m.Functions {
		if len(fn.Blocks) == 0 {
			continue
		}
		if !passutil.FunctionBool(fn, "delay_offset_loading", p.cfg.Enable) {
			continue
		}

		var geps []*ir.GEPInst
		for _, bb := range fn.Blocks {
			for _, inst := range bb.Instructions {
				gep, ok := inst.(*ir.GEPInst)
				if !ok {
					continue
				}
				if _, isPtr := gep.Result().Type.(ir.PointerType); !isPtr {
					continue
				}
				if _, ok := gep.ConstIndices(); ok {
					geps = append(geps, gep)
				}
			}
		}
		if len(geps) == 0 {
			continue
		}

		for _, gep := range geps {
			p.rewrite(m, fn, gep)
		}
		touched = true

		for _, problem := range verify.Function(fn) {
			sink.Reportf(diagnostics.VerifierBroken, p.Name(), fn.Name, "%s", problem.String())
		}
	}

	if !touched {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "module has no constant-offset GEPs to delay")
	}
	return nil
}

// offsetOf computes gep's constant byte offset under this IR model's
// flat, single-elemtype-per-level layout: every index scales by the same
// ElemType size, matching the one GEP shape every existing pass emits
// (§4.11's accumulate_constant_offset, specialized to that shape).
func offsetOf(gep *ir.GEPInst) uint64 {
	indices, _ := gep.ConstIndices()
	elemSize := passutil.SizeOfType(gep.ElemType)
	var total uint64
	for _, idx := range indices {
		total += uint64(idx) * elemSize
	}
	return total
}

// rewrite replaces gep with a load of its offset from a shared global,
// followed by an i8-element GEP from the base pointer and a bitcast back
// to gep's original pointee type — original_source's load-xor-gep-cast
// sequence.
func (p *Pass) rewrite(m *ir.Module, fn *ir.Function, gep *ir.GEPInst) {
	offset := offsetOf(gep)
	og, ok := p.byOffset[offset]
	if !ok {
		og = p.buildOffsetGlobal(m, offset)
		p.byOffset[offset] = og
	}

	bb := passutil.BlockOf(fn, gep)
	if bb == nil {
		return
	}
	b := ir.NewBuilderBefore(m, fn, bb, gep)

	offsetVal := b.Load(passutil.GlobalRef(og.global), ir.I32)
	if p.cfg.XorEncode {
		key := b.ConstI(32, int64(uint32(og.xorKey)))
		offsetVal = b.Binary(ir.OpXor, offsetVal, key)
	}

	basePtr := b.Cast("bitcast", gep.Base, ir.PointerType{Elem: ir.I8})
	bytePtr := b.GEP(basePtr, ir.I8, []*ir.Value{offsetVal})
	typedPtr := b.Cast("bitcast", bytePtr, gep.Result().Type)

	ir.ReplaceAllUsesWith(gep.Result(), typedPtr)
	bb.EraseInstruction(gep)
}

// buildOffsetGlobal materializes a fresh private, non-constant i32 global
// holding offset (or offset XOR a fresh random key, when XOR mode is on)
// — set_constant(false) so the optimizer never folds the load away and
// reintroduces the literal it was hiding.
func (p *Pass) buildOffsetGlobal(m *ir.Module, offset uint64) offsetGlobal {
	var key uint64
	initValue := int64(uint32(offset))
	if p.cfg.XorEncode {
		key = p.rng.Uint64()
		initValue = int64(uint32(offset) ^ uint32(key))
	}

	g := &ir.GlobalValue{
		Name:        fmt.Sprintf(".ama.offset.%d", offset),
		Type:        ir.I32,
		Linkage:     ir.LinkagePrivate,
		Constant:    false,
		Initializer: ir.ConstInt{Bits: 32, Value: initValue},
	}
	m.AddGlobal(g)
	return offsetGlobal{global: g, xorKey: key}
}

var _ passregistry.ModulePass = (*Pass)(nil)
