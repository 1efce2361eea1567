// Package boguscf wraps a chosen fraction of a function's unconditional
// branches in a conditional whose outcome is always the same at runtime but
// not at a glance: the basic variant compares a volatile-loaded constant
// against a matching threshold, the Polaris-primes variant compares two
// stack counters an invertible modular transform keeps congruent. Either
// way the false arm drops into dead code a static CFG reader still has to
// treat as reachable. Grounded on original_source's
// src/aotu/bogus_control_flow/basic.rs and polaris_primes.rs.
package boguscf

import (
	mrand "math/rand"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
)

type Pass struct {
	cfg config.BogusControlFlowConfig
	rng *mrand.Rand
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "bogus_control_flow" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseMain }
func (p *Pass) Priority() int             { return 60 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.BogusControlFlow
	p.rng = passutil.NewRand()
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

func (p *Pass) RunOnFunction(fn *ir.Function, m *ir.Module, sink *diagnostics.Sink) error {
	if !passutil.FunctionBool(fn, "bogus_control_flow", p.cfg.Enable) {
		return nil
	}
	if passutil.EntryHasEH(fn) {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), fn.Name, "entry block carries exception-handling control flow")
		return nil
	}

	probability := passutil.FunctionInt(fn, "bogus_control_flow_probability", p.cfg.Probability)

	candidates := candidateBlocks(fn)
	if len(candidates) == 0 {
		return nil
	}

	switch p.cfg.Algorithm {
	case config.BogusPolarisPrimes:
		runPolaris(fn, m, candidates, probability, p.rng)
	default:
		runBasic(fn, m, candidates, probability, p.rng)
	}
	return nil
}

// candidateBlocks returns every block (in stable order) whose terminator is
// a plain unconditional branch — the only shape either enhancement scheme
// wraps (spec.md §4.5 Responsibility).
func candidateBlocks(fn *ir.Function) []*ir.BasicBlock {
	var out []*ir.BasicBlock
	for _, bb := range fn.Blocks {
		if br, ok := bb.Terminator.(*ir.BranchInst); ok && !br.IsConditional() {
			out = append(out, bb)
		}
	}
	return out
}

// redirectPhis repoints every phi in succ that lists oldPred as a
// predecessor to newPred, preserving incoming values across the inserted
// block (spec.md §4.5 Invariants / §4.6 Transform).
func redirectPhis(succ *ir.BasicBlock, oldPred, newPred *ir.BasicBlock) {
	for _, inst := range succ.Instructions {
		if phi, ok := inst.(*ir.PhiInst); ok {
			phi.ReplaceIncomingBlock(oldPred, newPred)
		}
	}
}

var _ passregistry.FunctionPass = (*Pass)(nil)
