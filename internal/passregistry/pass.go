// Package passregistry implements the pass registry and dispatcher spec.md
// §4.1 describes, realizing its "Polymorphic pass trait" redesign note
// (§9) as two Go interfaces over one base, and its registration/ordering
// model as a unified Registry delegating to per-phase lists — the same
// shape as the teacher's internal/semantic ContextRegistry, which unifies
// several specialized registries behind one facade.
package passregistry

import (
	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
)

// Phase orders passes into coarse buckets before priority breaks ties
// within a bucket (spec.md §4.1).
type Phase int

const (
	PhaseEarly Phase = iota
	PhaseMain
	PhaseLate
)

// Pass is the common base every obfuscation pass implements: a name for
// diagnostics/config lookups, and a one-time Initialize call that receives
// the resolved Config and a Sink to report non-fatal problems to.
type Pass interface {
	Name() string
	Phase() Phase
	Priority() int
	Initialize(cfg config.Config, sink *diagnostics.Sink) error
}

// ModulePass runs once per module, at its own place in the (phase,
// priority desc, name) dispatch order (spec.md §9: "two interfaces over
// one base").
type ModulePass interface {
	Pass
	RunOnModule(m *ir.Module, sink *diagnostics.Sink) error
}

// FunctionPass runs once per eligible function in the module.
type FunctionPass interface {
	Pass
	RunOnFunction(fn *ir.Function, m *ir.Module, sink *diagnostics.Sink) error
}

// Registry stores every registered Pass, sorted for dispatch by
// (phase, priority desc, name) at Sorted time.
type Registry struct {
	passes []Pass
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds p to the registry. Order of registration does not matter;
// Sorted recomputes dispatch order from phase/priority/name.
func (r *Registry) Register(p Pass) { r.passes = append(r.passes, p) }

// Sorted returns every registered pass ordered by (phase, priority desc,
// name) — the order Dispatcher.Run invokes them in.
func (r *Registry) Sorted() []Pass {
	out := make([]Pass, len(r.passes))
	copy(out, r.passes)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func less(a, b Pass) bool {
	if a.Phase() != b.Phase() {
		return a.Phase() < b.Phase()
	}
	if a.Priority() != b.Priority() {
		return a.Priority() > b.Priority()
	}
	return a.Name() < b.Name()
}

// ByName returns the registered pass named name, or nil.
func (r *Registry) ByName(name string) Pass {
	for _, p := range r.passes {
		if p.Name() == name {
			return p
		}
	}
	return nil
}
