package passregistry

import (
	"fmt"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
)

// Dispatcher runs every registered pass over a Module in order, invoking
// Initialize once per pass and then RunOnModule/RunOnFunction per module
// (spec.md §4.1). A pass that returns an error is reported to the Sink and
// skipped for the rest of that module; the pipeline continues with the
// next pass, never aborting the whole run (§7's log-and-continue policy).
//
// A Dispatcher holds no mutable state beyond its Registry reference and a
// fresh Sink per Run call; cmd/amice builds one Dispatcher and runs it
// over a single module.
type Dispatcher struct {
	registry *Registry
	cfg      config.Config
}

// NewDispatcher creates a Dispatcher bound to reg and cfg. Initialize is
// called on every registered pass immediately.
func NewDispatcher(reg *Registry, cfg config.Config) (*Dispatcher, error) {
	d := &Dispatcher{registry: reg, cfg: cfg}
	sink := diagnostics.NewSink()
	for _, p := range reg.Sorted() {
		if err := p.Initialize(cfg, sink); err != nil {
			return nil, fmt.Errorf("passregistry: initialize %s: %w", p.Name(), err)
		}
	}
	if sink.HasErrors() {
		return nil, fmt.Errorf("passregistry: initialization reported errors:\n%s", sink.Render())
	}
	return d, nil
}

// Run executes every registered pass, in dispatch order, over m and
// returns the Sink collecting every diagnostic raised along the way.
func (d *Dispatcher) Run(m *ir.Module) *diagnostics.Sink {
	sink := diagnostics.NewSink()
	for _, p := range d.registry.Sorted() {
		d.runOne(p, m, sink)
	}
	return sink
}

func (d *Dispatcher) runOne(p Pass, m *ir.Module, sink *diagnostics.Sink) {
	if mp, ok := p.(ModulePass); ok {
		if err := mp.RunOnModule(m, sink); err != nil {
			sink.Report(diagnostics.Diagnostic{
				Kind: diagnostics.TranslationFailure, Pass: p.Name(),
				Message: "module pass failed", Err: err,
			})
			return
		}
	}
	if fp, ok := p.(FunctionPass); ok {
		for _, fn := range m.Functions {
			if len(fn.Blocks) == 0 {
				continue // external declaration, nothing to rewrite
			}
			if err := fp.RunOnFunction(fn, m, sink); err != nil {
				sink.Report(diagnostics.Diagnostic{
					Kind: diagnostics.TranslationFailure, Pass: p.Name(), Function: fn.Name,
					Message: "function pass failed", Err: err,
				})
				return
			}
		}
	}
}
