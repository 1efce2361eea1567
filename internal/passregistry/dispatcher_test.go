package passregistry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/allpasses"
	"amice-go/internal/config"
	"amice-go/internal/irtext"
	"amice-go/internal/passregistry"
	"amice-go/internal/verify"
)

const sampleModule = `module "t" target "x86_64-unknown-linux-gnu"
define i32 @abs(i32 %x) {
entry:
  %c = icmp slt i32 %x, i32 0
  br i1 %c, label %neg, label %pos
neg:
  %z = sub i32 0, i32 %x
  ret i32 %z
pos:
  ret i32 %x
}
`

// TestDispatcherRunsEveryRegisteredPassOverAModule exercises the full
// pipeline contract end to end: every pass allpasses.Register wires in
// actually runs, in dispatch order, against one real parsed module, not
// just in each pass's own isolated unit tests.
func TestDispatcherRunsEveryRegisteredPassOverAModule(t *testing.T) {
	m, err := irtext.Parse("abs.air", sampleModule)
	require.NoError(t, err)

	reg := passregistry.NewRegistry()
	allpasses.Register(reg)
	require.Greater(t, len(reg.Sorted()), 1, "the full pass set must register more than one pass")

	cfg := config.Default()
	// Enable the non-restructuring passes together — a realistic config
	// never turns on more than one whole-function flattening style at
	// once, so this exercises genuine multi-pass composition without
	// stacking mutually-exclusive CFG rewrites on top of each other.
	enableComposablePasses(&cfg)

	dispatcher, err := passregistry.NewDispatcher(reg, cfg)
	require.NoError(t, err)

	sink := dispatcher.Run(m)
	for _, d := range sink.Items() {
		assert.NotEqual(t, "verifier_broken", string(d.Kind), "%s", d)
	}

	for _, fn := range m.Functions {
		for _, problem := range verify.Function(fn) {
			t.Errorf("module failed structural verification after the full pipeline ran: %s", problem)
		}
	}
}

// TestDispatcherSkipsEveryPassWhenNoneAreEnabled confirms the default,
// all-disabled config still dispatches cleanly: every pass reports
// pass_disabled instead of silently doing nothing or erroring.
func TestDispatcherSkipsEveryPassWhenNoneAreEnabled(t *testing.T) {
	m, err := irtext.Parse("abs.air", sampleModule)
	require.NoError(t, err)

	reg := passregistry.NewRegistry()
	allpasses.Register(reg)

	dispatcher, err := passregistry.NewDispatcher(reg, config.Default())
	require.NoError(t, err)

	sink := dispatcher.Run(m)
	require.Len(t, sink.Items(), len(reg.Sorted()))
	for _, d := range sink.Items() {
		assert.Equal(t, "pass_disabled", string(d.Kind))
	}
}

// enableComposablePasses turns on every pass that rewrites instructions or
// call sites in place rather than replacing a function's entire control
// flow, so they can safely run back to back in one dispatch: the whole-CFG
// flattening/bogus-control-flow/VM-flatten passes are deliberately left
// off, matching how a real config would pick at most one flattening style.
func enableComposablePasses(cfg *config.Config) {
	cfg.StringEncryption.Enable = true
	cfg.IndirectCall.Enable = true
	cfg.AliasAccess.Enable = true
	cfg.DelayOffset.Enable = true
	cfg.ParamAggregate.Enable = true
	cfg.CloneFunction.Enable = true
	cfg.MBA.Enable = true
	cfg.MBA.RewriteConst = true
	cfg.MBA.RewriteBinary = true
	cfg.AntiClassDump.Enable = true
	cfg.FunctionWrapper.Enable = true
}
