package mba

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
)

// buildAddFunction builds `define i32 @f(i32, i32) { %s = add %0, %1; ret %s }`.
func buildAddFunction(m *ir.Module) (*ir.Function, *ir.BinaryInst) {
	fn := ir.NewFunction("f", []*ir.Parameter{
		{Name: "a", Type: ir.I32}, {Name: "b", Type: ir.I32},
	}, ir.I32)
	m.AddFunction(fn)
	fn.Params[0].Value = ir.NewValue(m, "a", ir.I32)
	fn.Params[1].Value = ir.NewValue(m, "b", ir.I32)
	b := ir.NewBuilder(m, fn, fn.Entry())
	sum := b.Binary(ir.OpAdd, fn.Params[0].Value, fn.Params[1].Value)
	b.Ret(sum)
	return fn, sum.DefInst.(*ir.BinaryInst)
}

// buildConstFunction builds `define i32 @f() { %c = const i32 42; ret %c }`.
func buildConstFunction(m *ir.Module) (*ir.Function, *ir.ConstInst) {
	fn := ir.NewFunction("f", nil, ir.I32)
	m.AddFunction(fn)
	b := ir.NewBuilder(m, fn, fn.Entry())
	c := b.ConstI(32, 42)
	b.Ret(c)
	return fn, c.DefInst.(*ir.ConstInst)
}

func runPass(t *testing.T, cfg config.Config, fn *ir.Function, m *ir.Module) *diagnostics.Sink {
	t.Helper()
	p := New()
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnFunction(fn, m, sink))
	return sink
}

func enabledConfig(rewriteConst, rewriteBinary bool, depth int) config.Config {
	cfg := config.Default()
	cfg.MBA.Enable = true
	cfg.MBA.RewriteConst = rewriteConst
	cfg.MBA.RewriteBinary = rewriteBinary
	cfg.MBA.Depth = depth
	return cfg
}

func TestRunOnFunctionRewritesBinaryAdd(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn, sum := buildAddFunction(m)

	sink := runPass(t, enabledConfig(false, true, 0), fn, m)
	assert.Empty(t, sink.Items())

	entry := fn.Entry()
	for _, inst := range entry.Instructions {
		assert.NotEqual(t, ir.Instruction(sum), inst, "original add must be erased")
	}

	var binCount int
	for _, inst := range entry.Instructions {
		if _, ok := inst.(*ir.BinaryInst); ok {
			binCount++
		}
	}
	assert.Greater(t, binCount, 1, "add must expand into more than one binary instruction")
}

func TestRunOnFunctionAddsNoiseTermsPerDepth(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn, _ := buildAddFunction(m)

	runPass(t, enabledConfig(false, true, 3), fn, m)

	entry := fn.Entry()
	var binCount int
	for _, inst := range entry.Instructions {
		if _, ok := inst.(*ir.BinaryInst); ok {
			binCount++
		}
	}
	// each of the 3 noise rounds emits (self-and, xor-to-zero, add) = 3 binaries.
	assert.GreaterOrEqual(t, binCount, 3*3)
}

func TestRunOnFunctionRewritesConstant(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn, c := buildConstFunction(m)

	sink := runPass(t, enabledConfig(true, false, 2), fn, m)
	assert.Empty(t, sink.Items())

	entry := fn.Entry()
	for _, inst := range entry.Instructions {
		assert.NotEqual(t, ir.Instruction(c), inst, "original literal const must be erased")
	}

	var sawXor bool
	for _, inst := range entry.Instructions {
		if bin, ok := inst.(*ir.BinaryInst); ok && bin.Op == ir.OpXor {
			sawXor = true
		}
	}
	assert.True(t, sawXor, "obscured constant must be rebuilt through xor")
}

func TestRunOnFunctionDisabledLeavesInstructionsAlone(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn, sum := buildAddFunction(m)

	sink := runPass(t, config.Default(), fn, m)
	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.PassDisabled, sink.Items()[0].Kind)

	entry := fn.Entry()
	assert.Equal(t, ir.Instruction(sum), entry.Instructions[0])
}

func TestRunOnFunctionNoKnobsEnabledReportsDiagnostic(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn, sum := buildAddFunction(m)

	cfg := config.Default()
	cfg.MBA.Enable = true // enabled, but neither rewrite knob set

	sink := runPass(t, cfg, fn, m)
	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.UnsupportedIR, sink.Items()[0].Kind)

	entry := fn.Entry()
	assert.Equal(t, ir.Instruction(sum), entry.Instructions[0])
}
