package functionwrapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
)

// buildCalleeAndCaller builds `define i32 @callee(i32) { ret %0 }` called
// once from `@caller(i32)` as `ret i32 (call i32 @callee(i32 %0))`.
func buildCalleeAndCaller(m *ir.Module) (caller, callee *ir.Function) {
	callee = ir.NewFunction("callee", []*ir.Parameter{{Name: "x", Type: ir.I32}}, ir.I32)
	m.AddFunction(callee)
	callee.Params[0].Value = ir.NewValue(m, "x", ir.I32)
	cb := ir.NewBuilder(m, callee, callee.Entry())
	cb.Ret(callee.Params[0].Value)

	caller = ir.NewFunction("caller", []*ir.Parameter{{Name: "y", Type: ir.I32}}, ir.I32)
	m.AddFunction(caller)
	caller.Params[0].Value = ir.NewValue(m, "y", ir.I32)
	b := ir.NewBuilder(m, caller, caller.Entry())
	result := b.Call(callee, []*ir.Value{caller.Params[0].Value})
	b.Ret(result)
	return caller, callee
}

func runPass(t *testing.T, cfg config.Config, m *ir.Module) *diagnostics.Sink {
	t.Helper()
	p := New()
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnModule(m, sink))
	return sink
}

func enabledConfig() config.Config {
	cfg := config.Default()
	cfg.FunctionWrapper.Enable = true
	return cfg
}

func TestRunOnModuleInsertsWrapperAndRewritesCallSite(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	caller, callee := buildCalleeAndCaller(m)

	sink := runPass(t, enabledConfig(), m)
	assert.Empty(t, sink.Items())

	wrapper := m.FunctionsByName["callee"]
	require.NotNil(t, wrapper)
	assert.NotSame(t, callee, wrapper, "original body must move to a renamed implementation")
	assert.Equal(t, "callee.impl", callee.Name)
	assert.Equal(t, ir.LinkageInternal, callee.Linkage)
	assert.True(t, callee.HasFuncAttr(ir.AttrAlwaysInline))

	entry := caller.Entry()
	call, ok := entry.Instructions[0].(*ir.CallInst)
	require.True(t, ok)
	assert.Same(t, wrapper, call.Callee, "call site must now target the wrapper")
}

func TestRunOnModuleDisabledLeavesCallAlone(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	caller, callee := buildCalleeAndCaller(m)

	sink := runPass(t, config.Default(), m)
	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.PassDisabled, sink.Items()[0].Kind)

	entry := caller.Entry()
	call, ok := entry.Instructions[0].(*ir.CallInst)
	require.True(t, ok)
	assert.Same(t, callee, call.Callee)
}
