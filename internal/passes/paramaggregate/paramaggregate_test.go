package paramaggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
)

// buildCalleeAndCaller builds `define i32 @callee(i32, i32) { ret i32
// %add }` called once from `@caller` as `call i32 @callee(i32 1, i32 2)`.
func buildCalleeAndCaller(m *ir.Module) (caller, callee *ir.Function) {
	callee = ir.NewFunction("callee", []*ir.Parameter{
		{Name: "a", Type: ir.I32},
		{Name: "b", Type: ir.I32},
	}, ir.I32)
	m.AddFunction(callee)
	callee.Params[0].Value = ir.NewValue(m, "a", ir.I32)
	callee.Params[1].Value = ir.NewValue(m, "b", ir.I32)
	cb := ir.NewBuilder(m, callee, callee.Entry())
	sum := cb.Binary(ir.OpAdd, callee.Params[0].Value, callee.Params[1].Value)
	cb.Ret(sum)

	caller = ir.NewFunction("caller", nil, ir.I32)
	m.AddFunction(caller)
	b := ir.NewBuilder(m, caller, caller.Entry())
	result := b.Call(callee, []*ir.Value{b.ConstI(32, 1), b.ConstI(32, 2)})
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
	cfg.ParamAggregate.Enable = true
	return cfg
}

func TestRunOnModuleRewritesCallThroughStructWrapper(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	caller, callee := buildCalleeAndCaller(m)

	sink := runPass(t, enabledConfig(), m)
	assert.Empty(t, sink.Items())

	wrapper, ok := m.FunctionsByName["callee"]
	require.True(t, ok)
	assert.NotSame(t, callee, wrapper, "original callee must be renamed out of the way")
	require.Len(t, wrapper.Params, 1)
	_, isPtr := wrapper.Params[0].Type.(ir.PointerType)
	assert.True(t, isPtr)

	implFn, ok := m.FunctionsByName["callee.impl"]
	require.True(t, ok)
	assert.Same(t, callee, implFn)
	assert.Equal(t, ir.LinkageInternal, implFn.Linkage)

	entry := caller.Entry()
	var sawAlloca, sawWrapperCall bool
	for _, inst := range entry.Instructions {
		switch v := inst.(type) {
		case *ir.AllocaInst:
			sawAlloca = true
		case *ir.CallInst:
			if v.Callee == wrapper {
				sawWrapperCall = true
			}
			assert.NotEqual(t, implFn, v.Callee, "caller must never call the impl function directly")
		}
	}
	assert.True(t, sawAlloca, "call site must allocate the argument struct")
	assert.True(t, sawWrapperCall, "call site must now call the wrapper")
}

func TestRunOnModuleWrapperCallsImplWithLoadedFields(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	_, callee := buildCalleeAndCaller(m)

	runPass(t, enabledConfig(), m)

	wrapper := m.FunctionsByName["callee"]
	entry := wrapper.Entry()
	var sawImplCall bool
	var loads int
	for _, inst := range entry.Instructions {
		if _, ok := inst.(*ir.LoadInst); ok {
			loads++
		}
		if call, ok := inst.(*ir.CallInst); ok && call.Callee == callee {
			sawImplCall = true
			assert.Len(t, call.Args, 2)
		}
	}
	assert.True(t, sawImplCall)
	assert.Equal(t, 2, loads, "one load per real parameter field")
}

func TestRunOnModuleSkipsSingleParamFunctions(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	callee := ir.NewFunction("one_param", []*ir.Parameter{{Name: "a", Type: ir.I32}}, ir.I32)
	m.AddFunction(callee)
	callee.Params[0].Value = ir.NewValue(m, "a", ir.I32)
	ir.NewBuilder(m, callee, callee.Entry()).Ret(callee.Params[0].Value)

	caller := ir.NewFunction("caller", nil, ir.I32)
	m.AddFunction(caller)
	b := ir.NewBuilder(m, caller, caller.Entry())
	result := b.Call(callee, []*ir.Value{b.ConstI(32, 1)})
	b.Ret(result)

	sink := runPass(t, enabledConfig(), m)
	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.UnsupportedIR, sink.Items()[0].Kind)

	_, stillThere := m.FunctionsByName["one_param"]
	assert.True(t, stillThere)
}

func TestRunOnModuleDisabledLeavesCallAlone(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	caller, callee := buildCalleeAndCaller(m)

	sink := runPass(t, config.Default(), m)
	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.PassDisabled, sink.Items()[0].Kind)

	entry := caller.Entry()
	call, ok := entry.Instructions[2].(*ir.CallInst)
	require.True(t, ok)
	assert.Equal(t, callee, call.Callee)
}
