package clonefunction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
)

// buildCalleeAndCaller builds `define i32 @callee(i32 a, i32 b) { %s = add
// a, b; ret %s }` called once from `@caller(i32)` as `call i32
// @callee(i32 7, i32 %x)`.
func buildCalleeAndCaller(m *ir.Module, constArg int64) (caller, callee *ir.Function, call *ir.CallInst) {
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

	caller = ir.NewFunction("caller", []*ir.Parameter{{Name: "x", Type: ir.I32}}, ir.I32)
	m.AddFunction(caller)
	caller.Params[0].Value = ir.NewValue(m, "x", ir.I32)
	b := ir.NewBuilder(m, caller, caller.Entry())
	result := b.Call(callee, []*ir.Value{b.ConstI(32, constArg), caller.Params[0].Value})
	b.Ret(result)
	return caller, callee, result.DefInst.(*ir.CallInst)
}

func runPass(t *testing.T, cfg config.Config, m *ir.Module) *diagnostics.Sink {
	t.Helper()
	p := New()
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnModule(m, sink))
	return sink
}

func enabledConfig(maxClones int) config.Config {
	cfg := config.Default()
	cfg.CloneFunction.Enable = true
	cfg.CloneFunction.MaxClones = maxClones
	return cfg
}

func findBinaryWithConstOperand(fn *ir.Function, want int64) bool {
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			bin, ok := inst.(*ir.BinaryInst)
			if !ok {
				continue
			}
			for _, v := range []*ir.Value{bin.LHS, bin.RHS} {
				if c, ok := v.DefInst.(*ir.ConstInst); ok && c.IntValue == want {
					return true
				}
			}
		}
	}
	return false
}

func TestRunOnModuleCreatesSpecializedCloneAndRewritesCallSite(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	caller, callee, _ := buildCalleeAndCaller(m, 7)
	before := len(m.Functions)

	sink := runPass(t, enabledConfig(4), m)
	assert.Empty(t, sink.Items())
	assert.Equal(t, before+1, len(m.Functions), "exactly one clone must be created")

	var clone *ir.Function
	for _, fn := range m.Functions {
		if fn != caller && fn != callee {
			clone = fn
		}
	}
	require.NotNil(t, clone)
	assert.Len(t, clone.Params, 1, "clone must drop the constant-valued parameter")
	assert.Equal(t, ir.LinkageInternal, clone.Linkage)
	assert.True(t, findBinaryWithConstOperand(clone, 7), "clone body must use the baked-in constant")

	entry := caller.Entry()
	var sawCloneCall, sawOriginalCall bool
	for _, inst := range entry.Instructions {
		call, ok := inst.(*ir.CallInst)
		if !ok {
			continue
		}
		if call.Callee == clone {
			sawCloneCall = true
			assert.Len(t, call.Args, 1, "call site must drop the specialized argument")
		}
		if call.Callee == callee {
			sawOriginalCall = true
		}
	}
	assert.True(t, sawCloneCall, "call site must now call the specialized clone")
	assert.False(t, sawOriginalCall, "call site must no longer call the original callee")
}

func TestRunOnModuleSharesCloneAcrossIdenticalConstants(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	_, callee, _ := buildCalleeAndCaller(m, 7)

	caller2 := ir.NewFunction("caller2", []*ir.Parameter{{Name: "x", Type: ir.I32}}, ir.I32)
	m.AddFunction(caller2)
	caller2.Params[0].Value = ir.NewValue(m, "x", ir.I32)
	b2 := ir.NewBuilder(m, caller2, caller2.Entry())
	r2 := b2.Call(callee, []*ir.Value{b2.ConstI(32, 7), caller2.Params[0].Value})
	b2.Ret(r2)

	before := len(m.Functions)
	runPass(t, enabledConfig(4), m)
	assert.Equal(t, before+1, len(m.Functions), "identical constant combinations must share one clone")
}

func TestRunOnModuleRespectsMaxClonesCap(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	_, callee, _ := buildCalleeAndCaller(m, 7)

	caller2 := ir.NewFunction("caller2", []*ir.Parameter{{Name: "x", Type: ir.I32}}, ir.I32)
	m.AddFunction(caller2)
	caller2.Params[0].Value = ir.NewValue(m, "x", ir.I32)
	b2 := ir.NewBuilder(m, caller2, caller2.Entry())
	r2 := b2.Call(callee, []*ir.Value{b2.ConstI(32, 9), caller2.Params[0].Value})
	b2.Ret(r2)

	before := len(m.Functions)
	sink := runPass(t, enabledConfig(1), m)
	assert.Equal(t, before+1, len(m.Functions), "only one clone may be created under max_clones=1")

	var sawSkipDiag bool
	for _, item := range sink.Items() {
		if item.Kind == diagnostics.UnsupportedIR {
			sawSkipDiag = true
		}
	}
	assert.True(t, sawSkipDiag)

	entry := caller2.Entry()
	var stillCallsOriginal bool
	for _, inst := range entry.Instructions {
		if call, ok := inst.(*ir.CallInst); ok && call.Callee == callee {
			stillCallsOriginal = true
		}
	}
	assert.True(t, stillCallsOriginal, "the call beyond the cap must be left untouched")
}

func TestRunOnModuleSkipsCallsWithNoConstantArguments(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	callee := ir.NewFunction("callee", []*ir.Parameter{
		{Name: "a", Type: ir.I32}, {Name: "b", Type: ir.I32},
	}, ir.I32)
	m.AddFunction(callee)
	callee.Params[0].Value = ir.NewValue(m, "a", ir.I32)
	callee.Params[1].Value = ir.NewValue(m, "b", ir.I32)
	cb := ir.NewBuilder(m, callee, callee.Entry())
	cb.Ret(cb.Binary(ir.OpAdd, callee.Params[0].Value, callee.Params[1].Value))

	caller := ir.NewFunction("caller", []*ir.Parameter{{Name: "x", Type: ir.I32}, {Name: "y", Type: ir.I32}}, ir.I32)
	m.AddFunction(caller)
	caller.Params[0].Value = ir.NewValue(m, "x", ir.I32)
	caller.Params[1].Value = ir.NewValue(m, "y", ir.I32)
	b := ir.NewBuilder(m, caller, caller.Entry())
	b.Ret(b.Call(callee, []*ir.Value{caller.Params[0].Value, caller.Params[1].Value}))

	before := len(m.Functions)
	sink := runPass(t, enabledConfig(4), m)
	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.UnsupportedIR, sink.Items()[0].Kind)
	assert.Equal(t, before, len(m.Functions), "no clone may be created with no constant arguments")
}

func TestRunOnModuleDisabledLeavesCallAlone(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	caller, callee, _ := buildCalleeAndCaller(m, 7)

	sink := runPass(t, config.Default(), m)
	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.PassDisabled, sink.Items()[0].Kind)

	entry := caller.Entry()
	call, ok := entry.Instructions[len(entry.Instructions)-1].(*ir.CallInst)
	require.True(t, ok)
	assert.Equal(t, callee, call.Callee)
}
