package indirectcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
)

// buildCallerAndCallee builds `define void @callee(i32) {ret void}` and
// `define void @caller() { call void @callee(i32 1); ret void }`.
func buildCallerAndCallee(m *ir.Module) (caller, callee *ir.Function) {
	callee = ir.NewFunction("callee", []*ir.Parameter{{Name: "x", Type: ir.I32}}, ir.VoidType{})
	m.AddFunction(callee)
	ir.NewBuilder(m, callee, callee.Entry()).Ret(nil)

	caller = ir.NewFunction("caller", nil, ir.VoidType{})
	m.AddFunction(caller)
	entry := caller.Entry()
	b := ir.NewBuilder(m, caller, entry)
	b.Call(callee, []*ir.Value{b.ConstI(32, 1)})
	b.Ret(nil)
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
	cfg.IndirectCall.Enable = true
	return cfg
}

func TestRunOnModuleRewritesDirectCallToIndirect(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	caller, _ := buildCallerAndCallee(m)

	sink := runPass(t, enabledConfig(), m)
	assert.Empty(t, sink.Items())

	entry := caller.Blocks[0]
	var sawIndirectCall, sawDirectCall bool
	for _, inst := range entry.Instructions {
		if call, ok := inst.(*ir.CallInst); ok {
			if call.FuncPtr != nil {
				sawIndirectCall = true
			}
			if call.Callee != nil {
				sawDirectCall = true
			}
		}
	}
	assert.True(t, sawIndirectCall, "direct call must become indirect")
	assert.False(t, sawDirectCall, "no direct call should remain")

	g, ok := m.GlobalsByName[tableName]
	require.True(t, ok)
	assert.Contains(t, m.CompilerUsed, g)
}

func TestRunOnModulePreservesCalleeNameAndArgs(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	caller, _ := buildCallerAndCallee(m)

	runPass(t, enabledConfig(), m)

	entry := caller.Blocks[0]
	var rewritten *ir.CallInst
	for _, inst := range entry.Instructions {
		if call, ok := inst.(*ir.CallInst); ok && call.FuncPtr != nil {
			rewritten = call
		}
	}
	require.NotNil(t, rewritten)
	assert.Equal(t, "callee", rewritten.CalleeName)
	require.Len(t, rewritten.Args, 1)
}

func TestRunOnModuleSkipsIntrinsicCalls(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	intrinsic := ir.NewFunction("llvm.trap", nil, ir.VoidType{})
	intrinsic.IntrinsicID = "llvm.trap"
	intrinsic.Blocks = nil
	m.AddFunction(intrinsic)

	caller := ir.NewFunction("caller", nil, ir.VoidType{})
	m.AddFunction(caller)
	b := ir.NewBuilder(m, caller, caller.Entry())
	b.Call(intrinsic, nil)
	b.Ret(nil)

	sink := runPass(t, enabledConfig(), m)
	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.UnsupportedIR, sink.Items()[0].Kind)

	entry := caller.Blocks[0]
	call, ok := entry.Instructions[0].(*ir.CallInst)
	require.True(t, ok)
	assert.Equal(t, intrinsic, call.Callee, "intrinsic call must be left untouched")
}

func TestRunOnModuleDisabledReportsAndSkips(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	caller, _ := buildCallerAndCallee(m)

	sink := runPass(t, config.Default(), m)
	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.PassDisabled, sink.Items()[0].Kind)

	entry := caller.Blocks[0]
	call, ok := entry.Instructions[1].(*ir.CallInst)
	require.True(t, ok)
	assert.NotNil(t, call.Callee)
}

func TestRunOnModuleWithXorKeyEncryptsIndexBeforeGEP(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	caller, _ := buildCallerAndCallee(m)
	cfg := enabledConfig()
	key := uint32(0xABCD)
	cfg.IndirectCall.XorKey = &key

	runPass(t, cfg, m)

	_, ok := m.GlobalsByName[xorKeyGlobalName]
	require.True(t, ok)

	entry := caller.Blocks[0]
	var gep *ir.GEPInst
	for _, inst := range entry.Instructions {
		if g, ok := inst.(*ir.GEPInst); ok {
			gep = g
		}
	}
	require.NotNil(t, gep)
	_, isXor := gep.Indices[0].DefInst.(*ir.BinaryInst)
	assert.True(t, isXor, "GEP index must be the XOR of the raw index and the loaded key")
}
