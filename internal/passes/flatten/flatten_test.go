package flatten

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
)

// buildDiamond builds entry -> b1 -(cond)-> b2/b3 -> b4 -> ret, the typical
// diamond shape flatten rewrites into a single dispatcher.
func buildDiamond(m *ir.Module) (*ir.Function, map[string]*ir.BasicBlock) {
	fn := ir.NewFunction("diamond", []*ir.Parameter{{Name: "x", Type: ir.I32}}, ir.I32)
	fn.Params[0].Value = ir.NewValue(m, "x", ir.I32)
	m.AddFunction(fn)

	entry := fn.Entry()
	b1 := fn.AppendBlock("b1")
	b2 := fn.AppendBlock("b2")
	b3 := fn.AppendBlock("b3")
	b4 := fn.AppendBlock("b4")

	ir.NewBuilder(m, fn, entry).Br(b1)

	b1Bld := ir.NewBuilder(m, fn, b1)
	cond := b1Bld.ICmp(ir.ICmpSGT, fn.Params[0].Value, b1Bld.ConstI(32, 0))
	b1Bld.CondBr(cond, b2, b3)

	ir.NewBuilder(m, fn, b2).Br(b4)
	ir.NewBuilder(m, fn, b3).Br(b4)

	b4Bld := ir.NewBuilder(m, fn, b4)
	b4Bld.Ret(b4Bld.ConstI(32, 1))

	return fn, map[string]*ir.BasicBlock{"entry": entry, "b1": b1, "b2": b2, "b3": b3, "b4": b4}
}

func TestFlattenBuildsDispatcher(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn, blocks := buildDiamond(m)

	p := New()
	cfg := config.Default()
	cfg.Flatten.Enable = true
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnFunction(fn, m, sink))

	entryBr, ok := blocks["entry"].Terminator.(*ir.BranchInst)
	require.True(t, ok)
	require.False(t, entryBr.IsConditional())
	dispatcher := entryBr.TrueBB
	assert.Contains(t, dispatcher.Label, "dispatcher")

	sw, ok := dispatcher.Terminator.(*ir.SwitchInst)
	require.True(t, ok)
	// firstReal (entry's split-off body) + b1, b2, b3, b4.
	assert.Len(t, sw.Cases, 5)

	for _, name := range []string{"b1", "b2", "b3"} {
		br, ok := blocks[name].Terminator.(*ir.BranchInst)
		require.True(t, ok, "block %s should end in a branch", name)
		assert.False(t, br.IsConditional())
		assert.Same(t, dispatcher, br.TrueBB)
	}

	_, stillReturns := blocks["b4"].Terminator.(*ir.ReturnInst)
	assert.True(t, stillReturns, "terminal block should keep its return")

	var defaultBlock *ir.BasicBlock
	for _, bb := range fn.Blocks {
		if strings.Contains(bb.Label, "default") {
			defaultBlock = bb
		}
	}
	require.NotNil(t, defaultBlock)
	defBr, ok := defaultBlock.Terminator.(*ir.BranchInst)
	require.True(t, ok)
	assert.Same(t, dispatcher, defBr.TrueBB)
}

func TestDisabledPassLeavesFunctionUnchanged(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn, blocks := buildDiamond(m)
	before := len(fn.Blocks)

	p := New()
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(config.Default(), sink))
	require.NoError(t, p.RunOnFunction(fn, m, sink))

	assert.Len(t, fn.Blocks, before)
	_, stillConditional := blocks["b1"].Terminator.(*ir.BranchInst)
	assert.True(t, stillConditional)
}

func TestTooFewBlocksSkipped(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := ir.NewFunction("tiny", nil, ir.VoidType{})
	m.AddFunction(fn)
	fn.Entry().SetTerminator(ir.NewReturnInst(fn, nil))

	p := New()
	cfg := config.Default()
	cfg.Flatten.Enable = true
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnFunction(fn, m, sink))

	assert.Len(t, fn.Blocks, 1)
	assert.True(t, sink.HasErrors() || len(sink.Items()) > 0)
}

func TestFixStackConvertsCrossBlockValue(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := ir.NewFunction("crossy", nil, ir.I32)
	m.AddFunction(fn)

	entry := fn.Entry()
	b1 := fn.AppendBlock("b1")
	b2 := fn.AppendBlock("b2")

	ir.NewBuilder(m, fn, entry).Br(b1)

	b1Bld := ir.NewBuilder(m, fn, b1)
	val := b1Bld.ConstI(32, 42)
	b1Bld.Br(b2)

	b2Bld := ir.NewBuilder(m, fn, b2)
	b2Bld.Ret(val)

	p := New()
	cfg := config.Default()
	cfg.Flatten.Enable = true
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnFunction(fn, m, sink))

	retInst, ok := b2.Terminator.(*ir.ReturnInst)
	require.True(t, ok)
	assert.NotSame(t, val, retInst.Val, "return should read a freshly loaded value, not the original cross-block value")
	assert.Empty(t, val.Uses, "original value should have no remaining uses once lowered to a stack slot")
}
