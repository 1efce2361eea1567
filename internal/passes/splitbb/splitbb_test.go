package splitbb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
)

func buildFiveInstFunc(m *ir.Module) *ir.Function {
	fn := ir.NewFunction("five", nil, ir.I32)
	bld := ir.NewBuilder(m, fn, fn.Entry())
	v := bld.ConstI(32, 1)
	for i := 0; i < 4; i++ {
		v = bld.Binary(ir.OpAdd, v, v)
	}
	bld.Ret(v)
	return fn
}

func TestSplitDividesBlockIntoPieces(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := buildFiveInstFunc(m)
	m.AddFunction(fn)

	p := New()
	cfg := config.Default()
	cfg.SplitBasicBlock.Enable = true
	cfg.SplitBasicBlock.Num = 3
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnFunction(fn, m, sink))

	assert.Len(t, fn.Blocks, 3)
	for _, bb := range fn.Blocks {
		require.NotNil(t, bb.Terminator)
	}
	assert.NotNil(t, fn.Blocks[len(fn.Blocks)-1].Terminator)
	if _, ok := fn.Blocks[len(fn.Blocks)-1].Terminator.(*ir.ReturnInst); !ok {
		t.Fatalf("expected final block to keep the original ret terminator")
	}
}

func TestSplitSkipsWhenDisabled(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := buildFiveInstFunc(m)
	m.AddFunction(fn)

	p := New()
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(config.Default(), sink))
	require.NoError(t, p.RunOnFunction(fn, m, sink))
	assert.Len(t, fn.Blocks, 1)
}
