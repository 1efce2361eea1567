package boguscf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
)

// buildStraightLine builds entry -> b1 -> b2 -> ret, two unconditional
// branches (entry->b1, b1->b2) offering two candidates for enhancement.
func buildStraightLine(m *ir.Module) (*ir.Function, map[string]*ir.BasicBlock) {
	fn := ir.NewFunction("straight", nil, ir.I32)
	m.AddFunction(fn)

	entry := fn.Entry()
	b1 := fn.AppendBlock("b1")
	b2 := fn.AppendBlock("b2")

	ir.NewBuilder(m, fn, entry).Br(b1)
	ir.NewBuilder(m, fn, b1).Br(b2)
	b2Bld := ir.NewBuilder(m, fn, b2)
	b2Bld.Ret(b2Bld.ConstI(32, 7))

	return fn, map[string]*ir.BasicBlock{"entry": entry, "b1": b1, "b2": b2}
}

func TestBasicAlwaysEnhancesAtFullProbability(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn, blocks := buildStraightLine(m)
	before := len(fn.Blocks)

	p := New()
	cfg := config.Default()
	cfg.BogusControlFlow.Enable = true
	cfg.BogusControlFlow.Algorithm = config.BogusBasic
	cfg.BogusControlFlow.Probability = 100
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnFunction(fn, m, sink))

	// Each of the 2 original unconditional branches gets a cond+fake block
	// pair: entry->b1 and b1->b2 are the two enhanceable edges (b2 ends in
	// ret and is not a candidate).
	assert.Greater(t, len(fn.Blocks), before)

	entryBr, ok := blocks["entry"].Terminator.(*ir.BranchInst)
	require.True(t, ok)
	assert.Contains(t, entryBr.TrueBB.Label, "bogus.cond")
}

func TestEnsureGlobalsIsIdempotent(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	rng := passutil.NewRand()

	x1, y1, xk1, yk1 := ensureGlobals(m, rng)
	x2, y2, xk2, yk2 := ensureGlobals(m, rng)

	assert.Same(t, x1, x2)
	assert.Same(t, y1, y2)
	assert.Equal(t, xk1, xk2)
	assert.Equal(t, yk1, yk2)
}

func TestBasicNeverEnhancesAtZeroProbability(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn, blocks := buildStraightLine(m)
	before := len(fn.Blocks)

	p := New()
	cfg := config.Default()
	cfg.BogusControlFlow.Enable = true
	cfg.BogusControlFlow.Probability = 0
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnFunction(fn, m, sink))

	assert.Len(t, fn.Blocks, before)
	_, ok := blocks["entry"].Terminator.(*ir.BranchInst)
	require.True(t, ok)
}

func TestPolarisRewritesTerminatorInPlace(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn, blocks := buildStraightLine(m)
	before := len(fn.Blocks)

	p := New()
	cfg := config.Default()
	cfg.BogusControlFlow.Enable = true
	cfg.BogusControlFlow.Algorithm = config.BogusPolarisPrimes
	cfg.BogusControlFlow.Probability = 100
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnFunction(fn, m, sink))

	// Polaris never inserts new blocks, only rewrites terminators in place.
	assert.Len(t, fn.Blocks, before)

	entryBr, ok := blocks["entry"].Terminator.(*ir.BranchInst)
	require.True(t, ok)
	assert.True(t, entryBr.IsConditional(), "entry's terminator should become a conditional branch on v0 vs v1")
}

func TestModinvIsTrueInverse(t *testing.T) {
	got := modinv(7, polarisModulus)
	product := (7 * got) % polarisModulus
	assert.Equal(t, int64(1), product)
}
