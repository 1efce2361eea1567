package indirectbranch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
)

// buildBranchyFunction builds a 3-block function: an entry that
// conditionally branches to "then" or "join", and "then" unconditionally
// branching to "join" — enough shape to exercise both the conditional and
// unconditional rewrite paths.
func buildBranchyFunction(m *ir.Module, name string) *ir.Function {
	fn := ir.NewFunction(name, []*ir.Parameter{{Name: "c", Type: ir.I1}}, ir.I32)
	m.AddFunction(fn)
	fn.Params[0].Value = ir.NewValue(m, "c", ir.I1)

	entry := fn.Entry()
	then := fn.AppendBlock("then")
	join := fn.AppendBlock("join")

	ir.NewBuilder(m, fn, entry).CondBr(fn.Params[0].Value, then, join)
	ir.NewBuilder(m, fn, then).Br(join)
	jb := ir.NewBuilder(m, fn, join)
	jb.Ret(jb.ConstI(32, 0))

	return fn
}

func runPass(t *testing.T, cfg config.Config, m *ir.Module, fns ...*ir.Function) *diagnostics.Sink {
	t.Helper()
	p := New()
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnModule(m, sink))
	for _, fn := range fns {
		require.NoError(t, p.RunOnFunction(fn, m, sink))
	}
	return sink
}

func basicConfig() config.Config {
	cfg := config.Default()
	cfg.IndirectBranch.Enable = true
	cfg.IndirectBranch.Flags = config.FlagBasic
	return cfg
}

func TestRunOnModuleBuildsGlobalTableFromNonEntryBlocks(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := buildBranchyFunction(m, "f")

	sink := runPass(t, basicConfig(), m, fn)
	assert.Empty(t, sink.Items())

	g, ok := m.GlobalsByName[globalTableName]
	require.True(t, ok)
	arrTy, ok := g.Type.(ir.ArrayType)
	require.True(t, ok)
	assert.Equal(t, 2, arrTy.Length, "then and join, excluding entry")
	assert.Contains(t, m.CompilerUsed, g)
}

func TestRunOnFunctionRewritesBranchesToIndirectBr(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := buildBranchyFunction(m, "f")

	sink := runPass(t, basicConfig(), m, fn)
	assert.Empty(t, sink.Items())

	entry := fn.Blocks[0]
	_, ok := entry.Terminator.(*ir.IndirectBrInst)
	require.True(t, ok, "conditional branch must become indirectbr")

	then := fn.Blocks[1]
	_, ok = then.Terminator.(*ir.IndirectBrInst)
	require.True(t, ok, "unconditional branch must become indirectbr")
}

func TestRunOnFunctionUnconditionalBranchUsesGlobalTableWhenTargetTabled(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := buildBranchyFunction(m, "f")

	runPass(t, basicConfig(), m, fn)

	then := fn.Blocks[1]
	ibr := then.Terminator.(*ir.IndirectBrInst)
	load, ok := ibr.Addr.DefInst.(*ir.LoadInst)
	require.True(t, ok)
	gep, ok := load.Addr.DefInst.(*ir.GEPInst)
	require.True(t, ok)
	assert.Equal(t, globalTableName, gep.Base.Name, "join is in the global table, so the unconditional branch must index it directly")
}

func TestRunOnFunctionDisabledLeavesBranchesAlone(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := buildBranchyFunction(m, "f")
	cfg := config.Default()

	sink := runPass(t, cfg, m, fn)
	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.PassDisabled, sink.Items()[0].Kind)

	entry := fn.Blocks[0]
	_, ok := entry.Terminator.(*ir.BranchInst)
	assert.True(t, ok, "disabled pass must not touch branches")
}

func TestRunOnFunctionWithDummyBlockChainsThroughExtraBlocks(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := buildBranchyFunction(m, "f")
	cfg := basicConfig()
	cfg.IndirectBranch.Flags |= config.FlagDummyBlock

	before := len(fn.Blocks)
	sink := runPass(t, cfg, m, fn)
	assert.Empty(t, sink.Items())

	assert.Greater(t, len(fn.Blocks), before, "dummy-block chaining must append at least the goal block")
	entry := fn.Blocks[0]
	ibr, ok := entry.Terminator.(*ir.IndirectBrInst)
	require.True(t, ok)
	require.Len(t, ibr.Dests, 1, "the rewritten original site always jumps to exactly one chain entry point")
}

func TestBuildTableMarksGlobalInternalAndNonConstant(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := buildBranchyFunction(m, "f")
	p := New()
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(basicConfig(), sink))
	require.NoError(t, p.RunOnModule(m, sink))
	_ = fn

	g := p.globalTable
	require.NotNil(t, g)
	assert.Equal(t, ir.LinkageInternal, g.Linkage)
	assert.False(t, g.Constant)
}
