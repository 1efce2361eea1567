package vmflatten

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
)

// buildAddFunction builds `define i32 @add2(i32 %p) { %s = alloca i32; store
// %p, %s; %l = load %s; %r = add %l, 7; ret %r }`, the single-block,
// all-supported-opcode shape this translator is built for.
func buildAddFunction(m *ir.Module) *ir.Function {
	fn := ir.NewFunction("add2", []*ir.Parameter{{Name: "p", Type: ir.I32}}, ir.I32)
	m.AddFunction(fn)
	fn.Params[0].Value = ir.NewValue(m, "p", ir.I32)

	entry := fn.Entry()
	b := ir.NewBuilder(m, fn, entry)
	slot := b.Alloca(ir.I32)
	b.Store(fn.Params[0].Value, slot)
	loaded := b.Load(slot, ir.I32)
	seven := b.ConstI(32, 7)
	sum := b.Binary(ir.OpAdd, loaded, seven)
	b.Ret(sum)
	return fn
}

func runPass(t *testing.T, fn *ir.Function, m *ir.Module) *diagnostics.Sink {
	t.Helper()
	p := New()
	cfg := config.Default()
	cfg.VMFlatten.Enable = true
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnFunction(fn, m, sink))
	return sink
}

func TestRunOnFunctionReplacesBodyWithRuntimeCalls(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := buildAddFunction(m)

	sink := runPass(t, fn, m)
	assert.Empty(t, sink.Items())

	require.Len(t, fn.Blocks, 1)
	entry := fn.Blocks[0]
	require.Len(t, entry.Instructions, 5, "new call, length const, execute/destroy calls, trunc to i32")

	newCall, ok := entry.Instructions[0].(*ir.CallInst)
	require.True(t, ok)
	assert.Equal(t, runtimeNewName, newCall.CalleeName)

	execCall, ok := entry.Instructions[2].(*ir.CallInst)
	require.True(t, ok)
	assert.Equal(t, runtimeExecuteName, execCall.CalleeName)
	require.Len(t, execCall.Args, 3)

	destroyCall, ok := entry.Instructions[3].(*ir.CallInst)
	require.True(t, ok)
	assert.Equal(t, runtimeDestroyName, destroyCall.CalleeName)

	_, ok = entry.Terminator.(*ir.ReturnInst)
	assert.True(t, ok)

	assert.True(t, fn.HasFuncAttr(ir.AttrAmiceVMFlattened))
	assert.NotEmpty(t, m.Globals)
	assert.Contains(t, m.FunctionsByName, runtimeNewName)
	assert.Contains(t, m.FunctionsByName, runtimeExecuteName)
	assert.Contains(t, m.FunctionsByName, runtimeDestroyName)
}

func TestRunOnFunctionRejectsMultiBlock(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := ir.NewFunction("two_blocks", nil, ir.I32)
	m.AddFunction(fn)
	entry := fn.Entry()
	b2 := fn.AppendBlock("b2")
	ir.NewBuilder(m, fn, entry).Br(b2)
	b2Bld := ir.NewBuilder(m, fn, b2)
	b2Bld.Ret(b2Bld.ConstI(32, 1))

	before := len(fn.Blocks)
	sink := runPass(t, fn, m)

	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.UnsupportedIR, sink.Items()[0].Kind)
	assert.Len(t, fn.Blocks, before, "rejected function must be left untouched")
}

func TestRunOnFunctionRejectsUnsupportedOpcode(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := ir.NewFunction("has_icmp", []*ir.Parameter{{Name: "p", Type: ir.I32}}, ir.I1)
	m.AddFunction(fn)
	fn.Params[0].Value = ir.NewValue(m, "p", ir.I32)
	entry := fn.Entry()
	b := ir.NewBuilder(m, fn, entry)
	cmp := b.ICmp(ir.ICmpEQ, fn.Params[0].Value, b.ConstI(32, 0))
	b.Ret(cmp)

	sink := runPass(t, fn, m)

	require.Len(t, sink.Items(), 1)
	assert.Equal(t, diagnostics.UnsupportedIR, sink.Items()[0].Kind)
	_, ok := entry.Terminator.(*ir.ReturnInst)
	require.True(t, ok)
	assert.Same(t, cmp.DefInst, entry.Instructions[len(entry.Instructions)-1])
}

func TestEncodeHeaderMatchesFormat(t *testing.T) {
	out := encode(nil)
	require.Len(t, out, 8)
	assert.Equal(t, bytecodeMagic, string(out[:4]))
	assert.Equal(t, bytecodeVersion, binary.LittleEndian.Uint32(out[4:8]))
}

func TestEncodeAddInstructionSequence(t *testing.T) {
	instrs := []instr{
		{op: opPush, val: vmpValue{kind: vtI32, value: 3}},
		{op: opPush, val: vmpValue{kind: vtI32, value: 4}},
		{op: opAdd},
		{op: opPopToReg, reg: 0},
	}
	out := encode(instrs)

	assert.Equal(t, int(instrSize(instrs[0])+instrSize(instrs[1])+instrSize(instrs[2])+instrSize(instrs[3])), len(out)-8)

	// First instruction: opcode(2) + kind-tag(1) + i32 payload(4).
	assert.Equal(t, uint16(opPush), binary.LittleEndian.Uint16(out[8:10]))
	assert.Equal(t, byte(vtI32), out[10])
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(out[11:15]))
}

func TestCollectLabelPositionsWithNoLabelsIsEmpty(t *testing.T) {
	instrs := []instr{
		{op: opPush, val: vmpValue{kind: vtI8, value: 1}},
		{op: opRet},
	}
	assert.Empty(t, collectLabelPositions(instrs))
}

func TestTranslateEmitsOneAddOneAllocaAndTrailingRet(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := buildAddFunction(m)

	tr := newTranslator(fn, m, config.VMFlattenConfig{}, nil)
	instrs := tr.translate()

	var callCount, addCount, allocaCount int
	for _, in := range instrs {
		switch in.op {
		case opAdd:
			addCount++
		case opAlloca:
			allocaCount++
		case opCall:
			callCount++
		}
	}
	assert.Equal(t, 1, addCount)
	assert.Equal(t, 1, allocaCount)
	assert.Equal(t, 0, callCount)
	assert.Equal(t, instrs[len(instrs)-1].op, opRet)
}

func TestAllocReg_RandomReuseHandsBackFreedRegister(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	fn := ir.NewFunction("f", nil, ir.VoidType{})
	m.AddFunction(fn)

	cfg := config.VMFlattenConfig{RandomRegisterReuse: true}
	tr := newTranslator(fn, m, cfg, passutil.NewRand())

	v1 := ir.NewValue(m, "v1", ir.I32)
	r1 := tr.allocReg(v1)
	assert.Equal(t, uint32(0), r1)

	// v1 has zero recorded uses, so the first noteUse call frees it.
	tr.noteUse(v1)
	assert.Contains(t, tr.freeRegs, r1)

	v2 := ir.NewValue(m, "v2", ir.I32)
	r2 := tr.allocReg(v2)
	assert.Equal(t, r1, r2, "freed register should be handed back instead of growing the register file")
}
