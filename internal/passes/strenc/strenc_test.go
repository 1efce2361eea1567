package strenc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
)

// buildModuleWithString builds a module containing one private string
// global and a function that passes its address to an external puts-style
// function, the shape string encryption is meant to rewrite.
func buildModuleWithString(m *ir.Module) (*ir.Function, *ir.GlobalValue) {
	g := &ir.GlobalValue{
		Name:        ".str.hello",
		Type:        ir.ArrayType{Elem: ir.I8, Length: 6},
		Linkage:     ir.LinkagePrivate,
		Constant:    true,
		Initializer: ir.ConstArray{Bytes: []byte("hello\x00")},
	}
	m.AddGlobal(g)

	puts := ir.NewFunction("puts", []*ir.Parameter{{Name: "s", Type: ir.PointerType{Elem: ir.I8}}}, ir.I32)
	puts.Linkage = ir.LinkageExternal
	puts.Blocks = nil
	m.AddFunction(puts)

	user := ir.NewFunction("user", nil, ir.VoidType{})
	m.AddFunction(user)
	entry := user.Entry()

	ref := &ir.Value{Name: g.Name, Type: ir.PointerType{Elem: g.Type}}
	result := ir.NewValue(m, "", ir.I32)
	call := ir.NewCallInst(user, puts, []*ir.Value{ref}, result)
	call.SetBlock(entry)
	result.DefBlock, result.DefInst = entry, call
	entry.Append(call)
	entry.SetTerminator(ir.NewReturnInst(user, nil))

	return user, g
}

func TestXorEncryptsGlobalAndInsertsLazyDecrypt(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	user, g := buildModuleWithString(m)

	p := New()
	cfg := config.Default()
	cfg.StringEncryption.Enable = true
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnModule(m, sink))

	arr, ok := g.Initializer.(ir.ConstArray)
	require.True(t, ok)
	plain := []byte("hello\x00")
	require.Len(t, arr.Bytes, len(plain))
	for i, b := range arr.Bytes {
		assert.Equal(t, plain[i]^0xAA, b)
	}
	assert.False(t, g.Constant)

	_, hasFlag := m.GlobalsByName["dec_flag_"+g.Name]
	assert.True(t, hasFlag, "expected a decrypt flag global for lazy timing")

	decryptFn, ok := m.FunctionsByName[".amice.strenc.decrypt"]
	require.True(t, ok)

	foundDecryptCall := false
	for _, inst := range user.Entry().Instructions {
		if call, ok := inst.(*ir.CallInst); ok && call.Callee == decryptFn {
			foundDecryptCall = true
		}
	}
	assert.True(t, foundDecryptCall, "expected a decrypt call spliced into the using function")
}

func TestDisabledPassLeavesGlobalUntouched(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	_, g := buildModuleWithString(m)

	p := New()
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(config.Default(), sink))
	require.NoError(t, p.RunOnModule(m, sink))

	arr, ok := g.Initializer.(ir.ConstArray)
	require.True(t, ok)
	assert.Equal(t, []byte("hello\x00"), arr.Bytes)
	assert.True(t, g.Constant)
}

func TestGlobalTimingRegistersConstructor(t *testing.T) {
	m := ir.NewModule("t", "x86_64-unknown-linux-gnu")
	buildModuleWithString(m)

	p := New()
	cfg := config.Default()
	cfg.StringEncryption.Enable = true
	cfg.StringEncryption.DecryptTiming = config.TimingGlobal
	sink := diagnostics.NewSink()
	require.NoError(t, p.Initialize(cfg, sink))
	require.NoError(t, p.RunOnModule(m, sink))

	require.Len(t, m.GlobalCtors, 1)
	assert.Equal(t, 0, m.GlobalCtors[0].Priority)
	assert.Equal(t, ".amice.strenc.decrypt_stub", m.GlobalCtors[0].Fn.Name)
}
