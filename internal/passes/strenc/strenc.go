// Package strenc implements string-literal encryption: every eligible
// global string constant is XOR-masked at rest and decrypted back to
// plaintext at runtime, either once via a global constructor or lazily
// the first time each string is actually used. Grounded on
// original_source's string_encryption.rs do_handle plus its xor.rs and
// simd_xor.rs cipher variants.
package strenc

import (
	"crypto/rand"
	"unicode/utf8"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passes/passutil"
	"amice-go/internal/passregistry"
)

// Pass rewrites qualifying string globals to their encrypted form and wires
// in the decrypt call sites.
type Pass struct {
	enabled bool
	cfg     config.StringEncryptionConfig
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "string-encryption" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseEarly }
func (p *Pass) Priority() int             { return 50 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.StringEncryption
	p.enabled = p.cfg.Enable
	if p.cfg.StackAlloc && p.cfg.DecryptTiming == config.TimingGlobal {
		sink.Reportf(diagnostics.ConfigParseError, p.Name(), "", "stack_alloc is incompatible with global decrypt timing, forcing lazy")
		p.cfg.DecryptTiming = config.TimingLazy
	}
	if !p.enabled {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

type target struct {
	global *ir.GlobalValue
	wrap   *ir.ConstStruct // non-nil when the array sits inside a one-field struct
	plain  []byte
}

// RunOnModule is the pass's only entry point: string encryption operates
// over the whole module's global table, not per function.
func (p *Pass) RunOnModule(m *ir.Module, sink *diagnostics.Sink) error {
	if !p.enabled {
		return nil
	}

	var targets []target
	for _, g := range m.Globals {
		if g.Linkage == ir.LinkageExternal {
			continue
		}
		if g.Section == "llvm.metadata" {
			continue
		}
		if p.cfg.OnlyLLVMString && !isLLVMStringName(g.Name) {
			continue
		}
		arr, wrap, ok := extractArray(g)
		if !ok {
			continue
		}
		// is_const_string must be checked before treating the bytes as text:
		// a non-UTF-8 byte array is not a string literal and is left alone.
		if !utf8.Valid(arr.Bytes) {
			sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "global %s: initializer is not a valid UTF-8 string, skipped", g.Name)
			continue
		}
		targets = append(targets, target{global: g, wrap: wrap, plain: append([]byte(nil), arr.Bytes...)})
	}
	if len(targets) == 0 {
		return nil
	}

	var simdKey *ir.GlobalValue
	var keyBytes [32]byte
	if p.cfg.Algorithm == config.AlgorithmSimdXor {
		if _, err := rand.Read(keyBytes[:]); err != nil {
			sink.Reportf(diagnostics.TranslationFailure, p.Name(), "", "failed to generate simd_xor key, falling back to fixed xor: %v", err)
		} else {
			simdKey = &ir.GlobalValue{
				Name:        ".amice.strenc.key",
				Type:        ir.ArrayType{Elem: ir.I8, Length: 32},
				Linkage:     ir.LinkageInternal,
				Constant:    true,
				Initializer: ir.ConstArray{Bytes: append([]byte(nil), keyBytes[:]...)},
			}
			m.AddGlobal(simdKey)
		}
	}

	needsFlag := p.cfg.DecryptTiming == config.TimingLazy && !p.cfg.StackAlloc
	lengths := map[*ir.GlobalValue]int{}
	flags := map[*ir.GlobalValue]*ir.GlobalValue{}
	var encrypted []*ir.GlobalValue

	for _, t := range targets {
		cipher := make([]byte, len(t.plain))
		for i, c := range t.plain {
			cipher[i] = c ^ keyByte(i, p.cfg.Algorithm, simdKey, keyBytes)
		}
		if t.wrap != nil {
			t.wrap.Fields[0] = ir.ConstArray{Bytes: cipher}
			t.global.Initializer = *t.wrap
		} else {
			t.global.Initializer = ir.ConstArray{Bytes: cipher}
		}
		if !p.cfg.StackAlloc {
			// The global must stay writable so the decrypt helper can mutate
			// it in place; stack-local mode never touches the global itself.
			t.global.Constant = false
		}
		lengths[t.global] = len(t.plain)
		encrypted = append(encrypted, t.global)

		if needsFlag {
			flag := &ir.GlobalValue{
				Name:        "dec_flag_" + t.global.Name,
				Type:        ir.I32,
				Linkage:     ir.LinkageInternal,
				Constant:    false,
				Initializer: ir.ConstInt{Bits: 32, Value: 0},
			}
			m.AddGlobal(flag)
			flags[t.global] = flag
		}
	}

	decryptFn := p.buildDecryptFn(m, simdKey, needsFlag)
	m.AddFunction(decryptFn)

	switch p.cfg.DecryptTiming {
	case config.TimingGlobal:
		stub := p.buildDecryptStub(m, decryptFn, encrypted, flags, lengths)
		m.AddFunction(stub)
		m.AddGlobalCtor(stub, 0)
	default: // lazy
		for _, g := range encrypted {
			p.insertLazyDecrypts(m, g, decryptFn, flags[g], lengths[g], sink)
		}
	}
	return nil
}

func isLLVMStringName(name string) bool {
	return len(name) >= 4 && name[:4] == ".str"
}

// extractArray unwraps g's initializer into the byte array it holds, either
// directly or as the sole field of a struct wrapper (the shape a Rust
// &str/String constant lowers to). ok is false for any other initializer
// shape, including nil (e.g. external declarations with no initializer).
func extractArray(g *ir.GlobalValue) (arr ir.ConstArray, wrap *ir.ConstStruct, ok bool) {
	switch init := g.Initializer.(type) {
	case ir.ConstArray:
		return init, nil, true
	case ir.ConstStruct:
		if len(init.Fields) == 1 {
			if inner, isArr := init.Fields[0].(ir.ConstArray); isArr {
				return inner, &init, true
			}
		}
	}
	return ir.ConstArray{}, nil, false
}

func keyByte(i int, algo config.StringAlgorithm, simdKey *ir.GlobalValue, keyBytes [32]byte) byte {
	if algo == config.AlgorithmSimdXor && simdKey != nil {
		return keyBytes[i%32]
	}
	return 0xAA
}

// buildDecryptFn synthesizes the single decrypt helper every encrypted
// string in the module calls into: an in-place "decrypt(ptr, length,
// flag_ptr)" void helper guarded by a once-only flag, or — when
// StackAlloc is set — a "decrypt(src, length, dst) -> ptr" helper that
// copies the plaintext into a caller-supplied buffer and NUL-terminates
// it, leaving the encrypted global untouched.
func (p *Pass) buildDecryptFn(m *ir.Module, simdKey *ir.GlobalValue, withFlag bool) *ir.Function {
	if p.cfg.StackAlloc {
		return p.buildStackLocalDecrypt(m, simdKey)
	}
	return p.buildInPlaceDecrypt(m, simdKey, withFlag)
}

// buildInPlaceDecrypt builds a void decrypt(ptr, length[, flag_ptr])
// helper. The flag_ptr parameter and its once-only guard are only present
// when withFlag is set: lazy timing needs idempotency because the same
// string may be decrypted from more than one call site, while global
// timing's constructor runs each string through exactly once and needs no
// guard.
func (p *Pass) buildInPlaceDecrypt(m *ir.Module, simdKey *ir.GlobalValue, withFlag bool) *ir.Function {
	ptrParam := &ir.Parameter{Name: "ptr", Type: ir.PointerType{Elem: ir.I8}}
	lenParam := &ir.Parameter{Name: "length", Type: ir.I32}
	params := []*ir.Parameter{ptrParam, lenParam}
	var flagParam *ir.Parameter
	if withFlag {
		flagParam = &ir.Parameter{Name: "flag_ptr", Type: ir.PointerType{Elem: ir.I32}}
		params = append(params, flagParam)
	}
	fn := ir.NewFunction(".amice.strenc.decrypt", params, ir.VoidType{})
	fn.Linkage = ir.LinkageInternal
	if !p.cfg.InlineDecryptFn {
		fn.FuncAttrs = append(fn.FuncAttrs, ir.AttrNoInline)
	}
	ptrParam.Value = ir.NewValue(m, ptrParam.Name, ptrParam.Type)
	lenParam.Value = ir.NewValue(m, lenParam.Name, lenParam.Type)
	if flagParam != nil {
		flagParam.Value = ir.NewValue(m, flagParam.Name, flagParam.Type)
	}

	entry := fn.Entry()
	loopCond := fn.AppendBlock("loop.cond")
	loopBody := fn.AppendBlock("loop.body")
	done := fn.AppendBlock("done")

	bld := ir.NewBuilder(m, fn, entry)
	idxSlot := bld.Alloca(ir.I32)
	bld.Store(bld.ConstI(32, 0), idxSlot)
	if flagParam != nil {
		flagVal := bld.Load(flagParam.Value, ir.I32)
		isZero := bld.ICmp(ir.ICmpEQ, flagVal, bld.ConstI(32, 0))
		bld.CondBr(isZero, loopCond, done)
	} else {
		bld.Br(loopCond)
	}

	bld.SetBlock(loopCond)
	iv := bld.Load(idxSlot, ir.I32)
	lt := bld.ICmp(ir.ICmpSLT, iv, lenParam.Value)
	bld.CondBr(lt, loopBody, done)

	bld.SetBlock(loopBody)
	iv2 := bld.Load(idxSlot, ir.I32)
	addr := bld.GEP(ptrParam.Value, ir.I8, []*ir.Value{iv2})
	byteVal := bld.Load(addr, ir.I8)
	kb := keyByteValue(bld, iv2, p.cfg.Algorithm, simdKey)
	xored := bld.Binary(ir.OpXor, byteVal, kb)
	bld.Store(xored, addr)
	next := bld.Binary(ir.OpAdd, iv2, bld.ConstI(32, 1))
	bld.Store(next, idxSlot)
	bld.Br(loopCond)

	bld.SetBlock(done)
	if flagParam != nil {
		bld.Store(bld.ConstI(32, 1), flagParam.Value)
	}
	bld.Ret(nil)

	return fn
}

func (p *Pass) buildStackLocalDecrypt(m *ir.Module, simdKey *ir.GlobalValue) *ir.Function {
	srcParam := &ir.Parameter{Name: "src", Type: ir.PointerType{Elem: ir.I8}}
	lenParam := &ir.Parameter{Name: "length", Type: ir.I32}
	dstParam := &ir.Parameter{Name: "dst", Type: ir.PointerType{Elem: ir.I8}}
	fn := ir.NewFunction(".amice.strenc.decrypt", []*ir.Parameter{srcParam, lenParam, dstParam}, ir.PointerType{Elem: ir.I8})
	fn.Linkage = ir.LinkageInternal
	if !p.cfg.InlineDecryptFn {
		fn.FuncAttrs = append(fn.FuncAttrs, ir.AttrNoInline)
	}
	srcParam.Value = ir.NewValue(m, srcParam.Name, srcParam.Type)
	lenParam.Value = ir.NewValue(m, lenParam.Name, lenParam.Type)
	dstParam.Value = ir.NewValue(m, dstParam.Name, dstParam.Type)

	entry := fn.Entry()
	loopCond := fn.AppendBlock("loop.cond")
	loopBody := fn.AppendBlock("loop.body")
	done := fn.AppendBlock("done")

	bld := ir.NewBuilder(m, fn, entry)
	idxSlot := bld.Alloca(ir.I32)
	bld.Store(bld.ConstI(32, 0), idxSlot)
	bld.Br(loopCond)

	bld.SetBlock(loopCond)
	iv := bld.Load(idxSlot, ir.I32)
	lt := bld.ICmp(ir.ICmpSLT, iv, lenParam.Value)
	bld.CondBr(lt, loopBody, done)

	bld.SetBlock(loopBody)
	iv2 := bld.Load(idxSlot, ir.I32)
	srcAddr := bld.GEP(srcParam.Value, ir.I8, []*ir.Value{iv2})
	dstAddr := bld.GEP(dstParam.Value, ir.I8, []*ir.Value{iv2})
	byteVal := bld.Load(srcAddr, ir.I8)
	kb := keyByteValue(bld, iv2, p.cfg.Algorithm, simdKey)
	xored := bld.Binary(ir.OpXor, byteVal, kb)
	bld.Store(xored, dstAddr)
	next := bld.Binary(ir.OpAdd, iv2, bld.ConstI(32, 1))
	bld.Store(next, idxSlot)
	bld.Br(loopCond)

	bld.SetBlock(done)
	termAddr := bld.GEP(dstParam.Value, ir.I8, []*ir.Value{lenParam.Value})
	bld.Store(bld.ConstI(8, 0), termAddr)
	bld.Ret(dstParam.Value)
	return fn
}

func keyByteValue(bld *ir.Builder, idx *ir.Value, algo config.StringAlgorithm, simdKey *ir.GlobalValue) *ir.Value {
	if algo != config.AlgorithmSimdXor || simdKey == nil {
		return bld.ConstI(8, 0xAA)
	}
	mod := bld.Binary(ir.OpURem, idx, bld.ConstI(32, 32))
	addr := bld.GEP(passutil.GlobalRef(simdKey), ir.I8, []*ir.Value{mod})
	return bld.Load(addr, ir.I8)
}

// buildDecryptStub builds the module constructor used for global decrypt
// timing: it calls the shared decrypt helper once per encrypted global,
// unconditionally, before main runs.
func (p *Pass) buildDecryptStub(m *ir.Module, decryptFn *ir.Function, encrypted []*ir.GlobalValue, flags map[*ir.GlobalValue]*ir.GlobalValue, lengths map[*ir.GlobalValue]int) *ir.Function {
	fn := ir.NewFunction(".amice.strenc.decrypt_stub", nil, ir.VoidType{})
	fn.Linkage = ir.LinkageInternal
	bld := ir.NewBuilder(m, fn, fn.Entry())
	for _, g := range encrypted {
		lenVal := bld.ConstI(32, int64(lengths[g]))
		args := []*ir.Value{passutil.GlobalRef(g), lenVal}
		if flag, ok := flags[g]; ok {
			args = append(args, passutil.GlobalRef(flag))
		}
		bld.Call(decryptFn, args)
	}
	bld.Ret(nil)
	return fn
}

// insertLazyDecrypts finds every use of g across the module and splices a
// decrypt call in immediately before each using instruction.
func (p *Pass) insertLazyDecrypts(m *ir.Module, g *ir.GlobalValue, decryptFn *ir.Function, flag *ir.GlobalValue, length int, sink *diagnostics.Sink) {
	total := 0
	for _, fn := range m.Functions {
		if fn == decryptFn {
			continue
		}
		uses := passutil.FindValueUses(fn, g.Name)
		total += len(uses)
		for _, use := range uses {
			lenVal := passutil.PrependConst(fn, m, 32, int64(length))
			var args []*ir.Value
			var dst *ir.Value
			if p.cfg.StackAlloc {
				dst = prependAlloca(fn, m, length)
				args = []*ir.Value{use.Value, lenVal, dst}
			} else {
				args = []*ir.Value{use.Value, lenVal}
				if flag != nil {
					args = append(args, passutil.GlobalRef(flag))
				}
			}
			result := passutil.InsertCallBefore(fn, m, use.Block, use.Inst, decryptFn, args)
			if p.cfg.StackAlloc && result != nil {
				ir.ReplaceAllUsesWith(use.Value, result)
			}
		}
	}
	if total == 0 {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "global %s has no discoverable use site, left encrypted with no decrypt call wired in", g.Name)
	}
}

// prependAlloca reserves length+1 bytes (room for a NUL terminator) on the
// stack of fn's entry block.
func prependAlloca(fn *ir.Function, m *ir.Module, length int) *ir.Value {
	entry := fn.Entry()
	sizeConst := passutil.PrependConst(fn, m, 32, int64(length+1))
	result := ir.NewValue(m, "", ir.PointerType{Elem: ir.I8})
	inst := ir.NewAllocaInst(fn, ir.I8, result)
	inst.ArraySize = sizeConst
	inst.SetBlock(entry)
	result.DefBlock, result.DefInst = entry, inst
	entry.Instructions = append([]ir.Instruction{inst}, entry.Instructions...)
	return result
}

var _ passregistry.ModulePass = (*Pass)(nil)
