package irtext

import (
	"fmt"
	"strconv"
	"strings"

	"amice-go/internal/ir"
)

// Module is an alias kept local to this package's exported surface so
// callers read irtext.Build/Parse without an extra import line for the
// return type; it is exactly *ir.Module.
type Module = ir.Module

// builder threads the per-function symbol table (block labels -> blocks,
// local names -> values) while translating one FuncDecl.
type builder struct {
	m        *ir.Module
	fn       *ir.Function
	structs  map[string]*ir.StructType
	blocks   map[string]*ir.BasicBlock
	values   map[string]*ir.Value
	pending  []func() error // fixups that need every block to exist first (branches, phis)
}

// Build translates a parsed File into an ir.Module.
func Build(file *File) (*ir.Module, error) {
	m := ir.NewModule(unquote(file.ModuleName), unquote(file.Target))
	structs := make(map[string]*ir.StructType)

	for _, el := range file.Elements {
		if el.Struct != nil {
			st := &ir.StructType{Name: el.Struct.Name}
			structs[el.Struct.Name] = st
			m.Structs = append(m.Structs, st)
		}
	}
	for _, el := range file.Elements {
		if el.Struct != nil {
			st := structs[el.Struct.Name]
			for _, f := range el.Struct.Fields {
				st.Fields = append(st.Fields, resolveType(f, structs))
			}
		}
	}
	for _, el := range file.Elements {
		if el.Global != nil {
			g, err := buildGlobal(el.Global, structs)
			if err != nil {
				return nil, err
			}
			m.AddGlobal(g)
		}
	}
	for _, el := range file.Elements {
		if el.Func != nil {
			fn, err := buildFunction(m, el.Func, structs)
			if err != nil {
				return nil, fmt.Errorf("irtext: function %s: %w", el.Func.Name, err)
			}
			m.AddFunction(fn)
		}
	}
	return m, nil
}

func unquote(s string) string {
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return s
}

func resolveType(t *TypeRef, structs map[string]*ir.StructType) ir.Type {
	switch {
	case t.Array != nil:
		n, _ := strconv.Atoi(t.Array.Length)
		return ir.ArrayType{Elem: resolveType(t.Array.Elem, structs), Length: n}
	case t.Struct != "":
		name := strings.TrimPrefix(t.Struct, "%")
		if st, ok := structs[name]; ok {
			return st
		}
		return &ir.StructType{Name: name}
	default:
		return resolveNamedType(t.Name)
	}
}

func resolveNamedType(name string) ir.Type {
	switch name {
	case "void":
		return ir.VoidType{}
	case "ptr":
		return ir.PointerType{}
	default:
		if strings.HasPrefix(name, "i") {
			if bits, err := strconv.Atoi(name[1:]); err == nil {
				return ir.IntType{Bits: bits}
			}
		}
		return ir.IntType{Bits: 32}
	}
}

func buildGlobal(g *GlobalDecl, structs map[string]*ir.StructType) (*ir.GlobalValue, error) {
	gv := &ir.GlobalValue{
		Name:     strings.TrimPrefix(g.Name, "@"),
		Type:     resolveType(g.Type, structs),
		Constant: g.Kind == "constant",
		Linkage:  ir.LinkageExternal,
	}
	if g.Linkage == "internal" {
		gv.Linkage = ir.LinkageInternal
	} else if g.Linkage == "private" {
		gv.Linkage = ir.LinkagePrivate
	}
	if g.Init != nil {
		switch {
		case g.Init.CString != "":
			gv.Initializer = ir.ConstArray{Bytes: []byte(unquote(g.Init.CString))}
		case g.Init.Int != "":
			n, err := strconv.ParseInt(g.Init.Int, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("irtext: bad integer initializer %q: %w", g.Init.Int, err)
			}
			bits := ir.SizeOfBits(gv.Type)
			if bits == 0 {
				bits = 32
			}
			gv.Initializer = ir.ConstInt{Bits: bits, Value: n}
		}
	}
	return gv, nil
}

func buildFunction(m *ir.Module, f *FuncDecl, structs map[string]*ir.StructType) (*ir.Function, error) {
	fn := &ir.Function{
		Name:       strings.TrimPrefix(f.Name, "@"),
		ReturnType: resolveType(f.Ret, structs),
		ParamAttrs: make(map[int][]ir.Attribute),
		Linkage:    ir.LinkageExternal,
	}
	b := &builder{m: m, fn: fn, structs: structs, blocks: make(map[string]*ir.BasicBlock), values: make(map[string]*ir.Value)}

	for _, p := range f.Params {
		t := resolveType(p.Type, structs)
		v := ir.NewValue(m, strings.TrimPrefix(p.Name, "%"), t)
		param := &ir.Parameter{Name: v.Name, Type: t, Value: v}
		fn.Params = append(fn.Params, param)
		b.values[p.Name] = v
	}

	// First pass: create every block so forward branches resolve.
	for i, bd := range f.Blocks {
		bb := &ir.BasicBlock{Func: fn, Label: bd.Label}
		if i == 0 {
			// keep entry first, matching Function.Entry()'s "Blocks[0]" contract
		}
		fn.Blocks = append(fn.Blocks, bb)
		b.blocks[bd.Label] = bb
	}

	for i, bd := range f.Blocks {
		if err := b.buildBlock(fn.Blocks[i], bd); err != nil {
			return nil, err
		}
	}
	for _, fixup := range b.pending {
		if err := fixup(); err != nil {
			return nil, err
		}
	}
	return fn, nil
}

func (b *builder) buildBlock(bb *ir.BasicBlock, bd *BlockDecl) error {
	for _, line := range bd.Instrs {
		if err := b.buildInstr(bb, line); err != nil {
			return fmt.Errorf("block %s: %w", bd.Label, err)
		}
	}
	return nil
}

// operandValue resolves op to a Value, materializing a fresh ConstInst on
// bld's current block when op is an integer literal — LLVM textual IR
// writes immediates inline, but internal/ir requires every value to be an
// SSA def, so the literal becomes a tiny const instruction at first use.
func (b *builder) operandValue(bld *ir.Builder, op *Operand) (*ir.Value, error) {
	switch {
	case op.Local != "":
		v, ok := b.values[op.Local]
		if !ok {
			return nil, fmt.Errorf("undefined local %s", op.Local)
		}
		return v, nil
	case op.Global != "":
		name := strings.TrimPrefix(op.Global, "@")
		if g, ok := b.m.GlobalsByName[name]; ok {
			return &ir.Value{Name: g.Name, Type: ir.PointerType{Elem: g.Type}}, nil
		}
		if fn, ok := b.m.FunctionsByName[name]; ok {
			return &ir.Value{Name: fn.Name, Type: ir.PointerType{}}, nil
		}
		return nil, fmt.Errorf("undefined global %s", op.Global)
	case op.Int != "":
		n, err := strconv.ParseInt(op.Int, 0, 64)
		if err != nil {
			return nil, err
		}
		bits := 32
		if op.Type != nil {
			bits = ir.SizeOfBits(resolveType(op.Type, b.structs))
			if bits == 0 {
				bits = 32
			}
		}
		return bld.ConstI(bits, n), nil
	default:
		return nil, fmt.Errorf("unsupported operand %q", op.Sym)
	}
}

func (b *builder) blockRef(name string) (*ir.BasicBlock, error) {
	bb, ok := b.blocks[name]
	if !ok {
		return nil, fmt.Errorf("undefined block %s", name)
	}
	return bb, nil
}

func (b *builder) buildInstr(bb *ir.BasicBlock, line *InstrLine) error {
	bld := ir.NewBuilder(b.m, b.fn, bb)
	op := strings.ToLower(line.Op)

	switch op {
	case "add", "sub", "mul", "sdiv", "udiv", "srem", "urem", "and", "or", "xor", "shl", "lshr", "ashr":
		lhs, err := b.operandValue(bld, line.Operands[0])
		if err != nil {
			return err
		}
		rhs, err := b.operandValue(bld, line.Operands[1])
		if err != nil {
			return err
		}
		result := bld.Binary(opcodeFor(op), lhs, rhs)
		b.bind(line.Result, result)
	case "icmp":
		pred := icmpPredFor(line.Operands[0].Sym)
		lhs, err := b.operandValue(bld, line.Operands[1])
		if err != nil {
			return err
		}
		rhs, err := b.operandValue(bld, line.Operands[2])
		if err != nil {
			return err
		}
		result := bld.ICmp(pred, lhs, rhs)
		b.bind(line.Result, result)
	case "alloca":
		t := resolveType(line.Type, b.structs)
		result := bld.Alloca(t)
		b.bind(line.Result, result)
	case "load":
		t := resolveType(line.Type, b.structs)
		addr, err := b.operandValue(bld, line.Operands[len(line.Operands)-1])
		if err != nil {
			return err
		}
		result := bld.Load(addr, t)
		b.bind(line.Result, result)
	case "store":
		val, err := b.operandValue(bld, line.Operands[0])
		if err != nil {
			return err
		}
		addr, err := b.operandValue(bld, line.Operands[1])
		if err != nil {
			return err
		}
		bld.Store(val, addr)
	case "ret":
		if len(line.Operands) == 0 {
			bld.Ret(nil)
			return nil
		}
		v, err := b.operandValue(bld, line.Operands[0])
		if err != nil {
			return err
		}
		bld.Ret(v)
	case "br":
		if len(line.Operands) == 1 {
			target := operandLabel(line.Operands[0])
			b.pending = append(b.pending, func() error {
				dest, err := b.blockRef(target)
				if err != nil {
					return err
				}
				bld.SetBlock(bb)
				bld.Br(dest)
				return nil
			})
			return nil
		}
		cond, err := b.operandValue(bld, line.Operands[0])
		if err != nil {
			return err
		}
		trueName, falseName := operandLabel(line.Operands[1]), operandLabel(line.Operands[2])
		b.pending = append(b.pending, func() error {
			t, err := b.blockRef(trueName)
			if err != nil {
				return err
			}
			f, err := b.blockRef(falseName)
			if err != nil {
				return err
			}
			bld.SetBlock(bb)
			bld.CondBr(cond, t, f)
			return nil
		})
	case "unreachable":
		bld.Unreachable()
	case "call":
		name := strings.TrimPrefix(line.Operands[0].Global, "@")
		callee, ok := b.m.FunctionsByName[name]
		if !ok {
			return fmt.Errorf("call to undefined function %s", name)
		}
		var args []*ir.Value
		for _, operand := range line.Operands[1:] {
			v, err := b.operandValue(bld, operand)
			if err != nil {
				return err
			}
			args = append(args, v)
		}
		result := bld.Call(callee, args)
		b.bind(line.Result, result)
	case "select":
		cond, err := b.operandValue(bld, line.Operands[0])
		if err != nil {
			return err
		}
		trueVal, err := b.operandValue(bld, line.Operands[1])
		if err != nil {
			return err
		}
		falseVal, err := b.operandValue(bld, line.Operands[2])
		if err != nil {
			return err
		}
		result := bld.Select(cond, trueVal, falseVal)
		b.bind(line.Result, result)
	case "switch":
		cond, err := b.operandValue(bld, line.Operands[0])
		if err != nil {
			return err
		}
		defaultName := operandLabel(line.Operands[1])
		caseOperands := line.Operands[2:]
		b.pending = append(b.pending, func() error {
			def, err := b.blockRef(defaultName)
			if err != nil {
				return err
			}
			bld.SetBlock(bb)
			sw := bld.Switch(cond, def)
			for i := 0; i+1 < len(caseOperands); i += 2 {
				n, err := strconv.ParseInt(caseOperands[i].Int, 0, 64)
				if err != nil {
					return err
				}
				dest, err := b.blockRef(operandLabel(caseOperands[i+1]))
				if err != nil {
					return err
				}
				sw.AddCase(n, dest)
			}
			return nil
		})
	default:
		return fmt.Errorf("unsupported opcode %q", line.Op)
	}
	return nil
}

// operandLabel extracts a block-label name from an operand of the form
// "label %name" or bare "%name"/"name" — branch/switch targets parse into
// either Operand.Local (when written with a leading type keyword such as
// "label") or Operand.Sym (when written bare), depending on which
// alternative of the Operand grammar matched.
func operandLabel(op *Operand) string {
	if op.Local != "" {
		return strings.TrimPrefix(op.Local, "%")
	}
	return op.Sym
}

func (b *builder) bind(result string, v *ir.Value) {
	if v == nil || result == "" {
		return
	}
	v.Name = strings.TrimPrefix(result, "%")
	b.values[result] = v
}

func opcodeFor(op string) ir.Opcode {
	switch op {
	case "add":
		return ir.OpAdd
	case "sub":
		return ir.OpSub
	case "mul":
		return ir.OpMul
	case "sdiv":
		return ir.OpSDiv
	case "udiv":
		return ir.OpUDiv
	case "srem":
		return ir.OpSRem
	case "urem":
		return ir.OpURem
	case "and":
		return ir.OpAnd
	case "or":
		return ir.OpOr
	case "xor":
		return ir.OpXor
	case "shl":
		return ir.OpShl
	case "lshr":
		return ir.OpLShr
	case "ashr":
		return ir.OpAShr
	default:
		return ir.OpAdd
	}
}

func icmpPredFor(sym string) ir.ICmpPredicate {
	switch sym {
	case "eq":
		return ir.ICmpEQ
	case "ne":
		return ir.ICmpNE
	case "ugt":
		return ir.ICmpUGT
	case "uge":
		return ir.ICmpUGE
	case "ult":
		return ir.ICmpULT
	case "ule":
		return ir.ICmpULE
	case "sgt":
		return ir.ICmpSGT
	case "sge":
		return ir.ICmpSGE
	case "slt":
		return ir.ICmpSLT
	case "sle":
		return ir.ICmpSLE
	default:
		return ir.ICmpEQ
	}
}
