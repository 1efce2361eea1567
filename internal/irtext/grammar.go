package irtext

// File is the root of a parsed `.air` module, grounded on the teacher's
// grammar.Program top-level shape (a flat list of top-level elements) but
// rewritten for IR assembly text: module header, then a flat sequence of
// global/struct/function declarations.
type File struct {
	ModuleName string            `"module" @String`
	Target     string            `"target" @String`
	Elements   []*SourceElement `@@*`
}

// SourceElement is one top-level declaration.
type SourceElement struct {
	Global *GlobalDecl `  @@`
	Struct *StructDecl `| @@`
	Func   *FuncDecl   `| @@`
}

// TypeRef is a type reference: a named scalar/pointer type ("i32", "ptr",
// "void"), a named struct type ("%Point"), or an array type.
type TypeRef struct {
	Array  *ArrayTypeRef `  @@`
	Struct string        `| @Local`
	Name   string        `| @Ident`
}

// ArrayTypeRef is "[" length "x" elem "]".
type ArrayTypeRef struct {
	Length string   `"[" @Integer "x"`
	Elem   *TypeRef `@@ "]"`
}

// GlobalDecl declares a module-level global or constant. Linkage is
// restricted to the two literal keywords it can actually be so the parser
// never has to guess whether a bare identifier after "=" is a linkage
// qualifier or the "global"/"constant" kind keyword.
type GlobalDecl struct {
	Name    string     `@Global "="`
	Linkage string     `[ @("internal" | "private") ]`
	Kind    string     `@("global" | "constant")`
	Type    *TypeRef   `@@`
	Init    *ConstInit `[ @@ ] EOL`
}

// ConstInit is a global's initializer: a C-string literal or an integer.
type ConstInit struct {
	CString string `  "c" @String`
	Int     string `| @Integer`
}

// StructDecl declares a named aggregate type: %Name = type { field, ... }.
type StructDecl struct {
	Name   string     `@Local "=" "type" "{"`
	Fields []*TypeRef `[ @@ { "," @@ } ] "}" EOL`
}

// FuncDecl declares a function and its body.
type FuncDecl struct {
	Ret    *TypeRef     `"define" @@`
	Name   string       `@Global "("`
	Params []*ParamDecl `[ @@ { "," @@ } ] ")"`
	Attrs  []string     `@Ident* "{" EOL`
	Blocks []*BlockDecl `@@* "}" EOL`
}

// ParamDecl is one formal parameter: Type %name.
type ParamDecl struct {
	Type *TypeRef `@@`
	Name string   `@Local`
}

// BlockDecl is a labeled sequence of instructions.
type BlockDecl struct {
	Label  string       `@Ident ":" EOL`
	Instrs []*InstrLine `@@*`
}

// InstrLine is one instruction: an optional SSA result assignment, an
// opcode keyword, an optional result type, and a comma-separated operand
// list. The grammar stays deliberately generic here (rather than one rule
// per opcode) so the single rule covers every instruction kind; build.go
// interprets Op/Operands per opcode the way a hand-written LLVM-IR
// assembler would.
type InstrLine struct {
	Result   string      `[ @Local "=" ]`
	Op       string      `@Ident`
	Type     *TypeRef    `[ @@ ]`
	Operands []*Operand  `[ @@ { "," @@ } ] EOL`
}

// Operand is one operand of an instruction: an optional type prefix
// (as LLVM textual IR writes "i32 %x") followed by a local, global,
// integer, or bare symbol (a label name, a predicate keyword, etc).
type Operand struct {
	Type   *TypeRef `[ @@ ]`
	Local  string   `(  @Local`
	Global string   ` | @Global`
	Int    string   ` | @Integer`
	Sym    string   ` | @Ident )`
}
