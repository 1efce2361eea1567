package ir

import (
	"fmt"
	"strings"
)

// Printer renders a Module as textual IR assembly, generalized from the
// teacher's indent/writeLine Printer for the Kanso IR into the `.air`
// format internal/irtext reads back in.
type Printer struct {
	indent int
	output strings.Builder
}

// NewPrinter creates a new Printer.
func NewPrinter() *Printer { return &Printer{} }

// Print renders m to its textual form.
func Print(m *Module) string {
	p := NewPrinter()
	p.printModule(m)
	return p.output.String()
}

func (p *Printer) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.output.WriteString("  ")
	}
}

func (p *Printer) writeLine(format string, args ...interface{}) {
	p.writeIndent()
	p.output.WriteString(fmt.Sprintf(format, args...))
	p.output.WriteString("\n")
}

func (p *Printer) printModule(m *Module) {
	p.writeLine("; module %q target %q", m.Name, m.TargetTriple)
	p.writeLine("")

	for _, s := range m.Structs {
		p.printStruct(s)
	}
	for _, g := range m.Globals {
		p.printGlobal(g)
	}
	if len(m.Globals) > 0 {
		p.writeLine("")
	}
	for _, fn := range m.Functions {
		p.printFunction(fn)
		p.writeLine("")
	}
}

func (p *Printer) printStruct(s *StructType) {
	fields := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = f.String()
	}
	p.writeLine("%%%s = type { %s }", s.Name, strings.Join(fields, ", "))
}

func (p *Printer) printGlobal(g *GlobalValue) {
	kw := "global"
	if g.Constant {
		kw = "constant"
	}
	init := ""
	if g.Initializer != nil {
		init = " " + g.Initializer.String()
	}
	p.writeLine("@%s = %s %s %s%s", g.Name, g.Linkage, g.Type, kw, init)
}

func (p *Printer) printFunction(fn *Function) {
	params := make([]string, len(fn.Params))
	for i, param := range fn.Params {
		params[i] = fmt.Sprintf("%s %%%s", param.Type, param.Name)
	}
	attrs := ""
	if len(fn.FuncAttrs) > 0 {
		parts := make([]string, len(fn.FuncAttrs))
		for i, a := range fn.FuncAttrs {
			parts[i] = a.String()
		}
		attrs = " " + strings.Join(parts, " ")
	}
	p.writeLine("define %s %s @%s(%s)%s {", fn.Linkage, fn.ReturnType, fn.Name, strings.Join(params, ", "), attrs)
	p.indent++
	for _, bb := range fn.Blocks {
		p.printBlock(bb)
	}
	p.indent--
	p.writeLine("}")
}

func (p *Printer) printBlock(bb *BasicBlock) {
	p.indent--
	p.writeLine("%s:", bb.Label)
	p.indent++
	for _, inst := range bb.Instructions {
		p.writeLine("%s", inst.String())
	}
	if bb.Terminator != nil {
		p.writeLine("%s", bb.Terminator.String())
	}
}
