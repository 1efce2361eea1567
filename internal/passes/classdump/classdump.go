// Package classdump implements Objective-C anti-class-dump: instead of a
// single OBJC_LABEL_CLASS_$ aggregate naming every class's address in one
// place a static tool (classdump, class-dump-z, Hopper's ObjC pass) can
// read straight out of the binary, each class is registered by its own
// tiny module constructor, ordered so a subclass's constructor always
// runs after its superclass's. Grounded on original_source's
// src/aotu/anti_class_dump/mod.rs (itself a port of Hikari's
// AntiClassDump.cpp), reduced to this IR model's flat global/constant
// shapes: no direct LLVM value walk, just OBJC_LABEL_CLASS_$'s
// ConstAggregateArray of ConstGlobalAddress entries and each referenced
// class global's ConstStruct superclass-name field.
package classdump

import (
	"strings"

	"amice-go/internal/config"
	"amice-go/internal/diagnostics"
	"amice-go/internal/ir"
	"amice-go/internal/passregistry"
)

const (
	classListName   = "OBJC_LABEL_CLASS_$"
	classNamePrefix = "OBJC_CLASS_$_"
)

type Pass struct {
	cfg config.AntiClassDumpConfig
}

func New() *Pass { return &Pass{} }

func (p *Pass) Name() string              { return "anti_class_dump" }
func (p *Pass) Phase() passregistry.Phase { return passregistry.PhaseEarly }
func (p *Pass) Priority() int             { return 1500 }

func (p *Pass) Initialize(cfg config.Config, sink *diagnostics.Sink) error {
	p.cfg = cfg.AntiClassDump
	if !p.cfg.Enable {
		sink.Reportf(diagnostics.PassDisabled, p.Name(), "", "disabled by config")
	}
	return nil
}

// classInfo is one entry of the dependency graph built from
// OBJC_LABEL_CLASS_$ — do_handle's dependency/gv_mapping maps, collapsed
// into one struct per class.
type classInfo struct {
	name   string
	global *ir.GlobalValue
	super  string // "" for a root class
}

func (p *Pass) RunOnModule(m *ir.Module, sink *diagnostics.Sink) error {
	if !p.cfg.Enable {
		return nil
	}
	if !m.IsAppleTriple() {
		sink.Reportf(diagnostics.UnsupportedTarget, p.Name(), "", "target triple %q is not an Apple platform", m.TargetTriple)
		return nil
	}

	classlist := m.GlobalsByName[classListName]
	if classlist == nil {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "%s not found, nothing to hide", classListName)
		return nil
	}
	agg, ok := classlist.Initializer.(ir.ConstAggregateArray)
	if !ok {
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "%s is not a constant array, skipping", classListName)
		return nil
	}

	classes, byName, ok := p.collectClasses(m, agg, sink)
	if !ok {
		return nil
	}

	order, cyclic := dependencySort(classes, byName)
	if len(cyclic) > 0 {
		names := make([]string, len(cyclic))
		for i, c := range cyclic {
			names[i] = c.name
		}
		sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "",
			"could not resolve superclass order for %d class(es): %s; registering in declaration order",
			len(cyclic), strings.Join(names, ", "))
		order = append(order, cyclic...)
	}

	for i, c := range order {
		fn := p.buildLoadStub(m, c)
		m.AddFunction(fn)
		m.AddGlobalCtor(fn, i)
		hideGlobal(m, c.global, c.name)
	}

	m.EraseGlobal(classlist)
	removeFromCompilerUsed(m, classlist)
	return nil
}

// collectClasses walks agg's entries, resolving each ConstGlobalAddress to
// its OBJC_CLASS_$_ global and reading its superclass name out of field 0
// of its ConstStruct initializer (do_handle's per-operand loop).
func (p *Pass) collectClasses(m *ir.Module, agg ir.ConstAggregateArray, sink *diagnostics.Sink) ([]*classInfo, map[string]*classInfo, bool) {
	classes := make([]*classInfo, 0, len(agg.Elems))
	byName := make(map[string]*classInfo, len(agg.Elems))

	for _, elem := range agg.Elems {
		ref, ok := elem.(ir.ConstGlobalAddress)
		if !ok {
			sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "%s entry is not a global address, skipping", classListName)
			return nil, nil, false
		}
		g := m.GlobalsByName[ref.GlobalName]
		if g == nil {
			sink.Reportf(diagnostics.UnsupportedIR, p.Name(), "", "class global %q referenced but not defined", ref.GlobalName)
			return nil, nil, false
		}

		super := ""
		if cs, ok := g.Initializer.(ir.ConstStruct); ok && len(cs.Fields) > 0 {
			if arr, ok := cs.Fields[0].(ir.ConstArray); ok {
				super = string(arr.Bytes)
			}
		}

		info := &classInfo{name: strings.TrimPrefix(g.Name, classNamePrefix), global: g, super: super}
		classes = append(classes, info)
		byName[info.name] = info
	}
	return classes, byName, true
}

// dependencySort orders classes so every superclass precedes its
// subclasses, mirroring do_handle's ready_cls/tmp_cls work queue: a class
// whose super is empty or already placed moves to ready, everything else
// is requeued. Any class that never becomes ready (a cycle, or a super
// name outside this module) is returned separately and appended in its
// original order rather than silently dropped.
func dependencySort(classes []*classInfo, byName map[string]*classInfo) (order, stuck []*classInfo) {
	placed := make(map[string]bool, len(classes))
	queue := append([]*classInfo(nil), classes...)
	stall := 0

	for len(queue) > 0 && stall <= len(queue) {
		c := queue[0]
		queue = queue[1:]

		if c.super == "" || placed[c.super] || byName[c.super] == nil {
			order = append(order, c)
			placed[c.name] = true
			stall = 0
			continue
		}
		queue = append(queue, c)
		stall++
	}

	for _, c := range classes {
		if !placed[c.name] {
			stuck = append(stuck, c)
		}
	}
	return order, stuck
}

// buildLoadStub synthesizes the module constructor that stands in for the
// class's original static classlist entry — do_handle rewires class
// registration through a runtime hook at this same per-class granularity,
// one function per class, ordered by AddGlobalCtor priority rather than
// the original's load-command ordering.
func (p *Pass) buildLoadStub(m *ir.Module, c *classInfo) *ir.Function {
	fn := ir.NewFunction(".amice.objc_load."+c.name, nil, ir.VoidType{})
	fn.Linkage = ir.LinkageInternal
	b := ir.NewBuilder(m, fn, fn.Entry())
	b.Ret(nil)
	return fn
}

// hideGlobal renames g away from the recognizable OBJC_CLASS_$_ prefix and
// clears its section, so a tool scanning __objc_classlist/__objc_data by
// name or section no longer finds it directly.
func hideGlobal(m *ir.Module, g *ir.GlobalValue, name string) {
	delete(m.GlobalsByName, g.Name)
	g.Name = ".amice.objc_class." + name
	g.Section = ""
	m.GlobalsByName[g.Name] = g
}

func removeFromCompilerUsed(m *ir.Module, g *ir.GlobalValue) {
	out := m.CompilerUsed[:0]
	for _, cand := range m.CompilerUsed {
		if cand != g {
			out = append(out, cand)
		}
	}
	m.CompilerUsed = out
}

var _ passregistry.ModulePass = (*Pass)(nil)
