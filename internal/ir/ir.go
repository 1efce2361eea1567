// Package ir implements the in-process stand-in for the host compiler's
// intermediate representation: Module, Function, BasicBlock, Instruction,
// GlobalValue and Attribute, in SSA form. It plays the role LLVM's own
// Module/Function/Value classes play for the original amice plugin this
// project is modeled on, generalized from the teacher's EVM-flavored IR
// package into the opcode set an LLVM-style obfuscation pipeline needs
// (data model in spec.md §3).
//
// Every obfuscation pass in internal/passes/... operates exclusively
// through this package; no pass reaches into another pass's private state.
package ir

// NewModule creates an empty module with the given name and target triple,
// ready for a pass pipeline or a test to populate.
func NewModule(name, targetTriple string) *Module {
	return &Module{
		Name:            name,
		TargetTriple:    targetTriple,
		FunctionsByName: make(map[string]*Function),
		GlobalsByName:   make(map[string]*GlobalValue),
	}
}
