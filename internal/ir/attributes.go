package ir

// Attribute is a closed enum of function/parameter/return attributes,
// generalized from the teacher's internal/types registry pattern
// (TypeRegistry/IsBuiltinType/classification-by-table) from Kanso source
// types to LLVM attribute kinds (spec.md §3, Attribute — closed sum type
// per §9's design note).
type Attribute int

const (
	AttrNoInline Attribute = iota
	AttrAlwaysInline
	AttrNoUnwind
	AttrNoReturn
	AttrReadNone
	AttrReadOnly
	AttrWriteOnly
	AttrArgMemOnly
	AttrNoRecurse
	AttrOptSize
	AttrOptNone
	AttrCold
	AttrHot
	AttrSanitizeAddress
	AttrSanitizeThread
	AttrSanitizeMemory
	AttrNoSanitizeCoverage
	AttrSSP
	AttrSSPStrong
	AttrSSPReq
	AttrUWTable
	AttrMustProgress
	AttrMinSize
	AttrNaked
	AttrConvergent
	AttrNonLazyBind
	AttrNoBuiltin
	AttrNoDuplicate
	AttrNoImplicitFloat
	AttrNoJumpTables
	AttrNoMerge
	AttrNoProfile
	AttrNoRedZone
	AttrNoUnwindTable
	AttrShadowCallStack
	AttrSpeculativeLoadHardening
	AttrStrictFP
	AttrWillReturn

	// parameter / return only
	AttrNoAlias
	AttrNoCapture
	AttrNoUndef
	AttrNonNull
	AttrReadNoneParam
	AttrReadOnlyParam
	AttrWriteOnlyParam
	AttrSExt
	AttrZExt
	AttrByVal
	AttrByRef
	AttrInAlloca
	AttrStructRet
	AttrImmArg
	AttrReturned
	AttrSwiftSelf
	AttrSwiftError
	AttrAlignment
	AttrDereferenceable
	AttrDereferenceableOrNull

	// amice-specific markers — recorded as ordinary attributes so the
	// verifier and printer need no special case, same as the original's
	// use of a string metadata kind for "already processed" markers.
	AttrAmiceStringEncrypted
	AttrAmiceFlattened
	AttrAmiceVMFlattened
	AttrAmiceCloned
	AttrAmiceWrapped
	AttrAmiceSplit
)

// AttrClass classifies where an Attribute may legally appear.
type AttrClass int

const (
	ClassFunction AttrClass = 1 << iota
	ClassParameter
	ClassReturn
)

// AttrInfo describes one Attribute: which positions it may appear at, and
// whether dropping it silently during a transform would change program
// semantics (as opposed to being a pure optimization hint safe to lose).
type AttrInfo struct {
	Name          string
	Class         AttrClass
	DangerousDrop bool
}

// attrTable is the classification registry every pass consults instead of
// switching on Attribute by hand, mirroring the teacher's TypeRegistry
// lookup-by-table style.
var attrTable = map[Attribute]AttrInfo{
	AttrNoInline:                 {"noinline", ClassFunction, false},
	AttrAlwaysInline:             {"alwaysinline", ClassFunction, false},
	AttrNoUnwind:                 {"nounwind", ClassFunction, true},
	AttrNoReturn:                 {"noreturn", ClassFunction, true},
	AttrReadNone:                 {"readnone", ClassFunction, false},
	AttrReadOnly:                 {"readonly", ClassFunction, false},
	AttrWriteOnly:                {"writeonly", ClassFunction, false},
	AttrArgMemOnly:               {"argmemonly", ClassFunction, false},
	AttrNoRecurse:                {"norecurse", ClassFunction, false},
	AttrOptSize:                  {"optsize", ClassFunction, false},
	AttrOptNone:                  {"optnone", ClassFunction, true},
	AttrCold:                     {"cold", ClassFunction, false},
	AttrHot:                      {"hot", ClassFunction, false},
	AttrSanitizeAddress:          {"sanitize_address", ClassFunction, true},
	AttrSanitizeThread:           {"sanitize_thread", ClassFunction, true},
	AttrSanitizeMemory:           {"sanitize_memory", ClassFunction, true},
	AttrNoSanitizeCoverage:       {"no_sanitize_coverage", ClassFunction, false},
	AttrSSP:                      {"ssp", ClassFunction, true},
	AttrSSPStrong:                {"sspstrong", ClassFunction, true},
	AttrSSPReq:                   {"sspreq", ClassFunction, true},
	AttrUWTable:                  {"uwtable", ClassFunction, true},
	AttrMustProgress:             {"mustprogress", ClassFunction, false},
	AttrMinSize:                  {"minsize", ClassFunction, false},
	AttrNaked:                    {"naked", ClassFunction, true},
	AttrConvergent:               {"convergent", ClassFunction, true},
	AttrNonLazyBind:              {"nonlazybind", ClassFunction, false},
	AttrNoBuiltin:                {"nobuiltin", ClassFunction, false},
	AttrNoDuplicate:              {"noduplicate", ClassFunction, true},
	AttrNoImplicitFloat:          {"noimplicitfloat", ClassFunction, false},
	AttrNoJumpTables:             {"no-jump-tables", ClassFunction, false},
	AttrNoMerge:                  {"nomerge", ClassFunction, false},
	AttrNoProfile:                {"noprofile", ClassFunction, false},
	AttrNoRedZone:                {"noredzone", ClassFunction, true},
	AttrNoUnwindTable:            {"nounwindtable", ClassFunction, true},
	AttrShadowCallStack:          {"shadowcallstack", ClassFunction, true},
	AttrSpeculativeLoadHardening: {"speculative_load_hardening", ClassFunction, true},
	AttrStrictFP:                 {"strictfp", ClassFunction, true},
	AttrWillReturn:               {"willreturn", ClassFunction, false},

	AttrNoAlias:               {"noalias", ClassParameter | ClassReturn, false},
	AttrNoCapture:             {"nocapture", ClassParameter, false},
	AttrNoUndef:               {"noundef", ClassParameter | ClassReturn, true},
	AttrNonNull:               {"nonnull", ClassParameter | ClassReturn, true},
	AttrReadNoneParam:         {"readnone", ClassParameter, false},
	AttrReadOnlyParam:         {"readonly", ClassParameter, false},
	AttrWriteOnlyParam:        {"writeonly", ClassParameter, false},
	AttrSExt:                  {"signext", ClassParameter | ClassReturn, true},
	AttrZExt:                  {"zeroext", ClassParameter | ClassReturn, true},
	AttrByVal:                 {"byval", ClassParameter, true},
	AttrByRef:                 {"byref", ClassParameter, true},
	AttrInAlloca:              {"inalloca", ClassParameter, true},
	AttrStructRet:             {"sret", ClassParameter, true},
	AttrImmArg:                {"immarg", ClassParameter, true},
	AttrReturned:              {"returned", ClassParameter, false},
	AttrSwiftSelf:             {"swiftself", ClassParameter, true},
	AttrSwiftError:            {"swifterror", ClassParameter, true},
	AttrAlignment:             {"align", ClassParameter | ClassReturn, true},
	AttrDereferenceable:       {"dereferenceable", ClassParameter | ClassReturn, false},
	AttrDereferenceableOrNull: {"dereferenceable_or_null", ClassParameter | ClassReturn, false},

	AttrAmiceStringEncrypted: {"amice.string_encrypted", ClassFunction, false},
	AttrAmiceFlattened:       {"amice.flattened", ClassFunction, false},
	AttrAmiceVMFlattened:     {"amice.vm_flattened", ClassFunction, false},
	AttrAmiceCloned:          {"amice.cloned", ClassFunction, false},
	AttrAmiceWrapped:         {"amice.wrapped", ClassFunction, false},
	AttrAmiceSplit:           {"amice.split", ClassFunction, false},
}

// Info looks up a's classification, panicking if a is not a recognized
// member of the closed enum — a programmer error, never a runtime one.
func (a Attribute) Info() AttrInfo {
	info, ok := attrTable[a]
	if !ok {
		panic("ir: unknown Attribute")
	}
	return info
}

func (a Attribute) String() string { return a.Info().Name }

// ValidAt reports whether a may appear at the given position class.
func (a Attribute) ValidAt(class AttrClass) bool {
	return a.Info().Class&class != 0
}

// IsDangerousToDrop reports whether silently discarding a during a
// transform (e.g. when cloning a function or rewriting its signature)
// would change observable behavior rather than just losing an
// optimization hint — passes that rebuild a function signature must
// carry these forward explicitly.
func (a Attribute) IsDangerousToDrop() bool { return a.Info().DangerousDrop }
