// Package allpasses is the one place that imports every obfuscation pass
// package directly, so a driver only has to import allpasses instead of
// repeating the same fifteen-line import block everywhere a full pipeline
// is assembled (cmd/amice, the passregistry integration test).
package allpasses

import (
	"amice-go/internal/passes/aliasaccess"
	"amice-go/internal/passes/boguscf"
	"amice-go/internal/passes/classdump"
	"amice-go/internal/passes/clonefunction"
	"amice-go/internal/passes/delayoffset"
	"amice-go/internal/passes/flatten"
	"amice-go/internal/passes/flattendom"
	"amice-go/internal/passes/functionwrapper"
	"amice-go/internal/passes/indirectbranch"
	"amice-go/internal/passes/indirectcall"
	"amice-go/internal/passes/mba"
	"amice-go/internal/passes/paramaggregate"
	"amice-go/internal/passes/splitbb"
	"amice-go/internal/passes/strenc"
	"amice-go/internal/passes/vmflatten"
	"amice-go/internal/passregistry"
)

// Register adds one instance of every known pass to reg, in no
// particular order — Registry.Sorted resolves dispatch order from each
// pass's Phase/Priority at Run time, not registration order.
func Register(reg *passregistry.Registry) {
	reg.Register(strenc.New())
	reg.Register(splitbb.New())
	reg.Register(flatten.New())
	reg.Register(flattendom.New())
	reg.Register(boguscf.New())
	reg.Register(vmflatten.New())
	reg.Register(indirectbranch.New())
	reg.Register(indirectcall.New())
	reg.Register(aliasaccess.New())
	reg.Register(delayoffset.New())
	reg.Register(paramaggregate.New())
	reg.Register(clonefunction.New())
	reg.Register(mba.New())
	reg.Register(classdump.New())
	reg.Register(functionwrapper.New())
}
