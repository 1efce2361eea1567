package irtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const straightLineAdd = `module "t" target "x86_64-unknown-linux-gnu"
define i32 @add(i32 %a, i32 %b) {
entry:
  %sum = add i32 %a, i32 %b
  ret i32 %sum
}
`

func TestParseStraightLineFunction(t *testing.T) {
	m, err := Parse("t.air", straightLineAdd)
	require.NoError(t, err)
	require.Len(t, m.Functions, 1)

	fn := m.Functions[0]
	assert.Equal(t, "add", fn.Name)
	assert.Len(t, fn.Params, 2)
	require.Len(t, fn.Blocks, 1)
	assert.NotNil(t, fn.Blocks[0].Terminator)
}

const branchyAbs = `module "t" target "x86_64-unknown-linux-gnu"
define i32 @abs(i32 %x) {
entry:
  %c = icmp slt i32 %x, i32 0
  br i1 %c, label %neg, label %pos
neg:
  %z = sub i32 0, i32 %x
  ret i32 %z
pos:
  ret i32 %x
}
`

func TestParseBranchyFunction(t *testing.T) {
	m, err := Parse("t.air", branchyAbs)
	require.NoError(t, err)
	fn := m.Functions[0]
	require.Len(t, fn.Blocks, 3)
	assert.Equal(t, "entry", fn.Blocks[0].Label)
	assert.Len(t, fn.Blocks[0].Successors, 2)
}
