package arenaalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateWithinBlock(t *testing.T) {
	a := New()
	s1 := a.Allocate(16)
	s2 := a.Allocate(16)
	assert.Len(t, s1, 16)
	assert.Len(t, s2, 16)
	assert.EqualValues(t, 32, a.MemoryUsage())
}

func TestAllocateOversizeGetsDedicatedBlock(t *testing.T) {
	a := New()
	small := a.Allocate(8)
	big := a.Allocate(BlockSize) // > oversizeThreshold
	assert.Len(t, small, 8)
	assert.Len(t, big, BlockSize)
	// The oversize allocation must not have carved into the shared block.
	copy(big, []byte{0xff})
	assert.NotEqual(t, byte(0xff), small[0])
}

func TestAllocateAlignedStartsFreshBlockOnOverflow(t *testing.T) {
	a := New()
	first := a.Allocate(BlockSize - 4)
	second := a.AllocateAligned(16)
	assert.Len(t, first, BlockSize-4)
	assert.Len(t, second, 16)
}

func TestMemoryUsageAccumulates(t *testing.T) {
	a := New()
	for i := 0; i < 10; i++ {
		a.Allocate(100)
	}
	assert.EqualValues(t, 1000, a.MemoryUsage())
}
