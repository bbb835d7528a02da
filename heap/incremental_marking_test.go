package heap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
)

func TestIncrementalMarking_StartsAtAllocationLimit(t *testing.T) {
	h := newTestHeap(t, func(c *heap.Config) { c.OldGenerationAllocationLimit = 1 })
	require.False(t, h.IsMarking(), "the old generation was empty when the first LAB was taken")

	h.FreeLinearAllocationAreas()
	obj, err := h.Factory().NewFixedArray(4, heap.Old)
	require.NoError(t, err)

	assert.True(t, h.IsMarking())
	assert.True(t, h.BlackAllocation())
	assert.True(t, h.Marking().IsMarked(obj), "old objects are allocated black while marking")

	young, err := h.Factory().NewFixedArray(4, heap.Young)
	require.NoError(t, err)
	assert.False(t, h.Marking().IsMarked(young), "young objects are never black")
}

func TestIncrementalMarking_DisabledLimit(t *testing.T) {
	h := newTestHeap(t, func(c *heap.Config) { c.OldGenerationAllocationLimit = 0 })
	h.FreeLinearAllocationAreas()
	_, err := h.Factory().NewFixedArray(4, heap.Old)
	require.NoError(t, err)
	assert.False(t, h.IsMarking())
}

func TestIncrementalMarking_LiveLABTurnsBlack(t *testing.T) {
	h := newTestHeap(t)
	f := h.Factory()
	before, err := f.NewFixedArray(2, heap.Old)
	require.NoError(t, err)
	a := h.Allocator(heap.Old)
	require.True(t, a.IsLabValid())

	h.StartIncrementalMarking()
	during, err := f.NewFixedArray(2, heap.Old)
	require.NoError(t, err)
	assert.False(t, h.Marking().IsMarked(before))
	assert.True(t, h.Marking().IsMarked(during))
	assert.True(t, h.Marking().AllMarked(a.Top(), a.Limit()))

	h.StopIncrementalMarking()
	assert.False(t, h.IsMarking())
	assert.True(t, h.Marking().IsMarked(during), "objects allocated while marking stay marked")
	assert.True(t, h.Marking().NoneMarked(a.Top(), a.Limit()))
}

func TestIncrementalMarking_LargeObjectsBlack(t *testing.T) {
	h := newTestHeap(t)
	h.StartIncrementalMarking()
	defer h.StopIncrementalMarking()

	obj, err := h.Factory().NewFixedArray(20000, heap.Old)
	require.NoError(t, err)
	assert.True(t, h.IsLargeObject(obj))
	assert.True(t, h.Marking().IsMarked(obj))
}

func TestStartIncrementalMarking_Idempotent(t *testing.T) {
	h := newTestHeap(t)
	h.StartIncrementalMarking()
	h.StartIncrementalMarking()
	assert.True(t, h.IsMarking())
	h.StopIncrementalMarking()
	h.StopIncrementalMarking()
	assert.False(t, h.IsMarking())
}
