package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/format"
)

func TestPageAllocator_SkipsNullPage(t *testing.T) {
	pa := NewPageAllocator(newTestMemory(t, 4))

	p, err := pa.AllocatePage(OldSpace)
	require.NoError(t, err)
	assert.Equal(t, Address(format.PageSize), p.Start())
	assert.Equal(t, OldSpace, p.Owner())
	assert.Nil(t, pa.PageOf(12))
	assert.Same(t, p, pa.PageOf(p.Start()+100))
	assert.Equal(t, 2, pa.FreePages())
}

func TestPageAllocator_LargePageSpansSlots(t *testing.T) {
	pa := NewPageAllocator(newTestMemory(t, 6))

	p, err := pa.AllocateLargePage(format.PageSize+8, NewLargeObjectSpace)
	require.NoError(t, err)
	assert.Equal(t, 2*format.PageSize, p.Size())
	assert.True(t, p.IsFlagSet(FlagLargePage))
	assert.Same(t, p, pa.PageOf(p.Start()+format.PageSize+4))
	assert.Equal(t, int64(2*format.PageSize), pa.CommittedBytes())
}

func TestPageAllocator_Exhaustion(t *testing.T) {
	pa := NewPageAllocator(newTestMemory(t, 2))

	_, err := pa.AllocatePage(NewSpace)
	require.NoError(t, err)
	_, err = pa.AllocatePage(NewSpace)
	require.ErrorIs(t, err, ErrArenaExhausted)
}

func TestPageAllocator_FreeRecyclesSlot(t *testing.T) {
	pa := NewPageAllocator(newTestMemory(t, 3))

	p, err := pa.AllocatePage(OldSpace)
	require.NoError(t, err)
	pa.Memory().Store(p.Start(), 42)
	pa.FreePage(p)

	assert.Nil(t, pa.PageOf(p.Start()))
	assert.Zero(t, pa.CommittedBytes())

	q, err := pa.AllocatePage(OldSpace)
	require.NoError(t, err)
	assert.Equal(t, p.Start(), q.Start())
	assert.Zero(t, pa.Memory().Load(q.Start()))
}

func TestPage_FlagsAndHighWaterMark(t *testing.T) {
	pa := NewPageAllocator(newTestMemory(t, 2))
	p, err := pa.AllocatePage(NewSpace)
	require.NoError(t, err)

	p.SetFlags(FlagFromPage | FlagBelowAgeMark)
	assert.True(t, p.IsFlagSet(FlagFromPage))
	p.ClearFlags(FlagFromPage)
	assert.False(t, p.IsFlagSet(FlagFromPage))
	assert.True(t, p.IsFlagSet(FlagBelowAgeMark))
	assert.True(t, p.InYoungGeneration())

	p.UpdateHighWaterMark(p.Start() + 64)
	p.UpdateHighWaterMark(p.Start() + 32)
	assert.Equal(t, p.Start()+64, p.HighWaterMark())
	p.UpdateHighWaterMark(p.End())
	assert.Equal(t, p.End(), p.HighWaterMark())
}
