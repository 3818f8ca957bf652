package committed

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/spacetimedb-core/table"
)

func TestSequenceAllocatorNextIncrementsFromStart(t *testing.T) {
	require := require.New(t)
	a := NewSequenceAllocator()
	a.Add(1, 100, 0, 100, 1)

	v1, ok := a.Next(1)
	require.True(ok)
	require.Equal(int64(100), v1, "first value handed out must be exactly start")

	v2, ok := a.Next(1)
	require.True(ok)
	require.Equal(int64(101), v2)
}

func TestSequenceAllocatorNextOnUnknownIdFails(t *testing.T) {
	require := require.New(t)
	a := NewSequenceAllocator()
	_, ok := a.Next(99)
	require.False(ok)
}

func TestSequenceAllocatorRemoveThenRestorePreservesHighWaterMark(t *testing.T) {
	require := require.New(t)
	a := NewSequenceAllocator()
	a.Add(1, 100, 0, 0, 1)
	a.Next(1) // 0
	a.Next(1) // 1

	tableId, colPos, start, inc, allocated, ok := a.Remove(1)
	require.True(ok)
	require.Equal(table.Id(100), tableId)
	require.Equal(uint16(0), colPos)
	require.Equal(int64(1), allocated)

	_, ok = a.Next(1)
	require.False(ok, "removed sequence must not still allocate")

	a.Restore(1, tableId, colPos, start, inc, allocated)
	v, ok := a.Next(1)
	require.True(ok)
	require.Equal(int64(2), v)
}

func TestSequenceAllocatorCrossesBlockBoundariesWithoutGapsOrDuplicates(t *testing.T) {
	require := require.New(t)
	a := NewSequenceAllocator()
	a.Add(1, 100, 0, 0, 1)

	for i := int64(0); i < int64(defaultBlockSize)*3; i++ {
		v, ok := a.Next(1)
		require.True(ok)
		require.Equal(i, v, "values must stay strictly consecutive across internal block reservations")
	}
}

func TestSequenceAllocatorLookupFindsRegisteredColumn(t *testing.T) {
	require := require.New(t)
	a := NewSequenceAllocator()
	a.Add(7, 100, 2, 0, 1)

	id, ok := a.Lookup(100, 2)
	require.True(ok)
	require.Equal(uint32(7), id)

	_, ok = a.Lookup(100, 3)
	require.False(ok)
}

func TestSequenceAllocatorRemoveClearsColumnLookup(t *testing.T) {
	require := require.New(t)
	a := NewSequenceAllocator()
	a.Add(7, 100, 2, 0, 1)
	a.Remove(7)

	_, ok := a.Lookup(100, 2)
	require.False(ok)
}
