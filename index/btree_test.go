package index

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/page"
)

func TestUniqueIndexRejectsDuplicateKey(t *testing.T) {
	require := require.New(t)
	idx := New(1, true)

	require.True(idx.Insert(layout.U32(1), page.NewRowPointer(0, 0, page.SquashedCommitted)))
	rejected := idx.Insert(layout.U32(1), page.NewRowPointer(0, 8, page.SquashedCommitted))
	require.False(rejected, "duplicate key must be rejected, index state:\n%s", spew.Sdump(idx))
	require.Equal(1, idx.Len())
}

func TestNonUniqueIndexAllowsDuplicateKey(t *testing.T) {
	require := require.New(t)
	idx := New(1, false)

	a := page.NewRowPointer(0, 0, page.SquashedCommitted)
	b := page.NewRowPointer(0, 8, page.SquashedCommitted)
	require.True(idx.Insert(layout.U32(1), a))
	require.True(idx.Insert(layout.U32(1), b))
	require.Equal(2, idx.Len())
}

func TestDeleteIsIdempotent(t *testing.T) {
	require := require.New(t)
	idx := New(1, false)
	ptr := page.NewRowPointer(0, 0, page.SquashedCommitted)
	idx.Insert(layout.U32(1), ptr)

	require.True(idx.Delete(layout.U32(1), ptr))
	require.False(idx.Delete(layout.U32(1), ptr))
}

func TestSeekRangeOrdersAscending(t *testing.T) {
	require := require.New(t)
	idx := New(1, false)
	for _, v := range []uint32{5, 1, 3, 2, 4} {
		idx.Insert(layout.U32(v), page.NewRowPointer(uint64(v), 0, page.SquashedCommitted))
	}

	it := idx.Seek(Range{})
	var order []uint64
	for {
		ptr, ok := it.Next()
		if !ok {
			break
		}
		order = append(order, ptr.PageIndex())
	}
	require.Equal([]uint64{1, 2, 3, 4, 5}, order)
}

func TestSeekPointMatchesOnlyEqualKeys(t *testing.T) {
	require := require.New(t)
	idx := New(1, false)
	idx.Insert(layout.U32(1), page.NewRowPointer(1, 0, page.SquashedCommitted))
	idx.Insert(layout.U32(2), page.NewRowPointer(2, 0, page.SquashedCommitted))
	idx.Insert(layout.U32(2), page.NewRowPointer(3, 0, page.SquashedCommitted))

	it := idx.Seek(Point(layout.U32(2)))
	var got []uint64
	for {
		ptr, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, ptr.PageIndex())
	}
	require.ElementsMatch([]uint64{2, 3}, got)
}

func TestGetOnUniqueIndex(t *testing.T) {
	require := require.New(t)
	idx := New(1, true)
	ptr := page.NewRowPointer(9, 0, page.SquashedCommitted)
	idx.Insert(layout.U32(42), ptr)

	got, ok := idx.Get(layout.U32(42))
	require.True(ok)
	require.Equal(ptr, got)

	_, ok = idx.Get(layout.U32(99))
	require.False(ok)
}

func TestBuildFromRowsReplacesContents(t *testing.T) {
	require := require.New(t)
	idx := New(1, false)
	idx.Insert(layout.U32(1), page.NewRowPointer(1, 0, page.SquashedCommitted))

	idx.BuildFromRows(func(yield func(key layout.AlgebraicValue, ptr page.RowPointer)) {
		yield(layout.U32(2), page.NewRowPointer(2, 0, page.SquashedCommitted))
		yield(layout.U32(3), page.NewRowPointer(3, 0, page.SquashedCommitted))
	})

	require.Equal(2, idx.Len())
	require.False(idx.ContainsAny(layout.U32(1)))
	require.True(idx.ContainsAny(layout.U32(2)))
}
