package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/spacetimedb-core/catalog"
	"github.com/clockworklabs/spacetimedb-core/committed"
	"github.com/clockworklabs/spacetimedb-core/internal/rowhash"
	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/page"
	"github.com/clockworklabs/spacetimedb-core/table"
)

func newTestCommitted(t *testing.T) *committed.State {
	t.Helper()
	blobs, err := page.NewBlobStore(rowhash.NewSeed(), 1<<20, 0)
	require.NoError(t, err)
	return committed.Open(blobs, rowhash.NewSeed())
}

func createUserTable(t *testing.T, ts *TxState, name string, unique bool) table.Id {
	t.Helper()
	id, err := ts.CreateTable(name, []layout.ColumnDef{
		{Name: "id", Tag: layout.TagU32},
		{Name: "label", Tag: layout.TagString},
	}, table.AccessPublic, false)
	require.NoError(t, err)
	if unique {
		require.NoError(t, ts.AddIndex(id, 100, []int{0}, true))
	}
	return id
}

func TestCreateTableIsVisibleWithinTheSameTransaction(t *testing.T) {
	require := require.New(t)
	cs := newTestCommitted(t)
	ts, err := Begin(cs)
	require.NoError(err)

	id := createUserTable(t, ts, "widgets", false)
	ptr, _, err := ts.Insert(id, layout.Product(layout.U32(1), layout.String("a")))
	require.NoError(err)

	count := 0
	ts.Iter(id, func(p page.RowPointer, row layout.AlgebraicValue) bool {
		require.Equal(ptr, p)
		count++
		return true
	})
	require.Equal(1, count)
}

func TestCreateTableSetsRequestedAccess(t *testing.T) {
	require := require.New(t)
	cs := newTestCommitted(t)
	ts, err := Begin(cs)
	require.NoError(err)

	id, err := ts.CreateTable("private_tbl", []layout.ColumnDef{{Name: "a", Tag: layout.TagU32}}, table.AccessPrivate, false)
	require.NoError(err)

	tbl, ok := cs.Table(id)
	require.True(ok)
	require.Equal(table.AccessPrivate, tbl.Access)
}

func TestInsertUniqueViolationAgainstCommittedIndex(t *testing.T) {
	require := require.New(t)
	cs := newTestCommitted(t)
	ts, err := Begin(cs)
	require.NoError(err)
	id := createUserTable(t, ts, "users", true)

	_, _, err = ts.Insert(id, layout.Product(layout.U32(1), layout.String("a")))
	require.NoError(err)

	_, _, err = ts.Insert(id, layout.Product(layout.U32(1), layout.String("b")))
	require.Error(err)
	var uc *table.UniqueConstraintViolation
	require.ErrorAs(err, &uc)
}

func TestDeleteThenReinsertSameRowCancelsDelete(t *testing.T) {
	require := require.New(t)
	cs := newTestCommitted(t)

	ts, err := Begin(cs)
	require.NoError(err)
	id := createUserTable(t, ts, "items", false)
	row := layout.Product(layout.U32(1), layout.String("a"))
	ptr, _, err := ts.Insert(id, row)
	require.NoError(err)
	data, err := ts.Commit(nil)
	require.NoError(err)
	require.Len(data.Inserts, 3) // st_table, st_column and the user table

	ts2, err := Begin(cs)
	require.NoError(err)
	// ptr from ts addressed its overlay; after commit the row lives at a
	// committed pointer, looked up here.
	ts2.Iter(id, func(p page.RowPointer, _ layout.AlgebraicValue) bool {
		ptr = p
		return false
	})
	require.True(ptr.IsCommitted())
	require.True(ts2.Delete(id, ptr))
	reinserted, _, err := ts2.Insert(id, row)
	require.NoError(err)
	require.Equal(ptr, reinserted, "re-inserting the deleted row must cancel the delete and hand back the original pointer")

	data2, err := ts2.Commit(nil)
	require.NoError(err)
	require.Empty(data2.Inserts)
	require.Empty(data2.Deletes)
}

func TestCommitMergesOverlayIntoCommittedState(t *testing.T) {
	require := require.New(t)
	cs := newTestCommitted(t)
	ts, err := Begin(cs)
	require.NoError(err)
	id := createUserTable(t, ts, "widgets", false)
	_, _, err = ts.Insert(id, layout.Product(layout.U32(1), layout.String("a")))
	require.NoError(err)

	data, err := ts.Commit(nil)
	require.NoError(err)
	require.NotEmpty(data.Inserts)

	n, err := committedRowCount(cs, id)
	require.NoError(err)
	require.Equal(1, n)
}

func committedRowCount(cs *committed.State, id table.Id) (int, error) {
	var n int
	err := cs.WithTable(id, func(t *table.Table) error {
		n = t.RowCount()
		return nil
	})
	return n, err
}

func TestRollbackUndoesEagerTableCreation(t *testing.T) {
	require := require.New(t)
	cs := newTestCommitted(t)
	ts, err := Begin(cs)
	require.NoError(err)
	id := createUserTable(t, ts, "temp", false)
	require.True(cs.HasTable(id))

	ts.Rollback()
	require.False(cs.HasTable(id))
}

func TestRollbackUndoesAddIndex(t *testing.T) {
	require := require.New(t)
	cs := newTestCommitted(t)
	ts, err := Begin(cs)
	require.NoError(err)
	id := createUserTable(t, ts, "widgets", false)
	_, err = ts.Commit(nil)
	require.NoError(err)

	ts2, err := Begin(cs)
	require.NoError(err)
	require.NoError(ts2.AddIndex(id, 5, []int{0}, true))
	tbl, _ := cs.Table(id)
	_, hasIdx := tbl.Index(5)
	require.True(hasIdx)

	ts2.Rollback()
	tbl, _ = cs.Table(id)
	_, hasIdx = tbl.Index(5)
	require.False(hasIdx)
}

func TestRowCountReflectsOverlayAndDeletes(t *testing.T) {
	require := require.New(t)
	cs := newTestCommitted(t)
	ts, err := Begin(cs)
	require.NoError(err)
	id := createUserTable(t, ts, "widgets", false)
	ptr, _, err := ts.Insert(id, layout.Product(layout.U32(1), layout.String("a")))
	require.NoError(err)
	_, err = ts.Commit(nil)
	require.NoError(err)

	ts2, err := Begin(cs)
	require.NoError(err)
	// ptr from ts addressed its overlay; look up the committed pointer.
	ts2.Iter(id, func(p page.RowPointer, _ layout.AlgebraicValue) bool {
		ptr = p
		return false
	})
	_, _, err = ts2.Insert(id, layout.Product(layout.U32(2), layout.String("b")))
	require.NoError(err)
	require.True(ts2.Delete(id, ptr))

	n, err := ts2.RowCount(id)
	require.NoError(err)
	require.Equal(1, n)
}

func TestInsertAutoPopulatesSequenceBackedColumn(t *testing.T) {
	require := require.New(t)
	cs := newTestCommitted(t)
	ts, err := Begin(cs)
	require.NoError(err)

	id := createUserTable(t, ts, "widgets", false)
	require.NoError(ts.AddSequence(catalog.SequenceRow{
		SequenceId: 1, TableId: id, ColPos: 0, Start: 100, Increment: 1,
	}))

	_, row1, err := ts.Insert(id, layout.Product(layout.U32(0), layout.String("a")))
	require.NoError(err)
	require.Equal(uint64(100), row1.AsProduct()[0].AsUint())

	_, row2, err := ts.Insert(id, layout.Product(layout.U32(0), layout.String("b")))
	require.NoError(err)
	require.Equal(uint64(101), row2.AsProduct()[0].AsUint())
}

func TestRollbackUndoesRemoveIndexByRebuildingFromCurrentRows(t *testing.T) {
	require := require.New(t)
	cs := newTestCommitted(t)
	ts, err := Begin(cs)
	require.NoError(err)
	id := createUserTable(t, ts, "widgets", false)
	require.NoError(ts.AddIndex(id, 5, []int{0}, false))
	_, _, err = ts.Insert(id, layout.Product(layout.U32(1), layout.String("a")))
	require.NoError(err)
	_, err = ts.Commit(nil)
	require.NoError(err)

	ts2, err := Begin(cs)
	require.NoError(err)
	require.NoError(ts2.RemoveIndex(id, 5))
	tbl, _ := cs.Table(id)
	_, hasIdx := tbl.Index(5)
	require.False(hasIdx)

	ts2.Rollback()
	tbl, _ = cs.Table(id)
	def, hasIdx := tbl.Index(5)
	require.True(hasIdx)
	require.Equal(1, def.Index.Len(), "rebuilt index must reflect the row inserted before removal")
}

func TestRollbackUndoesAddSequence(t *testing.T) {
	require := require.New(t)
	cs := newTestCommitted(t)
	ts, err := Begin(cs)
	require.NoError(err)
	id := createUserTable(t, ts, "widgets", false)
	require.NoError(ts.AddSequence(catalog.SequenceRow{
		SequenceId: 1, TableId: id, ColPos: 0, Start: 100, Increment: 1,
	}))

	ts.Rollback()
	_, ok := cs.Sequences.Lookup(id, 0)
	require.False(ok)
}
