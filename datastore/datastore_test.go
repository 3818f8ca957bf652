package datastore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/page"
	"github.com/clockworklabs/spacetimedb-core/table"
)

func TestInsertCommitAndReadBack(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	ds, err := Open(dir)
	require.NoError(err)

	tx, err := ds.BeginMutTx()
	require.NoError(err)

	id, err := tx.State().CreateTable("players", []layout.ColumnDef{
		{Name: "id", Tag: layout.TagU64},
		{Name: "name", Tag: layout.TagString},
	}, table.AccessPublic, false)
	require.NoError(err)

	row := layout.Product(layout.U64(1), layout.String("alice"))
	_, _, err = tx.State().Insert(id, row)
	require.NoError(err)

	require.NoError(tx.Commit(nil))

	got, ok := ds.committed.Table(id)
	require.True(ok)
	count := 0
	var seen layout.AlgebraicValue
	got.Iter(func(_ page.RowPointer, v layout.AlgebraicValue) bool {
		count++
		seen = v
		return true
	})
	require.Equal(1, count)
	require.True(seen.Equal(row))

	_, err = ds.Close()
	require.NoError(err)
}

func TestUniqueViolationRollsBack(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	ds, err := Open(dir)
	require.NoError(err)
	defer ds.Close()

	tx, err := ds.BeginMutTx()
	require.NoError(err)
	id, err := tx.State().CreateTable("users", []layout.ColumnDef{
		{Name: "id", Tag: layout.TagU64},
	}, table.AccessPublic, false)
	require.NoError(err)
	require.NoError(tx.State().AddIndex(id, 1, []int{0}, true))
	_, _, err = tx.State().Insert(id, layout.Product(layout.U64(1)))
	require.NoError(err)
	require.NoError(tx.Commit(nil))

	tx2, err := ds.BeginMutTx()
	require.NoError(err)
	_, _, err = tx2.State().Insert(id, layout.Product(layout.U64(1)))
	require.Error(err)
	tx2.Rollback()
}

func TestReopenReplaysCommitLog(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	ds, err := Open(dir)
	require.NoError(err)
	tx, err := ds.BeginMutTx()
	require.NoError(err)
	id, err := tx.State().CreateTable("events", []layout.ColumnDef{
		{Name: "id", Tag: layout.TagU64},
	}, table.AccessPublic, false)
	require.NoError(err)
	_, _, err = tx.State().Insert(id, layout.Product(layout.U64(7)))
	require.NoError(err)
	require.NoError(tx.Commit(nil))
	_, err = ds.Close()
	require.NoError(err)

	ds2, err := Open(dir)
	require.NoError(err)
	defer ds2.Close()
	_, ok := ds2.committed.Table(id)
	require.True(ok)
}
