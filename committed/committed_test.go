package committed

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/spacetimedb-core/catalog"
	"github.com/clockworklabs/spacetimedb-core/internal/rowhash"
	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/page"
	"github.com/clockworklabs/spacetimedb-core/table"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	blobs, err := page.NewBlobStore(rowhash.NewSeed(), 1<<20, 0)
	require.NoError(t, err)
	return Open(blobs, rowhash.NewSeed())
}

func TestOpenInstallsSystemCatalogTables(t *testing.T) {
	require := require.New(t)
	s := newTestState(t)
	for id := range catalog.Schemas() {
		require.True(s.HasTable(id))
	}
	require.False(s.HasTable(catalog.FirstUserTableId))
}

func TestNextTableIdAllocatesAscending(t *testing.T) {
	require := require.New(t)
	s := newTestState(t)
	a := s.NextTableId()
	b := s.NextTableId()
	require.Equal(catalog.FirstUserTableId, a)
	require.Equal(a+1, b)
}

func TestObserveTableIdAdvancesAllocatorPastReplayedId(t *testing.T) {
	require := require.New(t)
	s := newTestState(t)

	s.ObserveTableId(catalog.FirstUserTableId + 5)
	next := s.NextTableId()
	require.Equal(catalog.FirstUserTableId+6, next)
}

func TestObserveTableIdIsNoOpGoingBackward(t *testing.T) {
	require := require.New(t)
	s := newTestState(t)
	s.ObserveTableId(catalog.FirstUserTableId + 10)
	s.ObserveTableId(catalog.FirstUserTableId) // lower, must not rewind
	require.Equal(catalog.FirstUserTableId+11, s.NextTableId())
}

func TestCreateTableRejectsDuplicateId(t *testing.T) {
	require := require.New(t)
	s := newTestState(t)
	id := s.NextTableId()
	schema := table.Schema{Name: "t", Columns: []layout.ColumnDef{{Name: "a", Tag: layout.TagU32}}}
	t1 := table.New(id, schema, 256, s.Blobs(), s.Seed(), page.SquashedCommitted)
	require.True(s.CreateTable(id, t1))

	t2 := table.New(id, schema, 256, s.Blobs(), s.Seed(), page.SquashedCommitted)
	require.False(s.CreateTable(id, t2))
}

func TestDropTableReturnsRemovedTable(t *testing.T) {
	require := require.New(t)
	s := newTestState(t)
	id := s.NextTableId()
	schema := table.Schema{Name: "t", Columns: []layout.ColumnDef{{Name: "a", Tag: layout.TagU32}}}
	tbl := table.New(id, schema, 256, s.Blobs(), s.Seed(), page.SquashedCommitted)
	s.CreateTable(id, tbl)

	removed := s.DropTable(id)
	require.NotNil(removed)
	require.False(s.HasTable(id))
	require.Nil(s.DropTable(id))
}

func TestWithTableForWriteMutatesLiveTable(t *testing.T) {
	require := require.New(t)
	s := newTestState(t)
	id := s.NextTableId()
	schema := table.Schema{Name: "t", Columns: []layout.ColumnDef{{Name: "a", Tag: layout.TagU32}}}
	tbl := table.New(id, schema, 256, s.Blobs(), s.Seed(), page.SquashedCommitted)
	s.CreateTable(id, tbl)

	err := s.WithTableForWrite(id, func(t *table.Table) error {
		_, err := t.Insert(layout.Product(layout.U32(1)))
		return err
	})
	require.NoError(err)

	live, ok := s.Table(id)
	require.True(ok)
	require.Equal(1, live.RowCount())
}
