package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/table"
)

func TestTableRowRoundTrip(t *testing.T) {
	require := require.New(t)
	row := TableRow{TableId: 4096, Name: "players", Kind: table.KindUser, Access: table.AccessPrivate}
	got := DecodeTableRow(EncodeTableRow(row))
	require.Equal(row, got)
}

func TestColumnRowRoundTrip(t *testing.T) {
	require := require.New(t)
	row := ColumnRow{TableId: 4096, ColPos: 3, Name: "score", Tag: layout.TagI64}
	got := DecodeColumnRow(EncodeColumnRow(row))
	require.Equal(row, got)
}

func TestIndexRowRoundTripPacksColumns(t *testing.T) {
	require := require.New(t)
	row := IndexRow{IndexId: 7, TableId: 4096, Name: "idx_id", Columns: []uint16{0, 2, 5}, IsUnique: true}
	got := DecodeIndexRow(EncodeIndexRow(row))
	require.Equal(row, got)
}

func TestSequenceRowRoundTrip(t *testing.T) {
	require := require.New(t)
	row := SequenceRow{SequenceId: 1, TableId: 4096, ColPos: 0, Start: 1, Increment: 1, Allocated: 50}
	got := DecodeSequenceRow(EncodeSequenceRow(row))
	require.Equal(row, got)
}

func TestReducerRowRoundTripPacksTags(t *testing.T) {
	require := require.New(t)
	row := ReducerRow{ReducerId: 3, Name: "add_player", ParamTags: []layout.Tag{layout.TagU32, layout.TagString}}
	got := DecodeReducerRow(EncodeReducerRow(row))
	require.Equal(row, got)
}

func TestSchemasCoverEveryNamedSystemTable(t *testing.T) {
	require := require.New(t)
	schemas := Schemas()
	for id, name := range Names {
		schema, ok := schemas[id]
		require.True(ok, "missing schema for %s", name)
		require.Equal(name, schema.Name)
	}
}
