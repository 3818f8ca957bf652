package txn

import (
	"context"

	"github.com/clockworklabs/spacetimedb-core/catalog"
	"github.com/clockworklabs/spacetimedb-core/index"
	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/table"
)

// SchemaChangeKind identifies which eager committed-state mutation a
// PendingSchemaChange undoes on rollback.
type SchemaChangeKind uint8

const (
	IndexAdded SchemaChangeKind = iota
	IndexRemoved
	TableAdded
	TableRemoved
	TableAlterAccess
	ConstraintAdded
	ConstraintRemoved
	SequenceAdded
	SequenceRemoved
)

// PendingSchemaChange captures enough state to undo one eager committed-
// state schema mutation. Only fields relevant to Kind are populated.
type PendingSchemaChange struct {
	Kind    SchemaChangeKind
	TableId table.Id

	Index        *index.BTreeIndex // IndexAdded, IndexRemoved
	IndexColumns []int             // IndexAdded, IndexRemoved

	RemovedTable *table.Table // TableRemoved

	PriorAccess table.Access // TableAlterAccess

	SequenceId                       uint32 // SequenceAdded, SequenceRemoved
	SeqColPos                       uint16 // SequenceRemoved
	SeqStart, SeqIncrement, SeqAlloc int64  // SequenceRemoved
}

// CreateTable allocates a fresh table id, installs an empty table eagerly
// in committed state, and records the corresponding st_table/st_column
// catalog rows as ordinary overlay inserts (which vanish automatically on
// rollback, since the overlay is simply dropped).
func (ts *TxState) CreateTable(name string, columns []layout.ColumnDef, access table.Access, rejectDuplicates bool) (table.Id, error) {
	id := ts.committed.NextTableId()
	schema := table.Schema{Name: name, Columns: columns, RejectExactDuplicates: rejectDuplicates}
	t := ts.committed.CloneStructure(&table.Table{ID: id, Schema: schema})
	t.Access = access
	if !ts.committed.CreateTable(id, t) {
		return 0, table.ErrCapacityExhausted
	}
	ts.pending = append(ts.pending, PendingSchemaChange{Kind: TableAdded, TableId: id})

	if _, _, err := ts.Insert(catalog.StTable, catalog.EncodeTableRow(catalog.TableRow{
		TableId: id, Name: name, Kind: table.KindUser, Access: access,
	})); err != nil {
		return 0, err
	}
	for pos, col := range columns {
		if _, _, err := ts.Insert(catalog.StColumn, catalog.EncodeColumnRow(catalog.ColumnRow{
			TableId: id, ColPos: uint16(pos), Name: col.Name, Tag: col.Tag,
		})); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// DropTable removes tableId from committed state eagerly, recording the
// removed table for TableRemoved undo.
func (ts *TxState) DropTable(tableId table.Id) error {
	removed := ts.committed.DropTable(tableId)
	if removed == nil {
		return table.ErrNotFound
	}
	ts.pending = append(ts.pending, PendingSchemaChange{Kind: TableRemoved, TableId: tableId, RemovedTable: removed})
	return nil
}

// AddIndex builds and attaches a new index over columns on tableId's
// committed table, eagerly indexing any rows already present.
func (ts *TxState) AddIndex(tableId table.Id, indexId index.IndexId, columns []int, isUnique bool) error {
	t, err := ts.committedTable(tableId)
	if err != nil {
		return err
	}
	idx := index.New(indexId, isUnique)
	t.AddIndex(idx, columns)
	ts.pending = append(ts.pending, PendingSchemaChange{
		Kind: IndexAdded, TableId: tableId, Index: idx, IndexColumns: columns,
	})
	return nil
}

// RemoveIndex detaches indexId from tableId's committed table, recording it
// for IndexRemoved undo (which rebuilds it from current rows on rollback).
func (ts *TxState) RemoveIndex(tableId table.Id, indexId index.IndexId) error {
	t, err := ts.committedTable(tableId)
	if err != nil {
		return err
	}
	def, ok := t.Index(indexId)
	if !ok {
		return table.ErrNotFound
	}
	t.RemoveIndex(indexId)
	ts.pending = append(ts.pending, PendingSchemaChange{
		Kind: IndexRemoved, TableId: tableId, Index: def.Index, IndexColumns: def.Columns,
	})
	return nil
}

// AlterAccess changes tableId's access level eagerly, recording the prior
// value for undo.
func (ts *TxState) AlterAccess(tableId table.Id, access table.Access) error {
	t, err := ts.committedTable(tableId)
	if err != nil {
		return err
	}
	prior := t.Access
	t.Access = access
	ts.pending = append(ts.pending, PendingSchemaChange{Kind: TableAlterAccess, TableId: tableId, PriorAccess: prior})
	return nil
}

// AddConstraint records a constraint catalog row. Constraints have no
// eager committed-state structure of their own beyond the index they name
// (tracked separately via AddIndex); the pending entry exists so rollback
// ordering matches the specification's variant list.
func (ts *TxState) AddConstraint(row catalog.ConstraintRow) error {
	if _, _, err := ts.Insert(catalog.StConstraint, catalog.EncodeConstraintRow(row)); err != nil {
		return err
	}
	ts.pending = append(ts.pending, PendingSchemaChange{Kind: ConstraintAdded, TableId: row.TableId})
	return nil
}

// RemoveConstraint records constraint removal; the caller is responsible
// for deleting the underlying st_constraint row via Delete. See
// AddConstraint for why no further eager undo is needed.
func (ts *TxState) RemoveConstraint(tableId table.Id, constraintId uint32) {
	ts.pending = append(ts.pending, PendingSchemaChange{Kind: ConstraintRemoved, TableId: tableId})
}

// AddSequence installs an in-memory allocator for a sequence-backed column
// eagerly, and records the st_sequence catalog row.
func (ts *TxState) AddSequence(row catalog.SequenceRow) error {
	ts.committed.Sequences.Add(row.SequenceId, row.TableId, row.ColPos, row.Start, row.Increment)
	ts.pending = append(ts.pending, PendingSchemaChange{
		Kind: SequenceAdded, TableId: row.TableId, SequenceId: row.SequenceId,
	})
	if _, _, err := ts.Insert(catalog.StSequence, catalog.EncodeSequenceRow(row)); err != nil {
		return err
	}
	return nil
}

// RemoveSequence detaches a sequence's in-memory allocator eagerly,
// capturing its current high-water mark for SequenceRemoved undo. Per the
// specification the block already consumed is not un-allocated even if the
// removal itself is rolled back; only the allocator's existence and its
// last-observed high-water mark are restored.
func (ts *TxState) RemoveSequence(tableId table.Id, sequenceId uint32) error {
	_, colPos, start, increment, allocated, ok := ts.committed.Sequences.Remove(sequenceId)
	if !ok {
		return table.ErrNotFound
	}
	ts.pending = append(ts.pending, PendingSchemaChange{
		Kind: SequenceRemoved, TableId: tableId, SequenceId: sequenceId,
		SeqColPos: colPos, SeqStart: start, SeqIncrement: increment, SeqAlloc: allocated,
	})
	return nil
}

// Rollback undoes every pending schema change in reverse order, then drops
// the overlay (insert tables, delete sets, and blob store all go out of
// scope with ts).
func (ts *TxState) Rollback() {
	for i := len(ts.pending) - 1; i >= 0; i-- {
		ts.undo(ts.pending[i])
	}
	ts.pending = nil
	ts.insertTables = nil
	ts.deleteSets = nil
}

func (ts *TxState) undo(c PendingSchemaChange) {
	switch c.Kind {
	case IndexAdded:
		if t, ok := ts.committed.Table(c.TableId); ok {
			t.RemoveIndex(c.Index.ID())
		}
	case IndexRemoved:
		if t, ok := ts.committed.Table(c.TableId); ok {
			t.RestoreIndex(c.Index, c.IndexColumns)
			_ = t.RebuildIndexes(context.Background())
		}
	case TableAdded:
		ts.committed.DropTable(c.TableId)
	case TableRemoved:
		ts.committed.CreateTable(c.TableId, c.RemovedTable)
	case TableAlterAccess:
		if t, ok := ts.committed.Table(c.TableId); ok {
			t.Access = c.PriorAccess
		}
	case SequenceAdded:
		ts.committed.Sequences.Remove(c.SequenceId)
	case SequenceRemoved:
		ts.committed.Sequences.Restore(c.SequenceId, c.TableId, c.SeqColPos, c.SeqStart, c.SeqIncrement, c.SeqAlloc)
	case ConstraintAdded, ConstraintRemoved:
		// No eager committed-side structure beyond the overlay-tracked
		// catalog row, which the dropped overlay already discards.
	}
}
