// Package txn implements TxState, the per-transaction mutation overlay over
// a committed.State: insert tables, committed-pointer delete sets, a
// private blob store, and a log of pending schema changes applied eagerly
// and undone in reverse order on rollback.
package txn

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/clockworklabs/spacetimedb-core/committed"
	"github.com/clockworklabs/spacetimedb-core/index"
	"github.com/clockworklabs/spacetimedb-core/internal/rowhash"
	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/page"
	"github.com/clockworklabs/spacetimedb-core/table"
)

// TxState is the mutable overlay for one in-flight transaction.
type TxState struct {
	committed *committed.State

	insertTables map[table.Id]*table.Table
	deleteSets   map[table.Id]*roaring64.Bitmap
	blobs        *page.BlobStore
	pending      []PendingSchemaChange
}

// Begin opens a new transaction overlay over committed.
func Begin(committedState *committed.State) (*TxState, error) {
	blobs, err := page.NewBlobStore(rowhash.NewSeed(), 4096, 0)
	if err != nil {
		return nil, err
	}
	return &TxState{
		committed:    committedState,
		insertTables: make(map[table.Id]*table.Table),
		deleteSets:   make(map[table.Id]*roaring64.Bitmap),
		blobs:        blobs,
	}, nil
}

// committedTable resolves id against committed state, failing with
// table.ErrNotFound if it does not exist.
func (ts *TxState) committedTable(id table.Id) (*table.Table, error) {
	t, ok := ts.committed.Table(id)
	if !ok {
		return nil, table.ErrNotFound
	}
	return t, nil
}

func (ts *TxState) isDeleted(id table.Id, ptr page.RowPointer) bool {
	dels, ok := ts.deleteSets[id]
	return ok && dels.Contains(uint64(ptr))
}

func (ts *TxState) deleteSet(id table.Id) *roaring64.Bitmap {
	dels, ok := ts.deleteSets[id]
	if !ok {
		dels = roaring64.New()
		ts.deleteSets[id] = dels
	}
	return dels
}

// overlayTable returns (creating on first touch) this transaction's insert
// clone of committedTable, with empty copies of every committed index so
// overlay-only inserts can be uniqueness-checked and range-scanned.
func (ts *TxState) overlayTable(committedTable *table.Table) *table.Table {
	if t, ok := ts.insertTables[committedTable.ID]; ok {
		return t
	}
	t := ts.committed.NewOverlayTable(committedTable, ts.blobs)
	for id, def := range committedTable.Indexes() {
		t.AddIndex(index.New(id, def.Index.IsUnique()), def.Columns)
	}
	ts.insertTables[committedTable.ID] = t
	return t
}

// Insert stages row for insertion into tableId. Any column backed by a
// sequence is auto-populated from that sequence's allocator, overwriting
// whatever placeholder value the caller supplied; the row actually stored
// (with generated values filled in) is returned alongside its pointer. If
// the resulting row exactly equals a row this transaction has already
// deleted from committed state, the delete is cancelled and the original
// committed pointer is returned instead of staging a new overlay row.
func (ts *TxState) Insert(tableId table.Id, row layout.AlgebraicValue) (page.RowPointer, layout.AlgebraicValue, error) {
	committedTbl, err := ts.committedTable(tableId)
	if err != nil {
		return 0, layout.AlgebraicValue{}, err
	}

	row = ts.applySequences(tableId, committedTbl, row)

	if dels, ok := ts.deleteSets[tableId]; ok && !dels.IsEmpty() {
		it := dels.Iterator()
		for it.HasNext() {
			raw := it.Next()
			ptr := page.RowPointer(raw)
			if val, ok := committedTbl.RowAt(ptr); ok && val.Equal(row) {
				dels.Remove(raw)
				return ptr, row, nil
			}
		}
	}

	for id, key := range committedTbl.UniqueKeys(row) {
		def, _ := committedTbl.Index(id)
		if ptr, found := def.Index.Get(key); found && !ts.isDeleted(tableId, ptr) {
			return 0, layout.AlgebraicValue{}, &table.UniqueConstraintViolation{
				IndexName: fmt.Sprintf("%s_idx%d", committedTbl.Schema.Name, id),
				Value:     fmt.Sprint(key.AsUint()),
			}
		}
	}

	overlay := ts.overlayTable(committedTbl)
	ptr, err := overlay.Insert(row)
	return ptr, row, err
}

// applySequences overwrites every sequence-backed column of row with a
// freshly allocated value, per the specification's requirement that insert
// "record any generated column values... which are returned to the caller."
func (ts *TxState) applySequences(tableId table.Id, committedTbl *table.Table, row layout.AlgebraicValue) layout.AlgebraicValue {
	for pos, col := range committedTbl.Schema.Columns {
		seqId, ok := ts.committed.Sequences.Lookup(tableId, uint16(pos))
		if !ok {
			continue
		}
		v, ok := ts.committed.Sequences.Next(seqId)
		if !ok {
			continue
		}
		row = row.WithField(pos, layout.IntValue(col.Tag, v))
	}
	return row
}

// Delete removes ptr from view: an overlay-tagged pointer is removed from
// the insert table directly; a committed-tagged pointer is recorded in the
// delete set. Idempotent: deleting an already-deleted pointer returns
// false.
func (ts *TxState) Delete(tableId table.Id, ptr page.RowPointer) bool {
	if ptr.IsTxState() {
		t, ok := ts.insertTables[tableId]
		if !ok {
			return false
		}
		return t.Delete(ptr)
	}
	dels := ts.deleteSet(tableId)
	if dels.Contains(uint64(ptr)) {
		return false
	}
	dels.Add(uint64(ptr))
	return true
}

// Iter yields committed rows (minus this transaction's delete set) chained
// with overlay inserts. Order is unspecified but stable within one call.
func (ts *TxState) Iter(tableId table.Id, yield func(ptr page.RowPointer, row layout.AlgebraicValue) bool) {
	committedTbl, err := ts.committedTable(tableId)
	if err != nil {
		return
	}
	dels := ts.deleteSets[tableId]
	stop := false
	committedTbl.Iter(func(ptr page.RowPointer, row layout.AlgebraicValue) bool {
		if dels != nil && dels.Contains(uint64(ptr)) {
			return true
		}
		if !yield(ptr, row) {
			stop = true
			return false
		}
		return true
	})
	if stop {
		return
	}
	if overlay, ok := ts.insertTables[tableId]; ok {
		overlay.Iter(yield)
	}
}

// RowCount returns the live row count for tableId as this overlay sees it:
// committed count, minus this tx's deletes, plus overlay inserts.
func (ts *TxState) RowCount(tableId table.Id) (int, error) {
	committedTbl, err := ts.committedTable(tableId)
	if err != nil {
		return 0, err
	}
	n := committedTbl.RowCount()
	if dels, ok := ts.deleteSets[tableId]; ok {
		n -= int(dels.GetCardinality())
	}
	if overlay, ok := ts.insertTables[tableId]; ok {
		n += overlay.RowCount()
	}
	return n, nil
}

