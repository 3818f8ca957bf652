package txn

import (
	"sort"

	"github.com/google/uuid"

	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/page"
	"github.com/clockworklabs/spacetimedb-core/table"
)

// ReducerContext identifies the reducer invocation that produced a
// committed transaction, carried through to the commit log and
// subscription manager.
type ReducerContext struct {
	ReducerId      uint32
	Name           string
	Args           []byte
	CallerIdentity uuid.UUID
	TimestampUnixNanos int64
}

// TableOps is the set of row payloads inserted into or deleted from one
// table by a committed transaction.
type TableOps struct {
	TableId table.Id
	Rows    [][]byte
}

// TxData is the durable, subscribable projection of one committed
// transaction: its reducer context (if any) plus the net row-level effects
// per table, in the shape the commit log's payload encoder expects.
type TxData struct {
	ReducerContext *ReducerContext
	Inserts        []TableOps
	Deletes        []TableOps
	Truncates      []table.Id
}

// IsEmpty reports whether this TxData has no durable effects, in which
// case it must not consume a TxOffset.
func (d TxData) IsEmpty() bool {
	return d.ReducerContext == nil && len(d.Inserts) == 0 && len(d.Deletes) == 0 && len(d.Truncates) == 0
}

// touchedTableIds returns every table this transaction staged inserts or
// deletes against, in ascending order, so commit merge is deterministic.
func (ts *TxState) touchedTableIds() []table.Id {
	seen := make(map[table.Id]struct{})
	for id := range ts.insertTables {
		seen[id] = struct{}{}
	}
	for id := range ts.deleteSets {
		seen[id] = struct{}{}
	}
	ids := make([]table.Id, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Commit merges this transaction's overlay into committed state: for each
// touched table (in ascending table-id order) deletes are applied before
// inserts, indexes and the pointer map are updated per row by the
// underlying table.Table operations, and overlay blobs are folded into the
// committed blob store. pending_schema_changes is discarded since the
// eager changes it recorded are now permanent.
func (ts *TxState) Commit(ctx *ReducerContext) (TxData, error) {
	var data TxData
	data.ReducerContext = ctx

	for _, id := range ts.touchedTableIds() {
		var ops struct {
			inserts, deletes TableOps
		}
		ops.inserts.TableId, ops.deletes.TableId = id, id

		err := ts.committed.WithTableForWrite(id, func(t *table.Table) error {
			if dels, ok := ts.deleteSets[id]; ok && !dels.IsEmpty() {
				it := dels.Iterator()
				for it.HasNext() {
					ptr := page.RowPointer(it.Next())
					if row, ok := t.RowAt(ptr); ok {
						ops.deletes.Rows = append(ops.deletes.Rows, EncodeValue(row))
					}
					t.Delete(ptr)
				}
			}
			if overlay, ok := ts.insertTables[id]; ok {
				var insertErr error
				overlay.Iter(func(_ page.RowPointer, row layout.AlgebraicValue) bool {
					if _, err := t.Insert(row); err != nil {
						// Impossible by construction: the overlay already
						// checked uniqueness against committed state at
						// insertion time (see TxState.Insert).
						insertErr = err
						return false
					}
					ops.inserts.Rows = append(ops.inserts.Rows, EncodeValue(row))
					return true
				})
				if insertErr != nil {
					return insertErr
				}
			}
			return nil
		})
		if err != nil {
			return TxData{}, err
		}

		if len(ops.deletes.Rows) > 0 {
			data.Deletes = append(data.Deletes, ops.deletes)
		}
		if len(ops.inserts.Rows) > 0 {
			data.Inserts = append(data.Inserts, ops.inserts)
		}
	}

	ts.committed.Blobs().Merge(ts.blobs)
	ts.pending = nil
	ts.insertTables = nil
	ts.deleteSets = nil
	return data, nil
}
