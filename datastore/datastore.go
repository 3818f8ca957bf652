// Package datastore is the top-level façade: it opens a replica directory,
// wires the committed state, transaction overlay, commit log, and
// durability worker together, and exposes the begin/commit/rollback
// lifecycle a reducer host drives.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/clockworklabs/spacetimedb-core/catalog"
	"github.com/clockworklabs/spacetimedb-core/commitlog"
	"github.com/clockworklabs/spacetimedb-core/committed"
	"github.com/clockworklabs/spacetimedb-core/durability"
	"github.com/clockworklabs/spacetimedb-core/index"
	"github.com/clockworklabs/spacetimedb-core/internal/config"
	"github.com/clockworklabs/spacetimedb-core/internal/logutil"
	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/page"
	"github.com/clockworklabs/spacetimedb-core/table"
	"github.com/clockworklabs/spacetimedb-core/txn"
)

// Datastore owns one replica directory: its committed state, commit log,
// and durability worker. At most one writable transaction may be open
// against it at a time, enforced by writeMu.
type Datastore struct {
	dir    string
	lock   *flock.Flock
	cfg    config.Config
	logger *logutil.Logger

	committed *committed.State
	log       *commitlog.Log
	worker    *durability.Worker

	writeMu sync.Mutex
}

// Open acquires the replica directory's advisory lock, loads configuration,
// replays the commit log into a fresh committed state, and starts the
// durability worker. The returned Datastore owns the lock until Close.
func Open(replicaDir string) (*Datastore, error) {
	if err := ensureLayout(replicaDir); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(replicaDir, "db.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("datastore: acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("datastore: replica directory %s is already open by another process", replicaDir)
	}

	cfg, err := config.Load(replicaDir)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	logger := logutil.Root().With("component", "datastore")
	logger.Info("opening replica", "dir", replicaDir, "working_set_budget", cfg.Page.WorkingSetBytes)

	blobs, err := page.NewBlobStore(page.NewSeed(), int(cfg.Blob.CompressionThreshold), cfg.Blob.CacheEntries)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	state := committed.Open(blobs, page.NewSeed())

	log, err := commitlog.Open(filepath.Join(replicaDir, "commit-log"))
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	log.SetMaxSegmentSize(int64(cfg.CommitLog.SegmentRotateSize))
	if err := replay(state, log); err != nil {
		log.Close()
		lock.Unlock()
		return nil, err
	}

	worker := durability.Spawn(log,
		durability.WithSyncInterval(cfg.Durability.TickInterval),
		durability.WithCloseTimeout(cfg.Durability.CloseTimeout),
		durability.WithQueueCapacity(cfg.Durability.QueueCapacity),
	)

	ds := &Datastore{
		dir:       replicaDir,
		lock:      lock,
		cfg:       cfg,
		logger:    logger,
		committed: state,
		log:       log,
		worker:    worker,
	}
	return ds, nil
}

func ensureLayout(dir string) error {
	for _, sub := range []string{"", "commit-log", "snapshots", "object-db"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// replay reconstructs committed state from every commit already durable on
// disk. Row-level inserts/deletes only ever name an already-existing table,
// but a user table's own existence is never logged as an operation (it is
// an eager committed-state mutation, per txn.TxState.CreateTable) — so
// replay must first materialize any new table named by that commit's
// st_table/st_column/st_index/st_sequence rows before applying ordinary
// row inserts and deletes, including to the catalog tables themselves.
func replay(state *committed.State, log *commitlog.Log) error {
	return log.Iter(0, func(c commitlog.Commit) bool {
		data, err := txn.DecodePayload(c.Records)
		if err != nil {
			panic(fmt.Sprintf("datastore: corrupt commit payload: %v", err))
		}
		if err := replayCommit(state, data); err != nil {
			panic(fmt.Sprintf("datastore: replay failed: %v", err))
		}
		return true
	})
}

func replayCommit(state *committed.State, data txn.TxData) error {
	if err := materializeSchemaChanges(state, data); err != nil {
		return err
	}
	for _, op := range data.Deletes {
		if err := applyReplayedDeletes(state, op); err != nil {
			return err
		}
	}
	for _, op := range data.Inserts {
		if err := applyReplayedInserts(state, op); err != nil {
			return err
		}
	}
	for _, id := range data.Truncates {
		if t, ok := state.Table(id); ok {
			truncateTable(t)
		}
	}
	return nil
}

// materializeSchemaChanges scans this commit's st_table/st_column inserts
// for any table id not yet present in state and creates it, then applies
// any st_index/st_sequence inserts and st_table deletes (table drops).
// Order matters: table creation must happen before the generic insert pass
// below can insert rows into that table, and before st_index/st_sequence
// rows can attach structure to it.
func materializeSchemaChanges(state *committed.State, data txn.TxData) error {
	columnsByTable := map[table.Id][]catalog.ColumnRow{}
	var newTables []catalog.TableRow

	for _, op := range data.Inserts {
		switch op.TableId {
		case catalog.StTable:
			for _, raw := range op.Rows {
				v, _ := txn.DecodeValue(raw)
				newTables = append(newTables, catalog.DecodeTableRow(v))
			}
		case catalog.StColumn:
			for _, raw := range op.Rows {
				v, _ := txn.DecodeValue(raw)
				col := catalog.DecodeColumnRow(v)
				columnsByTable[col.TableId] = append(columnsByTable[col.TableId], col)
			}
		}
	}

	for _, tr := range newTables {
		if state.HasTable(tr.TableId) {
			continue
		}
		cols := columnsByTable[tr.TableId]
		sortColumnsByPos(cols)
		columns := make([]layout.ColumnDef, len(cols))
		for i, c := range cols {
			columns[i] = layout.ColumnDef{Name: c.Name, Tag: c.Tag}
		}
		schema := table.Schema{Name: tr.Name, Columns: columns}
		t := state.CloneStructure(&table.Table{ID: tr.TableId, Schema: schema})
		t.Access = tr.Access
		t.Kind = tr.Kind
		state.CreateTable(tr.TableId, t)
		state.ObserveTableId(tr.TableId)
	}

	for _, op := range data.Inserts {
		if op.TableId != catalog.StIndex {
			continue
		}
		for _, raw := range op.Rows {
			v, _ := txn.DecodeValue(raw)
			row := catalog.DecodeIndexRow(v)
			if t, ok := state.Table(row.TableId); ok {
				cols := make([]int, len(row.Columns))
				for i, c := range row.Columns {
					cols[i] = int(c)
				}
				t.AddIndex(index.New(index.IndexId(row.IndexId), row.IsUnique), cols)
			}
		}
	}

	for _, op := range data.Inserts {
		if op.TableId != catalog.StSequence {
			continue
		}
		for _, raw := range op.Rows {
			v, _ := txn.DecodeValue(raw)
			row := catalog.DecodeSequenceRow(v)
			state.Sequences.Restore(row.SequenceId, row.TableId, row.ColPos, row.Start, row.Increment, row.Allocated)
		}
	}

	for _, op := range data.Deletes {
		if op.TableId != catalog.StTable {
			continue
		}
		for _, raw := range op.Rows {
			v, _ := txn.DecodeValue(raw)
			row := catalog.DecodeTableRow(v)
			state.DropTable(row.TableId)
		}
	}
	return nil
}

func sortColumnsByPos(cols []catalog.ColumnRow) {
	for i := 1; i < len(cols); i++ {
		for j := i; j > 0 && cols[j-1].ColPos > cols[j].ColPos; j-- {
			cols[j-1], cols[j] = cols[j], cols[j-1]
		}
	}
}

func truncateTable(t *table.Table) {
	var ptrs []page.RowPointer
	t.Iter(func(ptr page.RowPointer, _ layout.AlgebraicValue) bool {
		ptrs = append(ptrs, ptr)
		return true
	})
	for _, ptr := range ptrs {
		t.Delete(ptr)
	}
}

func applyReplayedInserts(state *committed.State, op txn.TableOps) error {
	return state.WithTableForWrite(op.TableId, func(t *table.Table) error {
		for _, raw := range op.Rows {
			row, _ := txn.DecodeValue(raw)
			if _, err := t.Insert(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// applyReplayedDeletes removes, from the replayed table, the first row
// matching each encoded value by byte-for-byte algebraic equality. Commit
// records carry row values rather than pointers, since a replayed table's
// page layout need not match the one the original delete was issued
// against.
func applyReplayedDeletes(state *committed.State, op txn.TableOps) error {
	return state.WithTableForWrite(op.TableId, func(t *table.Table) error {
		for _, raw := range op.Rows {
			want, _ := txn.DecodeValue(raw)
			var target page.RowPointer
			found := false
			t.Iter(func(ptr page.RowPointer, candidate layout.AlgebraicValue) bool {
				if candidate.Equal(want) {
					target, found = ptr, true
					return false
				}
				return true
			})
			if found {
				t.Delete(target)
			}
		}
		return nil
	})
}

// Close closes the durability worker (flushing and syncing the commit
// log), then releases the replica directory's advisory lock. It returns the
// durable offset, one past the last fsynced transaction.
func (d *Datastore) Close() (uint64, error) {
	last := d.worker.Close()
	if err := d.lock.Unlock(); err != nil {
		return last, fmt.Errorf("datastore: release lock: %w", err)
	}
	return last, nil
}

// DurableTxOffset returns the watchable durable-offset tracker, so callers
// can wait for a particular commit to be fsynced.
func (d *Datastore) DurableTxOffset() *durability.DurableOffset {
	return d.worker.DurableOffset()
}
