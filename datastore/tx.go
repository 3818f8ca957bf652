package datastore

import (
	"fmt"

	"github.com/clockworklabs/spacetimedb-core/txn"
)

// Tx is a handle to the single in-flight writable transaction. Only one may
// exist per Datastore at a time; BeginMutTx blocks until any prior Tx has
// committed or rolled back.
type Tx struct {
	ds    *Datastore
	state *txn.TxState
	done  bool
}

// BeginMutTx acquires the datastore's writer lock and opens a fresh
// transaction overlay on top of the current committed state. The caller
// must eventually call Commit or Rollback to release the lock.
func (d *Datastore) BeginMutTx() (*Tx, error) {
	d.writeMu.Lock()
	state, err := txn.Begin(d.committed)
	if err != nil {
		d.writeMu.Unlock()
		return nil, err
	}
	return &Tx{ds: d, state: state}, nil
}

// State returns the underlying transaction overlay for row-level
// operations (Insert, Delete, Iter, schema changes).
func (tx *Tx) State() *txn.TxState { return tx.state }

// Commit merges the transaction's overlay into committed state, hands the
// resulting TxData to the durability worker, and releases the writer lock.
// Durability is asynchronous: Commit returning nil means the mutation is
// visible to subsequent readers, not that it is fsynced — callers needing
// that guarantee wait on Datastore.DurableTxOffset.
func (tx *Tx) Commit(ctx *txn.ReducerContext) error {
	if tx.done {
		return fmt.Errorf("datastore: transaction already finished")
	}
	tx.done = true
	defer tx.ds.writeMu.Unlock()

	data, err := tx.state.Commit(ctx)
	if err != nil {
		return err
	}
	tx.ds.worker.RequestDurability(data)
	return nil
}

// Rollback undoes every eager schema change and discards the overlay,
// releasing the writer lock.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	defer tx.ds.writeMu.Unlock()
	tx.state.Rollback()
}
