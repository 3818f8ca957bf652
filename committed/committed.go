// Package committed holds the set of tables as of the last committed
// transaction, including the system catalog. Tables are individually
// locked so a reader of one table never blocks on a writer touching a
// different table; only begin_mut_tx's single-writer discipline serializes
// writers against each other.
package committed

import (
	"fmt"
	"sync"

	"github.com/clockworklabs/spacetimedb-core/catalog"
	"github.com/clockworklabs/spacetimedb-core/internal/rowhash"
	"github.com/clockworklabs/spacetimedb-core/page"
	"github.com/clockworklabs/spacetimedb-core/table"
)

// ErrNotFound is returned when an operation names a table id not present
// in committed state.
var ErrNotFound = fmt.Errorf("committed: table not found")

// entry pairs a table with the lock guarding it. CreateTable and DropTable
// add or remove whole entries; index additions and removals mutate the
// entry's *table.Table in place.
type entry struct {
	mu sync.RWMutex
	t  *table.Table
}

// State is the committed database: every table plus the shared blob heap
// and hash seed new tables are constructed with.
type State struct {
	mu      sync.RWMutex // guards the tables map itself, not table contents
	tables  map[table.Id]*entry
	blobs   *page.BlobStore
	seed    rowhash.Seed
	nextTid table.Id

	Sequences *SequenceAllocator
}

// Open constructs a fresh CommittedState with the system catalog tables
// installed and empty, and the first user table id set to
// catalog.FirstUserTableId.
func Open(blobs *page.BlobStore, seed rowhash.Seed) *State {
	s := &State{
		tables:    make(map[table.Id]*entry),
		blobs:     blobs,
		seed:      seed,
		nextTid:   catalog.FirstUserTableId,
		Sequences: NewSequenceAllocator(),
	}
	for id, schema := range catalog.Schemas() {
		s.tables[id] = &entry{t: table.New(id, schema, 256, blobs, seed, page.SquashedCommitted)}
	}
	return s
}

// NextTableId allocates and returns the next user table id.
func (s *State) NextTableId() table.Id {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextTid
	s.nextTid++
	return id
}

// ObserveTableId advances the next-table-id counter past id if needed,
// without allocating it. Used by commit log replay, which installs tables
// under ids recovered from the catalog rather than through NextTableId, so
// the allocator must be brought forward manually or a freshly created table
// after reopen could collide with a replayed one.
func (s *State) ObserveTableId(id table.Id) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= s.nextTid {
		s.nextTid = id + 1
	}
}

// WithTable runs fn with a read lock on table id, for query paths.
func (s *State) WithTable(id table.Id, fn func(t *table.Table) error) error {
	e := s.lookup(id)
	if e == nil {
		return ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.t)
}

// WithTableForWrite runs fn with a write lock on table id, used by commit
// merge to apply deletes/inserts for one table atomically with respect to
// concurrent readers of that table.
func (s *State) WithTableForWrite(id table.Id, fn func(t *table.Table) error) error {
	e := s.lookup(id)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.t)
}

func (s *State) lookup(id table.Id) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[id]
}

// Table returns the live *table.Table for id without locking it for the
// duration of use. Safe because exactly one writer transaction may be in
// flight at a time system-wide (the caller of this accessor, if it is that
// writer); concurrent readers never mutate a table's structure, only a
// commit merge does, and that goes through WithTableForWrite.
func (s *State) Table(id table.Id) (*table.Table, bool) {
	e := s.lookup(id)
	if e == nil {
		return nil, false
	}
	e.mu.RLock()
	t := e.t
	e.mu.RUnlock()
	return t, true
}

// NewOverlayTable constructs an empty table of the same shape as src,
// backed by blobs (the overlay's private blob store) and tagged
// page.SquashedTxState, for first-touch in a transaction overlay.
func (s *State) NewOverlayTable(src *table.Table, blobs *page.BlobStore) *table.Table {
	return table.New(src.ID, src.Schema, 256, blobs, s.seed, page.SquashedTxState)
}

// HasTable reports whether id names a live table.
func (s *State) HasTable(id table.Id) bool {
	return s.lookup(id) != nil
}

// TableIds returns every live table id in ascending order.
func (s *State) TableIds() []table.Id {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]table.Id, 0, len(s.tables))
	for id := range s.tables {
		ids = append(ids, id)
	}
	sortIds(ids)
	return ids
}

func sortIds(ids []table.Id) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// CreateTable installs a brand-new table under id, failing (returning
// false) if id is already in use. Used both for initial DDL and for
// TableRemoved rollback, which reinstalls a previously captured table.
func (s *State) CreateTable(id table.Id, t *table.Table) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tables[id]; exists {
		return false
	}
	s.tables[id] = &entry{t: t}
	return true
}

// DropTable removes id from committed state and returns the removed table
// (for TableAdded rollback / TableRemoved undo capture), or nil if absent.
func (s *State) DropTable(id table.Id) *table.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tables[id]
	if !ok {
		return nil
	}
	delete(s.tables, id)
	return e.t
}

// CloneStructure returns a new, empty table.Table sharing this state's blob
// store and hash seed but none of src's rows, tagged
// page.SquashedCommitted. Used to build brand-new committed tables (by
// TxState.CreateTable and by commit log replay); overlays use
// NewOverlayTable instead.
func (s *State) CloneStructure(src *table.Table) *table.Table {
	return table.New(src.ID, src.Schema, 256, s.blobs, s.seed, page.SquashedCommitted)
}

// Blobs returns the shared committed blob heap.
func (s *State) Blobs() *page.BlobStore { return s.blobs }

// Seed returns the process-local row-hash seed new tables must share.
func (s *State) Seed() rowhash.Seed { return s.seed }
