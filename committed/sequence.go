package committed

import (
	"sync"

	"github.com/clockworklabs/spacetimedb-core/table"
)

// defaultBlockSize is how many values a sequenceEntry reserves ahead of its
// actual high-water mark in one step. Reserving in blocks means the shared
// reservation boundary only needs to move once every defaultBlockSize calls
// instead of on every single one; whatever is reserved but never dispensed
// when the sequence is removed (or the process restarts) is abandoned,
// matching the specification's "gaps are acceptable" rule.
const defaultBlockSize = 32

// sequenceEntry is one column's auto-increment allocator.
type sequenceEntry struct {
	mu        sync.Mutex
	tableId   table.Id
	colPos    uint16
	start     int64
	increment int64
	allocated int64 // last value handed out; start-increment if none yet
	reserved  int64 // reservation boundary; allocated never needs to cross it uncontrolled
	blockSize int64
}

// next advances and returns the next value, reserving a fresh block when the
// current one is exhausted. Caller must hold e.mu.
func (e *sequenceEntry) next() int64 {
	e.allocated += e.increment
	if e.allocated > e.reserved {
		e.reserved += e.blockSize * e.increment
	}
	return e.allocated
}

// SequenceAllocator owns every table's auto-increment counters. It is
// in-memory only: on rollback a partially consumed block is not returned,
// matching the specification's "gaps are acceptable" rule.
type SequenceAllocator struct {
	mu      sync.Mutex
	entries map[uint32]*sequenceEntry
	columns map[columnKey]uint32
}

type columnKey struct {
	tableId table.Id
	colPos  uint16
}

// NewSequenceAllocator constructs an empty allocator.
func NewSequenceAllocator() *SequenceAllocator {
	return &SequenceAllocator{
		entries: make(map[uint32]*sequenceEntry),
		columns: make(map[columnKey]uint32),
	}
}

// Add registers a new sequence under id, backing tableId's colPos column.
func (a *SequenceAllocator) Add(id uint32, tableId table.Id, colPos uint16, start, increment int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[id] = &sequenceEntry{
		tableId:   tableId,
		colPos:    colPos,
		start:     start,
		increment: increment,
		allocated: start - increment,
		reserved:  start - increment,
		blockSize: defaultBlockSize,
	}
	a.columns[columnKey{tableId, colPos}] = id
}

// Remove detaches id's allocator, returning enough state for a rollback to
// reinstate it at its current high-water mark.
func (a *SequenceAllocator) Remove(id uint32) (tableId table.Id, colPos uint16, start, increment, allocated int64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, exists := a.entries[id]
	if !exists {
		return 0, 0, 0, 0, 0, false
	}
	delete(a.entries, id)
	delete(a.columns, columnKey{e.tableId, e.colPos})
	return e.tableId, e.colPos, e.start, e.increment, e.allocated, true
}

// Restore reinstates a previously removed sequence at its captured
// high-water mark. Any block reserved but not yet dispensed before removal
// is not restored, so the next call reserves a fresh one.
func (a *SequenceAllocator) Restore(id uint32, tableId table.Id, colPos uint16, start, increment, allocated int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[id] = &sequenceEntry{
		tableId:   tableId,
		colPos:    colPos,
		start:     start,
		increment: increment,
		allocated: allocated,
		reserved:  allocated,
		blockSize: defaultBlockSize,
	}
	a.columns[columnKey{tableId, colPos}] = id
}

// Next allocates the next value for id.
func (a *SequenceAllocator) Next(id uint32) (int64, bool) {
	a.mu.Lock()
	e, ok := a.entries[id]
	a.mu.Unlock()
	if !ok {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next(), true
}

// Lookup reports the sequence id backing tableId's colPos column, if any.
func (a *SequenceAllocator) Lookup(tableId table.Id, colPos uint16) (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.columns[columnKey{tableId, colPos}]
	return id, ok
}
