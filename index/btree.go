// Package index implements BTreeIndex, the ordered Key -> RowPointer
// multimap backing every table index.
package index

import (
	"sync"

	"github.com/google/btree"

	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/page"
)

// IndexId identifies one index within a table.
type IndexId uint32

type item struct {
	key layout.AlgebraicValue
	ptr page.RowPointer
}

func less(a, b item) bool {
	if c := layout.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.ptr < b.ptr
}

// Range bounds a key scan. A nil Min/Max is unbounded on that side; Min is
// always inclusive, Max is inclusive iff MaxInclusive is set (the default,
// exclusive upper bound, matches the spec's [from, to) convention).
type Range struct {
	Min          *layout.AlgebraicValue
	Max          *layout.AlgebraicValue
	MaxInclusive bool
}

// Point returns a Range matching exactly one key.
func Point(key layout.AlgebraicValue) Range {
	return Range{Min: &key, Max: &key, MaxInclusive: true}
}

// BTreeIndex is an ordered multimap from an extracted key to RowPointers,
// backed by google/btree. Non-unique indexes store one tree item per
// (key, pointer) pair so iteration over a key's duplicates is an ordinary
// ordered walk rather than a secondary list lookup.
type BTreeIndex struct {
	mu       sync.RWMutex
	tree     *btree.BTreeG[item]
	id       IndexId
	isUnique bool
}

// New constructs an empty index.
func New(id IndexId, isUnique bool) *BTreeIndex {
	return &BTreeIndex{
		tree:     btree.NewG(32, less),
		id:       id,
		isUnique: isUnique,
	}
}

func (bt *BTreeIndex) ID() IndexId      { return bt.id }
func (bt *BTreeIndex) IsUnique() bool   { return bt.isUnique }
func (bt *BTreeIndex) Len() int {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.tree.Len()
}

// Insert adds (key, ptr). It returns false without modifying the index if
// isUnique and key is already present, whatever pointer it is stored under.
func (bt *BTreeIndex) Insert(key layout.AlgebraicValue, ptr page.RowPointer) bool {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if bt.isUnique && bt.containsAnyLocked(key) {
		return false
	}
	bt.tree.ReplaceOrInsert(item{key: key, ptr: ptr})
	return true
}

// Delete removes (key, ptr). It returns false if that exact pair was not
// present (idempotent on repeated calls).
func (bt *BTreeIndex) Delete(key layout.AlgebraicValue, ptr page.RowPointer) bool {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	_, ok := bt.tree.Delete(item{key: key, ptr: ptr})
	return ok
}

// ContainsAny reports whether any pointer is indexed under key.
func (bt *BTreeIndex) ContainsAny(key layout.AlgebraicValue) bool {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.containsAnyLocked(key)
}

func (bt *BTreeIndex) containsAnyLocked(key layout.AlgebraicValue) bool {
	found := false
	bt.tree.AscendGreaterOrEqual(item{key: key}, func(it item) bool {
		found = layout.Compare(it.key, key) == 0
		return false
	})
	return found
}

// Get returns the single pointer stored under key in a unique index, or
// (_, false) if key is absent. Callers are responsible for only calling
// this on indexes where IsUnique() holds.
func (bt *BTreeIndex) Get(key layout.AlgebraicValue) (page.RowPointer, bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	var found page.RowPointer
	ok := false
	bt.tree.AscendGreaterOrEqual(item{key: key}, func(it item) bool {
		if layout.Compare(it.key, key) == 0 {
			found, ok = it.ptr, true
		}
		return false
	})
	return found, ok
}

// ViolatesUniqueConstraint reports whether inserting key would violate this
// index's uniqueness (a no-op, read-only check used before staging a row).
func (bt *BTreeIndex) ViolatesUniqueConstraint(key layout.AlgebraicValue) bool {
	if !bt.isUnique {
		return false
	}
	return bt.ContainsAny(key)
}

// SeekIterator walks RowPointers in key order over rng, tracking how many
// it has yielded so cost-estimation callers can charge per-row work for
// cursor movement.
type SeekIterator struct {
	bt      *BTreeIndex
	rng     Range
	pending []page.RowPointer
	pos     int
	yielded int
}

// Seek returns an iterator over rng.
func (bt *BTreeIndex) Seek(rng Range) *SeekIterator {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var lower item
	if rng.Min != nil {
		lower = item{key: *rng.Min}
	}
	var out []page.RowPointer
	visit := func(it item) bool {
		if rng.Max != nil {
			c := layout.Compare(it.key, *rng.Max)
			if c > 0 || (c == 0 && !rng.MaxInclusive) {
				return false
			}
		}
		out = append(out, it.ptr)
		return true
	}
	if rng.Min != nil {
		bt.tree.AscendGreaterOrEqual(lower, visit)
	} else {
		bt.tree.Ascend(visit)
	}
	return &SeekIterator{bt: bt, rng: rng, pending: out}
}

// Next returns the next pointer in the scan, or (_, false) when exhausted.
func (it *SeekIterator) Next() (page.RowPointer, bool) {
	if it.pos >= len(it.pending) {
		return 0, false
	}
	ptr := it.pending[it.pos]
	it.pos++
	it.yielded++
	return ptr, true
}

// Yielded reports how many pointers Next has returned so far.
func (it *SeekIterator) Yielded() int { return it.yielded }

// BuildFromRows clears the index and repopulates it from the given
// (key, pointer) pairs, used by IndexRemoved rollback to restore a dropped
// index's contents from the table's current rows.
func (bt *BTreeIndex) BuildFromRows(pairs func(yield func(key layout.AlgebraicValue, ptr page.RowPointer))) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.tree.Clear(false)
	pairs(func(key layout.AlgebraicValue, ptr page.RowPointer) {
		bt.tree.ReplaceOrInsert(item{key: key, ptr: ptr})
	})
}

// Clear empties the index.
func (bt *BTreeIndex) Clear() {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.tree.Clear(false)
}
