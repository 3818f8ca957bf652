// Package table implements Table: a typed collection of rows in the paged
// row store, with a row-type layout, a set of BTree indexes, a pointer map
// for row-hash deduplication, and row-count metadata.
package table

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/clockworklabs/spacetimedb-core/index"
	"github.com/clockworklabs/spacetimedb-core/internal/rowhash"
	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/page"
)

// Id identifies a table within a database.
type Id uint32

// Access controls whether a table is reachable by user queries.
type Access uint8

const (
	AccessPublic Access = iota
	AccessPrivate
)

// Kind distinguishes core-owned system catalog tables from user tables.
type Kind uint8

const (
	KindUser Kind = iota
	KindSystem
)

// IndexDef binds a BTreeIndex to the ordered list of row-column indices it
// is keyed on (supporting multi-column indexes).
type IndexDef struct {
	Index   *index.BTreeIndex
	Columns []int // indices into Schema.Columns, applied in this order
}

// Schema names a table's row shape and its indexes.
type Schema struct {
	Name    string
	Columns []layout.ColumnDef
	// RejectExactDuplicates enforces the pointer-map's duplicate-prevention
	// role; when false, identical rows may coexist (distinguished only by
	// RowPointer).
	RejectExactDuplicates bool
}

// Table is a typed collection of rows plus its indexes and dedup map.
type Table struct {
	ID     Id
	Schema Schema
	Access Access
	Kind   Kind

	layout  layout.RowLayout
	pool    *page.PagePool
	ptrMap  *pointerMap
	indexes map[index.IndexId]*IndexDef
	seed    rowhash.Seed
}

// New constructs an empty table. blobLimit is the default threshold (in
// bytes) at or above which a var-len field is demoted to the blob heap. squashed
// tags every RowPointer this table's pool mints (page.SquashedCommitted for
// committed-state tables, page.SquashedTxState for an overlay's per-table
// insert clone).
func New(id Id, schema Schema, blobLimit int, blobs *page.BlobStore, seed rowhash.Seed, squashed uint8) *Table {
	lay := layout.Compile(schema.Columns, blobLimit)
	return &Table{
		ID:      id,
		Schema:  schema,
		layout:  lay,
		pool:    page.NewPagePool(uint16(lay.FixedSize), 64, blobs, squashed),
		ptrMap:  newPointerMap(),
		indexes: make(map[index.IndexId]*IndexDef),
		seed:    seed,
	}
}

// Layout exposes the compiled row layout.
func (t *Table) Layout() layout.RowLayout { return t.layout }

// Pool exposes the backing page pool.
func (t *Table) Pool() *page.PagePool { return t.pool }

// RowCount returns the number of live rows, an invariant kept exactly in
// sync with the paged store (spec §3).
func (t *Table) RowCount() int { return t.pool.RowCount() }

// AddIndex registers idx as covering the named columns (in key order). Any
// rows already present are indexed immediately.
func (t *Table) AddIndex(idx *index.BTreeIndex, columns []int) {
	t.indexes[idx.ID()] = &IndexDef{Index: idx, Columns: columns}
	idx.BuildFromRows(func(yield func(key layout.AlgebraicValue, ptr page.RowPointer)) {
		t.pool.Iter(func(ptr page.RowPointer, row []byte) bool {
			yield(t.extractKey(t.decodeAt(ptr, row), columns), ptr)
			return true
		})
	})
}

// RemoveIndex drops idx from this table's index set without touching rows.
func (t *Table) RemoveIndex(id index.IndexId) {
	delete(t.indexes, id)
}

// RestoreIndex re-registers idx without indexing any rows, leaving it empty
// until a subsequent RebuildIndexes call populates it. Used by IndexRemoved
// rollback, which calls RebuildIndexes right after each restore.
func (t *Table) RestoreIndex(idx *index.BTreeIndex, columns []int) {
	t.indexes[idx.ID()] = &IndexDef{Index: idx, Columns: columns}
}

// Index returns the index registered under id, if any.
func (t *Table) Index(id index.IndexId) (*IndexDef, bool) {
	def, ok := t.indexes[id]
	return def, ok
}

// Indexes returns every index registered on this table, keyed by id.
func (t *Table) Indexes() map[index.IndexId]*IndexDef {
	return t.indexes
}

// RowAt decodes the live row at ptr, or reports false if ptr is not live.
func (t *Table) RowAt(ptr page.RowPointer) (layout.AlgebraicValue, bool) {
	fixed, ok := t.pool.ReadRow(ptr)
	if !ok {
		return layout.AlgebraicValue{}, false
	}
	return t.decodeAt(ptr, fixed), true
}

// UniqueKeys returns, for every unique index on this table, the key row
// would occupy in that index. Used by the overlay to pre-check a pending
// insert against committed state's indexes directly, since overlay and
// committed indexes are independent structures.
func (t *Table) UniqueKeys(row layout.AlgebraicValue) map[index.IndexId]layout.AlgebraicValue {
	out := make(map[index.IndexId]layout.AlgebraicValue)
	for id, def := range t.indexes {
		if def.Index.IsUnique() {
			out[id] = t.extractKey(row, def.Columns)
		}
	}
	return out
}

func (t *Table) extractKey(row layout.AlgebraicValue, columns []int) layout.AlgebraicValue {
	values := row.AsProduct()
	if len(columns) == 1 {
		return values[columns[0]]
	}
	parts := make([]layout.AlgebraicValue, len(columns))
	for i, c := range columns {
		if c >= len(values) {
			panic("table: key extraction: column index out of range")
		}
		parts[i] = values[c]
	}
	return layout.Product(parts...)
}

// decodeAt decodes the row at ptr, correctly resolving page-relative
// inline var-len references (decode alone cannot, since it has no ptr).
func (t *Table) decodeAt(ptr page.RowPointer, fixed []byte) layout.AlgebraicValue {
	return t.layout.Decode(fixed, func(ref page.VarLenRef) []byte {
		b, _ := t.pool.ReadVarLen(ptr, ref)
		return b
	})
}

// Insert serializes row, checks pointer-map duplication (if enabled),
// writes it to the paged store, then extends every index, rolling back
// prior index insertions on a uniqueness violation.
func (t *Table) Insert(row layout.AlgebraicValue) (page.RowPointer, error) {
	hash := rowhash.Row(t.seed, t.layout.RowHashFields(row)...)

	if t.Schema.RejectExactDuplicates {
		for _, cand := range t.ptrMap.candidates(hash) {
			if fixed, ok := t.pool.ReadRow(cand); ok {
				if t.decodeAt(cand, fixed).Equal(row) {
					return cand, nil
				}
			}
		}
	}

	fixed, varLenPayloads := t.layout.Encode(row)
	ptr, err := t.pool.InsertRow(fixed, t.layout.VarLenFields(), varLenPayloads)
	if err != nil {
		return 0, ErrCapacityExhausted
	}

	inserted := make([]*IndexDef, 0, len(t.indexes))
	for _, def := range t.indexes {
		key := t.extractKey(row, def.Columns)
		if !def.Index.Insert(key, ptr) {
			for _, done := range inserted {
				doneKey := t.extractKey(row, done.Columns)
				done.Index.Delete(doneKey, ptr)
			}
			t.pool.DeleteRow(ptr, t.layout.VarLenFields())
			return 0, &UniqueConstraintViolation{IndexName: indexName(def.Index.ID()), Value: keyString(key)}
		}
		inserted = append(inserted, def)
	}

	t.ptrMap.add(hash, ptr)
	return ptr, nil
}

// Delete removes the row at ptr from every index, the pointer map, and the
// paged store. Returns false if ptr did not refer to a live row.
func (t *Table) Delete(ptr page.RowPointer) bool {
	fixed, ok := t.pool.ReadRow(ptr)
	if !ok {
		return false
	}
	row := t.decodeAt(ptr, fixed)
	for _, def := range t.indexes {
		key := t.extractKey(row, def.Columns)
		def.Index.Delete(key, ptr)
	}
	t.ptrMap.remove(ptr)
	return t.pool.DeleteRow(ptr, t.layout.VarLenFields())
}

// Iter yields every live row.
func (t *Table) Iter(yield func(ptr page.RowPointer, row layout.AlgebraicValue) bool) {
	t.pool.Iter(func(ptr page.RowPointer, fixed []byte) bool {
		return yield(ptr, t.decodeAt(ptr, fixed))
	})
}

// IterByColEq dispatches to the best-matching index for an equality
// predicate over cols, falling back to a full scan if none applies.
func (t *Table) IterByColEq(cols []int, value layout.AlgebraicValue) []page.RowPointer {
	if def, ok := t.bestIndex(cols); ok {
		it := def.Index.Seek(index.Point(value))
		var out []page.RowPointer
		for {
			ptr, ok := it.Next()
			if !ok {
				break
			}
			out = append(out, ptr)
		}
		return out
	}
	var out []page.RowPointer
	t.Iter(func(ptr page.RowPointer, row layout.AlgebraicValue) bool {
		if t.extractKey(row, cols).Equal(value) {
			out = append(out, ptr)
		}
		return true
	})
	return out
}

// IterByColRange dispatches to the best-matching index for a range
// predicate over cols, falling back to a full scan filtered in Go.
func (t *Table) IterByColRange(cols []int, rng index.Range) []page.RowPointer {
	if def, ok := t.bestIndex(cols); ok {
		it := def.Index.Seek(rng)
		var out []page.RowPointer
		for {
			ptr, ok := it.Next()
			if !ok {
				break
			}
			out = append(out, ptr)
		}
		return out
	}
	var out []page.RowPointer
	t.Iter(func(ptr page.RowPointer, row layout.AlgebraicValue) bool {
		key := t.extractKey(row, cols)
		if rng.Min != nil && layout.Compare(key, *rng.Min) < 0 {
			return true
		}
		if rng.Max != nil {
			c := layout.Compare(key, *rng.Max)
			if c > 0 || (c == 0 && !rng.MaxInclusive) {
				return true
			}
		}
		out = append(out, ptr)
		return true
	})
	return out
}

func (t *Table) bestIndex(cols []int) (*IndexDef, bool) {
	for _, def := range t.indexes {
		if sameColumns(def.Columns, cols) {
			return def, true
		}
	}
	return nil, false
}

func sameColumns(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NumDistinctValues returns the number of distinct keys in the index over
// cols, if one exists.
func (t *Table) NumDistinctValues(cols []int) (int, bool) {
	def, ok := t.bestIndex(cols)
	if !ok {
		return 0, false
	}
	// Distinct-key count requires a walk since BTreeIndex stores one item
	// per (key, pointer) pair; this is the same cost class as a range scan
	// and is only called by planning code, not the hot insert/delete path.
	seen := make(map[string]struct{})
	it := def.Index.Seek(index.Range{})
	for {
		ptr, ok := it.Next()
		if !ok {
			break
		}
		row, ok := t.pool.ReadRow(ptr)
		if !ok {
			continue
		}
		key := t.extractKey(t.decodeAt(ptr, row), def.Columns)
		seen[keyString(key)] = struct{}{}
	}
	return len(seen), true
}

// RebuildIndexes rebuilds every index from the table's current rows,
// concurrently across indexes (each index is independent of the others),
// used by IndexRemoved rollback.
func (t *Table) RebuildIndexes(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, def := range t.indexes {
		def := def
		g.Go(func() error {
			def.Index.BuildFromRows(func(yield func(key layout.AlgebraicValue, ptr page.RowPointer)) {
				t.pool.Iter(func(ptr page.RowPointer, row []byte) bool {
					yield(t.extractKey(t.decodeAt(ptr, row), def.Columns), ptr)
					return true
				})
			})
			return nil
		})
	}
	return g.Wait()
}

func indexName(id index.IndexId) string {
	return "idx_" + itoa(uint32(id))
}

func keyString(v layout.AlgebraicValue) string {
	switch v.Tag {
	case layout.TagString:
		return v.AsString()
	case layout.TagBytes:
		return string(v.AsBytes())
	default:
		return itoa(uint32(v.AsUint()))
	}
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var b [10]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	return string(b[i:])
}
