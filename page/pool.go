// Package page implements the paged row store: fixed-size 64KiB pages
// holding typed fixed-width rows and a granule-chained variable-length
// heap, plus the blob heap for oversized objects.
package page

import (
	"errors"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clockworklabs/spacetimedb-core/internal/logutil"
	"github.com/clockworklabs/spacetimedb-core/internal/rowhash"
)

// ErrCapacityExhausted is returned by InsertRow when the 2^39 page-index
// space has been exhausted. This is the only user-recoverable error this
// package returns; anything else observed while walking page structures is
// treated as corruption and is fatal.
var ErrCapacityExhausted = errors.New("page: capacity exhausted")

// VarLenFieldOffset is the byte offset, within a row's fixed area, at which
// an encoded VarLenRef (see EncodeVarLenRef) lives.
type VarLenFieldOffset struct {
	Offset    int
	BlobLimit int // payload length at/above which this field is demoted to the blob heap; 0 means "never"
}

var (
	pgOpsNewly = prometheus.NewCounter(prometheus.CounterOpts{Name: "stdb_page_ops_newly_total", Help: "Fixed slots newly carved from a page."})
	pgOpsReuse = prometheus.NewCounter(prometheus.CounterOpts{Name: "stdb_page_ops_reuse_total", Help: "Fixed slots reused from a page's free list."})
)

func init() {
	prometheus.MustRegister(pgOpsNewly, pgOpsReuse)
}

// PagePool owns every Page for one table's fixed-row layout plus that
// table's blob heap.
type PagePool struct {
	mu sync.Mutex

	fixedRowSize uint16
	granuleSize  uint16

	// tag marks every RowPointer this pool mints as addressing committed
	// state or the current transaction overlay. A pool backs exactly one
	// layer for its lifetime; committed.State's tables use
	// SquashedCommitted, a TxState's per-table insert overlays use
	// SquashedTxState.
	tag uint8

	pages   []*Page
	partial map[uint64]struct{} // page indices with room for a fixed slot

	blobs *BlobStore
	log   *logutil.Logger
}

// NewPagePool constructs an empty pool for rows of fixedRowSize bytes,
// minting RowPointers tagged with squashed.
func NewPagePool(fixedRowSize, granuleSize uint16, blobs *BlobStore, squashed uint8) *PagePool {
	return &PagePool{
		fixedRowSize: fixedRowSize,
		granuleSize:  granuleSize,
		tag:          squashed,
		partial:      make(map[uint64]struct{}),
		blobs:        blobs,
		log:          logutil.Root().With("component", "page_pool"),
	}
}

func (pp *PagePool) newPage() *Page {
	idx := uint64(len(pp.pages))
	pg := NewPage(idx, pp.fixedRowSize, pp.granuleSize)
	pp.pages = append(pp.pages, pg)
	pp.partial[idx] = struct{}{}
	return pg
}

func (pp *PagePool) pickPageForInsert() *Page {
	for idx := range pp.partial {
		return pp.pages[idx]
	}
	return pp.newPage()
}

// InsertRow writes fixedBytes (already sized to the pool's fixedRowSize,
// with VarLenRefSize-wide zeroed slots reserved at each offset named in
// varLenFields) plus the variable-length payloads named in varLenFields,
// patching the encoded VarLenRef back into fixedBytes before committing the
// row to a page. It returns the new row's pointer.
func (pp *PagePool) InsertRow(fixedBytes []byte, varLenFields []VarLenFieldOffset, varLenPayloads [][]byte) (RowPointer, error) {
	if len(fixedBytes) != int(pp.fixedRowSize) {
		panic("page: fixedBytes does not match pool's row size")
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if uint64(len(pp.pages)) > MaxPageIndex {
		return 0, ErrCapacityExhausted
	}

	pg := pp.pickPageForInsert()
	reused := pg.freeFixedHead != noGranule
	off, written, ok := pp.tryInsertOnPage(pg, fixedBytes, varLenFields, varLenPayloads)
	if !ok {
		// The granule chain and/or fixed slot didn't fit together on this
		// page (var-len and fixed-row data for one row must share a page,
		// since VarLenRef.FirstGranule is page-relative). Whatever was
		// staged on pg has already been rolled back; retry as a unit on a
		// fresh page, which is guaranteed to have room for one minimal row.
		pg = pp.newPage()
		reused = false
		off, written, ok = pp.tryInsertOnPage(pg, fixedBytes, varLenFields, varLenPayloads)
		if !ok {
			pp.fatalCorruption("row does not fit on a fresh page", "fixed_size", len(fixedBytes))
		}
	}
	_ = written
	if reused {
		pgOpsReuse.Inc()
	} else {
		pgOpsNewly.Inc()
	}

	if !pg.PartiallyFull() {
		delete(pp.partial, pg.index)
	} else {
		pp.partial[pg.index] = struct{}{}
	}

	return NewRowPointer(pg.index, uint16(off), pp.tag), nil
}

// tryInsertOnPage attempts to write every var-len payload and the fixed row
// onto a single page, rolling back anything it staged on failure.
func (pp *PagePool) tryInsertOnPage(pg *Page, fixedBytes []byte, varLenFields []VarLenFieldOffset, varLenPayloads [][]byte) (uint32, []VarLenRef, bool) {
	written := make([]VarLenRef, len(varLenFields))
	for i, field := range varLenFields {
		payload := varLenPayloads[i]
		if field.BlobLimit > 0 && len(payload) >= field.BlobLimit {
			hash := pp.blobs.Put(payload)
			written[i] = VarLenRef{Kind: VarLenBlob, Length: uint32(len(payload)), ContentHash: hash}
			continue
		}
		ref, ok := pg.writeVarLen(payload)
		if !ok {
			pp.rollbackVarLen(pg, written[:i])
			return 0, nil, false
		}
		written[i] = ref
	}

	off, ok := pg.allocFixedSlot()
	if !ok {
		pp.rollbackVarLen(pg, written)
		return 0, nil, false
	}

	row := pg.rowBytes(off)
	copy(row, fixedBytes)
	for i, field := range varLenFields {
		enc := EncodeVarLenRef(written[i])
		copy(row[field.Offset:field.Offset+VarLenRefSize], enc[:])
	}
	return off, written, true
}

func (pp *PagePool) rollbackVarLen(pg *Page, refs []VarLenRef) {
	for _, ref := range refs {
		if ref.Kind == VarLenInline {
			pg.freeVarLen(ref)
		} else {
			pp.blobs.DecRef(ref.ContentHash)
		}
	}
}

// ReadRow returns the fixed-row bytes at ptr. The returned slice aliases
// page storage and must not be retained past the next mutation of that
// page.
func (pp *PagePool) ReadRow(ptr RowPointer) ([]byte, bool) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pg, ok := pp.page(ptr)
	if !ok || !pg.IsLive(uint32(ptr.Offset())) {
		return nil, false
	}
	return pg.rowBytes(uint32(ptr.Offset())), true
}

// ReadVarLen resolves a VarLenRef found within a row read from ptr's page.
func (pp *PagePool) ReadVarLen(ptr RowPointer, ref VarLenRef) ([]byte, bool) {
	if ref.Kind == VarLenBlob {
		return pp.blobs.Get(ref.ContentHash)
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pg, ok := pp.page(ptr)
	if !ok {
		return nil, false
	}
	return pg.readVarLen(ref), true
}

func (pp *PagePool) page(ptr RowPointer) (*Page, bool) {
	idx := ptr.PageIndex()
	if idx >= uint64(len(pp.pages)) {
		return nil, false
	}
	return pp.pages[idx], true
}

// DeleteRow frees the fixed slot at ptr, walks every var-len field named in
// varLenFields to release granule chains (or decrement blob refcounts), and
// returns false if ptr did not refer to a live row (idempotent delete).
func (pp *PagePool) DeleteRow(ptr RowPointer, varLenFields []VarLenFieldOffset) bool {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pg, ok := pp.page(ptr)
	if !ok || !pg.IsLive(uint32(ptr.Offset())) {
		return false
	}
	row := pg.rowBytes(uint32(ptr.Offset()))
	for _, field := range varLenFields {
		ref := DecodeVarLenRef(row[field.Offset : field.Offset+VarLenRefSize])
		if ref.Kind == VarLenBlob {
			pp.blobs.DecRef(ref.ContentHash)
		} else {
			pg.freeVarLen(ref)
		}
	}
	pg.freeFixedSlot(uint32(ptr.Offset()))
	pp.partial[pg.index] = struct{}{}
	return true
}

// Iter visits every live row in the pool. Iteration order is page order
// then slot order; it is unspecified with respect to insertion order and
// must be treated as such by callers (per the specification).
func (pp *PagePool) Iter(yield func(ptr RowPointer, row []byte) bool) {
	pp.mu.Lock()
	pages := append([]*Page(nil), pp.pages...)
	pp.mu.Unlock()
	for _, pg := range pages {
		stop := false
		pg.ForEachLive(func(off uint32, row []byte) bool {
			if !yield(NewRowPointer(pg.index, uint16(off), pp.tag), row) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return
		}
	}
}

// RowCount returns the total number of live rows across all pages.
func (pp *PagePool) RowCount() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	n := 0
	for _, pg := range pp.pages {
		n += pg.RowCount()
	}
	return n
}

// Blobs returns the pool's blob heap.
func (pp *PagePool) Blobs() *BlobStore { return pp.blobs }

func (pp *PagePool) fatalCorruption(msg string, ctx ...interface{}) {
	err := pkgerrors.Wrap(errors.New(msg), "page: corruption detected")
	pp.log.Crit(err.Error(), ctx...)
}

// NewSeed returns a fresh process-local hash seed drawn by
// rowhash.NewSeed; it is independent of any pool's blob store seed.
func NewSeed() rowhash.Seed { return rowhash.NewSeed() }
