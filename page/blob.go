package page

import (
	"sync"

	"github.com/elastic/go-freelru"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/clockworklabs/spacetimedb-core/internal/rowhash"
)

// blobEntry is one content-addressed object in a BlobStore.
type blobEntry struct {
	bytes      []byte // as stored: zstd-compressed iff compressed
	compressed bool
	uncompLen  int
	refcount   int
}

// BlobStore maps a content hash to a reference-counted byte buffer. Both
// CommittedState and each transaction overlay own one; on commit, overlay
// blobs are merged into the committed store with refcounts summed.
//
// Objects at or above compressThreshold bytes are zstd-compressed before
// being stored; reads go through a bounded LRU of decompressed bytes so a
// hot oversized object isn't re-inflated on every access.
type BlobStore struct {
	mu                sync.Mutex
	seed              rowhash.Seed
	entries           map[uint64]*blobEntry
	compressThreshold int

	enc   *zstd.Encoder
	dec   *zstd.Decoder
	cache *freelru.LRU[uint64, []byte]
}

// NewBlobStore constructs an empty blob store. cacheEntries bounds the
// decompressed-read cache; pass 0 to disable it.
func NewBlobStore(seed rowhash.Seed, compressThreshold, cacheEntries int) (*BlobStore, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, errors.Wrap(err, "page: construct zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "page: construct zstd decoder")
	}
	bs := &BlobStore{
		seed:              seed,
		entries:           make(map[uint64]*blobEntry),
		compressThreshold: compressThreshold,
		enc:               enc,
		dec:               dec,
	}
	if cacheEntries > 0 {
		cache, err := freelru.New[uint64, []byte](uint32(cacheEntries), hashUint64)
		if err != nil {
			return nil, errors.Wrap(err, "page: construct blob read cache")
		}
		bs.cache = cache
	}
	return bs, nil
}

func hashUint64(k uint64) uint32 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	return uint32(k)
}

// Put stores data (if not already present) and returns its content hash
// with refcount incremented by one.
func (bs *BlobStore) Put(data []byte) uint64 {
	hash := rowhash.Content(bs.seed, data)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if e, ok := bs.entries[hash]; ok {
		e.refcount++
		return hash
	}
	e := &blobEntry{uncompLen: len(data), refcount: 1}
	if bs.compressThreshold > 0 && len(data) >= bs.compressThreshold {
		e.bytes = bs.enc.EncodeAll(data, nil)
		e.compressed = true
	} else {
		e.bytes = append([]byte(nil), data...)
	}
	bs.entries[hash] = e
	return hash
}

// IncRef bumps the refcount of an existing entry, used when a committed
// reference to a blob is duplicated (e.g. a row copy during index rebuild).
func (bs *BlobStore) IncRef(hash uint64) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if e, ok := bs.entries[hash]; ok {
		e.refcount++
	}
}

// DecRef drops one reference; the entry (and any cached decompressed copy)
// is removed once the refcount reaches zero.
func (bs *BlobStore) DecRef(hash uint64) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	e, ok := bs.entries[hash]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount <= 0 {
		delete(bs.entries, hash)
		if bs.cache != nil {
			bs.cache.Remove(hash)
		}
	}
}

// Get returns the (decompressed) bytes for hash.
func (bs *BlobStore) Get(hash uint64) ([]byte, bool) {
	if bs.cache != nil {
		if v, ok := bs.cache.Get(hash); ok {
			return v, true
		}
	}
	bs.mu.Lock()
	e, ok := bs.entries[hash]
	bs.mu.Unlock()
	if !ok {
		return nil, false
	}
	if !e.compressed {
		return e.bytes, true
	}
	out, err := bs.dec.DecodeAll(e.bytes, make([]byte, 0, e.uncompLen))
	if err != nil {
		return nil, false
	}
	if bs.cache != nil {
		bs.cache.Add(hash, out)
	}
	return out, true
}

// Merge moves every entry of other into bs, summing refcounts for hashes
// present in both. Used by transaction commit to fold overlay blobs into
// committed state.
func (bs *BlobStore) Merge(other *BlobStore) {
	other.mu.Lock()
	entries := other.entries
	other.entries = make(map[uint64]*blobEntry)
	other.mu.Unlock()

	bs.mu.Lock()
	defer bs.mu.Unlock()
	for hash, oe := range entries {
		if e, ok := bs.entries[hash]; ok {
			e.refcount += oe.refcount
			continue
		}
		bs.entries[hash] = oe
	}
}

// Len reports the number of distinct blobs currently stored.
func (bs *BlobStore) Len() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return len(bs.entries)
}
