package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/spacetimedb-core/internal/rowhash"
)

func newTestPool(t *testing.T, blobLimit int) *PagePool {
	t.Helper()
	blobs, err := NewBlobStore(rowhash.NewSeed(), 1<<20, 0)
	require.NoError(t, err)
	return NewPagePool(8, 64, blobs, SquashedCommitted)
}

func TestInsertReadDeleteRoundTrip(t *testing.T) {
	require := require.New(t)
	pp := newTestPool(t, 0)

	fixed := make([]byte, 8)
	fixed[0] = 42
	ptr, err := pp.InsertRow(fixed, nil, nil)
	require.NoError(err)
	require.Equal(1, pp.RowCount())

	got, ok := pp.ReadRow(ptr)
	require.True(ok)
	require.Equal(fixed, got)

	require.True(pp.DeleteRow(ptr, nil))
	require.Equal(0, pp.RowCount())
	_, ok = pp.ReadRow(ptr)
	require.False(ok)

	// Deleting again is idempotent.
	require.False(pp.DeleteRow(ptr, nil))
}

func TestInsertWithVarLenInline(t *testing.T) {
	require := require.New(t)
	blobs, err := NewBlobStore(rowhash.NewSeed(), 1<<20, 0)
	require.NoError(err)
	pp := NewPagePool(uint16(VarLenRefSize), 64, blobs, SquashedCommitted)

	fields := []VarLenFieldOffset{{Offset: 0, BlobLimit: 0}}
	fixed := make([]byte, VarLenRefSize)
	ptr, err := pp.InsertRow(fixed, fields, [][]byte{[]byte("payload")})
	require.NoError(err)

	row, ok := pp.ReadRow(ptr)
	require.True(ok)
	ref := DecodeVarLenRef(row[:VarLenRefSize])
	require.Equal(VarLenInline, ref.Kind)

	data, ok := pp.ReadVarLen(ptr, ref)
	require.True(ok)
	require.Equal([]byte("payload"), data)

	require.True(pp.DeleteRow(ptr, fields))
}

func TestInsertWithVarLenDemotedToBlob(t *testing.T) {
	require := require.New(t)
	blobs, err := NewBlobStore(rowhash.NewSeed(), 4, 0)
	require.NoError(err)
	pp := NewPagePool(uint16(VarLenRefSize), 64, blobs, SquashedCommitted)

	fields := []VarLenFieldOffset{{Offset: 0, BlobLimit: 4}}
	fixed := make([]byte, VarLenRefSize)
	big := []byte("this payload is long enough to be demoted")
	ptr, err := pp.InsertRow(fixed, fields, [][]byte{big})
	require.NoError(err)

	row, _ := pp.ReadRow(ptr)
	ref := DecodeVarLenRef(row[:VarLenRefSize])
	require.Equal(VarLenBlob, ref.Kind)
	require.Equal(1, blobs.Len())

	data, ok := pp.ReadVarLen(ptr, ref)
	require.True(ok)
	require.Equal(big, data)
}

func TestIterVisitsEveryLiveRow(t *testing.T) {
	require := require.New(t)
	pp := newTestPool(t, 0)

	var ptrs []RowPointer
	for i := 0; i < 5; i++ {
		fixed := make([]byte, 8)
		fixed[0] = byte(i)
		ptr, err := pp.InsertRow(fixed, nil, nil)
		require.NoError(err)
		ptrs = append(ptrs, ptr)
	}
	require.True(pp.DeleteRow(ptrs[2], nil))

	seen := 0
	pp.Iter(func(ptr RowPointer, row []byte) bool {
		seen++
		return true
	})
	require.Equal(4, seen)
	require.Equal(4, pp.RowCount())
}

func TestRowPointerPackUnpack(t *testing.T) {
	require := require.New(t)
	ptr := NewRowPointer(12345, 999, SquashedTxState)
	require.Equal(uint64(12345), ptr.PageIndex())
	require.Equal(uint16(999), ptr.Offset())
	require.True(ptr.IsTxState())
	require.False(ptr.IsCommitted())
}

func TestVarLenRefEncodeDecodeRoundTrip(t *testing.T) {
	require := require.New(t)
	ref := VarLenRef{Kind: VarLenBlob, FirstGranule: 7, Length: 123, ContentHash: 0xdeadbeef}
	b := EncodeVarLenRef(ref)
	got := DecodeVarLenRef(b[:])
	require.Equal(ref, got)
}
