package page

import "encoding/binary"

// granuleHeaderSize is the size, in bytes, of the next-granule pointer
// stored at the front of every granule.
const granuleHeaderSize = 4

// noGranule terminates a granule chain or free list.
const noGranule uint32 = 0xFFFFFFFF

// VarLenKind distinguishes an inline granule-chain object from one that
// was too large and got demoted to the blob heap.
type VarLenKind uint8

const (
	VarLenInline VarLenKind = iota
	VarLenBlob
)

// VarLenRef is the inline reference to a variable-length field's value:
// either the head of a granule chain within the owning page, or a
// content-hash pointer into the blob heap for oversized objects.
type VarLenRef struct {
	Kind         VarLenKind
	FirstGranule uint32 // offset within the page's granule area; valid iff Kind == VarLenInline
	Length       uint32 // total length in bytes of the referenced object
	ContentHash  uint64 // valid iff Kind == VarLenBlob
}

// granuleCapacity returns the number of payload bytes a single granule of
// the given total size can carry.
func granuleCapacity(granuleSize uint16) int {
	return int(granuleSize) - granuleHeaderSize
}

// granuleCount returns how many granules are needed to store n bytes.
func granuleCount(n int, granuleSize uint16) int {
	cap := granuleCapacity(granuleSize)
	if n == 0 {
		return 0
	}
	return (n + cap - 1) / cap
}

// VarLenRefSize is the fixed number of bytes a VarLenRef occupies when
// embedded inline in a row's fixed-width area.
const VarLenRefSize = 1 + 4 + 4 + 8 // kind, first-granule, length, content-hash

// EncodeVarLenRef serializes ref into VarLenRefSize bytes for storage
// inline within a row's fixed area.
func EncodeVarLenRef(ref VarLenRef) [VarLenRefSize]byte {
	var b [VarLenRefSize]byte
	b[0] = byte(ref.Kind)
	binary.LittleEndian.PutUint32(b[1:5], ref.FirstGranule)
	binary.LittleEndian.PutUint32(b[5:9], ref.Length)
	binary.LittleEndian.PutUint64(b[9:17], ref.ContentHash)
	return b
}

// DecodeVarLenRef is the inverse of EncodeVarLenRef.
func DecodeVarLenRef(b []byte) VarLenRef {
	return VarLenRef{
		Kind:         VarLenKind(b[0]),
		FirstGranule: binary.LittleEndian.Uint32(b[1:5]),
		Length:       binary.LittleEndian.Uint32(b[5:9]),
		ContentHash:  binary.LittleEndian.Uint64(b[9:17]),
	}
}

func getNextGranule(g []byte) uint32 {
	return binary.LittleEndian.Uint32(g[:granuleHeaderSize])
}

func setNextGranule(g []byte, next uint32) {
	binary.LittleEndian.PutUint32(g[:granuleHeaderSize], next)
}
