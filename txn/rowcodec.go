package txn

import (
	"encoding/binary"
	"math"

	"github.com/clockworklabs/spacetimedb-core/layout"
)

// EncodeValue serializes an AlgebraicValue into a self-describing byte
// sequence (tag plus payload) suitable for the `rowdata` field of a commit
// record. Unlike layout.RowLayout.Encode, this needs no compiled schema to
// decode, since the durability worker only ever needs to move bytes, never
// to interpret them against a particular table's layout.
func EncodeValue(v layout.AlgebraicValue) []byte {
	buf := []byte{byte(v.Tag)}
	switch v.Tag {
	case layout.TagBool:
		if v.AsBool() {
			return append(buf, 1)
		}
		return append(buf, 0)
	case layout.TagI8:
		return append(buf, byte(v.AsInt()))
	case layout.TagU8:
		return append(buf, byte(v.AsUint()))
	case layout.TagI16:
		var w [2]byte
		binary.LittleEndian.PutUint16(w[:], uint16(v.AsInt()))
		return append(buf, w[:]...)
	case layout.TagU16:
		var w [2]byte
		binary.LittleEndian.PutUint16(w[:], uint16(v.AsUint()))
		return append(buf, w[:]...)
	case layout.TagI32:
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], uint32(v.AsInt()))
		return append(buf, w[:]...)
	case layout.TagU32:
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], uint32(v.AsUint()))
		return append(buf, w[:]...)
	case layout.TagF32:
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], math.Float32bits(float32(v.AsFloat())))
		return append(buf, w[:]...)
	case layout.TagI64:
		var w [8]byte
		binary.LittleEndian.PutUint64(w[:], uint64(v.AsInt()))
		return append(buf, w[:]...)
	case layout.TagU64:
		var w [8]byte
		binary.LittleEndian.PutUint64(w[:], v.AsUint())
		return append(buf, w[:]...)
	case layout.TagF64:
		var w [8]byte
		binary.LittleEndian.PutUint64(w[:], math.Float64bits(v.AsFloat()))
		return append(buf, w[:]...)
	case layout.TagString, layout.TagBytes:
		b := v.AsBytes()
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], uint32(len(b)))
		buf = append(buf, w[:]...)
		return append(buf, b...)
	case layout.TagProduct:
		fields := v.AsProduct()
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], uint32(len(fields)))
		buf = append(buf, w[:]...)
		for _, f := range fields {
			buf = append(buf, EncodeValue(f)...)
		}
		return buf
	default:
		panic("txn: EncodeValue: unknown tag")
	}
}

// DecodeValue is the inverse of EncodeValue, returning the decoded value
// and the number of bytes consumed from b.
func DecodeValue(b []byte) (layout.AlgebraicValue, int) {
	tag := layout.Tag(b[0])
	switch tag {
	case layout.TagBool:
		return layout.Bool(b[1] != 0), 2
	case layout.TagI8:
		return layout.I8(int8(b[1])), 2
	case layout.TagU8:
		return layout.U8(b[1]), 2
	case layout.TagI16:
		return layout.I16(int16(binary.LittleEndian.Uint16(b[1:]))), 3
	case layout.TagU16:
		return layout.U16(binary.LittleEndian.Uint16(b[1:])), 3
	case layout.TagI32:
		return layout.I32(int32(binary.LittleEndian.Uint32(b[1:]))), 5
	case layout.TagU32:
		return layout.U32(binary.LittleEndian.Uint32(b[1:])), 5
	case layout.TagF32:
		return layout.F32(math.Float32frombits(binary.LittleEndian.Uint32(b[1:]))), 5
	case layout.TagI64:
		return layout.I64(int64(binary.LittleEndian.Uint64(b[1:]))), 9
	case layout.TagU64:
		return layout.U64(binary.LittleEndian.Uint64(b[1:])), 9
	case layout.TagF64:
		return layout.F64(math.Float64frombits(binary.LittleEndian.Uint64(b[1:]))), 9
	case layout.TagString, layout.TagBytes:
		n := binary.LittleEndian.Uint32(b[1:5])
		data := append([]byte(nil), b[5:5+n]...)
		if tag == layout.TagString {
			return layout.String(string(data)), 5 + int(n)
		}
		return layout.Bytes(data), 5 + int(n)
	case layout.TagProduct:
		n := binary.LittleEndian.Uint32(b[1:5])
		off := 5
		fields := make([]layout.AlgebraicValue, n)
		for i := range fields {
			v, used := DecodeValue(b[off:])
			fields[i] = v
			off += used
		}
		return layout.Product(fields...), off
	default:
		panic("txn: DecodeValue: unknown tag")
	}
}
