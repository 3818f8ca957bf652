package layout

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/clockworklabs/spacetimedb-core/page"
)

// ColumnDef names one column of a row type.
type ColumnDef struct {
	Name string
	Tag  Tag
	// BlobLimit, for a var-len column, is the payload size at or above
	// which a value is demoted to the blob heap instead of an inline
	// granule chain. Zero uses the layout's DefaultBlobLimit.
	BlobLimit int
}

// field is a compiled column: its byte offset within the fixed row area
// and, for var-len columns, its blob-demotion threshold.
type field struct {
	ColumnDef
	offset int
}

// RowLayout is a row type compiled once per table schema: field byte
// offsets, the total fixed-row size, and which offsets hold inline
// VarLenRefs. This is the "var-len visitor" the specification requires
// DeleteRow to use to walk every variable-length field without re-deriving
// offsets on every call.
type RowLayout struct {
	fields          []field
	FixedSize       int
	DefaultBlobLimit int
}

// Compile lays out columns in declaration order: scalar fields at their
// natural alignment, var-len fields as a fixed-width inline VarLenRef slot.
func Compile(columns []ColumnDef, defaultBlobLimit int) RowLayout {
	fields := make([]field, len(columns))
	offset := 0
	for i, col := range columns {
		var width, align int
		if IsVarLen(col.Tag) {
			width = page.VarLenRefSize
			align = 4
		} else {
			width = scalarWidth(col.Tag)
			align = width
			if align == 0 {
				align = 1
			}
		}
		if align > 1 {
			if rem := offset % align; rem != 0 {
				offset += align - rem
			}
		}
		fields[i] = field{ColumnDef: col, offset: offset}
		offset += width
	}
	return RowLayout{fields: fields, FixedSize: offset, DefaultBlobLimit: defaultBlobLimit}
}

// ColumnOffset returns the compiled byte offset of the named column.
func (l RowLayout) ColumnOffset(name string) (int, bool) {
	for _, f := range l.fields {
		if f.Name == name {
			return f.offset, true
		}
	}
	return 0, false
}

// VarLenFields returns the page-level descriptors for every variable-length
// column, in declared order — exactly the visitor DeleteRow needs.
func (l RowLayout) VarLenFields() []page.VarLenFieldOffset {
	out := make([]page.VarLenFieldOffset, 0)
	for _, f := range l.fields {
		if !IsVarLen(f.Tag) {
			continue
		}
		limit := f.BlobLimit
		if limit == 0 {
			limit = l.DefaultBlobLimit
		}
		out = append(out, page.VarLenFieldOffset{Offset: f.offset, BlobLimit: limit})
	}
	return out
}

// Encode serializes row (a TagProduct AlgebraicValue with one field per
// column, in order) into a fixed-size buffer with var-len slots left zero,
// plus the ordered list of raw var-len payload bytes. The caller (table
// package) is responsible for handing the payloads to a PagePool and
// patching the resulting VarLenRefs back into the buffer before it is
// considered a complete row.
func (l RowLayout) Encode(row AlgebraicValue) (fixed []byte, varLenPayloads [][]byte) {
	values := row.AsProduct()
	if len(values) != len(l.fields) {
		panic(fmt.Sprintf("layout: row has %d fields, layout expects %d", len(values), len(l.fields)))
	}
	fixed = make([]byte, l.FixedSize)
	for i, f := range l.fields {
		v := values[i]
		if v.Tag != f.Tag {
			panic(fmt.Sprintf("layout: column %q expects tag %d, got %d", f.Name, f.Tag, v.Tag))
		}
		if IsVarLen(f.Tag) {
			varLenPayloads = append(varLenPayloads, v.AsBytes())
			continue
		}
		putScalar(fixed[f.offset:], f.Tag, v)
	}
	return fixed, varLenPayloads
}

// Decode reconstructs an AlgebraicValue product from fixed row bytes,
// calling resolveVarLen to fetch the bytes behind each var-len field's
// inline VarLenRef.
func (l RowLayout) Decode(fixed []byte, resolveVarLen func(ref page.VarLenRef) []byte) AlgebraicValue {
	values := make([]AlgebraicValue, len(l.fields))
	for i, f := range l.fields {
		if IsVarLen(f.Tag) {
			ref := page.DecodeVarLenRef(fixed[f.offset : f.offset+page.VarLenRefSize])
			data := resolveVarLen(ref)
			if f.Tag == TagString {
				values[i] = String(string(data))
			} else {
				values[i] = Bytes(data)
			}
			continue
		}
		values[i] = getScalar(fixed[f.offset:], f.Tag)
	}
	return Product(values...)
}

func putScalar(b []byte, t Tag, v AlgebraicValue) {
	switch t {
	case TagBool:
		if v.AsBool() {
			b[0] = 1
		} else {
			b[0] = 0
		}
	case TagI8:
		b[0] = byte(v.AsInt())
	case TagU8:
		b[0] = byte(v.AsUint())
	case TagI16:
		binary.LittleEndian.PutUint16(b, uint16(v.AsInt()))
	case TagU16:
		binary.LittleEndian.PutUint16(b, uint16(v.AsUint()))
	case TagI32:
		binary.LittleEndian.PutUint32(b, uint32(v.AsInt()))
	case TagU32:
		binary.LittleEndian.PutUint32(b, uint32(v.AsUint()))
	case TagI64:
		binary.LittleEndian.PutUint64(b, uint64(v.AsInt()))
	case TagU64:
		binary.LittleEndian.PutUint64(b, v.AsUint())
	case TagF32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v.AsFloat())))
	case TagF64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.AsFloat()))
	default:
		panic(fmt.Sprintf("layout: putScalar: unsupported tag %d", t))
	}
}

func getScalar(b []byte, t Tag) AlgebraicValue {
	switch t {
	case TagBool:
		return Bool(b[0] != 0)
	case TagI8:
		return I8(int8(b[0]))
	case TagU8:
		return U8(b[0])
	case TagI16:
		return I16(int16(binary.LittleEndian.Uint16(b)))
	case TagU16:
		return U16(binary.LittleEndian.Uint16(b))
	case TagI32:
		return I32(int32(binary.LittleEndian.Uint32(b)))
	case TagU32:
		return U32(binary.LittleEndian.Uint32(b))
	case TagI64:
		return I64(int64(binary.LittleEndian.Uint64(b)))
	case TagU64:
		return U64(binary.LittleEndian.Uint64(b))
	case TagF32:
		return F32(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case TagF64:
		return F64(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	default:
		panic(fmt.Sprintf("layout: getScalar: unsupported tag %d", t))
	}
}

// RowHashFields returns the raw bytes of every column, in declared order,
// suitable for feeding to rowhash.Row to compute a pointer-map dedup hash.
// Var-len columns contribute their resolved bytes, not their VarLenRef.
func (l RowLayout) RowHashFields(row AlgebraicValue) [][]byte {
	values := row.AsProduct()
	out := make([][]byte, len(values))
	for i, v := range values {
		switch v.Tag {
		case TagString, TagBytes:
			out[i] = v.AsBytes()
		default:
			fixed := make([]byte, scalarWidthOrRef(v.Tag))
			putScalar(fixed, v.Tag, v)
			out[i] = fixed
		}
	}
	return out
}

func scalarWidthOrRef(t Tag) int {
	if w := scalarWidth(t); w > 0 {
		return w
	}
	return 1
}
