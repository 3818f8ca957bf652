// Package layout compiles a nominal row type into a flat fixed-width byte
// layout (field offsets and alignment) plus the AlgebraicValue
// representation used for both row values and index keys. Sum types are not
// supported: there is no sum tag and no discriminator in the layout.
package layout

import (
	"bytes"
	"fmt"
)

// Tag identifies the shape of an AlgebraicValue.
type Tag uint8

const (
	TagBool Tag = iota
	TagI8
	TagU8
	TagI16
	TagU16
	TagI32
	TagU32
	TagI64
	TagU64
	TagF32
	TagF64
	TagString
	TagBytes
	TagProduct // ordered tuple of AlgebraicValues, used for multi-column keys and rows
)

// scalarWidth returns the fixed-width byte size of a scalar tag, or 0 for
// the variable-length tags (TagString, TagBytes) and for TagProduct, which
// never appears as a single column's storage type.
func scalarWidth(t Tag) int {
	switch t {
	case TagBool, TagI8, TagU8:
		return 1
	case TagI16, TagU16:
		return 2
	case TagI32, TagU32, TagF32:
		return 4
	case TagI64, TagU64, TagF64:
		return 8
	default:
		return 0
	}
}

// IsVarLen reports whether t is stored as an inline VarLenRef rather than
// directly in a row's fixed area.
func IsVarLen(t Tag) bool {
	return t == TagString || t == TagBytes
}

// AlgebraicValue is a small tagged union: a scalar, a byte string, or an
// ordered product of further values. It is used both for row field values
// and, for single/multi-column index keys, as the key type itself.
type AlgebraicValue struct {
	Tag     Tag
	boolV   bool
	intV    int64
	uintV   uint64
	floatV  float64
	bytesV  []byte
	product []AlgebraicValue
}

func Bool(v bool) AlgebraicValue    { return AlgebraicValue{Tag: TagBool, boolV: v} }
func I8(v int8) AlgebraicValue      { return AlgebraicValue{Tag: TagI8, intV: int64(v)} }
func U8(v uint8) AlgebraicValue     { return AlgebraicValue{Tag: TagU8, uintV: uint64(v)} }
func I16(v int16) AlgebraicValue    { return AlgebraicValue{Tag: TagI16, intV: int64(v)} }
func U16(v uint16) AlgebraicValue   { return AlgebraicValue{Tag: TagU16, uintV: uint64(v)} }
func I32(v int32) AlgebraicValue    { return AlgebraicValue{Tag: TagI32, intV: int64(v)} }
func U32(v uint32) AlgebraicValue   { return AlgebraicValue{Tag: TagU32, uintV: uint64(v)} }
func I64(v int64) AlgebraicValue    { return AlgebraicValue{Tag: TagI64, intV: v} }
func U64(v uint64) AlgebraicValue   { return AlgebraicValue{Tag: TagU64, uintV: v} }
func F32(v float32) AlgebraicValue  { return AlgebraicValue{Tag: TagF32, floatV: float64(v)} }
func F64(v float64) AlgebraicValue  { return AlgebraicValue{Tag: TagF64, floatV: v} }
func String(v string) AlgebraicValue {
	return AlgebraicValue{Tag: TagString, bytesV: []byte(v)}
}
func Bytes(v []byte) AlgebraicValue { return AlgebraicValue{Tag: TagBytes, bytesV: v} }
func Product(fields ...AlgebraicValue) AlgebraicValue {
	return AlgebraicValue{Tag: TagProduct, product: fields}
}

// IntValue boxes v as the integer scalar tag t, used to splice a
// sequence-allocated id (always carried as int64) back into a row whose
// column may be any integer width.
func IntValue(t Tag, v int64) AlgebraicValue {
	switch t {
	case TagI8:
		return I8(int8(v))
	case TagU8:
		return U8(uint8(v))
	case TagI16:
		return I16(int16(v))
	case TagU16:
		return U16(uint16(v))
	case TagI32:
		return I32(int32(v))
	case TagU32:
		return U32(uint32(v))
	case TagI64:
		return I64(v)
	case TagU64:
		return U64(uint64(v))
	default:
		panic(fmt.Sprintf("layout: IntValue: tag %d is not an integer scalar", t))
	}
}

// WithField returns a copy of a TagProduct value with field i replaced by
// newVal, used to splice generated column values (sequence-allocated ids)
// back into a row before it is stored.
func (v AlgebraicValue) WithField(i int, newVal AlgebraicValue) AlgebraicValue {
	fields := make([]AlgebraicValue, len(v.product))
	copy(fields, v.product)
	fields[i] = newVal
	return AlgebraicValue{Tag: TagProduct, product: fields}
}

func (v AlgebraicValue) AsBool() bool     { return v.boolV }
func (v AlgebraicValue) AsInt() int64     { return v.intV }
func (v AlgebraicValue) AsUint() uint64   { return v.uintV }
func (v AlgebraicValue) AsFloat() float64 { return v.floatV }
func (v AlgebraicValue) AsBytes() []byte  { return v.bytesV }
func (v AlgebraicValue) AsString() string { return string(v.bytesV) }
func (v AlgebraicValue) AsProduct() []AlgebraicValue { return v.product }

// Equal reports deep equality between two AlgebraicValues of the same tag.
func (v AlgebraicValue) Equal(other AlgebraicValue) bool {
	return Compare(v, other) == 0
}

// Compare implements a total order over AlgebraicValues, used both for
// BTreeIndex ordering and for deterministic row comparisons. Values of
// different tags compare by tag number first.
func Compare(a, b AlgebraicValue) int {
	if a.Tag != b.Tag {
		if a.Tag < b.Tag {
			return -1
		}
		return 1
	}
	switch a.Tag {
	case TagBool:
		return boolCompare(a.boolV, b.boolV)
	case TagI8, TagI16, TagI32, TagI64:
		return int64Compare(a.intV, b.intV)
	case TagU8, TagU16, TagU32, TagU64:
		return uint64Compare(a.uintV, b.uintV)
	case TagF32, TagF64:
		return float64Compare(a.floatV, b.floatV)
	case TagString, TagBytes:
		return bytes.Compare(a.bytesV, b.bytesV)
	case TagProduct:
		for i := 0; i < len(a.product) && i < len(b.product); i++ {
			if c := Compare(a.product[i], b.product[i]); c != 0 {
				return c
			}
		}
		return int64Compare(int64(len(a.product)), int64(len(b.product)))
	default:
		panic(fmt.Sprintf("layout: unknown tag %d", a.Tag))
	}
}

func boolCompare(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func int64Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func uint64Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func float64Compare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
