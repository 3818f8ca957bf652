package catalog

import (
	"encoding/binary"

	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/table"
)

// packUint16s encodes a []uint16 as little-endian bytes, the representation
// st_index.columns and similar packed fields use on disk.
func packUint16s(vs []uint16) []byte {
	out := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func unpackUint16s(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return out
}

func packTags(ts []layout.Tag) []byte {
	out := make([]byte, len(ts))
	for i, t := range ts {
		out[i] = byte(t)
	}
	return out
}

func unpackTags(b []byte) []layout.Tag {
	out := make([]layout.Tag, len(b))
	for i, v := range b {
		out[i] = layout.Tag(v)
	}
	return out
}

// EncodeTableRow converts r into the AlgebraicValue product st_table stores.
func EncodeTableRow(r TableRow) layout.AlgebraicValue {
	return layout.Product(
		layout.U32(uint32(r.TableId)),
		layout.String(r.Name),
		layout.U8(uint8(r.Kind)),
		layout.U8(uint8(r.Access)),
	)
}

// DecodeTableRow is the inverse of EncodeTableRow.
func DecodeTableRow(v layout.AlgebraicValue) TableRow {
	f := v.AsProduct()
	return TableRow{
		TableId: Id(f[0].AsUint()),
		Name:    f[1].AsString(),
		Kind:    table.Kind(f[2].AsUint()),
		Access:  table.Access(f[3].AsUint()),
	}
}

// EncodeColumnRow converts r into the AlgebraicValue product st_column stores.
func EncodeColumnRow(r ColumnRow) layout.AlgebraicValue {
	return layout.Product(
		layout.U32(uint32(r.TableId)),
		layout.U16(r.ColPos),
		layout.String(r.Name),
		layout.U8(uint8(r.Tag)),
	)
}

func DecodeColumnRow(v layout.AlgebraicValue) ColumnRow {
	f := v.AsProduct()
	return ColumnRow{
		TableId: Id(f[0].AsUint()),
		ColPos:  uint16(f[1].AsUint()),
		Name:    f[2].AsString(),
		Tag:     layout.Tag(f[3].AsUint()),
	}
}

// EncodeIndexRow converts r into the AlgebraicValue product st_index stores.
func EncodeIndexRow(r IndexRow) layout.AlgebraicValue {
	return layout.Product(
		layout.U32(r.IndexId),
		layout.U32(uint32(r.TableId)),
		layout.String(r.Name),
		layout.Bytes(packUint16s(r.Columns)),
		layout.Bool(r.IsUnique),
	)
}

func DecodeIndexRow(v layout.AlgebraicValue) IndexRow {
	f := v.AsProduct()
	return IndexRow{
		IndexId:  uint32(f[0].AsUint()),
		TableId:  Id(f[1].AsUint()),
		Name:     f[2].AsString(),
		Columns:  unpackUint16s(f[3].AsBytes()),
		IsUnique: f[4].AsBool(),
	}
}

// EncodeConstraintRow converts r into the AlgebraicValue product
// st_constraint stores.
func EncodeConstraintRow(r ConstraintRow) layout.AlgebraicValue {
	return layout.Product(
		layout.U32(r.ConstraintId),
		layout.U32(uint32(r.TableId)),
		layout.String(r.Name),
		layout.U32(r.IndexId),
	)
}

func DecodeConstraintRow(v layout.AlgebraicValue) ConstraintRow {
	f := v.AsProduct()
	return ConstraintRow{
		ConstraintId: uint32(f[0].AsUint()),
		TableId:      Id(f[1].AsUint()),
		Name:         f[2].AsString(),
		IndexId:      uint32(f[3].AsUint()),
	}
}

// EncodeSequenceRow converts r into the AlgebraicValue product st_sequence
// stores.
func EncodeSequenceRow(r SequenceRow) layout.AlgebraicValue {
	return layout.Product(
		layout.U32(r.SequenceId),
		layout.U32(uint32(r.TableId)),
		layout.U16(r.ColPos),
		layout.I64(r.Start),
		layout.I64(r.Increment),
		layout.I64(r.Allocated),
	)
}

func DecodeSequenceRow(v layout.AlgebraicValue) SequenceRow {
	f := v.AsProduct()
	return SequenceRow{
		SequenceId: uint32(f[0].AsUint()),
		TableId:    Id(f[1].AsUint()),
		ColPos:     uint16(f[2].AsUint()),
		Start:      f[3].AsInt(),
		Increment:  f[4].AsInt(),
		Allocated:  f[5].AsInt(),
	}
}

// EncodeScheduleRow converts r into the AlgebraicValue product st_schedule
// stores.
func EncodeScheduleRow(r ScheduleRow) layout.AlgebraicValue {
	return layout.Product(
		layout.U32(r.ScheduleId),
		layout.U32(uint32(r.TableId)),
		layout.String(r.ReducerName),
		layout.U16(r.AtColumn),
	)
}

func DecodeScheduleRow(v layout.AlgebraicValue) ScheduleRow {
	f := v.AsProduct()
	return ScheduleRow{
		ScheduleId:  uint32(f[0].AsUint()),
		TableId:     Id(f[1].AsUint()),
		ReducerName: f[2].AsString(),
		AtColumn:    uint16(f[3].AsUint()),
	}
}

// EncodeRowLevelSecurityRow converts r into the AlgebraicValue product
// st_row_level_security stores.
func EncodeRowLevelSecurityRow(r RowLevelSecurityRow) layout.AlgebraicValue {
	return layout.Product(layout.U32(uint32(r.TableId)), layout.String(r.Sql))
}

func DecodeRowLevelSecurityRow(v layout.AlgebraicValue) RowLevelSecurityRow {
	f := v.AsProduct()
	return RowLevelSecurityRow{TableId: Id(f[0].AsUint()), Sql: f[1].AsString()}
}

// EncodeModuleRow converts r into the AlgebraicValue product st_module
// stores.
func EncodeModuleRow(r ModuleRow) layout.AlgebraicValue {
	return layout.Product(layout.Bytes(r.ModuleHash), layout.U64(r.Epoch))
}

func DecodeModuleRow(v layout.AlgebraicValue) ModuleRow {
	f := v.AsProduct()
	return ModuleRow{ModuleHash: f[0].AsBytes(), Epoch: f[1].AsUint()}
}

// EncodeReducerRow converts r into the AlgebraicValue product st_reducer
// stores.
func EncodeReducerRow(r ReducerRow) layout.AlgebraicValue {
	return layout.Product(
		layout.U32(r.ReducerId),
		layout.String(r.Name),
		layout.Bytes(packTags(r.ParamTags)),
	)
}

func DecodeReducerRow(v layout.AlgebraicValue) ReducerRow {
	f := v.AsProduct()
	return ReducerRow{
		ReducerId: uint32(f[0].AsUint()),
		Name:      f[1].AsString(),
		ParamTags: unpackTags(f[2].AsBytes()),
	}
}
