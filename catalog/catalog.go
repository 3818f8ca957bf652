// Package catalog defines the system catalog: the fixed set of tables the
// core owns to describe user schemas, indexes, constraints, sequences,
// scheduled reducers, row-level-security policies, and installed modules.
// Catalog tables are ordinary table.Table instances — user code reads them
// through the same iter_by_col_eq/iter_by_col_range surface as any other
// table — but only the core ever writes to them.
package catalog

import (
	"github.com/clockworklabs/spacetimedb-core/layout"
	"github.com/clockworklabs/spacetimedb-core/table"
)

// System table ids are assigned a low, stable range so they never collide
// with a user table id (user ids start at FirstUserTableId).
const (
	StTable Id = iota
	StColumn
	StIndex
	StConstraint
	StSequence
	StSchedule
	StRowLevelSecurity
	StModule
	StReducer

	FirstUserTableId Id = 4096
)

// Id is a table.Id alias kept distinct in this package for readability in
// catalog schema declarations.
type Id = table.Id

// TableRow mirrors one st_table entry.
type TableRow struct {
	TableId   Id
	Name      string
	Kind      table.Kind
	Access    table.Access
}

// ColumnRow mirrors one st_column entry.
type ColumnRow struct {
	TableId  Id
	ColPos   uint16
	Name     string
	Tag      layout.Tag
}

// IndexRow mirrors one st_index entry.
type IndexRow struct {
	IndexId  uint32
	TableId  Id
	Name     string
	Columns  []uint16 // column positions, in key order
	IsUnique bool
}

// ConstraintRow mirrors one st_constraint entry (currently only unique
// constraints backed by an index are modeled).
type ConstraintRow struct {
	ConstraintId uint32
	TableId      Id
	Name         string
	IndexId      uint32
}

// SequenceRow mirrors one st_sequence entry: an auto-increment column
// allocator.
type SequenceRow struct {
	SequenceId uint32
	TableId    Id
	ColPos     uint16
	Start      int64
	Increment  int64
	Allocated  int64 // high-water mark already handed out (in-memory state, persisted on checkpoint)
}

// ScheduleRow mirrors one st_schedule entry: a reducer invoked on a
// periodic or at-time basis.
type ScheduleRow struct {
	ScheduleId   uint32
	TableId      Id
	ReducerName  string
	AtColumn     uint16 // column holding the scheduled_at timestamp/interval
}

// RowLevelSecurityRow mirrors one st_row_level_security entry: a SQL
// filter applied to a table for non-owner queries.
type RowLevelSecurityRow struct {
	TableId Id
	Sql     string
}

// ModuleRow mirrors the single st_module entry describing the currently
// installed module.
type ModuleRow struct {
	ModuleHash  []byte
	Epoch       uint64
}

// ReducerRow mirrors one st_reducer entry.
type ReducerRow struct {
	ReducerId uint32
	Name      string
	ParamTags []layout.Tag
}

// tableSchema returns the table.Schema for schema declarations below.
func tableSchema(name string, columns ...layout.ColumnDef) table.Schema {
	return table.Schema{Name: name, Columns: columns, RejectExactDuplicates: false}
}

// Schemas returns the compiled schema for every system table, indexed by
// its Id, used to bootstrap a fresh CommittedState.
func Schemas() map[Id]table.Schema {
	return map[Id]table.Schema{
		StTable: tableSchema("st_table",
			layout.ColumnDef{Name: "table_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "name", Tag: layout.TagString},
			layout.ColumnDef{Name: "kind", Tag: layout.TagU8},
			layout.ColumnDef{Name: "access", Tag: layout.TagU8},
		),
		StColumn: tableSchema("st_column",
			layout.ColumnDef{Name: "table_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "col_pos", Tag: layout.TagU16},
			layout.ColumnDef{Name: "name", Tag: layout.TagString},
			layout.ColumnDef{Name: "tag", Tag: layout.TagU8},
		),
		StIndex: tableSchema("st_index",
			layout.ColumnDef{Name: "index_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "table_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "name", Tag: layout.TagString},
			layout.ColumnDef{Name: "columns", Tag: layout.TagBytes}, // packed []uint16
			layout.ColumnDef{Name: "is_unique", Tag: layout.TagBool},
		),
		StConstraint: tableSchema("st_constraint",
			layout.ColumnDef{Name: "constraint_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "table_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "name", Tag: layout.TagString},
			layout.ColumnDef{Name: "index_id", Tag: layout.TagU32},
		),
		StSequence: tableSchema("st_sequence",
			layout.ColumnDef{Name: "sequence_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "table_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "col_pos", Tag: layout.TagU16},
			layout.ColumnDef{Name: "start", Tag: layout.TagI64},
			layout.ColumnDef{Name: "increment", Tag: layout.TagI64},
			layout.ColumnDef{Name: "allocated", Tag: layout.TagI64},
		),
		StSchedule: tableSchema("st_schedule",
			layout.ColumnDef{Name: "schedule_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "table_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "reducer_name", Tag: layout.TagString},
			layout.ColumnDef{Name: "at_column", Tag: layout.TagU16},
		),
		StRowLevelSecurity: tableSchema("st_row_level_security",
			layout.ColumnDef{Name: "table_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "sql", Tag: layout.TagString},
		),
		StModule: tableSchema("st_module",
			layout.ColumnDef{Name: "module_hash", Tag: layout.TagBytes},
			layout.ColumnDef{Name: "epoch", Tag: layout.TagU64},
		),
		StReducer: tableSchema("st_reducer",
			layout.ColumnDef{Name: "reducer_id", Tag: layout.TagU32},
			layout.ColumnDef{Name: "name", Tag: layout.TagString},
			layout.ColumnDef{Name: "param_tags", Tag: layout.TagBytes}, // packed []Tag
		),
	}
}

// Names maps every system table id to its stable name, for diagnostics and
// for NotFound error messages.
var Names = map[Id]string{
	StTable:            "st_table",
	StColumn:           "st_column",
	StIndex:            "st_index",
	StConstraint:       "st_constraint",
	StSequence:         "st_sequence",
	StSchedule:         "st_schedule",
	StRowLevelSecurity: "st_row_level_security",
	StModule:           "st_module",
	StReducer:          "st_reducer",
}
