// Package estimator implements a pure cardinality estimator over physical
// query plans, used by the planner to cost and order joins. Every function
// here is a deterministic, side-effect-free function of its input plan and
// the table statistics it carries.
package estimator

import "math"

// PlanKind identifies the shape of one physical plan node.
type PlanKind int

const (
	TableScan PlanKind = iota
	IxScan
	Filter
	NLJoin
	IxJoin
	HashJoin
)

// ScanKind distinguishes a TableScan over live committed rows from one over
// an incremental subscription's delta set.
type ScanKind int

const (
	ScanCommitted ScanKind = iota
	ScanDelta
)

// PredicateKind distinguishes an IxScan's point lookup from a range scan.
type PredicateKind int

const (
	PredicatePoint PredicateKind = iota
	PredicateRange
)

// Plan is one node of a physical query plan. Only the fields relevant to
// Kind are read by EstimateRows/EstimateRowsScanned; a node may have Lhs,
// Rhs, both, or neither, depending on Kind.
type Plan struct {
	Kind PlanKind

	// TableScan
	ScanKind ScanKind
	RowCount uint64
	Limit    *uint64

	// IxScan
	Predicate   PredicateKind
	NumDistinct uint64 // num_distinct_values(col) for the scanned column

	// Filter, NLJoin, IxJoin, HashJoin
	Lhs *Plan
	Rhs *Plan

	// IxJoin, HashJoin
	Unique bool
}

// EstimateRows returns the estimated number of rows flowing out of plan,
// per the rules for each PlanKind. All arithmetic saturates rather than
// overflowing or panicking.
func EstimateRows(plan *Plan) uint64 {
	if plan == nil {
		return 0
	}
	switch plan.Kind {
	case TableScan:
		if plan.ScanKind == ScanDelta {
			return 0
		}
		if plan.Limit != nil {
			return *plan.Limit
		}
		return plan.RowCount

	case IxScan:
		if plan.Predicate == PredicateRange {
			return plan.RowCount
		}
		if plan.NumDistinct == 0 {
			return 0
		}
		return plan.RowCount / plan.NumDistinct

	case Filter:
		return EstimateRows(plan.Lhs)

	case NLJoin:
		return satMul(EstimateRows(plan.Lhs), EstimateRows(plan.Rhs))

	case IxJoin:
		if plan.Unique {
			return EstimateRows(plan.Lhs)
		}
		ndv := plan.Rhs.NumDistinct
		if ndv == 0 {
			return 0
		}
		return satMul(EstimateRows(plan.Lhs), plan.Rhs.RowCount/ndv)

	case HashJoin:
		if plan.Unique {
			return EstimateRows(plan.Lhs)
		}
		return satMul(EstimateRows(plan.Lhs), EstimateRows(plan.Rhs))

	default:
		return 0
	}
}

// EstimateRowsScanned recursively sums the rows read by plan and every
// input it draws from, used for admission control rather than join
// ordering: a Filter node, for instance, contributes its own output rows
// on top of however many its input scanned.
func EstimateRowsScanned(plan *Plan) uint64 {
	if plan == nil {
		return 0
	}
	switch plan.Kind {
	case TableScan, IxScan:
		return EstimateRows(plan)
	case Filter:
		return satAdd(EstimateRowsScanned(plan.Lhs), EstimateRows(plan))
	case NLJoin, IxJoin, HashJoin:
		return satAdd(satAdd(EstimateRowsScanned(plan.Lhs), EstimateRowsScanned(plan.Rhs)), EstimateRows(plan))
	default:
		return 0
	}
}

func satMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}

func satAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return math.MaxUint64
	}
	return sum
}
