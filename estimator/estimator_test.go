package estimator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableScan(t *testing.T) {
	require := require.New(t)

	limit := uint64(10)
	require.Equal(uint64(10), EstimateRows(&Plan{Kind: TableScan, RowCount: 1000, Limit: &limit}))
	require.Equal(uint64(1000), EstimateRows(&Plan{Kind: TableScan, RowCount: 1000}))
	require.Equal(uint64(0), EstimateRows(&Plan{Kind: TableScan, RowCount: 1000, ScanKind: ScanDelta}))
}

func TestIxScan(t *testing.T) {
	require := require.New(t)

	require.Equal(uint64(10), EstimateRows(&Plan{Kind: IxScan, RowCount: 100, NumDistinct: 10}))
	require.Equal(uint64(0), EstimateRows(&Plan{Kind: IxScan, RowCount: 100, NumDistinct: 0}))
	require.Equal(uint64(100), EstimateRows(&Plan{Kind: IxScan, RowCount: 100, Predicate: PredicateRange}))
}

func TestFilterPassesThroughInput(t *testing.T) {
	require := require.New(t)

	input := &Plan{Kind: TableScan, RowCount: 42}
	require.Equal(uint64(42), EstimateRows(&Plan{Kind: Filter, Lhs: input}))
}

func TestJoins(t *testing.T) {
	require := require.New(t)

	lhs := &Plan{Kind: TableScan, RowCount: 10}
	rhs := &Plan{Kind: TableScan, RowCount: 20}
	require.Equal(uint64(200), EstimateRows(&Plan{Kind: NLJoin, Lhs: lhs, Rhs: rhs}))

	require.Equal(uint64(10), EstimateRows(&Plan{Kind: IxJoin, Unique: true, Lhs: lhs, Rhs: rhs}))
	require.Equal(uint64(10), EstimateRows(&Plan{Kind: HashJoin, Unique: true, Lhs: lhs, Rhs: rhs}))

	rhsIndexed := &Plan{Kind: TableScan, RowCount: 100, NumDistinct: 10}
	require.Equal(uint64(100), EstimateRows(&Plan{Kind: IxJoin, Lhs: lhs, Rhs: rhsIndexed}))
	require.Equal(uint64(0), EstimateRows(&Plan{Kind: IxJoin, Lhs: lhs, Rhs: &Plan{RowCount: 100, NumDistinct: 0}}))

	require.Equal(uint64(200), EstimateRows(&Plan{Kind: HashJoin, Lhs: lhs, Rhs: rhs}))
}

func TestSaturatingArithmeticNearMax(t *testing.T) {
	require := require.New(t)

	lhs := &Plan{Kind: TableScan, RowCount: math.MaxUint64}
	rhs := &Plan{Kind: TableScan, RowCount: 2}
	require.Equal(uint64(math.MaxUint64), EstimateRows(&Plan{Kind: NLJoin, Lhs: lhs, Rhs: rhs}))

	require.Equal(uint64(math.MaxUint64), satAdd(math.MaxUint64, 1))
	require.Equal(uint64(0), satMul(0, math.MaxUint64))
}

func TestEstimateRowsScanned(t *testing.T) {
	require := require.New(t)

	scan := &Plan{Kind: TableScan, RowCount: 50}
	filtered := &Plan{Kind: Filter, Lhs: scan}
	require.Equal(uint64(100), EstimateRowsScanned(filtered))
}
