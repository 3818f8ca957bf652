package durability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/spacetimedb-core/commitlog"
	"github.com/clockworklabs/spacetimedb-core/table"
	"github.com/clockworklabs/spacetimedb-core/txn"
)

func TestWorkerCloseWaitsForSync(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	log, err := commitlog.Open(dir)
	require.NoError(err)

	w := Spawn(log)
	w.RequestDurability(txn.TxData{
		Inserts: []txn.TableOps{{TableId: table.Id(4096), Rows: [][]byte{[]byte("row1")}}},
	})

	last := w.Close()
	require.Equal(uint64(1), last)
	require.Equal(uint64(1), w.DurableOffset().Load())
}

func TestWorkerSkipsEmptyTransactions(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	log, err := commitlog.Open(dir)
	require.NoError(err)

	w := Spawn(log)
	w.RequestDurability(txn.TxData{})
	last := w.Close()
	require.Equal(uint64(0), last)
}

func TestDurableOffsetWaitPast(t *testing.T) {
	require := require.New(t)
	d := NewDurableOffset()

	done := make(chan uint64, 1)
	go func() { done <- d.WaitPast(0) }()

	d.Set(5)
	require.Equal(uint64(5), <-done)
}
