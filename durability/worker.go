// Package durability runs the single-actor worker that turns committed
// transactions into durable commit-log records: a biased select loop that
// prioritizes shutdown over periodic sync over dequeueing new work, so a
// slow producer can never starve a pending close or an overdue fsync.
package durability

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clockworklabs/spacetimedb-core/commitlog"
	"github.com/clockworklabs/spacetimedb-core/internal/logutil"
	"github.com/clockworklabs/spacetimedb-core/table"
	"github.com/clockworklabs/spacetimedb-core/txn"
)

// DefaultSyncInterval is the periodic flush+sync tick period.
const DefaultSyncInterval = 50 * time.Millisecond

// DefaultCloseTimeout bounds how long Close waits for the final sync before
// giving up and proceeding with shutdown anyway.
const DefaultCloseTimeout = 10 * time.Second

var (
	appendedCommits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spacetimedb_durability_commits_appended_total",
		Help: "Commit log records appended by the durability worker.",
	})
	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "spacetimedb_durability_sync_seconds",
		Help: "Time spent flushing and fsyncing the active commit log segment.",
	})
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spacetimedb_durability_queue_depth",
		Help: "Transactions buffered in the durability worker's request channel.",
	})
)

func init() {
	prometheus.MustRegister(appendedCommits, syncDuration, queueDepth)
}

// request is one transaction enqueued for durability.
type request struct {
	data txn.TxData
}

// Worker owns the commit log and the single goroutine that appends and
// syncs it. All public methods are safe to call from any goroutine; the
// actor goroutine itself never blocks on a caller.
type Worker struct {
	log     *commitlog.Log
	offset  *DurableOffset
	queue   chan request
	closeCh chan chan uint64
	done    chan struct{}
	logger  *logutil.Logger

	syncInterval time.Duration
	closeTimeout time.Duration
}

// Option customizes a Worker at Spawn time.
type Option func(*options)

type options struct {
	syncInterval  time.Duration
	closeTimeout  time.Duration
	queueCapacity int
}

// WithSyncInterval overrides DefaultSyncInterval.
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.syncInterval = d
		}
	}
}

// WithCloseTimeout overrides DefaultCloseTimeout.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.closeTimeout = d
		}
	}
}

// WithQueueCapacity overrides the request channel's buffer size.
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueCapacity = n
		}
	}
}

// Spawn starts the actor goroutine over an already opened log, returning a
// Worker handle.
// The caller must eventually call Close.
func Spawn(log *commitlog.Log, opts ...Option) *Worker {
	o := options{
		syncInterval:  DefaultSyncInterval,
		closeTimeout:  DefaultCloseTimeout,
		queueCapacity: 256,
	}
	for _, fn := range opts {
		fn(&o)
	}

	w := &Worker{
		log:          log,
		offset:       NewDurableOffset(),
		queue:        make(chan request, o.queueCapacity),
		closeCh:      make(chan chan uint64),
		done:         make(chan struct{}),
		logger:       logutil.Root().With("component", "durability"),
		syncInterval: o.syncInterval,
		closeTimeout: o.closeTimeout,
	}
	w.offset.Set(log.NextTxOffset())
	go w.run()
	return w
}

// RequestDurability enqueues a committed transaction's effects (including
// its reducer context, if any, via data.ReducerContext) for appending to
// the commit log. Non-blocking with respect to the log I/O itself; it only
// blocks if the internal queue is full, applying backpressure to the
// single writer. Must not be called after Close.
func (w *Worker) RequestDurability(data txn.TxData) {
	if data.IsEmpty() {
		return
	}
	queueDepth.Inc()
	w.queue <- request{data: data}
}

// DurableOffset returns the watchable offset tracking the commit log's next
// tx offset as of the last completed sync, i.e. one past the last
// transaction known to be fsynced.
func (w *Worker) DurableOffset() *DurableOffset { return w.offset }

// Close drains the queue, performs a final sync, and stops the actor
// goroutine, returning the durable offset (one past the last fsynced
// transaction). If the final sync has not completed within closeTimeout,
// Close logs a warning and returns the durable offset published so far,
// without waiting for the actor goroutine to exit.
func (w *Worker) Close() uint64 {
	reply := make(chan uint64, 1)
	w.closeCh <- reply
	select {
	case last := <-reply:
		return last
	case <-time.After(w.closeTimeout):
		w.logger.Warn("durability worker close timed out waiting for final sync", "timeout", w.closeTimeout)
		return w.offset.Load()
	}
}

func (w *Worker) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.syncInterval)
	defer ticker.Stop()

	for {
		// Priority 1: shutdown, checked non-blocking before anything else.
		select {
		case reply := <-w.closeCh:
			w.shutdown(reply)
			return
		default:
		}

		// Priority 2: the periodic sync tick, also checked non-blocking so
		// a tick fired while we were busy appending is serviced before any
		// further dequeue. time.Ticker already drops buffered ticks rather
		// than bursting, giving MissedTickBehavior::Delay semantics for
		// free.
		select {
		case <-ticker.C:
			w.syncOnce()
			continue
		default:
		}

		// Priority 3: block for whichever of the three happens next.
		select {
		case reply := <-w.closeCh:
			w.shutdown(reply)
			return
		case <-ticker.C:
			w.syncOnce()
		case req := <-w.queue:
			queueDepth.Dec()
			w.appendOne(req)
		}
	}
}

func (w *Worker) shutdown(reply chan uint64) {
	w.drainAndAppend()
	w.syncOnce()
	if err := w.log.Close(); err != nil {
		w.logger.Error("commit log close failed", "err", err)
	}
	reply <- w.offset.Load()
}

func (w *Worker) drainAndAppend() {
	for {
		select {
		case req := <-w.queue:
			queueDepth.Dec()
			w.appendOne(req)
		default:
			return
		}
	}
}

func (w *Worker) appendOne(req request) {
	data := filterTruncatedDeletes(req.data)
	payload := txn.EncodePayload(data)
	commit := commitlog.Commit{NumTx: 1, Records: payload}
	if _, err := w.log.Append(commit); err != nil {
		w.logger.Crit("commit log append failed", "err", errors.WithStack(err))
	}
	appendedCommits.Inc()
}

func (w *Worker) syncOnce() {
	start := time.Now()
	offset, err := w.log.Sync()
	syncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		w.logger.Crit("commit log sync failed", "err", errors.WithStack(err))
		return
	}
	w.offset.Set(offset)
}

// filterTruncatedDeletes drops delete ops for any table also present in
// Truncates, since a truncate already subsumes every delete against that
// table in the same transaction.
func filterTruncatedDeletes(d txn.TxData) txn.TxData {
	if len(d.Truncates) == 0 {
		return d
	}
	truncated := make(map[table.Id]bool, len(d.Truncates))
	for _, id := range d.Truncates {
		truncated[id] = true
	}
	kept := d.Deletes[:0:0]
	for _, op := range d.Deletes {
		if !truncated[op.TableId] {
			kept = append(kept, op)
		}
	}
	d.Deletes = kept
	return d
}
