package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tkingovr/aifirewall/api"
	"github.com/tkingovr/aifirewall/internal/module"
	"github.com/tkingovr/aifirewall/internal/pipeline"
)

const (
	defaultBufferSize    = 1000
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	defaultSendTimeout   = 100 * time.Millisecond
	defaultFlushTimeout  = 5 * time.Second
	defaultStopTimeout   = 6 * time.Second
)

// SinkError reports a batch the store refused.
type SinkError struct {
	Count int
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("audit sink rejected %d entries: %v", e.Count, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// EmitterMetrics holds the emitter's Prometheus collectors.
type EmitterMetrics struct {
	Dropped    prometheus.Counter
	SinkErrors prometheus.Counter
	Written    prometheus.Counter
}

// NewEmitterMetrics creates and registers the audit metrics with reg.
func NewEmitterMetrics(reg prometheus.Registerer) *EmitterMetrics {
	return &EmitterMetrics{
		Dropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "aifirewall",
			Name:      "audit_dropped_total",
			Help:      "Log entries dropped because the audit queue was full",
		}),
		SinkErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "aifirewall",
			Name:      "audit_sink_errors_total",
			Help:      "Batches the audit store failed to append",
		}),
		Written: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "aifirewall",
			Name:      "audit_entries_written_total",
			Help:      "Log entries appended to the audit store",
		}),
	}
}

// Emitter records verdicts asynchronously. Record never waits for queue
// space and never affects the verdict being recorded.
type Emitter struct {
	store   Store
	logger  *slog.Logger
	metrics *EmitterMetrics

	queue         chan *api.LogEntry
	batchSize     int
	flushInterval time.Duration
	sendTimeout   time.Duration
	flushTimeout  time.Duration
	stopTimeout   time.Duration

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	done     chan struct{}

	// inflight is the size of the batch inside store.Append.
	inflight  atomic.Int64
	abandoned atomic.Bool

	dropped    atomic.Int64
	sinkErrors atomic.Int64
	lastErr    atomic.Pointer[SinkError]

	now func() time.Time
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBatchSize sets how many entries are appended per store call.
func WithBatchSize(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithFlushInterval sets how often a partial batch is flushed.
func WithFlushInterval(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		if d > 0 {
			e.flushInterval = d
		}
	}
}

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.queue = make(chan *api.LogEntry, n)
		}
	}
}

// WithSendTimeout sets how long Emit waits for queue space.
// 0 drops immediately when the queue is full.
func WithSendTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		if d >= 0 {
			e.sendTimeout = d
		}
	}
}

// WithFlushTimeout bounds each store append.
func WithFlushTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		if d > 0 {
			e.flushTimeout = d
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the worker to drain.
func WithStopTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		if d > 0 {
			e.stopTimeout = d
		}
	}
}

// WithEmitterMetrics enables Prometheus metrics.
func WithEmitterMetrics(m *EmitterMetrics) EmitterOption {
	return func(e *Emitter) {
		e.metrics = m
	}
}

// NewEmitter creates an emitter writing to store and starts its worker.
// Call Stop to flush and release it.
func NewEmitter(store Store, logger *slog.Logger, opts ...EmitterOption) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		store:         store,
		logger:        logger,
		queue:         make(chan *api.LogEntry, defaultBufferSize),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		sendTimeout:   defaultSendTimeout,
		flushTimeout:  defaultFlushTimeout,
		stopTimeout:   defaultStopTimeout,
		done:          make(chan struct{}),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	go e.worker()
	return e
}

// Entries builds one log entry per module outcome of v.
func (e *Emitter) Entries(sub module.Submission, v *pipeline.Verdict) []*api.LogEntry {
	ts := e.now().UTC()
	hash := strconv.FormatUint(xxhash.Sum64String(sub.Content), 16)

	entries := make([]*api.LogEntry, 0, len(v.Outcomes))
	for i := range v.Outcomes {
		o := &v.Outcomes[i]
		entry := &api.LogEntry{
			ID:        uuid.NewString(),
			Timestamp: ts,
			RequestID: sub.RequestID,
			Module:    o.Module,
			Result: api.ModuleResult{
				Allowed:         o.Result.Allowed,
				Confidence:      o.Result.Confidence,
				Reason:          o.Result.Reason,
				ModifiedContent: o.Result.ModifiedContent,
			},
			OriginalContent: sub.Content,
			ContentHash:     hash,
			ClientIP:        sub.ClientIP,
			DurationMS:      float64(o.Duration.Microseconds()) / 1000,
		}
		if o.Err != nil {
			entry.Error = o.Err.Error()
		}
		entries = append(entries, entry)
	}
	return entries
}

// Record queues the audit trail of one evaluation. It is called on the
// request path, so entries that do not fit in the queue right away are
// dropped and counted.
func (e *Emitter) Record(sub module.Submission, v *pipeline.Verdict) {
	e.enqueue(0, e.Entries(sub, v))
}

// Emit queues entries for the worker, waiting up to the send timeout for
// space. Entries that still do not fit, or arrive after Stop, are dropped
// and counted.
func (e *Emitter) Emit(entries ...*api.LogEntry) {
	e.enqueue(e.sendTimeout, entries)
}

func (e *Emitter) enqueue(wait time.Duration, entries []*api.LogEntry) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop(entries...)
		return
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for i, entry := range entries {
		select {
		case e.queue <- entry:
			continue
		default:
		}

		if wait <= 0 {
			e.drop(entries[i:]...)
			return
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		}
		select {
		case e.queue <- entry:
		case <-timer.C:
			e.drop(entries[i:]...)
			return
		}
	}
}

func (e *Emitter) drop(entries ...*api.LogEntry) {
	if len(entries) == 0 {
		return
	}
	total := e.countDropped(len(entries))
	e.logger.Warn("audit entries dropped",
		"request_id", entries[0].RequestID,
		"count", len(entries),
		"total_drops", total,
	)
}

func (e *Emitter) countDropped(n int) int64 {
	if n <= 0 {
		return e.dropped.Load()
	}
	if e.metrics != nil {
		e.metrics.Dropped.Add(float64(n))
	}
	return e.dropped.Add(int64(n))
}

// Dropped returns the number of entries dropped so far.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// SinkErrors returns the number of failed store appends.
func (e *Emitter) SinkErrors() int64 {
	return e.sinkErrors.Load()
}

// LastSinkError returns the most recent store failure, or nil.
func (e *Emitter) LastSinkError() *SinkError {
	return e.lastErr.Load()
}

// Pending returns the number of queued entries.
func (e *Emitter) Pending() int {
	return len(e.queue)
}

// Stop flushes queued entries and waits for the worker, at most the stop
// timeout. If the store is still stuck by then, the in-flight batch and the
// queued entries are counted as dropped and the worker is abandoned. It is
// safe to call more than once.
func (e *Emitter) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()

		timer := time.NewTimer(e.stopTimeout)
		defer timer.Stop()
		select {
		case <-e.done:
		case <-timer.C:
			e.abandoned.Store(true)
			lost := int(e.inflight.Load()) + len(e.queue)
			e.logger.Error("audit store did not drain before stop timeout",
				"timeout", e.stopTimeout,
				"abandoned", lost,
			)
			e.countDropped(lost)
		}
	})
}

func (e *Emitter) worker() {
	defer close(e.done)

	batch := make([]*api.LogEntry, 0, e.batchSize)
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for !e.abandoned.Load() {
		select {
		case entry, ok := <-e.queue:
			if !ok {
				if len(batch) > 0 {
					e.flush(batch)
				}
				return
			}
			batch = append(batch, entry)
			if len(batch) >= e.batchSize {
				e.flush(batch)
				batch = make([]*api.LogEntry, 0, e.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				e.flush(batch)
				batch = make([]*api.LogEntry, 0, e.batchSize)
			}
		}
	}
}

// flush appends one batch under the flush timeout. Stores that ignore ctx
// can still block here; Stop gives up on them after the stop timeout.
func (e *Emitter) flush(batch []*api.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), e.flushTimeout)
	defer cancel()

	e.inflight.Store(int64(len(batch)))
	err := e.store.Append(ctx, batch...)
	e.inflight.Store(0)

	if e.abandoned.Load() {
		return
	}
	if err != nil {
		serr := &SinkError{Count: len(batch), Err: err}
		e.sinkErrors.Add(1)
		e.lastErr.Store(serr)
		if e.metrics != nil {
			e.metrics.SinkErrors.Inc()
		}
		e.logger.Error("failed to write audit batch", "error", err, "count", len(batch))
		return
	}
	if e.metrics != nil {
		e.metrics.Written.Add(float64(len(batch)))
	}
}
