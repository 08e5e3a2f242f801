package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tkingovr/aifirewall/api"
	"github.com/tkingovr/aifirewall/internal/config"
	"github.com/tkingovr/aifirewall/internal/module"
	"github.com/tkingovr/aifirewall/internal/pipeline"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type memStore struct {
	NopStore
	mu      sync.Mutex
	entries []*api.LogEntry
	batches int
	err     error
	block   chan struct{}
}

func (s *memStore) Append(_ context.Context, entries ...*api.LogEntry) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *memStore) snapshot() ([]*api.LogEntry, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*api.LogEntry(nil), s.entries...), s.batches
}

func testVerdict() *pipeline.Verdict {
	redacted := "my key is [REDACTED:aws_key]"
	return &pipeline.Verdict{
		Allowed:    false,
		Confidence: 0.8,
		Outcomes: []pipeline.Outcome{
			{Module: "contextProtection", Result: module.Rewrite(1.0, redacted), Duration: 2 * time.Millisecond},
			{Module: "promptProtection", Result: module.Deny(0.8, "instruction override attempt")},
			{
				Module: "slow",
				Result: module.Deny(1.0, pipeline.ReasonTimeout),
				Err:    &pipeline.ModuleTimeoutError{Module: "slow", Timeout: time.Second},
			},
		},
	}
}

func TestEmitter_Entries(t *testing.T) {
	e := NewEmitter(&memStore{}, discard)
	defer e.Stop()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	sub := module.Submission{RequestID: "req-1", Content: "my key is AKIA...", ClientIP: "10.0.0.7"}
	entries := e.Entries(sub, testVerdict())
	if len(entries) != 3 {
		t.Fatalf("expected one entry per module, got %d", len(entries))
	}

	ids := map[string]bool{}
	for i, want := range []string{"contextProtection", "promptProtection", "slow"} {
		got := entries[i]
		if got.Module != want {
			t.Errorf("entry %d: expected module %s, got %s", i, want, got.Module)
		}
		if got.RequestID != "req-1" || got.ClientIP != "10.0.0.7" {
			t.Errorf("entry %d: request metadata not copied: %+v", i, got)
		}
		if got.OriginalContent != sub.Content {
			t.Errorf("entry %d: expected original content, got %q", i, got.OriginalContent)
		}
		if !got.Timestamp.Equal(fixed) {
			t.Errorf("entry %d: expected fixed timestamp, got %s", i, got.Timestamp)
		}
		if got.ContentHash == "" || got.ContentHash != entries[0].ContentHash {
			t.Errorf("entry %d: expected shared content hash, got %q", i, got.ContentHash)
		}
		ids[got.ID] = true
	}
	if len(ids) != 3 {
		t.Error("expected unique entry ids")
	}

	if entries[0].Result.ModifiedContent == nil || entries[0].DurationMS != 2 {
		t.Errorf("expected rewrite and duration on first entry: %+v", entries[0])
	}
	if entries[1].Result.Allowed || entries[1].Result.Reason != "instruction override attempt" {
		t.Errorf("unexpected deny entry: %+v", entries[1].Result)
	}
	if entries[2].Error == "" || entries[2].Result.Reason != pipeline.ReasonTimeout {
		t.Errorf("expected timeout recorded on entry: %+v", entries[2])
	}
}

func TestEmitter_RecordFlushesOnStop(t *testing.T) {
	store := &memStore{}
	e := NewEmitter(store, discard, WithFlushInterval(time.Hour))

	e.Record(module.Submission{RequestID: "r1", Content: "x"}, testVerdict())
	e.Stop()

	entries, _ := store.snapshot()
	if len(entries) != 3 {
		t.Fatalf("expected 3 flushed entries, got %d", len(entries))
	}
	if e.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", e.Dropped())
	}
}

func TestEmitter_BatchSize(t *testing.T) {
	store := &memStore{}
	e := NewEmitter(store, discard, WithBatchSize(2), WithFlushInterval(time.Hour))

	for i := 0; i < 4; i++ {
		e.Emit(testEntry("r", "logging", true, time.Now()))
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, batches := store.snapshot(); batches >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected two full batches to flush without the ticker")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.Stop()

	entries, batches := store.snapshot()
	if len(entries) != 4 || batches != 2 {
		t.Errorf("expected 4 entries in 2 batches, got %d in %d", len(entries), batches)
	}
}

func TestEmitter_FlushInterval(t *testing.T) {
	store := &memStore{}
	e := NewEmitter(store, discard, WithFlushInterval(10*time.Millisecond))
	defer e.Stop()

	e.Emit(testEntry("r", "logging", true, time.Now()))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if entries, _ := store.snapshot(); len(entries) == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected partial batch flushed by ticker")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	store := &memStore{block: make(chan struct{})}
	reg := prometheus.NewRegistry()
	metrics := NewEmitterMetrics(reg)
	e := NewEmitter(store, discard,
		WithBufferSize(1),
		WithBatchSize(1),
		WithSendTimeout(0),
		WithEmitterMetrics(metrics),
	)

	// The worker takes the first entry and blocks in Append; the second
	// fills the queue; the rest are dropped.
	e.Emit(testEntry("a", "m", true, time.Now()))
	deadline := time.Now().Add(2 * time.Second)
	for e.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first entry")
		}
		time.Sleep(time.Millisecond)
	}

	start := time.Now()
	e.Emit(
		testEntry("b", "m", true, time.Now()),
		testEntry("c", "m", true, time.Now()),
		testEntry("d", "m", true, time.Now()),
	)
	if time.Since(start) > time.Second {
		t.Error("emit blocked with zero send timeout")
	}
	if e.Dropped() != 2 {
		t.Errorf("expected 2 drops, got %d", e.Dropped())
	}
	if got := testutil.ToFloat64(metrics.Dropped); got != 2 {
		t.Errorf("expected dropped metric 2, got %v", got)
	}

	close(store.block)
	e.Stop()

	entries, _ := store.snapshot()
	if len(entries) != 2 {
		t.Errorf("expected 2 stored entries, got %d", len(entries))
	}
}

func TestEmitter_SendTimeoutBounded(t *testing.T) {
	store := &memStore{block: make(chan struct{})}
	e := NewEmitter(store, discard,
		WithBufferSize(1),
		WithBatchSize(1),
		WithSendTimeout(20*time.Millisecond),
	)

	e.Emit(testEntry("a", "m", true, time.Now()))
	for e.Pending() != 0 {
		time.Sleep(time.Millisecond)
	}
	e.Emit(testEntry("b", "m", true, time.Now()))

	start := time.Now()
	e.Emit(testEntry("c", "m", true, time.Now()))
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond || elapsed > time.Second {
		t.Errorf("expected emit to wait about the send timeout, took %s", elapsed)
	}
	if e.Dropped() != 1 {
		t.Errorf("expected 1 drop, got %d", e.Dropped())
	}

	close(store.block)
	e.Stop()
}

func TestEmitter_RecordNeverWaits(t *testing.T) {
	store := &memStore{block: make(chan struct{})}
	e := NewEmitter(store, discard,
		WithBufferSize(1),
		WithBatchSize(1),
		WithSendTimeout(time.Second),
	)

	e.Emit(testEntry("a", "m", true, time.Now()))
	for e.Pending() != 0 {
		time.Sleep(time.Millisecond)
	}
	e.Emit(testEntry("b", "m", true, time.Now()))

	for i := 0; i < 5; i++ {
		start := time.Now()
		e.Record(module.Submission{RequestID: "r", Content: "x"}, testVerdict())
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Fatalf("record %d waited %s on a full queue", i, elapsed)
		}
	}
	if e.Dropped() != 15 {
		t.Errorf("expected 15 drops, got %d", e.Dropped())
	}

	close(store.block)
	e.Stop()
}

// ctxStore blocks every append until ctx is done.
type ctxStore struct {
	NopStore
}

func (*ctxStore) Append(ctx context.Context, _ ...*api.LogEntry) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEmitter_FlushTimeout(t *testing.T) {
	e := NewEmitter(&ctxStore{}, discard, WithFlushTimeout(20*time.Millisecond))
	e.Emit(testEntry("a", "m", true, time.Now()))

	start := time.Now()
	e.Stop()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("stop took %s with a bounded flush", elapsed)
	}
	last := e.LastSinkError()
	if last == nil || !errors.Is(last, context.DeadlineExceeded) {
		t.Errorf("expected deadline sink error, got %v", last)
	}
}

func TestEmitter_StopAbandonsStuckStore(t *testing.T) {
	store := &memStore{block: make(chan struct{})}
	defer close(store.block)

	e := NewEmitter(store, discard,
		WithBatchSize(1),
		WithStopTimeout(50*time.Millisecond),
	)
	e.Emit(testEntry("a", "m", true, time.Now()))
	for e.Pending() != 0 {
		time.Sleep(time.Millisecond)
	}
	e.Emit(testEntry("b", "m", true, time.Now()))

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop blocked on a store that never returns")
	}
	if e.Dropped() != 2 {
		t.Errorf("expected in-flight and queued entries dropped, got %d", e.Dropped())
	}

	e.Stop()
}

func TestEmitter_SinkErrors(t *testing.T) {
	sinkErr := errors.New("disk full")
	store := &memStore{err: sinkErr}
	reg := prometheus.NewRegistry()
	metrics := NewEmitterMetrics(reg)
	e := NewEmitter(store, discard, WithEmitterMetrics(metrics))

	e.Record(module.Submission{RequestID: "r1", Content: "x"}, testVerdict())
	e.Stop()

	if e.SinkErrors() != 1 {
		t.Errorf("expected 1 sink error, got %d", e.SinkErrors())
	}
	last := e.LastSinkError()
	if last == nil || !errors.Is(last, sinkErr) || last.Count != 3 {
		t.Errorf("expected sink error wrapping cause for 3 entries, got %v", last)
	}
	if got := testutil.ToFloat64(metrics.SinkErrors); got != 1 {
		t.Errorf("expected sink error metric 1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Written); got != 0 {
		t.Errorf("expected nothing written, got %v", got)
	}
}

func TestEmitter_EmitAfterStop(t *testing.T) {
	store := &memStore{}
	e := NewEmitter(store, discard)
	e.Stop()
	e.Stop()

	e.Emit(testEntry("late", "m", true, time.Now()))
	if e.Dropped() != 1 {
		t.Errorf("expected entry after stop dropped, got %d", e.Dropped())
	}
}

func TestEmitter_ConcurrentRecord(t *testing.T) {
	store := &memStore{}
	e := NewEmitter(store, discard, WithBufferSize(1000), WithSendTimeout(time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Record(module.Submission{RequestID: "r", Content: "x"}, testVerdict())
		}()
	}
	wg.Wait()
	e.Stop()

	entries, _ := store.snapshot()
	if len(entries)+int(e.Dropped()) != 60 {
		t.Errorf("expected 60 entries accounted for, got %d stored and %d dropped", len(entries), e.Dropped())
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	for _, sink := range []string{config.SinkJSONL, config.SinkSQLite, config.SinkNone} {
		store, err := OpenStore(config.AuditConfig{
			Sink:       sink,
			Dir:        dir + "/jsonl",
			SQLitePath: dir + "/audit.db",
		})
		if err != nil {
			t.Fatalf("%s: %v", sink, err)
		}
		if err := store.Close(); err != nil {
			t.Errorf("%s close: %v", sink, err)
		}
	}

	if _, err := OpenStore(config.AuditConfig{Sink: "kafka"}); err == nil {
		t.Error("expected error for unknown sink")
	}
}
