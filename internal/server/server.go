// Package server exposes the firewall over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tkingovr/aifirewall/internal/audit"
	"github.com/tkingovr/aifirewall/internal/module"
	"github.com/tkingovr/aifirewall/internal/pipeline"
)

const (
	DefaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 10 * time.Second
)

// Evaluator produces a verdict for a submission.
type Evaluator interface {
	Evaluate(ctx context.Context, sub module.Submission) *pipeline.Verdict
}

// Recorder receives the audit trail of each evaluation.
type Recorder interface {
	Record(sub module.Submission, v *pipeline.Verdict)
}

// Options configures a Server.
type Options struct {
	Addr string

	Evaluator Evaluator
	Recorder  Recorder
	Store     audit.Store

	// Modules maps each configured module to its enabled flag for /health.
	Modules map[string]bool

	MaxBodyBytes int64
	Logger       *slog.Logger

	// Registry backs /metrics and the HTTP metrics. Nil disables both.
	Registry *prometheus.Registry
}

// Server is the firewall HTTP server.
type Server struct {
	mux      *http.ServeMux
	handler  http.Handler
	logger   *slog.Logger
	addr     string
	eval     Evaluator
	recorder Recorder
	store    audit.Store
	modules  map[string]bool
	maxBody  int64
	now      func() time.Time

	// closing is closed on shutdown to end live audit streams.
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a server. Evaluator is required; Store defaults to a NopStore.
func New(opts Options) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		logger:   opts.Logger,
		addr:     opts.Addr,
		eval:     opts.Evaluator,
		recorder: opts.Recorder,
		store:    opts.Store,
		modules:  opts.Modules,
		maxBody:  opts.MaxBodyBytes,
		now:      time.Now,
		closing:  make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.store == nil {
		s.store = audit.NewNopStore()
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if s.modules == nil {
		s.modules = map[string]bool{}
	}

	s.registerRoutes(opts.Registry)

	var h http.Handler = s.mux
	if opts.Registry != nil {
		h = instrument(newHTTPMetrics(opts.Registry), h)
	}
	h = securityHeaders(cors(requestID(h)))
	s.handler = otelhttp.NewHandler(h, "aifirewall.http")
	return s
}

func (s *Server) registerRoutes(reg *prometheus.Registry) {
	s.mux.HandleFunc("POST /filter", s.handleFilter)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/audit", s.handleAPIAudit)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleAPIStats)
	s.mux.HandleFunc("GET /api/v1/audit/stream", s.handleAuditStream)
	s.mux.HandleFunc("GET /dashboard", s.handleOverview)
	s.mux.HandleFunc("GET /dashboard/audit", s.handleAudit)
	if reg != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.closeStreams)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting firewall server", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down firewall server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) closeStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}
