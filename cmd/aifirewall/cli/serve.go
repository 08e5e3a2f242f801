package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tkingovr/aifirewall/internal/audit"
	"github.com/tkingovr/aifirewall/internal/pipeline"
	"github.com/tkingovr/aifirewall/internal/server"
	"github.com/tkingovr/aifirewall/internal/telemetry"
)

var serveTrace bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the firewall HTTP server",
	Long: `Start the HTTP server. POST /filter evaluates content; GET /health
reports configured modules; audit entries are served under /api/v1 and
a dashboard under /dashboard.`,
	Example: `  aifirewall serve -c config/firewall.yaml
  AIFIREWALL_SERVER_PORT=8080 aifirewall serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveTrace, "trace", false, "export OpenTelemetry spans to stderr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(os.Stderr, cfg)
	if err != nil {
		return err
	}
	defer closeLog() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := telemetry.Config{ServiceName: "aifirewall", Version: version}
	if serveTrace {
		tcfg.Writer = os.Stderr
	}
	shutdownTracing, err := telemetry.SetupProvider(ctx, tcfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rdb := connectRedis(ctx, cfg.Redis, logger)

	p, err := buildPipeline(cfg, logger, rdb, pipeline.WithMetrics(pipeline.NewMetrics(reg)))
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	store, err := audit.OpenStore(cfg.Audit)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	emitter := audit.NewEmitter(store, logger,
		append(audit.EmitterOptions(cfg.Audit), audit.WithEmitterMetrics(audit.NewEmitterMetrics(reg)))...)

	srv := server.New(server.Options{
		Addr:         cfg.Addr(),
		Evaluator:    p,
		Recorder:     emitter,
		Store:        store,
		Modules:      cfg.Modules.Flags(),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
		Registry:     reg,
	})

	logger.Info("pipeline ready",
		"modules", p.Modules(),
		"module_timeout", p.Timeout(),
		"block_immediately", cfg.Pipeline.BlockImmediately,
		"audit_sink", cfg.Audit.Sink,
		"config", cfg.Path,
	)

	serveErr := srv.ListenAndServe(ctx)

	emitter.Stop()
	closers := []func() error{
		store.Close,
		func() error { return shutdownTracing(context.Background()) },
	}
	if rdb != nil {
		closers = append(closers, rdb.Close)
	}
	closeAll(logger, closers...)

	if dropped := emitter.Dropped(); dropped > 0 {
		logger.Warn("audit entries dropped during run", "count", dropped)
	}
	return serveErr
}
