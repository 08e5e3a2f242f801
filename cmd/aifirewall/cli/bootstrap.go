package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tkingovr/aifirewall/internal/config"
	"github.com/tkingovr/aifirewall/internal/logging"
	"github.com/tkingovr/aifirewall/internal/module/builtin"
	"github.com/tkingovr/aifirewall/internal/pipeline"
)

const redisPingTimeout = 2 * time.Second

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		cfg, err := config.Load(config.DefaultConfigPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}
	return config.DefaultConfig()
}

func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, func() error, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	return logging.New(w, level, cfg.Log.File)
}

// connectRedis returns a client for the configured Redis, or nil when none is
// configured or it cannot be reached. Rate limiting then stays per process.
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) redis.UniversalClient {
	if !cfg.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-process rate limiting",
			"addr", cfg.Addr(),
			"error", err,
		)
		client.Close()
		return nil
	}
	logger.Info("connected to redis", "addr", cfg.Addr())
	return client
}

func buildPipeline(cfg *config.Config, logger *slog.Logger, rdb redis.UniversalClient, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	reg := builtin.NewRegistry(builtin.Deps{Logger: logger, Redis: rdb})
	modules, err := reg.Resolve(cfg.Modules)
	if err != nil {
		return nil, err
	}

	opts = append([]pipeline.Option{
		pipeline.WithTimeout(cfg.Pipeline.ModuleTimeout),
		pipeline.WithBlockImmediately(cfg.Pipeline.BlockImmediately),
		pipeline.WithLogger(logger),
	}, opts...)
	return pipeline.New(modules, opts...), nil
}

func closeAll(logger *slog.Logger, closers ...func() error) {
	var errs []error
	for _, c := range closers {
		if c != nil {
			errs = append(errs, c())
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
