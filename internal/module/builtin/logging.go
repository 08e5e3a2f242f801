package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/tkingovr/aifirewall/internal/module"
)

// LoggingSettings configures the logging module.
type LoggingSettings struct {
	Level          string `yaml:"level"`
	IncludeContent bool   `yaml:"include_content"`
}

// LoggingModule records every submission it sees and always allows it.
type LoggingModule struct {
	logger         *slog.Logger
	level          slog.Level
	includeContent bool
}

// NewLogging builds the module from settings.
func NewLogging(s module.Settings, logger *slog.Logger) (*LoggingModule, error) {
	cfg := LoggingSettings{Level: "info"}
	if err := s.Decode(&cfg); err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("level: %w", err)
	}
	return &LoggingModule{
		logger:         logger.With("module", NameLogging),
		level:          level,
		includeContent: cfg.IncludeContent,
	}, nil
}

func (m *LoggingModule) Name() string { return NameLogging }

func (m *LoggingModule) Process(ctx context.Context, content string) (module.Result, error) {
	attrs := []slog.Attr{
		slog.Int("length", utf8.RuneCountInString(content)),
		slog.String("hash", strconv.FormatUint(xxhash.Sum64String(content), 16)),
	}
	if sub, ok := module.SubmissionFrom(ctx); ok {
		attrs = append(attrs,
			slog.String("request_id", sub.RequestID),
			slog.String("client_ip", sub.ClientIP),
		)
	}
	if m.includeContent {
		attrs = append(attrs, slog.String("content", content))
	}
	m.logger.LogAttrs(ctx, m.level, "content inspected", attrs...)
	return module.Allow(1.0), nil
}
