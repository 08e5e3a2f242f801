package audit

import (
	"fmt"

	"github.com/tkingovr/aifirewall/internal/config"
)

// OpenStore opens the store selected by cfg.Sink.
func OpenStore(cfg config.AuditConfig) (Store, error) {
	switch cfg.Sink {
	case config.SinkJSONL, "":
		return NewJSONLStore(cfg.Dir)
	case config.SinkSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case config.SinkNone:
		return NewNopStore(), nil
	default:
		return nil, fmt.Errorf("unknown audit sink %q", cfg.Sink)
	}
}

// EmitterOptions maps the queue settings in cfg to emitter options.
func EmitterOptions(cfg config.AuditConfig) []EmitterOption {
	return []EmitterOption{
		WithBufferSize(cfg.BufferSize),
		WithBatchSize(cfg.BatchSize),
		WithFlushInterval(cfg.FlushInterval),
		WithSendTimeout(cfg.SendTimeout),
	}
}
