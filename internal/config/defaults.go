package config

import "time"

const (
	DefaultConfigPath    = "./config/firewall.yaml"
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 3000
	DefaultMaxBodyBytes  = 1 << 20
	DefaultModuleTimeout = 5 * time.Second

	DefaultAuditSink     = SinkJSONL
	DefaultAuditDir      = "./logs/audit"
	DefaultSQLitePath    = "./logs/audit.db"
	DefaultBufferSize    = 1000
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
	DefaultSendTimeout   = 100 * time.Millisecond

	DefaultLogLevel  = "info"
	DefaultRedisPort = 6379
)

// Audit sink kinds.
const (
	SinkJSONL  = "jsonl"
	SinkSQLite = "sqlite"
	SinkNone   = "none"
)

// DefaultModules is the module set used when no config file is given, in
// pipeline order.
var DefaultModules = []string{
	"inputOutputControls",
	"promptProtection",
	"contextProtection",
	"logging",
}
