package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration for the firewall. It is loaded once at
// startup and treated as read-only afterwards.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Modules  ModuleList     `yaml:"modules"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Audit    AuditConfig    `yaml:"audit"`
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`

	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string `yaml:"host" validate:"required"`
	Port         int    `yaml:"port" validate:"required,min=1,max=65535"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" validate:"gte=0"`
}

// PipelineConfig configures module execution.
type PipelineConfig struct {
	ModuleTimeout time.Duration `yaml:"module_timeout" validate:"gte=0"`

	// BlockImmediately stops evaluation at the first denying module.
	BlockImmediately bool `yaml:"block_immediately"`
}

// AuditConfig configures the audit sink and the emitter queue.
type AuditConfig struct {
	Sink          string        `yaml:"sink" validate:"oneof=jsonl sqlite none"`
	Dir           string        `yaml:"dir"`
	SQLitePath    string        `yaml:"sqlite_path"`
	BufferSize    int           `yaml:"buffer_size" validate:"gte=1"`
	BatchSize     int           `yaml:"batch_size" validate:"gte=1"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`

	// SendTimeout bounds blocking emits. Requests record without waiting.
	SendTimeout time.Duration `yaml:"send_timeout" validate:"gte=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// RedisConfig points at an optional Redis used for shared rate-limit state.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Load reads a YAML config file, applies environment overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := LoadBytes(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// LoadBytes parses YAML config data.
func LoadBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns a config with defaults for when no config file is
// given. Host and port can still be overridden through the environment.
func DefaultConfig() (*Config, error) {
	cfg := Config{
		Server: ServerConfig{Host: DefaultHost, Port: DefaultPort},
	}
	for _, name := range DefaultModules {
		cfg.Modules = append(cfg.Modules, ModuleConfig{Name: name, Enabled: true})
	}
	if err := finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func finish(cfg *Config) error {
	if err := ApplyEnv(cfg); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg.Audit.Dir = expandHome(cfg.Audit.Dir)
	cfg.Audit.SQLitePath = expandHome(cfg.Audit.SQLitePath)
	cfg.Log.File = expandHome(cfg.Log.File)
	return nil
}

// SetDefaults fills optional fields left empty in the file.
func (c *Config) SetDefaults() {
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Pipeline.ModuleTimeout == 0 {
		c.Pipeline.ModuleTimeout = DefaultModuleTimeout
	}
	if c.Audit.Sink == "" {
		c.Audit.Sink = DefaultAuditSink
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = DefaultAuditDir
	}
	if c.Audit.SQLitePath == "" {
		c.Audit.SQLitePath = DefaultSQLitePath
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = DefaultBufferSize
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = DefaultBatchSize
	}
	if c.Audit.FlushInterval == 0 {
		c.Audit.FlushInterval = DefaultFlushInterval
	}
	if c.Audit.SendTimeout == 0 {
		c.Audit.SendTimeout = DefaultSendTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Redis.Host != "" && c.Redis.Port == 0 {
		c.Redis.Port = DefaultRedisPort
	}
}

// Render serializes the config for display with secrets masked.
func (c *Config) Render() ([]byte, error) {
	type plain Config
	redacted := plain(*c)
	if redacted.Redis.Password != "" {
		redacted.Redis.Password = "***"
	}
	return yaml.Marshal(&redacted)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
