package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AIFIREWALL_SERVER_PORT
// overrides server.port.
const EnvPrefix = "AIFIREWALL"

// envKeys lists the scalar keys that can be overridden from the environment.
// Module entries are ordered and nested, so they are file-only.
var envKeys = []string{
	"server.host",
	"server.port",
	"server.max_body_bytes",
	"pipeline.module_timeout",
	"pipeline.block_immediately",
	"audit.sink",
	"audit.dir",
	"audit.sqlite_path",
	"audit.buffer_size",
	"audit.batch_size",
	"audit.flush_interval",
	"audit.send_timeout",
	"log.level",
	"log.file",
	"redis.host",
	"redis.port",
	"redis.password",
	"redis.db",
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// envOverrides mirrors the overridable keys. Nil fields were not set.
type envOverrides struct {
	Server struct {
		Host         *string `mapstructure:"host"`
		Port         *int    `mapstructure:"port"`
		MaxBodyBytes *int64  `mapstructure:"max_body_bytes"`
	} `mapstructure:"server"`
	Pipeline struct {
		ModuleTimeout    *time.Duration `mapstructure:"module_timeout"`
		BlockImmediately *bool          `mapstructure:"block_immediately"`
	} `mapstructure:"pipeline"`
	Audit struct {
		Sink          *string        `mapstructure:"sink"`
		Dir           *string        `mapstructure:"dir"`
		SQLitePath    *string        `mapstructure:"sqlite_path"`
		BufferSize    *int           `mapstructure:"buffer_size"`
		BatchSize     *int           `mapstructure:"batch_size"`
		FlushInterval *time.Duration `mapstructure:"flush_interval"`
		SendTimeout   *time.Duration `mapstructure:"send_timeout"`
	} `mapstructure:"audit"`
	Log struct {
		Level *string `mapstructure:"level"`
		File  *string `mapstructure:"file"`
	} `mapstructure:"log"`
	Redis struct {
		Host     *string `mapstructure:"host"`
		Port     *int    `mapstructure:"port"`
		Password *string `mapstructure:"password"`
		DB       *int    `mapstructure:"db"`
	} `mapstructure:"redis"`
}

// ApplyEnv overwrites fields of cfg with any AIFIREWALL_* variables that are
// set. It runs before defaults so an override always wins over the file.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := newEnvViper().Unmarshal(&o); err != nil {
		return fmt.Errorf("%s_* variables: %w", EnvPrefix, err)
	}

	set(&cfg.Server.Host, o.Server.Host)
	set(&cfg.Server.Port, o.Server.Port)
	set(&cfg.Server.MaxBodyBytes, o.Server.MaxBodyBytes)

	set(&cfg.Pipeline.ModuleTimeout, o.Pipeline.ModuleTimeout)
	set(&cfg.Pipeline.BlockImmediately, o.Pipeline.BlockImmediately)

	set(&cfg.Audit.Sink, o.Audit.Sink)
	set(&cfg.Audit.Dir, o.Audit.Dir)
	set(&cfg.Audit.SQLitePath, o.Audit.SQLitePath)
	set(&cfg.Audit.BufferSize, o.Audit.BufferSize)
	set(&cfg.Audit.BatchSize, o.Audit.BatchSize)
	set(&cfg.Audit.FlushInterval, o.Audit.FlushInterval)
	set(&cfg.Audit.SendTimeout, o.Audit.SendTimeout)

	set(&cfg.Log.Level, o.Log.Level)
	set(&cfg.Log.File, o.Log.File)

	set(&cfg.Redis.Host, o.Redis.Host)
	set(&cfg.Redis.Port, o.Redis.Port)
	set(&cfg.Redis.Password, o.Redis.Password)
	set(&cfg.Redis.DB, o.Redis.DB)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
