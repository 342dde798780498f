// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

type Config struct {
	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Storage struct {
		Backend      string        `mapstructure:"backend"`
		CacheSize    int           `mapstructure:"cache_size"`
		MaxOpenRepos int           `mapstructure:"max_open_repos"`
		IOTimeout    time.Duration `mapstructure:"io_timeout"`
		SyncWrites   bool          `mapstructure:"sync_writes"`
		Compression  struct {
			MinSize int `mapstructure:"min_size"`
			Level   int `mapstructure:"level"`
		} `mapstructure:"compression"`
	} `mapstructure:"storage"`

	Environment string `mapstructure:"environment"` // development, production
	LogLevel    string `mapstructure:"log_level"`   // debug, info, warn, error, none
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DefaultPath returns the per-environment config file, selected by TIMELINE_ENV.
func DefaultPath() string {
	env := os.Getenv("TIMELINE_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("storage.backend", BackendBadger)
	v.SetDefault("storage.cache_size", 8)
	v.SetDefault("storage.max_open_repos", 32)
	v.SetDefault("storage.io_timeout", 30*time.Second)
	v.SetDefault("storage.sync_writes", true)
	v.SetDefault("storage.compression.min_size", 1024)
	v.SetDefault("storage.compression.level", 2)

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from defaults, the optional file at path and
// TIMELINE_* environment variables, in increasing order of precedence.
// A missing file at DefaultPath() is ignored; any other missing file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TIMELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !(errors.Is(err, fs.ErrNotExist) && path == DefaultPath()) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Storage.CacheSize <= 0 {
		return fmt.Errorf("storage.cache_size must be positive")
	}
	if c.Storage.MaxOpenRepos <= 0 {
		return fmt.Errorf("storage.max_open_repos must be positive")
	}
	if c.Storage.Compression.Level < 1 || c.Storage.Compression.Level > 4 {
		return fmt.Errorf("storage.compression.level must be between 1 and 4, got %d", c.Storage.Compression.Level)
	}
	if c.Storage.IOTimeout <= 0 {
		return fmt.Errorf("storage.io_timeout must be positive")
	}
	return nil
}
