// Package config loads Andorinha configuration from file, environment and
// defaults using Viper.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Mathweuzz/Andorinha-Jobs/errors"
)

// Config is the process-wide configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// WorkerConfig holds consumer-loop settings.
type WorkerConfig struct {
	Queue               string `mapstructure:"queue"`
	LeaseTTLSeconds     int    `mapstructure:"lease_ttl_seconds"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
}

// LeaseTTL returns the configured lease TTL as a duration.
func (w WorkerConfig) LeaseTTL() time.Duration {
	return time.Duration(w.LeaseTTLSeconds) * time.Second
}

// PollInterval returns the configured poll interval as a duration.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

var globalConfig *Config

// Load reads configuration from defaults, an optional andorinha.toml in the
// working directory, and ANDORINHA_* environment variables. The result is
// cached for the process lifetime.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("ANDORINHA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("andorinha")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "andorinha"))
	}

	// A missing config file is fine; defaults and env cover everything
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &config
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &config, nil
}

// SetDefaults installs the default values on a Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", defaultDatabasePath())
	v.SetDefault("log.json", false)
	v.SetDefault("worker.queue", "")
	v.SetDefault("worker.lease_ttl_seconds", 60)
	v.SetDefault("worker.poll_interval_seconds", 1)
}

// Reset clears the cached configuration (useful for testing).
func Reset() {
	globalConfig = nil
}

func defaultDatabasePath() string {
	if path := os.Getenv("ANDORINHA_DB"); path != "" {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "andorinha.db"
	}
	return filepath.Join(cwd, "andorinha.db")
}
