// Package config loads tplsync settings from the config file, the
// environment and a local .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kernel/tplsync/internal/extract"
	"github.com/kernel/tplsync/internal/inject"
	"github.com/kernel/tplsync/internal/store"
	"github.com/kernel/tplsync/internal/tuning"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TPLSYNC_STORE_ENDPOINT.
const EnvPrefix = "TPLSYNC"

// Config is the resolved configuration.
type Config struct {
	DefaultFiles   []string       `mapstructure:"default_files"`
	SupportedHosts []string       `mapstructure:"supported_hosts"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	Store          store.S3Config `mapstructure:"store"`

	// Tuning starts from tuning.Default with the file's tuning block and
	// supported_hosts applied on top.
	Tuning tuning.Tuning `mapstructure:"-"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Timeout returns the upload timeout.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return inject.DefaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DefaultPath returns $HOME/.config/tplsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tplsync", "config.yaml"), nil
}

// Load reads path, or the default location when path is empty. A missing
// default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "tplsync"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := tuning.Default()
	v.SetDefault("default_files", extract.DefaultFiles)
	v.SetDefault("supported_hosts", defaults.SupportedHosts)
	v.SetDefault("timeout_seconds", int(inject.DefaultTimeout/time.Second))
	// Store keys need defaults so environment overrides reach Unmarshal.
	v.SetDefault("store.endpoint", "")
	v.SetDefault("store.region", "")
	v.SetDefault("store.access_key", "")
	v.SetDefault("store.secret_key", "")
	v.SetDefault("store.use_ssl", true)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	t, err := decodeTuning(v.Get("tuning"), defaults)
	if err != nil {
		return nil, err
	}
	if len(cfg.SupportedHosts) > 0 {
		t.SupportedHosts = cfg.SupportedHosts
	}
	cfg.Tuning = t
	return &cfg, nil
}

// decodeTuning applies raw, the tuning block as read by viper, field by
// field over base.
func decodeTuning(raw any, base tuning.Tuning) (tuning.Tuning, error) {
	if raw == nil {
		return base, nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return base, fmt.Errorf("failed to encode tuning block: %w", err)
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return base, fmt.Errorf("invalid tuning block: %w", err)
	}
	return base, nil
}

// LoadDotEnv loads .env from the working directory if it exists. Variables
// already set in the environment win.
func LoadDotEnv() error {
	return loadDotEnv(".env")
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
