package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Chat    ChatConfig    `yaml:"chat"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
	MetricsPort int    `yaml:"metrics_port"`
}

type ChatConfig struct {
	Provider       string        `yaml:"provider"`
	Model          string        `yaml:"model"` // empty selects the provider default
	Temperature    float64       `yaml:"temperature"`
	StreamTimeout  time.Duration `yaml:"stream_timeout"`
	TokenEstimates bool          `yaml:"token_estimates"`
}

type SessionConfig struct {
	Backend      string `yaml:"backend"`
	DSN          string `yaml:"dsn"`
	HistoryLimit int    `yaml:"history_limit"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			MaxUploadMB: 32,
		},
		Chat: ChatConfig{
			Provider:    "groq",
			Temperature: 0.1,
		},
		Session: SessionConfig{
			Backend:      BackendMemory,
			DSN:          "file:lumina?mode=memory&cache=shared",
			HistoryLimit: 30,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Merge overlays the non-zero fields of other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.MaxUploadMB > 0 {
		c.Server.MaxUploadMB = other.Server.MaxUploadMB
	}
	if other.Server.MetricsPort > 0 {
		c.Server.MetricsPort = other.Server.MetricsPort
	}
	if other.Chat.Provider != "" {
		c.Chat.Provider = other.Chat.Provider
	}
	if other.Chat.Model != "" {
		c.Chat.Model = other.Chat.Model
	}
	if other.Chat.Temperature > 0 {
		c.Chat.Temperature = other.Chat.Temperature
	}
	if other.Chat.StreamTimeout > 0 {
		c.Chat.StreamTimeout = other.Chat.StreamTimeout
	}
	if other.Chat.TokenEstimates {
		c.Chat.TokenEstimates = true
	}
	if other.Session.Backend != "" {
		c.Session.Backend = other.Session.Backend
	}
	if other.Session.DSN != "" {
		c.Session.DSN = other.Session.DSN
	}
	if other.Session.HistoryLimit > 0 {
		c.Session.HistoryLimit = other.Session.HistoryLimit
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}

// Validate reports configuration values the service cannot run with.
func (c *Config) Validate() error {
	switch c.Session.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	if c.Session.HistoryLimit <= 0 {
		return errors.New("session history limit must be positive")
	}
	if c.Chat.StreamTimeout < 0 {
		return errors.New("stream timeout must not be negative")
	}
	return nil
}

// LoadFile reads a YAML config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// FromEnv converts environment overrides into a partial Config.
func FromEnv(e *LuminaEnv) *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        e.Addr,
			MaxUploadMB: e.MaxUploadMB,
			MetricsPort: e.MetricsPort,
		},
		Chat: ChatConfig{
			Provider:       e.Provider,
			Model:          e.Model,
			Temperature:    e.Temperature,
			StreamTimeout:  e.StreamTimeout,
			TokenEstimates: e.TokenEstimates,
		},
		Session: SessionConfig{
			Backend:      e.SessionBackend,
			DSN:          e.SQLiteDSN,
			HistoryLimit: e.HistoryLimit,
		},
		Log: LogConfig{Level: e.LogLevel},
	}
}

// Load resolves defaults, then the file at path (skipped when empty or
// missing), then the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		file, err := LoadFile(path)
		switch {
		case err == nil:
			cfg.Merge(file)
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	cfg.Merge(FromEnv(Env()))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
