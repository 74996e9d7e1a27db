// Package config provides centralized configuration management: a cached
// view of the process environment and a YAML file config layered on top of
// built-in defaults.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joss/lumina/pkg/llm"
)

// LuminaEnv holds all Lumina environment variables.
type LuminaEnv struct {
	// GroqKey is the Groq API key (GROQ_API_KEY, NEXT_PUBLIC_GROQ_API_KEY)
	GroqKey string

	// GoogleKey is the Google API key (GOOGLE_API_KEY, NEXT_PUBLIC_GOOGLE_API_KEY)
	GoogleKey string

	// AnthropicKey is the Anthropic API key (ANTHROPIC_API_KEY)
	AnthropicKey string

	// OpenAIKey is the OpenAI API key (OPENAI_API_KEY)
	OpenAIKey string

	// Addr is the HTTP listen address (LUMINA_ADDR)
	Addr string

	// Provider selects the completion source (LUMINA_PROVIDER)
	Provider string

	// Model overrides the provider's default model (LUMINA_MODEL)
	Model string

	// Temperature overrides the sampling temperature (LUMINA_TEMPERATURE)
	Temperature float64

	// SessionBackend is memory or sqlite (LUMINA_SESSION_BACKEND)
	SessionBackend string

	// SQLiteDSN is the DSN for the sqlite session backend (LUMINA_SQLITE_DSN)
	SQLiteDSN string

	// HistoryLimit caps stored turns per user (LUMINA_HISTORY_LIMIT)
	HistoryLimit int

	// StreamTimeout bounds one completion; zero means unbounded (LUMINA_STREAM_TIMEOUT)
	StreamTimeout time.Duration

	// MaxUploadMB bounds the upload body (LUMINA_MAX_UPLOAD_MB)
	MaxUploadMB int

	// MetricsPort starts a standalone metrics server when non-zero (LUMINA_METRICS_PORT)
	MetricsPort int

	// TokenEstimates enables prompt token estimates (LUMINA_TOKEN_ESTIMATES)
	TokenEstimates bool

	// LogLevel is the minimum log level (LUMINA_LOG_LEVEL)
	LogLevel string

	// ServerURL is where the CLI client connects (LUMINA_SERVER_URL)
	ServerURL string
}

var (
	env     *LuminaEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Env() *LuminaEnv {
	envOnce.Do(func() {
		env = &LuminaEnv{
			GroqKey:        firstEnv("GROQ_API_KEY", "NEXT_PUBLIC_GROQ_API_KEY"),
			GoogleKey:      firstEnv("GOOGLE_API_KEY", "NEXT_PUBLIC_GOOGLE_API_KEY"),
			AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
			OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
			Addr:           os.Getenv("LUMINA_ADDR"),
			Provider:       os.Getenv("LUMINA_PROVIDER"),
			Model:          os.Getenv("LUMINA_MODEL"),
			Temperature:    getEnvFloat("LUMINA_TEMPERATURE", 0),
			SessionBackend: os.Getenv("LUMINA_SESSION_BACKEND"),
			SQLiteDSN:      os.Getenv("LUMINA_SQLITE_DSN"),
			HistoryLimit:   getEnvInt("LUMINA_HISTORY_LIMIT", 0),
			StreamTimeout:  getEnvDuration("LUMINA_STREAM_TIMEOUT", 0),
			MaxUploadMB:    getEnvInt("LUMINA_MAX_UPLOAD_MB", 0),
			MetricsPort:    getEnvInt("LUMINA_METRICS_PORT", 0),
			TokenEstimates: os.Getenv("LUMINA_TOKEN_ESTIMATES") == "1",
			LogLevel:       os.Getenv("LUMINA_LOG_LEVEL"),
			ServerURL:      getEnvDefault("LUMINA_SERVER_URL", "http://localhost:8080"),
		}
	})
	return env
}

// Credentials returns the API keys found in the environment.
func (e *LuminaEnv) Credentials() llm.Credentials {
	return llm.Credentials{
		GroqKey:      e.GroqKey,
		GoogleKey:    e.GoogleKey,
		AnthropicKey: e.AnthropicKey,
		OpenAIKey:    e.OpenAIKey,
	}
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// Paths holds standard Lumina file locations.
type Paths struct {
	// Home is the Lumina home directory (~/.lumina)
	Home string

	// EnvFile is the .env file path (~/.lumina/.env)
	EnvFile string

	// ConfigFile is the YAML config path (~/.lumina/config.yaml)
	ConfigFile string

	// UserIDFile stores the CLI device user identifier (~/.lumina/user_id)
	UserIDFile string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		root := filepath.Join(home, ".lumina")

		paths = &Paths{
			Home:       root,
			EnvFile:    filepath.Join(root, ".env"),
			ConfigFile: filepath.Join(root, "config.yaml"),
			UserIDFile: filepath.Join(root, "user_id"),
		}
	})
	return paths
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
