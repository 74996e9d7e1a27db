// Package provider implements the streaming completion sources and the
// factory that picks one per request.
package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/joss/lumina/pkg/llm"
)

// ProviderType identifies supported LLM providers.
type ProviderType string

const (
	ProviderGroq      ProviderType = "groq"
	ProviderOpenAI    ProviderType = "openai"
	ProviderGemini    ProviderType = "gemini"
	ProviderAnthropic ProviderType = "anthropic"
)

// ParseProviderType maps a provider name or alias onto a ProviderType.
func ParseProviderType(id string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "", "groq", "llama":
		return ProviderGroq, nil
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "gemini", "google":
		return ProviderGemini, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", id)
	}
}

// Config holds provider configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient HTTPClient
}

// ConfigOption modifies provider configuration.
type ConfigOption func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL sets the base URL.
func WithBaseURL(url string) ConfigOption {
	return func(c *Config) { c.BaseURL = url }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client HTTPClient) ConfigOption {
	return func(c *Config) { c.HTTPClient = client }
}

// ProviderBuilder constructs a provider from config.
type ProviderBuilder func(cfg Config) llm.Provider

// Factory builds providers of one configured type, keyed by the API key
// each request brings. Built providers are cached.
type Factory struct {
	kind     ProviderType
	defaults []ConfigOption

	mu       sync.RWMutex
	cache    map[string]llm.Provider
	builders map[ProviderType]ProviderBuilder
}

var _ llm.Resolver = (*Factory)(nil)

// NewFactory creates a factory serving kind. defaults apply to every
// provider it builds, before per-call options.
func NewFactory(kind ProviderType, defaults ...ConfigOption) *Factory {
	f := &Factory{
		kind:     kind,
		defaults: defaults,
		cache:    make(map[string]llm.Provider),
		builders: make(map[ProviderType]ProviderBuilder),
	}
	f.RegisterDefaults()
	return f
}

// RegisterDefaults registers the built-in provider builders.
func (f *Factory) RegisterDefaults() {
	f.Register(ProviderGroq, func(cfg Config) llm.Provider {
		return NewGroq(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient)
	})
	f.Register(ProviderOpenAI, func(cfg Config) llm.Provider {
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient)
	})
	f.Register(ProviderGemini, func(cfg Config) llm.Provider {
		return NewGemini(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient)
	})
	f.Register(ProviderAnthropic, func(cfg Config) llm.Provider {
		return NewAnthropic(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient)
	})
}

// Register adds a provider builder. Allows extension with custom providers.
func (f *Factory) Register(pt ProviderType, builder ProviderBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[pt] = builder
}

// Kind returns the provider type this factory resolves to.
func (f *Factory) Kind() ProviderType { return f.kind }

// Create returns a provider instance, caching by type, key digest and URL.
func (f *Factory) Create(pt ProviderType, opts ...ConfigOption) (llm.Provider, error) {
	cfg := Config{HTTPClient: http.DefaultClient}
	for _, opt := range f.defaults {
		opt(&cfg)
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = envBaseURL(pt)
	}

	cacheKey := fmt.Sprintf("%s:%s:%s", pt, keyDigest(cfg.APIKey), cfg.BaseURL)

	f.mu.RLock()
	if p, ok := f.cache[cacheKey]; ok {
		f.mu.RUnlock()
		return p, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring write lock
	if p, ok := f.cache[cacheKey]; ok {
		return p, nil
	}

	builder, ok := f.builders[pt]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", pt)
	}

	p := builder(cfg)
	f.cache[cacheKey] = p
	return p, nil
}

// KeyFor returns the credential the factory's provider type needs.
func (f *Factory) KeyFor(creds llm.Credentials) string {
	switch f.kind {
	case ProviderGroq:
		return creds.GroqKey
	case ProviderOpenAI:
		return creds.OpenAIKey
	case ProviderGemini:
		return creds.GoogleKey
	case ProviderAnthropic:
		return creds.AnthropicKey
	}
	return ""
}

// Validate reports ErrMissingAPIKey unless both the document key and the
// completion key are present.
func (f *Factory) Validate(creds llm.Credentials) error {
	if creds.GoogleKey == "" || f.KeyFor(creds) == "" {
		return llm.ErrMissingAPIKey
	}
	return nil
}

// Resolve builds the configured provider for the request's credentials.
func (f *Factory) Resolve(creds llm.Credentials) (llm.Provider, error) {
	key := f.KeyFor(creds)
	if key == "" {
		return nil, fmt.Errorf("%s: %w", f.kind, llm.ErrMissingAPIKey)
	}
	return f.Create(f.kind, WithAPIKey(key))
}

// Clear removes cached providers.
func (f *Factory) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]llm.Provider)
}

// Catalog lists every built-in provider and its models.
func Catalog() *llm.Registry {
	r := llm.NewRegistry()
	r.Register(NewGroq("", "", nil))
	r.Register(NewOpenAI("", "", nil))
	r.Register(NewGemini("", "", nil))
	r.Register(NewAnthropic("", "", nil))
	return r
}

func keyDigest(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// envBaseURL returns an endpoint override from the environment.
func envBaseURL(pt ProviderType) string {
	switch pt {
	case ProviderGroq:
		return os.Getenv("GROQ_BASE_URL")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_BASE_URL")
	case ProviderGemini:
		return os.Getenv("GEMINI_BASE_URL")
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_BASE_URL")
	}
	return ""
}
