// Package llm defines the boundary between the chat pipeline and the
// language-model providers that stream answers into it.
package llm

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/joss/lumina/internal/domain"
)

// ErrMissingAPIKey is returned when the credentials a provider needs are
// absent. Its text is the client-facing validation message.
var ErrMissingAPIKey = errors.New("Missing API keys")

// Provider is the interface all LLM providers must implement
type Provider interface {
	ID() string
	Name() string
	Models() []domain.Model

	// Chat sends messages and returns a stream of fragments. The channel is
	// closed after a done or error event, or when ctx is cancelled.
	Chat(ctx context.Context, req *ChatRequest) (<-chan domain.StreamEvent, error)
}

// ChatRequest represents a request to the LLM
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []domain.Message
	MaxTokens    int
	Temperature  float64
}

// Credentials carries per-request API keys. Empty fields fall back to the
// server environment.
type Credentials struct {
	GroqKey      string
	GoogleKey    string
	AnthropicKey string
	OpenAIKey    string
}

// WithFallback fills empty keys from fallback.
func (c Credentials) WithFallback(fallback Credentials) Credentials {
	if c.GroqKey == "" {
		c.GroqKey = fallback.GroqKey
	}
	if c.GoogleKey == "" {
		c.GoogleKey = fallback.GoogleKey
	}
	if c.AnthropicKey == "" {
		c.AnthropicKey = fallback.AnthropicKey
	}
	if c.OpenAIKey == "" {
		c.OpenAIKey = fallback.OpenAIKey
	}
	return c
}

// Resolver picks the provider that will serve a request.
type Resolver interface {
	Resolve(creds Credentials) (Provider, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(creds Credentials) (Provider, error)

func (f ResolverFunc) Resolve(creds Credentials) (Provider, error) { return f(creds) }

// Registry holds providers by ID.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// List returns providers sorted by ID.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}
