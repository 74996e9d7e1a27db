package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/lumina/pkg/llm"
)

func TestParseProviderType(t *testing.T) {
	tests := []struct {
		in      string
		want    ProviderType
		wantErr bool
	}{
		{"", ProviderGroq, false},
		{"groq", ProviderGroq, false},
		{"Claude", ProviderAnthropic, false},
		{"google", ProviderGemini, false},
		{"gpt", ProviderOpenAI, false},
		{"mistral", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProviderType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFactoryResolve(t *testing.T) {
	f := NewFactory(ProviderGroq)

	p, err := f.Resolve(llm.Credentials{GroqKey: "gsk_one"})
	require.NoError(t, err)
	assert.Equal(t, "groq", p.ID())

	again, err := f.Resolve(llm.Credentials{GroqKey: "gsk_one"})
	require.NoError(t, err)
	assert.Same(t, p, again, "same key is cached")

	other, err := f.Resolve(llm.Credentials{GroqKey: "gsk_two"})
	require.NoError(t, err)
	assert.NotSame(t, p, other, "keys sharing a prefix must not share a provider")

	_, err = f.Resolve(llm.Credentials{GoogleKey: "g"})
	assert.True(t, errors.Is(err, llm.ErrMissingAPIKey))
}

func TestFactoryKinds(t *testing.T) {
	creds := llm.Credentials{GroqKey: "a", GoogleKey: "b", AnthropicKey: "c", OpenAIKey: "d"}
	for _, kind := range []ProviderType{ProviderGroq, ProviderOpenAI, ProviderGemini, ProviderAnthropic} {
		f := NewFactory(kind)
		p, err := f.Resolve(creds)
		require.NoError(t, err)
		assert.Equal(t, string(kind), p.ID())
		assert.Equal(t, kind, f.Kind())
	}
}

func TestFactoryValidate(t *testing.T) {
	f := NewFactory(ProviderGroq)

	assert.NoError(t, f.Validate(llm.Credentials{GroqKey: "a", GoogleKey: "b"}))
	assert.ErrorIs(t, f.Validate(llm.Credentials{GroqKey: "a"}), llm.ErrMissingAPIKey)
	assert.ErrorIs(t, f.Validate(llm.Credentials{GoogleKey: "b"}), llm.ErrMissingAPIKey)

	gemini := NewFactory(ProviderGemini)
	assert.NoError(t, gemini.Validate(llm.Credentials{GoogleKey: "b"}))
}

func TestFactoryCustomBuilder(t *testing.T) {
	f := NewFactory(ProviderGroq, WithBaseURL("http://local"))

	var seen Config
	f.Register(ProviderGroq, func(cfg Config) llm.Provider {
		seen = cfg
		return NewGroq(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient)
	})

	_, err := f.Create(ProviderGroq, WithAPIKey("k"))
	require.NoError(t, err)
	assert.Equal(t, "k", seen.APIKey)
	assert.Equal(t, "http://local", seen.BaseURL)
	assert.NotNil(t, seen.HTTPClient)

	f.Clear()
	_, err = f.Create("unknown")
	assert.Error(t, err)
}

func TestCatalog(t *testing.T) {
	list := Catalog().List()
	require.Len(t, list, 4)
	for _, p := range list {
		assert.NotEmpty(t, p.Models(), p.ID())
	}
}
