package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/joss/lumina/internal/domain"
	"github.com/joss/lumina/pkg/llm"
)

const (
	groqAPIURL   = "https://api.groq.com/openai/v1/chat/completions"
	openaiAPIURL = "https://api.openai.com/v1/chat/completions"
)

// OpenAICompatible speaks the OpenAI chat-completions streaming protocol.
// Groq serves the same protocol, so both are instances of this type.
type OpenAICompatible struct {
	id      string
	name    string
	apiKey  string
	baseURL string
	client  HTTPClient
	models  []domain.Model
}

var _ llm.Provider = (*OpenAICompatible)(nil)

// NewGroq returns a Groq provider. An empty baseURL selects the public API.
func NewGroq(apiKey, baseURL string, client HTTPClient) *OpenAICompatible {
	return &OpenAICompatible{
		id:      "groq",
		name:    "Groq",
		apiKey:  apiKey,
		baseURL: chatCompletionsURL(baseURL, groqAPIURL),
		client:  orDefault(client),
		models: []domain.Model{
			{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B Versatile", ContextSize: 128000},
			{ID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B Instant", ContextSize: 128000},
		},
	}
}

// NewOpenAI returns an OpenAI provider. An empty baseURL selects the public API.
func NewOpenAI(apiKey, baseURL string, client HTTPClient) *OpenAICompatible {
	return &OpenAICompatible{
		id:      "openai",
		name:    "OpenAI",
		apiKey:  apiKey,
		baseURL: chatCompletionsURL(baseURL, openaiAPIURL),
		client:  orDefault(client),
		models: []domain.Model{
			{ID: "gpt-4o-mini", Name: "GPT-4o Mini", ContextSize: 128000},
			{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000},
		},
	}
}

// chatCompletionsURL accepts a host, a /v1 root, or a full endpoint.
func chatCompletionsURL(base, fallback string) string {
	if base == "" {
		return fallback
	}
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasSuffix(base, "/chat/completions"):
		return base
	case strings.HasSuffix(base, "/v1"):
		return base + "/chat/completions"
	default:
		return base + "/v1/chat/completions"
	}
}

func orDefault(client HTTPClient) HTTPClient {
	if client == nil {
		return &http.Client{}
	}
	return client
}

func (o *OpenAICompatible) ID() string             { return o.id }
func (o *OpenAICompatible) Name() string           { return o.name }
func (o *OpenAICompatible) Models() []domain.Model { return o.models }

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *OpenAICompatible) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	msgs := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openaiMessage{Role: string(m.Role), Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = o.models[0].ID
	}

	resp, err := postJSON(ctx, o.client, o.name, o.baseURL, openaiRequest{
		Model:       model,
		Messages:    msgs,
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}, map[string]string{"Authorization": "Bearer " + o.apiKey})
	if err != nil {
		return nil, err
	}
	return pump(ctx, resp.Body, decodeOpenAIChunk), nil
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage,omitempty"`
	XGroq *struct {
		Usage *openaiUsage `json:"usage,omitempty"`
	} `json:"x_groq,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// decodeOpenAIChunk never finishes on finish_reason: usage may follow in a
// later chunk, and the stream is closed by the [DONE] sentinel.
func decodeOpenAIChunk(data string, e emitter) (bool, error) {
	var chunk openaiStreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return false, nil
	}
	if chunk.Error != nil {
		return false, errors.New(chunk.Error.Message)
	}
	for _, choice := range chunk.Choices {
		if !e.text(choice.Delta.Content) {
			return false, nil
		}
	}
	usage := chunk.Usage
	if usage == nil && chunk.XGroq != nil {
		usage = chunk.XGroq.Usage
	}
	if usage != nil {
		e.usage(usage.PromptTokens, usage.CompletionTokens)
	}
	return false, nil
}
