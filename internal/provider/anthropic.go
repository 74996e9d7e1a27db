package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/joss/lumina/internal/domain"
	"github.com/joss/lumina/pkg/llm"
)

const (
	anthropicAPIURL  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"

	// Messages API requires max_tokens.
	anthropicMaxTokens = 4096
)

// Anthropic streams from the Messages API.
type Anthropic struct {
	apiKey  string
	baseURL string
	client  HTTPClient
}

var _ llm.Provider = (*Anthropic)(nil)

// NewAnthropic returns an Anthropic provider. An empty baseURL selects the public API.
func NewAnthropic(apiKey, baseURL string, client HTTPClient) *Anthropic {
	if baseURL == "" {
		baseURL = anthropicAPIURL
	}
	return &Anthropic{apiKey: apiKey, baseURL: baseURL, client: orDefault(client)}
}

func (a *Anthropic) ID() string   { return "anthropic" }
func (a *Anthropic) Name() string { return "Anthropic" }

func (a *Anthropic) Models() []domain.Model {
	return []domain.Model{
		{ID: "claude-3-5-haiku-latest", Name: "Claude 3.5 Haiku", ContextSize: 200000},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Stream      bool               `json:"stream"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *Anthropic) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	msgs := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = a.Models()[0].ID
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicMaxTokens
	}

	resp, err := postJSON(ctx, a.client, a.Name(), a.baseURL, anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.SystemPrompt,
		Messages:    msgs,
		Stream:      true,
		Temperature: req.Temperature,
	}, map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	})
	if err != nil {
		return nil, err
	}
	return pump(ctx, resp.Body, (&anthropicDecoder{}).decode), nil
}

type anthropicStreamEvent struct {
	Type    string          `json:"type"`
	Delta   json.RawMessage `json:"delta,omitempty"`
	Message *struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// anthropicDecoder remembers input tokens from message_start so a single
// usage event can be emitted at message_delta.
type anthropicDecoder struct {
	inputTokens int
}

func (d *anthropicDecoder) decode(data string, e emitter) (bool, error) {
	var ev anthropicStreamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return false, nil
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			d.inputTokens = ev.Message.Usage.InputTokens
		}
	case "content_block_delta":
		var delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if json.Unmarshal(ev.Delta, &delta) == nil && delta.Type == "text_delta" {
			e.text(delta.Text)
		}
	case "message_delta":
		if ev.Usage != nil {
			e.usage(d.inputTokens, ev.Usage.OutputTokens)
		}
	case "message_stop":
		return true, nil
	case "error":
		if ev.Error != nil {
			return false, errors.New(ev.Error.Message)
		}
		return false, errors.New("upstream error")
	}
	return false, nil
}
