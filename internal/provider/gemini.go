package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/joss/lumina/internal/domain"
	"github.com/joss/lumina/pkg/llm"
)

const geminiAPIURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Gemini streams from the Google Generative Language API.
type Gemini struct {
	apiKey  string
	baseURL string
	client  HTTPClient
}

var _ llm.Provider = (*Gemini)(nil)

// NewGemini returns a Gemini provider. An empty baseURL selects the public API.
func NewGemini(apiKey, baseURL string, client HTTPClient) *Gemini {
	if baseURL == "" {
		baseURL = geminiAPIURL
	}
	return &Gemini{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  orDefault(client),
	}
}

func (g *Gemini) ID() string   { return "gemini" }
func (g *Gemini) Name() string { return "Gemini" }

func (g *Gemini) Models() []domain.Model {
	return []domain.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1000000},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2000000},
	}
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

func (g *Gemini) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == domain.ChatRoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	body := geminiRequest{
		Contents: contents,
		GenerationConfig: &geminiGenConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}

	model := req.Model
	if model == "" {
		model = g.Models()[0].ID
	}
	url := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", g.baseURL, model)

	resp, err := postJSON(ctx, g.client, g.Name(), url, body, map[string]string{"x-goog-api-key": g.apiKey})
	if err != nil {
		return nil, err
	}
	return pump(ctx, resp.Body, decodeGeminiChunk), nil
}

type geminiStreamResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func decodeGeminiChunk(data string, e emitter) (bool, error) {
	var resp geminiStreamResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return false, nil
	}
	if resp.Error != nil {
		return false, errors.New(resp.Error.Message)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return false, fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}

	finished := false
	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			if !e.text(p.Text) {
				return false, nil
			}
		}
		switch c.FinishReason {
		case "", "FINISH_REASON_UNSPECIFIED":
		case "STOP", "MAX_TOKENS":
			finished = true
		default:
			return false, fmt.Errorf("response stopped: %s", c.FinishReason)
		}
	}
	if resp.UsageMetadata != nil && finished {
		e.usage(resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount)
	}
	return finished, nil
}
