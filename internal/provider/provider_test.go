package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/lumina/internal/domain"
	"github.com/joss/lumina/pkg/llm"
)

func sseServer(t *testing.T, body string, inspect func(r *http.Request, payload map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			var payload map[string]any
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &payload)
			inspect(r, payload)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, events <-chan domain.StreamEvent) (text string, last domain.StreamEvent, usage *domain.Usage) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case domain.StreamEventFragment:
				text += ev.Fragment.(domain.TextFragment).Text
			case domain.StreamEventUsage:
				usage = ev.Usage
			}
			last = ev
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func chatRequest() *llm.ChatRequest {
	return &llm.ChatRequest{
		SystemPrompt: "You are Lumina",
		Temperature:  0.1,
		Messages: []domain.Message{
			{Role: domain.ChatRoleUser, Content: "Hi"},
			{Role: domain.ChatRoleAssistant, Content: "Hello"},
			{Role: domain.ChatRoleUser, Content: "Summarize"},
		},
	}
}

func TestGroqStreamText(t *testing.T) {
	body := `data: {"choices":[{"delta":{"role":"assistant","content":""}}]}

data: {"choices":[{"delta":{"content":"Hello"},"finish_reason":null}]}

data: {"choices":[{"delta":{"content":" world"},"finish_reason":null}]}

data: {"choices":[{"delta":{},"finish_reason":"stop"}],"x_groq":{"usage":{"prompt_tokens":12,"completion_tokens":2}}}

data: [DONE]

`
	srv := sseServer(t, body, func(r *http.Request, payload map[string]any) {
		assert.Equal(t, "Bearer gsk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "/openai/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "llama-3.3-70b-versatile", payload["model"])
		assert.Equal(t, true, payload["stream"])
		assert.InDelta(t, 0.1, payload["temperature"], 1e-9)

		msgs, _ := payload["messages"].([]any)
		if assert.Len(t, msgs, 4) {
			first := msgs[0].(map[string]any)
			assert.Equal(t, "system", first["role"])
			assert.Equal(t, "You are Lumina", first["content"])
			assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
		}
	})

	p := NewGroq("gsk_test", srv.URL+"/openai/v1", nil)
	events, err := p.Chat(context.Background(), chatRequest())
	require.NoError(t, err)

	text, last, usage := collect(t, events)
	assert.Equal(t, "Hello world", text)
	assert.Equal(t, domain.StreamEventDone, last.Type)
	require.NotNil(t, usage)
	assert.Equal(t, 12, usage.InputTokens)
	assert.Equal(t, 2, usage.OutputTokens)
}

func TestOpenAIInBandError(t *testing.T) {
	body := `data: {"choices":[{"delta":{"content":"Par"}}]}

data: {"error":{"message":"rate limit reached"}}

`
	p := NewOpenAI("k", sseServer(t, body, nil).URL, nil)
	events, err := p.Chat(context.Background(), chatRequest())
	require.NoError(t, err)

	text, last, _ := collect(t, events)
	assert.Equal(t, "Par", text)
	assert.Equal(t, domain.StreamEventError, last.Type)
	assert.EqualError(t, last.Error, "rate limit reached")
}

func TestStreamEndsWithoutSentinel(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n"
	p := NewGroq("k", sseServer(t, body, nil).URL, nil)
	events, err := p.Chat(context.Background(), chatRequest())
	require.NoError(t, err)

	text, last, _ := collect(t, events)
	assert.Equal(t, "ok", text)
	assert.Equal(t, domain.StreamEventDone, last.Type)
}

func TestMalformedChunksSkipped(t *testing.T) {
	body := "event: ping\n\ndata: {broken\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"fine\"}}]}\n\ndata: [DONE]\n\n"
	p := NewGroq("k", sseServer(t, body, nil).URL, nil)
	events, err := p.Chat(context.Background(), chatRequest())
	require.NoError(t, err)

	text, last, _ := collect(t, events)
	assert.Equal(t, "fine", text)
	assert.Equal(t, domain.StreamEventDone, last.Type)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewGroq("bad", srv.URL, nil).Chat(context.Background(), chatRequest())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Groq API error 401: Invalid API Key", err.Error())
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":{"message":"bad key"}}`, "bad key"},
		{`{"error":"quota"}`, "quota"},
		{"upstream exploded\n", "upstream exploded"},
		{`{"detail":"other shape"}`, `{"detail":"other shape"}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorMessage([]byte(tt.body)))
	}
}

func TestCancellationStopsStream(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := NewGroq("k", srv.URL, nil).Chat(ctx, chatRequest())
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, domain.StreamEventFragment, first.Type)
	<-started
	cancel()

	_, last, _ := collect(t, events)
	assert.NotEqual(t, domain.StreamEventDone, last.Type)
}

func TestChatCompletionsURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"", groqAPIURL},
		{"http://localhost:1234", "http://localhost:1234/v1/chat/completions"},
		{"http://localhost:1234/", "http://localhost:1234/v1/chat/completions"},
		{"http://localhost:1234/v1", "http://localhost:1234/v1/chat/completions"},
		{"http://host/openai/v1/chat/completions", "http://host/openai/v1/chat/completions"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, chatCompletionsURL(tt.base, groqAPIURL), tt.base)
	}
}

func TestGeminiStream(t *testing.T) {
	body := `data: {"candidates":[{"content":{"parts":[{"text":"Bon"}],"role":"model"}}]}

data: {"candidates":[{"content":{"parts":[{"text":"jour"}],"role":"model"},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":3}}

`
	srv := sseServer(t, body, func(r *http.Request, payload map[string]any) {
		assert.Equal(t, "/models/gemini-2.0-flash:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "google-key", r.Header.Get("x-goog-api-key"))

		contents, _ := payload["contents"].([]any)
		if assert.Len(t, contents, 3) {
			assert.Equal(t, "model", contents[1].(map[string]any)["role"])
		}
		sys, _ := payload["systemInstruction"].(map[string]any)
		assert.Equal(t, []any{map[string]any{"text": "You are Lumina"}}, sys["parts"])
	})

	p := NewGemini("google-key", srv.URL+"/models", nil)
	events, err := p.Chat(context.Background(), chatRequest())
	require.NoError(t, err)

	text, last, usage := collect(t, events)
	assert.Equal(t, "Bonjour", text)
	assert.Equal(t, domain.StreamEventDone, last.Type)
	require.NotNil(t, usage)
	assert.Equal(t, 9, usage.InputTokens)
}

func TestGeminiBlocked(t *testing.T) {
	body := `data: {"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}

`
	events, err := NewGemini("k", sseServer(t, body, nil).URL, nil).Chat(context.Background(), chatRequest())
	require.NoError(t, err)

	_, last, _ := collect(t, events)
	assert.Equal(t, domain.StreamEventError, last.Type)
	assert.ErrorContains(t, last.Error, "SAFETY")
}

func TestAnthropicStream(t *testing.T) {
	body := `event: message_start
data: {"type":"message_start","message":{"usage":{"input_tokens":20}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: ping
data: {"type":"ping"}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi "}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"there"}}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}

event: message_stop
data: {"type":"message_stop"}

`
	srv := sseServer(t, body, func(r *http.Request, payload map[string]any) {
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.Equal(t, "You are Lumina", payload["system"])
		assert.EqualValues(t, anthropicMaxTokens, payload["max_tokens"])
	})

	events, err := NewAnthropic("ak", srv.URL, nil).Chat(context.Background(), chatRequest())
	require.NoError(t, err)

	text, last, usage := collect(t, events)
	assert.Equal(t, "Hi there", text)
	assert.Equal(t, domain.StreamEventDone, last.Type)
	require.NotNil(t, usage)
	assert.Equal(t, 20, usage.InputTokens)
	assert.Equal(t, 4, usage.OutputTokens)
}

func TestAnthropicErrorEvent(t *testing.T) {
	body := `event: error
data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}

`
	events, err := NewAnthropic("ak", sseServer(t, body, nil).URL, nil).Chat(context.Background(), chatRequest())
	require.NoError(t, err)

	_, last, _ := collect(t, events)
	assert.Equal(t, domain.StreamEventError, last.Type)
	assert.EqualError(t, last.Error, "Overloaded")
}
