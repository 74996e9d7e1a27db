package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/lumina/internal/chat"
	"github.com/joss/lumina/internal/domain"
	"github.com/joss/lumina/internal/health"
	"github.com/joss/lumina/internal/ingest"
	"github.com/joss/lumina/internal/metrics"
	"github.com/joss/lumina/internal/provider"
	"github.com/joss/lumina/internal/session"
	"github.com/joss/lumina/internal/sse"
	"github.com/joss/lumina/pkg/llm"
)

type fakeConversation struct {
	events []domain.Event

	mu   sync.Mutex
	reqs []chat.Request
}

func (f *fakeConversation) Converse(ctx context.Context, req chat.Request) <-chan domain.Event {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	out := make(chan domain.Event)
	go func() {
		defer close(out)
		for _, ev := range f.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (f *fakeConversation) calls() []chat.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Request(nil), f.reqs...)
}

var fullKeys = llm.Credentials{GroqKey: "gsk_env", GoogleKey: "google_env"}

type fixture struct {
	conv     *fakeConversation
	store    *session.MemoryStore
	metrics  *metrics.Metrics
	server   *Server
	extracts int
}

func newFixture(t *testing.T, fallback llm.Credentials, extract ingest.ExtractorFunc) *fixture {
	t.Helper()
	f := &fixture{
		conv: &fakeConversation{events: []domain.Event{
			domain.StatusEvent(domain.StatusThinking),
			domain.ContentEvent("Hello"),
			domain.DoneEvent(),
		}},
		store:   session.NewMemoryStore(),
		metrics: metrics.New(),
	}
	if extract == nil {
		extract = func(ctx context.Context, data []byte) (string, error) {
			f.extracts++
			return "Extracted:\n\n\n" + string(data), nil
		}
	}
	f.server = New(f.conv, f.store, ingest.NewService(extract), provider.NewFactory(provider.ProviderGroq),
		WithFallbackCredentials(fallback),
		WithMetrics(f.metrics),
	)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path string, body any) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestChatStreams(t *testing.T) {
	f := newFixture(t, llm.Credentials{}, nil)

	rec := f.do(jsonRequest(http.MethodPost, "/api/chat", ChatRequest{
		Query:      "Hi",
		APIKey:     "google",
		GroqAPIKey: "gsk",
		PDFText:    "document text here",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t,
		`data: {"type":"status","content":"thinking..."}`+"\n\n"+
			`data: {"type":"content","content":"Hello"}`+"\n\n"+
			"data: [DONE]\n\n",
		rec.Body.String())

	calls := f.conv.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, DefaultUserID, calls[0].UserID)
	assert.Equal(t, "Hi", calls[0].Query)
	assert.Equal(t, "document text here", calls[0].DocumentText)
	assert.Equal(t, "gsk", calls[0].Credentials.GroqKey)
	assert.Equal(t, "google", calls[0].Credentials.GoogleKey)
}

func TestChatSentinelWhenStreamEndsEarly(t *testing.T) {
	f := newFixture(t, fullKeys, nil)
	f.conv.events = []domain.Event{domain.StatusEvent(domain.StatusThinking)}

	rec := f.do(jsonRequest(http.MethodPost, "/api/chat", ChatRequest{Query: "Hi", UserID: "u1"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "[DONE]"))
	assert.Equal(t, "u1", f.conv.calls()[0].UserID)
}

func TestChatMissingKeys(t *testing.T) {
	f := newFixture(t, llm.Credentials{}, nil)

	tests := []struct {
		name string
		body ChatRequest
	}{
		{"no keys", ChatRequest{Query: "Hi"}},
		{"google only", ChatRequest{Query: "Hi", APIKey: "g"}},
		{"groq only", ChatRequest{Query: "Hi", GroqAPIKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(jsonRequest(http.MethodPost, "/api/chat", tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"detail":"Missing API keys"}`, rec.Body.String())
		})
	}
	assert.Empty(t, f.conv.calls())
	assert.EqualValues(t, 3, f.metrics.Rejected.Load())
}

func TestChatEnvFallback(t *testing.T) {
	f := newFixture(t, fullKeys, nil)

	rec := f.do(jsonRequest(http.MethodPost, "/api/chat", ChatRequest{Query: "Hi", GroqAPIKey: "request_key"}))
	require.Equal(t, http.StatusOK, rec.Code)

	creds := f.conv.calls()[0].Credentials
	assert.Equal(t, "request_key", creds.GroqKey)
	assert.Equal(t, "google_env", creds.GoogleKey)
}

func TestChatBadInput(t *testing.T) {
	f := newFixture(t, fullKeys, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[DetailError](t, rec).Detail, "invalid request body")

	rec = f.do(jsonRequest(http.MethodPost, "/api/chat", ChatRequest{Query: "  "}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "query is required", decodeBody[DetailError](t, rec).Detail)
	assert.Empty(t, f.conv.calls())
}

func TestChatMethodNotAllowed(t *testing.T) {
	f := newFixture(t, fullKeys, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Allow"))
	assert.JSONEq(t, `{"detail":"Method not allowed. Use POST to send a chat message."}`, rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodPut, "/api/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, fullKeys, nil)

	for _, path := range []string{"/api/chat", "/api/upload", "/api/clear"} {
		rec := f.do(httptest.NewRequest(http.MethodOptions, path, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type, api_key, groq_api_key", rec.Header().Get("Access-Control-Allow-Headers"))
		assert.Empty(t, rec.Body.String())
	}
}

func multipartRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	f := newFixture(t, llm.Credentials{GroqKey: "gsk_env"}, nil)

	rec := f.do(multipartRequest(t, map[string]string{"user_id": "u1", "api_key": "google"}, "report.pdf", []byte("body")))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[UploadResponse](t, rec)
	assert.Equal(t, UploadResponse{
		Filename: "report.pdf",
		Status:   "indexed",
		Chunks:   0,
		Text:     "Extracted:\n\nbody",
		Message:  "Successfully indexed 0 chunks from report.pdf",
	}, resp)
	assert.EqualValues(t, 1, f.metrics.Uploads.Load())
}

func TestUploadNoFile(t *testing.T) {
	f := newFixture(t, llm.Credentials{}, nil)

	rec := f.do(multipartRequest(t, map[string]string{"user_id": "u1"}, "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"No file uploaded"}`, rec.Body.String())

	rec = f.do(jsonRequest(http.MethodPost, "/api/upload", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"No file uploaded"}`, rec.Body.String())
}

func TestUploadMissingKeys(t *testing.T) {
	f := newFixture(t, llm.Credentials{GoogleKey: "google_env"}, nil)

	// The completion key is never taken from the upload form.
	rec := f.do(multipartRequest(t, map[string]string{"groq_api_key": "gsk"}, "a.pdf", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"Missing API keys"}`, rec.Body.String())
	assert.Zero(t, f.extracts)
}

func TestUploadExtractionFailure(t *testing.T) {
	f := newFixture(t, fullKeys, func(ctx context.Context, data []byte) (string, error) {
		return "   \n ", nil
	})

	rec := f.do(multipartRequest(t, nil, "scan.pdf", []byte("x")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"PDF text extraction failed."}`, rec.Body.String())
	assert.EqualValues(t, 1, f.metrics.UploadErrors.Load())
}

func TestUploadTooLarge(t *testing.T) {
	f := newFixture(t, fullKeys, nil)
	f.server = New(f.conv, f.store, ingest.NewService(nil), provider.NewFactory(provider.ProviderGroq),
		WithFallbackCredentials(fullKeys), WithMaxUploadBytes(1024), WithMetrics(f.metrics))

	rec := f.do(multipartRequest(t, nil, "big.pdf", bytes.Repeat([]byte("x"), 4096)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestClear(t *testing.T) {
	f := newFixture(t, llm.Credentials{GroqKey: "gsk_env"}, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Append(ctx, "u1", "q", "a"))

	rec := f.do(jsonRequest(http.MethodPost, "/api/clear", ClearRequest{UserID: "u1", APIKey: "google"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Session history cleared for u1"}`, rec.Body.String())

	sess, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, sess.History)
	assert.EqualValues(t, 1, f.metrics.Clears.Load())

	rec = f.do(jsonRequest(http.MethodPost, "/api/clear", ClearRequest{APIKey: "google"}))
	assert.JSONEq(t, `{"message":"Session history cleared for default"}`, rec.Body.String())
}

func TestClearErrors(t *testing.T) {
	f := newFixture(t, llm.Credentials{}, nil)

	rec := f.do(jsonRequest(http.MethodPost, "/api/clear", ClearRequest{UserID: "u1", APIKey: "google"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Missing API keys"}`, rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodPost, "/api/clear", strings.NewReader("nope")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[PlainError](t, rec).Error, "invalid request body")
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, fullKeys, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := f.do(req)
	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 16)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, fullKeys, nil)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, health.Healthy, decodeBody[health.Report](t, rec).Status)

	checker := health.New()
	checker.Register("sessions", func(context.Context) error { return session.ErrClosed })
	f.server = New(f.conv, f.store, ingest.NewService(nil), provider.NewFactory(provider.ProviderGroq), WithHealth(checker))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	report := decodeBody[health.Report](t, rec)
	assert.Equal(t, health.Unhealthy, report.Status)
	assert.Equal(t, "session store closed", report.Components["sessions"].Error)
}

type panicValidator struct{}

func (panicValidator) Validate(llm.Credentials) error { panic("validator exploded") }

func TestRecoverer(t *testing.T) {
	f := newFixture(t, fullKeys, nil)
	f.server = New(f.conv, f.store, ingest.NewService(nil), panicValidator{})

	rec := f.do(jsonRequest(http.MethodPost, "/api/chat", ChatRequest{Query: "Hi"}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"Internal Server Error"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fullKeys, nil)
	f.do(jsonRequest(http.MethodPost, "/api/chat", ChatRequest{}))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lumina_chat_requests_total")
}

// scriptedProvider streams fixed text fragments.
type scriptedProvider struct{ parts []string }

func (p scriptedProvider) ID() string             { return "scripted" }
func (p scriptedProvider) Name() string           { return "Scripted" }
func (p scriptedProvider) Models() []domain.Model { return nil }

func (p scriptedProvider) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	ch := make(chan domain.StreamEvent, len(p.parts)+1)
	for _, s := range p.parts {
		ch <- domain.Text(s)
	}
	ch <- domain.StreamEvent{Type: domain.StreamEventDone}
	close(ch)
	return ch, nil
}

func TestEndToEndOverHTTP(t *testing.T) {
	store := session.NewMemoryStore()
	resolver := llm.ResolverFunc(func(llm.Credentials) (llm.Provider, error) {
		return scriptedProvider{parts: []string{"Lum", "ina"}}, nil
	})
	orch := chat.New(store, resolver, chat.WithMetrics(metrics.New()))
	s := New(orch, store, ingest.NewService(nil), provider.NewFactory(provider.ProviderGroq),
		WithFallbackCredentials(fullKeys), WithMetrics(metrics.New()))

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	raw, _ := json.Marshal(ChatRequest{Query: "Who are you?", UserID: "e2e"})
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dec := sse.NewDecoder(resp.Body)
	var got []domain.Event
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	assert.Equal(t, []domain.Event{
		domain.StatusEvent(domain.StatusThinking),
		domain.ContentEvent("Lum"),
		domain.ContentEvent("ina"),
		domain.DoneEvent(),
	}, got)

	sess, err := store.Get(context.Background(), "e2e")
	require.NoError(t, err)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "Lumina", sess.History[1].Text)
}

// brokenPipe accepts headers but fails every body write.
type brokenPipe struct{ header http.Header }

func (b *brokenPipe) Header() http.Header       { return b.header }
func (b *brokenPipe) WriteHeader(int)           {}
func (b *brokenPipe) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
func (b *brokenPipe) Flush()                    {}

// endlessConversation emits content until its context is cancelled.
type endlessConversation struct{ stopped chan struct{} }

func (c *endlessConversation) Converse(ctx context.Context, req chat.Request) <-chan domain.Event {
	out := make(chan domain.Event)
	go func() {
		defer close(c.stopped)
		defer close(out)
		for {
			select {
			case out <- domain.ContentEvent("more"):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func TestChatStopsProducerOnWriteFailure(t *testing.T) {
	conv := &endlessConversation{stopped: make(chan struct{})}
	s := New(conv, session.NewMemoryStore(), ingest.NewService(nil), provider.NewFactory(provider.ProviderGroq),
		WithFallbackCredentials(fullKeys), WithMetrics(metrics.New()))

	req := jsonRequest(http.MethodPost, "/api/chat", ChatRequest{Query: "hi", UserID: "u1"})
	s.Handler().ServeHTTP(&brokenPipe{header: http.Header{}}, req)

	select {
	case <-conv.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("producer still running after the handler returned")
	}
}

// recordingProvider answers every request with a fixed reply and keeps the
// prompt messages it was sent.
type recordingProvider struct {
	reply string

	mu       sync.Mutex
	messages [][]domain.Message
}

func (p *recordingProvider) ID() string             { return "recording" }
func (p *recordingProvider) Name() string           { return "Recording" }
func (p *recordingProvider) Models() []domain.Model { return nil }

func (p *recordingProvider) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan domain.StreamEvent, error) {
	p.mu.Lock()
	p.messages = append(p.messages, append([]domain.Message(nil), req.Messages...))
	p.mu.Unlock()
	ch := make(chan domain.StreamEvent, 2)
	ch <- domain.Text(p.reply)
	ch <- domain.StreamEvent{Type: domain.StreamEventDone}
	close(ch)
	return ch, nil
}

func (p *recordingProvider) last() []domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[len(p.messages)-1]
}

func TestEndToEndHistoryAndClear(t *testing.T) {
	store := session.NewMemoryStore()
	p := &recordingProvider{reply: "Noted."}
	orch := chat.New(store, llm.ResolverFunc(func(llm.Credentials) (llm.Provider, error) { return p, nil }))
	s := New(orch, store, ingest.NewService(nil), provider.NewFactory(provider.ProviderGroq),
		WithFallbackCredentials(fullKeys), WithMetrics(metrics.New()))

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	post := func(path string, body any) {
		t.Helper()
		raw, _ := json.Marshal(body)
		resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(raw))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_, err = io.Copy(io.Discard, resp.Body)
		require.NoError(t, err)
	}

	post("/api/chat", ChatRequest{Query: "First?", UserID: "u1"})
	post("/api/chat", ChatRequest{Query: "Second?", UserID: "u1"})
	assert.Equal(t, []domain.Message{
		{Role: domain.ChatRoleUser, Content: "First?"},
		{Role: domain.ChatRoleAssistant, Content: "Noted."},
		{Role: domain.ChatRoleUser, Content: "Second?"},
	}, p.last())

	post("/api/clear", ClearRequest{UserID: "u1"})
	post("/api/chat", ChatRequest{Query: "Third?", UserID: "u1"})
	assert.Equal(t, []domain.Message{{Role: domain.ChatRoleUser, Content: "Third?"}}, p.last())
}
