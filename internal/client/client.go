// Package client talks to a Lumina server: it uploads documents, streams
// chat answers into a Transcript and resets server-side history.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/joss/lumina/internal/domain"
	"github.com/joss/lumina/internal/health"
	"github.com/joss/lumina/internal/sse"
	"github.com/joss/lumina/pkg/llm"
)

// ErrIncomplete is returned when a chat stream ends before its sentinel.
var ErrIncomplete = errors.New("chat stream ended before completion")

// HTTPClient interface for testing
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-200 response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// StreamError is an error event received in the middle of an answer.
type StreamError struct {
	Detail string
}

func (e *StreamError) Error() string {
	return e.Detail
}

// UploadResult is the server's response to an upload.
type UploadResult struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Chunks   int    `json:"chunks"`
	Text     string `json:"text"`
	Message  string `json:"message"`
}

// Client is a Lumina API client.
type Client struct {
	baseURL string
	userID  string
	creds   llm.Credentials
	http    HTTPClient
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(h HTTPClient) Option {
	return func(c *Client) { c.http = h }
}

// WithUserID sets the identifier the server keys history by. Empty keeps
// the shared default.
func WithUserID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.userID = id
		}
	}
}

// WithCredentials sets the API keys sent with requests. Empty keys are
// omitted so the server can use its own.
func WithCredentials(creds llm.Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  "default",
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserID returns the identifier sent with requests.
func (c *Client) UserID() string { return c.userID }

type chatBody struct {
	Query           string `json:"query"`
	UserID          string `json:"user_id"`
	APIKey          string `json:"api_key,omitempty"`
	GroqAPIKey      string `json:"groq_api_key,omitempty"`
	AnthropicAPIKey string `json:"anthropic_api_key,omitempty"`
	OpenAIAPIKey    string `json:"openai_api_key,omitempty"`
	PDFText         string `json:"pdf_text,omitempty"`
}

// Chat adds query to the transcript, streams the answer into a new
// assistant message and returns it. onEvent, if set, sees every event as it
// arrives. An error event marks the message failed and is returned as a
// *StreamError.
func (c *Client) Chat(ctx context.Context, t *Transcript, query string, onEvent func(domain.Event)) (domain.ChatMessage, error) {
	t.AddUser(query)
	return c.send(ctx, t, query, onEvent)
}

// Regenerate drops everything after the last user message and asks again.
func (c *Client) Regenerate(ctx context.Context, t *Transcript, onEvent func(domain.Event)) (domain.ChatMessage, error) {
	i, query := t.LastUser()
	if i < 0 {
		return domain.ChatMessage{}, errors.New("nothing to regenerate")
	}
	t.Truncate(i + 1)
	return c.send(ctx, t, query, onEvent)
}

func (c *Client) send(ctx context.Context, t *Transcript, query string, onEvent func(domain.Event)) (domain.ChatMessage, error) {
	_, document := t.Document()
	resp, err := c.postJSON(ctx, "/api/chat", chatBody{
		Query:           query,
		UserID:          c.userID,
		APIKey:          c.creds.GoogleKey,
		GroqAPIKey:      c.creds.GroqKey,
		AnthropicAPIKey: c.creds.AnthropicKey,
		OpenAIAPIKey:    c.creds.OpenAIKey,
		PDFText:         document,
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ChatMessage{}, readError(resp)
	}

	id := t.StartAssistant()
	var streamErr error
	dec := sse.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fail(id)
			msg, _ := t.Get(id)
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrIncomplete
			}
			return msg, err
		}
		if onEvent != nil {
			onEvent(ev)
		}

		switch ev.Type {
		case domain.EventContent:
			if ev.Content != "" {
				t.AppendContent(id, ev.Content)
			}
		case domain.EventSources:
			t.SetSources(id, ev.Sources)
		case domain.EventError:
			t.Fail(id)
			streamErr = &StreamError{Detail: ev.Detail}
		}
	}

	msg, _ := t.Get(id)
	return msg, streamErr
}

// Upload sends a document for extraction and attaches the returned text to
// the transcript.
func (c *Client) Upload(ctx context.Context, t *Transcript, filename string, r io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	mw.WriteField("user_id", c.userID)
	if c.creds.GoogleKey != "" {
		mw.WriteField("api_key", c.creds.GoogleKey)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if t != nil {
		t.SetDocument(result.Filename, result.Text)
	}
	return &result, nil
}

// Clear resets the server-side history and returns the confirmation.
func (c *Client) Clear(ctx context.Context) (string, error) {
	resp, err := c.postJSON(ctx, "/api/clear", struct {
		UserID string `json:"user_id"`
		APIKey string `json:"api_key,omitempty"`
	}{c.userID, c.creds.GoogleKey})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readError(resp)
	}

	var result struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.Message, nil
}

// Health fetches the server's health report. An unhealthy server still
// returns its report.
func (c *Client) Health(ctx context.Context) (*health.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, readError(resp)
	}
	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &report, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}

// readError reads either error envelope the server uses.
func readError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var env struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &env) == nil {
		msg = env.Detail
		if msg == "" {
			msg = env.Error
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("Server error: %d", resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
