package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joss/lumina/internal/chat"
	"github.com/joss/lumina/internal/logging"
	"github.com/joss/lumina/internal/sse"
	"github.com/joss/lumina/pkg/llm"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Query           string `json:"query"`
	UserID          string `json:"user_id,omitempty"`
	APIKey          string `json:"api_key,omitempty"`
	GroqAPIKey      string `json:"groq_api_key,omitempty"`
	AnthropicAPIKey string `json:"anthropic_api_key,omitempty"`
	OpenAIAPIKey    string `json:"openai_api_key,omitempty"`
	PDFText         string `json:"pdf_text,omitempty"`
}

// ClearRequest is the body of POST /api/clear.
type ClearRequest struct {
	UserID string `json:"user_id,omitempty"`
	APIKey string `json:"api_key,omitempty"`
}

// UploadResponse is the body returned by POST /api/upload.
type UploadResponse struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Chunks   int    `json:"chunks"`
	Text     string `json:"text"`
	Message  string `json:"message"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// DetailError is the error envelope of chat and upload.
type DetailError struct {
	Detail string `json:"detail"`
}

// PlainError is the error envelope of clear.
type PlainError struct {
	Error string `json:"error"`
}

const methodNotAllowed = "Method not allowed. Use POST to send a chat message."

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func userOrDefault(id string) string {
	if strings.TrimSpace(id) == "" {
		return DefaultUserID
	}
	return id
}

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "POST, OPTIONS")
	writeJSON(w, http.StatusMethodNotAllowed, DetailError{Detail: methodNotAllowed})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithContext(r.Context())

	var body ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.metrics.RecordRejected()
		writeJSON(w, http.StatusBadRequest, DetailError{Detail: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	creds := llm.Credentials{
		GroqKey:      body.GroqAPIKey,
		GoogleKey:    body.APIKey,
		AnthropicKey: body.AnthropicAPIKey,
		OpenAIKey:    body.OpenAIAPIKey,
	}.WithFallback(s.fallback)
	if err := s.validator.Validate(creds); err != nil {
		s.metrics.RecordRejected()
		writeJSON(w, http.StatusBadRequest, DetailError{Detail: err.Error()})
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		s.metrics.RecordRejected()
		writeJSON(w, http.StatusBadRequest, DetailError{Detail: "query is required"})
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		writeJSON(w, http.StatusInternalServerError, DetailError{Detail: "streaming not supported"})
		return
	}

	sse.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	stream := sse.NewWriter(w)
	defer stream.Close()

	// Stops the producer when the handler returns early.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	userID := userOrDefault(body.UserID)
	events := s.chat.Converse(logging.WithUserID(ctx, userID), chat.Request{
		UserID:       userID,
		Query:        body.Query,
		DocumentText: body.PDFText,
		Credentials:  creds,
	})
	for ev := range events {
		if ev.Terminal() {
			break
		}
		if err := stream.Encode(ev); err != nil {
			log.Warn("stream_write_failed", map[string]any{"event": string(ev.Type)}, err)
			return
		}
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.metrics.RecordRejected()
			writeJSON(w, http.StatusRequestEntityTooLarge, DetailError{Detail: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)})
			return
		case !errors.Is(err, http.ErrNotMultipart):
			s.metrics.RecordRejected()
			writeJSON(w, http.StatusBadRequest, DetailError{Detail: fmt.Sprintf("invalid upload: %v", err)})
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.metrics.RecordRejected()
		writeJSON(w, http.StatusBadRequest, DetailError{Detail: "No file uploaded"})
		return
	}
	defer file.Close()

	userID := userOrDefault(r.FormValue("user_id"))
	creds := llm.Credentials{GoogleKey: r.FormValue("api_key")}.WithFallback(s.fallback)
	if err := s.validator.Validate(creds); err != nil {
		s.metrics.RecordRejected()
		writeJSON(w, http.StatusBadRequest, DetailError{Detail: err.Error()})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.metrics.RecordUpload(false)
		writeJSON(w, http.StatusInternalServerError, DetailError{Detail: err.Error()})
		return
	}

	ctx := logging.WithUserID(r.Context(), userID)
	doc, err := s.ingestor.Ingest(ctx, header.Filename, data)
	if err != nil {
		s.metrics.RecordUpload(false)
		s.log.WithContext(ctx).Warn("upload_failed", map[string]any{"filename": header.Filename}, err)
		writeJSON(w, http.StatusInternalServerError, DetailError{Detail: err.Error()})
		return
	}
	s.metrics.RecordUpload(true)

	writeJSON(w, http.StatusOK, UploadResponse{
		Filename: header.Filename,
		Status:   "indexed",
		Chunks:   doc.Chunks,
		Text:     doc.Text,
		Message:  fmt.Sprintf("Successfully indexed %d chunks from %s", doc.Chunks, header.Filename),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var body ClearRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.metrics.RecordRejected()
		writeJSON(w, http.StatusBadRequest, PlainError{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	creds := llm.Credentials{GoogleKey: body.APIKey}.WithFallback(s.fallback)
	if err := s.validator.Validate(creds); err != nil {
		s.metrics.RecordRejected()
		writeJSON(w, http.StatusBadRequest, PlainError{Error: err.Error()})
		return
	}

	userID := userOrDefault(body.UserID)
	if err := s.sessions.Clear(r.Context(), userID); err != nil {
		writeJSON(w, http.StatusInternalServerError, PlainError{Error: err.Error()})
		return
	}
	s.metrics.RecordClear()
	s.log.WithContext(r.Context()).WithUser(userID).Info("history_cleared", nil)

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Session history cleared for " + userID})
}
