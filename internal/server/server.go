// Package server exposes the chat pipeline over HTTP: a streaming chat
// endpoint, document upload and history reset.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/joss/lumina/internal/chat"
	"github.com/joss/lumina/internal/domain"
	"github.com/joss/lumina/internal/health"
	"github.com/joss/lumina/internal/ingest"
	"github.com/joss/lumina/internal/logging"
	"github.com/joss/lumina/internal/metrics"
	"github.com/joss/lumina/internal/session"
	"github.com/joss/lumina/pkg/llm"
)

// DefaultUserID is used when a request does not name a user.
const DefaultUserID = "default"

// DefaultMaxUploadBytes bounds an upload body.
const DefaultMaxUploadBytes = 32 << 20

// Conversation streams the events of one chat turn.
type Conversation interface {
	Converse(ctx context.Context, req chat.Request) <-chan domain.Event
}

// Ingestor turns an uploaded file into document text.
type Ingestor interface {
	Ingest(ctx context.Context, filename string, data []byte) (*ingest.Document, error)
}

// KeyValidator decides whether a request carries the keys it needs.
type KeyValidator interface {
	Validate(creds llm.Credentials) error
}

// Server provides the Lumina HTTP API.
type Server struct {
	chat      Conversation
	sessions  session.Store
	ingestor  Ingestor
	validator KeyValidator
	fallback  llm.Credentials
	metrics   *metrics.Metrics
	maxUpload int64
	addr      string
	health    *health.Checker

	mux *http.ServeMux
	srv *http.Server
	log *logging.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithFallbackCredentials sets the keys used when a request omits them.
func WithFallbackCredentials(creds llm.Credentials) Option {
	return func(s *Server) { s.fallback = creds }
}

// WithMetrics sets the metrics sink served at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithHealth sets the checker served at /health.
func WithHealth(c *health.Checker) Option {
	return func(s *Server) {
		if c != nil {
			s.health = c
		}
	}
}

// WithMaxUploadBytes bounds upload bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// New creates a server.
func New(conv Conversation, sessions session.Store, ingestor Ingestor, validator KeyValidator, opts ...Option) *Server {
	s := &Server{
		chat:      conv,
		sessions:  sessions,
		ingestor:  ingestor,
		validator: validator,
		metrics:   metrics.Global(),
		maxUpload: DefaultMaxUploadBytes,
		addr:      ":8080",
		health:    health.New(),
		mux:       http.NewServeMux(),
		log:       logging.New("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/chat", s.handleChatGet)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
	s.mux.Handle("GET /health", s.health.Handler())
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

// Handler returns the routes wrapped in middleware.
func (s *Server) Handler() http.Handler {
	return RequestID(Recoverer(AccessLog(CORS(s.mux))))
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening", map[string]any{"addr": s.addr})
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for open streams to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Serve runs the server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}
