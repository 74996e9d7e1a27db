// Package metrics provides a simple Prometheus-compatible metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joss/lumina/internal/logging"
)

// Metrics holds runtime counters for the chat service
type Metrics struct {
	// Chat streams
	ChatRequests     atomic.Int64
	StreamsCompleted atomic.Int64
	StreamErrors     atomic.Int64
	ActiveStreams    atomic.Int64
	Fragments        atomic.Int64

	// Sessions
	HistoryAppends atomic.Int64
	Clears         atomic.Int64

	// Ingestion
	Uploads      atomic.Int64
	UploadErrors atomic.Int64

	// HTTP validation failures
	Rejected atomic.Int64

	LastStreamDurationMs atomic.Int64

	startTime time.Time
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// New returns an independent metrics set.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// StreamStarted records a chat stream being opened
func (m *Metrics) StreamStarted() {
	m.ChatRequests.Add(1)
	m.ActiveStreams.Add(1)
}

// StreamFinished records the end of a chat stream
func (m *Metrics) StreamFinished(success bool, d time.Duration) {
	m.ActiveStreams.Add(-1)
	if success {
		m.StreamsCompleted.Add(1)
	} else {
		m.StreamErrors.Add(1)
	}
	m.LastStreamDurationMs.Store(d.Milliseconds())
}

// RecordFragment records one fragment received from a completion source
func (m *Metrics) RecordFragment() {
	m.Fragments.Add(1)
}

// RecordAppend records a completed exchange stored in a session
func (m *Metrics) RecordAppend() {
	m.HistoryAppends.Add(1)
}

// RecordClear records a session history reset
func (m *Metrics) RecordClear() {
	m.Clears.Add(1)
}

// RecordUpload records a document ingestion attempt
func (m *Metrics) RecordUpload(success bool) {
	m.Uploads.Add(1)
	if !success {
		m.UploadErrors.Add(1)
	}
}

// RecordRejected records a request refused before processing
func (m *Metrics) RecordRejected() {
	m.Rejected.Add(1)
}

type series struct {
	name, kind, help string
	value            func() string
}

func (m *Metrics) series() []series {
	count := func(v *atomic.Int64) func() string {
		return func() string { return fmt.Sprintf("%d", v.Load()) }
	}
	return []series{
		{"lumina_uptime_seconds", "gauge", "Time since the service started",
			func() string { return fmt.Sprintf("%.2f", time.Since(m.startTime).Seconds()) }},
		{"lumina_chat_requests_total", "counter", "Chat streams opened", count(&m.ChatRequests)},
		{"lumina_chat_streams_completed_total", "counter", "Chat streams finished without error", count(&m.StreamsCompleted)},
		{"lumina_chat_stream_errors_total", "counter", "Chat streams finished with an error event", count(&m.StreamErrors)},
		{"lumina_chat_active_streams", "gauge", "Chat streams in flight", count(&m.ActiveStreams)},
		{"lumina_chat_fragments_total", "counter", "Fragments received from completion sources", count(&m.Fragments)},
		{"lumina_session_appends_total", "counter", "Exchanges appended to session history", count(&m.HistoryAppends)},
		{"lumina_session_clears_total", "counter", "Session history resets", count(&m.Clears)},
		{"lumina_uploads_total", "counter", "Document upload attempts", count(&m.Uploads)},
		{"lumina_upload_errors_total", "counter", "Document uploads that failed", count(&m.UploadErrors)},
		{"lumina_requests_rejected_total", "counter", "Requests refused by validation", count(&m.Rejected)},
		{"lumina_last_stream_duration_ms", "gauge", "Duration of the last chat stream", count(&m.LastStreamDurationMs)},
	}
}

// Handler returns an HTTP handler for /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		for i, s := range m.series() {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "# HELP %s %s\n", s.name, s.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", s.name, s.kind)
			fmt.Fprintf(w, "%s %s\n", s.name, s.value())
		}
	}
}

// Server wraps a standalone metrics HTTP server
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server on the given port
func NewServer(port int, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", m.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start starts the metrics server in background
func (s *Server) Start() error {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.New("metrics").Error("listen_failed", map[string]any{"addr": s.srv.Addr}, err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the metrics server
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
