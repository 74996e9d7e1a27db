// Package sse encodes chat events as a server-sent event stream and decodes
// such a stream on the client side.
//
// Every record is a single line "data: <payload>" followed by a blank line.
// The stream ends with the literal sentinel record "data: [DONE]".
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Done is the payload of the terminal record.
const Done = "[DONE]"

// ErrClosed is returned when encoding into a closed Writer.
var ErrClosed = errors.New("sse: writer closed")

// SetHeaders prepares a response for streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer re-encodes values as SSE records. Each record is flushed as soon as
// it is written when the destination supports http.Flusher.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	buf     bytes.Buffer
	closed  bool
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Encode writes v as one record.
func (s *Writer) Encode(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.buf.Reset()
	enc := json.NewEncoder(&s.buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	// Encoder terminates with a newline; the record needs exactly one more.
	return s.write(append([]byte("data: "), append(s.buf.Bytes(), '\n')...))
}

// Close writes the [DONE] sentinel. Only the first call writes; later calls
// return nil.
func (s *Writer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.write([]byte("data: " + Done + "\n\n"))
}

// Closed reports whether the sentinel has been written.
func (s *Writer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Writer) write(record []byte) error {
	if _, err := s.w.Write(record); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
