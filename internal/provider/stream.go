package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/joss/lumina/internal/domain"
)

// emitter delivers events unless the consumer has gone away.
type emitter struct {
	ctx context.Context
	ch  chan<- domain.StreamEvent
}

func (e emitter) send(ev domain.StreamEvent) bool {
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e emitter) text(s string) bool {
	if s == "" {
		return true
	}
	return e.send(domain.Text(s))
}

func (e emitter) usage(in, out int) bool {
	return e.send(domain.StreamEvent{
		Type:  domain.StreamEventUsage,
		Usage: &domain.Usage{InputTokens: in, OutputTokens: out},
	})
}

// decodeFunc handles one data payload of an upstream event stream. It
// returns finished once the provider has signalled the end of the answer,
// or an error the upstream reported in-band.
type decodeFunc func(data string, e emitter) (finished bool, err error)

const maxLine = 1024 * 1024

// pump reads an upstream SSE body on its own goroutine and translates it
// into fragment events. The returned channel always ends with exactly one
// done or error event unless ctx is cancelled first, and is then closed.
func pump(ctx context.Context, body io.ReadCloser, decode decodeFunc) <-chan domain.StreamEvent {
	events := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(events)
		defer body.Close()
		e := emitter{ctx: ctx, ch: events}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				e.send(domain.StreamEvent{Type: domain.StreamEventDone})
				return
			}
			finished, err := decode(data, e)
			if err != nil {
				e.send(domain.Failed(err))
				return
			}
			if finished {
				e.send(domain.StreamEvent{Type: domain.StreamEventDone})
				return
			}
			if ctx.Err() != nil {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			e.send(domain.Failed(fmt.Errorf("read stream: %w", err)))
			return
		}
		if ctx.Err() != nil {
			return
		}
		e.send(domain.StreamEvent{Type: domain.StreamEventDone})
	}()
	return events
}
