// Package chat runs one conversational turn: it builds the completion
// request from the stored history and the client's document, streams the
// answer as wire events and records the exchange once it has completed.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joss/lumina/internal/domain"
	"github.com/joss/lumina/internal/logging"
	"github.com/joss/lumina/internal/metrics"
	"github.com/joss/lumina/internal/session"
	lstrings "github.com/joss/lumina/internal/strings"
	"github.com/joss/lumina/internal/tokens"
	"github.com/joss/lumina/pkg/llm"
)

// DefaultModel is the model requested when none is configured.
const DefaultModel = "llama-3.3-70b-versatile"

// DefaultTemperature is the sampling temperature used when none is configured.
const DefaultTemperature = 0.1

// SnippetRunes is the length of a source snippet.
const SnippetRunes = 200

// ErrStreamEnded is reported when a completion stream closes without a
// done or error event.
var ErrStreamEnded = errors.New("completion stream ended unexpectedly")

// Request is one chat turn as received from the client.
type Request struct {
	UserID       string
	Query        string
	DocumentText string
	Credentials  llm.Credentials
}

// Orchestrator turns requests into event streams.
type Orchestrator struct {
	store       session.Store
	resolver    llm.Resolver
	model       string
	temperature float64
	timeout     time.Duration
	metrics     *metrics.Metrics
	tokens      *tokens.Counter
	tracer      trace.Tracer
	log         *logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModel sets the model requested from the provider. Empty selects the
// provider's default.
func WithModel(model string) Option {
	return func(o *Orchestrator) { o.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithStreamTimeout bounds each completion. Zero means unbounded.
func WithStreamTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTokenCounter enables prompt size estimates on spans and logs.
func WithTokenCounter(c *tokens.Counter) Option {
	return func(o *Orchestrator) { o.tokens = c }
}

// WithTracer sets the tracer used for conversation spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// New creates an orchestrator over a session store and a provider resolver.
func New(store session.Store, resolver llm.Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		resolver:    resolver,
		model:       DefaultModel,
		temperature: DefaultTemperature,
		metrics:     metrics.Global(),
		tracer:      otel.Tracer("github.com/joss/lumina/internal/chat"),
		log:         logging.New("chat"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Converse starts a turn and returns its events. The first event is always
// the thinking status and the last is always done; a failure produces one
// error event just before done. The channel is unbuffered and is closed
// after done, or early when ctx is cancelled. History is only updated when
// the completion finished cleanly with a non-empty answer.
func (o *Orchestrator) Converse(ctx context.Context, req Request) <-chan domain.Event {
	out := make(chan domain.Event)
	go o.run(ctx, req, out)
	return out
}

type turn struct {
	ctx       context.Context
	out       chan<- domain.Event
	fragments int
}

// send delivers ev unless the consumer has gone away.
func (t *turn) send(ev domain.Event) bool {
	select {
	case t.out <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request, out chan<- domain.Event) {
	defer close(out)

	start := time.Now()
	o.metrics.StreamStarted()

	ctx, span := o.tracer.Start(ctx, "chat.converse", trace.WithAttributes(
		attribute.String("chat.user_id", req.UserID),
		attribute.Bool("chat.has_document", HasDocument(req.DocumentText)),
	))
	defer span.End()

	log := o.log.WithContext(ctx).WithUser(req.UserID)
	t := &turn{ctx: ctx, out: out}

	var answer string
	err := ctx.Err()
	if err == nil && !t.send(domain.StatusEvent(domain.StatusThinking)) {
		err = ctx.Err()
	}
	if err == nil {
		err = logging.Guard("chat", func() error {
			var streamErr error
			answer, streamErr = o.stream(ctx, t, req, span)
			return streamErr
		})
	}
	// A cancelled request never records history, even if the answer completed.
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && answer != "" {
		if err = o.store.Append(ctx, req.UserID, req.Query, answer); err == nil {
			o.metrics.RecordAppend()
		} else {
			err = fmt.Errorf("save history: %w", err)
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.send(domain.ErrorEvent(err.Error()))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	t.send(domain.DoneEvent())

	span.SetAttributes(
		attribute.Int("chat.fragments", t.fragments),
		attribute.Int("chat.answer_chars", utf8.RuneCountInString(answer)),
	)
	o.metrics.StreamFinished(err == nil, time.Since(start))
	log.TimedEvent("converse", start, map[string]any{
		"fragments":    t.fragments,
		"answer_chars": utf8.RuneCountInString(answer),
		"has_document": HasDocument(req.DocumentText),
	}, err)
}

// stream resolves the provider, sends the request and relays fragments. It
// returns the accumulated answer once the provider reports done.
func (o *Orchestrator) stream(ctx context.Context, t *turn, req Request, span trace.Span) (string, error) {
	sess, err := o.store.Get(ctx, req.UserID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}

	provider, err := o.resolver.Resolve(req.Credentials)
	if err != nil {
		return "", err
	}
	span.SetAttributes(
		attribute.String("chat.provider", provider.ID()),
		attribute.Int("chat.history_turns", len(sess.History)),
	)

	chatReq := BuildRequest(sess.History, req.Query, req.DocumentText, o.model, o.temperature)
	if o.tokens != nil {
		prompt := append([]domain.Message{{Role: domain.ChatRoleSystem, Content: chatReq.SystemPrompt}}, chatReq.Messages...)
		span.SetAttributes(attribute.Int("chat.prompt_tokens", o.tokens.CountMessages(prompt)))
	}

	streamCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	events, err := provider.Chat(streamCtx, chatReq)
	if err != nil {
		return "", o.wrapTimeout(ctx, err)
	}

	var answer strings.Builder
	for {
		var ev domain.StreamEvent
		var ok bool
		select {
		case ev, ok = <-events:
		case <-streamCtx.Done():
			return "", o.wrapTimeout(ctx, streamCtx.Err())
		}
		if !ok {
			if streamCtx.Err() != nil {
				return "", o.wrapTimeout(ctx, streamCtx.Err())
			}
			return "", ErrStreamEnded
		}

		switch ev.Type {
		case domain.StreamEventFragment:
			if !o.relay(t, ev.Fragment, &answer) {
				return "", ctx.Err()
			}
		case domain.StreamEventUsage:
			if ev.Usage != nil {
				span.SetAttributes(
					attribute.Int("chat.input_tokens", ev.Usage.InputTokens),
					attribute.Int("chat.output_tokens", ev.Usage.OutputTokens),
				)
			}
		case domain.StreamEventDone:
			return answer.String(), nil
		case domain.StreamEventError:
			if ev.Error == nil {
				return "", errors.New("completion stream failed")
			}
			return "", o.wrapTimeout(ctx, ev.Error)
		}
	}
}

// relay converts one fragment into wire events and adds its text to the
// answer.
func (o *Orchestrator) relay(t *turn, f domain.Fragment, answer *strings.Builder) bool {
	switch f := f.(type) {
	case domain.TextFragment:
		if f.Text == "" {
			return true
		}
		answer.WriteString(f.Text)
		t.fragments++
		o.metrics.RecordFragment()
		return t.send(domain.ContentEvent(f.Text))
	case domain.SourcedFragment:
		answer.WriteString(f.Answer)
		t.fragments++
		o.metrics.RecordFragment()
		if !t.send(domain.ContentEvent(f.Answer)) {
			return false
		}
		if f.Context == nil {
			return true
		}
		return t.send(domain.SourcesEvent(Sources(f.Context)))
	}
	return true
}

// Sources converts retrieval context into one-based page citations.
func Sources(entries []domain.ContextEntry) []domain.Source {
	sources := make([]domain.Source, 0, len(entries))
	for _, e := range entries {
		sources = append(sources, domain.Source{
			Page:    e.Page + 1,
			Snippet: lstrings.Head(e.Content, SnippetRunes),
		})
	}
	return sources
}

// wrapTimeout names a stream deadline as a timeout. Cancellation of the
// request itself is returned unchanged.
func (o *Orchestrator) wrapTimeout(ctx context.Context, err error) error {
	if o.timeout > 0 && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("completion timed out after %s: %w", o.timeout, err)
	}
	return err
}
