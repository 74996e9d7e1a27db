package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventType tags a wire event.
type EventType string

const (
	EventStatus  EventType = "status"
	EventContent EventType = "content"
	EventSources EventType = "sources"
	EventError   EventType = "error"
	EventDone    EventType = "done"
)

// StatusThinking is the content of the first event of every stream.
const StatusThinking = "thinking..."

// Source is a citation shown to the user. Page is one-based.
type Source struct {
	Page    int    `json:"page"`
	Snippet string `json:"snippet"`
}

// Event is a single record of the outbound chat stream. Only the fields
// relevant to Type are serialized.
type Event struct {
	Type    EventType
	Content string
	Sources []Source
	Detail  string
}

func StatusEvent(s string) Event     { return Event{Type: EventStatus, Content: s} }
func ContentEvent(s string) Event    { return Event{Type: EventContent, Content: s} }
func SourcesEvent(s []Source) Event  { return Event{Type: EventSources, Sources: s} }
func ErrorEvent(detail string) Event { return Event{Type: EventError, Detail: detail} }
func DoneEvent() Event               { return Event{Type: EventDone} }

// Terminal reports whether the event ends a stream.
func (e Event) Terminal() bool { return e.Type == EventDone }

// MarshalJSON emits the exact record shape for each event type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStatus, EventContent:
		return marshalRaw(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventSources:
		sources := e.Sources
		if sources == nil {
			sources = []Source{}
		}
		return marshalRaw(struct {
			Type    EventType `json:"type"`
			Sources []Source  `json:"sources"`
		}{e.Type, sources})
	case EventError:
		return marshalRaw(struct {
			Type   EventType `json:"type"`
			Detail string    `json:"detail"`
		}{e.Type, e.Detail})
	case EventDone:
		return marshalRaw(struct {
			Type EventType `json:"type"`
		}{e.Type})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// marshalRaw encodes v without HTML escaping.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON accepts any record shape; unknown fields are ignored.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    EventType `json:"type"`
		Content string    `json:"content"`
		Sources []Source  `json:"sources"`
		Detail  string    `json:"detail"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type == "" {
		return fmt.Errorf("event without type")
	}
	*e = Event{Type: raw.Type, Content: raw.Content, Sources: raw.Sources, Detail: raw.Detail}
	return nil
}
