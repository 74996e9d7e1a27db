package domain

// Fragment is one unit of output from a completion source. Providers
// normalize whatever their upstream sends into one of the variants below.
type Fragment interface {
	FragmentType() string
}

// TextFragment is a raw piece of answer text.
type TextFragment struct {
	Text string `json:"text"`
}

func (f TextFragment) FragmentType() string { return "text" }

// ContextEntry is a supporting passage attached to a sourced answer.
// Page is zero-based.
type ContextEntry struct {
	Page    int    `json:"page"`
	Content string `json:"content"`
}

// SourcedFragment is an answer piece that may carry the passages it was
// drawn from. A nil Context means the source sent no context at all.
type SourcedFragment struct {
	Answer  string         `json:"answer"`
	Context []ContextEntry `json:"context,omitempty"`
}

func (f SourcedFragment) FragmentType() string { return "sourced" }

// StreamEvent is what a completion source yields on its channel.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Fragment Fragment        `json:"fragment,omitempty"`
	Error    error           `json:"-"`
	Usage    *Usage          `json:"usage,omitempty"`
}

type StreamEventType string

const (
	StreamEventFragment StreamEventType = "fragment"
	StreamEventUsage    StreamEventType = "usage"
	StreamEventDone     StreamEventType = "done"
	StreamEventError    StreamEventType = "error"
)

// Text is a shorthand for a text fragment event.
func Text(s string) StreamEvent {
	return StreamEvent{Type: StreamEventFragment, Fragment: TextFragment{Text: s}}
}

// Failed is a shorthand for an error event.
func Failed(err error) StreamEvent {
	return StreamEvent{Type: StreamEventError, Error: err}
}
