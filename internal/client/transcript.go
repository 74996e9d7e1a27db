package client

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/joss/lumina/internal/domain"
)

// Transcript is the client-side view of a conversation together with the
// document text that accompanies every chat request.
type Transcript struct {
	mu       sync.Mutex
	messages []domain.ChatMessage
	document string
	filename string
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// SetDocument attaches extracted document text.
func (t *Transcript) SetDocument(filename, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filename = filename
	t.document = text
}

// Document returns the attached filename and text.
func (t *Transcript) Document() (filename, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filename, t.document
}

// AddUser appends a user message.
func (t *Transcript) AddUser(content string) domain.ChatMessage {
	return t.add(domain.ChatRoleUser, content)
}

// StartAssistant appends an empty assistant message and returns its ID.
func (t *Transcript) StartAssistant() string {
	return t.add(domain.ChatRoleAssistant, "").ID
}

func (t *Transcript) add(role domain.ChatRole, content string) domain.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := domain.ChatMessage{ID: ulid.Make().String(), Role: role, Content: content}
	t.messages = append(t.messages, m)
	return m
}

// AppendContent grows the content of message id in place.
func (t *Transcript) AppendContent(id, fragment string) {
	t.update(id, func(m *domain.ChatMessage) { m.Content += fragment })
}

// SetSources attaches citations to message id.
func (t *Transcript) SetSources(id string, sources []domain.Source) {
	t.update(id, func(m *domain.ChatMessage) { m.Sources = append(m.Sources, sources...) })
}

// Fail marks message id as failed.
func (t *Transcript) Fail(id string) {
	t.update(id, func(m *domain.ChatMessage) { m.Failed = true })
}

func (t *Transcript) update(id string, fn func(*domain.ChatMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.messages {
		if t.messages[i].ID == id {
			fn(&t.messages[i])
			return
		}
	}
}

// Get returns message id.
func (t *Transcript) Get(id string) (domain.ChatMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.messages {
		if m.ID == id {
			return m, true
		}
	}
	return domain.ChatMessage{}, false
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []domain.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.ChatMessage(nil), t.messages...)
}

// Truncate keeps the first n messages.
func (t *Transcript) Truncate(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n >= 0 && n < len(t.messages) {
		t.messages = t.messages[:n]
	}
}

// LastUser returns the index and content of the most recent user message,
// or -1 when there is none.
func (t *Transcript) LastUser() (int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == domain.ChatRoleUser {
			return i, t.messages[i].Content
		}
	}
	return -1, ""
}

// Reset forgets messages and the document.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
	t.document = ""
	t.filename = ""
}
