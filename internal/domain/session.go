// Package domain defines the core types shared by the chat pipeline:
// sessions and turns, completion fragments, and the wire events streamed
// to clients.
package domain

import "time"

// Role identifies who authored a turn in a session history.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	ID   string    `json:"id"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is the conversation state for a single user identifier.
type Session struct {
	UserID    string    `json:"user_id"`
	History   []Turn    `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can read history without holding
// the store's lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.History = make([]Turn, len(s.History))
	copy(out.History, s.History)
	return &out
}

// Exchanges returns the number of complete human/assistant pairs.
func (s *Session) Exchanges() int {
	return len(s.History) / 2
}

// TrimHistory keeps the most recent limit turns in their original order.
// A non-positive limit leaves the history untouched.
func TrimHistory(history []Turn, limit int) []Turn {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	trimmed := make([]Turn, limit)
	copy(trimmed, history[len(history)-limit:])
	return trimmed
}
