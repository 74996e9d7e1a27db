// Package session keeps per-user conversation history for the lifetime of
// the process.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/lumina/internal/domain"
)

// DefaultHistoryLimit is the number of turns kept per user (15 exchanges).
const DefaultHistoryLimit = 30

// ErrClosed is returned by a store used after Close.
var ErrClosed = errors.New("session store closed")

// Store owns session state. Each call is atomic on its own; concurrent
// requests for the same user are not serialized, so when two exchanges
// finish together both are appended in completion order.
type Store interface {
	// Get returns a copy of the user's session, creating an empty one on miss.
	Get(ctx context.Context, userID string) (*domain.Session, error)
	// Append adds one human turn and one assistant turn, then trims the
	// history to the configured limit.
	Append(ctx context.Context, userID, human, assistant string) error
	// Clear empties the user's history. The session itself stays.
	Clear(ctx context.Context, userID string) error
}

// Option configures a store.
type Option func(*options)

type options struct {
	limit int
	now   func() time.Time
}

// WithHistoryLimit sets the number of turns kept per user.
func WithHistoryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.limit = n
		}
	}
}

// WithClock overrides the time source used for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{limit: DefaultHistoryLimit, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func exchange(human, assistant string, at time.Time) [2]domain.Turn {
	return [2]domain.Turn{
		{ID: ulid.Make().String(), Role: domain.RoleHuman, Text: human, At: at},
		{ID: ulid.Make().String(), Role: domain.RoleAssistant, Text: assistant, At: at},
	}
}
