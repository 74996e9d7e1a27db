package session

import (
	"context"
	"sync"

	"github.com/joss/lumina/internal/domain"
)

// MemoryStore keeps sessions in a map guarded by a mutex.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	opts     options
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		opts:     buildOptions(opts),
	}
}

// session returns the live session for userID. Caller must hold mu.
func (m *MemoryStore) session(userID string) *domain.Session {
	s, ok := m.sessions[userID]
	if !ok {
		now := m.opts.now()
		s = &domain.Session{UserID: userID, History: []domain.Turn{}, CreatedAt: now, UpdatedAt: now}
		m.sessions[userID] = s
	}
	return s
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session(userID).Clone(), nil
}

func (m *MemoryStore) Append(ctx context.Context, userID, human, assistant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(userID)
	now := m.opts.now()
	turns := exchange(human, assistant, now)
	s.History = domain.TrimHistory(append(s.History, turns[:]...), m.opts.limit)
	s.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(userID)
	s.History = []domain.Turn{}
	s.UpdatedAt = m.opts.now()
	return nil
}

// Len returns the number of sessions created so far.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
