package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/soyeahso/oracle/internal/domain"
)

// SessionStore persists whole session documents. Load returns
// *domain.NotFoundError for unknown ids. Implementations must be safe for
// concurrent use and must not retain the pointers they are given.
type SessionStore interface {
	Load(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.SessionSummary, error)
}

// MemorySessionStore is an in-memory SessionStore implementation.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session // id → session
}

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*domain.Session),
	}
}

func (m *MemorySessionStore) Load(_ context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "session", ID: id}
	}
	return s.Clone(), nil
}

func (m *MemorySessionStore) Save(_ context.Context, s *domain.Session) error {
	if err := s.CheckInvariants(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return &domain.NotFoundError{Kind: "session", ID: id}
	}
	delete(m.sessions, id)
	return nil
}

// List returns summaries, most recently updated first.
func (m *MemorySessionStore) List(_ context.Context) ([]domain.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Summary())
	}
	SortSummaries(out)
	return out, nil
}

// SortSummaries orders summaries most recently updated first, then by id.
func SortSummaries(list []domain.SessionSummary) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt != list[j].UpdatedAt {
			return list[i].UpdatedAt > list[j].UpdatedAt
		}
		return list[i].ID < list[j].ID
	})
}
