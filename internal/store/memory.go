package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/fincoach/internal/domain"
)

// MemoryStore implements Repository with in-process maps.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	progress map[string]map[string]*domain.CourseProgress // userID -> courseID -> record
	content  map[string][]string
	now      func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		progress: make(map[string]map[string]*domain.CourseProgress),
		content:  make(map[string][]string),
		now:      time.Now,
	}
}

// CreateSession implements SessionStore.
func (m *MemoryStore) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.SessionID]; exists {
		return ErrSessionExists
	}
	s.Version = 1
	m.sessions[s.SessionID] = s.Clone()
	return nil
}

// GetSession implements SessionStore.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

// UpdateSession implements SessionStore.
func (m *MemoryStore) UpdateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[s.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if stored.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	m.sessions[s.SessionID] = s.Clone()
	return nil
}

// DeleteSession implements SessionStore.
func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// EvictIdleSessions implements SessionStore.
func (m *MemoryStore) EvictIdleSessions(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for id, s := range m.sessions {
		if s.IdleFor(now) > ttl {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// GetProgress implements ProgressStore.
func (m *MemoryStore) GetProgress(_ context.Context, userID, courseID string) (*domain.CourseProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.progress[userID][courseID]
	if !ok {
		return nil, nil
	}
	return copyProgress(p), nil
}

// UpsertProgress implements ProgressStore.
func (m *MemoryStore) UpsertProgress(_ context.Context, p *domain.CourseProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.progress[p.UserID]; !ok {
		m.progress[p.UserID] = make(map[string]*domain.CourseProgress)
	}
	next := copyProgress(p)
	if prev, ok := m.progress[p.UserID][p.CourseID]; ok {
		next.CurrentPageIndex = max(next.CurrentPageIndex, prev.CurrentPageIndex)
	}
	m.progress[p.UserID][p.CourseID] = next
	return nil
}

// ListProgress implements ProgressStore.
func (m *MemoryStore) ListProgress(_ context.Context, userID string) ([]*domain.CourseProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.CourseProgress, 0, len(m.progress[userID]))
	for _, p := range m.progress[userID] {
		out = append(out, copyProgress(p))
	}
	sortProgress(out)
	return out, nil
}

// GetUserContent implements ContentStore.
func (m *MemoryStore) GetUserContent(_ context.Context, userID, sessionID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.content[contentKey(userID, sessionID)]...), nil
}

// AddUserContent implements ContentStore.
func (m *MemoryStore) AddUserContent(_ context.Context, userID, sessionID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := contentKey(userID, sessionID)
	m.content[key] = append(m.content[key], content)
	return nil
}

// Ping implements Repository.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Repository.
func (m *MemoryStore) Close() error { return nil }

func copyProgress(p *domain.CourseProgress) *domain.CourseProgress {
	c := *p
	if p.QuizScore != nil {
		s := *p.QuizScore
		c.QuizScore = &s
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func sortProgress(ps []*domain.CourseProgress) {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].StartedAt.Equal(ps[j].StartedAt) {
			return ps[i].StartedAt.Before(ps[j].StartedAt)
		}
		return ps[i].CourseID < ps[j].CourseID
	})
}
