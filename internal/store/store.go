// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/fincoach/internal/domain"
)

var (
	// ErrVersionConflict is returned when an update carries a stale Version.
	ErrVersionConflict = fmt.Errorf("%w: session version conflict", domain.ErrConflict)

	// ErrSessionExists is returned when creating a session id that is taken.
	ErrSessionExists = fmt.Errorf("%w: session already exists", domain.ErrConflict)

	// ErrSessionNotFound is returned when updating a session that does not exist.
	ErrSessionNotFound = fmt.Errorf("%w: session", domain.ErrNotFound)
)

// SessionStore persists sessions with optimistic locking.
type SessionStore interface {
	// CreateSession stores a new session with Version set to 1.
	// Returns ErrSessionExists if the id is taken.
	CreateSession(ctx context.Context, s *domain.Session) error

	// GetSession retrieves a session by id.
	// Returns nil, nil if the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpdateSession replaces a session if s.Version matches the stored
	// version, then increments s.Version.
	// Returns ErrVersionConflict or ErrSessionNotFound.
	UpdateSession(ctx context.Context, s *domain.Session) error

	// DeleteSession removes a session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// EvictIdleSessions removes sessions inactive for longer than ttl.
	EvictIdleSessions(ctx context.Context, ttl time.Duration) (int64, error)
}

// ProgressStore persists per-user course progress. Records are never deleted.
type ProgressStore interface {
	// GetProgress returns nil, nil when the user never started the course.
	GetProgress(ctx context.Context, userID, courseID string) (*domain.CourseProgress, error)

	// UpsertProgress creates or replaces a progress record. The stored
	// currentPageIndex never decreases.
	UpsertProgress(ctx context.Context, p *domain.CourseProgress) error

	// ListProgress returns all progress records of a user, oldest first.
	ListProgress(ctx context.Context, userID string) ([]*domain.CourseProgress, error)
}

// ContentStore exposes content a user uploaded into a session.
type ContentStore interface {
	GetUserContent(ctx context.Context, userID, sessionID string) ([]string, error)
	AddUserContent(ctx context.Context, userID, sessionID, content string) error
}

// Repository is the full persistence surface used by the server.
type Repository interface {
	SessionStore
	ProgressStore
	ContentStore

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

func contentKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}
