// Package session owns the lifecycle of learning sessions: creation,
// resumption, activity tracking and serialized mutation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/fincoach/internal/domain"
	"github.com/ashureev/fincoach/internal/store"
)

// maxCASAttempts bounds retries when another process wins a version race.
const maxCASAttempts = 3

// MutateFunc edits a private copy of the session. Returning an error aborts
// the update and leaves the stored session unchanged.
type MutateFunc func(*domain.Session) error

// Service mediates every session read and write.
type Service struct {
	store        store.SessionStore
	locks        *keyedMutex
	resetOnReuse bool
	now          func() time.Time
	newID        func() string
	logger       *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithResetOnReuse makes GetOrCreate reset an existing session instead of
// resuming it.
func WithResetOnReuse(reset bool) Option {
	return func(s *Service) { s.resetOnReuse = reset }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides session id minting.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a session service backed by st.
func NewService(st store.SessionStore, opts ...Option) *Service {
	s := &Service{
		store:  st,
		locks:  newKeyedMutex(),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock. Engines that write timestamps into the
// session use it so tests can pin time in one place.
func (s *Service) Now() time.Time {
	return s.now()
}

// GetOrCreate returns the session for sessionID, creating it when it does not
// exist. An empty sessionID mints a new one. An existing session is resumed,
// or reset in place when reset-on-reuse is enabled. A session owned by
// another user is a conflict.
func (s *Service) GetOrCreate(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrInvalidInput)
	}
	if sessionID == "" {
		sessionID = s.newID()
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		existing, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		if existing == nil {
			sess := domain.NewSession(userID, sessionID, s.now())
			err := s.store.CreateSession(ctx, sess)
			if errors.Is(err, store.ErrSessionExists) {
				continue
			}
			if err != nil {
				return nil, err
			}
			s.logger.Info("Session created", "user_id", userID, "session_id", sessionID)
			return sess.Clone(), nil
		}

		if existing.UserID != userID {
			return nil, fmt.Errorf("%w: session %s belongs to another user", domain.ErrConflict, sessionID)
		}

		if s.resetOnReuse {
			existing.Reset(s.now())
			s.logger.Info("Session reset on reuse", "user_id", userID, "session_id", sessionID)
		} else {
			existing.LastActivityAt = s.now()
		}
		err = s.store.UpdateSession(ctx, existing)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return existing.Clone(), nil
	}
	return nil, store.ErrVersionConflict
}

// Get returns the session or a not-found error.
func (s *Service) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", domain.ErrInvalidInput)
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return sess, nil
}

// Update applies mutate to the session under the per-session lock and
// persists the result with a version check. lastActivityAt is always bumped.
func (s *Service) Update(ctx context.Context, sessionID string, mutate MutateFunc) (*domain.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", domain.ErrInvalidInput)
	}
	unlock := s.locks.lock(sessionID)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if mutate != nil {
			if err := mutate(next); err != nil {
				return nil, err
			}
		}
		next.LastActivityAt = s.now()

		err = s.store.UpdateSession(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug("Session version conflict, retrying", "session_id", sessionID, "attempt", attempt+1)
	}
	return nil, lastErr
}

// Touch records activity without changing any other field.
func (s *Service) Touch(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.Update(ctx, sessionID, nil)
}

// IncrementMessageCount counts one chat turn.
func (s *Service) IncrementMessageCount(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.Update(ctx, sessionID, func(sess *domain.Session) error {
		sess.MessageCount++
		return nil
	})
}

// LockProgress serializes read-modify-write of one user's course progress
// record. It returns the matching unlock func.
func (s *Service) LockProgress(userID, courseID string) func() {
	return s.locks.lock("progress\x00" + userID + "\x00" + courseID)
}

// Delete removes a session.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	unlock := s.locks.lock(sessionID)
	defer unlock()
	return s.store.DeleteSession(ctx, sessionID)
}
