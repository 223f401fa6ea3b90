// Package chat orchestrates a single conversational turn: it counts the
// message, streams the assistant reply into the session's window and lets the
// quiz scheduler interrupt with a micro-quiz.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/fincoach/internal/assistant"
	"github.com/ashureev/fincoach/internal/audit"
	"github.com/ashureev/fincoach/internal/domain"
	"github.com/ashureev/fincoach/internal/quizinject"
	"github.com/ashureev/fincoach/internal/reconcile"
	"github.com/ashureev/fincoach/internal/session"
	"github.com/ashureev/fincoach/internal/store"
)

// EventType tags a turn event.
type EventType string

const (
	EventChunk EventType = "chunk"
	EventQuiz  EventType = "quiz"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// Event is one step of a turn as seen by the client.
type Event struct {
	Type         EventType             `json:"type"`
	TurnID       string                `json:"turnId"`
	SessionID    string                `json:"sessionId"`
	Content      string                `json:"content,omitempty"`
	Quiz         *quizinject.Injection `json:"quiz,omitempty"`
	Topic        domain.Topic          `json:"topic,omitempty"`
	MessageCount int                   `json:"messageCount,omitempty"`
}

// TurnRequest is one user message.
type TurnRequest struct {
	UserID    string
	SessionID string
	Message   string
}

// Service runs chat turns.
type Service struct {
	sessions  *session.Service
	scheduler *quizinject.Scheduler
	responder assistant.Responder
	content   store.ContentStore
	hub       *reconcile.Hub
	audit     audit.Logger
	logger    *slog.Logger
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithAudit sets the audit sink.
func WithAudit(l audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithIDGenerator overrides turn id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService wires a chat service. content may be nil when uploads are not
// supported by the backend.
func NewService(
	sessions *session.Service,
	scheduler *quizinject.Scheduler,
	responder assistant.Responder,
	content store.ContentStore,
	hub *reconcile.Hub,
	opts ...Option,
) *Service {
	s := &Service{
		sessions:  sessions,
		scheduler: scheduler,
		responder: responder,
		content:   content,
		hub:       hub,
		audit:     audit.Nop{},
		logger:    slog.Default(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Turn processes one message. The message is counted before the assistant is
// called, so a turn whose reply fails still advances the count. Events are
// yielded in order: chunks, an optional quiz, then done. A failed reply
// yields a single error event in place of the remaining chunks; the session
// and count are still updated.
//
// The returned error (as the second value) is only set for failures that
// prevent the turn from starting.
func (s *Service) Turn(ctx context.Context, req TurnRequest) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		msg := strings.TrimSpace(req.Message)
		if msg == "" {
			yield(nil, fmt.Errorf("%w: message is required", domain.ErrInvalidInput))
			return
		}

		sess, err := s.sessions.GetOrCreate(ctx, req.UserID, req.SessionID)
		if err != nil {
			yield(nil, err)
			return
		}
		sess, err = s.sessions.IncrementMessageCount(ctx, sess.SessionID)
		if err != nil {
			yield(nil, err)
			return
		}
		userID, sessionID := sess.UserID, sess.SessionID
		// Every event names the session so a client that sent no id can continue it.
		emit := func(ev *Event) bool {
			ev.SessionID = sessionID
			return yield(ev, nil)
		}

		window := reconcile.WindowChat
		courseID := ""
		if sess.Course.Mode == domain.ModeCourse {
			window = reconcile.WindowLearn
			courseID = sess.Course.ActiveCourseID
		}

		turnID := s.newID()
		s.applyWindow(userID, sessionID, window, func(w *reconcile.WindowState) error {
			w.AppendMessage(turnID+"-user", reconcile.RoleUser, msg)
			return w.BeginAssistantTurn(turnID)
		})

		reply := assistant.Request{
			UserID:    userID,
			SessionID: sessionID,
			Message:   msg,
			Documents: s.userContent(ctx, userID, sessionID),
			CourseID:  courseID,
		}

		var (
			topic    domain.Topic
			replyLen int
			chunks   int
			failed   error
		)
		for chunk, err := range s.responder.Reply(ctx, reply) {
			if err != nil {
				failed = err
				break
			}
			if chunk.Topic != "" {
				topic = chunk.Topic
			}
			if chunk.Content == "" {
				continue
			}
			chunks++
			replyLen += len(chunk.Content)
			s.applyWindow(userID, sessionID, window, func(w *reconcile.WindowState) error {
				return w.ApplyChunk(turnID, chunk.Content)
			})
			if !emit(&Event{Type: EventChunk, TurnID: turnID, Content: chunk.Content}) {
				// Client went away; the transcript keeps what was received.
				s.applyWindow(userID, sessionID, window, func(w *reconcile.WindowState) error {
					return w.FinishTurn(turnID)
				})
				return
			}
		}

		if failed != nil {
			s.logger.Error("Assistant reply failed",
				"user_id", userID,
				"session_id", sessionID,
				"turn_id", turnID,
				"error", failed)
			s.applyWindow(userID, sessionID, window, func(w *reconcile.WindowState) error {
				return w.FailTurn(turnID, "The assistant is unavailable right now. Please try again.")
			})
			s.logTurn(sess, turnID, topic, chunks, replyLen, failed)
			if !emit(&Event{Type: EventError, TurnID: turnID, Content: "assistant unavailable"}) {
				return
			}
			emit(&Event{Type: EventDone, TurnID: turnID, MessageCount: sess.MessageCount})
			return
		}

		s.applyWindow(userID, sessionID, window, func(w *reconcile.WindowState) error {
			return w.FinishTurn(turnID)
		})

		if topic == "" {
			topic = assistant.DetectTopic(msg)
		}
		inj, err := s.scheduler.Evaluate(ctx, sessionID, topic)
		if err != nil {
			// The reply already went out; a lost injection is only logged.
			s.logger.Warn("Quiz injection failed", "user_id", userID, "session_id", sessionID, "error", err)
		}
		s.logTurn(sess, turnID, topic, chunks, replyLen, nil)

		if inj != nil {
			s.applyWindow(userID, sessionID, reconcile.WindowChat, func(w *reconcile.WindowState) error {
				w.ShowQuiz(inj.Question)
				return nil
			})
			if !emit(&Event{Type: EventQuiz, TurnID: turnID, Quiz: inj, Topic: inj.Question.Topic}) {
				return
			}
		}
		emit(&Event{Type: EventDone, TurnID: turnID, Topic: topic, MessageCount: sess.MessageCount})
	}
}

func (s *Service) userContent(ctx context.Context, userID, sessionID string) []string {
	if s.content == nil {
		return nil
	}
	docs, err := s.content.GetUserContent(ctx, userID, sessionID)
	if err != nil {
		s.logger.Warn("Failed to load user content",
			"user_id", userID,
			"session_id", sessionID,
			"error", fmt.Errorf("%w: %w", domain.ErrUpstream, err))
		return nil
	}
	return docs
}

func (s *Service) applyWindow(userID, sessionID string, kind reconcile.WindowKind, fn func(*reconcile.WindowState) error) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Apply(userID, sessionID, kind, fn); err != nil && !errors.Is(err, reconcile.ErrTurnClosed) {
		s.logger.Warn("Window update failed",
			"user_id", userID,
			"session_id", sessionID,
			"window", kind,
			"error", err)
	}
}

func (s *Service) logTurn(sess *domain.Session, turnID string, topic domain.Topic, chunks, replyLen int, replyErr error) {
	data := map[string]any{
		"turnId":       turnID,
		"messageCount": sess.MessageCount,
		"topic":        string(topic),
		"chunks":       chunks,
		"replyLength":  replyLen,
	}
	if replyErr != nil {
		data["error"] = replyErr.Error()
	}
	s.audit.Log(audit.Event{
		Type:      audit.EventChatTurn,
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		Data:      data,
	})
}
