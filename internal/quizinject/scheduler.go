// Package quizinject decides when a micro-quiz interrupts ordinary chat and
// records the learner's answer.
package quizinject

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/fincoach/internal/audit"
	"github.com/ashureev/fincoach/internal/catalog"
	"github.com/ashureev/fincoach/internal/domain"
	"github.com/ashureev/fincoach/internal/session"
)

// ShouldInject reports whether a micro-quiz is due after a chat turn. It is
// true iff messageCount > 0, messageCount is a multiple of interval and no
// diagnostic or course flow is active.
func ShouldInject(messageCount, interval int, flowActive bool) bool {
	if interval <= 0 || messageCount <= 0 || flowActive {
		return false
	}
	return messageCount%interval == 0
}

// Injection is a micro-quiz placed into the chat.
type Injection struct {
	Question  domain.QuizQuestion `json:"question"`
	AtMessage int                 `json:"atMessage"`
}

// AnswerResult grades a micro-quiz answer.
type AnswerResult struct {
	QuestionID         string `json:"questionId"`
	Correct            bool   `json:"correct"`
	CorrectOptionIndex int    `json:"correctOptionIndex"`
	Explanation        string `json:"explanation"`
	QuizAttemptCount   int    `json:"quizAttemptCount"`
}

// Scheduler evaluates injections against the session and the quiz bank.
type Scheduler struct {
	sessions *session.Service
	quizzes  *catalog.QuizBank
	interval int
	audit    audit.Logger
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAudit sets the audit sink.
func WithAudit(l audit.Logger) Option {
	return func(s *Scheduler) { s.audit = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler firing every interval messages.
func NewScheduler(sessions *session.Service, quizzes *catalog.QuizBank, interval int, opts ...Option) *Scheduler {
	s := &Scheduler{
		sessions: sessions,
		quizzes:  quizzes,
		interval: interval,
		audit:    audit.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate runs after the message count has been incremented for a turn.
// When a quiz is due and none is pending, a question on topic (or any other
// topic when that bucket is empty) is recorded as pending and returned.
// It returns nil when nothing is injected.
func (s *Scheduler) Evaluate(ctx context.Context, sessionID string, topic domain.Topic) (*Injection, error) {
	var inj *Injection
	sess, err := s.sessions.Update(ctx, sessionID, func(sess *domain.Session) error {
		inj = nil
		if sess.PendingMicroQuiz != nil {
			return nil
		}
		if !ShouldInject(sess.MessageCount, s.interval, sess.FlowActive()) {
			return nil
		}
		q, ok := s.quizzes.MicroQuizWithFallback(topic)
		if !ok {
			return nil
		}
		sess.PendingMicroQuiz = &domain.PendingQuiz{
			QuestionID: q.ID,
			Topic:      q.Topic,
			InjectedAt: s.sessions.Now(),
			AtMessage:  sess.MessageCount,
		}
		inj = &Injection{Question: q, AtMessage: sess.MessageCount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if inj == nil {
		return nil, nil
	}

	s.logger.Info("Micro-quiz injected",
		"user_id", sess.UserID,
		"session_id", sessionID,
		"question_id", inj.Question.ID,
		"message_count", inj.AtMessage)
	s.audit.Log(audit.Event{
		Type:      audit.EventMicroQuizInjected,
		UserID:    sess.UserID,
		SessionID: sessionID,
		Data:      map[string]any{"questionId": inj.Question.ID, "topic": string(inj.Question.Topic), "atMessage": inj.AtMessage},
	})
	return inj, nil
}

// AnswerMicroQuiz grades the pending micro-quiz and clears it. questionID
// must match the pending question.
func (s *Scheduler) AnswerMicroQuiz(ctx context.Context, sessionID, questionID string, option int) (*AnswerResult, error) {
	if !domain.ValidOption(option) {
		return nil, fmt.Errorf("%w: option %d out of range", domain.ErrInvalidInput, option)
	}
	q, ok := s.quizzes.Question(questionID)
	if !ok {
		return nil, fmt.Errorf("%w: question %s", domain.ErrNotFound, questionID)
	}

	var res AnswerResult
	sess, err := s.sessions.Update(ctx, sessionID, func(sess *domain.Session) error {
		pending := sess.PendingMicroQuiz
		if pending == nil {
			return fmt.Errorf("%w: no micro-quiz pending", domain.ErrConflict)
		}
		if pending.QuestionID != questionID {
			return fmt.Errorf("%w: pending micro-quiz is %s", domain.ErrConflict, pending.QuestionID)
		}
		sess.PendingMicroQuiz = nil
		sess.QuizAttemptCount++
		res = AnswerResult{
			QuestionID:         q.ID,
			Correct:            q.IsCorrect(option),
			CorrectOptionIndex: q.CorrectOptionIndex,
			Explanation:        q.Explanation,
			QuizAttemptCount:   sess.QuizAttemptCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(audit.Event{
		Type:      audit.EventMicroQuizAnswered,
		UserID:    sess.UserID,
		SessionID: sessionID,
		Data:      map[string]any{"questionId": questionID, "option": option, "correct": res.Correct},
	})
	return &res, nil
}

// DismissMicroQuiz clears a pending micro-quiz without grading it. It is a
// no-op when nothing is pending.
func (s *Scheduler) DismissMicroQuiz(ctx context.Context, sessionID string) error {
	_, err := s.sessions.Update(ctx, sessionID, func(sess *domain.Session) error {
		sess.PendingMicroQuiz = nil
		return nil
	})
	return err
}
