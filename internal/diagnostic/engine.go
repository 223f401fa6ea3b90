// Package diagnostic runs the pre-assessment quiz: start, answer, advance,
// complete and recommend courses from the score.
package diagnostic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/fincoach/internal/audit"
	"github.com/ashureev/fincoach/internal/catalog"
	"github.com/ashureev/fincoach/internal/domain"
	"github.com/ashureev/fincoach/internal/session"
)

// Feedback is returned after each recorded answer.
type Feedback struct {
	QuestionID         string `json:"questionId"`
	SelectedOption     int    `json:"selectedOption"`
	Correct            bool   `json:"correct"`
	CorrectOptionIndex int    `json:"correctOptionIndex"`
	Explanation        string `json:"explanation"`
	QuestionIndex      int    `json:"questionIndex"`
	TotalQuestions     int    `json:"totalQuestions"`
}

// Result is the outcome of a completed diagnostic.
type Result struct {
	Completed           bool                   `json:"completed"`
	Score               int                    `json:"score"`
	Passed              bool                   `json:"passed"`
	CorrectCount        int                    `json:"correctCount"`
	Total               int                    `json:"total"`
	RecommendedCourseID string                 `json:"recommendedCourseId,omitempty"`
	RecommendedCourses  []domain.CourseSummary `json:"recommendedCourses"`
}

// Engine drives diagnostic attempts stored on the session.
type Engine struct {
	sessions *session.Service
	quizzes  *catalog.QuizBank
	courses  *catalog.Courses
	audit    audit.Logger
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAudit sets the audit sink.
func WithAudit(l audit.Logger) Option {
	return func(e *Engine) { e.audit = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a diagnostic engine.
func NewEngine(sessions *session.Service, quizzes *catalog.QuizBank, courses *catalog.Courses, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		quizzes:  quizzes,
		courses:  courses,
		audit:    audit.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Test returns the diagnostic definition served to clients.
func (e *Engine) Test() domain.DiagnosticTest {
	return e.quizzes.DiagnosticTest()
}

// Start begins a new attempt over the full diagnostic pool, replacing any
// unfinished attempt. userID, when given, must own the session.
func (e *Engine) Start(ctx context.Context, userID, sessionID string, courseType domain.Topic) (*domain.DiagnosticAttempt, error) {
	test := e.quizzes.DiagnosticTest()
	sess, err := e.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		if userID != "" && s.UserID != userID {
			return fmt.Errorf("%w: session %s belongs to another user", domain.ErrConflict, sessionID)
		}
		s.Diagnostic = domain.NewDiagnosticAttempt(test.ID, test.Questions, courseType, e.sessions.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Diagnostic started", "user_id", sess.UserID, "session_id", sessionID, "questions", len(test.Questions), "course_type", courseType)
	e.audit.Log(audit.Event{
		Type:      audit.EventDiagnosticStarted,
		UserID:    sess.UserID,
		SessionID: sessionID,
		Data:      map[string]any{"quizId": test.ID, "courseType": string(courseType)},
	})
	return sess.Diagnostic, nil
}

// Attempt returns the session's current attempt.
func (e *Engine) Attempt(ctx context.Context, sessionID string) (*domain.DiagnosticAttempt, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Diagnostic == nil {
		return nil, fmt.Errorf("%w: no diagnostic attempt for session %s", domain.ErrNotFound, sessionID)
	}
	return sess.Diagnostic, nil
}

// Answer records option for the current question without advancing.
// Answering the same question again overwrites the earlier answer.
func (e *Engine) Answer(ctx context.Context, sessionID string, option int) (*Feedback, error) {
	if !domain.ValidOption(option) {
		return nil, fmt.Errorf("%w: option %d out of range", domain.ErrInvalidInput, option)
	}
	var fb Feedback
	sess, err := e.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		a, err := inProgress(s)
		if err != nil {
			return err
		}
		q, _ := a.Current()
		a.Answers[a.CurrentIndex] = option
		fb = Feedback{
			QuestionID:         q.ID,
			SelectedOption:     option,
			Correct:            q.IsCorrect(option),
			CorrectOptionIndex: q.CorrectOptionIndex,
			Explanation:        q.Explanation,
			QuestionIndex:      a.CurrentIndex,
			TotalQuestions:     len(a.Questions),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.audit.Log(audit.Event{
		Type:      audit.EventDiagnosticAnswered,
		UserID:    sess.UserID,
		SessionID: sessionID,
		Data:      map[string]any{"questionId": fb.QuestionID, "option": option, "correct": fb.Correct},
	})
	return &fb, nil
}

// Next advances to the following question, or to awaiting completion after
// the last one. The current question must have been answered.
func (e *Engine) Next(ctx context.Context, sessionID string) (*domain.DiagnosticAttempt, error) {
	sess, err := e.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		a, err := inProgress(s)
		if err != nil {
			return err
		}
		if a.Answers[a.CurrentIndex] == domain.Unanswered {
			return fmt.Errorf("%w: question %d has not been answered", domain.ErrConflict, a.CurrentIndex)
		}
		if a.CurrentIndex == len(a.Questions)-1 {
			a.Phase = domain.PhaseAwaitingCompletion
			return nil
		}
		a.CurrentIndex++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess.Diagnostic, nil
}

// Complete scores the attempt and records the result on the session.
// Completing an already completed attempt returns the same result.
func (e *Engine) Complete(ctx context.Context, sessionID string) (*Result, error) {
	var already bool
	sess, err := e.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		a := s.Diagnostic
		if a == nil {
			return fmt.Errorf("%w: no diagnostic attempt for session %s", domain.ErrNotFound, sessionID)
		}
		switch a.Phase {
		case domain.PhaseCompleted:
			already = true
			return nil
		case domain.PhaseAwaitingCompletion:
		default:
			return fmt.Errorf("%w: diagnostic is %s", domain.ErrConflict, a.Phase)
		}
		score := domain.Percent(a.CorrectCount(), len(a.Questions))
		e.finish(s, score)
		return nil
	})
	if err != nil {
		return nil, err
	}

	a := sess.Diagnostic
	res := e.result(*a.Score, a.CorrectCount(), len(a.Questions), a.CourseType)
	if !already {
		e.logCompletion(sess, res)
	}
	return res, nil
}

// CompleteWithScore records a score computed by the client. An active
// attempt, if any, is closed with that score.
func (e *Engine) CompleteWithScore(ctx context.Context, sessionID string, score int) (*Result, error) {
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("%w: score %d outside [0,100]", domain.ErrInvalidInput, score)
	}
	var courseType domain.Topic
	sess, err := e.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		if s.Diagnostic != nil {
			courseType = s.Diagnostic.CourseType
		}
		e.finish(s, score)
		return nil
	})
	if err != nil {
		return nil, err
	}

	correct, total := 0, 0
	if a := sess.Diagnostic; a != nil {
		correct, total = a.CorrectCount(), len(a.Questions)
	}
	res := e.result(score, correct, total, courseType)
	e.logCompletion(sess, res)
	return res, nil
}

// Recommend returns the course recommendation for score against the catalogue.
func (e *Engine) Recommend(score int, courseType domain.Topic) []*domain.Course {
	return Recommend(e.courses.All(), score, courseType)
}

func (e *Engine) finish(s *domain.Session, score int) {
	now := e.sessions.Now()
	s.DiagnosticCompleted = true
	s.DiagnosticScore = &score
	if a := s.Diagnostic; a != nil && a.Phase != domain.PhaseCompleted {
		a.Phase = domain.PhaseCompleted
		a.IsActive = false
		a.Score = &score
		a.CompletedAt = &now
	}
}

func (e *Engine) result(score, correct, total int, courseType domain.Topic) *Result {
	recs := e.Recommend(score, courseType)
	res := &Result{
		Completed:          true,
		Score:              score,
		Passed:             score >= e.quizzes.DiagnosticTest().PassingScoreThreshold,
		CorrectCount:       correct,
		Total:              total,
		RecommendedCourses: make([]domain.CourseSummary, len(recs)),
	}
	for i, c := range recs {
		res.RecommendedCourses[i] = c.Summary()
	}
	if len(recs) > 0 {
		res.RecommendedCourseID = recs[0].ID
	}
	return res
}

func (e *Engine) logCompletion(sess *domain.Session, res *Result) {
	e.logger.Info("Diagnostic completed",
		"user_id", sess.UserID,
		"session_id", sess.SessionID,
		"score", res.Score,
		"recommended_course_id", res.RecommendedCourseID)
	e.audit.Log(audit.Event{
		Type:      audit.EventDiagnosticCompleted,
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		Data:      map[string]any{"score": res.Score, "recommendedCourseId": res.RecommendedCourseID},
	})
}

func inProgress(s *domain.Session) (*domain.DiagnosticAttempt, error) {
	a := s.Diagnostic
	if a == nil {
		return nil, fmt.Errorf("%w: no diagnostic attempt for session %s", domain.ErrNotFound, s.SessionID)
	}
	if a.Phase != domain.PhaseInProgress {
		return nil, fmt.Errorf("%w: diagnostic is %s", domain.ErrConflict, a.Phase)
	}
	return a, nil
}
