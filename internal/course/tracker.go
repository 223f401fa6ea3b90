// Package course tracks a learner's position inside a course and their
// durable per-course progress.
//
// Pages that carry a quiz gate forward navigation. The first answer to a
// page quiz moves the gate to the summary phase and returns the summary
// interstitial; only then may the learner navigate past that page.
package course

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/fincoach/internal/audit"
	"github.com/ashureev/fincoach/internal/catalog"
	"github.com/ashureev/fincoach/internal/domain"
	"github.com/ashureev/fincoach/internal/session"
	"github.com/ashureev/fincoach/internal/store"
)

// StartResult is returned by StartCourse.
type StartResult struct {
	Session              domain.CourseSession   `json:"courseSession"`
	Course               domain.CourseSummary   `json:"course"`
	Page                 domain.CoursePage      `json:"page"`
	Progress             *domain.CourseProgress `json:"progress"`
	MissingPrerequisites []string               `json:"missingPrerequisites,omitempty"`
}

// PageQuizResult is the single summary interstitial shown after a page quiz.
type PageQuizResult struct {
	PageIndex          int    `json:"pageIndex"`
	QuestionID         string `json:"questionId"`
	Correct            bool   `json:"correct"`
	CorrectOptionIndex int    `json:"correctOptionIndex"`
	Explanation        string `json:"explanation"`
	Summary            string `json:"summary"`
	CanAdvance         bool   `json:"canAdvance"`
}

// Tracker implements course start, navigation, quizzes and exit.
type Tracker struct {
	sessions *session.Service
	courses  *catalog.Courses
	progress store.ProgressStore
	audit    audit.Logger
	logger   *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithAudit sets the audit sink.
func WithAudit(l audit.Logger) Option {
	return func(t *Tracker) { t.audit = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a course tracker.
func NewTracker(sessions *session.Service, courses *catalog.Courses, progress store.ProgressStore, opts ...Option) *Tracker {
	t := &Tracker{
		sessions: sessions,
		courses:  courses,
		progress: progress,
		audit:    audit.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Courses lists the catalogue.
func (t *Tracker) Courses() []domain.CourseSummary {
	return t.courses.Summaries()
}

// StartCourse activates courseID on the session. Progress is created on the
// first start and never reset; the session resumes at the progress
// high-water mark. Unmet prerequisites are reported, not enforced.
func (t *Tracker) StartCourse(ctx context.Context, userID, sessionID, courseID string) (*StartResult, error) {
	course, ok := t.courses.Get(courseID)
	if !ok {
		return nil, fmt.Errorf("%w: course %s", domain.ErrNotFound, courseID)
	}
	sess, err := t.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = sess.UserID
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("%w: session %s belongs to another user", domain.ErrConflict, sessionID)
	}

	prog, err := t.updateProgress(ctx, userID, courseID, nil)
	if err != nil {
		return nil, err
	}
	missing, err := t.missingPrerequisites(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}

	start := min(prog.CurrentPageIndex, len(course.Pages)-1)
	updated, err := t.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		s.Course = domain.CourseSession{
			ActiveCourseID:   courseID,
			CurrentPageIndex: start,
			Mode:             domain.ModeCourse,
			PageGates:        make(map[int]domain.GatePhase),
		}
		// Pages below the high-water mark were already passed.
		for i := 0; i < start; i++ {
			if course.Pages[i].HasQuiz() {
				s.Course.PageGates[i] = domain.GateSummaryShown
			}
		}
		openGate(s, course, start)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(missing) > 0 {
		t.logger.Info("Course started with unmet prerequisites", "user_id", userID, "course_id", courseID, "missing", missing)
	}
	t.logger.Info("Course started", "user_id", userID, "session_id", sessionID, "course_id", courseID, "page", start)
	t.audit.Log(audit.Event{
		Type:      audit.EventCourseStarted,
		UserID:    userID,
		SessionID: sessionID,
		Data:      map[string]any{"courseId": courseID, "pageIndex": start},
	})

	page, _ := course.Page(start)
	return &StartResult{
		Session:              updated.Course,
		Course:               course.Summary(),
		Page:                 page,
		Progress:             prog,
		MissingPrerequisites: missing,
	}, nil
}

// NavigateToPage moves the active course to pageIndex. Out-of-range indices
// are rejected with the session untouched. Moving forward past a gated page
// whose quiz has not been answered is a conflict. Progress only ever rises.
func (t *Tracker) NavigateToPage(ctx context.Context, sessionID string, pageIndex int) (*domain.CoursePage, error) {
	var (
		course *domain.Course
		userID string
	)
	_, err := t.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		c, err := t.activeCourse(s)
		if err != nil {
			return err
		}
		if _, ok := c.Page(pageIndex); !ok {
			return fmt.Errorf("%w: page %d outside [0,%d)", domain.ErrInvalidInput, pageIndex, len(c.Pages))
		}
		for p := s.Course.CurrentPageIndex; p < pageIndex; p++ {
			if c.Pages[p].HasQuiz() && s.Course.PageGates[p] != domain.GateSummaryShown {
				return fmt.Errorf("%w: page %d quiz must be answered first", domain.ErrConflict, p)
			}
		}
		s.Course.CurrentPageIndex = pageIndex
		openGate(s, c, pageIndex)
		course, userID = c, s.UserID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := t.updateProgress(ctx, userID, course.ID, func(p *domain.CourseProgress) bool {
		if pageIndex <= p.CurrentPageIndex {
			return false
		}
		p.Advance(pageIndex)
		return true
	}); err != nil {
		return nil, err
	}

	t.audit.Log(audit.Event{
		Type:      audit.EventCoursePageViewed,
		UserID:    userID,
		SessionID: sessionID,
		Data:      map[string]any{"courseId": course.ID, "pageIndex": pageIndex},
	})
	page, _ := course.Page(pageIndex)
	return &page, nil
}

// AnswerPageQuiz grades the current page's quiz and opens its gate. The
// first answer moves the gate to the summary phase; later answers return the
// same summary without further state changes.
func (t *Tracker) AnswerPageQuiz(ctx context.Context, sessionID string, option int) (*PageQuizResult, error) {
	if !domain.ValidOption(option) {
		return nil, fmt.Errorf("%w: option %d out of range", domain.ErrInvalidInput, option)
	}
	var res PageQuizResult
	_, err := t.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		c, err := t.activeCourse(s)
		if err != nil {
			return err
		}
		idx := s.Course.CurrentPageIndex
		page, ok := c.Page(idx)
		if !ok || !page.HasQuiz() {
			return fmt.Errorf("%w: page %d has no quiz", domain.ErrNotFound, idx)
		}
		q := page.Quiz
		correct := q.IsCorrect(option)
		if s.Course.PageGates == nil {
			s.Course.PageGates = make(map[int]domain.GatePhase)
		}
		s.Course.PageGates[idx] = domain.GateSummaryShown
		res = PageQuizResult{
			PageIndex:          idx,
			QuestionID:         q.ID,
			Correct:            correct,
			CorrectOptionIndex: q.CorrectOptionIndex,
			Explanation:        q.Explanation,
			Summary:            pageSummary(page, correct),
			CanAdvance:         idx < len(c.Pages)-1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// openGate marks the quiz on the landing page as pending unless it has
// already been answered.
func openGate(s *domain.Session, c *domain.Course, idx int) {
	if !c.Pages[idx].HasQuiz() || s.Course.PageGates[idx] == domain.GateSummaryShown {
		return
	}
	if s.Course.PageGates == nil {
		s.Course.PageGates = make(map[int]domain.GatePhase)
	}
	s.Course.PageGates[idx] = domain.GatePending
}

func pageSummary(page domain.CoursePage, correct bool) string {
	verdict := "Not quite."
	if correct {
		verdict = "Correct!"
	}
	return fmt.Sprintf("%s %s\n\nYou finished \"%s\" (page %d of %d).",
		verdict, page.Quiz.Explanation, page.Title, page.PageNumber, page.TotalPages)
}

// SubmitCourseQuiz grades the course's closing quiz. Every submission counts
// as an attempt and overwrites the stored score; a pass marks the course
// completed.
func (t *Tracker) SubmitCourseQuiz(ctx context.Context, sessionID string, answers []int) (*domain.QuizResult, error) {
	sess, err := t.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	course, err := t.activeCourse(sess)
	if err != nil {
		return nil, err
	}
	if len(course.QuizQuestions) == 0 {
		return nil, fmt.Errorf("%w: course %s has no quiz", domain.ErrNotFound, course.ID)
	}
	if len(answers) != len(course.QuizQuestions) {
		return nil, fmt.Errorf("%w: got %d answers, want %d", domain.ErrInvalidInput, len(answers), len(course.QuizQuestions))
	}
	for i, a := range answers {
		if !domain.ValidOption(a) {
			return nil, fmt.Errorf("%w: answer %d is %d", domain.ErrInvalidInput, i, a)
		}
	}

	res := domain.Grade(course.QuizQuestions, answers, course.PassingThreshold)

	prog, err := t.updateProgress(ctx, sess.UserID, course.ID, func(p *domain.CourseProgress) bool {
		p.RecordQuiz(res.Score, res.Passed, t.sessions.Now())
		return true
	})
	if err != nil {
		return nil, err
	}
	if _, err := t.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		s.QuizAttemptCount++
		return nil
	}); err != nil {
		return nil, err
	}

	t.logger.Info("Course quiz submitted",
		"user_id", sess.UserID,
		"course_id", course.ID,
		"score", res.Score,
		"passed", res.Passed,
		"attempts", prog.QuizAttempts)
	t.audit.Log(audit.Event{
		Type:      audit.EventCourseQuizSubmitted,
		UserID:    sess.UserID,
		SessionID: sessionID,
		Data:      map[string]any{"courseId": course.ID, "score": res.Score, "passed": res.Passed},
	})
	return &res, nil
}

// EndCourseSession returns the session to chat mode. Progress is untouched.
func (t *Tracker) EndCourseSession(ctx context.Context, sessionID string) (*domain.CourseSession, error) {
	sess, err := t.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		s.Course.Clear()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sess.Course, nil
}

// ActiveCourse returns the course the session is currently in.
func (t *Tracker) ActiveCourse(ctx context.Context, sessionID string) (*domain.Course, error) {
	sess, err := t.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return t.activeCourse(sess)
}

// Progress lists the user's course progress records.
func (t *Tracker) Progress(ctx context.Context, userID string) ([]*domain.CourseProgress, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrInvalidInput)
	}
	return t.progress.ListProgress(ctx, userID)
}

func (t *Tracker) activeCourse(s *domain.Session) (*domain.Course, error) {
	if s.Course.Mode != domain.ModeCourse || s.Course.ActiveCourseID == "" {
		return nil, fmt.Errorf("%w: session %s has no active course", domain.ErrConflict, s.SessionID)
	}
	c, ok := t.courses.Get(s.Course.ActiveCourseID)
	if !ok {
		return nil, fmt.Errorf("%w: course %s", domain.ErrNotFound, s.Course.ActiveCourseID)
	}
	return c, nil
}

// updateProgress loads the (user, course) record, creating it on first use,
// and applies mutate while holding the progress lock. The record is written
// when it is new or mutate reports a change.
func (t *Tracker) updateProgress(ctx context.Context, userID, courseID string, mutate func(*domain.CourseProgress) bool) (*domain.CourseProgress, error) {
	unlock := t.sessions.LockProgress(userID, courseID)
	defer unlock()

	prog, err := t.progress.GetProgress(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	now := t.sessions.Now()
	created := prog == nil
	if created {
		prog = &domain.CourseProgress{
			UserID:    userID,
			CourseID:  courseID,
			StartedAt: now,
			UpdatedAt: now,
		}
	}
	changed := mutate != nil && mutate(prog)
	if !created && !changed {
		return prog, nil
	}
	prog.UpdatedAt = now
	if err := t.progress.UpsertProgress(ctx, prog); err != nil {
		return nil, err
	}
	return prog, nil
}

func (t *Tracker) missingPrerequisites(ctx context.Context, userID, courseID string) ([]string, error) {
	records, err := t.progress.ListProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	completed := make(map[string]bool, len(records))
	for _, r := range records {
		if r.Completed {
			completed[r.CourseID] = true
		}
	}
	return t.courses.MissingPrerequisites(courseID, completed), nil
}
