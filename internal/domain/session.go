// Package domain contains core domain types for the fincoach learning engine.
package domain

import (
	"time"
)

// Mode is the conversational surface a session is currently driving.
type Mode string

const (
	ModeChat   Mode = "chat"
	ModeCourse Mode = "course"
)

// Session is the server-side record of one ongoing user/assistant conversation.
type Session struct {
	UserID              string             `json:"userId"`
	SessionID           string             `json:"sessionId"`
	MessageCount        int                `json:"messageCount"`
	QuizAttemptCount    int                `json:"quizAttemptCount"`
	CreatedAt           time.Time          `json:"createdAt"`
	LastActivityAt      time.Time          `json:"lastActivityAt"`
	DiagnosticCompleted bool               `json:"diagnosticCompleted"`
	DiagnosticScore     *int               `json:"diagnosticScore,omitempty"`
	Course              CourseSession      `json:"course"`
	Diagnostic          *DiagnosticAttempt `json:"diagnostic,omitempty"`
	PendingMicroQuiz    *PendingQuiz       `json:"pendingMicroQuiz,omitempty"`

	// Version is bumped by the store on every successful write and is used
	// for compare-and-swap updates.
	Version int64 `json:"version"`
}

// NewSession returns a session in its initial state.
func NewSession(userID, sessionID string, now time.Time) *Session {
	return &Session{
		UserID:         userID,
		SessionID:      sessionID,
		CreatedAt:      now,
		LastActivityAt: now,
		Course:         CourseSession{Mode: ModeChat},
	}
}

// Reset restores every mutable field to its initial value, keeping identity
// and the store version.
func (s *Session) Reset(now time.Time) {
	version := s.Version
	*s = *NewSession(s.UserID, s.SessionID, now)
	s.Version = version
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.DiagnosticScore != nil {
		score := *s.DiagnosticScore
		c.DiagnosticScore = &score
	}
	c.Course = s.Course.clone()
	if s.Diagnostic != nil {
		c.Diagnostic = s.Diagnostic.Clone()
	}
	if s.PendingMicroQuiz != nil {
		pending := *s.PendingMicroQuiz
		c.PendingMicroQuiz = &pending
	}
	return &c
}

// FlowActive reports whether a diagnostic or course flow currently owns the session.
func (s *Session) FlowActive() bool {
	if s.Diagnostic != nil && s.Diagnostic.IsActive {
		return true
	}
	return s.Course.Mode == ModeCourse && s.Course.ActiveCourseID != ""
}

// IdleFor returns how long the session has been inactive.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// PendingQuiz records a micro-quiz that was injected but not answered yet.
type PendingQuiz struct {
	QuestionID string    `json:"questionId"`
	Topic      Topic     `json:"topic"`
	InjectedAt time.Time `json:"injectedAt"`
	AtMessage  int       `json:"atMessage"`
}

// GatePhase tracks the two-phase page quiz commit for one course page.
type GatePhase string

const (
	GatePending      GatePhase = "pending"
	GateSummaryShown GatePhase = "summary_shown"
)

// CourseSession is the per-session active course pointer.
type CourseSession struct {
	ActiveCourseID   string            `json:"activeCourseId,omitempty"`
	CurrentPageIndex int               `json:"currentPageIndex"`
	Mode             Mode              `json:"mode"`
	PageGates        map[int]GatePhase `json:"pageGates,omitempty"`
}

// Clear returns the course pointer to chat mode.
func (c *CourseSession) Clear() {
	c.ActiveCourseID = ""
	c.CurrentPageIndex = 0
	c.Mode = ModeChat
	c.PageGates = nil
}

func (c CourseSession) clone() CourseSession {
	if c.PageGates == nil {
		return c
	}
	gates := make(map[int]GatePhase, len(c.PageGates))
	for k, v := range c.PageGates {
		gates[k] = v
	}
	c.PageGates = gates
	return c
}
