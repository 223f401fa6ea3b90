package domain

import "time"

// DiagnosticPhase is the tagged state of a diagnostic attempt.
type DiagnosticPhase string

const (
	PhaseNotStarted         DiagnosticPhase = "not_started"
	PhaseInProgress         DiagnosticPhase = "in_progress"
	PhaseAwaitingCompletion DiagnosticPhase = "awaiting_completion"
	PhaseCompleted          DiagnosticPhase = "completed"
)

// DiagnosticAttempt is one run through the diagnostic assessment.
//
// CurrentIndex is only meaningful while Phase is PhaseInProgress; the
// awaiting and completed states are carried by Phase rather than by an
// out-of-range index.
type DiagnosticAttempt struct {
	QuizID       string          `json:"quizId"`
	Questions    []QuizQuestion  `json:"questions"`
	Answers      []int           `json:"answers"`
	Phase        DiagnosticPhase `json:"phase"`
	CurrentIndex int             `json:"currentQuestionIndex"`
	CourseType   Topic           `json:"courseType,omitempty"`
	IsActive     bool            `json:"isActive"`
	Score        *int            `json:"score,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// NewDiagnosticAttempt starts an attempt over a copy of questions.
func NewDiagnosticAttempt(quizID string, questions []QuizQuestion, courseType Topic, now time.Time) *DiagnosticAttempt {
	qs := make([]QuizQuestion, len(questions))
	copy(qs, questions)
	answers := make([]int, len(qs))
	for i := range answers {
		answers[i] = Unanswered
	}
	return &DiagnosticAttempt{
		QuizID:     quizID,
		Questions:  qs,
		Answers:    answers,
		Phase:      PhaseInProgress,
		CourseType: courseType,
		IsActive:   true,
		StartedAt:  now,
	}
}

// Current returns the question being shown, if the attempt is in progress.
func (a *DiagnosticAttempt) Current() (QuizQuestion, bool) {
	if a.Phase != PhaseInProgress || a.CurrentIndex < 0 || a.CurrentIndex >= len(a.Questions) {
		return QuizQuestion{}, false
	}
	return a.Questions[a.CurrentIndex], true
}

// CorrectCount counts answers that match the key.
func (a *DiagnosticAttempt) CorrectCount() int {
	n := 0
	for i, q := range a.Questions {
		if i < len(a.Answers) && q.IsCorrect(a.Answers[i]) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the attempt.
func (a *DiagnosticAttempt) Clone() *DiagnosticAttempt {
	c := *a
	c.Questions = append([]QuizQuestion(nil), a.Questions...)
	c.Answers = append([]int(nil), a.Answers...)
	if a.Score != nil {
		s := *a.Score
		c.Score = &s
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
