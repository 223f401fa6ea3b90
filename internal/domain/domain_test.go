package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func question(id string, correct int) QuizQuestion {
	return QuizQuestion{
		ID:                 id,
		Prompt:             "prompt " + id,
		Options:            []string{"a", "b", "c", "d"},
		CorrectOptionIndex: correct,
		Topic:              TopicBudgeting,
		Difficulty:         DifficultyEasy,
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		correct, total, want int
	}{
		{0, 5, 0},
		{3, 5, 60},
		{2, 3, 67},
		{1, 3, 33},
		{5, 5, 100},
		{0, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.correct, tt.total), "%d/%d", tt.correct, tt.total)
	}
}

func TestGrade(t *testing.T) {
	qs := []QuizQuestion{question("q1", 0), question("q2", 1), question("q3", 2)}

	res := Grade(qs, []int{0, 1, 3}, 70)
	assert.Equal(t, 67, res.Score)
	assert.False(t, res.Passed)
	assert.Equal(t, 2, res.CorrectCount)
	assert.Equal(t, []int{0, 1, 2}, res.CorrectAnswers)
	assert.Len(t, res.Explanations, 3)

	assert.True(t, Grade(qs, []int{0, 1, 2}, 70).Passed)
	assert.True(t, Grade(qs, []int{0, 1, 3}, 67).Passed, "threshold is inclusive")
}

func TestQuestionValidate(t *testing.T) {
	require.NoError(t, question("ok", 3).Validate())

	bad := question("bad", 0)
	bad.Options = bad.Options[:3]
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidInput))

	bad = question("bad", 4)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)

	bad = question("", 0)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)
}

func TestTopicValid(t *testing.T) {
	for _, topic := range AllTopics {
		assert.True(t, topic.Valid(), topic)
	}
	assert.False(t, Topic("crypto").Valid())
	assert.False(t, Topic("").Valid())
}

func TestProgressAdvanceNeverLowers(t *testing.T) {
	p := &CourseProgress{}
	p.Advance(2)
	p.Advance(1)
	assert.Equal(t, 2, p.CurrentPageIndex)
	p.Advance(3)
	assert.Equal(t, 3, p.CurrentPageIndex)
}

func TestProgressRecordQuiz(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	p := &CourseProgress{}

	p.RecordQuiz(50, false, now)
	assert.Equal(t, 1, p.QuizAttempts)
	assert.Equal(t, 50, *p.QuizScore)
	assert.False(t, p.Completed)

	p.RecordQuiz(90, true, now.Add(time.Hour))
	assert.True(t, p.Completed)
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, now.Add(time.Hour), *p.CompletedAt)

	// A later failing attempt overwrites the score but keeps completion.
	p.RecordQuiz(40, false, now.Add(2*time.Hour))
	assert.Equal(t, 3, p.QuizAttempts)
	assert.Equal(t, 40, *p.QuizScore)
	assert.True(t, p.Completed)
	assert.Equal(t, now.Add(time.Hour), *p.CompletedAt)
}

func TestSessionCloneIsDeep(t *testing.T) {
	now := time.Now()
	s := NewSession("u", "s", now)
	score := 70
	s.DiagnosticScore = &score
	s.Course.PageGates = map[int]GatePhase{1: GatePending}
	s.Diagnostic = NewDiagnosticAttempt("diag", []QuizQuestion{question("q1", 0)}, "", now)
	s.PendingMicroQuiz = &PendingQuiz{QuestionID: "m1"}

	c := s.Clone()
	*c.DiagnosticScore = 10
	c.Course.PageGates[1] = GateSummaryShown
	c.Diagnostic.Answers[0] = 2
	c.PendingMicroQuiz.QuestionID = "m2"

	assert.Equal(t, 70, *s.DiagnosticScore)
	assert.Equal(t, GatePending, s.Course.PageGates[1])
	assert.Equal(t, Unanswered, s.Diagnostic.Answers[0])
	assert.Equal(t, "m1", s.PendingMicroQuiz.QuestionID)
}

func TestSessionResetKeepsIdentityAndVersion(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSession("u", "s", created)
	s.MessageCount = 9
	s.QuizAttemptCount = 2
	s.DiagnosticCompleted = true
	s.Course.Mode = ModeCourse
	s.Version = 4

	later := created.Add(time.Hour)
	s.Reset(later)
	assert.Equal(t, "u", s.UserID)
	assert.Equal(t, "s", s.SessionID)
	assert.Equal(t, int64(4), s.Version)
	assert.Zero(t, s.MessageCount)
	assert.Zero(t, s.QuizAttemptCount)
	assert.False(t, s.DiagnosticCompleted)
	assert.Equal(t, ModeChat, s.Course.Mode)
	assert.Equal(t, later, s.CreatedAt)
}

func TestFlowActive(t *testing.T) {
	s := NewSession("u", "s", time.Now())
	assert.False(t, s.FlowActive())

	s.Diagnostic = NewDiagnosticAttempt("diag", []QuizQuestion{question("q1", 0)}, "", time.Now())
	assert.True(t, s.FlowActive())
	s.Diagnostic.IsActive = false
	assert.False(t, s.FlowActive())

	s.Course = CourseSession{Mode: ModeCourse, ActiveCourseID: "c"}
	assert.True(t, s.FlowActive())
	s.Course.Clear()
	assert.False(t, s.FlowActive())
}

func TestDiagnosticAttemptCurrent(t *testing.T) {
	a := NewDiagnosticAttempt("diag", []QuizQuestion{question("q1", 0), question("q2", 1)}, TopicDebt, time.Now())
	q, ok := a.Current()
	require.True(t, ok)
	assert.Equal(t, "q1", q.ID)
	assert.Equal(t, []int{Unanswered, Unanswered}, a.Answers)

	a.Phase = PhaseAwaitingCompletion
	_, ok = a.Current()
	assert.False(t, ok)

	a.Answers = []int{0, 0}
	assert.Equal(t, 1, a.CorrectCount())
}
