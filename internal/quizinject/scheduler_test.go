package quizinject

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/fincoach/internal/catalog"
	"github.com/ashureev/fincoach/internal/domain"
	"github.com/ashureev/fincoach/internal/session"
	"github.com/ashureev/fincoach/internal/store"
)

func TestShouldInjectIffRule(t *testing.T) {
	for _, interval := range []int{2, 3, 5} {
		for count := 0; count <= 30; count++ {
			want := count > 0 && count%interval == 0
			assert.Equal(t, want, ShouldInject(count, interval, false), "count=%d interval=%d", count, interval)
			assert.False(t, ShouldInject(count, interval, true), "active flow suppresses injection")
		}
	}
	assert.False(t, ShouldInject(4, 0, false), "non-positive interval never fires")
}

func newScheduler(t *testing.T, interval int) (*Scheduler, *session.Service) {
	t.Helper()
	cat, err := catalog.LoadEmbedded()
	require.NoError(t, err)
	sessions := session.NewService(store.NewMemory())
	_, err = sessions.GetOrCreate(context.Background(), "user-1", "sess-1")
	require.NoError(t, err)
	return NewScheduler(sessions, cat.Quizzes, interval), sessions
}

// turn counts one chat message and evaluates injection, answering any
// injected quiz straight away so the next threshold is free to fire.
func turn(t *testing.T, s *Scheduler, sessions *session.Service) (int, bool) {
	t.Helper()
	ctx := context.Background()
	sess, err := sessions.IncrementMessageCount(ctx, "sess-1")
	require.NoError(t, err)
	inj, err := s.Evaluate(ctx, "sess-1", domain.TopicBudgeting)
	require.NoError(t, err)
	if inj == nil {
		return sess.MessageCount, false
	}
	_, err = s.AnswerMicroQuiz(ctx, "sess-1", inj.Question.ID, inj.Question.CorrectOptionIndex)
	require.NoError(t, err)
	return sess.MessageCount, true
}

func TestScenarioInjectionAtEvenCounts(t *testing.T) {
	s, sessions := newScheduler(t, 2)

	var fired []int
	for range 6 {
		count, injected := turn(t, s, sessions)
		if injected {
			fired = append(fired, count)
		}
	}
	assert.Equal(t, []int{2, 4, 6}, fired)

	sess, err := sessions.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 6, sess.MessageCount)
	assert.Equal(t, 3, sess.QuizAttemptCount)
}

func TestPendingQuizSuppressesInjection(t *testing.T) {
	ctx := context.Background()
	s, sessions := newScheduler(t, 2)

	for range 2 {
		_, err := sessions.IncrementMessageCount(ctx, "sess-1")
		require.NoError(t, err)
	}
	first, err := s.Evaluate(ctx, "sess-1", domain.TopicDebt)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, domain.TopicDebt, first.Question.Topic)
	assert.Equal(t, 2, first.AtMessage)

	for range 2 {
		_, err := sessions.IncrementMessageCount(ctx, "sess-1")
		require.NoError(t, err)
	}
	second, err := s.Evaluate(ctx, "sess-1", domain.TopicDebt)
	require.NoError(t, err)
	assert.Nil(t, second, "unanswered quiz blocks the next one")

	require.NoError(t, s.DismissMicroQuiz(ctx, "sess-1"))
	for range 2 {
		_, err := sessions.IncrementMessageCount(ctx, "sess-1")
		require.NoError(t, err)
	}
	third, err := s.Evaluate(ctx, "sess-1", domain.TopicDebt)
	require.NoError(t, err)
	assert.NotNil(t, third)

	sess, err := sessions.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Zero(t, sess.QuizAttemptCount, "dismissal is not an attempt")
}

func TestActiveFlowSuppressesInjection(t *testing.T) {
	ctx := context.Background()
	s, sessions := newScheduler(t, 2)

	_, err := sessions.Update(ctx, "sess-1", func(sess *domain.Session) error {
		sess.MessageCount = 1
		sess.Course.Mode = domain.ModeCourse
		sess.Course.ActiveCourseID = "budgeting-basics"
		return nil
	})
	require.NoError(t, err)
	_, err = sessions.IncrementMessageCount(ctx, "sess-1")
	require.NoError(t, err)

	inj, err := s.Evaluate(ctx, "sess-1", "")
	require.NoError(t, err)
	assert.Nil(t, inj)
}

func TestEmptyTopicFallsBack(t *testing.T) {
	ctx := context.Background()
	s, sessions := newScheduler(t, 1)
	_, err := sessions.IncrementMessageCount(ctx, "sess-1")
	require.NoError(t, err)

	inj, err := s.Evaluate(ctx, "sess-1", domain.TopicTaxes)
	require.NoError(t, err)
	require.NotNil(t, inj)
	assert.NotEqual(t, domain.TopicTaxes, inj.Question.Topic)
}

func TestAnswerMicroQuizValidation(t *testing.T) {
	ctx := context.Background()
	s, sessions := newScheduler(t, 1)

	_, err := s.AnswerMicroQuiz(ctx, "sess-1", "micro-debt-avalanche", 1)
	assert.ErrorIs(t, err, domain.ErrConflict, "nothing pending")

	_, err = sessions.IncrementMessageCount(ctx, "sess-1")
	require.NoError(t, err)
	inj, err := s.Evaluate(ctx, "sess-1", domain.TopicCredit)
	require.NoError(t, err)
	require.NotNil(t, inj)

	_, err = s.AnswerMicroQuiz(ctx, "sess-1", inj.Question.ID, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = s.AnswerMicroQuiz(ctx, "sess-1", "no-such-question", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.AnswerMicroQuiz(ctx, "sess-1", "micro-budget-zero-based", 0)
	assert.ErrorIs(t, err, domain.ErrConflict, "wrong question")

	wrong := (inj.Question.CorrectOptionIndex + 1) % domain.OptionsPerQuestion
	res, err := s.AnswerMicroQuiz(ctx, "sess-1", inj.Question.ID, wrong)
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.Equal(t, 1, res.QuizAttemptCount)
	assert.NotEmpty(t, res.Explanation)
}
