package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/fincoach/internal/assistant"
	"github.com/ashureev/fincoach/internal/catalog"
	"github.com/ashureev/fincoach/internal/domain"
	"github.com/ashureev/fincoach/internal/quizinject"
	"github.com/ashureev/fincoach/internal/reconcile"
	"github.com/ashureev/fincoach/internal/session"
	"github.com/ashureev/fincoach/internal/store"
)

// scriptedResponder replies with fixed chunks and remembers the last request.
type scriptedResponder struct {
	chunks []assistant.Chunk
	err    error
	last   assistant.Request
}

func (r *scriptedResponder) Reply(_ context.Context, req assistant.Request) iter.Seq2[*assistant.Chunk, error] {
	r.last = req
	return func(yield func(*assistant.Chunk, error) bool) {
		for i := range r.chunks {
			c := r.chunks[i]
			if !yield(&c, nil) {
				return
			}
		}
		if r.err != nil {
			yield(nil, r.err)
		}
	}
}

func (*scriptedResponder) Close() {}

type fixture struct {
	svc       *Service
	sessions  *session.Service
	repo      *store.MemoryStore
	hub       *reconcile.Hub
	responder *scriptedResponder
}

func newFixture(t *testing.T, interval int) *fixture {
	t.Helper()
	cat, err := catalog.LoadEmbedded()
	require.NoError(t, err)

	repo := store.NewMemory()
	sessions := session.NewService(repo)
	_, err = sessions.GetOrCreate(context.Background(), "user-1", "sess-1")
	require.NoError(t, err)

	hub := reconcile.NewHub()
	responder := &scriptedResponder{chunks: []assistant.Chunk{
		{Content: "Start ", Topic: domain.TopicBudgeting},
		{Content: "with a budget."},
	}}
	n := 0
	svc := NewService(sessions, quizinject.NewScheduler(sessions, cat.Quizzes, interval), responder, repo, hub,
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("turn-%d", n)
		}))
	return &fixture{svc: svc, sessions: sessions, repo: repo, hub: hub, responder: responder}
}

func (f *fixture) run(t *testing.T, msg string) []*Event {
	t.Helper()
	var events []*Event
	for ev, err := range f.svc.Turn(context.Background(), TurnRequest{UserID: "user-1", SessionID: "sess-1", Message: msg}) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func types(events []*Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestTurnStreamsChunksAndMirrorsWindow(t *testing.T) {
	f := newFixture(t, 3)

	events := f.run(t, "how do I budget?")
	assert.Equal(t, []EventType{EventChunk, EventChunk, EventDone}, types(events))
	assert.Equal(t, 1, events[2].MessageCount)
	assert.Equal(t, domain.TopicBudgeting, events[2].Topic)

	snap := f.hub.Snapshot("user-1", "sess-1")
	require.Len(t, snap.Chat.Messages, 2)
	assert.Equal(t, reconcile.RoleUser, snap.Chat.Messages[0].Role)
	assert.Equal(t, "Start with a budget.", snap.Chat.Messages[1].Content)
	assert.False(t, snap.Chat.Messages[1].Streaming)
	assert.Empty(t, snap.Learn.Messages, "chat turns never touch the learn window")
}

func TestTurnWithoutSessionIDCanBeContinued(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	var first []*Event
	for ev, err := range f.svc.Turn(ctx, TurnRequest{UserID: "user-1", Message: "hi"}) {
		require.NoError(t, err)
		first = append(first, ev)
	}
	require.NotEmpty(t, first)
	minted := first[0].SessionID
	require.NotEmpty(t, minted)
	assert.NotEqual(t, "sess-1", minted)
	for _, ev := range first {
		assert.Equal(t, minted, ev.SessionID)
	}

	var second []*Event
	for ev, err := range f.svc.Turn(ctx, TurnRequest{UserID: "user-1", SessionID: minted, Message: "budget help"}) {
		require.NoError(t, err)
		second = append(second, ev)
	}
	assert.Contains(t, types(second), EventQuiz)
	assert.Equal(t, 2, second[len(second)-1].MessageCount)
}

func TestTurnInjectsQuizOnInterval(t *testing.T) {
	f := newFixture(t, 2)

	first := f.run(t, "hi")
	assert.NotContains(t, types(first), EventQuiz)

	second := f.run(t, "budget help")
	require.Contains(t, types(second), EventQuiz)
	quiz := second[len(second)-2]
	require.Equal(t, EventQuiz, quiz.Type)
	assert.Equal(t, 2, quiz.Quiz.AtMessage)
	assert.Equal(t, domain.TopicBudgeting, quiz.Quiz.Question.Topic)

	snap := f.hub.Snapshot("user-1", "sess-1")
	require.NotNil(t, snap.Chat.Quiz)
	assert.Equal(t, quiz.Quiz.Question.ID, snap.Chat.Quiz.ID)

	// Unanswered quiz suppresses the next due injection.
	f.run(t, "more")
	fourth := f.run(t, "more")
	assert.NotContains(t, types(fourth), EventQuiz)
}

func TestTurnFailureReplacesPlaceholderAndStillCounts(t *testing.T) {
	f := newFixture(t, 1)
	f.responder.err = errors.New("upstream down")

	events := f.run(t, "hello")
	assert.Equal(t, []EventType{EventChunk, EventChunk, EventError, EventDone}, types(events))

	sess, err := f.sessions.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.MessageCount)
	assert.Nil(t, sess.PendingMicroQuiz, "failed turns do not inject")

	snap := f.hub.Snapshot("user-1", "sess-1")
	last := snap.Chat.Messages[len(snap.Chat.Messages)-1]
	assert.Equal(t, reconcile.RoleSystem, last.Role)
	assert.True(t, last.Error)
	assert.False(t, strings.Contains(last.Content, "Start"), "partial content is discarded")
}

func TestTurnPassesUserContentAndCourse(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	require.NoError(t, f.repo.AddUserContent(ctx, "user-1", "sess-1", "my budget spreadsheet"))
	_, err := f.sessions.Update(ctx, "sess-1", func(s *domain.Session) error {
		s.Course.Mode = domain.ModeCourse
		s.Course.ActiveCourseID = "budgeting-basics"
		return nil
	})
	require.NoError(t, err)

	f.run(t, "explain page two")
	assert.Equal(t, []string{"my budget spreadsheet"}, f.responder.last.Documents)
	assert.Equal(t, "budgeting-basics", f.responder.last.CourseID)

	snap := f.hub.Snapshot("user-1", "sess-1")
	assert.Empty(t, snap.Chat.Messages)
	assert.Len(t, snap.Learn.Messages, 2)
}

func TestTurnRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t, 3)
	for _, err := range f.svc.Turn(context.Background(), TurnRequest{UserID: "user-1", SessionID: "sess-1", Message: "  "}) {
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}
	sess, err := f.sessions.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Zero(t, sess.MessageCount)
}

func TestTurnStopsWhenConsumerLeaves(t *testing.T) {
	f := newFixture(t, 3)
	for ev, err := range f.svc.Turn(context.Background(), TurnRequest{UserID: "user-1", SessionID: "sess-1", Message: "hi"}) {
		require.NoError(t, err)
		require.Equal(t, EventChunk, ev.Type)
		break
	}
	snap := f.hub.Snapshot("user-1", "sess-1")
	msg := snap.Chat.Messages[len(snap.Chat.Messages)-1]
	assert.Equal(t, "Start ", msg.Content)
	assert.False(t, msg.Streaming)
}
