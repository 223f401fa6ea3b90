package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/fincoach/internal/domain"
	"github.com/ashureev/fincoach/internal/identity"
)

func sampleQuestion() domain.QuizQuestion {
	return domain.QuizQuestion{ID: "q", Prompt: "?", Options: []string{"a", "b", "c", "d"}, Topic: domain.TopicSavings}
}

func TestNewWindowSameShapeForBothKinds(t *testing.T) {
	chat, learn := NewWindow(WindowChat), NewWindow(WindowLearn)
	if len(chat.Loading) != 4 || len(learn.Loading) != len(chat.Loading) {
		t.Fatalf("loading flags differ: %v vs %v", chat.Loading, learn.Loading)
	}
	for k := range chat.Loading {
		if _, ok := learn.Loading[k]; !ok {
			t.Fatalf("learn window missing loading flag %s", k)
		}
	}
	if chat.Visible() != "" || learn.Visible() != "" {
		t.Fatal("new windows must show nothing")
	}
}

func TestShowClosesOtherDisplays(t *testing.T) {
	w := NewWindow(WindowLearn)
	attempt := domain.NewDiagnosticAttempt("d", []domain.QuizQuestion{sampleQuestion()}, "", time.Now())

	steps := []struct {
		show func()
		want Artifact
	}{
		{func() { w.ShowQuiz(sampleQuestion()) }, ArtifactQuiz},
		{func() { w.ShowDiagnostic(attempt) }, ArtifactDiagnostic},
		{func() { w.ShowCoursePage(domain.CoursePage{ID: "p1"}) }, ArtifactCoursePage},
		{func() { w.ShowCourseQuiz("c", []domain.QuizQuestion{sampleQuestion()}) }, ArtifactCourseQuiz},
		{func() { w.ShowQuiz(sampleQuestion()) }, ArtifactQuiz},
	}
	for i, step := range steps {
		w.SetLoading(step.want, true)
		step.show()
		visible := 0
		for _, shown := range []bool{w.Quiz != nil, w.Diagnostic != nil, w.CoursePage != nil, w.CourseQuiz != nil} {
			if shown {
				visible++
			}
		}
		if visible != 1 || w.Visible() != step.want {
			t.Fatalf("step %d: visible=%d artifact=%q, want exactly %q", i, visible, w.Visible(), step.want)
		}
		if w.Loading[step.want] {
			t.Fatalf("step %d: loading flag not cleared", i)
		}
	}

	w.CloseCurrentDisplays()
	if w.Visible() != "" {
		t.Fatalf("expected nothing visible, got %q", w.Visible())
	}
}

func TestStreamingTurnAppliesChunksInOrder(t *testing.T) {
	w := NewWindow(WindowChat)
	w.AppendMessage("m1", RoleUser, "how do I budget?")

	if err := w.BeginAssistantTurn("t1"); err != nil {
		t.Fatalf("BeginAssistantTurn failed: %v", err)
	}
	if got := w.Messages[1]; got.Content != ThinkingPlaceholder || !got.Streaming {
		t.Fatalf("placeholder = %+v", got)
	}
	if err := w.BeginAssistantTurn("t1"); !errors.Is(err, ErrTurnExists) {
		t.Fatalf("duplicate turn err = %v", err)
	}

	for _, chunk := range []string{"Start ", "with ", "50/30/20."} {
		if err := w.ApplyChunk("t1", chunk); err != nil {
			t.Fatalf("ApplyChunk failed: %v", err)
		}
	}
	if err := w.FinishTurn("t1"); err != nil {
		t.Fatalf("FinishTurn failed: %v", err)
	}

	got := w.Messages[1]
	if got.Content != "Start with 50/30/20." || got.Streaming || got.Role != RoleAssistant {
		t.Fatalf("final message = %+v", got)
	}
	if err := w.ApplyChunk("t1", "late"); !errors.Is(err, ErrTurnClosed) {
		t.Fatalf("chunk after finish err = %v", err)
	}
	if err := w.ApplyChunk("nope", "x"); !errors.Is(err, ErrUnknownTurn) {
		t.Fatalf("unknown turn err = %v", err)
	}
}

func TestFailTurnReplacesPlaceholderWholesale(t *testing.T) {
	w := NewWindow(WindowChat)
	if err := w.BeginAssistantTurn("t1"); err != nil {
		t.Fatalf("BeginAssistantTurn failed: %v", err)
	}
	if err := w.ApplyChunk("t1", "partial answ"); err != nil {
		t.Fatalf("ApplyChunk failed: %v", err)
	}
	if err := w.FailTurn("t1", "The assistant is unavailable. Please retry."); err != nil {
		t.Fatalf("FailTurn failed: %v", err)
	}

	if len(w.Messages) != 1 {
		t.Fatalf("expected the placeholder to be replaced, got %d messages", len(w.Messages))
	}
	got := w.Messages[0]
	if got.Content != "The assistant is unavailable. Please retry." || got.Role != RoleSystem || !got.Error || got.Streaming {
		t.Fatalf("failed message = %+v", got)
	}
}

func TestFinishWithoutChunksClearsPlaceholder(t *testing.T) {
	w := NewWindow(WindowChat)
	_ = w.BeginAssistantTurn("t1")
	if err := w.FinishTurn("t1"); err != nil {
		t.Fatalf("FinishTurn failed: %v", err)
	}
	if w.Messages[0].Content != "" {
		t.Fatalf("placeholder leaked into final message: %q", w.Messages[0].Content)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	w := NewWindow(WindowChat)
	w.ShowQuiz(sampleQuestion())
	w.AppendMessage("m1", RoleUser, "hi")

	snap := w.Snapshot()
	w.Quiz.Prompt = "changed"
	w.Messages[0].Content = "changed"
	w.Loading[ArtifactQuiz] = true

	if snap.Quiz.Prompt == "changed" || snap.Messages[0].Content == "changed" || snap.Loading[ArtifactQuiz] {
		t.Fatal("snapshot shares state with the window")
	}
}

func TestHubWindowsAreIndependent(t *testing.T) {
	hub := NewHub()
	if err := hub.Apply("u", "s", WindowLearn, func(w *WindowState) error {
		w.ShowCoursePage(domain.CoursePage{ID: "p1"})
		return nil
	}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := hub.Apply("u", "s", WindowChat, func(w *WindowState) error {
		w.ShowQuiz(sampleQuestion())
		return w.BeginAssistantTurn("t1")
	}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	snap := hub.Snapshot("u", "s")
	if snap.Learn.Visible() != ArtifactCoursePage {
		t.Fatalf("learn window lost its course page: %q", snap.Learn.Visible())
	}
	if snap.Chat.Visible() != ArtifactQuiz || len(snap.Chat.Messages) != 1 {
		t.Fatalf("chat window = %+v", snap.Chat)
	}
	if len(snap.Learn.Messages) != 0 {
		t.Fatal("chat turn leaked into learn window")
	}

	other := hub.Snapshot("u", "other")
	if other.Chat.Visible() != "" {
		t.Fatal("sessions must not share windows")
	}

	if err := hub.Apply("u", "s", WindowKind("sidebar"), func(*WindowState) error { return nil }); err == nil {
		t.Fatal("expected unknown window error")
	}
}

func TestHubApplyErrorPublishesNothing(t *testing.T) {
	hub := NewHub()
	updates, _, cancel := hub.Subscribe("u", "s")
	defer cancel()

	boom := errors.New("boom")
	if err := hub.Apply("u", "s", WindowChat, func(*WindowState) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Apply err = %v", err)
	}
	select {
	case u := <-updates:
		t.Fatalf("unexpected update %+v", u)
	default:
	}
}

func TestHubSubscribeReceivesUpdates(t *testing.T) {
	hub := NewHub()
	updates, snap, cancel := hub.Subscribe("u", "s")
	if snap.Chat == nil || snap.Learn == nil {
		t.Fatal("initial snapshot missing windows")
	}

	_ = hub.Apply("u", "s", WindowChat, func(w *WindowState) error {
		w.AppendMessage("m1", RoleUser, "hello")
		return nil
	})
	select {
	case u := <-updates:
		if u.Window != WindowChat || len(u.State.Messages) != 1 {
			t.Fatalf("unexpected update %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}

	cancel()
	cancel()
	_ = hub.Apply("u", "s", WindowChat, func(*WindowState) error { return nil })
	select {
	case u := <-updates:
		t.Fatalf("update after cancel: %+v", u)
	default:
	}
}

func TestHubPrune(t *testing.T) {
	hub := NewHub()
	_ = hub.Snapshot("u", "idle")
	_, _, cancel := hub.Subscribe("u", "watched")
	defer cancel()

	time.Sleep(5 * time.Millisecond)
	if n := hub.Prune(time.Millisecond); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if hub.Len() != 1 {
		t.Fatalf("Len = %d, want 1", hub.Len())
	}
}

func TestHubConcurrentApply(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = hub.Apply("u", "s", WindowChat, func(w *WindowState) error {
				w.AppendMessage("m", RoleUser, "x")
				return nil
			})
		}()
	}
	wg.Wait()
	if got := len(hub.Snapshot("u", "s").Chat.Messages); got != 50 {
		t.Fatalf("messages = %d, want 50", got)
	}
}

func TestWebSocketStreamsSnapshotAndUpdates(t *testing.T) {
	hub := NewHub()
	handler := NewWebSocketHandler(hub, "*", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), "u", "s")))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	first := readEnvelope(ctx, t, conn)
	if first.Type != "snapshot" || first.Snapshot == nil {
		t.Fatalf("first message = %+v", first)
	}

	_ = hub.Apply("u", "s", WindowLearn, func(w *WindowState) error {
		w.ShowCoursePage(domain.CoursePage{ID: "p1", Title: "Intro"})
		return nil
	})
	update := readEnvelope(ctx, t, conn)
	if update.Type != "update" || update.Update.Window != WindowLearn || update.Update.State.CoursePage.ID != "p1" {
		t.Fatalf("update message = %+v", update)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if pong := readEnvelope(ctx, t, conn); pong.Type != "pong" {
		t.Fatalf("expected pong, got %+v", pong)
	}
}

func TestWebSocketRequiresSession(t *testing.T) {
	handler := NewWebSocketHandler(NewHub(), "*", true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
	handler.ServeHTTP(rec, req.WithContext(identity.WithIdentity(req.Context(), "u", "")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	handler := NewWebSocketHandler(NewHub(), "https://app.example.com", false)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	handler.ServeHTTP(rec, req.WithContext(identity.WithIdentity(req.Context(), "u", "s")))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func readEnvelope(ctx context.Context, t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}
