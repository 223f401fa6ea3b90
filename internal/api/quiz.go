package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/fincoach/internal/audit"
	"github.com/ashureev/fincoach/internal/domain"
	"github.com/ashureev/fincoach/internal/reconcile"
)

type sessionRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// HandleSession handles POST /quiz/session. It resumes the named session or
// creates a new one.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	userID, sessionID, err := resolveIDs(r, req.UserID, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	sess, err := h.Sessions.GetOrCreate(r.Context(), userID, sessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.Audit.Log(audit.Event{
		Type:      audit.EventSessionStarted,
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		Data:      map[string]any{"messageCount": sess.MessageCount, "resumed": sessionID != ""},
	})
	Success(w, sess)
}

// HandleEndSession handles POST /quiz/session/end. The session and both of
// its windows are discarded; course progress is kept.
func (h *Handler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	userID, _, err := resolveIDs(r, req.UserID, "")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if userID != "" && sess.UserID != userID {
		WriteError(w, r, fmt.Errorf("%w: session %s belongs to another user", domain.ErrConflict, sess.SessionID))
		return
	}
	if err := h.Sessions.Delete(r.Context(), sess.SessionID); err != nil {
		WriteError(w, r, err)
		return
	}
	if h.Hub != nil {
		h.Hub.Drop(sess.UserID, sess.SessionID)
	}
	h.Audit.Log(audit.Event{
		Type:      audit.EventSessionEnded,
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		Data:      map[string]any{"messageCount": sess.MessageCount},
	})
	Success(w, map[string]string{"sessionId": sess.SessionID})
}

// HandleGetDiagnostic handles GET /quiz/diagnostic.
func (h *Handler) HandleGetDiagnostic(w http.ResponseWriter, _ *http.Request) {
	Success(w, h.Diagnostic.Test())
}

// HandleGetDiagnosticAttempt handles GET /quiz/diagnostic/attempt and
// returns the session's current diagnostic attempt.
func (h *Handler) HandleGetDiagnosticAttempt(w http.ResponseWriter, r *http.Request) {
	sess, err := h.loadSession(r, r.URL.Query().Get("sessionId"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	attempt, err := h.Diagnostic.Attempt(r.Context(), sess.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	Success(w, attempt)
}

type completeDiagnosticRequest struct {
	SessionID string `json:"sessionId"`
	Score     *int   `json:"score"`
}

// HandleCompleteDiagnostic handles POST /quiz/complete-diagnostic, where the
// client supplies the score.
func (h *Handler) HandleCompleteDiagnostic(w http.ResponseWriter, r *http.Request) {
	var req completeDiagnosticRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.Score == nil {
		WriteError(w, r, fmt.Errorf("%w: score is required", domain.ErrInvalidInput))
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.Diagnostic.CompleteWithScore(r.Context(), sess.SessionID, *req.Score)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.mirrorDiagnosticResult(sess, res.Score)
	Success(w, res)
}

type diagnosticStartRequest struct {
	UserID     string       `json:"userId"`
	SessionID  string       `json:"sessionId"`
	CourseType domain.Topic `json:"courseType"`
}

// HandleDiagnosticStart handles POST /quiz/diagnostic/start.
func (h *Handler) HandleDiagnosticStart(w http.ResponseWriter, r *http.Request) {
	var req diagnosticStartRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.CourseType != "" && !req.CourseType.Valid() {
		WriteError(w, r, fmt.Errorf("%w: unknown courseType %q", domain.ErrInvalidInput, req.CourseType))
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	attempt, err := h.Diagnostic.Start(r.Context(), req.UserID, sess.SessionID, req.CourseType)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.mirror(sess, reconcile.WindowChat, func(win *reconcile.WindowState) error {
		win.ShowDiagnostic(attempt)
		return nil
	})
	Success(w, attempt)
}

type optionRequest struct {
	SessionID string `json:"sessionId"`
	Option    *int   `json:"option"`
}

func (req optionRequest) option() (int, error) {
	if req.Option == nil {
		return 0, fmt.Errorf("%w: option is required", domain.ErrInvalidInput)
	}
	return *req.Option, nil
}

// HandleDiagnosticAnswer handles POST /quiz/diagnostic/answer.
func (h *Handler) HandleDiagnosticAnswer(w http.ResponseWriter, r *http.Request) {
	var req optionRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	option, err := req.option()
	if err != nil {
		WriteError(w, r, err)
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	fb, err := h.Diagnostic.Answer(r.Context(), sess.SessionID, option)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if attempt, err := h.Diagnostic.Attempt(r.Context(), sess.SessionID); err == nil {
		h.mirror(sess, reconcile.WindowChat, func(win *reconcile.WindowState) error {
			win.ShowDiagnostic(attempt)
			return nil
		})
	}
	Success(w, fb)
}

// HandleDiagnosticNext handles POST /quiz/diagnostic/next.
func (h *Handler) HandleDiagnosticNext(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	attempt, err := h.Diagnostic.Next(r.Context(), sess.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.mirror(sess, reconcile.WindowChat, func(win *reconcile.WindowState) error {
		win.ShowDiagnostic(attempt)
		return nil
	})
	Success(w, attempt)
}

// HandleDiagnosticComplete handles POST /quiz/diagnostic/complete.
func (h *Handler) HandleDiagnosticComplete(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.Diagnostic.Complete(r.Context(), sess.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.mirrorDiagnosticResult(sess, res.Score)
	Success(w, res)
}

func (h *Handler) mirrorDiagnosticResult(sess *domain.Session, score int) {
	h.mirror(sess, reconcile.WindowChat, func(win *reconcile.WindowState) error {
		win.CloseCurrentDisplays()
		systemMessage(win, fmt.Sprintf("Diagnostic complete. You scored %d%%.", score))
		return nil
	})
}

// HandleGetMicroQuiz handles GET /quiz/micro/{topicTag}.
func (h *Handler) HandleGetMicroQuiz(w http.ResponseWriter, r *http.Request) {
	topic := domain.Topic(chi.URLParam(r, "topicTag"))
	if !topic.Valid() {
		WriteError(w, r, fmt.Errorf("%w: unknown topic %q", domain.ErrInvalidInput, topic))
		return
	}
	q, ok := h.Quizzes.MicroQuiz(topic)
	if !ok {
		WriteError(w, r, fmt.Errorf("%w: no micro-quiz for topic %s", domain.ErrNotFound, topic))
		return
	}
	Success(w, q)
}

type microAnswerRequest struct {
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
	Option     *int   `json:"option"`
}

// HandleMicroAnswer handles POST /quiz/micro/answer.
func (h *Handler) HandleMicroAnswer(w http.ResponseWriter, r *http.Request) {
	var req microAnswerRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.QuestionID == "" || req.Option == nil {
		WriteError(w, r, fmt.Errorf("%w: questionId and option are required", domain.ErrInvalidInput))
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.Scheduler.AnswerMicroQuiz(r.Context(), sess.SessionID, req.QuestionID, *req.Option)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.mirror(sess, reconcile.WindowChat, func(win *reconcile.WindowState) error {
		win.CloseCurrentDisplays()
		verdict := "Not quite."
		if res.Correct {
			verdict = "Correct!"
		}
		systemMessage(win, verdict+" "+res.Explanation)
		return nil
	})
	Success(w, res)
}

// HandleMicroDismiss handles POST /quiz/micro/dismiss.
func (h *Handler) HandleMicroDismiss(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.Scheduler.DismissMicroQuiz(r.Context(), sess.SessionID); err != nil {
		WriteError(w, r, err)
		return
	}
	h.mirror(sess, reconcile.WindowChat, func(win *reconcile.WindowState) error {
		win.Quiz = nil
		return nil
	})
	Success(w, map[string]bool{"dismissed": true})
}
