// Package api provides HTTP handlers for the fincoach API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/fincoach/internal/audit"
	"github.com/ashureev/fincoach/internal/catalog"
	"github.com/ashureev/fincoach/internal/chat"
	"github.com/ashureev/fincoach/internal/course"
	"github.com/ashureev/fincoach/internal/diagnostic"
	"github.com/ashureev/fincoach/internal/domain"
	"github.com/ashureev/fincoach/internal/identity"
	"github.com/ashureev/fincoach/internal/quizinject"
	"github.com/ashureev/fincoach/internal/reconcile"
	"github.com/ashureev/fincoach/internal/session"
	"github.com/ashureev/fincoach/internal/store"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// Envelope wraps every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthChecker is implemented by collaborators that can report liveness.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the services the handlers route to.
type Deps struct {
	Repo        store.Repository
	Sessions    *session.Service
	Quizzes     *catalog.QuizBank
	Diagnostic  *diagnostic.Engine
	Courses     *course.Tracker
	Scheduler   *quizinject.Scheduler
	Chat        *chat.Service
	Hub         *reconcile.Hub
	Audit       audit.Logger
	RateLimiter *RateLimiter
	// Assistant is optional; when set, /health reports its status.
	Assistant   HealthChecker
	MaxBodySize int64
	Logger      *slog.Logger
}

// Handler serves the quiz, course and chat endpoints.
type Handler struct {
	Deps
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(deps Deps) *Handler {
	if deps.MaxBodySize <= 0 {
		deps.MaxBodySize = defaultMaxRequestBodySize
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{Deps: deps}
}

// RegisterRoutes mounts every endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)

	r.Route("/quiz", func(r chi.Router) {
		r.Post("/session", h.HandleSession)
		r.Post("/session/end", h.HandleEndSession)
		r.Get("/diagnostic", h.HandleGetDiagnostic)
		r.Get("/diagnostic/attempt", h.HandleGetDiagnosticAttempt)
		r.Post("/complete-diagnostic", h.HandleCompleteDiagnostic)
		r.Post("/diagnostic/start", h.HandleDiagnosticStart)
		r.Post("/diagnostic/answer", h.HandleDiagnosticAnswer)
		r.Post("/diagnostic/next", h.HandleDiagnosticNext)
		r.Post("/diagnostic/complete", h.HandleDiagnosticComplete)
		r.Get("/micro/{topicTag}", h.HandleGetMicroQuiz)
		r.Post("/micro/answer", h.HandleMicroAnswer)
		r.Post("/micro/dismiss", h.HandleMicroDismiss)
	})

	r.Route("/chat", func(r chi.Router) {
		r.Post("/message", h.HandleChatMessage)
		r.Post("/content", h.HandleAddContent)
		r.Get("/courses", h.HandleListCourses)
		r.Route("/course", func(r chi.Router) {
			r.Post("/start", h.HandleCourseStart)
			r.Post("/navigate", h.HandleCourseNavigate)
			r.Post("/page-quiz", h.HandlePageQuiz)
			r.Get("/quiz", h.HandleGetCourseQuiz)
			r.Post("/quiz", h.HandleSubmitCourseQuiz)
			r.Post("/end", h.HandleCourseEnd)
			r.Get("/progress", h.HandleProgress)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Success writes data in a success envelope.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// Error writes a failure envelope with message.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Envelope{Success: false, Error: message})
}

// WriteError maps a domain error to a status code. Unclassified errors are
// logged and reported with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		Error(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConflict):
		Error(w, http.StatusConflict, err.Error())
	default:
		slog.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"user_id", identity.UserIDFromContext(r.Context()),
			"error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
	}
}

// decode reads a JSON body bounded by MaxBodySize.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	return nil
}

// resolveIDs fills ids missing from the body with the request identity.
func resolveIDs(r *http.Request, userID, sessionID string) (string, string, error) {
	if userID == "" {
		userID = identity.UserIDFromContext(r.Context())
	}
	if sessionID == "" {
		sessionID = identity.SessionIDFromContext(r.Context())
	}
	if userID != "" && !identity.ValidID(userID) {
		return "", "", fmt.Errorf("%w: malformed userId", domain.ErrInvalidInput)
	}
	if sessionID != "" && !identity.ValidID(sessionID) {
		return "", "", fmt.Errorf("%w: malformed sessionId", domain.ErrInvalidInput)
	}
	return userID, sessionID, nil
}

// loadSession resolves the session a request targets. A sessionId is required.
func (h *Handler) loadSession(r *http.Request, sessionID string) (*domain.Session, error) {
	_, sessionID, err := resolveIDs(r, "", sessionID)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", domain.ErrInvalidInput)
	}
	return h.Sessions.Get(r.Context(), sessionID)
}

// mirror applies fn to one of the session's windows. Window failures never
// fail the request.
func (h *Handler) mirror(sess *domain.Session, kind reconcile.WindowKind, fn func(*reconcile.WindowState) error) {
	if h.Hub == nil || sess == nil {
		return
	}
	if err := h.Hub.Apply(sess.UserID, sess.SessionID, kind, fn); err != nil {
		h.Logger.Warn("Window update failed",
			"user_id", sess.UserID,
			"session_id", sess.SessionID,
			"window", kind,
			"error", err)
	}
}

func systemMessage(w *reconcile.WindowState, text string) {
	w.AppendMessage(fmt.Sprintf("system-%d", time.Now().UnixNano()), reconcile.RoleSystem, text)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "store": "ok"}
	if err := h.Repo.Ping(ctx); err != nil {
		h.Logger.Warn("Store health check failed", "error", err)
		status["status"] = "degraded"
		status["store"] = "unavailable"
		JSON(w, http.StatusServiceUnavailable, Envelope{Success: false, Data: status, Error: "store unavailable"})
		return
	}
	if h.Assistant != nil {
		status["assistant"] = "ok"
		if err := h.Assistant.Health(ctx); err != nil {
			// Chat degrades but learning flows keep working.
			status["assistant"] = "unavailable"
		}
	}
	Success(w, status)
}
