package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/fincoach/internal/chat"
	"github.com/ashureev/fincoach/internal/domain"
)

type chatMessageRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// HandleChatMessage handles POST /chat/message. The reply streams as
// server-sent events: one "chunk" per assistant fragment, an optional "quiz"
// when a micro-quiz is injected, and a final "done". A failed reply sends an
// "error" event in place of the remaining chunks.
func (h *Handler) HandleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	userID, sessionID, err := resolveIDs(r, req.UserID, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if userID == "" {
		WriteError(w, r, fmt.Errorf("%w: userId is required", domain.ErrInvalidInput))
		return
	}

	// Rate-limit by userID only (not userID:sessionID) so clients cannot bypass
	// throttling by rotating session IDs.
	if h.RateLimiter != nil && !h.RateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h.Logger.Info("Chat turn",
		"user_id", userID,
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)

	started := false
	turn := chat.TurnRequest{UserID: userID, SessionID: sessionID, Message: req.Message}
	for ev, err := range h.Chat.Turn(r.Context(), turn) {
		if err != nil {
			if !started {
				WriteError(w, r, err)
				return
			}
			h.Logger.Error("Chat turn failed mid-stream", "user_id", userID, "error", err)
			return
		}
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}

		data, err := json.Marshal(ev)
		if err != nil {
			h.Logger.Warn("failed to marshal chat event", "error", err)
			return
		}
		if err := writeSSE(w, string(ev.Type), string(data)); err != nil {
			h.Logger.Warn("failed to write SSE event", "error", err, "user_id", userID)
			return
		}
		flusher.Flush()
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

type addContentRequest struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

// HandleAddContent handles POST /chat/content. Uploaded text becomes
// context for the assistant in later turns of the same session.
func (h *Handler) HandleAddContent(w http.ResponseWriter, r *http.Request) {
	var req addContentRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		WriteError(w, r, fmt.Errorf("%w: content is required", domain.ErrInvalidInput))
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.Repo.AddUserContent(r.Context(), sess.UserID, sess.SessionID, req.Content); err != nil {
		WriteError(w, r, err)
		return
	}
	docs, err := h.Repo.GetUserContent(r.Context(), sess.UserID, sess.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	Success(w, map[string]int{"documents": len(docs)})
}
