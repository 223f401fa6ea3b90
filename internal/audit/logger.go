// Package audit records learning events to an append-only sink. Logging is
// fire-and-forget: a failing or saturated sink never fails the caller.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Event types emitted by the learning engine.
const (
	EventSessionStarted      = "session_started"
	EventSessionEnded        = "session_ended"
	EventChatTurn            = "chat_turn"
	EventDiagnosticStarted   = "diagnostic_started"
	EventDiagnosticAnswered  = "diagnostic_answered"
	EventDiagnosticCompleted = "diagnostic_completed"
	EventMicroQuizInjected   = "micro_quiz_injected"
	EventMicroQuizAnswered   = "micro_quiz_answered"
	EventCourseStarted       = "course_started"
	EventCoursePageViewed    = "course_page_viewed"
	EventCourseQuizSubmitted = "course_quiz_submitted"
)

// Event is one audit record.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Type      string         `json:"type"`
	UserID    string         `json:"userId"`
	SessionID string         `json:"sessionId"`
	Data      map[string]any `json:"data,omitempty"`
}

// Logger accepts audit events.
type Logger interface {
	Log(Event)
	Close() error
}

// Config controls the NDJSON sink.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(Event)    {}
func (Nop) Close() error { return nil }

// New returns an NDJSON logger, or Nop when disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return NewNDJSON(cfg, logger)
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// NDJSONLogger writes one file per user and session:
// <dir>/<user>/<session>.ndjson. A single goroutine drains the queue.
type NDJSONLogger struct {
	dir    string
	queue  chan Event
	logger *slog.Logger
	now    func() time.Time

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewNDJSON creates the directory and starts the writer goroutine.
func NewNDJSON(cfg Config, logger *slog.Logger) (*NDJSONLogger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("audit log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &NDJSONLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues e. When the queue is full the event is dropped.
func (l *NDJSONLogger) Log(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("Audit queue full, dropping event", "type", e.Type, "session_id", e.SessionID)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (l *NDJSONLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
		<-l.done
	})
	return nil
}

func (l *NDJSONLogger) run() {
	defer close(l.done)
	for e := range l.queue {
		if err := l.write(e); err != nil {
			l.logger.Warn("Audit write failed", "error", err, "type", e.Type, "session_id", e.SessionID)
		}
	}
}

func (l *NDJSONLogger) write(e Event) error {
	user := sanitize(e.UserID, "anonymous")
	sess := sanitize(e.SessionID, "unknown")
	dir := filepath.Join(l.dir, user)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, sess+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(append(line, '\n'))
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func sanitize(s, fallback string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return fallback
	}
	return s
}
