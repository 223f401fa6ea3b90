package reconcile

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const subscriberBuffer = 32

// Update is a window snapshot pushed to subscribers.
type Update struct {
	Window WindowKind   `json:"window"`
	State  *WindowState `json:"state"`
}

// Snapshot holds both windows of a session.
type Snapshot struct {
	Chat  *WindowState `json:"chat"`
	Learn *WindowState `json:"learn"`
}

type sessionWindows struct {
	mu      sync.Mutex
	windows map[WindowKind]*WindowState
	subs    map[chan Update]struct{}
	used    time.Time
}

// Hub owns the windows of every live session, keyed by user and session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*sessionWindows
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*sessionWindows)}
}

func hubKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

func (h *Hub) entry(userID, sessionID string) *sessionWindows {
	key := hubKey(userID, sessionID)

	h.mu.RLock()
	e, ok := h.sessions[key]
	h.mu.RUnlock()
	if ok {
		return e
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.sessions[key]; ok {
		return e
	}
	e = &sessionWindows{
		windows: map[WindowKind]*WindowState{
			WindowChat:  NewWindow(WindowChat),
			WindowLearn: NewWindow(WindowLearn),
		},
		subs: make(map[chan Update]struct{}),
		used: time.Now(),
	}
	h.sessions[key] = e
	return e
}

// Apply runs fn against one window and publishes the resulting snapshot.
// The other window of the session is never touched.
func (h *Hub) Apply(userID, sessionID string, kind WindowKind, fn func(*WindowState) error) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown window %q", kind)
	}
	e := h.entry(userID, sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.used = time.Now()
	w := e.windows[kind]
	if err := fn(w); err != nil {
		return err
	}
	update := Update{Window: kind, State: w.Snapshot()}
	for ch := range e.subs {
		select {
		case ch <- update:
		default:
			// Snapshots are full state, so a slow subscriber only misses
			// intermediate frames.
			slog.Debug("Window subscriber lagging, dropping update", "user_id", userID, "session_id", sessionID, "window", kind)
		}
	}
	return nil
}

// Snapshot returns copies of both windows.
func (h *Hub) Snapshot(userID, sessionID string) Snapshot {
	e := h.entry(userID, sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Chat:  e.windows[WindowChat].Snapshot(),
		Learn: e.windows[WindowLearn].Snapshot(),
	}
}

// Subscribe returns a channel of window updates for the session along with
// the current snapshot, taken atomically with the registration.
func (h *Hub) Subscribe(userID, sessionID string) (<-chan Update, Snapshot, func()) {
	e := h.entry(userID, sessionID)
	ch := make(chan Update, subscriberBuffer)

	e.mu.Lock()
	e.subs[ch] = struct{}{}
	snap := Snapshot{
		Chat:  e.windows[WindowChat].Snapshot(),
		Learn: e.windows[WindowLearn].Snapshot(),
	}
	e.mu.Unlock()
	slog.Info("Window subscriber registered", "user_id", userID, "session_id", sessionID)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, ch)
			e.mu.Unlock()
			slog.Info("Window subscriber unregistered", "user_id", userID, "session_id", sessionID)
		})
	}
	return ch, snap, cancel
}

// Drop forgets a session's windows. Existing subscribers stop receiving
// updates.
func (h *Hub) Drop(userID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, hubKey(userID, sessionID))
}

// Prune drops sessions that have no subscribers and have not been updated
// for longer than idle. It returns the number removed.
func (h *Hub) Prune(idle time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	n := 0
	for key, e := range h.sessions {
		e.mu.Lock()
		stale := len(e.subs) == 0 && e.used.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(h.sessions, key)
			n++
		}
	}
	return n
}

// Len returns the number of sessions with windows.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
