package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/fincoach/internal/store"
)

// EvictCallback is called after every successful sweep, including sweeps
// that removed nothing.
type EvictCallback func(evicted int64)

// RunEvictor periodically deletes sessions idle for longer than ttl. It
// blocks until ctx is cancelled and always returns nil, so it can run
// directly inside an errgroup.
func RunEvictor(ctx context.Context, st store.SessionStore, ttl, interval time.Duration, onEvict EvictCallback) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Session evictor started", "interval", interval, "ttl", ttl)

	for {
		select {
		case <-ticker.C:
			evictIdle(ctx, st, ttl, onEvict)
		case <-ctx.Done():
			slog.Info("Session evictor shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func evictIdle(ctx context.Context, st store.SessionStore, ttl time.Duration, onEvict EvictCallback) {
	n, err := st.EvictIdleSessions(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Session evictor: context canceled during sweep", "error", err)
			return
		}
		slog.Error("Session evictor failed to sweep idle sessions", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Session evictor removed idle sessions", "count", n)
	}
	if onEvict != nil {
		onEvict(n)
	}
}
