package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/fincoach/internal/config"
)

// Open builds the repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, sessionTTL time.Duration) (Repository, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return NewMemory(), nil
	case config.StoreSQLite:
		s, err := NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreRedis:
		s, err := DialRedis(ctx, cfg.RedisAddr, cfg.RedisDB, WithSessionTTL(sessionTTL))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
