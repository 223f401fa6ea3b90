package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/fincoach/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix  = "fincoach:session:"
	redisProgressPrefix = "fincoach:progress:"
	redisContentPrefix  = "fincoach:content:"

	defaultRedisTTL = 24 * time.Hour
)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithSessionTTL sets the expiry applied to session keys on every write.
func WithSessionTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// RedisStore implements Repository on Redis. Sessions are JSON values with a
// TTL refreshed on every write; updates use WATCH/MULTI/EXEC so that a stale
// Version is rejected atomically.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, ttl: defaultRedisTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string, db int, opts ...RedisOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, opts...), nil
}

func sessionKey(id string) string { return redisSessionPrefix + id }

// CreateSession implements SessionStore.
func (s *RedisStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	prev := sess.Version
	sess.Version = 1
	val, err := json.Marshal(sess)
	if err != nil {
		sess.Version = prev
		return fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, sessionKey(sess.SessionID), val, s.ttl).Result()
	if err != nil {
		sess.Version = prev
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		sess.Version = prev
		return ErrSessionExists
	}
	return nil
}

// GetSession implements SessionStore.
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	val, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// UpdateSession implements SessionStore.
func (s *RedisStore) UpdateSession(ctx context.Context, sess *domain.Session) error {
	key := sessionKey(sess.SessionID)
	expected := sess.Version

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var stored domain.Session
		if err := json.Unmarshal(val, &stored); err != nil {
			return err
		}
		if stored.Version != expected {
			return ErrVersionConflict
		}

		sess.Version = expected + 1
		newVal, err := json.Marshal(sess)
		sess.Version = expected
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		sess.Version = expected + 1
		return nil
	case errors.Is(err, redis.TxFailedErr):
		// Another writer touched the key between WATCH and EXEC.
		return ErrVersionConflict
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrSessionNotFound):
		return err
	default:
		return fmt.Errorf("update session: %w", err)
	}
}

// DeleteSession implements SessionStore.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, sessionKey(sessionID)).Err()
}

// EvictIdleSessions implements SessionStore. Redis expires idle sessions
// through key TTL, so there is nothing to sweep.
func (s *RedisStore) EvictIdleSessions(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

// GetProgress implements ProgressStore.
func (s *RedisStore) GetProgress(ctx context.Context, userID, courseID string) (*domain.CourseProgress, error) {
	val, err := s.client.HGet(ctx, redisProgressPrefix+userID, courseID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	var p domain.CourseProgress
	if err := json.Unmarshal(val, &p); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &p, nil
}

// UpsertProgress implements ProgressStore. Progress keys carry no TTL. The
// stored page index is merged under WATCH so it never decreases.
func (s *RedisStore) UpsertProgress(ctx context.Context, p *domain.CourseProgress) error {
	key := redisProgressPrefix + p.UserID

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			next := *p
			raw, err := tx.HGet(ctx, key, p.CourseID).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				var stored domain.CourseProgress
				if err := json.Unmarshal(raw, &stored); err != nil {
					return err
				}
				next.CurrentPageIndex = max(next.CurrentPageIndex, stored.CurrentPageIndex)
			}

			val, err := json.Marshal(&next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, p.CourseID, val)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// ListProgress implements ProgressStore.
func (s *RedisStore) ListProgress(ctx context.Context, userID string) ([]*domain.CourseProgress, error) {
	vals, err := s.client.HGetAll(ctx, redisProgressPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	out := make([]*domain.CourseProgress, 0, len(vals))
	for courseID, raw := range vals {
		var p domain.CourseProgress
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode progress %s: %w", courseID, err)
		}
		out = append(out, &p)
	}
	sortProgress(out)
	return out, nil
}

// GetUserContent implements ContentStore.
func (s *RedisStore) GetUserContent(ctx context.Context, userID, sessionID string) ([]string, error) {
	vals, err := s.client.LRange(ctx, redisContentPrefix+contentKey(userID, sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get user content: %w", err)
	}
	return vals, nil
}

// AddUserContent implements ContentStore.
func (s *RedisStore) AddUserContent(ctx context.Context, userID, sessionID, content string) error {
	key := redisContentPrefix + contentKey(userID, sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, content)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add user content: %w", err)
	}
	return nil
}

// Ping implements Repository.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Repository.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
