package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/fincoach/internal/domain"
)

// dialTestRedis connects to REDIS_TEST_ADDR or skips the test.
func dialTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s, err := DialRedis(context.Background(), addr, 15, WithSessionTTL(time.Minute))
	if err != nil {
		t.Fatalf("DialRedis failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisSessionCompareAndSwap(t *testing.T) {
	s := dialTestRedis(t)
	ctx := context.Background()
	id := uuid.NewString()
	t.Cleanup(func() { _ = s.DeleteSession(ctx, id) })

	if err := s.CreateSession(ctx, domain.NewSession("u", id, time.Now())); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := s.CreateSession(ctx, domain.NewSession("u", id, time.Now())); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("duplicate create err = %v", err)
	}

	a, _ := s.GetSession(ctx, id)
	b, _ := s.GetSession(ctx, id)
	a.MessageCount = 1
	if err := s.UpdateSession(ctx, a); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	b.MessageCount = 7
	if err := s.UpdateSession(ctx, b); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale update err = %v, want version conflict", err)
	}

	got, err := s.GetSession(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("GetSession = %v, %v", got, err)
	}
	if got.MessageCount != 1 || got.Version != 2 {
		t.Fatalf("session = count %d version %d", got.MessageCount, got.Version)
	}
}

func TestRedisProgressAndContent(t *testing.T) {
	s := dialTestRedis(t)
	ctx := context.Background()
	user := "user-" + uuid.NewString()
	t.Cleanup(func() { s.client.Del(ctx, redisProgressPrefix+user) })

	p := &domain.CourseProgress{UserID: user, CourseID: "budgeting-basics", StartedAt: time.Now()}
	p.Advance(1)
	if err := s.UpsertProgress(ctx, p); err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}
	list, err := s.ListProgress(ctx, user)
	if err != nil {
		t.Fatalf("ListProgress failed: %v", err)
	}
	if len(list) != 1 || list[0].CurrentPageIndex != 1 {
		t.Fatalf("ListProgress = %+v", list)
	}

	if err := s.AddUserContent(ctx, user, "s", "pay stub"); err != nil {
		t.Fatalf("AddUserContent failed: %v", err)
	}
	docs, err := s.GetUserContent(ctx, user, "s")
	if err != nil || len(docs) != 1 {
		t.Fatalf("GetUserContent = %v, %v", docs, err)
	}
}
