package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/fincoach/internal/domain"
)

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Repository{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestSessionCreateGetUpdate(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().Truncate(time.Millisecond)
			sess := domain.NewSession("user-1", "sess-1", now)

			if err := repo.CreateSession(ctx, sess); err != nil {
				t.Fatalf("CreateSession failed: %v", err)
			}
			if sess.Version != 1 {
				t.Fatalf("Version = %d, want 1", sess.Version)
			}

			if err := repo.CreateSession(ctx, domain.NewSession("user-1", "sess-1", now)); !errors.Is(err, ErrSessionExists) {
				t.Fatalf("duplicate create err = %v, want ErrSessionExists", err)
			}

			got, err := repo.GetSession(ctx, "sess-1")
			if err != nil || got == nil {
				t.Fatalf("GetSession = %v, %v", got, err)
			}
			got.MessageCount = 3
			got.Course.PageGates = map[int]domain.GatePhase{1: domain.GatePending}
			if err := repo.UpdateSession(ctx, got); err != nil {
				t.Fatalf("UpdateSession failed: %v", err)
			}
			if got.Version != 2 {
				t.Fatalf("Version after update = %d, want 2", got.Version)
			}

			reloaded, err := repo.GetSession(ctx, "sess-1")
			if err != nil {
				t.Fatalf("GetSession failed: %v", err)
			}
			if reloaded.MessageCount != 3 || reloaded.Version != 2 {
				t.Fatalf("reloaded = count %d version %d", reloaded.MessageCount, reloaded.Version)
			}
			if reloaded.Course.PageGates[1] != domain.GatePending {
				t.Fatalf("page gates not persisted: %v", reloaded.Course.PageGates)
			}
		})
	}
}

func TestSessionUpdateStaleVersion(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := repo.CreateSession(ctx, domain.NewSession("u", "s", time.Now())); err != nil {
				t.Fatalf("CreateSession failed: %v", err)
			}
			a, _ := repo.GetSession(ctx, "s")
			b, _ := repo.GetSession(ctx, "s")

			a.MessageCount = 1
			if err := repo.UpdateSession(ctx, a); err != nil {
				t.Fatalf("first update failed: %v", err)
			}
			b.MessageCount = 5
			err := repo.UpdateSession(ctx, b)
			if !errors.Is(err, ErrVersionConflict) || !errors.Is(err, domain.ErrConflict) {
				t.Fatalf("stale update err = %v, want version conflict", err)
			}
			if b.Version != 1 {
				t.Fatalf("failed update must not bump version, got %d", b.Version)
			}
		})
	}
}

func TestSessionUpdateMissing(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			err := repo.UpdateSession(context.Background(), domain.NewSession("u", "ghost", time.Now()))
			if !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("err = %v, want not found", err)
			}
		})
	}
}

func TestGetSessionMissingReturnsNil(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			got, err := repo.GetSession(context.Background(), "nope")
			if err != nil || got != nil {
				t.Fatalf("GetSession = %v, %v; want nil, nil", got, err)
			}
		})
	}
}

func TestEvictIdleSessions(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stale := domain.NewSession("u", "stale", time.Now().Add(-3*time.Hour))
			fresh := domain.NewSession("u", "fresh", time.Now())
			for _, s := range []*domain.Session{stale, fresh} {
				if err := repo.CreateSession(ctx, s); err != nil {
					t.Fatalf("CreateSession failed: %v", err)
				}
			}

			n, err := repo.EvictIdleSessions(ctx, time.Hour)
			if err != nil {
				t.Fatalf("EvictIdleSessions failed: %v", err)
			}
			if n != 1 {
				t.Fatalf("evicted %d sessions, want 1", n)
			}
			if got, _ := repo.GetSession(ctx, "stale"); got != nil {
				t.Fatal("stale session still present")
			}
			if got, _ := repo.GetSession(ctx, "fresh"); got == nil {
				t.Fatal("fresh session evicted")
			}
		})
	}
}

func TestProgressUpsertAndList(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Now().Truncate(time.Millisecond)

			if got, err := repo.GetProgress(ctx, "u", "budget-101"); err != nil || got != nil {
				t.Fatalf("GetProgress on empty = %v, %v", got, err)
			}

			p := &domain.CourseProgress{UserID: "u", CourseID: "budget-101", StartedAt: start, UpdatedAt: start}
			if err := repo.UpsertProgress(ctx, p); err != nil {
				t.Fatalf("UpsertProgress failed: %v", err)
			}
			p.Advance(2)
			p.RecordQuiz(100, true, start.Add(time.Minute))
			if err := repo.UpsertProgress(ctx, p); err != nil {
				t.Fatalf("UpsertProgress failed: %v", err)
			}
			second := &domain.CourseProgress{UserID: "u", CourseID: "credit-201", StartedAt: start.Add(time.Second), UpdatedAt: start}
			if err := repo.UpsertProgress(ctx, second); err != nil {
				t.Fatalf("UpsertProgress failed: %v", err)
			}

			got, err := repo.GetProgress(ctx, "u", "budget-101")
			if err != nil {
				t.Fatalf("GetProgress failed: %v", err)
			}
			if got.CurrentPageIndex != 2 || !got.Completed || got.QuizAttempts != 1 {
				t.Fatalf("progress = %+v", got)
			}
			if got.QuizScore == nil || *got.QuizScore != 100 || got.CompletedAt == nil {
				t.Fatalf("quiz fields not persisted: %+v", got)
			}

			list, err := repo.ListProgress(ctx, "u")
			if err != nil {
				t.Fatalf("ListProgress failed: %v", err)
			}
			if len(list) != 2 || list[0].CourseID != "budget-101" || list[1].CourseID != "credit-201" {
				t.Fatalf("ListProgress order wrong: %+v", list)
			}
		})
	}
}

func TestProgressUpsertNeverLowersPage(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().Truncate(time.Millisecond)
			p := &domain.CourseProgress{UserID: "u", CourseID: "c", CurrentPageIndex: 3, StartedAt: now, UpdatedAt: now}
			if err := repo.UpsertProgress(ctx, p); err != nil {
				t.Fatalf("UpsertProgress failed: %v", err)
			}

			stale := *p
			stale.CurrentPageIndex = 1
			stale.QuizAttempts = 1
			if err := repo.UpsertProgress(ctx, &stale); err != nil {
				t.Fatalf("UpsertProgress failed: %v", err)
			}

			got, err := repo.GetProgress(ctx, "u", "c")
			if err != nil {
				t.Fatalf("GetProgress failed: %v", err)
			}
			if got.CurrentPageIndex != 3 || got.QuizAttempts != 1 {
				t.Fatalf("progress = page %d attempts %d, want 3 and 1", got.CurrentPageIndex, got.QuizAttempts)
			}
		})
	}
}

func TestUserContent(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, c := range []string{"pay stub", "bank statement"} {
				if err := repo.AddUserContent(ctx, "u", "s", c); err != nil {
					t.Fatalf("AddUserContent failed: %v", err)
				}
			}
			got, err := repo.GetUserContent(ctx, "u", "s")
			if err != nil {
				t.Fatalf("GetUserContent failed: %v", err)
			}
			if len(got) != 2 || got[0] != "pay stub" {
				t.Fatalf("content = %v", got)
			}
			other, _ := repo.GetUserContent(ctx, "u", "other")
			if len(other) != 0 {
				t.Fatalf("content leaked across sessions: %v", other)
			}
		})
	}
}
