package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/fincoach/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if dbPath == ":memory:" {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		data_json TEXT NOT NULL,
		last_activity_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity_at);

	CREATE TABLE IF NOT EXISTS course_progress (
		user_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		current_page_index INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		quiz_attempts INTEGER NOT NULL DEFAULT 0,
		quiz_score INTEGER,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, course_id)
	);

	CREATE TABLE IF NOT EXISTS user_content (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_user_content_owner ON user_content(user_id, session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession implements SessionStore.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	prev := sess.Version
	sess.Version = 1
	data, err := json.Marshal(sess)
	if err != nil {
		sess.Version = prev
		return fmt.Errorf("marshal session: %w", err)
	}

	query := `
	INSERT INTO sessions (session_id, user_id, version, data_json, last_activity_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO NOTHING`

	var rows int64
	err = withBusyRetry(ctx, "create_session", func() error {
		res, err := s.db.ExecContext(ctx, query,
			sess.SessionID, sess.UserID, sess.Version, string(data),
			sess.LastActivityAt.UnixMilli(), sess.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		sess.Version = prev
		return fmt.Errorf("insert session: %w", err)
	}
	if rows == 0 {
		sess.Version = prev
		return ErrSessionExists
	}
	return nil
}

// GetSession implements SessionStore.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT version, data_json FROM sessions WHERE session_id = ?`

	var version int64
	var data string
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	sess.Version = version
	return &sess, nil
}

// UpdateSession implements SessionStore.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *domain.Session) error {
	expected := sess.Version
	sess.Version = expected + 1
	data, err := json.Marshal(sess)
	sess.Version = expected
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	query := `
	UPDATE sessions SET data_json = ?, version = version + 1, last_activity_at = ?
	WHERE session_id = ? AND version = ?`

	var rows int64
	err = withBusyRetry(ctx, "update_session", func() error {
		res, err := s.db.ExecContext(ctx, query, string(data), sess.LastActivityAt.UnixMilli(), sess.SessionID, expected)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if rows == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sess.SessionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("check session existence: %w", err)
		}
		slog.Warn("UpdateSession lost version race", "session_id", sess.SessionID, "expected_version", expected)
		return ErrVersionConflict
	}

	sess.Version = expected + 1
	return nil
}

// DeleteSession implements SessionStore.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return withBusyRetry(ctx, "delete_session", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// EvictIdleSessions implements SessionStore.
func (s *SQLiteStore) EvictIdleSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	var rows int64
	err := withBusyRetry(ctx, "evict_sessions", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity_at < ?`, threshold)
		if err != nil {
			return err
		}
		rows, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("evict idle sessions: %w", err)
	}
	return rows, nil
}

const progressColumns = `user_id, course_id, current_page_index, completed, quiz_attempts,
	quiz_score, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (*domain.CourseProgress, error) {
	var p domain.CourseProgress
	var quizScore, completedAt sql.NullInt64
	var startedAt, updatedAt int64

	if err := row.Scan(
		&p.UserID, &p.CourseID, &p.CurrentPageIndex, &p.Completed, &p.QuizAttempts,
		&quizScore, &startedAt, &completedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	p.StartedAt = time.UnixMilli(startedAt)
	p.UpdatedAt = time.UnixMilli(updatedAt)
	if quizScore.Valid {
		score := int(quizScore.Int64)
		p.QuizScore = &score
	}
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64)
		p.CompletedAt = &t
	}
	return &p, nil
}

// GetProgress implements ProgressStore.
func (s *SQLiteStore) GetProgress(ctx context.Context, userID, courseID string) (*domain.CourseProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM course_progress WHERE user_id = ? AND course_id = ?`
	p, err := scanProgress(s.db.QueryRowContext(ctx, query, userID, courseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan progress row: %w", err)
	}
	return p, nil
}

// UpsertProgress implements ProgressStore.
func (s *SQLiteStore) UpsertProgress(ctx context.Context, p *domain.CourseProgress) error {
	query := `
	INSERT INTO course_progress (` + progressColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, course_id) DO UPDATE SET
		current_page_index = MAX(course_progress.current_page_index, excluded.current_page_index),
		completed = excluded.completed,
		quiz_attempts = excluded.quiz_attempts,
		quiz_score = excluded.quiz_score,
		completed_at = excluded.completed_at,
		updated_at = excluded.updated_at`

	var quizScore, completedAt interface{}
	if p.QuizScore != nil {
		quizScore = *p.QuizScore
	}
	if p.CompletedAt != nil {
		completedAt = p.CompletedAt.UnixMilli()
	}

	return withBusyRetry(ctx, "upsert_progress", func() error {
		_, err := s.db.ExecContext(ctx, query,
			p.UserID, p.CourseID, p.CurrentPageIndex, p.Completed, p.QuizAttempts,
			quizScore, p.StartedAt.UnixMilli(), completedAt, p.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert progress: %w", err)
		}
		return nil
	})
}

// ListProgress implements ProgressStore.
func (s *SQLiteStore) ListProgress(ctx context.Context, userID string) ([]*domain.CourseProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM course_progress WHERE user_id = ? ORDER BY started_at, course_id`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close progress rows", "error", closeErr)
		}
	}()

	var out []*domain.CourseProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return out, nil
}

// GetUserContent implements ContentStore.
func (s *SQLiteStore) GetUserContent(ctx context.Context, userID, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM user_content WHERE user_id = ? AND session_id = ? ORDER BY id`,
		userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query user content: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close user content rows", "error", closeErr)
		}
	}()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan user content: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddUserContent implements ContentStore.
func (s *SQLiteStore) AddUserContent(ctx context.Context, userID, sessionID, content string) error {
	return withBusyRetry(ctx, "add_user_content", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO user_content (user_id, session_id, content, created_at) VALUES (?, ?, ?, ?)`,
			userID, sessionID, content, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("insert user content: %w", err)
		}
		return nil
	})
}
