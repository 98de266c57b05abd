package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/careline/concierge/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. Suitable for single-node
// durable deployments.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes writes to avoid SQLITE_BUSY under load
}

// NewSQLite creates a new SQLite-backed session store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		state_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);
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

// Create atomically claims the session id with Version set to 1.
func (s *SQLiteStore) Create(ctx context.Context, session *domain.ChatSession) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	session.Version = 1

	blob, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	query := `
	INSERT INTO chat_sessions (session_id, state_json, version, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query,
		session.ID, string(blob), session.Version, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Get returns nil if the session is not found (not an error).
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.ChatSession, error) {
	query := `SELECT state_json FROM chat_sessions WHERE session_id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var blob string
	err := row.Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	var session domain.ChatSession
	if err := json.Unmarshal([]byte(blob), &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// Update verifies the version matches, increments it, and persists.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) Update(ctx context.Context, session *domain.ChatSession) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.updateOnce(ctx, session)
		if err == nil {
			return nil
		}
		if isSQLiteConflict(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("session update hit SQLITE_BUSY, retrying",
				"session_id", session.ID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) updateOnce(ctx context.Context, session *domain.ChatSession) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	expected := session.Version
	session.Version++
	session.UpdatedAt = time.Now()

	blob, err := json.Marshal(session)
	if err != nil {
		session.Version = expected
		return fmt.Errorf("marshal session: %w", err)
	}

	query := `
	UPDATE chat_sessions SET state_json = ?, version = ?, updated_at = ?
	WHERE session_id = ? AND version = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(blob), session.Version, session.UpdatedAt.Unix(), session.ID, expected,
	)
	if err != nil {
		session.Version = expected
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		session.Version = expected
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		session.Version = expected
		var exists int
		row := s.db.QueryRowContext(ctx, `SELECT 1 FROM chat_sessions WHERE session_id = ?`, session.ID)
		if scanErr := row.Scan(&exists); scanErr == sql.ErrNoRows {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// Delete removes the session.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteIdle removes sessions not updated within the TTL.
func (s *SQLiteStore) DeleteIdle(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// isSQLiteConflict checks for SQLITE_BUSY / "database is locked" errors,
// which warrant a retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") ||
		strings.Contains(err.Error(), "database is locked")
}
