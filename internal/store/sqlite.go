// ABOUTME: Local SQLite persistence using modernc.org/sqlite
// ABOUTME: Holds the logged-in credential and a read cache of session summaries

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/isugar150/query-bot/internal/api"
	"github.com/isugar150/query-bot/internal/auth"
)

// SQLiteStore persists client-side state between runs: the credential triple
// (so a restart resumes the session) and the last seen session summaries per
// target (so listings render before the server answers).
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a store at the given path. The schema is created if
// it doesn't exist; parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// WAL keeps concurrent reads cheap while a write is in progress
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// createSchema creates the tables when they don't exist yet.
func (s *SQLiteStore) createSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS credential (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	username      TEXT NOT NULL,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_summaries (
	id         INTEGER PRIMARY KEY,
	target_id  INTEGER NOT NULL,
	title      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	card_id    INTEGER,
	card_url   TEXT NOT NULL DEFAULT '',
	cached_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_summaries_target
	ON session_summaries(target_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// SaveCredential stores the credential, replacing any previous one.
func (s *SQLiteStore) SaveCredential(ctx context.Context, cred *auth.Credential) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credential (id, username, access_token, refresh_token, updated_at)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	username = excluded.username,
	access_token = excluded.access_token,
	refresh_token = excluded.refresh_token,
	updated_at = excluded.updated_at`,
		cred.Username, cred.AccessToken, cred.RefreshToken,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

// LoadCredential returns the stored credential, or nil when none is stored.
func (s *SQLiteStore) LoadCredential(ctx context.Context) (*auth.Credential, error) {
	var cred auth.Credential
	err := s.db.QueryRowContext(ctx,
		`SELECT username, access_token, refresh_token FROM credential WHERE id = 1`).
		Scan(&cred.Username, &cred.AccessToken, &cred.RefreshToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	return &cred, nil
}

// DeleteCredential removes the stored credential. Deleting when nothing is
// stored is not an error.
func (s *SQLiteStore) DeleteCredential(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credential WHERE id = 1`); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

// SaveSummaries replaces the cached summaries for a target with the given
// authoritative listing.
func (s *SQLiteStore) SaveSummaries(ctx context.Context, targetID int64, summaries []api.SessionSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_summaries WHERE target_id = ?`, targetID); err != nil {
		return fmt.Errorf("clearing cached summaries: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, summary := range summaries {
		_, err := tx.ExecContext(ctx, `
INSERT INTO session_summaries (id, target_id, title, created_at, card_id, card_url, cached_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			summary.ID, targetID, summary.Title,
			summary.CreatedAt.UTC().Format(time.RFC3339),
			summary.CardID, summary.CardURL, now)
		if err != nil {
			return fmt.Errorf("caching summary %d: %w", summary.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing summaries: %w", err)
	}
	return nil
}

// ListSummaries returns the cached summaries for a target, newest first.
func (s *SQLiteStore) ListSummaries(ctx context.Context, targetID int64) ([]api.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, target_id, title, created_at, card_id, card_url
FROM session_summaries
WHERE target_id = ?
ORDER BY created_at DESC`, targetID)
	if err != nil {
		return nil, fmt.Errorf("listing cached summaries: %w", err)
	}
	defer rows.Close()

	var summaries []api.SessionSummary
	for rows.Next() {
		var summary api.SessionSummary
		var createdAt string
		if err := rows.Scan(&summary.ID, &summary.TargetID, &summary.Title,
			&createdAt, &summary.CardID, &summary.CardURL); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339, createdAt); err == nil {
			summary.CreatedAt = parsed
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
