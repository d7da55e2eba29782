// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides thread persistence for envoy-core.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/envoyhq/envoy-core/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrThreadNotFound is returned when a thread ID has no stored row.
	ErrThreadNotFound = errors.New("thread not found in storage")
)

// =============================================================================
// STORE
// =============================================================================

// Store persists threads and their messages in a SQLite database.
//
// Saves replace the thread's message rows wholesale; messages are immutable
// so a replace is equivalent to an append plus the one streamed-reply commit.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema if it does not exist.
func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			pinned INTEGER NOT NULL DEFAULT 0,
			starred INTEGER NOT NULL DEFAULT 0,
			archived INTEGER NOT NULL DEFAULT 0,
			model_id TEXT NOT NULL DEFAULT '',
			provider_id TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL DEFAULT '',
			container TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			token_count INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			ttft_ms INTEGER NOT NULL DEFAULT 0,
			tokens_per_sec REAL NOT NULL DEFAULT 0,
			FOREIGN KEY(thread_id) REFERENCES threads(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_threads_updated_at ON threads(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread_seq ON messages(thread_id, seq);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// SaveThread upserts a thread and replaces its message rows.
func (s *Store) SaveThread(t *model.Thread) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO threads(id, title, created_at, updated_at, pinned, starred, archived, model_id, provider_id, agent_name, container)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at,
			pinned = excluded.pinned,
			starred = excluded.starred,
			archived = excluded.archived,
			model_id = excluded.model_id,
			provider_id = excluded.provider_id,
			agent_name = excluded.agent_name,
			container = excluded.container`,
		t.ID, t.Title, t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(),
		boolToInt(t.Pinned), boolToInt(t.Starred), boolToInt(t.Archived),
		t.ModelID, t.ProviderID, t.AgentName, t.Container,
	)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE thread_id = ?`, t.ID); err != nil {
		return err
	}

	insert, err := tx.Prepare(`
		INSERT INTO messages(id, thread_id, seq, role, content, timestamp, model, provider, token_count, duration_ms, ttft_ms, tokens_per_sec)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insert.Close()

	for i, msg := range t.Messages {
		_, err := insert.Exec(
			msg.ID, t.ID, i, string(msg.Role), msg.Content, msg.Timestamp.UnixNano(),
			msg.Model, msg.Provider, msg.TokenCount, msg.DurationMs, msg.TTFTMs, msg.TokensPerSec,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteThread removes a thread and, via cascade, its messages.
func (s *Store) DeleteThread(id string) error {
	res, err := s.db.Exec(`DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// LoadThread retrieves one thread with its messages in order.
func (s *Store) LoadThread(id string) (*model.Thread, error) {
	row := s.db.QueryRow(`
		SELECT id, title, created_at, updated_at, pinned, starred, archived, model_id, provider_id, agent_name, container
		FROM threads WHERE id = ?`, id)

	t, err := scanThread(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}

	if err := s.loadMessages(t); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadAll retrieves every stored thread, most recently updated first, for
// hydrating the in-memory store at startup.
func (s *Store) LoadAll() ([]*model.Thread, error) {
	rows, err := s.db.Query(`
		SELECT id, title, created_at, updated_at, pinned, starred, archived, model_id, provider_id, agent_name, container
		FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []*model.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range threads {
		if err := s.loadMessages(t); err != nil {
			return nil, err
		}
	}
	return threads, nil
}

// loadMessages fills in a thread's message slice in sequence order.
func (s *Store) loadMessages(t *model.Thread) error {
	rows, err := s.db.Query(`
		SELECT id, role, content, timestamp, model, provider, token_count, duration_ms, ttft_ms, tokens_per_sec
		FROM messages WHERE thread_id = ? ORDER BY seq`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	t.Messages = make([]*model.Message, 0)
	for rows.Next() {
		var msg model.Message
		var role string
		var ts int64
		err := rows.Scan(&msg.ID, &role, &msg.Content, &ts,
			&msg.Model, &msg.Provider, &msg.TokenCount, &msg.DurationMs, &msg.TTFTMs, &msg.TokensPerSec)
		if err != nil {
			return err
		}
		msg.Role = model.Role(role)
		msg.Timestamp = time.Unix(0, ts)
		t.Messages = append(t.Messages, &msg)
	}
	return rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// scanner abstracts sql.Row and sql.Rows for scanThread.
type scanner interface {
	Scan(dest ...any) error
}

// scanThread reads one thread row.
func scanThread(row scanner) (*model.Thread, error) {
	var t model.Thread
	var created, updated int64
	var pinned, starred, archived int
	err := row.Scan(&t.ID, &t.Title, &created, &updated, &pinned, &starred, &archived,
		&t.ModelID, &t.ProviderID, &t.AgentName, &t.Container)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(0, created)
	t.UpdatedAt = time.Unix(0, updated)
	t.Pinned = pinned != 0
	t.Starred = starred != 0
	t.Archived = archived != 0
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
