/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package chatstore provides SQLite-backed persistence for chats and
// their message streams.
package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id          TEXT PRIMARY KEY,
	repo_url    TEXT NOT NULL DEFAULT '',
	username    TEXT NOT NULL DEFAULT '',
	prompt      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	pr_url      TEXT NOT NULL DEFAULT '',
	branch_name TEXT NOT NULL DEFAULT '',
	snapshot_id TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id     TEXT NOT NULL REFERENCES chats(id),
	content     TEXT NOT NULL,
	role        TEXT NOT NULL,
	is_tool_use BOOLEAN NOT NULL DEFAULT FALSE,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);
`

// Chat statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusNoChange  = "no_change"
	StatusError     = "error"
)

// Chat is one coding run and its terminal state.
type Chat struct {
	ID         string    `json:"id"`
	RepoURL    string    `json:"repo_url"`
	Username   string    `json:"username"`
	Prompt     string    `json:"prompt"`
	Status     string    `json:"status"`
	PRURL      string    `json:"pr_url,omitempty"`
	BranchName string    `json:"branch_name,omitempty"`
	SnapshotID string    `json:"snapshot_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Message is one chat entry. Messages are append-only and returned in
// insertion order.
type Message struct {
	ID        int64          `json:"id"`
	ChatID    string         `json:"chat_id"`
	Content   string         `json:"content"`
	Role      string         `json:"role"`
	IsToolUse bool           `json:"is_tool_use"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store provides SQLite-backed chat persistence.
type Store struct {
	db *sql.DB
}

// New opens or creates the database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertChat inserts or updates a chat. The last write wins.
func (s *Store) UpsertChat(ctx context.Context, chat *Chat) error {
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, repo_url, username, prompt, status, pr_url, branch_name, snapshot_id, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repo_url = excluded.repo_url,
			username = excluded.username,
			prompt = excluded.prompt,
			status = excluded.status,
			pr_url = excluded.pr_url,
			branch_name = excluded.branch_name,
			snapshot_id = excluded.snapshot_id,
			error = excluded.error,
			updated_at = excluded.updated_at
	`,
		chat.ID, chat.RepoURL, chat.Username, chat.Prompt, chat.Status,
		chat.PRURL, chat.BranchName, chat.SnapshotID, chat.Error,
		chat.CreatedAt, chat.UpdatedAt,
	)
	return err
}

// GetChat retrieves a chat by ID.
func (s *Store) GetChat(ctx context.Context, id string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_url, username, prompt, status, pr_url, branch_name, snapshot_id, error, created_at, updated_at
		FROM chats WHERE id = ?
	`, id)

	var c Chat
	err := row.Scan(&c.ID, &c.RepoURL, &c.Username, &c.Prompt, &c.Status,
		&c.PRURL, &c.BranchName, &c.SnapshotID, &c.Error, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetStatus updates just the status column.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	return err
}

// RunOutcome is the terminal state recorded on a chat when its run
// ends.
type RunOutcome struct {
	Status string

	// RepoURL is the repository work actually happened in, which is the
	// fork when one was created. Empty keeps the URL recorded at run
	// start.
	RepoURL string

	PRURL      string
	BranchName string
	Error      string
}

// FinishRun records the terminal state of a chat in one write.
func (s *Store) FinishRun(ctx context.Context, id string, out RunOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chats SET
			status = ?,
			repo_url = COALESCE(NULLIF(?, ''), repo_url),
			pr_url = ?,
			branch_name = ?,
			error = ?,
			updated_at = ?
		WHERE id = ?`,
		out.Status, out.RepoURL, out.PRURL, out.BranchName, out.Error,
		time.Now().UTC(), id)
	return err
}

// SetSnapshotID records the sandbox snapshot of a run. It is written
// separately because the snapshot is taken during teardown, after the
// terminal status.
func (s *Store) SetSnapshotID(ctx context.Context, id, snapshotID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET snapshot_id = ?, updated_at = ? WHERE id = ?`,
		snapshotID, time.Now().UTC(), id)
	return err
}

// AppendMessage stores one message and returns its assigned ID.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) (int64, error) {
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encoding metadata: %w", err)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (chat_id, content, role, is_tool_use, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ChatID, msg.Content, msg.Role, msg.IsToolUse, string(metadata), msg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Messages returns every message of a chat in insertion order.
func (s *Store) Messages(ctx context.Context, chatID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, content, role, is_tool_use, metadata, created_at
		FROM messages WHERE chat_id = ? ORDER BY id
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var metadata string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Content, &m.Role,
			&m.IsToolUse, &metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of message %d: %w", m.ID, err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
