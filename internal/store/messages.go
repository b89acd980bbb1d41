package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"guidepost-server/internal/normalize"
)

// MessageStore keeps chat history in SQLite so conversations survive
// server restarts.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(dbPath string) (*MessageStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode so the HTTP handlers and the MCP tools can read while a
	// stream writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &MessageStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *MessageStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		highlight_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		agent_session_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveMessage appends a message to a conversation.
func (s *MessageStore) SaveMessage(ctx context.Context, conversationID string, msg normalize.Message) error {
	var highlightJSON any
	if len(msg.Highlight) > 0 {
		data, err := json.Marshal(msg.Highlight)
		if err != nil {
			return fmt.Errorf("marshal highlight instructions: %w", err)
		}
		highlightJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, highlight_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			highlight_json = excluded.highlight_json`,
		msg.ID, conversationID, string(msg.Role), msg.Content,
		highlightJSON, msg.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// DeleteMessage removes a single message, used to roll back an optimistic
// placeholder when normalization fails.
func (s *MessageStore) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// History returns a conversation's messages oldest-first. A positive
// limit keeps only the most recent messages, still oldest-first, so a
// long conversation trims from the front.
func (s *MessageStore) History(ctx context.Context, conversationID string, limit int) ([]normalize.Message, error) {
	query := `
		SELECT id, role, content, highlight_json, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`
	args := []any{conversationID}
	if limit > 0 {
		query = `
		SELECT id, role, content, highlight_json, created_at FROM (
			SELECT id, role, content, highlight_json, created_at
			FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []normalize.Message
	for rows.Next() {
		var msg normalize.Message
		var role string
		var highlightJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &highlightJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = normalize.Role(role)
		msg.Timestamp = time.Unix(createdAt, 0).UTC()
		if highlightJSON.Valid && highlightJSON.String != "" {
			if err := json.Unmarshal([]byte(highlightJSON.String), &msg.Highlight); err != nil {
				return nil, fmt.Errorf("decode highlight instructions: %w", err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// TouchConversation records a conversation and its agent-side session id
// so the next request can echo it for continuity. An empty sessionID
// leaves any stored value alone.
func (s *MessageStore) TouchConversation(ctx context.Context, conversationID, sessionID string) error {
	now := time.Now().Unix()
	var session any
	if sessionID != "" {
		session = sessionID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, agent_session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_session_id = COALESCE(excluded.agent_session_id, conversations.agent_session_id),
			updated_at = excluded.updated_at`,
		conversationID, session, now, now,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// SessionID returns the agent session id remembered for a conversation,
// or "" when none has been seen.
func (s *MessageStore) SessionID(ctx context.Context, conversationID string) (string, error) {
	var session sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_session_id FROM conversations WHERE id = ?`, conversationID,
	).Scan(&session)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query session id: %w", err)
	}
	return session.String, nil
}

func (s *MessageStore) Close() error {
	return s.db.Close()
}
