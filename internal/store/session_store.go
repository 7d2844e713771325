package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/kassa/internal/domain"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// SQLiteSessionStore persists sessions and their user/assistant history.
// Returned sessions are snapshots; changes go through Append and Reset.
type SQLiteSessionStore struct {
	db *DB
}

// NewSQLiteSessionStore creates a session store using the given database.
func NewSQLiteSessionStore(db *DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

// GetOrCreate finds an existing session by key or creates a new one whose
// history starts with seed.
func (s *SQLiteSessionStore) GetOrCreate(key domain.SessionKey, seed ...domain.Message) (*domain.Session, error) {
	keyStr := key.String()

	var id string
	err := s.db.sql.QueryRow(`SELECT id FROM sessions WHERE key_str = ?`, keyStr).Scan(&id)
	switch {
	case err == nil:
		return s.Get(id)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("looking up session %s: %w", keyStr, err)
	}

	now := time.Now()
	sess := &domain.Session{
		ID:        uuid.New().String(),
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.sql.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (id, key_str, channel_id, chat_id, sender_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, keyStr, key.ChannelID, key.ChatID, key.SenderID,
		now.Format(time.DateTime), now.Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session %s: %w", keyStr, err)
	}
	for _, msg := range seed {
		if err := insertMessage(tx, sess.ID, msg); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("creating session %s: %w", keyStr, err)
	}
	sess.Messages = append(sess.Messages, seed...)

	s.db.log.Debug().Str("session", sess.ID).Str("key", keyStr).Msg("session created")
	return sess, nil
}

// Get returns a session with its history.
func (s *SQLiteSessionStore) Get(id string) (*domain.Session, error) {
	var sess domain.Session
	var createdAt, updatedAt string

	err := s.db.sql.QueryRow(
		`SELECT id, channel_id, chat_id, sender_id, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(
		&sess.ID, &sess.Key.ChannelID, &sess.Key.ChatID, &sess.Key.SenderID,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	sess.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)

	msgs, err := s.History(id)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return &sess, nil
}

// Append adds messages to a session in one transaction.
func (s *SQLiteSessionStore) Append(sessionID string, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().Format(time.DateTime), sessionID,
	)
	if err != nil {
		return fmt.Errorf("touching session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	for _, msg := range msgs {
		if err := insertMessage(tx, sessionID, msg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Reset deletes a session's history and writes the seed messages.
func (s *SQLiteSessionStore) Reset(sessionID string, seed ...domain.Message) error {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().Format(time.DateTime), sessionID,
	)
	if err != nil {
		return fmt.Errorf("touching session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing session %s: %w", sessionID, err)
	}
	for _, msg := range seed {
		if err := insertMessage(tx, sessionID, msg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// History returns the message history for a session in insertion order.
func (s *SQLiteSessionStore) History(sessionID string) ([]domain.Message, error) {
	rows, err := s.db.sql.Query(
		`SELECT role, content, timestamp, tool_calls, tool_call_id, name
		 FROM messages WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history %s: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var msg domain.Message
		var ts string
		var toolCallsJSON sql.NullString

		if err := rows.Scan(&msg.Role, &msg.Content, &ts, &toolCallsJSON, &msg.ToolCallID, &msg.Name); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Timestamp, _ = time.Parse(time.DateTime, ts)

		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
				s.db.log.Warn().Err(err).Str("session", sessionID).Msg("dropping corrupt tool_calls")
			}
		}

		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// List returns all session IDs, most recently updated first.
func (s *SQLiteSessionStore) List() ([]string, error) {
	rows, err := s.db.sql.Query(`SELECT id FROM sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func insertMessage(tx *sql.Tx, sessionID string, msg domain.Message) error {
	var toolCallsJSON sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encoding tool calls: %w", err)
		}
		toolCallsJSON = sql.NullString{String: string(data), Valid: true}
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := tx.Exec(
		`INSERT INTO messages (session_id, role, content, timestamp, tool_calls, tool_call_id, name)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Content, ts.Format(time.DateTime), toolCallsJSON, msg.ToolCallID, msg.Name,
	)
	if err != nil {
		return fmt.Errorf("appending message to %s: %w", sessionID, err)
	}
	return nil
}
