package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionDB implements SessionStore (§4.10): the durable per-user transcript
// and the durable counterpart of the in-memory Pending Multi-Turn State.
type SessionDB struct {
	db *sql.DB
}

var _ SessionStore = (*SessionDB)(nil)

func (s *SessionDB) Append(userID int64, sessionID string, role SessionRole, content, metadata string) error {
	_, err := s.db.Exec(
		`INSERT INTO session_messages (user_id, session_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, sessionID, role.String(), content, metadata, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("append session message: %w", err)
	}
	return nil
}

func (s *SessionDB) Recent(userID int64, limit int) ([]SessionMessage, error) {
	rows, err := s.db.Query(
		`SELECT user_id, session_id, role, content, metadata, created_at
		 FROM session_messages WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent session messages: %w", err)
	}
	defer rows.Close()

	var out []SessionMessage
	for rows.Next() {
		var m SessionMessage
		var role string
		if err := rows.Scan(&m.UserID, &m.SessionID, &role, &m.Content, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = parseSessionRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SessionDB) Clear(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM session_messages WHERE user_id = ?`, userID)
	return err
}

func (s *SessionDB) SetWaitingForInput(userID int64, kind, payload string) error {
	_, err := s.db.Exec(
		`INSERT INTO waiting_for_input (user_id, kind, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET kind = excluded.kind, payload = excluded.payload, updated_at = excluded.updated_at`,
		userID, kind, payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set waiting for input: %w", err)
	}
	return nil
}

func (s *SessionDB) GetWaitingForInput(userID int64) (WaitingForInput, bool, error) {
	var w WaitingForInput
	w.UserID = userID
	err := s.db.QueryRow(`SELECT kind, payload, updated_at FROM waiting_for_input WHERE user_id = ?`, userID).
		Scan(&w.Kind, &w.Payload, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return WaitingForInput{}, false, nil
	}
	if err != nil {
		return WaitingForInput{}, false, fmt.Errorf("get waiting for input: %w", err)
	}
	return w, true, nil
}

func (s *SessionDB) ClearWaitingForInput(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM waiting_for_input WHERE user_id = ?`, userID)
	return err
}

func parseSessionRole(s string) SessionRole {
	switch s {
	case "assistant":
		return RoleAssistant
	case "system":
		return RoleSystem
	default:
		return RoleUser
	}
}
