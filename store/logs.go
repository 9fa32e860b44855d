package store

import (
	"database/sql"
	"fmt"
	"time"

	agentrt "github.com/tonagent/runtime"
)

// LogDB implements LogService: the per-agent append-only log (§4.2).
type LogDB struct {
	db *sql.DB
}

var _ LogService = (*LogDB)(nil)

func (l *LogDB) Append(agentID, ownerID int64, level agentrt.LogLevel, message, detail string) error {
	if len(message) > agentrt.MaxLogMessageLen {
		message = message[:agentrt.MaxLogMessageLen]
	}
	_, err := l.db.Exec(
		`INSERT INTO agent_logs (agent_id, owner_id, level, message, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		agentID, ownerID, level.String(), message, detail, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (l *LogDB) ReadByAgent(agentID int64, limit, offset int) ([]agentrt.LogEntry, error) {
	rows, err := l.db.Query(
		`SELECT id, agent_id, owner_id, level, message, detail, created_at
		 FROM agent_logs WHERE agent_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		agentID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("read logs by agent: %w", err)
	}
	defer rows.Close()
	return scanLogEntries(rows)
}

func (l *LogDB) ReadByOwner(ownerID int64, limit int) ([]agentrt.LogEntry, error) {
	rows, err := l.db.Query(
		`SELECT id, agent_id, owner_id, level, message, detail, created_at
		 FROM agent_logs WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read logs by owner: %w", err)
	}
	defer rows.Close()
	return scanLogEntries(rows)
}

func (l *LogDB) Prune(olderThan time.Time) (int64, error) {
	res, err := l.db.Exec(`DELETE FROM agent_logs WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune logs: %w", err)
	}
	return res.RowsAffected()
}

func scanLogEntries(rows *sql.Rows) ([]agentrt.LogEntry, error) {
	var out []agentrt.LogEntry
	for rows.Next() {
		var e agentrt.LogEntry
		var level string
		if err := rows.Scan(&e.ID, &e.AgentID, &e.OwnerID, &level, &e.Message, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Level = parseLogLevel(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseLogLevel(s string) agentrt.LogLevel {
	switch s {
	case "warn":
		return agentrt.LogWarn
	case "error":
		return agentrt.LogError
	case "success":
		return agentrt.LogSuccess
	default:
		return agentrt.LogInfo
	}
}
