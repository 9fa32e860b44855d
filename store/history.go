package store

import (
	"database/sql"
	"fmt"
	"time"

	agentrt "github.com/tonagent/runtime"
)

// HistoryDB implements HistoryService: one row per invocation (§4.2). Finish
// is idempotent via a status-guarded UPDATE — a second call against an
// already-finished row affects zero rows and is treated as success (§8
// property 2, the finish-twice idempotence law).
type HistoryDB struct {
	db *sql.DB
}

var _ HistoryService = (*HistoryDB)(nil)

func (h *HistoryDB) Start(agentID, ownerID int64, trig agentrt.TriggerKind) (int64, error) {
	res, err := h.db.Exec(
		`INSERT INTO execution_history (agent_id, owner_id, trigger_kind, status, started_at) VALUES (?, ?, ?, 'running', ?)`,
		agentID, ownerID, int(trig), time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("start execution: %w", err)
	}
	return res.LastInsertId()
}

func (h *HistoryDB) Finish(executionID int64, status agentrt.ExecutionStatus, durationMS int64, errMsg, summary string) error {
	res, err := h.db.Exec(
		`UPDATE execution_history SET status = ?, finished_at = ?, duration_ms = ?, error_message = ?, result_summary = ?
		 WHERE id = ? AND status = 'running'`,
		status.String(), time.Now(), durationMS, errMsg, summary, executionID,
	)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	// Idempotent: a second call against an already-finished row affects zero
	// rows. That is success, not an error — finish(id,...) twice must equal
	// finish(id,...) once (§8).
	_ = res
	return nil
}

func (h *HistoryDB) ByAgent(agentID int64, limit int) ([]agentrt.Execution, error) {
	rows, err := h.db.Query(
		`SELECT id, agent_id, owner_id, trigger_kind, status, started_at, finished_at, duration_ms, error_message, result_summary
		 FROM execution_history WHERE agent_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions by agent: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func (h *HistoryDB) ByOwner(ownerID int64, limit int) ([]agentrt.Execution, error) {
	rows, err := h.db.Query(
		`SELECT id, agent_id, owner_id, trigger_kind, status, started_at, finished_at, duration_ms, error_message, result_summary
		 FROM execution_history WHERE owner_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`, ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions by owner: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func (h *HistoryDB) Stats(ownerID int64) (Stats, error) {
	var s Stats
	row := h.db.QueryRow(
		`SELECT COUNT(*), SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END)
		 FROM execution_history WHERE owner_id = ?`, ownerID,
	)
	var success, errCount sql.NullInt64
	if err := row.Scan(&s.Total, &success, &errCount); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	s.Success, s.Error = success.Int64, errCount.Int64

	cutoff := time.Now().Add(-24 * time.Hour)
	if err := h.db.QueryRow(
		`SELECT COUNT(*) FROM execution_history WHERE owner_id = ? AND started_at >= ?`, ownerID, cutoff,
	).Scan(&s.Last24hRuns); err != nil {
		return Stats{}, fmt.Errorf("stats last 24h: %w", err)
	}
	return s, nil
}

// ReapStale flips any execution still "running" older than threshold to
// "error" (§9 Open Question (a)). Intended to be called periodically by a
// background reaper at config.StaleReapInterval.
func (h *HistoryDB) ReapStale(threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold)
	res, err := h.db.Exec(
		`UPDATE execution_history SET status = 'error', finished_at = ?, error_message = 'stale: reaped'
		 WHERE status = 'running' AND started_at < ?`,
		time.Now(), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reap stale executions: %w", err)
	}
	return res.RowsAffected()
}

func scanExecutions(rows *sql.Rows) ([]agentrt.Execution, error) {
	var out []agentrt.Execution
	for rows.Next() {
		var e agentrt.Execution
		var trig int
		var status string
		var finishedAt sql.NullTime
		var durationMS sql.NullInt64
		if err := rows.Scan(&e.ID, &e.AgentID, &e.OwnerID, &trig, &status, &e.StartedAt, &finishedAt, &durationMS, &e.ErrorMessage, &e.ResultSummary); err != nil {
			return nil, err
		}
		e.Trigger = agentrt.TriggerKind(trig)
		e.Status = parseExecutionStatus(status)
		if finishedAt.Valid {
			t := finishedAt.Time
			e.FinishedAt = &t
		}
		if durationMS.Valid {
			d := durationMS.Int64
			e.DurationMS = &d
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseExecutionStatus(s string) agentrt.ExecutionStatus {
	switch s {
	case "success":
		return agentrt.ExecutionSuccess
	case "error":
		return agentrt.ExecutionError
	default:
		return agentrt.ExecutionRunning
	}
}
