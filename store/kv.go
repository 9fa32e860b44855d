package store

import (
	"database/sql"
	"fmt"
	"time"
)

// KVDB implements KVService: the per-agent durable key/value bag (§4.2).
// Reads are write-through from the caller's perspective — there is no
// additional in-process cache layer here, so a read after a completed Set
// always reflects it; an in-memory cache in front of KVDB (if a deployment
// adds one) must invalidate on Set per the spec's write-through requirement.
type KVDB struct {
	db *sql.DB
}

var _ KVService = (*KVDB)(nil)

func (k *KVDB) Get(agentID int64, key string) (string, bool, error) {
	var value string
	err := k.db.QueryRow(`SELECT value FROM agent_state WHERE agent_id = ? AND key = ?`, agentID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state: %w", err)
	}
	return value, true, nil
}

func (k *KVDB) Set(agentID, ownerID int64, key, value string) error {
	_, err := k.db.Exec(
		`INSERT INTO agent_state (agent_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(agent_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		agentID, key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

func (k *KVDB) GetAll(agentID int64) (map[string]string, error) {
	rows, err := k.db.Query(`SELECT key, value FROM agent_state WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("get all state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (k *KVDB) DeleteAgent(agentID int64) error {
	_, err := k.db.Exec(`DELETE FROM agent_state WHERE agent_id = ?`, agentID)
	return err
}
