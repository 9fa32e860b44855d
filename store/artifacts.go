package store

import (
	"database/sql"
	"fmt"
	"time"

	agentrt "github.com/tonagent/runtime"
)

// ArtifactDB implements ArtifactStore against the shared SQLite connection.
type ArtifactDB struct {
	db *sql.DB
}

var _ ArtifactStore = (*ArtifactDB)(nil)

func (a *ArtifactDB) Create(agent agentrt.Agent) (agentrt.Agent, error) {
	if err := agent.Trigger.Validate(); err != nil {
		return agentrt.Agent{}, err
	}
	now := time.Now()
	res, err := a.db.Exec(
		`INSERT INTO agents (owner_id, name, description, artifact, trigger_kind, trigger_period_ns, trigger_webhook_token, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.OwnerID, agent.Name, agent.Description, agent.Artifact,
		int(agent.Trigger.Kind), agent.Trigger.Period.Nanoseconds(), agent.Trigger.WebhookToken,
		boolToInt(agent.Active), now, now,
	)
	if err != nil {
		return agentrt.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return agentrt.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	agent.ID = id
	agent.CreatedAt, agent.UpdatedAt = now, now
	return agent, nil
}

func (a *ArtifactDB) Get(ownerID, agentID int64) (agentrt.Agent, error) {
	agent, err := a.GetAny(agentID)
	if err != nil {
		return agentrt.Agent{}, err
	}
	if agent.OwnerID != ownerID {
		return agentrt.Agent{}, agentrt.WrapOwnership(agentrt.ErrNotFound, "agent not owned by caller")
	}
	return agent, nil
}

func (a *ArtifactDB) GetAny(agentID int64) (agentrt.Agent, error) {
	row := a.db.QueryRow(
		`SELECT id, owner_id, name, description, artifact, trigger_kind, trigger_period_ns, trigger_webhook_token, active, created_at, updated_at
		 FROM agents WHERE id = ?`, agentID,
	)
	agent, err := scanAgentRow(row)
	if err == sql.ErrNoRows {
		return agentrt.Agent{}, agentrt.WrapOwnership(agentrt.ErrNotFound, "no such agent")
	}
	if err != nil {
		return agentrt.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

func (a *ArtifactDB) GetByWebhookToken(token string) (agentrt.Agent, error) {
	row := a.db.QueryRow(
		`SELECT id, owner_id, name, description, artifact, trigger_kind, trigger_period_ns, trigger_webhook_token, active, created_at, updated_at
		 FROM agents WHERE trigger_kind = ? AND trigger_webhook_token = ?`, int(agentrt.TriggerWebhook), token,
	)
	agent, err := scanAgentRow(row)
	if err == sql.ErrNoRows {
		return agentrt.Agent{}, agentrt.WrapOwnership(agentrt.ErrNotFound, "no such webhook")
	}
	if err != nil {
		return agentrt.Agent{}, fmt.Errorf("get agent by webhook token: %w", err)
	}
	return agent, nil
}

func (a *ArtifactDB) ListByOwner(ownerID int64) ([]agentrt.Agent, error) {
	rows, err := a.db.Query(
		`SELECT id, owner_id, name, description, artifact, trigger_kind, trigger_period_ns, trigger_webhook_token, active, created_at, updated_at
		 FROM agents WHERE owner_id = ? ORDER BY id DESC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	return scanAgentRows(rows)
}

func (a *ArtifactDB) ListActiveScheduled() ([]agentrt.Agent, error) {
	rows, err := a.db.Query(
		`SELECT id, owner_id, name, description, artifact, trigger_kind, trigger_period_ns, trigger_webhook_token, active, created_at, updated_at
		 FROM agents WHERE active = 1 AND trigger_kind = ? ORDER BY id ASC`, int(agentrt.TriggerScheduled),
	)
	if err != nil {
		return nil, fmt.Errorf("list active scheduled agents: %w", err)
	}
	defer rows.Close()
	return scanAgentRows(rows)
}

func (a *ArtifactDB) UpdateMetadata(ownerID, agentID int64, name, description string, trig agentrt.Trigger, active bool) error {
	if err := trig.Validate(); err != nil {
		return err
	}
	res, err := a.db.Exec(
		`UPDATE agents SET name = ?, description = ?, trigger_kind = ?, trigger_period_ns = ?, trigger_webhook_token = ?, active = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		name, description, int(trig.Kind), trig.Period.Nanoseconds(), trig.WebhookToken, boolToInt(active), time.Now(), agentID, ownerID,
	)
	return mustAffectOne(res, err, "agent")
}

func (a *ArtifactDB) UpdateCode(ownerID, agentID int64, artifact string, gateOK bool) error {
	if !gateOK {
		return agentrt.WrapSafetyGate(nil, "artifact rejected by safety gate, not written")
	}
	res, err := a.db.Exec(
		`UPDATE agents SET artifact = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		artifact, time.Now(), agentID, ownerID,
	)
	return mustAffectOne(res, err, "agent")
}

func (a *ArtifactDB) Delete(ownerID, agentID int64) error {
	res, err := a.db.Exec(`DELETE FROM agents WHERE id = ? AND owner_id = ?`, agentID, ownerID)
	if err := mustAffectOne(res, err, "agent"); err != nil {
		return err
	}
	_, _ = a.db.Exec(`DELETE FROM agent_state WHERE agent_id = ?`, agentID)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentRow(row rowScanner) (agentrt.Agent, error) {
	var agent agentrt.Agent
	var kind int
	var periodNS int64
	var active int
	err := row.Scan(&agent.ID, &agent.OwnerID, &agent.Name, &agent.Description, &agent.Artifact,
		&kind, &periodNS, &agent.Trigger.WebhookToken, &active, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return agentrt.Agent{}, err
	}
	agent.Trigger.Kind = agentrt.TriggerKind(kind)
	agent.Trigger.Period = time.Duration(periodNS)
	agent.Active = active != 0
	return agent, nil
}

func scanAgentRows(rows *sql.Rows) ([]agentrt.Agent, error) {
	var out []agentrt.Agent
	for rows.Next() {
		agent, err := scanAgentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}
