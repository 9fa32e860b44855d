package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	agentrt "github.com/tonagent/runtime"
)

// DB wraps the single SQLite connection shared by every service. Each
// service (Artifacts, KV, Logs, History, Sessions, Settings, Marketplace) is
// a thin typed wrapper around the same *sql.DB, matching the spec's "three
// services" split of the State Store while keeping one connection pool and
// one schema, same as the teacher's single SQLiteStore.
type DB struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at path and enables WAL mode for
// concurrent reads, same as the grounding codebase's NewSQLiteStore.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &DB{db: sqlDB}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// Init creates the schema described in SPEC_FULL.md §6's persisted-state
// layout if it does not already exist.
func (d *DB) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id      INTEGER NOT NULL,
		name          TEXT NOT NULL DEFAULT '',
		description   TEXT NOT NULL DEFAULT '',
		artifact      TEXT NOT NULL DEFAULT '',
		trigger_kind  INTEGER NOT NULL DEFAULT 0,
		trigger_period_ns INTEGER NOT NULL DEFAULT 0,
		trigger_webhook_token TEXT NOT NULL DEFAULT '',
		active        INTEGER NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner_id);

	CREATE TABLE IF NOT EXISTS agent_state (
		agent_id   INTEGER NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (agent_id, key)
	);

	CREATE TABLE IF NOT EXISTS agent_logs (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id   INTEGER NOT NULL,
		owner_id   INTEGER NOT NULL,
		level      TEXT NOT NULL DEFAULT 'info',
		message    TEXT NOT NULL DEFAULT '',
		detail     TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_agent_logs_agent_time ON agent_logs(agent_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_agent_logs_owner_time ON agent_logs(owner_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS execution_history (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id       INTEGER NOT NULL,
		owner_id       INTEGER NOT NULL,
		trigger_kind   INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL DEFAULT 'running',
		started_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at    DATETIME,
		duration_ms    INTEGER,
		error_message  TEXT NOT NULL DEFAULT '',
		result_summary TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_exec_agent ON execution_history(agent_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_exec_owner ON execution_history(owner_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_exec_status ON execution_history(status);

	CREATE TABLE IF NOT EXISTS session_messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    INTEGER NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		role       TEXT NOT NULL DEFAULT 'user',
		content    TEXT NOT NULL DEFAULT '',
		metadata   TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_session_user_time ON session_messages(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS waiting_for_input (
		user_id    INTEGER PRIMARY KEY,
		kind       TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS user_settings (
		user_id INTEGER NOT NULL,
		name    TEXT NOT NULL,
		value   TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, name)
	);

	CREATE TABLE IF NOT EXISTS user_plugins (
		user_id      INTEGER NOT NULL,
		plugin_id    TEXT NOT NULL,
		installed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		config       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, plugin_id)
	);

	CREATE TABLE IF NOT EXISTS marketplace_listings (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		seller_owner_id  INTEGER NOT NULL,
		source_agent_id  INTEGER NOT NULL,
		title            TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		price_amount     TEXT NOT NULL DEFAULT '0',
		price_currency   TEXT NOT NULL DEFAULT 'USD',
		published_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS marketplace_purchases (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		listing_id     INTEGER NOT NULL,
		buyer_owner_id INTEGER NOT NULL,
		new_agent_id   INTEGER NOT NULL,
		purchased_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		price_paid     TEXT NOT NULL DEFAULT '0',
		UNIQUE(listing_id, buyer_owner_id)
	);

	CREATE TABLE IF NOT EXISTS auth_requests (
		auth_token   TEXT PRIMARY KEY,
		bot_link     TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'pending',
		user_id      INTEGER NOT NULL DEFAULT 0,
		session_token TEXT NOT NULL DEFAULT '',
		created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_auth_session_token ON auth_requests(session_token);
	`
	_, err := d.db.Exec(schema)
	return err
}

// Artifacts returns the Artifact Store view of this database.
func (d *DB) Artifacts() *ArtifactDB { return &ArtifactDB{db: d.db} }

// KV returns the KV service view of this database.
func (d *DB) KV() *KVDB { return &KVDB{db: d.db} }

// Logs returns the Log service view of this database.
func (d *DB) Logs() *LogDB { return &LogDB{db: d.db} }

// History returns the History service view of this database.
func (d *DB) History() *HistoryDB { return &HistoryDB{db: d.db} }

// Sessions returns the Session Memory view of this database.
func (d *DB) Sessions() *SessionDB { return &SessionDB{db: d.db} }

// Settings returns the per-user settings/plugins view of this database.
func (d *DB) Settings() *SettingsDB { return &SettingsDB{db: d.db} }

// Marketplace returns the marketplace listings/purchases view of this database.
func (d *DB) Marketplace() *MarketplaceDB { return &MarketplaceDB{db: d.db} }

// Auth returns the dashboard deeplink-handshake view of this database.
func (d *DB) Auth() *AuthDB { return &AuthDB{db: d.db} }

// NewWebhookToken mints an opaque, unguessable webhook path token.
func NewWebhookToken() string {
	return uuid.NewString()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustAffectOne(res sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	if n == 0 {
		return agentrt.WrapOwnership(agentrt.ErrNotFound, "no such "+what+" for owner")
	}
	return nil
}
