// Package store implements the Artifact Store, the three State Store
// services (KV/Log/History), Session Memory, and the marketplace/settings
// tables named in SPEC_FULL.md §3/§6/§11 — all SQLite-backed, following the
// teacher's raw database/sql idiom (see serve/store_sqlite.go in the
// grounding codebase): an inline schema string, hand-written Scan-based CRUD,
// no ORM.
package store

import (
	"time"

	"github.com/tonagent/runtime"
)

// ArtifactStore persists Agents. Every method that crosses a user boundary
// takes an ownerID and returns agentrt.ErrNotFound (wrapped as ownership)
// indiscriminately for "doesn't exist" and "exists but isn't yours" — see
// agentrt.IsNotFoundOrForbidden.
type ArtifactStore interface {
	Create(a agentrt.Agent) (agentrt.Agent, error)
	Get(ownerID, agentID int64) (agentrt.Agent, error)
	// GetAny fetches an agent regardless of owner, for internal callers
	// (Scheduler restore, Trigger Router) that already hold the right to act
	// on it and do not need the ownership mask.
	GetAny(agentID int64) (agentrt.Agent, error)
	// GetByWebhookToken resolves an inbound webhook delivery to its agent
	// (§4.8 FireWebhook's ingress). Returns agentrt.ErrNotFound if no
	// TriggerWebhook agent carries token.
	GetByWebhookToken(token string) (agentrt.Agent, error)
	ListByOwner(ownerID int64) ([]agentrt.Agent, error)
	// ListActiveScheduled returns every agent with Active && Trigger.Kind ==
	// TriggerScheduled, for Scheduler restart recovery (§4.7).
	ListActiveScheduled() ([]agentrt.Agent, error)
	UpdateMetadata(ownerID, agentID int64, name, description string, trig agentrt.Trigger, active bool) error
	// UpdateCode refuses the write (without calling the caller's gate again)
	// if gateOK is false — callers run the Safety Gate themselves and pass
	// the verdict in, keeping the Gate's purity (store.go has no business
	// knowing gate internals).
	UpdateCode(ownerID, agentID int64, artifact string, gateOK bool) error
	Delete(ownerID, agentID int64) error
}

// KVService is the per-agent durable key/value bag.
type KVService interface {
	Get(agentID int64, key string) (value string, found bool, err error)
	Set(agentID, ownerID int64, key, value string) error
	GetAll(agentID int64) (map[string]string, error)
	DeleteAgent(agentID int64) error
}

// LogService is the per-agent append-only log.
type LogService interface {
	Append(agentID, ownerID int64, level agentrt.LogLevel, message, detail string) error
	ReadByAgent(agentID int64, limit, offset int) ([]agentrt.LogEntry, error)
	ReadByOwner(ownerID int64, limit int) ([]agentrt.LogEntry, error)
	Prune(olderThan time.Time) (int64, error)
}

// HistoryService is the per-execution history row.
type HistoryService interface {
	Start(agentID, ownerID int64, trig agentrt.TriggerKind) (executionID int64, err error)
	// Finish is idempotent: a second call with the same executionID is a
	// no-op and does not alter duration_ms (§4.2, §8 property 2).
	Finish(executionID int64, status agentrt.ExecutionStatus, durationMS int64, errMsg, summary string) error
	ByAgent(agentID int64, limit int) ([]agentrt.Execution, error)
	ByOwner(ownerID int64, limit int) ([]agentrt.Execution, error)
	Stats(ownerID int64) (Stats, error)
	// ReapStale flips any ExecutionRunning row older than threshold to
	// ExecutionError (§9 Open Question (a)); returns the count reaped.
	ReapStale(threshold time.Duration) (int64, error)
}

// Stats aggregates an owner's execution history (§4.2 History service).
type Stats struct {
	Total       int64
	Success     int64
	Error       int64
	Last24hRuns int64
}

// SessionRole is the role of a Session Message.
type SessionRole int

const (
	RoleUser SessionRole = iota
	RoleAssistant
	RoleSystem
)

func (r SessionRole) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleSystem:
		return "system"
	default:
		return "user"
	}
}

// SessionMessage is one Session Message (§3, §4.10).
type SessionMessage struct {
	UserID    int64
	SessionID string
	Role      SessionRole
	Content   string
	Metadata  string
	CreatedAt time.Time
}

// WaitingForInput is the durable counterpart of the in-memory Pending
// Multi-Turn State: the source of truth that survives a restart (§4.10).
type WaitingForInput struct {
	UserID    int64
	Kind      string
	Payload   string
	UpdatedAt time.Time
}

// SessionStore is Session Memory (§4.10): durable per-user transcript plus
// waiting-for-input parking.
type SessionStore interface {
	Append(userID int64, sessionID string, role SessionRole, content, metadata string) error
	Recent(userID int64, limit int) ([]SessionMessage, error)
	Clear(userID int64) error
	SetWaitingForInput(userID int64, kind, payload string) error
	GetWaitingForInput(userID int64) (WaitingForInput, bool, error)
	ClearWaitingForInput(userID int64) error
}

// MarketplaceListing and MarketplacePurchase implement the copy-on-purchase
// semantics of §3/§9.
type MarketplaceListing struct {
	ID            int64
	SellerOwnerID int64
	SourceAgentID int64
	Title         string
	Description   string
	PriceAmount   string // decimal.Decimal serialized, parsed by callers
	PriceCurrency string
	PublishedAt   time.Time
}

type MarketplacePurchase struct {
	ID            int64
	ListingID     int64
	BuyerOwnerID  int64
	NewAgentID    int64
	PurchasedAt   time.Time
	PricePaid     string
}

// MarketplaceStore persists listings and purchases. Purchase is the boundary
// that performs the artifact copy described in §9 "Marketplace copy
// semantics" — it allocates a brand-new Agent row owned by the buyer rather
// than referencing the seller's row.
type MarketplaceStore interface {
	Publish(l MarketplaceListing) (MarketplaceListing, error)
	ListListings() ([]MarketplaceListing, error)
	// Purchase is idempotent per (listingID, buyerOwnerID): a repeat call
	// after the first succeeded returns the existing purchase rather than
	// copying the agent a second time (§3).
	Purchase(listingID, buyerOwnerID int64, copyAgent func(source agentrt.Agent) (agentrt.Agent, error)) (MarketplacePurchase, error)
}

// UserPlugin is one row of the installed-plugins table (§6, §11).
type UserPlugin struct {
	UserID      int64
	PluginID    string
	InstalledAt time.Time
	Config      string
}

// SettingsStore is per-user settings (secrets, preferences) and installed
// plugins, consumed by get_secret and call_plugin in the Host-Call Surface.
type SettingsStore interface {
	GetSecret(userID int64, name string) (value string, found bool, err error)
	SetSecret(userID int64, name, value string) error
	// ListSecrets and DeleteSecret back the dashboard's settings/connectors
	// endpoints (§6); connectors are modeled as named secrets like any other.
	ListSecrets(userID int64) (map[string]string, error)
	DeleteSecret(userID int64, name string) error
	InstallPlugin(userID int64, pluginID, config string) error
	IsInstalled(userID int64, pluginID string) (bool, error)
	ListPlugins(userID int64) ([]UserPlugin, error)
	UninstallPlugin(userID int64, pluginID string) error
}
