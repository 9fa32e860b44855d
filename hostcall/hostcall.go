// Package hostcall implements the Host-Call Surface (SPEC_FULL.md §4.3): the
// only capabilities a synthesized artifact may invoke from inside the
// Sandboxed Executor. Every method here is bound to the agent/owner that is
// currently executing — an artifact cannot reach another agent's state,
// another owner's secrets, or anything the Surface does not expose.
//
// This is the spec's analogue of the teacher's tools.Tools registry
// (tools/dynamic.go), narrowed on purpose: there is no exec, file_read, or
// file_write executor here, because the Safety Gate statically forbids the
// primitives those would need (sandbox/gate.go).
package hostcall

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/store"
)

// Notifier delivers a notify() host-call to whatever transport the owner is
// reachable on (Telegram today; see transport/telegram). Implemented outside
// this package to keep hostcall free of any transport dependency.
type Notifier interface {
	Notify(ctx context.Context, ownerID int64, agentID int64, message string) error
}

// Surface is the Host-Call Surface bound to one executing invocation. A new
// Surface is constructed per Execution by the Trigger Router so that
// AgentID/OwnerID cannot drift mid-run.
type Surface struct {
	AgentID int64
	OwnerID int64

	kv          store.KVService
	logs        store.LogService
	settings    store.SettingsStore
	marketplace store.MarketplaceStore
	notifier    Notifier

	httpClient *http.Client
	limiter    *rate.Limiter
}

// Deps bundles the collaborators a Surface needs. The fetch rate limit comes
// from Limiter below; there is no configuration setting for it.
type Deps struct {
	KV          store.KVService
	Logs        store.LogService
	Settings    store.SettingsStore
	Marketplace store.MarketplaceStore
	Notifier    Notifier

	// Limiter bounds fetch() calls per agent. A nil Limiter falls back to 5
	// requests/sec with a burst of 10, matching the teacher's http executor's
	// implicit one-call-at-a-time shape scaled up for a trusted host surface.
	Limiter *rate.Limiter
}

// New builds a Surface for one invocation of agentID/ownerID.
func New(agentID, ownerID int64, deps Deps) *Surface {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(5), 10)
	}
	return &Surface{
		AgentID:     agentID,
		OwnerID:     ownerID,
		kv:          deps.KV,
		logs:        deps.Logs,
		settings:    deps.Settings,
		marketplace: deps.Marketplace,
		notifier:    deps.Notifier,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     limiter,
	}
}

// Notify sends message to the agent's owner on whatever transport they are
// reachable on.
func (s *Surface) Notify(ctx context.Context, message string) error {
	if s.notifier == nil {
		return agentrt.WrapIntegration(nil, "notify: no transport configured")
	}
	if err := s.notifier.Notify(ctx, s.OwnerID, s.AgentID, message); err != nil {
		return agentrt.WrapTransport(err, "notify")
	}
	return nil
}

// GetState reads one key from the agent's durable KV bag.
func (s *Surface) GetState(key string) (string, bool, error) {
	value, found, err := s.kv.Get(s.AgentID, key)
	if err != nil {
		return "", false, agentrt.WrapIntegration(err, "get_state")
	}
	return value, found, nil
}

// SetState writes one key into the agent's durable KV bag.
func (s *Surface) SetState(key, value string) error {
	if err := s.kv.Set(s.AgentID, s.OwnerID, key, value); err != nil {
		return agentrt.WrapIntegration(err, "set_state")
	}
	return nil
}

// GetSecret reads a per-owner secret (e.g. a third-party API key) set via the
// dashboard's settings endpoint. Artifacts never see other owners' secrets.
func (s *Surface) GetSecret(name string) (string, bool, error) {
	value, found, err := s.settings.GetSecret(s.OwnerID, name)
	if err != nil {
		return "", false, agentrt.WrapIntegration(err, "get_secret")
	}
	return value, found, nil
}

// log is a convenience wrapper the Sandboxed Executor uses to mirror
// artifact console output into the Agent Log Entry stream (§4.2, §4.4).
func (s *Surface) log(level agentrt.LogLevel, message, detail string) {
	_ = s.logs.Append(s.AgentID, s.OwnerID, level, message, detail)
}

// Log exposes the append-only Agent Log Entry stream to callers outside the
// sandbox (e.g. the Trigger Router logging a start/finish pair) without
// reaching into the store package directly.
func (s *Surface) Log(level agentrt.LogLevel, message, detail string) {
	s.log(level, message, detail)
}
