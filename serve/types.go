package serve

import (
	"time"

	agentrt "github.com/tonagent/runtime"
)

// --- API Response Types (SPEC_FULL.md §6) ---

// AuthRequestResponse is the body of GET /api/auth/request.
type AuthRequestResponse struct {
	AuthToken string `json:"authToken"`
	BotLink   string `json:"botLink"`
}

// AuthCheckResponse is the body of GET /api/auth/check/{token}.
type AuthCheckResponse struct {
	Status       string `json:"status"`
	SessionToken string `json:"session_token,omitempty"`
}

// MeResponse is the body of GET /api/me.
type MeResponse struct {
	UserID int64 `json:"user_id"`
}

// AgentResponse is the API representation of an Agent.
type AgentResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Trigger     string `json:"trigger"`
	PeriodSec   int64  `json:"period_seconds,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExecutionResponse is the API representation of an Execution History Row.
type ExecutionResponse struct {
	ID            int64      `json:"id"`
	AgentID       int64      `json:"agent_id"`
	Trigger       string     `json:"trigger"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	DurationMS    *int64     `json:"duration_ms,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	ResultSummary string     `json:"result_summary,omitempty"`
}

// LogEntryResponse is the API representation of an Agent Log Entry.
type LogEntryResponse struct {
	ID        int64     `json:"id"`
	AgentID   int64     `json:"agent_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StatsResponse is the body of GET /api/stats/me.
type StatsResponse struct {
	Total       int64 `json:"total"`
	Success     int64 `json:"success"`
	Error       int64 `json:"error"`
	Last24hRuns int64 `json:"last_24h_runs"`
}

// PluginResponse is the API representation of an installed plugin.
type PluginResponse struct {
	PluginID    string    `json:"plugin_id"`
	InstalledAt time.Time `json:"installed_at"`
	Config      string    `json:"config,omitempty"`
}

// RunResponse is the body of POST /api/agents/{id}/run.
type RunResponse struct {
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ErrorResponse is the uniform error body for every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

func agentToResponse(a agentrt.Agent) AgentResponse {
	resp := AgentResponse{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		Trigger:     a.Trigger.Kind.String(),
		Active:      a.Active,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if a.Trigger.Period > 0 {
		resp.PeriodSec = int64(a.Trigger.Period.Seconds())
	}
	return resp
}
