package serve

import (
	"encoding/json"
	"io"
	"net/http"

	agentrt "github.com/tonagent/runtime"
)

// --- Agents ---

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request, userID int64) {
	agents, err := s.db.Artifacts().ListByOwner(userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		resp = append(resp, agentToResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request, userID int64) {
	agentID, err := pathInt64(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid agent id"})
		return
	}
	agent, err := s.db.Artifacts().Get(userID, agentID)
	if err != nil {
		writeAgentLookupError(w, err)
		return
	}
	outcome, runErr := s.router.FireManual(r.Context(), agent)
	resp := RunResponse{Success: outcome.Success, DurationMS: outcome.DurationMS}
	if runErr != nil {
		resp.Error = outcome.Error
		if resp.Error == "" {
			resp.Error = runErr.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStopAgent deactivates an agent and, if scheduled, unregisters its
// timer. It does not interrupt an execution already in flight — the
// Sandboxed Executor's own wall-clock budget is the only thing that can do
// that (§4.4, §7).
func (s *Server) handleStopAgent(w http.ResponseWriter, r *http.Request, userID int64) {
	agentID, err := pathInt64(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid agent id"})
		return
	}
	agent, err := s.db.Artifacts().Get(userID, agentID)
	if err != nil {
		writeAgentLookupError(w, err)
		return
	}
	if err := s.db.Artifacts().UpdateMetadata(userID, agentID, agent.Name, agent.Description, agent.Trigger, false); err != nil {
		writeStoreError(w, err)
		return
	}
	if s.orch != nil && s.orch.Scheduler != nil {
		s.orch.Scheduler.Unregister(agentID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleAgentLogs(w http.ResponseWriter, r *http.Request, userID int64) {
	agentID, err := pathInt64(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid agent id"})
		return
	}
	if _, err := s.db.Artifacts().Get(userID, agentID); err != nil {
		writeAgentLookupError(w, err)
		return
	}
	limit := queryLimit(r, 100)
	entries, err := s.db.Logs().ReadByAgent(agentID, limit, 0)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := make([]LogEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, LogEntryResponse{
			ID: e.ID, AgentID: e.AgentID, Level: e.Level.String(),
			Message: e.Message, Detail: e.Detail, CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Executions / activity / stats ---

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request, userID int64) {
	limit := queryLimit(r, 100)
	execs, err := s.db.History().ByOwner(userID, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	status := r.URL.Query().Get("status")
	resp := make([]ExecutionResponse, 0, len(execs))
	for _, e := range execs {
		if status != "" && e.Status.String() != status {
			continue
		}
		resp = append(resp, executionToResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request, userID int64) {
	limit := queryLimit(r, 50)
	execs, err := s.db.History().ByOwner(userID, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := make([]ExecutionResponse, 0, len(execs))
	for _, e := range execs {
		resp = append(resp, executionToResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, userID int64) {
	stats, err := s.db.History().Stats(userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Total: stats.Total, Success: stats.Success, Error: stats.Error, Last24hRuns: stats.Last24hRuns,
	})
}

// --- Settings / connectors (both named secrets, see store.SettingsStore) ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request, userID int64) {
	settings, err := s.db.Settings().ListSecrets(userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request, userID int64) {
	var body map[string]string
	if !decodeJSON(w, r, &body) {
		return
	}
	for name, value := range body {
		if err := s.db.Settings().SetSecret(userID, name, value); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request, userID int64) {
	s.handleGetSettings(w, r, userID)
}

func (s *Server) handleSetConnector(w http.ResponseWriter, r *http.Request, userID int64) {
	name := r.PathValue("name")
	var body struct {
		Value string `json:"value"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.db.Settings().SetSecret(userID, name, body.Value); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleDeleteConnector(w http.ResponseWriter, r *http.Request, userID int64) {
	name := r.PathValue("name")
	if err := s.db.Settings().DeleteSecret(userID, name); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Plugins ---

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request, userID int64) {
	plugins, err := s.db.Settings().ListPlugins(userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	resp := make([]PluginResponse, 0, len(plugins))
	for _, p := range plugins {
		resp = append(resp, PluginResponse{PluginID: p.PluginID, InstalledAt: p.InstalledAt, Config: p.Config})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInstallPlugin(w http.ResponseWriter, r *http.Request, userID int64) {
	pluginID := r.PathValue("id")
	var body struct {
		Config string `json:"config"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.db.Settings().InstallPlugin(userID, pluginID, body.Config); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "installed"})
}

func (s *Server) handleUninstallPlugin(w http.ResponseWriter, r *http.Request, userID int64) {
	pluginID := r.PathValue("id")
	if err := s.db.Settings().UninstallPlugin(userID, pluginID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "uninstalled"})
}

// --- shared helpers ---

func executionToResponse(e agentrt.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID: e.ID, AgentID: e.AgentID, Trigger: e.Trigger.String(), Status: e.Status.String(),
		StartedAt: e.StartedAt, FinishedAt: e.FinishedAt, DurationMS: e.DurationMS,
		ErrorMessage: e.ErrorMessage, ResultSummary: e.ResultSummary,
	}
}

// writeAgentLookupError maps ArtifactStore.Get's ownership-masked not-found
// (§4.1) to a 404 without distinguishing "missing" from "not yours".
func writeAgentLookupError(w http.ResponseWriter, err error) {
	if agentrt.IsNotFoundOrForbidden(err) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "agent not found"})
		return
	}
	writeStoreError(w, err)
}

// decodeJSON decodes the request body into dst, writing a 400 response and
// returning false on failure. An empty body is treated as success with dst
// left at its zero value, so optional-body endpoints don't need special
// casing at call sites.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}
