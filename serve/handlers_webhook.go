package serve

import (
	"errors"
	"log/slog"
	"net/http"

	agentrt "github.com/tonagent/runtime"
)

// handleWebhookDelivery resolves the path token to its TriggerWebhook agent
// and fires it through the Trigger Router (§4.8). It deliberately mirrors the
// Telegram/dashboard ingress paths rather than the authenticated API ones:
// the sender is an external system identified only by the token, not a
// session user, so there is no ownerID to check against.
func (s *Server) handleWebhookDelivery(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing webhook token"})
		return
	}
	agent, err := s.db.Artifacts().GetByWebhookToken(token)
	if err != nil {
		if agentrt.IsNotFoundOrForbidden(err) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no agent listening on this webhook"})
			return
		}
		writeStoreError(w, err)
		return
	}
	if !agent.Active {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "agent is stopped"})
		return
	}

	outcome, runErr := s.router.FireWebhook(r.Context(), agent)
	if runErr != nil && errors.Is(runErr, agentrt.ErrBusy) {
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "agent is already running, retry shortly"})
		return
	}
	if runErr != nil {
		slog.Warn("serve: webhook delivery failed", "agent_id", agent.ID, "error", runErr)
	}
	writeJSON(w, http.StatusAccepted, RunResponse{Success: outcome.Success, DurationMS: outcome.DurationMS, Error: outcome.Error})
}
