package serve

import (
	"fmt"
	"net/http"

	"github.com/tonagent/runtime/store"
)

// handleAuthRequest mints a new pending auth request and the botLink the
// dashboard shows the user to follow (§6).
func (s *Server) handleAuthRequest(w http.ResponseWriter, r *http.Request) {
	if s.botUsername == "" {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "chat transport not configured"})
		return
	}
	req, err := s.db.Auth().CreateRequest("")
	if err != nil {
		writeStoreError(w, err)
		return
	}
	botLink := fmt.Sprintf("https://t.me/%s?start=%s", s.botUsername, req.AuthToken)
	writeJSON(w, http.StatusOK, AuthRequestResponse{AuthToken: req.AuthToken, BotLink: botLink})
}

// handleAuthCheck is polled by the dashboard until status flips to approved,
// at which point it carries the session token to use on every subsequent
// request (§6).
func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	req, ok, err := s.db.Auth().Get(token)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown auth token"})
		return
	}
	resp := AuthCheckResponse{Status: string(req.Status)}
	if req.Status == store.AuthApproved {
		resp.SessionToken = req.SessionToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID int64) {
	writeJSON(w, http.StatusOK, MeResponse{UserID: userID})
}

// ApproveAuth flips an auth request to approved for userID, called by the
// Telegram transport's OnStart hook when the user follows the botLink and
// confirms in chat (§6).
func (s *Server) ApproveAuth(authToken string, userID int64) error {
	_, err := s.db.Auth().Approve(authToken, userID)
	return err
}
