// Package serve implements the thin dashboard HTTP API described in
// SPEC_FULL.md §6: a deeplink-handshake auth flow plus a small REST surface
// over agents, executions, logs, settings, connectors, and plugins. Every
// authenticated endpoint enforces the §4.1 ownership rule by resolving the
// bearer session token to a userID and scoping every store call to it.
//
// Grounded on the teacher's serve.Server (http.NewServeMux with Go 1.22+
// method-pattern routes, corsMiddleware, writeJSON, graceful shutdown via
// signal.NotifyContext handled by the caller) — narrowed from the teacher's
// process/workflow/MCP dashboard to this spec's agent/execution/plugin
// surface, and instrumented with otelhttp per §11.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/config"
	"github.com/tonagent/runtime/orchestrator"
	"github.com/tonagent/runtime/schedule"
	"github.com/tonagent/runtime/store"
)

// Server is the dashboard HTTP API (§6). It holds no domain logic of its
// own beyond request parsing and response shaping; every operation delegates
// to the Artifact Store, State Store services, Orchestrator, or Trigger
// Router.
type Server struct {
	cfg         config.Config
	db          *store.DB
	orch        *orchestrator.Orchestrator
	router      *schedule.Router
	botUsername string
	startedAt   time.Time
}

// New builds a Server. botUsername is the Telegram bot's @handle, used to
// build the botLink returned from GET /api/auth/request; it may be empty if
// the Telegram transport is disabled, in which case GET /api/auth/request
// answers 503.
func New(cfg config.Config, db *store.DB, orch *orchestrator.Orchestrator, router *schedule.Router, botUsername string) *Server {
	return &Server{cfg: cfg, db: db, orch: orch, router: router, botUsername: botUsername}
}

// Start installs tracing, registers routes, and serves HTTP until ctx is
// canceled, then shuts down gracefully with a bounded deadline.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	shutdownTracing, err := setupTracing(ctx, s.cfg.TracingEndpoint)
	if err != nil {
		slog.Warn("serve: tracing setup failed, continuing without export", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := otelhttp.NewHandler(corsMiddleware(mux), "dashboard")
	srv := &http.Server{Addr: s.cfg.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serve: dashboard listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("serve: shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("serve: shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("serve: tracing shutdown error", "error", err)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auth/request", s.handleAuthRequest)
	mux.HandleFunc("GET /api/auth/check/{token}", s.handleAuthCheck)

	// Inbound webhook deliveries carry no session bearer token — the token
	// in the path IS the credential (§4.8 FireWebhook's ingress).
	mux.HandleFunc("POST /webhooks/{token}", s.handleWebhookDelivery)

	mux.HandleFunc("GET /api/me", s.withAuth(s.handleMe))
	mux.HandleFunc("GET /api/agents", s.withAuth(s.handleListAgents))
	mux.HandleFunc("POST /api/agents/{id}/run", s.withAuth(s.handleRunAgent))
	mux.HandleFunc("POST /api/agents/{id}/stop", s.withAuth(s.handleStopAgent))
	mux.HandleFunc("GET /api/agents/{id}/logs", s.withAuth(s.handleAgentLogs))
	mux.HandleFunc("GET /api/executions", s.withAuth(s.handleExecutions))
	mux.HandleFunc("GET /api/activity", s.withAuth(s.handleActivity))
	mux.HandleFunc("GET /api/stats/me", s.withAuth(s.handleStats))
	mux.HandleFunc("GET /api/settings", s.withAuth(s.handleGetSettings))
	mux.HandleFunc("POST /api/settings", s.withAuth(s.handleSetSettings))
	mux.HandleFunc("GET /api/connectors", s.withAuth(s.handleListConnectors))
	mux.HandleFunc("POST /api/connectors/{name}", s.withAuth(s.handleSetConnector))
	mux.HandleFunc("DELETE /api/connectors/{name}", s.withAuth(s.handleDeleteConnector))
	mux.HandleFunc("GET /api/plugins", s.withAuth(s.handleListPlugins))
	mux.HandleFunc("POST /api/plugins/{id}/install", s.withAuth(s.handleInstallPlugin))
	mux.HandleFunc("DELETE /api/plugins/{id}", s.withAuth(s.handleUninstallPlugin))
}

// withAuth resolves the Authorization: Bearer <session_token> header to a
// userID and stores it on the request context; every handler it wraps reads
// that userID instead of trusting anything client-supplied, enforcing the
// §4.1 ownership rule uniformly.
func (s *Server) withAuth(next func(w http.ResponseWriter, r *http.Request, userID int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
			return
		}
		userID, ok, err := s.db.Auth().UserBySessionToken(token)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "auth lookup failed"})
			return
		}
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid or expired session token"})
			return
		}
		next(w, r, userID)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func pathInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func queryLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("serve: encode response failed", "error", err)
	}
}

// writeStoreError maps a store/agentrt error to an HTTP status using the
// taxonomy in SPEC_FULL.md §7; unrecognized errors fall back to 500 without
// leaking their raw text.
func writeStoreError(w http.ResponseWriter, err error) {
	if agentrt.IsNotFoundOrForbidden(err) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
		return
	}
	var tagged *agentrt.Error
	if errors.As(err, &tagged) && tagged.Kind == agentrt.KindValidation {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: tagged.Msg})
		return
	}
	slog.Error("serve: store error", "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
