package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuthRequestStatus is the state of one dashboard deeplink handshake (§6).
type AuthRequestStatus string

const (
	AuthPending  AuthRequestStatus = "pending"
	AuthApproved AuthRequestStatus = "approved"
)

// AuthRequest is one row of the auth_requests table: an authToken minted by
// GET /api/auth/request, approved out-of-band when the user confirms the
// botLink in chat.
type AuthRequest struct {
	AuthToken    string
	BotLink      string
	Status       AuthRequestStatus
	UserID       int64
	SessionToken string
	CreatedAt    time.Time
}

// AuthStore persists the dashboard login handshake described in SPEC_FULL.md
// §6: a polling authToken that flips to approved (with a session token
// minted) once the user confirms in chat by sending the bot's /start deeplink.
type AuthStore interface {
	// CreateRequest mints a new pending AuthRequest with botLink as the
	// deeplink the user is shown.
	CreateRequest(botLink string) (AuthRequest, error)
	// Approve flips authToken to approved for userID and mints its session
	// token. Called through serve.Server.ApproveAuth, which the Telegram
	// transport's OnStart hook invokes once the user confirms in chat.
	Approve(authToken string, userID int64) (sessionToken string, err error)
	// Get looks up a request by authToken, for GET /api/auth/check/{token}.
	Get(authToken string) (AuthRequest, bool, error)
	// UserBySessionToken resolves a bearer session token back to its owner,
	// for every authenticated dashboard endpoint.
	UserBySessionToken(sessionToken string) (userID int64, ok bool, err error)
}

// AuthDB implements AuthStore.
type AuthDB struct {
	db *sql.DB
}

var _ AuthStore = (*AuthDB)(nil)

func (a *AuthDB) CreateRequest(botLink string) (AuthRequest, error) {
	req := AuthRequest{
		AuthToken: uuid.NewString(),
		BotLink:   botLink,
		Status:    AuthPending,
		CreatedAt: time.Now(),
	}
	_, err := a.db.Exec(
		`INSERT INTO auth_requests (auth_token, bot_link, status, created_at) VALUES (?, ?, ?, ?)`,
		req.AuthToken, req.BotLink, string(req.Status), req.CreatedAt,
	)
	if err != nil {
		return AuthRequest{}, fmt.Errorf("create auth request: %w", err)
	}
	return req, nil
}

func (a *AuthDB) Approve(authToken string, userID int64) (string, error) {
	sessionToken := uuid.NewString()
	res, err := a.db.Exec(
		`UPDATE auth_requests SET status = ?, user_id = ?, session_token = ? WHERE auth_token = ?`,
		string(AuthApproved), userID, sessionToken, authToken,
	)
	if err != nil {
		return "", fmt.Errorf("approve auth request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("approve auth request: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("approve auth request: no request with token %q", authToken)
	}
	return sessionToken, nil
}

func (a *AuthDB) Get(authToken string) (AuthRequest, bool, error) {
	var req AuthRequest
	var status string
	err := a.db.QueryRow(
		`SELECT auth_token, bot_link, status, user_id, session_token, created_at FROM auth_requests WHERE auth_token = ?`,
		authToken,
	).Scan(&req.AuthToken, &req.BotLink, &status, &req.UserID, &req.SessionToken, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return AuthRequest{}, false, nil
	}
	if err != nil {
		return AuthRequest{}, false, fmt.Errorf("get auth request: %w", err)
	}
	req.Status = AuthRequestStatus(status)
	return req, true, nil
}

func (a *AuthDB) UserBySessionToken(sessionToken string) (int64, bool, error) {
	var userID int64
	err := a.db.QueryRow(
		`SELECT user_id FROM auth_requests WHERE session_token = ? AND session_token != ''`,
		sessionToken,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve session token: %w", err)
	}
	return userID, true, nil
}
