// Package orchestrator implements the Orchestrator and Session Memory
// (SPEC_FULL.md §4.9, §4.10): the conversational front end that classifies a
// user utterance, drives the create/modify/run/list flows through the
// Synthesizer and Trigger Router, and durably parks multi-turn state across
// restarts.
package orchestrator

import (
	"sync"

	"github.com/tonagent/runtime/store"
)

// PendingKind is one of the multi-turn interaction flows named in
// SPEC_FULL.md §3. Mirrors the teacher's practice of naming conversation
// states as string constants rather than an enum type, since these cross the
// Session Memory's opaque `kind` column.
type PendingKind string

const (
	AwaitingName             PendingKind = "awaiting_name"
	AwaitingSchedule         PendingKind = "awaiting_schedule"
	AwaitingEdit             PendingKind = "awaiting_edit"
	AwaitingRename           PendingKind = "awaiting_rename"
	AwaitingTemplateVariable PendingKind = "awaiting_template_variable"
	AwaitingPublishName      PendingKind = "awaiting_publish_name"
	AwaitingWithdrawalStep   PendingKind = "awaiting_withdrawal_step"
)

// Pending is one in-flight multi-turn flow for a single user: just enough
// context to resume on the next utterance (§3).
type Pending struct {
	Kind PendingKind
	Data map[string]string
}

// Memory is Session Memory (§4.10): the durable transcript plus the
// waiting-for-input parking slot, fronted by an in-memory hot cache of the
// parsed Pending state so the common case (resuming a flow) does not round
// trip through SQLite's JSON payload column on every turn. Session Memory
// itself, not the cache, is the source of truth — a cache miss falls back to
// the store and repopulates.
type Memory struct {
	sessions store.SessionStore

	mu    sync.Mutex
	cache map[int64]*Pending
}

// NewMemory wraps sessions with the Pending hot cache.
func NewMemory(sessions store.SessionStore) *Memory {
	return &Memory{sessions: sessions, cache: make(map[int64]*Pending)}
}

// Append records one turn of the transcript.
func (m *Memory) Append(userID int64, sessionID string, role store.SessionRole, content, metadata string) error {
	return m.sessions.Append(userID, sessionID, role, content, metadata)
}

// Recent returns the user's most recent transcript entries, newest first.
func (m *Memory) Recent(userID int64, limit int) ([]store.SessionMessage, error) {
	return m.sessions.Recent(userID, limit)
}

// Clear drops the user's transcript and any parked flow.
func (m *Memory) Clear(userID int64) error {
	m.mu.Lock()
	delete(m.cache, userID)
	m.mu.Unlock()
	if err := m.sessions.ClearWaitingForInput(userID); err != nil {
		return err
	}
	return m.sessions.Clear(userID)
}

// SetPending parks a multi-turn flow for userID, durably and in the hot
// cache.
func (m *Memory) SetPending(userID int64, p Pending) error {
	payload, err := encodePending(p)
	if err != nil {
		return err
	}
	if err := m.sessions.SetWaitingForInput(userID, string(p.Kind), payload); err != nil {
		return err
	}
	m.mu.Lock()
	cp := p
	m.cache[userID] = &cp
	m.mu.Unlock()
	return nil
}

// GetPending returns the parked flow for userID, if any. A cache hit avoids
// the store round trip; a miss reads through and repopulates the cache.
func (m *Memory) GetPending(userID int64) (Pending, bool, error) {
	m.mu.Lock()
	if p, ok := m.cache[userID]; ok {
		cp := *p
		m.mu.Unlock()
		return cp, true, nil
	}
	m.mu.Unlock()

	w, found, err := m.sessions.GetWaitingForInput(userID)
	if err != nil || !found {
		return Pending{}, false, err
	}
	p, err := decodePending(PendingKind(w.Kind), w.Payload)
	if err != nil {
		return Pending{}, false, err
	}
	m.mu.Lock()
	cp := p
	m.cache[userID] = &cp
	m.mu.Unlock()
	return p, true, nil
}

// ClearPending drops the parked flow for userID, durably and in the cache.
func (m *Memory) ClearPending(userID int64) error {
	m.mu.Lock()
	delete(m.cache, userID)
	m.mu.Unlock()
	return m.sessions.ClearWaitingForInput(userID)
}
