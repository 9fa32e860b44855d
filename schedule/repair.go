package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/synth"
)

// stagedRepair is one patched artifact awaiting explicit user approval
// before it overwrites the live agent (§4.6 "preview-and-apply").
type stagedRepair struct {
	ownerID   int64
	agentID   int64
	artifact  string
	lastError string
}

// repairStage is the pending-repairs map keyed by (owner_id, agent_id),
// named directly in §4.6. lastByOwner tracks the most recently staged
// agent per owner so a bare "approve" reply (no agent id in it) resolves
// to the repair the user was just shown.
type repairStage struct {
	mu          sync.Mutex
	staged      map[string]stagedRepair
	lastByOwner map[int64]int64
}

func newRepairStage() *repairStage {
	return &repairStage{staged: make(map[string]stagedRepair), lastByOwner: make(map[int64]int64)}
}

func repairKey(ownerID, agentID int64) string {
	return fmt.Sprintf("%d:%d", ownerID, agentID)
}

func (r *repairStage) put(s stagedRepair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staged[repairKey(s.ownerID, s.agentID)] = s
	r.lastByOwner[s.ownerID] = s.agentID
}

func (r *repairStage) peek(ownerID, agentID int64) (stagedRepair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.staged[repairKey(ownerID, agentID)]
	return s, ok
}

func (r *repairStage) take(ownerID, agentID int64) (stagedRepair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repairKey(ownerID, agentID)
	s, ok := r.staged[key]
	if ok {
		delete(r.staged, key)
	}
	return s, ok
}

func (r *repairStage) latestAgentFor(ownerID int64) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agentID, ok := r.lastByOwner[ownerID]
	return agentID, ok
}

// stageRepair runs the Synthesizer in repair mode against agent's last
// failure, up to repairBudget attempts until one returns a candidate, and
// stages that result without applying it (SPEC_FULL §4.8: "on
// return ... if a repair budget is configured and the error matches a
// repairable class, synchronously invoke the Synthesizer in repair mode and
// stage the result"). Failures here are logged, not surfaced: a failed
// auto-repair attempt must never fail the triggering execution it rode in on.
func (r *Router) stageRepair(ctx context.Context, agent agentrt.Agent, lastError string) {
	if r.synth == nil || r.repairBudget <= 0 {
		return
	}
	for attempt := 1; attempt <= r.repairBudget; attempt++ {
		patched, err := r.synth.Repair(ctx, synth.RepairRequest{
			Artifact:            agent.Artifact,
			LastError:           lastError,
			ModificationRequest: "fix the error above",
		})
		if err != nil {
			slog.Warn("router: auto-repair synthesis failed", "agent_id", agent.ID, "attempt", attempt, "error", err)
			continue
		}
		r.repairs.put(stagedRepair{ownerID: agent.OwnerID, agentID: agent.ID, artifact: patched, lastError: lastError})
		return
	}
}

// isRepairableFailure reports whether a failure class is worth an automatic
// repair attempt. Resource-exhaustion failures (timeout, memory) are not:
// they are almost never fixed by a code patch, and retrying synthesis on
// every timed-out agent would burn a model call per tick for no benefit.
// Ordinary runtime errors — the class SPEC_FULL's own walkthrough uses
// ("missing field `data.price`") — are.
func isRepairableFailure(k agentrt.Kind) bool {
	return k == agentrt.KindSandboxRuntime
}

// PeekStagedRepair returns the repair staged for (ownerID, agentID) without
// consuming it, for display (§4.9 item 5). ok is false if nothing is staged.
func (r *Router) PeekStagedRepair(ownerID, agentID int64) (artifact, lastError string, ok bool) {
	s, ok := r.repairs.peek(ownerID, agentID)
	return s.artifact, s.lastError, ok
}

// LatestStagedRepairAgent returns the agent id of the most recently staged
// repair for ownerID, for resolving a bare "approve"/"discard" reply that
// carries no agent id of its own.
func (r *Router) LatestStagedRepairAgent(ownerID int64) (int64, bool) {
	return r.repairs.latestAgentFor(ownerID)
}

// ApplyStagedRepair consumes the staged repair for (ownerID, agentID) and
// writes it to the Artifact Store. Returns agentrt.ErrNotFound (via
// WrapValidation) if nothing is staged.
func (r *Router) ApplyStagedRepair(ownerID, agentID int64) error {
	staged, ok := r.repairs.take(ownerID, agentID)
	if !ok {
		return agentrt.WrapValidation(agentrt.ErrNotFound, "no repair staged for this agent")
	}
	return r.artifacts.UpdateCode(ownerID, agentID, staged.artifact, true)
}

// DiscardStagedRepair drops the staged repair for (ownerID, agentID) without
// applying it.
func (r *Router) DiscardStagedRepair(ownerID, agentID int64) bool {
	_, ok := r.repairs.take(ownerID, agentID)
	return ok
}
