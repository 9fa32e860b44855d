package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/hostcall"
	"github.com/tonagent/runtime/sandbox"
	"github.com/tonagent/runtime/store"
	"github.com/tonagent/runtime/synth"
)

// tracer emits one span per Trigger Router invocation (§11): agent id and
// trigger kind as attributes, exported via OTLP when a TracerProvider is
// installed (serve.setupTracing) and a no-op otherwise.
var tracer = otel.Tracer("github.com/tonagent/runtime/schedule")

// Router is the single chokepoint every manual/scheduled/webhook invocation
// passes through before reaching the Sandboxed Executor (SPEC_FULL.md §4.8).
// It owns the per-agent lock, the global concurrency cap, and the
// last-error/pending-repair bookkeeping the Orchestrator reads from.
type Router struct {
	artifacts store.ArtifactStore
	history   store.HistoryService
	logs      store.LogService
	executor  *sandbox.Executor
	surface   SurfaceFactory

	budget    time.Duration
	semaphore chan struct{}

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	lastErrMu sync.Mutex
	lastError map[int64]string

	// synth and repairBudget drive auto-repair staging (§4.8): nil/zero
	// disables it entirely, leaving repairs empty and PeekStagedRepair
	// always reporting nothing staged.
	synth        *synth.Synthesizer
	repairBudget int
	repairs      *repairStage
}

// SurfaceFactory builds the Host-Call Surface bound to one invocation. Kept
// as a function rather than a concrete hostcall.Deps value so callers (e.g.
// tests) can swap in fakes without constructing a full store.DB.
type SurfaceFactory func(agentID, ownerID int64) *hostcall.Surface

// Deps bundles Router's collaborators.
type Deps struct {
	Artifacts     store.ArtifactStore
	History       store.HistoryService
	Logs          store.LogService
	Executor      *sandbox.Executor
	Surface       SurfaceFactory
	Budget        time.Duration
	MaxConcurrent int

	// Synth and RepairBudget enable auto-repair staging on a repairable
	// failure (§4.8). Synth may be nil and RepairBudget may be zero to
	// disable the feature entirely.
	Synth        *synth.Synthesizer
	RepairBudget int
}

// NewRouter builds a Router. MaxConcurrent bounds how many artifact
// executions may run at once process-wide (§5).
func NewRouter(deps Deps) *Router {
	maxConcurrent := deps.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	return &Router{
		artifacts:    deps.Artifacts,
		history:      deps.History,
		logs:         deps.Logs,
		executor:     deps.Executor,
		surface:      deps.Surface,
		budget:       deps.Budget,
		semaphore:    make(chan struct{}, maxConcurrent),
		locks:        make(map[int64]*sync.Mutex),
		lastError:    make(map[int64]string),
		synth:        deps.Synth,
		repairBudget: deps.RepairBudget,
		repairs:      newRepairStage(),
	}
}

func (r *Router) lockFor(agentID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[agentID] = lock
	}
	return lock
}

// FireManual runs agent on an explicit user request. Returns ErrBusy
// immediately if a run is already in flight for this agent (§4.8).
func (r *Router) FireManual(ctx context.Context, agent agentrt.Agent) (agentrt.Outcome, error) {
	lock := r.lockFor(agent.ID)
	if !lock.TryLock() {
		return agentrt.Outcome{}, agentrt.WrapValidation(agentrt.ErrBusy, "agent is already running")
	}
	defer lock.Unlock()
	return r.run(ctx, agent, agentrt.TriggerManual)
}

// FireScheduled runs agent on a Scheduler tick. A busy agent causes this
// tick to be silently dropped, not queued (§4.7, §5) — the caller (the
// Scheduler's job function) does not see an error either way.
func (r *Router) FireScheduled(ctx context.Context, agent agentrt.Agent) {
	lock := r.lockFor(agent.ID)
	if !lock.TryLock() {
		slog.Info("router: scheduled tick dropped, agent busy", "agent_id", agent.ID)
		return
	}
	defer lock.Unlock()
	if _, err := r.run(ctx, agent, agentrt.TriggerScheduled); err != nil {
		slog.Warn("router: scheduled run failed", "agent_id", agent.ID, "error", err)
	}
}

// FireWebhook runs agent on an inbound webhook delivery. Returns ErrBusy with
// a retry hint if a run is already in flight (§4.8).
func (r *Router) FireWebhook(ctx context.Context, agent agentrt.Agent) (agentrt.Outcome, error) {
	lock := r.lockFor(agent.ID)
	if !lock.TryLock() {
		return agentrt.Outcome{}, agentrt.WrapValidation(agentrt.ErrBusy, "agent is already running, retry shortly")
	}
	defer lock.Unlock()
	return r.run(ctx, agent, agentrt.TriggerWebhook)
}

// run acquires a global concurrency slot, starts an Execution History row,
// runs the artifact, records the outcome, and updates the last-error map on
// failure. The per-agent lock is already held by the caller.
func (r *Router) run(ctx context.Context, agent agentrt.Agent, trig agentrt.TriggerKind) (agentrt.Outcome, error) {
	ctx, span := tracer.Start(ctx, "router.run",
		trace.WithAttributes(
			attribute.Int64("agent_id", agent.ID),
			attribute.Int64("owner_id", agent.OwnerID),
			attribute.String("trigger_kind", trig.String()),
		),
	)
	defer span.End()

	outcome, err := r.runTraced(ctx, agent, trig)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (r *Router) runTraced(ctx context.Context, agent agentrt.Agent, trig agentrt.TriggerKind) (agentrt.Outcome, error) {
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return agentrt.Outcome{}, agentrt.WrapSandboxTimeout("router: concurrency slot wait canceled")
	}

	executionID, err := r.history.Start(agent.ID, agent.OwnerID, trig)
	if err != nil {
		return agentrt.Outcome{}, agentrt.WrapFatal(err, "router: start execution history")
	}

	surface := r.surface(agent.ID, agent.OwnerID)
	start := time.Now()
	outcome := r.executor.Run(ctx, agent.Artifact, surface, r.budget)

	status := agentrt.ExecutionSuccess
	if !outcome.Success {
		status = agentrt.ExecutionError
		r.setLastError(agent.ID, outcome.Error)
		_ = r.logs.Append(agent.ID, agent.OwnerID, agentrt.LogError, outcome.Error, "")
		if isRepairableFailure(outcome.FailureKind) {
			r.stageRepair(ctx, agent, outcome.Error)
		}
	} else {
		r.clearLastError(agent.ID)
		_ = r.logs.Append(agent.ID, agent.OwnerID, agentrt.LogSuccess, "execution completed", "")
	}

	durationMS := time.Since(start).Milliseconds()
	if err := r.history.Finish(executionID, status, durationMS, outcome.Error, summarize(outcome)); err != nil {
		slog.Warn("router: finish execution history failed", "execution_id", executionID, "error", err)
	}

	if !outcome.Success {
		return outcome, wrapOutcomeError(outcome)
	}
	return outcome, nil
}

// wrapOutcomeError selects the Wrap* constructor matching the failure class
// the Sandboxed Executor reported, instead of collapsing every failure into
// sandbox-runtime (§7).
func wrapOutcomeError(o agentrt.Outcome) error {
	switch o.FailureKind {
	case agentrt.KindSandboxTimeout:
		return agentrt.WrapSandboxTimeout(o.Error)
	case agentrt.KindSandboxMemory:
		return agentrt.WrapSandboxMemory(o.Error)
	default:
		return agentrt.WrapSandboxRuntime(nil, o.Error)
	}
}

// LastError returns the most recent runtime error recorded for agentID, for
// the Orchestrator's auto-repair offer (§4.9 S3).
func (r *Router) LastError(agentID int64) (string, bool) {
	r.lastErrMu.Lock()
	defer r.lastErrMu.Unlock()
	msg, ok := r.lastError[agentID]
	return msg, ok
}

func (r *Router) setLastError(agentID int64, msg string) {
	r.lastErrMu.Lock()
	defer r.lastErrMu.Unlock()
	r.lastError[agentID] = msg
}

func (r *Router) clearLastError(agentID int64) {
	r.lastErrMu.Lock()
	defer r.lastErrMu.Unlock()
	delete(r.lastError, agentID)
}

func summarize(o agentrt.Outcome) string {
	if o.Value == nil {
		return ""
	}
	if s, ok := o.Value.(string); ok {
		return s
	}
	return ""
}
