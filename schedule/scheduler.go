package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/store"
)

// FireFunc is called when a scheduled agent's timer fires. The Scheduler
// itself does not run artifacts — it hands off to the Trigger Router, same
// separation the teacher draws between serve.Scheduler (the timer) and
// dsl.Interpreter.SendToAgent (the thing that actually acts).
type FireFunc func(ctx context.Context, agentID, ownerID int64)

// Scheduler owns the *cron.Cron engine and one PeriodSchedule per registered
// agent (SPEC_FULL.md §4.7, §12). Registration/removal mirrors the teacher's
// serve.Scheduler (cron.EntryID-keyed map instead of a name-keyed one).
type Scheduler struct {
	c    *cron.Cron
	fire FireFunc

	artifacts     store.ArtifactStore
	immediateFire bool

	mu        sync.Mutex
	entries   map[int64]cron.EntryID
	schedules map[int64]*PeriodSchedule
}

// New builds a Scheduler. fire is invoked (on the cron runner's goroutine)
// every time a registered agent's timer reaches its deadline.
func New(artifacts store.ArtifactStore, fire FireFunc, immediateFire bool) *Scheduler {
	return &Scheduler{
		c:             cron.New(),
		fire:          fire,
		artifacts:     artifacts,
		immediateFire: immediateFire,
		entries:       make(map[int64]cron.EntryID),
		schedules:     make(map[int64]*PeriodSchedule),
	}
}

// Start begins the cron runner and blocks until ctx is canceled, at which
// point it stops the runner and waits for any in-flight job functions to
// return. The HTTP server and the other long-running components watch the
// same ctx and stop concurrently with the Scheduler, in no fixed order.
func (s *Scheduler) Start(ctx context.Context) {
	s.c.Start()
	slog.Info("scheduler started")
	<-ctx.Done()
	stopCtx := s.c.Stop()
	<-stopCtx.Done()
	slog.Info("scheduler stopped")
}

// Restore registers every active scheduled agent found in the Artifact
// Store, for recovery after a process restart (§4.7 Registered → Waiting on
// startup restore).
func (s *Scheduler) Restore(ctx context.Context) error {
	agents, err := s.artifacts.ListActiveScheduled()
	if err != nil {
		return agentrt.WrapFatal(err, "scheduler restore: list active scheduled agents")
	}
	for _, agent := range agents {
		if err := s.Register(ctx, agent); err != nil {
			slog.Warn("scheduler: restore registration failed", "agent_id", agent.ID, "error", err)
		}
	}
	return nil
}

// Register puts agent into the Waiting state: a fresh PeriodSchedule is
// built and a cron entry added. If the agent was already registered, its
// existing entry is removed first (idempotent re-registration, e.g. after
// update_metadata changes the period).
func (s *Scheduler) Register(ctx context.Context, agent agentrt.Agent) error {
	if agent.Trigger.Kind != agentrt.TriggerScheduled {
		return agentrt.WrapValidation(agentrt.ErrInvalidTrigger, "scheduler: agent is not a scheduled trigger")
	}

	s.mu.Lock()
	if id, ok := s.entries[agent.ID]; ok {
		s.c.Remove(id)
		delete(s.entries, agent.ID)
		delete(s.schedules, agent.ID)
	}
	s.mu.Unlock()

	ps := NewPeriodSchedule(agent.Trigger.Period)
	job := s.makeJob(agent.ID, agent.OwnerID, ps)
	entryID := s.c.Schedule(ps, job)

	s.mu.Lock()
	s.entries[agent.ID] = entryID
	s.schedules[agent.ID] = ps
	s.mu.Unlock()

	slog.Info("scheduler: agent registered", "agent_id", agent.ID, "period", agent.Trigger.Period)

	if s.immediateFire {
		go s.fire(ctx, agent.ID, agent.OwnerID)
	}
	return nil
}

// Unregister puts agent into the Unregistered state: the cron entry is
// removed so the next tick does not fire. Any fire already in flight is left
// to complete on its own (§4.7).
func (s *Scheduler) Unregister(agentID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[agentID]; ok {
		s.c.Remove(id)
		delete(s.entries, agentID)
		delete(s.schedules, agentID)
		slog.Info("scheduler: agent unregistered", "agent_id", agentID)
	}
}

// IsRegistered reports whether agentID currently has an active cron entry.
func (s *Scheduler) IsRegistered(agentID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[agentID]
	return ok
}

func (s *Scheduler) makeJob(agentID, ownerID int64, ps *PeriodSchedule) cron.FuncJob {
	return func() {
		ctx := context.Background()
		slog.Info("scheduler: firing agent", "agent_id", agentID)
		s.fire(ctx, agentID, ownerID)
		ps.RecordCompletion(time.Now())
	}
}
