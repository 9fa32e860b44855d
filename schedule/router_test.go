package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/hostcall"
	"github.com/tonagent/runtime/sandbox"
	"github.com/tonagent/runtime/store"
	"github.com/tonagent/runtime/synth"
)

// fakeRepairModel always returns fixedArtifact verbatim, regardless of the
// repair prompt it's given.
type fakeRepairModel struct{ fixedArtifact string }

func (m fakeRepairModel) Name() string { return "fake-repair-model" }
func (m fakeRepairModel) Generate(ctx context.Context, messages []synth.Message, timeout time.Duration) (string, error) {
	return m.fixedArtifact, nil
}

type fakeHistory struct {
	mu       sync.Mutex
	started  int
	finished []agentrt.ExecutionStatus
}

func (f *fakeHistory) Start(agentID, ownerID int64, trig agentrt.TriggerKind) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return int64(f.started), nil
}
func (f *fakeHistory) Finish(executionID int64, status agentrt.ExecutionStatus, durationMS int64, errMsg, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, status)
	return nil
}
func (f *fakeHistory) ByAgent(agentID int64, limit int) ([]agentrt.Execution, error) { return nil, nil }
func (f *fakeHistory) ByOwner(ownerID int64, limit int) ([]agentrt.Execution, error) { return nil, nil }
func (f *fakeHistory) Stats(ownerID int64) (store.Stats, error)                      { return store.Stats{}, nil }

type fakeLogs struct{}

func (fakeLogs) Append(agentID, ownerID int64, level agentrt.LogLevel, message, detail string) error {
	return nil
}
func (fakeLogs) ReadByAgent(agentID int64, limit, offset int) ([]agentrt.LogEntry, error) {
	return nil, nil
}
func (fakeLogs) ReadByOwner(ownerID int64, limit int) ([]agentrt.LogEntry, error) { return nil, nil }
func (fakeLogs) Prune(olderThan time.Time) (int64, error)                        { return 0, nil }

func newTestRouter(t *testing.T, budget time.Duration) (*Router, *fakeHistory) {
	t.Helper()
	history := &fakeHistory{}
	surfaceFactory := func(agentID, ownerID int64) *hostcall.Surface {
		return hostcall.New(agentID, ownerID, hostcall.Deps{Logs: fakeLogs{}})
	}
	r := NewRouter(Deps{
		History:       history,
		Logs:          fakeLogs{},
		Executor:      sandbox.NewExecutor(0),
		Surface:       surfaceFactory,
		Budget:        budget,
		MaxConcurrent: 4,
	})
	return r, history
}

func TestRouterFireManualSucceeds(t *testing.T) {
	r, history := newTestRouter(t, time.Second)
	agent := agentrt.Agent{ID: 1, OwnerID: 1, Artifact: `"ok";`}

	outcome, err := r.FireManual(context.Background(), agent)
	if err != nil {
		t.Fatalf("FireManual() error = %v", err)
	}
	if !outcome.Success {
		t.Fatalf("FireManual() outcome not successful: %s", outcome.Error)
	}
	if history.started != 1 || len(history.finished) != 1 || history.finished[0] != agentrt.ExecutionSuccess {
		t.Errorf("history = %+v, want one started+finished(success)", history)
	}
}

func TestRouterFireManualBusyReturnsErrBusy(t *testing.T) {
	r, _ := newTestRouter(t, 300*time.Millisecond)
	slowAgent := agentrt.Agent{ID: 1, OwnerID: 1, Artifact: `while(true){}`}

	var wg sync.WaitGroup
	var busyCount int32
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, err := r.FireManual(context.Background(), slowAgent)
			if errors.Is(err, agentrt.ErrBusy) {
				atomic.AddInt32(&busyCount, 1)
			}
		}()
	}
	wg.Wait()
	if busyCount == 0 {
		t.Error("expected at least one of two concurrent manual fires to be rejected with ErrBusy")
	}
}

func TestRouterFireManualRecordsRuntimeError(t *testing.T) {
	r, history := newTestRouter(t, time.Second)
	agent := agentrt.Agent{ID: 2, OwnerID: 1, Artifact: `undefinedThing.field;`}

	_, err := r.FireManual(context.Background(), agent)
	if err == nil {
		t.Fatal("FireManual() with a failing artifact should return an error")
	}
	if len(history.finished) != 1 || history.finished[0] != agentrt.ExecutionError {
		t.Errorf("history.finished = %+v, want [ExecutionError]", history.finished)
	}
	msg, ok := r.LastError(agent.ID)
	if !ok || msg == "" {
		t.Error("LastError() should report the failing artifact's error")
	}
}

func TestRouterFireScheduledDropsWhenBusy(t *testing.T) {
	r, history := newTestRouter(t, 200*time.Millisecond)
	lock := r.lockFor(5)
	lock.Lock()
	defer lock.Unlock()

	r.FireScheduled(context.Background(), agentrt.Agent{ID: 5, OwnerID: 1, Artifact: `notify("x")`})

	if history.started != 0 {
		t.Errorf("history.started = %d, want 0 (tick should be dropped while busy)", history.started)
	}
}

func TestRouterStagesRepairOnRuntimeFailure(t *testing.T) {
	history := &fakeHistory{}
	surfaceFactory := func(agentID, ownerID int64) *hostcall.Surface {
		return hostcall.New(agentID, ownerID, hostcall.Deps{Logs: fakeLogs{}})
	}
	synthesizer := synth.New([]synth.Model{fakeRepairModel{fixedArtifact: `"patched";`}}, 1)
	r := NewRouter(Deps{
		History:       history,
		Logs:          fakeLogs{},
		Executor:      sandbox.NewExecutor(0),
		Surface:       surfaceFactory,
		Budget:        time.Second,
		MaxConcurrent: 4,
		Synth:         synthesizer,
		RepairBudget:  1,
	})

	agent := agentrt.Agent{ID: 9, OwnerID: 7, Artifact: `undefinedThing.field;`}
	if _, err := r.FireManual(context.Background(), agent); err == nil {
		t.Fatal("FireManual() with a failing artifact should return an error")
	}

	artifact, lastErr, ok := r.PeekStagedRepair(agent.OwnerID, agent.ID)
	if !ok {
		t.Fatal("expected a repair to be staged after a runtime failure")
	}
	if artifact != `"patched";` {
		t.Errorf("staged artifact = %q, want %q", artifact, `"patched";`)
	}
	if lastErr == "" {
		t.Error("staged lastError should not be empty")
	}
	if agentID, ok := r.LatestStagedRepairAgent(agent.OwnerID); !ok || agentID != agent.ID {
		t.Errorf("LatestStagedRepairAgent() = (%d, %v), want (%d, true)", agentID, ok, agent.ID)
	}
}

func TestRouterDoesNotStageRepairOnTimeout(t *testing.T) {
	synthesizer := synth.New([]synth.Model{fakeRepairModel{fixedArtifact: `"patched";`}}, 1)
	history := &fakeHistory{}
	surfaceFactory := func(agentID, ownerID int64) *hostcall.Surface {
		return hostcall.New(agentID, ownerID, hostcall.Deps{Logs: fakeLogs{}})
	}
	r := NewRouter(Deps{
		History:       history,
		Logs:          fakeLogs{},
		Executor:      sandbox.NewExecutor(0),
		Surface:       surfaceFactory,
		Budget:        50 * time.Millisecond,
		MaxConcurrent: 4,
		Synth:         synthesizer,
		RepairBudget:  1,
	})

	agent := agentrt.Agent{ID: 11, OwnerID: 7, Artifact: `while (true) {}`}
	if _, err := r.FireManual(context.Background(), agent); err == nil {
		t.Fatal("FireManual() with an infinite loop should return an error")
	}
	if _, _, ok := r.PeekStagedRepair(agent.OwnerID, agent.ID); ok {
		t.Error("a sandbox-timeout failure should not trigger auto-repair staging")
	}
}
