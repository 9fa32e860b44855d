package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/hostcall"
	"github.com/tonagent/runtime/sandbox"
	"github.com/tonagent/runtime/schedule"
	"github.com/tonagent/runtime/store"
	"github.com/tonagent/runtime/synth"
)

// scriptedModel answers Classify/Draft/Repair calls by pattern-matching the
// system prompt each synth.Synthesizer method sends, most specific first.
type scriptedModel struct {
	draftJSON  string
	intent     string
	repairText string
}

func (m *scriptedModel) Name() string { return "scripted" }
func (m *scriptedModel) Generate(ctx context.Context, messages []synth.Message, timeout time.Duration) (string, error) {
	system := messages[0].Content
	switch {
	case strings.Contains(system, "Reply with a JSON object"):
		return m.draftJSON, nil
	case strings.Contains(system, "Classify the user's"):
		return m.intent, nil
	case strings.Contains(system, "You repair a JavaScript artifact"):
		return m.repairText, nil
	default:
		return "", nil
	}
}

type fakeArtifactStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]agentrt.Agent
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{byID: make(map[int64]agentrt.Agent)}
}

func (f *fakeArtifactStore) Create(a agentrt.Agent) (agentrt.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a.ID = f.nextID
	f.byID[a.ID] = a
	return a, nil
}
func (f *fakeArtifactStore) Get(ownerID, agentID int64) (agentrt.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[agentID]
	if !ok || a.OwnerID != ownerID {
		return agentrt.Agent{}, agentrt.WrapOwnership(agentrt.ErrNotFound, "agent not found")
	}
	return a, nil
}
func (f *fakeArtifactStore) GetAny(agentID int64) (agentrt.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[agentID], nil
}
func (f *fakeArtifactStore) ListByOwner(ownerID int64) ([]agentrt.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []agentrt.Agent
	for _, a := range f.byID {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeArtifactStore) ListActiveScheduled() ([]agentrt.Agent, error) { return nil, nil }
func (f *fakeArtifactStore) GetByWebhookToken(token string) (agentrt.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.Trigger.Kind == agentrt.TriggerWebhook && a.Trigger.WebhookToken == token {
			return a, nil
		}
	}
	return agentrt.Agent{}, agentrt.WrapOwnership(agentrt.ErrNotFound, "no such webhook")
}
func (f *fakeArtifactStore) UpdateMetadata(ownerID, agentID int64, name, description string, trig agentrt.Trigger, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[agentID]
	if !ok || a.OwnerID != ownerID {
		return agentrt.WrapOwnership(agentrt.ErrNotFound, "agent not found")
	}
	a.Name, a.Description, a.Trigger, a.Active = name, description, trig, active
	f.byID[agentID] = a
	return nil
}
func (f *fakeArtifactStore) UpdateCode(ownerID, agentID int64, artifact string, gateOK bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.byID[agentID]
	a.Artifact = artifact
	f.byID[agentID] = a
	return nil
}
func (f *fakeArtifactStore) Delete(ownerID, agentID int64) error { return nil }

type fakeMarketplace struct {
	mu         sync.Mutex
	nextListID int64
	listings   map[int64]store.MarketplaceListing
	purchases  map[string]store.MarketplacePurchase
}

func newFakeMarketplace() *fakeMarketplace {
	return &fakeMarketplace{listings: make(map[int64]store.MarketplaceListing), purchases: make(map[string]store.MarketplacePurchase)}
}

func (f *fakeMarketplace) Publish(l store.MarketplaceListing) (store.MarketplaceListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextListID++
	l.ID = f.nextListID
	f.listings[l.ID] = l
	return l, nil
}

func (f *fakeMarketplace) ListListings() ([]store.MarketplaceListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.MarketplaceListing
	for _, l := range f.listings {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeMarketplace) Purchase(listingID, buyerOwnerID int64, copyAgent func(source agentrt.Agent) (agentrt.Agent, error)) (store.MarketplacePurchase, error) {
	f.mu.Lock()
	key := fmt.Sprintf("%d:%d", listingID, buyerOwnerID)
	if existing, ok := f.purchases[key]; ok {
		f.mu.Unlock()
		return existing, nil
	}
	_, ok := f.listings[listingID]
	f.mu.Unlock()
	if !ok {
		return store.MarketplacePurchase{}, agentrt.WrapOwnership(agentrt.ErrNotFound, "no such listing")
	}
	copied, err := copyAgent(agentrt.Agent{Name: "copied"})
	if err != nil {
		return store.MarketplacePurchase{}, err
	}
	purchase := store.MarketplacePurchase{ID: listingID, ListingID: listingID, BuyerOwnerID: buyerOwnerID, NewAgentID: copied.ID}
	f.mu.Lock()
	f.purchases[key] = purchase
	f.mu.Unlock()
	return purchase, nil
}

type fakeSessions struct {
	mu      sync.Mutex
	waiting map[int64]store.WaitingForInput
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{waiting: make(map[int64]store.WaitingForInput)}
}
func (s *fakeSessions) Append(userID int64, sessionID string, role store.SessionRole, content, metadata string) error {
	return nil
}
func (s *fakeSessions) Recent(userID int64, limit int) ([]store.SessionMessage, error) { return nil, nil }
func (s *fakeSessions) Clear(userID int64) error                                       { return nil }
func (s *fakeSessions) SetWaitingForInput(userID int64, kind, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting[userID] = store.WaitingForInput{UserID: userID, Kind: kind, Payload: payload, UpdatedAt: time.Now()}
	return nil
}
func (s *fakeSessions) GetWaitingForInput(userID int64) (store.WaitingForInput, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.waiting[userID]
	return w, ok, nil
}
func (s *fakeSessions) ClearWaitingForInput(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waiting, userID)
	return nil
}

type fakeHistoryService struct{}

func (fakeHistoryService) Start(agentID, ownerID int64, trig agentrt.TriggerKind) (int64, error) {
	return 1, nil
}
func (fakeHistoryService) Finish(executionID int64, status agentrt.ExecutionStatus, durationMS int64, errMsg, summary string) error {
	return nil
}
func (fakeHistoryService) ByAgent(agentID int64, limit int) ([]agentrt.Execution, error) { return nil, nil }
func (fakeHistoryService) ByOwner(ownerID int64, limit int) ([]agentrt.Execution, error) { return nil, nil }
func (fakeHistoryService) Stats(ownerID int64) (store.Stats, error)                      { return store.Stats{}, nil }

type fakeLogService struct{}

func (fakeLogService) Append(agentID, ownerID int64, level agentrt.LogLevel, message, detail string) error {
	return nil
}
func (fakeLogService) ReadByAgent(agentID int64, limit, offset int) ([]agentrt.LogEntry, error) {
	return nil, nil
}
func (fakeLogService) ReadByOwner(ownerID int64, limit int) ([]agentrt.LogEntry, error) { return nil, nil }
func (fakeLogService) Prune(olderThan time.Time) (int64, error)                        { return 0, nil }

type fakeTransport struct {
	mu   sync.Mutex
	sent []string
}

func (t *fakeTransport) Send(ctx context.Context, userID int64, content string, actions []string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, content)
	return "msg-1", nil
}
func (t *fakeTransport) Edit(ctx context.Context, userID int64, messageID string, content string) error {
	return nil
}

func newTestOrchestrator() (*Orchestrator, *fakeArtifactStore) {
	artifacts := newFakeArtifactStore()
	memory := NewMemory(newFakeSessions())
	model := &scriptedModel{
		intent:    "create",
		draftJSON: `{"artifact": "notify(\"hi\");", "name": "greeter", "description": "says hi"}`,
	}
	synthesizer := synth.New([]synth.Model{model}, 2)
	router := schedule.NewRouter(schedule.Deps{
		History:  fakeHistoryService{},
		Logs:     fakeLogService{},
		Executor: sandbox.NewExecutor(0),
		Surface: func(agentID, ownerID int64) *hostcall.Surface {
			return hostcall.New(agentID, ownerID, hostcall.Deps{Logs: fakeLogService{}})
		},
		Budget:        time.Second,
		MaxConcurrent: 4,
	})
	sched := schedule.New(artifacts, func(ctx context.Context, agentID, ownerID int64) {}, false)
	o := New(artifacts, memory, synthesizer, sched, router, newFakeMarketplace(), nil)
	return o, artifacts
}

func TestOrchestratorCreateFlowEndToEnd(t *testing.T) {
	o, artifacts := newTestOrchestrator()
	ctx := context.Background()
	const userID = int64(7)

	reply, err := o.Dispatch(ctx, userID, "please create an agent that says hi")
	if err != nil || !strings.Contains(reply, "name") {
		t.Fatalf("Dispatch() first turn = %q, err = %v", reply, err)
	}

	reply, err = o.Dispatch(ctx, userID, "greeter")
	if err != nil || !strings.Contains(reply, "schedule") {
		t.Fatalf("Dispatch() second turn = %q, err = %v", reply, err)
	}

	reply, err = o.Dispatch(ctx, userID, "manual")
	if err != nil {
		t.Fatalf("Dispatch() third turn error = %v", err)
	}
	if !strings.Contains(reply, "Created agent") {
		t.Errorf("Dispatch() third turn = %q, want a created-agent confirmation", reply)
	}

	agents, _ := artifacts.ListByOwner(userID)
	if len(agents) != 1 || agents[0].Name != "greeter" {
		t.Errorf("artifacts after create flow = %+v, want one agent named greeter", agents)
	}
}

func TestOrchestratorListAgents(t *testing.T) {
	o, artifacts := newTestOrchestrator()
	artifacts.Create(agentrt.Agent{OwnerID: 9, Name: "a1", Trigger: agentrt.NewManualTrigger()})

	reply, err := o.listAgents(9)
	if err != nil {
		t.Fatalf("listAgents() error = %v", err)
	}
	if !strings.Contains(reply, "a1") {
		t.Errorf("listAgents() = %q, want it to mention a1", reply)
	}
}

func TestOrchestratorRunNamedSuccess(t *testing.T) {
	o, artifacts := newTestOrchestrator()
	agent, _ := artifacts.Create(agentrt.Agent{
		OwnerID: 3, Name: "pinger", Artifact: `"ok";`, Trigger: agentrt.NewManualTrigger(),
	})

	reply, err := o.runNamed(context.Background(), 3, "run agent #"+itoa(agent.ID))
	if err != nil {
		t.Fatalf("runNamed() error = %v", err)
	}
	if !strings.Contains(reply, "ran successfully") {
		t.Errorf("runNamed() = %q, want success message", reply)
	}
}

func TestOrchestratorRunNamedOffersAutoRepair(t *testing.T) {
	artifacts := newFakeArtifactStore()
	memory := NewMemory(newFakeSessions())
	repairModel := &scriptedModel{}
	synthesizer := synth.New([]synth.Model{repairModel}, 1)
	router := schedule.NewRouter(schedule.Deps{
		History:  fakeHistoryService{},
		Logs:     fakeLogService{},
		Executor: sandbox.NewExecutor(0),
		Surface: func(agentID, ownerID int64) *hostcall.Surface {
			return hostcall.New(agentID, ownerID, hostcall.Deps{Logs: fakeLogService{}})
		},
		Budget:        time.Second,
		MaxConcurrent: 4,
		Synth:         synthesizer,
		RepairBudget:  1,
	})
	sched := schedule.New(artifacts, func(ctx context.Context, agentID, ownerID int64) {}, false)
	o := New(artifacts, memory, synthesizer, sched, router, newFakeMarketplace(), nil)

	agent, _ := artifacts.Create(agentrt.Agent{
		OwnerID: 4, Name: "broken", Artifact: `undefinedThing.field;`, Trigger: agentrt.NewManualTrigger(),
	})
	repairModel.repairText = `"patched";`

	reply, err := o.runNamed(context.Background(), 4, "run agent #"+itoa(agent.ID))
	if err != nil {
		t.Fatalf("runNamed() error = %v", err)
	}
	if !strings.Contains(reply, "drafted a fix") {
		t.Fatalf("runNamed() = %q, want an auto-repair offer", reply)
	}

	applyReply, err := o.Dispatch(context.Background(), 4, "approve")
	if err != nil {
		t.Fatalf("Dispatch(\"approve\") error = %v", err)
	}
	if !strings.Contains(applyReply, "Applied the fix") {
		t.Errorf("Dispatch(\"approve\") = %q, want confirmation", applyReply)
	}

	updated, _ := artifacts.Get(4, agent.ID)
	if updated.Artifact != `"patched";` {
		t.Errorf("artifact after approve = %q, want the staged patch applied", updated.Artifact)
	}
}

func TestOrchestratorModifyFlowAppliesCodeChange(t *testing.T) {
	o, artifacts := newTestOrchestrator()
	model := o.Synth.Models[0].(*scriptedModel)
	model.repairText = `"patched for modify";`
	ctx := context.Background()
	const userID = int64(5)

	agent, _ := artifacts.Create(agentrt.Agent{
		OwnerID: userID, Name: "pinger", Artifact: `"ok";`, Trigger: agentrt.NewManualTrigger(),
	})

	reply, err := o.beginModify(userID, "modify my agent")
	if err != nil || !strings.Contains(reply, "Which agent") {
		t.Fatalf("beginModify() = %q, err = %v", reply, err)
	}

	reply, err = o.Dispatch(ctx, userID, "#"+itoa(agent.ID)+": also log the result")
	if err != nil {
		t.Fatalf("Dispatch(modify change) error = %v", err)
	}
	if !strings.Contains(reply, "Updated agent") {
		t.Fatalf("Dispatch(modify change) = %q, want an update confirmation", reply)
	}

	updated, _ := artifacts.Get(userID, agent.ID)
	if updated.Artifact != `"patched for modify";` {
		t.Errorf("artifact after modify = %q, want the repaired artifact", updated.Artifact)
	}
}

func TestOrchestratorModifyFlowRenameAsksFollowUp(t *testing.T) {
	o, artifacts := newTestOrchestrator()
	ctx := context.Background()
	const userID = int64(6)

	agent, _ := artifacts.Create(agentrt.Agent{
		OwnerID: userID, Name: "old-name", Artifact: `"ok";`, Trigger: agentrt.NewManualTrigger(),
	})

	if _, err := o.beginModify(userID, "modify my agent"); err != nil {
		t.Fatalf("beginModify() error = %v", err)
	}

	reply, err := o.Dispatch(ctx, userID, "#"+itoa(agent.ID)+": rename it")
	if err != nil || !strings.Contains(reply, "rename it to") {
		t.Fatalf("Dispatch(rename without name) = %q, err = %v", reply, err)
	}

	reply, err = o.Dispatch(ctx, userID, "new-name")
	if err != nil || !strings.Contains(reply, "Renamed agent") {
		t.Fatalf("Dispatch(rename follow-up) = %q, err = %v", reply, err)
	}

	updated, _ := artifacts.Get(userID, agent.ID)
	if updated.Name != "new-name" {
		t.Errorf("agent name after rename = %q, want new-name", updated.Name)
	}
}

func TestOrchestratorPublishAndPurchaseFlow(t *testing.T) {
	o, artifacts := newTestOrchestrator()
	ctx := context.Background()
	const sellerID, buyerID = int64(10), int64(11)

	agent, _ := artifacts.Create(agentrt.Agent{
		OwnerID: sellerID, Name: "tracker", Artifact: `"ok";`, Trigger: agentrt.NewManualTrigger(),
	})

	reply, err := o.Dispatch(ctx, sellerID, "publish agent #"+itoa(agent.ID))
	if err != nil || !strings.Contains(reply, "titled") {
		t.Fatalf("Dispatch(publish) = %q, err = %v", reply, err)
	}

	reply, err = o.Dispatch(ctx, sellerID, "Tracker Pro - 5 TON")
	if err != nil {
		t.Fatalf("Dispatch(listing details) error = %v", err)
	}
	if !strings.Contains(reply, "Published listing") {
		t.Fatalf("Dispatch(listing details) = %q, want a publish confirmation", reply)
	}

	reply, err = o.Dispatch(ctx, buyerID, "marketplace")
	if err != nil || !strings.Contains(reply, "Tracker Pro") {
		t.Fatalf("Dispatch(marketplace) = %q, err = %v", reply, err)
	}

	reply, err = o.Dispatch(ctx, buyerID, "buy listing #1")
	if err != nil {
		t.Fatalf("Dispatch(buy) error = %v", err)
	}
	if !strings.Contains(reply, "Purchased listing") {
		t.Fatalf("Dispatch(buy) = %q, want a purchase confirmation", reply)
	}

	buyerAgents, _ := artifacts.ListByOwner(buyerID)
	if len(buyerAgents) != 1 {
		t.Fatalf("buyer agents = %+v, want exactly one copied agent", buyerAgents)
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}
