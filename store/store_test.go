package store

import (
	"path/filepath"
	"testing"
	"time"

	agentrt "github.com/tonagent/runtime"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestArtifactStoreCreateGetOwnershipMask(t *testing.T) {
	db := openTestDB(t)
	artifacts := db.Artifacts()

	created, err := artifacts.Create(agentrt.Agent{
		OwnerID:     1,
		Name:        "reminder-bot",
		Description: "pings me",
		Artifact:    "notify('hi')",
		Trigger:     agentrt.NewManualTrigger(),
		Active:      true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == 0 {
		t.Fatal("Create() did not assign an ID")
	}

	got, err := artifacts.Get(1, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "reminder-bot" {
		t.Errorf("Get().Name = %q, want %q", got.Name, "reminder-bot")
	}

	_, err = artifacts.Get(2, created.ID)
	if !agentrt.IsNotFoundOrForbidden(err) {
		t.Errorf("Get() with wrong owner = %v, want not-found-or-forbidden", err)
	}

	_, err = artifacts.Get(1, 99999)
	if !agentrt.IsNotFoundOrForbidden(err) {
		t.Errorf("Get() on missing agent = %v, want not-found-or-forbidden", err)
	}
}

func TestArtifactStoreListActiveScheduled(t *testing.T) {
	db := openTestDB(t)
	artifacts := db.Artifacts()

	trig, err := agentrt.NewScheduledTrigger(time.Hour)
	if err != nil {
		t.Fatalf("NewScheduledTrigger() error = %v", err)
	}
	scheduled, err := artifacts.Create(agentrt.Agent{OwnerID: 1, Name: "a", Trigger: trig, Active: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err = artifacts.Create(agentrt.Agent{OwnerID: 1, Name: "b", Trigger: agentrt.NewManualTrigger(), Active: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err = artifacts.Create(agentrt.Agent{OwnerID: 1, Name: "c", Trigger: trig, Active: false})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	list, err := artifacts.ListActiveScheduled()
	if err != nil {
		t.Fatalf("ListActiveScheduled() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != scheduled.ID {
		t.Errorf("ListActiveScheduled() = %v, want exactly [%d]", list, scheduled.ID)
	}
}

func TestArtifactStoreGetByWebhookToken(t *testing.T) {
	db := openTestDB(t)
	artifacts := db.Artifacts()

	trig, err := agentrt.NewWebhookTrigger(NewWebhookToken())
	if err != nil {
		t.Fatalf("NewWebhookTrigger() error = %v", err)
	}
	created, err := artifacts.Create(agentrt.Agent{OwnerID: 1, Name: "hook", Trigger: trig, Active: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := artifacts.GetByWebhookToken(trig.WebhookToken)
	if err != nil {
		t.Fatalf("GetByWebhookToken() error = %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("GetByWebhookToken() = %+v, want id %d", got, created.ID)
	}

	_, err = artifacts.GetByWebhookToken("no-such-token")
	if !agentrt.IsNotFoundOrForbidden(err) {
		t.Errorf("GetByWebhookToken() for unknown token = %v, want not-found", err)
	}
}

func TestArtifactStoreUpdateCodeRefusesGateFailure(t *testing.T) {
	db := openTestDB(t)
	artifacts := db.Artifacts()

	created, err := artifacts.Create(agentrt.Agent{OwnerID: 1, Name: "a", Artifact: "v1", Trigger: agentrt.NewManualTrigger()})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := artifacts.UpdateCode(1, created.ID, "v2", false); err == nil {
		t.Fatal("UpdateCode() with gateOK=false should error")
	}

	got, err := artifacts.Get(1, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Artifact != "v1" {
		t.Errorf("artifact changed despite gate rejection: got %q", got.Artifact)
	}

	if err := artifacts.UpdateCode(1, created.ID, "v2", true); err != nil {
		t.Fatalf("UpdateCode() with gateOK=true error = %v", err)
	}
	got, err = artifacts.Get(1, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Artifact != "v2" {
		t.Errorf("artifact not updated: got %q", got.Artifact)
	}
}

func TestKVServiceSetGetUpsert(t *testing.T) {
	db := openTestDB(t)
	kv := db.KV()

	if _, found, err := kv.Get(1, "missing"); err != nil || found {
		t.Fatalf("Get() on missing key = (found=%v, err=%v), want (false, nil)", found, err)
	}

	if err := kv.Set(1, 1, "counter", "1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := kv.Set(1, 1, "counter", "2"); err != nil {
		t.Fatalf("Set() upsert error = %v", err)
	}

	value, found, err := kv.Get(1, "counter")
	if err != nil || !found || value != "2" {
		t.Errorf("Get() = (%q, %v, %v), want (\"2\", true, nil)", value, found, err)
	}

	if err := kv.Set(1, 1, "other", "x"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	all, err := kv.GetAll(1)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(all) != 2 || all["counter"] != "2" || all["other"] != "x" {
		t.Errorf("GetAll() = %v, want map[counter:2 other:x]", all)
	}

	if err := kv.DeleteAgent(1); err != nil {
		t.Fatalf("DeleteAgent() error = %v", err)
	}
	all, err = kv.GetAll(1)
	if err != nil {
		t.Fatalf("GetAll() after DeleteAgent() error = %v", err)
	}
	if len(all) != 0 {
		t.Errorf("GetAll() after DeleteAgent() = %v, want empty", all)
	}
}

func TestLogServiceAppendTruncatesAndReads(t *testing.T) {
	db := openTestDB(t)
	logs := db.Logs()

	huge := make([]byte, agentrt.MaxLogMessageLen+500)
	for i := range huge {
		huge[i] = 'x'
	}
	if err := logs.Append(1, 1, agentrt.LogInfo, string(huge), ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := logs.Append(1, 1, agentrt.LogError, "boom", "stack trace"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := logs.ReadByAgent(1, 10, 0)
	if err != nil {
		t.Fatalf("ReadByAgent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ReadByAgent() returned %d entries, want 2", len(entries))
	}
	if len(entries[1].Message) != agentrt.MaxLogMessageLen {
		t.Errorf("older entry should be the truncated one (newest-first puts the error entry at entry[0]); got message len %d for entry[1]", len(entries[1].Message))
	}

	byOwner, err := logs.ReadByOwner(1, 10)
	if err != nil {
		t.Fatalf("ReadByOwner() error = %v", err)
	}
	if len(byOwner) != 2 {
		t.Errorf("ReadByOwner() returned %d entries, want 2", len(byOwner))
	}

	n, err := logs.Prune(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() removed %d rows, want 2", n)
	}
}

func TestHistoryServiceStartFinishIdempotent(t *testing.T) {
	db := openTestDB(t)
	history := db.History()

	id, err := history.Start(1, 1, agentrt.TriggerManual)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := history.Finish(id, agentrt.ExecutionSuccess, 42, "", "did the thing"); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	// Second Finish call must be a no-op, not an error (finish-twice idempotence).
	if err := history.Finish(id, agentrt.ExecutionError, 999, "should not apply", "ignored"); err != nil {
		t.Fatalf("second Finish() error = %v", err)
	}

	rows, err := history.ByAgent(1, 10)
	if err != nil {
		t.Fatalf("ByAgent() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("ByAgent() returned %d rows, want 1", len(rows))
	}
	if rows[0].Status != agentrt.ExecutionSuccess {
		t.Errorf("Status = %v after double Finish, want ExecutionSuccess (first write wins)", rows[0].Status)
	}
	if rows[0].DurationMS == nil || *rows[0].DurationMS != 42 {
		t.Errorf("DurationMS = %v, want 42", rows[0].DurationMS)
	}
}

func TestHistoryServiceStatsAndReapStale(t *testing.T) {
	db := openTestDB(t)
	history := db.History()

	id1, _ := history.Start(1, 1, agentrt.TriggerManual)
	_ = history.Finish(id1, agentrt.ExecutionSuccess, 1, "", "")
	id2, _ := history.Start(1, 1, agentrt.TriggerManual)
	_ = history.Finish(id2, agentrt.ExecutionError, 1, "boom", "")
	_, err := history.Start(1, 1, agentrt.TriggerManual)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stats, err := history.Stats(1)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 3 || stats.Success != 1 || stats.Error != 1 {
		t.Errorf("Stats() = %+v, want Total=3 Success=1 Error=1", stats)
	}

	n, err := history.ReapStale(0)
	if err != nil {
		t.Fatalf("ReapStale() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ReapStale() reaped %d rows, want 1", n)
	}
}

func TestSessionStoreAppendRecentAndWaitingForInput(t *testing.T) {
	db := openTestDB(t)
	sessions := db.Sessions()

	if err := sessions.Append(1, "sess-a", RoleUser, "hello", ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := sessions.Append(1, "sess-a", RoleAssistant, "hi there", ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	recent, err := sessions.Recent(1, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent() returned %d messages, want 2", len(recent))
	}
	if recent[0].Role != RoleAssistant {
		t.Errorf("Recent()[0].Role = %v, want RoleAssistant (most recent first)", recent[0].Role)
	}

	if _, found, err := sessions.GetWaitingForInput(1); err != nil || found {
		t.Fatalf("GetWaitingForInput() = (found=%v, err=%v), want (false, nil)", found, err)
	}
	if err := sessions.SetWaitingForInput(1, "awaiting_name", `{"step":1}`); err != nil {
		t.Fatalf("SetWaitingForInput() error = %v", err)
	}
	w, found, err := sessions.GetWaitingForInput(1)
	if err != nil || !found || w.Kind != "awaiting_name" {
		t.Errorf("GetWaitingForInput() = (%+v, %v, %v)", w, found, err)
	}
	if err := sessions.ClearWaitingForInput(1); err != nil {
		t.Fatalf("ClearWaitingForInput() error = %v", err)
	}
	if _, found, _ := sessions.GetWaitingForInput(1); found {
		t.Error("GetWaitingForInput() after Clear should report not found")
	}

	if err := sessions.Clear(1); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	recent, err = sessions.Recent(1, 10)
	if err != nil || len(recent) != 0 {
		t.Errorf("Recent() after Clear() = %v, %v, want empty", recent, err)
	}
}

func TestSettingsStoreSecretsAndPluginIdempotence(t *testing.T) {
	db := openTestDB(t)
	settings := db.Settings()

	if _, found, err := settings.GetSecret(1, "api_key"); err != nil || found {
		t.Fatalf("GetSecret() on missing = (found=%v, err=%v)", found, err)
	}
	if err := settings.SetSecret(1, "api_key", "sekret"); err != nil {
		t.Fatalf("SetSecret() error = %v", err)
	}
	if err := settings.SetSecret(1, "api_key", "new-value"); err != nil {
		t.Fatalf("SetSecret() upsert error = %v", err)
	}
	value, found, err := settings.GetSecret(1, "api_key")
	if err != nil || !found || value != "new-value" {
		t.Errorf("GetSecret() = (%q, %v, %v), want (new-value, true, nil)", value, found, err)
	}

	if err := settings.InstallPlugin(1, "weather", `{"units":"metric"}`); err != nil {
		t.Fatalf("InstallPlugin() error = %v", err)
	}
	// Installing again must stay idempotent: exactly one row, no error.
	if err := settings.InstallPlugin(1, "weather", `{"units":"imperial"}`); err != nil {
		t.Fatalf("InstallPlugin() second call error = %v", err)
	}
	installed, err := settings.IsInstalled(1, "weather")
	if err != nil || !installed {
		t.Errorf("IsInstalled() = (%v, %v), want (true, nil)", installed, err)
	}
	plugins, err := settings.ListPlugins(1)
	if err != nil {
		t.Fatalf("ListPlugins() error = %v", err)
	}
	if len(plugins) != 1 || plugins[0].Config != `{"units":"imperial"}` {
		t.Errorf("ListPlugins() = %v, want exactly one row with the latest config", plugins)
	}

	if err := settings.UninstallPlugin(1, "weather"); err != nil {
		t.Fatalf("UninstallPlugin() error = %v", err)
	}
	if installed, _ := settings.IsInstalled(1, "weather"); installed {
		t.Error("IsInstalled() after Uninstall should be false")
	}
}

func TestMarketplacePublishListAndPurchaseIdempotence(t *testing.T) {
	db := openTestDB(t)
	artifacts := db.Artifacts()
	marketplace := db.Marketplace()

	source, err := artifacts.Create(agentrt.Agent{OwnerID: 1, Name: "price-watcher", Artifact: "code", Trigger: agentrt.NewManualTrigger()})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	listing, err := marketplace.Publish(MarketplaceListing{
		SellerOwnerID: 1,
		SourceAgentID: source.ID,
		Title:         "Price Watcher",
		Description:   "watches a TON price feed",
		PriceAmount:   "5.00",
		PriceCurrency: "USD",
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if listing.ID == 0 {
		t.Fatal("Publish() did not assign an ID")
	}

	listed, err := marketplace.ListListings()
	if err != nil {
		t.Fatalf("ListListings() error = %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("ListListings() returned %d rows, want 1", len(listed))
	}

	copyCalls := 0
	copyAgent := func(src agentrt.Agent) (agentrt.Agent, error) {
		copyCalls++
		return artifacts.Create(agentrt.Agent{
			OwnerID:  2,
			Name:     src.Name,
			Artifact: src.Artifact,
			Trigger:  agentrt.NewManualTrigger(),
		})
	}

	first, err := marketplace.Purchase(listing.ID, 2, copyAgent)
	if err != nil {
		t.Fatalf("Purchase() error = %v", err)
	}
	if first.NewAgentID == 0 {
		t.Fatal("Purchase() did not produce a new agent id")
	}
	if first.NewAgentID == source.ID {
		t.Error("Purchase() must mint a new agent, not reference the seller's")
	}

	second, err := marketplace.Purchase(listing.ID, 2, copyAgent)
	if err != nil {
		t.Fatalf("second Purchase() error = %v", err)
	}
	if second.NewAgentID != first.NewAgentID {
		t.Errorf("second Purchase() NewAgentID = %d, want %d (idempotent)", second.NewAgentID, first.NewAgentID)
	}
	if copyCalls != 1 {
		t.Errorf("copyAgent invoked %d times, want exactly 1 (idempotent purchase must not mint a second copy)", copyCalls)
	}

	buyerAgents, err := artifacts.ListByOwner(2)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(buyerAgents) != 1 {
		t.Errorf("buyer owns %d agents, want exactly 1", len(buyerAgents))
	}
}
