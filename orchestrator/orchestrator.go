package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/schedule"
	"github.com/tonagent/runtime/store"
	"github.com/tonagent/runtime/synth"
)

// animationInterval is the cadence progress-animation edits land on (§4.9
// item 3).
const animationInterval = 3 * time.Second

// Orchestrator is the conversational dispatcher (§4.9): it classifies a
// utterance, drives the Pending Multi-Turn State table, and calls into the
// Synthesizer, Artifact Store, Scheduler, and Trigger Router to realize the
// user's intent. Grounded on the teacher's Orchestrator (process-registry
// shape) generalized from "spawn/kill/list LLM processes" to "create/modify
// /run/list agents".
type Orchestrator struct {
	Artifacts   store.ArtifactStore
	Memory      *Memory
	Synth       *synth.Synthesizer
	Scheduler   *schedule.Scheduler
	Router      *schedule.Router
	Marketplace store.MarketplaceStore
	Transport   Transport
}

// New builds an Orchestrator. All fields are required except Marketplace and
// Transport: a nil Marketplace disables the publish/buy/marketplace chat
// commands (they reply with a plain "not available" message instead of
// panicking), and a nil Transport skips outbound delivery for tests that
// only exercise the non-conversational paths.
func New(artifacts store.ArtifactStore, memory *Memory, synthesizer *synth.Synthesizer, scheduler *schedule.Scheduler, router *schedule.Router, marketplace store.MarketplaceStore, transport Transport) *Orchestrator {
	return &Orchestrator{
		Artifacts:   artifacts,
		Memory:      memory,
		Synth:       synthesizer,
		Scheduler:   scheduler,
		Router:      router,
		Marketplace: marketplace,
		Transport:   transport,
	}
}

// Dispatch handles one inbound utterance from userID. Any error returned by
// a sub-flow is caught here and reported as a generic user-facing message;
// the Scheduler and Trigger Router are never affected by an Orchestrator
// failure (§4.9 "Failure semantics").
func (o *Orchestrator) Dispatch(ctx context.Context, userID int64, utterance string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator: panic recovered", "user_id", userID, "panic", r)
			reply = "Something went wrong handling that. Please try again."
			err = nil
		}
	}()

	_ = o.Memory.Append(userID, sessionID(userID), store.RoleUser, utterance, "")

	if strings.TrimSpace(utterance) == "" {
		return "I didn't catch that — could you rephrase?", nil
	}

	lower := strings.ToLower(strings.TrimSpace(utterance))
	switch {
	case lower == "approve":
		reply, err = o.approveStagedRepair(userID)
	case lower == "discard":
		reply, err = o.discardStagedRepair(userID)
	case lower == "marketplace" || lower == "listings":
		reply, err = o.listMarketplace()
	case strings.HasPrefix(lower, "publish "):
		reply, err = o.beginPublish(userID, utterance)
	case strings.HasPrefix(lower, "buy ") || strings.HasPrefix(lower, "purchase "):
		reply, err = o.purchaseListing(userID, utterance)
	default:
		if pending, ok, perr := o.Memory.GetPending(userID); perr == nil && ok {
			reply, err = o.resumePending(ctx, userID, pending, utterance)
		} else {
			reply, err = o.dispatchFresh(ctx, userID, utterance)
		}
	}

	if err != nil {
		slog.Warn("orchestrator: dispatch failed", "user_id", userID, "error", err)
		reply = "I ran into a problem with that request. Please try again."
		err = nil
	}
	_ = o.Memory.Append(userID, sessionID(userID), store.RoleAssistant, reply, "")

	if o.Transport != nil {
		if _, sendErr := sendWithFallback(ctx, o.Transport, userID, reply, nil); sendErr != nil {
			slog.Warn("orchestrator: reply delivery failed", "user_id", userID, "error", sendErr)
		}
	}
	return reply, nil
}

func (o *Orchestrator) dispatchFresh(ctx context.Context, userID int64, utterance string) (string, error) {
	intent, err := o.Synth.Classify(ctx, utterance)
	if err != nil {
		return "", err
	}

	switch intent {
	case synth.IntentCreate:
		return o.beginCreate(userID, utterance)
	case synth.IntentList:
		return o.listAgents(userID)
	case synth.IntentRun:
		return o.runNamed(ctx, userID, utterance)
	case synth.IntentModify:
		return o.beginModify(userID, utterance)
	default:
		return "I can create, run, list, or modify your agents. What would you like to do?", nil
	}
}

// beginCreate starts the create flow by asking for a name (§4.9 item 2).
func (o *Orchestrator) beginCreate(userID int64, task string) (string, error) {
	if err := o.Memory.SetPending(userID, Pending{
		Kind: AwaitingName,
		Data: map[string]string{"task": task},
	}); err != nil {
		return "", err
	}
	return "What would you like to name this agent?", nil
}

// beginModify starts the modify flow: ask which agent, what change.
func (o *Orchestrator) beginModify(userID int64, request string) (string, error) {
	if err := o.Memory.SetPending(userID, Pending{
		Kind: AwaitingEdit,
		Data: map[string]string{"request": request},
	}); err != nil {
		return "", err
	}
	return "Which agent would you like to modify, and what should change?", nil
}

func (o *Orchestrator) listAgents(userID int64) (string, error) {
	agents, err := o.Artifacts.ListByOwner(userID)
	if err != nil {
		return "", err
	}
	if len(agents) == 0 {
		return "You don't have any agents yet.", nil
	}
	var b strings.Builder
	for _, a := range agents {
		state := "inactive"
		if a.Active {
			state = "active"
		}
		fmt.Fprintf(&b, "#%d %s (%s, %s)\n", a.ID, a.Name, a.Trigger.Kind, state)
	}
	return b.String(), nil
}

// resumePending continues a parked multi-turn flow with the next utterance.
func (o *Orchestrator) resumePending(ctx context.Context, userID int64, pending Pending, utterance string) (string, error) {
	switch pending.Kind {
	case AwaitingName:
		return o.continueCreateWithName(userID, pending, utterance)
	case AwaitingSchedule:
		return o.finishCreate(ctx, userID, pending, utterance)
	case AwaitingTemplateVariable:
		return o.continueTemplateVariable(ctx, userID, pending, utterance)
	case AwaitingEdit:
		return o.continueModify(ctx, userID, pending, utterance)
	case AwaitingRename:
		return o.continueRename(userID, pending, utterance)
	case AwaitingPublishName:
		return o.continuePublish(userID, pending, utterance)
	default:
		_ = o.Memory.ClearPending(userID)
		return o.dispatchFresh(ctx, userID, utterance)
	}
}

func (o *Orchestrator) continueCreateWithName(userID int64, pending Pending, name string) (string, error) {
	pending.Kind = AwaitingSchedule
	pending.Data["name"] = strings.TrimSpace(name)
	if err := o.Memory.SetPending(userID, pending); err != nil {
		return "", err
	}
	return "How often should this run — manually, or on a schedule (e.g. \"every 5 minutes\")?", nil
}

// finishCreate drafts the artifact and either creates the agent immediately
// or, if the draft references unfilled {{TEMPLATE_VAR}} placeholders, parks
// an AwaitingTemplateVariable flow to collect them one at a time before
// creating (§3 "the partially filled template variables").
func (o *Orchestrator) finishCreate(ctx context.Context, userID int64, pending Pending, scheduleHint string) (string, error) {
	var anim *animator
	if o.Transport != nil {
		anim = startAnimator(ctx, o.Transport, userID, animationInterval)
	}
	draft, err := o.Synth.Draft(ctx, synth.DraftRequest{
		Task:          pending.Data["task"],
		SuggestedName: pending.Data["name"],
		TriggerHint:   scheduleHint,
	})
	if anim != nil {
		anim.stop()
	}
	if err != nil {
		o.Memory.ClearPending(userID)
		return "", err
	}

	name := pending.Data["name"]
	if name == "" {
		name = draft.ProposedName
	}

	if vars := templateVariables(draft.Artifact); len(vars) > 0 {
		pending.Kind = AwaitingTemplateVariable
		pending.Data["name"] = name
		pending.Data["description"] = draft.Description
		pending.Data["artifact"] = draft.Artifact
		pending.Data["trigger_hint"] = scheduleHint
		pending.Data["template_vars"] = strings.Join(vars, ",")
		pending.Data["template_answered"] = ""
		if err := o.Memory.SetPending(userID, pending); err != nil {
			return "", err
		}
		return fmt.Sprintf("This agent needs a value for %q — what should it be?", vars[0]), nil
	}

	defer o.Memory.ClearPending(userID)
	return o.createAgent(ctx, userID, name, draft.Description, draft.Artifact, scheduleHint)
}

// continueTemplateVariable collects one {{TEMPLATE_VAR}} answer per turn,
// substituting every collected value into the drafted artifact and creating
// the agent once all variables named in template_vars have an answer.
func (o *Orchestrator) continueTemplateVariable(ctx context.Context, userID int64, pending Pending, value string) (string, error) {
	vars := splitCSV(pending.Data["template_vars"])
	answered := splitCSV(pending.Data["template_answered"])
	answered = append(answered, strings.TrimSpace(value))

	if len(answered) < len(vars) {
		pending.Data["template_answered"] = strings.Join(answered, ",")
		if err := o.Memory.SetPending(userID, pending); err != nil {
			return "", err
		}
		return fmt.Sprintf("Got it. Now what should %q be?", vars[len(answered)]), nil
	}

	defer o.Memory.ClearPending(userID)
	values := make(map[string]string, len(vars))
	for i, name := range vars {
		values[name] = answered[i]
	}
	artifact := substituteTemplateVariables(pending.Data["artifact"], values)
	return o.createAgent(ctx, userID, pending.Data["name"], pending.Data["description"], artifact, pending.Data["trigger_hint"])
}

// createAgent writes the agent row and, for an active scheduled trigger,
// registers it with the Scheduler. Shared by the direct-create and
// template-variable-resolved paths.
func (o *Orchestrator) createAgent(ctx context.Context, userID int64, name, description, artifact, scheduleHint string) (string, error) {
	trigger, active, err := parseTriggerHint(scheduleHint)
	if err != nil {
		return "", err
	}

	agent, err := o.Artifacts.Create(agentrt.Agent{
		OwnerID:     userID,
		Name:        name,
		Description: description,
		Artifact:    artifact,
		Trigger:     trigger,
		Active:      active,
	})
	if err != nil {
		return "", err
	}

	if active && trigger.Kind == agentrt.TriggerScheduled && o.Scheduler != nil {
		if err := o.Scheduler.Register(ctx, agent); err != nil {
			slog.Warn("orchestrator: scheduler registration failed", "agent_id", agent.ID, "error", err)
		}
	}

	return fmt.Sprintf("Created agent #%d (\"%s\"). It's %s.", agent.ID, agent.Name, triggerSummary(trigger, active)), nil
}

// continueModify resolves the pending "which agent, what change" reply
// against a specific agent: a recognized "rename ... to X" request goes
// through UpdateMetadata directly (asking a follow-up if X was omitted),
// anything else is treated as a code change and run through Synth.Repair
// before being written back with UpdateCode (§4.9 item 4).
func (o *Orchestrator) continueModify(ctx context.Context, userID int64, pending Pending, reply string) (string, error) {
	agentID, ok := extractAgentID(reply)
	if !ok {
		agentID, ok = extractAgentID(pending.Data["request"])
	}
	if !ok {
		o.Memory.ClearPending(userID)
		return "I need an agent id — please say \"#N: <what should change>\".", nil
	}
	agent, err := o.Artifacts.Get(userID, agentID)
	if err != nil {
		o.Memory.ClearPending(userID)
		return "", err
	}

	change := extractChangeText(reply)
	if change == "" {
		change = extractChangeText(pending.Data["request"])
	}

	if newName, isRename := parseRenameRequest(change); isRename {
		if newName == "" {
			pending.Kind = AwaitingRename
			pending.Data["agent_id"] = strconv.FormatInt(agentID, 10)
			if err := o.Memory.SetPending(userID, pending); err != nil {
				return "", err
			}
			return "What would you like to rename it to?", nil
		}
		o.Memory.ClearPending(userID)
		if err := o.Artifacts.UpdateMetadata(userID, agentID, newName, agent.Description, agent.Trigger, agent.Active); err != nil {
			return "", err
		}
		return fmt.Sprintf("Renamed agent #%d to %q.", agentID, newName), nil
	}

	o.Memory.ClearPending(userID)
	patched, err := o.Synth.Repair(ctx, synth.RepairRequest{Artifact: agent.Artifact, ModificationRequest: change})
	if err != nil {
		return "", err
	}
	if err := o.Artifacts.UpdateCode(userID, agentID, patched, true); err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated agent #%d.", agentID), nil
}

// continueRename applies the new name collected after an ambiguous "rename"
// request (§3 awaiting_rename).
func (o *Orchestrator) continueRename(userID int64, pending Pending, newName string) (string, error) {
	defer o.Memory.ClearPending(userID)
	agentID, err := strconv.ParseInt(pending.Data["agent_id"], 10, 64)
	if err != nil {
		return "", err
	}
	agent, err := o.Artifacts.Get(userID, agentID)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(newName)
	if name == "" {
		return "That name won't work — try again?", nil
	}
	if err := o.Artifacts.UpdateMetadata(userID, agentID, name, agent.Description, agent.Trigger, agent.Active); err != nil {
		return "", err
	}
	return fmt.Sprintf("Renamed agent #%d to %q.", agentID, name), nil
}

// runNamed handles an explicit "run agent #N" utterance via the Trigger
// Router's manual path.
func (o *Orchestrator) runNamed(ctx context.Context, userID int64, utterance string) (string, error) {
	agentID, ok := extractAgentID(utterance)
	if !ok {
		return "Which agent would you like to run? Say \"run agent #N\".", nil
	}
	agent, err := o.Artifacts.Get(userID, agentID)
	if err != nil {
		return "", err
	}
	outcome, err := o.Router.FireManual(ctx, agent)
	if err != nil {
		if artifact, lastErr, has := o.Router.PeekStagedRepair(userID, agent.ID); has {
			return fmt.Sprintf("Agent #%d failed: %s\nI've drafted a fix. Reply \"approve\" to apply it or \"discard\" to drop it:\n%s", agent.ID, lastErr, artifact), nil
		}
		return fmt.Sprintf("Agent #%d failed: %v", agent.ID, err), nil
	}
	return fmt.Sprintf("Agent #%d ran successfully in %dms.", agent.ID, outcome.DurationMS), nil
}

// ApproveRepair applies the most recently staged repair for (ownerID,
// agentID), driven by an explicit user approval (§4.9 item 5). The Trigger
// Router owns the staged repair itself — this is a thin pass-through for
// callers (e.g. the dashboard) that already know the agent id.
func (o *Orchestrator) ApproveRepair(ownerID, agentID int64) error {
	return o.Router.ApplyStagedRepair(ownerID, agentID)
}

// approveStagedRepair resolves a bare "approve" chat reply to the most
// recently staged repair for userID and applies it.
func (o *Orchestrator) approveStagedRepair(userID int64) (string, error) {
	agentID, ok := o.Router.LatestStagedRepairAgent(userID)
	if !ok {
		return "There's nothing staged to approve.", nil
	}
	if err := o.Router.ApplyStagedRepair(userID, agentID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Applied the fix to agent #%d.", agentID), nil
}

// discardStagedRepair resolves a bare "discard" chat reply to the most
// recently staged repair for userID and drops it without applying it.
func (o *Orchestrator) discardStagedRepair(userID int64) (string, error) {
	agentID, ok := o.Router.LatestStagedRepairAgent(userID)
	if !ok {
		return "There's nothing staged to discard.", nil
	}
	o.Router.DiscardStagedRepair(userID, agentID)
	return fmt.Sprintf("Discarded the drafted fix for agent #%d.", agentID), nil
}

// listMarketplace replies with every published listing (§4.9, §3).
func (o *Orchestrator) listMarketplace() (string, error) {
	if o.Marketplace == nil {
		return "The marketplace isn't available right now.", nil
	}
	listings, err := o.Marketplace.ListListings()
	if err != nil {
		return "", err
	}
	if len(listings) == 0 {
		return "The marketplace has no listings yet.", nil
	}
	var b strings.Builder
	for _, l := range listings {
		fmt.Fprintf(&b, "#%d %s — %s %s\n", l.ID, l.Title, l.PriceAmount, l.PriceCurrency)
	}
	return b.String(), nil
}

// beginPublish starts the awaiting_publish_name flow: the user named an
// agent they own, and is now asked for a listing title and price.
func (o *Orchestrator) beginPublish(userID int64, utterance string) (string, error) {
	if o.Marketplace == nil {
		return "The marketplace isn't available right now.", nil
	}
	agentID, ok := extractAgentID(utterance)
	if !ok {
		return "Which agent would you like to publish? Say \"publish agent #N\".", nil
	}
	if _, err := o.Artifacts.Get(userID, agentID); err != nil {
		return "", err
	}
	if err := o.Memory.SetPending(userID, Pending{
		Kind: AwaitingPublishName,
		Data: map[string]string{"agent_id": strconv.FormatInt(agentID, 10)},
	}); err != nil {
		return "", err
	}
	return `What should the listing be titled, and at what price? (e.g. "Price Checker - 5 TON")`, nil
}

// continuePublish parses the "<title> - <price> <currency>" reply and
// publishes the listing.
func (o *Orchestrator) continuePublish(userID int64, pending Pending, reply string) (string, error) {
	defer o.Memory.ClearPending(userID)
	agentID, err := strconv.ParseInt(pending.Data["agent_id"], 10, 64)
	if err != nil {
		return "", err
	}
	title, price, ok := parseListingReply(reply)
	if !ok {
		return `I couldn't parse a title and price — try "Price Checker - 5 TON".`, nil
	}
	listing, err := o.Marketplace.Publish(store.MarketplaceListing{
		SellerOwnerID: userID,
		SourceAgentID: agentID,
		Title:         title,
		PriceAmount:   price,
		PriceCurrency: "TON",
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Published listing #%d (%q) for %s TON.", listing.ID, listing.Title, listing.PriceAmount), nil
}

// purchaseListing buys a listing directly (no multi-turn flow needed: the
// listing id is the only input). The copy carries the seller's artifact text
// and trigger parameters (a webhook copy gets a fresh token of its own, so it
// never answers on the seller's path) and always lands inactive — the buyer
// reviews and activates it explicitly (§9 "Marketplace copy semantics").
func (o *Orchestrator) purchaseListing(userID int64, utterance string) (string, error) {
	if o.Marketplace == nil {
		return "The marketplace isn't available right now.", nil
	}
	listingID, ok := extractAgentID(utterance)
	if !ok {
		return "Which listing? Say \"buy listing #N\".", nil
	}
	purchase, err := o.Marketplace.Purchase(listingID, userID, func(source agentrt.Agent) (agentrt.Agent, error) {
		trig := source.Trigger
		if trig.Kind == agentrt.TriggerWebhook {
			fresh, err := agentrt.NewWebhookTrigger(store.NewWebhookToken())
			if err != nil {
				return agentrt.Agent{}, err
			}
			trig = fresh
		}
		return o.Artifacts.Create(agentrt.Agent{
			OwnerID:     userID,
			Name:        source.Name,
			Description: source.Description,
			Artifact:    source.Artifact,
			Trigger:     trig,
			Active:      false,
		})
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Purchased listing #%d — it's now your agent #%d.", listingID, purchase.NewAgentID), nil
}

func sessionID(userID int64) string {
	return fmt.Sprintf("user-%d", userID)
}

func triggerSummary(t agentrt.Trigger, active bool) string {
	if !active {
		return "created but not active"
	}
	switch t.Kind {
	case agentrt.TriggerScheduled:
		return fmt.Sprintf("scheduled every %s", t.Period)
	case agentrt.TriggerWebhook:
		return fmt.Sprintf("listening for webhook deliveries at /webhooks/%s", t.WebhookToken)
	default:
		return "ready to run manually"
	}
}

// parseTriggerHint maps a free-form schedule hint to a Trigger + active flag.
// "webhook" mints a fresh, unguessable token (store.NewWebhookToken) and
// binds it to a TriggerWebhook trigger; "manual" (or anything not recognized
// as a period or a webhook hint) creates an inactive manual-trigger agent the
// user must explicitly run.
func parseTriggerHint(hint string) (agentrt.Trigger, bool, error) {
	h := strings.ToLower(strings.TrimSpace(hint))
	if h == "" || strings.Contains(h, "manual") {
		return agentrt.NewManualTrigger(), false, nil
	}
	if strings.Contains(h, "webhook") {
		trig, err := agentrt.NewWebhookTrigger(store.NewWebhookToken())
		if err != nil {
			return agentrt.Trigger{}, false, err
		}
		return trig, true, nil
	}
	period, ok := parsePeriod(h)
	if !ok {
		return agentrt.NewManualTrigger(), false, nil
	}
	trig, err := agentrt.NewScheduledTrigger(period)
	if err != nil {
		return agentrt.Trigger{}, false, err
	}
	return trig, true, nil
}

// parsePeriod recognizes a small vocabulary of schedule hints: "every 5
// minutes", "every 2 hours", "every 30 sec", "hourly", "daily". The number
// and unit must be separated by a space; compact forms such as "every 1h"
// and anything else fall back to manual so the user is never silently
// defaulted into an unwanted schedule.
func parsePeriod(h string) (time.Duration, bool) {
	switch {
	case strings.Contains(h, "hourly"):
		return time.Hour, true
	case strings.Contains(h, "daily"):
		return 24 * time.Hour, true
	}
	var n int
	var unit string
	if _, err := fmt.Sscanf(h, "every %d %s", &n, &unit); err == nil && n > 0 {
		switch {
		case strings.HasPrefix(unit, "min"):
			return time.Duration(n) * time.Minute, true
		case strings.HasPrefix(unit, "hour") || strings.HasPrefix(unit, "hr"):
			return time.Duration(n) * time.Hour, true
		case strings.HasPrefix(unit, "sec"):
			return time.Duration(n) * time.Second, true
		}
	}
	return 0, false
}

// extractAgentID pulls the agent id out of a "run agent #N" utterance, or
// otherwise the number after the first "#" in it. A bare "agent N" without
// "#" is not recognized.
func extractAgentID(utterance string) (int64, bool) {
	var n int64
	if _, err := fmt.Sscanf(utterance, "run agent #%d", &n); err == nil {
		return n, true
	}
	if idx := strings.Index(utterance, "#"); idx >= 0 {
		if _, err := fmt.Sscanf(utterance[idx+1:], "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// extractChangeText drops the leading "#N" agent reference (and any
// separating ":"/"-") from an utterance, leaving the free-form change
// request behind. Returns the trimmed whole utterance if it has no "#".
func extractChangeText(utterance string) string {
	idx := strings.Index(utterance, "#")
	if idx < 0 {
		return strings.TrimSpace(utterance)
	}
	rest := utterance[idx+1:]
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	return strings.TrimSpace(strings.TrimLeft(rest[i:], " :-\t"))
}

// parseRenameRequest recognizes a "rename ... to X" change request. isRename
// is true whenever "rename" appears at all; name is empty when no "to X"
// followed, signaling the caller should ask a follow-up (§3 awaiting_rename).
func parseRenameRequest(change string) (name string, isRename bool) {
	lower := strings.ToLower(change)
	if !strings.Contains(lower, "rename") {
		return "", false
	}
	idx := strings.Index(lower, "to ")
	if idx < 0 {
		return "", true
	}
	name = strings.TrimSpace(change[idx+len("to "):])
	name = strings.Trim(name, `"'.`)
	return name, true
}

// templateVarPattern matches {{VAR_NAME}} placeholders left in a drafted
// artifact for the user to fill in (§3 "partially filled template
// variables").
var templateVarPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// templateVariables returns the distinct placeholder names in artifact, in
// first-appearance order.
func templateVariables(artifact string) []string {
	matches := templateVarPattern.FindAllStringSubmatch(artifact, -1)
	seen := make(map[string]bool, len(matches))
	var vars []string
	for _, m := range matches {
		if name := m[1]; !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}
	return vars
}

// substituteTemplateVariables replaces every {{VAR_NAME}} in artifact with
// its collected value, leaving any placeholder absent from values untouched.
func substituteTemplateVariables(artifact string, values map[string]string) string {
	return templateVarPattern.ReplaceAllStringFunc(artifact, func(match string) string {
		name := templateVarPattern.FindStringSubmatch(match)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return match
	})
}

// splitCSV splits a comma-joined list, returning nil for an empty string
// rather than a one-element slice containing "".
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// parseListingReply parses a "<title> - <price> [currency]" reply into a
// title and a canonical decimal price string, using shopspring/decimal so
// marketplace prices never drift the way a float would (§11 "Domain stack").
func parseListingReply(reply string) (title, price string, ok bool) {
	idx := strings.LastIndex(reply, "-")
	if idx < 0 {
		return "", "", false
	}
	title = strings.TrimSpace(reply[:idx])
	if title == "" {
		return "", "", false
	}
	priceText := strings.TrimSpace(reply[idx+1:])
	priceText = strings.TrimSpace(strings.TrimSuffix(strings.ToUpper(priceText), "TON"))
	amount, err := decimal.NewFromString(priceText)
	if err != nil {
		return "", "", false
	}
	return title, amount.String(), true
}
