package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/sandbox"
)

// Synthesizer drives the model chain through draft and repair modes, with
// the Safety Gate retry loop described in SPEC_FULL.md §4.6.
type Synthesizer struct {
	Models      []Model
	MaxAttempts int
}

// New builds a Synthesizer over the given model chain, tried in order.
func New(models []Model, maxAttempts int) *Synthesizer {
	return &Synthesizer{Models: models, MaxAttempts: maxAttempts}
}

// DraftRequest is the input to draft mode.
type DraftRequest struct {
	Task          string
	SuggestedName string
	TriggerHint   string // e.g. "manual", "scheduled every 1h", "webhook"
	SessionNotes  string // recent session memory, for disambiguation
}

// DraftResult is draft mode's output: a Gate-approved artifact plus proposed
// metadata.
type DraftResult struct {
	Artifact     string
	ProposedName string
	Description  string
}

// Draft produces a Safety-Gate-approved artifact from a natural-language
// task. It tries each model in Models in order; within a model, it retries
// up to MaxAttempts times, feeding the Gate's rejection reason back as a
// prompt constraint (§4.6, §4.5). Returns ErrSynthesisExhausted if every
// model/attempt combination fails.
func (s *Synthesizer) Draft(ctx context.Context, req DraftRequest) (DraftResult, error) {
	if len(s.Models) == 0 {
		return DraftResult{}, agentrt.WrapSynthesis(agentrt.ErrSynthesisExhausted, "no models configured")
	}

	var lastReason string
	for _, model := range s.Models {
		for attempt := 0; attempt < s.MaxAttempts; attempt++ {
			messages := draftPrompt(req, lastReason)
			raw, err := model.Generate(ctx, messages, modelTimeout(model))
			if err != nil {
				lastReason = err.Error()
				continue // next attempt or fall through to next model
			}

			candidate, err := parseDraftResponse(raw)
			if err != nil {
				lastReason = err.Error()
				continue
			}

			verdict := sandbox.Check(candidate.Artifact)
			if verdict.Accepted {
				return candidate, nil
			}
			lastReason = verdict.Reason
		}
	}
	return DraftResult{}, agentrt.WrapSynthesis(agentrt.ErrSynthesisExhausted, "exhausted model chain and retry budget: "+lastReason)
}

// RepairRequest is the input to repair mode.
type RepairRequest struct {
	Artifact            string
	LastError           string
	ModificationRequest string
}

// Repair produces a patched artifact addressing LastError and/or
// ModificationRequest. Same Safety Gate policy as Draft. Repair is
// preview-and-apply at the caller's layer (the Trigger Router's pending-repairs
// map in schedule/repair.go) — Repair itself only returns the candidate, it never writes to the
// Artifact Store.
func (s *Synthesizer) Repair(ctx context.Context, req RepairRequest) (string, error) {
	if len(s.Models) == 0 {
		return "", agentrt.WrapSynthesis(agentrt.ErrSynthesisExhausted, "no models configured")
	}

	var lastReason string
	for _, model := range s.Models {
		for attempt := 0; attempt < s.MaxAttempts; attempt++ {
			messages := repairPrompt(req, lastReason)
			raw, err := model.Generate(ctx, messages, modelTimeout(model))
			if err != nil {
				lastReason = err.Error()
				continue
			}

			artifact := extractCodeBlock(raw)
			verdict := sandbox.Check(artifact)
			if verdict.Accepted {
				return artifact, nil
			}
			lastReason = verdict.Reason
		}
	}
	return "", agentrt.WrapSynthesis(agentrt.ErrSynthesisExhausted, "exhausted model chain and retry budget: "+lastReason)
}

// Intent is the classified shape of a user utterance, for the Orchestrator's
// routing (§4.6, §4.9).
type Intent string

const (
	IntentCreate   Intent = "create"
	IntentModify   Intent = "modify"
	IntentRun      Intent = "run"
	IntentList     Intent = "list"
	IntentQuestion Intent = "question"
)

// Classify determines which of the five intents an utterance expresses,
// using the same model chain as Draft/Repair (§4.6: "it uses the same model
// chain").
func (s *Synthesizer) Classify(ctx context.Context, utterance string) (Intent, error) {
	if len(s.Models) == 0 {
		return "", agentrt.WrapSynthesis(agentrt.ErrSynthesisExhausted, "no models configured")
	}
	messages := []Message{
		{Role: RoleSystem, Content: "Classify the user's message as exactly one of: create, modify, run, list, question. Reply with only that single word."},
		{Role: RoleUser, Content: utterance},
	}
	model := s.Models[0]
	raw, err := model.Generate(ctx, messages, modelTimeout(model))
	if err != nil {
		return "", agentrt.WrapSynthesis(err, "intent classification failed")
	}
	return parseIntent(raw), nil
}

func modelTimeout(m Model) time.Duration {
	if withTimeout, ok := m.(interface{ Timeout() time.Duration }); ok {
		return withTimeout.Timeout()
	}
	return 60 * time.Second
}

func draftPrompt(req DraftRequest, rejectionReason string) []Message {
	system := "You synthesize a small JavaScript artifact that will run inside a restricted sandbox. " +
		"The only globals available are: notify(message), get_state(key), set_state(key, value), " +
		"get_secret(name), fetch(url, opts), get_ton_balance(address), call_plugin(id, payload), and console. " +
		"Never reference fs, require, process, child_process, exec, eval, or Function — " +
		"the artifact will be statically rejected if it does. " +
		"Reply with a JSON object: {\"artifact\": \"...\", \"name\": \"...\", \"description\": \"...\"}."
	user := fmt.Sprintf("Task: %s\nSuggested name: %s\nTrigger: %s\n", req.Task, req.SuggestedName, req.TriggerHint)
	if req.SessionNotes != "" {
		user += "Context from recent conversation: " + req.SessionNotes + "\n"
	}
	if rejectionReason != "" {
		user += "The previous draft was rejected: " + rejectionReason + ". Produce a compliant draft that avoids this.\n"
	}
	return []Message{{Role: RoleSystem, Content: system}, {Role: RoleUser, Content: user}}
}

func repairPrompt(req RepairRequest, rejectionReason string) []Message {
	system := "You repair a JavaScript artifact that runs inside the same restricted sandbox described above. " +
		"Reply with only the corrected artifact source, no prose, no markdown fences unless the code itself needs them."
	user := fmt.Sprintf("Current artifact:\n%s\n\nLast runtime error: %s\n\nRequested change: %s\n",
		req.Artifact, req.LastError, req.ModificationRequest)
	if rejectionReason != "" {
		user += "The previous repair attempt was rejected: " + rejectionReason + ". Avoid this.\n"
	}
	return []Message{{Role: RoleSystem, Content: system}, {Role: RoleUser, Content: user}}
}

type draftResponseJSON struct {
	Artifact    string `json:"artifact"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func parseDraftResponse(raw string) (DraftResult, error) {
	jsonText := extractJSONObject(raw)
	var parsed draftResponseJSON
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return DraftResult{}, fmt.Errorf("parse draft response: %w", err)
	}
	if strings.TrimSpace(parsed.Artifact) == "" {
		return DraftResult{}, fmt.Errorf("parse draft response: empty artifact")
	}
	return DraftResult{
		Artifact:     parsed.Artifact,
		ProposedName: parsed.Name,
		Description:  parsed.Description,
	}, nil
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

func extractCodeBlock(text string) string {
	const fence = "```"
	start := strings.Index(text, fence)
	if start < 0 {
		return strings.TrimSpace(text)
	}
	rest := text[start+len(fence):]
	if nl := strings.Index(rest, "\n"); nl >= 0 && nl < 20 {
		rest = rest[nl+1:] // skip a language tag like "javascript"
	}
	end := strings.Index(rest, fence)
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

func parseIntent(raw string) Intent {
	word := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(word, "create"):
		return IntentCreate
	case strings.Contains(word, "modify"):
		return IntentModify
	case strings.Contains(word, "run"):
		return IntentRun
	case strings.Contains(word, "list"):
		return IntentList
	default:
		return IntentQuestion
	}
}
