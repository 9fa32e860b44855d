package synth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedModel struct {
	name      string
	responses []string
	errs      []error
	calls     int
}

func (m *scriptedModel) Name() string { return m.name }

func (m *scriptedModel) Generate(ctx context.Context, messages []Message, timeout time.Duration) (string, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return m.responses[len(m.responses)-1], nil
}

func TestSynthesizerDraftAcceptsCleanArtifact(t *testing.T) {
	model := &scriptedModel{name: "m1", responses: []string{
		`{"artifact": "notify('hi')", "name": "greeter", "description": "says hi"}`,
	}}
	s := New([]Model{model}, 4)

	result, err := s.Draft(context.Background(), DraftRequest{Task: "say hi"})
	if err != nil {
		t.Fatalf("Draft() error = %v", err)
	}
	if result.Artifact != "notify('hi')" || result.ProposedName != "greeter" {
		t.Errorf("Draft() = %+v, unexpected", result)
	}
}

func TestSynthesizerDraftRetriesOnGateRejection(t *testing.T) {
	model := &scriptedModel{name: "m1", responses: []string{
		`{"artifact": "eval('bad')", "name": "x", "description": "y"}`,
		`{"artifact": "notify('ok')", "name": "x", "description": "y"}`,
	}}
	s := New([]Model{model}, 4)

	result, err := s.Draft(context.Background(), DraftRequest{Task: "do something"})
	if err != nil {
		t.Fatalf("Draft() error = %v", err)
	}
	if result.Artifact != "notify('ok')" {
		t.Errorf("Draft() artifact = %q, want second attempt's clean artifact", result.Artifact)
	}
	if model.calls != 2 {
		t.Errorf("model called %d times, want 2 (one rejection, one success)", model.calls)
	}
}

func TestSynthesizerDraftExhaustsBudget(t *testing.T) {
	model := &scriptedModel{name: "m1", responses: []string{
		`{"artifact": "eval('bad')", "name": "x", "description": "y"}`,
	}}
	s := New([]Model{model}, 2)

	_, err := s.Draft(context.Background(), DraftRequest{Task: "do something"})
	if err == nil {
		t.Fatal("Draft() should fail once the retry budget is exhausted")
	}
	if model.calls != 2 {
		t.Errorf("model called %d times, want MaxAttempts=2", model.calls)
	}
}

func TestSynthesizerDraftFallsBackToNextModel(t *testing.T) {
	failing := &scriptedModel{name: "m1", errs: []error{errors.New("down"), errors.New("down")}}
	ok := &scriptedModel{name: "m2", responses: []string{
		`{"artifact": "notify('from fallback')", "name": "x", "description": "y"}`,
	}}
	s := New([]Model{failing, ok}, 2)

	result, err := s.Draft(context.Background(), DraftRequest{Task: "do something"})
	if err != nil {
		t.Fatalf("Draft() error = %v", err)
	}
	if result.Artifact != "notify('from fallback')" {
		t.Errorf("Draft() did not fall back to the second model: %+v", result)
	}
}

func TestSynthesizerRepair(t *testing.T) {
	model := &scriptedModel{name: "m1", responses: []string{
		"```javascript\nnotify('patched');\n```",
	}}
	s := New([]Model{model}, 4)

	artifact, err := s.Repair(context.Background(), RepairRequest{
		Artifact:            "notify(data.missing.field)",
		LastError:           "cannot read property 'field' of undefined",
		ModificationRequest: "guard the missing field",
	})
	if err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if artifact != "notify('patched');" {
		t.Errorf("Repair() = %q, want extracted code block", artifact)
	}
}

func TestSynthesizerClassify(t *testing.T) {
	tests := []struct {
		response string
		want     Intent
	}{
		{"create", IntentCreate},
		{"Modify", IntentModify},
		{"run", IntentRun},
		{"list", IntentList},
		{"what does this agent do?", IntentQuestion},
	}
	for _, tt := range tests {
		model := &scriptedModel{name: "m1", responses: []string{tt.response}}
		s := New([]Model{model}, 4)
		got, err := s.Classify(context.Background(), "some utterance")
		if err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("Classify() with response %q = %v, want %v", tt.response, got, tt.want)
		}
	}
}
