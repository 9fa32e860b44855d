package agentrt

import (
	"errors"
	"testing"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	a := WrapOwnership(ErrNotFound, "agent 1")
	b := WrapOwnership(ErrNotFound, "agent 2")

	if !errors.Is(a, b) {
		t.Fatalf("expected two ownership errors to match by kind regardless of message")
	}

	c := WrapValidation(ErrInvalidTrigger, "bad trigger")
	if errors.Is(a, c) {
		t.Fatalf("errors of different kinds should not match")
	}
}

func TestErrorUnwrap(t *testing.T) {
	wrapped := WrapOwnership(ErrNotFound, "agent 42")
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("expected Unwrap chain to reach ErrNotFound")
	}
}

func TestIsNotFoundOrForbidden(t *testing.T) {
	if !IsNotFoundOrForbidden(WrapOwnership(ErrNotFound, "x")) {
		t.Fatalf("expected wrapped ErrNotFound to be reported as not-found-or-forbidden")
	}
	if IsNotFoundOrForbidden(WrapValidation(ErrInvalidTrigger, "x")) {
		t.Fatalf("validation error should not be reported as not-found-or-forbidden")
	}
}

func TestKindString(t *testing.T) {
	want := map[Kind]string{
		KindValidation:     "validation",
		KindOwnership:      "ownership",
		KindSafetyGate:     "safety-gate",
		KindSynthesis:      "synthesis",
		KindSandboxTimeout: "sandbox-timeout",
		KindSandboxMemory:  "sandbox-memory",
		KindSandboxRuntime: "sandbox-runtime",
		KindTransport:      "transport",
		KindIntegration:    "integration",
		KindFatal:          "fatal",
	}
	for k, s := range want {
		if k.String() != s {
			t.Errorf("Kind(%d).String() = %q, want %q", k, k.String(), s)
		}
	}
}
