// Package synth implements the Code Synthesizer (SPEC_FULL.md §4.6): draft
// mode (natural-language task → artifact), repair mode (artifact + error +
// modification request → patched artifact), and intent classification for
// the Orchestrator. Every candidate artifact passes through the Static
// Safety Gate before synth considers it final.
package synth

import (
	"context"
	"time"
)

// Role identifies a synthesis prompt message's sender, mirroring the
// teacher's llm.Role.
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Message is one turn fed to a model.
type Message struct {
	Role    Role
	Content string
}

// Model is one entry in the model chain (config.ModelConfig made callable).
// Generate returns the raw text completion; synth is responsible for
// extracting an artifact out of it.
type Model interface {
	Name() string
	Generate(ctx context.Context, messages []Message, timeout time.Duration) (string, error)
}
