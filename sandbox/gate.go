// Package sandbox implements the Static Safety Gate and the Sandboxed
// Executor (SPEC_FULL.md §4.4, §4.5): the gate is a pure function of artifact
// text run before every store/activate, and the executor runs a
// Gate-approved artifact with a bounded wall clock, an optional memory cap,
// and the Host-Call Surface as its only way to reach the outside world.
package sandbox

import (
	"regexp"
	"strings"

	agentrt "github.com/tonagent/runtime"
)

// forbiddenIdentifiers is the token list the gate rejects when it appears as
// an identifier or a property access (SPEC_FULL §4.5): direct file-system
// access, process/environment escape, raw module loading, and dynamic-code
// construction.
var forbiddenIdentifiers = []string{
	// File-system access.
	"fs", "require", "readFile", "writeFile", "readFileSync", "writeFileSync",
	"openSync", "unlinkSync", "mkdirSync",
	// Process / environment escape.
	"process", "child_process", "exec", "execSync", "spawn", "spawnSync",
	"env", "os",
	// Raw module loading.
	"import", "__import__", "require.resolve", "vm", "Module",
	// Dynamic-code construction. setTimeout/setInterval are intentionally
	// NOT here: SPEC_FULL §4.4 names timers as part of the artifact's minimal
	// safe environment, and the executor force-cancels them on exit.
	"eval", "Function", "GeneratorFunction", "AsyncFunction",
}

// identifierBoundary matches one identifier character. containsIdentifier
// uses it to accept a forbidden token only when no identifier character
// touches it on either side, so a token inside a larger identifier (e.g.
// "filesystemLabel" containing "fs") does not count. Comments and string literals are not excluded from the scan — a
// false positive there is acceptable per §4.5; the gate errs toward
// rejection and the Synthesizer retries.
var identifierBoundary = regexp.MustCompile(`[A-Za-z0-9_$]`)

// Verdict is the gate's decision on one artifact.
type Verdict struct {
	Accepted bool
	Reason   string // populated only when Accepted is false
}

// Check runs the Static Safety Gate over artifact text. It is a pure
// function: no I/O, no side effects, deterministic on identical input.
func Check(artifact string) Verdict {
	for _, token := range forbiddenIdentifiers {
		if containsIdentifier(artifact, token) {
			return Verdict{Accepted: false, Reason: "forbidden primitive referenced: " + token}
		}
	}
	return Verdict{Accepted: true}
}

// CheckOrReject runs Check and returns a *agentrt.Error of kind safety-gate
// when the artifact is rejected, for callers (synth.Synthesizer,
// store.ArtifactStore.UpdateCode) that want an error value rather than a verdict.
func CheckOrReject(artifact string) error {
	v := Check(artifact)
	if v.Accepted {
		return nil
	}
	return agentrt.WrapSafetyGate(nil, v.Reason)
}

func containsIdentifier(text, token string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], token)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(token)
		idx = end

		if start > 0 && identifierBoundary.MatchString(string(text[start-1])) {
			continue // part of a larger identifier, e.g. "myfsvar"
		}
		if end < len(text) && identifierBoundary.MatchString(string(text[end])) {
			continue // part of a larger identifier, e.g. "fsutils"
		}
		return true
	}
}
