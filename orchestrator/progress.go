package orchestrator

import (
	"context"
	"time"
)

// Phase is one coarse step of a long-running synthesis, surfaced to the
// transport on a fixed cadence so the user sees liveness (§4.9 item 3).
type Phase string

const (
	PhaseAnalyze  Phase = "analyzing the request"
	PhaseDesign   Phase = "designing the agent"
	PhaseWrite    Phase = "writing the artifact"
	PhaseScan     Phase = "running the safety scan"
	PhaseFinalize Phase = "finalizing"
)

var phaseOrder = []Phase{PhaseAnalyze, PhaseDesign, PhaseWrite, PhaseScan, PhaseFinalize}

// animator edits one chat message through a fixed sequence of phases on a
// ticker, giving the user a sense of progress during a Draft call that may
// take several seconds across model fallbacks and Gate retries. Stop must be
// called exactly once, typically via defer, once the underlying work
// finishes.
type animator struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startAnimator sends an initial message and begins editing it through
// phaseOrder every interval until stopped. If transport.Send fails the
// animator runs silently (progress animation is UX, not correctness — §4.9).
func startAnimator(ctx context.Context, t Transport, userID int64, interval time.Duration) *animator {
	actx, cancel := context.WithCancel(ctx)
	a := &animator{cancel: cancel, done: make(chan struct{})}

	messageID, err := t.Send(actx, userID, string(phaseOrder[0])+"...", nil)
	if err != nil {
		close(a.done)
		return a
	}

	go func() {
		defer close(a.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		idx := 0
		for {
			select {
			case <-actx.Done():
				return
			case <-ticker.C:
				idx++
				if idx >= len(phaseOrder) {
					return
				}
				_ = t.Edit(actx, userID, messageID, string(phaseOrder[idx])+"...")
			}
		}
	}()
	return a
}

// stop halts the animator and waits for its goroutine to exit.
func (a *animator) stop() {
	a.cancel()
	<-a.done
}
