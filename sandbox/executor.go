package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/hostcall"
)

// Executor runs a Gate-approved artifact inside a goja interpreter, with a
// wall-clock budget and a bound Host-Call Surface as its only way out.
// Mirrors the teacher's container.Manager shape at the method level (Run
// takes the thing to execute and a budget, returns a structured result) while
// swapping the Docker process boundary for an in-process goja.Runtime — see
// DESIGN.md for why the container dependency was dropped rather than kept.
type Executor struct {
	// MemoryCapBytes bounds the interpreter's total allocated memory via
	// goja's Runtime.SetMemoryLimit. Zero means no cap.
	MemoryCapBytes int64
}

// NewExecutor builds an Executor with the given memory cap (0 disables it).
func NewExecutor(memoryCapBytes int64) *Executor {
	return &Executor{MemoryCapBytes: memoryCapBytes}
}

// Run executes artifact with surface bound as the only reachable capability
// set, returning within budget or failing with KindSandboxTimeout, or with
// KindSandboxMemory if MemoryCapBytes is set and exceeded.
func (e *Executor) Run(ctx context.Context, artifact string, surface *hostcall.Surface, budget time.Duration) agentrt.Outcome {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	var logs []agentrt.LogLine
	timers := bindHostCalls(ctx, vm, surface, &logs)

	if e.MemoryCapBytes > 0 {
		vm.SetMemoryLimit(e.MemoryCapBytes)
	}

	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan goja.Value, 1)
	errCh := make(chan error, 1)

	timer := time.AfterFunc(budget, func() {
		vm.Interrupt("sandbox-timeout")
	})
	defer timer.Stop()

	start := time.Now()
	go func() {
		v, err := vm.RunString(artifact)
		if err != nil {
			errCh <- err
			return
		}
		if terr := drainTimers(runCtx, timers); terr != nil {
			errCh <- terr
			return
		}
		done <- v
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt("context canceled")
		timers.cancelAll()
		return agentrt.Outcome{
			Success:     false,
			Error:       ctx.Err().Error(),
			FailureKind: agentrt.KindSandboxTimeout,
			Logs:        logs,
			DurationMS:  time.Since(start).Milliseconds(),
		}
	case v := <-done:
		return agentrt.Outcome{
			Success:    true,
			Value:      exportValue(v),
			Logs:       logs,
			DurationMS: time.Since(start).Milliseconds(),
		}
	case err := <-errCh:
		timers.cancelAll()
		durationMS := time.Since(start).Milliseconds()
		tagged := classifyFailure(err).(*agentrt.Error)
		return agentrt.Outcome{
			Success:     false,
			Error:       tagged.Error(),
			FailureKind: tagged.Kind,
			Logs:        logs,
			DurationMS:  durationMS,
		}
	}
}

// drainTimers runs the artifact's outstanding setTimeout/setInterval
// callbacks in fire order, on the same goroutine that ran the artifact's
// top-level code (goja.Runtime is not safe for concurrent use). Once ctx is
// done it force-cancels everything still pending and returns a
// KindSandboxTimeout error.
func drainTimers(ctx context.Context, timers *timerSet) error {
	for {
		t, ok := timers.next()
		if !ok {
			return nil
		}
		if wait := time.Until(t.fireAt); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				timers.cancelAll()
				return agentrt.WrapSandboxTimeout("sandbox-timeout: budget expired with timers pending")
			}
		}
		if t.interval > 0 {
			timers.reschedule(t)
		} else {
			timers.cancel(t.id)
		}
		if _, err := t.fn(goja.Undefined()); err != nil {
			return err
		}
	}
}

// classifyFailure maps a goja execution error to a taxonomy-tagged
// *agentrt.Error: a memory-limit violation to KindSandboxMemory, an
// interrupt to KindSandboxTimeout (distinguishing the sandbox-timeout
// AfterFunc from a caller-canceled context is the ctx.Done() branch's job,
// not this one's), anything else to KindSandboxRuntime.
func classifyFailure(err error) error {
	if tagged, ok := err.(*agentrt.Error); ok {
		return tagged
	}
	if interrupted, ok := err.(*goja.InterruptedError); ok {
		msg := fmt.Sprintf("sandbox interrupted: %v", interrupted.Value())
		if isMemoryLimitMessage(msg) {
			return agentrt.WrapSandboxMemory(msg)
		}
		return agentrt.WrapSandboxTimeout(msg)
	}
	if isMemoryLimitMessage(err.Error()) {
		return agentrt.WrapSandboxMemory(err.Error())
	}
	return agentrt.WrapSandboxRuntime(err, err.Error())
}

func isMemoryLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "memory limit") || strings.Contains(lower, "allocation limit")
}

func exportValue(v goja.Value) any {
	if v == nil {
		return nil
	}
	return v.Export()
}
