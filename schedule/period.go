// Package schedule implements the Scheduler and the Trigger Router
// (SPEC_FULL.md §4.7, §4.8): the per-agent timer state machine and the
// single chokepoint every manual/scheduled/webhook invocation passes
// through before reaching the Sandboxed Executor.
package schedule

import (
	"sync"
	"time"
)

// PeriodSchedule implements cron.Schedule's Next(time.Time) time.Time for
// one scheduled agent (SPEC_FULL.md §12). Unlike a crontab expression it is
// stateful: it remembers the deadline it last handed out and whether that
// fire's execution overran the following period, so Next can apply the
// prior_deadline+period rule with the overrun-reset fallback described in §5.
//
// The Scheduler calls RecordCompletion synchronously from inside the cron
// job function. cron/v3's run loop asks for the following fire time as soon
// as it has started the job goroutine, before the job runs, so a completion
// recorded here is seen only by a later Next call.
type PeriodSchedule struct {
	mu               sync.Mutex
	period           time.Duration
	previousDeadline time.Time
	completedAt      time.Time
}

// NewPeriodSchedule builds a fresh schedule for a newly registered agent.
func NewPeriodSchedule(period time.Duration) *PeriodSchedule {
	return &PeriodSchedule{period: period}
}

// Next returns the next fire time. On first call (registration) it returns
// now+period. On every subsequent call it returns previousDeadline+period,
// unless the last recorded completion overran previousDeadline+period by
// more than one full period, in which case it resets to now+period (§5).
func (p *PeriodSchedule) Next(now time.Time) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.previousDeadline.IsZero() {
		p.previousDeadline = now.Add(p.period)
		return p.previousDeadline
	}

	next := p.previousDeadline.Add(p.period)
	if !p.completedAt.IsZero() && p.completedAt.Sub(p.previousDeadline) > 2*p.period {
		next = now.Add(p.period)
	}
	p.previousDeadline = next
	return next
}

// RecordCompletion notes when the most recent fire's execution actually
// finished, so the next Next call can detect an overrun.
func (p *PeriodSchedule) RecordCompletion(completedAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completedAt = completedAt
}
