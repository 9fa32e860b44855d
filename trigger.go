package agentrt

import "time"

// TriggerKind discriminates the three ways an Agent can be invoked.
type TriggerKind int

const (
	// TriggerManual fires only when a user explicitly requests a run.
	TriggerManual TriggerKind = iota

	// TriggerScheduled fires on a fixed period, driven by the Scheduler.
	TriggerScheduled

	// TriggerWebhook fires when a delivery arrives at the agent's webhook path.
	TriggerWebhook
)

// String returns the lowercase wire name used in logs and API responses.
func (k TriggerKind) String() string {
	switch k {
	case TriggerManual:
		return "manual"
	case TriggerScheduled:
		return "scheduled"
	case TriggerWebhook:
		return "webhook"
	default:
		return "unknown"
	}
}

// Trigger is the tagged variant Manual | Scheduled{period} | Webhook{token}
// described in SPEC_FULL.md §9. Only the fields matching Kind are meaningful;
// the Artifact Store rejects malformed combinations at its boundary (Validate
// below), not inside the Scheduler.
type Trigger struct {
	Kind TriggerKind

	// Period is set only when Kind == TriggerScheduled. Must be > 0.
	Period time.Duration

	// WebhookToken is set only when Kind == TriggerWebhook. An opaque,
	// unguessable path segment — see store.NewWebhookToken.
	WebhookToken string
}

// NewManualTrigger returns a manual trigger.
func NewManualTrigger() Trigger {
	return Trigger{Kind: TriggerManual}
}

// NewScheduledTrigger returns a scheduled trigger with the given period.
// It returns ErrInvalidTrigger if period is not positive.
func NewScheduledTrigger(period time.Duration) (Trigger, error) {
	if period <= 0 {
		return Trigger{}, WrapValidation(ErrInvalidTrigger, "scheduled trigger period must be > 0")
	}
	return Trigger{Kind: TriggerScheduled, Period: period}, nil
}

// NewWebhookTrigger returns a webhook trigger bound to the given token.
// It returns ErrInvalidTrigger if token is empty.
func NewWebhookTrigger(token string) (Trigger, error) {
	if token == "" {
		return Trigger{}, WrapValidation(ErrInvalidTrigger, "webhook trigger requires a token")
	}
	return Trigger{Kind: TriggerWebhook, WebhookToken: token}, nil
}

// Validate re-checks the invariant tying Kind to its parameters, used at the
// Artifact Store boundary whenever a Trigger is deserialized from storage or
// an API request rather than constructed via the New* helpers above.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerManual:
		return nil
	case TriggerScheduled:
		if t.Period <= 0 {
			return WrapValidation(ErrInvalidTrigger, "scheduled trigger period must be > 0")
		}
		return nil
	case TriggerWebhook:
		if t.WebhookToken == "" {
			return WrapValidation(ErrInvalidTrigger, "webhook trigger requires a token")
		}
		return nil
	default:
		return WrapValidation(ErrInvalidTrigger, "unknown trigger kind")
	}
}
