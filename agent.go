package agentrt

import "time"

// Agent is the durable blueprint this whole runtime exists to serve: a
// synthesized artifact plus the trigger that decides when it runs. It is a
// record, not a running process — see schedule.Router for the thing that
// turns an active Agent into in-flight work.
type Agent struct {
	ID          int64
	OwnerID     int64
	Name        string
	Description string

	// Artifact is the synthesized, Safety-Gate-approved code text. Opaque to
	// everything outside sandbox.Executor.
	Artifact string

	Trigger Trigger
	Active  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LogLevel is the severity of an Agent Log Entry.
type LogLevel int

const (
	LogInfo LogLevel = iota
	LogWarn
	LogError
	LogSuccess
)

func (l LogLevel) String() string {
	switch l {
	case LogInfo:
		return "info"
	case LogWarn:
		return "warn"
	case LogError:
		return "error"
	case LogSuccess:
		return "success"
	default:
		return "info"
	}
}

// MaxLogMessageLen is the fixed upper bound Agent Log Entry messages are
// truncated to on write (§4.2 Log service).
const MaxLogMessageLen = 4096

// LogEntry is one append-only Agent Log Entry.
type LogEntry struct {
	ID        int64
	AgentID   int64
	OwnerID   int64
	Level     LogLevel
	Message   string
	Detail    string // structured detail, opaque JSON text; optional
	CreatedAt time.Time
}

// ExecutionStatus is the state of one Execution History Row.
type ExecutionStatus int

const (
	ExecutionRunning ExecutionStatus = iota
	ExecutionSuccess
	ExecutionError
)

func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionRunning:
		return "running"
	case ExecutionSuccess:
		return "success"
	case ExecutionError:
		return "error"
	default:
		return "running"
	}
}

// Execution is one Execution History Row: started in ExecutionRunning,
// transitions exactly once to ExecutionSuccess or ExecutionError.
type Execution struct {
	ID            int64
	AgentID       int64
	OwnerID       int64
	Trigger       TriggerKind
	Status        ExecutionStatus
	StartedAt     time.Time
	FinishedAt    *time.Time
	DurationMS    *int64
	ErrorMessage  string
	ResultSummary string
}

// StaleExecutionThreshold is how long an Execution may sit in ExecutionRunning
// before readers treat it as failed (§3, §9 Open Question (a)). Implementations
// should also run a background reaper at StaleReapInterval (config.Config) so
// stale rows don't merely look failed to readers but are actually flipped.
const StaleExecutionThreshold = 30 * time.Minute

// IsStale reports whether a running execution has sat open longer than
// StaleExecutionThreshold as of now.
func (e Execution) IsStale(now time.Time) bool {
	return e.Status == ExecutionRunning && now.Sub(e.StartedAt) >= StaleExecutionThreshold
}

// LogLine is one host-captured log line inside a sandbox Outcome.
type LogLine struct {
	Level     string
	Message   string
	Timestamp time.Time
}

// Outcome is the structured result of one Sandboxed Executor invocation
// (§4.4). Value is whatever serializable value the artifact returned, nil on
// failure.
type Outcome struct {
	Success bool
	Value   any
	Error   string
	// FailureKind classifies Error when Success is false: KindSandboxTimeout,
	// KindSandboxMemory, or KindSandboxRuntime. Zero value (KindValidation) on
	// success, never read in that case.
	FailureKind Kind
	Logs        []LogLine
	DurationMS  int64
}
