// Package config assembles and validates the single configuration object
// described in SPEC_FULL.md §6/§10: transport token, AI-model chain, sandbox
// budget, concurrency cap, log retention, and scheduler behavior. It is
// built once at process startup from flags with environment-variable
// fallbacks, following the teacher's cmd/vega/serve.go pattern, and is
// immutable for the life of the process.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// ModelConfig is one entry in the AI-model chain: a model the Synthesizer
// tries in order, with its own timeout and optional endpoint override.
type ModelConfig struct {
	Name     string
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Config is the single configuration object. No other component should carry
// its own ad hoc flags or env lookups — everything flows from here.
type Config struct {
	// Addr is the dashboard HTTP listen address.
	Addr string

	// DBPath is the SQLite database file path.
	DBPath string

	// TelegramToken authenticates the inbound chat transport. Empty disables
	// the Telegram adapter (e.g. for tests).
	TelegramToken string

	// Models is the ordered model chain the Synthesizer falls back through.
	Models []ModelConfig

	// SandboxBudget is the Sandboxed Executor's wall-clock cap per invocation.
	SandboxBudget time.Duration

	// SandboxMemoryCapBytes bounds the goja heap the executor will tolerate
	// before reporting sandbox-memory.
	SandboxMemoryCapBytes int64

	// MaxConcurrentExecutions is the global concurrency cap (§5).
	MaxConcurrentExecutions int

	// LogRetention bounds how long Agent Log Entries are kept (Log service
	// prune(older_than)).
	LogRetention time.Duration

	// SchedulerImmediateFire performs the first fire on registration so users
	// see a result within seconds of activating (§4.7).
	SchedulerImmediateFire bool

	// SynthesisMaxAttempts bounds the Safety Gate retry budget in draft mode
	// (§9 Open Question (b)).
	SynthesisMaxAttempts int

	// RepairBudget is how many auto-repair attempts the Trigger Router will
	// stage per agent failure before giving up (§4.8, §4.9 item 5). Zero
	// disables auto-repair staging entirely.
	RepairBudget int

	// StaleReapInterval is how often the stale-execution reaper runs (§9 Open
	// Question (a)).
	StaleReapInterval time.Duration

	// TracingEndpoint is the OTLP collector address; empty disables tracing
	// and a no-op tracer is installed instead.
	TracingEndpoint string

	// LogJSON selects the slog handler: JSON in production, text in dev.
	LogJSON bool
}

// Load parses flags (falling back to environment variables) into a Config
// and validates it. A non-nil error here is a fatal startup failure per
// SPEC_FULL.md §6: the CLI surface exits non-zero without touching the
// database or registering the scheduler.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("agentrtd", flag.ContinueOnError)

	addr := fs.String("addr", envOr("AGENTRT_ADDR", ":3001"), "dashboard HTTP listen address")
	dbPath := fs.String("db", envOr("AGENTRT_DB", "agentrt.db"), "SQLite database path")
	telegramToken := fs.String("telegram-token", os.Getenv("TELEGRAM_BOT_TOKEN"), "Telegram bot token")
	primaryModel := fs.String("model", envOr("AGENTRT_MODEL", "claude-sonnet-4-5"), "primary synthesis model")
	fallbackModel := fs.String("fallback-model", os.Getenv("AGENTRT_FALLBACK_MODEL"), "fallback synthesis model")
	apiKey := fs.String("anthropic-api-key", os.Getenv("ANTHROPIC_API_KEY"), "Anthropic API key")
	sandboxBudget := fs.Duration("sandbox-budget", envDurationOr("AGENTRT_SANDBOX_BUDGET", 30*time.Second), "sandbox wall-clock budget")
	memCap := fs.Int64("sandbox-memory-cap", envInt64Or("AGENTRT_SANDBOX_MEMORY_CAP", 64<<20), "sandbox heap cap in bytes")
	maxConcurrent := fs.Int("max-concurrent", envIntOr("AGENTRT_MAX_CONCURRENT", 32), "max concurrent executions")
	logRetention := fs.Duration("log-retention", envDurationOr("AGENTRT_LOG_RETENTION", 30*24*time.Hour), "agent log retention window")
	immediateFire := fs.Bool("immediate-fire", true, "fire a scheduled agent immediately on registration")
	synthAttempts := fs.Int("synthesis-max-attempts", envIntOr("AGENTRT_SYNTHESIS_MAX_ATTEMPTS", 4), "safety-gate retry budget for draft synthesis")
	repairBudget := fs.Int("repair-budget", envIntOr("AGENTRT_REPAIR_BUDGET", 1), "auto-repair attempts the router stages per agent failure; 0 disables")
	staleReap := fs.Duration("stale-reap-interval", envDurationOr("AGENTRT_STALE_REAP_INTERVAL", 5*time.Minute), "interval between stale-execution reaper sweeps")
	tracingEndpoint := fs.String("tracing-endpoint", os.Getenv("AGENTRT_TRACING_ENDPOINT"), "OTLP collector endpoint; empty disables tracing")
	logJSON := fs.Bool("log-json", envBoolOr("AGENTRT_LOG_JSON", true), "emit structured JSON logs instead of text")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	var models []ModelConfig
	if *primaryModel != "" {
		models = append(models, ModelConfig{Name: *primaryModel, APIKey: *apiKey, Timeout: 60 * time.Second})
	}
	if *fallbackModel != "" {
		models = append(models, ModelConfig{Name: *fallbackModel, APIKey: *apiKey, Timeout: 60 * time.Second})
	}

	cfg := Config{
		Addr:                    *addr,
		DBPath:                  *dbPath,
		TelegramToken:           *telegramToken,
		Models:                  models,
		SandboxBudget:           *sandboxBudget,
		SandboxMemoryCapBytes:   *memCap,
		MaxConcurrentExecutions: *maxConcurrent,
		LogRetention:            *logRetention,
		SchedulerImmediateFire:  *immediateFire,
		SynthesisMaxAttempts:    *synthAttempts,
		RepairBudget:            *repairBudget,
		StaleReapInterval:       *staleReap,
		TracingEndpoint:         *tracingEndpoint,
		LogJSON:                 *logJSON,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the runtime assumes hold. A
// failure here is a fatal error per SPEC_FULL.md §7.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db path must not be empty")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model must be configured in the synthesis chain")
	}
	if c.SandboxBudget <= 0 {
		return fmt.Errorf("config: sandbox budget must be > 0")
	}
	if c.MaxConcurrentExecutions <= 0 {
		return fmt.Errorf("config: max concurrent executions must be > 0")
	}
	if c.SynthesisMaxAttempts <= 0 {
		return fmt.Errorf("config: synthesis max attempts must be > 0")
	}
	if c.StaleReapInterval <= 0 {
		return fmt.Errorf("config: stale reap interval must be > 0")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func envInt64Or(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || v == "true" || v == "yes"
	}
	return def
}
