// Command agentrtd is the single long-running process described in
// SPEC_FULL.md §6: it loads configuration, opens the store, wires every
// component (Host-Call Surface → Sandboxed Executor → Code Synthesizer →
// Scheduler → Trigger Router → Orchestrator → transports), and serves until
// signaled.
//
// Grounded on the teacher's cmd/vega/serve.go: flag/env configuration,
// signal.NotifyContext-driven graceful shutdown, straight-line wiring in
// main with no dependency-injection framework.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	agentrt "github.com/tonagent/runtime"
	"github.com/tonagent/runtime/config"
	"github.com/tonagent/runtime/hostcall"
	"github.com/tonagent/runtime/orchestrator"
	"github.com/tonagent/runtime/sandbox"
	"github.com/tonagent/runtime/schedule"
	"github.com/tonagent/runtime/serve"
	"github.com/tonagent/runtime/store"
	"github.com/tonagent/runtime/synth"
	"github.com/tonagent/runtime/transport/telegram"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentrtd: configuration error: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("agentrtd: open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Init(); err != nil {
		slog.Error("agentrtd: init schema", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	models := make([]synth.Model, 0, len(cfg.Models))
	for _, mc := range cfg.Models {
		models = append(models, synth.NewAnthropicModel(mc))
	}
	synthesizer := synth.New(models, cfg.SynthesisMaxAttempts)

	executor := sandbox.NewExecutor(cfg.SandboxMemoryCapBytes)

	var bot *telegram.Bot
	var srv *serve.Server

	router := schedule.NewRouter(schedule.Deps{
		Artifacts: db.Artifacts(),
		History:   db.History(),
		Logs:      db.Logs(),
		Executor:  executor,
		Surface: func(agentID, ownerID int64) *hostcall.Surface {
			var notifier hostcall.Notifier
			if bot != nil {
				notifier = bot
			}
			return hostcall.New(agentID, ownerID, hostcall.Deps{
				KV:          db.KV(),
				Logs:        db.Logs(),
				Settings:    db.Settings(),
				Marketplace: db.Marketplace(),
				Notifier:    notifier,
			})
		},
		Budget:        cfg.SandboxBudget,
		MaxConcurrent: cfg.MaxConcurrentExecutions,
		Synth:         synthesizer,
		RepairBudget:  cfg.RepairBudget,
	})

	scheduler := schedule.New(db.Artifacts(), func(ctx context.Context, agentID, ownerID int64) {
		agent, err := db.Artifacts().GetAny(agentID)
		if err != nil {
			slog.Warn("agentrtd: scheduled fire could not load agent", "agent_id", agentID, "error", err)
			return
		}
		router.FireScheduled(ctx, agent)
	}, cfg.SchedulerImmediateFire)

	memory := orchestrator.NewMemory(db.Sessions())
	orch := orchestrator.New(db.Artifacts(), memory, synthesizer, scheduler, router, db.Marketplace(), nil)

	if cfg.TelegramToken != "" {
		b, err := telegram.New(cfg.TelegramToken, orch)
		if err != nil {
			slog.Warn("agentrtd: telegram bot init failed, chat transport disabled", "error", err)
		} else {
			bot = b
			orch.Transport = bot
			bot.OnStart = func(ctx context.Context, chatID int64, token string) {
				if srv == nil {
					return
				}
				if err := srv.ApproveAuth(token, chatID); err != nil {
					slog.Warn("agentrtd: auth approval failed", "chat_id", chatID, "error", err)
				}
			}
			go bot.Start(ctx)
		}
	}

	botUsername := ""
	if bot != nil {
		botUsername = bot.Username()
	}
	srv = serve.New(cfg, db, orch, router, botUsername)

	if err := scheduler.Restore(ctx); err != nil {
		slog.Warn("agentrtd: scheduler restore failed", "error", err)
	}
	go scheduler.Start(ctx)
	go reapStaleExecutions(ctx, db, cfg.StaleReapInterval)

	if err := srv.Start(ctx); err != nil {
		slog.Error("agentrtd: server error", "error", err)
		os.Exit(1)
	}
}

// reapStaleExecutions periodically flips any execution_history row stuck in
// ExecutionRunning past StaleExecutionThreshold to ExecutionError (§9 Open
// Question (a), §3).
func reapStaleExecutions(ctx context.Context, db *store.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.History().ReapStale(agentrt.StaleExecutionThreshold)
			if err != nil {
				slog.Warn("agentrtd: stale execution reap failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("agentrtd: reaped stale executions", "count", n)
			}
		}
	}
}

func setupLogging(cfg config.Config) {
	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))
}
