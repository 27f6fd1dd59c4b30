// Package heartbeat wakes the agent periodically so it can act without an
// inbound message (check reminders, follow up on subagents).
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/engines"
)

const defaultPrompt = "Heartbeat wake-up. Review your pending work, reminders, and " +
	"background tasks; take any action that is due. If nothing needs attention, reply briefly."

// Runner fires the heartbeat prompt on the configured interval until its
// context is cancelled.
type Runner struct {
	cfg    config.HeartbeatConfig
	engine engines.Engine
	logger *slog.Logger
}

// NewRunner creates a heartbeat runner.
func NewRunner(cfg config.HeartbeatConfig, engine engines.Engine, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, engine: engine, logger: logger.With("component", "heartbeat")}
}

// Run blocks, ticking until ctx is cancelled. Disabled configs return
// immediately.
func (r *Runner) Run(ctx context.Context) {
	if !r.cfg.Enabled {
		return
	}
	interval := time.Duration(r.cfg.Interval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	prompt := r.cfg.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.logger.Info("heartbeat running", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := r.engine.Run(ctx, prompt, engines.RunOptions{SessionKey: "cron:heartbeat"})
			if err != nil {
				r.logger.Error("heartbeat run failed", "error", err)
				continue
			}
			r.logger.Debug("heartbeat finished", "iterations", result.Iterations)
		}
	}
}
