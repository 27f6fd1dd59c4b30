// Package cron runs configured prompts through the engine on schedules.
package cron

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/engines"
)

// Scheduler drives scheduled agent runs. Each job runs on its own
// "cron:<name>" session so history accumulates per job.
type Scheduler struct {
	engine engines.Engine
	runner *cron.Cron
	logger *slog.Logger
}

// NewScheduler builds a scheduler from the cron config. Invalid schedules
// are skipped with an error log.
func NewScheduler(cfg config.CronConfig, engine engines.Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		engine: engine,
		runner: cron.New(),
		logger: logger.With("component", "cron"),
	}

	for _, job := range cfg.Jobs {
		job := job
		_, err := s.runner.AddFunc(job.Schedule, func() {
			s.runJob(job)
		})
		if err != nil {
			s.logger.Error("invalid cron schedule, skipping job",
				"job", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		s.logger.Info("scheduled cron job", "job", job.Name, "schedule", job.Schedule)
	}
	return s
}

func (s *Scheduler) runJob(job config.CronJob) {
	s.logger.Info("cron job firing", "job", job.Name)
	result, err := s.engine.Run(context.Background(), job.Prompt, engines.RunOptions{
		SessionKey: fmt.Sprintf("cron:%s", job.Name),
		Model:      job.Model,
	})
	if err != nil {
		s.logger.Error("cron job failed", "job", job.Name, "error", err)
		return
	}
	s.logger.Info("cron job finished", "job", job.Name,
		"iterations", result.Iterations, "tokens", result.TotalTokens())
}

// Start begins firing schedules.
func (s *Scheduler) Start() { s.runner.Start() }

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.runner.Stop()
	<-ctx.Done()
}
