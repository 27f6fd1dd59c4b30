package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/engines"
	"github.com/haasonsaas/grip/internal/observability"
)

var templateRe = regexp.MustCompile(`\{\{(\w+)\.output\}\}`)

// ValidationError is raised before execution starts; the run never begins.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid workflow: " + strings.Join(e.Errors, "; ")
}

// Engine executes workflows through an engines.Engine. Each step runs on
// its own "workflow:<step>" session; independent steps within a layer run
// concurrently.
type Engine struct {
	cfg     *config.Config
	engine  engines.Engine
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(cfg *config.Config, engine engines.Engine, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		engine:  engine,
		metrics: metrics,
		logger:  logger.With("component", "workflow"),
	}
}

// Run executes a workflow end-to-end. Validation failures abort before any
// step starts. A failed layer skips every later step that transitively
// depends on a failed step. Final status: "completed" iff all steps
// completed, "failed" if any failed, otherwise "partial".
func (e *Engine) Run(ctx context.Context, def *Def) (*RunResult, error) {
	if errs := def.Validate(); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	layers := def.ExecutionLayers()
	result := &RunResult{
		WorkflowName: def.Name,
		Status:       "running",
		StepResults:  map[string]*StepResult{},
		StartedAt:    time.Now(),
	}

	stepMap := map[string]StepDef{}
	for _, step := range def.Steps {
		stepMap[step.Name] = step
		result.StepResults[step.Name] = &StepResult{Name: step.Name, Status: StepPending}
	}

	e.logger.Info("workflow starting", "workflow", def.Name, "steps", len(def.Steps), "layers", len(layers))

	for layerIdx, layer := range layers {
		e.logger.Info("executing layer", "layer", layerIdx+1, "of", len(layers), "steps", layer)

		group, groupCtx := errgroup.WithContext(ctx)
		for _, stepName := range layer {
			step := stepMap[stepName]
			stepResult := result.StepResults[stepName]
			prompt := resolveTemplate(step.Prompt, result.StepResults)
			group.Go(func() error {
				e.executeStep(groupCtx, step, stepResult, prompt)
				return nil
			})
		}
		_ = group.Wait()

		failed := false
		for _, stepName := range layer {
			if result.StepResults[stepName].Status == StepFailed {
				failed = true
			}
		}
		if failed {
			e.logger.Warn("layer had failures, skipping dependent steps", "layer", layerIdx+1)
			skipDependents(layer, layers[layerIdx+1:], result, stepMap)
			break
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt).Seconds()
	switch {
	case result.HasFailures():
		result.Status = "failed"
	case result.AllCompleted():
		result.Status = "completed"
	default:
		result.Status = "partial"
	}

	if e.metrics != nil {
		for _, sr := range result.StepResults {
			e.metrics.WorkflowSteps.WithLabelValues(string(sr.Status)).Inc()
		}
	}
	e.logger.Info("workflow finished", "workflow", def.Name, "status", result.Status, "duration", result.Duration)
	return result, nil
}

// executeStep runs one step through the engine under its timeout. A
// timeout marks the step failed with "Timed out after Ns".
func (e *Engine) executeStep(ctx context.Context, step StepDef, stepResult *StepResult, prompt string) {
	stepResult.markRunning()

	model := ""
	if step.Profile != "" {
		if profile, ok := e.cfg.Agents.Profiles[step.Profile]; ok && profile.Model != "" {
			model = profile.Model
		}
	}

	timeout := time.Duration(step.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type stepOutcome struct {
		result *engines.AgentRunResult
		err    error
	}
	done := make(chan stepOutcome, 1)
	go func() {
		result, err := e.engine.Run(stepCtx, prompt, engines.RunOptions{
			SessionKey: "workflow:" + step.Name,
			Model:      model,
		})
		done <- stepOutcome{result, err}
	}()

	select {
	case outcome := <-done:
		if outcome.err != nil {
			stepResult.markFailed(outcome.err.Error())
			e.logger.Error("step failed", "step", step.Name, "error", outcome.err)
			return
		}
		stepResult.markCompleted(outcome.result.Response, outcome.result.Iterations)
		e.logger.Info("step completed", "step", step.Name, "iterations", outcome.result.Iterations)
	case <-stepCtx.Done():
		stepResult.markFailed(fmt.Sprintf("Timed out after %ds", int(timeout.Seconds())))
		e.logger.Error("step timed out", "step", step.Name, "timeout", timeout)
	}
}

// resolveTemplate substitutes {{step.output}} placeholders from completed
// results, leaving placeholders for incomplete steps untouched.
func resolveTemplate(prompt string, stepResults map[string]*StepResult) string {
	return templateRe.ReplaceAllStringFunc(prompt, func(match string) string {
		name := templateRe.FindStringSubmatch(match)[1]
		if result, ok := stepResults[name]; ok && result.Status == StepCompleted {
			return result.Output
		}
		return match
	})
}

// skipDependents marks every later step transitively depending on a failed
// step as skipped.
func skipDependents(failedLayer []string, remainingLayers [][]string, result *RunResult, stepMap map[string]StepDef) {
	failedSet := map[string]bool{}
	for _, name := range failedLayer {
		if result.StepResults[name].Status == StepFailed {
			failedSet[name] = true
		}
	}

	for _, layer := range remainingLayers {
		for _, stepName := range layer {
			for _, dep := range stepMap[stepName].DependsOn {
				if failedSet[dep] {
					result.StepResults[stepName].Status = StepSkipped
					result.StepResults[stepName].Error = "Skipped due to dependency failure"
					failedSet[stepName] = true
					break
				}
			}
		}
	}
}
