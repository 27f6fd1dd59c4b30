// Package workflow implements DAG-based multi-agent workflows: validated
// step graphs executed layer-parallel through an engine, with template
// interpolation between steps.
package workflow

import (
	"fmt"
	"sort"
	"time"
)

// StepStatus is a workflow step's lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepDef defines one workflow step. DependsOn lists step names that must
// complete first; Prompt may reference prior outputs with
// {{step_name.output}} placeholders resolved at execution time.
type StepDef struct {
	Name           string   `json:"name"`
	Prompt         string   `json:"prompt"`
	Profile        string   `json:"profile,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// Def is a named DAG of steps.
type Def struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Steps       []StepDef `json:"steps"`
}

// Validate returns the definition's structural errors: duplicate step
// names, dangling depends_on references, and dependency cycles. An empty
// slice means the workflow is runnable.
func (d *Def) Validate() []string {
	var errs []string

	names := map[string]bool{}
	for _, step := range d.Steps {
		if names[step.Name] {
			errs = append(errs, fmt.Sprintf("duplicate step name '%s'", step.Name))
		}
		names[step.Name] = true
	}

	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if !names[dep] {
				errs = append(errs, fmt.Sprintf("step '%s' depends on unknown step '%s'", step.Name, dep))
			}
		}
	}

	if len(errs) == 0 && d.hasCycle() {
		errs = append(errs, "circular dependency detected in workflow steps")
	}
	return errs
}

// hasCycle runs Kahn's algorithm; fewer visited nodes than steps means a
// cycle remains.
func (d *Def) hasCycle() bool {
	adj, inDegree := d.graph()

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(d.Steps)
}

// ExecutionLayers groups steps into parallel layers: layer zero holds all
// steps without dependencies, each later layer the steps whose remaining
// in-degree drops to zero once the previous layer is removed. Layers are
// sorted by name for determinism.
func (d *Def) ExecutionLayers() [][]string {
	adj, inDegree := d.graph()

	var layers [][]string
	var current []string
	for name, deg := range inDegree {
		if deg == 0 {
			current = append(current, name)
		}
	}

	for len(current) > 0 {
		sort.Strings(current)
		layers = append(layers, current)
		var next []string
		for _, node := range current {
			for _, neighbor := range adj[node] {
				inDegree[neighbor]--
				if inDegree[neighbor] == 0 {
					next = append(next, neighbor)
				}
			}
		}
		current = next
	}
	return layers
}

func (d *Def) graph() (map[string][]string, map[string]int) {
	adj := map[string][]string{}
	inDegree := map[string]int{}
	for _, step := range d.Steps {
		adj[step.Name] = nil
		inDegree[step.Name] = 0
	}
	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			adj[dep] = append(adj[dep], step.Name)
			inDegree[step.Name]++
		}
	}
	return adj, inDegree
}

// StepResult is the execution outcome of one step.
type StepResult struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	Iterations  int        `json:"iterations,omitempty"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	Duration    float64    `json:"duration_seconds,omitempty"`
}

func (r *StepResult) markRunning() {
	r.Status = StepRunning
	r.StartedAt = time.Now()
}

func (r *StepResult) markCompleted(output string, iterations int) {
	r.Status = StepCompleted
	r.Output = output
	r.Iterations = iterations
	r.finish()
}

func (r *StepResult) markFailed(errText string) {
	r.Status = StepFailed
	r.Error = errText
	r.finish()
}

func (r *StepResult) finish() {
	r.CompletedAt = time.Now()
	if !r.StartedAt.IsZero() {
		r.Duration = r.CompletedAt.Sub(r.StartedAt).Seconds()
	}
}

// RunResult aggregates a workflow execution.
type RunResult struct {
	WorkflowName string                 `json:"workflow_name"`
	Status       string                 `json:"status"`
	StepResults  map[string]*StepResult `json:"steps"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  time.Time              `json:"completed_at"`
	Duration     float64                `json:"total_duration_seconds"`
}

// AllCompleted reports whether every step completed.
func (r *RunResult) AllCompleted() bool {
	for _, sr := range r.StepResults {
		if sr.Status != StepCompleted {
			return false
		}
	}
	return true
}

// HasFailures reports whether any step failed.
func (r *RunResult) HasFailures() bool {
	for _, sr := range r.StepResults {
		if sr.Status == StepFailed {
			return true
		}
	}
	return false
}
