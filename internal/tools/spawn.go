package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/grip/internal/subagent"
)

// Spawner is the subagent-manager hook the orchestration tools use. The
// engine wires it so a spawned task runs a fresh agent loop.
type Spawner interface {
	Spawn(taskDescription string, run subagent.RunFunc) subagent.Info
	Get(id string) (subagent.Info, bool)
	List() []subagent.Info
	Cancel(id string) bool
}

// SpawnRunner turns a task prompt into the RunFunc executed in the
// background; the engine installs one that calls itself on a derived
// session key.
type SpawnRunner func(task string) subagent.RunFunc

func spawnerFrom(tc *Context) Spawner {
	if tc == nil || tc.Extra == nil {
		return nil
	}
	s, _ := tc.Extra["spawn"].(Spawner)
	return s
}

func spawnRunnerFrom(tc *Context) SpawnRunner {
	if tc == nil || tc.Extra == nil {
		return nil
	}
	r, _ := tc.Extra["spawn_runner"].(SpawnRunner)
	return r
}

type spawnParams struct {
	Task string `json:"task" jsonschema:"description=Task for the background agent to perform"`
}

// SpawnSubagentTool starts a background agent task.
type SpawnSubagentTool struct{}

func (t *SpawnSubagentTool) Name() string     { return "spawn_subagent" }
func (t *SpawnSubagentTool) Category() string { return "orchestration" }
func (t *SpawnSubagentTool) Description() string {
	return "Spawn a background agent to work on a task; returns its id immediately."
}

func (t *SpawnSubagentTool) Parameters() json.RawMessage { return SchemaFor(&spawnParams{}) }

func (t *SpawnSubagentTool) Execute(_ context.Context, params map[string]any, tc *Context) (any, error) {
	manager := spawnerFrom(tc)
	runner := spawnRunnerFrom(tc)
	if manager == nil || runner == nil {
		return "Error: subagent support is not configured", nil
	}
	task := strings.TrimSpace(stringParam(params, "task"))
	if task == "" {
		return "Error: task is required", nil
	}
	info := manager.Spawn(task, runner(task))
	return map[string]any{"id": info.ID, "status": string(info.Status)}, nil
}

// ListSubagentsTool reports all known background tasks.
type ListSubagentsTool struct{}

func (t *ListSubagentsTool) Name() string     { return "list_subagents" }
func (t *ListSubagentsTool) Category() string { return "orchestration" }
func (t *ListSubagentsTool) Description() string {
	return "List background agent tasks and their statuses."
}

func (t *ListSubagentsTool) Parameters() json.RawMessage {
	return SchemaFor(&struct{}{})
}

func (t *ListSubagentsTool) Execute(_ context.Context, _ map[string]any, tc *Context) (any, error) {
	manager := spawnerFrom(tc)
	if manager == nil {
		return "Error: subagent support is not configured", nil
	}
	list := manager.List()
	if len(list) == 0 {
		return "No subagents have been spawned.", nil
	}
	return list, nil
}

type checkParams struct {
	ID string `json:"id" jsonschema:"description=Subagent id returned by spawn_subagent"`
}

// CheckSubagentTool reports one background task's status and result.
type CheckSubagentTool struct{}

func (t *CheckSubagentTool) Name() string     { return "check_subagent" }
func (t *CheckSubagentTool) Category() string { return "orchestration" }
func (t *CheckSubagentTool) Description() string {
	return "Check the status and result of a background agent task."
}

func (t *CheckSubagentTool) Parameters() json.RawMessage { return SchemaFor(&checkParams{}) }

func (t *CheckSubagentTool) Execute(_ context.Context, params map[string]any, tc *Context) (any, error) {
	manager := spawnerFrom(tc)
	if manager == nil {
		return "Error: subagent support is not configured", nil
	}
	id := stringParam(params, "id")
	info, ok := manager.Get(id)
	if !ok {
		return fmt.Sprintf("Error: unknown subagent '%s'", id), nil
	}
	return info, nil
}
