// Package engines defines the uniform engine contract shared by the
// primary agent loop, the SDK-delegated runner, and the decorator engines,
// plus the result types every engine returns.
package engines

import "context"

// ToolCallDetail is the metadata captured for one tool invocation.
type ToolCallDetail struct {
	Name          string  `json:"name"`
	Success       bool    `json:"success"`
	DurationMS    float64 `json:"duration_ms"`
	OutputPreview string  `json:"output_preview,omitempty"`
}

// AgentRunResult is the unified result returned by every engine. Only
// Response is required; counters default to zero.
type AgentRunResult struct {
	Response         string           `json:"response"`
	Iterations       int              `json:"iterations"`
	PromptTokens     int              `json:"prompt_tokens"`
	CompletionTokens int              `json:"completion_tokens"`
	ToolCallsMade    []string         `json:"tool_calls_made,omitempty"`
	ToolDetails      []ToolCallDetail `json:"tool_details,omitempty"`
}

// TotalTokens returns prompt plus completion tokens.
func (r *AgentRunResult) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// RunOptions carries the optional parameters of a run.
type RunOptions struct {
	// SessionKey identifies the conversation; defaults to "cli:default".
	SessionKey string
	// Model overrides tier routing and the configured default.
	Model string
}

// Engine is the contract callers (CLI, gateway, channels, cron, workflow
// steps) depend on. Decorators wrap an Engine and remain Engines.
type Engine interface {
	// Run sends one user message through the engine.
	Run(ctx context.Context, userMessage string, opts RunOptions) (*AgentRunResult, error)

	// ConsolidateSession summarizes and compacts a session's history.
	ConsolidateSession(ctx context.Context, sessionKey string) error

	// ResetSession clears all conversation history for a session.
	ResetSession(ctx context.Context, sessionKey string) error
}
