// Package providers adapts chat-completions calls to concrete LLM services
// and classifies their failures as retryable or fatal.
package providers

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/grip/pkg/models"
)

// ToolDefinition is one tool schema in the OpenAI function-calling shape:
// {"type":"function","function":{"name","description","parameters"}}.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction carries the function name, description, and JSON Schema
// parameters object sent to the LLM.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatRequest is a single chat-completion call.
type ChatRequest struct {
	Messages    []models.Message
	Model       string
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// Provider is the contract every LLM service adapter satisfies.
//
// Implementations must be safe for concurrent use; each Chat call is
// independent. Failures are returned as *Error so the engine's retry
// policy can classify them.
type Provider interface {
	// Chat sends the conversation and returns the parsed response.
	Chat(ctx context.Context, req *ChatRequest) (*models.LLMResponse, error)

	// Name returns the provider identifier used for routing and logging.
	Name() string

	// SupportsTools reports whether the provider supports tool calling.
	SupportsTools() bool
}
