package providers

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/pkg/models"
)

func TestToOpenAIMessages(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "be helpful"},
		{Role: models.RoleUser, Content: "read x"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "read_file", Arguments: json.RawMessage(`{"path":"x"}`)},
		}},
		{Role: models.RoleTool, Content: "X", ToolCallID: "call_1", Name: "read_file"},
	}

	out := toOpenAIMessages(msgs)
	if len(out) != 4 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].Role != "system" || out[1].Role != "user" {
		t.Errorf("roles = %s, %s", out[0].Role, out[1].Role)
	}
	assistant := out[2]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
		t.Errorf("assistant = %+v", assistant)
	}
	if assistant.ToolCalls[0].Function.Arguments != `{"path":"x"}` {
		t.Errorf("arguments = %q", assistant.ToolCalls[0].Function.Arguments)
	}
	tool := out[3]
	if tool.Role != "tool" || tool.ToolCallID != "call_1" || tool.Content != "X" {
		t.Errorf("tool = %+v", tool)
	}
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Error("missing key should error")
	}
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-x", Name: "openrouter"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "openrouter" || !p.SupportsTools() {
		t.Errorf("provider = %s", p.Name())
	}
}

func TestInferProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = map[string]config.ProviderConfig{
		"anthropic": {APIKey: config.Secret("k")},
		"openai":    {APIKey: config.Secret("k")},
	}
	if got := inferProvider("claude-sonnet-4-20250514", cfg); got != "anthropic" {
		t.Errorf("claude → %q", got)
	}
	if got := inferProvider("gpt-4o", cfg); got != "openai" {
		t.Errorf("gpt → %q", got)
	}

	single := config.Default()
	single.Providers = map[string]config.ProviderConfig{"openrouter": {APIKey: config.Secret("k")}}
	if got := inferProvider("some/model", single); got != "openrouter" {
		t.Errorf("single provider → %q", got)
	}
}

func TestForConfig_UnconfiguredProvider(t *testing.T) {
	cfg := config.Default()
	if _, err := ForConfig(cfg); err == nil {
		t.Error("no providers configured should error")
	}
}
