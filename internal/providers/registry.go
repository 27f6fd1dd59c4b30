package providers

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/grip/internal/config"
)

// ForConfig builds the provider selected by the configuration. The explicit
// agents.defaults.provider wins; otherwise the provider is inferred from
// the default model's prefix (claude-* → anthropic, everything else with a
// configured key → openai-compatible).
func ForConfig(cfg *config.Config) (Provider, error) {
	name := cfg.Agents.Defaults.Provider
	if name == "" {
		name = inferProvider(cfg.Agents.Defaults.Model, cfg)
	}

	entry, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured; add it under providers in the config", name)
	}

	switch name {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       entry.APIKey.Value(),
			BaseURL:      entry.BaseURL,
			DefaultModel: firstNonEmpty(entry.DefaultModel, cfg.Agents.Defaults.Model),
		})
	default:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       entry.APIKey.Value(),
			BaseURL:      entry.BaseURL,
			Name:         name,
			DefaultModel: firstNonEmpty(entry.DefaultModel, cfg.Agents.Defaults.Model),
		})
	}
}

// inferProvider maps a model id to a configured provider name.
func inferProvider(model string, cfg *config.Config) string {
	if strings.HasPrefix(model, "claude") {
		if _, ok := cfg.Providers["anthropic"]; ok {
			return "anthropic"
		}
	}
	if _, ok := cfg.Providers["openai"]; ok {
		return "openai"
	}
	// Fall back to any single configured provider.
	if len(cfg.Providers) == 1 {
		for name := range cfg.Providers {
			return name
		}
	}
	return "openai"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
