package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.Defaults.MemoryWindow != 50 {
		t.Errorf("default memory window = %d", cfg.Agents.Defaults.MemoryWindow)
	}
	if !cfg.Agents.Defaults.SemanticCacheEnabled {
		t.Error("semantic cache should default on")
	}
}

func TestLoad_FileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"agents":{"defaults":{"model":"gpt-4o-mini","memory_window":20}},"providers":{"openai":{"api_key":"sk-test-1234567890abcd"}}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.Defaults.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Agents.Defaults.Model)
	}
	if cfg.Agents.Defaults.MemoryWindow != 20 {
		t.Errorf("memory_window = %d", cfg.Agents.Defaults.MemoryWindow)
	}
	if cfg.Providers["openai"].APIKey.Value() != "sk-test-1234567890abcd" {
		t.Errorf("api key = %q", cfg.Providers["openai"].APIKey.Value())
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	applyEnvOverrides(cfg, []string{
		"GRIP_AGENTS__DEFAULTS__MODEL=claude-sonnet-4-20250514",
		"GRIP_AGENTS__DEFAULTS__MAX_TOKENS=4096",
		"GRIP_GATEWAY__ENABLED=true",
		"GRIP_AGENTS__DEFAULTS__TEMPERATURE=0.2",
		"UNRELATED=x",
		"GRIP_SINGLESEGMENT=ignored",
	})

	if cfg.Agents.Defaults.Model != "claude-sonnet-4-20250514" {
		t.Errorf("model override failed: %q", cfg.Agents.Defaults.Model)
	}
	if cfg.Agents.Defaults.MaxTokens != 4096 {
		t.Errorf("int override failed: %d", cfg.Agents.Defaults.MaxTokens)
	}
	if !cfg.Gateway.Enabled {
		t.Error("bool override failed")
	}
	if cfg.Agents.Defaults.Temperature != 0.2 {
		t.Errorf("float override failed: %v", cfg.Agents.Defaults.Temperature)
	}
}

func TestSecretMasking(t *testing.T) {
	s := Secret("sk-abcdefghijklmnopqrstuvwx")
	masked := fmt.Sprintf("%v", s)
	if masked == s.Value() {
		t.Error("secret leaked through formatting")
	}
	if got := s.String(); got[:4] != "sk-a" {
		t.Errorf("mask prefix = %q", got[:4])
	}
	if Mask("") != "" {
		t.Error("empty secret should stay empty")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Agents.Defaults.Model = "gpt-4o-mini"
	cfg.Providers["openai"] = ProviderConfig{APIKey: Secret("sk-raw-value-123456")}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if back.Agents.Defaults.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", back.Agents.Defaults.Model)
	}
	// Secrets must persist raw, not masked.
	if back.Providers["openai"].APIKey.Value() != "sk-raw-value-123456" {
		t.Errorf("persisted secret = %q", back.Providers["openai"].APIKey.Value())
	}
}

func TestMergeMCPDiscovery(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	sidecar := `{"mcpServers":{
		"todoist":{"url":"https://mcp.todoist.example/sse","type":"sse"},
		"local":{"command":"mcp-local","args":["--fast"]},
		"broken":{}
	}}`
	if err := os.WriteFile(filepath.Join(dir, ".mcp.json"), []byte(sidecar), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Tools.MCPServers = map[string]MCPServerConfig{
		"todoist": {Enabled: false, URL: "https://configured.example"},
	}
	MergeMCPDiscovery(cfg, configPath, nil)

	if len(cfg.Tools.MCPServers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.Tools.MCPServers))
	}
	// Config entry wins over discovery.
	if cfg.Tools.MCPServers["todoist"].URL != "https://configured.example" {
		t.Error("config entry should not be overwritten by .mcp.json")
	}
	if cfg.Tools.MCPServers["local"].Command != "mcp-local" {
		t.Error("discovered stdio server missing")
	}
	if _, ok := cfg.Tools.MCPServers["broken"]; ok {
		t.Error("malformed entry should be skipped")
	}
}
