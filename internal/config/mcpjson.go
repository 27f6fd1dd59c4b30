package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// mcpDiscoveryFile is the sidecar filename checked next to the config file.
const mcpDiscoveryFile = ".mcp.json"

type mcpDiscoveryDoc struct {
	MCPServers map[string]mcpDiscoveryEntry `json:"mcpServers"`
}

type mcpDiscoveryEntry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Type    string            `json:"type,omitempty"`
}

// MergeMCPDiscovery loads a `.mcp.json` sidecar next to configPath and
// merges its servers into cfg.Tools.MCPServers. Servers already present in
// the config win; malformed entries are skipped with a warning.
func MergeMCPDiscovery(cfg *Config, configPath string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	path := filepath.Join(filepath.Dir(configPath), mcpDiscoveryFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var doc mcpDiscoveryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("malformed .mcp.json, skipping", "path", path, "error", err)
		return
	}

	if cfg.Tools.MCPServers == nil {
		cfg.Tools.MCPServers = map[string]MCPServerConfig{}
	}
	for name, entry := range doc.MCPServers {
		if _, exists := cfg.Tools.MCPServers[name]; exists {
			continue
		}
		if entry.Command == "" && entry.URL == "" {
			logger.Warn("skipping .mcp.json server with neither command nor url", "server", name)
			continue
		}
		cfg.Tools.MCPServers[name] = MCPServerConfig{
			Enabled: true,
			Type:    entry.Type,
			Command: entry.Command,
			Args:    entry.Args,
			Env:     entry.Env,
			URL:     entry.URL,
			Headers: entry.Headers,
		}
		logger.Debug("discovered MCP server from .mcp.json", "server", name)
	}
}
