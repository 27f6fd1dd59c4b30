// Package config defines the grip configuration schema and loader.
//
// A single JSON file is the source of truth. Environment variables of the
// form GRIP_<SECTION>__<KEY> override file values after decoding.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Secret is a string that masks itself when formatted or logged. The raw
// value is still persisted to the config file and available via Value().
type Secret string

// Value returns the raw secret string.
func (s Secret) Value() string { return string(s) }

// String returns a masked rendering for logs and %v formatting.
func (s Secret) String() string { return Mask(string(s)) }

// Mask hides the middle of a secret, keeping short prefixes and suffixes
// for identification. Empty strings pass through.
func Mask(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 12 {
		return v[:3] + strings.Repeat("*", len(v)-3)
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}

// AgentDefaults are the parameters applied to every agent run unless
// overridden per profile or per call.
type AgentDefaults struct {
	Workspace            string  `json:"workspace"`
	Model                string  `json:"model"`
	Provider             string  `json:"provider,omitempty"`
	MaxTokens            int     `json:"max_tokens"`
	Temperature          float64 `json:"temperature"`
	MaxToolIterations    int     `json:"max_tool_iterations"`
	MemoryWindow         int     `json:"memory_window"`
	AutoConsolidate      bool    `json:"auto_consolidate"`
	ConsolidationModel   string  `json:"consolidation_model,omitempty"`
	EnableSelfCorrection bool    `json:"enable_self_correction"`
	SemanticCacheEnabled bool    `json:"semantic_cache_enabled"`
	SemanticCacheTTL     int     `json:"semantic_cache_ttl"`
	MaxDailyTokens       int     `json:"max_daily_tokens"`
	DryRun               bool    `json:"dry_run,omitempty"`
	Engine               string  `json:"engine"`
	SDKModel             string  `json:"sdk_model,omitempty"`
	HistoryDecayRate     float64 `json:"history_decay_rate"`
}

// ModelTiers maps router complexity classes to model identifiers. Empty
// tiers fall back to the default model.
type ModelTiers struct {
	Enabled bool   `json:"enabled"`
	Low     string `json:"low,omitempty"`
	Medium  string `json:"medium,omitempty"`
	High    string `json:"high,omitempty"`
}

// AgentProfile is a named parameter set referenced by workflow steps.
type AgentProfile struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// AgentsConfig groups agent defaults, routing tiers, and named profiles.
type AgentsConfig struct {
	Defaults   AgentDefaults           `json:"defaults"`
	ModelTiers ModelTiers              `json:"model_tiers"`
	Profiles   map[string]AgentProfile `json:"profiles,omitempty"`
}

// ProviderConfig holds per-provider credentials and endpoints.
type ProviderConfig struct {
	APIKey       Secret `json:"api_key,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	DefaultModel string `json:"default_model,omitempty"`
}

// ChannelConfig is one chat channel's connection settings.
type ChannelConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     Secret   `json:"token,omitempty"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// ChannelsConfig groups the supported chat channels.
type ChannelsConfig struct {
	Telegram ChannelConfig `json:"telegram"`
	Discord  ChannelConfig `json:"discord"`
	Slack    ChannelConfig `json:"slack"`
}

// OAuthConfig configures an OAuth 2.0 authorization-code flow for an MCP
// server or other external service.
type OAuthConfig struct {
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret Secret   `json:"client_secret,omitempty"`
	AuthURL      string   `json:"auth_url,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	RedirectPort int      `json:"redirect_port,omitempty"`
}

// MCPServerConfig describes one MCP server entry. A command spawns a stdio
// transport; a URL opens an HTTP-streamable or SSE session depending on
// Type ("http", "sse", or unset which defaults to SSE).
type MCPServerConfig struct {
	Enabled bool              `json:"enabled"`
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	OAuth   *OAuthConfig      `json:"oauth,omitempty"`
}

// WebSearchConfig holds web-search provider keys.
type WebSearchConfig struct {
	BraveAPIKey Secret `json:"brave_api_key,omitempty"`
}

// ToolsConfig controls tool execution behavior.
type ToolsConfig struct {
	RestrictToWorkspace bool                       `json:"restrict_to_workspace"`
	TrustMode           string                     `json:"trust_mode"`
	ShellTimeout        int                        `json:"shell_timeout"`
	Web                 WebSearchConfig            `json:"web"`
	MCPServers          map[string]MCPServerConfig `json:"mcp_servers,omitempty"`
}

// HeartbeatConfig controls the periodic wake-up run.
type HeartbeatConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval int    `json:"interval_seconds,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// CronJob is one scheduled agent run.
type CronJob struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
	Model    string `json:"model,omitempty"`
}

// CronConfig lists scheduled jobs.
type CronConfig struct {
	Enabled bool      `json:"enabled"`
	Jobs    []CronJob `json:"jobs,omitempty"`
}

// GatewayAPIConfig holds the gateway's API authentication settings.
type GatewayAPIConfig struct {
	AuthToken Secret   `json:"auth_token,omitempty"`
	CORS      []string `json:"cors,omitempty"`
	RateLimit int      `json:"rate_limit,omitempty"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Enabled bool             `json:"enabled"`
	Host    string           `json:"host"`
	Port    int              `json:"port"`
	API     GatewayAPIConfig `json:"api"`
}

// LoggingConfig configures the process-wide logger.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Agents    AgentsConfig              `json:"agents"`
	Providers map[string]ProviderConfig `json:"providers,omitempty"`
	Channels  ChannelsConfig            `json:"channels"`
	Tools     ToolsConfig               `json:"tools"`
	Heartbeat HeartbeatConfig           `json:"heartbeat"`
	Cron      CronConfig                `json:"cron"`
	Gateway   GatewayConfig             `json:"gateway"`
	Logging   LoggingConfig             `json:"logging"`
}

// Default returns a configuration with working defaults for a fresh install.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:            filepath.Join(home, ".grip", "workspace"),
				Model:                "gpt-4o",
				MaxTokens:            8192,
				Temperature:          0.7,
				MaxToolIterations:    20,
				MemoryWindow:         50,
				AutoConsolidate:      true,
				EnableSelfCorrection: true,
				SemanticCacheEnabled: true,
				SemanticCacheTTL:     3600,
				Engine:               "loop",
				HistoryDecayRate:     0.05,
			},
			Profiles: map[string]AgentProfile{},
		},
		Providers: map[string]ProviderConfig{},
		Tools: ToolsConfig{
			TrustMode:    "prompt",
			ShellTimeout: 60,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8790,
		},
	}
}

// WorkspacePath returns the resolved workspace root.
func (c *Config) WorkspacePath() string {
	ws := c.Agents.Defaults.Workspace
	if strings.HasPrefix(ws, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			ws = filepath.Join(home, strings.TrimPrefix(ws, "~"))
		}
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return ws
	}
	return abs
}
