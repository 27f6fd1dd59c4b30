// Package mcp connects grip to Model Context Protocol servers over stdio,
// streamable HTTP, or SSE transports, wrapping each remote tool as a
// registry tool named mcp_<server>_<tool>.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/security"
	"github.com/haasonsaas/grip/internal/tools"
)

// Status is one server's connection state.
type Status string

const (
	StatusConnected    Status = "Connected"
	StatusDisconnected Status = "Disconnected"
	StatusAuthRequired Status = "AuthRequired"
	StatusDisabled     Status = "Disabled"
)

// ServerStatus is the management view of one configured server.
type ServerStatus struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Transport string `json:"transport"`
	ToolCount int    `json:"tool_count"`
	HasOAuth  bool   `json:"has_oauth"`
}

// Manager owns the MCP client sessions and their registry tool wrappers.
type Manager struct {
	cfg      *config.Config
	registry *tools.Registry
	tokens   *security.TokenStore
	logger   *slog.Logger

	mu        sync.Mutex
	sessions  map[string]*sdk.ClientSession
	toolNames map[string][]string
}

// NewManager creates a manager over the configured servers.
func NewManager(cfg *config.Config, registry *tools.Registry, tokens *security.TokenStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		registry:  registry,
		tokens:    tokens,
		logger:    logger.With("component", "mcp"),
		sessions:  map[string]*sdk.ClientSession{},
		toolNames: map[string][]string{},
	}
}

// Start connects every enabled server. Individual failures are logged and
// do not block the rest.
func (m *Manager) Start(ctx context.Context) {
	for name, srv := range m.cfg.Tools.MCPServers {
		if !srv.Enabled {
			continue
		}
		if err := m.Connect(ctx, name); err != nil {
			m.logger.Error("failed to connect MCP server", "server", name, "error", err)
		}
	}
}

// Stop closes all sessions and unregisters their tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		m.Disconnect(name)
	}
}

// transportKind resolves a server's transport: a command means stdio, a
// URL means streamable HTTP when type=http, else SSE.
func transportKind(srv config.MCPServerConfig) string {
	if srv.Command != "" {
		return "stdio"
	}
	if strings.EqualFold(srv.Type, "http") {
		return "http"
	}
	return "sse"
}

// Connect opens a session to one server and registers its tools.
func (m *Manager) Connect(ctx context.Context, name string) error {
	srv, ok := m.cfg.Tools.MCPServers[name]
	if !ok {
		return fmt.Errorf("MCP server %q is not configured", name)
	}
	if !srv.Enabled {
		return fmt.Errorf("MCP server %q is disabled", name)
	}

	m.mu.Lock()
	if _, exists := m.sessions[name]; exists {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	client := sdk.NewClient(&sdk.Implementation{Name: "grip", Version: "1.0"}, nil)

	var transport sdk.Transport
	switch transportKind(srv) {
	case "stdio":
		cmd := exec.Command(srv.Command, srv.Args...)
		if len(srv.Env) > 0 {
			env := os.Environ()
			for k, v := range srv.Env {
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		transport = &sdk.CommandTransport{Command: cmd}
	case "http":
		httpClient, err := m.httpClientFor(name, srv)
		if err != nil {
			return err
		}
		transport = &sdk.StreamableClientTransport{Endpoint: srv.URL, HTTPClient: httpClient}
	default:
		httpClient, err := m.httpClientFor(name, srv)
		if err != nil {
			return err
		}
		transport = &sdk.SSEClientTransport{Endpoint: srv.URL, HTTPClient: httpClient}
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}

	var registered []string
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			m.logger.Warn("tool listing interrupted", "server", name, "error", err)
			break
		}
		wrapper := &remoteTool{server: name, session: session, tool: tool}
		m.registry.Register(wrapper)
		registered = append(registered, wrapper.Name())
	}

	m.mu.Lock()
	m.sessions[name] = session
	m.toolNames[name] = registered
	m.mu.Unlock()

	m.logger.Info("connected MCP server", "server", name, "tools", len(registered))
	return nil
}

// httpClientFor builds the HTTP client for a URL-based server, attaching
// configured headers and, when OAuth is configured, the stored access
// token (refusing with ErrLoginRequired when none is stored).
func (m *Manager) httpClientFor(name string, srv config.MCPServerConfig) (*http.Client, error) {
	bearer := ""
	if srv.OAuth != nil {
		token := m.tokens.Get(name)
		if token == nil || token.AccessToken == "" {
			return nil, fmt.Errorf("%w for MCP server %q", security.ErrLoginRequired, name)
		}
		bearer = token.AccessToken
	}
	return &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &headerTransport{
			base:    http.DefaultTransport,
			headers: srv.Headers,
			bearer:  bearer,
		},
	}, nil
}

// Disconnect closes one server's session and removes its tools.
func (m *Manager) Disconnect(name string) {
	m.mu.Lock()
	session := m.sessions[name]
	registered := m.toolNames[name]
	delete(m.sessions, name)
	delete(m.toolNames, name)
	m.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	for _, toolName := range registered {
		m.registry.Unregister(toolName)
	}
	m.logger.Info("disconnected MCP server", "server", name)
}

// Reconnect reopens a server's session (after login or a config change),
// replacing its registry entries.
func (m *Manager) Reconnect(ctx context.Context, name string) error {
	m.Disconnect(name)
	return m.Connect(ctx, name)
}

// StatusFor returns one server's management view.
func (m *Manager) StatusFor(name string) (ServerStatus, bool) {
	srv, ok := m.cfg.Tools.MCPServers[name]
	if !ok {
		return ServerStatus{}, false
	}
	return m.statusOf(name, srv), true
}

// Statuses lists every configured server's state, sorted by name.
func (m *Manager) Statuses() []ServerStatus {
	out := make([]ServerStatus, 0, len(m.cfg.Tools.MCPServers))
	for name, srv := range m.cfg.Tools.MCPServers {
		out = append(out, m.statusOf(name, srv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) statusOf(name string, srv config.MCPServerConfig) ServerStatus {
	status := ServerStatus{
		Name:      name,
		Transport: transportKind(srv),
		HasOAuth:  srv.OAuth != nil,
	}

	m.mu.Lock()
	_, connected := m.sessions[name]
	status.ToolCount = len(m.toolNames[name])
	m.mu.Unlock()

	switch {
	case !srv.Enabled:
		status.Status = StatusDisabled
	case connected:
		status.Status = StatusConnected
	case srv.OAuth != nil && m.tokens.Get(name) == nil:
		status.Status = StatusAuthRequired
	default:
		status.Status = StatusDisconnected
	}
	return status
}

// headerTransport injects configured headers and the bearer token.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
	bearer  string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		if clone.Header.Get(k) == "" {
			clone.Header.Set(k, v)
		}
	}
	if t.bearer != "" && clone.Header.Get("Authorization") == "" {
		clone.Header.Set("Authorization", "Bearer "+t.bearer)
	}
	return t.base.RoundTrip(clone)
}
