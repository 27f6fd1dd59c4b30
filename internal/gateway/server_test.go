package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/engines"
	"github.com/haasonsaas/grip/internal/mcp"
	"github.com/haasonsaas/grip/internal/security"
	"github.com/haasonsaas/grip/internal/tools"
)

type fixedEngine struct {
	lastMessage string
	lastOpts    engines.RunOptions
}

func (e *fixedEngine) Run(_ context.Context, msg string, opts engines.RunOptions) (*engines.AgentRunResult, error) {
	e.lastMessage = msg
	e.lastOpts = opts
	return &engines.AgentRunResult{Response: "pong", Iterations: 1}, nil
}
func (e *fixedEngine) ConsolidateSession(context.Context, string) error { return nil }
func (e *fixedEngine) ResetSession(context.Context, string) error       { return nil }

func newTestServer(t *testing.T, servers map[string]config.MCPServerConfig) (*Server, *fixedEngine, *security.TokenStore) {
	t.Helper()
	cfg := config.Default()
	cfg.Gateway.API.AuthToken = config.Secret("test-token")
	cfg.Tools.MCPServers = servers

	tokens := security.NewTokenStore(filepath.Join(t.TempDir(), "tokens.json"), nil)
	mcpMgr := mcp.NewManager(cfg, tools.NewRegistry(nil), tokens, nil)
	engine := &fixedEngine{}
	return NewServer(cfg, engine, mcpMgr, tokens, nil, nil), engine, tokens
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer test-token")
	return req
}

func TestAuth_RejectsMissingAndWrongTokens(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/mcp/servers", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/mcp/servers", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", rec.Code)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRunEndpoint(t *testing.T) {
	server, engine, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, authedRequest("POST", "/api/v1/run",
		`{"message":"ping","session_key":"gateway:test"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var result engines.AgentRunResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Response != "pong" {
		t.Errorf("response = %q", result.Response)
	}
	if engine.lastOpts.SessionKey != "gateway:test" {
		t.Errorf("session key = %q", engine.lastOpts.SessionKey)
	}
}

func TestMCPServersAndStatus(t *testing.T) {
	server, _, _ := newTestServer(t, map[string]config.MCPServerConfig{
		"todoist": {Enabled: true, URL: "https://x", OAuth: &config.OAuthConfig{ClientID: "c"}},
	})
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/mcp/servers", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Servers []mcp.ServerStatus `json:"servers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Servers) != 1 || body.Servers[0].Status != mcp.StatusAuthRequired {
		t.Errorf("servers = %+v", body.Servers)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/mcp/todoist/status", ""))
	if rec.Code != http.StatusOK {
		t.Errorf("status route = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/mcp/nope/status", ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown server = %d", rec.Code)
	}
}

func TestMCPLoginAndCallback(t *testing.T) {
	// Stub token endpoint for the exchange.
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-token", "token_type": "Bearer", "expires_in": 3600,
		})
	}))
	defer tokenSrv.Close()

	server, _, tokens := newTestServer(t, map[string]config.MCPServerConfig{
		"todoist": {Enabled: true, URL: "https://x", OAuth: &config.OAuthConfig{
			ClientID: "c", AuthURL: tokenSrv.URL + "/auth", TokenURL: tokenSrv.URL + "/token",
		}},
	})
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("POST", "/api/v1/mcp/todoist/login", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body)
	}
	var login struct {
		AuthURL    string `json:"auth_url"`
		ServerName string `json:"server_name"`
		Status     string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatal(err)
	}
	if login.ServerName != "todoist" || login.Status != "pending" {
		t.Errorf("login = %+v", login)
	}

	parsed, err := url.Parse(login.AuthURL)
	if err != nil {
		t.Fatal(err)
	}
	state := parsed.Query().Get("state")
	if state == "" {
		t.Fatal("auth_url missing state")
	}

	// Callback with the right state completes the exchange and stores the
	// token. The callback is public (no bearer header).
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/v1/mcp/callback?state="+url.QueryEscape(state)+"&code=abc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("callback status = %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/html") {
		t.Error("callback should render HTML")
	}
	stored := tokens.Get("todoist")
	if stored == nil || stored.AccessToken != "fresh-token" {
		t.Errorf("stored token = %+v", stored)
	}

	// Replaying the same state fails (single use).
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/v1/mcp/callback?state="+url.QueryEscape(state)+"&code=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("replayed state = %d", rec.Code)
	}
}

func TestMCPCallback_UnknownState(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/mcp/callback?state=bogus&code=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMCPEnableDisablePersists(t *testing.T) {
	saved := 0
	server, _, _ := newTestServer(t, map[string]config.MCPServerConfig{
		"local": {Enabled: false, Command: "definitely-not-a-real-binary"},
	})
	server.configSaver = func(cfg *config.Config) error {
		saved++
		return nil
	}
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("POST", "/api/v1/mcp/local/enable", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d", rec.Code)
	}
	if !server.cfg.Tools.MCPServers["local"].Enabled {
		t.Error("enable did not persist to config")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("POST", "/api/v1/mcp/local/disable", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d", rec.Code)
	}
	if server.cfg.Tools.MCPServers["local"].Enabled {
		t.Error("disable did not persist to config")
	}
	if saved != 2 {
		t.Errorf("config saved %d times, want 2", saved)
	}
}

func TestPendingLogins_TTLAndCap(t *testing.T) {
	p := newPendingLogins()

	p.put("old", &pendingLogin{server: "a", createdAt: time.Now().Add(-11 * time.Minute)})
	if p.take("old") != nil {
		t.Error("expired login should be gone")
	}

	for i := 0; i < pendingCap+10; i++ {
		p.put(strings.Repeat("s", 3)+string(rune('a'+i%26))+string(rune('0'+i%10))+string(rune(i)), &pendingLogin{createdAt: time.Now()})
	}
	p.mu.Lock()
	size := len(p.byState)
	p.mu.Unlock()
	if size > pendingCap {
		t.Errorf("pending map size = %d, cap is %d", size, pendingCap)
	}
}
