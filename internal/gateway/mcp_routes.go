package gateway

import (
	"fmt"
	"html"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/grip/internal/security"
)

const (
	// pendingTTL expires abandoned login attempts.
	pendingTTL = 10 * time.Minute
	// pendingCap bounds the state map.
	pendingCap = 100
)

// pendingLogin is one in-flight gateway-mediated OAuth exchange, indexed
// by its state value.
type pendingLogin struct {
	flow      *security.OAuthFlow
	server    string
	createdAt time.Time
}

type pendingLogins struct {
	mu      sync.Mutex
	byState map[string]*pendingLogin
}

func newPendingLogins() *pendingLogins {
	return &pendingLogins{byState: map[string]*pendingLogin{}}
}

func (p *pendingLogins) put(state string, login *pendingLogin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked()

	// Cap the map by evicting the oldest entries.
	if len(p.byState) >= pendingCap {
		type aged struct {
			state string
			at    time.Time
		}
		entries := make([]aged, 0, len(p.byState))
		for st, pl := range p.byState {
			entries = append(entries, aged{st, pl.createdAt})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
		for _, e := range entries[:len(p.byState)-pendingCap+1] {
			delete(p.byState, e.state)
		}
	}
	p.byState[state] = login
}

func (p *pendingLogins) take(state string) *pendingLogin {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expireLocked()
	login := p.byState[state]
	delete(p.byState, state)
	return login
}

func (p *pendingLogins) expireLocked() {
	cutoff := time.Now().Add(-pendingTTL)
	for state, login := range p.byState {
		if login.createdAt.Before(cutoff) {
			delete(p.byState, state)
		}
	}
}

// handleMCPServers lists all configured servers with status.
func (s *Server) handleMCPServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": s.mcpMgr.Statuses()})
}

// handleMCPStatus reports one server.
func (s *Server) handleMCPStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	status, ok := s.mcpMgr.StatusFor(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown MCP server: " + name})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleMCPLogin starts the gateway-mediated OAuth flow and returns the
// authorization URL the user must visit.
func (s *Server) handleMCPLogin(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	srv, ok := s.cfg.Tools.MCPServers[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown MCP server: " + name})
		return
	}
	if srv.OAuth == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "server has no OAuth configuration: " + name})
		return
	}

	flow := security.NewOAuthFlow(srv.OAuth, name, s.logger)
	flow.SetRedirectURL(fmt.Sprintf("http://%s:%d/api/v1/mcp/callback", s.cfg.Gateway.Host, s.cfg.Gateway.Port))
	s.logins.put(flow.State(), &pendingLogin{flow: flow, server: name, createdAt: time.Now()})

	writeJSON(w, http.StatusOK, map[string]string{
		"auth_url":    flow.AuthURL(),
		"server_name": name,
		"status":      "pending",
	})
}

// handleMCPCallback completes the exchange for the pending login matching
// the state parameter and renders a result page.
func (s *Server) handleMCPCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		writeCallbackHTML(w, http.StatusBadRequest, "Login failed: "+errParam)
		return
	}

	login := s.logins.take(query.Get("state"))
	if login == nil {
		writeCallbackHTML(w, http.StatusBadRequest, "Unknown or expired login attempt.")
		return
	}
	code := query.Get("code")
	if code == "" {
		writeCallbackHTML(w, http.StatusBadRequest, "No authorization code received.")
		return
	}

	token, err := login.flow.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Error("OAuth exchange failed", "server", login.server, "error", err)
		writeCallbackHTML(w, http.StatusBadGateway, "Token exchange failed.")
		return
	}
	if err := s.tokens.Save(login.server, *token); err != nil {
		writeCallbackHTML(w, http.StatusInternalServerError, "Could not store the token.")
		return
	}

	if err := s.mcpMgr.Reconnect(r.Context(), login.server); err != nil {
		s.logger.Warn("reconnect after login failed", "server", login.server, "error", err)
	}
	writeCallbackHTML(w, http.StatusOK, "Login successful! You can close this tab and return to grip.")
}

// handleMCPEnable persists enabled=true and connects the server.
func (s *Server) handleMCPEnable(w http.ResponseWriter, r *http.Request) {
	s.setMCPEnabled(w, r, true)
}

// handleMCPDisable persists enabled=false and disconnects the server.
func (s *Server) handleMCPDisable(w http.ResponseWriter, r *http.Request) {
	s.setMCPEnabled(w, r, false)
}

func (s *Server) setMCPEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := r.PathValue("name")
	srv, ok := s.cfg.Tools.MCPServers[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown MCP server: " + name})
		return
	}

	srv.Enabled = enabled
	s.cfg.Tools.MCPServers[name] = srv
	if s.configSaver != nil {
		if err := s.configSaver(s.cfg); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to persist config: " + err.Error()})
			return
		}
	}

	if enabled {
		if err := s.mcpMgr.Connect(r.Context(), name); err != nil {
			s.logger.Warn("connect after enable failed", "server", name, "error", err)
		}
	} else {
		s.mcpMgr.Disconnect(name)
	}

	status, _ := s.mcpMgr.StatusFor(name)
	writeJSON(w, http.StatusOK, status)
}

func writeCallbackHTML(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>grip</title></head>
<body style="font-family: system-ui, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #f8f9fa;">
<div style="text-align: center; padding: 2rem; background: white; border-radius: 12px; box-shadow: 0 2px 8px rgba(0,0,0,0.1);">
<p style="color: #334155;">%s</p>
</div>
</body>
</html>`, html.EscapeString(message))
}
