// Package gateway exposes grip's HTTP surface: agent runs, MCP server
// management with the gateway-mediated OAuth flow, health, and metrics.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/engines"
	"github.com/haasonsaas/grip/internal/mcp"
	"github.com/haasonsaas/grip/internal/security"
)

// Server is the grip HTTP gateway.
type Server struct {
	cfg     *config.Config
	engine  engines.Engine
	mcpMgr  *mcp.Manager
	tokens  *security.TokenStore
	logger  *slog.Logger
	logins  *pendingLogins
	httpSrv *http.Server

	// configSaver persists MCP enable/disable changes. Nil skips saving
	// (tests).
	configSaver func(*config.Config) error
}

// NewServer wires the gateway.
func NewServer(cfg *config.Config, engine engines.Engine, mcpMgr *mcp.Manager, tokens *security.TokenStore, configSaver func(*config.Config) error, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		engine:      engine,
		mcpMgr:      mcpMgr,
		tokens:      tokens,
		logger:      logger.With("component", "gateway"),
		logins:      newPendingLogins(),
		configSaver: configSaver,
	}
}

// Handler builds the route tree. The OAuth callback is public; everything
// else under /api/v1 requires the bearer token.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// Public: completes the browser redirect leg of the OAuth flow.
	mux.HandleFunc("GET /api/v1/mcp/callback", s.handleMCPCallback)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/run", s.handleRun)
	api.HandleFunc("GET /api/v1/mcp/servers", s.handleMCPServers)
	api.HandleFunc("GET /api/v1/mcp/{name}/status", s.handleMCPStatus)
	api.HandleFunc("POST /api/v1/mcp/{name}/login", s.handleMCPLogin)
	api.HandleFunc("POST /api/v1/mcp/{name}/enable", s.handleMCPEnable)
	api.HandleFunc("POST /api/v1/mcp/{name}/disable", s.handleMCPDisable)
	mux.Handle("/api/v1/", s.authMiddleware(api))

	return mux
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("gateway listening", "addr", addr)
	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// authMiddleware enforces the configured bearer token. An empty configured
// token refuses everything except local development without auth is
// explicitly not supported.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := s.cfg.Gateway.API.AuthToken.Value()
		if expected == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "gateway auth_token is not configured"})
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type runRequest struct {
	Message    string `json:"message"`
	SessionKey string `json:"session_key,omitempty"`
	Model      string `json:"model,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	sessionKey := req.SessionKey
	if sessionKey == "" {
		sessionKey = "gateway:default"
	}

	result, err := s.engine.Run(r.Context(), req.Message, engines.RunOptions{
		SessionKey: sessionKey,
		Model:      req.Model,
	})
	if err != nil {
		var limitErr *security.TokenLimitError
		if errors.As(err, &limitErr) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": limitErr.Error()})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
