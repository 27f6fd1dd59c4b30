package security

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/oauth2"

	"github.com/haasonsaas/grip/internal/config"
)

// OAuthFlowError is a login-level failure: state mismatch, exchange
// failure, or timeout. It is never retried automatically.
type OAuthFlowError struct {
	Message string
	Cause   error
}

func (e *OAuthFlowError) Error() string { return e.Message }
func (e *OAuthFlowError) Unwrap() error { return e.Cause }

const successHTML = `<!DOCTYPE html>
<html>
<head><title>Login Successful</title></head>
<body style="font-family: system-ui, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #f8f9fa;">
<div style="text-align: center; padding: 2rem; background: white; border-radius: 12px; box-shadow: 0 2px 8px rgba(0,0,0,0.1);">
<h1 style="color: #22c55e; margin-bottom: 0.5rem;">Login Successful!</h1>
<p style="color: #64748b;">You can close this tab and return to grip.</p>
</div>
</body>
</html>`

const errorHTML = `<!DOCTYPE html>
<html>
<head><title>Login Failed</title></head>
<body style="font-family: system-ui, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #f8f9fa;">
<div style="text-align: center; padding: 2rem; background: white; border-radius: 12px; box-shadow: 0 2px 8px rgba(0,0,0,0.1);">
<h1 style="color: #ef4444; margin-bottom: 0.5rem;">Login Failed</h1>
<p style="color: #64748b;">%s</p>
</div>
</body>
</html>`

// OpenBrowser launches the system browser; replaced in tests.
var OpenBrowser = func(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

// OAuthFlow executes a browser-based OAuth 2.0 authorization-code flow
// with PKCE (S256) against a local callback listener.
type OAuthFlow struct {
	conf       *oauth2.Config
	serverName string
	timeout    time.Duration
	logger     *slog.Logger

	state    string
	verifier string
}

// NewOAuthFlow prepares a flow for one server. The redirect port comes
// from the OAuth config (default 8917).
func NewOAuthFlow(cfg *config.OAuthConfig, serverName string, logger *slog.Logger) *OAuthFlow {
	if logger == nil {
		logger = slog.Default()
	}
	port := cfg.RedirectPort
	if port == 0 {
		port = 8917
	}
	return &OAuthFlow{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret.Value(),
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: fmt.Sprintf("http://localhost:%d/callback", port),
			Scopes:      cfg.Scopes,
		},
		serverName: serverName,
		timeout:    2 * time.Minute,
		logger:     logger.With("component", "oauth", "server", serverName),
		state:      oauth2.GenerateVerifier(),
		verifier:   oauth2.GenerateVerifier(),
	}
}

// AuthURL returns the authorization URL carrying state and the S256
// challenge.
func (f *OAuthFlow) AuthURL() string {
	return f.conf.AuthCodeURL(f.state, oauth2.S256ChallengeOption(f.verifier))
}

// State returns the flow's CSRF state value. The gateway-mediated login
// indexes pending flows by it.
func (f *OAuthFlow) State() string { return f.state }

// SetRedirectURL overrides the redirect target (the gateway callback
// route instead of the local listener).
func (f *OAuthFlow) SetRedirectURL(url string) { f.conf.RedirectURL = url }

// Execute runs the full flow: start the local listener, open the browser,
// accept exactly one callback (validating state), exchange the code with
// the PKCE verifier, and return the parsed token.
func (f *OAuthFlow) Execute(ctx context.Context) (*StoredToken, error) {
	listener, err := net.Listen("tcp", hostPortFromRedirect(f.conf.RedirectURL))
	if err != nil {
		return nil, &OAuthFlowError{Message: "cannot start callback listener: " + err.Error(), Cause: err}
	}

	type callback struct {
		code string
		err  error
	}
	results := make(chan callback, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if errParam := query.Get("error"); errParam != "" {
			writeHTML(w, http.StatusBadRequest, fmt.Sprintf(errorHTML, html.EscapeString(errParam)))
			results <- callback{err: &OAuthFlowError{Message: "OAuth provider returned error: " + errParam}}
			return
		}
		if query.Get("state") != f.state {
			writeHTML(w, http.StatusBadRequest, fmt.Sprintf(errorHTML, "State mismatch - possible CSRF attack."))
			results <- callback{err: &OAuthFlowError{Message: "OAuth state mismatch"}}
			return
		}
		code := query.Get("code")
		if code == "" {
			writeHTML(w, http.StatusBadRequest, fmt.Sprintf(errorHTML, "No authorization code received."))
			results <- callback{err: &OAuthFlowError{Message: "no authorization code in callback"}}
			return
		}
		writeHTML(w, http.StatusOK, successHTML)
		results <- callback{code: code}
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = server.Serve(listener) }()
	defer server.Close()

	authURL := f.AuthURL()
	f.logger.Info("opening browser for OAuth login")
	if err := OpenBrowser(authURL); err != nil {
		f.logger.Warn("could not open browser; visit the URL manually", "url", authURL)
	}

	select {
	case cb := <-results:
		if cb.err != nil {
			return nil, cb.err
		}
		return f.Exchange(ctx, cb.code)
	case <-time.After(f.timeout):
		return nil, &OAuthFlowError{Message: fmt.Sprintf("OAuth login timed out after %s for '%s'", f.timeout, f.serverName)}
	case <-ctx.Done():
		return nil, &OAuthFlowError{Message: "OAuth login cancelled", Cause: ctx.Err()}
	}
}

// Exchange swaps an authorization code for tokens using the PKCE verifier.
func (f *OAuthFlow) Exchange(ctx context.Context, code string) (*StoredToken, error) {
	token, err := f.conf.Exchange(ctx, code, oauth2.VerifierOption(f.verifier))
	if err != nil {
		return nil, &OAuthFlowError{
			Message: fmt.Sprintf("token exchange failed for '%s': %v", f.serverName, err),
			Cause:   err,
		}
	}
	return fromOAuth2Token(token), nil
}

// Refresh uses a refresh token to obtain a new access token.
func (f *OAuthFlow) Refresh(ctx context.Context, refreshToken string) (*StoredToken, error) {
	source := f.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, &OAuthFlowError{
			Message: fmt.Sprintf("token refresh failed for '%s': %v", f.serverName, err),
			Cause:   err,
		}
	}
	return fromOAuth2Token(token), nil
}

func fromOAuth2Token(token *oauth2.Token) *StoredToken {
	stored := &StoredToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	if stored.TokenType == "" {
		stored.TokenType = "Bearer"
	}
	if !token.Expiry.IsZero() {
		stored.ExpiresAt = float64(token.Expiry.Unix())
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		stored.Scopes = splitScopes(scope)
	}
	return stored
}

func splitScopes(scope string) []string {
	var out []string
	current := ""
	for _, r := range scope {
		if r == ' ' {
			if current != "" {
				out = append(out, current)
				current = ""
			}
			continue
		}
		current += string(r)
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

func hostPortFromRedirect(redirectURL string) string {
	// redirectURL is always http://localhost:PORT/callback.
	var port int
	if _, err := fmt.Sscanf(redirectURL, "http://localhost:%d/callback", &port); err != nil || port == 0 {
		port = 8917
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// ErrLoginRequired signals that an HTTP/SSE MCP server needs an OAuth
// login before a session can open.
var ErrLoginRequired = errors.New("OAuth login required")
