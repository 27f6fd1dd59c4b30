// Package security holds grip's security primitives: directory trust,
// OAuth token storage, the PKCE login flow, daily token accounting, and
// secret detection in text.
package security

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// TrustPrompt asks the user whether to trust a directory. It is installed
// in CLI mode; headless modes leave it nil and deny silently.
type TrustPrompt func(ctx context.Context, dir string) bool

// TrustManager enforces per-directory access policy for filesystem tools
// when the workspace is not the sole permitted root. Grants persist to
// state/trusted_dirs.json; denials are cached for the process lifetime.
type TrustManager struct {
	statePath string
	logger    *slog.Logger

	mu      sync.Mutex
	trusted map[string]bool
	denied  map[string]bool
	prompt  TrustPrompt
}

// NewTrustManager loads the trusted-directory set from stateDir.
func NewTrustManager(stateDir string, logger *slog.Logger) *TrustManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &TrustManager{
		statePath: filepath.Join(stateDir, "trusted_dirs.json"),
		logger:    logger.With("component", "trust"),
		trusted:   map[string]bool{},
		denied:    map[string]bool{},
	}
	m.load()
	return m
}

func (m *TrustManager) load() {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		return
	}
	var doc struct {
		Directories []string `json:"directories"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		m.logger.Warn("failed to parse trusted_dirs.json", "error", err)
		return
	}
	for _, d := range doc.Directories {
		m.trusted[d] = true
	}
}

func (m *TrustManager) saveLocked() {
	dirs := make([]string, 0, len(m.trusted))
	for d := range m.trusted {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	data, err := json.MarshalIndent(map[string][]string{"directories": dirs}, "", "  ")
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(m.statePath), 0o755)
	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, m.statePath)
}

// SetPrompt installs the interactive trust prompt callback.
func (m *TrustManager) SetPrompt(prompt TrustPrompt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompt = prompt
}

// TrustedDirectories returns the persisted trust grants, sorted.
func (m *TrustManager) TrustedDirectories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	dirs := make([]string, 0, len(m.trusted))
	for d := range m.trusted {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// IsTrusted reports whether path is inside the workspace or a trusted
// directory. The workspace is always trusted.
func (m *TrustManager) IsTrusted(path, workspace string) bool {
	resolved := cleanAbs(path)
	ws := cleanAbs(workspace)
	if isSubpath(resolved, ws) {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for dir := range m.trusted {
		if isSubpath(resolved, dir) {
			return true
		}
	}
	return false
}

// Trust permanently grants access to a directory and its subtree.
func (m *TrustManager) Trust(dir string) {
	resolved := cleanAbs(dir)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trusted[resolved] = true
	delete(m.denied, resolved)
	m.saveLocked()
	m.logger.Info("trusted directory", "dir", resolved)
}

// Revoke removes a grant; returns whether it existed.
func (m *TrustManager) Revoke(dir string) bool {
	resolved := cleanAbs(dir)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.trusted[resolved] {
		return false
	}
	delete(m.trusted, resolved)
	m.saveLocked()
	m.logger.Info("revoked trust", "dir", resolved)
	return true
}

// FindTrustTarget computes the top-level ancestor a trust grant covers:
// ~/<first_child> for paths under the user's home, else the first
// directory after root.
func FindTrustTarget(path string) string {
	resolved := cleanAbs(path)
	home, err := os.UserHomeDir()
	if err == nil {
		home = cleanAbs(home)
		if rel, err := filepath.Rel(home, resolved); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			parts := strings.Split(rel, string(os.PathSeparator))
			return filepath.Join(home, parts[0])
		}
		if resolved == home {
			return resolved
		}
	}
	parts := strings.Split(strings.TrimPrefix(resolved, string(os.PathSeparator)), string(os.PathSeparator))
	if len(parts) > 0 && parts[0] != "" {
		return string(os.PathSeparator) + parts[0]
	}
	return resolved
}

// CheckAndPrompt checks trust and, when needed, asks the user via the
// installed prompt. Prompts are serialized under the manager's mutex so
// two parallel tool calls cannot both prompt for the same directory; a
// grant persists, a denial is cached for the remainder of the process.
// Without a prompt callback (headless mode) untrusted paths are denied
// silently.
func (m *TrustManager) CheckAndPrompt(ctx context.Context, path, workspace string) bool {
	if m.IsTrusted(path, workspace) {
		return true
	}

	target := FindTrustTarget(path)

	m.mu.Lock()
	if m.denied[target] {
		m.mu.Unlock()
		return false
	}
	// Re-check under the lock: a parallel call may have granted it.
	for dir := range m.trusted {
		if isSubpath(cleanAbs(path), dir) {
			m.mu.Unlock()
			return true
		}
	}
	prompt := m.prompt
	if prompt == nil {
		m.mu.Unlock()
		return false
	}

	granted := prompt(ctx, target)
	if granted {
		m.trusted[target] = true
		delete(m.denied, target)
		m.saveLocked()
		m.mu.Unlock()
		m.logger.Info("trusted directory", "dir", target)
		return true
	}
	m.denied[target] = true
	m.mu.Unlock()
	return false
}

func cleanAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func isSubpath(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(os.PathSeparator))
}
