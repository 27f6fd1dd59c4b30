// Package sessions persists conversation transcripts per session key.
//
// Each session is one JSON file under the workspace's sessions/ directory.
// Writes are atomic (temp file + rename). A bounded in-memory cache keeps
// hot sessions loaded, evicting least-recently-updated entries.
package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/haasonsaas/grip/pkg/models"
)

const defaultMaxCache = 200

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeKey converts a session key into a safe filename stem.
func SanitizeKey(key string) string {
	return unsafeKeyChars.ReplaceAllString(key, "_")
}

// Manager owns the session files on disk and the in-memory cache. Callers
// hold a returned *models.Session for the duration of one run and persist
// changes through Save.
type Manager struct {
	dir      string
	logger   *slog.Logger
	mu       sync.Mutex
	cache    map[string]*models.Session
	maxCache int
}

// NewManager creates a manager rooted at dir, creating it if needed.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:      dir,
		logger:   logger.With("component", "sessions"),
		cache:    map[string]*models.Session{},
		maxCache: defaultMaxCache,
	}, nil
}

func (m *Manager) pathFor(key string) string {
	return filepath.Join(m.dir, SanitizeKey(key)+".json")
}

// Get loads an existing session or returns nil when absent. Corrupt files
// are treated as absent with a warning.
func (m *Manager) Get(key string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(key, false)
}

// GetOrCreate loads an existing session or creates a new empty one.
func (m *Manager) GetOrCreate(key string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session := m.loadLocked(key, false); session != nil {
		return session
	}
	session := models.NewSession(key)
	m.cache[key] = session
	m.evictLocked()
	m.logger.Debug("created session", "key", key)
	return session
}

func (m *Manager) loadLocked(key string, _ bool) *models.Session {
	if session, ok := m.cache[key]; ok {
		return session
	}
	data, err := os.ReadFile(m.pathFor(key))
	if err != nil {
		return nil
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		m.logger.Warn("corrupt session file", "key", key, "error", err)
		return nil
	}
	m.cache[key] = &session
	m.evictLocked()
	return &session
}

// Save persists a session atomically and refreshes its cache entry.
func (m *Manager) Save(session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.Key, err)
	}

	path := m.pathFor(session.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	m.mu.Lock()
	m.cache[session.Key] = session
	m.evictLocked()
	m.mu.Unlock()

	m.logger.Debug("saved session", "key", session.Key, "messages", session.MessageCount())
	return nil
}

// Delete removes a session from disk and cache. Returns true when a file
// existed.
func (m *Manager) Delete(key string) bool {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()

	if err := os.Remove(m.pathFor(key)); err != nil {
		return false
	}
	m.logger.Debug("deleted session", "key", key)
	return true
}

// List returns all known session keys, sorted. Files whose JSON cannot be
// read contribute their filename stem.
func (m *Manager) List() []string {
	m.mu.Lock()
	keys := map[string]bool{}
	stems := map[string]bool{}
	for k := range m.cache {
		keys[k] = true
		stems[SanitizeKey(k)] = true
	}
	m.mu.Unlock()

	entries, _ := filepath.Glob(filepath.Join(m.dir, "*.json"))
	for _, path := range entries {
		stem := filepath.Base(path)
		stem = stem[:len(stem)-len(".json")]
		if stems[stem] {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			keys[stem] = true
			continue
		}
		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil || session.Key == "" {
			keys[stem] = true
			continue
		}
		keys[session.Key] = true
	}

	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// evictLocked drops least-recently-updated sessions past the cache bound.
func (m *Manager) evictLocked() {
	if len(m.cache) <= m.maxCache {
		return
	}
	type entry struct {
		key string
		at  float64
	}
	entries := make([]entry, 0, len(m.cache))
	for k, s := range m.cache {
		entries = append(entries, entry{k, s.UpdatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at < entries[j].at })
	for _, e := range entries[:len(m.cache)-m.maxCache] {
		delete(m.cache, e.key)
	}
}
