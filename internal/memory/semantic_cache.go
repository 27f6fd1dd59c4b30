package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// CacheEntry is one cached LLM response.
type CacheEntry struct {
	Response       string  `json:"response"`
	Model          string  `json:"model"`
	CreatedAt      float64 `json:"created_at"`
	AccessedAt     float64 `json:"accessed_at"`
	MessagePreview string  `json:"message_preview"`
}

// SemanticCache is a disk-backed exact-match response cache keyed by
// SHA-256 of the normalized message plus model. Despite the name it is not
// vector-based: normalization is strip+lowercase only.
type SemanticCache struct {
	path    string
	ttl     time.Duration
	maxSize int
	enabled bool
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*CacheEntry
}

// NewSemanticCache loads the cache from stateDir/semantic_cache.json,
// discarding entries that have already expired.
func NewSemanticCache(stateDir string, ttl time.Duration, maxEntries int, enabled bool, logger *slog.Logger) *SemanticCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &SemanticCache{
		path:    filepath.Join(stateDir, "semantic_cache.json"),
		ttl:     ttl,
		maxSize: maxEntries,
		enabled: enabled,
		logger:  logger.With("component", "semantic_cache"),
		entries: map[string]*CacheEntry{},
	}
	c.load()
	return c
}

// CacheKey returns the stable hex key for a (message, model) pair.
func CacheKey(message, model string) string {
	normalized := strings.ToLower(strings.TrimSpace(message))
	sum := sha256.Sum256([]byte(normalized + "||" + model))
	return hex.EncodeToString(sum[:])
}

func (c *SemanticCache) load() {
	_ = os.MkdirAll(filepath.Dir(c.path), 0o755)
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var raw map[string]*CacheEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		c.logger.Warn("corrupt semantic cache file, resetting")
		return
	}
	now := unixNow()
	for k, v := range raw {
		if now-v.CreatedAt < c.ttl.Seconds() {
			c.entries[k] = v
		}
	}
}

func (c *SemanticCache) save() {
	data, err := json.Marshal(c.entries)
	if err != nil {
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, c.path)
}

// Get returns a cached response for (message, model), or "" and false on a
// miss, expiry, or when the cache is disabled. Hits refresh accessed_at.
func (c *SemanticCache) Get(message, model string) (string, bool) {
	if c == nil || !c.enabled {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := CacheKey(message, model)
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if unixNow()-entry.CreatedAt >= c.ttl.Seconds() {
		delete(c.entries, key)
		return "", false
	}
	entry.AccessedAt = unixNow()
	c.logger.Debug("semantic cache hit", "key", key[:8])
	return entry.Response, true
}

// Put stores a response, evicting the oldest-by-access entries when the
// cache exceeds its bound. The write is persisted atomically.
func (c *SemanticCache) Put(message, model, response string) {
	if c == nil || !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	preview := message
	if len(preview) > 100 {
		preview = preview[:100]
	}
	now := unixNow()
	c.entries[CacheKey(message, model)] = &CacheEntry{
		Response:       response,
		Model:          model,
		CreatedAt:      now,
		AccessedAt:     now,
		MessagePreview: preview,
	}

	if c.maxSize > 0 && len(c.entries) > c.maxSize {
		keys := make([]string, 0, len(c.entries))
		for k := range c.entries {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			return c.entries[keys[i]].AccessedAt < c.entries[keys[j]].AccessedAt
		})
		for _, k := range keys[:len(c.entries)-c.maxSize] {
			delete(c.entries, k)
		}
	}

	c.save()
}

// Invalidate removes one entry; returns whether it existed.
func (c *SemanticCache) Invalidate(message, model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := CacheKey(message, model)
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.save()
	return true
}

// Clear drops every entry and returns the removed count.
func (c *SemanticCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = map[string]*CacheEntry{}
	c.save()
	return n
}

// Size returns the current entry count.
func (c *SemanticCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CacheStats summarizes the cache for status display.
type CacheStats struct {
	TotalEntries  int  `json:"total_entries"`
	ActiveEntries int  `json:"active_entries"`
	MaxEntries    int  `json:"max_entries"`
	TTLSeconds    int  `json:"ttl_seconds"`
	Enabled       bool `json:"enabled"`
}

// Stats returns cache statistics.
func (c *SemanticCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := unixNow()
	active := 0
	for _, e := range c.entries {
		if now-e.CreatedAt < c.ttl.Seconds() {
			active++
		}
	}
	return CacheStats{
		TotalEntries:  len(c.entries),
		ActiveEntries: active,
		MaxEntries:    c.maxSize,
		TTLSeconds:    int(c.ttl.Seconds()),
		Enabled:       c.enabled,
	}
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
