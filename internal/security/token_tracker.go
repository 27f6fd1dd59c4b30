package security

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TokenLimitError is raised before a provider call when the daily cap
// would be exceeded. It is never retried.
type TokenLimitError struct {
	Used  int
	Limit int
}

func (e *TokenLimitError) Error() string {
	return fmt.Sprintf(
		"daily token limit exceeded: %d used of %d allowed; resets at midnight UTC "+
			"(adjust agents.defaults.max_daily_tokens in the config)",
		e.Used, e.Limit)
}

type tokenUsageDoc struct {
	Date             string `json:"date"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	RequestCount     int    `json:"request_count"`
}

// TokenTracker maintains per-day token accounting with a hard limit.
// Counts reset at midnight UTC; the usage file is replaced atomically.
type TokenTracker struct {
	path     string
	maxDaily int
	logger   *slog.Logger

	mu   sync.Mutex
	data tokenUsageDoc
}

// NewTokenTracker loads state/token_usage.json, resetting stale dates.
// maxDaily <= 0 means unlimited.
func NewTokenTracker(stateDir string, maxDaily int, logger *slog.Logger) *TokenTracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &TokenTracker{
		path:     filepath.Join(stateDir, "token_usage.json"),
		maxDaily: maxDaily,
		logger:   logger.With("component", "token_tracker"),
	}
	t.data = t.load()
	return t
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (t *TokenTracker) load() tokenUsageDoc {
	data, err := os.ReadFile(t.path)
	if err == nil {
		var doc tokenUsageDoc
		if json.Unmarshal(data, &doc) == nil && doc.Date == today() {
			return doc
		}
	}
	return tokenUsageDoc{Date: today()}
}

func (t *TokenTracker) saveLocked() {
	_ = os.MkdirAll(filepath.Dir(t.path), 0o755)
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, t.path)
}

func (t *TokenTracker) rolloverLocked() {
	if t.data.Date != today() {
		t.data = tokenUsageDoc{Date: today()}
	}
}

// CheckLimit returns a *TokenLimitError when the daily cap is already
// reached. Call before making a provider request.
func (t *TokenTracker) CheckLimit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	if t.maxDaily > 0 && t.data.TotalTokens >= t.maxDaily {
		return &TokenLimitError{Used: t.data.TotalTokens, Limit: t.maxDaily}
	}
	return nil
}

// Record accounts tokens from a completed provider call.
func (t *TokenTracker) Record(promptTokens, completionTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	t.data.PromptTokens += promptTokens
	t.data.CompletionTokens += completionTokens
	t.data.TotalTokens += promptTokens + completionTokens
	t.data.RequestCount++
	t.saveLocked()

	if t.maxDaily > 0 {
		remaining := t.maxDaily - t.data.TotalTokens
		if remaining < t.maxDaily/10 {
			t.logger.Warn("token budget low",
				"used", t.data.TotalTokens, "limit", t.maxDaily, "remaining", max(0, remaining))
		}
	}
}

// TotalToday returns tokens consumed today.
func (t *TokenTracker) TotalToday() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.data.TotalTokens
}

// RequestsToday returns the number of recorded calls today.
func (t *TokenTracker) RequestsToday() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.data.RequestCount
}

// Remaining returns today's remaining budget, or -1 when unlimited.
func (t *TokenTracker) Remaining() int {
	if t.maxDaily <= 0 {
		return -1
	}
	return max(0, t.maxDaily-t.TotalToday())
}
