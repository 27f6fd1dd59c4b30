// Package memory implements grip's long-term memory: a two-file store
// (MEMORY.md for structured facts, HISTORY.md for an append-only log),
// keyword retrieval with TF-IDF scoring and time decay, LLM-driven
// consolidation, the typed knowledge base, and the semantic response cache.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/grip/internal/providers"
	"github.com/haasonsaas/grip/pkg/models"
)

const (
	memoryFile  = "MEMORY.md"
	historyFile = "HISTORY.md"

	// historyRotateBytes triggers rotation when HISTORY.md grows past it.
	historyRotateBytes = 256 * 1024

	timestampLayout = "2006-01-02 15:04:05 UTC"
)

var (
	wordRe      = regexp.MustCompile(`[a-z0-9_]+`)
	timestampRe = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) UTC\]`)
	categoryRe  = regexp.MustCompile(`^[-*]\s*\[([a-z_]+)\]`)
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "not": true, "with": true,
	"from": true, "was": true, "were": true, "been": true, "has": true,
	"have": true, "had": true, "does": true, "did": true, "will": true,
	"would": true, "could": true, "should": true, "can": true, "may": true,
	"this": true, "that": true, "these": true, "those": true, "you": true,
	"she": true, "they": true, "him": true, "her": true, "them": true,
	"your": true, "his": true, "its": true, "our": true, "their": true,
	"what": true, "which": true, "who": true, "when": true, "where": true,
	"how": true, "all": true, "each": true, "every": true, "some": true,
	"any": true, "just": true, "about": true, "out": true, "then": true,
	"than": true, "too": true, "very": true, "also": true, "here": true,
	"there": true,
}

// Tokenize lowercases text and extracts alphanumeric runs longer than two
// characters, dropping stopwords.
func Tokenize(text string) []string {
	raw := wordRe.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(raw))
	for _, w := range raw {
		if len(w) > 2 && !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

// Manager owns MEMORY.md, HISTORY.md, and the history archive chain inside
// a workspace. All writes are atomic; history appends are serialized by the
// caller's single-writer discipline.
type Manager struct {
	dir    string
	logger *slog.Logger

	// DecayRate is the exponential decay applied to history search scores
	// per day of age. Zero disables decay.
	DecayRate float64

	// RotateBytes overrides the rotation threshold (tests shrink it).
	RotateBytes int64
}

// NewManager creates the memory directory under the workspace root.
func NewManager(workspace string, logger *slog.Logger) (*Manager, error) {
	dir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:         dir,
		logger:      logger.With("component", "memory"),
		RotateBytes: historyRotateBytes,
	}, nil
}

// MemoryPath returns the MEMORY.md location.
func (m *Manager) MemoryPath() string { return filepath.Join(m.dir, memoryFile) }

// HistoryPath returns the HISTORY.md location.
func (m *Manager) HistoryPath() string { return filepath.Join(m.dir, historyFile) }

// ReadMemory returns the full MEMORY.md contents.
func (m *Manager) ReadMemory() string {
	data, _ := os.ReadFile(m.MemoryPath())
	return string(data)
}

// WriteMemory overwrites MEMORY.md atomically.
func (m *Manager) WriteMemory(content string) error {
	return atomicWrite(m.MemoryPath(), []byte(content))
}

// AppendToMemory appends an entry to MEMORY.md, preserving trailing
// newline discipline.
func (m *Manager) AppendToMemory(entry string) error {
	current := m.ReadMemory()
	if current != "" && !strings.HasSuffix(current, "\n") {
		current += "\n"
	}
	return m.WriteMemory(current + strings.TrimRight(entry, "\n") + "\n")
}

// ReadHistory returns the full HISTORY.md contents (main file only).
func (m *Manager) ReadHistory() string {
	data, _ := os.ReadFile(m.HistoryPath())
	return string(data)
}

// AppendHistory appends a UTC-timestamped line to HISTORY.md and rotates
// the file if it has grown past the threshold.
func (m *Manager) AppendHistory(entry string) error {
	line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(timestampLayout), strings.TrimRight(entry, "\n"))

	f, err := os.OpenFile(m.HistoryPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return m.rotateIfNeeded()
}

// rotateIfNeeded moves the older half of HISTORY.md into a new archive
// file, keeping the tail in place. Archives stay searchable.
func (m *Manager) rotateIfNeeded() error {
	info, err := os.Stat(m.HistoryPath())
	if err != nil || info.Size() <= m.RotateBytes {
		return nil
	}

	lines := nonBlankLines(m.ReadHistory())
	if len(lines) < 2 {
		return nil
	}
	keep := len(lines) / 2
	archived := lines[:len(lines)-keep]
	tail := lines[len(lines)-keep:]

	archivePath := filepath.Join(m.dir, fmt.Sprintf("HISTORY.archive.%d.md", time.Now().Unix()))
	if err := atomicWrite(archivePath, []byte(strings.Join(archived, "\n")+"\n")); err != nil {
		return err
	}
	if err := atomicWrite(m.HistoryPath(), []byte(strings.Join(tail, "\n")+"\n")); err != nil {
		return err
	}
	m.logger.Info("rotated history", "archived_lines", len(archived), "kept_lines", keep, "archive", filepath.Base(archivePath))
	return nil
}

// archiveContents returns the concatenated contents of all history archives,
// oldest first.
func (m *Manager) archiveContents() string {
	matches, _ := filepath.Glob(filepath.Join(m.dir, "HISTORY.archive.*.md"))
	sort.Strings(matches)
	var sb strings.Builder
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		sb.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// SearchMemory retrieves the most relevant MEMORY.md lines for a query.
func (m *Manager) SearchMemory(query string, maxResults int) []string {
	return searchLines(nonBlankLines(m.ReadMemory()), query, maxResults, 0)
}

// SearchHistory retrieves the most relevant history lines for a query,
// including archived lines. When DecayRate is positive, TF-IDF scores are
// multiplied by exp(-DecayRate * ageDays) parsed from each line's
// timestamp prefix, so newer lines outrank equally-relevant older ones.
func (m *Manager) SearchHistory(query string, maxResults int) []string {
	lines := nonBlankLines(m.archiveContents() + m.ReadHistory())
	return searchLines(lines, query, maxResults, m.DecayRate)
}

// searchLines scores each line against the query. Queries that tokenize to
// at most one meaningful token fall back to case-insensitive substring
// matching; otherwise lines are ranked by summed TF-IDF, optionally decayed
// by line age.
func searchLines(lines []string, query string, maxResults int, decayRate float64) []string {
	if len(lines) == 0 || maxResults <= 0 {
		return nil
	}

	queryTokens := Tokenize(query)
	if len(queryTokens) <= 1 {
		queryLower := strings.ToLower(query)
		var out []string
		for _, line := range lines {
			if strings.Contains(strings.ToLower(line), queryLower) {
				out = append(out, line)
				if len(out) == maxResults {
					break
				}
			}
		}
		return out
	}

	// Document frequency over distinct tokens per line.
	docFreq := map[string]int{}
	lineTokens := make([][]string, len(lines))
	for i, line := range lines {
		tokens := Tokenize(line)
		lineTokens[i] = tokens
		seen := map[string]bool{}
		for _, tok := range tokens {
			if !seen[tok] {
				seen[tok] = true
				docFreq[tok]++
			}
		}
	}

	total := float64(len(lines))
	type scored struct {
		score float64
		index int
	}
	var results []scored
	now := time.Now().UTC()

	for i, line := range lines {
		tokens := lineTokens[i]
		if len(tokens) == 0 {
			continue
		}
		tf := map[string]int{}
		for _, tok := range tokens {
			tf[tok]++
		}
		score := 0.0
		for _, qt := range queryTokens {
			count, ok := tf[qt]
			if !ok {
				continue
			}
			idf := math.Log((total+1)/float64(docFreq[qt]+1)) + 1.0
			score += float64(count) / float64(len(tokens)) * idf
		}
		if score <= 0 {
			continue
		}
		if decayRate > 0 {
			if ts, ok := parseLineTimestamp(line); ok {
				ageDays := now.Sub(ts).Hours() / 24
				if ageDays < 0 {
					ageDays = 0
				}
				score *= math.Exp(-decayRate * ageDays)
			}
		}
		results = append(results, scored{score, i})
	}

	sort.SliceStable(results, func(a, b int) bool { return results[a].score > results[b].score })
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = lines[r.index]
	}
	return out
}

func parseLineTimestamp(line string) (time.Time, bool) {
	match := timestampRe.FindStringSubmatch(line)
	if match == nil {
		return time.Time{}, false
	}
	ts, err := time.Parse("2006-01-02 15:04:05", match[1])
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

// NeedsConsolidation reports whether the session has grown past twice the
// memory window.
func (m *Manager) NeedsConsolidation(messageCount, memoryWindow int) bool {
	return messageCount > memoryWindow*2
}

const consolidationPrompt = "You are a memory consolidation assistant. Review the following conversation " +
	"and extract the key facts, decisions, and important information that should " +
	"be remembered long-term.\n\n" +
	"Rules:\n" +
	"- Extract only durable facts (user preferences, project decisions, names, " +
	"technical choices, important outcomes).\n" +
	"- Skip transient information (greetings, small talk, tool execution details).\n" +
	"- Format as a bulleted list with concise entries.\n" +
	"- If there are no important facts to extract, respond with 'No new facts.'\n\n" +
	"Conversation:\n"

// Consolidate sends old messages to the LLM for durable-fact extraction,
// appends the facts under a dated MEMORY.md heading, writes a topical
// summary line to HISTORY.md, and returns the extracted facts.
func (m *Manager) Consolidate(ctx context.Context, old []models.Message, provider providers.Provider, model string) (string, error) {
	if len(old) == 0 {
		return "", nil
	}

	transcript := formatForConsolidation(old)
	m.logger.Info("running memory consolidation", "messages", len(old), "model", model)

	resp, err := provider.Chat(ctx, &providers.ChatRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "You extract key facts from conversations."},
			{Role: models.RoleUser, Content: consolidationPrompt + transcript},
		},
		Model:       model,
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", err
	}

	facts := resp.Content
	if facts != "" && !strings.Contains(strings.ToLower(facts), "no new facts") {
		heading := fmt.Sprintf("\n### Consolidated %s\n%s\n", time.Now().UTC().Format("2006-01-02"), facts)
		if err := m.AppendToMemory(heading); err != nil {
			return facts, err
		}
	}

	if err := m.AppendHistory(historySummary(old)); err != nil {
		return facts, err
	}
	return facts, nil
}

// formatForConsolidation flattens messages into a readable transcript,
// skipping system messages and capping each body at 2000 characters.
func formatForConsolidation(msgs []models.Message) string {
	var lines []string
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			continue
		}
		prefix := strings.ToUpper(string(msg.Role))
		if msg.Content != "" {
			content := msg.Content
			if len(content) > 2000 {
				content = content[:2000]
			}
			lines = append(lines, prefix+": "+content)
		}
		if len(msg.ToolCalls) > 0 {
			names := make([]string, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				names[i] = tc.Name
			}
			lines = append(lines, prefix+": [called tools: "+strings.Join(names, ", ")+"]")
		}
	}
	return strings.Join(lines, "\n")
}

// historySummary builds a one-line topical summary of a message batch,
// listing up to five user-message snippets.
func historySummary(msgs []models.Message) string {
	var topics []string
	for _, msg := range msgs {
		if msg.Role != models.RoleUser || msg.Content == "" {
			continue
		}
		snippet := strings.TrimSpace(strings.ReplaceAll(msg.Content, "\n", " "))
		if len(snippet) > 80 {
			snippet = snippet[:80]
		}
		if snippet != "" {
			topics = append(topics, snippet)
		}
		if len(topics) == 5 {
			break
		}
	}
	if len(topics) == 0 {
		return fmt.Sprintf("Consolidated %d messages (no user content)", len(msgs))
	}
	return fmt.Sprintf("Consolidated %d messages. Topics: %s", len(msgs), strings.Join(topics, "; "))
}

// Stats summarizes the memory store for status display.
type Stats struct {
	TotalEntries   int            `json:"total_entries"`
	CategoryCounts map[string]int `json:"category_counts"`
	SizeBytes      int64          `json:"size_bytes"`
}

// MemoryStats counts MEMORY.md entries by category tag and total size.
func (m *Manager) MemoryStats() Stats {
	stats := Stats{CategoryCounts: map[string]int{}}
	for _, line := range nonBlankLines(m.ReadMemory()) {
		stats.TotalEntries++
		if match := categoryRe.FindStringSubmatch(line); match != nil {
			stats.CategoryCounts[match[1]]++
		}
	}
	if info, err := os.Stat(m.MemoryPath()); err == nil {
		stats.SizeBytes += info.Size()
	}
	if info, err := os.Stat(m.HistoryPath()); err == nil {
		stats.SizeBytes += info.Size()
	}
	return stats
}

func nonBlankLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
