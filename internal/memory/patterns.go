package memory

import (
	"regexp"
	"strings"
	"sync"
)

const (
	maxExtractionsPerCall = 3
	maxPatternContentLen  = 120

	// toolFrequencyThreshold is how often a tool must appear before it is
	// recorded as a system_behavior entry.
	toolFrequencyThreshold = 5
)

var preferencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i (?:prefer|like|want|always use|love)\s+(.{5,80})`),
	regexp.MustCompile(`(?i)my (?:favorite|preferred|default)\s+(?:is\s+)?(.{5,80})`),
	regexp.MustCompile(`(?i)(?:don'?t|do not|never|stop)\s+(?:use|show|suggest|include)\s+(.{5,80})`),
	regexp.MustCompile(`(?i)please (?:always|never)\s+(.{5,80})`),
}

var decisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)let'?s (?:use|go with|switch to|try)\s+(.{5,80})`),
	regexp.MustCompile(`(?i)we (?:decided|agreed|chose|picked)\s+(?:to\s+)?(.{5,80})`),
	regexp.MustCompile(`(?i)going (?:with|forward with)\s+(.{5,80})`),
	regexp.MustCompile(`(?i)the plan is to\s+(.{5,80})`),
}

var errorResolutionPattern = regexp.MustCompile(`(?is)error[:\s]+(.{10,120})`)

var whitespaceRe = regexp.MustCompile(`\s+`)

// ExtractedPattern is one behavioral pattern mined from an interaction.
type ExtractedPattern struct {
	Category string
	Content  string
	Source   string
	Tags     []string
}

// PatternExtractor mines interactions for behavioral patterns with regex
// heuristics only, no model calls. It is stateful: per-tool call counts
// accumulate across interactions so frequently-used tools surface as
// system_behavior entries.
type PatternExtractor struct {
	mu            sync.Mutex
	toolCounts    map[string]int
	recordedTools map[string]bool
}

// NewPatternExtractor creates an empty extractor.
func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{
		toolCounts:    map[string]int{},
		recordedTools: map[string]bool{},
	}
}

// Extract returns up to three unique patterns from one interaction.
func (x *PatternExtractor) Extract(userMessage, response string, toolCalls []string) []ExtractedPattern {
	var patterns []ExtractedPattern

	for _, re := range preferencePatterns {
		if match := re.FindStringSubmatch(userMessage); match != nil {
			if content := cleanPattern(match[1]); content != "" {
				patterns = append(patterns, ExtractedPattern{
					Category: CategoryUserPreference,
					Content:  content,
					Source:   "user_message",
					Tags:     []string{"preference"},
				})
			}
		}
	}

	for _, re := range decisionPatterns {
		if match := re.FindStringSubmatch(userMessage); match != nil {
			if content := cleanPattern(match[1]); content != "" {
				patterns = append(patterns, ExtractedPattern{
					Category: CategoryProjectDecision,
					Content:  content,
					Source:   "user_message",
					Tags:     []string{"decision"},
				})
			}
		}
	}

	if match := errorResolutionPattern.FindStringSubmatch(response); match != nil {
		if content := cleanPattern(match[1]); len(content) >= 10 {
			patterns = append(patterns, ExtractedPattern{
				Category: CategoryErrorPattern,
				Content:  content,
				Source:   "agent_response",
				Tags:     []string{"error"},
			})
		}
	}

	patterns = append(patterns, x.trackToolFrequency(toolCalls)...)

	// Deduplicate by (category, lowered content), preserving order.
	seen := map[string]bool{}
	unique := patterns[:0]
	for _, p := range patterns {
		key := p.Category + "|" + strings.ToLower(strings.TrimSpace(p.Content))
		if !seen[key] {
			seen[key] = true
			unique = append(unique, p)
		}
	}
	if len(unique) > maxExtractionsPerCall {
		unique = unique[:maxExtractionsPerCall]
	}
	return unique
}

func (x *PatternExtractor) trackToolFrequency(toolCalls []string) []ExtractedPattern {
	x.mu.Lock()
	defer x.mu.Unlock()

	var out []ExtractedPattern
	for _, name := range toolCalls {
		x.toolCounts[name]++
		if x.toolCounts[name] >= toolFrequencyThreshold && !x.recordedTools[name] {
			x.recordedTools[name] = true
			out = append(out, ExtractedPattern{
				Category: CategorySystemBehavior,
				Content:  "Tool '" + name + "' is frequently used",
				Source:   "tool_usage",
				Tags:     []string{"tool_frequency", name},
			})
		}
	}
	return out
}

// cleanPattern normalizes extracted text: collapse whitespace, trim
// trailing punctuation, cap length.
func cleanPattern(text string) string {
	text = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	text = strings.TrimRight(text, ".,;:")
	if len(text) > maxPatternContentLen {
		text = text[:maxPatternContentLen]
	}
	return text
}
