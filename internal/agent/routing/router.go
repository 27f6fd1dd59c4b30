// Package routing classifies prompt complexity with content heuristics and
// selects a model tier. No model call is involved in the routing decision.
package routing

import (
	"regexp"
	"strings"
)

// Complexity is a discrete prompt-complexity class.
type Complexity string

const (
	Low    Complexity = "low"
	Medium Complexity = "medium"
	High   Complexity = "high"
)

// Tiers maps complexity classes to model identifiers. Empty tiers fall
// back to the default model.
type Tiers struct {
	Low    string
	Medium string
	High   string
}

var highComplexityPatterns = compileAll(
	`refactor\w*`,
	`architect\w*`,
	`design.*system`,
	`implement.*from scratch`,
	`debug.*complex`,
	`security.*audit`,
	`performance.*optim`,
	`migrate\w*`,
	`review.*entire`,
	`rewrite\w*`,
	`scale\w*`,
	`deploy\w*.*prod`,
	`infrastructure`,
	`multi.?file`,
	`cross.?platform`,
	`distributed`,
	`concurren`,
	`async.*pattern`,
)

var lowComplexityPatterns = compileAll(
	`^(hi|hello|hey|thanks|thank you|ok|okay|yes|no|sure)\b`,
	`what (is|are|was|were) `,
	`how (do|does|to) `,
	`^(list|show|display|print) `,
	`(regex|regexp) for`,
	`(convert|translate) .{0,30} to `,
	`what time`,
	`remind me`,
	`summarize`,
	`^explain `,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// SessionSignals carries the conversation-depth inputs to classification.
type SessionSignals struct {
	ToolCalls    int
	MessageCount int
}

// Classify estimates a message's complexity from keyword signals, session
// depth, and message shape.
func Classify(message string, signals SessionSignals) Complexity {
	for _, re := range highComplexityPatterns {
		if re.MatchString(message) {
			return High
		}
	}

	if len(message) < 200 {
		for _, re := range lowComplexityPatterns {
			if re.MatchString(message) {
				return Low
			}
		}
	}

	if signals.ToolCalls > 10 || signals.MessageCount > 30 {
		return High
	}

	if len(message) > 2000 {
		return High
	}
	if strings.Contains(message, "```") || strings.Count(message, "\n") > 10 {
		return Medium
	}
	if len(message) < 100 {
		return Low
	}
	return Medium
}

// SelectModel returns the tier-specific model when configured, else the
// default.
func SelectModel(defaultModel string, tiers Tiers, complexity Complexity) string {
	var tierModel string
	switch complexity {
	case Low:
		tierModel = tiers.Low
	case Medium:
		tierModel = tiers.Medium
	case High:
		tierModel = tiers.High
	}
	if tierModel != "" {
		return tierModel
	}
	return defaultModel
}
