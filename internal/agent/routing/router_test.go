package routing

import (
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		signals SessionSignals
		want    Complexity
	}{
		{"high keyword", "please refactor the session layer", SessionSignals{}, High},
		{"architecture", "design a system for distributed task queues", SessionSignals{}, High},
		{"greeting", "hi there", SessionSignals{}, Low},
		{"simple question", "what is a goroutine", SessionSignals{}, Low},
		{"regex request", "regex for matching IPv4 addresses please", SessionSignals{}, Low},
		{"deep session tools", "continue please with the next part of it", SessionSignals{ToolCalls: 11}, High},
		{"deep session messages", "continue please with the next part of it", SessionSignals{MessageCount: 31}, High},
		{"very long", strings.Repeat("describe the outage timeline precisely ", 60), SessionSignals{}, High},
		{"code block", "why does this fail?\n```go\nfunc main() {}\n```\nplease take a careful look at the snippet above", SessionSignals{}, Medium},
		{"short default", "rename the helper maybe?", SessionSignals{}, Low},
		{"medium default", "walk through the request lifecycle touching the cache layer and explain where latency accumulates in practice", SessionSignals{}, Medium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.message, tt.signals); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.message, got, tt.want)
			}
		})
	}
}

func TestSelectModel(t *testing.T) {
	tiers := Tiers{Low: "gpt-4o-mini", High: "claude-opus-4-20250514"}

	if got := SelectModel("gpt-4o", tiers, Low); got != "gpt-4o-mini" {
		t.Errorf("low = %q", got)
	}
	if got := SelectModel("gpt-4o", tiers, High); got != "claude-opus-4-20250514" {
		t.Errorf("high = %q", got)
	}
	// Empty tier falls back to the default.
	if got := SelectModel("gpt-4o", tiers, Medium); got != "gpt-4o" {
		t.Errorf("medium fallback = %q", got)
	}
}
