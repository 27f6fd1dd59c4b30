package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MemorySearcher is the slice of the memory manager the tools need.
type MemorySearcher interface {
	SearchMemory(query string, maxResults int) []string
	SearchHistory(query string, maxResults int) []string
	AppendToMemory(entry string) error
}

type rememberParams struct {
	Fact     string `json:"fact" jsonschema:"description=The fact to store"`
	Category string `json:"category,omitempty" jsonschema:"description=Category tag (preference, decision, fact)"`
}

// RememberTool stores a fact in long-term memory.
type RememberTool struct {
	Memory MemorySearcher
}

func (t *RememberTool) Name() string     { return "remember" }
func (t *RememberTool) Category() string { return "memory" }
func (t *RememberTool) Description() string {
	return "Store a fact in long-term memory for future recall."
}

func (t *RememberTool) Parameters() json.RawMessage { return SchemaFor(&rememberParams{}) }

func (t *RememberTool) Execute(_ context.Context, params map[string]any, _ *Context) (any, error) {
	fact := strings.TrimSpace(stringParam(params, "fact"))
	if fact == "" {
		return "Error: fact is required", nil
	}
	category := stringParam(params, "category")
	if category == "" {
		category = "fact"
	}
	if err := t.Memory.AppendToMemory(fmt.Sprintf("- [%s] %s", category, fact)); err != nil {
		return "Error: " + err.Error(), nil
	}
	return fmt.Sprintf("Stored fact under category '%s'.", category), nil
}

type recallParams struct {
	Query string `json:"query" jsonschema:"description=Search term to match against stored facts"`
}

// RecallTool searches long-term memory.
type RecallTool struct {
	Memory MemorySearcher
}

func (t *RecallTool) Name() string     { return "recall" }
func (t *RecallTool) Category() string { return "memory" }
func (t *RecallTool) Description() string {
	return "Search long-term memory for facts matching a query."
}

func (t *RecallTool) Parameters() json.RawMessage { return SchemaFor(&recallParams{}) }

func (t *RecallTool) Execute(_ context.Context, params map[string]any, _ *Context) (any, error) {
	results := t.Memory.SearchMemory(stringParam(params, "query"), 10)
	if len(results) == 0 {
		return "No matching facts found in memory.", nil
	}
	return strings.Join(results, "\n"), nil
}

// SearchHistoryTool searches the conversation log.
type SearchHistoryTool struct {
	Memory MemorySearcher
}

func (t *SearchHistoryTool) Name() string     { return "search_memory" }
func (t *SearchHistoryTool) Category() string { return "memory" }
func (t *SearchHistoryTool) Description() string {
	return "Search the conversation history log for past interactions matching a query."
}

func (t *SearchHistoryTool) Parameters() json.RawMessage { return SchemaFor(&recallParams{}) }

func (t *SearchHistoryTool) Execute(_ context.Context, params map[string]any, _ *Context) (any, error) {
	results := t.Memory.SearchHistory(stringParam(params, "query"), 10)
	if len(results) == 0 {
		return "No matching history entries found.", nil
	}
	return strings.Join(results, "\n"), nil
}
