package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/grip/internal/providers"
)

// Registry is the name→tool lookup used by the agent loop. Registration
// happens at startup; lookups are concurrent.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  map[string]Tool{},
		logger: logger.With("component", "tools"),
	}
}

// Register inserts a tool by name, overwriting (with a warning) any
// existing registration.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		r.logger.Warn("overwriting tool registration", "tool", tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// RegisterAll registers a batch of tools.
func (r *Registry) RegisterAll(tools ...Tool) {
	for _, t := range tools {
		r.Register(t)
	}
}

// Unregister removes a tool; returns whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	return true
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions exports every tool in the OpenAI function-calling shape,
// ordered by name for a stable prompt.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunction{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}

// ByCategory groups registered tools by category for manifest generation.
func (r *Registry) ByCategory() map[string][]Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groups := map[string][]Tool{}
	for _, tool := range r.tools {
		groups[tool.Category()] = append(groups[tool.Category()], tool)
	}
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].Name() < group[j].Name() })
	}
	return groups
}

// Execute looks up and runs a tool, returning the serialized result string.
// A missing tool and an implementation failure both come back as error
// strings so the LLM can see what went wrong and adapt.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any, tc *Context) string {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("Error: Unknown tool '%s'. Available: %s", name, strings.Join(r.Names(), ", "))
	}

	result, err := func() (result any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return tool.Execute(ctx, params, tc)
	}()
	if err != nil {
		r.logger.Error("tool execution failed", "tool", name, "error", err)
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}
	return SerializeResult(result)
}

// SerializeResult converts a tool's return value to the string handed to
// the LLM. Strings pass through; structured values become indented JSON.
func SerializeResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
