package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/memory"
	"github.com/haasonsaas/grip/internal/security"
	"github.com/haasonsaas/grip/internal/sessions"
	"github.com/haasonsaas/grip/internal/tools"
	"github.com/haasonsaas/grip/internal/workspace"
)

// SDKEngine satisfies the Engine contract by delegating the agentic loop
// to the Anthropic SDK's native tool-use turn-taking. This side keeps only
// prompt assembly (identity + memory + history + skills), a small fixed
// custom tool set (send_message, send_file, remember, recall), and the
// pre-tool / stop hooks that enforce shell safety and directory trust.
//
// ConsolidateSession is a no-op since the SDK owns its context window.
// ResetSession deletes the persisted session.
type SDKEngine struct {
	cfg      *config.Config
	client   anthropic.Client
	ws       *workspace.Manager
	sessions *sessions.Manager
	memory   *memory.Manager
	trust    *security.TrustManager
	sender   tools.Sender
	registry *tools.Registry
	model    string
	logger   *slog.Logger
}

// SDKOptions wires the SDK engine's collaborators. Registry, when set,
// contributes the MCP-wrapped tools (category "mcp") that the MCP manager
// registered, so configured MCP servers surface through the delegated
// loop too.
type SDKOptions struct {
	Config   *config.Config
	APIKey   string
	BaseURL  string
	Ws       *workspace.Manager
	Sessions *sessions.Manager
	Memory   *memory.Manager
	Trust    *security.TrustManager
	Sender   tools.Sender
	Registry *tools.Registry
	Logger   *slog.Logger
}

// NewSDKEngine creates the delegated-loop engine.
func NewSDKEngine(opts SDKOptions) (*SDKEngine, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("sdk engine: anthropic API key is required")
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	model := opts.Config.Agents.Defaults.SDKModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &SDKEngine{
		cfg:      opts.Config,
		client:   anthropic.NewClient(clientOpts...),
		ws:       opts.Ws,
		sessions: opts.Sessions,
		memory:   opts.Memory,
		trust:    opts.Trust,
		sender:   opts.Sender,
		registry: opts.Registry,
		model:    model,
		logger:   logger.With("component", "sdk_engine"),
	}, nil
}

// mcpTools returns the registry's MCP-wrapped tools, the translated form
// of the configured MCP servers.
func (e *SDKEngine) mcpTools() []tools.Tool {
	if e.registry == nil {
		return nil
	}
	return e.registry.ByCategory()["mcp"]
}

// buildSystemPrompt assembles identity files, relevant memory, relevant
// history, skills, and runtime metadata, joined by markdown rules.
func (e *SDKEngine) buildSystemPrompt(userMessage, sessionKey string) string {
	var parts []string

	for _, name := range workspace.IdentityFiles {
		if content := e.ws.ReadIdentityFiles()[name]; content != "" {
			parts = append(parts, "## "+name+"\n\n"+content)
		}
	}

	if e.memory != nil {
		if hits := e.memory.SearchMemory(userMessage, 5); len(hits) > 0 {
			parts = append(parts, "## Relevant Memory\n\n- "+strings.Join(hits, "\n- "))
		}
		if hits := e.memory.SearchHistory(userMessage, 5); len(hits) > 0 {
			parts = append(parts, "## Relevant History\n\n- "+strings.Join(hits, "\n- "))
		}
	}

	if skills := e.ws.ScanSkills(); len(skills) > 0 {
		lines := make([]string, len(skills))
		for i, s := range skills {
			lines[i] = fmt.Sprintf("- **%s**: %s", s.Name, s.Description)
		}
		parts = append(parts, "## Available Skills\n\n"+strings.Join(lines, "\n"))
	}

	parts = append(parts, fmt.Sprintf(
		"## Runtime Metadata\n\n- **Date/Time**: %s\n- **Session**: %s\n- **Workspace**: %s",
		time.Now().UTC().Format("2006-01-02 15:04:05 UTC"), sessionKey, e.ws.Root()))

	return strings.Join(parts, "\n\n---\n\n")
}

// customTool is one of the fixed tools registered with the SDK loop.
type customTool struct {
	name        string
	description string
	schema      anthropic.ToolInputSchemaParam
	run         func(ctx context.Context, input map[string]any) string
}

func (e *SDKEngine) customTools(sessionKey string) []customTool {
	stringProp := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}

	return []customTool{
		{
			name:        "send_message",
			description: "Send a text message to the user via the configured channel.",
			schema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{"text": stringProp("Message text to deliver")},
				Required:   []string{"text"},
			},
			run: func(ctx context.Context, input map[string]any) string {
				if e.sender == nil {
					return "Send callback not configured; message not delivered."
				}
				text, _ := input["text"].(string)
				if err := e.sender.Send(ctx, sessionKey, text); err != nil {
					return "Error: send failed: " + err.Error()
				}
				return "Message delivered."
			},
		},
		{
			name:        "send_file",
			description: "Send a file to the user via the configured channel.",
			schema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"file_path": stringProp("Path of the file to send"),
					"caption":   stringProp("Optional caption"),
				},
				Required: []string{"file_path"},
			},
			run: func(ctx context.Context, input map[string]any) string {
				if e.sender == nil {
					return "Send file callback not configured; file not delivered."
				}
				path, _ := input["file_path"].(string)
				caption, _ := input["caption"].(string)
				if err := e.sender.SendFile(ctx, sessionKey, path, caption); err != nil {
					return "Error: send failed: " + err.Error()
				}
				return "File delivered."
			},
		},
		{
			name:        "remember",
			description: "Store a fact in long-term memory for future recall.",
			schema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"fact":     stringProp("The fact to store"),
					"category": stringProp("Category tag (preference, decision, fact)"),
				},
				Required: []string{"fact"},
			},
			run: func(_ context.Context, input map[string]any) string {
				fact, _ := input["fact"].(string)
				category, _ := input["category"].(string)
				if category == "" {
					category = "fact"
				}
				if e.memory == nil {
					return "Error: memory is not configured"
				}
				if err := e.memory.AppendToMemory(fmt.Sprintf("- [%s] %s", category, fact)); err != nil {
					return "Error: " + err.Error()
				}
				return fmt.Sprintf("Stored fact under category '%s'.", category)
			},
		},
		{
			name:        "recall",
			description: "Search long-term memory for facts matching the query.",
			schema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{"query": stringProp("Search term")},
				Required:   []string{"query"},
			},
			run: func(_ context.Context, input map[string]any) string {
				if e.memory == nil {
					return "Error: memory is not configured"
				}
				query, _ := input["query"].(string)
				results := e.memory.SearchMemory(query, 10)
				if len(results) == 0 {
					return "No matching facts found in memory."
				}
				return strings.Join(results, "\n")
			},
		},
	}
}

// preToolHook blocks dangerous shell commands and untrusted file access
// before a tool executes. A non-empty return is the block message.
func (e *SDKEngine) preToolHook(ctx context.Context, toolName string, input map[string]any) string {
	if toolName == "shell" {
		command, _ := input["command"].(string)
		if pattern, bad := tools.CheckCommand(command); bad {
			e.logger.Warn("blocked dangerous command", "pattern", pattern)
			return fmt.Sprintf("Blocked: matches dangerous pattern '%s'", pattern)
		}
	}
	if e.trust != nil {
		switch toolName {
		case "read_file", "write_file", "list_dir":
			path, _ := input["path"].(string)
			if path != "" && filepath.IsAbs(path) {
				if !e.trust.CheckAndPrompt(ctx, path, e.ws.Root()) {
					e.logger.Warn("blocked file access outside trusted dirs", "path", path)
					return fmt.Sprintf("Directory not trusted: %s. Use /trust to allow access.", filepath.Dir(path))
				}
			}
		}
	}
	return ""
}

// stopHook persists a capped conversation summary after each run.
func (e *SDKEngine) stopHook(summary string) {
	if e.memory == nil || summary == "" {
		return
	}
	if len(summary) > 500 {
		summary = summary[:500]
	}
	_ = e.memory.AppendHistory("[Session summary] " + summary)
}

// Run sends one user message through the SDK's agentic loop and folds the
// streamed assistant/result messages into an AgentRunResult.
func (e *SDKEngine) Run(ctx context.Context, userMessage string, opts RunOptions) (*AgentRunResult, error) {
	sessionKey := opts.SessionKey
	if sessionKey == "" {
		sessionKey = "cli:default"
	}
	model := opts.Model
	if model == "" {
		model = e.model
	}

	system := e.buildSystemPrompt(userMessage, sessionKey)
	custom := e.customTools(sessionKey)

	mcpWrapped := e.mcpTools()
	toolParams := make([]anthropic.ToolUnionParam, 0, len(custom)+len(mcpWrapped))
	byName := map[string]customTool{}
	for _, ct := range custom {
		schema := ct.schema
		schema.Type = "object"
		param := anthropic.ToolUnionParamOfTool(schema, ct.name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(ct.description)
		}
		toolParams = append(toolParams, param)
		byName[ct.name] = ct
	}
	mcpByName := map[string]tools.Tool{}
	for _, mt := range mcpWrapped {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(mt.Parameters(), &schema); err != nil {
			continue
		}
		param := anthropic.ToolUnionParamOfTool(schema, mt.Name())
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(mt.Description())
		}
		toolParams = append(toolParams, param)
		mcpByName[mt.Name()] = mt
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
	}

	var responseParts []string
	var toolCallsMade []string
	iterations := 0
	var promptTokens, completionTokens int

	// The SDK owns turn-taking: each Messages call may end in tool_use
	// blocks that are executed (through the hooks) and fed back until the
	// model stops requesting tools.
	for {
		iterations++
		resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			System:    []anthropic.TextBlockParam{{Type: "text", Text: system}},
			Messages:  messages,
			MaxTokens: int64(e.cfg.Agents.Defaults.MaxTokens),
			Tools:     toolParams,
		})
		if err != nil {
			return nil, fmt.Errorf("sdk engine: %w", err)
		}
		promptTokens += int(resp.Usage.InputTokens)
		completionTokens += int(resp.Usage.OutputTokens)

		var toolResults []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				if variant.Text != "" {
					responseParts = append(responseParts, variant.Text)
				}
			case anthropic.ToolUseBlock:
				toolCallsMade = append(toolCallsMade, variant.Name)
				var input map[string]any
				_ = json.Unmarshal([]byte(variant.Input), &input)

				output := e.preToolHook(ctx, variant.Name, input)
				isError := output != ""
				if !isError {
					if ct, ok := byName[variant.Name]; ok {
						output = ct.run(ctx, input)
					} else if mt, ok := mcpByName[variant.Name]; ok {
						raw, toolErr := mt.Execute(ctx, input, &tools.Context{
							WorkspacePath: e.ws.Root(),
							SessionKey:    sessionKey,
						})
						if toolErr != nil {
							output = "Error executing " + variant.Name + ": " + toolErr.Error()
						} else {
							output = tools.SerializeResult(raw)
						}
					} else {
						output = "Error: unknown tool " + variant.Name
					}
					isError = strings.HasPrefix(output, "Error")
				}
				toolResults = append(toolResults, anthropic.NewToolResultBlock(variant.ID, output, isError))
			}
		}

		if len(toolResults) == 0 {
			break
		}
		messages = append(messages, resp.ToParam())
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}

	responseText := strings.Join(responseParts, "\n")

	if e.memory != nil {
		_ = e.memory.AppendHistory(fmt.Sprintf("User (%s): %s", sessionKey, truncateText(userMessage, 200)))
		_ = e.memory.AppendHistory(fmt.Sprintf("Agent (%s): %s", sessionKey, truncateText(responseText, 200)))
	}
	e.stopHook(responseText)

	return &AgentRunResult{
		Response:         responseText,
		Iterations:       iterations,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		ToolCallsMade:    toolCallsMade,
	}, nil
}

// ConsolidateSession is a no-op: the SDK manages its own context window.
func (e *SDKEngine) ConsolidateSession(_ context.Context, sessionKey string) error {
	e.logger.Info("consolidate_session is a no-op for the SDK engine", "session", sessionKey)
	return nil
}

// ResetSession deletes the persisted session.
func (e *SDKEngine) ResetSession(_ context.Context, sessionKey string) error {
	e.sessions.Delete(sessionKey)
	e.logger.Info("reset session", "session", sessionKey)
	return nil
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
