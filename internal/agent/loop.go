package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/grip/internal/agent/routing"
	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/engines"
	"github.com/haasonsaas/grip/internal/memory"
	"github.com/haasonsaas/grip/internal/observability"
	"github.com/haasonsaas/grip/internal/providers"
	"github.com/haasonsaas/grip/internal/retry"
	"github.com/haasonsaas/grip/internal/sessions"
	"github.com/haasonsaas/grip/internal/subagent"
	"github.com/haasonsaas/grip/internal/tools"
	"github.com/haasonsaas/grip/pkg/models"
)

// immediateWindowCap bounds the verbatim history tail regardless of the
// configured memory window.
const immediateWindowCap = 10

// outputPreviewLen is the tool-detail preview length.
const outputPreviewLen = 120

const exhaustionMessage = "I've reached my maximum number of tool iterations for this request. " +
	"Here's what I've done so far based on the tool results above."

const exhaustionFallback = "I was unable to complete the request within the iteration limit."

// Loop orchestrates the LLM ↔ tool execution cycle. It satisfies the
// engines.Engine contract and exclusively owns its provider, tool
// registry, and per-run tool contexts.
type Loop struct {
	cfg       *config.Config
	provider  providers.Provider
	registry  *tools.Registry
	sessions  *sessions.Manager
	memory    *memory.Manager
	cache     *memory.SemanticCache
	kb        *memory.KnowledgeBase
	trust     *tools.TrustChecker
	subagents *subagent.Manager
	builder   *ContextBuilder
	sender    tools.Sender
	metrics   *observability.Metrics
	logger    *slog.Logger

	// Per-session work is serialized so consolidation completes before a
	// concurrent run observes the pruned state.
	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Options wires the loop's collaborators. Provider, Sessions, Builder, and
// Registry are required; the rest degrade gracefully when nil.
type Options struct {
	Config    *config.Config
	Provider  providers.Provider
	Registry  *tools.Registry
	Sessions  *sessions.Manager
	Memory    *memory.Manager
	Cache     *memory.SemanticCache
	Knowledge *memory.KnowledgeBase
	Trust     tools.TrustChecker
	Subagents *subagent.Manager
	Builder   *ContextBuilder
	Sender    tools.Sender
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// NewLoop creates the primary engine.
func NewLoop(opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		cfg:       opts.Config,
		provider:  opts.Provider,
		registry:  opts.Registry,
		sessions:  opts.Sessions,
		memory:    opts.Memory,
		cache:     opts.Cache,
		kb:        opts.Knowledge,
		subagents: opts.Subagents,
		builder:   opts.Builder,
		sender:    opts.Sender,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "agent"),
		locks:     map[string]*sessionLock{},
	}
	if opts.Trust != nil {
		l.trust = &opts.Trust
	}
	return l
}

// lockSession serializes work on one session key; the returned func
// releases the lock.
func (l *Loop) lockSession(key string) func() {
	if strings.TrimSpace(key) == "" {
		return func() {}
	}
	l.locksMu.Lock()
	lock := l.locks[key]
	if lock == nil {
		lock = &sessionLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(l.locks, key)
		}
		l.locksMu.Unlock()
	}
}

// Run executes a full agent run for one user message.
func (l *Loop) Run(ctx context.Context, userMessage string, opts engines.RunOptions) (*engines.AgentRunResult, error) {
	sessionKey := opts.SessionKey
	if sessionKey == "" {
		sessionKey = "cli:default"
	}
	unlock := l.lockSession(sessionKey)
	defer unlock()

	defaults := l.cfg.Agents.Defaults
	session := l.sessions.GetOrCreate(sessionKey)

	// Model selection: explicit override, tier routing, or the default.
	effectiveModel := opts.Model
	if effectiveModel == "" {
		if l.cfg.Agents.ModelTiers.Enabled {
			complexity := routing.Classify(userMessage, routing.SessionSignals{
				MessageCount: session.MessageCount(),
			})
			effectiveModel = routing.SelectModel(defaults.Model, routing.Tiers{
				Low:    l.cfg.Agents.ModelTiers.Low,
				Medium: l.cfg.Agents.ModelTiers.Medium,
				High:   l.cfg.Agents.ModelTiers.High,
			}, complexity)
			l.logger.Debug("routed model", "complexity", string(complexity), "model", effectiveModel)
		} else {
			effectiveModel = defaults.Model
		}
	}

	// Semantic cache: identical recent queries short-circuit the provider.
	if cached, ok := l.cache.Get(userMessage, effectiveModel); ok {
		l.observeCache("hit")
		l.logger.Info("semantic cache hit", "session", sessionKey)
		l.persistExchange(session, userMessage, cached)
		return &engines.AgentRunResult{Response: cached, Iterations: 0}, nil
	}
	l.observeCache("miss")

	window := defaults.MemoryWindow
	if window > immediateWindowCap {
		window = immediateWindowCap
	}
	history := session.Recent(window)

	messages := []models.Message{l.builder.BuildSystemMessage(userMessage, sessionKey)}
	if session.Summary != "" {
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: session.Summary})
	}
	if relevant := l.retrieveRelevantContext(userMessage); relevant != "" {
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: relevant})
	}
	messages = append(messages, history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: userMessage})

	toolDefs := l.registry.Definitions()
	toolCtx := l.buildToolContext(sessionKey)

	var usage models.TokenUsage
	var toolCallsMade []string
	var toolDetails []engines.ToolCallDetail

	maxIterations := defaults.MaxToolIterations
	iteration := 0
	for maxIterations == 0 || iteration < maxIterations {
		iteration++
		l.logger.Info("agent loop iteration", "iteration", iteration, "max", maxIterations, "session", sessionKey)

		resp, err := l.callProvider(ctx, messages, toolDefs, effectiveModel)
		if err != nil {
			l.observeRun("error", iteration)
			return nil, err
		}
		usage.Add(resp.Usage)

		if !resp.HasToolCalls() {
			finalText := resp.Content
			result := &engines.AgentRunResult{
				Response:         finalText,
				Iterations:       iteration,
				PromptTokens:     usage.PromptTokens,
				CompletionTokens: usage.CompletionTokens,
				ToolCallsMade:    toolCallsMade,
				ToolDetails:      toolDetails,
			}
			l.persistExchange(session, userMessage, finalText)
			l.maybeConsolidate(ctx, session)
			// Pure Q&A runs are deterministic enough to cache.
			if len(toolCallsMade) == 0 {
				l.cache.Put(userMessage, effectiveModel, finalText)
			}
			l.observeRun("success", iteration)
			l.observeTokens(effectiveModel, usage)
			return result, nil
		}

		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		execResults := l.dispatchToolCalls(ctx, resp.ToolCalls, toolCtx)

		var failed []string
		for _, res := range execResults {
			toolCallsMade = append(toolCallsMade, res.toolName)
			preview := res.output
			if len(preview) > outputPreviewLen {
				preview = preview[:outputPreviewLen]
			}
			toolDetails = append(toolDetails, engines.ToolCallDetail{
				Name:          res.toolName,
				Success:       res.success,
				DurationMS:    res.durationMS,
				OutputPreview: preview,
			})
			messages = append(messages, models.Message{
				Role:       models.RoleTool,
				Content:    res.output,
				ToolCallID: res.toolCallID,
				Name:       res.toolName,
			})
			if !res.success {
				summary := res.output
				if len(summary) > 200 {
					summary = summary[:200]
				}
				failed = append(failed, res.toolName+": "+summary)
			}
			l.observeTool(res)
		}

		if len(failed) > 0 && defaults.EnableSelfCorrection {
			messages = append(messages, models.Message{
				Role: models.RoleSystem,
				Content: "[Self-correction] The following tool calls failed: " + strings.Join(failed, "; ") + ". " +
					"Before proceeding, analyze what went wrong and adjust your approach. " +
					"Consider: wrong arguments, missing prerequisites, or alternative tools.",
			})
		}
	}

	// Exhausted the iteration budget: force a final text answer.
	l.logger.Warn("agent hit max iterations, forcing final response", "max", maxIterations, "session", sessionKey)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: exhaustionMessage})

	resp, err := l.callProvider(ctx, messages, nil, effectiveModel)
	if err != nil {
		l.observeRun("error", maxIterations)
		return nil, err
	}
	usage.Add(resp.Usage)

	finalText := resp.Content
	if finalText == "" {
		finalText = exhaustionFallback
	}
	result := &engines.AgentRunResult{
		Response:         finalText,
		Iterations:       maxIterations,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		ToolCallsMade:    toolCallsMade,
		ToolDetails:      toolDetails,
	}
	l.persistExchange(session, userMessage, finalText)
	l.maybeConsolidate(ctx, session)
	l.observeRun("success", maxIterations)
	l.observeTokens(effectiveModel, usage)
	return result, nil
}

// callProvider wraps the provider call in the retry policy: transient
// failures back off 1s/2s, fatal classifications stop immediately.
func (l *Loop) callProvider(ctx context.Context, messages []models.Message, toolDefs []providers.ToolDefinition, model string) (*models.LLMResponse, error) {
	defaults := l.cfg.Agents.Defaults
	return retry.DoValue(ctx, retry.DefaultPolicy(), func() (*models.LLMResponse, error) {
		resp, err := l.provider.Chat(ctx, &providers.ChatRequest{
			Messages:    messages,
			Model:       model,
			Tools:       toolDefs,
			Temperature: defaults.Temperature,
			MaxTokens:   defaults.MaxTokens,
		})
		if err != nil {
			if providers.IsRetryable(err) {
				return nil, err
			}
			return nil, retry.Permanent(err)
		}
		return resp, nil
	})
}

type toolExecResult struct {
	toolCallID string
	toolName   string
	output     string
	success    bool
	durationMS float64
}

// dispatchToolCalls executes all calls of one iteration concurrently,
// collecting results in the original order so tool_call_id bindings are
// preserved for the provider.
func (l *Loop) dispatchToolCalls(ctx context.Context, calls []models.ToolCall, toolCtx *tools.Context) []toolExecResult {
	results := make([]toolExecResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			start := time.Now()
			output := l.registry.Execute(ctx, tc.Name, tc.ArgumentsMap(), toolCtx)
			results[idx] = toolExecResult{
				toolCallID: tc.ID,
				toolName:   tc.Name,
				output:     output,
				success:    !strings.HasPrefix(output, "Error:"),
				durationMS: float64(time.Since(start).Microseconds()) / 1000.0,
			}
		}(i, call)
	}
	wg.Wait()
	return results
}

// buildToolContext assembles the per-run context handed to every tool.
func (l *Loop) buildToolContext(sessionKey string) *tools.Context {
	defaults := l.cfg.Agents.Defaults
	extra := map[string]any{}
	if defaults.DryRun {
		extra["dry_run"] = true
	}
	if key := l.cfg.Tools.Web.BraveAPIKey.Value(); key != "" {
		extra["brave_api_key"] = key
	}
	if l.trust != nil && l.cfg.Tools.TrustMode != "trust_all" {
		extra["trust"] = *l.trust
	}
	if l.sender != nil {
		extra["send"] = l.sender
	}
	if l.subagents != nil {
		extra["spawn"] = tools.Spawner(l.subagents)
		extra["spawn_runner"] = tools.SpawnRunner(func(task string) subagent.RunFunc {
			return func(runCtx context.Context) (string, error) {
				result, err := l.Run(runCtx, task, engines.RunOptions{
					SessionKey: "subagent:" + sessions.SanitizeKey(task[:min(len(task), 40)]),
				})
				if err != nil {
					return "", err
				}
				return result.Response, nil
			}
		})
	}
	return &tools.Context{
		WorkspacePath:       l.cfg.WorkspacePath(),
		RestrictToWorkspace: l.cfg.Tools.RestrictToWorkspace,
		ShellTimeout:        l.cfg.Tools.ShellTimeout,
		SessionKey:          sessionKey,
		Extra:               extra,
	}
}

// retrieveRelevantContext pulls query-scoped hits from long-term memory,
// conversation history, and the knowledge base into one system block.
func (l *Loop) retrieveRelevantContext(query string) string {
	if l.memory == nil {
		return ""
	}
	var parts []string

	if hits := l.memory.SearchMemory(query, 5); len(hits) > 0 {
		parts = append(parts, "[Relevant facts from long-term memory]\n- "+strings.Join(hits, "\n- "))
	}
	if hits := l.memory.SearchHistory(query, 5); len(hits) > 0 {
		parts = append(parts, "[Relevant past conversations]\n- "+strings.Join(hits, "\n- "))
	}
	if l.kb != nil {
		if entries := l.kb.Search(query, "", 3); len(entries) > 0 {
			lines := make([]string, len(entries))
			for i, e := range entries {
				lines[i] = "- [" + e.Category + "] " + e.Content
			}
			parts = append(parts, "[Learned patterns]\n"+strings.Join(lines, "\n"))
		}
	}
	return strings.Join(parts, "\n\n")
}

// persistExchange records the user/assistant pair to the session and
// appends capped summary lines to the history log.
func (l *Loop) persistExchange(session *models.Session, userMessage, response string) {
	session.AddMessage(models.Message{Role: models.RoleUser, Content: userMessage})
	session.AddMessage(models.Message{Role: models.RoleAssistant, Content: response})
	if err := l.sessions.Save(session); err != nil {
		l.logger.Error("failed to save session", "key", session.Key, "error", err)
	}
	if l.memory != nil {
		_ = l.memory.AppendHistory("User: " + truncate(userMessage, 200))
		_ = l.memory.AppendHistory("Assistant: " + truncate(response, 200))
	}
}

// maybeConsolidate runs consolidation when the session has outgrown twice
// the memory window. Failures are logged and swallowed.
func (l *Loop) maybeConsolidate(ctx context.Context, session *models.Session) {
	defaults := l.cfg.Agents.Defaults
	if l.memory == nil || !defaults.AutoConsolidate {
		return
	}
	if !l.memory.NeedsConsolidation(session.MessageCount(), defaults.MemoryWindow) {
		return
	}
	if err := l.consolidate(ctx, session); err != nil {
		l.logger.Error("memory consolidation failed (non-fatal)", "session", session.Key, "error", err)
	}
}

// consolidate extracts durable facts from messages outside the window,
// stores the summary on the session, and prunes it to the window.
func (l *Loop) consolidate(ctx context.Context, session *models.Session) error {
	if l.memory == nil {
		return nil
	}
	defaults := l.cfg.Agents.Defaults
	old := session.OldMessages(defaults.MemoryWindow)
	if len(old) == 0 {
		return nil
	}

	model := defaults.ConsolidationModel
	if model == "" {
		model = defaults.Model
	}
	facts, err := l.memory.Consolidate(ctx, old, l.provider, model)
	if err != nil {
		return err
	}
	if facts != "" && !strings.Contains(strings.ToLower(facts), "no new facts") {
		session.Summary = "[Previous conversation context]\n" + facts
	}
	pruned := session.PruneToWindow(defaults.MemoryWindow)
	if err := l.sessions.Save(session); err != nil {
		return err
	}
	l.logger.Info("consolidation complete", "session", session.Key, "pruned", pruned)
	return nil
}

// ConsolidateSession is the manual /compact entrypoint: it consolidates
// unconditionally, skipping the auto-consolidate and threshold checks.
func (l *Loop) ConsolidateSession(ctx context.Context, sessionKey string) error {
	unlock := l.lockSession(sessionKey)
	defer unlock()

	session := l.sessions.Get(sessionKey)
	if session == nil {
		return nil
	}
	return l.consolidate(ctx, session)
}

// ResetSession deletes all persisted history for a session.
func (l *Loop) ResetSession(_ context.Context, sessionKey string) error {
	l.sessions.Delete(sessionKey)
	return nil
}

func (l *Loop) observeRun(status string, iterations int) {
	if l.metrics == nil {
		return
	}
	l.metrics.EngineRuns.WithLabelValues("loop", status).Inc()
	l.metrics.EngineIterations.Observe(float64(iterations))
}

func (l *Loop) observeTokens(model string, usage models.TokenUsage) {
	if l.metrics == nil {
		return
	}
	l.metrics.LLMTokens.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	l.metrics.LLMTokens.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
}

func (l *Loop) observeTool(res toolExecResult) {
	if l.metrics == nil {
		return
	}
	status := "success"
	if !res.success {
		status = "error"
	}
	l.metrics.ToolExecutions.WithLabelValues(res.toolName, status).Inc()
	l.metrics.ToolDuration.WithLabelValues(res.toolName).Observe(res.durationMS / 1000.0)
}

func (l *Loop) observeCache(result string) {
	if l.metrics != nil {
		l.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
