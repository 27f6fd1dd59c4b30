package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/engines"
	"github.com/haasonsaas/grip/internal/memory"
	"github.com/haasonsaas/grip/internal/providers"
	"github.com/haasonsaas/grip/internal/sessions"
	"github.com/haasonsaas/grip/internal/tools"
	"github.com/haasonsaas/grip/internal/workspace"
	"github.com/haasonsaas/grip/pkg/models"
)

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*models.LLMResponse
	errs      []error
	requests  []*providers.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req *providers.ChatRequest) (*models.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(p.responses) == 0 {
		return &models.LLMResponse{Content: "done"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) SupportsTools() bool { return true }

// echoTool returns a fixed output, optionally after a delay.
type echoTool struct {
	name   string
	output string
	delay  time.Duration
}

func (t *echoTool) Name() string                { return t.name }
func (t *echoTool) Description() string         { return "test tool" }
func (t *echoTool) Category() string            { return "general" }
func (t *echoTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *echoTool) Execute(_ context.Context, params map[string]any, _ *tools.Context) (any, error) {
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	if t.output != "" {
		return t.output, nil
	}
	path, _ := params["path"].(string)
	return "contents of " + path, nil
}

type loopFixture struct {
	loop     *Loop
	provider *scriptedProvider
	sessions *sessions.Manager
	memory   *memory.Manager
	cache    *memory.SemanticCache
	cfg      *config.Config
}

func newFixture(t *testing.T, provider *scriptedProvider, extraTools ...tools.Tool) *loopFixture {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Agents.Defaults.Workspace = root
	cfg.Agents.Defaults.MaxToolIterations = 5
	cfg.Agents.Defaults.MemoryWindow = 4

	ws, err := workspace.NewManager(root)
	if err != nil {
		t.Fatal(err)
	}
	sessionMgr, err := sessions.NewManager(ws.SessionsDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	memoryMgr, err := memory.NewManager(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	cache := memory.NewSemanticCache(ws.StateDir(), time.Hour, 100, true, nil)
	kb := memory.NewKnowledgeBase(root+"/memory", nil)

	registry := tools.NewRegistry(nil)
	registry.RegisterAll(extraTools...)

	loop := NewLoop(Options{
		Config:    cfg,
		Provider:  provider,
		Registry:  registry,
		Sessions:  sessionMgr,
		Memory:    memoryMgr,
		Cache:     cache,
		Knowledge: kb,
		Builder:   NewContextBuilder(ws),
	})
	return &loopFixture{loop: loop, provider: provider, sessions: sessionMgr, memory: memoryMgr, cache: cache, cfg: cfg}
}

func TestRun_SimpleAnswerNoTools(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{
		{Content: "4", Usage: models.TokenUsage{PromptTokens: 12, CompletionTokens: 1}},
	}}
	f := newFixture(t, provider)

	result, err := f.loop.Run(context.Background(), "What is 2+2?", engines.RunOptions{SessionKey: "cli:test"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "4" || result.Iterations != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(result.ToolCallsMade) != 0 {
		t.Errorf("tool calls = %v", result.ToolCallsMade)
	}
	if result.PromptTokens != 12 || result.CompletionTokens != 1 {
		t.Errorf("usage = %d/%d", result.PromptTokens, result.CompletionTokens)
	}

	// Tool-free runs land in the semantic cache.
	if cached, ok := f.cache.Get("what is 2+2?", f.cfg.Agents.Defaults.Model); !ok || cached != "4" {
		t.Errorf("cache = (%q, %v)", cached, ok)
	}

	// The exchange was persisted to the session.
	session := f.sessions.Get("cli:test")
	if session == nil || session.MessageCount() != 2 {
		t.Fatalf("session = %+v", session)
	}
	if session.Messages[0].Role != models.RoleUser || session.Messages[1].Content != "4" {
		t.Errorf("messages = %+v", session.Messages)
	}
}

func TestRun_TwoIterationToolUse(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{
		{ToolCalls: []models.ToolCall{
			{ID: "a", Name: "read_file", Arguments: json.RawMessage(`{"path":"x"}`)},
			{ID: "b", Name: "read_file", Arguments: json.RawMessage(`{"path":"y"}`)},
		}},
		{Content: "Combined."},
	}}
	f := newFixture(t, provider, &echoTool{name: "read_file"})

	result, err := f.loop.Run(context.Background(), "read both files", engines.RunOptions{SessionKey: "cli:t2"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "Combined." || result.Iterations != 2 {
		t.Errorf("result = %+v", result)
	}
	if len(result.ToolCallsMade) != 2 || result.ToolCallsMade[0] != "read_file" {
		t.Errorf("tool calls = %v", result.ToolCallsMade)
	}
	for _, d := range result.ToolDetails {
		if !d.Success {
			t.Errorf("detail = %+v", d)
		}
	}

	// The second request must carry the assistant tool_calls message
	// followed by tool messages bound in the original order.
	second := provider.requests[1]
	msgs := second.Messages
	var assistantIdx int
	for i, m := range msgs {
		if m.Role == models.RoleAssistant && len(m.ToolCalls) == 2 {
			assistantIdx = i
			break
		}
	}
	if assistantIdx == 0 {
		t.Fatalf("assistant tool-call message not found: %+v", msgs)
	}
	toolA, toolB := msgs[assistantIdx+1], msgs[assistantIdx+2]
	if toolA.Role != models.RoleTool || toolA.ToolCallID != "a" || toolA.Content != "contents of x" {
		t.Errorf("first tool message = %+v", toolA)
	}
	if toolB.ToolCallID != "b" || toolB.Content != "contents of y" {
		t.Errorf("second tool message = %+v", toolB)
	}

	// Tool-using runs are not cached.
	if _, ok := f.cache.Get("read both files", f.cfg.Agents.Defaults.Model); ok {
		t.Error("tool-using run must not be cached")
	}
}

func TestRun_ParallelDispatchPreservesOrder(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{
		{ToolCalls: []models.ToolCall{
			{ID: "slow", Name: "slow_tool", Arguments: json.RawMessage(`{}`)},
			{ID: "fast", Name: "fast_tool", Arguments: json.RawMessage(`{}`)},
		}},
		{Content: "ok"},
	}}
	f := newFixture(t, provider,
		&echoTool{name: "slow_tool", output: "SLOW", delay: 50 * time.Millisecond},
		&echoTool{name: "fast_tool", output: "FAST"},
	)

	start := time.Now()
	_, err := f.loop.Run(context.Background(), "run both", engines.RunOptions{SessionKey: "cli:par"})
	if err != nil {
		t.Fatal(err)
	}
	// Both ran; results keep call order even though the fast one finished first.
	second := provider.requests[1]
	var toolMsgs []models.Message
	for _, m := range second.Messages {
		if m.Role == models.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	if len(toolMsgs) != 2 || toolMsgs[0].ToolCallID != "slow" || toolMsgs[1].ToolCallID != "fast" {
		t.Errorf("tool message order = %+v", toolMsgs)
	}
	_ = start
}

func TestRun_ToolFailureTriggersSelfCorrection(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{
		{ToolCalls: []models.ToolCall{
			{ID: "s1", Name: "shell", Arguments: json.RawMessage(`{"command":"rm -rf /"}`)},
		}},
		{Content: "I will not do that."},
	}}
	f := newFixture(t, provider, &tools.ShellTool{})

	result, err := f.loop.Run(context.Background(), "clean up everything", engines.RunOptions{SessionKey: "cli:sc"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "I will not do that." {
		t.Errorf("response = %q", result.Response)
	}
	if len(result.ToolDetails) != 1 || result.ToolDetails[0].Success {
		t.Errorf("details = %+v", result.ToolDetails)
	}

	second := provider.requests[1]
	found := false
	for _, m := range second.Messages {
		if m.Role == models.RoleSystem && strings.Contains(m.Content, "[Self-correction]") &&
			strings.Contains(m.Content, "shell:") {
			found = true
		}
	}
	if !found {
		t.Error("self-correction system message missing")
	}
}

func TestRun_RetryOnRateLimit(t *testing.T) {
	rateLimit := providers.FromStatus(429, "scripted", "m", "slow down")
	provider := &scriptedProvider{
		errs:      []error{rateLimit, rateLimit, nil},
		responses: []*models.LLMResponse{{Content: "ok"}},
	}
	f := newFixture(t, provider)

	start := time.Now()
	result, err := f.loop.Run(context.Background(), "hello there friend", engines.RunOptions{SessionKey: "cli:rl"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "ok" || result.Iterations != 1 {
		t.Errorf("result = %+v", result)
	}
	// Two backoffs: 1s then 2s.
	if elapsed := time.Since(start); elapsed < 3*time.Second {
		t.Errorf("elapsed = %v, want >= 3s of backoff", elapsed)
	}
	if len(provider.requests) != 3 {
		t.Errorf("requests = %d, want 3", len(provider.requests))
	}
}

func TestRun_AuthErrorNotRetried(t *testing.T) {
	authErr := providers.FromStatus(401, "scripted", "m", "bad key")
	provider := &scriptedProvider{errs: []error{authErr}}
	f := newFixture(t, provider)

	_, err := f.loop.Run(context.Background(), "hello there friend", engines.RunOptions{SessionKey: "cli:auth"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(provider.requests) != 1 {
		t.Errorf("auth errors must not be retried: %d requests", len(provider.requests))
	}
}

func TestRun_CacheHitReturnsZeroIterations(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{{Content: "42"}}}
	f := newFixture(t, provider)

	if _, err := f.loop.Run(context.Background(), "meaning of life?", engines.RunOptions{SessionKey: "cli:c1"}); err != nil {
		t.Fatal(err)
	}

	result, err := f.loop.Run(context.Background(), "meaning of life?", engines.RunOptions{SessionKey: "cli:c1"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Iterations != 0 || result.Response != "42" {
		t.Errorf("cache hit result = %+v", result)
	}
	if len(provider.requests) != 1 {
		t.Errorf("provider called %d times; cache hit should not call", len(provider.requests))
	}
	// A cached reply still writes the exchange to the session.
	session := f.sessions.Get("cli:c1")
	if session.MessageCount() != 4 {
		t.Errorf("session messages = %d, want 4", session.MessageCount())
	}
}

func TestRun_MemoryRetrievalInjectsFacts(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{{Content: "dark mode"}}}
	f := newFixture(t, provider)
	if err := f.memory.AppendToMemory("- [preference] User prefers dark mode"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.loop.Run(context.Background(), "what mode do I prefer?", engines.RunOptions{SessionKey: "cli:mem"}); err != nil {
		t.Fatal(err)
	}

	found := false
	for _, m := range provider.requests[0].Messages {
		if m.Role == models.RoleSystem && strings.Contains(m.Content, "User prefers dark mode") {
			found = true
		}
	}
	if !found {
		t.Error("relevant memory fact missing from system context")
	}
}

func TestRun_ConsolidationTriggersAndPrunes(t *testing.T) {
	// Window 4: 8 pre-existing messages + the new exchange crosses 2x.
	provider := &scriptedProvider{responses: []*models.LLMResponse{
		{Content: "noted"},
		{Content: "- User works on grip"},
	}}
	f := newFixture(t, provider)

	session := f.sessions.GetOrCreate("cli:cons")
	for i := 0; i < 8; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		session.AddMessage(models.Message{Role: role, Content: "older message"})
	}
	if err := f.sessions.Save(session); err != nil {
		t.Fatal(err)
	}

	if _, err := f.loop.Run(context.Background(), "one more thing to note", engines.RunOptions{SessionKey: "cli:cons"}); err != nil {
		t.Fatal(err)
	}

	after := f.sessions.Get("cli:cons")
	if after.MessageCount() > 4 {
		t.Errorf("session should be pruned to the window, has %d", after.MessageCount())
	}
	if !strings.Contains(after.Summary, "User works on grip") {
		t.Errorf("summary = %q", after.Summary)
	}
	if !strings.Contains(f.memory.ReadMemory(), "User works on grip") {
		t.Error("facts missing from MEMORY.md")
	}
}

func TestRun_ExhaustionForcesFinalAnswer(t *testing.T) {
	toolCall := &models.LLMResponse{ToolCalls: []models.ToolCall{
		{ID: "x", Name: "busy", Arguments: json.RawMessage(`{}`)},
	}}
	provider := &scriptedProvider{responses: []*models.LLMResponse{
		toolCall, toolCall, toolCall, toolCall, toolCall,
		{Content: "best effort summary"},
	}}
	f := newFixture(t, provider, &echoTool{name: "busy", output: "still working"})

	result, err := f.loop.Run(context.Background(), "loop forever", engines.RunOptions{SessionKey: "cli:ex"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "best effort summary" || result.Iterations != 5 {
		t.Errorf("result = %+v", result)
	}

	// The forced final call carries no tools and the exhaustion notice.
	final := provider.requests[len(provider.requests)-1]
	if len(final.Tools) != 0 {
		t.Error("final call must disable tools")
	}
	last := final.Messages[len(final.Messages)-1]
	if last.Role != models.RoleUser || !strings.Contains(last.Content, "maximum number of tool iterations") {
		t.Errorf("exhaustion message = %+v", last)
	}
}

func TestResetSession(t *testing.T) {
	provider := &scriptedProvider{responses: []*models.LLMResponse{{Content: "hi"}}}
	f := newFixture(t, provider)

	if _, err := f.loop.Run(context.Background(), "hello there friend", engines.RunOptions{SessionKey: "cli:rs"}); err != nil {
		t.Fatal(err)
	}
	if err := f.loop.ResetSession(context.Background(), "cli:rs"); err != nil {
		t.Fatal(err)
	}
	if f.sessions.Get("cli:rs") != nil {
		t.Error("session should be gone after reset")
	}
}
