package agent

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/haasonsaas/grip/internal/config"
	"github.com/haasonsaas/grip/internal/engines"
	"github.com/haasonsaas/grip/internal/memory"
	"github.com/haasonsaas/grip/internal/observability"
	"github.com/haasonsaas/grip/internal/providers"
	"github.com/haasonsaas/grip/internal/security"
	"github.com/haasonsaas/grip/internal/sessions"
	"github.com/haasonsaas/grip/internal/subagent"
	"github.com/haasonsaas/grip/internal/tools"
	"github.com/haasonsaas/grip/internal/workspace"
)

// Stack is the fully wired engine plus the collaborators callers need for
// status surfaces and management routes.
type Stack struct {
	Engine    engines.Engine
	Registry  *tools.Registry
	Sessions  *sessions.Manager
	Memory    *memory.Manager
	Cache     *memory.SemanticCache
	Knowledge *memory.KnowledgeBase
	Tracker   *security.TokenTracker
	Trust     *security.TrustManager
	Subagents *subagent.Manager
	Workspace *workspace.Manager
}

// StackOptions configures stack construction.
type StackOptions struct {
	Config  *config.Config
	Sender  tools.Sender
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewStack builds the configured engine with its full collaborator set and
// the Tracked/Learning decorators applied, outermost first:
//
//	TrackedEngine → LearningEngine → (Loop | SDKEngine)
//
// The engine choice comes from agents.defaults.engine: "sdk" delegates the
// loop to the Anthropic SDK, anything else runs the primary loop. A
// missing Anthropic key downgrades "sdk" to the loop with a warning.
func NewStack(opts StackOptions) (*Stack, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ws, err := workspace.NewManager(cfg.WorkspacePath())
	if err != nil {
		return nil, err
	}
	sessionMgr, err := sessions.NewManager(ws.SessionsDir(), logger)
	if err != nil {
		return nil, err
	}
	memoryMgr, err := memory.NewManager(ws.Root(), logger)
	if err != nil {
		return nil, err
	}
	memoryMgr.DecayRate = cfg.Agents.Defaults.HistoryDecayRate

	defaults := cfg.Agents.Defaults
	cache := memory.NewSemanticCache(
		ws.StateDir(),
		time.Duration(defaults.SemanticCacheTTL)*time.Second,
		500,
		defaults.SemanticCacheEnabled,
		logger,
	)
	kb := memory.NewKnowledgeBase(filepath.Join(ws.Root(), "memory"), logger)
	tracker := security.NewTokenTracker(ws.StateDir(), defaults.MaxDailyTokens, logger)
	trust := security.NewTrustManager(ws.StateDir(), logger)
	subagents := subagent.NewManager(logger)

	registry := tools.NewRegistry(logger)
	registry.RegisterAll(
		&tools.ReadFileTool{},
		&tools.WriteFileTool{},
		&tools.ListDirTool{},
		&tools.ShellTool{},
		&tools.WebFetchTool{},
		&tools.SendMessageTool{},
		&tools.SendFileTool{},
		&tools.RememberTool{Memory: memoryMgr},
		&tools.RecallTool{Memory: memoryMgr},
		&tools.SearchHistoryTool{Memory: memoryMgr},
		&tools.SpawnSubagentTool{},
		&tools.ListSubagentsTool{},
		&tools.CheckSubagentTool{},
	)

	var engine engines.Engine
	engineKind := defaults.Engine
	if engineKind == "sdk" {
		anthropicCfg, ok := cfg.Providers["anthropic"]
		if ok && anthropicCfg.APIKey.Value() != "" {
			sdk, err := engines.NewSDKEngine(engines.SDKOptions{
				Config:   cfg,
				APIKey:   anthropicCfg.APIKey.Value(),
				BaseURL:  anthropicCfg.BaseURL,
				Ws:       ws,
				Sessions: sessionMgr,
				Memory:   memoryMgr,
				Trust:    trust,
				Sender:   opts.Sender,
				Registry: registry,
				Logger:   logger,
			})
			if err != nil {
				return nil, err
			}
			engine = sdk
		} else {
			logger.Warn("sdk engine requested but no anthropic provider configured; falling back to loop")
			engineKind = "loop"
		}
	}
	if engine == nil {
		provider, err := providers.ForConfig(cfg)
		if err != nil {
			return nil, err
		}
		engine = NewLoop(Options{
			Config:    cfg,
			Provider:  provider,
			Registry:  registry,
			Sessions:  sessionMgr,
			Memory:    memoryMgr,
			Cache:     cache,
			Knowledge: kb,
			Trust:     trust,
			Subagents: subagents,
			Builder:   NewContextBuilder(ws),
			Sender:    opts.Sender,
			Metrics:   opts.Metrics,
			Logger:    logger,
		})
	}
	logger.Info("engine ready", "engine", engineKind)

	engine = engines.NewLearningEngine(engine, kb, memory.NewPatternExtractor(), logger)
	engine = engines.NewTrackedEngine(engine, tracker)

	return &Stack{
		Engine:    engine,
		Registry:  registry,
		Sessions:  sessionMgr,
		Memory:    memoryMgr,
		Cache:     cache,
		Knowledge: kb,
		Tracker:   tracker,
		Trust:     trust,
		Subagents: subagents,
		Workspace: ws,
	}, nil
}
