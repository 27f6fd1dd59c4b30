package engines

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/grip/internal/memory"
)

// LearningEngine adds post-run behavioral learning to any Engine. After a
// successful run the pattern extractor mines the interaction and persists
// what it finds into the knowledge base. Extraction failures are logged
// and suppressed; the caller's result is never affected.
type LearningEngine struct {
	inner     Engine
	kb        *memory.KnowledgeBase
	extractor *memory.PatternExtractor
	logger    *slog.Logger
}

// NewLearningEngine wraps inner with pattern learning.
func NewLearningEngine(inner Engine, kb *memory.KnowledgeBase, extractor *memory.PatternExtractor, logger *slog.Logger) *LearningEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &LearningEngine{
		inner:     inner,
		kb:        kb,
		extractor: extractor,
		logger:    logger.With("component", "learning"),
	}
}

// KnowledgeBase exposes the KB for status queries.
func (e *LearningEngine) KnowledgeBase() *memory.KnowledgeBase { return e.kb }

func (e *LearningEngine) Run(ctx context.Context, userMessage string, opts RunOptions) (*AgentRunResult, error) {
	result, err := e.inner.Run(ctx, userMessage, opts)
	if err != nil {
		return nil, err
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				e.logger.Debug("behavioral extraction panicked (non-fatal)", "panic", rec)
			}
		}()
		patterns := e.extractor.Extract(userMessage, result.Response, result.ToolCallsMade)
		for _, p := range patterns {
			e.kb.Add(p.Category, p.Content, p.Source, p.Tags)
		}
		if len(patterns) > 0 {
			e.logger.Debug("extracted behavioral patterns", "count", len(patterns))
		}
	}()

	return result, nil
}

func (e *LearningEngine) ConsolidateSession(ctx context.Context, sessionKey string) error {
	return e.inner.ConsolidateSession(ctx, sessionKey)
}

func (e *LearningEngine) ResetSession(ctx context.Context, sessionKey string) error {
	return e.inner.ResetSession(ctx, sessionKey)
}
