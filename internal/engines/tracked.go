package engines

import (
	"context"

	"github.com/haasonsaas/grip/internal/security"
)

// TrackedEngine enforces the daily token budget around any Engine. The
// limit check happens before the inner engine runs, so a rejected run
// costs nothing; usage is recorded only after success.
type TrackedEngine struct {
	inner   Engine
	tracker *security.TokenTracker
}

// NewTrackedEngine wraps inner with token accounting.
func NewTrackedEngine(inner Engine, tracker *security.TokenTracker) *TrackedEngine {
	return &TrackedEngine{inner: inner, tracker: tracker}
}

// Tracker exposes the underlying tracker for status queries.
func (e *TrackedEngine) Tracker() *security.TokenTracker { return e.tracker }

func (e *TrackedEngine) Run(ctx context.Context, userMessage string, opts RunOptions) (*AgentRunResult, error) {
	if err := e.tracker.CheckLimit(); err != nil {
		return nil, err
	}
	result, err := e.inner.Run(ctx, userMessage, opts)
	if err != nil {
		return nil, err
	}
	e.tracker.Record(result.PromptTokens, result.CompletionTokens)
	return result, nil
}

func (e *TrackedEngine) ConsolidateSession(ctx context.Context, sessionKey string) error {
	return e.inner.ConsolidateSession(ctx, sessionKey)
}

func (e *TrackedEngine) ResetSession(ctx context.Context, sessionKey string) error {
	return e.inner.ResetSession(ctx, sessionKey)
}
