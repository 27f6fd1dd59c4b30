package engines

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/grip/internal/memory"
	"github.com/haasonsaas/grip/internal/security"
)

type stubEngine struct {
	result       *AgentRunResult
	err          error
	runs         int
	consolidates int
	resets       int
}

func (s *stubEngine) Run(_ context.Context, _ string, _ RunOptions) (*AgentRunResult, error) {
	s.runs++
	return s.result, s.err
}

func (s *stubEngine) ConsolidateSession(_ context.Context, _ string) error {
	s.consolidates++
	return nil
}

func (s *stubEngine) ResetSession(_ context.Context, _ string) error {
	s.resets++
	return nil
}

func TestTrackedEngine_RecordsUsage(t *testing.T) {
	inner := &stubEngine{result: &AgentRunResult{
		Response: "ok", PromptTokens: 100, CompletionTokens: 40,
	}}
	tracker := security.NewTokenTracker(t.TempDir(), 0, nil)
	var engine Engine = NewTrackedEngine(inner, tracker)

	result, err := engine.Run(context.Background(), "hi", RunOptions{})
	if err != nil || result.Response != "ok" {
		t.Fatalf("run = (%+v, %v)", result, err)
	}
	if tracker.TotalToday() != 140 {
		t.Errorf("recorded = %d", tracker.TotalToday())
	}
}

func TestTrackedEngine_BlocksOverLimit(t *testing.T) {
	inner := &stubEngine{result: &AgentRunResult{Response: "ok"}}
	tracker := security.NewTokenTracker(t.TempDir(), 100, nil)
	tracker.Record(80, 30)

	engine := NewTrackedEngine(inner, tracker)
	_, err := engine.Run(context.Background(), "hi", RunOptions{})

	var limitErr *security.TokenLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err = %v, want TokenLimitError", err)
	}
	if inner.runs != 0 {
		t.Error("inner engine must not run when the limit is exceeded")
	}
}

func TestTrackedEngine_InnerErrorNotRecorded(t *testing.T) {
	inner := &stubEngine{err: errors.New("provider down")}
	tracker := security.NewTokenTracker(t.TempDir(), 0, nil)
	engine := NewTrackedEngine(inner, tracker)

	if _, err := engine.Run(context.Background(), "hi", RunOptions{}); err == nil {
		t.Fatal("expected error")
	}
	if tracker.TotalToday() != 0 {
		t.Error("failed runs must not record usage")
	}
}

func TestLearningEngine_PersistsPatterns(t *testing.T) {
	inner := &stubEngine{result: &AgentRunResult{Response: "done"}}
	kb := memory.NewKnowledgeBase(t.TempDir(), nil)
	engine := NewLearningEngine(inner, kb, memory.NewPatternExtractor(), nil)

	result, err := engine.Run(context.Background(), "I prefer tabs over spaces always", RunOptions{})
	if err != nil || result.Response != "done" {
		t.Fatalf("run = (%+v, %v)", result, err)
	}
	if kb.Count() == 0 {
		t.Error("pattern should be stored in the knowledge base")
	}
	hits := kb.Search("tabs", memory.CategoryUserPreference, 5)
	if len(hits) != 1 {
		t.Errorf("hits = %d", len(hits))
	}
}

func TestLearningEngine_InnerErrorPassesThrough(t *testing.T) {
	inner := &stubEngine{err: errors.New("boom")}
	kb := memory.NewKnowledgeBase(t.TempDir(), nil)
	engine := NewLearningEngine(inner, kb, memory.NewPatternExtractor(), nil)

	if _, err := engine.Run(context.Background(), "I prefer tabs over spaces", RunOptions{}); err == nil {
		t.Fatal("expected error")
	}
	if kb.Count() != 0 {
		t.Error("failed runs must not feed the extractor")
	}
}

func TestDecorators_RemainEngines(t *testing.T) {
	inner := &stubEngine{result: &AgentRunResult{Response: "ok"}}
	tracker := security.NewTokenTracker(t.TempDir(), 0, nil)
	kb := memory.NewKnowledgeBase(t.TempDir(), nil)

	var engine Engine = NewTrackedEngine(
		NewLearningEngine(inner, kb, memory.NewPatternExtractor(), nil),
		tracker,
	)

	if err := engine.ConsolidateSession(context.Background(), "cli:x"); err != nil {
		t.Fatal(err)
	}
	if err := engine.ResetSession(context.Background(), "cli:x"); err != nil {
		t.Fatal(err)
	}
	if inner.consolidates != 1 || inner.resets != 1 {
		t.Errorf("delegation counts = %d/%d", inner.consolidates, inner.resets)
	}
}
