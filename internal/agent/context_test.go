package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/grip/internal/workspace"
	"github.com/haasonsaas/grip/pkg/models"
)

func newBuilder(t *testing.T) (*ContextBuilder, string) {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.NewManager(root)
	if err != nil {
		t.Fatal(err)
	}
	return NewContextBuilder(ws), root
}

func TestBuildSystemMessage_IncludesIdentityAndMetadata(t *testing.T) {
	builder, root := newBuilder(t)
	if err := os.WriteFile(filepath.Join(root, "AGENT.md"), []byte("You are grip."), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "SOUL.md"), []byte("Be helpful."), 0o644); err != nil {
		t.Fatal(err)
	}

	msg := builder.BuildSystemMessage("hello", "cli:default")
	if msg.Role != models.RoleSystem {
		t.Errorf("role = %s", msg.Role)
	}
	if !strings.Contains(msg.Content, "You are grip.") || !strings.Contains(msg.Content, "Be helpful.") {
		t.Errorf("identity missing: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "Session key: cli:default") {
		t.Error("metadata missing session key")
	}
}

func TestBuildSystemMessage_IdentityCached(t *testing.T) {
	builder, root := newBuilder(t)
	path := filepath.Join(root, "AGENT.md")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	first := builder.BuildSystemMessage("x", "")
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	second := builder.BuildSystemMessage("x", "")
	if !strings.Contains(second.Content, "v1") {
		t.Error("identity should be served from cache")
	}

	builder.InvalidateCache()
	third := builder.BuildSystemMessage("x", "")
	if !strings.Contains(third.Content, "v2") {
		t.Error("invalidation should force a re-read")
	}
	_ = first
}

func TestBuildSystemMessage_SkillsListing(t *testing.T) {
	builder, root := newBuilder(t)
	skillDir := filepath.Join(root, "skills", "deploy")
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := "# Deploy\n\nShip the service to production safely.\n"
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	msg := builder.BuildSystemMessage("x", "")
	if !strings.Contains(msg.Content, "**deploy**") {
		t.Errorf("skill listing missing: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "Ship the service to production safely.") {
		t.Error("skill description missing")
	}
}

func TestDetectToneHint(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"frustrated with error", "wtf this traceback again", "frustrated with an error"},
		{"frustrated only", "ugh this is so annoying to configure", "seems stressed"},
		{"error only", "I'm getting an exception in the session layer", "dealing with an error"},
		{"brainstorm", "let's brainstorm some ideas for the onboarding", "brainstorming"},
		{"neutral", "please rename the variable", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectToneHint(tt.message)
			if tt.want == "" {
				if got != "" {
					t.Errorf("expected no hint, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("hint = %q, want substring %q", got, tt.want)
			}
		})
	}
}

func TestDetectToneHint_AllCaps(t *testing.T) {
	if hint := detectToneHint("WHY IS THIS STILL BROKEN"); !strings.Contains(hint, "frustrated") {
		t.Errorf("all-caps+error should read as frustrated: %q", hint)
	}
}
