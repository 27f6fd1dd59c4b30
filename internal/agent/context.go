// Package agent implements the primary engine: the iterative LLM↔tool
// loop with model-tier routing, retries, semantic caching, self-correction,
// memory injection, and parallel tool dispatch. It also assembles the
// system prompt from the workspace's identity files.
package agent

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/haasonsaas/grip/internal/workspace"
	"github.com/haasonsaas/grip/pkg/models"
)

var (
	errorToneRe       = regexp.MustCompile(`(?i)(traceback|error|exception|failed|crash|bug|broken|not working|won't work)`)
	frustrationToneRe = regexp.MustCompile(`(?i)(wtf|damn|hell|ugh|fuck|shit|crap|stupid|hate|awful|terrible|why won't)`)
	brainstormToneRe  = regexp.MustCompile(`(?i)(idea|brainstorm|what if|how could|design|architect|plan|explore|suggest|creative)`)
)

// detectToneHint classifies the user's apparent state and returns a short
// tone instruction, or "" when none applies.
func detectToneHint(userMessage string) string {
	if userMessage == "" {
		return ""
	}

	upper := 0
	for _, r := range userMessage {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	isCaps := len(userMessage) > 10 && float64(upper) > float64(len(userMessage))*0.6

	frustrated := frustrationToneRe.MatchString(userMessage) || isCaps
	hasError := errorToneRe.MatchString(userMessage)
	brainstorming := brainstormToneRe.MatchString(userMessage)

	switch {
	case frustrated && hasError:
		return "## Tone Adaptation\n\n" +
			"The user seems frustrated with an error. " +
			"Be calm, precise, and surgical. Lead with the fix, not explanations. " +
			"Show empathy briefly, then focus on solving the problem step by step."
	case frustrated:
		return "## Tone Adaptation\n\n" +
			"The user seems stressed. Be patient and supportive. " +
			"Break things into small, clear steps. Avoid jargon. " +
			"Confirm understanding before proceeding."
	case hasError:
		return "## Tone Adaptation\n\n" +
			"The user is dealing with an error. " +
			"Be concise and action-oriented. Diagnose first, then provide a clear fix."
	case brainstorming:
		return "## Tone Adaptation\n\n" +
			"The user is brainstorming. Be expansive and creative. " +
			"Suggest multiple approaches, trade-offs, and alternatives. " +
			"Encourage exploration."
	}
	return ""
}

// ContextBuilder assembles the system prompt from identity files, the
// skills listing, a tone hint, and runtime metadata. Identity content is
// cached; tool definitions travel via the API's tools parameter and are
// deliberately excluded.
type ContextBuilder struct {
	workspace *workspace.Manager

	mu             sync.Mutex
	cachedIdentity *string
}

// NewContextBuilder creates a builder over the workspace.
func NewContextBuilder(ws *workspace.Manager) *ContextBuilder {
	return &ContextBuilder{workspace: ws}
}

// InvalidateCache forces a re-read of identity files on the next build.
func (b *ContextBuilder) InvalidateCache() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cachedIdentity = nil
}

// BuildSystemMessage assembles the full system prompt.
func (b *ContextBuilder) BuildSystemMessage(userMessage, sessionKey string) models.Message {
	var parts []string

	if identity := b.identitySection(); identity != "" {
		parts = append(parts, identity)
	}
	if skills := b.skillsListing(); skills != "" {
		parts = append(parts, skills)
	}
	if tone := detectToneHint(userMessage); tone != "" {
		parts = append(parts, tone)
	}
	parts = append(parts, metadataSection(sessionKey))

	return models.Message{
		Role:    models.RoleSystem,
		Content: strings.Join(parts, "\n\n---\n\n"),
	}
}

func (b *ContextBuilder) identitySection() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cachedIdentity != nil {
		return *b.cachedIdentity
	}

	files := b.workspace.ReadIdentityFiles()
	var sections []string
	for _, name := range workspace.IdentityFiles {
		if content := files[name]; content != "" {
			sections = append(sections, content)
		}
	}
	identity := strings.Join(sections, "\n\n")
	b.cachedIdentity = &identity
	return identity
}

// skillsListing emits a compact name+description list. Full skill content
// is loaded on demand through the read_file tool.
func (b *ContextBuilder) skillsListing() string {
	skills := b.workspace.ScanSkills()
	if len(skills) == 0 {
		return ""
	}
	lines := []string{"## Available Skills\n"}
	for _, s := range skills {
		desc := ""
		if s.Description != "" {
			desc = ": " + s.Description
		}
		lines = append(lines, fmt.Sprintf("- **%s**%s", s.Name, desc))
	}
	lines = append(lines, "\nUse the read_file tool to load a skill's full instructions when needed.")
	return strings.Join(lines, "\n")
}

func metadataSection(sessionKey string) string {
	lines := []string{
		"## Runtime Info\n",
		"- Current UTC time: " + time.Now().UTC().Format("2006-01-02 15:04:05"),
		"- Platform: " + runtime.GOOS + " " + runtime.GOARCH,
	}
	if sessionKey != "" {
		lines = append(lines, "- Session key: "+sessionKey)
	}
	return strings.Join(lines, "\n")
}
