// Package workspace manages the on-disk workspace tree: identity files,
// skills, and the standard subdirectories the other stores live in.
package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IdentityFiles are read into the system prompt, in this order.
var IdentityFiles = []string{"AGENT.md", "IDENTITY.md", "SOUL.md", "USER.md", "SHIELD.md"}

// Manager provides access to a workspace directory tree.
type Manager struct {
	root string
}

// NewManager ensures the workspace and its standard subdirectories exist.
func NewManager(root string) (*Manager, error) {
	for _, sub := range []string{"", "sessions", "memory", "state", "workflows", "skills"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, err
		}
	}
	return &Manager{root: root}, nil
}

// Root returns the workspace root path.
func (m *Manager) Root() string { return m.root }

// SessionsDir returns the session-store directory.
func (m *Manager) SessionsDir() string { return filepath.Join(m.root, "sessions") }

// StateDir returns the state directory (caches, trust, usage).
func (m *Manager) StateDir() string { return filepath.Join(m.root, "state") }

// WorkflowsDir returns the workflow definitions directory.
func (m *Manager) WorkflowsDir() string { return filepath.Join(m.root, "workflows") }

// ReadIdentityFiles returns the contents of the identity files that exist,
// keyed by filename.
func (m *Manager) ReadIdentityFiles() map[string]string {
	out := map[string]string{}
	for _, name := range IdentityFiles {
		data, err := os.ReadFile(filepath.Join(m.root, name))
		if err != nil {
			continue
		}
		if content := strings.TrimSpace(string(data)); content != "" {
			out[name] = content
		}
	}
	return out
}

// Skill is one discovered skill: a skills/<name>/SKILL.md file.
type Skill struct {
	Name        string
	Description string
}

// ScanSkills lists available skills with their one-line descriptions. The
// description is the first non-heading, non-blank line of SKILL.md.
func (m *Manager) ScanSkills() []Skill {
	entries, err := os.ReadDir(filepath.Join(m.root, "skills"))
	if err != nil {
		return nil
	}
	var skills []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.root, "skills", entry.Name(), "SKILL.md")
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		description := ""
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			description = line
			break
		}
		f.Close()
		skills = append(skills, Skill{Name: entry.Name(), Description: description})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}
