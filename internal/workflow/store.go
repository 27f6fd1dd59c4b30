package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists workflow definitions as workflows/<name>.json files
// under the workspace, written atomically.
type Store struct {
	dir string
}

// NewStore creates the workflows directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save writes a workflow definition.
func (s *Store) Save(def *Def) error {
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return err
	}
	path := s.pathFor(def.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a workflow by name.
func (s *Store) Load(name string) (*Def, error) {
	data, err := os.ReadFile(s.pathFor(name))
	if err != nil {
		return nil, fmt.Errorf("workflow '%s' not found: %w", name, err)
	}
	var def Def
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow '%s': %w", name, err)
	}
	return &def, nil
}

// List returns the names of all saved workflows, sorted.
func (s *Store) List() []string {
	matches, _ := filepath.Glob(filepath.Join(s.dir, "*.json"))
	names := make([]string, 0, len(matches))
	for _, path := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(path), ".json"))
	}
	sort.Strings(names)
	return names
}

// Delete removes a workflow; returns whether it existed.
func (s *Store) Delete(name string) bool {
	return os.Remove(s.pathFor(name)) == nil
}
