package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// resolvePath expands and resolves a tool-supplied path, enforcing the
// workspace restriction or the trust policy.
func resolvePath(ctx context.Context, raw string, tc *Context) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.HasPrefix(raw, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			raw = filepath.Join(home, strings.TrimPrefix(raw, "~"))
		}
	}
	if !filepath.IsAbs(raw) {
		raw = filepath.Join(tc.WorkspacePath, raw)
	}
	resolved, err := filepath.Abs(raw)
	if err != nil {
		return "", err
	}

	inside := resolved == tc.WorkspacePath || strings.HasPrefix(resolved, tc.WorkspacePath+string(os.PathSeparator))
	if inside {
		return resolved, nil
	}
	if tc.RestrictToWorkspace {
		return "", fmt.Errorf("Access denied — path outside workspace: %s", resolved)
	}
	if trust := tc.Trust(); trust != nil {
		if !trust.CheckAndPrompt(ctx, resolved, tc.WorkspacePath) {
			return "", fmt.Errorf("Access denied — directory not trusted: %s", filepath.Dir(resolved))
		}
	}
	return resolved, nil
}

type readFileParams struct {
	Path string `json:"path" jsonschema:"description=File path (absolute or workspace-relative)"`
}

// ReadFileTool returns a file's contents.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Category() string    { return "filesystem" }
func (t *ReadFileTool) Description() string { return "Read a text file and return its contents." }

func (t *ReadFileTool) Parameters() json.RawMessage { return SchemaFor(&readFileParams{}) }

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any, tc *Context) (any, error) {
	path, err := resolvePath(ctx, stringParam(params, "path"), tc)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Error: cannot read %s: %v", path, err), nil
	}
	const maxBytes = 100 * 1024
	if len(data) > maxBytes {
		return string(data[:maxBytes]) + "\n[file truncated]", nil
	}
	return string(data), nil
}

type writeFileParams struct {
	Path    string `json:"path" jsonschema:"description=File path (absolute or workspace-relative)"`
	Content string `json:"content" jsonschema:"description=Full file contents to write"`
}

// WriteFileTool writes a file, creating parent directories.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string     { return "write_file" }
func (t *WriteFileTool) Category() string { return "filesystem" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating parent directories as needed."
}

func (t *WriteFileTool) Parameters() json.RawMessage { return SchemaFor(&writeFileParams{}) }

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any, tc *Context) (any, error) {
	path, err := resolvePath(ctx, stringParam(params, "path"), tc)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	content := stringParam(params, "content")
	if tc.DryRun() {
		return fmt.Sprintf("[dry-run] would write %d bytes to %s", len(content), path), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Sprintf("Error: cannot create directory: %v", err), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error: cannot write %s: %v", path, err), nil
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

type listDirParams struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list (defaults to the workspace root)"`
}

// ListDirTool lists a directory's entries.
type ListDirTool struct{}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Category() string    { return "filesystem" }
func (t *ListDirTool) Description() string { return "List the entries of a directory." }

func (t *ListDirTool) Parameters() json.RawMessage { return SchemaFor(&listDirParams{}) }

func (t *ListDirTool) Execute(ctx context.Context, params map[string]any, tc *Context) (any, error) {
	raw := stringParam(params, "path")
	if raw == "" {
		raw = tc.WorkspacePath
	}
	path, err := resolvePath(ctx, raw, tc)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Sprintf("Error: cannot list %s: %v", path, err), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}
