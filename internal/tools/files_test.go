package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func workspaceContext(t *testing.T) *Context {
	t.Helper()
	return &Context{
		WorkspacePath:       t.TempDir(),
		RestrictToWorkspace: true,
		Extra:               map[string]any{},
	}
}

func TestWriteThenReadFile(t *testing.T) {
	tc := workspaceContext(t)
	write := &WriteFileTool{}
	read := &ReadFileTool{}

	out, err := write.Execute(context.Background(), map[string]any{
		"path": "notes/todo.md", "content": "buy milk",
	}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.(string), "Wrote 8 bytes") {
		t.Errorf("write result = %v", out)
	}

	got, err := read.Execute(context.Background(), map[string]any{"path": "notes/todo.md"}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if got != "buy milk" {
		t.Errorf("read = %q", got)
	}
}

func TestReadFile_OutsideWorkspaceDenied(t *testing.T) {
	tc := workspaceContext(t)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("s"), 0o600); err != nil {
		t.Fatal(err)
	}

	read := &ReadFileTool{}
	out, err := read.Execute(context.Background(), map[string]any{"path": outside}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.(string), "Error: Access denied") {
		t.Errorf("out = %v", out)
	}
}

type alwaysDenyTrust struct{}

func (alwaysDenyTrust) CheckAndPrompt(_ context.Context, _, _ string) bool { return false }

type alwaysAllowTrust struct{}

func (alwaysAllowTrust) CheckAndPrompt(_ context.Context, _, _ string) bool { return true }

func TestReadFile_TrustDecides(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "data.txt")
	if err := os.WriteFile(outside, []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}

	tc := &Context{
		WorkspacePath: t.TempDir(),
		Extra:         map[string]any{"trust": TrustChecker(alwaysDenyTrust{})},
	}
	read := &ReadFileTool{}
	out, _ := read.Execute(context.Background(), map[string]any{"path": outside}, tc)
	if !strings.HasPrefix(out.(string), "Error: Access denied") {
		t.Errorf("denied trust should block: %v", out)
	}

	tc.Extra["trust"] = TrustChecker(alwaysAllowTrust{})
	out, _ = read.Execute(context.Background(), map[string]any{"path": outside}, tc)
	if out != "payload" {
		t.Errorf("granted trust should read: %v", out)
	}
}

func TestWriteFile_DryRun(t *testing.T) {
	tc := workspaceContext(t)
	tc.Extra["dry_run"] = true

	write := &WriteFileTool{}
	out, _ := write.Execute(context.Background(), map[string]any{
		"path": "x.txt", "content": "data",
	}, tc)
	if !strings.HasPrefix(out.(string), "[dry-run]") {
		t.Errorf("out = %v", out)
	}
	if _, err := os.Stat(filepath.Join(tc.WorkspacePath, "x.txt")); !os.IsNotExist(err) {
		t.Error("dry run must not write")
	}
}

func TestListDir(t *testing.T) {
	tc := workspaceContext(t)
	if err := os.WriteFile(filepath.Join(tc.WorkspacePath, "b.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(tc.WorkspacePath, "a"), 0o755); err != nil {
		t.Fatal(err)
	}

	list := &ListDirTool{}
	out, _ := list.Execute(context.Background(), map[string]any{}, tc)
	if out != "a/\nb.txt" {
		t.Errorf("out = %q", out)
	}
}
