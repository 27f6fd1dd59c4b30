package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// DenyPatterns matches shell commands that are never executed, regardless
// of trust level. The same set backs the SDK engine's pre-tool hook.
var DenyPatterns = []*regexp.Regexp{
	// Destructive file operations
	regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f[a-z]*\s+/\s*$`),
	regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f[a-z]*\s+/\*`),
	regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f[a-z]*\s+~`),
	regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f[a-z]*\s+\$HOME`),
	regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f[a-z]*\s+/home\b`),
	regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f[a-z]*\s+/etc\b`),
	regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f[a-z]*\s+/var\b`),
	regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f[a-z]*\s+/usr\b`),
	// Disk/device destruction
	regexp.MustCompile(`(?i)mkfs\b`),
	regexp.MustCompile(`(?i)dd\s+if=`),
	regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`(?i)>\s*/dev/nvme`),
	// Fork bombs and system control
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`),
	regexp.MustCompile(`(?i)\bshutdown\b`),
	regexp.MustCompile(`(?i)\breboot\b`),
	regexp.MustCompile(`(?i)\bhalt\b`),
	regexp.MustCompile(`(?i)\binit\s+[06]\b`),
	regexp.MustCompile(`(?i)\bsystemctl\s+(poweroff|reboot|halt)\b`),
	// Permission escalation on system dirs
	regexp.MustCompile(`(?i)chmod\s+-R\s+777\s+/\s*$`),
	regexp.MustCompile(`(?i)chmod\s+(-R\s+)?000\s+/`),
}

// CheckCommand returns the pattern a dangerous command matched, if any.
func CheckCommand(command string) (string, bool) {
	for _, re := range DenyPatterns {
		if re.MatchString(command) {
			return re.String(), true
		}
	}
	return "", false
}

type shellParams struct {
	Command string `json:"command" jsonschema:"description=Shell command to execute"`
}

// ShellTool executes a shell command inside the workspace with a timeout.
type ShellTool struct{}

func (t *ShellTool) Name() string     { return "shell" }
func (t *ShellTool) Category() string { return "shell" }
func (t *ShellTool) Description() string {
	return "Execute a shell command in the workspace. Output is truncated to 10000 characters."
}

func (t *ShellTool) Parameters() json.RawMessage {
	return SchemaFor(&shellParams{})
}

func (t *ShellTool) Execute(ctx context.Context, params map[string]any, tc *Context) (any, error) {
	command := strings.TrimSpace(stringParam(params, "command"))
	if command == "" {
		return "Error: command is required", nil
	}
	if pattern, bad := CheckCommand(command); bad {
		return fmt.Sprintf("Error: matches dangerous pattern '%s'; refusing to run", pattern), nil
	}
	if tc.DryRun() {
		return "[dry-run] would execute: " + command, nil
	}

	timeout := time.Duration(tc.ShellTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = tc.WorkspacePath
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()
	if len(output) > 10000 {
		output = output[:10000] + "\n[output truncated]"
	}
	if execCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: command timed out after %s\n%s", timeout, output), nil
	}
	if err != nil {
		return fmt.Sprintf("Error: command failed: %v\n%s", err, output), nil
	}
	if output == "" {
		return "(no output)", nil
	}
	return output, nil
}
