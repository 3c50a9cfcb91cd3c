// Package exec implements the execute_bash built-in tool.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/arula-run/arula/pkg/models"
)

// Config controls shell execution defaults.
type Config struct {
	// Workspace is the default working directory for commands.
	Workspace string

	// Shell overrides the interpreter (default /bin/sh). The value is
	// validated against injection before use.
	Shell string

	// DefaultTimeout bounds commands that don't ask for their own
	// (default 30s).
	DefaultTimeout time.Duration

	// MaxOutputBytes caps captured stdout/stderr each (default 128KB);
	// overflow is truncated with a marker.
	MaxOutputBytes int
}

// BashTool runs a shell command and reports stdout, stderr, and the exit
// code. A non-zero exit is a failed result, not an error: the payload goes
// back to the model so it can react.
type BashTool struct {
	shell     string
	workspace string
	timeout   time.Duration
	maxOutput int
}

// NewBashTool creates the execute_bash tool.
func NewBashTool(cfg Config) (*BashTool, error) {
	shell := strings.TrimSpace(cfg.Shell)
	if shell == "" {
		shell = "/bin/sh"
	}
	if _, err := SanitizeExecutableValue(shell); err != nil {
		return nil, fmt.Errorf("shell %q: %w", cfg.Shell, err)
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = 128 * 1024
	}
	return &BashTool{
		shell:     shell,
		workspace: cfg.Workspace,
		timeout:   timeout,
		maxOutput: maxOutput,
	}, nil
}

func (t *BashTool) Name() string { return "execute_bash" }

func (t *BashTool) Description() string {
	return "Run a shell command and return its stdout, stderr, and exit code."
}

func (t *BashTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory (relative to workspace).",
			},
			"stdin": map[string]any{
				"type":        "string",
				"description": "Content passed to the command's standard input.",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds (default 30).",
				"minimum":     1,
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *BashTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		Stdin          string `json:"stdin"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return failed(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Command) == "" {
		return failed("command is required"), nil
	}

	timeout := t.timeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := osexec.CommandContext(runCtx, t.shell, "-c", input.Command)
	cmd.Dir = t.resolveCwd(input.Cwd)
	if input.Stdin != "" {
		cmd.Stdin = strings.NewReader(input.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if runErr != nil {
		var exitErr *osexec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return failed(fmt.Sprintf("command timed out after %v", timeout)), nil
		default:
			return failed(fmt.Sprintf("start command: %v", runErr)), nil
		}
	}

	payload := map[string]any{
		"stdout":      t.clip(stdout.String()),
		"stderr":      t.clip(stderr.String()),
		"exit_code":   exitCode,
		"success":     exitCode == 0,
		"duration_ms": elapsed.Milliseconds(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return failed(fmt.Sprintf("encode result: %v", err)), nil
	}

	result := &models.ToolResult{Success: exitCode == 0, Data: data}
	if exitCode != 0 {
		result.Error = fmt.Sprintf("command exited with code %d", exitCode)
	}
	return result, nil
}

func (t *BashTool) resolveCwd(cwd string) string {
	base := t.workspace
	if base == "" {
		base = "."
	}
	if cwd == "" {
		return base
	}
	if filepath.IsAbs(cwd) {
		return filepath.Clean(cwd)
	}
	return filepath.Join(base, cwd)
}

func (t *BashTool) clip(s string) string {
	if len(s) <= t.maxOutput {
		return s
	}
	return s[:t.maxOutput] + "\n...[truncated]"
}

func failed(message string) *models.ToolResult {
	return &models.ToolResult{Success: false, Error: message}
}
