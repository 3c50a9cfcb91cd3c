package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arula-run/arula/pkg/models"
)

// WriteTool implements write_file: create or overwrite a file, creating
// missing parent directories on the way.
type WriteTool struct {
	resolver Resolver
}

// NewWriteTool creates a write tool scoped to the workspace.
func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *WriteTool) Name() string { return "write_file" }

func (t *WriteTool) Description() string {
	return "Write content to a file, overwriting what exists. Parent directories are created as needed."
}

func (t *WriteTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to write (relative to workspace).",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "File contents to write.",
			},
			"append": map[string]any{
				"type":        "boolean",
				"description": "Append instead of overwrite (default: false).",
			},
		},
		"required": []string{"path", "content"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create parent directories: %v", err)), nil
	}

	created := true
	if _, statErr := os.Stat(resolved); statErr == nil {
		created = false
	}

	var n int
	if input.Append {
		file, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return toolError(fmt.Sprintf("open file: %v", err)), nil
		}
		n, err = file.WriteString(input.Content)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return toolError(fmt.Sprintf("append to file: %v", err)), nil
		}
	} else {
		if err := os.WriteFile(resolved, []byte(input.Content), 0o644); err != nil {
			return toolError(fmt.Sprintf("write file: %v", err)), nil
		}
		n = len(input.Content)
	}

	return toolSuccess(map[string]any{
		"path":          input.Path,
		"bytes_written": n,
		"created":       created,
		"append":        input.Append,
	}), nil
}
