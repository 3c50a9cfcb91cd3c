package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/arula-run/arula/pkg/models"
)

// EditTool implements edit_file: create, insert, replace, delete, append,
// prepend, and find/replace-text operations on a single file. Any
// operation that mutates an existing file first writes a timestamped backup
// alongside it.
type EditTool struct {
	resolver Resolver
}

// NewEditTool creates an edit tool scoped to the workspace.
func NewEditTool(cfg Config) *EditTool {
	return &EditTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *EditTool) Name() string { return "edit_file" }

func (t *EditTool) Description() string {
	return "Edit a file: create, insert, replace, delete, append, prepend, or find/replace text. Backs up the existing file before any mutation."
}

func (t *EditTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to edit (relative to workspace).",
			},
			"operation": map[string]any{
				"type":        "string",
				"description": "One of: create, insert, replace, delete, append, prepend, replace_text.",
				"enum":        []string{"create", "insert", "replace", "delete", "append", "prepend", "replace_text"},
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content for create/insert/replace/append/prepend.",
			},
			"line": map[string]any{
				"type":        "integer",
				"description": "1-indexed line for insert, or start line for replace/delete.",
				"minimum":     1,
			},
			"end_line": map[string]any{
				"type":        "integer",
				"description": "1-indexed inclusive end line for replace/delete (default: line).",
				"minimum":     1,
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "Text to find, for replace_text.",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "Replacement text, for replace_text.",
			},
			"replace_all": map[string]any{
				"type":        "boolean",
				"description": "For replace_text: replace every occurrence (default: false, first only).",
			},
		},
		"required": []string{"path", "operation"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path       string `json:"path"`
		Operation  string `json:"operation"`
		Content    string `json:"content"`
		Line       int    `json:"line"`
		EndLine    int    `json:"end_line"`
		OldText    string `json:"old_text"`
		NewText    string `json:"new_text"`
		ReplaceAll bool   `json:"replace_all"`
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

	if input.Operation == "create" {
		if _, err := os.Stat(resolved); err == nil {
			return toolError("file already exists: " + input.Path), nil
		}
		if err := os.WriteFile(resolved, []byte(input.Content), 0o644); err != nil {
			return toolError(fmt.Sprintf("create file: %v", err)), nil
		}
		return toolSuccess(map[string]any{"path": input.Path, "operation": "create"}), nil
	}

	existing, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	backupPath, err := backupFile(resolved, existing)
	if err != nil {
		return toolError(fmt.Sprintf("backup file: %v", err)), nil
	}

	var newContent string
	var replacements int

	switch input.Operation {
	case "append":
		newContent = string(existing) + input.Content
	case "prepend":
		newContent = input.Content + string(existing)
	case "insert":
		lines := splitKeepEnds(string(existing))
		idx := input.Line - 1
		if idx < 0 || idx > len(lines) {
			return toolError("line out of range"), nil
		}
		out := append([]string{}, lines[:idx]...)
		out = append(out, ensureNewline(input.Content))
		out = append(out, lines[idx:]...)
		newContent = strings.Join(out, "")
	case "replace", "delete":
		lines := splitKeepEnds(string(existing))
		start := input.Line - 1
		end := input.EndLine
		if end == 0 {
			end = input.Line
		}
		if start < 0 || start >= len(lines) || end < input.Line || end > len(lines) {
			return toolError("line range out of range"), nil
		}
		out := append([]string{}, lines[:start]...)
		if input.Operation == "replace" {
			out = append(out, ensureNewline(input.Content))
		}
		out = append(out, lines[end:]...)
		newContent = strings.Join(out, "")
	case "replace_text":
		if input.OldText == "" {
			return toolError("old_text is required"), nil
		}
		content := string(existing)
		if !strings.Contains(content, input.OldText) {
			return toolError("old_text not found"), nil
		}
		if input.ReplaceAll {
			replacements = strings.Count(content, input.OldText)
			newContent = strings.ReplaceAll(content, input.OldText, input.NewText)
		} else {
			replacements = 1
			newContent = strings.Replace(content, input.OldText, input.NewText, 1)
		}
	default:
		return toolError("unknown operation: " + input.Operation), nil
	}

	if err := os.WriteFile(resolved, []byte(newContent), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	return toolSuccess(map[string]any{
		"path":         input.Path,
		"operation":    input.Operation,
		"backup_path":  backupPath,
		"replacements": replacements,
	}), nil
}

// backupFile writes a timestamped copy of a file's current contents before
// it is mutated.
func backupFile(resolved string, content []byte) (string, error) {
	backupPath := fmt.Sprintf("%s.%s.bak", resolved, time.Now().UTC().Format("20060102T150405.000000000Z"))
	if err := os.WriteFile(backupPath, content, 0o644); err != nil {
		return "", err
	}
	return backupPath, nil
}

func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
