// Package fsops implements the list_directory and search_files built-in
// tools.
package fsops

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arula-run/arula/pkg/models"
)

// Config controls filesystem tool defaults.
type Config struct {
	// Workspace is the root all paths resolve under.
	Workspace string

	// MaxEntries caps a single listing (default 2000).
	MaxEntries int

	// MaxMatches caps a single search (default 500). This is a hard cap;
	// callers asking for more are clamped.
	MaxMatches int

	// SearchWorkers sizes the parallel grep pool (default 8).
	SearchWorkers int
}

func (c Config) withDefaults() Config {
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 2000
	}
	if c.MaxMatches <= 0 {
		c.MaxMatches = 500
	}
	if c.SearchWorkers <= 0 {
		c.SearchWorkers = 8
	}
	return c
}

// ListTool implements list_directory: enumerate entries with their type
// and size, optionally hidden files and recursive.
type ListTool struct {
	cfg Config
}

// NewListTool creates a list_directory tool scoped to the workspace.
func NewListTool(cfg Config) *ListTool {
	return &ListTool{cfg: cfg.withDefaults()}
}

func (t *ListTool) Name() string { return "list_directory" }

func (t *ListTool) Description() string {
	return "List directory entries with type and size. Optionally include hidden files or recurse into subdirectories."
}

func (t *ListTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to list (relative to workspace, default '.').",
			},
			"show_hidden": map[string]any{
				"type":        "boolean",
				"description": "Include dotfiles (default false).",
			},
			"recursive": map[string]any{
				"type":        "boolean",
				"description": "Recurse into subdirectories (default false).",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

type dirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path       string `json:"path"`
		ShowHidden bool   `json:"show_hidden"`
		Recursive  bool   `json:"recursive"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return failed(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if input.Path == "" {
		input.Path = "."
	}

	root, err := resolve(t.cfg.Workspace, input.Path)
	if err != nil {
		return failed(err.Error()), nil
	}

	var entries []dirEntry
	truncated := false

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		hidden := strings.HasPrefix(name, ".")
		if hidden && !input.ShowHidden {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if len(entries) >= t.cfg.MaxEntries {
			truncated = true
			return filepath.SkipAll
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = name
		}
		entries = append(entries, dirEntry{
			Name: rel,
			Type: entryType(d),
			Size: entrySize(d),
		})

		if d.IsDir() && !input.Recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return failed("listing canceled"), nil
	}
	if walkErr != nil {
		return failed(fmt.Sprintf("list directory: %v", walkErr)), nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return success(map[string]any{
		"path":      input.Path,
		"entries":   entries,
		"count":     len(entries),
		"truncated": truncated,
	}), nil
}

func entryType(d fs.DirEntry) string {
	switch {
	case d.IsDir():
		return "dir"
	case d.Type()&fs.ModeSymlink != 0:
		return "symlink"
	default:
		return "file"
	}
}

func entrySize(d fs.DirEntry) int64 {
	info, err := d.Info()
	if err != nil {
		return 0
	}
	if info.IsDir() {
		return 0
	}
	return info.Size()
}

// resolve returns an absolute path inside the workspace, rejecting escapes.
func resolve(workspace, path string) (string, error) {
	rootAbs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(path) {
		target = filepath.Clean(path)
	} else {
		target = filepath.Join(rootAbs, path)
	}
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return target, nil
}

func success(v any) *models.ToolResult {
	payload, err := json.Marshal(v)
	if err != nil {
		return &models.ToolResult{Success: true}
	}
	return &models.ToolResult{Success: true, Data: payload}
}

func failed(message string) *models.ToolResult {
	return &models.ToolResult{Success: false, Error: message}
}
