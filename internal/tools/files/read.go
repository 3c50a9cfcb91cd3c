// Package files implements the read_file, write_file, and edit_file
// built-in tools, all scoped to a workspace root.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/arula-run/arula/pkg/models"
)

// Config controls filesystem tool defaults.
type Config struct {
	Workspace    string
	MaxReadBytes int
}

// ReadTool implements the read_file built-in: a 1-indexed line-range read
// backed by a memory-mapped view of the file so large files can be sliced
// without reading them wholly into the process's own buffers.
type ReadTool struct {
	resolver   Resolver
	maxReadLen int
}

// NewReadTool creates a read tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200000
	}
	return &ReadTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxReadLen: limit,
	}
}

func (t *ReadTool) Name() string { return "read_file" }

func (t *ReadTool) Description() string {
	return "Read a range of lines from a file (1-indexed, inclusive). Omit start/end to read the whole file, bounded by the tool's byte cap."
}

func (t *ReadTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file (relative to workspace).",
			},
			"start_line": map[string]any{
				"type":        "integer",
				"description": "First line to return, 1-indexed (default: 1).",
				"minimum":     1,
			},
			"end_line": map[string]any{
				"type":        "integer",
				"description": "Last line to return, 1-indexed inclusive (default: end of file).",
				"minimum":     1,
			},
		},
		"required": []string{"path"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path      string `json:"path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if input.StartLine < 0 || input.EndLine < 0 {
		return toolError("start_line and end_line must be >= 1"), nil
	}
	if input.EndLine != 0 && input.StartLine != 0 && input.EndLine < input.StartLine {
		return toolError("end_line must be >= start_line"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return toolError(fmt.Sprintf("stat file: %v", err)), nil
	}

	size := info.Size()
	if size == 0 {
		return toolSuccess(map[string]any{
			"path": input.Path, "content": "", "start_line": 1, "end_line": 0, "total_lines": 0,
		}), nil
	}

	data, err := mmapFile(file, size)
	if err != nil {
		return toolError(fmt.Sprintf("mmap file: %v", err)), nil
	}
	defer syscall.Munmap(data)

	start := input.StartLine
	if start == 0 {
		start = 1
	}
	end := input.EndLine

	var b strings.Builder
	line := 1
	lineStart := 0
	totalLines := 0
	truncated := false
	for i := 0; i <= len(data); i++ {
		atEnd := i == len(data)
		if atEnd || data[i] == '\n' {
			totalLines++
			if line >= start && (end == 0 || line <= end) {
				if b.Len()+i-lineStart > t.maxReadLen {
					truncated = true
				} else {
					b.Write(data[lineStart:i])
					if !atEnd {
						b.WriteByte('\n')
					}
				}
			}
			lineStart = i + 1
			line++
		}
	}

	effectiveEnd := end
	if effectiveEnd == 0 || effectiveEnd > totalLines {
		effectiveEnd = totalLines
	}

	return toolSuccess(map[string]any{
		"path":        input.Path,
		"content":     b.String(),
		"start_line":  start,
		"end_line":    effectiveEnd,
		"total_lines": totalLines,
		"truncated":   truncated,
	}), nil
}

func mmapFile(f *os.File, size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	return syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
}

func toolSuccess(v any) *models.ToolResult {
	payload, err := json.Marshal(v)
	if err != nil {
		return &models.ToolResult{Success: true}
	}
	return &models.ToolResult{Success: true, Data: payload}
}

func toolError(message string) *models.ToolResult {
	return &models.ToolResult{Success: false, Error: message}
}
