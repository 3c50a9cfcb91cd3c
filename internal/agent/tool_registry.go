package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/arula-run/arula/pkg/models"
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup. Tools are registered by name and retrieved for execution during
// agent turns. Once constructed, callers should treat it as shared
// read-only; each Tool is responsible for its own internal synchronization.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry by its name.
// If a tool with the same name already exists, it is replaced.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// RegisterMCPTool registers a dynamically discovered remote tool,
// name-prefixed by the server that exposed it.
func (r *ToolRegistry) RegisterMCPTool(serverID string, tool Tool) {
	r.Register(&mcpBridgeTool{serverID: serverID, inner: tool})
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Execute runs a tool by name with the given JSON parameters. An unknown
// tool or an oversized request returns a synthesized failure result rather
// than an error, so the agent loop keeps going and the model can react.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*models.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &models.ToolResult{
			Error: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &models.ToolResult{
			Error: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &models.ToolResult{Error: "tool not found: " + name}, nil
	}
	return tool.Execute(ctx, params)
}

// ToolDefs returns the provider-agnostic declarations of all registered
// tools, sorted by name for deterministic request bodies.
func (r *ToolRegistry) ToolDefs() []ToolDef {
	tools := r.All()
	defs := make([]ToolDef, len(tools))
	for i, t := range tools {
		defs[i] = ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		}
	}
	return defs
}

// All returns all registered tools sorted by name.
func (r *ToolRegistry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// mcpBridgeTool wraps a dynamically discovered remote MCP tool so its name
// is always prefixed by the server that exposed it, preventing collisions
// between servers that happen to expose tools with the same bare name.
type mcpBridgeTool struct {
	serverID string
	inner    Tool
}

func (t *mcpBridgeTool) Name() string {
	return "mcp:" + t.serverID + ":" + t.inner.Name()
}

func (t *mcpBridgeTool) Description() string {
	return t.inner.Description()
}

func (t *mcpBridgeTool) Schema() json.RawMessage {
	return t.inner.Schema()
}

func (t *mcpBridgeTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	return t.inner.Execute(ctx, params)
}

func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}

func matchesToolPatterns(patterns []string, toolName string) bool {
	for _, pattern := range patterns {
		if matchToolPattern(pattern, toolName) {
			return true
		}
	}
	return false
}
