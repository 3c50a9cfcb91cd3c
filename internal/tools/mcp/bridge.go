// Package mcp bridges remote MCP tools into the local registry. The
// transport is supplied by the embedding application; this package only
// owns discovery and the tool adapter.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arula-run/arula/internal/agent"
	"github.com/arula-run/arula/pkg/models"
)

// ToolInfo describes one tool a remote server exposes.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Client is the minimal surface needed from an MCP server connection.
type Client interface {
	// ListTools enumerates the server's tools.
	ListTools(ctx context.Context) ([]ToolInfo, error)

	// CallTool invokes a tool by its server-side name and returns the raw
	// result payload.
	CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// remoteTool adapts one discovered tool to the local Tool interface.
// Remote failures become failed results, never loop-aborting errors.
type remoteTool struct {
	client Client
	info   ToolInfo
}

func (t *remoteTool) Name() string { return t.info.Name }

func (t *remoteTool) Description() string { return t.info.Description }

func (t *remoteTool) Schema() json.RawMessage {
	if len(t.info.Schema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.info.Schema
}

func (t *remoteTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	payload, err := t.client.CallTool(ctx, t.info.Name, params)
	if err != nil {
		return &models.ToolResult{Error: fmt.Sprintf("remote tool failed: %v", err)}, nil
	}
	return &models.ToolResult{Success: true, Data: payload}, nil
}

// Discover lists a server's tools and registers each one, name-prefixed by
// the server id so two servers exposing the same bare name never collide.
func Discover(ctx context.Context, registry *agent.ToolRegistry, serverID string, client Client) (int, error) {
	if client == nil {
		return 0, fmt.Errorf("mcp server %s: client is nil", serverID)
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("mcp server %s: list tools: %w", serverID, err)
	}
	for _, info := range tools {
		registry.RegisterMCPTool(serverID, &remoteTool{client: client, info: info})
	}
	return len(tools), nil
}
