package agent

import (
	"context"
	"encoding/json"

	"github.com/arula-run/arula/pkg/models"
)

// Provider is the provider-adapter contract: translate canonical messages
// and tool declarations to a dialect's wire format, issue the HTTP request,
// and decode the response. Implementations must be safe for concurrent use;
// multiple goroutines may issue requests over one shared connection pool.
type Provider interface {
	// Name returns the dialect-facing provider name (e.g. "openai",
	// "anthropic", "ollama", "zai").
	Name() string

	// Stream issues a streaming request and returns the decoded event
	// sequence. The channel is closed after a StreamEnd or an event whose
	// Err is set; it is never restartable. Tool-call fragments are passed
	// through as deltas keyed by index; reassembly is the consumer's job
	// via ToolCallAccumulator.
	Stream(ctx context.Context, req *Request) (<-chan models.StreamEvent, error)

	// Complete issues a non-streaming request and returns the final
	// response in one piece.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request carries everything a provider adapter needs to build one wire
// request: the conversation so far, available tools, and generation
// parameters.
type Request struct {
	Model    string           `json:"model"`
	System   string           `json:"system,omitempty"`
	Messages []models.Message `json:"messages"`
	Tools    []ToolDef        `json:"tools,omitempty"`

	// MaxTokens requests a response length ceiling; adapters may lower it
	// further to each model family's window.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature is passed through verbatim when non-zero.
	Temperature float64 `json:"temperature,omitempty"`

	// Thinking requests reasoning mode using whatever directive the
	// dialect understands.
	Thinking bool `json:"thinking,omitempty"`
}

// ToolDef is the provider-agnostic tool declaration handed to adapters.
// Parameters is a JSON-schema object serialized to the dialect's tool
// declaration format by each adapter.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Response is a provider's complete, non-streamed answer.
type Response struct {
	Content      string            `json:"content,omitempty"`
	Reasoning    string            `json:"reasoning,omitempty"`
	ToolCalls    []models.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string            `json:"finish_reason,omitempty"`
	InputTokens  int               `json:"input_tokens,omitempty"`
	OutputTokens int               `json:"output_tokens,omitempty"`
}

// Tool is the type-erased shape every built-in and MCP-bridged tool is
// wrapped to; callers never see tool-specific parameter or result types.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}
