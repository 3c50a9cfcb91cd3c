package models

import "time"

// StreamEventKind tags the variant of a StreamEvent.
type StreamEventKind string

const (
	StreamStart       StreamEventKind = "stream_start"
	StreamTextDelta   StreamEventKind = "text_delta"
	StreamReasoning   StreamEventKind = "reasoning_delta"
	StreamToolCallDel StreamEventKind = "tool_call_delta"
	StreamEnd         StreamEventKind = "stream_end"
)

// StreamEvent is the canonical output of the stream decoders: a lazy,
// finite, non-restartable sequence consumed by the agent loop. Events are
// emitted in arrival order; a tool-call delta never precedes StreamStart
// and never follows StreamEnd.
type StreamEvent struct {
	Kind StreamEventKind

	// TextDelta / ReasoningDelta payload.
	Text string

	// ToolCallDelta payload. Index identifies the accumulator slot; any of
	// ID/Name/ArgsFragment may be empty on a given delta.
	Index        int
	ID           string
	Name         string
	ArgsFragment string

	// StreamEnd payload.
	FinishReason string

	// Err carries a decode or transport failure; when set the stream ends.
	Err error
}

// AgentEventKind tags the variant of an AgentEvent.
type AgentEventKind string

const (
	EventTurnStart     AgentEventKind = "turn_start"
	EventThinkingStart AgentEventKind = "thinking_start"
	EventThinkingDelta AgentEventKind = "thinking_delta"
	EventThinkingEnd   AgentEventKind = "thinking_end"
	EventTextDelta     AgentEventKind = "text_delta"
	EventToolCallBegin AgentEventKind = "tool_call_begin"
	EventToolResult    AgentEventKind = "tool_result"
	EventTurnEnd       AgentEventKind = "turn_end"
	EventError         AgentEventKind = "error"
)

// AgentEvent is the canonical output of the agent loop, consumed by UI
// implementations over a bounded channel. Sequence is monotonic within one
// SendUserMessage call so consumers can detect gaps after reconnecting a
// slow renderer.
type AgentEvent struct {
	Kind     AgentEventKind `json:"kind"`
	Sequence uint64         `json:"sequence"`
	Time     time.Time      `json:"time"`

	// TextDelta / ThinkingDelta payload.
	Text string `json:"text,omitempty"`

	// ToolCallBegin / ToolResult payload.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ArgsJSON   string `json:"args_json,omitempty"`
	Success    bool   `json:"success,omitempty"`
	Data       any    `json:"data,omitempty"`

	// Error payload.
	Message string `json:"message,omitempty"`
}
