// Package question implements the ask_question built-in tool: a bridge
// that blocks the agent loop on structured input from the user.
package question

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arula-run/arula/pkg/models"
)

// Question is what the model asks the user.
type Question struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// Asker delivers a question to the user and blocks until an answer
// arrives or the context is cancelled. The UI layer implements this.
type Asker interface {
	Ask(ctx context.Context, q Question) (string, error)
}

// AskerFunc adapts a function to the Asker interface.
type AskerFunc func(ctx context.Context, q Question) (string, error)

func (f AskerFunc) Ask(ctx context.Context, q Question) (string, error) {
	return f(ctx, q)
}

// Tool implements ask_question. Because the asker blocks, agents using it
// should size the tool timeout for human latency or disable it there.
type Tool struct {
	asker Asker
}

// NewTool creates an ask_question tool backed by the given asker.
func NewTool(asker Asker) *Tool {
	return &Tool{asker: asker}
}

func (t *Tool) Name() string { return "ask_question" }

func (t *Tool) Description() string {
	return "Ask the user a question and wait for their answer. Optionally offer a fixed set of choices."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "The question to put to the user.",
			},
			"options": map[string]any{
				"type":        "array",
				"description": "Optional fixed choices; free-form input is accepted when omitted.",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required": []string{"prompt"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Prompt  string   `json:"prompt"`
		Options []string `json:"options"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &models.ToolResult{Error: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	if strings.TrimSpace(input.Prompt) == "" {
		return &models.ToolResult{Error: "prompt is required"}, nil
	}
	if t.asker == nil {
		return &models.ToolResult{Error: "no interactive input available"}, nil
	}

	answer, err := t.asker.Ask(ctx, Question{Prompt: input.Prompt, Options: input.Options})
	if err != nil {
		return &models.ToolResult{Error: fmt.Sprintf("question not answered: %v", err)}, nil
	}

	payload, err := json.Marshal(map[string]string{"answer": answer})
	if err != nil {
		return &models.ToolResult{Error: "encode answer failed"}, nil
	}
	return &models.ToolResult{Success: true, Data: payload}, nil
}
