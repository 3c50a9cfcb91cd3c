package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/arula-run/arula/pkg/models"
)

// InvokeFunc is the erased invocation signature every registered tool is
// reduced to: raw JSON parameters in, a ToolResult out. Errors returned
// here are converted into failed results by the wrapper, never surfaced as
// loop-aborting errors.
type InvokeFunc func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)

// funcTool adapts a bare invoke function plus a JSON schema into a Tool.
// Parameters are validated against the schema before the function runs;
// validation failure produces a failed result without invoking it.
type funcTool struct {
	name        string
	description string
	rawSchema   json.RawMessage
	compiled    *jsonschema.Schema
	invoke      InvokeFunc
}

// NewFuncTool wraps an invoke function as a Tool. schema must be a JSON
// schema object describing the tool's parameters; a nil schema accepts any
// object. The schema is compiled once at registration, so a malformed
// schema fails fast here rather than on first call.
func NewFuncTool(name, description string, schema json.RawMessage, invoke InvokeFunc) (Tool, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if invoke == nil {
		return nil, fmt.Errorf("tool %s: invoke function is required", name)
	}
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".schema.json", bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("tool %s: add schema: %w", name, err)
	}
	compiled, err := compiler.Compile(name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile schema: %w", name, err)
	}

	return &funcTool{
		name:        name,
		description: description,
		rawSchema:   schema,
		compiled:    compiled,
		invoke:      invoke,
	}, nil
}

func (t *funcTool) Name() string { return t.name }

func (t *funcTool) Description() string { return t.description }

func (t *funcTool) Schema() json.RawMessage { return t.rawSchema }

func (t *funcTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return &models.ToolResult{Error: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	if err := t.compiled.Validate(decoded); err != nil {
		return &models.ToolResult{Error: fmt.Sprintf("parameter validation failed: %v", err)}, nil
	}

	result, err := t.invoke(ctx, params)
	if err != nil {
		return &models.ToolResult{Error: err.Error()}, nil
	}
	if result == nil {
		return &models.ToolResult{Success: true}, nil
	}
	return result, nil
}

// RegisterFunc compiles and registers an invoke function in one step. This
// is the registration surface external callers use; built-in tools
// implement Tool directly.
func (r *ToolRegistry) RegisterFunc(name, description string, schema json.RawMessage, invoke InvokeFunc) error {
	tool, err := NewFuncTool(name, description, schema, invoke)
	if err != nil {
		return err
	}
	r.Register(tool)
	return nil
}

// SchemaFromToolSchema serializes the canonical ToolSchema form into the
// JSON-schema object adapters and the validator consume.
func SchemaFromToolSchema(s models.ToolSchema) json.RawMessage {
	properties := make(map[string]any, len(s.Parameters))
	for name, spec := range s.Parameters {
		prop := map[string]any{"type": spec.Type}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		if len(spec.Enum) > 0 {
			prop["enum"] = spec.Enum
		}
		if spec.Default != nil {
			prop["default"] = spec.Default
		}
		properties[name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
