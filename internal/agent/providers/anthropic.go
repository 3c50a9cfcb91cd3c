package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/arula-run/arula/internal/agent"
	"github.com/arula-run/arula/pkg/models"
)

// AnthropicConfig configures the Anthropic Messages provider.
type AnthropicConfig struct {
	// APIKey is sent as x-api-key. By convention sourced from
	// ANTHROPIC_API_KEY.
	APIKey string

	// BaseURL overrides the API endpoint; gateways exposing the dialect
	// under /api/anthropic keep that subpath.
	BaseURL string

	// Timeout bounds each HTTP call (default 60s).
	Timeout time.Duration

	// ThinkingBudgetTokens sizes extended thinking when enabled
	// (default 10000, floor 1024).
	ThinkingBudgetTokens int
}

// AnthropicProvider speaks the Anthropic Messages dialect: system lifted
// out of the message list, assistant content as text/tool_use blocks, tool
// results as user messages with tool_result blocks, and named-event SSE
// streaming.
type AnthropicProvider struct {
	client         anthropic.Client
	thinkingBudget int
}

var _ agent.Provider = (*AnthropicProvider)(nil)

// anthropicDefaultMaxTokens prevents runaway generations while allowing
// substantial responses.
const anthropicDefaultMaxTokens = 4096

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := NormalizeBaseURL(cfg.BaseURL); base != "" {
		options = append(options, option.WithBaseURL(base))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	options = append(options, option.WithRequestTimeout(timeout))

	budget := cfg.ThinkingBudgetTokens
	if budget < 1024 {
		budget = 10000
	}

	return &AnthropicProvider{
		client:         anthropic.NewClient(options...),
		thinkingBudget: budget,
	}, nil
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return string(KindAnthropic)
}

// Stream issues a streaming Messages request and decodes the named events
// into canonical events. A content_block_start for a tool_use seeds the
// (id, name) for that block's index; input_json_delta fragments follow
// under the same index.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.Request) (<-chan models.StreamEvent, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	events := make(chan models.StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()

		events <- models.StreamEvent{Kind: models.StreamStart}

		// Tool-use block indexes, so deltas land in the right slot.
		toolBlocks := make(map[int]bool)
		finishReason := ""

		for stream.Next() {
			event := stream.Current()
			index := int(event.Index)

			switch event.Type {
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					toolUse := block.AsToolUse()
					toolBlocks[index] = true
					events <- models.StreamEvent{
						Kind:  models.StreamToolCallDel,
						Index: index,
						ID:    toolUse.ID,
						Name:  toolUse.Name,
					}
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						events <- models.StreamEvent{Kind: models.StreamTextDelta, Text: delta.Text}
					}
				case "thinking_delta":
					if delta.Thinking != "" {
						events <- models.StreamEvent{Kind: models.StreamReasoning, Text: delta.Thinking}
					}
				case "input_json_delta":
					if delta.PartialJSON != "" && toolBlocks[index] {
						events <- models.StreamEvent{
							Kind:         models.StreamToolCallDel,
							Index:        index,
							ArgsFragment: delta.PartialJSON,
						}
					}
				}

			case "message_delta":
				messageDelta := event.AsMessageDelta()
				if messageDelta.Delta.StopReason != "" {
					finishReason = string(messageDelta.Delta.StopReason)
				}

			case "message_stop":
				events <- models.StreamEvent{Kind: models.StreamEnd, FinishReason: finishReason}
				return
			}
		}

		if err := stream.Err(); err != nil {
			events <- models.StreamEvent{Kind: models.StreamEnd, Err: p.wrapError(err, req.Model)}
			return
		}
		// Stream ended without message_stop; whatever was decoded stands.
		events <- models.StreamEvent{Kind: models.StreamEnd, FinishReason: finishReason}
	}()

	return events, nil
}

// Complete issues a non-streaming Messages request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err, req.Model)
	}

	out := &agent.Response{
		FinishReason: string(message.StopReason),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}

	var content, reasoning strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "thinking":
			reasoning.WriteString(block.Thinking)
		case "tool_use":
			toolUse := block.AsToolUse()
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: string(toolUse.Input),
			})
		}
	}
	out.Content = content.String()
	out.Reasoning = reasoning.String()
	return out, nil
}

func (p *AnthropicProvider) buildParams(req *agent.Request) (anthropic.MessageNewParams, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := toAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if req.Thinking {
		budget := int64(p.thinkingBudget)
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
		// Thinking tokens count against max_tokens, so the ceiling must
		// leave room for the answer itself.
		if params.MaxTokens <= budget {
			params.MaxTokens = budget + int64(maxTokens)
		}
	}

	return params, nil
}

// toAnthropicMessages converts canonical messages into block-structured
// MessageParams. Tool messages become user messages carrying a tool_result
// block keyed by tool_use_id; consecutive canonical tool messages merge
// into one user message with multiple tool_result blocks, because the API
// requires strict user/assistant role alternation.
func toAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			// Lifted into params.System by the caller.
			continue

		case models.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					return nil, fmt.Errorf("tool call %s carries invalid arguments: %w", tc.ID, err)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(content...))

		case models.RoleTool:
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)
			if n := len(result); n > 0 && result[n-1].Role == "user" {
				result[n-1].Content = append(result[n-1].Content, block)
				continue
			}
			result = append(result, anthropic.NewUserMessage(block))

		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return result, nil
}

// toAnthropicTools converts tool declarations into input_schema form.
func toAnthropicTools(tools []agent.ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}

	return result, nil
}

// wrapError converts SDK errors into the adapter error taxonomy.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewError(p.Name(), model, err).WithStatus(apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(p.Name(), model, err).WithReason(ReasonTimeout)
	}
	return NewError(p.Name(), model, err)
}
