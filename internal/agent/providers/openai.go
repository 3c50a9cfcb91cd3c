package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arula-run/arula/internal/agent"
	"github.com/arula-run/arula/pkg/models"
)

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	// APIKey is sent as Authorization: Bearer. By convention sourced from
	// OPENAI_API_KEY.
	APIKey string

	// BaseURL points at any OpenAI-compatible server; empty means the
	// official API. Suffixes like /v1 or /chat/completions are trimmed.
	BaseURL string

	// Timeout bounds each HTTP call (default 60s).
	Timeout time.Duration
}

// OpenAIProvider speaks the OpenAI chat-completions dialect: flat messages
// with tool_calls/tool_call_id, function-typed tool declarations, SSE
// streaming terminated by [DONE].
type OpenAIProvider struct {
	client *openai.Client
}

var _ agent.Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := NormalizeBaseURL(cfg.BaseURL); base != "" {
		// go-openai appends /chat/completions itself, so the configured
		// base must end at the version segment.
		clientCfg.BaseURL = base + "/v1"
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg)}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return string(KindOpenAI)
}

// Stream issues a streaming chat-completion request and decodes the SSE
// frames into canonical events. Tool-call fragments pass through with
// their wire index; reassembly happens downstream.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.Request) (<-chan models.StreamEvent, error) {
	chatReq := p.buildRequest(req, true)

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, req.Model)
	}

	events := make(chan models.StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()

		events <- models.StreamEvent{Kind: models.StreamStart}
		finishReason := ""

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					// Unexpected EOF without [DONE] counts as stream end;
					// events already emitted stand.
					events <- models.StreamEvent{Kind: models.StreamEnd, FinishReason: finishReason}
					return
				}
				events <- models.StreamEvent{Kind: models.StreamEnd, Err: p.wrapError(err, req.Model)}
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]
			delta := choice.Delta

			if delta.ReasoningContent != "" {
				events <- models.StreamEvent{Kind: models.StreamReasoning, Text: delta.ReasoningContent}
			}
			if delta.Content != "" {
				events <- models.StreamEvent{Kind: models.StreamTextDelta, Text: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				events <- models.StreamEvent{
					Kind:         models.StreamToolCallDel,
					Index:        index,
					ID:           tc.ID,
					Name:         tc.Function.Name,
					ArgsFragment: tc.Function.Arguments,
				}
			}
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
		}
	}()

	return events, nil
}

// Complete issues a non-streaming request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	chatReq := p.buildRequest(req, false)

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, req.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(p.Name(), req.Model, errors.New("response carried no choices")).
			WithReason(ReasonInvalidResponse)
	}

	choice := resp.Choices[0]
	out := &agent.Response{
		Content:      choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (p *OpenAIProvider) buildRequest(req *agent.Request, stream bool) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages, req.System),
		Stream:   stream,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if req.Thinking {
		chatReq.ReasoningEffort = "medium"
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
	}
	return chatReq
}

// toOpenAIMessages flattens canonical messages into the OpenAI shape. The
// system prompt goes first; tool results become role=tool messages bound
// by tool_call_id.
func toOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			result = append(result, out)

		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}

	return result
}

// toOpenAITools converts tool declarations to the function-typed shape.
func toOpenAITools(tools []agent.ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Parameters, &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

// wrapError converts SDK errors into the adapter error taxonomy.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped := NewError(p.Name(), model, err).
			WithStatus(apiErr.HTTPStatusCode).
			WithMessage(apiErr.Message)
		return wrapped
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewError(p.Name(), model, err).WithStatus(reqErr.HTTPStatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(p.Name(), model, err).WithReason(ReasonTimeout)
	}
	return NewError(p.Name(), model, fmt.Errorf("request failed: %w", err))
}
