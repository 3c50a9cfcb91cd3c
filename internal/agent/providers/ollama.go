package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arula-run/arula/internal/agent"
	"github.com/arula-run/arula/pkg/models"
)

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	// BaseURL of the Ollama server (default http://localhost:11434).
	BaseURL string

	// Timeout bounds each HTTP call. Local generation is slow, so the
	// default is 2 minutes rather than the shared request timeout.
	Timeout time.Duration
}

// OllamaProvider speaks the Ollama /api/chat dialect: no auth, NDJSON
// streaming, tool calls delivered whole with pre-parsed argument objects,
// tool results keyed by tool_name instead of an id.
type OllamaProvider struct {
	client  *http.Client
	baseURL string
}

var _ agent.Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := NormalizeBaseURL(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return string(KindOllama)
}

// Wire types for /api/chat.

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
	Error      string        `json:"error"`
}

// Stream issues a streaming chat request and decodes the NDJSON lines.
// Tool calls arrive whole, one full delta per call with a synthetic index.
func (p *OllamaProvider) Stream(ctx context.Context, req *agent.Request) (<-chan models.StreamEvent, error) {
	resp, err := p.send(ctx, req, true)
	if err != nil {
		return nil, err
	}

	events := make(chan models.StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		events <- models.StreamEvent{Kind: models.StreamStart}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), sseMaxLineSize)
		toolIndex := 0
		finishReason := ""

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				events <- models.StreamEvent{
					Kind: models.StreamEnd,
					Err: NewError(p.Name(), req.Model, fmt.Errorf("decode chat line: %w", err)).
						WithReason(ReasonInvalidResponse),
				}
				return
			}
			if chunk.Error != "" {
				events <- models.StreamEvent{
					Kind: models.StreamEnd,
					Err:  NewError(p.Name(), req.Model, errors.New(chunk.Error)),
				}
				return
			}

			if chunk.Message.Thinking != "" {
				events <- models.StreamEvent{Kind: models.StreamReasoning, Text: chunk.Message.Thinking}
			}
			if chunk.Message.Content != "" {
				events <- models.StreamEvent{Kind: models.StreamTextDelta, Text: chunk.Message.Content}
			}
			for _, tc := range chunk.Message.ToolCalls {
				events <- models.StreamEvent{
					Kind:         models.StreamToolCallDel,
					Index:        toolIndex,
					ID:           "call_" + uuid.NewString()[:8],
					Name:         tc.Function.Name,
					ArgsFragment: compactArguments(tc.Function.Arguments),
				}
				toolIndex++
			}
			if chunk.Done {
				if chunk.DoneReason != "" {
					finishReason = chunk.DoneReason
				}
				events <- models.StreamEvent{Kind: models.StreamEnd, FinishReason: finishReason}
				return
			}
		}

		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			events <- models.StreamEvent{Kind: models.StreamEnd, Err: NewError(p.Name(), req.Model, err)}
			return
		}
		// Stream ended without done:true; whatever was decoded stands.
		events <- models.StreamEvent{Kind: models.StreamEnd, FinishReason: finishReason}
	}()

	return events, nil
}

// Complete issues a non-streaming chat request.
func (p *OllamaProvider) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	resp, err := p.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chunk ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return nil, NewError(p.Name(), req.Model, fmt.Errorf("decode chat response: %w", err)).
			WithReason(ReasonInvalidResponse)
	}
	if chunk.Error != "" {
		return nil, NewError(p.Name(), req.Model, errors.New(chunk.Error))
	}

	out := &agent.Response{
		Content:      chunk.Message.Content,
		Reasoning:    chunk.Message.Thinking,
		FinishReason: chunk.DoneReason,
	}
	for _, tc := range chunk.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        "call_" + uuid.NewString()[:8],
			Name:      tc.Function.Name,
			Arguments: compactArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (p *OllamaProvider) send(ctx context.Context, req *agent.Request, stream bool) (*http.Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, NewError(p.Name(), req.Model, errors.New("model is required")).
			WithReason(ReasonInvalidRequest)
	}

	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: toOllamaMessages(req.Messages, req.System),
		Stream:   stream,
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	options := map[string]any{}
	if req.Thinking {
		options["think"] = true
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(options) > 0 {
		body.Options = options
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, NewError(p.Name(), req.Model, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(p.Name(), req.Model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewError(p.Name(), req.Model, err).WithReason(ReasonTimeout)
		}
		return nil, NewError(p.Name(), req.Model, err).WithReason(ReasonNetwork)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, NewError(p.Name(), req.Model, nil).
			WithStatus(resp.StatusCode).
			WithMessage(strings.TrimSpace(string(detail)))
	}
	return resp, nil
}

// toOllamaMessages flattens canonical messages. The system prompt leads;
// tool results carry tool_name because the dialect has no call ids, and
// assistant tool calls go out with parsed argument objects.
func toOllamaMessages(messages []models.Message, system string) []ollamaMessage {
	result := make([]ollamaMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, ollamaMessage{Role: "system", Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			out := ollamaMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args := json.RawMessage(tc.Arguments)
				if !json.Valid(args) {
					args = json.RawMessage(`{}`)
				}
				out.ToolCalls = append(out.ToolCalls, ollamaToolCall{
					Function: ollamaFunctionCall{Name: tc.Name, Arguments: args},
				})
			}
			result = append(result, out)

		case models.RoleTool:
			result = append(result, ollamaMessage{
				Role:     "tool",
				Content:  msg.Content,
				ToolName: msg.ToolName,
			})

		default:
			result = append(result, ollamaMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}

	return result
}

// compactArguments renders a parsed argument object back to compact JSON
// text, the form the canonical ToolCall carries.
func compactArguments(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
