package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/arula-run/arula/internal/agent"
	"github.com/arula-run/arula/internal/retry"
	"github.com/arula-run/arula/pkg/models"
)

// ZAIConfig configures the GLM/Z.AI provider.
type ZAIConfig struct {
	// APIKey is sent as Authorization: Bearer. By convention sourced from
	// ZAI_API_KEY.
	APIKey string

	// BaseURL of the endpoint; /chat/completions is appended directly to
	// it, and a /v4 subpath is preserved as the API root.
	BaseURL string

	// Timeout bounds each HTTP call (default 60s).
	Timeout time.Duration

	// MaxRetries caps retries on 5xx and network errors (default 3);
	// 4xx never retries.
	MaxRetries int
}

// ZAIProvider speaks the plain GLM dialect: OpenAI-like wire format with
// caveats. The endpoint rejects the tool role, so tool results are
// re-rendered as user text; assistant messages carrying only tool_calls
// are dropped from outgoing requests; and modern GLM models take a
// thinking directive plus family-specific token ceilings.
type ZAIProvider struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
}

var _ agent.Provider = (*ZAIProvider)(nil)

// NewZAIProvider creates a GLM/Z.AI provider.
func NewZAIProvider(cfg ZAIConfig) (*ZAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("zai: API key is required")
	}
	baseURL := NormalizeBaseURL(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.z.ai/api/paas/v4"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ZAIProvider{
		client:     &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		maxRetries: maxRetries,
	}, nil
}

// Name returns the provider name.
func (p *ZAIProvider) Name() string {
	return string(KindZAI)
}

// glmMaxTokens returns the response ceiling for a GLM model family. The
// endpoint rejects requests above a model's window, so the adapter clamps.
func glmMaxTokens(model string, requested int) int {
	lower := strings.ToLower(model)
	ceiling := defaultMaxTokens
	switch {
	case strings.Contains(lower, "glm-4.5") || strings.Contains(lower, "glm-4.6"):
		ceiling = 65536
	case strings.Contains(lower, "glm"):
		ceiling = 16384
	}
	if requested > 0 && requested < ceiling {
		return requested
	}
	return ceiling
}

// supportsThinking reports whether the model takes the thinking directive
// (GLM 4.5 and newer).
func supportsThinking(model string) bool {
	lower := strings.ToLower(model)
	for _, family := range []string{"glm-4.5", "glm-4.6", "glm-5"} {
		if strings.Contains(lower, family) {
			return true
		}
	}
	return false
}

// Stream issues a streaming request. Establishing the request retries on
// 5xx and network failures with incremental backoff; once the stream has
// begun, failures surface as stream errors without retry so no events are
// replayed.
func (p *ZAIProvider) Stream(ctx context.Context, req *agent.Request) (<-chan models.StreamEvent, error) {
	resp, err := p.sendWithRetry(ctx, req, true)
	if err != nil {
		return nil, err
	}

	events := make(chan models.StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		events <- models.StreamEvent{Kind: models.StreamStart}
		finishReason := ""
		done := false

		scanErr := scanSSE(resp.Body, func(_, data string) error {
			if data == "" {
				return nil
			}
			if data == "[DONE]" {
				done = true
				events <- models.StreamEvent{Kind: models.StreamEnd, FinishReason: finishReason}
				return errStreamDone
			}
			if !gjson.Valid(data) {
				// Skip malformed frames rather than killing the stream.
				return nil
			}

			delta := gjson.Get(data, "choices.0.delta")
			if reasoning := delta.Get("reasoning_content").String(); reasoning != "" {
				events <- models.StreamEvent{Kind: models.StreamReasoning, Text: reasoning}
			}
			if content := delta.Get("content").String(); content != "" {
				events <- models.StreamEvent{Kind: models.StreamTextDelta, Text: content}
			}
			delta.Get("tool_calls").ForEach(func(i, tc gjson.Result) bool {
				index := int(i.Int())
				if idx := tc.Get("index"); idx.Exists() {
					index = int(idx.Int())
				}
				events <- models.StreamEvent{
					Kind:         models.StreamToolCallDel,
					Index:        index,
					ID:           tc.Get("id").String(),
					Name:         tc.Get("function.name").String(),
					ArgsFragment: tc.Get("function.arguments").String(),
				}
				return true
			})
			if reason := gjson.Get(data, "choices.0.finish_reason").String(); reason != "" {
				finishReason = reason
				done = true
				events <- models.StreamEvent{Kind: models.StreamEnd, FinishReason: finishReason}
				return errStreamDone
			}
			return nil
		})

		if done {
			return
		}
		if scanErr != nil && !errors.Is(scanErr, errStreamDone) {
			events <- models.StreamEvent{Kind: models.StreamEnd, Err: NewError(p.Name(), req.Model, scanErr)}
			return
		}
		// EOF before [DONE] is treated as stream end; decoded events stand.
		events <- models.StreamEvent{Kind: models.StreamEnd, FinishReason: finishReason}
	}()

	return events, nil
}

// errStreamDone stops the SSE scan after the terminal frame.
var errStreamDone = errors.New("stream done")

// Complete issues a non-streaming request.
func (p *ZAIProvider) Complete(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	resp, err := p.sendWithRetry(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, NewError(p.Name(), req.Model, err)
	}
	if !gjson.ValidBytes(payload) {
		return nil, NewError(p.Name(), req.Model, errors.New("unparseable response body")).
			WithReason(ReasonInvalidResponse)
	}

	body := gjson.ParseBytes(payload)
	message := body.Get("choices.0.message")
	out := &agent.Response{
		Content:      message.Get("content").String(),
		Reasoning:    message.Get("reasoning_content").String(),
		FinishReason: body.Get("choices.0.finish_reason").String(),
		InputTokens:  int(body.Get("usage.prompt_tokens").Int()),
		OutputTokens: int(body.Get("usage.completion_tokens").Int()),
	}
	message.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: tc.Get("function.arguments").String(),
		})
		return true
	})
	return out, nil
}

// sendWithRetry issues the HTTP request with the GLM retry policy: up to
// maxRetries extra attempts on 5xx and network errors, backing off
// 1s*attempt between them; 4xx fails immediately.
func (p *ZAIProvider) sendWithRetry(ctx context.Context, req *agent.Request, stream bool) (*http.Response, error) {
	payload, err := p.buildBody(req, stream)
	if err != nil {
		return nil, err
	}

	resp, outcome := retry.DoWithValue(ctx, retry.Config{
		MaxAttempts: p.maxRetries + 1,
		Backoff:     retry.Incremental(time.Second),
	}, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, retry.Permanent(NewError(p.Name(), req.Model, err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		if stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, retry.Permanent(NewError(p.Name(), req.Model, err).WithReason(ReasonTimeout))
			}
			return nil, NewError(p.Name(), req.Model, err).WithReason(ReasonNetwork)
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		provErr := NewError(p.Name(), req.Model, nil).
			WithStatus(resp.StatusCode).
			WithMessage(extractAPIError(detail))
		if resp.StatusCode == http.StatusTooManyRequests {
			provErr = provErr.WithRetryAfter(ParseRetryAfter(resp.Header.Get("Retry-After")))
		}
		if resp.StatusCode >= 500 {
			return nil, provErr
		}
		return nil, retry.Permanent(provErr)
	})

	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return resp, nil
}

func (p *ZAIProvider) buildBody(req *agent.Request, stream bool) ([]byte, error) {
	body := map[string]any{
		"model":      req.Model,
		"messages":   toZAIMessages(req.Messages, req.System),
		"stream":     stream,
		"max_tokens": glmMaxTokens(req.Model, req.MaxTokens),
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		body["tools"] = toZAITools(req.Tools)
	}
	if req.Thinking && supportsThinking(req.Model) {
		body["thinking"] = map[string]any{"type": "enabled"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, NewError(p.Name(), req.Model, fmt.Errorf("encode request: %w", err))
	}
	return payload, nil
}

// toZAIMessages flattens canonical messages with the dialect's caveats:
// the tool role is rejected, so results re-render as user text, and an
// assistant message whose only payload is tool_calls is dropped because
// the endpoint cannot re-consume it.
func toZAIMessages(messages []models.Message, system string) []map[string]any {
	result := make([]map[string]any, 0, len(messages)+1)

	if system != "" {
		result = append(result, map[string]any{"role": "system", "content": system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			if msg.Content == "" {
				continue
			}
			result = append(result, map[string]any{"role": "assistant", "content": msg.Content})

		case models.RoleTool:
			name := msg.ToolName
			if name == "" {
				name = msg.ToolCallID
			}
			result = append(result, map[string]any{
				"role":    "user",
				"content": fmt.Sprintf("Tool %s returned: %s", name, msg.Content),
			})

		default:
			result = append(result, map[string]any{"role": string(msg.Role), "content": msg.Content})
		}
	}

	return result
}

func toZAITools(tools []agent.ToolDef) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		var params any
		if err := json.Unmarshal(tool.Parameters, &params); err != nil {
			params = map[string]any{"type": "object"}
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  params,
			},
		})
	}
	return result
}

// extractAPIError pulls a message out of an error body, falling back to
// the raw text.
func extractAPIError(body []byte) string {
	text := strings.TrimSpace(string(body))
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
			return msg
		}
		if msg := gjson.GetBytes(body, "message").String(); msg != "" {
			return msg
		}
	}
	return text
}
