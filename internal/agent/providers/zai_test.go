package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/arula-run/arula/internal/agent"
	"github.com/arula-run/arula/pkg/models"
)

func zaiStreamServer(t *testing.T, capture *[]byte, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing bearer auth")
		}
		if capture != nil {
			payload, _ := io.ReadAll(r.Body)
			*capture = payload
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
		}
	}))
}

func TestZAIStreamDecodes(t *testing.T) {
	var captured []byte
	server := zaiStreamServer(t, &captured, []string{
		`{"choices":[{"delta":{"reasoning_content":"thinking"}}]}`,
		`{"choices":[{"delta":{"content":"Hi"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"read_file","arguments":"{\"path\":\"x\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	})
	defer server.Close()

	provider, err := NewZAIProvider(ZAIConfig{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewZAIProvider: %v", err)
	}
	events, err := provider.Stream(context.Background(), &agent.Request{Model: "glm-4.6", Thinking: true})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text, reasoning string
	var toolDeltas []models.StreamEvent
	var end models.StreamEvent
	for ev := range events {
		switch ev.Kind {
		case models.StreamTextDelta:
			text += ev.Text
		case models.StreamReasoning:
			reasoning += ev.Text
		case models.StreamToolCallDel:
			toolDeltas = append(toolDeltas, ev)
		case models.StreamEnd:
			end = ev
		}
	}
	if text != "Hi" || reasoning != "thinking" {
		t.Fatalf("text=%q reasoning=%q", text, reasoning)
	}
	if len(toolDeltas) != 1 || toolDeltas[0].ID != "c1" || toolDeltas[0].Name != "read_file" {
		t.Fatalf("tool deltas = %+v", toolDeltas)
	}
	if end.Err != nil || end.FinishReason != "tool_calls" {
		t.Fatalf("end = %+v", end)
	}

	var body map[string]any
	if err := json.Unmarshal(captured, &body); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if body["max_tokens"] != float64(65536) {
		t.Fatalf("max_tokens = %v", body["max_tokens"])
	}
	thinking, _ := body["thinking"].(map[string]any)
	if thinking["type"] != "enabled" {
		t.Fatalf("thinking = %v", body["thinking"])
	}
}

func TestZAIRetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			http.Error(w, `{"error":{"message":"upstream hiccup"}}`, http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	provider, err := NewZAIProvider(ZAIConfig{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewZAIProvider: %v", err)
	}
	events, err := provider.Stream(context.Background(), &agent.Request{Model: "glm-4.6"})
	if err != nil {
		t.Fatalf("Stream after retry: %v", err)
	}
	for range events {
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("server saw %d requests, want 2", got)
	}
}

func TestZAINeverRetries4xx(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	provider, err := NewZAIProvider(ZAIConfig{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewZAIProvider: %v", err)
	}
	_, err = provider.Stream(context.Background(), &agent.Request{Model: "glm-4.6"})
	if err == nil {
		t.Fatal("expected auth error")
	}
	provErr, ok := GetError(err)
	if !ok || provErr.Reason != ReasonAuth {
		t.Fatalf("error = %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("4xx retried: %d requests", got)
	}
}

func TestZAIMessageCaveats(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "go"},
		// Tool-calls-only assistant message is dropped on the wire.
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "read_file", Arguments: "{}"},
		}},
		// Tool role is re-rendered as user text.
		{Role: models.RoleTool, Content: `{"ok":true}`, ToolCallID: "c1", ToolName: "read_file"},
		{Role: models.RoleAssistant, Content: "done"},
	}
	out := toZAIMessages(messages, "sys")

	if len(out) != 4 {
		t.Fatalf("got %d wire messages: %+v", len(out), out)
	}
	if out[0]["role"] != "system" {
		t.Fatalf("first = %+v", out[0])
	}
	if out[2]["role"] != "user" || out[2]["content"] != `Tool read_file returned: {"ok":true}` {
		t.Fatalf("re-rendered tool result = %+v", out[2])
	}
	if out[3]["role"] != "assistant" || out[3]["content"] != "done" {
		t.Fatalf("final assistant = %+v", out[3])
	}
}

func TestZAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"choices":[{
				"message":{
					"content":"answer",
					"reasoning_content":"why",
					"tool_calls":[{"id":"c1","function":{"name":"t","arguments":"{}"}}]
				},
				"finish_reason":"stop"
			}],
			"usage":{"prompt_tokens":10,"completion_tokens":5}
		}`)
	}))
	defer server.Close()

	provider, err := NewZAIProvider(ZAIConfig{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewZAIProvider: %v", err)
	}
	resp, err := provider.Complete(context.Background(), &agent.Request{Model: "glm-4.6"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "answer" || resp.Reasoning != "why" || resp.FinishReason != "stop" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "c1" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Fatalf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}
