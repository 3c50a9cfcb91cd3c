package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arula-run/arula/internal/agent"
	"github.com/arula-run/arula/pkg/models"
)

func TestOllamaStreamDecodesNDJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		payload, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(payload, &body); err != nil {
			t.Errorf("request not JSON: %v", err)
		}
		if body["model"] != "llama3" {
			t.Errorf("model = %v", body["model"])
		}

		lines := []string{
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"list_directory","arguments":{"path":"."}}}]},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
	defer server.Close()

	provider := NewOllamaProvider(OllamaConfig{BaseURL: server.URL})
	events, err := provider.Stream(context.Background(), &agent.Request{Model: "llama3"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text string
	var calls []models.ToolCall
	var end models.StreamEvent
	for ev := range events {
		switch ev.Kind {
		case models.StreamTextDelta:
			text += ev.Text
		case models.StreamToolCallDel:
			calls = append(calls, models.ToolCall{ID: ev.ID, Name: ev.Name, Arguments: ev.ArgsFragment})
		case models.StreamEnd:
			end = ev
		}
	}

	if text != "Hello" {
		t.Fatalf("text = %q", text)
	}
	if len(calls) != 1 || calls[0].Name != "list_directory" || calls[0].Arguments != `{"path":"."}` {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].ID == "" {
		t.Fatal("tool call needs a generated id")
	}
	if end.Err != nil || end.FinishReason != "stop" {
		t.Fatalf("end = %+v", end)
	}
}

func TestOllamaMessageConversionUsesToolName(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "ignored", Name: "read_file", Arguments: `{"path":"x"}`},
		}},
		{Role: models.RoleTool, Content: `{"ok":true}`, ToolCallID: "ignored", ToolName: "read_file"},
	}
	out := toOllamaMessages(messages, "sys")

	if out[0].Role != "system" {
		t.Fatalf("first = %+v", out[0])
	}
	assistant := out[1]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Name != "read_file" {
		t.Fatalf("assistant = %+v", assistant)
	}
	tool := out[2]
	if tool.Role != "tool" || tool.ToolName != "read_file" {
		t.Fatalf("tool message = %+v", tool)
	}
}

func TestOllamaRequiresModel(t *testing.T) {
	provider := NewOllamaProvider(OllamaConfig{BaseURL: "http://localhost:1"})
	if _, err := provider.Stream(context.Background(), &agent.Request{}); err == nil {
		t.Fatal("expected missing-model error")
	}
}

func TestOllamaServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not loaded"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := NewOllamaProvider(OllamaConfig{BaseURL: server.URL})
	_, err := provider.Stream(context.Background(), &agent.Request{Model: "llama3"})
	if err == nil {
		t.Fatal("expected an error")
	}
	provErr, ok := GetError(err)
	if !ok || provErr.Reason != ReasonServerError {
		t.Fatalf("error = %v", err)
	}
}

func TestOllamaThinkingOption(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(payload, &got)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ok"},"done":true}`)
	}))
	defer server.Close()

	provider := NewOllamaProvider(OllamaConfig{BaseURL: server.URL})
	events, err := provider.Stream(context.Background(), &agent.Request{Model: "llama3", Thinking: true})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for range events {
	}

	options, _ := got["options"].(map[string]any)
	if options["think"] != true {
		t.Fatalf("options = %v", got["options"])
	}
}
