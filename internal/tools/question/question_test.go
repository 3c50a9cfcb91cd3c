package question

import (
	"context"
	"encoding/json"
	"testing"
)

func TestAskQuestionReturnsAnswer(t *testing.T) {
	var asked Question
	tool := NewTool(AskerFunc(func(ctx context.Context, q Question) (string, error) {
		asked = q
		return "yes", nil
	}))

	params, _ := json.Marshal(map[string]any{
		"prompt":  "continue?",
		"options": []string{"yes", "no"},
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil || !result.Success {
		t.Fatalf("Execute: %v %+v", err, result)
	}
	if asked.Prompt != "continue?" || len(asked.Options) != 2 {
		t.Fatalf("asked = %+v", asked)
	}
	var payload struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(result.Data, &payload); err != nil || payload.Answer != "yes" {
		t.Fatalf("payload = %+v err=%v", payload, err)
	}
}

func TestAskQuestionWithoutAsker(t *testing.T) {
	tool := NewTool(nil)
	params, _ := json.Marshal(map[string]any{"prompt": "anyone?"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil || result.Success {
		t.Fatalf("expected failed result, got %v %+v", err, result)
	}
}

func TestAskQuestionCancelled(t *testing.T) {
	tool := NewTool(AskerFunc(func(ctx context.Context, q Question) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	params, _ := json.Marshal(map[string]any{"prompt": "stuck?"})
	result, err := tool.Execute(ctx, params)
	if err != nil {
		t.Fatalf("cancellation must fold into the result: %v", err)
	}
	if result.Success || result.Error == "" {
		t.Fatalf("result = %+v", result)
	}
}

func TestAskQuestionRequiresPrompt(t *testing.T) {
	tool := NewTool(AskerFunc(func(ctx context.Context, q Question) (string, error) {
		t.Fatal("asker must not run")
		return "", nil
	}))
	params, _ := json.Marshal(map[string]any{"prompt": "  "})
	result, err := tool.Execute(context.Background(), params)
	if err != nil || result.Success {
		t.Fatalf("blank prompt accepted: %v %+v", err, result)
	}
}
