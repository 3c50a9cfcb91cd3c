package providers

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://api.example.com/", "https://api.example.com"},
		{"https://api.example.com/v1", "https://api.example.com"},
		{"https://api.example.com/v1/chat/completions", "https://api.example.com"},
		{"https://api.example.com/chat/completions", "https://api.example.com"},
		{"http://localhost:11434/api/chat", "http://localhost:11434"},
		{"https://api.z.ai/api/paas/v4", "https://api.z.ai/api/paas/v4"},
		{"https://api.z.ai/api/paas/v4/", "https://api.z.ai/api/paas/v4"},
		{"https://open.bigmodel.cn/api/anthropic", "https://open.bigmodel.cn/api/anthropic"},
		{"  https://api.example.com  ", "https://api.example.com"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeBaseURL(tc.in); got != tc.want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDetectKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{"https://open.bigmodel.cn/api/anthropic", KindAnthropic},
		{"https://api.z.ai/api/paas/v4", KindZAI},
		{"https://api.anthropic.com", KindAnthropic},
		{"https://api.openai.com/v1", KindOpenAI},
		{"http://localhost:11434", KindOllama},
		{"https://my-proxy.internal", KindCustom},
	}
	for _, tc := range cases {
		if got := DetectKind(tc.in); got != tc.want {
			t.Errorf("DetectKind(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGLMMaxTokens(t *testing.T) {
	cases := []struct {
		model     string
		requested int
		want      int
	}{
		{"glm-4.6", 0, 65536},
		{"GLM-4.5-air", 0, 65536},
		{"glm-4-plus", 0, 16384},
		{"glm-4.6", 1000, 1000},
		{"glm-4-plus", 99999, 16384},
		{"other-model", 0, 2048},
	}
	for _, tc := range cases {
		if got := glmMaxTokens(tc.model, tc.requested); got != tc.want {
			t.Errorf("glmMaxTokens(%q, %d) = %d, want %d", tc.model, tc.requested, got, tc.want)
		}
	}
}

func TestSupportsThinking(t *testing.T) {
	if !supportsThinking("glm-4.6") || !supportsThinking("GLM-4.5-Air") {
		t.Fatal("modern GLM models must support thinking")
	}
	if supportsThinking("glm-4-plus") {
		t.Fatal("older GLM models must not")
	}
}

func TestScanSSE(t *testing.T) {
	input := strings.NewReader(
		"event: message_start\ndata: {\"a\":1}\n\n" +
			": comment line\n" +
			"data: first\ndata: second\n\n" +
			"data: [DONE]\n\n")

	type frame struct{ event, data string }
	var frames []frame
	err := scanSSE(input, func(event, data string) error {
		frames = append(frames, frame{event, data})
		return nil
	})
	if err != nil {
		t.Fatalf("scanSSE: %v", err)
	}
	want := []frame{
		{"message_start", `{"a":1}`},
		{"", "first\nsecond"},
		{"", "[DONE]"},
	}
	if len(frames) != len(want) {
		t.Fatalf("frames = %+v", frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Fatalf("frame %d = %+v, want %+v", i, frames[i], want[i])
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Reason
	}{
		{401, ReasonAuth},
		{403, ReasonAuth},
		{429, ReasonRateLimit},
		{408, ReasonTimeout},
		{500, ReasonServerError},
		{503, ReasonServerError},
		{400, ReasonInvalidRequest},
		{200, ReasonUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyStatus(tc.status); got != tc.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestErrorRendering(t *testing.T) {
	err := NewError("zai", "glm-4.6", nil).
		WithStatus(429).
		WithMessage("slow down").
		WithRetryAfter(3 * time.Second)
	if err.Reason != ReasonRateLimit {
		t.Fatalf("reason = %q", err.Reason)
	}
	text := err.Error()
	for _, fragment := range []string{"rate_limited", "zai", "glm-4.6", "429", "slow down", "3s"} {
		if !strings.Contains(text, fragment) {
			t.Fatalf("error text %q missing %q", text, fragment)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if ParseRetryAfter("7") != 7*time.Second {
		t.Fatal("seconds form not parsed")
	}
	if ParseRetryAfter("") != 0 || ParseRetryAfter("soon") != 0 {
		t.Fatal("unparseable values must yield zero")
	}
}
