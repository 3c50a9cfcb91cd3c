package providers

import (
	"strings"
	"time"
)

// Kind identifies a provider dialect.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindOllama    Kind = "ollama"
	KindZAI       Kind = "zai"
	KindCustom    Kind = "custom"
)

// DefaultRequestTimeout applies to individual HTTP calls, not whole turns.
const DefaultRequestTimeout = 60 * time.Second

// defaultMaxTokens is the fallback response ceiling when neither the
// caller nor the model family dictates one.
const defaultMaxTokens = 2048

// suffixesToTrim are well-known endpoint suffixes users paste into base
// URLs; adapters re-append the path each dialect actually needs.
var suffixesToTrim = []string{
	"/v1/chat/completions",
	"/chat/completions",
	"/api/chat",
	"/v1",
}

// preservedSuffixes denote provider subpaths that are part of the base,
// not an endpoint: /v4 is Z.AI's API root, /api/anthropic its
// Anthropic-dialect gateway.
var preservedSuffixes = []string{
	"/v4",
	"/api/anthropic",
}

// NormalizeBaseURL canonicalizes a user-configured base URL: trailing
// slashes and well-known endpoint suffixes are trimmed, except the
// preserved provider subpaths.
func NormalizeBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	base = strings.TrimRight(base, "/")
	if base == "" {
		return ""
	}

	for _, keep := range preservedSuffixes {
		if strings.HasSuffix(base, keep) {
			return base
		}
	}
	for _, suffix := range suffixesToTrim {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}
	return strings.TrimRight(base, "/")
}

// DetectKind sniffs a base URL for dialect-identifying subpaths, upgrading
// an otherwise custom endpoint to the richer dialect. The URL remains the
// sole source of truth: explicit configuration should pass a concrete Kind
// and skip detection.
func DetectKind(baseURL string) Kind {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasSuffix(base, "/api/anthropic"):
		return KindAnthropic
	case strings.HasSuffix(base, "/v4"):
		return KindZAI
	case strings.Contains(base, "api.anthropic.com"):
		return KindAnthropic
	case strings.Contains(base, "api.openai.com"):
		return KindOpenAI
	case strings.Contains(base, "localhost:11434") || strings.Contains(base, "127.0.0.1:11434"):
		return KindOllama
	default:
		return KindCustom
	}
}
