package agent

import (
	"time"

	"github.com/arula-run/arula/internal/observability"
)

// Options configures a new Agent: system prompt, model selection, sampling
// parameters, and loop behavior.
type Options struct {
	// SystemPrompt is prepended to every request as the system message.
	SystemPrompt string

	// Model selects the provider's model identifier.
	Model string

	// Temperature is the sampling temperature passed through to the provider.
	Temperature float64

	// MaxTokens bounds the response length; per-model ceilings in the
	// provider adapter may lower this further.
	MaxTokens int

	// AutoExecuteTools dispatches tool calls without external confirmation.
	// When false, every tool call resolves to a failed result telling the
	// model execution is disabled.
	AutoExecuteTools bool

	// MaxToolIterations caps agent-loop turns per user message (default 50).
	MaxToolIterations int

	// Streaming requests the provider's streaming entrypoint. When false
	// the loop issues non-streaming requests and synthesizes deltas from
	// the final response.
	Streaming bool

	// Thinking enables reasoning mode where the dialect supports it.
	Thinking bool

	// ToolParallelism caps concurrent tool execution within one turn. It
	// also sizes the event channel buffer.
	ToolParallelism int

	// ToolTimeout applies a timeout to each tool call.
	ToolTimeout time.Duration

	// ToolMaxAttempts controls retry attempts for tool execution.
	ToolMaxAttempts int

	// ToolRetryBackoff is the linear backoff step between tool retries.
	ToolRetryBackoff time.Duration

	// ToolResultGuard redacts tool results before persistence and before
	// they are echoed back to the model.
	ToolResultGuard ToolResultGuard

	// ConfigSnapshot is recorded verbatim into new conversation files.
	ConfigSnapshot map[string]any

	// Logger receives runtime diagnostics. Nil falls back to a no-op logger.
	Logger *observability.Logger

	// Trace records debug events when ARULA_DEBUG=1. Nil disables tracing.
	Trace *observability.Trace
}

// DefaultOptions returns the baseline agent options.
func DefaultOptions() Options {
	return Options{
		AutoExecuteTools:  true,
		MaxToolIterations: 50,
		Streaming:         true,
		ToolParallelism:   4,
		ToolTimeout:       30 * time.Second,
		ToolMaxAttempts:   3,
		ToolRetryBackoff:  100 * time.Millisecond,
	}
}

// withDefaults fills unset fields from DefaultOptions. Boolean fields are
// taken as given: the zero Options disables auto-execution, streaming, and
// thinking, which is the conservative reading of an explicitly constructed
// empty configuration.
func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.MaxToolIterations <= 0 {
		o.MaxToolIterations = defaults.MaxToolIterations
	}
	if o.ToolParallelism <= 0 {
		o.ToolParallelism = defaults.ToolParallelism
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = defaults.ToolTimeout
	}
	if o.ToolMaxAttempts <= 0 {
		o.ToolMaxAttempts = defaults.ToolMaxAttempts
	}
	if o.ToolRetryBackoff <= 0 {
		o.ToolRetryBackoff = defaults.ToolRetryBackoff
	}
	if o.Logger == nil {
		o.Logger = observability.Nop()
	}
	return o
}
