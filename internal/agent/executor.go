package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arula-run/arula/internal/observability"
	"github.com/arula-run/arula/internal/retry"
	"github.com/arula-run/arula/pkg/models"
)

var (
	toolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arula",
		Subsystem: "tools",
		Name:      "executions_total",
		Help:      "Tool executions by tool name and outcome.",
	}, []string{"tool", "outcome"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arula",
		Subsystem: "tools",
		Name:      "execution_seconds",
		Help:      "Tool execution latency by tool name.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 3, 10),
	}, []string{"tool"})
)

// ToolExecConfig configures tool execution behavior including concurrency,
// timeouts, and retry settings.
type ToolExecConfig struct {
	// Concurrency is the maximum number of concurrent tool executions.
	// Default: 4.
	Concurrency int

	// PerToolTimeout is the timeout for individual tool executions.
	// Default: 30 seconds.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call (default 1).
	MaxAttempts int

	// RetryBackoffStep waits step*attempt between retries.
	RetryBackoffStep time.Duration
}

// DefaultToolExecConfig returns tool execution defaults: 4 concurrent
// tools, 30 second timeout, 3 attempts with 100ms linear backoff.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:      4,
		PerToolTimeout:   30 * time.Second,
		MaxAttempts:      3,
		RetryBackoffStep: 100 * time.Millisecond,
	}
}

// ToolExecutor runs tool calls against a registry with bounded concurrency,
// per-call timeouts, retry, and panic recovery. Result order always matches
// call order regardless of completion order, so the transcript the next
// model turn sees is deterministic.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
}

// NewToolExecutor creates a tool executor with the given registry and
// configuration. Zero config fields get defaults.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	defaults := DefaultToolExecConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = defaults.PerToolTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &ToolExecutor{registry: registry, config: config}
}

// ExecuteAll runs the calls with bounded concurrency and returns one result
// per call, in call order. Individual failures are folded into the results;
// the only way to get fewer results than calls is a programming error.
func (e *ToolExecutor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = models.ToolResult{Error: "tool execution canceled"}
				return
			}
			results[idx] = e.ExecuteOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// ExecuteOne runs a single call with timeout and retry. Every failure mode
// becomes a failed ToolResult; only retryable failures consume extra
// attempts.
func (e *ToolExecutor) ExecuteOne(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()
	var result models.ToolResult

	outcome := retry.Do(ctx, retry.Config{
		MaxAttempts: e.config.MaxAttempts,
		Backoff:     retry.Incremental(e.config.RetryBackoffStep),
	}, func() error {
		result = e.executeWithTimeout(ctx, call)
		if result.Success {
			return nil
		}
		err := NewToolError(call.Name, errors.New(result.Error)).WithToolCallID(call.ID)
		if !err.Type.IsRetryable() {
			return retry.Permanent(err)
		}
		return err
	})

	label := "success"
	if !result.Success {
		label = "failure"
		var toolErr *ToolError
		if errors.As(outcome.Err, &toolErr) && toolErr.Type == ToolErrorTimeout {
			label = "timeout"
		}
	}
	toolExecutions.WithLabelValues(call.Name, label).Inc()
	toolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())

	return result
}

// executeWithTimeout runs the tool under its per-call deadline on a worker
// goroutine so a blocking tool cannot stall event emission. A result
// arriving after the deadline is discarded; the goroutine's buffered send
// means it never leaks.
func (e *ToolExecutor) executeWithTimeout(ctx context.Context, call models.ToolCall) models.ToolResult {
	toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()
	toolCtx = observability.WithToolCallID(toolCtx, call.ID)

	type outcome struct {
		result *models.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrToolPanic, r)}
			}
		}()
		result, err := e.registry.Execute(toolCtx, call.Name, json.RawMessage(call.Arguments))
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-toolCtx.Done():
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			return models.ToolResult{
				Error: fmt.Sprintf("tool execution timed out after %v", e.config.PerToolTimeout),
			}
		}
		return models.ToolResult{Error: "tool execution canceled"}
	case out := <-done:
		if out.err != nil {
			return models.ToolResult{Error: out.err.Error()}
		}
		if out.result == nil {
			return models.ToolResult{Error: "tool returned no result"}
		}
		return *out.result
	}
}
