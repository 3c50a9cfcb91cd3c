// Package agent drives multi-turn conversations with chat-completion
// providers: it streams model output, reassembles and dispatches tool
// calls, feeds results back into the next turn, and publishes a live event
// stream for UI consumption.
package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/arula-run/arula/internal/conversations"
	"github.com/arula-run/arula/internal/observability"
	"github.com/arula-run/arula/pkg/models"
)

// Agent owns one conversation and runs the agent loop over it. The loop is
// the only writer of the conversation; everything else reads snapshots or
// consumes events.
type Agent struct {
	provider Provider
	registry *ToolRegistry
	executor *ToolExecutor
	store    conversations.Store
	opts     Options

	mu      sync.Mutex
	conv    *models.Conversation
	cancel  context.CancelFunc
	running bool
}

// New creates an agent with a fresh conversation. A nil registry means no
// tools are offered; a nil store keeps the conversation in memory only.
func New(provider Provider, registry *ToolRegistry, store conversations.Store, opts Options) (*Agent, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	opts = opts.withDefaults()
	if registry == nil {
		registry = NewToolRegistry()
	}
	if store == nil {
		store = conversations.NewMemoryStore()
	}

	executor := NewToolExecutor(registry, ToolExecConfig{
		Concurrency:      opts.ToolParallelism,
		PerToolTimeout:   opts.ToolTimeout,
		MaxAttempts:      opts.ToolMaxAttempts,
		RetryBackoffStep: opts.ToolRetryBackoff,
	})

	return &Agent{
		provider: provider,
		registry: registry,
		executor: executor,
		store:    store,
		opts:     opts,
		conv:     conversations.New(DefaultConversationTitle, opts.Model, provider.Name(), opts.ConfigSnapshot),
	}, nil
}

// Resume creates an agent over an existing conversation record instead of
// a fresh one. The loaded transcript is used as-is; repair happens when
// requests are assembled.
func Resume(provider Provider, registry *ToolRegistry, store conversations.Store, conv *models.Conversation, opts Options) (*Agent, error) {
	a, err := New(provider, registry, store, opts)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		a.conv = conv.Clone()
	}
	return a, nil
}

// SendUserMessage appends a user message and starts the loop. The returned
// channel delivers the run's events and closes when the loop finishes. One
// run at a time: a second call while a run is in flight fails.
func (a *Agent) SendUserMessage(ctx context.Context, text string) (<-chan models.AgentEvent, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil, errors.New("a run is already in flight")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.running = true
	a.cancel = cancel
	a.mu.Unlock()

	buffer := a.opts.ToolParallelism
	if buffer < 16 {
		buffer = 16
	}
	emitter := newEventEmitter(buffer)

	go func() {
		defer func() {
			emitter.Close()
			cancel()
			a.mu.Lock()
			a.running = false
			a.cancel = nil
			a.mu.Unlock()
		}()
		runCtx = observability.WithConversationID(runCtx, a.conv.Metadata.ID)
		a.run(runCtx, emitter, text)
	}()

	return emitter.Events(), nil
}

// Cancel aborts the in-flight run, if any: the HTTP stream is torn down,
// in-flight tools see their context cancelled, a TurnEnd is emitted, and
// the conversation keeps only fully appended messages.
func (a *Agent) Cancel() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Conversation returns a read-only snapshot of the conversation.
func (a *Agent) Conversation() *models.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conv.Clone()
}

// Registry returns the agent's tool registry, for registration before the
// first run.
func (a *Agent) Registry() *ToolRegistry {
	return a.registry
}
