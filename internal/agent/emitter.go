package agent

import (
	"context"
	"time"

	"github.com/arula-run/arula/pkg/models"
)

// eventEmitter stamps and delivers AgentEvents onto the consumer channel.
// The channel is bounded, so a slow UI applies back-pressure all the way up
// to stream decoding; nothing is dropped. Sends honor the loop context so
// cancellation never deadlocks against a consumer that stopped reading.
type eventEmitter struct {
	ch       chan models.AgentEvent
	sequence uint64

	thinkingOpen bool
}

func newEventEmitter(buffer int) *eventEmitter {
	if buffer <= 0 {
		buffer = 16
	}
	return &eventEmitter{ch: make(chan models.AgentEvent, buffer)}
}

// Events returns the consumer side of the channel.
func (e *eventEmitter) Events() <-chan models.AgentEvent {
	return e.ch
}

// Close closes the channel. After Close the emitter must not be used.
func (e *eventEmitter) Close() {
	close(e.ch)
}

func (e *eventEmitter) send(ctx context.Context, event models.AgentEvent) {
	e.sequence++
	event.Sequence = e.sequence
	event.Time = time.Now()
	select {
	case e.ch <- event:
	case <-ctx.Done():
		// The loop was cancelled. Terminal events (TurnEnd, Error) still
		// matter to a consumer that is draining, so fall back to a
		// non-blocking send into the buffer rather than dropping outright.
		select {
		case e.ch <- event:
		default:
		}
	}
}

func (e *eventEmitter) TurnStart(ctx context.Context) {
	e.send(ctx, models.AgentEvent{Kind: models.EventTurnStart})
}

func (e *eventEmitter) TurnEnd(ctx context.Context) {
	e.CloseThinking(ctx)
	e.send(ctx, models.AgentEvent{Kind: models.EventTurnEnd})
}

func (e *eventEmitter) TextDelta(ctx context.Context, text string) {
	e.send(ctx, models.AgentEvent{Kind: models.EventTextDelta, Text: text})
}

// ThinkingDelta brackets the first reasoning fragment of a turn with
// ThinkingStart; CloseThinking emits the matching ThinkingEnd.
func (e *eventEmitter) ThinkingDelta(ctx context.Context, text string) {
	if !e.thinkingOpen {
		e.thinkingOpen = true
		e.send(ctx, models.AgentEvent{Kind: models.EventThinkingStart})
	}
	e.send(ctx, models.AgentEvent{Kind: models.EventThinkingDelta, Text: text})
}

func (e *eventEmitter) CloseThinking(ctx context.Context) {
	if !e.thinkingOpen {
		return
	}
	e.thinkingOpen = false
	e.send(ctx, models.AgentEvent{Kind: models.EventThinkingEnd})
}

func (e *eventEmitter) ToolCallBegin(ctx context.Context, call models.ToolCall) {
	e.send(ctx, models.AgentEvent{
		Kind:       models.EventToolCallBegin,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ArgsJSON:   call.Arguments,
	})
}

func (e *eventEmitter) ToolResult(ctx context.Context, call models.ToolCall, result models.ToolResult) {
	var data any
	if len(result.Data) > 0 {
		data = result.Data
	}
	e.send(ctx, models.AgentEvent{
		Kind:       models.EventToolResult,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Success:    result.Success,
		Data:       data,
		Message:    result.Error,
	})
}

func (e *eventEmitter) Error(ctx context.Context, err error) {
	if err == nil {
		return
	}
	e.send(ctx, models.AgentEvent{Kind: models.EventError, Message: err.Error()})
}
