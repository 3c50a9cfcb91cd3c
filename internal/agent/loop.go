package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/arula-run/arula/internal/conversations"
	"github.com/arula-run/arula/internal/observability"
	"github.com/arula-run/arula/pkg/models"
)

// turnOutcome is what one model turn produced after stream decode and,
// when needed, XML salvage.
type turnOutcome struct {
	content   string
	reasoning string
	toolCalls []models.ToolCall
}

// run executes the agent loop for one user message: request, stream
// decode, tool dispatch, append, repeat, until a turn completes with no
// tool calls or the iteration cap is hit.
func (a *Agent) run(ctx context.Context, emitter *eventEmitter, text string) {
	a.appendMessage(ctx, emitter, models.Message{Role: models.RoleUser, Content: text})

	completed := false
	for turn := 0; turn < a.opts.MaxToolIterations; turn++ {
		turnCtx := observability.WithTurn(ctx, turn)
		if ctx.Err() != nil {
			break
		}

		emitter.TurnStart(turnCtx)
		a.trace("turn_start", "")

		outcome, ok := a.modelTurn(turnCtx, emitter)
		if !ok {
			emitter.TurnEnd(turnCtx)
			return
		}

		if outcome.content == "" && outcome.reasoning == "" && len(outcome.toolCalls) == 0 {
			// The model produced nothing; appending would violate the
			// assistant-message invariant.
			completed = true
			break
		}

		a.appendMessage(turnCtx, emitter, models.Message{
			Role:      models.RoleAssistant,
			Content:   outcome.content,
			Reasoning: outcome.reasoning,
			ToolCalls: outcome.toolCalls,
		})

		if len(outcome.toolCalls) == 0 {
			completed = true
			break
		}

		if !a.dispatchTools(turnCtx, emitter, outcome.toolCalls) {
			emitter.TurnEnd(turnCtx)
			return
		}
	}

	if !completed && ctx.Err() == nil {
		emitter.Error(ctx, ErrMaxIterations)
	}
	a.maybeSetTitle(ctx, emitter)
	emitter.TurnEnd(ctx)
	a.trace("run_end", "")
}

// modelTurn issues one provider request and drains it. ok=false means the
// turn failed or was cancelled and the loop must stop; the stream-protocol
// rule applies on the way: an unexpected EOF counts as stream end and
// whatever was already decoded stands.
func (a *Agent) modelTurn(ctx context.Context, emitter *eventEmitter) (turnOutcome, bool) {
	req := a.buildRequest()

	if !a.opts.Streaming {
		resp, err := a.provider.Complete(ctx, req)
		if err != nil {
			a.opts.Logger.Error(ctx, "completion failed", "error", err)
			emitter.Error(ctx, err)
			return turnOutcome{}, false
		}
		if resp.Reasoning != "" {
			emitter.ThinkingDelta(ctx, resp.Reasoning)
			emitter.CloseThinking(ctx)
		}
		if resp.Content != "" {
			emitter.TextDelta(ctx, resp.Content)
		}
		outcome := turnOutcome{
			content:   resp.Content,
			reasoning: resp.Reasoning,
			toolCalls: resp.ToolCalls,
		}
		a.salvageIfNeeded(&outcome)
		return outcome, true
	}

	events, err := a.provider.Stream(ctx, req)
	if err != nil {
		a.opts.Logger.Error(ctx, "stream request failed", "error", err)
		emitter.Error(ctx, err)
		return turnOutcome{}, false
	}

	var content, reasoning strings.Builder
	acc := NewToolCallAccumulator()
	failed := false

	for ev := range events {
		switch ev.Kind {
		case models.StreamTextDelta:
			emitter.CloseThinking(ctx)
			content.WriteString(ev.Text)
			emitter.TextDelta(ctx, ev.Text)
		case models.StreamReasoning:
			reasoning.WriteString(ev.Text)
			emitter.ThinkingDelta(ctx, ev.Text)
		case models.StreamToolCallDel:
			acc.Add(ev)
		case models.StreamEnd:
			if ev.Err != nil {
				a.opts.Logger.Error(ctx, "stream failed", "error", ev.Err)
				emitter.Error(ctx, ev.Err)
				failed = true
			}
		}
	}
	emitter.CloseThinking(ctx)

	if ctx.Err() != nil {
		return turnOutcome{}, false
	}
	if failed {
		return turnOutcome{}, false
	}

	outcome := turnOutcome{
		content:   content.String(),
		reasoning: reasoning.String(),
		toolCalls: acc.Finalize(),
	}
	a.salvageIfNeeded(&outcome)
	return outcome, true
}

// salvageIfNeeded recovers a tool call from reasoning text when the stream
// ended with reasoning but no structured calls.
func (a *Agent) salvageIfNeeded(outcome *turnOutcome) {
	if len(outcome.toolCalls) > 0 || outcome.reasoning == "" {
		return
	}
	if !strings.Contains(outcome.reasoning, "<tool_call") {
		return
	}
	if call, ok := SalvageToolCall(outcome.reasoning); ok {
		outcome.toolCalls = []models.ToolCall{call}
		a.trace("xml_salvage", call.Name)
	}
}

// dispatchTools runs the turn's calls and appends one tool message per
// call, in the assistant's declared order even when execution is
// concurrent. Returns false when cancelled mid-dispatch.
func (a *Agent) dispatchTools(ctx context.Context, emitter *eventEmitter, calls []models.ToolCall) bool {
	for _, call := range calls {
		emitter.ToolCallBegin(ctx, call)
		a.trace("tool_call", call.Name)
	}

	var results []models.ToolResult
	if a.opts.AutoExecuteTools {
		results = a.executor.ExecuteAll(ctx, calls)
	} else {
		results = make([]models.ToolResult, len(calls))
		for i := range results {
			results[i] = models.ToolResult{Error: "auto tool execution is disabled"}
		}
	}

	if ctx.Err() != nil {
		// Dropped mid-dispatch: no tool messages are appended, so the
		// transcript ends at the assistant message and repair fills the
		// gap on the next run.
		return false
	}

	persisted := guardToolResults(a.opts.ToolResultGuard, calls, results)
	for i, call := range calls {
		a.appendMessage(ctx, emitter, models.Message{
			Role:       models.RoleTool,
			Content:    renderToolResult(persisted[i]),
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
		emitter.ToolResult(ctx, call, results[i])
	}
	return true
}

// renderToolResult pretty-prints the result payload the model will read.
func renderToolResult(result models.ToolResult) string {
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return `{"success":false,"error":"unencodable tool result"}`
	}
	return string(payload)
}

// buildRequest assembles the provider request from the system prompt and
// the repaired transcript.
func (a *Agent) buildRequest() *Request {
	a.mu.Lock()
	messages := repairTranscript(a.conv.Messages)
	a.mu.Unlock()

	return &Request{
		Model:       a.opts.Model,
		System:      a.opts.SystemPrompt,
		Messages:    messages,
		Tools:       a.registry.ToolDefs(),
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
		Thinking:    a.opts.Thinking,
	}
}

// appendMessage records the message in memory and flushes the conversation
// to the store. Append is all-or-nothing per message; a persistence
// failure is logged and surfaced as an Error event but the in-memory
// conversation continues, and the next successful write self-heals.
func (a *Agent) appendMessage(ctx context.Context, emitter *eventEmitter, msg models.Message) {
	a.mu.Lock()
	conversations.Record(a.conv, msg)
	snapshot := a.conv.Clone()
	a.mu.Unlock()

	if err := a.store.Save(ctx, snapshot); err != nil {
		a.opts.Logger.Error(ctx, "conversation persist failed", "error", err)
		emitter.Error(ctx, &LoopError{Phase: PhasePersist, Cause: err})
	}
}

// maybeSetTitle derives the title from the first user message after the
// first completed run of a conversation still carrying the default title.
func (a *Agent) maybeSetTitle(ctx context.Context, emitter *eventEmitter) {
	a.mu.Lock()
	if a.conv.Metadata.Title != DefaultConversationTitle {
		a.mu.Unlock()
		return
	}
	var first string
	for _, msg := range a.conv.Messages {
		if msg.Role == models.RoleUser {
			first = msg.Content
			break
		}
	}
	a.conv.Metadata.Title = DeriveTitle(first)
	snapshot := a.conv.Clone()
	a.mu.Unlock()

	if err := a.store.Save(ctx, snapshot); err != nil {
		a.opts.Logger.Error(ctx, "conversation persist failed", "error", err)
		emitter.Error(ctx, &LoopError{Phase: PhasePersist, Cause: err})
	}
}

func (a *Agent) trace(kind, detail string) {
	a.opts.Trace.Record(a.conv.Metadata.ID, kind, detail)
}
