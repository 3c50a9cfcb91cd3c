package agent

import (
	"strings"

	"github.com/arula-run/arula/pkg/models"
	"github.com/google/uuid"
)

// ToolCallAccumulator reassembles fragmented tool-call deltas into complete
// calls. Dialects split one call across many stream chunks: an id in one,
// the name in another, the arguments sliced into arbitrary fragments. Each
// fragment carries an index identifying the slot it belongs to; the first
// non-empty id/name wins and argument fragments append in arrival order.
type ToolCallAccumulator struct {
	slots map[int]*toolCallSlot
	order []int
}

type toolCallSlot struct {
	id   string
	name string
	args strings.Builder
}

// NewToolCallAccumulator creates an empty accumulator for one stream.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{slots: make(map[int]*toolCallSlot)}
}

// Add folds one tool-call delta into its slot. Events of other kinds are
// ignored so callers can feed the whole stream through.
func (a *ToolCallAccumulator) Add(ev models.StreamEvent) {
	if ev.Kind != models.StreamToolCallDel {
		return
	}
	slot, ok := a.slots[ev.Index]
	if !ok {
		slot = &toolCallSlot{}
		a.slots[ev.Index] = slot
		a.order = append(a.order, ev.Index)
	}
	if slot.id == "" && ev.ID != "" {
		slot.id = ev.ID
	}
	if slot.name == "" && ev.Name != "" {
		slot.name = ev.Name
	}
	if ev.ArgsFragment != "" {
		slot.args.WriteString(ev.ArgsFragment)
	}
}

// Finalize returns the completed calls in first-seen order. Slots without a
// name never became a call and are dropped. An empty argument buffer
// becomes "{}"; a buffer that is not valid JSON passes through unparsed —
// the tool invoker revalidates and reports failures back to the model.
// Calls missing an id get a generated one so results can still bind.
func (a *ToolCallAccumulator) Finalize() []models.ToolCall {
	var calls []models.ToolCall
	for _, idx := range a.order {
		slot := a.slots[idx]
		if slot.name == "" {
			continue
		}
		args := slot.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		id := slot.id
		if id == "" {
			id = "call_" + uuid.NewString()[:8]
		}
		calls = append(calls, models.ToolCall{ID: id, Name: slot.name, Arguments: args})
	}
	return calls
}

// Len reports how many slots have been seen so far.
func (a *ToolCallAccumulator) Len() int {
	return len(a.order)
}
