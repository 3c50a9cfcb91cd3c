package agent

import (
	"strings"
	"testing"

	"github.com/arula-run/arula/pkg/models"
)

func delta(index int, id, name, args string) models.StreamEvent {
	return models.StreamEvent{
		Kind:         models.StreamToolCallDel,
		Index:        index,
		ID:           id,
		Name:         name,
		ArgsFragment: args,
	}
}

func TestAccumulatorReassemblesFragments(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Add(delta(0, "c1", "read_file", ""))
	acc.Add(delta(0, "", "", `{"pa`))
	acc.Add(delta(0, "", "", `th":"x"}`))

	calls := acc.Finalize()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].ID != "c1" || calls[0].Name != "read_file" || calls[0].Arguments != `{"path":"x"}` {
		t.Fatalf("call = %+v", calls[0])
	}
}

func TestAccumulatorFragmentConcatenationIsExact(t *testing.T) {
	// Concatenating the fragments fed in must equal the final arguments,
	// byte for byte, including a fragment boundary inside a multibyte
	// rune.
	full := `{"q":"héllo wörld"}`
	cut := strings.Index(full, "é") + 1 // split inside the two-byte é

	acc := NewToolCallAccumulator()
	acc.Add(delta(2, "c9", "search_files", ""))
	acc.Add(delta(2, "", "", full[:cut]))
	acc.Add(delta(2, "", "", full[cut:]))

	calls := acc.Finalize()
	if calls[0].Arguments != full {
		t.Fatalf("arguments = %q, want %q", calls[0].Arguments, full)
	}
}

func TestAccumulatorFirstValueWins(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Add(delta(0, "first", "tool_a", ""))
	acc.Add(delta(0, "second", "tool_b", ""))

	calls := acc.Finalize()
	if calls[0].ID != "first" || calls[0].Name != "tool_a" {
		t.Fatalf("call = %+v", calls[0])
	}
}

func TestAccumulatorDropsNamelessSlots(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Add(delta(0, "c1", "", `{"x":1}`))
	if calls := acc.Finalize(); len(calls) != 0 {
		t.Fatalf("nameless slot finalized: %+v", calls)
	}
}

func TestAccumulatorEmptyArgsBecomeObject(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Add(delta(0, "c1", "ping", ""))
	calls := acc.Finalize()
	if calls[0].Arguments != "{}" {
		t.Fatalf("arguments = %q, want {}", calls[0].Arguments)
	}
}

func TestAccumulatorInvalidJSONPassesThrough(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Add(delta(0, "c1", "ping", "{\"broken"))
	calls := acc.Finalize()
	if calls[0].Arguments != "{\"broken" {
		t.Fatalf("arguments = %q", calls[0].Arguments)
	}
}

func TestAccumulatorPreservesFirstSeenOrder(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Add(delta(1, "b", "tool_b", "{}"))
	acc.Add(delta(0, "a", "tool_a", "{}"))
	acc.Add(delta(1, "", "", ""))

	calls := acc.Finalize()
	if len(calls) != 2 || calls[0].ID != "b" || calls[1].ID != "a" {
		t.Fatalf("order = %+v", calls)
	}
}

func TestAccumulatorGeneratesMissingIDs(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Add(delta(0, "", "ping", "{}"))
	calls := acc.Finalize()
	if calls[0].ID == "" {
		t.Fatal("expected a generated id")
	}
}

func TestAccumulatorIgnoresOtherEventKinds(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.Add(models.StreamEvent{Kind: models.StreamTextDelta, Text: "hi"})
	if acc.Len() != 0 {
		t.Fatal("text delta created a slot")
	}
}
