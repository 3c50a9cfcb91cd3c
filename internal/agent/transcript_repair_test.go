package agent

import (
	"testing"

	"github.com/arula-run/arula/pkg/models"
)

func TestRepairDropsOrphanToolMessages(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleTool, Content: "{}", ToolCallID: "ghost"},
		{Role: models.RoleAssistant, Content: "hello"},
	}
	repaired := repairTranscript(history)
	if len(repaired) != 2 {
		t.Fatalf("repaired = %+v", repaired)
	}
	for _, msg := range repaired {
		if msg.Role == models.RoleTool {
			t.Fatalf("orphan tool message survived: %+v", msg)
		}
	}
}

func TestRepairSynthesizesMissingResults(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "go"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "a", Arguments: "{}"},
			{ID: "c2", Name: "b", Arguments: "{}"},
		}},
		{Role: models.RoleTool, Content: "{}", ToolCallID: "c1"},
		{Role: models.RoleAssistant, Content: "done"},
	}
	repaired := repairTranscript(history)

	// c2 gets a synthesized failure before the next assistant message.
	if len(repaired) != 5 {
		t.Fatalf("repaired has %d messages: %+v", len(repaired), repaired)
	}
	synth := repaired[3]
	if synth.Role != models.RoleTool || synth.ToolCallID != "c2" {
		t.Fatalf("message 3 = %+v", synth)
	}
	if repaired[4].Role != models.RoleAssistant {
		t.Fatalf("message 4 = %+v", repaired[4])
	}
}

func TestRepairNameBoundResults(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "list", Arguments: "{}"},
		}},
		{Role: models.RoleTool, Content: "{}", ToolName: "list"},
	}
	repaired := repairTranscript(history)
	if len(repaired) != 2 {
		t.Fatalf("repaired = %+v", repaired)
	}

	// A second name-bound result with no open call is dropped.
	history = append(history, models.Message{Role: models.RoleTool, Content: "{}", ToolName: "list"})
	repaired = repairTranscript(history)
	if len(repaired) != 2 {
		t.Fatalf("duplicate name-bound result survived: %+v", repaired)
	}
}

func TestRepairLeavesCleanTranscriptAlone(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "a", Arguments: "{}"}}},
		{Role: models.RoleTool, Content: "{}", ToolCallID: "c1"},
		{Role: models.RoleAssistant, Content: "done"},
	}
	repaired := repairTranscript(history)
	if len(repaired) != len(history) {
		t.Fatalf("clean transcript changed: %+v", repaired)
	}
}
