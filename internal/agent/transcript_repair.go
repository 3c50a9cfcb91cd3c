package agent

import "github.com/arula-run/arula/pkg/models"

// repairTranscript normalizes a loaded history so every tool message
// answers a call the preceding assistant message actually declared, and
// every declared call is answered before the next assistant message. A
// crash between appends can leave either side dangling; providers reject
// such transcripts, so orphan tool messages are dropped and unanswered
// calls get synthesized failure results.
func repairTranscript(history []models.Message) []models.Message {
	if len(history) == 0 {
		return history
	}

	repaired := make([]models.Message, 0, len(history))
	pendingIDs := make(map[string]struct{})
	pendingNames := make(map[string]int)
	var pendingOrder []models.ToolCall

	flushPending := func() {
		for _, call := range pendingOrder {
			if _, open := pendingIDs[call.ID]; !open {
				continue
			}
			repaired = append(repaired, models.Message{
				Role:       models.RoleTool,
				Content:    `{"success":false,"error":"tool result missing from transcript"}`,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
			delete(pendingIDs, call.ID)
		}
		pendingIDs = make(map[string]struct{})
		pendingNames = make(map[string]int)
		pendingOrder = nil
	}

	for _, msg := range history {
		switch msg.Role {
		case models.RoleAssistant:
			flushPending()
			for _, call := range msg.ToolCalls {
				pendingIDs[call.ID] = struct{}{}
				pendingNames[call.Name]++
				pendingOrder = append(pendingOrder, call)
			}
			repaired = append(repaired, msg)

		case models.RoleTool:
			if msg.ToolCallID != "" {
				if _, open := pendingIDs[msg.ToolCallID]; !open {
					continue
				}
				delete(pendingIDs, msg.ToolCallID)
				repaired = append(repaired, msg)
				continue
			}
			// Name-bound results (Ollama) consume one open call with that
			// name, in declaration order.
			if msg.ToolName == "" || pendingNames[msg.ToolName] == 0 {
				continue
			}
			pendingNames[msg.ToolName]--
			for _, call := range pendingOrder {
				if call.Name != msg.ToolName {
					continue
				}
				if _, open := pendingIDs[call.ID]; open {
					delete(pendingIDs, call.ID)
					break
				}
			}
			repaired = append(repaired, msg)

		default:
			flushPending()
			repaired = append(repaired, msg)
		}
	}
	flushPending()

	return repaired
}
