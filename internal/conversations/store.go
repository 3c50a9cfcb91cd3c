// Package conversations persists conversation transcripts: one JSON record
// per conversation, appended to by the agent loop after every user input,
// assistant turn, and tool result.
package conversations

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/arula-run/arula/pkg/models"
)

// ErrNotFound is returned when a conversation id does not exist.
var ErrNotFound = errors.New("conversation not found")

// Store is the persistence contract. Save rewrites the full record
// atomically; the agent loop owns the in-memory record and calls Save
// after each Record append.
type Store interface {
	// Save writes the full conversation record, replacing any previous
	// version atomically.
	Save(ctx context.Context, conv *models.Conversation) error

	// Load reads one conversation by id.
	Load(ctx context.Context, id string) (*models.Conversation, error)

	// List returns all readable conversations ordered by Updated
	// descending. Records that fail version or schema checks are skipped,
	// not fatal.
	List(ctx context.Context) ([]*models.Conversation, error)

	// Delete removes a conversation. Deleting an unknown id returns
	// ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// NewID builds a conversation id: conv_<UTC-timestamp>_<6-hex>.
func NewID() string {
	entropy := make([]byte, 3)
	_, _ = rand.Read(entropy)
	return "conv_" + time.Now().UTC().Format("20060102T150405Z") + "_" + hex.EncodeToString(entropy)
}

// New creates an empty conversation record ready for its first message.
func New(title, model, provider string, configSnapshot map[string]any) *models.Conversation {
	now := time.Now().UTC()
	return &models.Conversation{
		Version: models.ConversationFileVersion,
		Metadata: models.ConversationMetadata{
			ID:       NewID(),
			Title:    title,
			Created:  now,
			Updated:  now,
			Model:    model,
			Provider: provider,
		},
		ConfigSnapshot: configSnapshot,
		Messages:       []models.Message{},
	}
}

// Record appends a message to the in-memory record and updates the running
// statistics and Updated stamp. Callers follow with Store.Save to flush.
func Record(conv *models.Conversation, msg models.Message) {
	conv.Messages = append(conv.Messages, msg)
	conv.Metadata.Updated = time.Now().UTC()

	stats := &conv.Statistics
	stats.MessageCount++
	switch msg.Role {
	case models.RoleUser:
		stats.UserMessageCount++
	case models.RoleAssistant:
		stats.AssistantMessageCount++
		stats.ToolCallCount += len(msg.ToolCalls)
	case models.RoleTool:
		stats.ToolResultCount++
	}
}
