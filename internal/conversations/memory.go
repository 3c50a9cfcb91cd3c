package conversations

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/arula-run/arula/pkg/models"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs. Records
// are deep-copied on the way in and out so callers can keep mutating their
// own copy without racing readers.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*models.Conversation
}

// NewMemoryStore creates an empty in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: map[string]*models.Conversation{}}
}

func (m *MemoryStore) Save(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is nil")
	}
	if conv.Metadata.ID == "" {
		return errors.New("conversation id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[conv.Metadata.ID] = conv.Clone()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Conversation, 0, len(m.convs))
	for _, conv := range m.convs {
		out = append(out, conv.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.Updated.After(out[j].Metadata.Updated)
	})
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return ErrNotFound
	}
	delete(m.convs, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
