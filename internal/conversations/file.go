package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/arula-run/arula/pkg/models"
)

// FileStore persists one JSON file per conversation under a directory
// (by default <home>/.arula/conversations/<id>.json). Writes go through a
// temp file and rename so a crash mid-write never leaves a torn record.
type FileStore struct {
	dir string

	// The agent loop is the single writer per conversation, but several
	// agents may share one store; the mutex serializes directory-level
	// operations.
	mu sync.Mutex
}

// DefaultDir returns <home>/.arula/conversations.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".arula", "conversations"), nil
}

// NewFileStore creates the directory if needed and returns a store over it.
// An empty dir uses DefaultDir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversations directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory backing this store.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, "/\\") {
		return "", fmt.Errorf("invalid conversation id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Save writes the full record atomically: marshal, write to a temp file in
// the same directory, then rename over the target.
func (s *FileStore) Save(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is nil")
	}
	path, err := s.path(conv.Metadata.ID)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, conv.Metadata.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write conversation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace conversation file: %w", err)
	}
	return nil
}

// Load reads one conversation by id.
func (s *FileStore) Load(ctx context.Context, id string) (*models.Conversation, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	conv, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	return conv, nil
}

// List enumerates the directory, parses each record, skips files that fail
// version or schema checks, and orders by Updated descending.
func (s *FileStore) List(ctx context.Context) ([]*models.Conversation, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read conversations directory: %w", err)
	}

	var out []*models.Conversation
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		payload, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		conv, err := decode(payload)
		if err != nil {
			continue
		}
		out = append(out, conv)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.Updated.After(out[j].Metadata.Updated)
	})
	return out, nil
}

// Delete removes the file; no tombstone is kept.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func decode(payload []byte) (*models.Conversation, error) {
	var conv models.Conversation
	if err := json.Unmarshal(payload, &conv); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if conv.Version != models.ConversationFileVersion {
		return nil, fmt.Errorf("unsupported version %q", conv.Version)
	}
	if conv.Metadata.ID == "" {
		return nil, errors.New("missing conversation id")
	}
	return &conv, nil
}

var _ Store = (*FileStore)(nil)
