// Package inbox stores the user-level notification preference document.
// Unlike per-device push preferences, this document is synced across all of
// a user's devices by the dashboard.
package inbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/realpolitik/push-relay/pkg/rules"
)

// Store persists one preference document per user. A user with no document
// gets the receive-everything default.
type Store interface {
	Get(ctx context.Context, userID string) (*rules.Preferences, error)
	Put(ctx context.Context, userID string, prefs *rules.Preferences) error
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]rules.Preferences
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]rules.Preferences)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*rules.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc, ok := s.docs[userID]; ok {
		clone := doc
		return &clone, nil
	}
	def := rules.DefaultPreferences()
	return &def, nil
}

func (s *MemoryStore) Put(_ context.Context, userID string, prefs *rules.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[userID] = *prefs
	return nil
}

// FileStore keeps one JSON document per user under dir. User ids are hashed
// so the filename carries no identity and no unsafe characters.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates the backing directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])[:16]+".json")
}

func (s *FileStore) Get(_ context.Context, userID string) (*rules.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(userID))
	if os.IsNotExist(err) {
		def := rules.DefaultPreferences()
		return &def, nil
	}
	if err != nil {
		return nil, err
	}
	var prefs rules.Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("failed to decode preference document: %w", err)
	}
	return &prefs, nil
}

func (s *FileStore) Put(_ context.Context, userID string, prefs *rules.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode preference document: %w", err)
	}
	path := s.path(userID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
