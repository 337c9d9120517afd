package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileRegistry stores subscriptions as one JSONL file, rewritten atomically
// on every mutation. Suitable for single-instance deployments.
type FileRegistry struct {
	path string
	mu   sync.RWMutex
}

// NewFileRegistry creates a JSONL-backed registry rooted at dir.
func NewFileRegistry(dir string) (*FileRegistry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	return &FileRegistry{
		path: filepath.Join(dir, "subscriptions.jsonl"),
	}, nil
}

func (r *FileRegistry) Upsert(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, err := r.readAll()
	if err != nil {
		return err
	}

	stored := *sub
	replaced := false
	for i, existing := range subs {
		if existing.Endpoint == sub.Endpoint {
			stored.ID = existing.ID
			stored.CreatedAt = existing.CreatedAt
			subs[i] = &stored
			replaced = true
			break
		}
	}
	if !replaced {
		if stored.ID == "" {
			stored.ID = newSubscriptionID()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now()
		}
		subs = append(subs, &stored)
	}
	sub.ID = stored.ID
	sub.CreatedAt = stored.CreatedAt

	return r.writeAll(subs)
}

func (r *FileRegistry) Get(_ context.Context, endpoint string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, err := r.readAll()
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.Endpoint == endpoint {
			return sub, nil
		}
	}
	return nil, ErrNotFound
}

func (r *FileRegistry) List(_ context.Context) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readAll()
}

func (r *FileRegistry) ListByUser(_ context.Context, userID string) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, err := r.readAll()
	if err != nil {
		return nil, err
	}
	var out []*Subscription
	for _, sub := range subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *FileRegistry) Delete(_ context.Context, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, err := r.readAll()
	if err != nil {
		return err
	}
	kept := subs[:0]
	found := false
	for _, sub := range subs {
		if sub.Endpoint == endpoint {
			found = true
			continue
		}
		kept = append(kept, sub)
	}
	if !found {
		return ErrNotFound
	}
	return r.writeAll(kept)
}

func (r *FileRegistry) Close() error {
	return nil
}

func (r *FileRegistry) readAll() ([]*Subscription, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Printf("[REGISTRY] failed to close %s: %v", r.path, err)
		}
	}()

	var subs []*Subscription
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var sub Subscription
		if err := json.Unmarshal(scanner.Bytes(), &sub); err != nil {
			continue // Skip corrupted entries
		}
		subs = append(subs, &sub)
	}
	return subs, scanner.Err()
}

func (r *FileRegistry) writeAll(subs []*Subscription) error {
	tmp := r.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(file)
	for _, sub := range subs {
		if err := encoder.Encode(sub); err != nil {
			_ = file.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, r.path)
}
