package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRegistry is an in-memory Registry for tests and single-process
// development setups.
type MemoryRegistry struct {
	mu   sync.RWMutex
	subs map[string]*Subscription // endpoint -> subscription
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		subs: make(map[string]*Subscription),
	}
}

func (r *MemoryRegistry) Upsert(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *sub
	if existing, ok := r.subs[sub.Endpoint]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == "" {
			stored.ID = newSubscriptionID()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now()
		}
	}
	r.subs[sub.Endpoint] = &stored
	sub.ID = stored.ID
	sub.CreatedAt = stored.CreatedAt
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, endpoint string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[endpoint]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sub
	return &clone, nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		clone := *sub
		out = append(out, &clone)
	}
	return out, nil
}

func (r *MemoryRegistry) ListByUser(_ context.Context, userID string) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID {
			clone := *sub
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[endpoint]; !ok {
		return ErrNotFound
	}
	delete(r.subs, endpoint)
	return nil
}

func (r *MemoryRegistry) Close() error {
	return nil
}

func newSubscriptionID() string {
	return "sub_" + uuid.New().String()
}
