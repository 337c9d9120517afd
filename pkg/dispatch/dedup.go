package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Deduper remembers which (event, endpoint) pairs have already been pushed,
// so the upstream worker re-sending the same event id never double-notifies
// a device. Entries expire after the push TTL; the stable notification tag
// remains the client-side safety net.
type Deduper interface {
	// MarkSeen records the pair and reports whether it was already recorded.
	MarkSeen(ctx context.Context, eventID, endpoint string) (bool, error)
	Close() error
}

// DedupTTL matches the push message TTL: an event older than this is no
// longer deliverable, so remembering it is pointless.
const DedupTTL = 24 * time.Hour

// MemoryDeduper is an in-process Deduper for single-instance deployments.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryDeduper creates an in-memory dedup store.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{
		seen: make(map[string]time.Time),
		ttl:  DedupTTL,
		now:  time.Now,
	}
}

func (d *MemoryDeduper) MarkSeen(_ context.Context, eventID, endpoint string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	// Drop expired entries opportunistically.
	for k, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, k)
		}
	}

	key := dedupKey(eventID, endpoint)
	if at, ok := d.seen[key]; ok && now.Sub(at) <= d.ttl {
		return true, nil
	}
	d.seen[key] = now
	return false, nil
}

func (d *MemoryDeduper) Close() error {
	return nil
}

// RedisDeduper shares the seen set across relay replicas.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper connects to Redis and verifies the connection.
func NewRedisDeduper(ctx context.Context, addr, password string, db int) (*RedisDeduper, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisDeduper{client: client, ttl: DedupTTL}, nil
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, eventID, endpoint string) (bool, error) {
	set, err := d.client.SetNX(ctx, dedupKey(eventID, endpoint), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return !set, nil
}

func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

func dedupKey(eventID, endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return fmt.Sprintf("push-relay:seen:%s:%s", eventID, hex.EncodeToString(sum[:])[:16])
}
