package registry

import (
	"context"
	"errors"
	"time"

	"github.com/realpolitik/push-relay/pkg/rules"
)

// ErrNotFound is returned when no subscription exists for an endpoint.
var ErrNotFound = errors.New("subscription not found")

// Keys holds the client-generated webpush encryption keys.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one device's push channel. The platform endpoint is the
// natural key: it is globally unique and tied to one installed client. ID is
// the registry-assigned reference returned to the subscriber.
type Subscription struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Endpoint    string            `json:"endpoint"`
	Keys        Keys              `json:"keys"`
	DeviceLabel string            `json:"device_label"`
	Preferences rules.Preferences `json:"preferences"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	LastSeenAt  time.Time         `json:"last_seen_at"`
}

// Registry is the durable subscription store. All mutations are single-row
// operations keyed by endpoint; upserts use replace semantics (last writer
// wins), so no locking beyond endpoint uniqueness is needed.
type Registry interface {
	// Upsert inserts or replaces the subscription for sub.Endpoint. An
	// existing row keeps its ID and CreatedAt.
	Upsert(ctx context.Context, sub *Subscription) error

	// Get returns the subscription for an endpoint, or ErrNotFound.
	Get(ctx context.Context, endpoint string) (*Subscription, error)

	// List returns every subscription in the registry.
	List(ctx context.Context) ([]*Subscription, error)

	// ListByUser returns the subscriptions owned by one user.
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)

	// Delete removes the subscription for an endpoint. Returns ErrNotFound
	// when no row exists.
	Delete(ctx context.Context, endpoint string) error

	// Close releases backend resources.
	Close() error
}
