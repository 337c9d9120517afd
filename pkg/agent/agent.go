// Package agent models the on-device push receiver's contract with the
// relay. The real runtime is the browser service worker; this package pins
// down the behavior it must preserve: persist before notify, navigate
// instead of messaging, and defer resubscription until the server key is
// known.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/realpolitik/push-relay/pkg/registry"
)

// FallbackTitle and FallbackBody are rendered when a push body fails to
// parse. A notification must be shown for every delivery attempt: platforms
// silently revoke subscriptions that receive pushes without showing one.
const (
	FallbackTitle = "Realpolitik"
	FallbackBody  = "New world event"
)

// Payload is the push body produced by the relay's gateway sender.
type Payload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Icon     string `json:"icon,omitempty"`
	Badge    string `json:"badge,omitempty"`
	URL      string `json:"url,omitempty"`
	ID       string `json:"id,omitempty"`
	Severity int    `json:"severity,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

// Record is the minimal durable trace of an incoming push, written before
// rendering so the foreground app can reconcile notifications received
// while backgrounded even if the host terminates the agent immediately
// after it renders.
type Record struct {
	EventID    string    `json:"event_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	URL        string    `json:"url"`
	ReceivedAt time.Time `json:"received_at"`
}

// Store is the device's durable storage.
type Store interface {
	SaveIncoming(rec Record) error
}

// Renderer shows a user-visible notification.
type Renderer interface {
	Show(p Payload) error
}

// Navigator opens or focuses a foreground context at a URL.
type Navigator interface {
	Open(url string) error
}

// Platform creates a fresh push subscription against the platform push
// service using the server's public key.
type Platform interface {
	Resubscribe(serverKey string) (endpoint string, keys registry.Keys, err error)
}

// RelayClient reports a new endpoint to the relay's subscribe path.
type RelayClient interface {
	Subscribe(endpoint string, keys registry.Keys, resubscribe bool) error
}

// Agent is the push receiver state machine. It starts without the server
// VAPID key and defers any resubscribe action until the key arrives.
type Agent struct {
	store    Store
	renderer Renderer
	nav      Navigator
	platform Platform
	relay    RelayClient

	mu                 sync.Mutex
	serverKey          string
	pendingResubscribe bool

	now func() time.Time
}

// New creates an agent in the key-not-yet-known state.
func New(store Store, renderer Renderer, nav Navigator, platform Platform, relay RelayClient) *Agent {
	return &Agent{
		store:    store,
		renderer: renderer,
		nav:      nav,
		platform: platform,
		relay:    relay,
		now:      time.Now,
	}
}

// HandlePush processes one incoming push body. The persist-then-notify
// order is a contract: the host may terminate the agent the instant this
// returns, and the durable record must already exist when the notification
// appears. Rendering happens even when parsing or persisting fails.
func (a *Agent) HandlePush(body []byte) error {
	p := Payload{Title: FallbackTitle, Body: FallbackBody}
	if len(body) > 0 {
		var parsed Payload
		if err := json.Unmarshal(body, &parsed); err == nil && parsed.Title != "" {
			p = parsed
		}
	}

	if err := a.store.SaveIncoming(Record{
		EventID:    p.ID,
		Title:      p.Title,
		Body:       p.Body,
		URL:        p.URL,
		ReceivedAt: a.now(),
	}); err != nil {
		// The notification must still be shown.
		log.Printf("[AGENT] failed to persist incoming push: %v", err)
	}

	if err := a.renderer.Show(p); err != nil {
		return fmt.Errorf("failed to show notification: %w", err)
	}
	return nil
}

// HandleClick navigates a foreground context to the event. The cache-buster
// parameter forces a state reload even when an equivalent URL is already
// open. Live messaging to the foreground is never used: the host drops such
// messages while the app is suspended.
func (a *Agent) HandleClick(eventID string) error {
	url := fmt.Sprintf("/?event=%s&t=%d", eventID, a.now().UnixNano())
	return a.nav.Open(url)
}

// SetServerKey completes the two-phase init. A resubscribe that arrived
// before the key was known is performed now.
func (a *Agent) SetServerKey(key string) error {
	a.mu.Lock()
	a.serverKey = key
	pending := a.pendingResubscribe
	a.pendingResubscribe = false
	a.mu.Unlock()

	if pending {
		return a.resubscribe(key)
	}
	return nil
}

// HandleSubscriptionChange reacts to the platform invalidating the current
// subscription. Without the server key the action is recorded and deferred.
func (a *Agent) HandleSubscriptionChange() error {
	a.mu.Lock()
	key := a.serverKey
	if key == "" {
		a.pendingResubscribe = true
		a.mu.Unlock()
		log.Printf("[AGENT] subscription change before server key arrived, deferring resubscribe")
		return nil
	}
	a.mu.Unlock()
	return a.resubscribe(key)
}

func (a *Agent) resubscribe(key string) error {
	endpoint, keys, err := a.platform.Resubscribe(key)
	if err != nil {
		return fmt.Errorf("platform resubscribe failed: %w", err)
	}
	if endpoint == "" {
		return errors.New("platform returned empty endpoint")
	}
	if err := a.relay.Subscribe(endpoint, keys, true); err != nil {
		return fmt.Errorf("failed to report new endpoint: %w", err)
	}
	log.Printf("[AGENT] resubscribed with rotated endpoint")
	return nil
}
