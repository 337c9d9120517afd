// Package webpush sends event payloads to platform push gateways and
// classifies delivery failures as transient or permanent.
package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/realpolitik/push-relay/pkg/event"
	"github.com/realpolitik/push-relay/pkg/registry"
)

// Sender delivers one event to one subscription endpoint.
type Sender interface {
	Send(ctx context.Context, sub *registry.Subscription, ev *event.Event) error
}

// Failure is a classified gateway rejection. Permanent means the endpoint is
// no longer valid and must be removed from the registry; anything else is
// worth attempting again on a future event.
type Failure struct {
	StatusCode int
	Permanent  bool
	Err        error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("push send failed: %v", f.Err)
	}
	return fmt.Sprintf("push rejected with status %d", f.StatusCode)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsPermanent reports whether err indicates a dead endpoint.
func IsPermanent(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Permanent
}

// payload is the wire format consumed by the on-device push handler.
type payload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Icon     string `json:"icon,omitempty"`
	Badge    string `json:"badge,omitempty"`
	URL      string `json:"url,omitempty"`
	ID       string `json:"id,omitempty"`
	Severity int    `json:"severity,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

// VAPIDConfig holds the server keypair and contact address used to sign
// pushes.
type VAPIDConfig struct {
	PublicKey  string `json:"public_key" mapstructure:"public_key"`
	PrivateKey string `json:"private_key" mapstructure:"private_key"`
	Subscriber string `json:"subscriber" mapstructure:"subscriber"` // contact email
}

// GatewaySender sends web push messages through the platform push gateway.
type GatewaySender struct {
	vapid    VAPIDConfig
	iconPath string
}

// NewGatewaySender creates a sender from VAPID configuration.
func NewGatewaySender(vapid VAPIDConfig) (*GatewaySender, error) {
	if vapid.PublicKey == "" || vapid.PrivateKey == "" || vapid.Subscriber == "" {
		return nil, fmt.Errorf("VAPID configuration required: public key, private key, and subscriber must all be set")
	}
	return &GatewaySender{
		vapid:    vapid,
		iconPath: "/icon-192x192.png",
	}, nil
}

// Send pushes the event payload to one endpoint. The payload content is the
// same for every admitted subscription; only the encryption differs per
// device.
func (s *GatewaySender) Send(ctx context.Context, sub *registry.Subscription, ev *event.Event) error {
	body, err := json.Marshal(payload{
		Title:    ev.Title,
		Body:     ev.Body,
		Icon:     s.iconPath,
		Badge:    s.iconPath,
		URL:      ev.URL,
		ID:       ev.ID,
		Severity: ev.Severity,
		Tag:      ev.Tag(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	urgency := webpush.UrgencyNormal
	if ev.Critical {
		urgency = webpush.UrgencyHigh
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.vapid.Subscriber,
		VAPIDPublicKey:  s.vapid.PublicKey,
		VAPIDPrivateKey: s.vapid.PrivateKey,
		TTL:             86400, // 24 hours
		Urgency:         urgency,
	})
	if err != nil {
		// Network-level errors are transient: the gateway was never reached.
		return &Failure{Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("[WEBPUSH] failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode >= 400 {
		return classify(resp.StatusCode)
	}
	return nil
}

// classify maps a gateway status code onto the failure taxonomy. 404 and 410
// mean the endpoint is gone or expired; 401/403 mean the subscription was
// created against different VAPID keys. Both are unrecoverable for this
// endpoint.
func classify(status int) *Failure {
	switch status {
	case http.StatusNotFound, http.StatusGone,
		http.StatusUnauthorized, http.StatusForbidden:
		return &Failure{StatusCode: status, Permanent: true}
	default:
		return &Failure{StatusCode: status}
	}
}
