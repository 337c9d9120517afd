// Package lifecycle owns the subscription state machine: subscribe,
// preference update, unsubscribe, and stale-subscription pruning.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/realpolitik/push-relay/pkg/registry"
	"github.com/realpolitik/push-relay/pkg/rules"
)

// ErrInvalid marks a validation failure: the request never reaches storage.
var ErrInvalid = errors.New("invalid request")

// ErrNotOwner marks an authorization failure, distinct from not-found.
var ErrNotOwner = errors.New("subscription belongs to another user")

// Service manages subscription lifecycle against the registry.
type Service struct {
	reg      registry.Registry
	maxRules int
	now      func() time.Time
}

// NewService creates a lifecycle service. maxRules <= 0 selects
// rules.DefaultMaxRules.
func NewService(reg registry.Registry, maxRules int) *Service {
	if maxRules <= 0 {
		maxRules = rules.DefaultMaxRules
	}
	return &Service{reg: reg, maxRules: maxRules, now: time.Now}
}

// SubscribeRequest carries a device's push endpoint and optional
// preferences. Resubscribe marks a client-driven endpoint rotation; the
// state transition is identical to a fresh subscribe, it is only logged
// distinctly.
type SubscribeRequest struct {
	UserID      string
	Endpoint    string
	Keys        registry.Keys
	Preferences *rules.Preferences
	Resubscribe bool
	UserAgent   string
	Platform    string
}

// SubscribeResult is returned to the subscriber.
type SubscribeResult struct {
	SubscriptionID string
	DeviceLabel    string
}

// Subscribe validates and upserts a subscription. Upsert is keyed by
// endpoint, so re-subscribing the same device updates rather than
// duplicates.
func (s *Service) Subscribe(ctx context.Context, req *SubscribeRequest) (*SubscribeResult, error) {
	if err := s.validateSubscribe(req); err != nil {
		return nil, err
	}

	prefs := rules.DefaultPreferences()
	if req.Preferences != nil {
		if err := rules.ValidatePreferences(req.Preferences, s.maxRules); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		prefs = *req.Preferences
	}

	now := s.now()
	sub := &registry.Subscription{
		UserID:      req.UserID,
		Endpoint:    req.Endpoint,
		Keys:        req.Keys,
		DeviceLabel: deviceLabel(req.UserAgent, req.Platform),
		Preferences: prefs,
		UpdatedAt:   now,
		LastSeenAt:  now,
	}
	if err := s.reg.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to store subscription: %w", err)
	}

	if req.Resubscribe {
		log.Printf("[LIFECYCLE] endpoint rotation for user=%s subscription=%s", req.UserID, sub.ID)
	} else {
		log.Printf("[LIFECYCLE] subscribed user=%s subscription=%s device=%q", req.UserID, sub.ID, sub.DeviceLabel)
	}

	return &SubscribeResult{
		SubscriptionID: sub.ID,
		DeviceLabel:    sub.DeviceLabel,
	}, nil
}

// UpdatePreferences replaces the stored preference set for one endpoint.
// Only the owner may update; replace semantics, last writer wins.
func (s *Service) UpdatePreferences(ctx context.Context, userID, endpoint string, prefs rules.Preferences) error {
	if err := rules.ValidatePreferences(&prefs, s.maxRules); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	sub, err := s.reg.Get(ctx, endpoint)
	if err != nil {
		return err
	}
	if sub.UserID != userID {
		return ErrNotOwner
	}

	sub.Preferences = prefs
	sub.UpdatedAt = s.now()
	sub.LastSeenAt = sub.UpdatedAt
	if err := s.reg.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("failed to store preferences: %w", err)
	}
	return nil
}

// Unsubscribe removes a subscription. A missing endpoint is a successful
// no-op (found=false); a non-owned endpoint is an authorization failure.
func (s *Service) Unsubscribe(ctx context.Context, userID, endpoint string) (bool, error) {
	sub, err := s.reg.Get(ctx, endpoint)
	if errors.Is(err, registry.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if sub.UserID != userID {
		return false, ErrNotOwner
	}

	if err := s.reg.Delete(ctx, endpoint); errors.Is(err, registry.ErrNotFound) {
		// Raced with a prune; still a successful no-op.
		return false, nil
	} else if err != nil {
		return false, err
	}
	log.Printf("[LIFECYCLE] unsubscribed user=%s subscription=%s", userID, sub.ID)
	return true, nil
}

// Subscriptions lists the caller's devices.
func (s *Service) Subscriptions(ctx context.Context, userID string) ([]*registry.Subscription, error) {
	return s.reg.ListByUser(ctx, userID)
}

// SweepStale removes subscriptions not seen within the horizon and returns
// how many were removed.
func (s *Service) SweepStale(ctx context.Context, horizon time.Duration) (int, error) {
	subs, err := s.reg.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	cutoff := s.now().Add(-horizon)
	removed := 0
	for _, sub := range subs {
		if sub.LastSeenAt.After(cutoff) {
			continue
		}
		if err := s.reg.Delete(ctx, sub.Endpoint); err != nil {
			if !errors.Is(err, registry.ErrNotFound) {
				log.Printf("[LIFECYCLE] failed to sweep %s: %v", sub.ID, err)
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Printf("[LIFECYCLE] swept %d stale subscriptions", removed)
	}
	return removed, nil
}

func (s *Service) validateSubscribe(req *SubscribeRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	if req.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalid)
	}
	u, err := url.Parse(req.Endpoint)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an https URL", ErrInvalid)
	}
	if req.Keys.P256dh == "" || req.Keys.Auth == "" {
		return fmt.Errorf("%w: keys p256dh and auth are required", ErrInvalid)
	}
	return nil
}

// deviceLabel derives a human-readable label from the client's declared
// identity.
func deviceLabel(userAgent, platform string) string {
	browser := ""
	switch {
	case strings.Contains(userAgent, "Edg/"):
		browser = "Edge"
	case strings.Contains(userAgent, "Firefox/"):
		browser = "Firefox"
	case strings.Contains(userAgent, "Chrome/"):
		browser = "Chrome"
	case strings.Contains(userAgent, "Safari/"):
		browser = "Safari"
	}

	switch {
	case browser != "" && platform != "":
		return fmt.Sprintf("%s on %s", browser, platform)
	case browser != "":
		return browser
	case platform != "":
		return platform
	default:
		return "Unknown device"
	}
}
