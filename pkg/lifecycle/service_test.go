package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realpolitik/push-relay/pkg/registry"
	"github.com/realpolitik/push-relay/pkg/rules"
)

const testEndpoint = "https://push.example.com/device-1"

func validRequest() *SubscribeRequest {
	return &SubscribeRequest{
		UserID:   "user-1",
		Endpoint: testEndpoint,
		Keys:     registry.Keys{P256dh: "p256dh-key", Auth: "auth-key"},
	}
}

func TestSubscribeAndList(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svc := NewService(reg, 0)

	result, err := svc.Subscribe(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, result.SubscriptionID)

	subs, err := svc.Subscriptions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, testEndpoint, subs[0].Endpoint)
	assert.True(t, subs[0].Preferences.Enabled, "defaults apply when no preferences given")
}

func TestSubscribeSameEndpointTwiceUpdates(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svc := NewService(reg, 0)

	first, err := svc.Subscribe(context.Background(), validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.Preferences = &rules.Preferences{Enabled: false}
	second, err := svc.Subscribe(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.SubscriptionID, second.SubscriptionID, "endpoint is the natural key")

	subs, err := svc.Subscriptions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, subs, 1, "re-subscribing must not duplicate")
	assert.False(t, subs[0].Preferences.Enabled, "latest preferences win")
}

func TestSubscribeValidation(t *testing.T) {
	svc := NewService(registry.NewMemoryRegistry(), 0)

	cases := []struct {
		name   string
		mutate func(*SubscribeRequest)
	}{
		{"missing user", func(r *SubscribeRequest) { r.UserID = "" }},
		{"missing endpoint", func(r *SubscribeRequest) { r.Endpoint = "" }},
		{"http endpoint", func(r *SubscribeRequest) { r.Endpoint = "http://push.example.com/x" }},
		{"not a url", func(r *SubscribeRequest) { r.Endpoint = "::not-a-url" }},
		{"missing p256dh", func(r *SubscribeRequest) { r.Keys.P256dh = "" }},
		{"missing auth", func(r *SubscribeRequest) { r.Keys.Auth = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req)
			_, err := svc.Subscribe(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestSubscribeRejectsTooManyRules(t *testing.T) {
	svc := NewService(registry.NewMemoryRegistry(), 2)

	req := validRequest()
	prefs := rules.DefaultPreferences()
	for i := 0; i < 3; i++ {
		sev := float64(i)
		prefs.Rules = append(prefs.Rules, rules.Rule{
			ID: fmt.Sprintf("r%d", i), Name: "r", Enabled: true,
			Conditions: []rules.Condition{{
				Field: rules.FieldSeverity, Operator: rules.OpGte, Value: rules.Value{Number: &sev},
			}},
		})
	}
	req.Preferences = &prefs

	_, err := svc.Subscribe(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestUpdatePreferences(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svc := NewService(reg, 0)

	_, err := svc.Subscribe(context.Background(), validRequest())
	require.NoError(t, err)

	prefs := rules.DefaultPreferences()
	prefs.QuietHours = &rules.QuietHours{Enabled: true, Start: "22:00", End: "06:00", Timezone: "UTC"}
	require.NoError(t, svc.UpdatePreferences(context.Background(), "user-1", testEndpoint, prefs))

	sub, err := reg.Get(context.Background(), testEndpoint)
	require.NoError(t, err)
	require.NotNil(t, sub.Preferences.QuietHours)
	assert.Equal(t, "22:00", sub.Preferences.QuietHours.Start)
}

func TestUpdatePreferencesAuthorization(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svc := NewService(reg, 0)

	_, err := svc.Subscribe(context.Background(), validRequest())
	require.NoError(t, err)

	err = svc.UpdatePreferences(context.Background(), "someone-else", testEndpoint, rules.DefaultPreferences())
	assert.ErrorIs(t, err, ErrNotOwner)

	err = svc.UpdatePreferences(context.Background(), "user-1", "https://push.example.com/ghost", rules.DefaultPreferences())
	assert.ErrorIs(t, err, registry.ErrNotFound, "unknown endpoint is not-found, not forbidden")
}

func TestUnsubscribeIdempotent(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svc := NewService(reg, 0)

	_, err := svc.Subscribe(context.Background(), validRequest())
	require.NoError(t, err)

	found, err := svc.Unsubscribe(context.Background(), "user-1", testEndpoint)
	require.NoError(t, err)
	assert.True(t, found)

	// Second call succeeds as a no-op.
	found, err = svc.Unsubscribe(context.Background(), "user-1", testEndpoint)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUnsubscribeOtherUsersSubscription(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svc := NewService(reg, 0)

	_, err := svc.Subscribe(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = svc.Unsubscribe(context.Background(), "someone-else", testEndpoint)
	assert.ErrorIs(t, err, ErrNotOwner)

	// Still present.
	_, err = reg.Get(context.Background(), testEndpoint)
	assert.NoError(t, err)
}

func TestEndpointRotation(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svc := NewService(reg, 0)

	_, err := svc.Subscribe(context.Background(), validRequest())
	require.NoError(t, err)

	rotated := validRequest()
	rotated.Endpoint = "https://push.example.com/device-1-rotated"
	rotated.Resubscribe = true
	_, err = svc.Subscribe(context.Background(), rotated)
	require.NoError(t, err)

	subs, err := svc.Subscriptions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, subs, 2, "the old endpoint lingers until the gateway or sweep prunes it")
}

func TestSweepStale(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svc := NewService(reg, 0)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	_, err := svc.Subscribe(context.Background(), validRequest())
	require.NoError(t, err)

	fresh := validRequest()
	fresh.Endpoint = "https://push.example.com/device-2"
	svc.now = func() time.Time { return base.Add(100 * 24 * time.Hour) }
	_, err = svc.Subscribe(context.Background(), fresh)
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(200 * 24 * time.Hour) }
	removed, err := svc.SweepStale(context.Background(), 180*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	subs, err := reg.List(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, fresh.Endpoint, subs[0].Endpoint)
}

func TestDeviceLabel(t *testing.T) {
	cases := []struct {
		ua       string
		platform string
		want     string
	}{
		{"Mozilla/5.0 Chrome/120.0 Safari/537.36", "macOS", "Chrome on macOS"},
		{"Mozilla/5.0 Gecko/20100101 Firefox/121.0", "Linux", "Firefox on Linux"},
		{"Mozilla/5.0 Chrome/120.0 Safari/537.36 Edg/120.0", "Windows", "Edge on Windows"},
		{"Mozilla/5.0 Version/17.0 Safari/605.1.15", "", "Safari"},
		{"", "Android", "Android"},
		{"", "", "Unknown device"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, deviceLabel(tc.ua, tc.platform))
	}
}
