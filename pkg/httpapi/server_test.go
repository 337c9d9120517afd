package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realpolitik/push-relay/pkg/config"
	"github.com/realpolitik/push-relay/pkg/dispatch"
	"github.com/realpolitik/push-relay/pkg/event"
	"github.com/realpolitik/push-relay/pkg/inbox"
	"github.com/realpolitik/push-relay/pkg/lifecycle"
	"github.com/realpolitik/push-relay/pkg/registry"
)

const (
	testDispatchSecret = "dispatch-secret"
	testAPIKey         = "api-key-1"
	testUserID         = "user-1"
)

// okSender accepts every push.
type okSender struct{}

func (okSender) Send(context.Context, *registry.Subscription, *event.Event) error {
	return nil
}

func newTestServer(t *testing.T) (*Server, *registry.MemoryRegistry) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Auth.DispatchSecret = testDispatchSecret
	cfg.Auth.APIKeys = []config.APIKey{{Key: testAPIKey, UserID: testUserID}}
	cfg.VAPID.PublicKey = "test-public-key"

	reg := registry.NewMemoryRegistry()
	dispatcher := dispatch.NewDispatcher(reg, okSender{}, dispatch.NewMemoryDeduper(), 2)
	lc := lifecycle.NewService(reg, cfg.MaxRules)

	return NewServer(cfg, dispatcher, lc, inbox.NewMemoryStore(), nil), reg
}

func doRequest(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func userHeaders() map[string]string {
	return map[string]string{"X-API-Key": testAPIKey}
}

func subscribeBody(endpoint string) string {
	return fmt.Sprintf(`{
		"endpoint": %q,
		"keys": {"p256dh": "p256dh-key", "auth": "auth-key"},
		"device": {"user_agent": "Mozilla/5.0 Chrome/120.0 Safari/537.36", "platform": "macOS"}
	}`, endpoint)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVAPIDPublicKeyIsUnauthenticated(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/push/vapid-public-key", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "test-public-key", body["public_key"])
}

func TestSendRequiresBearerSecret(t *testing.T) {
	s, _ := newTestServer(t)
	eventBody := `{"id":"evt-1","title":"Test event","severity":5}`

	rec := doRequest(s, http.MethodPost, "/api/push/send", eventBody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/push/send", eventBody,
		map[string]string{"Authorization": "Bearer wrong-secret"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/push/send", eventBody,
		map[string]string{"Authorization": "Bearer " + testDispatchSecret})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendRejectsInvalidEvent(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/push/send", `{"title":"no id"}`,
		map[string]string{"Authorization": "Bearer " + testDispatchSecret})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendReturnsSummary(t *testing.T) {
	s, reg := newTestServer(t)

	// One subscribed device.
	rec := doRequest(s, http.MethodPost, "/api/push/subscribe",
		subscribeBody("https://push.example.com/device-1"), userHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/push/send",
		`{"id":"evt-1","title":"Sanctions announced","severity":6}`,
		map[string]string{"Authorization": "Bearer " + testDispatchSecret})
	require.Equal(t, http.StatusOK, rec.Code)

	var summary dispatch.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Sent)

	subs, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSubscribeRequiresAPIKey(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/push/subscribe",
		subscribeBody("https://push.example.com/device-1"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/push/subscribe",
		subscribeBody("https://push.example.com/device-1"),
		map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubscribeAndList(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/push/subscribe",
		subscribeBody("https://push.example.com/device-1"), userHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SubscribeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.SubscriptionID)
	assert.Equal(t, "Chrome on macOS", resp.DeviceLabel)

	rec = doRequest(s, http.MethodGet, "/api/push/subscriptions", "", userHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	var subs []*registry.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &subs))
	assert.Len(t, subs, 1)
}

func TestSubscribeRejectsBadEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/push/subscribe",
		subscribeBody("http://insecure.example.com/x"), userHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePreferencesStatusMapping(t *testing.T) {
	s, reg := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/push/subscribe",
		subscribeBody("https://push.example.com/device-1"), userHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	prefsBody := `{"endpoint":"https://push.example.com/device-1","preferences":{"enabled":true}}`
	rec = doRequest(s, http.MethodPut, "/api/push/subscribe", prefsBody, userHeaders())
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unknown endpoint.
	rec = doRequest(s, http.MethodPut, "/api/push/subscribe",
		`{"endpoint":"https://push.example.com/ghost","preferences":{"enabled":true}}`, userHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Someone else's endpoint.
	require.NoError(t, reg.Upsert(context.Background(), &registry.Subscription{
		UserID:   "user-2",
		Endpoint: "https://push.example.com/other",
		Keys:     registry.Keys{P256dh: "p", Auth: "a"},
	}))
	rec = doRequest(s, http.MethodPut, "/api/push/subscribe",
		`{"endpoint":"https://push.example.com/other","preferences":{"enabled":true}}`, userHeaders())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Invalid preferences.
	rec = doRequest(s, http.MethodPut, "/api/push/subscribe",
		`{"endpoint":"https://push.example.com/device-1","preferences":{"enabled":true,"rules":[{"name":""}]}}`,
		userHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/push/subscribe",
		subscribeBody("https://push.example.com/device-1"), userHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	body := `{"endpoint":"https://push.example.com/device-1"}`
	rec = doRequest(s, http.MethodDelete, "/api/push/subscribe", body, userHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	var resp UnsubscribeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Found)

	rec = doRequest(s, http.MethodDelete, "/api/push/subscribe", body, userHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.False(t, resp.Found)
}

func TestUnsubscribeOtherUsersEndpointForbidden(t *testing.T) {
	s, reg := newTestServer(t)
	require.NoError(t, reg.Upsert(context.Background(), &registry.Subscription{
		UserID:   "user-2",
		Endpoint: "https://push.example.com/other",
		Keys:     registry.Keys{P256dh: "p", Auth: "a"},
	}))

	rec := doRequest(s, http.MethodDelete, "/api/push/subscribe",
		`{"endpoint":"https://push.example.com/other"}`, userHeaders())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInboxPreferencesRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/preferences", "", userHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	var prefs map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prefs))
	assert.Equal(t, true, prefs["enabled"], "default is receive-everything")

	body := `{"enabled":true,"rules":[{"id":"r1","name":"high severity","enabled":true,
		"conditions":[{"field":"severity","op":"gte","value":8}]}]}`
	rec = doRequest(s, http.MethodPut, "/api/preferences", body, userHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/preferences", "", userHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "high severity")
}

func TestInboxPreferencesValidation(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"enabled":true,"rules":[{"id":"r1","name":"bad","enabled":true,
		"conditions":[{"field":"altitude","op":"gte","value":8}]}]}`
	rec := doRequest(s, http.MethodPut, "/api/preferences", body, userHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendUnconfiguredSecretUnavailable(t *testing.T) {
	s, _ := newTestServer(t)
	s.cfg.Auth.DispatchSecret = ""

	// Routes capture the secret at registration time, so rebuild.
	s = NewServer(s.cfg, s.dispatcher, s.lifecycle, s.inbox, nil)
	rec := doRequest(s, http.MethodPost, "/api/push/send",
		`{"id":"evt-1","title":"t","severity":1}`,
		map[string]string{"Authorization": "Bearer anything"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
