package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/realpolitik/push-relay/pkg/auth"
	"github.com/realpolitik/push-relay/pkg/event"
	"github.com/realpolitik/push-relay/pkg/lifecycle"
	"github.com/realpolitik/push-relay/pkg/registry"
	"github.com/realpolitik/push-relay/pkg/rules"
)

// SubscribeRequest is the wire format of POST /api/push/subscribe.
type SubscribeRequest struct {
	Endpoint    string             `json:"endpoint"`
	Keys        registry.Keys      `json:"keys"`
	Preferences *rules.Preferences `json:"preferences,omitempty"`
	Resubscribe bool               `json:"resubscribe,omitempty"`
	Device      *DeviceInfo        `json:"device,omitempty"`
}

// DeviceInfo is the client's declared identity, used only to derive the
// device label.
type DeviceInfo struct {
	UserAgent string `json:"user_agent"`
	Platform  string `json:"platform"`
}

// SubscribeResponse is returned for a successful subscribe.
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
	DeviceLabel    string `json:"device_label"`
}

// UpdatePreferencesRequest is the wire format of PUT /api/push/subscribe.
type UpdatePreferencesRequest struct {
	Endpoint    string            `json:"endpoint"`
	Preferences rules.Preferences `json:"preferences"`
}

// UnsubscribeRequest is the wire format of DELETE /api/push/subscribe.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// UnsubscribeResponse always reports success; Found distinguishes a real
// removal from the idempotent no-op.
type UnsubscribeResponse struct {
	Success bool `json:"success"`
	Found   bool `json:"found"`
}

// handleSend is the dispatch trigger called by the upstream event source.
func (s *Server) handleSend(c echo.Context) error {
	var ev event.Event
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event payload")
	}
	if err := ev.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	summary, err := s.dispatcher.Dispatch(c.Request().Context(), &ev)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "dispatch failed")
	}

	if s.reporter != nil {
		go s.reporter.DispatchSummary(&ev, summary)
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleSubscribe(c echo.Context) error {
	user := auth.GetUserFromContext(c)
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	var req SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	lcReq := &lifecycle.SubscribeRequest{
		UserID:      user.UserID,
		Endpoint:    req.Endpoint,
		Keys:        req.Keys,
		Preferences: req.Preferences,
		Resubscribe: req.Resubscribe,
	}
	if req.Device != nil {
		lcReq.UserAgent = req.Device.UserAgent
		lcReq.Platform = req.Device.Platform
	}

	result, err := s.lifecycle.Subscribe(c.Request().Context(), lcReq)
	if errors.Is(err, lifecycle.ErrInvalid) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create subscription")
	}

	return c.JSON(http.StatusOK, SubscribeResponse{
		Success:        true,
		SubscriptionID: result.SubscriptionID,
		DeviceLabel:    result.DeviceLabel,
	})
}

func (s *Server) handleUpdatePreferences(c echo.Context) error {
	user := auth.GetUserFromContext(c)
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	var req UpdatePreferencesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Endpoint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "endpoint is required")
	}

	err := s.lifecycle.UpdatePreferences(c.Request().Context(), user.UserID, req.Endpoint, req.Preferences)
	switch {
	case errors.Is(err, lifecycle.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrNotOwner):
		return echo.NewHTTPError(http.StatusForbidden, "subscription belongs to another user")
	case errors.Is(err, registry.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update preferences")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUnsubscribe(c echo.Context) error {
	user := auth.GetUserFromContext(c)
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	var req UnsubscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Endpoint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "endpoint is required")
	}

	found, err := s.lifecycle.Unsubscribe(c.Request().Context(), user.UserID, req.Endpoint)
	if errors.Is(err, lifecycle.ErrNotOwner) {
		return echo.NewHTTPError(http.StatusForbidden, "subscription belongs to another user")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to remove subscription")
	}
	return c.JSON(http.StatusOK, UnsubscribeResponse{Success: true, Found: found})
}

func (s *Server) handleListSubscriptions(c echo.Context) error {
	user := auth.GetUserFromContext(c)
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	subs, err := s.lifecycle.Subscriptions(c.Request().Context(), user.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list subscriptions")
	}
	if subs == nil {
		subs = []*registry.Subscription{}
	}
	return c.JSON(http.StatusOK, subs)
}

func (s *Server) handleGetInboxPreferences(c echo.Context) error {
	user := auth.GetUserFromContext(c)
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	prefs, err := s.inbox.Get(c.Request().Context(), user.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load preferences")
	}
	return c.JSON(http.StatusOK, prefs)
}

func (s *Server) handlePutInboxPreferences(c echo.Context) error {
	user := auth.GetUserFromContext(c)
	if user == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	var prefs rules.Preferences
	if err := c.Bind(&prefs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := rules.ValidatePreferences(&prefs, s.cfg.MaxRules); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.inbox.Put(c.Request().Context(), user.UserID, &prefs); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store preferences")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
