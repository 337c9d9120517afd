// Package httpapi exposes the relay over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/realpolitik/push-relay/pkg/auth"
	"github.com/realpolitik/push-relay/pkg/config"
	"github.com/realpolitik/push-relay/pkg/dispatch"
	"github.com/realpolitik/push-relay/pkg/inbox"
	"github.com/realpolitik/push-relay/pkg/lifecycle"
	"github.com/realpolitik/push-relay/pkg/report"
)

// Server wires the relay services into an echo application.
type Server struct {
	echo       *echo.Echo
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	lifecycle  *lifecycle.Service
	inbox      inbox.Store
	reporter   report.Notifier // optional
}

// NewServer builds the HTTP server and registers all routes.
func NewServer(cfg *config.Config, dispatcher *dispatch.Dispatcher, lc *lifecycle.Service, inboxStore inbox.Store, reporter report.Notifier) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{
		echo:       e,
		cfg:        cfg,
		dispatcher: dispatcher,
		lifecycle:  lc,
		inbox:      inboxStore,
		reporter:   reporter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/push/vapid-public-key", s.handleVAPIDPublicKey)

	// Upstream event source, shared-secret bearer auth.
	s.echo.POST("/api/push/send", s.handleSend,
		auth.DispatchAuthMiddleware(s.cfg.Auth.DispatchSecret))

	// Dashboard users, API key auth.
	user := s.echo.Group("/api", auth.UserAuthMiddleware(s.cfg))
	user.POST("/push/subscribe", s.handleSubscribe)
	user.PUT("/push/subscribe", s.handleUpdatePreferences)
	user.DELETE("/push/subscribe", s.handleUnsubscribe)
	user.GET("/push/subscriptions", s.handleListSubscriptions)
	user.GET("/preferences", s.handleGetInboxPreferences)
	user.PUT("/preferences", s.handlePutInboxPreferences)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%d", s.cfg.Port))
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVAPIDPublicKey(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"public_key": s.cfg.VAPID.PublicKey,
	})
}
