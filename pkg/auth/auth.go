// Package auth provides the relay's two authentication paths: a shared
// bearer secret for the upstream dispatch trigger and static API keys for
// dashboard users.
package auth

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/realpolitik/push-relay/pkg/config"
)

const userContextKey = "push_relay_user"

// UserContext identifies the authenticated dashboard user.
type UserContext struct {
	UserID string
}

// GetUserFromContext returns the authenticated user, or nil.
func GetUserFromContext(c echo.Context) *UserContext {
	user, _ := c.Get(userContextKey).(*UserContext)
	return user
}

// UserAuthMiddleware authenticates dashboard users via static API keys. The
// key is read from the configured header (default X-API-Key).
func UserAuthMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	header := cfg.Auth.HeaderName
	if header == "" {
		header = "X-API-Key"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(header)
			userID, ok := cfg.UserForKey(key)
			if !ok {
				log.Printf("[AUTH] rejected request to %s from %s", c.Request().URL.Path, c.RealIP())
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			c.Set(userContextKey, &UserContext{UserID: userID})
			return next(c)
		}
	}
}

// DispatchAuthMiddleware authenticates the upstream event source via a
// shared bearer secret.
func DispatchAuthMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				log.Printf("[AUTH] dispatch secret not configured, rejecting dispatch")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "dispatch not configured")
			}
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				log.Printf("[AUTH] rejected dispatch from %s", c.RealIP())
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid dispatch token")
			}
			return next(c)
		}
	}
}
