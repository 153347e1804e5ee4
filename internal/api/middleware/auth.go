// Package middleware provides the HTTP middleware stack for the Remindly
// API: key auth, CORS, rate limiting, security headers, and request
// logging.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
)

// unauthorized builds the 401 body shared by both rejection paths.
func unauthorized(message string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{
		"error": message,
		"code":  "UNAUTHORIZED",
	})
}

// presentedKey extracts the caller's key. Bearer tokens are the primary
// form; X-API-Key is accepted for webhook senders that cannot set an
// Authorization header.
func presentedKey(c echo.Context) string {
	if auth := c.Request().Header.Get("Authorization"); auth != "" {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
}

// APIKeyAuth guards the /api group with the key from the API_KEY
// environment variable. Comparison is constant-time. An empty API_KEY
// disables the check (development mode); health probes always pass.
func APIKeyAuth(logger *slog.Logger) echo.MiddlewareFunc {
	validAPIKey := os.Getenv("API_KEY")
	if validAPIKey == "" && logger != nil {
		logger.Warn("API_KEY not set - API is UNSECURED")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Path()

			if strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/ready") {
				return next(c)
			}
			if validAPIKey == "" {
				return next(c)
			}

			key := presentedKey(c)
			if key == "" {
				if logger != nil {
					logger.Warn("request without credentials",
						slog.String("ip", c.RealIP()),
						slog.String("path", path))
				}
				return unauthorized("missing authorization header")
			}

			if subtle.ConstantTimeCompare([]byte(key), []byte(validAPIKey)) != 1 {
				if logger != nil {
					logger.Warn("invalid API key attempt",
						slog.String("ip", c.RealIP()),
						slog.String("path", path))
				}
				return unauthorized("invalid API key")
			}

			return next(c)
		}
	}
}
