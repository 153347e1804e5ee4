package middleware

import (
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const developmentOrigin = "http://localhost:3000"

// allowedOrigins resolves the origin allow-list from ALLOWED_ORIGINS.
// Wildcards are stripped in production; with nothing left, only the
// development origin remains.
func allowedOrigins() []string {
	raw := os.Getenv("ALLOWED_ORIGINS")
	if raw == "" {
		raw = developmentOrigin
	}

	origins := make([]string, 0, 4)
	for _, origin := range strings.Split(raw, ",") {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" && os.Getenv("APP_ENV") == "production" {
			continue
		}
		origins = append(origins, origin)
	}

	if len(origins) == 0 {
		origins = []string{developmentOrigin}
	}
	return origins
}

// SecureCORS restricts cross-origin access to the configured dashboard
// origins. Methods mirror the routes the API actually serves.
func SecureCORS() echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     allowedOrigins(),
		AllowMethods:     []string{echo.GET, echo.POST, echo.PATCH, echo.DELETE, echo.OPTIONS},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-API-Key", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
