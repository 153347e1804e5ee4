package websocket

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

const defaultDashboardOrigin = "http://localhost:3000"

// normalizeOrigins trims the configured list and falls back to the
// development dashboard origin when nothing usable remains.
func normalizeOrigins(allowedOrigins []string) []string {
	filtered := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			filtered = append(filtered, origin)
		}
	}
	if len(filtered) == 0 {
		return []string{defaultDashboardOrigin}
	}
	return filtered
}

// NewSecureUpgrader creates a WebSocket upgrader that only upgrades
// requests from the configured dashboard origins. Same-origin requests
// (no Origin header) always pass.
func NewSecureUpgrader(allowedOrigins []string, logger *slog.Logger) websocket.Upgrader {
	origins := normalizeOrigins(allowedOrigins)

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			for _, allowed := range origins {
				if allowed == origin {
					return true
				}
			}

			if logger != nil {
				logger.Warn("rejected websocket connection",
					slog.String("origin", origin),
					slog.String("remote_ip", r.RemoteAddr))
			}
			return false
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}
