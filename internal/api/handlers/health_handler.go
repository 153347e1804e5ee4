package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	PingMS   int64             `json:"ping_ms"`
}

// checkDatabase pings the underlying connection and reports how long the
// round trip took.
func (h *HealthHandler) checkDatabase() (time.Duration, error) {
	sqlDB, err := h.db.DB()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	if err := sqlDB.Ping(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Health handles GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	resp := HealthResponse{
		Status:   "healthy",
		Services: map[string]string{"database": "healthy"},
	}
	statusCode := http.StatusOK

	elapsed, err := h.checkDatabase()
	if err != nil {
		resp.Status = "unhealthy"
		resp.Services["database"] = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else {
		resp.PingMS = elapsed.Milliseconds()
	}

	return c.JSON(statusCode, resp)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c echo.Context) error {
	if _, err := h.checkDatabase(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database unreachable",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
	})
}
