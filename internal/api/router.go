package api

import (
	"log/slog"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/solvereach/remindly-backend/internal/api/handlers"
	"github.com/solvereach/remindly-backend/internal/api/middleware"
	"github.com/solvereach/remindly-backend/internal/repository"
	"github.com/solvereach/remindly-backend/internal/services"
	ws "github.com/solvereach/remindly-backend/internal/websocket"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	DB        *gorm.DB
	Dispatch  *services.DispatchGuard
	Ingestion *services.IngestionService
	Sync      *services.SyncService
	Reminders *services.ReminderScheduler
	Hub       *ws.Hub
	Logger    *slog.Logger

	// AttachmentDir, when set, is served read-only under /api/attachments.
	AttachmentDir string

	// Security configuration
	APIKey         string   // API key for authentication (empty = disabled)
	AllowedOrigins []string // Allowed CORS origins
	RateLimit      int      // Requests per second (0 = use env default)
	RateBurst      int      // Burst size for rate limiter
	EnableAuth     bool     // Enable API key authentication
}

// NewRouter creates and configures the Echo router with all routes
func NewRouter(cfg *RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Security Middleware (applied in correct order)
	// 1. Recover from panics
	e.Use(middleware.Recover())

	// 2. Security headers (applied to all responses)
	e.Use(middleware.SecureHeaders())

	// 3. CORS - Set environment variable if origins provided in config
	if len(cfg.AllowedOrigins) > 0 {
		os.Setenv("ALLOWED_ORIGINS", strings.Join(cfg.AllowedOrigins, ","))
	}
	e.Use(middleware.SecureCORS())

	// 4. Rate limiting - use RateLimiterWithConfig if custom values provided
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(float64(cfg.RateLimit), cfg.RateBurst, cfg.Logger))
	} else {
		e.Use(middleware.RateLimiter(cfg.Logger))
	}

	// 5. Request logging
	if cfg.Logger != nil {
		e.Use(middleware.RequestLogger(cfg.Logger))
	}

	// Initialize repositories
	requestRepo := repository.NewRequestRepository(cfg.DB)
	outboundRepo := repository.NewOutboundMessageRepository(cfg.DB)
	inboundRepo := repository.NewInboundMessageRepository(cfg.DB)
	accountRepo := repository.NewAccountRepository(cfg.DB)
	queueRepo := repository.NewQueueRepository(cfg.DB)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB)
	requestHandler := handlers.NewRequestHandler(requestRepo, outboundRepo, inboundRepo, cfg.Dispatch, cfg.Reminders)
	inboundHandler := handlers.NewInboundHandler(cfg.Ingestion)
	accountHandler := handlers.NewAccountHandler(accountRepo, cfg.Sync)
	queueHandler := handlers.NewQueueHandler(queueRepo)

	// Health routes (no auth required)
	e.GET("/health", healthHandler.Health)
	e.GET("/ready", healthHandler.Ready)

	// WebSocket route
	if cfg.Hub != nil {
		upgrader := ws.NewSecureUpgrader(cfg.AllowedOrigins, cfg.Logger)
		wsHandler := handlers.NewWSHandler(cfg.Hub, upgrader, cfg.Logger)
		e.GET("/ws", wsHandler.Connect)
	}

	// API routes
	api := e.Group("/api")

	// Apply API key authentication if enabled
	// Set API_KEY env var if provided in config
	if cfg.EnableAuth && cfg.APIKey != "" {
		os.Setenv("API_KEY", cfg.APIKey)
	}
	api.Use(middleware.APIKeyAuth(cfg.Logger))

	// Request routes
	requests := api.Group("/requests")
	requests.POST("", requestHandler.Create)
	requests.GET("/:id", requestHandler.Get)
	requests.POST("/:id/send", requestHandler.Send)
	requests.PATCH("/:id/status", requestHandler.UpdateStatus)
	requests.POST("/:id/reminders", requestHandler.ScheduleReminders)
	requests.DELETE("/:id/reminders", requestHandler.StopReminders)
	requests.GET("/:id/messages", requestHandler.ListMessages)

	// Inbound webhook route
	api.POST("/webhooks/inbound", inboundHandler.Receive)

	// Connected account routes
	accounts := api.Group("/accounts")
	accounts.POST("", accountHandler.Connect)
	accounts.GET("", accountHandler.List)
	accounts.GET("/:id", accountHandler.Get)
	accounts.POST("/:id/sync", accountHandler.Sync)
	accounts.DELETE("/:id", accountHandler.Disconnect)

	// Delivery queue routes
	queue := api.Group("/queue")
	queue.GET("", queueHandler.List)
	queue.GET("/:id", queueHandler.Get)
	queue.POST("/:id/cancel", queueHandler.Cancel)

	// Attachment blobs, served uncacheable
	if cfg.AttachmentDir != "" {
		attachments := api.Group("/attachments", middleware.NoStore)
		attachments.Static("", cfg.AttachmentDir)
	}

	return e
}
