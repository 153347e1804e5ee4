package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/solvereach/remindly-backend/internal/validator"
)

// Config holds all configuration for the application
type Config struct {
	// Database
	DatabaseURL string

	// Server ports
	APIPort  int
	SMTPPort int

	// Outbound relay (SMTP transport)
	RelayAddr     string
	RelayUsername string
	RelayPassword string
	SenderDomain  string

	// Sync
	SyncInterval     time.Duration
	SyncLookbackDays int

	// Delivery queue
	QueueBaseDelay      time.Duration
	QueueMaxAttempts    int
	QueueWorkerInterval time.Duration

	// Reminders
	ReminderMaxCountCeiling int

	// Provider OAuth credentials
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	GraphBaseURL          string

	// Storage
	AttachmentStoragePath string

	// Logging
	LogLevel string

	// Security
	APIKey         string
	AllowedOrigins string
	AppEnv         string

	// Rate Limiting
	RateLimitRequests float64
	RateLimitBurst    int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	// Required: DATABASE_URL
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set")
	}

	var err error
	if cfg.APIPort, err = getEnvInt("API_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = getEnvInt("SMTP_PORT", 2525); err != nil {
		return nil, err
	}

	// Outbound relay
	cfg.RelayAddr = getEnvOrDefault("RELAY_ADDR", "localhost:587")
	cfg.RelayUsername = os.Getenv("RELAY_USERNAME")
	cfg.RelayPassword = os.Getenv("RELAY_PASSWORD")
	cfg.SenderDomain = getEnvOrDefault("SENDER_DOMAIN", "mail.remindly.local")

	// Sync
	if cfg.SyncInterval, err = getEnvDuration("SYNC_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SyncLookbackDays, err = getEnvInt("SYNC_LOOKBACK_DAYS", 7); err != nil {
		return nil, err
	}

	// Delivery queue
	if cfg.QueueBaseDelay, err = getEnvDuration("QUEUE_BASE_DELAY", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.QueueMaxAttempts, err = getEnvInt("QUEUE_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.QueueWorkerInterval, err = getEnvDuration("QUEUE_WORKER_INTERVAL", time.Minute); err != nil {
		return nil, err
	}

	// Reminders
	if cfg.ReminderMaxCountCeiling, err = getEnvInt("REMINDER_MAX_COUNT_CEILING", 10); err != nil {
		return nil, err
	}

	// Provider OAuth credentials (optional; a provider without credentials
	// simply is not registered)
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.MicrosoftClientID = os.Getenv("MICROSOFT_CLIENT_ID")
	cfg.MicrosoftClientSecret = os.Getenv("MICROSOFT_CLIENT_SECRET")
	cfg.GraphBaseURL = os.Getenv("GRAPH_BASE_URL")

	// ATTACHMENT_STORAGE_PATH (default: ./attachments)
	cfg.AttachmentStoragePath = getEnvOrDefault("ATTACHMENT_STORAGE_PATH", "./attachments")

	// LOG_LEVEL (default: info)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Security configuration
	cfg.APIKey = os.Getenv("API_KEY")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.AppEnv = getEnvOrDefault("APP_ENV", "development")

	// Rate limiting configuration
	if rps := os.Getenv("RATE_LIMIT_REQUESTS"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.RateLimitRequests = v
		}
	} else {
		cfg.RateLimitRequests = 10.0
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		if v, err := strconv.Atoi(burst); err == nil {
			cfg.RateLimitBurst = v
		}
	} else {
		cfg.RateLimitBurst = 20
	}

	return cfg, nil
}

// LoadWithValidation loads and validates configuration, failing fast on errors
func LoadWithValidation() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Production-specific validation
	if cfg.AppEnv == "production" {
		if err := cfg.ValidateProduction(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DatabaseURL cannot be empty")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("APIPort must be between 1 and 65535")
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTPPort must be between 1 and 65535")
	}
	if c.AttachmentStoragePath == "" {
		return fmt.Errorf("AttachmentStoragePath cannot be empty")
	}
	if c.SyncLookbackDays <= 0 {
		return fmt.Errorf("SyncLookbackDays must be positive")
	}
	if c.QueueMaxAttempts <= 0 {
		return fmt.Errorf("QueueMaxAttempts must be positive")
	}
	if c.QueueBaseDelay <= 0 {
		return fmt.Errorf("QueueBaseDelay must be positive")
	}
	if c.ReminderMaxCountCeiling <= 0 {
		return fmt.Errorf("ReminderMaxCountCeiling must be positive")
	}
	if err := validator.ValidateDomain(c.SenderDomain); err != nil {
		return fmt.Errorf("SenderDomain: %w", err)
	}
	return nil
}

// ValidateProduction performs additional validation for production environment
func (c *Config) ValidateProduction() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required in production")
	}

	if c.AllowedOrigins == "" {
		return fmt.Errorf("ALLOWED_ORIGINS is required in production")
	}

	// Check for wildcard in production
	if strings.Contains(c.AllowedOrigins, "*") {
		return fmt.Errorf("wildcard (*) origins are not allowed in production")
	}

	// Check for sslmode=disable in database URL
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		return fmt.Errorf("sslmode=disable is not allowed in production")
	}

	return nil
}

// LogConfig logs configuration values (excluding secrets)
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.Int("api_port", c.APIPort),
		slog.Int("smtp_port", c.SMTPPort),
		slog.String("relay_addr", c.RelayAddr),
		slog.Duration("sync_interval", c.SyncInterval),
		slog.Int("sync_lookback_days", c.SyncLookbackDays),
		slog.Duration("queue_base_delay", c.QueueBaseDelay),
		slog.Int("queue_max_attempts", c.QueueMaxAttempts),
		slog.Int("reminder_max_count_ceiling", c.ReminderMaxCountCeiling),
		slog.String("storage_path", c.AttachmentStoragePath),
		slog.String("log_level", c.LogLevel),
		slog.String("app_env", c.AppEnv),
		slog.Bool("api_key_set", c.APIKey != ""),
		slog.Bool("relay_auth_set", c.RelayUsername != ""),
		slog.Float64("rate_limit_rps", c.RateLimitRequests),
		slog.Int("rate_limit_burst", c.RateLimitBurst),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	return v, nil
}
