package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/solvereach/remindly-backend/internal/api"
	"github.com/solvereach/remindly-backend/internal/config"
	"github.com/solvereach/remindly-backend/internal/database"
	"github.com/solvereach/remindly-backend/internal/events"
	"github.com/solvereach/remindly-backend/internal/logger"
	"github.com/solvereach/remindly-backend/internal/provider"
	"github.com/solvereach/remindly-backend/internal/repository"
	"github.com/solvereach/remindly-backend/internal/services"
	smtpserver "github.com/solvereach/remindly-backend/internal/smtp"
	"github.com/solvereach/remindly-backend/internal/storage"
	"github.com/solvereach/remindly-backend/internal/transport"
	ws "github.com/solvereach/remindly-backend/internal/websocket"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.LoadWithValidation()
	if err != nil {
		slog.Error("configuration error", slog.Any("error", err))
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)
	mailLog := logger.NewMailLogger()

	slog.Info("starting remindly backend")
	cfg.LogConfig(log)

	// Database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		slog.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Repositories
	requestRepo := repository.NewRequestRepository(db)
	outboundRepo := repository.NewOutboundMessageRepository(db)
	inboundRepo := repository.NewInboundMessageRepository(db)
	attemptRepo := repository.NewSendAttemptRepository(db)
	reminderRepo := repository.NewReminderRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	queueRepo := repository.NewQueueRepository(db)

	// Attachment blob storage
	blobs, err := storage.NewLocalBlobStorage(cfg.AttachmentStoragePath, "/api/attachments")
	if err != nil {
		slog.Error("failed to initialize blob storage", slog.Any("error", err))
		os.Exit(1)
	}

	// Event dispatcher and WebSocket hub
	dispatcher := events.NewAsyncDispatcher(log, 256)
	dispatcher.Subscribe(events.InboundReceived, func(e events.Event) {
		log.Debug("event", slog.String("name", e.Name), slog.Any("payload", e.Payload))
	})
	dispatcher.Start()

	hub := ws.NewHub(log)
	go hub.Run()

	// Outbound transport
	sender := transport.NewSMTPSender(cfg.RelayAddr, cfg.RelayUsername, cfg.RelayPassword, cfg.SenderDomain)
	fromAddress := "no-reply@" + cfg.SenderDomain

	// Core services
	correlator := services.NewCorrelator(outboundRepo, requestRepo, mailLog)
	status := services.NewStatusAuthority(requestRepo)
	reminders := services.NewReminderScheduler(reminderRepo, requestRepo, cfg.ReminderMaxCountCeiling)
	dispatch := services.NewDispatchGuard(
		requestRepo, attemptRepo, outboundRepo, queueRepo, reminders,
		sender, mailLog, fromAddress, "Remindly", cfg.QueueBaseDelay)
	ingestion := services.NewIngestionService(
		correlator, status, reminders, requestRepo, inboundRepo,
		blobs, dispatcher, hub, mailLog)

	// Provider registry: only providers with credentials are registered.
	var providers []services.MailProvider
	if cfg.GoogleClientID != "" {
		tokens := provider.NewTokenManager(&oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmailapi.GmailReadonlyScope},
		}, accountRepo)
		providers = append(providers, provider.NewGmailProvider(tokens))
	}
	if cfg.MicrosoftClientID != "" {
		tokens := provider.NewTokenManager(&oauth2.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			Scopes:       []string{"https://graph.microsoft.com/Mail.Read", "offline_access"},
		}, accountRepo)
		providers = append(providers, provider.NewOutlookProvider(tokens, cfg.GraphBaseURL))
	}

	syncService := services.NewSyncService(accountRepo, provider.NewRegistry(providers...), ingestion,
		services.SyncConfig{
			Interval:     cfg.SyncInterval,
			LookbackDays: cfg.SyncLookbackDays,
		}, mailLog)
	syncService.Start()

	queueWorker := services.NewDeliveryQueueService(
		queueRepo, requestRepo, attemptRepo, outboundRepo, reminders, sender,
		services.DeliveryQueueConfig{
			Interval:    cfg.QueueWorkerInterval,
			BaseDelay:   cfg.QueueBaseDelay,
			FromAddress: fromAddress,
			FromName:    "Remindly",
		}, mailLog)
	queueWorker.Start()

	// Inbound SMTP listener
	backend := smtpserver.NewBackend(&smtpserver.BackendConfig{
		Ingestion:    ingestion,
		SenderDomain: cfg.SenderDomain,
		Logger:       log,
	})
	smtpSrv := smtpserver.NewSecureServer(backend, &smtpserver.ServerConfig{
		Addr:          fmt.Sprintf(":%d", cfg.SMTPPort),
		Domain:        cfg.SenderDomain,
		AllowInsecure: cfg.AppEnv != "production",
	})
	go func() {
		slog.Info("SMTP server listening", slog.String("addr", smtpSrv.Addr))
		if err := smtpSrv.ListenAndServe(); err != nil {
			slog.Error("SMTP server stopped", slog.Any("error", err))
		}
	}()

	// HTTP API
	var origins []string
	if cfg.AllowedOrigins != "" {
		origins = strings.Split(cfg.AllowedOrigins, ",")
	}
	e := api.NewRouter(&api.RouterConfig{
		DB:            db,
		Dispatch:      dispatch,
		Ingestion:     ingestion,
		Sync:          syncService,
		Reminders:     reminders,
		Hub:           hub,
		Logger:        log,
		AttachmentDir: cfg.AttachmentStoragePath,

		APIKey:         cfg.APIKey,
		AllowedOrigins: origins,
		RateLimit:      int(cfg.RateLimitRequests),
		RateBurst:      cfg.RateLimitBurst,
		EnableAuth:     cfg.APIKey != "",
	})
	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		slog.Info("API server listening", slog.String("addr", addr))
		if err := e.Start(addr); err != nil {
			slog.Info("API server stopped", slog.Any("error", err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	syncService.Stop()
	queueWorker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := smtpSrv.Shutdown(ctx); err != nil {
		slog.Warn("SMTP shutdown error", slog.Any("error", err))
	}
	if err := e.Shutdown(ctx); err != nil {
		slog.Warn("API shutdown error", slog.Any("error", err))
	}
	dispatcher.Stop()

	slog.Info("server stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
