package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/solvereach/remindly-backend/internal/errors"
	"github.com/solvereach/remindly-backend/internal/logger"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
)

// FetchResult is what a provider adapter returns for one pull.
type FetchResult struct {
	Messages []InboundEmail
	// NextCursor is the provider's opaque position after this pull. Empty
	// means the provider had no new position to record.
	NextCursor string
	// Bootstrapped means the adapter fell back to a lookback-window scan
	// because the cursor was missing or expired.
	Bootstrapped bool
}

// MailProvider pulls inbound mail for one connected account. Adapters must
// return apperrors.ErrReconnectRequired (wrapped) on terminal credential
// failures so the account gets disabled instead of retried forever.
type MailProvider interface {
	Name() string
	FetchInboundSinceCursor(ctx context.Context, account *models.ConnectedAccount, cursor string, lookback time.Duration) (*FetchResult, error)
}

// ProviderRegistry resolves a provider adapter by name.
type ProviderRegistry interface {
	Get(name string) (MailProvider, error)
}

// SyncConfig holds configuration for the periodic provider sync.
type SyncConfig struct {
	// Interval is how often the sync loop runs over all active accounts.
	Interval time.Duration
	// LookbackDays bounds the bootstrap scan when an account has no cursor.
	LookbackDays int
}

// SyncStats summarizes one sync pass for one account.
type SyncStats struct {
	Fetched   int `json:"fetched"`
	Persisted int `json:"persisted"`
	Skipped   int `json:"skipped"`
	Orphaned  int `json:"orphaned"`
}

// SyncService is the pull-based ingestion path: it walks active accounts,
// fetches inbound mail from each account's provider since the stored cursor,
// funnels every message through the ingestion service, and advances the
// cursor only after the batch lands. One account failing never stops the
// pass for the others.
type SyncService struct {
	accounts  repository.AccountRepository
	registry  ProviderRegistry
	ingestion *IngestionService
	config    SyncConfig
	mailLog   *logger.MailLogger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewSyncService creates a sync service over the given registry.
func NewSyncService(
	accounts repository.AccountRepository,
	registry ProviderRegistry,
	ingestion *IngestionService,
	config SyncConfig,
	mailLog *logger.MailLogger,
) *SyncService {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.LookbackDays <= 0 {
		config.LookbackDays = 7
	}
	return &SyncService{
		accounts:  accounts,
		registry:  registry,
		ingestion: ingestion,
		config:    config,
		mailLog:   mailLog,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic sync background job.
func (s *SyncService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.syncLoop()

	s.mailLog.Info("provider sync service started",
		"interval", s.config.Interval.String(),
		"lookback_days", s.config.LookbackDays)
}

// Stop gracefully stops the sync background job.
func (s *SyncService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.mailLog.Info("provider sync service stopped")
}

// IsRunning returns whether the sync loop is currently running.
func (s *SyncService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *SyncService) syncLoop() {
	defer s.wg.Done()

	// Run immediately on start
	s.SyncAll(context.Background())

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.SyncAll(context.Background())
		}
	}
}

// SyncAll runs one pass over every active account. Per-account failures are
// logged and isolated; the pass always visits every account.
func (s *SyncService) SyncAll(ctx context.Context) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		s.mailLog.Error("failed to list accounts for sync", "error", err)
		return
	}

	for i := range accounts {
		account := accounts[i]
		if _, err := s.SyncAccount(ctx, &account); err != nil {
			s.mailLog.Error("account sync failed",
				"account_id", account.ID,
				"provider", account.Provider,
				"error", err)
		}
	}
}

// SyncAccount runs one sync pass for a single account. The cursor advances
// only after the fetched batch has gone through ingestion, so a crash
// mid-batch re-fetches the same window and the dedup guard absorbs the
// replay.
func (s *SyncService) SyncAccount(ctx context.Context, account *models.ConnectedAccount) (*SyncStats, error) {
	provider, err := s.registry.Get(account.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve provider %q: %w", account.Provider, err)
	}

	cursor := ""
	if account.SyncCursor != nil {
		cursor = account.SyncCursor[account.Provider]
	}
	lookback := time.Duration(s.config.LookbackDays) * 24 * time.Hour

	result, err := provider.FetchInboundSinceCursor(ctx, account, cursor, lookback)
	if err != nil {
		if errors.Is(err, apperrors.ErrReconnectRequired) {
			// Terminal credential failure: disable the account so the loop
			// never hammers a revoked grant.
			if deactErr := s.accounts.Deactivate(ctx, account.ID, models.DisabledReasonRevoked); deactErr != nil {
				s.mailLog.Error("failed to deactivate account", "account_id", account.ID, "error", deactErr)
			}
			s.mailLog.AccountDisabled(account.ID, account.Provider, models.DisabledReasonRevoked)
		}
		return nil, fmt.Errorf("fetch inbound for account %s: %w", account.ID, err)
	}

	stats := &SyncStats{Fetched: len(result.Messages)}
	for i := range result.Messages {
		msg := result.Messages[i]
		if msg.Provider == "" {
			msg.Provider = account.Provider
		}

		outcome, err := s.ingestion.Ingest(ctx, &msg)
		if err != nil {
			// One bad message must not abort the batch or stall the cursor
			// behind it forever.
			s.mailLog.Error("sync ingestion failed",
				"account_id", account.ID,
				"provider_message_id", msg.ProviderMessageID,
				"error", err)
			stats.Skipped++
			continue
		}
		switch {
		case outcome.Duplicate:
			stats.Skipped++
		case outcome.Orphaned:
			stats.Orphaned++
		default:
			stats.Persisted++
		}
	}

	if result.NextCursor != "" && result.NextCursor != cursor {
		if err := s.accounts.MergeSyncCursor(ctx, account.ID, account.Provider, result.NextCursor, time.Now().UTC()); err != nil {
			return stats, fmt.Errorf("advance sync cursor: %w", err)
		}
	}

	s.mailLog.SyncPass(account.ID, account.Provider, stats.Fetched, stats.Persisted, stats.Skipped+stats.Orphaned)
	return stats, nil
}
