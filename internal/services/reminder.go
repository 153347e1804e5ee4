package services

import (
	"context"
	"fmt"
	"time"

	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
)

// ReminderConfig is the cadence a caller asks for when scheduling follow-ups.
// Zero values fall back to the product defaults.
type ReminderConfig struct {
	Enabled         bool `json:"enabled"`
	Approved        bool `json:"approved"`
	StartDelayHours int  `json:"start_delay_hours"`
	FrequencyDays   int  `json:"frequency_days"`
	MaxCount        int  `json:"max_count"`
}

// Cadence defaults applied when the caller leaves a field zero.
const (
	DefaultStartDelayHours = 72
	DefaultFrequencyDays   = 3
	DefaultMaxCount        = 3
)

// ReminderScheduler owns the follow-up cadence lifecycle. Initialization is
// idempotent per (request, counterparty) pair; stopping is monotonic.
type ReminderScheduler struct {
	reminders       repository.ReminderRepository
	requests        repository.RequestRepository
	maxCountCeiling int
}

func NewReminderScheduler(reminders repository.ReminderRepository, requests repository.RequestRepository, maxCountCeiling int) *ReminderScheduler {
	return &ReminderScheduler{
		reminders:       reminders,
		requests:        requests,
		maxCountCeiling: maxCountCeiling,
	}
}

// Initialize schedules the cadence for a request's counterparty. A no-op
// unless the config is both enabled and approved. Calling it twice for the
// same pair returns the existing state untouched; the configured max count is
// clamped to the system ceiling.
func (s *ReminderScheduler) Initialize(ctx context.Context, request *models.Request, cfg ReminderConfig) (*models.ReminderState, error) {
	if !cfg.Enabled || !cfg.Approved {
		return nil, nil
	}

	cfg = s.applyDefaults(cfg)

	firstSend := time.Now().Add(time.Duration(cfg.StartDelayHours) * time.Hour)
	state := &models.ReminderState{
		RequestID:         request.ID,
		CounterpartyEmail: request.CounterpartyEmail,
		NextSendAt:        &firstSend,
		FrequencyDays:     cfg.FrequencyDays,
		MaxCount:          cfg.MaxCount,
	}

	state, created, err := s.reminders.CreateOrGet(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("initialize reminder cadence: %w", err)
	}
	if created {
		// Freeze the effective config onto the request so later edits never
		// change an in-flight schedule.
		if err := s.requests.SaveReminderConfig(ctx, request.ID, cfg.Enabled, cfg.Approved, cfg.StartDelayHours, cfg.FrequencyDays, cfg.MaxCount); err != nil {
			return nil, fmt.Errorf("save reminder config: %w", err)
		}
	}
	return state, nil
}

// StopOnClassification stops the cadence when a genuine reply lands. Bounces
// and auto-replies never stop reminders: an out-of-office is exactly the case
// a follow-up exists for.
func (s *ReminderScheduler) StopOnClassification(ctx context.Context, requestID, counterpartyEmail string, classification models.Classification) error {
	if classification != models.ClassificationGenuine {
		return nil
	}
	if err := s.reminders.StopIfScheduled(ctx, requestID, counterpartyEmail, models.StopReasonReplied); err != nil {
		return fmt.Errorf("stop reminder cadence: %w", err)
	}
	return nil
}

// StopManually stops the cadence on explicit user action.
func (s *ReminderScheduler) StopManually(ctx context.Context, requestID, counterpartyEmail string) error {
	if err := s.reminders.StopIfScheduled(ctx, requestID, counterpartyEmail, models.StopReasonManual); err != nil {
		return fmt.Errorf("stop reminder cadence: %w", err)
	}
	return nil
}

// ListDue returns cadences whose next send time has passed.
func (s *ReminderScheduler) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ReminderState, error) {
	return s.reminders.ListDue(ctx, now, limit)
}

// RecordSent advances the cadence after a reminder went out. The repository
// stops the cadence when the send count reaches the frozen max.
func (s *ReminderScheduler) RecordSent(ctx context.Context, stateID string, now time.Time) (*models.ReminderState, error) {
	return s.reminders.RecordSent(ctx, stateID, now)
}

func (s *ReminderScheduler) applyDefaults(cfg ReminderConfig) ReminderConfig {
	if cfg.StartDelayHours <= 0 {
		cfg.StartDelayHours = DefaultStartDelayHours
	}
	if cfg.FrequencyDays <= 0 {
		cfg.FrequencyDays = DefaultFrequencyDays
	}
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = DefaultMaxCount
	}
	if s.maxCountCeiling > 0 && cfg.MaxCount > s.maxCountCeiling {
		cfg.MaxCount = s.maxCountCeiling
	}
	return cfg
}
