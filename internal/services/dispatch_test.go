package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	apperrors "github.com/solvereach/remindly-backend/internal/errors"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
	"github.com/solvereach/remindly-backend/internal/transport"
)

// fakeSender records every transport invocation and fails on demand. The
// onSend hook, when set, runs while the email is in flight, before the
// result is returned.
type fakeSender struct {
	mu     sync.Mutex
	calls  int
	err    error
	onSend func()
}

func (f *fakeSender) Send(ctx context.Context, email *transport.OutboundEmail) (*transport.SendResult, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	err := f.err
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &transport.SendResult{
		MessageIDHeader:   fmt.Sprintf("<fake-%d@mail.remindly.local>", n),
		ProviderMessageID: fmt.Sprintf("prov-%d", n),
	}, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// DispatchGuardTestSuite exercises idempotent dispatch end to end.
type DispatchGuardTestSuite struct {
	suite.Suite
	db        *gorm.DB
	requests  repository.RequestRepository
	attempts  repository.SendAttemptRepository
	outbound  repository.OutboundMessageRepository
	queue     repository.QueueRepository
	reminders repository.ReminderRepository
	sender    *fakeSender
	guard     *DispatchGuard
}

func (s *DispatchGuardTestSuite) SetupTest() {
	s.db = openTestDB(s.T())
	s.requests = repository.NewRequestRepository(s.db)
	s.attempts = repository.NewSendAttemptRepository(s.db)
	s.outbound = repository.NewOutboundMessageRepository(s.db)
	s.queue = repository.NewQueueRepository(s.db)
	s.reminders = repository.NewReminderRepository(s.db)
	s.sender = &fakeSender{}
	scheduler := NewReminderScheduler(s.reminders, s.requests, 0)
	s.guard = NewDispatchGuard(s.requests, s.attempts, s.outbound, s.queue, scheduler,
		s.sender, quietMailLogger(), "no-reply@mail.remindly.local", "Remindly", time.Minute)
}

func (s *DispatchGuardTestSuite) TearDownTest() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

func TestDispatchGuardTestSuite(t *testing.T) {
	suite.Run(t, new(DispatchGuardTestSuite))
}

func (s *DispatchGuardTestSuite) createRequest() *models.Request {
	request := &models.Request{CounterpartyEmail: "c@example.com", Status: models.StatusDraft}
	require.NoError(s.T(), s.requests.Create(context.Background(), request))
	return request
}

var testContent = EmailContent{Subject: "Invoice #42", TextBody: "Please find attached."}

func (s *DispatchGuardTestSuite) TestSend_FirstCallDispatches() {
	request := s.createRequest()

	outcome, err := s.guard.Send(context.Background(), request.ID, "key-1", testContent)

	require.NoError(s.T(), err)
	assert.True(s.T(), outcome.Dispatched)
	assert.False(s.T(), outcome.AlreadySent)
	assert.Equal(s.T(), 1, s.sender.callCount())

	got, _ := s.requests.GetByID(context.Background(), request.ID)
	assert.Equal(s.T(), models.StatusSent, got.Status)
	require.NotNil(s.T(), got.SentAt)
	assert.Equal(s.T(), outcome.SendAttemptID, got.SendAttemptID)

	messages, _ := s.outbound.ListByRequest(context.Background(), request.ID)
	require.Len(s.T(), messages, 1)
	assert.NotEmpty(s.T(), messages[0].MessageIDHeader)
}

func (s *DispatchGuardTestSuite) TestSend_SameKeyNeverSendsTwice() {
	request := s.createRequest()

	first, err := s.guard.Send(context.Background(), request.ID, "key-1", testContent)
	require.NoError(s.T(), err)

	second, err := s.guard.Send(context.Background(), request.ID, "key-1", testContent)
	require.NoError(s.T(), err)

	assert.True(s.T(), second.AlreadySent)
	assert.False(s.T(), second.Dispatched)
	assert.Equal(s.T(), first.SendAttemptID, second.SendAttemptID)
	assert.Equal(s.T(), 1, s.sender.callCount(), "exactly one transport invocation")
}

func (s *DispatchGuardTestSuite) TestSend_TwoGoroutinesSameKeySendOnce() {
	request := s.createRequest()

	var wg sync.WaitGroup
	outcomes := make([]*DispatchOutcome, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = s.guard.Send(context.Background(), request.ID, "key-1", testContent)
		}(i)
	}
	wg.Wait()

	require.NoError(s.T(), errs[0])
	require.NoError(s.T(), errs[1])
	assert.Equal(s.T(), 1, s.sender.callCount(), "exactly one transport invocation")
	assert.Equal(s.T(), outcomes[0].SendAttemptID, outcomes[1].SendAttemptID,
		"both callers observe the same attempt")
	assert.True(s.T(), outcomes[0].Dispatched != outcomes[1].Dispatched,
		"exactly one caller performed the dispatch")
}

func (s *DispatchGuardTestSuite) TestSend_LedgerRaceLoserReportsWinner() {
	request := s.createRequest()

	rival := &models.SendAttempt{RequestID: request.ID, IdempotencyKey: "rival-key"}
	rival, created, err := s.attempts.CreateOrGet(context.Background(), rival)
	require.NoError(s.T(), err)
	require.True(s.T(), created)

	// The rival settles the ledger while this call's email is in flight.
	rivalAt := time.Now().UTC().Add(-time.Minute)
	s.sender.onSend = func() {
		require.NoError(s.T(), s.requests.MarkSentIfUnsent(context.Background(), request.ID, rival.ID, rivalAt))
	}

	outcome, err := s.guard.Send(context.Background(), request.ID, "key-1", testContent)

	require.NoError(s.T(), err)
	assert.True(s.T(), outcome.AlreadySent)
	assert.False(s.T(), outcome.Dispatched)
	assert.Equal(s.T(), rival.ID, outcome.SendAttemptID, "the loser reports the winning attempt")
	require.NotNil(s.T(), outcome.SentAt)
	assert.WithinDuration(s.T(), rivalAt, *outcome.SentAt, time.Second)
}

func (s *DispatchGuardTestSuite) TestSend_SeedsReminderCadence() {
	request := &models.Request{
		CounterpartyEmail: "c@example.com",
		Status:            models.StatusDraft,
		RemindersEnabled:  true,
		RemindersApproved: true,
	}
	require.NoError(s.T(), s.requests.Create(context.Background(), request))

	outcome, err := s.guard.Send(context.Background(), request.ID, "key-1", testContent)
	require.NoError(s.T(), err)
	require.True(s.T(), outcome.Dispatched)

	state, err := s.reminders.GetByPair(context.Background(), request.ID, request.CounterpartyEmail)
	require.NoError(s.T(), err, "a settled send starts the follow-up cadence")
	assert.False(s.T(), state.Stopped())
	require.NotNil(s.T(), state.NextSendAt)
	assert.True(s.T(), state.NextSendAt.After(time.Now()))
}

func (s *DispatchGuardTestSuite) TestSend_NoCadenceWithoutApproval() {
	request := &models.Request{
		CounterpartyEmail: "c@example.com",
		Status:            models.StatusDraft,
		RemindersEnabled:  true,
	}
	require.NoError(s.T(), s.requests.Create(context.Background(), request))

	_, err := s.guard.Send(context.Background(), request.ID, "key-1", testContent)
	require.NoError(s.T(), err)

	_, err = s.reminders.GetByPair(context.Background(), request.ID, request.CounterpartyEmail)
	assert.ErrorIs(s.T(), err, repository.ErrNotFound, "an unapproved config never schedules")
}

func (s *DispatchGuardTestSuite) TestSend_EmptyKeyCollapsesToRequestScope() {
	request := s.createRequest()

	_, err := s.guard.Send(context.Background(), request.ID, "", testContent)
	require.NoError(s.T(), err)
	second, err := s.guard.Send(context.Background(), request.ID, "", testContent)
	require.NoError(s.T(), err)

	assert.True(s.T(), second.AlreadySent)
	assert.Equal(s.T(), 1, s.sender.callCount())
}

func (s *DispatchGuardTestSuite) TestSend_DifferentKeyAfterSettledLedgerIsAlreadySent() {
	request := s.createRequest()

	_, err := s.guard.Send(context.Background(), request.ID, "key-1", testContent)
	require.NoError(s.T(), err)

	outcome, err := s.guard.Send(context.Background(), request.ID, "key-2", testContent)
	require.NoError(s.T(), err)

	assert.True(s.T(), outcome.AlreadySent)
	assert.Equal(s.T(), 1, s.sender.callCount(), "a settled ledger short-circuits before the transport")
}

func (s *DispatchGuardTestSuite) TestSend_TransportFailureReleasesKey() {
	request := s.createRequest()
	s.sender.err = fmt.Errorf("%w: connection refused", apperrors.ErrTransportFailure)

	_, err := s.guard.Send(context.Background(), request.ID, "key-1", testContent)
	require.Error(s.T(), err)

	got, _ := s.requests.GetByID(context.Background(), request.ID)
	assert.Nil(s.T(), got.SentAt, "a failed send never settles the ledger")

	// The key is free again; the retry goes through.
	s.sender.err = nil
	outcome, err := s.guard.Send(context.Background(), request.ID, "key-1", testContent)
	require.NoError(s.T(), err)
	assert.True(s.T(), outcome.Dispatched)
}

func (s *DispatchGuardTestSuite) TestSend_RateLimitedDefersToQueue() {
	request := s.createRequest()
	s.sender.err = fmt.Errorf("%w: 421 too many connections", apperrors.ErrRateLimited)

	outcome, err := s.guard.Send(context.Background(), request.ID, "key-1", testContent)

	require.NoError(s.T(), err)
	assert.True(s.T(), outcome.Queued)
	assert.False(s.T(), outcome.Dispatched)
	require.NotEmpty(s.T(), outcome.QueuedEmailID)

	queued, err := s.queue.GetByID(context.Background(), outcome.QueuedEmailID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.QueueStatusPending, queued.Status)
	assert.Equal(s.T(), outcome.SendAttemptID, queued.SendAttemptID)
	assert.Equal(s.T(), request.CounterpartyEmail, queued.ToEmail)

	got, _ := s.requests.GetByID(context.Background(), request.ID)
	assert.Nil(s.T(), got.SentAt, "a deferred send leaves the request un-sent")
}

func (s *DispatchGuardTestSuite) TestSend_UnknownRequest() {
	_, err := s.guard.Send(context.Background(), "missing", "key-1", testContent)
	assert.True(s.T(), errors.Is(err, apperrors.ErrRequestNotFound))
}
