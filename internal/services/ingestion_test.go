package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	apperrors "github.com/solvereach/remindly-backend/internal/errors"
	"github.com/solvereach/remindly-backend/internal/events"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
)

// memoryBlobStorage keeps uploaded blobs in a map.
type memoryBlobStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemoryBlobStorage() *memoryBlobStorage {
	return &memoryBlobStorage{blobs: map[string][]byte{}}
}

func (m *memoryBlobStorage) Upload(data []byte, key, mimeType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return "/api/attachments/" + key, nil
}

func (m *memoryBlobStorage) GetURL(key string) (string, error) {
	return "/api/attachments/" + key, nil
}

func (m *memoryBlobStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// recordingNotifier captures websocket pushes.
type recordingNotifier struct {
	mu      sync.Mutex
	replies []string
}

func (r *recordingNotifier) NotifyReply(requestID, messageID, classification, subject string, receivedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, requestID)
}

// recordingDispatcher captures published events synchronously.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingDispatcher) Dispatch(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// IngestionServiceTestSuite exercises the full inbound pipeline on a real
// store: dedup, classification, correlation, status, reminders, attachments.
type IngestionServiceTestSuite struct {
	suite.Suite
	db         *gorm.DB
	requests   repository.RequestRepository
	outbound   repository.OutboundMessageRepository
	inbound    repository.InboundMessageRepository
	reminders  repository.ReminderRepository
	blobs      *memoryBlobStorage
	notifier   *recordingNotifier
	dispatcher *recordingDispatcher
	service    *IngestionService
}

func (s *IngestionServiceTestSuite) SetupTest() {
	s.db = openTestDB(s.T())
	s.requests = repository.NewRequestRepository(s.db)
	s.outbound = repository.NewOutboundMessageRepository(s.db)
	s.inbound = repository.NewInboundMessageRepository(s.db)
	s.reminders = repository.NewReminderRepository(s.db)
	s.blobs = newMemoryBlobStorage()
	s.notifier = &recordingNotifier{}
	s.dispatcher = &recordingDispatcher{}

	mailLog := quietMailLogger()
	scheduler := NewReminderScheduler(s.reminders, s.requests, 10)
	s.service = NewIngestionService(
		NewCorrelator(s.outbound, s.requests, mailLog),
		NewStatusAuthority(s.requests),
		scheduler,
		s.requests,
		s.inbound,
		s.blobs,
		s.dispatcher,
		s.notifier,
		mailLog,
	)
}

func (s *IngestionServiceTestSuite) TearDownTest() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

func TestIngestionServiceTestSuite(t *testing.T) {
	suite.Run(t, new(IngestionServiceTestSuite))
}

// seedConversation creates a sent request with one outbound message and an
// active reminder cadence.
func (s *IngestionServiceTestSuite) seedConversation() *models.Request {
	request := &models.Request{CounterpartyEmail: "c@example.com", Status: models.StatusSent}
	require.NoError(s.T(), s.requests.Create(context.Background(), request))

	require.NoError(s.T(), s.outbound.Create(context.Background(), &models.OutboundMessage{
		RequestID:         request.ID,
		CounterpartyEmail: request.CounterpartyEmail,
		Subject:           "Invoice #42",
		MessageIDHeader:   "<mid-1@mail.remindly.local>",
		SentAt:            time.Now().UTC(),
	}))

	next := time.Now().Add(72 * time.Hour)
	_, _, err := s.reminders.CreateOrGet(context.Background(), &models.ReminderState{
		RequestID:         request.ID,
		CounterpartyEmail: request.CounterpartyEmail,
		NextSendAt:        &next,
		FrequencyDays:     3,
		MaxCount:          3,
	})
	require.NoError(s.T(), err)
	return request
}

func (s *IngestionServiceTestSuite) genuineReply(providerMessageID string) *InboundEmail {
	return &InboundEmail{
		From:              "c@example.com",
		Subject:           "Re: Invoice #42",
		Body:              "Paid this morning.",
		ProviderMessageID: providerMessageID,
		Provider:          models.ProviderGmail,
		InReplyTo:         "<mid-1@mail.remindly.local>",
	}
}

func (s *IngestionServiceTestSuite) TestIngest_GenuineReplyUpdatesEverything() {
	request := s.seedConversation()

	result, err := s.service.Ingest(context.Background(), s.genuineReply("msg-1"))

	require.NoError(s.T(), err)
	assert.Equal(s.T(), request.ID, result.RequestID)
	assert.Equal(s.T(), models.ClassificationGenuine, result.Classification)
	assert.Equal(s.T(), StrategyMessageID, result.Strategy)

	got, _ := s.requests.GetByID(context.Background(), request.ID)
	assert.Equal(s.T(), models.StatusReplied, got.Status)
	assert.Equal(s.T(), models.ReadStatusReplied, got.ReadStatus)

	state, _ := s.reminders.GetByPair(context.Background(), request.ID, request.CounterpartyEmail)
	assert.True(s.T(), state.Stopped(), "a genuine reply stops the cadence")

	assert.Equal(s.T(), []string{request.ID}, s.notifier.replies)
	require.NotEmpty(s.T(), s.dispatcher.events)
	assert.Equal(s.T(), events.InboundReceived, s.dispatcher.events[0].Name)
}

func (s *IngestionServiceTestSuite) TestIngest_ReplayIsNoop() {
	request := s.seedConversation()

	first, err := s.service.Ingest(context.Background(), s.genuineReply("msg-1"))
	require.NoError(s.T(), err)
	require.False(s.T(), first.Duplicate)

	second, err := s.service.Ingest(context.Background(), s.genuineReply("msg-1"))
	require.NoError(s.T(), err)
	assert.True(s.T(), second.Duplicate)

	_, total, _ := s.inbound.ListByRequest(context.Background(), request.ID, 10, 0)
	assert.EqualValues(s.T(), 1, total, "replay must not create a second row")
	assert.Len(s.T(), s.notifier.replies, 1, "replay must not notify again")
}

func (s *IngestionServiceTestSuite) TestIngest_BounceDoesNotStopReminders() {
	request := s.seedConversation()

	bounce := &InboundEmail{
		From:              "mailer-daemon@mx.example.com",
		Subject:           "Undeliverable: Invoice #42",
		Body:              "550 user unknown",
		ProviderMessageID: "bounce-1",
		Provider:          models.ProviderSMTP,
		InReplyTo:         "<mid-1@mail.remindly.local>",
	}
	result, err := s.service.Ingest(context.Background(), bounce)

	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.ClassificationBounce, result.Classification)

	got, _ := s.requests.GetByID(context.Background(), request.ID)
	assert.Equal(s.T(), models.StatusSendFailed, got.Status)
	assert.Equal(s.T(), models.ReadStatusBounced, got.ReadStatus)

	state, _ := s.reminders.GetByPair(context.Background(), request.ID, request.CounterpartyEmail)
	assert.False(s.T(), state.Stopped(), "bounces never stop the cadence")
}

func (s *IngestionServiceTestSuite) TestIngest_OutOfOfficeLeavesStatusAndCadence() {
	request := s.seedConversation()

	ooo := s.genuineReply("ooo-1")
	ooo.Subject = "Automatic reply: Invoice #42"
	result, err := s.service.Ingest(context.Background(), ooo)

	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.ClassificationOutOfOffice, result.Classification)

	got, _ := s.requests.GetByID(context.Background(), request.ID)
	assert.Equal(s.T(), models.StatusSent, got.Status)

	state, _ := s.reminders.GetByPair(context.Background(), request.ID, request.CounterpartyEmail)
	assert.False(s.T(), state.Stopped(), "an out-of-office is exactly the case a follow-up exists for")

	stored, _ := s.inbound.GetByID(context.Background(), result.MessageID)
	assert.True(s.T(), stored.IsAutoReply)
}

func (s *IngestionServiceTestSuite) TestIngest_OrphanIsDiscarded() {
	s.seedConversation()

	result, err := s.service.Ingest(context.Background(), &InboundEmail{
		From:              "stranger@example.com",
		Subject:           "Unrelated conversation thread",
		ProviderMessageID: "orphan-1",
		Provider:          models.ProviderGmail,
	})

	require.NoError(s.T(), err)
	assert.True(s.T(), result.Orphaned)

	var count int64
	s.db.Model(&models.InboundMessage{}).Count(&count)
	assert.EqualValues(s.T(), 0, count, "orphans are never persisted")
	assert.Empty(s.T(), s.notifier.replies)
}

func (s *IngestionServiceTestSuite) TestIngest_MissingProviderIdentityRejected() {
	_, err := s.service.Ingest(context.Background(), &InboundEmail{From: "c@example.com"})
	assert.ErrorIs(s.T(), err, apperrors.ErrInvalidInput)
}

func (s *IngestionServiceTestSuite) TestIngest_StoresAttachmentsAndSkipsBlocked() {
	s.seedConversation()

	reply := s.genuineReply("msg-1")
	reply.Attachments = []IncomingAttachment{
		{Filename: "receipt.pdf", Content: []byte("%PDF-1.4"), ContentType: "application/pdf"},
		{Filename: "malware.exe", Content: []byte("MZ"), ContentType: "application/octet-stream"},
	}

	result, err := s.service.Ingest(context.Background(), reply)
	require.NoError(s.T(), err)

	stored, err := s.inbound.GetByID(context.Background(), result.MessageID)
	require.NoError(s.T(), err)
	require.Len(s.T(), stored.Attachments, 1, "blocked extensions are skipped, not fatal")
	assert.Equal(s.T(), "receipt.pdf", stored.Attachments[0].Filename)
	assert.NotEmpty(s.T(), stored.Attachments[0].URL)

	assert.Len(s.T(), s.blobs.blobs, 1)
}
