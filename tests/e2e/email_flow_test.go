//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/solvereach/remindly-backend/internal/api"
	"github.com/solvereach/remindly-backend/internal/api/response"
	applogger "github.com/solvereach/remindly-backend/internal/logger"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
	"github.com/solvereach/remindly-backend/internal/services"
	"github.com/solvereach/remindly-backend/internal/storage"
	"github.com/solvereach/remindly-backend/internal/transport"
)

// scriptedSender is the relay stand-in for the flow tests.
type scriptedSender struct {
	calls int
	err   error
}

func (f *scriptedSender) Send(ctx context.Context, email *transport.OutboundEmail) (*transport.SendResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &transport.SendResult{MessageIDHeader: "<flow-1@mail.remindly.local>"}, nil
}

// EmailFlowTestSuite drives the full request lifecycle through the real
// router: create, send, reminder schedule, inbound reply via webhook, and
// the resulting status transitions.
type EmailFlowTestSuite struct {
	suite.Suite
	router *echo.Echo
	db     *gorm.DB
	sender *scriptedSender
}

func (s *EmailFlowTestSuite) SetupTest() {
	os.Unsetenv("API_KEY")

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(s.T(), err)
	db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(s.T(), db.AutoMigrate(
		&models.Request{},
		&models.OutboundMessage{},
		&models.InboundMessage{},
		&models.InboundAttachment{},
		&models.SendAttempt{},
		&models.ReminderState{},
		&models.ConnectedAccount{},
		&models.QueuedEmail{},
	))
	s.db = db

	requests := repository.NewRequestRepository(db)
	outbound := repository.NewOutboundMessageRepository(db)
	inbound := repository.NewInboundMessageRepository(db)
	attempts := repository.NewSendAttemptRepository(db)
	queue := repository.NewQueueRepository(db)
	reminders := repository.NewReminderRepository(db)

	mailLog := applogger.NewMailLoggerWithHandler(slog.NewTextHandler(io.Discard, nil))
	blobs, err := storage.NewLocalBlobStorage(s.T().TempDir(), "/api/attachments")
	require.NoError(s.T(), err)

	s.sender = &scriptedSender{}
	scheduler := services.NewReminderScheduler(reminders, requests, 10)
	dispatch := services.NewDispatchGuard(requests, attempts, outbound, queue, scheduler, s.sender, mailLog,
		"no-reply@mail.remindly.local", "Remindly", time.Minute)
	ingestion := services.NewIngestionService(
		services.NewCorrelator(outbound, requests, mailLog),
		services.NewStatusAuthority(requests),
		scheduler,
		requests, inbound, blobs, nil, nil, mailLog)

	s.router = api.NewRouter(&api.RouterConfig{
		DB:        db,
		Dispatch:  dispatch,
		Ingestion: ingestion,
		Reminders: scheduler,
	})
}

func (s *EmailFlowTestSuite) TearDownTest() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

func TestEmailFlowTestSuite(t *testing.T) {
	suite.Run(t, new(EmailFlowTestSuite))
}

func (s *EmailFlowTestSuite) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *EmailFlowTestSuite) dataOf(rec *httptest.ResponseRecorder) map[string]interface{} {
	var resp response.APIResponse
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &resp))
	data, _ := resp.Data.(map[string]interface{})
	return data
}

func (s *EmailFlowTestSuite) TestFullLifecycle() {
	// Create the request.
	rec := s.do(http.MethodPost, "/api/requests",
		`{"title": "Invoice #42", "counterparty_email": "counterparty@example.com"}`)
	require.Equal(s.T(), http.StatusCreated, rec.Code)
	requestID := s.dataOf(rec)["id"].(string)

	// Send it with an idempotency key.
	rec = s.do(http.MethodPost, "/api/requests/"+requestID+"/send",
		`{"idempotency_key": "flow-key", "subject": "Invoice #42", "text_body": "Please pay."}`)
	require.Equal(s.T(), http.StatusOK, rec.Code)
	require.Equal(s.T(), true, s.dataOf(rec)["dispatched"])
	require.Equal(s.T(), 1, s.sender.calls)

	// Replaying the send changes nothing.
	rec = s.do(http.MethodPost, "/api/requests/"+requestID+"/send",
		`{"idempotency_key": "flow-key", "subject": "Invoice #42", "text_body": "Please pay."}`)
	require.Equal(s.T(), http.StatusOK, rec.Code)
	require.Equal(s.T(), true, s.dataOf(rec)["already_sent"])
	require.Equal(s.T(), 1, s.sender.calls)

	// Schedule follow-ups.
	rec = s.do(http.MethodPost, "/api/requests/"+requestID+"/reminders",
		`{"enabled": true, "approved": true, "frequency_days": 2}`)
	require.Equal(s.T(), http.StatusCreated, rec.Code)

	// The counterparty replies; the webhook delivers it.
	rec = s.do(http.MethodPost, "/api/webhooks/inbound", `{
		"from": "counterparty@example.com",
		"subject": "Re: Invoice #42",
		"text_body": "Paid this morning.",
		"provider_message_id": "flow-reply-1",
		"provider": "smtp",
		"in_reply_to": "<flow-1@mail.remindly.local>"
	}`)
	require.Equal(s.T(), http.StatusOK, rec.Code)
	require.Equal(s.T(), requestID, s.dataOf(rec)["request_id"])

	// The reply settled the request and stopped the cadence.
	rec = s.do(http.MethodGet, "/api/requests/"+requestID, "")
	require.Equal(s.T(), http.StatusOK, rec.Code)
	require.Equal(s.T(), string(models.StatusReplied), s.dataOf(rec)["status"])

	var state models.ReminderState
	require.NoError(s.T(), s.db.Where("request_id = ?", requestID).First(&state).Error)
	require.NotNil(s.T(), state.StoppedReason)
	require.Nil(s.T(), state.NextSendAt)

	// The conversation shows both directions.
	rec = s.do(http.MethodGet, "/api/requests/"+requestID+"/messages", "")
	require.Equal(s.T(), http.StatusOK, rec.Code)

	var paged response.PaginatedResponse
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &paged))
	conversation := paged.Data.(map[string]interface{})
	require.Len(s.T(), conversation["outbound"], 1)
	require.Len(s.T(), conversation["inbound"], 1)
}

func (s *EmailFlowTestSuite) TestWebhookReplayConverges() {
	rec := s.do(http.MethodPost, "/api/requests",
		`{"title": "Invoice #42", "counterparty_email": "counterparty@example.com"}`)
	requestID := s.dataOf(rec)["id"].(string)

	rec = s.do(http.MethodPost, "/api/requests/"+requestID+"/send",
		`{"subject": "Invoice #42", "text_body": "Please pay."}`)
	require.Equal(s.T(), http.StatusOK, rec.Code)

	payload := `{
		"from": "counterparty@example.com",
		"subject": "Re: Invoice #42",
		"text_body": "Paid.",
		"provider_message_id": "flow-reply-2",
		"provider": "smtp",
		"in_reply_to": "<flow-1@mail.remindly.local>"
	}`
	first := s.do(http.MethodPost, "/api/webhooks/inbound", payload)
	require.Equal(s.T(), http.StatusOK, first.Code)

	second := s.do(http.MethodPost, "/api/webhooks/inbound", payload)
	require.Equal(s.T(), http.StatusOK, second.Code)
	require.Equal(s.T(), true, s.dataOf(second)["duplicate"])

	var count int64
	s.db.Model(&models.InboundMessage{}).Count(&count)
	require.Equal(s.T(), int64(1), count)
}
