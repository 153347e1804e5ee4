package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
)

// StatusAuthorityTestSuite exercises classification-driven status transitions.
type StatusAuthorityTestSuite struct {
	suite.Suite
	db        *gorm.DB
	requests  repository.RequestRepository
	authority *StatusAuthority
}

func (s *StatusAuthorityTestSuite) SetupTest() {
	s.db = openTestDB(s.T())
	s.requests = repository.NewRequestRepository(s.db)
	s.authority = NewStatusAuthority(s.requests)
}

func (s *StatusAuthorityTestSuite) TearDownTest() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

func TestStatusAuthorityTestSuite(t *testing.T) {
	suite.Run(t, new(StatusAuthorityTestSuite))
}

func (s *StatusAuthorityTestSuite) createRequest(status models.RequestStatus) *models.Request {
	request := &models.Request{CounterpartyEmail: "c@example.com", Status: status}
	require.NoError(s.T(), s.requests.Create(context.Background(), request))
	return request
}

func (s *StatusAuthorityTestSuite) TestBounce_MarksSendFailed() {
	request := s.createRequest(models.StatusSent)

	status, changed, err := s.authority.ApplyClassification(context.Background(), request, models.ClassificationBounce)

	require.NoError(s.T(), err)
	assert.True(s.T(), changed)
	assert.Equal(s.T(), models.StatusSendFailed, status)

	got, _ := s.requests.GetByID(context.Background(), request.ID)
	assert.Equal(s.T(), models.StatusSendFailed, got.Status)
	assert.Equal(s.T(), models.ReadStatusBounced, got.ReadStatus)
}

func (s *StatusAuthorityTestSuite) TestGenuine_MarksReplied() {
	request := s.createRequest(models.StatusSent)

	status, changed, err := s.authority.ApplyClassification(context.Background(), request, models.ClassificationGenuine)

	require.NoError(s.T(), err)
	assert.True(s.T(), changed)
	assert.Equal(s.T(), models.StatusReplied, status)

	got, _ := s.requests.GetByID(context.Background(), request.ID)
	assert.Equal(s.T(), models.ReadStatusReplied, got.ReadStatus)
}

func (s *StatusAuthorityTestSuite) TestOutOfOffice_IsNoop() {
	request := s.createRequest(models.StatusSent)

	status, changed, err := s.authority.ApplyClassification(context.Background(), request, models.ClassificationOutOfOffice)

	require.NoError(s.T(), err)
	assert.False(s.T(), changed)
	assert.Equal(s.T(), models.StatusSent, status)

	got, _ := s.requests.GetByID(context.Background(), request.ID)
	assert.Equal(s.T(), models.StatusSent, got.Status)
	assert.Empty(s.T(), got.ReadStatus)
}

func (s *StatusAuthorityTestSuite) TestTerminalStatus_KeepsStatusButRecordsReadMarker() {
	for _, terminal := range []models.RequestStatus{models.StatusComplete, models.StatusFulfilled} {
		request := s.createRequest(terminal)

		status, changed, err := s.authority.ApplyClassification(context.Background(), request, models.ClassificationGenuine)

		require.NoError(s.T(), err)
		assert.False(s.T(), changed)
		assert.Equal(s.T(), terminal, status)

		got, _ := s.requests.GetByID(context.Background(), request.ID)
		assert.Equal(s.T(), terminal, got.Status, "a late reply never reopens a settled request")
		assert.Equal(s.T(), models.ReadStatusReplied, got.ReadStatus, "the audit marker still lands")
	}
}

func (s *StatusAuthorityTestSuite) TestUnknownClassification_IsAnError() {
	request := s.createRequest(models.StatusSent)

	_, changed, err := s.authority.ApplyClassification(context.Background(), request, models.Classification("WEIRD"))

	assert.Error(s.T(), err)
	assert.False(s.T(), changed)
}
