package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/solvereach/remindly-backend/internal/models"
)

// AccountRepositoryTestSuite is the test suite for AccountRepository
type AccountRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo AccountRepository
}

func (s *AccountRepositoryTestSuite) SetupSuite() {
	s.db = openTestDB(s.T())
	s.repo = NewAccountRepository(s.db)
}

func (s *AccountRepositoryTestSuite) TearDownSuite() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

func (s *AccountRepositoryTestSuite) SetupTest() {
	truncateAll(s.db)
}

func TestAccountRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(AccountRepositoryTestSuite))
}

func (s *AccountRepositoryTestSuite) createAccount(email string) *models.ConnectedAccount {
	account := &models.ConnectedAccount{
		Email:    email,
		Provider: models.ProviderGmail,
		IsActive: true,
	}
	require.NoError(s.T(), s.repo.Create(context.Background(), account))
	return account
}

func (s *AccountRepositoryTestSuite) TestCreate_DuplicateEmail() {
	s.createAccount("user@example.com")

	err := s.repo.Create(context.Background(), &models.ConnectedAccount{
		Email:    "user@example.com",
		Provider: models.ProviderOutlook,
	})
	assert.ErrorIs(s.T(), err, ErrDuplicateEntry)
}

func (s *AccountRepositoryTestSuite) TestMergeSyncCursor_PreservesOtherProviders() {
	account := s.createAccount("user@example.com")
	now := time.Now().UTC()

	require.NoError(s.T(), s.repo.MergeSyncCursor(context.Background(), account.ID, models.ProviderGmail, "hist-100", now))
	require.NoError(s.T(), s.repo.MergeSyncCursor(context.Background(), account.ID, models.ProviderOutlook, "delta-abc", now))
	require.NoError(s.T(), s.repo.MergeSyncCursor(context.Background(), account.ID, models.ProviderGmail, "hist-200", now))

	got, err := s.repo.GetByID(context.Background(), account.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "hist-200", got.SyncCursor[models.ProviderGmail])
	assert.Equal(s.T(), "delta-abc", got.SyncCursor[models.ProviderOutlook], "merging one provider must not clobber another")
	require.NotNil(s.T(), got.LastSyncAt)
}

func (s *AccountRepositoryTestSuite) TestUpdateTokens_KeepsRefreshTokenWhenEmpty() {
	account := s.createAccount("user@example.com")
	expiry := time.Now().Add(time.Hour)
	require.NoError(s.T(), s.repo.UpdateTokens(context.Background(), account.ID, "at-1", "rt-1", &expiry))

	// Providers often rotate only the access token.
	require.NoError(s.T(), s.repo.UpdateTokens(context.Background(), account.ID, "at-2", "", &expiry))

	got, _ := s.repo.GetByID(context.Background(), account.ID)
	assert.Equal(s.T(), "at-2", got.AccessToken)
	assert.Equal(s.T(), "rt-1", got.RefreshToken)
}

func (s *AccountRepositoryTestSuite) TestDeactivate_IsTerminalAndIdempotent() {
	account := s.createAccount("user@example.com")

	require.NoError(s.T(), s.repo.Deactivate(context.Background(), account.ID, models.DisabledReasonRevoked))
	require.NoError(s.T(), s.repo.Deactivate(context.Background(), account.ID, models.DisabledReasonManual))

	got, _ := s.repo.GetByID(context.Background(), account.ID)
	assert.False(s.T(), got.IsActive)
	assert.Equal(s.T(), models.DisabledReasonRevoked, got.DisabledReason, "first disable reason sticks")

	active, err := s.repo.ListActive(context.Background())
	require.NoError(s.T(), err)
	assert.Empty(s.T(), active)
}
