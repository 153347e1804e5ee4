package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/solvereach/remindly-backend/internal/errors"
	"github.com/solvereach/remindly-backend/internal/models"
	"github.com/solvereach/remindly-backend/internal/repository"
)

// expiryBuffer refreshes tokens slightly early so a token never expires
// mid-request.
const expiryBuffer = 5 * time.Minute

// TokenManager exchanges a connected account's stored credentials for a live
// access token, refreshing and persisting as needed. An invalid_grant from
// the authorization server is terminal: the refresh token was revoked and
// only a manual reconnect can recover the account.
type TokenManager struct {
	config   *oauth2.Config
	accounts repository.AccountRepository
}

func NewTokenManager(config *oauth2.Config, accounts repository.AccountRepository) *TokenManager {
	return &TokenManager{config: config, accounts: accounts}
}

// Token returns a valid access token for the account.
func (m *TokenManager) Token(ctx context.Context, account *models.ConnectedAccount) (*oauth2.Token, error) {
	saved := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
	}
	if account.TokenExpiry != nil {
		saved.Expiry = *account.TokenExpiry
	}

	if saved.AccessToken != "" && saved.Expiry.After(time.Now().Add(expiryBuffer)) {
		return saved, nil
	}

	refreshed, err := m.config.TokenSource(ctx, saved).Token()
	if err != nil {
		if isInvalidGrant(err) {
			return nil, apperrors.NewReconnectRequiredError(account.Email)
		}
		return nil, fmt.Errorf("refresh token for account %s: %w", account.ID, err)
	}

	// Persist the rotation. Some providers rotate the refresh token on every
	// refresh; UpdateTokens keeps the old one when the response omits it.
	expiry := refreshed.Expiry
	if err := m.accounts.UpdateTokens(ctx, account.ID, refreshed.AccessToken, refreshed.RefreshToken, &expiry); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}
	account.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		account.RefreshToken = refreshed.RefreshToken
	}
	account.TokenExpiry = &expiry

	return refreshed, nil
}

// TokenSource returns a static source over the (refreshed) token, suitable
// for handing to API clients for the duration of one sync pass.
func (m *TokenManager) TokenSource(ctx context.Context, account *models.ConnectedAccount) (oauth2.TokenSource, error) {
	token, err := m.Token(ctx, account)
	if err != nil {
		return nil, err
	}
	return oauth2.StaticTokenSource(token), nil
}

func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return true
		}
		return strings.Contains(string(retrieveErr.Body), "invalid_grant")
	}
	return false
}
