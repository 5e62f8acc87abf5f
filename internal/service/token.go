package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/backofficehq/meli-sync-worker/internal/models"
)

// tokenRefreshMargin renews tokens that expire within this window, so a call
// started with a nearly-expired token does not fail mid-flight.
const tokenRefreshMargin = 5 * time.Minute

// tokenManager resolves a usable access token for an account, refreshing and
// persisting rotated credentials when the current one is expired.
type tokenManager struct {
	accounts AccountStore
	client   MarketClient
	logger   *slog.Logger
}

func newTokenManager(accounts AccountStore, client MarketClient, logger *slog.Logger) *tokenManager {
	return &tokenManager{
		accounts: accounts,
		client:   client,
		logger:   logger.With("component", "token"),
	}
}

// EnsureAccessToken returns a valid access token for the account.
func (t *tokenManager) EnsureAccessToken(ctx context.Context, account *models.IntegrationAccount) (string, error) {
	if account.AccessToken == nil || account.RefreshToken == nil {
		return "", fmt.Errorf("account %s missing tokens", account.ID)
	}

	if !t.isTokenExpired(account.TokenExpiresAt) {
		return *account.AccessToken, nil
	}

	t.logger.Info("access token expired, refreshing", "account_id", account.ID)

	result, err := t.client.RefreshAccessToken(ctx, *account.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := t.accounts.UpdateTokens(ctx, account.ID, result.AccessToken, result.RefreshToken, result.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to update tokens in database: %w", err)
	}

	// Keep the in-memory account usable for the rest of this pass.
	account.AccessToken = &result.AccessToken
	account.RefreshToken = &result.RefreshToken
	account.TokenExpiresAt = &result.ExpiresAt

	t.logger.Info("token refreshed", "account_id", account.ID, "expires_at", result.ExpiresAt)

	return result.AccessToken, nil
}

func (t *tokenManager) isTokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true // Assume expired if no expiry time
	}
	return time.Now().Add(tokenRefreshMargin).After(*expiresAt)
}
