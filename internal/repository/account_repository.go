package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/backofficehq/meli-sync-worker/internal/models"
)

var ErrAccountNotFound = errors.New("integration account not found")

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByID retrieves an integration account by ID
func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*models.IntegrationAccount, error) {
	var account models.IntegrationAccount
	result := r.db.WithContext(ctx).First(&account, "id = ?", accountID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

// GetByIDs retrieves all integration accounts matching the given IDs.
func (r *AccountRepository) GetByIDs(ctx context.Context, accountIDs []string) ([]models.IntegrationAccount, error) {
	var accounts []models.IntegrationAccount
	result := r.db.WithContext(ctx).
		Where("id IN ?", accountIDs).
		Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", result.Error)
	}
	return accounts, nil
}

// ListActive retrieves active accounts for a provider, capped at limit to
// bound a sync pass.
func (r *AccountRepository) ListActive(ctx context.Context, provider string, limit int) ([]models.IntegrationAccount, error) {
	var accounts []models.IntegrationAccount
	result := r.db.WithContext(ctx).
		Where("provider = ? AND is_active = ?", provider, true).
		Order("id ASC").
		Limit(limit).
		Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", result.Error)
	}
	return accounts, nil
}

// UpdateTokens updates access token, refresh token and expiry after a refresh
func (r *AccountRepository) UpdateTokens(ctx context.Context, accountID string, accessToken string, refreshToken string, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.IntegrationAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	return nil
}

// Deactivate soft-disables an account; rows are never hard-deleted.
func (r *AccountRepository) Deactivate(ctx context.Context, accountID string) error {
	result := r.db.WithContext(ctx).Model(&models.IntegrationAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
