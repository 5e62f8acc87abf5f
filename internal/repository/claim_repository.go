package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/backofficehq/meli-sync-worker/internal/models"
)

type ClaimRepository struct {
	db *gorm.DB
}

func NewClaimRepository(db *gorm.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// Upsert writes a normalized claim, keyed on (integration_account_id,
// claim_id), last write winning.
func (r *ClaimRepository) Upsert(ctx context.Context, claim *models.Claim) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "integration_account_id"},
			{Name: "claim_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"organization_id",
			"order_id",
			"status",
			"stage",
			"type",
			"total_amount",
			"currency",
			"buyer_nickname",
			"schema_version",
			"raw_payload",
			"updated_at",
		}),
	}).Create(claim)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert claim: %w", result.Error)
	}
	return nil
}

// GetByClaimID fetches one normalized claim for an account.
func (r *ClaimRepository) GetByClaimID(ctx context.Context, accountID, claimID string) (*models.Claim, error) {
	var claim models.Claim
	result := r.db.WithContext(ctx).
		First(&claim, "integration_account_id = ? AND claim_id = ?", accountID, claimID)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get claim: %w", result.Error)
	}
	return &claim, nil
}
