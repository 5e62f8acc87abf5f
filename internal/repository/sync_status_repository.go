package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/backofficehq/meli-sync-worker/internal/models"
)

type SyncStatusRepository struct {
	db *gorm.DB
}

func NewSyncStatusRepository(db *gorm.DB) *SyncStatusRepository {
	return &SyncStatusRepository{db: db}
}

// Get returns the sync status row for one (account, resource) pair, or nil
// when the account has never been synced.
func (r *SyncStatusRepository) Get(ctx context.Context, accountID, resource string) (*models.SyncStatus, error) {
	var status models.SyncStatus
	result := r.db.WithContext(ctx).
		First(&status, "integration_account_id = ? AND resource = ?", accountID, resource)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync status: %w", result.Error)
	}
	return &status, nil
}

// Upsert records the outcome of a sync attempt, keyed on
// (organization_id, integration_account_id, resource). One row per pair,
// success or failure; rows are never deleted.
func (r *SyncStatusRepository) Upsert(ctx context.Context, status *models.SyncStatus) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "organization_id"},
			{Name: "integration_account_id"},
			{Name: "resource"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_sync_at",
			"last_sync_status",
			"last_sync_error",
			"records_fetched",
			"records_cached",
			"duration_ms",
			"updated_at",
		}),
	}).Create(status)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert sync status: %w", result.Error)
	}
	return nil
}
