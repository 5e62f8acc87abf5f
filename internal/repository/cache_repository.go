package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/backofficehq/meli-sync-worker/internal/models"
)

// CacheRepository persists raw marketplace payloads keyed by
// (organization_id, integration_account_id, external_id) with a TTL.
type CacheRepository struct {
	db *gorm.DB
}

func NewCacheRepository(db *gorm.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

var cacheConflictColumns = []clause.Column{
	{Name: "organization_id"},
	{Name: "integration_account_id"},
	{Name: "external_id"},
}

var cacheUpdateColumns = []string{"payload", "cached_at", "ttl_expires_at"}

// GetFreshOrders returns cached order rows for the accounts whose TTL has not
// expired. Stale rows are never returned.
func (r *CacheRepository) GetFreshOrders(ctx context.Context, accountIDs []string) ([]models.OrderCacheEntry, error) {
	var entries []models.OrderCacheEntry
	result := r.db.WithContext(ctx).
		Where("integration_account_id IN ? AND ttl_expires_at > ?", accountIDs, time.Now()).
		Find(&entries)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query orders cache: %w", result.Error)
	}
	return entries, nil
}

// UpsertOrders writes order cache rows, last write winning on the composite key.
func (r *CacheRepository) UpsertOrders(ctx context.Context, entries []models.OrderCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   cacheConflictColumns,
		DoUpdates: clause.AssignmentColumns(cacheUpdateColumns),
	}).Create(&entries)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert orders cache: %w", result.Error)
	}
	return nil
}

// DeleteOrdersForAccount removes an account's order cache rows ahead of a
// forced refresh. Other accounts' rows are untouched.
func (r *CacheRepository) DeleteOrdersForAccount(ctx context.Context, accountID string) error {
	result := r.db.WithContext(ctx).
		Where("integration_account_id = ?", accountID).
		Delete(&models.OrderCacheEntry{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete orders cache: %w", result.Error)
	}
	return nil
}

// GetFreshClaims returns cached claim rows for the accounts whose TTL has not
// expired.
func (r *CacheRepository) GetFreshClaims(ctx context.Context, accountIDs []string) ([]models.ClaimCacheEntry, error) {
	var entries []models.ClaimCacheEntry
	result := r.db.WithContext(ctx).
		Where("integration_account_id IN ? AND ttl_expires_at > ?", accountIDs, time.Now()).
		Find(&entries)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query claims cache: %w", result.Error)
	}
	return entries, nil
}

// UpsertClaims writes claim cache rows, last write winning on the composite key.
func (r *CacheRepository) UpsertClaims(ctx context.Context, entries []models.ClaimCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   cacheConflictColumns,
		DoUpdates: clause.AssignmentColumns(cacheUpdateColumns),
	}).Create(&entries)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert claims cache: %w", result.Error)
	}
	return nil
}

// DeleteClaimsForAccount removes an account's claim cache rows ahead of a
// forced refresh.
func (r *CacheRepository) DeleteClaimsForAccount(ctx context.Context, accountID string) error {
	result := r.db.WithContext(ctx).
		Where("integration_account_id = ?", accountID).
		Delete(&models.ClaimCacheEntry{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete claims cache: %w", result.Error)
	}
	return nil
}

// PurgeExpired removes all cache rows for an organization whose TTL has
// passed, orders and claims alike. Returns the number of rows removed.
func (r *CacheRepository) PurgeExpired(ctx context.Context, organizationID string) (int64, error) {
	now := time.Now()

	orders := r.db.WithContext(ctx).
		Where("organization_id = ? AND ttl_expires_at <= ?", organizationID, now).
		Delete(&models.OrderCacheEntry{})
	if orders.Error != nil {
		return 0, fmt.Errorf("failed to purge orders cache: %w", orders.Error)
	}

	claims := r.db.WithContext(ctx).
		Where("organization_id = ? AND ttl_expires_at <= ?", organizationID, now).
		Delete(&models.ClaimCacheEntry{})
	if claims.Error != nil {
		return orders.RowsAffected, fmt.Errorf("failed to purge claims cache: %w", claims.Error)
	}

	return orders.RowsAffected + claims.RowsAffected, nil
}
