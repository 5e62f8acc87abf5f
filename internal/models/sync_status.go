package models

import "time"

// Resources tracked by SyncStatus rows.
const (
	ResourceOrders = "orders"
	ResourceClaims = "claims"
)

// Sync outcome values.
const (
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// Default lookback windows for an account's first sync, when no SyncStatus
// row exists yet.
const (
	OrdersInitialLookback = 7 * 24 * time.Hour
	ClaimsInitialLookback = 60 * 24 * time.Hour
)

// SyncStatus is the single per-(organization, account, resource) record of the
// last sync attempt. Upserted after every attempt, success or failure; never
// deleted.
type SyncStatus struct {
	ID                   string    `gorm:"column:id;primaryKey"`
	OrganizationID       string    `gorm:"column:organization_id;uniqueIndex:idx_sync_status_key"`
	IntegrationAccountID string    `gorm:"column:integration_account_id;uniqueIndex:idx_sync_status_key"`
	Resource             string    `gorm:"column:resource;uniqueIndex:idx_sync_status_key"`
	LastSyncAt           time.Time `gorm:"column:last_sync_at"`
	LastSyncStatus       string    `gorm:"column:last_sync_status"`
	LastSyncError        *string   `gorm:"column:last_sync_error"`
	RecordsFetched       int       `gorm:"column:records_fetched"`
	RecordsCached        int       `gorm:"column:records_cached"`
	DurationMs           int64     `gorm:"column:duration_ms"`
	UpdatedAt            time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (SyncStatus) TableName() string {
	return "ml_sync_status"
}
