package models

import "time"

// CacheTTL is how long a cached marketplace payload stays fresh. Entries
// past TTLExpiresAt must be refetched, never served.
const CacheTTL = 15 * time.Minute

// OrderCacheEntry is one cached marketplace order, keyed by
// (organization_id, integration_account_id, external_id).
type OrderCacheEntry struct {
	ID                   string    `gorm:"column:id;primaryKey"`
	OrganizationID       string    `gorm:"column:organization_id;uniqueIndex:idx_orders_cache_key"`
	IntegrationAccountID string    `gorm:"column:integration_account_id;uniqueIndex:idx_orders_cache_key"`
	ExternalID           string    `gorm:"column:external_id;uniqueIndex:idx_orders_cache_key"`
	Payload              JSONB     `gorm:"column:payload;type:jsonb"`
	CachedAt             time.Time `gorm:"column:cached_at"`
	TTLExpiresAt         time.Time `gorm:"column:ttl_expires_at;index"`
}

// TableName specifies the table name for GORM
func (OrderCacheEntry) TableName() string {
	return "ml_orders_cache"
}

// ClaimCacheEntry is one cached marketplace claim, same keying as orders.
type ClaimCacheEntry struct {
	ID                   string    `gorm:"column:id;primaryKey"`
	OrganizationID       string    `gorm:"column:organization_id;uniqueIndex:idx_claims_cache_key"`
	IntegrationAccountID string    `gorm:"column:integration_account_id;uniqueIndex:idx_claims_cache_key"`
	ExternalID           string    `gorm:"column:external_id;uniqueIndex:idx_claims_cache_key"`
	Payload              JSONB     `gorm:"column:payload;type:jsonb"`
	CachedAt             time.Time `gorm:"column:cached_at"`
	TTLExpiresAt         time.Time `gorm:"column:ttl_expires_at;index"`
}

// TableName specifies the table name for GORM
func (ClaimCacheEntry) TableName() string {
	return "ml_claims_cache"
}
