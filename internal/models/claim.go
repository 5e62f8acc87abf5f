package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClaimSchemaVersion tags the normalized claim layout so downstream readers
// can detect re-normalized rows instead of re-parsing raw payloads.
const ClaimSchemaVersion = 1

// Claim is the normalized record for one marketplace dispute/return case,
// keyed by (claim_id, integration_account_id). The raw payload is stored
// alongside, not instead of, the normalized columns.
type Claim struct {
	ID                   string          `gorm:"column:id;primaryKey"`
	OrganizationID       string          `gorm:"column:organization_id;index"`
	IntegrationAccountID string          `gorm:"column:integration_account_id;uniqueIndex:idx_claims_key"`
	ClaimID              string          `gorm:"column:claim_id;uniqueIndex:idx_claims_key"`
	OrderID              string          `gorm:"column:order_id;index"`
	Status               string          `gorm:"column:status"`
	Stage                string          `gorm:"column:stage"`
	Type                 string          `gorm:"column:type"`
	TotalAmount          decimal.Decimal `gorm:"column:total_amount;type:numeric(14,2)"`
	Currency             string          `gorm:"column:currency"`
	BuyerNickname        string          `gorm:"column:buyer_nickname"`
	SchemaVersion        int             `gorm:"column:schema_version"`
	RawPayload           JSONB           `gorm:"column:raw_payload;type:jsonb"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Claim) TableName() string {
	return "ml_claims"
}
