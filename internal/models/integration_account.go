package models

import "time"

// Marketplace providers with connected seller accounts.
const (
	ProviderMercadoLivre = "mercadolivre"
	ProviderShopee       = "shopee"
)

// IntegrationAccount represents one connected marketplace seller account.
// Accounts are created on OAuth completion and deactivated rather than
// hard-deleted.
type IntegrationAccount struct {
	ID                string     `gorm:"column:id;primaryKey"`
	OrganizationID    string     `gorm:"column:organization_id;index"`
	Provider          string     `gorm:"column:provider;index"`
	AccountIdentifier string     `gorm:"column:account_identifier"`
	IsActive          bool       `gorm:"column:is_active"`
	AccessToken       *string    `gorm:"column:access_token"`
	RefreshToken      *string    `gorm:"column:refresh_token"`
	TokenExpiresAt    *time.Time `gorm:"column:token_expires_at"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (IntegrationAccount) TableName() string {
	return "integration_accounts"
}
