package service

import (
	"context"
	"time"

	"github.com/backofficehq/meli-sync-worker/internal/meli"
	"github.com/backofficehq/meli-sync-worker/internal/models"
)

// MarketClient is the upstream marketplace API surface the services depend on.
type MarketClient interface {
	SearchOrders(ctx context.Context, accessToken, sellerID string, from, to time.Time) ([]meli.Record, error)
	SearchClaims(ctx context.Context, accessToken string, from, to time.Time) ([]meli.Record, error)
	GetClaimDetail(ctx context.Context, accessToken, claimID string) (map[string]interface{}, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*meli.TokenRefreshResult, error)
}

// AccountStore provides integration account lookups and token persistence.
type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (*models.IntegrationAccount, error)
	GetByIDs(ctx context.Context, accountIDs []string) ([]models.IntegrationAccount, error)
	ListActive(ctx context.Context, provider string, limit int) ([]models.IntegrationAccount, error)
	UpdateTokens(ctx context.Context, accountID string, accessToken string, refreshToken string, expiresAt time.Time) error
}

// CacheStore persists raw marketplace payloads with a TTL.
type CacheStore interface {
	GetFreshOrders(ctx context.Context, accountIDs []string) ([]models.OrderCacheEntry, error)
	UpsertOrders(ctx context.Context, entries []models.OrderCacheEntry) error
	DeleteOrdersForAccount(ctx context.Context, accountID string) error
	GetFreshClaims(ctx context.Context, accountIDs []string) ([]models.ClaimCacheEntry, error)
	UpsertClaims(ctx context.Context, entries []models.ClaimCacheEntry) error
	DeleteClaimsForAccount(ctx context.Context, accountID string) error
	PurgeExpired(ctx context.Context, organizationID string) (int64, error)
}

// SyncStatusStore records per-account sync outcomes.
type SyncStatusStore interface {
	Get(ctx context.Context, accountID, resource string) (*models.SyncStatus, error)
	Upsert(ctx context.Context, status *models.SyncStatus) error
}

// ClaimStore persists normalized claims.
type ClaimStore interface {
	Upsert(ctx context.Context, claim *models.Claim) error
}

// QueueStore manages the claims processing queue.
type QueueStore interface {
	Enqueue(ctx context.Context, item models.QueueItem) error
	ReclaimExpired(ctx context.Context) (int64, error)
	NextBatch(ctx context.Context, limit int) ([]models.QueueItem, error)
	ClaimForProcessing(ctx context.Context, itemID string, lease time.Duration) (bool, error)
	MarkCompleted(ctx context.Context, itemID string) error
	MarkRetry(ctx context.Context, itemID string, errMsg string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, itemID string, errMsg string) error
	ResetFailed(ctx context.Context) (int64, error)
}
