package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/backofficehq/meli-sync-worker/internal/metrics"
	"github.com/backofficehq/meli-sync-worker/internal/models"
)

// MaxAccountsPerPass bounds one sync pass so a single run stays short.
const MaxAccountsPerPass = 20

// SyncSummary aggregates one background sync pass. A pass with failures is
// still a completed pass; callers inspect Errors for degraded runs.
type SyncSummary struct {
	AccountsSynced int            `json:"accounts_synced"`
	AccountsFailed int            `json:"accounts_failed"`
	RecordsFetched int            `json:"records_fetched"`
	DurationMs     int64          `json:"duration_ms"`
	Errors         []AccountError `json:"errors"`
}

// SyncService runs the periodic per-account incremental sync for orders and
// claims, recording the outcome of every attempt in ml_sync_status.
type SyncService struct {
	accounts   AccountStore
	syncStatus SyncStatusStore
	queue      QueueStore
	cache      *CacheService
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewSyncService(accounts AccountStore, syncStatus SyncStatusStore, queue QueueStore, cache *CacheService, logger *slog.Logger, m *metrics.Metrics) *SyncService {
	return &SyncService{
		accounts:   accounts,
		syncStatus: syncStatus,
		queue:      queue,
		cache:      cache,
		logger:     logger.With("component", "sync"),
		metrics:    m,
	}
}

// RunOrders executes one orders sync pass over active accounts.
func (s *SyncService) RunOrders(ctx context.Context) (*SyncSummary, error) {
	return s.run(ctx, models.ResourceOrders)
}

// RunClaims executes one claims sync pass over active accounts. Claims
// discovered by the pass are queued for detail processing.
func (s *SyncService) RunClaims(ctx context.Context) (*SyncSummary, error) {
	return s.run(ctx, models.ResourceClaims)
}

func (s *SyncService) run(ctx context.Context, resource string) (*SyncSummary, error) {
	start := time.Now()
	summary := &SyncSummary{}

	accounts, err := s.accounts.ListActive(ctx, models.ProviderMercadoLivre, MaxAccountsPerPass)
	if err != nil {
		s.observeRun(resource, "error")
		return nil, err
	}

	s.logger.Info("sync pass starting", "resource", resource, "accounts", len(accounts))

	purgedOrgs := make(map[string]bool)

	for i := range accounts {
		account := &accounts[i]

		fetched, err := s.syncAccount(ctx, resource, account)
		if err != nil {
			summary.AccountsFailed++
			summary.Errors = append(summary.Errors, AccountError{AccountID: account.ID, Message: err.Error()})
			s.observeAccount(resource, "error")
			s.logger.Error("account sync failed", "resource", resource, "account_id", account.ID, "error", err)
			continue
		}

		summary.AccountsSynced++
		summary.RecordsFetched += fetched
		s.observeAccount(resource, "success")

		// Opportunistic cleanup, once per organization per pass.
		if !purgedOrgs[account.OrganizationID] {
			purgedOrgs[account.OrganizationID] = true
			if purged, err := s.cache.store.PurgeExpired(ctx, account.OrganizationID); err != nil {
				s.logger.Warn("expired cache purge failed", "organization_id", account.OrganizationID, "error", err)
			} else if purged > 0 {
				s.logger.Info("purged expired cache rows", "organization_id", account.OrganizationID, "rows", purged)
			}
		}
	}

	summary.DurationMs = time.Since(start).Milliseconds()
	s.observeRun(resource, "success")
	s.logger.Info("sync pass finished",
		"resource", resource,
		"accounts_synced", summary.AccountsSynced,
		"accounts_failed", summary.AccountsFailed,
		"records_fetched", summary.RecordsFetched,
		"duration_ms", summary.DurationMs)

	return summary, nil
}

// syncAccount syncs one account's window and upserts its sync status row
// whatever the outcome. Returns the number of records fetched.
func (s *SyncService) syncAccount(ctx context.Context, resource string, account *models.IntegrationAccount) (int, error) {
	start := time.Now()

	from, to, err := s.window(ctx, resource, account.ID)
	if err != nil {
		s.recordStatus(ctx, resource, account, start, 0, err)
		return 0, err
	}

	req := FetchRequest{
		AccountIDs: []string{account.ID},
		DateFrom:   &from,
		DateTo:     &to,
	}

	var result *FetchResult
	switch resource {
	case models.ResourceClaims:
		result, err = s.cache.FetchClaims(ctx, req)
	default:
		result, err = s.cache.FetchOrders(ctx, req)
	}
	if err == nil && len(result.Errors) > 0 {
		// Single-account fetch: an entry in Errors is this account's failure.
		err = errors.New(result.Errors[0].Message)
	}
	if err != nil {
		s.recordStatus(ctx, resource, account, start, 0, err)
		return 0, err
	}

	if resource == models.ResourceClaims {
		s.enqueueClaimDetails(ctx, account, result.Records)
	}

	s.recordStatus(ctx, resource, account, start, result.Total, nil)
	return result.Total, nil
}

// window computes the incremental fetch window: from the last successful sync
// when one exists, otherwise the resource's default lookback.
func (s *SyncService) window(ctx context.Context, resource, accountID string) (time.Time, time.Time, error) {
	now := time.Now()

	status, err := s.syncStatus.Get(ctx, accountID, resource)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if status != nil && !status.LastSyncAt.IsZero() {
		return status.LastSyncAt, now, nil
	}

	lookback := models.OrdersInitialLookback
	if resource == models.ResourceClaims {
		lookback = models.ClaimsInitialLookback
	}
	return now.Add(-lookback), now, nil
}

func (s *SyncService) recordStatus(ctx context.Context, resource string, account *models.IntegrationAccount, start time.Time, fetched int, syncErr error) {
	status := &models.SyncStatus{
		ID:                   uuid.New().String(),
		OrganizationID:       account.OrganizationID,
		IntegrationAccountID: account.ID,
		Resource:             resource,
		LastSyncAt:           start,
		LastSyncStatus:       models.SyncStatusSuccess,
		RecordsFetched:       fetched,
		RecordsCached:        fetched,
		DurationMs:           time.Since(start).Milliseconds(),
		UpdatedAt:            time.Now(),
	}
	if syncErr != nil {
		msg := syncErr.Error()
		status.LastSyncStatus = models.SyncStatusError
		status.LastSyncError = &msg
		status.RecordsFetched = 0
		status.RecordsCached = 0
	}

	if err := s.syncStatus.Upsert(ctx, status); err != nil {
		s.logger.Error("failed to record sync status", "resource", resource, "account_id", account.ID, "error", err)
	}
}

// enqueueClaimDetails schedules detail fetches for claims found by the sync.
// Duplicates are dropped by the queue's dedupe constraint.
func (s *SyncService) enqueueClaimDetails(ctx context.Context, account *models.IntegrationAccount, records []map[string]interface{}) {
	now := time.Now()
	for _, payload := range records {
		claimID := payloadID(payload)
		if claimID == "" {
			continue
		}
		item := models.QueueItem{
			ID:                   uuid.New().String(),
			ClaimID:              claimID,
			IntegrationAccountID: account.ID,
			Status:               models.QueueStatusPending,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.queue.Enqueue(ctx, item); err != nil {
			s.logger.Warn("failed to enqueue claim detail", "claim_id", claimID, "account_id", account.ID, "error", err)
		}
	}
}

// payloadID pulls the marketplace ID out of a raw payload. Claim IDs are not
// guaranteed numeric.
func payloadID(payload map[string]interface{}) string {
	switch v := payload["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

func (s *SyncService) observeRun(resource, outcome string) {
	if s.metrics != nil {
		s.metrics.SyncRuns.WithLabelValues(resource, outcome).Inc()
	}
}

func (s *SyncService) observeAccount(resource, outcome string) {
	if s.metrics != nil {
		s.metrics.SyncAccounts.WithLabelValues(resource, outcome).Inc()
	}
}
