package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/backofficehq/meli-sync-worker/internal/metrics"
	"github.com/backofficehq/meli-sync-worker/internal/models"
)

// Result sources for a cache layer read.
const (
	SourceCache = "cache"
	SourceAPI   = "ml_api"
)

// FetchRequest asks the cache layer for the union of records across a set of
// integration accounts, optionally bounded by a date range.
type FetchRequest struct {
	AccountIDs   []string
	DateFrom     *time.Time
	DateTo       *time.Time
	ForceRefresh bool
}

// AccountError attributes one account's upstream failure inside an otherwise
// successful run.
type AccountError struct {
	AccountID string `json:"account_id"`
	Message   string `json:"message"`
}

// FetchResult is the aggregated outcome. Partial is true when at least one
// account failed while others succeeded, so callers can tell a degraded run
// from a full one without digging through Errors.
type FetchResult struct {
	Records   []map[string]interface{}
	Total     int
	Source    string
	CachedAt  time.Time
	ExpiresAt time.Time
	Partial   bool
	Errors    []AccountError
}

// CacheService is the read-through cache layer: serve fresh cached rows when
// present, otherwise fetch upstream per account and persist with a TTL.
type CacheService struct {
	accounts AccountStore
	store    CacheStore
	client   MarketClient
	tokens   *tokenManager
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewCacheService(accounts AccountStore, store CacheStore, client MarketClient, logger *slog.Logger, m *metrics.Metrics) *CacheService {
	return &CacheService{
		accounts: accounts,
		store:    store,
		client:   client,
		tokens:   newTokenManager(accounts, client, logger),
		logger:   logger.With("component", "cache_layer"),
		metrics:  m,
	}
}

// FetchOrders returns the union of order records for the requested accounts.
func (s *CacheService) FetchOrders(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if !req.ForceRefresh {
		entries, err := s.store.GetFreshOrders(ctx, req.AccountIDs)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			s.observeRead(models.ResourceOrders, "hit")
			return resultFromCache(ordersToRows(entries), req), nil
		}
		s.observeRead(models.ResourceOrders, "miss")
	} else {
		s.observeRead(models.ResourceOrders, "forced")
	}

	return s.refreshOrders(ctx, req)
}

// FetchClaims returns the union of claim records for the requested accounts.
func (s *CacheService) FetchClaims(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if !req.ForceRefresh {
		entries, err := s.store.GetFreshClaims(ctx, req.AccountIDs)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			s.observeRead(models.ResourceClaims, "hit")
			return resultFromCache(claimsToRows(entries), req), nil
		}
		s.observeRead(models.ResourceClaims, "miss")
	} else {
		s.observeRead(models.ResourceClaims, "forced")
	}

	return s.refreshClaims(ctx, req)
}

// refreshOrders fetches every account's orders upstream and repopulates the
// cache. One account's failure never aborts the others.
func (s *CacheService) refreshOrders(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	accounts, err := s.accounts.GetByIDs(ctx, req.AccountIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	result := &FetchResult{
		Source:    SourceAPI,
		CachedAt:  now,
		ExpiresAt: now.Add(models.CacheTTL),
	}
	succeeded := 0

	from, to := windowOrDefault(req, models.OrdersInitialLookback)

	for i := range accounts {
		account := &accounts[i]

		if req.ForceRefresh {
			if err := s.store.DeleteOrdersForAccount(ctx, account.ID); err != nil {
				s.fail(result, account.ID, err, "delete cached orders")
				continue
			}
		}

		accessToken, err := s.tokens.EnsureAccessToken(ctx, account)
		if err != nil {
			s.fail(result, account.ID, err, "resolve access token")
			continue
		}

		records, err := s.client.SearchOrders(ctx, accessToken, account.AccountIdentifier, from, to)
		if err != nil {
			s.fail(result, account.ID, err, "fetch orders")
			continue
		}

		entries := make([]models.OrderCacheEntry, 0, len(records))
		for _, rec := range records {
			entries = append(entries, models.OrderCacheEntry{
				ID:                   uuid.New().String(),
				OrganizationID:       account.OrganizationID,
				IntegrationAccountID: account.ID,
				ExternalID:           rec.ExternalID,
				Payload:              rec.Payload,
				CachedAt:             now,
				TTLExpiresAt:         now.Add(models.CacheTTL),
			})
			result.Records = append(result.Records, rec.Payload)
		}

		if err := s.store.UpsertOrders(ctx, entries); err != nil {
			s.fail(result, account.ID, err, "persist orders")
			continue
		}
		succeeded++
	}

	result.Total = len(result.Records)
	result.Partial = len(result.Errors) > 0 && succeeded > 0
	return result, nil
}

// refreshClaims is the claims twin of refreshOrders.
func (s *CacheService) refreshClaims(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	accounts, err := s.accounts.GetByIDs(ctx, req.AccountIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	result := &FetchResult{
		Source:    SourceAPI,
		CachedAt:  now,
		ExpiresAt: now.Add(models.CacheTTL),
	}
	succeeded := 0

	from, to := windowOrDefault(req, models.ClaimsInitialLookback)

	for i := range accounts {
		account := &accounts[i]

		if req.ForceRefresh {
			if err := s.store.DeleteClaimsForAccount(ctx, account.ID); err != nil {
				s.fail(result, account.ID, err, "delete cached claims")
				continue
			}
		}

		accessToken, err := s.tokens.EnsureAccessToken(ctx, account)
		if err != nil {
			s.fail(result, account.ID, err, "resolve access token")
			continue
		}

		records, err := s.client.SearchClaims(ctx, accessToken, from, to)
		if err != nil {
			s.fail(result, account.ID, err, "fetch claims")
			continue
		}

		entries := make([]models.ClaimCacheEntry, 0, len(records))
		for _, rec := range records {
			entries = append(entries, models.ClaimCacheEntry{
				ID:                   uuid.New().String(),
				OrganizationID:       account.OrganizationID,
				IntegrationAccountID: account.ID,
				ExternalID:           rec.ExternalID,
				Payload:              rec.Payload,
				CachedAt:             now,
				TTLExpiresAt:         now.Add(models.CacheTTL),
			})
			result.Records = append(result.Records, rec.Payload)
		}

		if err := s.store.UpsertClaims(ctx, entries); err != nil {
			s.fail(result, account.ID, err, "persist claims")
			continue
		}
		succeeded++
	}

	result.Total = len(result.Records)
	result.Partial = len(result.Errors) > 0 && succeeded > 0
	return result, nil
}

func (s *CacheService) fail(result *FetchResult, accountID string, err error, op string) {
	s.logger.Error("account skipped", "account_id", accountID, "op", op, "error", err)
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues("cache_layer").Inc()
	}
	result.Errors = append(result.Errors, AccountError{AccountID: accountID, Message: err.Error()})
}

func (s *CacheService) observeRead(resource, outcome string) {
	if s.metrics != nil {
		s.metrics.CacheReads.WithLabelValues(resource, outcome).Inc()
	}
}

// resultFromCache packages fresh cache rows, filtered client-side by the
// requested date range.
func resultFromCache(rows []cacheRow, req FetchRequest) *FetchResult {
	result := &FetchResult{Source: SourceCache}

	earliestExpiry := time.Time{}
	for _, row := range rows {
		if !inRange(row.payload, req.DateFrom, req.DateTo) {
			continue
		}
		result.Records = append(result.Records, row.payload)
		if result.CachedAt.IsZero() || row.cachedAt.Before(result.CachedAt) {
			result.CachedAt = row.cachedAt
		}
		if earliestExpiry.IsZero() || row.expiresAt.Before(earliestExpiry) {
			earliestExpiry = row.expiresAt
		}
	}
	result.ExpiresAt = earliestExpiry
	result.Total = len(result.Records)
	return result
}

type cacheRow struct {
	payload   map[string]interface{}
	cachedAt  time.Time
	expiresAt time.Time
}

func ordersToRows(entries []models.OrderCacheEntry) []cacheRow {
	rows := make([]cacheRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, cacheRow{payload: e.Payload, cachedAt: e.CachedAt, expiresAt: e.TTLExpiresAt})
	}
	return rows
}

func claimsToRows(entries []models.ClaimCacheEntry) []cacheRow {
	rows := make([]cacheRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, cacheRow{payload: e.Payload, cachedAt: e.CachedAt, expiresAt: e.TTLExpiresAt})
	}
	return rows
}

// inRange filters a raw payload by its date_created field. Payloads without a
// parseable date pass through unfiltered.
func inRange(payload map[string]interface{}, from, to *time.Time) bool {
	if from == nil && to == nil {
		return true
	}
	raw, ok := payload["date_created"].(string)
	if !ok {
		return true
	}
	created, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}
	if from != nil && created.Before(*from) {
		return false
	}
	if to != nil && created.After(*to) {
		return false
	}
	return true
}

// windowOrDefault resolves the fetch window, defaulting the start to the
// given lookback and the end to now.
func windowOrDefault(req FetchRequest, lookback time.Duration) (time.Time, time.Time) {
	now := time.Now()
	from := now.Add(-lookback)
	to := now
	if req.DateFrom != nil {
		from = *req.DateFrom
	}
	if req.DateTo != nil {
		to = *req.DateTo
	}
	return from, to
}
