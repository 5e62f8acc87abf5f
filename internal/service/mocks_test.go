package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/backofficehq/meli-sync-worker/internal/meli"
	"github.com/backofficehq/meli-sync-worker/internal/models"
)

// mockAccountStore serves accounts from a fixed map.
type mockAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.IntegrationAccount
	updated  map[string]string // accountID -> new access token
}

func newMockAccountStore(accounts ...*models.IntegrationAccount) *mockAccountStore {
	m := &mockAccountStore{
		accounts: make(map[string]*models.IntegrationAccount),
		updated:  make(map[string]string),
	}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *mockAccountStore) GetByID(ctx context.Context, accountID string) (*models.IntegrationAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, errors.New("integration account not found")
	}
	copied := *a
	return &copied, nil
}

func (m *mockAccountStore) GetByIDs(ctx context.Context, accountIDs []string) ([]models.IntegrationAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.IntegrationAccount
	for _, id := range accountIDs {
		if a, ok := m.accounts[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockAccountStore) ListActive(ctx context.Context, provider string, limit int) ([]models.IntegrationAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.IntegrationAccount
	for _, a := range m.accounts {
		if a.Provider == provider && a.IsActive && len(out) < limit {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockAccountStore) UpdateTokens(ctx context.Context, accountID, accessToken, refreshToken string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[accountID]; ok {
		a.AccessToken = &accessToken
		a.RefreshToken = &refreshToken
		a.TokenExpiresAt = &expiresAt
	}
	m.updated[accountID] = accessToken
	return nil
}

// memCacheStore is an in-memory CacheStore honoring the composite key and TTL
// semantics of the real repository.
type memCacheStore struct {
	mu     sync.Mutex
	orders map[string]models.OrderCacheEntry
	claims map[string]models.ClaimCacheEntry
}

func newMemCacheStore() *memCacheStore {
	return &memCacheStore{
		orders: make(map[string]models.OrderCacheEntry),
		claims: make(map[string]models.ClaimCacheEntry),
	}
}

func cacheKey(orgID, accountID, externalID string) string {
	return orgID + "|" + accountID + "|" + externalID
}

func (m *memCacheStore) GetFreshOrders(ctx context.Context, accountIDs []string) ([]models.OrderCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []models.OrderCacheEntry
	for _, e := range m.orders {
		if containsString(accountIDs, e.IntegrationAccountID) && e.TTLExpiresAt.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memCacheStore) UpsertOrders(ctx context.Context, entries []models.OrderCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.orders[cacheKey(e.OrganizationID, e.IntegrationAccountID, e.ExternalID)] = e
	}
	return nil
}

func (m *memCacheStore) DeleteOrdersForAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.orders {
		if e.IntegrationAccountID == accountID {
			delete(m.orders, k)
		}
	}
	return nil
}

func (m *memCacheStore) GetFreshClaims(ctx context.Context, accountIDs []string) ([]models.ClaimCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []models.ClaimCacheEntry
	for _, e := range m.claims {
		if containsString(accountIDs, e.IntegrationAccountID) && e.TTLExpiresAt.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memCacheStore) UpsertClaims(ctx context.Context, entries []models.ClaimCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.claims[cacheKey(e.OrganizationID, e.IntegrationAccountID, e.ExternalID)] = e
	}
	return nil
}

func (m *memCacheStore) DeleteClaimsForAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.claims {
		if e.IntegrationAccountID == accountID {
			delete(m.claims, k)
		}
	}
	return nil
}

func (m *memCacheStore) PurgeExpired(ctx context.Context, organizationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var purged int64
	for k, e := range m.orders {
		if e.OrganizationID == organizationID && !e.TTLExpiresAt.After(now) {
			delete(m.orders, k)
			purged++
		}
	}
	for k, e := range m.claims {
		if e.OrganizationID == organizationID && !e.TTLExpiresAt.After(now) {
			delete(m.claims, k)
			purged++
		}
	}
	return purged, nil
}

func (m *memCacheStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memCacheStore) orderFor(orgID, accountID, externalID string) (models.OrderCacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.orders[cacheKey(orgID, accountID, externalID)]
	return e, ok
}

// mockSyncStatusStore keeps sync status rows keyed by (account, resource).
type mockSyncStatusStore struct {
	mu   sync.Mutex
	rows map[string]*models.SyncStatus
}

func newMockSyncStatusStore() *mockSyncStatusStore {
	return &mockSyncStatusStore{rows: make(map[string]*models.SyncStatus)}
}

func (m *mockSyncStatusStore) Get(ctx context.Context, accountID, resource string) (*models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[accountID+"|"+resource]; ok {
		copied := *row
		return &copied, nil
	}
	return nil, nil
}

func (m *mockSyncStatusStore) Upsert(ctx context.Context, status *models.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *status
	m.rows[status.IntegrationAccountID+"|"+status.Resource] = &copied
	return nil
}

// mockClaimStore records upserted claims keyed by (account, claim).
type mockClaimStore struct {
	mu     sync.Mutex
	claims map[string]*models.Claim
}

func newMockClaimStore() *mockClaimStore {
	return &mockClaimStore{claims: make(map[string]*models.Claim)}
}

func (m *mockClaimStore) Upsert(ctx context.Context, claim *models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *claim
	m.claims[claim.IntegrationAccountID+"|"+claim.ClaimID] = &copied
	return nil
}

func (m *mockClaimStore) get(accountID, claimID string) (*models.Claim, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[accountID+"|"+claimID]
	return c, ok
}

// memQueueStore mirrors the SQL queue transitions in memory.
type memQueueStore struct {
	mu    sync.Mutex
	items map[string]*models.QueueItem
}

func newMemQueueStore(items ...models.QueueItem) *memQueueStore {
	m := &memQueueStore{items: make(map[string]*models.QueueItem)}
	for i := range items {
		item := items[i]
		m.items[item.ID] = &item
	}
	return m
}

func (m *memQueueStore) Enqueue(ctx context.Context, item models.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.ClaimID == item.ClaimID && existing.IntegrationAccountID == item.IntegrationAccountID {
			return nil // dedupe
		}
	}
	copied := item
	m.items[item.ID] = &copied
	return nil
}

func (m *memQueueStore) ReclaimExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var reclaimed int64
	for _, item := range m.items {
		if item.Status != models.QueueStatusProcessing || item.ProcessingUntil == nil || !item.ProcessingUntil.Before(now) {
			continue
		}
		item.ProcessingUntil = nil
		if item.Attempts >= models.QueueMaxAttempts {
			msg := "processing lease expired on final attempt"
			item.Status = models.QueueStatusFailed
			item.ErrorMessage = &msg
			item.ProcessedAt = &now
		} else {
			item.Status = models.QueueStatusPending
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (m *memQueueStore) NextBatch(ctx context.Context, limit int) ([]models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []models.QueueItem
	for _, item := range m.items {
		if len(out) >= limit {
			break
		}
		if item.Status != models.QueueStatusPending || item.Attempts >= models.QueueMaxAttempts {
			continue
		}
		if item.NextRetryAt != nil && item.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (m *memQueueStore) ClaimForProcessing(ctx context.Context, itemID string, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok || item.Status != models.QueueStatusPending {
		return false, nil
	}
	item.Status = models.QueueStatusProcessing
	item.Attempts++
	until := time.Now().Add(lease)
	item.ProcessingUntil = &until
	return true, nil
}

func (m *memQueueStore) MarkCompleted(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[itemID]; ok {
		now := time.Now()
		item.Status = models.QueueStatusCompleted
		item.ProcessingUntil = nil
		item.ErrorMessage = nil
		item.ProcessedAt = &now
	}
	return nil
}

func (m *memQueueStore) MarkRetry(ctx context.Context, itemID string, errMsg string, nextRetryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[itemID]; ok {
		item.Status = models.QueueStatusPending
		item.ProcessingUntil = nil
		item.ErrorMessage = &errMsg
		item.NextRetryAt = &nextRetryAt
	}
	return nil
}

func (m *memQueueStore) MarkFailed(ctx context.Context, itemID string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[itemID]; ok {
		now := time.Now()
		item.Status = models.QueueStatusFailed
		item.ProcessingUntil = nil
		item.ErrorMessage = &errMsg
		item.ProcessedAt = &now
	}
	return nil
}

func (m *memQueueStore) ResetFailed(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reset int64
	for _, item := range m.items {
		if item.Status == models.QueueStatusFailed {
			item.Status = models.QueueStatusPending
			item.Attempts = 0
			item.ErrorMessage = nil
			item.NextRetryAt = nil
			item.ProcessedAt = nil
			reset++
		}
	}
	return reset, nil
}

func (m *memQueueStore) get(itemID string) (*models.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return nil, false
	}
	copied := *item
	return &copied, true
}

func (m *memQueueStore) setNextRetryPast(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[itemID]; ok {
		past := time.Now().Add(-time.Minute)
		item.NextRetryAt = &past
	}
}

func (m *memQueueStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// mockMarketClient stubs the upstream API with func fields and call counters.
type mockMarketClient struct {
	mu              sync.Mutex
	searchOrders    func(ctx context.Context, accessToken, sellerID string, from, to time.Time) ([]meli.Record, error)
	searchClaims    func(ctx context.Context, accessToken string, from, to time.Time) ([]meli.Record, error)
	getClaimDetail  func(ctx context.Context, accessToken, claimID string) (map[string]interface{}, error)
	refreshToken    func(ctx context.Context, refreshToken string) (*meli.TokenRefreshResult, error)
	orderCalls      int
	claimCalls      int
	detailCalls     int
	refreshCalls    int
	lastOrdersFrom  time.Time
	lastOrdersTo    time.Time
	lastAccessToken string
}

func (m *mockMarketClient) SearchOrders(ctx context.Context, accessToken, sellerID string, from, to time.Time) ([]meli.Record, error) {
	m.mu.Lock()
	m.orderCalls++
	m.lastOrdersFrom = from
	m.lastOrdersTo = to
	m.lastAccessToken = accessToken
	fn := m.searchOrders
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, accessToken, sellerID, from, to)
	}
	return nil, nil
}

func (m *mockMarketClient) SearchClaims(ctx context.Context, accessToken string, from, to time.Time) ([]meli.Record, error) {
	m.mu.Lock()
	m.claimCalls++
	m.lastAccessToken = accessToken
	fn := m.searchClaims
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, accessToken, from, to)
	}
	return nil, nil
}

func (m *mockMarketClient) GetClaimDetail(ctx context.Context, accessToken, claimID string) (map[string]interface{}, error) {
	m.mu.Lock()
	m.detailCalls++
	fn := m.getClaimDetail
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, accessToken, claimID)
	}
	return nil, errors.New("no claim detail stubbed")
}

func (m *mockMarketClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*meli.TokenRefreshResult, error) {
	m.mu.Lock()
	m.refreshCalls++
	fn := m.refreshToken
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, refreshToken)
	}
	return &meli.TokenRefreshResult{
		AccessToken:  "refreshed-token",
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(6 * time.Hour),
	}, nil
}

func (m *mockMarketClient) orderCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderCalls
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// activeAccount builds a mercadolivre account with fresh tokens.
func activeAccount(id, orgID string) *models.IntegrationAccount {
	access := "access-" + id
	refresh := "refresh-" + id
	expiry := time.Now().Add(6 * time.Hour)
	return &models.IntegrationAccount{
		ID:                id,
		OrganizationID:    orgID,
		Provider:          models.ProviderMercadoLivre,
		AccountIdentifier: "seller-" + id,
		IsActive:          true,
		AccessToken:       &access,
		RefreshToken:      &refresh,
		TokenExpiresAt:    &expiry,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
}
