package meli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/backofficehq/meli-sync-worker/internal/cache"
	"github.com/backofficehq/meli-sync-worker/internal/metrics"
)

const (
	searchPageSize       = 50
	claimDetailCacheTTL  = 5 * time.Minute
	defaultClientTimeout = 30 * time.Second
)

var (
	// ErrClaimNotFound indicates the marketplace has no claim with that ID.
	ErrClaimNotFound = errors.New("meli claim not found")
	// ErrTokenRefresh indicates the OAuth refresh exchange was rejected.
	ErrTokenRefresh = errors.New("meli token refresh failed")
)

// Client provides typed access to the MercadoLibre public API.
type Client struct {
	logger       *slog.Logger
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client
	metrics      *metrics.Metrics
	cache        *cache.Redis
	detailTTL    time.Duration
}

// Config holds MercadoLibre client configuration.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Record is one marketplace order or claim as returned by a search endpoint:
// the external ID plus the verbatim payload.
type Record struct {
	ExternalID string
	Payload    map[string]interface{}
}

// TokenRefreshResult carries the outcome of an OAuth refresh exchange.
type TokenRefreshResult struct {
	AccessToken  string
	RefreshToken string // May be same or rotated
	ExpiresAt    time.Time
}

// New creates a new MercadoLibre client. The Redis cache memoizes claim
// detail fetches; pass nil to disable memoization.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics, redis *cache.Redis) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.mercadolibre.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{
		logger:       logger.With("component", "meli"),
		baseURL:      base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http:         &http.Client{Timeout: timeout},
		metrics:      m,
		cache:        redis,
		detailTTL:    claimDetailCacheTTL,
	}
}

// SearchOrders fetches all orders for a seller created inside [from, to],
// paging through /orders/search.
func (c *Client) SearchOrders(ctx context.Context, accessToken, sellerID string, from, to time.Time) ([]Record, error) {
	var records []Record
	offset := 0

	for {
		params := url.Values{}
		params.Set("seller", sellerID)
		params.Set("order.date_created.from", from.UTC().Format(time.RFC3339))
		params.Set("order.date_created.to", to.UTC().Format(time.RFC3339))
		params.Set("limit", strconv.Itoa(searchPageSize))
		params.Set("offset", strconv.Itoa(offset))

		var page struct {
			Results []map[string]interface{} `json:"results"`
			Paging  struct {
				Total int `json:"total"`
			} `json:"paging"`
		}
		if err := c.get(ctx, "orders_search", "/orders/search?"+params.Encode(), accessToken, &page); err != nil {
			return nil, err
		}

		for _, raw := range page.Results {
			rec, ok := toRecord(raw)
			if !ok {
				c.logger.Warn("order without id in search response", "seller", sellerID)
				continue
			}
			records = append(records, rec)
		}

		offset += searchPageSize
		if offset >= page.Paging.Total || len(page.Results) == 0 {
			break
		}
	}

	return records, nil
}

// SearchClaims fetches all claims opened against a seller inside [from, to],
// paging through the post-purchase claims search.
func (c *Client) SearchClaims(ctx context.Context, accessToken string, from, to time.Time) ([]Record, error) {
	var records []Record
	offset := 0

	for {
		params := url.Values{}
		params.Set("range", "date_created")
		params.Set("date_from", from.UTC().Format(time.RFC3339))
		params.Set("date_to", to.UTC().Format(time.RFC3339))
		params.Set("limit", strconv.Itoa(searchPageSize))
		params.Set("offset", strconv.Itoa(offset))

		var page struct {
			Data   []map[string]interface{} `json:"data"`
			Paging struct {
				Total int `json:"total"`
			} `json:"paging"`
		}
		if err := c.get(ctx, "claims_search", "/post-purchase/v1/claims/search?"+params.Encode(), accessToken, &page); err != nil {
			return nil, err
		}

		for _, raw := range page.Data {
			rec, ok := toRecord(raw)
			if !ok {
				c.logger.Warn("claim without id in search response")
				continue
			}
			records = append(records, rec)
		}

		offset += searchPageSize
		if offset >= page.Paging.Total || len(page.Data) == 0 {
			break
		}
	}

	return records, nil
}

// GetClaimDetail fetches the enriched detail for one claim. Results are
// memoized in Redis for a short window since the queue drain may revisit the
// same claim across retries.
func (c *Client) GetClaimDetail(ctx context.Context, accessToken, claimID string) (map[string]interface{}, error) {
	cacheKey := "meli:claim_detail:" + claimID
	if c.cache != nil {
		var cached map[string]interface{}
		if hit, err := c.cache.GetJSON(ctx, cacheKey, &cached); err != nil {
			c.logger.Warn("claim detail cache read failed", "claim_id", claimID, "error", err)
		} else if hit {
			return cached, nil
		}
	}

	var detail map[string]interface{}
	err := c.get(ctx, "claim_detail", "/post-purchase/v1/claims/"+url.PathEscape(claimID), accessToken, &detail)
	if err != nil {
		return nil, err
	}
	if len(detail) == 0 {
		return nil, ErrClaimNotFound
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, cacheKey, detail, c.detailTTL); err != nil {
			c.logger.Warn("claim detail cache write failed", "claim_id", claimID, "error", err)
		}
	}

	return detail, nil
}

// RefreshAccessToken refreshes the OAuth2 access token
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error) {
	config := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.baseURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
	}

	tokenSource := config.TokenSource(ctx, token)
	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}

	result := &TokenRefreshResult{
		AccessToken: newToken.AccessToken,
		ExpiresAt:   newToken.Expiry,
	}

	// MercadoLibre rotates refresh tokens on every exchange.
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		result.RefreshToken = newToken.RefreshToken
	} else {
		result.RefreshToken = refreshToken
	}

	return result, nil
}

func (c *Client) get(ctx context.Context, endpoint, path, accessToken string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(endpoint, "transport_error", start)
		return fmt.Errorf("meli %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(endpoint, "read_error", start)
		return fmt.Errorf("meli %s: read body: %w", endpoint, err)
	}

	c.observe(endpoint, strconv.Itoa(resp.StatusCode), start)

	if resp.StatusCode == http.StatusNotFound {
		return ErrClaimNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("meli %s: unexpected status %d: %s", endpoint, resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("meli %s: decode response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) observe(endpoint, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.MeliRequests.WithLabelValues(endpoint, status).Inc()
	c.metrics.MeliLatency.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
}

func toRecord(raw map[string]interface{}) (Record, bool) {
	id, ok := externalID(raw)
	if !ok {
		return Record{}, false
	}
	return Record{ExternalID: id, Payload: raw}, true
}

// externalID extracts the marketplace ID from a raw payload. IDs arrive as
// JSON numbers for orders and strings for claims.
func externalID(raw map[string]interface{}) (string, bool) {
	switch v := raw["id"].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatInt(int64(v), 10), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
