package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/backofficehq/meli-sync-worker/internal/metrics"
	"github.com/backofficehq/meli-sync-worker/internal/models"
)

const (
	// DrainBatchSize bounds one drain pass.
	DrainBatchSize = 50

	retryBaseBackoff = 30 * time.Second
	retryMaxBackoff  = 10 * time.Minute
)

// DrainSummary reports one drain pass.
type DrainSummary struct {
	Processed  int   `json:"processed"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"duration_ms"`
}

// DrainService works through fila_processamento_claims: claim an item,
// fetch the claim's enriched detail, persist the normalized claim, and move
// the item to its next state.
type DrainService struct {
	accounts    AccountStore
	queue       QueueStore
	claims      ClaimStore
	client      MarketClient
	tokens      *tokenManager
	maxAttempts int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func NewDrainService(accounts AccountStore, queue QueueStore, claims ClaimStore, client MarketClient, maxAttempts int, logger *slog.Logger, m *metrics.Metrics) *DrainService {
	if maxAttempts <= 0 {
		maxAttempts = models.QueueMaxAttempts
	}
	return &DrainService{
		accounts:    accounts,
		queue:       queue,
		claims:      claims,
		client:      client,
		tokens:      newTokenManager(accounts, client, logger),
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "queue_drain"),
		metrics:     m,
	}
}

// Run executes one drain pass: up to DrainBatchSize eligible items,
// sequentially, each committed individually.
func (d *DrainService) Run(ctx context.Context) (*DrainSummary, error) {
	start := time.Now()
	summary := &DrainSummary{}

	if reclaimed, err := d.queue.ReclaimExpired(ctx); err != nil {
		d.logger.Warn("failed to reclaim expired items", "error", err)
	} else if reclaimed > 0 {
		d.logger.Info("reclaimed items with expired leases", "count", reclaimed)
	}

	items, err := d.queue.NextBatch(ctx, DrainBatchSize)
	if err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.QueueDrainDepth.Observe(float64(len(items)))
	}
	if len(items) == 0 {
		summary.DurationMs = time.Since(start).Milliseconds()
		return summary, nil
	}

	d.logger.Info("drain pass starting", "items", len(items))

	for _, item := range items {
		processed, err := d.processItem(ctx, item)
		if !processed {
			continue // claimed by a concurrent pass
		}
		if err != nil {
			summary.Failed++
			continue
		}
		summary.Processed++
	}

	summary.DurationMs = time.Since(start).Milliseconds()
	d.logger.Info("drain pass finished",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"duration_ms", summary.DurationMs)

	return summary, nil
}

// processItem handles one queue item. The bool reports whether this pass
// owned the item at all.
func (d *DrainService) processItem(ctx context.Context, item models.QueueItem) (bool, error) {
	claimed, err := d.queue.ClaimForProcessing(ctx, item.ID, models.ProcessingLease)
	if err != nil {
		d.logger.Error("failed to claim queue item", "item_id", item.ID, "error", err)
		return false, err
	}
	if !claimed {
		return false, nil
	}

	// ClaimForProcessing incremented the counter; this is the attempt number
	// the current try runs under.
	attempt := item.Attempts + 1

	if err := d.fetchAndPersist(ctx, item); err != nil {
		d.failItem(ctx, item, attempt, err)
		return true, err
	}

	if err := d.queue.MarkCompleted(ctx, item.ID); err != nil {
		d.logger.Error("failed to mark item completed", "item_id", item.ID, "error", err)
		return true, err
	}

	d.observeItem("completed")
	return true, nil
}

func (d *DrainService) fetchAndPersist(ctx context.Context, item models.QueueItem) error {
	account, err := d.accounts.GetByID(ctx, item.IntegrationAccountID)
	if err != nil {
		return fmt.Errorf("failed to resolve account: %w", err)
	}

	accessToken, err := d.tokens.EnsureAccessToken(ctx, account)
	if err != nil {
		return err
	}

	detail, err := d.client.GetClaimDetail(ctx, accessToken, item.ClaimID)
	if err != nil {
		return fmt.Errorf("failed to fetch claim detail: %w", err)
	}

	claim, err := NormalizeClaim(account.OrganizationID, account.ID, item.ClaimID, detail)
	if err != nil {
		return err
	}

	if err := d.claims.Upsert(ctx, claim); err != nil {
		return err
	}

	return nil
}

// failItem either retires the item after the final attempt or reverts it to
// pending with a backoff deadline.
func (d *DrainService) failItem(ctx context.Context, item models.QueueItem, attempt int, cause error) {
	errMsg := cause.Error()

	if attempt >= d.maxAttempts {
		if err := d.queue.MarkFailed(ctx, item.ID, errMsg); err != nil {
			d.logger.Error("failed to mark item failed", "item_id", item.ID, "error", err)
		}
		d.observeItem("failed")
		d.logger.Error("queue item failed terminally",
			"item_id", item.ID, "claim_id", item.ClaimID, "attempts", attempt, "error", errMsg)
		return
	}

	nextRetryAt := time.Now().Add(retryBackoff(attempt))
	if err := d.queue.MarkRetry(ctx, item.ID, errMsg, nextRetryAt); err != nil {
		d.logger.Error("failed to mark item for retry", "item_id", item.ID, "error", err)
	}
	d.observeItem("retried")
	d.logger.Warn("queue item scheduled for retry",
		"item_id", item.ID, "claim_id", item.ClaimID, "attempt", attempt, "next_retry_at", nextRetryAt, "error", errMsg)
}

// ResetFailed requeues all terminally failed items. Admin operation.
func (d *DrainService) ResetFailed(ctx context.Context) (int64, error) {
	return d.queue.ResetFailed(ctx)
}

// retryBackoff grows base * 2^(attempt-1), capped.
func retryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return retryBaseBackoff
	}
	delay := time.Duration(float64(retryBaseBackoff) * math.Pow(2, float64(attempt-1)))
	if delay > retryMaxBackoff {
		return retryMaxBackoff
	}
	return delay
}

func (d *DrainService) observeItem(outcome string) {
	if d.metrics != nil {
		d.metrics.QueueItems.WithLabelValues(outcome).Inc()
	}
}
