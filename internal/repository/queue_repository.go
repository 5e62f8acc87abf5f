package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/backofficehq/meli-sync-worker/internal/models"
)

// QueueRepository manages fila_processamento_claims with raw SQL. State
// transitions are single-row optimistic updates so two overlapping drain
// passes cannot both claim the same item.
type QueueRepository struct {
	db          *sql.DB
	maxAttempts int
}

func NewQueueRepository(db *sql.DB, maxAttempts int) *QueueRepository {
	if maxAttempts <= 0 {
		maxAttempts = models.QueueMaxAttempts
	}
	return &QueueRepository{db: db, maxAttempts: maxAttempts}
}

const queueColumns = `
	id, claim_id, integration_account_id, status, tentativas, prioridade,
	processing_until, proximo_retry_em, erro_mensagem,
	criado_em, atualizado_em, processado_em
`

// Enqueue inserts a pending item for a claim. Duplicate
// (claim_id, integration_account_id) pairs are ignored.
func (r *QueueRepository) Enqueue(ctx context.Context, item models.QueueItem) error {
	query := `
		INSERT INTO fila_processamento_claims (
			id, claim_id, integration_account_id, status, tentativas,
			prioridade, criado_em, atualizado_em
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (claim_id, integration_account_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.ClaimID,
		item.IntegrationAccountID,
		item.Status,
		item.Attempts,
		item.Priority,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue claim: %w", err)
	}

	return nil
}

// ReclaimExpired handles items stuck in processing past their lease, so a
// crashed drain pass cannot strand them forever. Items still under the
// attempt cap revert to pending; items that crashed on their final attempt
// have no attempts left and go straight to failed.
func (r *QueueRepository) ReclaimExpired(ctx context.Context) (int64, error) {
	now := time.Now()

	failQuery := `
		UPDATE fila_processamento_claims
		SET status = $1, processing_until = NULL, erro_mensagem = $2,
		    atualizado_em = $3, processado_em = $3
		WHERE status = $4 AND processing_until IS NOT NULL AND processing_until < $3
		  AND tentativas >= $5
	`
	failed, err := r.db.ExecContext(ctx, failQuery,
		models.QueueStatusFailed, "processing lease expired on final attempt", now,
		models.QueueStatusProcessing, r.maxAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to retire expired items: %w", err)
	}

	pendQuery := `
		UPDATE fila_processamento_claims
		SET status = $1, processing_until = NULL, atualizado_em = $2
		WHERE status = $3 AND processing_until IS NOT NULL AND processing_until < $2
		  AND tentativas < $4
	`
	pended, err := r.db.ExecContext(ctx, pendQuery,
		models.QueueStatusPending, now, models.QueueStatusProcessing, r.maxAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired items: %w", err)
	}

	failedRows, err := failed.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read retire result: %w", err)
	}
	pendedRows, err := pended.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reclaim result: %w", err)
	}
	return failedRows + pendedRows, nil
}

// NextBatch selects up to limit pending items below the attempt cap whose
// backoff window has passed, highest priority first, oldest first within a
// priority.
func (r *QueueRepository) NextBatch(ctx context.Context, limit int) ([]models.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM fila_processamento_claims
		WHERE status = $1
		  AND tentativas < $2
		  AND (proximo_retry_em IS NULL OR proximo_retry_em <= $3)
		ORDER BY prioridade DESC, criado_em ASC
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, models.QueueStatusPending, r.maxAttempts, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending items: %w", err)
	}
	defer rows.Close()

	return r.scanItems(rows)
}

// ClaimForProcessing transitions one item pending→processing with a lease and
// increments its attempt counter. Returns false when another pass got there
// first.
func (r *QueueRepository) ClaimForProcessing(ctx context.Context, itemID string, lease time.Duration) (bool, error) {
	query := `
		UPDATE fila_processamento_claims
		SET status = $1, tentativas = tentativas + 1,
		    processing_until = $2, atualizado_em = $3
		WHERE id = $4 AND status = $5
	`

	now := time.Now()
	result, err := r.db.ExecContext(ctx, query,
		models.QueueStatusProcessing, now.Add(lease), now,
		itemID, models.QueueStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return affected == 1, nil
}

// MarkCompleted transitions an item to its terminal completed state.
func (r *QueueRepository) MarkCompleted(ctx context.Context, itemID string) error {
	query := `
		UPDATE fila_processamento_claims
		SET status = $1, processing_until = NULL, erro_mensagem = NULL,
		    atualizado_em = $2, processado_em = $2
		WHERE id = $3
	`

	_, err := r.db.ExecContext(ctx, query, models.QueueStatusCompleted, time.Now(), itemID)
	if err != nil {
		return fmt.Errorf("failed to mark item completed: %w", err)
	}
	return nil
}

// MarkRetry reverts an item to pending with the error recorded and a backoff
// deadline before it becomes eligible again.
func (r *QueueRepository) MarkRetry(ctx context.Context, itemID string, errMsg string, nextRetryAt time.Time) error {
	query := `
		UPDATE fila_processamento_claims
		SET status = $1, processing_until = NULL, erro_mensagem = $2,
		    proximo_retry_em = $3, atualizado_em = $4
		WHERE id = $5
	`

	_, err := r.db.ExecContext(ctx, query, models.QueueStatusPending, errMsg, nextRetryAt, time.Now(), itemID)
	if err != nil {
		return fmt.Errorf("failed to mark item for retry: %w", err)
	}
	return nil
}

// MarkFailed transitions an item to its terminal failed state after the
// attempt cap is reached.
func (r *QueueRepository) MarkFailed(ctx context.Context, itemID string, errMsg string) error {
	query := `
		UPDATE fila_processamento_claims
		SET status = $1, processing_until = NULL, erro_mensagem = $2,
		    atualizado_em = $3, processado_em = $3
		WHERE id = $4
	`

	_, err := r.db.ExecContext(ctx, query, models.QueueStatusFailed, errMsg, time.Now(), itemID)
	if err != nil {
		return fmt.Errorf("failed to mark item failed: %w", err)
	}
	return nil
}

// ResetFailed requeues all terminally failed items with a fresh attempt
// budget. Admin escape hatch; nothing automatic retries a failed item.
func (r *QueueRepository) ResetFailed(ctx context.Context) (int64, error) {
	query := `
		UPDATE fila_processamento_claims
		SET status = $1, tentativas = 0, erro_mensagem = NULL,
		    proximo_retry_em = NULL, processado_em = NULL, atualizado_em = $2
		WHERE status = $3
	`

	result, err := r.db.ExecContext(ctx, query, models.QueueStatusPending, time.Now(), models.QueueStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed items: %w", err)
	}

	return result.RowsAffected()
}

// GetByID retrieves a queue item by ID
func (r *QueueRepository) GetByID(ctx context.Context, itemID string) (*models.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM fila_processamento_claims
		WHERE id = $1
	`

	var item models.QueueItem
	err := r.db.QueryRowContext(ctx, query, itemID).Scan(
		&item.ID,
		&item.ClaimID,
		&item.IntegrationAccountID,
		&item.Status,
		&item.Attempts,
		&item.Priority,
		&item.ProcessingUntil,
		&item.NextRetryAt,
		&item.ErrorMessage,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.ProcessedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("queue item not found")
		}
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}

	return &item, nil
}

// scanItems scans database rows into a QueueItem slice
func (r *QueueRepository) scanItems(rows *sql.Rows) ([]models.QueueItem, error) {
	var items []models.QueueItem

	for rows.Next() {
		var item models.QueueItem
		err := rows.Scan(
			&item.ID,
			&item.ClaimID,
			&item.IntegrationAccountID,
			&item.Status,
			&item.Attempts,
			&item.Priority,
			&item.ProcessingUntil,
			&item.NextRetryAt,
			&item.ErrorMessage,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}
