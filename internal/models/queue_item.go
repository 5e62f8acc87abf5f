package models

import "time"

type QueueItemStatus string

const (
	QueueStatusPending    QueueItemStatus = "pending"
	QueueStatusProcessing QueueItemStatus = "processing"
	QueueStatusCompleted  QueueItemStatus = "completed"
	QueueStatusFailed     QueueItemStatus = "failed"
)

// QueueMaxAttempts is the terminal cutoff: an item failing this many times
// stays failed until an admin reset.
const QueueMaxAttempts = 3

// ProcessingLease bounds how long an item may sit in processing before a
// later drain pass reclaims it as pending.
const ProcessingLease = 5 * time.Minute

// QueueItem is one claim pending detail-fetch in fila_processamento_claims.
// Column names keep the table's original Portuguese layout; marketplace claim
// IDs are not guaranteed numeric, hence the string ClaimID.
type QueueItem struct {
	ID                   string
	ClaimID              string
	IntegrationAccountID string
	Status               QueueItemStatus
	Attempts             int
	Priority             int
	ProcessingUntil      *time.Time
	NextRetryAt          *time.Time
	ErrorMessage         *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ProcessedAt          *time.Time
}
