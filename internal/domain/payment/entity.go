package payment

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status represents payment status
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payment represents one checkout attempt. PaymentReference is the
// processor's intent id and is unique per row.
type Payment struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	UserID           uuid.UUID    `db:"user_id" json:"user_id"`
	Plan             string       `db:"plan" json:"plan"`
	AmountCents      int64        `db:"amount_cents" json:"amount_cents"`
	Credits          int64        `db:"credits" json:"credits"`
	Currency         string       `db:"currency" json:"currency"`
	PaymentReference string       `db:"payment_reference" json:"payment_reference"`
	Status           Status       `db:"status" json:"status"`
	PaidAt           sql.NullTime `db:"paid_at" json:"paid_at,omitempty"`
	FailedAt         sql.NullTime `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the status can no longer change.
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// WebhookEvent is the audit record for one received processor event,
// unique per (provider, event id).
type WebhookEvent struct {
	ID              int64          `db:"id" json:"id"`
	Provider        string         `db:"provider" json:"provider"`
	EventID         string         `db:"event_id" json:"event_id"`
	EventType       string         `db:"event_type" json:"event_type"`
	Payload         []byte         `db:"payload" json:"payload,omitempty"`
	SignatureValid  bool           `db:"signature_valid" json:"signature_valid"`
	ProcessedAt     sql.NullTime   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingError sql.NullString `db:"processing_error" json:"processing_error,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}
