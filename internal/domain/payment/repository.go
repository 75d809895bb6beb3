package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines payment data access
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByReference(ctx context.Context, reference string) (*Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, error)
	MarkCompleted(ctx context.Context, reference string) error
	MarkFailed(ctx context.Context, reference string) error
	RecordEvent(ctx context.Context, ev *WebhookEvent) error
	MarkEventProcessed(ctx context.Context, provider, eventID, processingError string) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates payment repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, p *Payment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, plan, amount_cents, credits, currency, payment_reference, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.UserID, p.Plan, p.AmountCents, p.Credits, p.Currency, p.PaymentReference, p.Status)
	return err
}

func (r *repository) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p, `
		SELECT id, user_id, plan, amount_cents, credits, currency, payment_reference,
		       status, paid_at, failed_at, created_at, updated_at
		FROM payments
		WHERE payment_reference = $1
	`, reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, error) {
	var payments []*Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT id, user_id, plan, amount_cents, credits, currency, payment_reference,
		       status, paid_at, failed_at, created_at, updated_at
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return payments, err
}

// MarkCompleted moves a pending payment to completed. The status predicate
// keeps terminal rows untouched; marking an already-completed payment is a
// no-op so webhook redelivery stays safe.
func (r *repository) MarkCompleted(ctx context.Context, reference string) error {
	return r.transition(ctx, reference, StatusCompleted, `
		UPDATE payments
		SET status = $2, paid_at = NOW(), updated_at = NOW()
		WHERE payment_reference = $1 AND status = 'pending'
	`)
}

// MarkFailed moves a pending payment to failed.
func (r *repository) MarkFailed(ctx context.Context, reference string) error {
	return r.transition(ctx, reference, StatusFailed, `
		UPDATE payments
		SET status = $2, failed_at = NOW(), updated_at = NOW()
		WHERE payment_reference = $1 AND status = 'pending'
	`)
}

func (r *repository) transition(ctx context.Context, reference string, target Status, query string) error {
	res, err := r.db.ExecContext(ctx, query, reference, target)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	p, err := r.GetByReference(ctx, reference)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPayment, reference)
	}
	if p.Status == target {
		return nil
	}
	return fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, reference, p.Status)
}

func (r *repository) RecordEvent(ctx context.Context, ev *WebhookEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (provider, event_id, event_type, payload, signature_valid)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, ev.Provider, ev.EventID, ev.EventType, ev.Payload, ev.SignatureValid)
	return err
}

func (r *repository) MarkEventProcessed(ctx context.Context, provider, eventID, processingError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET processed_at = NOW(), processing_error = NULLIF($3, '')
		WHERE provider = $1 AND event_id = $2
	`, provider, eventID, processingError)
	return err
}
