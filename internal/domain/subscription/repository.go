package subscription

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Upsert writes the processor's latest view of a subscription, keyed by the
// processor subscription id.
func (r *Repository) Upsert(ctx context.Context, sub *Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, stripe_subscription_id, stripe_customer_id, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stripe_subscription_id) DO UPDATE
		SET status = EXCLUDED.status,
		    stripe_customer_id = EXCLUDED.stripe_customer_id,
		    updated_at = now()
	`, sub.ID, sub.UserID, sub.StripeSubscriptionID, sub.StripeCustomerID, sub.Status)
	return err
}

// GetByUserID returns the user's most recently updated subscription, or nil.
func (r *Repository) GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := r.db.GetContext(ctx, &sub, `
		SELECT id, user_id, stripe_subscription_id, stripe_customer_id, status, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}
