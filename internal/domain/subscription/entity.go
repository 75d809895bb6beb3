package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Well-known processor subscription states. The status column stores the
// processor's string verbatim; these are the values worth branching on.
const (
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusTrialing = "trialing"
)

// Subscription mirrors one processor subscription. The processor owns the
// state; this system only stores what the last event said.
type Subscription struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	UserID               uuid.UUID `db:"user_id" json:"user_id"`
	StripeSubscriptionID string    `db:"stripe_subscription_id" json:"stripe_subscription_id"`
	StripeCustomerID     string    `db:"stripe_customer_id" json:"stripe_customer_id"`
	Status               string    `db:"status" json:"status"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}
