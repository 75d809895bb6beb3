package credits

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SignupGrant is the balance every account starts with, applied when
	// the row is first materialized.
	SignupGrant int64 = 5

	// DebitCost is the fixed unit cost of one paid action.
	DebitCost int64 = 1

	// MaxGrantAmount caps a single credit grant. Grants come from payment
	// metadata, so absurd values are rejected rather than applied.
	MaxGrantAmount int64 = 1_000_000
)

type TransactionType string

const (
	TransactionTypeSignup TransactionType = "signup"
	TransactionTypeDebit  TransactionType = "debit"
	TransactionTypeGrant  TransactionType = "grant"
)

type Account struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Balance   int64     `db:"balance" json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type Transaction struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	Amount      int64           `db:"amount" json:"amount"`
	Type        TransactionType `db:"type" json:"type"`
	ReferenceID *string         `db:"reference_id" json:"reference_id,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}
