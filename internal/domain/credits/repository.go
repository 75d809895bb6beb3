package credits

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// ensureAccount materializes the balance row with the signup grant on first
// touch. The primary key on user_id makes concurrent first accesses collapse
// into a single row; the losing insert is a no-op.
func (r *Repository) ensureAccount(ctx context.Context, q sqlx.ExtContext, userID uuid.UUID) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO user_credits (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, SignupGrant)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}

	// Row was just created, record the signup grant in the ledger.
	_, err = q.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, type, reference_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, type, reference_id) DO NOTHING
	`, uuid.New(), userID, SignupGrant, TransactionTypeSignup, string(TransactionTypeSignup))
	return err
}

func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if err := r.ensureAccount(ctx, r.db, userID); err != nil {
		return 0, err
	}

	var balance int64
	err := r.db.GetContext(ctx, &balance, `SELECT balance FROM user_credits WHERE user_id = $1`, userID)
	return balance, err
}

func (r *Repository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

// Debit decrements the balance by DebitCost as a single conditional update.
// The `balance >= cost` predicate runs inside the row update, so two
// concurrent debits at balance 1 can never both succeed.
func (r *Repository) Debit(ctx context.Context, userID uuid.UUID) (int64, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := r.ensureAccount(ctx, tx, userID); err != nil {
		return 0, err
	}

	var balance int64
	err = tx.GetContext(ctx, &balance, `
		UPDATE user_credits
		SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`, userID, DebitCost)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, type)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), userID, -DebitCost, TransactionTypeDebit); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// Grant increments the balance by amount, creating the row with that amount
// if absent. One grant per (user, reference): the ledger row is written
// before the balance update so a duplicate reference aborts the transaction
// without touching the balance.
func (r *Repository) Grant(ctx context.Context, userID uuid.UUID, amount int64, referenceID string) (int64, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	existingAmount, exists, err := r.grantAmountByRef(ctx, tx, userID, referenceID)
	if err != nil {
		return 0, err
	}
	if exists {
		if existingAmount != amount {
			return 0, ErrReferenceConflict
		}
		var balance int64
		err := tx.GetContext(ctx, &balance, `SELECT balance FROM user_credits WHERE user_id = $1`, userID)
		return balance, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, type, reference_id)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), userID, amount, TransactionTypeGrant, referenceID); err != nil {
		if isUniqueViolation(err) {
			// Lost the race to a concurrent grant with the same reference.
			tx.Rollback()
			return r.resolveDuplicateGrant(ctx, userID, amount, referenceID)
		}
		return 0, err
	}

	var balance int64
	if err := tx.GetContext(ctx, &balance, `
		INSERT INTO user_credits (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = user_credits.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance
	`, userID, amount); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *Repository) resolveDuplicateGrant(ctx context.Context, userID uuid.UUID, amount int64, referenceID string) (int64, error) {
	existingAmount, exists, err := r.grantAmountByRef(ctx, r.db, userID, referenceID)
	if err != nil {
		return 0, err
	}
	if !exists || existingAmount != amount {
		return 0, ErrReferenceConflict
	}

	var balance int64
	err = r.db.GetContext(ctx, &balance, `SELECT balance FROM user_credits WHERE user_id = $1`, userID)
	return balance, err
}

func (r *Repository) grantAmountByRef(ctx context.Context, q sqlx.QueryerContext, userID uuid.UUID, referenceID string) (int64, bool, error) {
	var amount int64
	err := sqlx.GetContext(ctx, q, &amount, `
		SELECT amount
		FROM credit_transactions
		WHERE user_id = $1 AND type = $2 AND reference_id = $3
		LIMIT 1
	`, userID, string(TransactionTypeGrant), referenceID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return amount, true, nil
}

// History lists ledger entries for a user, newest first.
func (r *Repository) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Transaction, error) {
	var txs []*Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT id, user_id, amount, type, reference_id, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return txs, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
