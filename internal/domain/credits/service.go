package credits

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// GetBalance returns the user's balance, materializing the account with the
// signup grant on first read.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// Debit spends one credit and returns the new balance.
func (s *Service) Debit(ctx context.Context, userID uuid.UUID) (int64, error) {
	balance, err := s.repo.Debit(ctx, userID)
	if err != nil {
		return 0, err
	}
	log.Info().Str("user_id", userID.String()).Int64("balance", balance).Msg("credit debited")
	return balance, nil
}

// Grant adds amount credits, at most once per reference. Called only from
// trusted server-side paths (webhook ingestion), never from client handlers.
func (s *Service) Grant(ctx context.Context, userID uuid.UUID, amount int64, referenceID string) (int64, error) {
	if amount <= 0 || amount > MaxGrantAmount || referenceID == "" {
		return 0, ErrInvalidAmount
	}
	balance, err := s.repo.Grant(ctx, userID, amount, referenceID)
	if err != nil {
		return 0, err
	}
	log.Info().Str("user_id", userID.String()).Int64("amount", amount).Str("reference_id", referenceID).Msg("credit grant applied")
	return balance, nil
}

// History returns the user's ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Transaction, error) {
	return s.repo.History(ctx, userID, limit, offset)
}
