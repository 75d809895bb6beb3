package subscription

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

// ApplyProcessorUpdate mirrors a subscription state change reported by the
// payment processor.
func (s *Service) ApplyProcessorUpdate(ctx context.Context, userID uuid.UUID, subscriptionID, customerID, status string) error {
	if userID == uuid.Nil || subscriptionID == "" || status == "" {
		return ErrInvalidUpdate
	}

	sub := &Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		StripeSubscriptionID: subscriptionID,
		StripeCustomerID:     customerID,
		Status:               status,
	}
	if err := s.repo.Upsert(ctx, sub); err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("subscription_id", subscriptionID).
		Str("status", status).
		Msg("subscription state mirrored")
	return nil
}

// GetForUser returns the user's current subscription mirror, or nil.
func (s *Service) GetForUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.repo.GetByUserID(ctx, userID)
}
