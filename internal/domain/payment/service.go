package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

const providerStripe = "stripe"

// CreditGranter applies credit grants. Satisfied by credits.Service.
type CreditGranter interface {
	Grant(ctx context.Context, userID uuid.UUID, amount int64, referenceID string) (int64, error)
}

// SubscriptionMirror mirrors processor subscription state. Satisfied by
// subscription.Service.
type SubscriptionMirror interface {
	ApplyProcessorUpdate(ctx context.Context, userID uuid.UUID, subscriptionID, customerID, status string) error
}

// IntentClient creates payment intents with the processor.
type IntentClient interface {
	NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeIntentClient is the production IntentClient backed by an explicitly
// constructed Stripe API client (no package-global key).
type StripeIntentClient struct {
	api *client.API
}

func NewStripeIntentClient(apiKey string) *StripeIntentClient {
	return &StripeIntentClient{api: client.New(apiKey, nil)}
}

func (c *StripeIntentClient) NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return c.api.PaymentIntents.New(params)
}

// Service handles checkout and webhook ingestion
type Service struct {
	repo          Repository
	credits       CreditGranter
	subs          SubscriptionMirror
	intents       IntentClient
	plans         map[string]Plan
	webhookSecret string
}

func NewService(repo Repository, credits CreditGranter, subs SubscriptionMirror, intents IntentClient, plans map[string]Plan, webhookSecret string) *Service {
	return &Service{
		repo:          repo,
		credits:       credits,
		subs:          subs,
		intents:       intents,
		plans:         plans,
		webhookSecret: webhookSecret,
	}
}

// Plans returns the fixed price table.
func (s *Service) Plans() map[string]Plan {
	return s.plans
}

// CheckoutResponse carries what the frontend needs to finish the hosted flow.
type CheckoutResponse struct {
	PaymentID    uuid.UUID `json:"payment_id"`
	ClientSecret string    `json:"client_secret"`
}

// CreateCheckout creates a payment intent for the chosen plan and records a
// pending payment keyed by the intent id.
func (s *Service) CreateCheckout(ctx context.Context, userID uuid.UUID, planName string) (*CheckoutResponse, error) {
	plan, ok := s.plans[planName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planName)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(plan.AmountCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID.String())
	params.AddMetadata("plan", plan.Name)
	params.AddMetadata("credits", strconv.FormatInt(plan.Credits, 10))
	if plan.PriceID != "" {
		params.AddMetadata("price_id", plan.PriceID)
	}

	pi, err := s.intents.NewPaymentIntent(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	p := &Payment{
		ID:               uuid.New(),
		UserID:           userID,
		Plan:             plan.Name,
		AmountCents:      plan.AmountCents,
		Credits:          plan.Credits,
		Currency:         string(stripe.CurrencyUSD),
		PaymentReference: pi.ID,
		Status:           StatusPending,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment record: %w", err)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("plan", plan.Name).
		Str("payment_reference", pi.ID).
		Msg("checkout created")

	return &CheckoutResponse{PaymentID: p.ID, ClientSecret: pi.ClientSecret}, nil
}

// GetPaymentHistory lists the user's payments, newest first.
func (s *Service) GetPaymentHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Payment, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// HandleWebhook verifies a processor event and applies it. Nothing is
// mutated before the signature checks out. Processing is idempotent per
// event: a completed payment short-circuits the grant and the credits
// ledger rejects a duplicate reference, so processor redelivery is safe.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.webhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	if err := s.repo.RecordEvent(ctx, &WebhookEvent{
		Provider:       providerStripe,
		EventID:        event.ID,
		EventType:      string(event.Type),
		Payload:        payload,
		SignatureValid: true,
	}); err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}

	procErr := s.processEvent(ctx, event)

	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := s.repo.MarkEventProcessed(ctx, providerStripe, event.ID, msg); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("failed to mark webhook event processed")
	}

	return procErr
}

func (s *Service) processEvent(ctx context.Context, event stripe.Event) error {
	switch string(event.Type) {
	case "payment_intent.succeeded":
		reference, err := paymentReference(event)
		if err != nil {
			return err
		}
		return s.handleSucceeded(ctx, reference)

	case "payment_intent.payment_failed":
		reference, err := paymentReference(event)
		if err != nil {
			return err
		}
		return s.handleFailed(ctx, reference)

	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
		return s.handleSubscription(ctx, event)

	default:
		log.Debug().Str("type", string(event.Type)).Str("event_id", event.ID).Msg("ignoring webhook event type")
		return nil
	}
}

// handleSucceeded grants credits, then marks the payment completed. The
// grant comes first: a crash in between leaves a pending record, and the
// processor's retry re-runs both steps idempotently.
func (s *Service) handleSucceeded(ctx context.Context, reference string) error {
	p, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPayment, reference)
	}
	if p.Status == StatusCompleted {
		log.Info().Str("payment_reference", reference).Msg("payment already completed, skipping grant")
		return nil
	}
	if p.Status == StatusFailed {
		// Terminal status is never reversed. Acknowledge so the processor
		// stops redelivering.
		log.Error().Str("payment_reference", reference).Msg("succeeded event for failed payment, ignoring")
		return nil
	}

	if _, err := s.credits.Grant(ctx, p.UserID, p.Credits, p.PaymentReference); err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	if err := s.repo.MarkCompleted(ctx, reference); err != nil {
		return fmt.Errorf("mark payment completed: %w", err)
	}

	log.Info().
		Str("user_id", p.UserID.String()).
		Str("payment_reference", reference).
		Int64("credits", p.Credits).
		Msg("payment completed, credits granted")
	return nil
}

func (s *Service) handleFailed(ctx context.Context, reference string) error {
	p, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPayment, reference)
	}
	if p.IsTerminal() {
		return nil
	}

	if err := s.repo.MarkFailed(ctx, reference); err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}

	log.Warn().Str("payment_reference", reference).Msg("payment failed")
	return nil
}

func (s *Service) handleSubscription(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if sub.ID == "" || sub.Status == "" {
		return fmt.Errorf("%w: subscription event missing id or status", ErrMalformedEvent)
	}

	rawUserID := sub.Metadata["user_id"]
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		// Subscription was not created through this system. The mirror is
		// passive, so there is nothing to attach the update to.
		log.Warn().Str("subscription_id", sub.ID).Str("user_id", rawUserID).Msg("subscription event without usable user_id metadata")
		return nil
	}

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}

	return s.subs.ApplyProcessorUpdate(ctx, userID, sub.ID, customerID, string(sub.Status))
}

// paymentReference extracts and validates the intent id from a
// payment_intent event payload.
func paymentReference(event stripe.Event) (string, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if pi.ID == "" {
		return "", fmt.Errorf("%w: payment_intent event missing id", ErrMalformedEvent)
	}
	return pi.ID, nil
}
