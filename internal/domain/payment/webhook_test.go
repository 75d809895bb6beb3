package payment_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/craftui/craftui-api/internal/domain/payment"
)

const testWebhookSecret = "whsec_test_secret"

// fakeRepo is an in-memory payment.Repository.
type fakeRepo struct {
	payments map[string]*payment.Payment
	events   map[string]*payment.WebhookEvent
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		payments: make(map[string]*payment.Payment),
		events:   make(map[string]*payment.WebhookEvent),
	}
}

func (r *fakeRepo) Create(_ context.Context, p *payment.Payment) error {
	if _, ok := r.payments[p.PaymentReference]; ok {
		return errors.New("duplicate payment reference")
	}
	cp := *p
	r.payments[p.PaymentReference] = &cp
	return nil
}

func (r *fakeRepo) GetByReference(_ context.Context, reference string) (*payment.Payment, error) {
	p, ok := r.payments[reference]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) ListByUser(_ context.Context, userID uuid.UUID, _, _ int) ([]*payment.Payment, error) {
	var out []*payment.Payment
	for _, p := range r.payments {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkCompleted(_ context.Context, reference string) error {
	return r.transition(reference, payment.StatusCompleted)
}

func (r *fakeRepo) MarkFailed(_ context.Context, reference string) error {
	return r.transition(reference, payment.StatusFailed)
}

func (r *fakeRepo) transition(reference string, target payment.Status) error {
	p, ok := r.payments[reference]
	if !ok {
		return fmt.Errorf("%w: %s", payment.ErrUnknownPayment, reference)
	}
	if p.Status == target {
		return nil
	}
	if p.IsTerminal() {
		return fmt.Errorf("%w: %s is already %s", payment.ErrInvalidTransition, reference, p.Status)
	}
	p.Status = target
	return nil
}

func (r *fakeRepo) RecordEvent(_ context.Context, ev *payment.WebhookEvent) error {
	key := ev.Provider + ":" + ev.EventID
	if _, ok := r.events[key]; ok {
		return nil
	}
	cp := *ev
	r.events[key] = &cp
	return nil
}

func (r *fakeRepo) MarkEventProcessed(_ context.Context, provider, eventID, processingError string) error {
	key := provider + ":" + eventID
	ev, ok := r.events[key]
	if !ok {
		return fmt.Errorf("unknown event %s", key)
	}
	ev.ProcessedAt = sql.NullTime{Time: time.Now(), Valid: true}
	ev.ProcessingError = sql.NullString{String: processingError, Valid: processingError != ""}
	return nil
}

// fakeGranter records grant invocations.
type fakeGranter struct {
	grants []grantCall
}

type grantCall struct {
	userID    uuid.UUID
	amount    int64
	reference string
}

func (g *fakeGranter) Grant(_ context.Context, userID uuid.UUID, amount int64, referenceID string) (int64, error) {
	g.grants = append(g.grants, grantCall{userID: userID, amount: amount, reference: referenceID})
	return amount, nil
}

// fakeMirror records subscription updates.
type fakeMirror struct {
	updates []mirrorCall
}

type mirrorCall struct {
	userID         uuid.UUID
	subscriptionID string
	status         string
}

func (m *fakeMirror) ApplyProcessorUpdate(_ context.Context, userID uuid.UUID, subscriptionID, _, status string) error {
	m.updates = append(m.updates, mirrorCall{userID: userID, subscriptionID: subscriptionID, status: status})
	return nil
}

func newTestService(repo *fakeRepo, granter *fakeGranter, mirror *fakeMirror) *payment.Service {
	return payment.NewService(repo, granter, mirror, nil, payment.PlanTable(nil), testWebhookSecret)
}

// signPayload builds a Stripe-Signature header the way the processor does:
// HMAC-SHA256 over "<timestamp>.<payload>".
func signPayload(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// eventJSON wraps an object payload in the event envelope. ConstructEvent
// rejects events whose api_version differs from the SDK's pinned version,
// so the fixture pins it explicitly.
func eventJSON(eventID, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"api_version":%q,"type":%q,"data":{"object":%s}}`, eventID, stripe.APIVersion, eventType, object))
}

func succeededEvent(eventID, intentID string) []byte {
	return eventJSON(eventID, "payment_intent.succeeded", fmt.Sprintf(`{"id":%q,"object":"payment_intent"}`, intentID))
}

func seedPending(repo *fakeRepo, reference string, credits int64) *payment.Payment {
	p := &payment.Payment{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Plan:             "starter",
		AmountCents:      500,
		Credits:          credits,
		Currency:         "usd",
		PaymentReference: reference,
		Status:           payment.StatusPending,
	}
	repo.payments[reference] = p
	return p
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	repo := newFakeRepo()
	granter := &fakeGranter{}
	svc := newTestService(repo, granter, &fakeMirror{})

	seedPending(repo, "pi_1", 10)
	payload := succeededEvent("evt_1", "pi_1")

	err := svc.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	if !errors.Is(err, payment.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	if len(granter.grants) != 0 {
		t.Fatalf("expected no grants, got %d", len(granter.grants))
	}
	if repo.payments["pi_1"].Status != payment.StatusPending {
		t.Fatalf("expected payment untouched, got status %s", repo.payments["pi_1"].Status)
	}
	if len(repo.events) != 0 {
		t.Fatalf("expected no events recorded before verification, got %d", len(repo.events))
	}
}

func TestWebhookGrantsOnSucceeded(t *testing.T) {
	repo := newFakeRepo()
	granter := &fakeGranter{}
	svc := newTestService(repo, granter, &fakeMirror{})

	p := seedPending(repo, "pi_2", 50)
	payload := succeededEvent("evt_2", "pi_2")

	if err := svc.HandleWebhook(context.Background(), payload, signPayload(t, payload, testWebhookSecret)); err != nil {
		t.Fatalf("handle webhook failed: %v", err)
	}

	if len(granter.grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(granter.grants))
	}
	g := granter.grants[0]
	if g.userID != p.UserID || g.amount != 50 || g.reference != "pi_2" {
		t.Fatalf("unexpected grant %+v", g)
	}
	if repo.payments["pi_2"].Status != payment.StatusCompleted {
		t.Fatalf("expected status completed, got %s", repo.payments["pi_2"].Status)
	}
	ev, ok := repo.events["stripe:evt_2"]
	if !ok {
		t.Fatal("expected webhook event recorded")
	}
	if !ev.ProcessedAt.Valid || ev.ProcessingError.Valid {
		t.Fatalf("expected event marked processed cleanly, got %+v", ev)
	}
}

func TestWebhookDuplicateDeliveryGrantsOnce(t *testing.T) {
	repo := newFakeRepo()
	granter := &fakeGranter{}
	svc := newTestService(repo, granter, &fakeMirror{})

	seedPending(repo, "pi_3", 10)
	payload := succeededEvent("evt_3", "pi_3")

	for i := 0; i < 2; i++ {
		if err := svc.HandleWebhook(context.Background(), payload, signPayload(t, payload, testWebhookSecret)); err != nil {
			t.Fatalf("delivery %d failed: %v", i+1, err)
		}
	}

	if len(granter.grants) != 1 {
		t.Fatalf("expected exactly 1 grant after duplicate delivery, got %d", len(granter.grants))
	}
	if repo.payments["pi_3"].Status != payment.StatusCompleted {
		t.Fatalf("expected status completed, got %s", repo.payments["pi_3"].Status)
	}
}

func TestWebhookMarksFailed(t *testing.T) {
	repo := newFakeRepo()
	granter := &fakeGranter{}
	svc := newTestService(repo, granter, &fakeMirror{})

	seedPending(repo, "pi_4", 10)
	payload := eventJSON("evt_4", "payment_intent.payment_failed", `{"id":"pi_4","object":"payment_intent"}`)

	if err := svc.HandleWebhook(context.Background(), payload, signPayload(t, payload, testWebhookSecret)); err != nil {
		t.Fatalf("handle webhook failed: %v", err)
	}

	if len(granter.grants) != 0 {
		t.Fatalf("expected no grants on failure, got %d", len(granter.grants))
	}
	if repo.payments["pi_4"].Status != payment.StatusFailed {
		t.Fatalf("expected status failed, got %s", repo.payments["pi_4"].Status)
	}
}

func TestWebhookSucceededUnknownReference(t *testing.T) {
	repo := newFakeRepo()
	granter := &fakeGranter{}
	svc := newTestService(repo, granter, &fakeMirror{})

	payload := succeededEvent("evt_5", "pi_missing")

	err := svc.HandleWebhook(context.Background(), payload, signPayload(t, payload, testWebhookSecret))
	if !errors.Is(err, payment.ErrUnknownPayment) {
		t.Fatalf("expected ErrUnknownPayment so the processor retries, got %v", err)
	}
	if len(granter.grants) != 0 {
		t.Fatalf("expected no grants, got %d", len(granter.grants))
	}
}

func TestWebhookSubscriptionMirror(t *testing.T) {
	repo := newFakeRepo()
	mirror := &fakeMirror{}
	svc := newTestService(repo, &fakeGranter{}, mirror)

	userID := uuid.New()
	payload := eventJSON("evt_6", "customer.subscription.updated",
		fmt.Sprintf(`{"id":"sub_1","object":"subscription","status":"past_due","customer":{"id":"cus_1"},"metadata":{"user_id":%q}}`, userID))

	if err := svc.HandleWebhook(context.Background(), payload, signPayload(t, payload, testWebhookSecret)); err != nil {
		t.Fatalf("handle webhook failed: %v", err)
	}

	if len(mirror.updates) != 1 {
		t.Fatalf("expected 1 mirror update, got %d", len(mirror.updates))
	}
	u := mirror.updates[0]
	if u.userID != userID || u.subscriptionID != "sub_1" || u.status != "past_due" {
		t.Fatalf("unexpected mirror update %+v", u)
	}
}

func TestWebhookIgnoresUnknownEventType(t *testing.T) {
	repo := newFakeRepo()
	granter := &fakeGranter{}
	svc := newTestService(repo, granter, &fakeMirror{})

	payload := eventJSON("evt_7", "charge.refunded", `{"id":"ch_1"}`)

	if err := svc.HandleWebhook(context.Background(), payload, signPayload(t, payload, testWebhookSecret)); err != nil {
		t.Fatalf("expected unknown event type to be acknowledged, got %v", err)
	}
	if len(granter.grants) != 0 {
		t.Fatalf("expected no grants, got %d", len(granter.grants))
	}
	if _, ok := repo.events["stripe:evt_7"]; !ok {
		t.Fatal("expected event recorded for audit")
	}
}

func TestWebhookEndpointSignatureRejection(t *testing.T) {
	repo := newFakeRepo()
	granter := &fakeGranter{}
	svc := newTestService(repo, granter, &fakeMirror{})
	h := payment.NewHandler(svc)

	seedPending(repo, "pi_8", 10)
	payload := succeededEvent("evt_8", "pi_8")

	req := httptest.NewRequest(http.MethodPost, "/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	rec := httptest.NewRecorder()
	h.WebhookRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rec.Code)
	}
	if repo.payments["pi_8"].Status != payment.StatusPending {
		t.Fatalf("expected payment untouched, got %s", repo.payments["pi_8"].Status)
	}
}

func TestWebhookEndpointAcknowledges(t *testing.T) {
	repo := newFakeRepo()
	granter := &fakeGranter{}
	svc := newTestService(repo, granter, &fakeMirror{})
	h := payment.NewHandler(svc)

	seedPending(repo, "pi_9", 10)
	payload := succeededEvent("evt_9", "pi_9")

	req := httptest.NewRequest(http.MethodPost, "/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload(t, payload, testWebhookSecret))
	rec := httptest.NewRecorder()
	h.WebhookRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d; body=%s", rec.Code, rec.Body.String())
	}
	var out struct {
		Success bool `json:"success"`
		Data    struct {
			Received bool `json:"received"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if !out.Success || !out.Data.Received {
		t.Fatalf("expected received=true, got %+v", out)
	}
	if len(granter.grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(granter.grants))
	}
}
