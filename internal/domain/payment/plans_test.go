package payment_test

import (
	"testing"

	"github.com/craftui/craftui-api/internal/domain/payment"
)

func TestPlanTable(t *testing.T) {
	plans := payment.PlanTable(map[string]string{
		"starter": "price_starter",
		"pro":     "price_pro",
	})

	tests := []struct {
		name        string
		amountCents int64
		credits     int64
		priceID     string
	}{
		{"starter", 500, 50, "price_starter"},
		{"pro", 2000, 250, "price_pro"},
		{"max", 5000, 700, ""},
	}

	for _, tt := range tests {
		p, ok := plans[tt.name]
		if !ok {
			t.Fatalf("plan %s missing", tt.name)
		}
		if p.AmountCents != tt.amountCents || p.Credits != tt.credits {
			t.Errorf("plan %s: got %d cents / %d credits, want %d / %d", tt.name, p.AmountCents, p.Credits, tt.amountCents, tt.credits)
		}
		if p.PriceID != tt.priceID {
			t.Errorf("plan %s: got price id %q, want %q", tt.name, p.PriceID, tt.priceID)
		}
	}

	if _, ok := plans["enterprise"]; ok {
		t.Error("unexpected plan enterprise")
	}
}

func TestPlanTableNilPriceIDs(t *testing.T) {
	plans := payment.PlanTable(nil)
	if len(plans) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(plans))
	}
	for name, p := range plans {
		if p.PriceID != "" {
			t.Errorf("plan %s: expected empty price id, got %q", name, p.PriceID)
		}
	}
}
