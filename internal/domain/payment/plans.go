package payment

// Plan is one row of the fixed price table: what a plan costs and how many
// credits it grants. PriceID is the processor's price identifier.
type Plan struct {
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Credits     int64  `json:"credits"`
	PriceID     string `json:"price_id,omitempty"`
}

// PlanTable builds the plan table, attaching processor price ids from
// configuration. Plan names and amounts are fixed in code.
func PlanTable(priceIDs map[string]string) map[string]Plan {
	plans := map[string]Plan{
		"starter": {Name: "starter", AmountCents: 500, Credits: 50},
		"pro":     {Name: "pro", AmountCents: 2000, Credits: 250},
		"max":     {Name: "max", AmountCents: 5000, Credits: 700},
	}
	for name, p := range plans {
		p.PriceID = priceIDs[name]
		plans[name] = p
	}
	return plans
}
