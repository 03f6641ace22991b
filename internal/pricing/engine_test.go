package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"repriceflow/models"
)

func price(s string) *decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return &d
}

func policy(markup string) models.MarkupPolicy {
	m, err := decimal.NewFromString(markup)
	if err != nil {
		panic(err)
	}
	return models.MarkupPolicy{
		MarkupPercentage: m,
		Tolerance:        models.DefaultTolerance,
	}
}

func snapshot(competitor *decimal.Decimal) models.OfferSnapshot {
	return models.OfferSnapshot{
		CompetitorLowestPrice: competitor,
		ObservedAt:            time.Unix(1700000000, 0),
	}
}

func record(current string, epoch int64) *models.ListingRecord {
	return &models.ListingRecord{
		Key:              models.ListingKey{CatalogItemID: "B00TEST", MarketplaceID: "MKT1"},
		CurrentPrice:     *price(current),
		LastUpdateStatus: models.UpdateStatusConfirmed,
		UpdateEpoch:      epoch,
	}
}

func TestDecideMarkupApplied(t *testing.T) {
	d := Decide(record("100.00", 3), snapshot(price("100.00")), policy("15"))
	if d.Kind != models.DecisionUpdate {
		t.Fatalf("expected update, got %s (%s)", d.Kind, d.Reason)
	}
	if !d.TargetPrice.Equal(*price("115.00")) {
		t.Fatalf("expected target 115.00, got %s", d.TargetPrice)
	}
}

func TestDecideFirstObservation(t *testing.T) {
	d := Decide(nil, snapshot(price("50.00")), policy("10"))
	if d.Kind != models.DecisionUpdate {
		t.Fatalf("expected update on first observation, got %s", d.Kind)
	}
	if !d.TargetPrice.Equal(*price("55.00")) {
		t.Fatalf("expected target 55.00, got %s", d.TargetPrice)
	}
}

func TestDecideToleranceEqualIsNoChange(t *testing.T) {
	d := Decide(record("115.00", 7), snapshot(price("100.00")), policy("15"))
	if d.Kind != models.DecisionNoChange {
		t.Fatalf("expected no change at tolerance-equal target, got %s", d.Kind)
	}
}

func TestDecideNilCompetitorIsNoChange(t *testing.T) {
	if d := Decide(nil, snapshot(nil), policy("15")); d.Kind != models.DecisionNoChange {
		t.Fatalf("expected no change without competitor price, got %s", d.Kind)
	}
	if d := Decide(record("20.00", 1), snapshot(nil), policy("15")); d.Kind != models.DecisionNoChange {
		t.Fatalf("expected no change without competitor price, got %s", d.Kind)
	}
}

func TestDecidePolicyFloorWins(t *testing.T) {
	p := policy("10")
	p.PriceFloor = price("25.00")

	d := Decide(record("30.00", 2), snapshot(price("10.00")), p)
	if d.Kind != models.DecisionUpdate {
		t.Fatalf("expected update, got %s", d.Kind)
	}
	if !d.TargetPrice.Equal(*price("25.00")) {
		t.Fatalf("expected floor 25.00 to win, got %s", d.TargetPrice)
	}
}

func TestDecideCatalogBoundsClampTarget(t *testing.T) {
	rec := record("40.00", 5)
	rec.MinPrice = price("35.00")
	rec.MaxPrice = price("60.00")

	low := Decide(rec, snapshot(price("10.00")), policy("15"))
	if !low.TargetPrice.Equal(*price("35.00")) {
		t.Fatalf("expected min bound 35.00, got %s", low.TargetPrice)
	}

	high := Decide(rec, snapshot(price("100.00")), policy("15"))
	if !high.TargetPrice.Equal(*price("60.00")) {
		t.Fatalf("expected max bound 60.00, got %s", high.TargetPrice)
	}
}

func TestDecideRoundsToCent(t *testing.T) {
	d := Decide(nil, snapshot(price("9.99")), policy("15"))
	if !d.TargetPrice.Equal(*price("11.49")) {
		t.Fatalf("expected 11.49, got %s", d.TargetPrice)
	}
}

func TestDecideDeterministic(t *testing.T) {
	rec := record("115.00", 9)
	snap := snapshot(price("103.37"))
	p := policy("15")

	first := Decide(rec, snap, p)
	for i := 0; i < 10; i++ {
		again := Decide(rec, snap, p)
		if again.Kind != first.Kind || !again.TargetPrice.Equal(first.TargetPrice) {
			t.Fatalf("decision not deterministic: %v vs %v", first, again)
		}
	}
}

func TestEngineUsesConfiguredPolicy(t *testing.T) {
	e := NewEngine(policy("20"))
	d := e.Decide(nil, snapshot(price("10.00")))
	if !d.TargetPrice.Equal(*price("12.00")) {
		t.Fatalf("expected 12.00, got %s", d.TargetPrice)
	}
}
