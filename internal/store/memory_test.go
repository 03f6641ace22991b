package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"repriceflow/models"
)

func testKey(asin string) models.ListingKey {
	return models.ListingKey{CatalogItemID: asin, MarketplaceID: "ATVPDKIKX0DER"}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestGetAbsentReturnsNil(t *testing.T) {
	s := NewMemoryStore()
	rec, err := s.Get(context.Background(), testKey("B000000000"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for absent key, got %+v", rec)
	}
}

func TestPutDecisionRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	key := testKey("B00ROUND01")
	now := time.Now().UTC().Truncate(time.Second)

	in := models.ListingRecord{
		Key:                         key,
		CurrentPrice:                dec("19.99"),
		LastObservedCompetitorPrice: decPtr("18.50"),
		LastDecisionAt:              now,
		LastUpdateAttemptAt:         &now,
		LastUpdateStatus:            models.UpdateStatusConfirmed,
		UpdateEpoch:                 1,
	}
	if err := s.PutDecision(context.Background(), in, 0); err != nil {
		t.Fatalf("put decision: %v", err)
	}

	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected record")
	}
	if !got.CurrentPrice.Equal(in.CurrentPrice) {
		t.Errorf("current price %s, want %s", got.CurrentPrice, in.CurrentPrice)
	}
	if got.LastObservedCompetitorPrice == nil || !got.LastObservedCompetitorPrice.Equal(dec("18.50")) {
		t.Errorf("competitor price %v, want 18.50", got.LastObservedCompetitorPrice)
	}
	if got.UpdateEpoch != 1 {
		t.Errorf("epoch %d, want 1", got.UpdateEpoch)
	}
	if got.LastUpdateStatus != models.UpdateStatusConfirmed {
		t.Errorf("status %s, want CONFIRMED", got.LastUpdateStatus)
	}
}

func TestPutDecisionStaleEpochConflicts(t *testing.T) {
	s := NewMemoryStore()
	key := testKey("B00RACE001")

	base := models.ListingRecord{
		Key:              key,
		CurrentPrice:     dec("10.00"),
		LastUpdateStatus: models.UpdateStatusConfirmed,
		UpdateEpoch:      1,
	}
	if err := s.PutDecision(context.Background(), base, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Two cycles read epoch 1; the second write must lose.
	first := base
	first.CurrentPrice = dec("11.00")
	first.UpdateEpoch = 2
	if err := s.PutDecision(context.Background(), first, 1); err != nil {
		t.Fatalf("first writer: %v", err)
	}

	second := base
	second.CurrentPrice = dec("12.00")
	second.UpdateEpoch = 2
	err := s.PutDecision(context.Background(), second, 1)
	if err == nil {
		t.Fatal("expected conflict for stale epoch")
	}
	if !models.IsConflict(err) {
		t.Fatalf("expected conflict kind, got %v", err)
	}

	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CurrentPrice.Equal(dec("11.00")) {
		t.Errorf("loser overwrote winner: price %s", got.CurrentPrice)
	}
	if got.UpdateEpoch != 2 {
		t.Errorf("epoch %d, want 2", got.UpdateEpoch)
	}
}

func TestPutDecisionAbsentRecordRequiresEpochZero(t *testing.T) {
	s := NewMemoryStore()
	rec := models.ListingRecord{
		Key:          testKey("B00ABSENT1"),
		CurrentPrice: dec("5.00"),
		UpdateEpoch:  3,
	}
	err := s.PutDecision(context.Background(), rec, 2)
	if err == nil {
		t.Fatal("expected conflict writing a nonzero epoch over an absent record")
	}
	if !models.IsConflict(err) {
		t.Fatalf("expected conflict kind, got %v", err)
	}
}

func TestPutDecisionPreservesCatalogBounds(t *testing.T) {
	s := NewMemoryStore()
	key := testKey("B00BOUNDS1")

	seed := models.ListingRecord{
		Key:         key,
		RetailPrice: decPtr("30.00"),
		MinPrice:    decPtr("25.00"),
		MaxPrice:    decPtr("40.00"),
	}
	if err := s.PutCatalogItem(context.Background(), seed); err != nil {
		t.Fatalf("put catalog item: %v", err)
	}

	// A decision write that does not carry bounds must not erase them.
	rec := models.ListingRecord{
		Key:              key,
		CurrentPrice:     dec("34.50"),
		LastUpdateStatus: models.UpdateStatusConfirmed,
		UpdateEpoch:      1,
	}
	if err := s.PutDecision(context.Background(), rec, 0); err != nil {
		t.Fatalf("put decision: %v", err)
	}

	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MinPrice == nil || !got.MinPrice.Equal(dec("25.00")) {
		t.Errorf("min price %v, want 25.00", got.MinPrice)
	}
	if got.MaxPrice == nil || !got.MaxPrice.Equal(dec("40.00")) {
		t.Errorf("max price %v, want 40.00", got.MaxPrice)
	}
	if got.RetailPrice == nil || !got.RetailPrice.Equal(dec("30.00")) {
		t.Errorf("retail price %v, want 30.00", got.RetailPrice)
	}
}

func TestTouchUpsertsBookkeeping(t *testing.T) {
	s := NewMemoryStore()
	key := testKey("B00TOUCH01")
	decisionAt := time.Now().UTC().Truncate(time.Second)
	attemptAt := decisionAt.Add(time.Second)

	if err := s.Touch(context.Background(), key, decisionAt, &attemptAt); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected touch to upsert a record")
	}
	if !got.LastDecisionAt.Equal(decisionAt) {
		t.Errorf("decision at %s, want %s", got.LastDecisionAt, decisionAt)
	}
	if got.LastUpdateAttemptAt == nil || !got.LastUpdateAttemptAt.Equal(attemptAt) {
		t.Errorf("attempt at %v, want %s", got.LastUpdateAttemptAt, attemptAt)
	}
	if got.UpdateEpoch != 0 {
		t.Errorf("touch must not advance epoch, got %d", got.UpdateEpoch)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	key := testKey("B00CLONE01")

	rec := models.ListingRecord{
		Key:                         key,
		CurrentPrice:                dec("9.99"),
		LastObservedCompetitorPrice: decPtr("9.00"),
		UpdateEpoch:                 1,
	}
	if err := s.PutDecision(context.Background(), rec, 0); err != nil {
		t.Fatalf("put decision: %v", err)
	}

	first, _ := s.Get(context.Background(), key)
	mutated := dec("1.00")
	*first.LastObservedCompetitorPrice = mutated

	second, _ := s.Get(context.Background(), key)
	if !second.LastObservedCompetitorPrice.Equal(dec("9.00")) {
		t.Fatal("mutating a returned record leaked into the store")
	}
}
