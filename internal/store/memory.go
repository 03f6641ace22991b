package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"repriceflow/models"
)

// MemoryStore is an in-process ListingStore with the same conditional-write
// semantics as the DynamoDB store. Used by tests and local runs with
// persistence disabled.
type MemoryStore struct {
	mu      sync.Mutex
	records map[models.ListingKey]models.ListingRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[models.ListingKey]models.ListingRecord)}
}

func (s *MemoryStore) Get(ctx context.Context, key models.ListingKey) (*models.ListingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (s *MemoryStore) PutDecision(ctx context.Context, rec models.ListingRecord, expectedEpoch int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.records[rec.Key]
	if exists && stored.UpdateEpoch != expectedEpoch {
		return models.NewError(models.KindConflict, "store.put_decision",
			fmt.Errorf("epoch %d already advanced for %s", expectedEpoch, rec.Key))
	}
	if !exists && expectedEpoch != 0 {
		return models.NewError(models.KindConflict, "store.put_decision",
			fmt.Errorf("no record for %s at epoch %d", rec.Key, expectedEpoch))
	}

	// Catalog bounds survive a decision write when the caller did not carry
	// them forward.
	if exists {
		if rec.RetailPrice == nil {
			rec.RetailPrice = stored.RetailPrice
		}
		if rec.MinPrice == nil {
			rec.MinPrice = stored.MinPrice
		}
		if rec.MaxPrice == nil {
			rec.MaxPrice = stored.MaxPrice
		}
	}

	s.records[rec.Key] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) Touch(ctx context.Context, key models.ListingKey, decisionAt time.Time, attemptAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = models.ListingRecord{Key: key, LastUpdateStatus: models.UpdateStatusNone}
	}
	rec.LastDecisionAt = decisionAt
	if attemptAt != nil {
		at := *attemptAt
		rec.LastUpdateAttemptAt = &at
	}
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) PutCatalogItem(ctx context.Context, in models.ListingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[in.Key]
	if !ok {
		rec = models.ListingRecord{Key: in.Key, LastUpdateStatus: models.UpdateStatusNone}
	}
	rec.RetailPrice = in.RetailPrice
	rec.MinPrice = in.MinPrice
	rec.MaxPrice = in.MaxPrice
	s.records[in.Key] = cloneRecord(rec)
	return nil
}

func cloneRecord(rec models.ListingRecord) models.ListingRecord {
	out := rec
	if rec.LastObservedCompetitorPrice != nil {
		p := *rec.LastObservedCompetitorPrice
		out.LastObservedCompetitorPrice = &p
	}
	if rec.LastUpdateAttemptAt != nil {
		t := *rec.LastUpdateAttemptAt
		out.LastUpdateAttemptAt = &t
	}
	if rec.RetailPrice != nil {
		p := *rec.RetailPrice
		out.RetailPrice = &p
	}
	if rec.MinPrice != nil {
		p := *rec.MinPrice
		out.MinPrice = &p
	}
	if rec.MaxPrice != nil {
		p := *rec.MaxPrice
		out.MaxPrice = &p
	}
	return out
}
