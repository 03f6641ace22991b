// Package store persists per-listing pricing state keyed by
// (catalog item id, marketplace id). Writes that advance pricing state are
// fenced on the record's update epoch: a writer carrying a stale expected
// epoch gets a conflict instead of overwriting newer state.
package store

import (
	"context"
	"time"

	"repriceflow/models"
)

// ListingStore is the persistence port for listing pricing records.
type ListingStore interface {
	// Get returns the record for key, or (nil, nil) when the listing has
	// never been recorded. Absence is not an error.
	Get(ctx context.Context, key models.ListingKey) (*models.ListingRecord, error)

	// PutDecision writes rec on the optimistic-concurrency precondition
	// that the stored epoch still equals expectedEpoch (or the record
	// carries no epoch when expectedEpoch is zero). rec.UpdateEpoch must
	// already be expectedEpoch+1. A failed precondition returns a
	// KindConflict error and leaves the stored record untouched.
	PutDecision(ctx context.Context, rec models.ListingRecord, expectedEpoch int64) error

	// Touch refreshes the bookkeeping timestamps without changing pricing
	// state: lastDecisionAt always, lastUpdateAttemptAt when attemptAt is
	// non-nil. Upserts when the record does not exist yet.
	Touch(ctx context.Context, key models.ListingKey, decisionAt time.Time, attemptAt *time.Time) error

	// PutCatalogItem upserts the catalog-sourced pricing bounds for a
	// listing without disturbing its pricing state or epoch.
	PutCatalogItem(ctx context.Context, rec models.ListingRecord) error
}
