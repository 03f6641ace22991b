package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ListingKey uniquely identifies a pricing record as a
// (catalog item, marketplace) pair.
type ListingKey struct {
	CatalogItemID string `json:"catalog_item_id"`
	MarketplaceID string `json:"marketplace_id"`
}

func (k ListingKey) String() string {
	return fmt.Sprintf("%s/%s", k.CatalogItemID, k.MarketplaceID)
}

// UpdateStatus records the outcome of the most recent price-update attempt.
type UpdateStatus string

const (
	UpdateStatusNone      UpdateStatus = "NONE"
	UpdateStatusPending   UpdateStatus = "PENDING"
	UpdateStatusConfirmed UpdateStatus = "CONFIRMED"
	UpdateStatusFailed    UpdateStatus = "FAILED"
)

// ListingRecord is the persisted pricing state for one listing.
//
// UpdateEpoch strictly increases across confirmed or failed attempts for the
// same key and is used as the optimistic-concurrency fence on writes: a write
// carrying a stale expected epoch is rejected instead of overwriting newer
// state.
type ListingRecord struct {
	Key                         ListingKey       `json:"key"`
	CurrentPrice                decimal.Decimal  `json:"current_price"`
	LastObservedCompetitorPrice *decimal.Decimal `json:"last_observed_competitor_price,omitempty"`
	LastDecisionAt              time.Time        `json:"last_decision_at"`
	LastUpdateAttemptAt         *time.Time       `json:"last_update_attempt_at,omitempty"`
	LastUpdateStatus            UpdateStatus     `json:"last_update_status"`
	UpdateEpoch                 int64            `json:"update_epoch"`

	// Catalog bounds synced from the product database by the catalog sync
	// job. Nil when the listing has never been through a sync.
	RetailPrice *decimal.Decimal `json:"retail_price,omitempty"`
	MinPrice    *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice    *decimal.Decimal `json:"max_price,omitempty"`
}

// OfferSnapshot is one observation of competitor offers for a listing.
// CompetitorLowestPrice is nil when no qualifying offer exists, which is a
// valid observation and not an error. Snapshots are ephemeral; only the
// ListingRecord update derived from one is persisted.
type OfferSnapshot struct {
	CompetitorLowestPrice *decimal.Decimal `json:"competitor_lowest_price,omitempty"`
	ObservedAt            time.Time        `json:"observed_at"`
}

// DecisionKind discriminates the outcome of a pricing decision.
type DecisionKind string

const (
	DecisionNoChange DecisionKind = "NO_CHANGE"
	DecisionUpdate   DecisionKind = "UPDATE"
)

// Decision is the output of the decision engine for one cycle.
type Decision struct {
	Kind        DecisionKind    `json:"kind"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Reason      string          `json:"reason"`
}

// NoChange builds a NoChange decision with the reason it was taken.
func NoChange(reason string) Decision {
	return Decision{Kind: DecisionNoChange, Reason: reason}
}

// Update builds an Update decision carrying the computed target price.
func Update(target decimal.Decimal, reason string) Decision {
	return Decision{Kind: DecisionUpdate, TargetPrice: target, Reason: reason}
}

// UpdateResult is the outcome of applying a decision.
type UpdateResult string

const (
	// ResultConfirmed means the marketplace accepted the price and the
	// record was written.
	ResultConfirmed UpdateResult = "CONFIRMED"
	// ResultFailed means the marketplace definitively rejected the price;
	// the record was written with the failure.
	ResultFailed UpdateResult = "FAILED"
	// ResultUncertain means the submission outcome is unknown (timeout);
	// the record was written as PENDING for a later cycle to reconcile.
	ResultUncertain UpdateResult = "UNCERTAIN"
	// ResultNoChange means nothing was submitted.
	ResultNoChange UpdateResult = "NO_CHANGE"
	// ResultConflict means the epoch precondition failed: another cycle
	// advanced the record first and this decision was discarded.
	ResultConflict UpdateResult = "CONFLICT"
)
