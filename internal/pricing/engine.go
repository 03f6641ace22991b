// Package pricing computes target prices under the markup policy. Decide is a
// pure function: identical inputs always produce an identical decision, so
// the engine is unit-testable without any network access.
package pricing

import (
	"github.com/shopspring/decimal"

	"repriceflow/models"
)

var oneHundred = decimal.NewFromInt(100)

// Engine applies the markup policy to observed competitor offers.
type Engine struct {
	policy models.MarkupPolicy
}

// NewEngine creates an engine for the process-wide policy.
func NewEngine(policy models.MarkupPolicy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the immutable policy the engine was built with.
func (e *Engine) Policy() models.MarkupPolicy {
	return e.policy
}

// Decide computes the decision for one observation. record is nil when the
// listing has never been priced before; a nil competitor price always yields
// NoChange regardless of prior state.
func (e *Engine) Decide(record *models.ListingRecord, snapshot models.OfferSnapshot) models.Decision {
	return Decide(record, snapshot, e.policy)
}

// Decide computes target = reference * (1 + markup/100) rounded to the cent,
// where reference is the observed competitor lowest price. The global policy
// floor and any per-listing catalog bounds raise or cap the target; floors
// win over the computed price and the result is never negative. A target
// equal to the current price within the policy tolerance is NoChange.
func Decide(record *models.ListingRecord, snapshot models.OfferSnapshot, policy models.MarkupPolicy) models.Decision {
	if snapshot.CompetitorLowestPrice == nil {
		return models.NoChange("no qualifying competitor offer")
	}

	reference := *snapshot.CompetitorLowestPrice
	multiplier := decimal.NewFromInt(1).Add(policy.MarkupPercentage.Div(oneHundred))
	target := reference.Mul(multiplier).Round(2)

	if policy.PriceFloor != nil && target.LessThan(*policy.PriceFloor) {
		target = *policy.PriceFloor
	}
	if record != nil {
		if record.MinPrice != nil && record.MinPrice.IsPositive() && target.LessThan(*record.MinPrice) {
			target = *record.MinPrice
		}
		if record.MaxPrice != nil && record.MaxPrice.IsPositive() && target.GreaterThan(*record.MaxPrice) {
			target = *record.MaxPrice
		}
	}
	if target.IsNegative() {
		target = decimal.Zero
	}

	if record == nil {
		return models.Update(target, "first observation")
	}

	if target.Sub(record.CurrentPrice).Abs().LessThanOrEqual(policy.Tolerance) {
		return models.NoChange("target within tolerance of current price")
	}

	return models.Update(target, "competitor price moved")
}
