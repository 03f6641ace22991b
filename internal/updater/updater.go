// Package updater applies accepted pricing decisions: it submits the price
// change to the marketplace and records the outcome behind the update-epoch
// fence, so a racing decision cycle can never overwrite a newer record.
package updater

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"repriceflow/internal/store"
	"repriceflow/logger"
	"repriceflow/models"
)

// PriceSubmitter submits a price change to the marketplace. nil means a
// definitive accept; other outcomes arrive as classified errors.
type PriceSubmitter interface {
	SubmitPrice(ctx context.Context, key models.ListingKey, price decimal.Decimal) error
}

// Updater is the PriceUpdater component.
type Updater struct {
	submitter PriceSubmitter
	listings  store.ListingStore
	now       func() time.Time
	log       *logger.Log
}

func New(submitter PriceSubmitter, listings store.ListingStore) *Updater {
	return &Updater{
		submitter: submitter,
		listings:  listings,
		now:       time.Now,
		log:       logger.GetLogger(),
	}
}

// Apply executes one decision for the listing identified by key. rec is the
// record the decision was computed against (nil for a first observation); its
// epoch is the optimistic-concurrency precondition for the resulting write.
//
// NoChange refreshes lastDecisionAt and submits nothing. Update submits the
// price and writes the record only after a definitive accept, a definitive
// reject, or a timeout whose remote outcome is unknown; that last case is
// written as PENDING with the epoch advanced so a later cycle reconciles it
// instead of blindly resubmitting. A lost epoch race returns ResultConflict
// with no write.
//
// A non-nil error is returned only for failures the caller may retry or must
// escalate (retryable transport errors, auth failures, store errors);
// definitive outcomes are reported through the result alone.
func (u *Updater) Apply(ctx context.Context, key models.ListingKey, rec *models.ListingRecord, snapshot models.OfferSnapshot, decision models.Decision) (models.UpdateResult, error) {
	var expectedEpoch int64
	if rec != nil {
		expectedEpoch = rec.UpdateEpoch
	}

	now := u.now().UTC()

	if decision.Kind == models.DecisionNoChange {
		if rec == nil {
			// Nothing observed and nothing stored; there is no record
			// to refresh.
			return models.ResultNoChange, nil
		}
		if err := u.listings.Touch(ctx, key, now, nil); err != nil {
			return models.ResultNoChange, err
		}
		return models.ResultNoChange, nil
	}

	log := u.log.WithComponent("price_updater").WithFields(logger.Fields{
		"listing": key.String(),
		"target":  decision.TargetPrice.StringFixed(2),
		"epoch":   expectedEpoch,
	})

	next := u.nextRecord(rec, key, snapshot, now)

	submitErr := u.submitter.SubmitPrice(ctx, key, decision.TargetPrice)
	switch {
	case submitErr == nil:
		next.CurrentPrice = decision.TargetPrice
		next.LastUpdateStatus = models.UpdateStatusConfirmed
	case models.KindOf(submitErr) == models.KindTimeout:
		// Ambiguous: the marketplace may have applied the price. Record
		// the target as current so the next cycle reconciles instead of
		// resubmitting the same price.
		next.CurrentPrice = decision.TargetPrice
		next.LastUpdateStatus = models.UpdateStatusPending
	case models.KindOf(submitErr) == models.KindFatal:
		next.LastUpdateStatus = models.UpdateStatusFailed
	default:
		// Retryable or auth: leave the stored record untouched except for
		// attempt bookkeeping and let the coordinator decide.
		if err := u.listings.Touch(ctx, key, now, &now); err != nil {
			log.WithError(err).Warn("attempt bookkeeping write failed")
		}
		return models.ResultFailed, submitErr
	}

	if err := u.listings.PutDecision(ctx, next, expectedEpoch); err != nil {
		if models.IsConflict(err) {
			log.WithFields(logger.Fields{"error": err.Error()}).Info("decision lost epoch race, discarded")
			return models.ResultConflict, nil
		}
		return models.ResultFailed, err
	}

	switch next.LastUpdateStatus {
	case models.UpdateStatusConfirmed:
		log.Info("price update confirmed")
		return models.ResultConfirmed, nil
	case models.UpdateStatusPending:
		log.Warn("price submission outcome unknown, recorded as pending")
		return models.ResultUncertain, nil
	default:
		log.Warn("price update rejected by marketplace")
		return models.ResultFailed, nil
	}
}

// nextRecord builds the successor record at epoch+1, carrying forward pricing
// state and catalog bounds from the current record.
func (u *Updater) nextRecord(rec *models.ListingRecord, key models.ListingKey, snapshot models.OfferSnapshot, now time.Time) models.ListingRecord {
	next := models.ListingRecord{
		Key:                 key,
		LastDecisionAt:      now,
		LastUpdateAttemptAt: &now,
		UpdateEpoch:         1,
	}
	if rec != nil {
		next.CurrentPrice = rec.CurrentPrice
		next.UpdateEpoch = rec.UpdateEpoch + 1
		next.RetailPrice = rec.RetailPrice
		next.MinPrice = rec.MinPrice
		next.MaxPrice = rec.MaxPrice
	}
	if snapshot.CompetitorLowestPrice != nil {
		p := *snapshot.CompetitorLowestPrice
		next.LastObservedCompetitorPrice = &p
	}
	return next
}
