// Package coordinator reconciles the two repricing trigger paths, the
// scheduled sweep and the offer-changed event, into at most one in-flight
// decision cycle per listing. The per-key lock serializes cycles inside the
// process; the store's epoch fence settles races the lock cannot see.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"repriceflow/config"
	"repriceflow/internal/catalog"
	"repriceflow/internal/pricing"
	"repriceflow/internal/store"
	"repriceflow/internal/updater"
	"repriceflow/logger"
	"repriceflow/models"
)

// OfferObserver fetches the current competitor offers for a listing.
type OfferObserver interface {
	GetOffers(ctx context.Context, key models.ListingKey) (models.OfferSnapshot, error)
}

// Coordinator is the repricing orchestration core.
type Coordinator struct {
	catalog  catalog.Source
	listings store.ListingStore
	observer OfferObserver
	engine   *pricing.Engine
	updater  *updater.Updater

	sweepCfg config.SweepConfig
	retryCfg config.RetryConfig

	locks *keyLocks
	log   *logger.Log
}

// New wires the orchestration core from its collaborators.
func New(src catalog.Source, listings store.ListingStore, observer OfferObserver, engine *pricing.Engine, upd *updater.Updater, sweepCfg config.SweepConfig, retryCfg config.RetryConfig) *Coordinator {
	return &Coordinator{
		catalog:  src,
		listings: listings,
		observer: observer,
		engine:   engine,
		updater:  upd,
		sweepCfg: sweepCfg,
		retryCfg: retryCfg,
		locks:    newKeyLocks(),
		log:      logger.GetLogger(),
	}
}

// RunScheduledSweep enumerates the catalog and runs a decision cycle for
// every listing whose lock is free, across a bounded worker pool. Listings
// already locked by another cycle are skipped; listings not reached before
// the sweep deadline are left for the next sweep. One listing's failure
// never aborts the sweep.
func (c *Coordinator) RunScheduledSweep(ctx context.Context) error {
	sweepID := uuid.NewString()[:8]
	log := c.log.WithComponent("sweep_coordinator").WithFields(logger.Fields{"sweep_id": sweepID})

	ctx, cancel := context.WithTimeout(ctx, c.sweepCfg.Deadline)
	defer cancel()

	keys, err := c.catalog.Listings(ctx)
	if err != nil {
		log.WithError(err).Error("catalog enumeration failed")
		return fmt.Errorf("enumerate catalog: %w", err)
	}

	log.WithFields(logger.Fields{
		"listings":    len(keys),
		"concurrency": c.sweepCfg.Concurrency,
	}).Info("starting scheduled sweep")
	start := time.Now()

	var processed, skipped, failed int64

	keyCh := make(chan models.ListingKey)
	var wg sync.WaitGroup
	for i := 0; i < c.sweepCfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range keyCh {
				if !c.locks.TryAcquire(key) {
					logger.IncrementSkippedListing()
					atomic.AddInt64(&skipped, 1)
					log.WithFields(logger.Fields{"listing": key.String()}).Debug("listing locked by another cycle, skipped")
					continue
				}
				err := c.runCycle(ctx, key, "sweep")
				c.locks.Release(key)
				if err != nil {
					atomic.AddInt64(&failed, 1)
				}
				atomic.AddInt64(&processed, 1)
			}
		}()
	}

	fed := 0
feed:
	for _, key := range keys {
		select {
		case <-ctx.Done():
			break feed
		case keyCh <- key:
			fed++
		}
	}
	close(keyCh)
	wg.Wait()

	// Counted after all workers have drained, so the figures are settled.
	leftover := len(keys) - fed

	log.WithFields(logger.Fields{
		"processed":   atomic.LoadInt64(&processed),
		"skipped":     atomic.LoadInt64(&skipped),
		"failed":      atomic.LoadInt64(&failed),
		"leftover":    leftover,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("scheduled sweep finished")

	return nil
}

// HandleOfferChangedEvent runs a decision cycle for a single listing in
// response to an asynchronous offer-changed notification. Events arriving
// while a cycle is already in flight for the key are dropped, not queued:
// the running cycle observes current offers anyway, so the event is stale by
// definition.
func (c *Coordinator) HandleOfferChangedEvent(ctx context.Context, key models.ListingKey) error {
	log := c.log.WithComponent("event_coordinator").WithFields(logger.Fields{"listing": key.String()})

	if key.CatalogItemID == "" || key.MarketplaceID == "" {
		return models.NewError(models.KindFatal, "event.handle", fmt.Errorf("event missing catalog item id or marketplace id"))
	}

	if !c.locks.TryAcquire(key) {
		logger.IncrementDroppedEvent()
		log.Info("decision cycle already in flight for listing, event dropped as stale")
		return nil
	}
	defer c.locks.Release(key)

	return c.runCycle(ctx, key, "event")
}

// runCycle executes read -> observe -> decide -> apply for one listing. The
// caller must hold the key's lock.
func (c *Coordinator) runCycle(ctx context.Context, key models.ListingKey, path string) error {
	cycleID := uuid.NewString()[:8]
	log := c.log.WithComponent(path + "_coordinator").WithFields(logger.Fields{
		"listing":  key.String(),
		"cycle_id": cycleID,
	})

	err := c.cycle(ctx, log, key)
	logger.RecordCycle(path, err != nil)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"error_kind": string(models.KindOf(err))}).Error("decision cycle failed")
	}
	return err
}

func (c *Coordinator) cycle(ctx context.Context, log *logger.Entry, key models.ListingKey) error {
	rec, err := c.listings.Get(ctx, key)
	if err != nil {
		return err
	}

	var snapshot models.OfferSnapshot
	err = c.withRetry(ctx, func() error {
		var observeErr error
		snapshot, observeErr = c.observer.GetOffers(ctx, key)
		return observeErr
	})
	if err != nil {
		return err
	}

	decision := c.engine.Decide(rec, snapshot)
	log.WithFields(logger.Fields{
		"decision":         string(decision.Kind),
		"reason":           decision.Reason,
		"competitor_price": snapshotPrice(snapshot),
	}).Debug("decision computed")

	var result models.UpdateResult
	err = c.withRetry(ctx, func() error {
		var applyErr error
		result, applyErr = c.updater.Apply(ctx, key, rec, snapshot, decision)
		return applyErr
	})
	if err != nil {
		return err
	}

	log.WithFields(logger.Fields{"result": string(result)}).Info("decision cycle completed")
	return nil
}

// withRetry runs fn with bounded exponential backoff for retryable failures.
// Auth, fatal, timeout and conflict outcomes return immediately.
func (c *Coordinator) withRetry(ctx context.Context, fn func() error) error {
	delay := c.retryCfg.BaseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !models.IsRetryable(err) || attempt >= c.retryCfg.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}

		delay *= time.Duration(c.retryCfg.BackoffMultiplier)
		if c.retryCfg.MaxDelay > 0 && delay > c.retryCfg.MaxDelay {
			delay = c.retryCfg.MaxDelay
		}
	}
}

func snapshotPrice(snapshot models.OfferSnapshot) string {
	if snapshot.CompetitorLowestPrice == nil {
		return "none"
	}
	return snapshot.CompetitorLowestPrice.StringFixed(2)
}
