// Package catalog supplies the enumerable set of listings for scheduled
// sweeps. The catalog may lag the true marketplace state; a listing missed
// this sweep is picked up by the next one.
package catalog

import (
	"context"

	"repriceflow/config"
	"repriceflow/models"
)

// Source produces the finite set of listing keys to sweep.
type Source interface {
	Listings(ctx context.Context) ([]models.ListingKey, error)
}

// StaticSource serves a fixed listing set from configuration. Used for local
// runs and deployments without a product database.
type StaticSource struct {
	keys []models.ListingKey
}

// NewStaticSource builds a source from the catalog.static config entries.
// Entries without an explicit marketplace fall back to defaultMarketplaceID.
func NewStaticSource(entries []config.StaticListingEntry, defaultMarketplaceID string) *StaticSource {
	keys := make([]models.ListingKey, 0, len(entries))
	for _, e := range entries {
		if e.CatalogItemID == "" {
			continue
		}
		marketplaceID := e.MarketplaceID
		if marketplaceID == "" {
			marketplaceID = defaultMarketplaceID
		}
		keys = append(keys, models.ListingKey{
			CatalogItemID: e.CatalogItemID,
			MarketplaceID: marketplaceID,
		})
	}
	return &StaticSource{keys: keys}
}

func (s *StaticSource) Listings(ctx context.Context) ([]models.ListingKey, error) {
	out := make([]models.ListingKey, len(s.keys))
	copy(out, s.keys)
	return out, nil
}
