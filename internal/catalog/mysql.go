package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"repriceflow/internal/store"
	"repriceflow/logger"
	"repriceflow/models"
)

// MySQLSource enumerates active listings from the product database.
type MySQLSource struct {
	db            *sql.DB
	marketplaceID string
	log           *logger.Log
}

// NewMySQLSource opens the product database. The pool is sized for the
// sweep enumeration and the catalog sync, not for per-listing traffic.
func NewMySQLSource(dsn, marketplaceID string) (*MySQLSource, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open product database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &MySQLSource{
		db:            db,
		marketplaceID: marketplaceID,
		log:           logger.GetLogger(),
	}, nil
}

func (s *MySQLSource) Close() error {
	return s.db.Close()
}

// Listings returns the keys of all active products for the configured
// marketplace.
func (s *MySQLSource) Listings(ctx context.Context) ([]models.ListingKey, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT asin FROM products WHERE active = true AND asin IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("enumerate catalog: %w", err)
	}
	defer rows.Close()

	var keys []models.ListingKey
	for rows.Next() {
		var asin string
		if err := rows.Scan(&asin); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		if asin == "" {
			continue
		}
		keys = append(keys, models.ListingKey{
			CatalogItemID: asin,
			MarketplaceID: s.marketplaceID,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("enumerate catalog: %w", err)
	}

	s.log.WithComponent("catalog").WithFields(logger.Fields{"listings": len(keys)}).Debug("catalog enumerated")
	return keys, nil
}

// SyncBounds joins product pricing bounds out of the product database and
// upserts them into the listing store, where the decision engine and the
// analytics consumer read them. Run by the catalogsync job on its own
// schedule.
func (s *MySQLSource) SyncBounds(ctx context.Context, listings store.ListingStore) (int, error) {
	log := s.log.WithComponent("catalog_sync")

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.asin, p.retail_price, f.min_price, f.max_price
		FROM products p
		JOIN price_feed f ON p.asin = f.sku
		WHERE p.active = true AND p.asin IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("query catalog bounds: %w", err)
	}
	defer rows.Close()

	synced := 0
	for rows.Next() {
		var asin string
		var retail, min, max sql.NullFloat64
		if err := rows.Scan(&asin, &retail, &min, &max); err != nil {
			return synced, fmt.Errorf("scan bounds row: %w", err)
		}

		rec := models.ListingRecord{
			Key: models.ListingKey{
				CatalogItemID: asin,
				MarketplaceID: s.marketplaceID,
			},
			RetailPrice: nullablePrice(retail),
			MinPrice:    nullablePrice(min),
			MaxPrice:    nullablePrice(max),
		}
		if err := listings.PutCatalogItem(ctx, rec); err != nil {
			log.WithError(err).WithFields(logger.Fields{"listing": rec.Key.String()}).Warn("bounds upsert failed")
			continue
		}
		synced++
	}
	if err := rows.Err(); err != nil {
		return synced, fmt.Errorf("query catalog bounds: %w", err)
	}

	log.WithFields(logger.Fields{"synced": synced}).Info("catalog bounds synced")
	return synced, nil
}

func nullablePrice(v sql.NullFloat64) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := decimal.NewFromFloat(v.Float64)
	return &d
}
