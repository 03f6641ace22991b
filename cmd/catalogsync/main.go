// catalogsync joins product pricing bounds out of the product database and
// upserts them into the listing table. It is the one-shot job behind the
// daily catalog schedule; the repricing service only ever reads its output.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"repriceflow/config"
	"repriceflow/internal/catalog"
	"repriceflow/internal/store"
	"repriceflow/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	timeout := flag.Duration("timeout", 15*time.Minute, "Overall job deadline")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if cfg.Catalog.Source != "mysql" {
		log.Error("catalogsync requires the mysql catalog source")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	listings, err := buildListingStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to create listing store")
		os.Exit(1)
	}

	src, err := catalog.NewMySQLSource(cfg.Catalog.MySQL.DSN, cfg.Marketplace.MarketplaceID)
	if err != nil {
		log.WithError(err).Error("failed to open product database")
		os.Exit(1)
	}
	defer src.Close()

	synced, err := src.SyncBounds(ctx, listings)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"synced": synced}).Error("catalog sync failed")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{"synced": synced}).Info("catalog sync completed")
}

func buildListingStore(ctx context.Context, cfg *config.Config) (store.ListingStore, error) {
	if cfg.Storage.DynamoDB.Enabled {
		return store.NewDynamoStore(ctx, cfg.Storage.DynamoDB)
	}
	logger.GetLogger().WithComponent("catalogsync").Warn("DynamoDB disabled; syncing into in-memory store has no effect beyond validation")
	return store.NewMemoryStore(), nil
}
