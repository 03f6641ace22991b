package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"repriceflow/config"
	"repriceflow/internal/catalog"
	"repriceflow/internal/coordinator"
	"repriceflow/internal/dashboard"
	"repriceflow/internal/events"
	"repriceflow/internal/pricing"
	"repriceflow/internal/secrets"
	"repriceflow/internal/spapi"
	"repriceflow/internal/store"
	"repriceflow/internal/token"
	"repriceflow/internal/updater"
	"repriceflow/logger"
	"repriceflow/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
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

	log.WithFields(logger.Fields{
		"service":     cfg.Repriceflow.Name,
		"version":     cfg.Repriceflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting repriceflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}
	logger.InitCloudWatch(cfg.Storage.DynamoDB.Region, cfg.Logging.DashboardName)

	policy, err := cfg.Pricing.Policy()
	if err != nil {
		log.WithError(err).Error("invalid markup policy")
		os.Exit(1)
	}

	credentials := credentialProvider(cfg, log)
	tokens := token.NewCache(cfg.Marketplace.TokenURL, cfg.Marketplace.TokenSafetyMargin, cfg.Marketplace.APITimeout, credentials)
	marketplace := spapi.NewClient(cfg.Marketplace, tokens)

	listings, err := buildListingStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to create listing store")
		os.Exit(1)
	}

	catalogSource, closeCatalog, err := buildCatalogSource(cfg)
	if err != nil {
		log.WithError(err).Error("failed to create catalog source")
		os.Exit(1)
	}
	defer closeCatalog()

	engine := pricing.NewEngine(policy)
	priceUpdater := updater.New(marketplace, listings)
	coord := coordinator.New(catalogSource, listings, marketplace, engine, priceUpdater, cfg.Sweep, cfg.Retry)

	var consumer *events.Consumer
	if cfg.Events.Enabled {
		consumer, err = events.NewConsumer(ctx, cfg.Events, coord)
		if err != nil {
			log.WithError(err).Error("failed to create event consumer")
			os.Exit(1)
		}
		if err := consumer.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start event consumer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("events disabled; running sweeps only")
	}

	statusServer, err := dashboard.NewServer(cfg.Dashboard, cfg.Repriceflow.Name, log)
	if err != nil {
		log.WithError(err).Error("failed to create status server")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runSweepSchedule(ctx, coord, cfg.Sweep, log)
	}()

	if statusServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := statusServer.Run(ctx); err != nil {
				log.WithError(err).Error("status server failed")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if consumer != nil {
		log.Info("stopping event consumer")
		consumer.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("repriceflow stopped")
}

// runSweepSchedule invokes a sweep every interval. Sweeps run in their own
// goroutine so a long sweep never delays the schedule; overlap is safe, the
// per-key locks skip listings still being processed by the previous sweep.
func runSweepSchedule(ctx context.Context, coord *coordinator.Coordinator, cfg config.SweepConfig, log *logger.Log) {
	runSweep := func() {
		go func() {
			if err := coord.RunScheduledSweep(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("scheduled sweep failed")
			}
		}()
	}

	if cfg.RunOnStart {
		runSweep()
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runSweep()
		}
	}
}

// credentialProvider prefers the secret store; environment variables are the
// development fallback when no secret id is configured.
func credentialProvider(cfg *config.Config, log *logger.Log) secrets.Provider {
	if cfg.Secrets.SecretID != "" {
		return secrets.NewManagerProvider(cfg.Secrets.SecretID, cfg.Secrets.Region)
	}

	if config.IsProductionLike(config.AppEnvironment()) {
		log.WithComponent("main").Error("production environments require a credential secret, refusing LWA_* fallback")
		os.Exit(1)
	}

	log.WithComponent("main").Warn("no credential secret configured, falling back to LWA_* environment variables")
	return secrets.StaticProvider{Creds: models.Credentials{
		AppID:        os.Getenv("LWA_APP_ID"),
		ClientSecret: os.Getenv("LWA_CLIENT_SECRET"),
		RefreshToken: os.Getenv("LWA_REFRESH_TOKEN"),
	}}
}

func buildListingStore(ctx context.Context, cfg *config.Config) (store.ListingStore, error) {
	if cfg.Storage.DynamoDB.Enabled {
		return store.NewDynamoStore(ctx, cfg.Storage.DynamoDB)
	}
	if config.IsProductionLike(config.AppEnvironment()) {
		return nil, errors.New("production environments require DynamoDB storage")
	}
	logger.GetLogger().WithComponent("main").Warn("DynamoDB disabled; using in-memory listing store")
	return store.NewMemoryStore(), nil
}

func buildCatalogSource(cfg *config.Config) (catalog.Source, func(), error) {
	if cfg.Catalog.Source == "mysql" {
		src, err := catalog.NewMySQLSource(cfg.Catalog.MySQL.DSN, cfg.Marketplace.MarketplaceID)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	}
	return catalog.NewStaticSource(cfg.Catalog.Static, cfg.Marketplace.MarketplaceID), func() {}, nil
}
