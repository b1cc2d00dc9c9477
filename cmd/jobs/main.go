package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/attribution"
	"github.com/shardie-github/castor-sub009/internal/config"
	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/jobs"
	"github.com/shardie-github/castor-sub009/internal/lift"
	"github.com/shardie-github/castor-sub009/internal/logger"
	"github.com/shardie-github/castor-sub009/internal/repository/clickhouse"
	"github.com/shardie-github/castor-sub009/internal/repository/postgres"
	"github.com/shardie-github/castor-sub009/internal/roi"
	"github.com/shardie-github/castor-sub009/internal/rollup"
	"github.com/shardie-github/castor-sub009/internal/service"
)

// bootstrapSeed pins the confidence-interval RNG so repeated runs over the
// same conversions report the same interval.
const bootstrapSeed = 1

func main() {
	reattributeTenant := flag.String("reattribute-tenant", "",
		"run a one-shot re-attribution sweep for this tenant and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Service.Environment, "jobs")
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		if err := log.Sync(); err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chClient, err := clickhouse.NewClient(ctx, cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	eventLog := clickhouse.NewRepository(chClient, log)

	db, err := postgres.Open(cfg.Postgres.DSN, log)
	if err != nil {
		log.Fatal("Failed to open Postgres", zap.Error(err))
	}
	identityStore := postgres.NewIdentityStore(db, log)
	derivedStore := postgres.NewDerivedStore(db, log)

	if *reattributeTenant != "" {
		pathBuilder := attribution.NewPathBuilder(identityStore, log)
		calculator := roi.NewCalculator(cfg.Attribution.BootstrapResamples, bootstrapSeed, log)
		analyzer := lift.NewAnalyzer(log)
		analytics := service.NewAnalyticsService(
			eventLog, derivedStore, pathBuilder, calculator, analyzer, cfg.Attribution, log)
		runner := service.NewReattributionRunner(analytics, derivedStore, log)

		go func() {
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan
			cancel()
		}()

		if err := runner.RunTenant(ctx, *reattributeTenant); err != nil {
			log.Fatal("Re-attribution sweep failed",
				zap.String("tenant_id", *reattributeTenant),
				zap.Error(err))
		}
		return
	}

	manager := rollup.NewManager(eventLog, derivedStore, domain.DefaultRetention(), log)
	scheduler := jobs.NewScheduler(manager, cfg.Jobs, log)

	log.Info("Starting jobs service",
		zap.String("environment", cfg.Service.Environment))

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down jobs gracefully")
		cancel()
	}()

	scheduler.Start(ctx)
}
