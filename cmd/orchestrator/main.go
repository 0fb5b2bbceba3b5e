package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mimir-aip/mimir-curation/pkg/agreement"
	"github.com/mimir-aip/mimir-curation/pkg/api"
	"github.com/mimir-aip/mimir-curation/pkg/config"
	"github.com/mimir-aip/mimir-curation/pkg/logging"
	"github.com/mimir-aip/mimir-curation/pkg/metadatastore"
	"github.com/mimir-aip/mimir-curation/pkg/recommendation"
	"github.com/mimir-aip/mimir-curation/pkg/recommendation/stringmatch"
	"github.com/mimir-aip/mimir-curation/pkg/scheduler"
)

func main() {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", err)
	}

	if err := logging.InitLogger(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		logger.Fatal("Failed to initialize logger", err)
	}
	logger.Info("Starting curation orchestrator", logging.String("environment", cfg.Environment))

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal("Failed to create storage directory", err)
		}
	}
	store, err := metadatastore.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to initialize SQLite storage", err)
	}
	defer store.Close()
	logger.Info("Initialized SQLite storage", logging.String("path", cfg.DatabasePath))

	factory := recommendation.NewFactory()
	if err := stringmatch.Register(factory); err != nil {
		logger.Fatal("Failed to register recommender tools", err)
	}

	schedulerService := scheduler.NewService(factory, scheduler.NewFileSource(cfg.DocumentsDir),
		scheduler.WithStore(store),
		scheduler.WithWorkers(cfg.Workers),
		scheduler.WithRetrainSchedule(cfg.RetrainSchedule),
		scheduler.WithEvaluationSplit(cfg.Splitter.TrainPercentage, cfg.Splitter.BlockSize))
	for _, rec := range cfg.Recommenders {
		if err := schedulerService.AddRecommender(rec); err != nil {
			logger.Fatal("Failed to add recommender", err, logging.String("recommender", rec.ID))
		}
	}
	logger.Info("Initialized recommenders", logging.Int("count", len(cfg.Recommenders)))

	server := api.NewServer(cfg.Port)
	server.SetReadinessCheck(store.Ping)
	api.NewAgreementHandler(store,
		agreement.WithMaxConcurrency(cfg.Agreement.MaxConcurrency),
		agreement.WithDefaultMeasure(cfg.Agreement.DefaultMeasure)).Register(server)
	api.NewRecommenderHandler(schedulerService).Register(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := schedulerService.Run(ctx); err != nil {
			logger.Error("Scheduler stopped with error", err)
			stop()
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("API server failed", err)
			stop()
		}
	}()

	logger.Info("Orchestrator started successfully")
	<-ctx.Done()

	logger.Info("Shutting down orchestrator")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down API server", err)
	}
}
