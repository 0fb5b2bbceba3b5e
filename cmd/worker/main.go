// Worker process that runs training tasks once and exits.
// TASK_USER and TASK_RECOMMENDER select one task; when TASK_USER is empty every
// user of every enabled recommender is trained.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mimir-aip/mimir-curation/pkg/config"
	"github.com/mimir-aip/mimir-curation/pkg/logging"
	"github.com/mimir-aip/mimir-curation/pkg/metadatastore"
	"github.com/mimir-aip/mimir-curation/pkg/models"
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

	store, err := metadatastore.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to initialize SQLite storage", err)
	}
	defer store.Close()

	factory := recommendation.NewFactory()
	if err := stringmatch.Register(factory); err != nil {
		logger.Fatal("Failed to register recommender tools", err)
	}

	svc := scheduler.NewService(factory, scheduler.NewFileSource(cfg.DocumentsDir),
		scheduler.WithStore(store),
		scheduler.WithEvaluationSplit(cfg.Splitter.TrainPercentage, cfg.Splitter.BlockSize))
	for _, rec := range cfg.Recommenders {
		if err := svc.AddRecommender(rec); err != nil {
			logger.Fatal("Failed to add recommender", err, logging.String("recommender", rec.ID))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	user := os.Getenv("TASK_USER")
	if user != "" {
		recommenderID := os.Getenv("TASK_RECOMMENDER")
		if _, err := svc.Enqueue(user, recommenderID, models.TrainingTriggerManual); err != nil {
			logger.Fatal("Failed to enqueue training task", err)
		}
	} else if _, err := svc.EnqueueAll(ctx, models.TrainingTriggerManual); err != nil {
		logger.Fatal("Failed to enqueue training tasks", err)
	}

	processed := 0
	for ctx.Err() == nil {
		ok, err := svc.RunNext(ctx)
		if err != nil {
			logger.Fatal("Training failed", err)
		}
		if !ok {
			break
		}
		processed++
	}

	logger.Info("Worker finished", logging.Int("tasks", processed))
}
