// Command worktag serves and runs the worker activity classifier.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/database"
	"github.com/jengzang/worktag-backend-go/internal/hmm"
	"github.com/jengzang/worktag-backend-go/internal/repository"
	"github.com/jengzang/worktag-backend-go/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "worktag",
		Short: "Worker activity classification from tag events",
		Long: `worktag turns raw location tag events into per-worker daily activity timelines.

Each worker-day runs through deterministic rules first; what they leave open is
inferred with a hidden Markov model and adjusted for data quality.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newClassifyCmd(),
		newBatchCmd(),
		newTrainCmd(),
		newMigrateCmd(),
		newTokenCmd(),
	)
	return root
}

// app is the wired process: storage, config snapshots and services.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sql.DB
	configs *config.Store
	models  *hmm.Store

	classification *service.ClassificationService
	batch          *service.BatchService
	training       *service.TrainingService
}

// openApp loads config, opens and migrates the database and publishes the active model.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Config{Path: cfg.DBPath}, logger)
	if err != nil {
		return nil, err
	}
	if _, err := database.Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	classifier, err := config.LoadClassifier(cfg.ClassifierPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	configs, err := config.NewStore(classifier)
	if err != nil {
		db.Close()
		return nil, err
	}
	models, err := hmm.NewStore(hmm.DefaultSnapshot())
	if err != nil {
		db.Close()
		return nil, err
	}

	events := repository.NewTagEventRepository(db)
	workers := repository.NewWorkerRepository(db)
	a := &app{cfg: cfg, logger: logger, db: db, configs: configs, models: models}
	a.classification = service.NewClassificationService(events, workers, repository.NewTimelineRepository(db), configs, models, logger)
	a.batch = service.NewBatchService(repository.NewBatchRepository(db), events, workers, a.classification,
		service.BatchOptions{Workers: cfg.BatchWorkers, Location: time.Local}, logger)
	a.training = service.NewTrainingService(events, repository.NewSnapshotRepository(db), models, configs, logger)
	if err := a.training.LoadActive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close stops background jobs and releases the database.
func (a *app) Close() {
	a.batch.Shutdown()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func parseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}
