package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/analysis/foundation"
	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/hmm"
	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/repository"
	"github.com/jengzang/worktag-backend-go/internal/timenorm"
)

// ErrTrainingInProgress is returned when a training run is already under way
var ErrTrainingInProgress = errors.New("training already in progress")

// TrainOutcome reports what a training request did
type TrainOutcome struct {
	Snapshot models.ModelSnapshotMeta `json:"snapshot"`
	Trained  bool                     `json:"trained"`
	Message  string                   `json:"message,omitempty"`
}

// TrainingService fits the activity model to stored events and publishes the result
type TrainingService struct {
	events    *repository.TagEventRepository
	snapshots *repository.SnapshotRepository
	store     *hmm.Store
	configs   *config.Store
	logger    *zap.Logger

	mu sync.Mutex
}

// NewTrainingService creates a new training service
func NewTrainingService(
	events *repository.TagEventRepository,
	snapshots *repository.SnapshotRepository,
	store *hmm.Store,
	configs *config.Store,
	logger *zap.Logger,
) *TrainingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrainingService{
		events:    events,
		snapshots: snapshots,
		store:     store,
		configs:   configs,
		logger:    logger.Named("training"),
	}
}

// LoadActive publishes the persisted active snapshot. Without one the store keeps what it has.
func (s *TrainingService) LoadActive(ctx context.Context) error {
	snap, err := s.snapshots.GetActive(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info("no trained model, using domain defaults")
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.Swap(snap); err != nil {
		return fmt.Errorf("active snapshot %s: %w", snap.Meta.ID, err)
	}
	s.logger.Info("model loaded", zap.String("snapshot", snap.Meta.ID), zap.String("source", snap.Meta.Source))
	return nil
}

// Current returns the metadata of the snapshot in use.
func (s *TrainingService) Current() models.ModelSnapshotMeta {
	return s.store.Load().Meta
}

// History lists persisted snapshots, newest first.
func (s *TrainingService) History(ctx context.Context) ([]models.ModelSnapshotMeta, error) {
	return s.snapshots.List(ctx)
}

// Train fits the model to every worker-day in [from, to) starting from the current snapshot.
// With too few sequences the current snapshot stays in use and Trained is false.
func (s *TrainingService) Train(ctx context.Context, from, to time.Time) (*TrainOutcome, error) {
	if !s.mu.TryLock() {
		return nil, ErrTrainingInProgress
	}
	defer s.mu.Unlock()

	cfg := s.configs.Load()
	seqs, err := s.sequences(ctx, cfg, from, to)
	if err != nil {
		return nil, err
	}

	current := s.store.Load()
	started := time.Now()
	res, err := hmm.Train(current.Params, seqs, hmm.TrainOptions{
		MaxIterations: cfg.HMM.MaxIterations,
		Tolerance:     cfg.HMM.Tolerance,
		MinSequences:  cfg.HMM.MinSequences,
		Smoothing:     cfg.HMM.Smoothing,
	})
	if errors.Is(err, hmm.ErrInsufficientSequences) {
		s.logger.Warn("not enough sequences, keeping current model",
			zap.Int("sequences", len(seqs)),
			zap.Int("min_sequences", cfg.HMM.MinSequences),
			zap.String("snapshot", current.Meta.ID))
		return &TrainOutcome{Snapshot: current.Meta, Message: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &hmm.Snapshot{
		Params: res.Params,
		Meta: models.ModelSnapshotMeta{
			ID:                 uuid.NewString(),
			CreatedAt:          time.Now(),
			Source:             "trained",
			Sequences:          len(seqs),
			Iterations:         res.Iterations,
			LogLikelihood:      res.LogLikelihood,
			Converged:          res.Converged,
			ConvergenceWarning: res.ConvergenceWarning,
		},
	}
	if err := s.snapshots.Save(ctx, snap, true); err != nil {
		return nil, err
	}
	if err := s.store.Swap(snap); err != nil {
		return nil, err
	}

	out := &TrainOutcome{Snapshot: snap.Meta, Trained: true}
	if res.ConvergenceWarning {
		out.Message = fmt.Sprintf("iteration cap %d reached before convergence", cfg.HMM.MaxIterations)
		s.logger.Warn("training did not converge",
			zap.String("snapshot", snap.Meta.ID),
			zap.Int("iterations", res.Iterations))
	}
	s.logger.Info("model trained",
		zap.String("snapshot", snap.Meta.ID),
		zap.Int("sequences", len(seqs)),
		zap.Int("iterations", res.Iterations),
		zap.Float64("log_likelihood", res.LogLikelihood),
		zap.Duration("elapsed", time.Since(started)))
	return out, nil
}

// sequences splits each worker's events into worker-days and encodes the valid observations.
// The shift of a day is guessed from its first event.
func (s *TrainingService) sequences(ctx context.Context, cfg *config.ClassifierConfig, from, to time.Time) ([][]hmm.Vector, error) {
	workers, err := s.events.ListWorkers(ctx, from, to)
	if err != nil {
		return nil, err
	}
	pre := foundation.NewPreprocessor(cfg, s.logger)
	norm := timenorm.New(cfg.Shifts.NightDayBoundary)
	enc := hmm.NewEncoder(cfg)

	var seqs [][]hmm.Vector
	for _, w := range workers {
		events, err := s.events.ListForWorker(ctx, w, from, to)
		if err != nil {
			return nil, err
		}
		for i := 0; i < len(events); {
			shift := timenorm.DetectShift(events[i].Timestamp)
			date := norm.WorkDate(events[i].Timestamp, shift).WorkDate
			j := i + 1
			for j < len(events) && timenorm.SameDate(norm.WorkDate(events[j].Timestamp, shift).WorkDate, date) {
				j++
			}
			day := pre.Process(w, shift, date, events[i:j])
			if seq := enc.Sequence(day.Observations, shift); len(seq) > 0 {
				seqs = append(seqs, seq)
			}
			i = j
		}
	}
	return seqs, nil
}
