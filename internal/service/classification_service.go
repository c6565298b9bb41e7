package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/analysis/hybrid"
	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/hmm"
	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/repository"
	"github.com/jengzang/worktag-backend-go/internal/timenorm"
)

// ClassificationService classifies worker-days with the current config and model snapshot
type ClassificationService struct {
	events    *repository.TagEventRepository
	workers   *repository.WorkerRepository
	timelines *repository.TimelineRepository
	configs   *config.Store
	models    *hmm.Store
	logger    *zap.Logger

	mu     sync.Mutex
	cached *hybrid.Classifier
}

// NewClassificationService creates a new classification service
func NewClassificationService(
	events *repository.TagEventRepository,
	workers *repository.WorkerRepository,
	timelines *repository.TimelineRepository,
	configs *config.Store,
	models *hmm.Store,
	logger *zap.Logger,
) *ClassificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassificationService{
		events:    events,
		workers:   workers,
		timelines: timelines,
		configs:   configs,
		models:    models,
		logger:    logger,
	}
}

// classifier returns a pipeline built from the current config, rebuilding it only after a swap.
func (s *ClassificationService) classifier() (*hybrid.Classifier, error) {
	cfg := s.configs.Load()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.cached.Config() == cfg {
		return s.cached, nil
	}
	c, err := hybrid.NewClassifier(cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.cached = c
	return c, nil
}

// ClassifyEvents classifies inline events without touching storage. A zero workDate is taken
// from the first valid event.
func (s *ClassificationService) ClassifyEvents(ctx context.Context, worker models.WorkerContext, workDate time.Time, events []models.TagEvent) (models.DayResult, error) {
	if err := ctx.Err(); err != nil {
		return models.DayResult{}, err
	}
	c, err := s.classifier()
	if err != nil {
		return models.DayResult{}, err
	}
	if !workDate.IsZero() {
		workDate = timenorm.DateOf(workDate)
	}
	return c.Classify(hybrid.Input{Worker: worker, WorkDate: workDate, Events: events}, s.models.Load().Params)
}

// ClassifyDay loads a worker-day from storage, classifies it and stores the result. Failed days
// are stored too, so the reason survives the run.
func (s *ClassificationService) ClassifyDay(ctx context.Context, workerID string, workDate time.Time) (models.DayResult, error) {
	worker, err := s.workers.Get(ctx, workerID)
	if errors.Is(err, repository.ErrNotFound) {
		worker = models.WorkerContext{WorkerID: workerID, Role: models.RoleUnknown}
	} else if err != nil {
		return models.DayResult{}, err
	}

	c, err := s.classifier()
	if err != nil {
		return models.DayResult{}, err
	}
	date := timenorm.DateOf(workDate)
	from, to := dayWindow(c.Config(), date, worker.Shift)
	events, err := s.events.ListForWorker(ctx, workerID, from, to)
	if err != nil {
		return models.DayResult{}, err
	}

	snap := s.models.Load()
	res, err := c.Classify(hybrid.Input{Worker: worker, WorkDate: date, Events: events}, snap.Params)
	if err != nil && !errors.Is(err, hybrid.ErrTimelineCorrupt) {
		return res, err
	}
	if serr := s.timelines.Save(ctx, res, snap.Meta.ID); serr != nil {
		return res, fmt.Errorf("failed to store timeline: %w", serr)
	}
	return res, err
}

// ProcessDay lets the batch runner drive ClassifyDay.
func (s *ClassificationService) ProcessDay(ctx context.Context, workerID string, workDate time.Time) (models.DayResult, error) {
	return s.ClassifyDay(ctx, workerID, workDate)
}

// GetTimeline returns a stored worker-day.
func (s *ClassificationService) GetTimeline(ctx context.Context, workerID, workDate string) (*models.DayResult, error) {
	if _, err := time.Parse(models.DateLayout, workDate); err != nil {
		return nil, fmt.Errorf("%w: work date %q", repository.ErrInvalidInput, workDate)
	}
	return s.timelines.Get(ctx, workerID, workDate)
}

// ListTimelines returns stored day summaries of a worker in [from, to].
func (s *ClassificationService) ListTimelines(ctx context.Context, workerID, from, to string) ([]repository.TimelineSummary, error) {
	return s.timelines.ListForWorker(ctx, workerID, from, to)
}

// dayWindow is the half-open range of raw events that can belong to date. Night shifts run
// from the day boundary to the same boundary on the next calendar day.
func dayWindow(cfg *config.ClassifierConfig, date time.Time, shift models.ShiftType) (time.Time, time.Time) {
	if shift == models.ShiftNight {
		from := date.Add(time.Duration(cfg.Shifts.NightDayBoundary) * time.Second)
		return from, from.AddDate(0, 0, 1)
	}
	return date, date.AddDate(0, 0, 1)
}
