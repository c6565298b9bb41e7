package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/analysis"
	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/repository"
)

var (
	// ErrJobRunning is returned when a job is started while this process is already running it
	ErrJobRunning = errors.New("job is already running")
	// ErrJobCompleted is returned when resuming a job that has nothing left to do
	ErrJobCompleted = errors.New("job is already completed")
)

// maxJobDays bounds the date range of one job.
const maxJobDays = 366

// BatchService creates and runs checkpointed classification jobs
type BatchService struct {
	jobs      *repository.BatchRepository
	events    *repository.TagEventRepository
	workers   *repository.WorkerRepository
	processor analysis.DayProcessor
	pool      int
	location  *time.Location
	logger    *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// BatchOptions configures the batch runner.
type BatchOptions struct {
	Workers  int
	Location *time.Location
}

// NewBatchService creates a new batch service
func NewBatchService(
	jobs *repository.BatchRepository,
	events *repository.TagEventRepository,
	workers *repository.WorkerRepository,
	processor analysis.DayProcessor,
	opts BatchOptions,
	logger *zap.Logger,
) *BatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &BatchService{
		jobs:      jobs,
		events:    events,
		workers:   workers,
		processor: processor,
		pool:      opts.Workers,
		location:  opts.Location,
		logger:    logger.Named("batch"),
		running:   make(map[string]context.CancelFunc),
	}
}

// CreateJob validates the scope and stores a pending job. Units are planned when it first runs.
func (s *BatchService) CreateJob(ctx context.Context, from, to string, workerIDs []string, createdBy string) (*models.BatchJob, error) {
	start, err := time.ParseInLocation(models.DateLayout, from, s.location)
	if err != nil {
		return nil, fmt.Errorf("%w: start date %q", repository.ErrInvalidInput, from)
	}
	end, err := time.ParseInLocation(models.DateLayout, to, s.location)
	if err != nil {
		return nil, fmt.Errorf("%w: end date %q", repository.ErrInvalidInput, to)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date before start date", repository.ErrInvalidInput)
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > maxJobDays {
		return nil, fmt.Errorf("%w: range of %d days exceeds %d", repository.ErrInvalidInput, days, maxJobDays)
	}

	job := &models.BatchJob{
		ID:        uuid.NewString(),
		StartDate: from,
		EndDate:   to,
		Status:    models.JobStatusPending,
		CreatedBy: createdBy,
	}
	if len(workerIDs) > 0 {
		ids := append([]string(nil), workerIDs...)
		sort.Strings(ids)
		raw, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("failed to encode worker ids: %w", err)
		}
		job.WorkerIDs = string(raw)
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("Job created", zap.String("job_id", job.ID), zap.String("from", from), zap.String("to", to))
	return job, nil
}

func (s *BatchService) analyzer() analysis.Analyzer {
	return analysis.GetAnalyzer(analysis.ClassificationAnalyzer, analysis.Deps{
		Jobs:      s.jobs,
		Planner:   s,
		Processor: s.processor,
		Workers:   s.pool,
		Location:  s.location,
		Logger:    s.logger,
	})
}

// RunJob runs or resumes a job and blocks until it stops.
func (s *BatchService) RunJob(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.claim(jobID, cancel); err != nil {
		return err
	}
	defer s.release(jobID)

	a := s.analyzer()
	if a == nil {
		return fmt.Errorf("analyzer %s not registered", analysis.ClassificationAnalyzer)
	}
	return a.Analyze(ctx, jobID)
}

// Start runs a job in the background. ctx bounds the run; Shutdown also stops it.
func (s *BatchService) Start(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := s.claim(jobID, cancel); err != nil {
		cancel()
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(jobID)
		defer cancel()
		a := s.analyzer()
		if a == nil {
			s.logger.Error("analyzer not registered", zap.String("name", analysis.ClassificationAnalyzer))
			return
		}
		if err := a.Analyze(ctx, jobID); err != nil {
			s.logger.Warn("Job stopped", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
	return nil
}

// Resume restarts an interrupted or failed job in the background.
func (s *BatchService) Resume(ctx context.Context, jobID string) (*models.BatchJob, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusCompleted {
		return job, ErrJobCompleted
	}
	if err := s.Start(context.WithoutCancel(ctx), jobID); err != nil {
		return job, err
	}
	return job, nil
}

// Cancel stops a job running in this process. The job is left failed and can be resumed.
func (s *BatchService) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.running[jobID]
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every running job and waits for them to checkpoint.
func (s *BatchService) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *BatchService) claim(jobID string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[jobID]; ok {
		return ErrJobRunning
	}
	s.running[jobID] = cancel
	return nil
}

func (s *BatchService) release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

// GetJob returns a job
func (s *BatchService) GetJob(ctx context.Context, jobID string) (*models.BatchJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// ListJobs lists recent jobs, optionally by status
func (s *BatchService) ListJobs(ctx context.Context, status string, limit int) ([]models.BatchJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.jobs.ListJobs(ctx, status, limit)
}

// GetProgress returns the counters and ETA of a job
func (s *BatchService) GetProgress(ctx context.Context, jobID string) (*analysis.Progress, error) {
	a := s.analyzer()
	if a == nil {
		return nil, fmt.Errorf("analyzer %s not registered", analysis.ClassificationAnalyzer)
	}
	return a.GetProgress(ctx, jobID)
}

// PlanUnits expands a job into one unit per (worker, date). Without an explicit worker list the
// job covers every known worker and every worker with events in range.
func (s *BatchService) PlanUnits(ctx context.Context, job *models.BatchJob) ([]models.BatchUnit, error) {
	start, err := time.ParseInLocation(models.DateLayout, job.StartDate, s.location)
	if err != nil {
		return nil, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.ParseInLocation(models.DateLayout, job.EndDate, s.location)
	if err != nil {
		return nil, fmt.Errorf("invalid end date: %w", err)
	}

	var ids []string
	if job.WorkerIDs != "" {
		if err := json.Unmarshal([]byte(job.WorkerIDs), &ids); err != nil {
			return nil, fmt.Errorf("invalid worker ids: %w", err)
		}
	} else {
		known, err := s.workers.List(ctx)
		if err != nil {
			return nil, err
		}
		// night shifts of the last date end on the next calendar day
		seen, err := s.events.ListWorkers(ctx, start, end.AddDate(0, 0, 2))
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(known)+len(seen))
		for _, id := range append(known, seen...) {
			if _, ok := set[id]; !ok {
				set[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
	}

	var units []models.BatchUnit
	for _, id := range ids {
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			units = append(units, models.BatchUnit{
				JobID:    job.ID,
				WorkerID: id,
				WorkDate: d.Format(models.DateLayout),
				Status:   models.UnitStatusPending,
			})
		}
	}
	return units, nil
}
