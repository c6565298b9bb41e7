package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jengzang/worktag-backend-go/internal/analysis/hybrid"
	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/stats"
)

// ClassificationAnalyzer is the registry name of the worker-day batch classifier.
const ClassificationAnalyzer = "worker_day_classification"

func init() {
	RegisterAnalyzer(ClassificationAnalyzer, func(deps Deps) Analyzer {
		return NewIncrementalAnalyzer(deps)
	})
}

// BatchSummary is stored as the job's result summary.
type BatchSummary struct {
	Units     int `json:"units"`
	Completed int `json:"completed"`
	NoData    int `json:"no_data"`
	Failed    int `json:"failed"`
	// The distributions below cover the units processed by the latest run; failed and
	// no-data days are left out.
	ProcessedThisRun  int          `json:"processed_this_run"`
	MeanConfidence    stats.Spread `json:"mean_confidence"`
	UnclassifiedShare stats.Spread `json:"unclassified_share"`
}

// IncrementalAnalyzer classifies the pending (worker, date) units of a job on a bounded pool.
// Every unit is checkpointed as soon as it finishes, so a rerun only touches what is left.
type IncrementalAnalyzer struct {
	*BaseAnalyzer
	Planner   UnitPlanner
	Processor DayProcessor
	Workers   int
	Location  *time.Location
}

// NewIncrementalAnalyzer creates a new incremental analyzer
func NewIncrementalAnalyzer(deps Deps) *IncrementalAnalyzer {
	workers := deps.Workers
	if workers <= 0 {
		workers = 4
	}
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	return &IncrementalAnalyzer{
		BaseAnalyzer: NewBaseAnalyzer(deps.Jobs, ClassificationAnalyzer, deps.Logger),
		Planner:      deps.Planner,
		Processor:    deps.Processor,
		Workers:      workers,
		Location:     loc,
	}
}

type runState struct {
	mu        sync.Mutex
	total     int
	processed int
	failed    int
	noData    int
	completed int
	thisRun   int
	conf      []float64
	unclass   []float64
}

// Analyze runs or resumes a job. A unit failure is recorded on the unit and the run goes on;
// a systemic failure or cancellation stops the pool and marks the job failed so it can be resumed.
func (a *IncrementalAnalyzer) Analyze(ctx context.Context, jobID string) error {
	job, err := a.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status == models.JobStatusCompleted {
		a.Logger.Info("Job already completed", zap.String("job_id", jobID))
		return nil
	}
	if err := a.Jobs.MarkJobRunning(ctx, jobID); err != nil {
		return fmt.Errorf("failed to mark job as running: %w", err)
	}

	units, err := a.Jobs.ListUnits(ctx, jobID)
	if err != nil {
		return a.fail(jobID, fmt.Errorf("failed to list units: %w", err))
	}
	if len(units) == 0 {
		units, err = a.Planner.PlanUnits(ctx, job)
		if err != nil {
			return a.fail(jobID, fmt.Errorf("failed to plan units: %w", err))
		}
		if err := a.Jobs.InsertUnits(ctx, units); err != nil {
			return a.fail(jobID, fmt.Errorf("failed to store units: %w", err))
		}
	}

	st := &runState{total: len(units)}
	var pending []models.BatchUnit
	for _, u := range units {
		switch u.Status {
		case models.UnitStatusCompleted:
			st.processed++
			st.completed++
		case models.UnitStatusNoData:
			st.processed++
			st.noData++
		default:
			pending = append(pending, u)
		}
	}

	a.Logger.Info("Starting analysis",
		zap.String("job_id", jobID),
		zap.Int("total", st.total),
		zap.Int("pending", len(pending)),
		zap.Int("workers", a.Workers))
	started := time.Now()

	if err := a.Jobs.UpdateJobProgress(ctx, jobID, st.total, st.processed, st.failed); err != nil {
		return a.fail(jobID, fmt.Errorf("failed to update progress: %w", err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Workers)
	for _, u := range pending {
		if gctx.Err() != nil {
			break
		}
		unit := u
		g.Go(func() error {
			return a.runUnit(gctx, jobID, unit, st)
		})
	}
	if err := g.Wait(); err != nil {
		return a.fail(jobID, err)
	}
	if err := ctx.Err(); err != nil {
		return a.fail(jobID, err)
	}

	summary := BatchSummary{
		Units:             st.total,
		Completed:         st.completed,
		NoData:            st.noData,
		Failed:            st.failed,
		ProcessedThisRun:  st.thisRun,
		MeanConfidence:    stats.SpreadOf(st.conf),
		UnclassifiedShare: stats.SpreadOf(st.unclass),
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return a.fail(jobID, fmt.Errorf("failed to encode summary: %w", err))
	}
	if err := a.Jobs.MarkJobCompleted(ctx, jobID, string(raw)); err != nil {
		return fmt.Errorf("failed to mark job as completed: %w", err)
	}

	a.Logger.Info("Analysis completed",
		zap.String("job_id", jobID),
		zap.Int("processed", st.thisRun),
		zap.Int("failed", st.failed),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

func (a *IncrementalAnalyzer) runUnit(ctx context.Context, jobID string, u models.BatchUnit, st *runState) error {
	date, err := time.ParseInLocation(models.DateLayout, u.WorkDate, a.Location)
	if err != nil {
		return a.record(ctx, jobID, u, models.UnitStatusFailed, fmt.Sprintf("invalid work date: %v", err), nil, st)
	}

	res, err := a.Processor.ProcessDay(ctx, u.WorkerID, date)
	switch {
	case err != nil && (hybrid.IsSystemic(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return fmt.Errorf("worker %s on %s: %w", u.WorkerID, u.WorkDate, err)
	case err != nil:
		a.Logger.Warn("worker-day failed",
			zap.String("job_id", jobID),
			zap.String("worker_id", u.WorkerID),
			zap.String("work_date", u.WorkDate),
			zap.Error(err))
		return a.record(ctx, jobID, u, models.UnitStatusFailed, err.Error(), nil, st)
	case res.Status == models.DayStatusNoData:
		return a.record(ctx, jobID, u, models.UnitStatusNoData, "", nil, st)
	case res.Status == models.DayStatusFailed:
		return a.record(ctx, jobID, u, models.UnitStatusFailed, res.Error, nil, st)
	}
	return a.record(ctx, jobID, u, models.UnitStatusCompleted, "", &res, st)
}

// record checkpoints one unit and bumps the job counters.
func (a *IncrementalAnalyzer) record(ctx context.Context, jobID string, u models.BatchUnit, status, msg string, res *models.DayResult, st *runState) error {
	u.Status = status
	u.Error = msg
	u.Attempts++
	u.UpdatedAt = time.Now()
	if err := a.Jobs.SaveUnit(ctx, u); err != nil {
		return fmt.Errorf("failed to checkpoint unit %s/%s: %w", u.WorkerID, u.WorkDate, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.processed++
	st.thisRun++
	switch status {
	case models.UnitStatusFailed:
		st.failed++
	case models.UnitStatusNoData:
		st.noData++
	case models.UnitStatusCompleted:
		st.completed++
	}
	if res != nil && res.Summary.TotalMinutes > 0 {
		st.conf = append(st.conf, res.Summary.MeanConfidence)
		st.unclass = append(st.unclass, res.Summary.UnclassifiedMinutes/res.Summary.TotalMinutes)
	}
	if err := a.Jobs.UpdateJobProgress(ctx, jobID, st.total, st.processed, st.failed); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// fail marks the job failed with a fresh context, since ctx may already be cancelled.
func (a *IncrementalAnalyzer) fail(jobID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Jobs.MarkJobFailed(ctx, jobID, cause.Error()); err != nil {
		a.Logger.Error("failed to mark job as failed", zap.String("job_id", jobID), zap.Error(err))
	}
	a.Logger.Warn("Analysis stopped", zap.String("job_id", jobID), zap.Error(cause))
	return cause
}
