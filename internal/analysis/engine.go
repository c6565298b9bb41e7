package analysis

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/models"
)

// Analyzer is the interface that all batch analyses must implement
type Analyzer interface {
	// Analyze runs a persisted job. Units already completed by an earlier run are skipped,
	// so calling it again on an interrupted job resumes it.
	Analyze(ctx context.Context, jobID string) error

	// GetProgress returns the current progress of a job
	GetProgress(ctx context.Context, jobID string) (*Progress, error)

	// GetName returns the name of the analyzer
	GetName() string
}

// Progress represents the progress of a batch job
type Progress struct {
	Processed  int     `json:"processed"`   // units finished, in any status
	Total      int     `json:"total"`       // units planned
	Failed     int     `json:"failed"`      // units that failed
	Percent    float64 `json:"percent"`     // 0-100
	ETASeconds int     `json:"eta_seconds"` // estimated time to completion
	Message    string  `json:"message,omitempty"`
}

// JobStore persists jobs and their per-unit checkpoints.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*models.BatchJob, error)
	MarkJobRunning(ctx context.Context, id string) error
	UpdateJobProgress(ctx context.Context, id string, total, processed, failed int) error
	MarkJobCompleted(ctx context.Context, id string, summary string) error
	MarkJobFailed(ctx context.Context, id string, errorMsg string) error

	ListUnits(ctx context.Context, jobID string) ([]models.BatchUnit, error)
	InsertUnits(ctx context.Context, units []models.BatchUnit) error
	SaveUnit(ctx context.Context, unit models.BatchUnit) error
}

// UnitPlanner expands a job scope into (worker, date) units.
type UnitPlanner interface {
	PlanUnits(ctx context.Context, job *models.BatchJob) ([]models.BatchUnit, error)
}

// DayProcessor classifies and stores one worker-day.
type DayProcessor interface {
	ProcessDay(ctx context.Context, workerID string, workDate time.Time) (models.DayResult, error)
}

// Deps are the collaborators an analyzer is built from.
type Deps struct {
	Jobs      JobStore
	Planner   UnitPlanner
	Processor DayProcessor
	Workers   int
	// Location is where unit work dates are interpreted; nil means time.Local.
	Location *time.Location
	Logger   *zap.Logger
}

// BaseAnalyzer provides common functionality for all analyzers
type BaseAnalyzer struct {
	Jobs   JobStore
	Name   string
	Logger *zap.Logger
}

// NewBaseAnalyzer creates a new base analyzer
func NewBaseAnalyzer(jobs JobStore, name string, logger *zap.Logger) *BaseAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseAnalyzer{
		Jobs:   jobs,
		Name:   name,
		Logger: logger.Named(name),
	}
}

// GetName returns the analyzer name
func (a *BaseAnalyzer) GetName() string {
	return a.Name
}

// GetProgress reads the job counters.
func (a *BaseAnalyzer) GetProgress(ctx context.Context, jobID string) (*Progress, error) {
	job, err := a.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	p := &Progress{
		Processed: job.ProcessedUnits,
		Total:     job.TotalUnits,
		Failed:    job.FailedUnits,
		Percent:   job.ProgressPercent,
		Message:   job.Status,
	}
	if job.Status == models.JobStatusRunning && job.ProcessedUnits > 0 && job.ProcessedUnits < job.TotalUnits {
		elapsed := job.UpdatedAt.Sub(job.CreatedAt).Seconds()
		p.ETASeconds = int(elapsed / float64(job.ProcessedUnits) * float64(job.TotalUnits-job.ProcessedUnits))
	}
	return p, nil
}

// AnalyzerFactory is a function that creates an analyzer instance
type AnalyzerFactory func(deps Deps) Analyzer

var (
	registryMu sync.RWMutex
	// AnalyzerRegistry maps analyzer names to factories
	AnalyzerRegistry = make(map[string]AnalyzerFactory)
)

// RegisterAnalyzer registers an analyzer factory for a name
func RegisterAnalyzer(name string, factory AnalyzerFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	AnalyzerRegistry[name] = factory
}

// GetAnalyzer retrieves an analyzer instance for a name, nil when none is registered
func GetAnalyzer(name string, deps Deps) Analyzer {
	registryMu.RLock()
	factory, ok := AnalyzerRegistry[name]
	registryMu.RUnlock()
	if !ok {
		return nil
	}
	return factory(deps)
}

// RegisteredAnalyzers lists the registered names in sorted order.
func RegisteredAnalyzers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(AnalyzerRegistry))
	for name := range AnalyzerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
