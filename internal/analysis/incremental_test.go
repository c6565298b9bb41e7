package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jengzang/worktag-backend-go/internal/hmm"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memoryJobs struct {
	mu    sync.Mutex
	jobs  map[string]*models.BatchJob
	units map[string]models.BatchUnit
	order []string
}

func newMemoryJobs(job models.BatchJob) *memoryJobs {
	return &memoryJobs{
		jobs:  map[string]*models.BatchJob{job.ID: &job},
		units: make(map[string]models.BatchUnit),
	}
}

func unitKey(u models.BatchUnit) string { return u.WorkerID + "/" + u.WorkDate }

func (m *memoryJobs) GetJob(_ context.Context, id string) (*models.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *job
	return &cp, nil
}

func (m *memoryJobs) MarkJobRunning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = models.JobStatusRunning
	return nil
}

func (m *memoryJobs) UpdateJobProgress(_ context.Context, id string, total, processed, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.TotalUnits, j.ProcessedUnits, j.FailedUnits = total, processed, failed
	if total > 0 {
		j.ProgressPercent = float64(processed) / float64(total) * 100
	}
	return nil
}

func (m *memoryJobs) MarkJobCompleted(_ context.Context, id string, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = models.JobStatusCompleted
	m.jobs[id].ResultSummary = summary
	return nil
}

func (m *memoryJobs) MarkJobFailed(_ context.Context, id string, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = models.JobStatusFailed
	m.jobs[id].ErrorMessage = msg
	return nil
}

func (m *memoryJobs) ListUnits(_ context.Context, jobID string) ([]models.BatchUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BatchUnit
	for _, k := range m.order {
		if u := m.units[k]; u.JobID == jobID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memoryJobs) InsertUnits(_ context.Context, units []models.BatchUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range units {
		m.units[unitKey(u)] = u
		m.order = append(m.order, unitKey(u))
	}
	return nil
}

func (m *memoryJobs) SaveUnit(_ context.Context, u models.BatchUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[unitKey(u)] = u
	return nil
}

func (m *memoryJobs) unit(worker, date string) models.BatchUnit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.units[worker+"/"+date]
}

type fixedPlanner struct {
	workers []string
	dates   []string
}

func (p fixedPlanner) PlanUnits(_ context.Context, job *models.BatchJob) ([]models.BatchUnit, error) {
	var out []models.BatchUnit
	for _, w := range p.workers {
		for _, d := range p.dates {
			out = append(out, models.BatchUnit{JobID: job.ID, WorkerID: w, WorkDate: d, Status: models.UnitStatusPending})
		}
	}
	return out, nil
}

type scriptedProcessor struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
	outcome     func(worker string, date time.Time) (models.DayResult, error)
}

func (p *scriptedProcessor) ProcessDay(ctx context.Context, worker string, date time.Time) (models.DayResult, error) {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.maxInFlight.Load()
		if n <= cur || p.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	select {
	case <-ctx.Done():
		return models.DayResult{}, ctx.Err()
	case <-time.After(2 * time.Millisecond):
	}
	return p.outcome(worker, date)
}

func okDay(conf float64) models.DayResult {
	sum := models.NewDaySummary()
	sum.TotalMinutes = 600
	sum.UnclassifiedMinutes = 60
	sum.MeanConfidence = conf
	return models.DayResult{Status: models.DayStatusOK, Summary: sum}
}

func newJob() models.BatchJob {
	return models.BatchJob{ID: "job-1", StartDate: "2024-05-06", EndDate: "2024-05-08", Status: models.JobStatusPending}
}

func TestAnalyzeProcessesEveryUnit(t *testing.T) {
	jobs := newMemoryJobs(newJob())
	proc := &scriptedProcessor{outcome: func(worker string, date time.Time) (models.DayResult, error) {
		switch {
		case worker == "w2" && date.Day() == 7:
			return models.DayResult{Status: models.DayStatusNoData}, nil
		case worker == "w3" && date.Day() == 8:
			return models.DayResult{}, errors.New("events unavailable")
		}
		return okDay(0.8), nil
	}}
	a := NewIncrementalAnalyzer(Deps{
		Jobs:      jobs,
		Planner:   fixedPlanner{workers: []string{"w1", "w2", "w3"}, dates: []string{"2024-05-06", "2024-05-07", "2024-05-08"}},
		Processor: proc,
		Workers:   2,
		Location:  time.UTC,
	})

	require.NoError(t, a.Analyze(context.Background(), "job-1"))

	job, err := jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 9, job.TotalUnits)
	assert.Equal(t, 9, job.ProcessedUnits)
	assert.Equal(t, 1, job.FailedUnits)
	assert.InDelta(t, 100, job.ProgressPercent, 1e-9)
	assert.LessOrEqual(t, proc.maxInFlight.Load(), int32(2))

	var summary BatchSummary
	require.NoError(t, json.Unmarshal([]byte(job.ResultSummary), &summary))
	assert.Equal(t, 7, summary.Completed)
	assert.Equal(t, 1, summary.NoData)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 7, summary.MeanConfidence.Count)
	assert.InDelta(t, 0.8, summary.MeanConfidence.P50, 1e-9)
	assert.InDelta(t, 0.1, summary.UnclassifiedShare.Mean, 1e-9)

	failed := jobs.unit("w3", "2024-05-08")
	assert.Equal(t, models.UnitStatusFailed, failed.Status)
	assert.Equal(t, "events unavailable", failed.Error)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, models.UnitStatusNoData, jobs.unit("w2", "2024-05-07").Status)

	progress, err := a.GetProgress(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 9, progress.Processed)
	assert.Equal(t, models.JobStatusCompleted, progress.Message)
}

func TestAnalyzeResumesOnlyPendingUnits(t *testing.T) {
	jobs := newMemoryJobs(newJob())
	require.NoError(t, jobs.InsertUnits(context.Background(), []models.BatchUnit{
		{JobID: "job-1", WorkerID: "w1", WorkDate: "2024-05-06", Status: models.UnitStatusCompleted, Attempts: 1},
		{JobID: "job-1", WorkerID: "w1", WorkDate: "2024-05-07", Status: models.UnitStatusNoData, Attempts: 1},
		{JobID: "job-1", WorkerID: "w1", WorkDate: "2024-05-08", Status: models.UnitStatusFailed, Attempts: 1},
		{JobID: "job-1", WorkerID: "w2", WorkDate: "2024-05-06", Status: models.UnitStatusPending},
	}))
	var seen sync.Map
	proc := &scriptedProcessor{outcome: func(worker string, date time.Time) (models.DayResult, error) {
		seen.Store(fmt.Sprintf("%s/%s", worker, date.Format(models.DateLayout)), true)
		return okDay(0.9), nil
	}}
	a := NewIncrementalAnalyzer(Deps{Jobs: jobs, Processor: proc, Workers: 4, Location: time.UTC})

	require.NoError(t, a.Analyze(context.Background(), "job-1"))

	assert.Equal(t, int32(2), proc.calls.Load())
	_, retried := seen.Load("w1/2024-05-08")
	assert.True(t, retried)
	_, redone := seen.Load("w1/2024-05-06")
	assert.False(t, redone)
	assert.Equal(t, 2, jobs.unit("w1", "2024-05-08").Attempts)

	job, _ := jobs.GetJob(context.Background(), "job-1")
	assert.Equal(t, 4, job.ProcessedUnits)
	assert.Zero(t, job.FailedUnits)
}

func TestAnalyzeStopsOnSystemicError(t *testing.T) {
	jobs := newMemoryJobs(newJob())
	proc := &scriptedProcessor{outcome: func(worker string, date time.Time) (models.DayResult, error) {
		if worker == "w2" {
			return models.DayResult{}, fmt.Errorf("load model: %w", hmm.ErrInvalidModel)
		}
		return okDay(0.9), nil
	}}
	a := NewIncrementalAnalyzer(Deps{
		Jobs:      jobs,
		Planner:   fixedPlanner{workers: []string{"w1", "w2"}, dates: []string{"2024-05-06"}},
		Processor: proc,
		Workers:   1,
		Location:  time.UTC,
	})

	err := a.Analyze(context.Background(), "job-1")
	require.ErrorIs(t, err, hmm.ErrInvalidModel)

	job, _ := jobs.GetJob(context.Background(), "job-1")
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "invalid hmm parameters")
	assert.Equal(t, models.UnitStatusPending, jobs.unit("w2", "2024-05-06").Status)
}

func TestAnalyzeHonoursCancellation(t *testing.T) {
	jobs := newMemoryJobs(newJob())
	ctx, cancel := context.WithCancel(context.Background())
	proc := &scriptedProcessor{outcome: func(string, time.Time) (models.DayResult, error) {
		cancel()
		return okDay(0.9), nil
	}}
	a := NewIncrementalAnalyzer(Deps{
		Jobs:      jobs,
		Planner:   fixedPlanner{workers: []string{"w1", "w2", "w3"}, dates: []string{"2024-05-06", "2024-05-07"}},
		Processor: proc,
		Workers:   1,
		Location:  time.UTC,
	})

	err := a.Analyze(ctx, "job-1")
	require.ErrorIs(t, err, context.Canceled)
	job, _ := jobs.GetJob(context.Background(), "job-1")
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Less(t, job.ProcessedUnits, 6)
}

func TestAnalyzeSkipsCompletedJob(t *testing.T) {
	job := newJob()
	job.Status = models.JobStatusCompleted
	proc := &scriptedProcessor{outcome: func(string, time.Time) (models.DayResult, error) { return okDay(1), nil }}
	a := NewIncrementalAnalyzer(Deps{Jobs: newMemoryJobs(job), Processor: proc})
	require.NoError(t, a.Analyze(context.Background(), "job-1"))
	assert.Zero(t, proc.calls.Load())
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, RegisteredAnalyzers(), ClassificationAnalyzer)
	a := GetAnalyzer(ClassificationAnalyzer, Deps{Jobs: newMemoryJobs(newJob())})
	require.NotNil(t, a)
	assert.Equal(t, ClassificationAnalyzer, a.GetName())
	assert.Nil(t, GetAnalyzer("unknown", Deps{}))
}
