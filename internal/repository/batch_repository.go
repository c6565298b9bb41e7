package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jengzang/worktag-backend-go/internal/database"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

// BatchRepository persists batch jobs and their (worker, date) checkpoints
type BatchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

const jobColumns = `id, start_date, end_date, worker_ids, status, progress_percent,
	total_units, processed_units, failed_units, result_summary, error_message,
	created_by, created_at, updated_at, completed_at`

// CreateJob inserts a new job.
func (r *BatchRepository) CreateJob(ctx context.Context, job *models.BatchJob) error {
	if job.ID == "" || job.StartDate == "" || job.EndDate == "" {
		return fmt.Errorf("%w: job needs id, start_date and end_date", ErrInvalidInput)
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `INSERT INTO batch_jobs
		(id, start_date, end_date, worker_ids, status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.StartDate, job.EndDate, job.WorkerIDs, job.Status, job.CreatedBy,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: job %s", ErrConflict, job.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob returns a job or ErrNotFound.
func (r *BatchRepository) GetJob(ctx context.Context, id string) (*models.BatchJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// ListJobs returns the most recent jobs first, optionally filtered by status.
func (r *BatchRepository) ListJobs(ctx context.Context, status string, limit int) ([]models.BatchJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM batch_jobs`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.BatchJob, error) {
	var (
		job              models.BatchJob
		created, updated string
		completed        sql.NullString
	)
	err := row.Scan(&job.ID, &job.StartDate, &job.EndDate, &job.WorkerIDs, &job.Status, &job.ProgressPercent,
		&job.TotalUnits, &job.ProcessedUnits, &job.FailedUnits, &job.ResultSummary, &job.ErrorMessage,
		&job.CreatedBy, &created, &updated, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	if job.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return nil, err
		}
		job.CompletedAt = &t
	}
	return &job, nil
}

func (r *BatchRepository) updateJob(ctx context.Context, id, set string, args ...interface{}) error {
	args = append([]interface{}{formatTime(time.Now())}, args...)
	args = append(args, id)
	res, err := r.db.ExecContext(ctx, `UPDATE batch_jobs SET updated_at = ?, `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkJobRunning marks a job as running and clears any earlier error
func (r *BatchRepository) MarkJobRunning(ctx context.Context, id string) error {
	return r.updateJob(ctx, id, `status = ?, error_message = '', completed_at = NULL`, models.JobStatusRunning)
}

// UpdateJobProgress stores the unit counters and derived percentage
func (r *BatchRepository) UpdateJobProgress(ctx context.Context, id string, total, processed, failed int) error {
	percent := 0.0
	if total > 0 {
		percent = float64(processed) / float64(total) * 100.0
	}
	return r.updateJob(ctx, id, `total_units = ?, processed_units = ?, failed_units = ?, progress_percent = ?`,
		total, processed, failed, percent)
}

// MarkJobCompleted marks a job as completed with its result summary
func (r *BatchRepository) MarkJobCompleted(ctx context.Context, id string, summary string) error {
	return r.updateJob(ctx, id, `status = ?, progress_percent = 100, result_summary = ?, completed_at = ?`,
		models.JobStatusCompleted, summary, formatTime(time.Now()))
}

// MarkJobFailed marks a job as failed with an error message
func (r *BatchRepository) MarkJobFailed(ctx context.Context, id string, errorMsg string) error {
	return r.updateJob(ctx, id, `status = ?, error_message = ?, completed_at = ?`,
		models.JobStatusFailed, errorMsg, formatTime(time.Now()))
}

// ListUnits returns every unit of a job ordered by worker and date
func (r *BatchRepository) ListUnits(ctx context.Context, jobID string) ([]models.BatchUnit, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT job_id, worker_id, work_date, status, attempts, error, updated_at
		FROM batch_units WHERE job_id = ? ORDER BY worker_id, work_date`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []models.BatchUnit
	for rows.Next() {
		var (
			u       models.BatchUnit
			updated string
		)
		if err := rows.Scan(&u.JobID, &u.WorkerID, &u.WorkDate, &u.Status, &u.Attempts, &u.Error, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		if u.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// InsertUnits stores planned units in one transaction
func (r *BatchRepository) InsertUnits(ctx context.Context, units []models.BatchUnit) error {
	if len(units) == 0 {
		return nil
	}
	now := formatTime(time.Now())
	return database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO batch_units
			(job_id, worker_id, work_date, status, attempts, error, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare unit insert: %w", err)
		}
		defer stmt.Close()
		for _, u := range units {
			status := u.Status
			if status == "" {
				status = models.UnitStatusPending
			}
			if _, err := stmt.ExecContext(ctx, u.JobID, u.WorkerID, u.WorkDate, status, u.Attempts, u.Error, now); err != nil {
				return fmt.Errorf("failed to insert unit: %w", err)
			}
		}
		return nil
	})
}

// SaveUnit checkpoints one unit
func (r *BatchRepository) SaveUnit(ctx context.Context, u models.BatchUnit) error {
	updated := u.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `UPDATE batch_units SET status = ?, attempts = ?, error = ?, updated_at = ?
		WHERE job_id = ? AND worker_id = ? AND work_date = ?`,
		u.Status, u.Attempts, u.Error, formatTime(updated), u.JobID, u.WorkerID, u.WorkDate)
	if err != nil {
		return fmt.Errorf("failed to save unit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
