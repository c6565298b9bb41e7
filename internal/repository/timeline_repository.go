package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jengzang/worktag-backend-go/internal/models"
)

// TimelineRepository persists classified worker-days. One row per (worker, date); a rerun
// replaces the previous result.
type TimelineRepository struct {
	db *sql.DB
}

func NewTimelineRepository(db *sql.DB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

// Save stores res, replacing any earlier result for the same worker-day.
func (r *TimelineRepository) Save(ctx context.Context, res models.DayResult, modelID string) error {
	if res.WorkerID == "" || res.WorkDate.IsZero() {
		return fmt.Errorf("%w: day result needs worker_id and work_date", ErrInvalidInput)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode day result: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO timelines
		(worker_id, work_date, status, total_minutes, unclassified_minutes, mean_confidence, model_id, result_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id, work_date) DO UPDATE SET
			status = excluded.status,
			total_minutes = excluded.total_minutes,
			unclassified_minutes = excluded.unclassified_minutes,
			mean_confidence = excluded.mean_confidence,
			model_id = excluded.model_id,
			result_json = excluded.result_json,
			updated_at = excluded.updated_at`,
		res.WorkerID, res.WorkDate.Format(models.DateLayout), string(res.Status),
		res.Summary.TotalMinutes, res.Summary.UnclassifiedMinutes, res.Summary.MeanConfidence,
		modelID, string(raw), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save timeline: %w", err)
	}
	return nil
}

// Get returns the stored result for a worker-day or ErrNotFound.
func (r *TimelineRepository) Get(ctx context.Context, workerID, workDate string) (*models.DayResult, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT result_json FROM timelines WHERE worker_id = ? AND work_date = ?`,
		workerID, workDate).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	var res models.DayResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("failed to decode timeline: %w", err)
	}
	return &res, nil
}

// TimelineSummary is one row of a timeline listing.
type TimelineSummary struct {
	WorkerID            string  `json:"worker_id"`
	WorkDate            string  `json:"work_date"`
	Status              string  `json:"status"`
	TotalMinutes        float64 `json:"total_minutes"`
	UnclassifiedMinutes float64 `json:"unclassified_minutes"`
	MeanConfidence      float64 `json:"mean_confidence"`
	ModelID             string  `json:"model_id"`
}

// ListForWorker returns the summaries of a worker's stored days in [from, to], by date.
func (r *TimelineRepository) ListForWorker(ctx context.Context, workerID, from, to string) ([]TimelineSummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT worker_id, work_date, status, total_minutes,
			unclassified_minutes, mean_confidence, model_id
		FROM timelines
		WHERE worker_id = ? AND work_date >= ? AND work_date <= ?
		ORDER BY work_date`, workerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list timelines: %w", err)
	}
	defer rows.Close()

	var out []TimelineSummary
	for rows.Next() {
		var s TimelineSummary
		if err := rows.Scan(&s.WorkerID, &s.WorkDate, &s.Status, &s.TotalMinutes,
			&s.UnclassifiedMinutes, &s.MeanConfidence, &s.ModelID); err != nil {
			return nil, fmt.Errorf("failed to scan timeline: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
