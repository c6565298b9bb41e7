package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jengzang/worktag-backend-go/internal/database"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

// TagEventRepository handles database operations for raw tag events
type TagEventRepository struct {
	db *sql.DB
}

// NewTagEventRepository creates a new tag event repository
func NewTagEventRepository(db *sql.DB) *TagEventRepository {
	return &TagEventRepository{db: db}
}

// Insert stores events in one transaction. Events without a worker id or timestamp are rejected
// before anything is written.
func (r *TagEventRepository) Insert(ctx context.Context, events []models.TagEvent) (int, error) {
	for i, e := range events {
		if strings.TrimSpace(e.WorkerID) == "" || e.Timestamp.IsZero() {
			return 0, fmt.Errorf("%w: event %d needs worker_id and timestamp", ErrInvalidInput, i)
		}
	}
	now := formatTime(time.Now())
	err := database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO tag_events
			(worker_id, ts, location, tag_code, source_system, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, e.WorkerID, formatTime(e.Timestamp), e.Location,
				string(e.TagCode), e.SourceSystem, now); err != nil {
				return fmt.Errorf("failed to insert tag event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// ListForWorker returns the worker's events in [from, to), oldest first. Timestamps are returned
// in from's location so wall-clock rules see local time.
func (r *TagEventRepository) ListForWorker(ctx context.Context, workerID string, from, to time.Time) ([]models.TagEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, worker_id, ts, location, tag_code, source_system
		FROM tag_events
		WHERE worker_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts, id`, workerID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query tag events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows, from.Location())
}

// ListWorkers returns the distinct workers with at least one event in [from, to).
func (r *TagEventRepository) ListWorkers(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT worker_id FROM tag_events
		WHERE ts >= ? AND ts < ? ORDER BY worker_id`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan worker id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEvents(rows *sql.Rows, loc *time.Location) ([]models.TagEvent, error) {
	var events []models.TagEvent
	for rows.Next() {
		var (
			e    models.TagEvent
			ts   string
			code string
		)
		if err := rows.Scan(&e.ID, &e.WorkerID, &ts, &e.Location, &code, &e.SourceSystem); err != nil {
			return nil, fmt.Errorf("failed to scan tag event: %w", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = t.In(loc)
		e.TagCode = models.TagCode(code)
		events = append(events, e)
	}
	return events, rows.Err()
}
