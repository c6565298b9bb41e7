package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jengzang/worktag-backend-go/internal/models"
)

// WorkerRepository stores per-worker context
type WorkerRepository struct {
	db *sql.DB
}

func NewWorkerRepository(db *sql.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

// Upsert creates or replaces a worker's context.
func (r *WorkerRepository) Upsert(ctx context.Context, w models.WorkerContext) error {
	if strings.TrimSpace(w.WorkerID) == "" {
		return fmt.Errorf("%w: worker_id is required", ErrInvalidInput)
	}
	if w.Role == "" {
		w.Role = models.RoleUnknown
	}
	priors := ""
	if len(w.Priors) > 0 {
		raw, err := json.Marshal(w.Priors)
		if err != nil {
			return fmt.Errorf("failed to encode priors: %w", err)
		}
		priors = string(raw)
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO workers (worker_id, role_class, shift_type, priors_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET
			role_class = excluded.role_class,
			shift_type = excluded.shift_type,
			priors_json = excluded.priors_json,
			updated_at = excluded.updated_at`,
		w.WorkerID, string(w.Role), string(w.Shift), priors, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to upsert worker: %w", err)
	}
	return nil
}

// Get returns the worker's context or ErrNotFound.
func (r *WorkerRepository) Get(ctx context.Context, workerID string) (models.WorkerContext, error) {
	var (
		w           models.WorkerContext
		role, shift string
		priors      string
	)
	err := r.db.QueryRowContext(ctx, `SELECT worker_id, role_class, shift_type, priors_json
		FROM workers WHERE worker_id = ?`, workerID).Scan(&w.WorkerID, &role, &shift, &priors)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WorkerContext{}, ErrNotFound
	}
	if err != nil {
		return models.WorkerContext{}, fmt.Errorf("failed to get worker: %w", err)
	}
	w.Role = models.RoleClass(role)
	w.Shift = models.ShiftType(shift)
	if priors != "" {
		if err := json.Unmarshal([]byte(priors), &w.Priors); err != nil {
			return models.WorkerContext{}, fmt.Errorf("failed to decode priors: %w", err)
		}
	}
	return w, nil
}

// List returns every worker id in order.
func (r *WorkerRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT worker_id FROM workers ORDER BY worker_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
