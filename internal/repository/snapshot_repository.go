package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jengzang/worktag-backend-go/internal/database"
	"github.com/jengzang/worktag-backend-go/internal/hmm"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

// SnapshotRepository persists HMM parameter sets. At most one snapshot is active.
type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save stores snap. With activate set, it becomes the only active snapshot.
func (r *SnapshotRepository) Save(ctx context.Context, snap *hmm.Snapshot, activate bool) error {
	if snap == nil || snap.Meta.ID == "" {
		return fmt.Errorf("%w: snapshot needs an id", ErrInvalidInput)
	}
	if err := snap.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	raw, err := json.Marshal(snap.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	m := snap.Meta
	m.Active = activate
	err = database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		if activate {
			if _, err := tx.ExecContext(ctx, `UPDATE model_snapshots SET active = 0 WHERE active = 1`); err != nil {
				return fmt.Errorf("failed to deactivate snapshots: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO model_snapshots
			(id, created_at, source, sequences, iterations, log_likelihood, converged, convergence_warning, active, params_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, formatTime(m.CreatedAt), m.Source, m.Sequences, m.Iterations, m.LogLikelihood,
			boolToInt(m.Converged), boolToInt(m.ConvergenceWarning), boolToInt(m.Active), string(raw))
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: snapshot %s", ErrConflict, m.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	snap.Meta.Active = activate
	return nil
}

// GetActive returns the active snapshot or ErrNotFound.
func (r *SnapshotRepository) GetActive(ctx context.Context) (*hmm.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, created_at, source, sequences, iterations, log_likelihood,
			converged, convergence_warning, active, params_json
		FROM model_snapshots WHERE active = 1 ORDER BY created_at DESC LIMIT 1`)

	var (
		m                 models.ModelSnapshotMeta
		created, raw      string
		conv, warn, activ int
	)
	err := row.Scan(&m.ID, &created, &m.Source, &m.Sequences, &m.Iterations, &m.LogLikelihood,
		&conv, &warn, &activ, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active snapshot: %w", err)
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	m.Converged, m.ConvergenceWarning, m.Active = conv == 1, warn == 1, activ == 1

	var p hmm.Params
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode params: %w", err)
	}
	return &hmm.Snapshot{Params: &p, Meta: m}, nil
}

// List returns the metadata of every snapshot, newest first.
func (r *SnapshotRepository) List(ctx context.Context) ([]models.ModelSnapshotMeta, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, created_at, source, sequences, iterations, log_likelihood,
			converged, convergence_warning, active
		FROM model_snapshots ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.ModelSnapshotMeta
	for rows.Next() {
		var (
			m                 models.ModelSnapshotMeta
			created           string
			conv, warn, activ int
		)
		if err := rows.Scan(&m.ID, &created, &m.Source, &m.Sequences, &m.Iterations, &m.LogLikelihood,
			&conv, &warn, &activ); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		m.Converged, m.ConvergenceWarning, m.Active = conv == 1, warn == 1, activ == 1
		out = append(out, m)
	}
	return out, rows.Err()
}
