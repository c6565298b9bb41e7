package models

import "time"

// BatchJob is a classification run over a date range, persisted so it can be resumed.
type BatchJob struct {
	ID string `json:"id" db:"id"`

	// Scope
	StartDate string `json:"start_date" db:"start_date"`           // YYYY-MM-DD, inclusive
	EndDate   string `json:"end_date" db:"end_date"`               // YYYY-MM-DD, inclusive
	WorkerIDs string `json:"worker_ids,omitempty" db:"worker_ids"` // JSON array, empty for all workers

	// Status
	Status          string  `json:"status" db:"status"` // pending, running, completed, failed
	ProgressPercent float64 `json:"progress_percent" db:"progress_percent"`

	// Execution info
	TotalUnits     int `json:"total_units" db:"total_units"`
	ProcessedUnits int `json:"processed_units" db:"processed_units"`
	FailedUnits    int `json:"failed_units" db:"failed_units"`

	ResultSummary string `json:"result_summary,omitempty" db:"result_summary"`
	ErrorMessage  string `json:"error_message,omitempty" db:"error_message"`

	CreatedBy   string     `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// BatchUnit is the checkpoint of one (worker, date) unit of a job.
type BatchUnit struct {
	JobID     string    `json:"job_id" db:"job_id"`
	WorkerID  string    `json:"worker_id" db:"worker_id"`
	WorkDate  string    `json:"work_date" db:"work_date"`
	Status    string    `json:"status" db:"status"`
	Attempts  int       `json:"attempts" db:"attempts"`
	Error     string    `json:"error,omitempty" db:"error"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Job and unit status values
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"

	UnitStatusPending   = "pending"
	UnitStatusCompleted = "completed"
	UnitStatusNoData    = "no_data"
	UnitStatusFailed    = "failed"
)

// DateLayout is the canonical work-date format.
const DateLayout = "2006-01-02"

// ModelSnapshotMeta describes a persisted HMM parameter set.
type ModelSnapshotMeta struct {
	ID                 string    `json:"id" db:"id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	Source             string    `json:"source" db:"source"` // default, trained
	Sequences          int       `json:"sequences" db:"sequences"`
	Iterations         int       `json:"iterations" db:"iterations"`
	LogLikelihood      float64   `json:"log_likelihood" db:"log_likelihood"`
	Converged          bool      `json:"converged" db:"converged"`
	ConvergenceWarning bool      `json:"convergence_warning" db:"convergence_warning"`
	Active             bool      `json:"active" db:"active"`
}
