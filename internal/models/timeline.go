package models

import "time"

// RoleClass drives how strongly data quality moves confidence.
type RoleClass string

const (
	RoleProduction RoleClass = "production"
	RoleOffice     RoleClass = "office"
	RoleUnknown    RoleClass = "unknown"
)

// BaseRate is the share of a day's work the tag data of this role is expected to capture.
// Unrecognised roles count as unknown.
func (r RoleClass) BaseRate() float64 {
	switch r {
	case RoleProduction:
		return 0.85
	case RoleOffice:
		return 0.65
	}
	return 0.70
}

// ShiftType is the shift a worker is assigned to on a given day.
type ShiftType string

const (
	ShiftDay   ShiftType = "day"
	ShiftNight ShiftType = "night"
)

// Valid reports whether the shift flag is one of the known values.
func (s ShiftType) Valid() bool {
	return s == ShiftDay || s == ShiftNight
}

// WorkerContext is read-only per-worker information supplied alongside the events.
type WorkerContext struct {
	WorkerID string    `json:"worker_id" db:"worker_id"`
	Role     RoleClass `json:"role_class" db:"role_class"`
	Shift    ShiftType `json:"shift_type" db:"shift_type"`

	// Priors optionally reweights states for this person; missing states weigh 1.
	Priors map[ActivityState]float64 `json:"priors,omitempty"`
}

// SpanSource records which stage produced a span.
type SpanSource string

const (
	SourceRule      SpanSource = "rule"
	SourceInference SpanSource = "inference"
	SourceRepair    SpanSource = "repair"
)

// Span is a resolved interval before it is stitched into the timeline.
type Span struct {
	Start time.Time           `json:"start"`
	End   time.Time           `json:"end"`
	State StateWithConfidence `json:"state"`

	Source SpanSource `json:"source"`
	RuleID string     `json:"rule_id,omitempty"`
	// Rank orders overlapping spans; higher wins.
	Rank int `json:"rank"`
	// Finalized spans were fixed by a rule at or above the certain threshold.
	Finalized bool `json:"finalized"`
	// Observations holds indexes into the preprocessed sequence covered by the span.
	Observations []int `json:"observations,omitempty"`
}

func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Segment is one entry of a finished Timeline.
type Segment struct {
	Start  time.Time           `json:"start"`
	End    time.Time           `json:"end"`
	State  StateWithConfidence `json:"state"`
	Source SpanSource          `json:"source"`
	RuleID string              `json:"rule_id,omitempty"`
}

func (s Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Timeline is the ordered, contiguous segment list of one worker-day.
type Timeline struct {
	WorkerID string    `json:"worker_id"`
	WorkDate time.Time `json:"work_date"`
	Segments []Segment `json:"segments"`
}

// ObservedSpan returns the first start and last end, zero values for an empty timeline.
func (t Timeline) ObservedSpan() (time.Time, time.Time) {
	if len(t.Segments) == 0 {
		return time.Time{}, time.Time{}
	}
	return t.Segments[0].Start, t.Segments[len(t.Segments)-1].End
}

// Quality flags attached to a day result.
const (
	FlagNoData             = "no_data"
	FlagLowConfidenceShift = "low_confidence_shift"
	FlagSparse             = "sparse"
	FlagDroppedEvents      = "dropped_events"
	FlagAnomalies          = "anomalies"
	FlagRepaired           = "repaired"
	FlagRulesOnly          = "rules_only"
)

// DayStatus is the outcome of classifying one worker-day.
type DayStatus string

const (
	DayStatusOK     DayStatus = "ok"
	DayStatusNoData DayStatus = "no_data"
	DayStatusFailed DayStatus = "failed"
)

// Estimation is how much of the day's work time the tag data supports: a rate in [0, 1] with
// a 95% interval around it.
type Estimation struct {
	Role     RoleClass `json:"role_class"`
	Rate     float64   `json:"rate"`
	Variance float64   `json:"variance"`
	Low      float64   `json:"low"`
	High     float64   `json:"high"`
}

// DaySummary aggregates minutes per state. Every model state is present.
type DaySummary struct {
	Minutes             map[ActivityState]float64 `json:"minutes"`
	UnclassifiedMinutes float64                   `json:"unclassified_minutes"`
	TotalMinutes        float64                   `json:"total_minutes"`
	MeanConfidence      float64                   `json:"mean_confidence"`
	QualityScore        float64                   `json:"quality_score"`

	// WorkMinutes counts the work states plus meetings and education.
	WorkMinutes     float64    `json:"work_minutes"`
	WorkMinutesLow  float64    `json:"work_minutes_low"`
	WorkMinutesHigh float64    `json:"work_minutes_high"`
	Estimation      Estimation `json:"estimation"`
}

// CountsAsWork reports whether minutes in s go into DaySummary.WorkMinutes.
func CountsAsWork(s ActivityState) bool {
	return s.IsWork() || s == StateMeeting || s == StateEducation
}

// NewDaySummary returns a summary with every model state at zero.
func NewDaySummary() DaySummary {
	m := make(map[ActivityState]float64, NumStates)
	for _, s := range AllStates() {
		m[s] = 0
	}
	return DaySummary{Minutes: m}
}

// DroppedEvent is a raw event removed before classification.
type DroppedEvent struct {
	Event  TagEvent `json:"event"`
	Reason string   `json:"reason"`
}

// DayResult is everything the classifier produces for one worker-day.
type DayResult struct {
	WorkerID  string         `json:"worker_id"`
	WorkDate  time.Time      `json:"work_date"`
	Status    DayStatus      `json:"status"`
	Timeline  Timeline       `json:"timeline"`
	Summary   DaySummary     `json:"summary"`
	Flags     []string       `json:"flags,omitempty"`
	Dropped   []DroppedEvent `json:"dropped,omitempty"`
	Anomalies []Observation  `json:"anomalies,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// HasFlag reports whether flag is set on the result.
func (r DayResult) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
