// Package timenorm maps wall-clock timestamps onto shift-aware work dates and time windows.
package timenorm

import (
	"time"

	"github.com/jengzang/worktag-backend-go/internal/models"
)

// Normalized is the result of normalizing one timestamp.
type Normalized struct {
	WorkDate time.Time
	Shift    models.ShiftType
	// LowConfidence is set when the shift flag was missing or invalid and day semantics were assumed.
	LowConfidence bool
}

// Normalizer resolves work dates. It holds no mutable state.
type Normalizer struct {
	nightBoundary models.ClockTime
}

// New returns a normalizer using boundary as the night-shift start of day: night-shift
// timestamps before it belong to the previous calendar date.
func New(boundary models.ClockTime) Normalizer {
	return Normalizer{nightBoundary: boundary}
}

// WorkDate returns the canonical work date of ts for the given shift. The date is midnight
// in ts's own location.
func (n Normalizer) WorkDate(ts time.Time, shift models.ShiftType) Normalized {
	out := Normalized{Shift: shift}
	if !shift.Valid() {
		out.Shift = models.ShiftDay
		out.LowConfidence = true
	}
	date := DateOf(ts)
	if out.Shift == models.ShiftNight && models.ClockOf(ts) < n.nightBoundary {
		date = date.AddDate(0, 0, -1)
	}
	out.WorkDate = date
	return out
}

// IsInWindow reports whether the time of day of ts falls inside w. Windows with start after
// end wrap past midnight and match either [start, 24:00) or [00:00, end).
func IsInWindow(ts time.Time, w models.TimeWindow) bool {
	return w.ContainsClock(models.ClockOf(ts))
}

// DateOf truncates ts to midnight in its own location.
func DateOf(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}

// SameDate compares calendar dates regardless of location.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DetectShift guesses the shift from the first event of a day: evening or early-morning
// starts indicate the night shift.
func DetectShift(first time.Time) models.ShiftType {
	h := first.Hour()
	if h >= 18 || h <= 6 {
		return models.ShiftNight
	}
	return models.ShiftDay
}

// Period buckets the hour of day.
type Period int

const (
	PeriodEarlyMorning Period = iota // 05-09
	PeriodMorning                    // 09-12
	PeriodAfternoon                  // 12-18
	PeriodEvening                    // 18-22
	PeriodNight                      // 22-05
)

// NumPeriods is the number of Period values.
const NumPeriods = 5

// PeriodOf returns the time-of-day bucket of ts.
func PeriodOf(ts time.Time) Period {
	switch h := ts.Hour(); {
	case h >= 5 && h < 9:
		return PeriodEarlyMorning
	case h >= 9 && h < 12:
		return PeriodMorning
	case h >= 12 && h < 18:
		return PeriodAfternoon
	case h >= 18 && h < 22:
		return PeriodEvening
	default:
		return PeriodNight
	}
}

// ClockDistance returns the shortest distance around the clock between ts and c.
func ClockDistance(ts time.Time, c models.ClockTime) time.Duration {
	d := int(models.ClockOf(ts)) - int(c)
	if d < 0 {
		d = -d
	}
	if d > 12*3600 {
		d = 24*3600 - d
	}
	return time.Duration(d) * time.Second
}
