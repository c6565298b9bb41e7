package hmm

import (
	"time"

	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/timenorm"
)

// Observation feature indexes. Every feature is categorical.
const (
	FeatureLocation = iota
	FeatureInterval
	FeatureDayOfWeek
	FeaturePeriod
	FeatureWorkArea
	FeatureBehavior
	FeatureAttendance
	FeatureExcluded
	FeatureCafeteria
	FeatureShift

	NumFeatures
)

// Interval buckets of the time since the previous observation.
const (
	IntervalShort  = iota // < 5m
	IntervalMedium        // < 30m
	IntervalLong          // < 2h
	IntervalNone          // first observation or longer
)

// Attendance values.
const (
	AttendanceNone = iota
	AttendanceLeave
	AttendanceTrip
)

// Cardinalities is the number of values each feature can take.
var Cardinalities = [NumFeatures]int{
	FeatureLocation:   len(models.Categories),
	FeatureInterval:   4,
	FeatureDayOfWeek:  7,
	FeaturePeriod:     timenorm.NumPeriods,
	FeatureWorkArea:   2,
	FeatureBehavior:   2,
	FeatureAttendance: 3,
	FeatureExcluded:   2,
	FeatureCafeteria:  2,
	FeatureShift:      2,
}

// Vector is the encoded observation of one event.
type Vector [NumFeatures]int

var categoryIndex = func() map[models.LocationCategory]int {
	m := make(map[models.LocationCategory]int, len(models.Categories))
	for i, c := range models.Categories {
		m[c] = i
	}
	return m
}()

// CategoryIndex returns the feature value of a location category; unknown categories map to other.
func CategoryIndex(c models.LocationCategory) int {
	if i, ok := categoryIndex[c]; ok {
		return i
	}
	return categoryIndex[models.CategoryOther]
}

// Encoder turns observations into feature vectors.
type Encoder struct {
	excluded []models.TimeWindow
}

func NewEncoder(cfg *config.ClassifierConfig) Encoder {
	return Encoder{excluded: cfg.ExcludedWindows}
}

// Encode encodes o; prev is the previous observation of the same sequence, nil for the first.
func (e Encoder) Encode(o models.Observation, prev *models.Observation, shift models.ShiftType) Vector {
	var v Vector
	v[FeatureLocation] = CategoryIndex(o.Category)
	v[FeatureInterval] = IntervalNone
	if prev != nil {
		v[FeatureInterval] = intervalBucket(o.Time().Sub(prev.Time()))
	}
	v[FeatureDayOfWeek] = int(o.Time().Weekday())
	v[FeaturePeriod] = int(timenorm.PeriodOf(o.Time()))
	if o.Category == models.CategoryWorkArea || o.Category == models.CategoryEquipment {
		v[FeatureWorkArea] = 1
	}
	if o.Code == models.TagEquipment || o.Event.IsAuxiliary() {
		v[FeatureBehavior] = 1
	}
	switch o.Code {
	case models.TagLeave:
		v[FeatureAttendance] = AttendanceLeave
	case models.TagBusinessTrip:
		v[FeatureAttendance] = AttendanceTrip
	}
	for _, w := range e.excluded {
		if timenorm.IsInWindow(o.Time(), w) {
			v[FeatureExcluded] = 1
			break
		}
	}
	if o.Category == models.CategoryCafeteria {
		v[FeatureCafeteria] = 1
	}
	if shift == models.ShiftNight {
		v[FeatureShift] = 1
	}
	return v
}

// Sequence encodes obs in order, skipping anomalies.
func (e Encoder) Sequence(obs []models.Observation, shift models.ShiftType) []Vector {
	seq := make([]Vector, 0, len(obs))
	var prev *models.Observation
	for i := range obs {
		if obs[i].Anomaly {
			continue
		}
		seq = append(seq, e.Encode(obs[i], prev, shift))
		prev = &obs[i]
	}
	return seq
}

func intervalBucket(d time.Duration) int {
	switch {
	case d < 5*time.Minute:
		return IntervalShort
	case d < 30*time.Minute:
		return IntervalMedium
	case d < 2*time.Hour:
		return IntervalLong
	default:
		return IntervalNone
	}
}

// Valid reports whether every feature value is inside its cardinality.
func (v Vector) Valid() bool {
	for f, x := range v {
		if x < 0 || x >= Cardinalities[f] {
			return false
		}
	}
	return true
}
