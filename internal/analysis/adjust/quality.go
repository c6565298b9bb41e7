// Package adjust scales span confidence by the data quality of the worker-day.
package adjust

import (
	"time"

	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/spatial"
	"github.com/jengzang/worktag-backend-go/internal/stats"
)

// Sub-score bounds
const (
	tagsPerHourFull     = 10.0
	coverageMin         = 0.2
	densityScale        = 3.0
	continuityFullGap   = 10.0 // minutes
	continuityFloorGap  = 60.0 // minutes
	continuityMin       = 0.2
	locationsFull       = 10.0
	diversityMin        = 0.3
	minObservedDuration = time.Hour
)

// Quality is the data-quality score of one worker-day and its parts.
type Quality struct {
	Coverage        float64 `json:"coverage"`
	ActivityDensity float64 `json:"activity_density"`
	Continuity      float64 `json:"continuity"`
	Diversity       float64 `json:"diversity"`
	Score           float64 `json:"score"`

	TagsPerHour       float64 `json:"tags_per_hour"`
	DistinctLocations int     `json:"distinct_locations"`
	Samples           int     `json:"samples"`
	GapStdDev         float64 `json:"gap_std_dev"` // minutes
}

// Quality scores the valid observations of a worker-day.
func (e *Engine) Quality(obs []models.Observation) Quality {
	var valid []models.Observation
	for _, o := range obs {
		if !o.Anomaly {
			valid = append(valid, o)
		}
	}

	q := Quality{Coverage: coverageMin, Continuity: continuityMin, Diversity: diversityMin}
	q.Samples = len(valid)
	if len(valid) > 0 {
		observed := valid[len(valid)-1].Time().Sub(valid[0].Time())
		if observed < minObservedDuration {
			observed = minObservedDuration
		}
		q.TagsPerHour = float64(len(valid)) / observed.Hours()
		q.Coverage = stats.Clamp(q.TagsPerHour/tagsPerHourFull, coverageMin, 1)

		active := 0
		for _, o := range valid {
			if o.Code == models.TagEquipment || o.Event.IsAuxiliary() {
				active++
			}
		}
		q.ActivityDensity = stats.Clamp(float64(active)/float64(len(valid))*densityScale, 0, 1)

		if len(valid) >= 2 {
			gaps := make([]time.Duration, 0, len(valid)-1)
			for i := 1; i < len(valid); i++ {
				gaps = append(gaps, valid[i].Time().Sub(valid[i-1].Time()))
			}
			minutes := stats.Minutes(gaps)
			q.Continuity = continuity(stats.Median(minutes))
			q.GapStdDev = stats.StdDev(minutes)
		}

		q.DistinctLocations = spatial.DistinctLocations(e.places(valid), e.cfg.Context.CellLevel)
		q.Diversity = stats.Clamp(float64(q.DistinctLocations)/locationsFull, diversityMin, 1)
	}

	w := e.cfg.Context.Weights
	q.Score = models.Clamp01(w.Coverage*q.Coverage + w.ActivityDensity*q.ActivityDensity +
		w.Continuity*q.Continuity + w.Diversity*q.Diversity)
	return q
}

// continuity maps the median gap in minutes onto [continuityMin, 1].
func continuity(median float64) float64 {
	switch {
	case median <= continuityFullGap:
		return 1
	case median >= continuityFloorGap:
		return continuityMin
	default:
		frac := (median - continuityFullGap) / (continuityFloorGap - continuityFullGap)
		return 1 - frac*(1-continuityMin)
	}
}

func (e *Engine) places(obs []models.Observation) []spatial.Place {
	out := make([]spatial.Place, 0, len(obs))
	for _, o := range obs {
		p := spatial.Place{Name: o.Event.Location}
		if p.Name == "" {
			p.Name = string(o.Code)
		}
		if entry, ok := e.cfg.LookupLocation(o.Event.Location); ok && entry.Lat != nil && entry.Lng != nil {
			p.Lat, p.Lng, p.HasPos = *entry.Lat, *entry.Lng, true
		}
		out = append(out, p)
	}
	return out
}

// Role returns the worker's role, detected from tag density when the context does not say.
func (e *Engine) Role(worker models.WorkerContext, q Quality) models.RoleClass {
	switch worker.Role {
	case models.RoleProduction, models.RoleOffice:
		return worker.Role
	}
	switch {
	case q.TagsPerHour == 0:
		return models.RoleUnknown
	case q.TagsPerHour < e.cfg.Context.OfficeMaxTagsPerHour:
		return models.RoleOffice
	case q.TagsPerHour > e.cfg.Context.ProductionMinTagsHour:
		return models.RoleProduction
	}
	return models.RoleUnknown
}
