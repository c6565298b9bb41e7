package adjust

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

func obsAt(hour, minute int, location string) models.Observation {
	return models.Observation{Event: models.TagEvent{
		WorkerID:  "w1",
		Timestamp: time.Date(2024, time.May, 6, hour, minute, 0, 0, time.UTC),
		Location:  location,
	}}
}

func state(t *testing.T, s models.ActivityState, conf float64) models.StateWithConfidence {
	t.Helper()
	swc, err := models.NewStateWithConfidence(s, conf, models.NewEvidence(models.EvidenceRule, "test", conf))
	require.NoError(t, err)
	return swc
}

func TestQualityDenseDay(t *testing.T) {
	e := NewEngine(config.DefaultClassifierConfig(), nil)
	var obs []models.Observation
	for i := 0; i < 12; i++ {
		obs = append(obs, obsAt(9, i*5, fmt.Sprintf("Line %d", i%5)))
	}
	obs = append(obs, models.Observation{Anomaly: true})

	q := e.Quality(obs)
	assert.InDelta(t, 1.0, q.Coverage, 1e-9)
	assert.InDelta(t, 0.0, q.ActivityDensity, 1e-9)
	assert.InDelta(t, 1.0, q.Continuity, 1e-9)
	assert.Equal(t, 5, q.DistinctLocations)
	assert.InDelta(t, 0.5, q.Diversity, 1e-9)
	assert.InDelta(t, 0.6, q.Score, 1e-9)
	assert.Equal(t, models.RoleProduction, e.Role(models.WorkerContext{}, q))
}

func TestQualitySparseDay(t *testing.T) {
	e := NewEngine(config.DefaultClassifierConfig(), nil)
	q := e.Quality([]models.Observation{obsAt(8, 0, "Main Entrance"), obsAt(20, 0, "Main Exit")})

	assert.InDelta(t, 0.2, q.Coverage, 1e-9)
	assert.InDelta(t, 0.2, q.Continuity, 1e-9)
	assert.InDelta(t, 0.3, q.Diversity, 1e-9)
	assert.InDelta(t, 0.16, q.Score, 1e-9)
	assert.Equal(t, models.RoleOffice, e.Role(models.WorkerContext{}, q))
	assert.Equal(t, models.RoleProduction, e.Role(models.WorkerContext{Role: models.RoleProduction}, q))
}

func TestQualityActivityAndContinuity(t *testing.T) {
	e := NewEngine(config.DefaultClassifierConfig(), nil)
	aux := obsAt(9, 35, "Cafeteria")
	aux.Event.SourceSystem = models.SourceMeal
	machine := obsAt(10, 10, "Machine 1")
	machine.Code = models.TagEquipment

	q := e.Quality([]models.Observation{obsAt(9, 0, "Line 1"), aux, machine, obsAt(10, 45, "Line 1")})
	assert.InDelta(t, 1.0, q.ActivityDensity, 1e-9)
	// median gap 35 minutes
	assert.InDelta(t, 0.6, q.Continuity, 1e-9)
	assert.Equal(t, models.RoleOffice, e.Role(models.WorkerContext{Role: models.RoleUnknown}, q))

	assert.Equal(t, Quality{Coverage: 0.2, Continuity: 0.2, Diversity: 0.3, Score: 0.16}, roundScore(e.Quality(nil)))
}

func roundScore(q Quality) Quality {
	q.Score = float64(int(q.Score*1e6+0.5)) / 1e6
	return q
}

func TestQualityUsesCatalogCells(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	lat, lng := 37.5665, 126.978
	cfg.Locations = append([]config.LocationEntry{
		{Pattern: "reader north", Category: models.CategoryWorkArea, Code: models.TagWorkArea, Lat: &lat, Lng: &lng},
		{Pattern: "reader south", Category: models.CategoryWorkArea, Code: models.TagWorkArea, Lat: &lat, Lng: &lng},
	}, cfg.Locations...)
	e := NewEngine(cfg, nil)

	q := e.Quality([]models.Observation{obsAt(9, 0, "Reader North"), obsAt(9, 10, "Reader South"), obsAt(9, 20, "Line 1")})
	assert.Equal(t, 2, q.DistinctLocations)
}

func TestFactor(t *testing.T) {
	e := NewEngine(config.DefaultClassifierConfig(), nil)
	assert.InDelta(t, 1.2, e.Factor(models.RoleProduction, 1), 1e-9)
	assert.InDelta(t, 0.9, e.Factor(models.RoleOffice, 0), 1e-9)
	assert.InDelta(t, 1.0, e.Factor(models.RoleUnknown, 0.5), 1e-9)
}

func TestApply(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	e := NewEngine(cfg, nil)
	low := Quality{Score: 0}
	high := Quality{Score: 1}

	t.Run("finalized never drops below certain", func(t *testing.T) {
		got := e.Apply(state(t, models.StateWorkConfirmed, 0.98), models.RoleProduction, low, Target{Finalized: true})
		assert.Equal(t, models.StateWorkConfirmed, got.State)
		assert.InDelta(t, cfg.Thresholds.Certain, got.Confidence, 1e-9)
		assert.Len(t, got.Evidence, 2)
	})

	t.Run("inferred stays under cap", func(t *testing.T) {
		got := e.Apply(state(t, models.StateWork, 0.9), models.RoleProduction, high, Target{Inferred: true})
		assert.InDelta(t, cfg.Thresholds.InferenceCap, got.Confidence, 1e-9)
	})

	t.Run("office floor", func(t *testing.T) {
		got := e.Apply(state(t, models.StateWork, 0.5), models.RoleOffice, low, Target{Inferred: true})
		assert.Equal(t, models.StateWork, got.State)
		assert.InDelta(t, cfg.Thresholds.Floor, got.Confidence, 1e-9)
	})

	t.Run("demotion keeps old state as alternative", func(t *testing.T) {
		in := state(t, models.StateMeeting, 0.55)
		in.Alternatives = []models.Alternative{{State: models.StateWork, Score: 0.3}}
		got := e.Apply(in, models.RoleProduction, low, Target{Inferred: true})

		assert.Equal(t, models.StateUnclassified, got.State)
		assert.InDelta(t, 0.44, got.Confidence, 1e-9)
		require.Len(t, got.Alternatives, 2)
		assert.Equal(t, models.StateMeeting, got.Alternatives[0].State)
		assert.Equal(t, models.StateMeeting, in.State, "input untouched")
		assert.Len(t, in.Alternatives, 1)
	})

	t.Run("promotion of unclassified", func(t *testing.T) {
		in := state(t, models.StateUnclassified, 0.7)
		in.Alternatives = []models.Alternative{{State: models.StateWork, Score: 0.7}, {State: models.StateRest, Score: 0.1}}
		got := e.Apply(in, models.RoleProduction, high, Target{Inferred: true})

		assert.Equal(t, models.StateWork, got.State)
		assert.InDelta(t, 0.84, got.Confidence, 1e-9)
		assert.Equal(t, []models.Alternative{{State: models.StateRest, Score: 0.1}}, got.Alternatives)
	})

	t.Run("weak unclassified stays", func(t *testing.T) {
		in := state(t, models.StateUnclassified, 0.3)
		in.Alternatives = []models.Alternative{{State: models.StateWork, Score: 0.5}}
		got := e.Apply(in, models.RoleOffice, high, Target{Inferred: true})
		assert.Equal(t, models.StateUnclassified, got.State)
		assert.Less(t, got.Confidence, cfg.Thresholds.Floor)
	})
}

func TestAdjustDoesNotModifyInput(t *testing.T) {
	e := NewEngine(config.DefaultClassifierConfig(), nil)
	spans := []models.Span{
		{State: state(t, models.StateLunch, 1.0), Source: models.SourceRule, Finalized: true},
		{State: state(t, models.StateWork, 0.6), Source: models.SourceInference},
	}
	out := e.Adjust(spans, models.RoleProduction, Quality{Score: 0})

	require.Len(t, out, 2)
	assert.InDelta(t, 1.0, spans[0].State.Confidence, 1e-9)
	assert.InDelta(t, 0.95, out[0].State.Confidence, 1e-9)
	assert.Equal(t, models.StateUnclassified, out[1].State.State)
	assert.Equal(t, models.StateWork, spans[1].State.State)
}

func TestRateFollowsRoleAndQuality(t *testing.T) {
	assert.InDelta(t, 0.85, Rate(models.RoleProduction, 0.5), 1e-9)
	assert.InDelta(t, 0.68, Rate(models.RoleProduction, 0), 1e-9)
	assert.InDelta(t, 0.95, Rate(models.RoleProduction, 1), 1e-9, "capped")
	assert.InDelta(t, 0.78, Rate(models.RoleOffice, 1), 1e-9)
	assert.InDelta(t, 0.56, Rate(models.RoleUnknown, 0), 1e-9)
	assert.InDelta(t, 0.70, Rate("", 0.5), 1e-9)
}

func TestEstimateInterval(t *testing.T) {
	e := NewEngine(config.DefaultClassifierConfig(), nil)

	dense := e.Estimate(models.RoleProduction, Quality{Score: 0, Samples: 200, GapStdDev: 5})
	assert.Equal(t, models.RoleProduction, dense.Role)
	assert.InDelta(t, 0.68, dense.Rate, 1e-9)
	assert.InDelta(t, 0.01, dense.Variance, 1e-12)
	assert.InDelta(t, 0.484, dense.Low, 1e-9)
	assert.InDelta(t, 0.876, dense.High, 1e-9)

	sparse := e.Estimate(models.RoleOffice, Quality{Score: 0.5, Samples: 10, GapStdDev: 90})
	assert.InDelta(t, 0.12, sparse.Variance, 1e-12)
	assert.InDelta(t, 0.65, sparse.Rate, 1e-9)
	assert.InDelta(t, 0.0, sparse.Low, 1e-9)
	assert.InDelta(t, 1.0, sparse.High, 1e-9)

	thin := e.Estimate("", Quality{Score: 0.5, Samples: 60})
	assert.Equal(t, models.RoleUnknown, thin.Role)
	assert.InDelta(t, 0.0375, thin.Variance, 1e-12)
	assert.Less(t, thin.Low, thin.Rate)
	assert.Greater(t, thin.High, thin.Rate)
}
