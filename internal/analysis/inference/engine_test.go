package inference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/worktag-backend-go/internal/analysis/foundation"
	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/hmm"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, time.May, 6, hour, minute, 0, 0, time.UTC)
}

func day(t *testing.T, cfg *config.ClassifierConfig, role models.RoleClass, events ...models.TagEvent) Day {
	t.Helper()
	res := foundation.NewPreprocessor(cfg, nil).Process("w1", models.ShiftDay, time.Time{}, events)
	return Day{
		Worker:       models.WorkerContext{WorkerID: "w1", Role: role, Shift: models.ShiftDay},
		Shift:        models.ShiftDay,
		Observations: res.Observations,
		Params:       hmm.DefaultParams(),
	}
}

func ev(ts time.Time, location string) models.TagEvent {
	return models.TagEvent{WorkerID: "w1", Timestamp: ts, Location: location}
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func TestPriorReflectsTimeAndRole(t *testing.T) {
	e := NewEngine(config.DefaultClassifierConfig(), nil)
	prod := models.WorkerContext{Role: models.RoleProduction}

	lunch := e.Prior(prod, models.ShiftDay, at(12, 0), at(12, 30))
	afternoon := e.Prior(prod, models.ShiftDay, at(15, 30), at(16, 0))
	assert.InDelta(t, 1.0, sum(lunch), 1e-9)
	assert.Greater(t, lunch[models.StateLunch.Index()], afternoon[models.StateLunch.Index()])

	arrival := e.Prior(prod, models.ShiftDay, at(7, 50), at(8, 20))
	assert.Greater(t, arrival[models.StateCommuteIn.Index()], afternoon[models.StateCommuteIn.Index()])

	office := e.Prior(models.WorkerContext{Role: models.RoleOffice}, models.ShiftDay, at(15, 30), at(16, 0))
	assert.Greater(t, afternoon[models.StateWork.Index()], office[models.StateWork.Index()])

	personal := models.WorkerContext{Role: models.RoleProduction, Priors: map[models.ActivityState]float64{models.StateMeeting: 4}}
	boosted := e.Prior(personal, models.ShiftDay, at(15, 30), at(16, 0))
	assert.Greater(t, boosted[models.StateMeeting.Index()], afternoon[models.StateMeeting.Index()])
	assert.InDelta(t, 1.0, sum(boosted), 1e-9)
}

func TestRankTieBreak(t *testing.T) {
	posterior := []float64{0.2, 0.3, 0.3005, 0.1995}
	prior := []float64{0.25, 0.2, 0.3, 0.25}

	assert.Equal(t, []int{2, 1, 0}, Rank(posterior, prior, 0.001, 3))

	equalPrior := []float64{0.25, 0.25, 0.25, 0.25}
	assert.Equal(t, []int{1, 2, 0}, Rank(posterior, equalPrior, 0.001, 3))
	assert.Equal(t, []int{2, 1, 0, 3}, Rank(posterior, equalPrior, 0, 4))
}

func TestInferSpanWithObservations(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	e := NewEngine(cfg, nil)
	d := day(t, cfg, models.RoleProduction,
		ev(at(7, 55), "Main Entrance"),
		ev(at(8, 30), "Line 3"),
		ev(at(9, 40), "Line 3"),
		ev(at(10, 50), "Line 3"),
		ev(at(11, 40), "Corridor A"),
	)
	span := models.Span{Start: at(8, 30), End: at(11, 40), Source: models.SourceInference, Rank: -1, Observations: []int{1, 2, 3}}

	res, err := e.Infer(d, span)
	require.NoError(t, err)

	assert.False(t, res.Empty)
	assert.InDelta(t, 1.0, sum(res.Posterior), 1e-9)
	assert.LessOrEqual(t, res.State.Confidence, cfg.Thresholds.InferenceCap)
	assert.GreaterOrEqual(t, res.State.Confidence, 0.0)
	assert.True(t, res.State.State.IsWork(), "got %s", res.State.State)
	assert.Len(t, res.State.Alternatives, 2)

	kinds := map[models.EvidenceKind]bool{}
	for _, ev := range res.State.Evidence {
		kinds[ev.Kind] = true
	}
	assert.True(t, kinds[models.EvidenceProbability])
	assert.True(t, kinds[models.EvidenceContext])
}

func TestInferSeesObservationsAfterSpan(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	e := NewEngine(cfg, nil)
	span := models.Span{Start: at(10, 30), End: at(10, 40), Source: models.SourceInference, Rank: -1, Observations: []int{1}}

	posterior := func(location string) []float64 {
		d := day(t, cfg, models.RoleProduction,
			ev(at(10, 0), "Line 3"),
			ev(at(10, 30), "Line 3"),
			ev(at(10, 40), location),
			ev(at(10, 50), location),
			ev(at(11, 0), location),
		)
		res, err := e.Infer(d, span)
		require.NoError(t, err)
		return res.Posterior
	}

	assert.NotEqual(t, posterior("Lounge"), posterior("Meeting Room 3"))
}

func TestSegmentCutsWalkOutOfWork(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	e := NewEngine(cfg, nil)
	d := day(t, cfg, models.RoleOffice,
		ev(at(9, 0), "Line 1"),
		ev(at(9, 50), "Line 1"),
		ev(at(10, 0), "Corridor A"),
		ev(at(10, 2), "Lounge"),
		ev(at(10, 4), "Corridor B"),
		ev(at(10, 6), "Line 1"),
		ev(at(10, 50), "Line 1"),
	)
	span := models.Span{Start: at(9, 0), End: at(10, 55), Source: models.SourceInference, Rank: -1,
		Observations: []int{0, 1, 2, 3, 4, 5, 6}}

	pieces, err := e.Segment(d, span)
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)

	assert.Equal(t, at(9, 0), pieces[0].Start)
	assert.Equal(t, at(10, 55), pieces[len(pieces)-1].End)
	held := 0
	for i, p := range pieces {
		if i > 0 {
			assert.Equal(t, pieces[i-1].End, p.Start)
			assert.NotEqual(t, pieces[i-1].State.State, p.State.State, "equal neighbours are joined")
		}
		assert.Equal(t, models.SourceInference, p.Source)
		assert.Equal(t, -1, p.Rank)
		held += len(p.Observations)

		walk := p.Start.Before(at(10, 6)) && p.End.After(at(10, 0))
		if walk {
			assert.Contains(t, []models.ActivityState{models.StateMovement, models.StateRest}, p.State.State)
			assert.False(t, p.Start.Before(at(10, 0)), "walk piece starts at the first corridor tag")
		}
	}
	assert.Equal(t, 7, held)
	assert.True(t, pieces[0].State.State.IsWork(), "got %s", pieces[0].State.State)
}

func TestSegmentEmptySpanStaysWhole(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	e := NewEngine(cfg, nil)
	d := day(t, cfg, models.RoleProduction,
		ev(at(8, 0), "Main Entrance"),
		ev(at(20, 0), "Main Exit"),
	)
	span := models.Span{Start: at(8, 5), End: at(19, 55), Source: models.SourceInference, Rank: -1}

	pieces, err := e.Segment(d, span)
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, span.Start, pieces[0].Start)
	assert.Equal(t, span.End, pieces[0].End)
	assert.Equal(t, models.StateUnclassified, pieces[0].State.State)
}

func TestInferEmptySpanAfterGateIsUnclassified(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	e := NewEngine(cfg, nil)
	d := day(t, cfg, models.RoleProduction,
		ev(at(8, 0), "Main Entrance"),
		ev(at(20, 0), "Main Exit"),
	)
	span := models.Span{Start: at(8, 5), End: at(19, 55), Source: models.SourceInference, Rank: -1}

	res, err := e.Infer(d, span)
	require.NoError(t, err)

	assert.True(t, res.Empty)
	assert.LessOrEqual(t, res.State.Confidence, cfg.Thresholds.InferenceCap*cfg.Inference.GapFactor)
	assert.Equal(t, models.StateUnclassified, res.State.State)
	require.Len(t, res.State.Alternatives, 3)
	assert.True(t, res.State.Alternatives[0].State.IsWork(), "got %s", res.State.Alternatives[0].State)
}

func TestInferBelowViabilityKeepsThreeAlternatives(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	cfg.Thresholds.InferenceCap = 0.2
	e := NewEngine(cfg, nil)
	d := day(t, cfg, models.RoleUnknown,
		ev(at(9, 0), "Line 3"),
		ev(at(9, 30), "Line 3"),
	)
	res, err := e.Infer(d, models.Span{Start: at(9, 0), End: at(9, 35), Observations: []int{0, 1}})
	require.NoError(t, err)

	assert.Equal(t, models.StateUnclassified, res.State.State)
	assert.LessOrEqual(t, res.State.Confidence, 0.2)
	assert.Len(t, res.State.Alternatives, 3)
	for _, alt := range res.State.Alternatives {
		assert.True(t, alt.State.Valid())
	}
}

func TestInferWithoutPrecedingObservationUsesInitial(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	e := NewEngine(cfg, nil)
	d := day(t, cfg, models.RoleProduction, ev(at(12, 0), "Line 3"))

	res, err := e.Infer(d, models.Span{Start: at(6, 0), End: at(7, 0)})
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Contains(t, res.State.Evidence[1].Description, "initial distribution")
}

func TestInferRejectsInvalidModel(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	e := NewEngine(cfg, nil)
	d := day(t, cfg, models.RoleProduction, ev(at(9, 0), "Line 3"))
	d.Params = &hmm.Params{}

	_, err := e.Infer(d, models.Span{Start: at(9, 0), End: at(9, 5), Observations: []int{0}})
	assert.ErrorIs(t, err, hmm.ErrInvalidModel)
}
