package hybrid

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/hmm"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.May, day, hour, minute, 0, 0, time.UTC)
}

func tag(ts time.Time, location string, code models.TagCode) models.TagEvent {
	return models.TagEvent{WorkerID: "w1", Timestamp: ts, Location: location, TagCode: code}
}

func dayWorker() models.WorkerContext {
	return models.WorkerContext{WorkerID: "w1", Role: models.RoleProduction, Shift: models.ShiftDay}
}

func classify(t *testing.T, cfg *config.ClassifierConfig, worker models.WorkerContext, events ...models.TagEvent) models.DayResult {
	t.Helper()
	c, err := NewClassifier(cfg, nil)
	require.NoError(t, err)
	res, err := c.Classify(Input{Worker: worker, Events: events}, nil)
	require.NoError(t, err)
	return res
}

func requireContiguous(t *testing.T, segs []models.Segment) {
	t.Helper()
	require.NotEmpty(t, segs)
	for i, s := range segs {
		require.True(t, s.End.After(s.Start), "segment %d has no duration", i)
		if i > 0 {
			require.True(t, segs[i-1].End.Equal(s.Start), "segments %d and %d are not contiguous", i-1, i)
		}
	}
}

func findSegment(segs []models.Segment, start, end time.Time) (models.Segment, bool) {
	for _, s := range segs {
		if s.Start.Equal(start) && s.End.Equal(end) {
			return s, true
		}
	}
	return models.Segment{}, false
}

func describe(segs []models.Segment) []string {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		out = append(out, fmt.Sprintf("%s-%s %s", s.Start.Format("15:04"), s.End.Format("15:04"), s.State.State))
	}
	return out
}

func swc(t *testing.T, s models.ActivityState, conf float64) models.StateWithConfidence {
	t.Helper()
	out, err := models.NewStateWithConfidence(s, conf, models.NewEvidence(models.EvidenceRule, "test", conf))
	require.NoError(t, err)
	return out
}

func TestSparseDayEntranceAndExit(t *testing.T) {
	res := classify(t, config.DefaultClassifierConfig(), dayWorker(),
		tag(at(6, 8, 0), "Main Entrance", ""),
		tag(at(6, 20, 0), "Main Exit", ""),
	)

	assert.Equal(t, models.DayStatusOK, res.Status)
	segs := res.Timeline.Segments
	requireContiguous(t, segs)
	require.Len(t, segs, 3, describe(segs))

	assert.Equal(t, models.StateCommuteIn, segs[0].State.State)
	assert.Equal(t, at(6, 8, 0), segs[0].Start)
	assert.Equal(t, at(6, 8, 5), segs[0].End)

	mid := segs[1]
	assert.Equal(t, at(6, 8, 5), mid.Start)
	assert.Equal(t, at(6, 19, 55), mid.End)
	assert.Equal(t, models.StateUnclassified, mid.State.State)
	assert.Less(t, mid.State.Confidence, 0.5)
	assert.NotEmpty(t, mid.State.Alternatives)

	assert.Equal(t, models.StateCommuteOut, segs[2].State.State)
	assert.Equal(t, at(6, 19, 55), segs[2].Start)
	assert.Equal(t, at(6, 20, 0), segs[2].End)

	assert.True(t, res.HasFlag(models.FlagSparse))
	assert.False(t, res.HasFlag(models.FlagLowConfidenceShift))
	assert.InDelta(t, 720, res.Summary.TotalMinutes, 1e-9)
	assert.InDelta(t, 710, res.Summary.UnclassifiedMinutes, 1e-9)
	assert.InDelta(t, 5, res.Summary.Minutes[models.StateCommuteIn], 1e-9)
	assert.InDelta(t, 5, res.Summary.Minutes[models.StateCommuteOut], 1e-9)
	assert.Len(t, res.Summary.Minutes, models.NumStates)
	assert.InDelta(t, 0.16, res.Summary.QualityScore, 1e-9)

	est := res.Summary.Estimation
	assert.Equal(t, models.RoleProduction, est.Role)
	assert.InDelta(t, 0.7344, est.Rate, 1e-9)
	assert.InDelta(t, 0.02, est.Variance, 1e-12)
	assert.InDelta(t, 0.7344-1.96*math.Sqrt(0.02), est.Low, 1e-9)
	assert.InDelta(t, 1.0, est.High, 1e-9)
	assert.Zero(t, res.Summary.WorkMinutes)
}

func TestSummaryBoundsWorkMinutes(t *testing.T) {
	segs := []models.Segment{
		{Start: at(6, 8, 0), End: at(6, 8, 5), State: swc(t, models.StateCommuteIn, 1)},
		{Start: at(6, 8, 5), End: at(6, 10, 5), State: swc(t, models.StateWork, 0.8)},
		{Start: at(6, 10, 5), End: at(6, 11, 5), State: swc(t, models.StateMeeting, 0.9)},
		{Start: at(6, 11, 5), End: at(6, 11, 35), State: swc(t, models.StateRest, 0.7)},
	}
	est := models.Estimation{Role: models.RoleProduction, Rate: 0.8, Low: 0.6, High: 0.9}
	sum := summarize(segs, 0.5, est)

	assert.InDelta(t, 180, sum.WorkMinutes, 1e-9)
	assert.InDelta(t, 108, sum.WorkMinutesLow, 1e-9)
	assert.InDelta(t, 162, sum.WorkMinutesHigh, 1e-9)
	assert.InDelta(t, 215, sum.TotalMinutes, 1e-9)
	assert.Equal(t, est, sum.Estimation)
}

func TestLunchIsFinalizedByRule(t *testing.T) {
	res := classify(t, config.DefaultClassifierConfig(), dayWorker(),
		tag(at(6, 8, 0), "Main Entrance", ""),
		tag(at(6, 9, 0), "Line 1", ""),
		tag(at(6, 12, 0), "Cafeteria", models.TagMeal),
		tag(at(6, 12, 35), "Line 1", ""),
		tag(at(6, 20, 0), "Main Exit", ""),
	)

	segs := res.Timeline.Segments
	requireContiguous(t, segs)
	lunch, ok := findSegment(segs, at(6, 12, 0), at(6, 12, 35))
	require.True(t, ok, describe(segs))
	assert.Equal(t, models.StateLunch, lunch.State.State)
	assert.GreaterOrEqual(t, lunch.State.Confidence, 0.95)
	assert.Equal(t, models.SourceRule, lunch.Source)
	assert.InDelta(t, 35, res.Summary.Minutes[models.StateLunch], 1e-9)
}

func TestNightShiftTakeoutWinsOverWorkTag(t *testing.T) {
	worker := models.WorkerContext{WorkerID: "w1", Role: models.RoleProduction, Shift: models.ShiftNight}
	res := classify(t, config.DefaultClassifierConfig(), worker,
		tag(at(6, 20, 0), "Main Entrance", ""),
		tag(at(6, 21, 0), "Line 3", ""),
		tag(at(6, 23, 40), "Cafeteria", models.TagTakeout),
		tag(at(6, 23, 50), "Line 3", ""),
		tag(at(7, 1, 0), "Line 3", ""),
		tag(at(7, 8, 0), "Main Exit", ""),
	)

	assert.Equal(t, models.DayStatusOK, res.Status)
	assert.Equal(t, time.Date(2024, time.May, 6, 0, 0, 0, 0, time.UTC), res.WorkDate)
	assert.Empty(t, res.Dropped)

	segs := res.Timeline.Segments
	requireContiguous(t, segs)
	meal, ok := findSegment(segs, at(6, 23, 40), at(7, 0, 10))
	require.True(t, ok, describe(segs))
	assert.Equal(t, models.StateMidnightMeal, meal.State.State)
	assert.GreaterOrEqual(t, meal.State.Confidence, 0.95)

	assert.Equal(t, models.StateCommuteIn, segs[0].State.State)
	assert.Equal(t, models.StateCommuteOut, segs[len(segs)-1].State.State)
	assert.Equal(t, at(7, 8, 0), segs[len(segs)-1].End)
}

func TestNoEventsIsNoData(t *testing.T) {
	c, err := NewClassifier(config.DefaultClassifierConfig(), nil)
	require.NoError(t, err)
	res, err := c.Classify(Input{Worker: dayWorker(), WorkDate: at(6, 0, 0)}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.DayStatusNoData, res.Status)
	assert.True(t, res.HasFlag(models.FlagNoData))
	assert.Empty(t, res.Timeline.Segments)
	assert.Equal(t, at(6, 0, 0), res.WorkDate)
	assert.Zero(t, res.Summary.TotalMinutes)
}

func TestGateTagAlwaysEndsInCommute(t *testing.T) {
	res := classify(t, config.DefaultClassifierConfig(), dayWorker(),
		tag(at(6, 8, 0), "Main Entrance", ""),
		tag(at(6, 9, 0), "Line 1", ""),
		tag(at(6, 13, 0), "Gate 3", ""),
		tag(at(6, 13, 30), "Line 1", ""),
		tag(at(6, 20, 0), "Main Exit", ""),
	)

	segs := res.Timeline.Segments
	requireContiguous(t, segs)
	gate := at(6, 13, 0)
	found := false
	for _, s := range segs {
		if s.State.State.IsCommute() && !s.Start.After(gate) && !s.End.Before(gate) {
			found = true
		}
	}
	assert.True(t, found, describe(segs))
}

func TestRulesOnlyWhenHybridDisabled(t *testing.T) {
	for name, features := range map[string]config.Features{
		"disabled":     {HybridEnabled: false},
		"not in pilot": {HybridEnabled: true, PilotWorkers: []string{"w9"}},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := config.DefaultClassifierConfig()
			cfg.Features = features
			res := classify(t, cfg, dayWorker(),
				tag(at(6, 8, 0), "Main Entrance", ""),
				tag(at(6, 20, 0), "Main Exit", ""),
			)

			assert.True(t, res.HasFlag(models.FlagRulesOnly))
			require.Len(t, res.Timeline.Segments, 3)
			mid := res.Timeline.Segments[1]
			assert.Equal(t, models.StateUnclassified, mid.State.State)
			assert.Zero(t, mid.State.Confidence)
			assert.Contains(t, mid.State.Evidence[0].Description, "disabled")
		})
	}
}

func TestDroppedAndAnomalousEventsAreFlagged(t *testing.T) {
	stray := tag(at(6, 10, 0), "Line 1", "")
	stray.WorkerID = "w2"
	res := classify(t, config.DefaultClassifierConfig(), dayWorker(),
		tag(at(6, 8, 0), "Main Entrance", ""),
		stray,
		tag(at(6, 11, 0), "Line 1", ""),
		tag(at(6, 11, 0), "Line 2", ""),
		tag(at(6, 20, 0), "Main Exit", ""),
	)

	assert.True(t, res.HasFlag(models.FlagDroppedEvents))
	assert.True(t, res.HasFlag(models.FlagAnomalies))
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "w2", res.Dropped[0].Event.WorkerID)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, "Line 1", res.Anomalies[0].Event.Location)
	requireContiguous(t, res.Timeline.Segments)
}

func TestMissingShiftFallsBackToDay(t *testing.T) {
	worker := dayWorker()
	worker.Shift = ""
	res := classify(t, config.DefaultClassifierConfig(), worker,
		tag(at(6, 8, 0), "Main Entrance", ""),
		tag(at(6, 20, 0), "Main Exit", ""),
	)
	assert.True(t, res.HasFlag(models.FlagLowConfidenceShift))
	assert.Equal(t, models.StateCommuteIn, res.Timeline.Segments[0].State.State)
}

func TestInvalidModelIsSystemic(t *testing.T) {
	c, err := NewClassifier(config.DefaultClassifierConfig(), nil)
	require.NoError(t, err)
	_, err = c.Classify(Input{Worker: dayWorker(), Events: []models.TagEvent{tag(at(6, 8, 0), "Main Entrance", "")}}, &hmm.Params{})
	require.ErrorIs(t, err, hmm.ErrInvalidModel)
	assert.True(t, IsSystemic(err))
}

func TestNewClassifierRejectsEmptyRuleTable(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	for i := range cfg.Rules {
		cfg.Rules[i].Active = false
	}
	_, err := NewClassifier(cfg, nil)
	assert.True(t, IsSystemic(err))
}

func TestMergePaintsByRank(t *testing.T) {
	work := models.Span{Start: at(6, 8, 0), End: at(6, 12, 0), State: swc(t, models.StateWork, 0.8), Source: models.SourceInference, Rank: -1}
	lunch := models.Span{Start: at(6, 10, 0), End: at(6, 11, 0), State: swc(t, models.StateLunch, 1), Source: models.SourceRule, Rank: 90}
	segs := Merge([]models.Span{lunch, work})

	want := []string{"08:00-10:00 WORK", "10:00-11:00 LUNCH", "11:00-12:00 WORK"}
	if diff := cmp.Diff(want, describe(segs)); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
	last := segs[0].State.Evidence[len(segs[0].State.Evidence)-1]
	assert.Equal(t, "boundary trimmed by higher-priority LUNCH span", last.Description)
	assert.Len(t, segs[1].State.Evidence, 1)
}

func TestMergeEqualRankEarlierStartWins(t *testing.T) {
	a := models.Span{Start: at(6, 8, 0), End: at(6, 10, 0), State: swc(t, models.StateMeeting, 0.9), Rank: 5}
	b := models.Span{Start: at(6, 9, 0), End: at(6, 11, 0), State: swc(t, models.StateRest, 0.9), Rank: 5}
	segs := Merge([]models.Span{b, a})

	want := []string{"08:00-10:00 MEETING", "10:00-11:00 REST"}
	if diff := cmp.Diff(want, describe(segs)); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      []models.Segment
		want    []string
		repairs int
	}{
		{
			name: "gap extends lower confidence neighbour",
			in: []models.Segment{
				{Start: at(6, 8, 0), End: at(6, 9, 0), State: swc(t, models.StateWork, 0.9)},
				{Start: at(6, 9, 30), End: at(6, 10, 0), State: swc(t, models.StateRest, 0.5)},
			},
			want:    []string{"08:00-09:00 WORK", "09:00-10:00 REST"},
			repairs: 1,
		},
		{
			name: "overlap trims lower confidence neighbour",
			in: []models.Segment{
				{Start: at(6, 9, 0), End: at(6, 10, 0), State: swc(t, models.StateMeeting, 0.9)},
				{Start: at(6, 8, 0), End: at(6, 9, 30), State: swc(t, models.StateWork, 0.5)},
			},
			want:    []string{"08:00-09:00 WORK", "09:00-10:00 MEETING"},
			repairs: 1,
		},
		{
			name: "zero length dropped",
			in: []models.Segment{
				{Start: at(6, 8, 0), End: at(6, 9, 0), State: swc(t, models.StateWork, 0.9)},
				{Start: at(6, 9, 0), End: at(6, 9, 0), State: swc(t, models.StateRest, 0.9)},
				{Start: at(6, 9, 0), End: at(6, 10, 0), State: swc(t, models.StateWork, 0.9)},
			},
			want: []string{"08:00-09:00 WORK", "09:00-10:00 WORK"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, repairs, err := Validate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.repairs, repairs)
			if diff := cmp.Diff(tt.want, describe(got)); diff != "" {
				t.Errorf("validate mismatch (-want +got):\n%s", diff)
			}
			for _, s := range got {
				if s.State.HasWarning() {
					assert.Positive(t, repairs)
				}
			}
		})
	}
}

func TestValidateCorrupt(t *testing.T) {
	_, _, err := Validate([]models.Segment{
		{Start: at(6, 10, 0), End: at(6, 9, 0), State: swc(t, models.StateWork, 0.9)},
	})
	require.ErrorIs(t, err, ErrTimelineCorrupt)

	_, _, err = Validate([]models.Segment{
		{Start: at(6, 8, 0), End: at(6, 12, 0), State: swc(t, models.StateWork, 0.9)},
		{Start: at(6, 9, 0), End: at(6, 10, 0), State: swc(t, models.StateRest, 0.5)},
	})
	require.ErrorIs(t, err, ErrTimelineCorrupt)
}

func TestUnresolvedCutsAroundGaps(t *testing.T) {
	cfg := config.DefaultClassifierConfig()
	c, err := NewClassifier(cfg, nil)
	require.NoError(t, err)
	pre := c.preprocess.Process("w1", models.ShiftDay, time.Time{}, []models.TagEvent{
		tag(at(6, 9, 0), "Line 1", ""),
		tag(at(6, 13, 0), "Line 2", ""),
	})
	res := c.rules.Resolve(pre.Observations, models.ShiftDay)
	spans := Unresolved(cfg, pre.Observations, res)

	got := make([]string, 0, len(spans))
	for _, sp := range spans {
		got = append(got, fmt.Sprintf("%s-%s %v", sp.Start.Format("15:04"), sp.End.Format("15:04"), sp.Observations))
	}
	want := []string{"09:00-09:10 [0]", "09:10-13:00 []", "13:00-13:05 [1]"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unresolved mismatch (-want +got):\n%s", diff)
	}
}

func TestGateSharingTimestampStillCommutes(t *testing.T) {
	res := classify(t, config.DefaultClassifierConfig(), dayWorker(),
		tag(at(6, 8, 0), "Main Entrance", ""),
		tag(at(6, 8, 0), "Line 1", ""),
		tag(at(6, 12, 0), "Line 1", ""),
		tag(at(6, 20, 0), "Main Exit", ""),
	)

	require.Len(t, res.Anomalies, 1)
	segs := res.Timeline.Segments
	requireContiguous(t, segs)
	assert.Equal(t, models.StateCommuteIn, segs[0].State.State, describe(segs))
	assert.Equal(t, at(6, 8, 0), segs[0].Start)
	assert.Equal(t, models.StateCommuteOut, segs[len(segs)-1].State.State)
	assert.Positive(t, res.Summary.Minutes[models.StateCommuteIn])
}

func TestWalkBetweenDesksIsNotWork(t *testing.T) {
	worker := models.WorkerContext{WorkerID: "w1", Role: models.RoleOffice, Shift: models.ShiftDay}
	res := classify(t, config.DefaultClassifierConfig(), worker,
		tag(at(6, 8, 0), "Main Entrance", ""),
		tag(at(6, 8, 10), "Office 2F", ""),
		tag(at(6, 9, 30), "Office 2F", ""),
		tag(at(6, 10, 0), "Corridor A", ""),
		tag(at(6, 10, 2), "Lounge", ""),
		tag(at(6, 10, 4), "Corridor B", ""),
		tag(at(6, 10, 6), "Office 2F", ""),
		tag(at(6, 12, 30), "Office 2F", ""),
		tag(at(6, 15, 20), "Office 2F", ""),
		tag(at(6, 17, 0), "Office 2F", ""),
		tag(at(6, 18, 0), "Main Exit", ""),
	)

	segs := res.Timeline.Segments
	requireContiguous(t, segs)
	assert.Greater(t, len(segs), 3, describe(segs))

	walked := false
	for _, s := range segs {
		if s.Start.Before(at(6, 10, 6)) && s.End.After(at(6, 10, 0)) {
			assert.False(t, s.State.State.IsWork(), describe(segs))
			if s.State.State == models.StateMovement || s.State.State == models.StateRest {
				walked = true
			}
		}
		assert.False(t, s.State.State.IsWork() && s.Start.Before(at(6, 10, 0)) && s.End.After(at(6, 10, 6)),
			"one work segment swallows the walk: %v", describe(segs))
	}
	assert.True(t, walked, describe(segs))
	assert.Positive(t, res.Summary.Minutes[models.StateMovement]+res.Summary.Minutes[models.StateRest])
}
