package foundation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

func ts(day, hour, minute, second int) time.Time {
	return time.Date(2024, time.May, day, hour, minute, second, 0, time.UTC)
}

func ev(at time.Time, location string) models.TagEvent {
	return models.TagEvent{WorkerID: "w1", Timestamp: at, Location: location}
}

func newPreprocessor() *Preprocessor {
	return NewPreprocessor(config.DefaultClassifierConfig(), nil)
}

func TestProcessSortsAndCollapsesDuplicates(t *testing.T) {
	p := newPreprocessor()
	res := p.Process("w1", models.ShiftDay, ts(6, 0, 0, 0), []models.TagEvent{
		ev(ts(6, 9, 10, 0), "Meeting Room 2"),
		ev(ts(6, 9, 0, 20), "Line 3"),
		ev(ts(6, 9, 0, 0), "Line 3"),
		ev(ts(6, 9, 0, 45), "Line 3"),
	})

	require.Len(t, res.Observations, 3)
	assert.Equal(t, 1, res.Collapsed)
	assert.Equal(t, ts(6, 9, 0, 0), res.Observations[0].Time())
	assert.Equal(t, ts(6, 9, 0, 45), res.Observations[1].Time())
	assert.Equal(t, models.TagMeetingRoom, res.Observations[2].Code)
	assert.Equal(t, models.CategoryWorkArea, res.Observations[0].Category)
}

func TestProcessKeepsDifferentLocationsInsideWindow(t *testing.T) {
	p := newPreprocessor()
	res := p.Process("w1", models.ShiftDay, time.Time{}, []models.TagEvent{
		ev(ts(6, 9, 0, 0), "Line 3"),
		ev(ts(6, 9, 0, 10), "Corridor A"),
	})
	require.Len(t, res.Observations, 2)
	assert.Equal(t, ts(6, 0, 0, 0), res.WorkDate)
	assert.Equal(t, 10*time.Second, res.Observations[0].Dwell)
}

func TestProcessFlagsLongGapsAndAnomalies(t *testing.T) {
	p := newPreprocessor()
	res := p.Process("w1", models.ShiftDay, ts(6, 0, 0, 0), []models.TagEvent{
		ev(ts(6, 8, 0, 0), "Line 3"),
		ev(ts(6, 11, 30, 0), "Corridor A"),
		ev(ts(6, 12, 0, 0), "Meeting Room 1"),
		ev(ts(6, 12, 0, 0), "Line 3"),
	})

	require.Len(t, res.Observations, 4)
	assert.True(t, res.Observations[0].GapAfter, "3h30m gap must be flagged")
	assert.False(t, res.Observations[1].GapAfter)
	assert.True(t, res.Observations[2].Anomaly)
	assert.Equal(t, ReasonZeroDwell, res.Observations[2].AnomalyReason)
	assert.False(t, res.Observations[3].HasNext)
	assert.Equal(t, []int{0, 1, 3}, res.Valid())
	assert.Len(t, res.Anomalies(), 1)
}

func TestProcessDropsMalformedEvents(t *testing.T) {
	p := newPreprocessor()
	res := p.Process("w1", models.ShiftDay, ts(6, 0, 0, 0), []models.TagEvent{
		{WorkerID: "", Timestamp: ts(6, 9, 0, 0), Location: "Line 3"},
		{WorkerID: "w1", Location: "Line 3"},
		{WorkerID: "w2", Timestamp: ts(6, 9, 0, 0), Location: "Line 3"},
		ev(ts(6, 9, 5, 0), "Line 3"),
	})

	require.Len(t, res.Observations, 1)
	require.Len(t, res.Dropped, 3)
	assert.Equal(t, ReasonMissingWorker, res.Dropped[0].Reason)
	assert.Equal(t, ReasonMissingTime, res.Dropped[1].Reason)
	assert.Equal(t, ReasonWorkerMismatch, res.Dropped[2].Reason)
}

func TestProcessNightShiftSpansMidnight(t *testing.T) {
	p := newPreprocessor()
	res := p.Process("w1", models.ShiftNight, ts(6, 0, 0, 0), []models.TagEvent{
		ev(ts(6, 20, 0, 0), "Main Entrance"),
		ev(ts(7, 2, 0, 0), "Line 3"),
		ev(ts(7, 8, 30, 0), "Main Exit"),
		ev(ts(7, 20, 0, 0), "Main Entrance"),
	})

	require.Len(t, res.Observations, 3)
	for _, o := range res.Observations {
		assert.Equal(t, ts(6, 0, 0, 0), o.WorkDate)
	}
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, ReasonOutsideWorkDate, res.Dropped[0].Reason)
	assert.False(t, res.LowConfidenceShift)
}

func TestProcessInvalidShiftFallsBackToDay(t *testing.T) {
	p := newPreprocessor()
	res := p.Process("w1", "", time.Time{}, []models.TagEvent{ev(ts(7, 2, 0, 0), "Line 3")})
	assert.True(t, res.LowConfidenceShift)
	assert.Equal(t, models.ShiftDay, res.Shift)
	assert.Equal(t, ts(7, 0, 0, 0), res.WorkDate)
}

func TestClassifyPrefersExplicitCode(t *testing.T) {
	p := newPreprocessor()

	code, cat := p.Classify(models.TagEvent{Location: "Cafeteria B1", TagCode: models.TagTakeout})
	assert.Equal(t, models.TagTakeout, code)
	assert.Equal(t, models.CategoryCafeteria, cat)

	code, cat = p.Classify(models.TagEvent{Location: "T3"})
	assert.Equal(t, models.TagGateOut, code)
	assert.Equal(t, models.CategoryGate, cat)

	code, cat = p.Classify(models.TagEvent{Location: "Roof"})
	assert.Equal(t, models.TagUnknown, code)
	assert.Equal(t, models.CategoryOther, cat)
}
