package hmm

import (
	"time"

	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/timenorm"
)

// Domain-knowledge transition weights used before any training has happened.
const (
	selfTransition = 0.3
	baseTransition = 0.01
)

// successors weighs the likely next states of each state. Rows are normalised after the base and
// self weights are added.
var successors = map[models.ActivityState]map[models.ActivityState]float64{
	models.StateCommuteIn: {
		models.StateWork: 0.4, models.StateMovement: 0.3, models.StateBreakfast: 0.2, models.StateWorkPreparation: 0.2,
	},
	models.StateWorkPreparation: {
		models.StateWork: 0.5, models.StateWorkConfirmed: 0.2, models.StateMovement: 0.2,
	},
	models.StateWork: {
		models.StateFocusedWork: 0.3, models.StateMeeting: 0.2, models.StateRest: 0.1, models.StateMovement: 0.2,
	},
	models.StateWorkConfirmed: {
		models.StateEquipmentOperation: 0.3, models.StateWork: 0.3, models.StateMovement: 0.2,
	},
	models.StateFocusedWork: {
		models.StateWork: 0.4, models.StateMovement: 0.2, models.StateRest: 0.1,
	},
	models.StateEquipmentOperation: {
		models.StateWorkConfirmed: 0.4, models.StateWork: 0.2, models.StateMovement: 0.2,
	},
	models.StateMeeting: {
		models.StateWork: 0.4, models.StateMovement: 0.3,
	},
	models.StateEducation: {
		models.StateWork: 0.3, models.StateMovement: 0.3, models.StateMeeting: 0.1,
	},
	models.StateBreakfast: {
		models.StateWork: 0.5, models.StateMovement: 0.3,
	},
	models.StateLunch: {
		models.StateWork: 0.6, models.StateRest: 0.2,
	},
	models.StateDinner: {
		models.StateWork: 0.4, models.StateCommuteOut: 0.3,
	},
	models.StateMidnightMeal: {
		models.StateWork: 0.5, models.StateCommuteOut: 0.2,
	},
	models.StateMovement: {
		models.StateWork: 0.2, models.StateBreakfast: 0.1, models.StateLunch: 0.1,
		models.StateDinner: 0.1, models.StateMidnightMeal: 0.1, models.StateCommuteOut: 0.1,
	},
	models.StateRest: {
		models.StateWork: 0.5, models.StateMovement: 0.2,
	},
	models.StateCommuteOut: {
		models.StateCommuteIn: 0.3, models.StateLeave: 0.1, models.StateBusinessTrip: 0.1,
	},
	models.StateLeave: {
		models.StateCommuteIn: 0.3,
	},
	models.StateBusinessTrip: {
		models.StateCommuteIn: 0.3,
	},
}

// DefaultParams builds the domain-knowledge model used when no trained snapshot exists.
func DefaultParams() *Params {
	n := models.NumStates
	p := &Params{
		Initial:    make([]float64, n),
		Transition: make([][]float64, n),
	}

	rest := 0.4 / float64(n-3)
	for i := range p.Initial {
		switch models.StateAt(i) {
		case models.StateCommuteIn:
			p.Initial[i] = 0.3
		case models.StateWork:
			p.Initial[i] = 0.2
		case models.StateMovement:
			p.Initial[i] = 0.1
		default:
			p.Initial[i] = rest
		}
	}

	for i := 0; i < n; i++ {
		from := models.StateAt(i)
		row := make([]float64, n)
		for j := range row {
			row[j] = baseTransition
		}
		row[i] = selfTransition
		for to, w := range successors[from] {
			row[to.Index()] = w
		}
		normalize(row)
		p.Transition[i] = row
	}

	for f := 0; f < NumFeatures; f++ {
		p.Emission[f] = make([][]float64, n)
		for s := 0; s < n; s++ {
			p.Emission[f][s] = distribution(Cardinalities[f], emissionPrefs(f, models.StateAt(s)))
		}
	}
	return p
}

// DefaultSnapshot wraps DefaultParams with metadata.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		Params: DefaultParams(),
		Meta: models.ModelSnapshotMeta{
			ID:        "default",
			CreatedAt: time.Unix(0, 0).UTC(),
			Source:    "default",
			Converged: true,
			Active:    true,
		},
	}
}

var locationPrefs = map[models.ActivityState]map[models.LocationCategory]float64{
	models.StateWork:               {models.CategoryWorkArea: 0.6},
	models.StateWorkConfirmed:      {models.CategoryEquipment: 0.5, models.CategoryWorkArea: 0.3},
	models.StateFocusedWork:        {models.CategoryWorkArea: 0.7},
	models.StateEquipmentOperation: {models.CategoryEquipment: 0.7},
	models.StateWorkPreparation:    {models.CategoryPreparation: 0.7},
	models.StateMeeting:            {models.CategoryMeetingRoom: 0.7},
	models.StateEducation:          {models.CategoryEducation: 0.7},
	models.StateBreakfast:          {models.CategoryCafeteria: 0.8},
	models.StateLunch:              {models.CategoryCafeteria: 0.8},
	models.StateDinner:             {models.CategoryCafeteria: 0.8},
	models.StateMidnightMeal:       {models.CategoryCafeteria: 0.8},
	models.StateMovement:           {models.CategoryCorridor: 0.6},
	models.StateCommuteIn:          {models.CategoryGate: 0.8},
	models.StateCommuteOut:         {models.CategoryGate: 0.8},
	models.StateRest:               {models.CategoryRestArea: 0.7},
	models.StateLeave:              {models.CategoryAttendance: 0.8},
	models.StateBusinessTrip:       {models.CategoryAttendance: 0.8},
}

// emissionPrefs returns extra probability mass per feature value; the remainder is spread evenly.
func emissionPrefs(feature int, s models.ActivityState) map[int]float64 {
	switch feature {
	case FeatureLocation:
		out := make(map[int]float64)
		for c, w := range locationPrefs[s] {
			out[CategoryIndex(c)] = w
		}
		return out

	case FeatureInterval:
		switch {
		case s == models.StateMovement, s.IsCommute():
			return map[int]float64{IntervalShort: 0.5}
		case s.IsMeal(), s == models.StateRest:
			return map[int]float64{IntervalMedium: 0.5}
		case s.IsWork(), s == models.StateMeeting, s == models.StateEducation:
			return map[int]float64{IntervalLong: 0.4}
		case s == models.StateLeave, s == models.StateBusinessTrip:
			return map[int]float64{IntervalNone: 0.7}
		}

	case FeaturePeriod:
		switch s {
		case models.StateBreakfast:
			return map[int]float64{int(timenorm.PeriodEarlyMorning): 0.7}
		case models.StateLunch:
			return map[int]float64{int(timenorm.PeriodMorning): 0.3, int(timenorm.PeriodAfternoon): 0.4}
		case models.StateDinner:
			return map[int]float64{int(timenorm.PeriodEvening): 0.7}
		case models.StateMidnightMeal:
			return map[int]float64{int(timenorm.PeriodNight): 0.8}
		case models.StateCommuteIn:
			return map[int]float64{int(timenorm.PeriodEarlyMorning): 0.4, int(timenorm.PeriodEvening): 0.3}
		case models.StateCommuteOut:
			return map[int]float64{int(timenorm.PeriodEvening): 0.4, int(timenorm.PeriodEarlyMorning): 0.3}
		}

	case FeatureWorkArea:
		if s.IsWork() {
			return map[int]float64{1: 0.6}
		}
		return map[int]float64{0: 0.6}

	case FeatureBehavior:
		switch {
		case s == models.StateWorkConfirmed, s == models.StateEquipmentOperation:
			return map[int]float64{1: 0.7}
		case s.IsMeal():
			return map[int]float64{1: 0.4}
		}
		return map[int]float64{0: 0.8}

	case FeatureAttendance:
		switch s {
		case models.StateLeave:
			return map[int]float64{AttendanceLeave: 0.9}
		case models.StateBusinessTrip:
			return map[int]float64{AttendanceTrip: 0.9}
		}
		return map[int]float64{AttendanceNone: 0.9}

	case FeatureExcluded:
		if s == models.StateRest {
			return map[int]float64{1: 0.3}
		}
		return map[int]float64{0: 0.9}

	case FeatureCafeteria:
		if s.IsMeal() {
			return map[int]float64{1: 0.8}
		}
		return map[int]float64{0: 0.9}

	case FeatureShift:
		if s == models.StateMidnightMeal {
			return map[int]float64{1: 0.6}
		}
	}
	return nil
}

// distribution spreads 1 - sum(prefs) evenly over n values and adds prefs on top.
func distribution(n int, prefs map[int]float64) []float64 {
	extra := 0.0
	for _, w := range prefs {
		extra += w
	}
	row := make([]float64, n)
	for v := range row {
		row[v] = (1 - extra) / float64(n)
	}
	for v, w := range prefs {
		row[v] += w
	}
	return row
}

func normalize(row []float64) {
	sum := 0.0
	for _, v := range row {
		sum += v
	}
	if sum == 0 {
		return
	}
	for i := range row {
		row[i] /= sum
	}
}
