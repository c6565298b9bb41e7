package rules

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/models"
)

// SweepRuleID identifies spans created by the consistency sweep.
const SweepRuleID = "consistency_sweep"

// Override is one correction made by the sweep.
type Override struct {
	Observation int
	Previous    models.ActivityState
	State       models.ActivityState
}

// Sweep runs once after every other stage. Gate tags map to commute by code, so any gate
// observation that did not end up in a commute span gets a commute span of gate rank, which
// wins every overlap during merge. Gate observations flagged as anomalies are re-asserted too,
// since no other stage resolves them. Each override carries a warning Evidence entry.
func (e *Engine) Sweep(spans []models.Span, obs []models.Observation, shift models.ShiftType) ([]models.Span, []Override) {
	holders := make(map[int][]int)
	for si, sp := range spans {
		for _, idx := range sp.Observations {
			holders[idx] = append(holders[idx], si)
		}
	}

	first, last := -1, -1
	for i, o := range obs {
		if o.Anomaly && !isGate(o) {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}

	out := spans
	var overrides []Override
	for i, o := range obs {
		if !isGate(o) {
			continue
		}
		previous := models.ActivityState("")
		commute := false
		for _, si := range holders[i] {
			if spans[si].State.State.IsCommute() {
				commute = true
				break
			}
			previous = spans[si].State.State
		}
		if commute {
			continue
		}

		state := e.gateDirection(o, i == first, i == last, shift)
		start, end := CommuteInterval(e.cfg, state, o.Time())
		conf := e.cfg.Thresholds.Certain
		was := string(previous)
		if was == "" {
			was = "unresolved"
		}
		swc, _ := models.NewStateWithConfidence(state, conf, models.Warning(models.EvidenceRule,
			fmt.Sprintf("consistency sweep: gate tag %s at %s forced to %s, was %s",
				o.Event.Location, o.Time().Format("15:04"), state, was), conf))
		out = append(out, models.Span{
			Start:        start,
			End:          end,
			State:        swc,
			Source:       models.SourceRule,
			RuleID:       SweepRuleID,
			Rank:         GateRank,
			Finalized:    true,
			Observations: []int{i},
		})
		overrides = append(overrides, Override{Observation: i, Previous: previous, State: state})
		e.logger.Warn("gate tag re-asserted",
			zap.String("worker_id", o.Event.WorkerID),
			zap.Time("ts", o.Time()),
			zap.String("previous", was),
			zap.String("state", string(state)))
	}
	return out, overrides
}

func (e *Engine) gateDirection(o models.Observation, isFirst, isLast bool, shift models.ShiftType) models.ActivityState {
	switch o.Code {
	case models.TagGateIn:
		return models.StateCommuteIn
	case models.TagGateOut:
		return models.StateCommuteOut
	}
	sw := e.cfg.Shifts.For(shift)
	clock := models.ClockOf(o.Time())
	switch {
	case sw.Entry.ContainsClock(clock):
		return models.StateCommuteIn
	case sw.Exit.ContainsClock(clock):
		return models.StateCommuteOut
	case isFirst && !isLast:
		return models.StateCommuteIn
	}
	return models.StateCommuteOut
}

func isGate(o models.Observation) bool {
	return o.Code.IsGate() || o.Category == models.CategoryGate
}
