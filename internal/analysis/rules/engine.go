// Package rules resolves events that map to a state with certainty, ahead of any inference.
package rules

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/models"
)

// ErrEmptyRuleTable is fatal to a run: without rules nothing can be finalized.
var ErrEmptyRuleTable = errors.New("rule table has no active rules")

// GateRank outranks every rule priority when spans overlap.
const GateRank = math.MaxInt32

// Resolution is the output of one pass over a worker-day.
type Resolution struct {
	Spans []models.Span
	// Resolved marks observations covered by a rule span, as anchor or absorbed.
	Resolved    []bool
	Ambiguities int
}

// Engine evaluates the rule table. The table is copied at construction and never changes.
type Engine struct {
	rules  []models.TransitionRule
	cfg    *config.ClassifierConfig
	logger *zap.Logger
}

// NewEngine sorts the active rules by descending priority, keeping definition order on ties.
func NewEngine(cfg *config.ClassifierConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	active := make([]models.TransitionRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if !r.Active {
			continue
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule table: %w", err)
		}
		active = append(active, r)
	}
	if len(active) == 0 {
		return nil, ErrEmptyRuleTable
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})
	return &Engine{rules: active, cfg: cfg, logger: logger.Named("rules")}, nil
}

// Rules returns the evaluation order.
func (e *Engine) Rules() []models.TransitionRule {
	out := make([]models.TransitionRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Resolve walks the observations in time order and applies the first matching rule to each.
func (e *Engine) Resolve(obs []models.Observation, shift models.ShiftType) Resolution {
	res := Resolution{Resolved: make([]bool, len(obs))}
	var prev models.ActivityState

	for i := range obs {
		if obs[i].Anomaly || res.Resolved[i] {
			continue
		}
		span, ok, ambiguous := e.match(obs, i, prev, shift)
		if ambiguous {
			res.Ambiguities++
		}
		if !ok {
			prev = ""
			continue
		}
		for _, idx := range span.Observations {
			res.Resolved[idx] = true
		}
		res.Spans = append(res.Spans, span)
		prev = span.State.State
	}
	return res
}

func (e *Engine) match(obs []models.Observation, i int, prev models.ActivityState, shift models.ShiftType) (models.Span, bool, bool) {
	o := obs[i]
	for k, r := range e.rules {
		if r.FromState != "" && r.FromState != prev {
			continue
		}
		if !r.MatchesAll(o) {
			continue
		}
		span, ok := e.apply(r, obs, i, shift)
		if !ok {
			continue
		}
		ambiguous := false
		for _, other := range e.rules[k+1:] {
			if other.Priority != r.Priority {
				break
			}
			if other.FromState != "" && other.FromState != prev {
				continue
			}
			if !other.MatchesAll(o) {
				continue
			}
			if _, ok := e.apply(other, obs, i, shift); !ok {
				continue
			}
			ambiguous = true
			e.logger.Warn("rule ambiguity",
				zap.String("worker_id", o.Event.WorkerID),
				zap.Time("ts", o.Time()),
				zap.String("chosen", r.ID),
				zap.String("also_matched", other.ID),
				zap.Int("priority", r.Priority))
			span.State = span.State.WithEvidence(models.Warning(models.EvidenceRule,
				fmt.Sprintf("rule %s also matched at priority %d; %s kept by definition order", other.ID, r.Priority, r.ID),
				other.BaseProbability))
		}
		return span, true, ambiguous
	}
	return models.Span{}, false, false
}

func (e *Engine) apply(r models.TransitionRule, obs []models.Observation, i int, shift models.ShiftType) (models.Span, bool) {
	switch r.EffectiveAction() {
	case models.ActionMeal:
		return e.applyMeal(r, obs, i)
	case models.ActionCommute:
		return e.applyCommute(r, obs, i, shift)
	default:
		return e.applyAssign(r, obs, i), true
	}
}

func (e *Engine) applyAssign(r models.TransitionRule, obs []models.Observation, i int) models.Span {
	o := obs[i]
	desc := r.Description
	if desc == "" {
		desc = string(r.ToState)
	}
	return e.span(r, r.ToState, r.BaseProbability, o.Time(), NaturalEnd(e.cfg, o), []int{i},
		fmt.Sprintf("rule %s: %s at %s", r.ID, desc, o.Time().Format("15:04")))
}

// applyMeal bounds a meal by the next event at a different location, capped at the configured
// maximum. Takeout meals get a fixed duration.
func (e *Engine) applyMeal(r models.TransitionRule, obs []models.Observation, i int) (models.Span, bool) {
	o := obs[i]
	state, window, ok := e.mealFor(o.Time())
	if !ok {
		return models.Span{}, false
	}
	start := o.Time()

	if o.Code == models.TagTakeout {
		end := start.Add(e.cfg.Meals.TakeoutDuration)
		return e.span(r, state, r.BaseProbability, start, end, []int{i},
			fmt.Sprintf("rule %s: takeout in %s window %s, fixed %s", r.ID, window.Name, window, e.cfg.Meals.TakeoutDuration)), true
	}

	maxEnd := start.Add(e.cfg.Meals.MaxDuration)
	covered := []int{i}
	for j := i + 1; j < len(obs); j++ {
		next := obs[j]
		if next.Anomaly {
			continue
		}
		if !sameLocation(o, next) {
			if !next.Time().After(maxEnd) {
				return e.span(r, state, r.BaseProbability, start, next.Time(), covered,
					fmt.Sprintf("rule %s: meal in %s window %s, bounded by %s at %s",
						r.ID, window.Name, window, next.Event.Location, next.Time().Format("15:04"))), true
			}
			break
		}
		if next.Time().Before(maxEnd) {
			covered = append(covered, j)
		}
	}

	conf := r.BaseProbability - e.cfg.Meals.CappedPenalty
	if conf < models.MinRuleConfidence {
		conf = models.MinRuleConfidence
	}
	return e.span(r, state, conf, start, maxEnd, covered,
		fmt.Sprintf("rule %s: meal in %s window %s, no bound within %s, capped", r.ID, window.Name, window, e.cfg.Meals.MaxDuration)), true
}

func (e *Engine) mealFor(ts time.Time) (models.ActivityState, models.TimeWindow, bool) {
	clock := models.ClockOf(ts)
	for _, mw := range e.cfg.Meals.Windows {
		if mw.Window.ContainsClock(clock) {
			w := mw.Window
			if w.Name == "" {
				w.Name = strings.ToLower(string(mw.State))
			}
			return mw.State, w, true
		}
	}
	return "", models.TimeWindow{}, false
}

// applyCommute resolves a gate tag inside the shift's entry or exit window.
func (e *Engine) applyCommute(r models.TransitionRule, obs []models.Observation, i int, shift models.ShiftType) (models.Span, bool) {
	o := obs[i]
	sw := e.cfg.Shifts.For(shift)
	clock := models.ClockOf(o.Time())
	inEntry := sw.Entry.ContainsClock(clock)
	inExit := sw.Exit.ContainsClock(clock)
	if !inEntry && !inExit {
		return models.Span{}, false
	}

	var state models.ActivityState
	conf := r.BaseProbability
	basis := "code"
	switch o.Code {
	case models.TagGateIn:
		state = models.StateCommuteIn
		if !inEntry {
			conf -= 0.05
			basis = "code, outside entry window"
		}
	case models.TagGateOut:
		state = models.StateCommuteOut
		if !inExit {
			conf -= 0.05
			basis = "code, outside exit window"
		}
	default:
		conf -= 0.05
		basis = "time of day"
		state = models.StateCommuteOut
		if inEntry {
			state = models.StateCommuteIn
		}
	}
	if conf < models.MinRuleConfidence {
		conf = models.MinRuleConfidence
	}

	start, end := CommuteInterval(e.cfg, state, o.Time())
	span := e.span(r, state, conf, start, end, []int{i},
		fmt.Sprintf("rule %s: gate %s at %s, direction by %s", r.ID, o.Event.Location, o.Time().Format("15:04"), basis))
	span.Rank = GateRank
	return span, true
}

func (e *Engine) span(r models.TransitionRule, state models.ActivityState, conf float64, start, end time.Time, covered []int, desc string) models.Span {
	swc, _ := models.NewStateWithConfidence(state, conf, models.NewEvidence(models.EvidenceRule, desc, conf))
	return models.Span{
		Start:        start,
		End:          end,
		State:        swc,
		Source:       models.SourceRule,
		RuleID:       r.ID,
		Rank:         r.Priority,
		Finalized:    swc.Confidence >= e.cfg.Thresholds.Certain,
		Observations: covered,
	}
}

// NaturalEnd is where an observation's own interval ends when nothing else bounds it: the
// next event, a short anchor before a flagged gap, or a terminal dwell for the last event.
func NaturalEnd(cfg *config.ClassifierConfig, o models.Observation) time.Time {
	switch {
	case !o.HasNext:
		return o.Time().Add(cfg.Preprocess.TerminalDwell)
	case o.GapAfter:
		return o.Time().Add(cfg.Preprocess.GapAnchorDwell)
	default:
		return o.Time().Add(o.Dwell)
	}
}

// CommuteInterval places a commute span after a gate-in tag and before a gate-out tag.
func CommuteInterval(cfg *config.ClassifierConfig, state models.ActivityState, at time.Time) (time.Time, time.Time) {
	if state == models.StateCommuteOut {
		return at.Add(-cfg.Shifts.CommuteDwell), at
	}
	return at, at.Add(cfg.Shifts.CommuteDwell)
}

func sameLocation(a, b models.Observation) bool {
	if a.Event.Location != "" && b.Event.Location != "" {
		return strings.EqualFold(a.Event.Location, b.Event.Location)
	}
	return a.Code == b.Code
}
