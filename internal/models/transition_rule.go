package models

import (
	"fmt"
	"strings"
	"time"
)

// ConditionKind is the closed set of rule condition variants.
type ConditionKind string

const (
	ConditionTimeWindow      ConditionKind = "time_window"
	ConditionLocationPattern ConditionKind = "location_pattern"
	ConditionDwellBound      ConditionKind = "dwell_bound"
	ConditionTagCode         ConditionKind = "tag_code"
)

// Condition is a tagged variant: Kind selects which typed parameter is meaningful.
type Condition struct {
	Kind ConditionKind `yaml:"kind" json:"kind"`

	// time_window
	Window *TimeWindow `yaml:"window,omitempty" json:"window,omitempty"`

	// location_pattern: case-insensitive substring of the location name or category
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// dwell_bound: zero means unbounded on that side
	MinDwell time.Duration `yaml:"min_dwell,omitempty" json:"min_dwell,omitempty"`
	MaxDwell time.Duration `yaml:"max_dwell,omitempty" json:"max_dwell,omitempty"`

	// tag_code
	TagCodes []TagCode `yaml:"tag_codes,omitempty" json:"tag_codes,omitempty"`
}

// TimeCondition, LocationCondition, DwellCondition and TagCodeCondition build the four variants.
func TimeCondition(start, end ClockTime) Condition {
	return Condition{Kind: ConditionTimeWindow, Window: &TimeWindow{Start: start, End: end}}
}

func LocationCondition(pattern string) Condition {
	return Condition{Kind: ConditionLocationPattern, Pattern: pattern}
}

func DwellCondition(min, max time.Duration) Condition {
	return Condition{Kind: ConditionDwellBound, MinDwell: min, MaxDwell: max}
}

func TagCodeCondition(codes ...TagCode) Condition {
	return Condition{Kind: ConditionTagCode, TagCodes: codes}
}

// Validate checks that the parameters of the selected variant are present and sane.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionTimeWindow:
		if c.Window == nil {
			return fmt.Errorf("time_window condition requires a window")
		}
		if c.Window.Start == c.Window.End {
			return fmt.Errorf("time_window condition has an empty window %s", c.Window)
		}
	case ConditionLocationPattern:
		if strings.TrimSpace(c.Pattern) == "" {
			return fmt.Errorf("location_pattern condition requires a pattern")
		}
	case ConditionDwellBound:
		if c.MinDwell < 0 || c.MaxDwell < 0 {
			return fmt.Errorf("dwell_bound condition has a negative bound")
		}
		if c.MinDwell == 0 && c.MaxDwell == 0 {
			return fmt.Errorf("dwell_bound condition requires min_dwell or max_dwell")
		}
		if c.MaxDwell > 0 && c.MinDwell > c.MaxDwell {
			return fmt.Errorf("dwell_bound condition has min_dwell %s above max_dwell %s", c.MinDwell, c.MaxDwell)
		}
	case ConditionTagCode:
		if len(c.TagCodes) == 0 {
			return fmt.Errorf("tag_code condition requires at least one code")
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

// Matches evaluates the condition against one observation.
func (c Condition) Matches(o Observation) bool {
	switch c.Kind {
	case ConditionTimeWindow:
		return c.Window != nil && c.Window.ContainsClock(ClockOf(o.Time()))
	case ConditionLocationPattern:
		p := strings.ToLower(c.Pattern)
		return strings.Contains(strings.ToLower(o.Event.Location), p) ||
			strings.Contains(string(o.Category), p)
	case ConditionDwellBound:
		if !o.HasNext {
			return false
		}
		if c.MinDwell > 0 && o.Dwell < c.MinDwell {
			return false
		}
		return c.MaxDwell == 0 || o.Dwell <= c.MaxDwell
	case ConditionTagCode:
		for _, code := range c.TagCodes {
			if code == o.Code {
				return true
			}
		}
	}
	return false
}

// RuleAction is the closed set of things a matched rule can do.
type RuleAction string

const (
	// ActionAssign resolves to the rule's ToState.
	ActionAssign RuleAction = "assign"
	// ActionMeal resolves to the meal type of the window the tag falls in.
	ActionMeal RuleAction = "meal"
	// ActionCommute resolves to commute-in or commute-out from the gate direction and time of day.
	ActionCommute RuleAction = "commute"
)

// TransitionRule is one row of the deterministic rule table.
type TransitionRule struct {
	ID              string        `yaml:"id" json:"id"`
	Description     string        `yaml:"description,omitempty" json:"description,omitempty"`
	FromState       ActivityState `yaml:"from_state,omitempty" json:"from_state,omitempty"`
	ToState         ActivityState `yaml:"to_state,omitempty" json:"to_state,omitempty"`
	Action          RuleAction    `yaml:"action,omitempty" json:"action,omitempty"`
	BaseProbability float64       `yaml:"base_probability" json:"base_probability"`
	Conditions      []Condition   `yaml:"conditions" json:"conditions"`
	Priority        int           `yaml:"priority" json:"priority"`
	Active          bool          `yaml:"active" json:"active"`
}

// MinRuleConfidence is the lowest confidence a deterministic rule may assign.
const MinRuleConfidence = 0.90

// EffectiveAction defaults an empty action to assign.
func (r TransitionRule) EffectiveAction() RuleAction {
	if r.Action == "" {
		return ActionAssign
	}
	return r.Action
}

// Validate checks the rule and all of its conditions.
func (r TransitionRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule without id")
	}
	if r.BaseProbability < MinRuleConfidence || r.BaseProbability > 1 {
		return fmt.Errorf("rule %s: base_probability %.2f outside [%.2f, 1]", r.ID, r.BaseProbability, MinRuleConfidence)
	}
	if r.FromState != "" && !r.FromState.Valid() {
		return fmt.Errorf("rule %s: unknown from_state %q", r.ID, r.FromState)
	}
	switch r.EffectiveAction() {
	case ActionAssign:
		if !r.ToState.Valid() {
			return fmt.Errorf("rule %s: unknown to_state %q", r.ID, r.ToState)
		}
	case ActionMeal, ActionCommute:
	default:
		return fmt.Errorf("rule %s: unknown action %q", r.ID, r.Action)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %s: at least one condition is required", r.ID)
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("rule %s condition %d: %w", r.ID, i, err)
		}
	}
	return nil
}

// MatchesAll reports whether every condition holds for o.
func (r TransitionRule) MatchesAll(o Observation) bool {
	for _, c := range r.Conditions {
		if !c.Matches(o) {
			return false
		}
	}
	return true
}
