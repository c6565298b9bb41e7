package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jengzang/worktag-backend-go/internal/models"
)

// ErrInvalidConfig wraps every classifier configuration validation failure.
var ErrInvalidConfig = errors.New("invalid classifier config")

// Thresholds are the confidence policy values shared by every stage.
type Thresholds struct {
	Certain      float64 `yaml:"certain"`
	Promotion    float64 `yaml:"promotion"`
	Demotion     float64 `yaml:"demotion"`
	Floor        float64 `yaml:"floor"`
	InferenceCap float64 `yaml:"inference_cap"`
	Viability    float64 `yaml:"viability"`
	TieEpsilon   float64 `yaml:"tie_epsilon"`
}

// PreprocessConfig controls event cleaning.
type PreprocessConfig struct {
	DedupWindow    time.Duration `yaml:"dedup_window"`
	GapCeiling     time.Duration `yaml:"gap_ceiling"`
	GapAnchorDwell time.Duration `yaml:"gap_anchor_dwell"` // dwell kept for an event followed by a flagged gap
	TerminalDwell  time.Duration `yaml:"terminal_dwell"`   // dwell of the last event of the day
}

// MealWindow ties a meal state to the time of day it is served.
type MealWindow struct {
	State  models.ActivityState `yaml:"state"`
	Window models.TimeWindow    `yaml:"window"`
}

type MealConfig struct {
	Windows         []MealWindow  `yaml:"windows"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	TakeoutDuration time.Duration `yaml:"takeout_duration"`
	CappedPenalty   float64       `yaml:"capped_penalty"` // confidence removed when the cap bounds a meal
}

// ShiftWindows describes one shift's nominal hours and its commute windows.
type ShiftWindows struct {
	Start models.ClockTime  `yaml:"start"`
	End   models.ClockTime  `yaml:"end"`
	Entry models.TimeWindow `yaml:"entry"`
	Exit  models.TimeWindow `yaml:"exit"`
}

type ShiftConfig struct {
	Day              ShiftWindows     `yaml:"day"`
	Night            ShiftWindows     `yaml:"night"`
	NightDayBoundary models.ClockTime `yaml:"night_day_boundary"`
	CommuteDwell     time.Duration    `yaml:"commute_dwell"`
	BoundaryRadius   time.Duration    `yaml:"boundary_radius"` // proximity to shift start/end that boosts commute priors
}

// For returns the windows of the given shift; anything but night gets day windows.
func (s ShiftConfig) For(shift models.ShiftType) ShiftWindows {
	if shift == models.ShiftNight {
		return s.Night
	}
	return s.Day
}

// LocationEntry maps a location-name pattern to a tag class.
type LocationEntry struct {
	Pattern  string                  `yaml:"pattern"`
	Code     models.TagCode          `yaml:"code,omitempty"`
	Category models.LocationCategory `yaml:"category"`
	Lat      *float64                `yaml:"lat,omitempty"`
	Lng      *float64                `yaml:"lng,omitempty"`
}

// HMMConfig holds the model hyperparameters.
type HMMConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`
	MinSequences  int     `yaml:"min_sequences"`
	Temperature   float64 `yaml:"temperature"`
	Smoothing     float64 `yaml:"smoothing"`
}

// InferenceConfig controls the probabilistic fallback layer.
type InferenceConfig struct {
	ContextEvents int     `yaml:"context_events"` // observations on each side used to prime decoding
	GapFactor     float64 `yaml:"gap_factor"`     // confidence multiplier for spans without observations
	MealDamping   float64 `yaml:"meal_damping"`   // prior multiplier for meal states outside their window
	CommuteBoost  float64 `yaml:"commute_boost"`  // prior multiplier near shift start/end
}

// QualityWeights weigh the data-quality sub-scores; they should sum to 1.
type QualityWeights struct {
	Coverage        float64 `yaml:"coverage"`
	ActivityDensity float64 `yaml:"activity_density"`
	Continuity      float64 `yaml:"continuity"`
	Diversity       float64 `yaml:"diversity"`
}

// ContextConfig controls context adjustment.
type ContextConfig struct {
	KProduction           float64        `yaml:"k_production"`
	KOffice               float64        `yaml:"k_office"`
	KUnknown              float64        `yaml:"k_unknown"`
	Weights               QualityWeights `yaml:"weights"`
	CellLevel             int            `yaml:"cell_level"`
	OfficeMaxTagsPerHour  float64        `yaml:"office_max_tags_per_hour"`
	ProductionMinTagsHour float64        `yaml:"production_min_tags_per_hour"`
	SparseQuality         float64        `yaml:"sparse_quality"`
}

// Features replaces process-wide toggles; it is fixed for the lifetime of a classifier.
type Features struct {
	HybridEnabled bool     `yaml:"hybrid_enabled"`
	PilotWorkers  []string `yaml:"pilot_workers,omitempty"`
}

// HybridFor reports whether the probabilistic path runs for workerID.
// An empty pilot list means every worker.
func (f Features) HybridFor(workerID string) bool {
	if !f.HybridEnabled {
		return false
	}
	if len(f.PilotWorkers) == 0 {
		return true
	}
	for _, id := range f.PilotWorkers {
		if id == workerID {
			return true
		}
	}
	return false
}

// ClassifierConfig is everything the classification pipeline reads. A run treats it as immutable.
type ClassifierConfig struct {
	Thresholds      Thresholds              `yaml:"thresholds"`
	Preprocess      PreprocessConfig        `yaml:"preprocess"`
	Meals           MealConfig              `yaml:"meals"`
	Shifts          ShiftConfig             `yaml:"shifts"`
	ExcludedWindows []models.TimeWindow     `yaml:"excluded_windows"`
	Locations       []LocationEntry         `yaml:"locations"`
	Rules           []models.TransitionRule `yaml:"rules"`
	HMM             HMMConfig               `yaml:"hmm"`
	Inference       InferenceConfig         `yaml:"inference"`
	Context         ContextConfig           `yaml:"context"`
	Features        Features                `yaml:"features"`
}

// LookupLocation returns the first catalog entry whose pattern occurs in the location name.
func (c *ClassifierConfig) LookupLocation(location string) (LocationEntry, bool) {
	name := strings.ToLower(location)
	if name == "" {
		return LocationEntry{}, false
	}
	for _, entry := range c.Locations {
		if strings.Contains(name, strings.ToLower(entry.Pattern)) {
			return entry, true
		}
	}
	return LocationEntry{}, false
}

// LoadClassifier reads a YAML file over the defaults and validates the result.
func LoadClassifier(path string) (*ClassifierConfig, error) {
	cfg := DefaultClassifierConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse classifier config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks thresholds, windows and the rule table.
func (c *ClassifierConfig) Validate() error {
	t := c.Thresholds
	for name, v := range map[string]float64{
		"certain": t.Certain, "promotion": t.Promotion, "demotion": t.Demotion,
		"floor": t.Floor, "inference_cap": t.InferenceCap, "viability": t.Viability,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: threshold %s=%.3f outside [0,1]", ErrInvalidConfig, name, v)
		}
	}
	if !(t.Demotion < t.Promotion && t.Promotion <= t.Certain) {
		return fmt.Errorf("%w: thresholds must satisfy demotion < promotion <= certain", ErrInvalidConfig)
	}
	if t.InferenceCap >= t.Certain {
		return fmt.Errorf("%w: inference_cap %.2f must stay below certain %.2f", ErrInvalidConfig, t.InferenceCap, t.Certain)
	}
	if t.TieEpsilon < 0 {
		return fmt.Errorf("%w: tie_epsilon must not be negative", ErrInvalidConfig)
	}

	if len(c.Rules) == 0 {
		return fmt.Errorf("%w: empty rule table", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate rule id %s", ErrInvalidConfig, r.ID)
		}
		seen[r.ID] = true
	}

	for _, mw := range c.Meals.Windows {
		if !mw.State.IsMeal() {
			return fmt.Errorf("%w: meal window for non-meal state %s", ErrInvalidConfig, mw.State)
		}
		if mw.Window.Start == mw.Window.End {
			return fmt.Errorf("%w: empty meal window for %s", ErrInvalidConfig, mw.State)
		}
	}
	if c.Meals.MaxDuration <= 0 || c.Meals.TakeoutDuration <= 0 {
		return fmt.Errorf("%w: meal durations must be positive", ErrInvalidConfig)
	}
	if c.Preprocess.GapCeiling <= 0 || c.Preprocess.DedupWindow < 0 {
		return fmt.Errorf("%w: preprocess windows must be positive", ErrInvalidConfig)
	}
	if c.Shifts.CommuteDwell <= 0 {
		return fmt.Errorf("%w: commute_dwell must be positive", ErrInvalidConfig)
	}
	if c.HMM.MaxIterations <= 0 || c.HMM.Tolerance <= 0 || c.HMM.Temperature <= 0 {
		return fmt.Errorf("%w: hmm max_iterations, tolerance and temperature must be positive", ErrInvalidConfig)
	}
	w := c.Context.Weights
	if sum := w.Coverage + w.ActivityDensity + w.Continuity + w.Diversity; sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("%w: quality weights sum to %.3f", ErrInvalidConfig, sum)
	}
	return nil
}

// DefaultClassifierConfig returns the built-in policy.
func DefaultClassifierConfig() *ClassifierConfig {
	return &ClassifierConfig{
		Thresholds: Thresholds{
			Certain:      0.95,
			Promotion:    0.75,
			Demotion:     0.50,
			Floor:        0.70,
			InferenceCap: 0.93,
			Viability:    0.35,
			TieEpsilon:   0.001,
		},
		Preprocess: PreprocessConfig{
			DedupWindow:    30 * time.Second,
			GapCeiling:     3 * time.Hour,
			GapAnchorDwell: 10 * time.Minute,
			TerminalDwell:  5 * time.Minute,
		},
		Meals: MealConfig{
			Windows: []MealWindow{
				{State: models.StateBreakfast, Window: models.TimeWindow{Name: "breakfast", Start: models.Clock(6, 30), End: models.Clock(9, 0)}},
				{State: models.StateLunch, Window: models.TimeWindow{Name: "lunch", Start: models.Clock(11, 20), End: models.Clock(13, 20)}},
				{State: models.StateDinner, Window: models.TimeWindow{Name: "dinner", Start: models.Clock(17, 0), End: models.Clock(20, 0)}},
				{State: models.StateMidnightMeal, Window: models.TimeWindow{Name: "midnight", Start: models.Clock(23, 30), End: models.Clock(1, 0)}},
			},
			MaxDuration:     60 * time.Minute,
			TakeoutDuration: 30 * time.Minute,
			CappedPenalty:   0.05,
		},
		Shifts: ShiftConfig{
			Day: ShiftWindows{
				Start: models.Clock(8, 0),
				End:   models.Clock(20, 30),
				Entry: models.TimeWindow{Name: "day_entry", Start: models.Clock(6, 0), End: models.Clock(10, 0)},
				Exit:  models.TimeWindow{Name: "day_exit", Start: models.Clock(17, 0), End: models.Clock(23, 0)},
			},
			Night: ShiftWindows{
				Start: models.Clock(20, 0),
				End:   models.Clock(8, 30),
				Entry: models.TimeWindow{Name: "night_entry", Start: models.Clock(18, 0), End: models.Clock(22, 0)},
				Exit:  models.TimeWindow{Name: "night_exit", Start: models.Clock(6, 0), End: models.Clock(10, 30)},
			},
			NightDayBoundary: models.Clock(12, 0),
			CommuteDwell:     5 * time.Minute,
			BoundaryRadius:   30 * time.Minute,
		},
		ExcludedWindows: []models.TimeWindow{
			{Name: "day_break", Start: models.Clock(15, 0), End: models.Clock(15, 15)},
			{Name: "night_break", Start: models.Clock(3, 0), End: models.Clock(3, 15)},
		},
		Locations: DefaultLocations(),
		Rules:     DefaultRules(),
		HMM: HMMConfig{
			MaxIterations: 100,
			Tolerance:     1e-4,
			MinSequences:  5,
			Temperature:   1.0,
			Smoothing:     1e-6,
		},
		Inference: InferenceConfig{
			ContextEvents: 3,
			GapFactor:     0.5,
			MealDamping:   0.1,
			CommuteBoost:  3.0,
		},
		Context: ContextConfig{
			KProduction: 0.4,
			KOffice:     0.2,
			KUnknown:    0.3,
			Weights: QualityWeights{
				Coverage:        0.3,
				ActivityDensity: 0.3,
				Continuity:      0.2,
				Diversity:       0.2,
			},
			CellLevel:             20,
			OfficeMaxTagsPerHour:  5,
			ProductionMinTagsHour: 10,
			SparseQuality:         0.3,
		},
		Features: Features{HybridEnabled: true},
	}
}

// DefaultLocations is the built-in location catalog. More specific patterns come first.
func DefaultLocations() []LocationEntry {
	return []LocationEntry{
		{Pattern: "entrance", Code: models.TagGateIn, Category: models.CategoryGate},
		{Pattern: "gate-in", Code: models.TagGateIn, Category: models.CategoryGate},
		{Pattern: "exit", Code: models.TagGateOut, Category: models.CategoryGate},
		{Pattern: "gate-out", Code: models.TagGateOut, Category: models.CategoryGate},
		{Pattern: "gate", Category: models.CategoryGate},
		{Pattern: "cafeteria", Code: models.TagCafeteria, Category: models.CategoryCafeteria},
		{Pattern: "canteen", Code: models.TagCafeteria, Category: models.CategoryCafeteria},
		{Pattern: "meeting", Code: models.TagMeetingRoom, Category: models.CategoryMeetingRoom},
		{Pattern: "conference", Code: models.TagMeetingRoom, Category: models.CategoryMeetingRoom},
		{Pattern: "training", Code: models.TagEducation, Category: models.CategoryEducation},
		{Pattern: "education", Code: models.TagEducation, Category: models.CategoryEducation},
		{Pattern: "locker", Code: models.TagPreparation, Category: models.CategoryPreparation},
		{Pattern: "prep", Code: models.TagPreparation, Category: models.CategoryPreparation},
		{Pattern: "lounge", Code: models.TagRestArea, Category: models.CategoryRestArea},
		{Pattern: "rest", Code: models.TagRestArea, Category: models.CategoryRestArea},
		{Pattern: "corridor", Code: models.TagCorridor, Category: models.CategoryCorridor},
		{Pattern: "hall", Code: models.TagCorridor, Category: models.CategoryCorridor},
		{Pattern: "equipment", Code: models.TagEquipment, Category: models.CategoryEquipment},
		{Pattern: "machine", Code: models.TagEquipment, Category: models.CategoryEquipment},
		{Pattern: "line", Code: models.TagWorkArea, Category: models.CategoryWorkArea},
		{Pattern: "office", Code: models.TagWorkArea, Category: models.CategoryWorkArea},
		{Pattern: "work", Code: models.TagWorkArea, Category: models.CategoryWorkArea},
	}
}

// DefaultRules is the built-in rule table, listed in definition order.
func DefaultRules() []models.TransitionRule {
	return []models.TransitionRule{
		{
			ID: "always_work", Description: "equipment or always-work tag",
			ToState: models.StateWorkConfirmed, BaseProbability: 0.98, Priority: 100, Active: true,
			Conditions: []models.Condition{models.TagCodeCondition(models.TagEquipment)},
		},
		{
			ID: "leave", Description: "attendance system reports leave",
			ToState: models.StateLeave, BaseProbability: 0.99, Priority: 95, Active: true,
			Conditions: []models.Condition{models.TagCodeCondition(models.TagLeave)},
		},
		{
			ID: "business_trip", Description: "attendance system reports a business trip",
			ToState: models.StateBusinessTrip, BaseProbability: 0.99, Priority: 95, Active: true,
			Conditions: []models.Condition{models.TagCodeCondition(models.TagBusinessTrip)},
		},
		{
			ID: "meal", Description: "meal tag at a cafeteria inside a meal window",
			Action: models.ActionMeal, BaseProbability: 1.0, Priority: 90, Active: true,
			Conditions: []models.Condition{
				models.TagCodeCondition(models.TagMeal, models.TagTakeout),
				models.LocationCondition(string(models.CategoryCafeteria)),
			},
		},
		{
			ID: "commute", Description: "gate tag inside a commute window",
			Action: models.ActionCommute, BaseProbability: 1.0, Priority: 80, Active: true,
			Conditions: []models.Condition{models.LocationCondition(string(models.CategoryGate))},
		},
		{
			ID: "meeting", Description: "meeting room with long dwell",
			ToState: models.StateMeeting, BaseProbability: 0.95, Priority: 70, Active: true,
			Conditions: []models.Condition{
				models.TagCodeCondition(models.TagMeetingRoom),
				models.DwellCondition(30*time.Minute, 0),
			},
		},
		{
			ID: "education", Description: "education room with long dwell",
			ToState: models.StateEducation, BaseProbability: 0.95, Priority: 65, Active: true,
			Conditions: []models.Condition{
				models.TagCodeCondition(models.TagEducation),
				models.DwellCondition(60*time.Minute, 0),
			},
		},
		{
			ID: "preparation", Description: "preparation area right after entering",
			FromState: models.StateCommuteIn, ToState: models.StateWorkPreparation,
			BaseProbability: 0.95, Priority: 60, Active: true,
			Conditions: []models.Condition{models.TagCodeCondition(models.TagPreparation)},
		},
		{
			ID: "shift_handover", Description: "meeting room during the evening handover",
			ToState: models.StateMeeting, BaseProbability: 0.90, Priority: 50, Active: true,
			Conditions: []models.Condition{
				models.TimeCondition(models.Clock(20, 0), models.Clock(20, 30)),
				models.TagCodeCondition(models.TagMeetingRoom),
			},
		},
		{
			ID: "rest_area", Description: "rest area with long dwell",
			ToState: models.StateRest, BaseProbability: 0.90, Priority: 40, Active: true,
			Conditions: []models.Condition{
				models.TagCodeCondition(models.TagRestArea),
				models.DwellCondition(30*time.Minute, 0),
			},
		},
	}
}
