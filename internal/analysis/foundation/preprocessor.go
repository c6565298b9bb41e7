package foundation

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/timenorm"
)

// Anomaly and drop reason codes
const (
	ReasonMissingWorker   = "MISSING_WORKER_ID"
	ReasonWorkerMismatch  = "WORKER_MISMATCH"
	ReasonMissingTime     = "MISSING_TIMESTAMP"
	ReasonOutsideWorkDate = "OUTSIDE_WORK_DATE"
	ReasonZeroDwell       = "ZERO_DWELL"
)

// PreprocessThresholds defines configurable thresholds for event cleaning
type PreprocessThresholds struct {
	DedupWindow time.Duration // same-location events closer than this collapse
	GapCeiling  time.Duration // longer gaps become interpolation candidates
}

// DefaultThresholds provides default preprocessing thresholds
var DefaultThresholds = PreprocessThresholds{
	DedupWindow: 30 * time.Second,
	GapCeiling:  3 * time.Hour,
}

// Result is a cleaned worker-day sequence.
type Result struct {
	WorkDate time.Time
	Shift    models.ShiftType
	// Observations are time-sorted; anomalies stay in place with Anomaly set.
	Observations       []models.Observation
	Dropped            []models.DroppedEvent
	Collapsed          int
	LowConfidenceShift bool
}

// Valid returns the indexes of non-anomalous observations.
func (r Result) Valid() []int {
	idx := make([]int, 0, len(r.Observations))
	for i, o := range r.Observations {
		if !o.Anomaly {
			idx = append(idx, i)
		}
	}
	return idx
}

// Anomalies returns the observations flagged as anomalous.
func (r Result) Anomalies() []models.Observation {
	var out []models.Observation
	for _, o := range r.Observations {
		if o.Anomaly {
			out = append(out, o)
		}
	}
	return out
}

// Preprocessor cleans one worker-day of raw events. It never invents events.
type Preprocessor struct {
	cfg        *config.ClassifierConfig
	thresholds PreprocessThresholds
	normalizer timenorm.Normalizer
	logger     *zap.Logger
}

// NewPreprocessor creates a preprocessor for the given config.
func NewPreprocessor(cfg *config.ClassifierConfig, logger *zap.Logger) *Preprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	th := DefaultThresholds
	if cfg.Preprocess.DedupWindow > 0 {
		th.DedupWindow = cfg.Preprocess.DedupWindow
	}
	if cfg.Preprocess.GapCeiling > 0 {
		th.GapCeiling = cfg.Preprocess.GapCeiling
	}
	return &Preprocessor{
		cfg:        cfg,
		thresholds: th,
		normalizer: timenorm.New(cfg.Shifts.NightDayBoundary),
		logger:     logger.Named("preprocess"),
	}
}

// Classify resolves the tag code and location category of a raw event. An explicit code on
// the event wins; the catalog supplies the category and fills in a missing code.
func (p *Preprocessor) Classify(e models.TagEvent) (models.TagCode, models.LocationCategory) {
	code := e.TagCode
	entry, found := p.cfg.LookupLocation(e.Location)
	if code == models.TagUnknown && found {
		code = entry.Code
	}
	if found && entry.Category != "" {
		return code, entry.Category
	}
	if code == models.TagUnknown {
		// the location field may carry a bare tag code
		code = models.TagCode(strings.ToUpper(strings.TrimSpace(e.Location)))
		if cat := models.CategoryForCode(code); cat != models.CategoryOther {
			return code, cat
		}
		return models.TagUnknown, models.CategoryOther
	}
	return code, models.CategoryForCode(code)
}

// Process cleans events for workerID on workDate. A zero workDate is taken from the first
// valid event.
func (p *Preprocessor) Process(workerID string, shift models.ShiftType, workDate time.Time, events []models.TagEvent) Result {
	res := Result{Shift: shift}
	if !shift.Valid() {
		res.Shift = models.ShiftDay
		res.LowConfidenceShift = true
	}

	type candidate struct {
		obs   models.Observation
		order int
	}
	cands := make([]candidate, 0, len(events))
	for i, e := range events {
		switch {
		case strings.TrimSpace(e.WorkerID) == "":
			res.drop(e, ReasonMissingWorker)
			continue
		case workerID != "" && e.WorkerID != workerID:
			res.drop(e, ReasonWorkerMismatch)
			continue
		case e.Timestamp.IsZero():
			res.drop(e, ReasonMissingTime)
			continue
		}
		code, cat := p.Classify(e)
		cands = append(cands, candidate{
			obs:   models.Observation{Event: e, Code: code, Category: cat},
			order: i,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		ti, tj := cands[i].obs.Time(), cands[j].obs.Time()
		if ti.Equal(tj) {
			return cands[i].order < cands[j].order
		}
		return ti.Before(tj)
	})

	for i := range cands {
		n := p.normalizer.WorkDate(cands[i].obs.Time(), shift)
		cands[i].obs.WorkDate = n.WorkDate
		if workDate.IsZero() {
			workDate = n.WorkDate
		}
	}
	res.WorkDate = timenorm.DateOf(workDate)

	obs := make([]models.Observation, 0, len(cands))
	for _, c := range cands {
		if !timenorm.SameDate(c.obs.WorkDate, res.WorkDate) {
			res.drop(c.obs.Event, ReasonOutsideWorkDate)
			continue
		}
		if len(obs) > 0 {
			last := obs[len(obs)-1]
			if sameLocation(last, c.obs) && c.obs.Time().Sub(last.Time()) <= p.thresholds.DedupWindow {
				res.Collapsed++
				continue
			}
		}
		obs = append(obs, c.obs)
	}

	p.annotate(obs)
	res.Observations = obs

	for _, d := range res.Dropped {
		p.logger.Warn("event dropped",
			zap.String("worker_id", workerID),
			zap.String("reason", d.Reason),
			zap.Time("ts", d.Event.Timestamp),
			zap.String("location", d.Event.Location))
	}
	if len(res.Dropped) > 0 || res.Collapsed > 0 {
		p.logger.Debug("events cleaned",
			zap.String("worker_id", workerID),
			zap.Int("input", len(events)),
			zap.Int("kept", len(obs)),
			zap.Int("dropped", len(res.Dropped)),
			zap.Int("collapsed", res.Collapsed))
	}
	return res
}

// annotate fills dwell, gap and anomaly flags in place.
func (p *Preprocessor) annotate(obs []models.Observation) {
	for i := range obs {
		if i == len(obs)-1 {
			obs[i].HasNext = false
			obs[i].Dwell = 0
			continue
		}
		dwell := obs[i+1].Time().Sub(obs[i].Time())
		obs[i].HasNext = true
		obs[i].Dwell = dwell
		if dwell <= 0 {
			obs[i].Anomaly = true
			obs[i].AnomalyReason = ReasonZeroDwell
			p.logger.Warn("impossible dwell",
				zap.String("worker_id", obs[i].Event.WorkerID),
				zap.Time("ts", obs[i].Time()),
				zap.String("location", obs[i].Event.Location))
			continue
		}
		obs[i].GapAfter = dwell > p.thresholds.GapCeiling
	}
}

func (r *Result) drop(e models.TagEvent, reason string) {
	r.Dropped = append(r.Dropped, models.DroppedEvent{Event: e, Reason: reason})
}

func sameLocation(a, b models.Observation) bool {
	return a.Code == b.Code && strings.EqualFold(a.Event.Location, b.Event.Location)
}
